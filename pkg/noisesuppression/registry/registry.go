package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/denoisewav/pkg/audio"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression"
)

// Params are the properties of the audio the engine is going to be
// used for. An engine may still choose a different sample rate (see
// noisesuppression.FixedSampleRate).
type Params struct {
	SampleRate audio.SampleRate
	Channels   audio.Channel
	ModelPath  string
}

type Factory interface {
	NewNoiseSuppression(ctx context.Context, params Params) (noisesuppression.NoiseSuppression, error)
}

type FactoryFunc func(ctx context.Context, params Params) (noisesuppression.NoiseSuppression, error)

func (fn FactoryFunc) NewNoiseSuppression(ctx context.Context, params Params) (noisesuppression.NoiseSuppression, error) {
	return fn(ctx, params)
}

type NamedFactory struct {
	Name     string
	Priority int
	Factory
}

var (
	factoryRegistry       = map[string]NamedFactory{}
	factoryRegistryLocker sync.Mutex
)

func RegisterFactory(
	name string,
	priority int,
	factory Factory,
) {
	factoryRegistryLocker.Lock()
	defer factoryRegistryLocker.Unlock()
	if _, ok := factoryRegistry[name]; ok {
		panic(fmt.Errorf("there is already registered a noise suppression factory with name '%s'", name))
	}
	factoryRegistry[name] = NamedFactory{
		Name:     name,
		Priority: priority,
		Factory:  factory,
	}
}

// Factories returns the registered factories, the highest priority first.
func Factories() []NamedFactory {
	factoryRegistryLocker.Lock()
	defer factoryRegistryLocker.Unlock()

	var factories []NamedFactory
	for _, factory := range factoryRegistry {
		factories = append(factories, factory)
	}
	sort.Slice(factories, func(i, j int) bool {
		if factories[i].Priority != factories[j].Priority {
			return factories[i].Priority > factories[j].Priority
		}
		return factories[i].Name < factories[j].Name
	})
	return factories
}

func Get(name string) (NamedFactory, bool) {
	factoryRegistryLocker.Lock()
	defer factoryRegistryLocker.Unlock()
	factory, ok := factoryRegistry[name]
	return factory, ok
}

// New initializes the engine of the given name. If the name is empty,
// it tries every registered engine by priority and returns the first one
// that initializes successfully.
func New(
	ctx context.Context,
	name string,
	params Params,
) (_ret noisesuppression.NoiseSuppression, _err error) {
	logger.Tracef(ctx, "New(ctx, '%s', %#+v)", name, params)
	defer func() { logger.Tracef(ctx, "/New(ctx, '%s', %#+v): %T %v", name, params, _ret, _err) }()

	if name != "" {
		factory, ok := Get(name)
		if !ok {
			return nil, fmt.Errorf("noise suppression '%s' is not registered (known: %v)", name, Names())
		}
		ns, err := factory.NewNoiseSuppression(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize noise suppression '%s': %w", name, err)
		}
		return ns, nil
	}

	var mErr *multierror.Error
	for _, factory := range Factories() {
		ns, err := factory.NewNoiseSuppression(ctx, params)
		logger.Debugf(ctx, "initializing noise suppression '%s' result is %v", factory.Name, err)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to initialize '%s': %w", factory.Name, err))
			continue
		}
		if mErr != nil {
			logger.Infof(ctx, "using noise suppression '%s'; the preferred ones failed: %v", factory.Name, mErr.ErrorOrNil())
		}
		return ns, nil
	}

	if mErr == nil {
		return nil, fmt.Errorf("no noise suppression is registered")
	}
	return nil, fmt.Errorf("was unable to initialize any noise suppression: %w", mErr.ErrorOrNil())
}

func Names() []string {
	var names []string
	for _, factory := range Factories() {
		names = append(names, factory.Name)
	}
	return names
}
