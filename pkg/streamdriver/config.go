package streamdriver

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/denoisewav/pkg/frameaccumulator"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression/registry"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppressionstream"
	"gopkg.in/yaml.v3"
)

const (
	DefaultChunkDuration = 20 * time.Millisecond
)

type Config struct {
	ChunkDuration   time.Duration                    `yaml:"chunk_duration"`
	FrameDuration   time.Duration                    `yaml:"frame_duration"`
	RemainderPolicy noisesuppression.RemainderPolicy `yaml:"remainder_policy"`
	VoiceThreshold  float64                          `yaml:"voice_threshold"`

	// Engine is the name of a registered noise suppression; empty means
	// the best one that could be initialized.
	Engine    string `yaml:"engine"`
	ModelPath string `yaml:"model_path"`

	// Streaming makes the driver process the audio through
	// noisesuppressionstream instead of the in-process loop.
	Streaming        bool `yaml:"streaming"`
	StreamBufferSize uint `yaml:"stream_buffer_size"`
}

func DefaultConfig() Config {
	return Config{
		ChunkDuration:    DefaultChunkDuration,
		FrameDuration:    frameaccumulator.DefaultFrameDuration,
		RemainderPolicy:  noisesuppression.RemainderPolicyDiscard,
		VoiceThreshold:   noisesuppression.DefaultVoiceThreshold,
		StreamBufferSize: noisesuppressionstream.DefaultBufferSize,
	}
}

// Validate returns all the problems of the config at once.
func (cfg Config) Validate() error {
	var mErr *multierror.Error
	if cfg.ChunkDuration <= 0 {
		mErr = multierror.Append(mErr, fmt.Errorf("the chunk duration must be positive, but it is %v", cfg.ChunkDuration))
	}
	if cfg.FrameDuration <= 0 {
		mErr = multierror.Append(mErr, fmt.Errorf("the frame duration must be positive, but it is %v", cfg.FrameDuration))
	}
	if !cfg.RemainderPolicy.IsValid() {
		mErr = multierror.Append(mErr, fmt.Errorf("unknown remainder policy: %v", cfg.RemainderPolicy))
	}
	if cfg.VoiceThreshold < 0 || cfg.VoiceThreshold > 1 {
		mErr = multierror.Append(mErr, fmt.Errorf("the voice threshold must be within [0, 1], but it is %v", cfg.VoiceThreshold))
	}
	if cfg.Engine != "" {
		if _, ok := registry.Get(cfg.Engine); !ok {
			mErr = multierror.Append(mErr, fmt.Errorf("noise suppression '%s' is not registered (known: %v)", cfg.Engine, registry.Names()))
		}
	}
	return mErr.ErrorOrNil()
}

// LoadConfig reads a YAML config; the fields missing in the file keep
// the values of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("unable to read the config '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("unable to parse the config '%s': %w", path, err)
	}
	return cfg, nil
}
