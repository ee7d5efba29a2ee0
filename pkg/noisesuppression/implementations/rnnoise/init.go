// Package rnnoise wraps the RNNoise library (https://github.com/xiph/rnnoise).
// It requires building with the 'rnnoise' tag and cgo; otherwise New
// always fails.
package rnnoise

import (
	"context"

	"github.com/xaionaro-go/denoisewav/pkg/audio"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression/registry"
)

const (
	Name     = "rnnoise"
	Priority = 100

	SampleRate = audio.SampleRate(48_000)
)

func init() {
	registry.RegisterFactory(Name, Priority, registry.FactoryFunc(func(
		ctx context.Context,
		params registry.Params,
	) (noisesuppression.NoiseSuppression, error) {
		ns, err := New(params.Channels, params.ModelPath)
		if err != nil {
			return nil, err
		}
		return ns, nil
	}))
}
