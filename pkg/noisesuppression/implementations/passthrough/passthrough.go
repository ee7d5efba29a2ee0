// Package passthrough provides a noise suppression that does not suppress
// anything: the output is a copy of the input. It stands in for the real
// engines in tests and on builds without them.
package passthrough

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/denoisewav/pkg/audio"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression/registry"
)

const (
	Name     = "passthrough"
	Priority = 0
)

func init() {
	registry.RegisterFactory(Name, Priority, registry.FactoryFunc(func(
		ctx context.Context,
		params registry.Params,
	) (noisesuppression.NoiseSuppression, error) {
		return New(params.SampleRate, params.Channels)
	}))
}

type Passthrough struct {
	SampleRateValue  audio.SampleRate
	ChannelsValue    audio.Channel
	VoiceProbability float64
}

var _ noisesuppression.NoiseSuppression = (*Passthrough)(nil)

func New(
	sampleRate audio.SampleRate,
	channels audio.Channel,
) (*Passthrough, error) {
	if channels == 0 {
		return nil, fmt.Errorf("the amount of channels must be positive")
	}
	return &Passthrough{
		SampleRateValue:  sampleRate,
		ChannelsValue:    channels,
		VoiceProbability: 1,
	}, nil
}

func (*Passthrough) Close() error {
	return nil
}

// Encoding returns native float32 with the sample rate given to New,
// so no resampling is ever needed.
func (s *Passthrough) Encoding(context.Context) (audio.Encoding, error) {
	pcmFormat, err := audio.NativeFloat32Format()
	if err != nil {
		return nil, err
	}
	return audio.EncodingPCM{
		PCMFormat:  pcmFormat,
		SampleRate: s.SampleRateValue,
	}, nil
}

func (s *Passthrough) Channels(context.Context) (audio.Channel, error) {
	return s.ChannelsValue, nil
}

func (*Passthrough) FrameLength() uint {
	return 0
}

func (s *Passthrough) SuppressNoise(_ context.Context, input []float32, outputVoice []float32) (float64, error) {
	if len(input) != len(outputVoice) {
		return 0, fmt.Errorf("lengths of input and output slices are not equal: %d != %d", len(input), len(outputVoice))
	}
	if len(input)%int(s.ChannelsValue) != 0 {
		return 0, fmt.Errorf("the size of the input is not a multiple of the amount of channels: %d %% %d != 0", len(input), s.ChannelsValue)
	}
	copy(outputVoice, input)
	return s.VoiceProbability, nil
}
