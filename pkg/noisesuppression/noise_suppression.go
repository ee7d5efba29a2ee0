package noisesuppression

import (
	"context"

	"github.com/xaionaro-go/denoisewav/pkg/audio"
)

// NoiseSuppression is a noise-suppression engine working on whole frames of
// interleaved float32 samples.
//
// If Encoding returns an audio.EncodingPCM with a non-zero SampleRate, the
// engine only accepts samples of that rate.
type NoiseSuppression interface {
	audio.AbstractAnalyzer

	// FrameLength returns the amount of interleaved samples the engine
	// processes at once; the input must be a multiple of it. Zero means
	// any multiple of the amount of channels is accepted.
	FrameLength() uint

	// SuppressNoise writes the denoised input to outputVoice (of the same
	// length) and returns the probability of voice in the input.
	SuppressNoise(ctx context.Context, input []float32, outputVoice []float32) (float64, error)
}

// FixedSampleRate returns the sample rate the engine requires, or zero if
// the engine accepts any sample rate.
func FixedSampleRate(ctx context.Context, ns NoiseSuppression) (audio.SampleRate, error) {
	encoding, err := ns.Encoding(ctx)
	if err != nil {
		return 0, err
	}
	encodingPCM, ok := encoding.(audio.EncodingPCM)
	if !ok {
		return 0, nil
	}
	return encodingPCM.SampleRate, nil
}
