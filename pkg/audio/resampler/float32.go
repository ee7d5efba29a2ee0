package resampler

import (
	"bytes"
	"fmt"

	"github.com/xaionaro-go/denoisewav/pkg/audio"
	"github.com/xaionaro-go/denoisewav/pkg/audio/planar"
)

// ResampleFloat32 changes the sample rate of interleaved float32 samples.
// Every channel is resampled independently, so the channel layout is
// preserved.
func ResampleFloat32(
	samples []float32,
	channels audio.Channel,
	from audio.SampleRate,
	to audio.SampleRate,
) ([]float32, error) {
	if channels == 0 {
		return nil, fmt.Errorf("the amount of channels must be positive")
	}
	if from == to {
		return append([]float32(nil), samples...), nil
	}

	planes := make([]float32, len(samples))
	if err := planar.Planarize(channels, planes, samples); err != nil {
		return nil, fmt.Errorf("unable to planarize: %w", err)
	}

	samplesPerChan := len(samples) / int(channels)
	resampledPlanes := make([][]float32, channels)
	outSamplesPerChan := -1
	for ch := range resampledPlanes {
		plane := planes[ch*samplesPerChan : (ch+1)*samplesPerChan]
		resampled, err := resampleMono(plane, from, to)
		if err != nil {
			return nil, fmt.Errorf("unable to resample channel #%d: %w", ch, err)
		}
		resampledPlanes[ch] = resampled
		if outSamplesPerChan < 0 || len(resampled) < outSamplesPerChan {
			outSamplesPerChan = len(resampled)
		}
	}

	outPlanes := make([]float32, 0, outSamplesPerChan*int(channels))
	for _, plane := range resampledPlanes {
		outPlanes = append(outPlanes, plane[:outSamplesPerChan]...)
	}
	result := make([]float32, len(outPlanes))
	if err := planar.Unplanarize(channels, result, outPlanes); err != nil {
		return nil, fmt.Errorf("unable to unplanarize: %w", err)
	}
	return result, nil
}

func resampleMono(
	samples []float32,
	from audio.SampleRate,
	to audio.SampleRate,
) ([]float32, error) {
	raw, err := audio.EncodeSamples(audio.PCMFormatFloat32LE, samples)
	if err != nil {
		return nil, err
	}
	r, err := NewResampler(
		Format{Channels: 1, SampleRate: from, PCMFormat: audio.PCMFormatFloat32LE},
		bytes.NewReader(raw),
		Format{Channels: 1, SampleRate: to, PCMFormat: audio.PCMFormatFloat32LE},
	)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("unable to read the resampled data: %w", err)
	}
	return audio.DecodeSamples(audio.PCMFormatFloat32LE, out.Bytes())
}
