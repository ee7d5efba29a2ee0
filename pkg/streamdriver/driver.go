// Package streamdriver denoises a whole audio source into an audio sink:
// the audio is cut into chunks of a configured duration, reassembled into
// frames and passed through a noise suppression frame by frame.
package streamdriver

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/denoisewav/pkg/audio"
	"github.com/xaionaro-go/denoisewav/pkg/audio/resampler"
	"github.com/xaionaro-go/denoisewav/pkg/frameaccumulator"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression/registry"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppressionstream"
	"github.com/xaionaro-go/denoisewav/pkg/wav"
)

type Source interface {
	ReadAudio(ctx context.Context) (*wav.Audio, error)
}

type Sink interface {
	WriteAudio(ctx context.Context, a *wav.Audio) error
}

var (
	_ Source = (*wav.File)(nil)
	_ Sink   = (*wav.File)(nil)
)

// Report describes a successful run. Sample counts are in interleaved
// samples.
type Report struct {
	Engine               string
	SampleRate           audio.SampleRate
	ProcessingSampleRate audio.SampleRate
	Channels             audio.Channel
	Resampled            bool
	Streaming            bool

	InputSampleCount     int
	ChunkSampleCount     int
	ChunkCount           int
	FrameLength          int
	OutputSampleCount    int
	RemainderSampleCount int
	RemainderPolicy      noisesuppression.RemainderPolicy

	noisesuppression.Stats
}

type Driver struct {
	Config Config

	// NewNoiseSuppression constructs the engine; registry.New by default.
	NewNoiseSuppression func(ctx context.Context, name string, params registry.Params) (noisesuppression.NoiseSuppression, error)
}

func New(cfg Config) *Driver {
	return &Driver{
		Config:              cfg,
		NewNoiseSuppression: registry.New,
	}
}

// processing is the state of one run between reading and writing.
type processing struct {
	NoiseSuppression noisesuppression.NoiseSuppression
	SampleRate       audio.SampleRate
	Channels         audio.Channel
	Samples          []float32
	ChunkSampleCount int
	ChunkLength      int
	FrameLength      int
}

// Run reads the whole input, denoises it and writes the result to output
// once. If Run fails, output is never written to.
func (d *Driver) Run(
	ctx context.Context,
	input Source,
	output Sink,
) (_ret *Report, _err error) {
	logger.Tracef(ctx, "Run")
	defer func() { logger.Tracef(ctx, "/Run: %v", _err) }()

	if err := d.Config.Validate(); err != nil {
		return nil, newStageError(StageConstruct, fmt.Errorf("invalid config: %w", err))
	}

	in, err := input.ReadAudio(ctx)
	if err != nil {
		return nil, newStageError(StageRead, err)
	}
	logger.Debugf(ctx, "input: %d Hz, %d channels, %d samples", in.SampleRate, in.Channels, len(in.Samples))

	ns, err := d.NewNoiseSuppression(ctx, d.Config.Engine, registry.Params{
		SampleRate: in.SampleRate,
		Channels:   in.Channels,
		ModelPath:  d.Config.ModelPath,
	})
	if err != nil {
		return nil, newStageError(StageConstruct, err)
	}
	defer func() {
		if err := ns.Close(); err != nil {
			logger.Errorf(ctx, "unable to close the noise suppression: %v", err)
		}
	}()

	p, err := d.prepare(ctx, ns, in)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Engine:               fmt.Sprintf("%T", ns),
		SampleRate:           in.SampleRate,
		ProcessingSampleRate: p.SampleRate,
		Channels:             in.Channels,
		Resampled:            p.SampleRate != in.SampleRate,
		Streaming:            d.Config.Streaming,
		InputSampleCount:     len(in.Samples),
		ChunkSampleCount:     p.ChunkSampleCount,
		FrameLength:          p.FrameLength,
		RemainderPolicy:      d.Config.RemainderPolicy,
	}

	var outSamples []float32
	if d.Config.Streaming {
		outSamples, err = d.processStreaming(ctx, p, report)
	} else {
		outSamples, err = d.processBatch(ctx, p, report)
	}
	if err != nil {
		return nil, err
	}

	if report.Resampled {
		outSamples, err = resampler.ResampleFloat32(outSamples, p.Channels, p.SampleRate, in.SampleRate)
		if err != nil {
			return nil, newStageError(StageResample, fmt.Errorf("unable to resample the output from %d Hz back to %d Hz: %w", p.SampleRate, in.SampleRate, err))
		}
	}
	report.OutputSampleCount = len(outSamples)

	err = output.WriteAudio(ctx, &wav.Audio{
		Samples:    outSamples,
		SampleRate: in.SampleRate,
		Channels:   in.Channels,
		PCMFormat:  audio.PCMFormatFloat32LE,
	})
	if err != nil {
		return nil, newStageError(StageWrite, err)
	}

	logger.Debugf(ctx, "report: %#+v", *report)
	return report, nil
}

func (d *Driver) prepare(
	ctx context.Context,
	ns noisesuppression.NoiseSuppression,
	in *wav.Audio,
) (*processing, error) {
	channels, err := ns.Channels(ctx)
	if err != nil {
		return nil, newStageError(StageConstruct, fmt.Errorf("unable to get the amount of channels of the noise suppression: %w", err))
	}
	if channels != in.Channels {
		return nil, newStageError(StageConstruct, fmt.Errorf("the noise suppression works with %d channels, but the input has %d", channels, in.Channels))
	}
	fixedSampleRate, err := noisesuppression.FixedSampleRate(ctx, ns)
	if err != nil {
		return nil, newStageError(StageConstruct, fmt.Errorf("unable to get the sample rate of the noise suppression: %w", err))
	}

	p := &processing{
		NoiseSuppression: ns,
		SampleRate:       in.SampleRate,
		Channels:         in.Channels,
		Samples:          in.Samples,
	}
	if fixedSampleRate != 0 && fixedSampleRate != in.SampleRate {
		logger.Debugf(ctx, "the noise suppression requires %d Hz, resampling the input from %d Hz", fixedSampleRate, in.SampleRate)
		p.Samples, err = resampler.ResampleFloat32(in.Samples, in.Channels, in.SampleRate, fixedSampleRate)
		if err != nil {
			return nil, newStageError(StageResample, fmt.Errorf("unable to resample the input from %d Hz to %d Hz: %w", in.SampleRate, fixedSampleRate, err))
		}
		p.SampleRate = fixedSampleRate
	}

	p.ChunkSampleCount = frameaccumulator.SampleCountForDuration(p.SampleRate, d.Config.ChunkDuration)
	if p.ChunkSampleCount == 0 {
		return nil, newStageError(StageConstruct, &frameaccumulator.ErrConfig{
			SampleRate: p.SampleRate,
			Channels:   p.Channels,
			Duration:   d.Config.ChunkDuration,
			Reason:     "the chunk duration is too short for the sample rate",
		})
	}
	p.ChunkLength = p.ChunkSampleCount * int(p.Channels)
	p.FrameLength = frameaccumulator.SampleCountForDuration(p.SampleRate, d.Config.FrameDuration) * int(p.Channels)
	return p, nil
}

func (d *Driver) newFrameAccumulator(p *processing) (*frameaccumulator.FrameAccumulator, error) {
	frameAccumulator, err := frameaccumulator.New(p.SampleRate, p.Channels, d.Config.FrameDuration)
	if err != nil {
		return nil, newStageError(StageConstruct, err)
	}
	if engineFrameLength := int(p.NoiseSuppression.FrameLength()); engineFrameLength != 0 && frameAccumulator.FrameLength()%engineFrameLength != 0 {
		return nil, newStageError(StageConstruct, fmt.Errorf("the frame length %d is not a multiple of the engine frame length %d", frameAccumulator.FrameLength(), engineFrameLength))
	}
	return frameAccumulator, nil
}

func (d *Driver) processBatch(
	ctx context.Context,
	p *processing,
	report *Report,
) (_ret []float32, _err error) {
	logger.Tracef(ctx, "processBatch")
	defer func() { logger.Tracef(ctx, "/processBatch: %v", _err) }()

	frameAccumulator, err := d.newFrameAccumulator(p)
	if err != nil {
		return nil, err
	}
	processor := noisesuppression.NewProcessor(p.NoiseSuppression, d.Config.FrameDuration, d.Config.VoiceThreshold)

	output := make([]float32, 0, len(p.Samples))
	chunkIndex := 0
	for begin := 0; begin < len(p.Samples); begin += p.ChunkLength {
		if err := ctx.Err(); err != nil {
			return nil, newChunkError(StageProcess, chunkIndex, err)
		}
		end := min(begin+p.ChunkLength, len(p.Samples))
		if err := frameAccumulator.Store(p.Samples[begin:end]); err != nil {
			return nil, newChunkError(StageStore, chunkIndex, err)
		}
		frames := frameAccumulator.Drain()
		logger.Tracef(ctx, "chunk #%d: %d samples, %d frames", chunkIndex, end-begin, len(frames))
		output, err = processor.ProcessFrames(ctx, output, frames...)
		if err != nil {
			return nil, newChunkError(StageProcess, chunkIndex, err)
		}
		chunkIndex++
	}
	report.ChunkCount = chunkIndex

	remainder := frameAccumulator.FlushRemainder()
	report.RemainderSampleCount = len(remainder)
	if len(remainder) > 0 {
		logger.Infof(ctx, "%d samples at the end do not form a whole frame, policy: %s", len(remainder), d.Config.RemainderPolicy)
	}
	output, err = processor.ProcessRemainder(ctx, output, remainder, frameAccumulator.FrameLength(), d.Config.RemainderPolicy)
	if err != nil {
		return nil, newStageError(StageProcess, fmt.Errorf("unable to process the remainder: %w", err))
	}

	report.Stats = processor.Stats
	return output, nil
}

func (d *Driver) processStreaming(
	ctx context.Context,
	p *processing,
	report *Report,
) (_ret []float32, _err error) {
	logger.Tracef(ctx, "processStreaming")
	defer func() { logger.Tracef(ctx, "/processStreaming: %v", _err) }()

	if len(p.Samples)%int(p.Channels) != 0 {
		return nil, newChunkError(StageStore, (len(p.Samples)-1)/p.ChunkLength, &frameaccumulator.ErrMalformedChunk{
			Length:   len(p.Samples) % p.ChunkLength,
			Channels: p.Channels,
		})
	}
	// to report the same errors as processBatch
	if _, err := d.newFrameAccumulator(p); err != nil {
		return nil, err
	}

	raw, err := audio.EncodeSamples(noisesuppressionstream.PCMFormat, p.Samples)
	if err != nil {
		return nil, newStageError(StageProcess, fmt.Errorf("unable to encode the input: %w", err))
	}

	stream, err := noisesuppressionstream.NewNoiseSuppressionStream(ctx, bytes.NewReader(raw), p.NoiseSuppression, noisesuppressionstream.Config{
		SampleRate:       p.SampleRate,
		FrameDuration:    d.Config.FrameDuration,
		RemainderPolicy:  d.Config.RemainderPolicy,
		VoiceThreshold:   d.Config.VoiceThreshold,
		InputBufferSize:  d.Config.StreamBufferSize,
		OutputBufferSize: d.Config.StreamBufferSize,
		ReadChunkSize:    uint(p.ChunkLength) * noisesuppressionstream.PCMFormat.Size(),
	})
	if err != nil {
		return nil, newStageError(StageConstruct, err)
	}
	defer stream.Close()

	processed, err := io.ReadAll(stream)
	if err != nil {
		return nil, newStageError(StageProcess, err)
	}
	output, err := audio.DecodeSamples(noisesuppressionstream.PCMFormat, processed)
	if err != nil {
		return nil, newStageError(StageProcess, fmt.Errorf("unable to decode the output: %w", err))
	}

	report.ChunkCount = (len(p.Samples) + p.ChunkLength - 1) / p.ChunkLength
	report.RemainderSampleCount = stream.RemainderSampleCount()
	report.Stats = stream.Stats()
	return output, nil
}
