package streamdriver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/denoisewav/pkg/audio"
	"github.com/xaionaro-go/denoisewav/pkg/frameaccumulator"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression/implementations/passthrough"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression/registry"
	"github.com/xaionaro-go/denoisewav/pkg/wav"
)

type memorySource struct {
	Audio *wav.Audio
	Err   error
}

func (s *memorySource) ReadAudio(context.Context) (*wav.Audio, error) {
	return s.Audio, s.Err
}

type memorySink struct {
	Written []*wav.Audio
	Err     error
}

func (s *memorySink) WriteAudio(_ context.Context, a *wav.Audio) error {
	s.Written = append(s.Written, a)
	return s.Err
}

type failingEngine struct {
	passthrough.Passthrough
}

func (*failingEngine) SuppressNoise(context.Context, []float32, []float32) (float64, error) {
	return 0, fmt.Errorf("the engine is broken")
}

// fixedRateEngine accepts only 48kHz and frames of 480 samples per channel.
type fixedRateEngine struct {
	passthrough.Passthrough
}

func (e *fixedRateEngine) FrameLength() uint {
	return 480 * uint(e.ChannelsValue)
}

func withEngine(ns noisesuppression.NoiseSuppression) func(context.Context, string, registry.Params) (noisesuppression.NoiseSuppression, error) {
	return func(context.Context, string, registry.Params) (noisesuppression.NoiseSuppression, error) {
		return ns, nil
	}
}

func ramp(count int) []float32 {
	samples := make([]float32, count)
	for idx := range samples {
		samples[idx] = float32(idx%1000) / 1000
	}
	return samples
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Engine = passthrough.Name
	return cfg
}

func TestRunPassthrough(t *testing.T) {
	ctx := context.Background()
	input := ramp(550)
	sink := &memorySink{}

	report, err := New(testConfig()).Run(ctx, &memorySource{Audio: &wav.Audio{
		Samples:    input,
		SampleRate: 16000,
		Channels:   1,
		PCMFormat:  audio.PCMFormatS16LE,
	}}, sink)
	require.NoError(t, err)

	require.Len(t, sink.Written, 1)
	out := sink.Written[0]
	require.Equal(t, input[:480], out.Samples)
	require.EqualValues(t, 16000, out.SampleRate)
	require.EqualValues(t, 1, out.Channels)
	require.Equal(t, audio.PCMFormatFloat32LE, out.PCMFormat)

	assert.Equal(t, 550, report.InputSampleCount, spew.Sdump(report))
	assert.Equal(t, 320, report.ChunkSampleCount)
	assert.Equal(t, 2, report.ChunkCount)
	assert.Equal(t, 160, report.FrameLength)
	assert.Equal(t, 480, report.OutputSampleCount)
	assert.Equal(t, 70, report.RemainderSampleCount)
	assert.Equal(t, uint64(3), report.FramesProcessed)
	assert.False(t, report.Resampled)
}

func TestRunPad(t *testing.T) {
	ctx := context.Background()
	input := ramp(1101 * 2)
	sink := &memorySink{}

	cfg := testConfig()
	cfg.RemainderPolicy = noisesuppression.RemainderPolicyPad
	report, err := New(cfg).Run(ctx, &memorySource{Audio: &wav.Audio{Samples: input, SampleRate: 16000, Channels: 2}}, sink)
	require.NoError(t, err)
	require.Len(t, sink.Written, 1)
	require.Equal(t, input, sink.Written[0].Samples)
	require.Equal(t, 141*2, report.RemainderSampleCount)
	require.Equal(t, uint64(7), report.FramesProcessed)
}

func TestRunStreamingEqualsBatch(t *testing.T) {
	ctx := context.Background()
	for _, policy := range []noisesuppression.RemainderPolicy{
		noisesuppression.RemainderPolicyDiscard,
		noisesuppression.RemainderPolicyPad,
	} {
		t.Run(policy.String(), func(t *testing.T) {
			source := &memorySource{Audio: &wav.Audio{Samples: ramp(3333 * 2), SampleRate: 16000, Channels: 2}}

			cfg := testConfig()
			cfg.RemainderPolicy = policy
			batchSink := &memorySink{}
			batchReport, err := New(cfg).Run(ctx, source, batchSink)
			require.NoError(t, err)

			cfg.Streaming = true
			cfg.StreamBufferSize = 4096
			streamingSink := &memorySink{}
			streamingReport, err := New(cfg).Run(ctx, source, streamingSink)
			require.NoError(t, err)

			require.Equal(t, batchSink.Written[0].Samples, streamingSink.Written[0].Samples)
			require.Equal(t, batchReport.ChunkCount, streamingReport.ChunkCount)
			require.Equal(t, batchReport.RemainderSampleCount, streamingReport.RemainderSampleCount)
			require.Equal(t, batchReport.Stats, streamingReport.Stats)
			require.True(t, streamingReport.Streaming)
		})
	}
}

func TestRunMalformedChunk(t *testing.T) {
	ctx := context.Background()
	for _, streaming := range []bool{false, true} {
		t.Run(fmt.Sprintf("streaming=%v", streaming), func(t *testing.T) {
			sink := &memorySink{}
			cfg := testConfig()
			cfg.Streaming = streaming

			_, err := New(cfg).Run(ctx, &memorySource{Audio: &wav.Audio{Samples: ramp(1001), SampleRate: 16000, Channels: 2}}, sink)
			require.Error(t, err)
			require.Empty(t, sink.Written)

			var stageErr *StageError
			require.True(t, errors.As(err, &stageErr), spew.Sdump(err))
			require.Equal(t, StageStore, stageErr.Stage)
			require.Equal(t, 1, stageErr.ChunkIndex)

			var malformedErr *frameaccumulator.ErrMalformedChunk
			require.True(t, errors.As(err, &malformedErr))
			require.Equal(t, 361, malformedErr.Length)
		})
	}
}

func TestRunChunkDurationTooShort(t *testing.T) {
	ctx := context.Background()
	sink := &memorySink{}
	cfg := testConfig()
	cfg.ChunkDuration = 10 * time.Microsecond

	_, err := New(cfg).Run(ctx, &memorySource{Audio: &wav.Audio{Samples: ramp(100), SampleRate: 16000, Channels: 1}}, sink)
	require.Error(t, err)
	require.Empty(t, sink.Written)

	var configErr *frameaccumulator.ErrConfig
	require.True(t, errors.As(err, &configErr), spew.Sdump(err))
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	require.Equal(t, StageConstruct, stageErr.Stage)
}

func TestRunEngineError(t *testing.T) {
	ctx := context.Background()
	sink := &memorySink{}
	d := New(testConfig())
	d.NewNoiseSuppression = withEngine(&failingEngine{Passthrough: passthrough.Passthrough{SampleRateValue: 16000, ChannelsValue: 1}})

	_, err := d.Run(ctx, &memorySource{Audio: &wav.Audio{Samples: ramp(1000), SampleRate: 16000, Channels: 1}}, sink)
	require.ErrorContains(t, err, "the engine is broken")
	require.Empty(t, sink.Written)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	require.Equal(t, StageProcess, stageErr.Stage)
	require.Equal(t, 0, stageErr.ChunkIndex)
}

func TestRunIOErrors(t *testing.T) {
	ctx := context.Background()

	sink := &memorySink{}
	_, err := New(testConfig()).Run(ctx, &memorySource{Err: fmt.Errorf("no such file")}, sink)
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	require.Equal(t, StageRead, stageErr.Stage)
	require.Empty(t, sink.Written)

	sink = &memorySink{Err: fmt.Errorf("disk is full")}
	_, err = New(testConfig()).Run(ctx, &memorySource{Audio: &wav.Audio{Samples: ramp(1000), SampleRate: 16000, Channels: 1}}, sink)
	require.True(t, errors.As(err, &stageErr))
	require.Equal(t, StageWrite, stageErr.Stage)
	require.ErrorContains(t, err, "disk is full")
}

func TestRunResamplesToEngineRate(t *testing.T) {
	ctx := context.Background()
	sink := &memorySink{}

	cfg := testConfig()
	cfg.RemainderPolicy = noisesuppression.RemainderPolicyPad
	d := New(cfg)
	d.NewNoiseSuppression = withEngine(&fixedRateEngine{Passthrough: passthrough.Passthrough{SampleRateValue: 48000, ChannelsValue: 2, VoiceProbability: 1}})

	input := ramp(1600 * 2)
	report, err := d.Run(ctx, &memorySource{Audio: &wav.Audio{Samples: input, SampleRate: 16000, Channels: 2}}, sink)
	require.NoError(t, err)
	require.True(t, report.Resampled)
	require.EqualValues(t, 48000, report.ProcessingSampleRate)
	require.Equal(t, 960, report.FrameLength)

	require.Len(t, sink.Written, 1)
	out := sink.Written[0]
	require.EqualValues(t, 16000, out.SampleRate)
	require.EqualValues(t, 2, out.Channels)
	require.Zero(t, len(out.Samples)%2)
	require.InDelta(t, len(input), len(out.Samples), 32)
}

func TestRunEngineFrameMismatch(t *testing.T) {
	ctx := context.Background()
	sink := &memorySink{}

	cfg := testConfig()
	cfg.FrameDuration = 15 * time.Millisecond
	d := New(cfg)
	d.NewNoiseSuppression = withEngine(&fixedRateEngine{Passthrough: passthrough.Passthrough{SampleRateValue: 48000, ChannelsValue: 1}})

	_, err := d.Run(ctx, &memorySource{Audio: &wav.Audio{Samples: ramp(4800), SampleRate: 48000, Channels: 1}}, sink)
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr), spew.Sdump(err))
	require.Equal(t, StageConstruct, stageErr.Stage)
	require.Empty(t, sink.Written)
}

func TestRunWAVFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.wav")
	outPath := filepath.Join(dir, "out.wav")

	input := ramp(8000)
	_, err := wav.WriteFile(ctx, inPath, &wav.Audio{Samples: input, SampleRate: 8000, Channels: 1})
	require.NoError(t, err)

	_, err = New(testConfig()).Run(ctx, wav.NewFile(inPath), wav.NewFile(outPath))
	require.NoError(t, err)

	out, err := wav.ReadFile(ctx, outPath)
	require.NoError(t, err)
	require.Equal(t, input, out.Samples)
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	err := Config{
		ChunkDuration:   0,
		FrameDuration:   -time.Millisecond,
		RemainderPolicy: noisesuppression.RemainderPolicy(7),
		VoiceThreshold:  2,
		Engine:          "no-such-engine",
	}.Validate()
	var mErr *multierror.Error
	require.True(t, errors.As(err, &mErr), spew.Sdump(err))
	require.Len(t, mErr.Errors, 5)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chunk_duration: 30ms
remainder_policy: pad
engine: passthrough
streaming: true
voice_threshold: 0.25
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 30*time.Millisecond, cfg.ChunkDuration)
	require.Equal(t, frameaccumulator.DefaultFrameDuration, cfg.FrameDuration)
	require.Equal(t, noisesuppression.RemainderPolicyPad, cfg.RemainderPolicy)
	require.Equal(t, passthrough.Name, cfg.Engine)
	require.True(t, cfg.Streaming)
	require.Equal(t, 0.25, cfg.VoiceThreshold)
	require.NoError(t, cfg.Validate())

	require.NoError(t, os.WriteFile(path, []byte("remainder_policy: truncate\n"), 0644))
	_, err = LoadConfig(path)
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
