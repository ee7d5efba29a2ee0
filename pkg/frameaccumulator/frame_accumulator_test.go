package frameaccumulator

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/denoisewav/pkg/audio"
)

func ramp(from, count int) []float32 {
	result := make([]float32, count)
	for idx := range result {
		result[idx] = float32(from + idx)
	}
	return result
}

func concat(frames []Frame) []float32 {
	var result []float32
	for _, frame := range frames {
		result = append(result, frame...)
	}
	return result
}

func TestNew(t *testing.T) {
	a, err := New(16000, 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 160, a.FrameSampleCount())
	assert.Equal(t, 160, a.FrameLength())
	assert.Equal(t, audio.SampleRate(16000), a.SampleRate())
	assert.Equal(t, audio.Channel(1), a.Channels())
	assert.Equal(t, 10*time.Millisecond, a.FrameDuration())

	a, err = New(44100, 2, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 441, a.FrameSampleCount())
	assert.Equal(t, 882, a.FrameLength())

	a, err = New(22050, 1, 15*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 330, a.FrameSampleCount(), "floor(22050*15/1000) = floor(330.75)")

	for _, tc := range []struct {
		name          string
		sampleRate    audio.SampleRate
		channels      audio.Channel
		frameDuration time.Duration
	}{
		{"zero_sample_rate", 0, 1, 10 * time.Millisecond},
		{"zero_channels", 16000, 0, 10 * time.Millisecond},
		{"zero_duration", 16000, 1, 0},
		{"negative_duration", 16000, 1, -time.Millisecond},
		{"degenerate_frame", 8000, 1, 100 * time.Microsecond},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.sampleRate, tc.channels, tc.frameDuration)
			require.Error(t, err)
			var configErr *ErrConfig
			require.True(t, errors.As(err, &configErr), spew.Sdump(err))
		})
	}
}

func TestScenario16kMono(t *testing.T) {
	a, err := New(16000, 1, 10*time.Millisecond)
	require.NoError(t, err)

	input := ramp(0, 550)
	chunks := [][]float32{input[:100], input[100:250], input[250:550]}

	require.NoError(t, a.Store(chunks[0]))
	require.Equal(t, 0, a.AvailableFrameCount())
	frames := a.Drain()
	require.Len(t, frames, 0)
	require.Equal(t, 100, a.BufferedSampleCount())

	require.NoError(t, a.Store(chunks[1]))
	require.Equal(t, 1, a.AvailableFrameCount())
	frames1 := a.Drain()
	require.Len(t, frames1, 1)
	require.Equal(t, 90, a.BufferedSampleCount())

	require.NoError(t, a.Store(chunks[2]))
	require.Equal(t, 2, a.AvailableFrameCount())
	frames2 := a.Drain()
	require.Len(t, frames2, 2)
	require.Equal(t, 70, a.BufferedSampleCount())

	emitted := concat(append(frames1, frames2...))
	require.Len(t, emitted, 480)
	require.Equal(t, input[:480], emitted)

	remainder := a.FlushRemainder()
	require.Equal(t, input[480:], remainder)
	require.Equal(t, 0, a.BufferedSampleCount())
	require.Len(t, a.FlushRemainder(), 0)
}

func TestFrameSizeInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, sampleRate := range []audio.SampleRate{8000, 16000, 22050, 44100, 48000, 96000} {
		for _, channels := range []audio.Channel{1, 2, 6} {
			for _, frameDuration := range []time.Duration{10 * time.Millisecond, 15 * time.Millisecond, 32 * time.Millisecond} {
				a, err := New(sampleRate, channels, frameDuration)
				require.NoError(t, err)
				expected := int(uint64(sampleRate)*uint64(frameDuration/time.Millisecond)/1000) * int(channels)
				require.Equal(t, expected, a.FrameLength())
				for i := 0; i < 20; i++ {
					require.NoError(t, a.Store(make([]float32, rng.Intn(2000)*int(channels))))
					for _, frame := range a.Drain() {
						require.Len(t, frame, expected)
					}
					require.Less(t, a.BufferedSampleCount(), expected)
				}
			}
		}
	}
}

func TestNoLossNoDuplication(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iteration := 0; iteration < 50; iteration++ {
		channels := audio.Channel(1 + rng.Intn(3))
		a, err := New(16000, channels, 10*time.Millisecond)
		require.NoError(t, err)

		var submitted, received []float32
		for chunkIdx := 0; chunkIdx < 30; chunkIdx++ {
			chunk := ramp(len(submitted), rng.Intn(400)*int(channels))
			submitted = append(submitted, chunk...)
			require.NoError(t, a.Store(chunk))
			if rng.Intn(3) != 0 {
				received = append(received, concat(a.Drain())...)
			}
		}
		received = append(received, concat(a.Drain())...)
		received = append(received, a.FlushRemainder()...)
		require.Equal(t, submitted, received)
	}
}

func TestMonotonicAvailability(t *testing.T) {
	a, err := New(16000, 2, 10*time.Millisecond)
	require.NoError(t, err)

	prev := a.AvailableFrameCount()
	for i := 0; i < 10; i++ {
		require.NoError(t, a.Store(make([]float32, 2*77)))
		cur := a.AvailableFrameCount()
		require.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
	require.Equal(t, (2*77*10)/320, prev)

	frames := a.Drain()
	require.Len(t, frames, prev)
	require.Equal(t, 0, a.AvailableFrameCount())
	require.Equal(t, (2*77*10)%320, a.BufferedSampleCount())
}

func TestDrainIdempotent(t *testing.T) {
	a, err := New(16000, 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, a.Store(ramp(0, 400)))

	require.Len(t, a.Drain(), 2)
	require.Len(t, a.Drain(), 0)
	require.Equal(t, 80, a.BufferedSampleCount())
}

func TestMalformedChunk(t *testing.T) {
	a, err := New(16000, 2, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, a.Store(ramp(0, 300)))

	err = a.Store(ramp(300, 101))
	require.Error(t, err)
	var malformedErr *ErrMalformedChunk
	require.True(t, errors.As(err, &malformedErr))
	assert.Equal(t, 101, malformedErr.Length)
	assert.Equal(t, audio.Channel(2), malformedErr.Channels)

	require.Equal(t, 300, a.BufferedSampleCount())
	require.Equal(t, 0, a.AvailableFrameCount())
	require.NoError(t, a.Store(ramp(300, 100)))
	frames := a.Drain()
	require.Len(t, frames, 1)
	require.Equal(t, ramp(0, 320), []float32(frames[0]))
}

func TestEmptyChunkIsNoOp(t *testing.T) {
	a, err := New(16000, 1, 10*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, a.Store(nil))
	require.NoError(t, a.Store([]float32{}))
	require.Equal(t, 0, a.AvailableFrameCount())

	require.NoError(t, a.Store(ramp(0, 170)))
	require.Equal(t, 1, a.AvailableFrameCount())
	require.NoError(t, a.Store(nil))
	require.Equal(t, 1, a.AvailableFrameCount())
	require.Equal(t, 170, a.BufferedSampleCount())
}

func TestFramesDoNotAliasBuffer(t *testing.T) {
	a, err := New(16000, 1, 10*time.Millisecond)
	require.NoError(t, err)

	chunk := ramp(0, 330)
	require.NoError(t, a.Store(chunk))
	chunk[0] = -1

	frames := a.Drain()
	require.Len(t, frames, 2)
	require.Equal(t, float32(0), frames[0][0])
	require.Equal(t, 160, cap(frames[0]))

	frames[0] = append(frames[0], 12345)
	require.Equal(t, float32(160), frames[1][0])

	require.NoError(t, a.Store(ramp(1000, 160)))
	require.Equal(t, ramp(0, 160), []float32(frames[0][:160]))
	require.Equal(t, ramp(160, 160), []float32(frames[1]))

	next := a.Drain()
	require.Len(t, next, 1)
	require.Equal(t, append(ramp(320, 10), ramp(1000, 150)...), []float32(next[0]))
}

func TestInterleavedOrder(t *testing.T) {
	a, err := New(1000, 2, 2*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 2, a.FrameSampleCount())

	require.NoError(t, a.Store([]float32{1, -1, 2}[:2]))
	require.NoError(t, a.Store([]float32{2, -2, 3, -3, 4, -4}))
	frames := a.Drain()
	require.Equal(t, []Frame{{1, -1, 2, -2}, {3, -3, 4, -4}}, frames)
	require.Len(t, a.FlushRemainder(), 0)
}
