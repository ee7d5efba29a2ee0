// Package frameaccumulator turns a stream of arbitrarily sized chunks of
// interleaved samples into a stream of fixed-size frames.
//
// A FrameAccumulator is not safe for concurrent use: it is meant to be owned
// by a single goroutine, and any concurrency belongs to the caller.
package frameaccumulator

import (
	"time"

	"github.com/xaionaro-go/denoisewav/pkg/audio"
)

const (
	DefaultFrameDuration = 10 * time.Millisecond
)

// Frame is exactly FrameLength() interleaved samples.
type Frame []float32

type FrameAccumulator struct {
	sampleRate    audio.SampleRate
	channels      audio.Channel
	frameDuration time.Duration

	// both are derived once in New and never recalculated
	frameSampleCount int
	frameLength      int

	buffer []float32
}

// New returns an accumulator emitting frames of frameDuration.
// The frame size is floor(sampleRate * frameDuration / 1s) samples per
// channel and must not be zero.
func New(
	sampleRate audio.SampleRate,
	channels audio.Channel,
	frameDuration time.Duration,
) (*FrameAccumulator, error) {
	configErr := func(reason string) error {
		return &ErrConfig{
			SampleRate: sampleRate,
			Channels:   channels,
			Duration:   frameDuration,
			Reason:     reason,
		}
	}
	switch {
	case sampleRate == 0:
		return nil, configErr("the sample rate must be positive")
	case channels == 0:
		return nil, configErr("the amount of channels must be positive")
	case frameDuration <= 0:
		return nil, configErr("the frame duration must be positive")
	}

	frameSampleCount := SampleCountForDuration(sampleRate, frameDuration)
	if frameSampleCount == 0 {
		return nil, configErr("the frame duration is too short for the sample rate")
	}

	return &FrameAccumulator{
		sampleRate:       sampleRate,
		channels:         channels,
		frameDuration:    frameDuration,
		frameSampleCount: frameSampleCount,
		frameLength:      frameSampleCount * int(channels),
	}, nil
}

// SampleCountForDuration returns floor(sampleRate * d / 1s).
func SampleCountForDuration(sampleRate audio.SampleRate, d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(uint64(sampleRate) * uint64(d) / uint64(time.Second))
}

func (a *FrameAccumulator) SampleRate() audio.SampleRate {
	return a.sampleRate
}

func (a *FrameAccumulator) Channels() audio.Channel {
	return a.channels
}

func (a *FrameAccumulator) FrameDuration() time.Duration {
	return a.frameDuration
}

// FrameSampleCount returns the amount of samples per channel in a frame.
func (a *FrameAccumulator) FrameSampleCount() int {
	return a.frameSampleCount
}

// FrameLength returns the amount of interleaved samples in a frame.
func (a *FrameAccumulator) FrameLength() int {
	return a.frameLength
}

// BufferedSampleCount returns the amount of interleaved samples received
// but not emitted yet.
func (a *FrameAccumulator) BufferedSampleCount() int {
	return len(a.buffer)
}

// Store appends a copy of the chunk. A chunk which length is not
// a multiple of the amount of channels is rejected and the state is left
// untouched.
func (a *FrameAccumulator) Store(chunk []float32) error {
	if len(chunk)%int(a.channels) != 0 {
		return &ErrMalformedChunk{
			Length:   len(chunk),
			Channels: a.channels,
		}
	}
	a.buffer = append(a.buffer, chunk...)
	return nil
}

func (a *FrameAccumulator) AvailableFrameCount() int {
	return len(a.buffer) / a.frameLength
}

// Drain returns all complete frames in arrival order and keeps only the
// remainder (shorter than one frame) buffered. The returned frames do not
// alias the internal buffer.
func (a *FrameAccumulator) Drain() []Frame {
	frameCount := a.AvailableFrameCount()
	if frameCount == 0 {
		return nil
	}

	consumed := frameCount * a.frameLength
	storage := make([]float32, consumed)
	copy(storage, a.buffer[:consumed])

	frames := make([]Frame, frameCount)
	for idx := range frames {
		begin, end := idx*a.frameLength, (idx+1)*a.frameLength
		frames[idx] = Frame(storage[begin:end:end])
	}

	remainder := copy(a.buffer, a.buffer[consumed:])
	a.buffer = a.buffer[:remainder]
	return frames
}

// FlushRemainder returns and forgets the samples that do not form
// a complete frame. It never pads.
func (a *FrameAccumulator) FlushRemainder() []float32 {
	if len(a.buffer) == 0 {
		return nil
	}
	remainder := make([]float32, len(a.buffer))
	copy(remainder, a.buffer)
	a.buffer = a.buffer[:0]
	return remainder
}
