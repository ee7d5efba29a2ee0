package frameaccumulator

import (
	"fmt"
	"time"

	"github.com/xaionaro-go/denoisewav/pkg/audio"
)

// ErrConfig is returned when a sample rate, channel count and duration
// combination is invalid or degenerate.
type ErrConfig struct {
	SampleRate audio.SampleRate
	Channels   audio.Channel
	Duration   time.Duration
	Reason     string
}

func (e *ErrConfig) Error() string {
	return fmt.Sprintf("invalid configuration (sample rate %d, channels %d, duration %v): %s", e.SampleRate, e.Channels, e.Duration, e.Reason)
}

// ErrMalformedChunk is returned when a chunk splits a sample across channels.
type ErrMalformedChunk struct {
	Length   int
	Channels audio.Channel
}

func (e *ErrMalformedChunk) Error() string {
	return fmt.Sprintf("the chunk length %d is not a multiple of the amount of channels %d", e.Length, e.Channels)
}
