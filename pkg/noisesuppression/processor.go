package noisesuppression

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/denoisewav/pkg/frameaccumulator"
)

const (
	DefaultVoiceThreshold = 0.5
)

// Stats describes the audio a Processor has seen so far.
//
// A zero-padded remainder counts as one frame in FramesProcessed and
// VoiceFrames, but the durations grow only by the share of the frame
// the real samples take.
type Stats struct {
	FramesProcessed     uint64
	VoiceFrames         uint64
	TalkTime            time.Duration
	MaxVoiceProbability float64

	// FirstVoiceAt is the offset of the first frame with voice; it is
	// meaningful only if VoiceFrames is not zero.
	FirstVoiceAt time.Duration

	// The time per level of the noise removed from the frames, see NoiseLevelOf.
	NoNoiseTime     time.Duration
	LowNoiseTime    time.Duration
	MediumNoiseTime time.Duration
	HighNoiseTime   time.Duration
}

// NoiseTime returns the time of the frames with the given level of noise.
func (s *Stats) NoiseTime(level NoiseLevel) time.Duration {
	switch level {
	case NoiseLevelNone:
		return s.NoNoiseTime
	case NoiseLevelLow:
		return s.LowNoiseTime
	case NoiseLevelMedium:
		return s.MediumNoiseTime
	case NoiseLevelHigh:
		return s.HighNoiseTime
	default:
		return 0
	}
}

func (s *Stats) addNoiseTime(level NoiseLevel, duration time.Duration) {
	switch level {
	case NoiseLevelNone:
		s.NoNoiseTime += duration
	case NoiseLevelLow:
		s.LowNoiseTime += duration
	case NoiseLevelMedium:
		s.MediumNoiseTime += duration
	case NoiseLevelHigh:
		s.HighNoiseTime += duration
	}
}

// Processor runs frames emitted by a frameaccumulator.FrameAccumulator
// through a NoiseSuppression engine. It is not safe for concurrent use.
type Processor struct {
	NoiseSuppression NoiseSuppression
	FrameDuration    time.Duration
	VoiceThreshold   float64
	Stats            Stats

	padBuffer []float32
}

func NewProcessor(
	noiseSuppression NoiseSuppression,
	frameDuration time.Duration,
	voiceThreshold float64,
) *Processor {
	return &Processor{
		NoiseSuppression: noiseSuppression,
		FrameDuration:    frameDuration,
		VoiceThreshold:   voiceThreshold,
	}
}

// ProcessFrames appends the denoised frames to dst and returns the
// extended slice.
func (p *Processor) ProcessFrames(
	ctx context.Context,
	dst []float32,
	frames ...frameaccumulator.Frame,
) ([]float32, error) {
	for idx, frame := range frames {
		var err error
		dst, err = p.processFrame(ctx, dst, frame, len(frame))
		if err != nil {
			return dst, fmt.Errorf("unable to suppress noise in frame #%d (total frame #%d): %w", idx, p.Stats.FramesProcessed, err)
		}
	}
	return dst, nil
}

// processFrame accounts only the first significantLength samples of
// the frame in the Stats; the rest is padding.
func (p *Processor) processFrame(
	ctx context.Context,
	dst []float32,
	frame []float32,
	significantLength int,
) ([]float32, error) {
	start := len(dst)
	dst = append(dst, make([]float32, len(frame))...)
	voiceProbability, err := p.NoiseSuppression.SuppressNoise(ctx, frame, dst[start:])
	if err != nil {
		return dst[:start], err
	}

	duration := p.FrameDuration
	if significantLength < len(frame) {
		duration = time.Duration(int64(p.FrameDuration) * int64(significantLength) / int64(len(frame)))
	}
	noiseLevel := NoiseLevelOf(frame[:significantLength], dst[start:start+significantLength])
	p.observe(voiceProbability, duration, noiseLevel)
	return dst, nil
}

func (p *Processor) observe(
	voiceProbability float64,
	duration time.Duration,
	noiseLevel NoiseLevel,
) {
	frameIdx := p.Stats.FramesProcessed
	p.Stats.FramesProcessed++
	p.Stats.addNoiseTime(noiseLevel, duration)
	if voiceProbability > p.Stats.MaxVoiceProbability {
		p.Stats.MaxVoiceProbability = voiceProbability
	}
	if voiceProbability < p.VoiceThreshold {
		return
	}
	if p.Stats.VoiceFrames == 0 {
		p.Stats.FirstVoiceAt = time.Duration(frameIdx) * p.FrameDuration
	}
	p.Stats.VoiceFrames++
	p.Stats.TalkTime += duration
}

// ProcessRemainder applies the end-of-stream policy to a remainder shorter
// than one frame of frameLength samples.
func (p *Processor) ProcessRemainder(
	ctx context.Context,
	dst []float32,
	remainder []float32,
	frameLength int,
	policy RemainderPolicy,
) ([]float32, error) {
	if len(remainder) == 0 {
		return dst, nil
	}
	if len(remainder) >= frameLength {
		return dst, fmt.Errorf("the remainder is not shorter than a frame: %d >= %d", len(remainder), frameLength)
	}

	switch policy {
	case RemainderPolicyDiscard:
		logger.Debugf(ctx, "discarding the remainder of %d samples", len(remainder))
		return dst, nil
	case RemainderPolicyPad:
		logger.Debugf(ctx, "padding the remainder of %d samples to %d", len(remainder), frameLength)
		if cap(p.padBuffer) < frameLength {
			p.padBuffer = make([]float32, frameLength)
		}
		frame := p.padBuffer[:frameLength]
		n := copy(frame, remainder)
		clear(frame[n:])
		start := len(dst)
		var err error
		dst, err = p.processFrame(ctx, dst, frame, len(remainder))
		if err != nil {
			return dst, fmt.Errorf("unable to suppress noise in the padded remainder (total frame #%d): %w", p.Stats.FramesProcessed, err)
		}
		return dst[:start+len(remainder)], nil
	default:
		return dst, fmt.Errorf("unknown remainder policy: %v", policy)
	}
}
