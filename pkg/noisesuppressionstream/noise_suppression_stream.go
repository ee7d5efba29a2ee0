// Package noisesuppressionstream denoises a live stream of interleaved
// Float32LE samples: it is an io.Reader of the processed samples of
// another io.Reader.
package noisesuppressionstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/iamcalledrob/circular"
	"github.com/xaionaro-go/denoisewav/pkg/audio"
	"github.com/xaionaro-go/denoisewav/pkg/frameaccumulator"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression"
	"github.com/xaionaro-go/observability"
)

const (
	DefaultBufferSize    = 1 << 20
	DefaultReadChunkSize = 65536

	// PCMFormat is the format of both the input and the output stream.
	PCMFormat = audio.PCMFormatFloat32LE
)

type Config struct {
	// SampleRate is the sample rate of the input. Zero means the rate
	// required by the engine.
	SampleRate audio.SampleRate

	FrameDuration    time.Duration
	RemainderPolicy  noisesuppression.RemainderPolicy
	VoiceThreshold   float64
	InputBufferSize  uint
	OutputBufferSize uint
	ReadChunkSize    uint
}

func DefaultConfig() Config {
	return Config{
		FrameDuration:    frameaccumulator.DefaultFrameDuration,
		RemainderPolicy:  noisesuppression.RemainderPolicyDiscard,
		VoiceThreshold:   noisesuppression.DefaultVoiceThreshold,
		InputBufferSize:  DefaultBufferSize,
		OutputBufferSize: DefaultBufferSize,
		ReadChunkSize:    DefaultReadChunkSize,
	}
}

type NoiseSuppressionStream struct {
	NoiseSuppression noisesuppression.NoiseSuppression
	Config           Config

	sampleRate audio.SampleRate
	channels   audio.Channel

	// both are used only by noiseSuppressionLoop
	frameAccumulator *frameaccumulator.FrameAccumulator
	processor        *noisesuppression.Processor

	inputBufferLocker sync.Mutex
	inputBuffer       *circular.Buffer
	inputClosed       bool

	outputBufferLocker   sync.Mutex
	outputBuffer         *circular.Buffer
	outputClosed         bool
	resultError          error
	stats                noisesuppression.Stats
	remainderSampleCount int

	readCtx    context.Context
	cancelFunc context.CancelFunc

	readProgressedCh                   chan struct{}
	noiseSuppressionInputProgressedCh  chan struct{}
	noiseSuppressionOutputProgressedCh chan struct{}
	outputProgressedCh                 chan struct{}
}

var _ io.ReadCloser = (*NoiseSuppressionStream)(nil)

// NewNoiseSuppressionStream starts denoising the input in the background.
// The engine is not closed by the stream.
func NewNoiseSuppressionStream(
	ctx context.Context,
	input io.Reader,
	noiseSuppression noisesuppression.NoiseSuppression,
	cfg Config,
) (*NoiseSuppressionStream, error) {
	fixedSampleRate, err := noisesuppression.FixedSampleRate(ctx, noiseSuppression)
	if err != nil {
		return nil, fmt.Errorf("unable to get the encoding of the noise suppression: %w", err)
	}
	channels, err := noiseSuppression.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to get the amount of channels of the noise suppression: %w", err)
	}

	sampleRate := cfg.SampleRate
	switch {
	case sampleRate == 0 && fixedSampleRate == 0:
		return nil, fmt.Errorf("the sample rate is not set and the noise suppression accepts any")
	case sampleRate == 0:
		sampleRate = fixedSampleRate
	case fixedSampleRate != 0 && fixedSampleRate != sampleRate:
		return nil, fmt.Errorf("the noise suppression requires %d Hz, but the input is %d Hz", fixedSampleRate, sampleRate)
	}

	if cfg.FrameDuration == 0 {
		cfg.FrameDuration = frameaccumulator.DefaultFrameDuration
	}
	frameAccumulator, err := frameaccumulator.New(sampleRate, channels, cfg.FrameDuration)
	if err != nil {
		return nil, err
	}
	if engineFrameLength := int(noiseSuppression.FrameLength()); engineFrameLength != 0 && frameAccumulator.FrameLength()%engineFrameLength != 0 {
		return nil, fmt.Errorf("the frame length %d is not a multiple of the engine frame length %d", frameAccumulator.FrameLength(), engineFrameLength)
	}

	defaults := DefaultConfig()
	if cfg.InputBufferSize == 0 {
		cfg.InputBufferSize = defaults.InputBufferSize
	}
	if cfg.OutputBufferSize == 0 {
		cfg.OutputBufferSize = defaults.OutputBufferSize
	}
	if cfg.ReadChunkSize == 0 {
		cfg.ReadChunkSize = defaults.ReadChunkSize
	}
	if cfg.ReadChunkSize > cfg.InputBufferSize {
		cfg.ReadChunkSize = cfg.InputBufferSize
	}
	blockSize := PCMFormat.Size() * uint(channels)
	if cfg.ReadChunkSize < blockSize {
		return nil, fmt.Errorf("the read chunk size %d is smaller than one block of samples (%d)", cfg.ReadChunkSize, blockSize)
	}

	ctx, cancelFunc := context.WithCancel(ctx)
	s := &NoiseSuppressionStream{
		NoiseSuppression: noiseSuppression,
		Config:           cfg,
		sampleRate:       sampleRate,
		channels:         channels,
		frameAccumulator: frameAccumulator,
		processor:        noisesuppression.NewProcessor(noiseSuppression, cfg.FrameDuration, cfg.VoiceThreshold),
		inputBuffer:      circular.NewBuffer(int(cfg.InputBufferSize)),
		outputBuffer:     circular.NewBuffer(int(cfg.OutputBufferSize)),
		readCtx:          ctx,
		cancelFunc:       cancelFunc,

		readProgressedCh:                   make(chan struct{}),
		noiseSuppressionInputProgressedCh:  make(chan struct{}),
		noiseSuppressionOutputProgressedCh: make(chan struct{}),
		outputProgressedCh:                 make(chan struct{}),
	}
	observability.Go(ctx, func(ctx context.Context) {
		err := s.readerLoop(ctx, input)
		if err != nil {
			s.setError(fmt.Errorf("got an error from the reader loop: %w", err))
			cancelFunc()
		}
	})
	observability.Go(ctx, func(ctx context.Context) {
		err := s.noiseSuppressionLoop(ctx)
		if err != nil {
			s.setError(fmt.Errorf("got an error from the noise suppressor loop: %w", err))
			cancelFunc()
		}
	})
	return s, nil
}

func (s *NoiseSuppressionStream) SampleRate() audio.SampleRate {
	return s.sampleRate
}

func (s *NoiseSuppressionStream) Channels() audio.Channel {
	return s.channels
}

func (s *NoiseSuppressionStream) setError(err error) {
	s.outputBufferLocker.Lock()
	defer s.outputBufferLocker.Unlock()
	if s.resultError == nil {
		s.resultError = err
	}
	closeAndReplace(&s.noiseSuppressionOutputProgressedCh)
}

// maxWriteSize is the largest write that is guaranteed to eventually fit
// into a circular buffer of the given size.
func maxWriteSize(bufferSize uint) int {
	return max(int(bufferSize)/2, 1)
}

func closeAndReplace(ch *chan struct{}) {
	oldCh := *ch
	*ch = make(chan struct{})
	close(oldCh)
}

func (s *NoiseSuppressionStream) readerLoop(
	ctx context.Context,
	input io.Reader,
) (_err error) {
	logger.Tracef(ctx, "readerLoop")
	defer func() { logger.Tracef(ctx, "/readerLoop %v", _err) }()

	blockSize := int(PCMFormat.Size()) * int(s.channels)
	readBuf := make([]byte, s.Config.ReadChunkSize)
	carry := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		logger.Tracef(ctx, "readerLoop: Read()")
		n, err := input.Read(readBuf[carry:])
		logger.Tracef(ctx, "/readerLoop: Read(): %v %v", n, err)
		if n < 0 {
			return fmt.Errorf("received invalid value of received bytes: %d", n)
		}
		isEOF := errors.Is(err, io.EOF)
		if err != nil && !isEOF {
			return fmt.Errorf("unable to read the input: %w", err)
		}

		total := carry + n
		aligned := total - total%blockSize
		if aligned > 0 {
			if err := s.writeInput(ctx, readBuf[:aligned]); err != nil {
				return err
			}
		}
		carry = copy(readBuf, readBuf[aligned:total])

		if isEOF {
			if carry != 0 {
				return fmt.Errorf("the input ended with a partial block of %d bytes (block size is %d)", carry, blockSize)
			}
			s.inputBufferLocker.Lock()
			defer s.inputBufferLocker.Unlock()
			s.inputClosed = true
			closeAndReplace(&s.readProgressedCh)
			return nil
		}
	}
}

func (s *NoiseSuppressionStream) writeInput(ctx context.Context, data []byte) error {
	s.inputBufferLocker.Lock()
	defer s.inputBufferLocker.Unlock()
	for len(data) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		w, err := s.inputBuffer.Write(data[:min(len(data), maxWriteSize(s.Config.InputBufferSize))])
		data = data[w:]
		if err != nil {
			if errors.Is(err, circular.ErrNoSpace) {
				s.waitForNoiseSuppressionInputProgressed(ctx)
				continue
			}
			return fmt.Errorf("unable to write to the circular buffer: %w", err)
		}
	}
	logger.Tracef(ctx, "closing readProgressedCh")
	closeAndReplace(&s.readProgressedCh)
	return nil
}

func (s *NoiseSuppressionStream) waitForNoiseSuppressionInputProgressed(ctx context.Context) {
	logger.Tracef(ctx, "waitForNoiseSuppressionInputProgressed")
	defer logger.Tracef(ctx, "/waitForNoiseSuppressionInputProgressed")

	ch := s.noiseSuppressionInputProgressedCh
	s.inputBufferLocker.Unlock()
	defer s.inputBufferLocker.Lock()
	select {
	case <-ctx.Done():
	case <-ch:
		logger.Tracef(ctx, "waitForNoiseSuppressionInputProgressed: received an event")
	}
}

// readInput reads whatever is buffered into buf. It blocks until at least
// one byte is available or the input is closed; in the latter case it
// returns io.EOF.
func (s *NoiseSuppressionStream) readInput(ctx context.Context, buf []byte) (int, error) {
	for {
		var waitCh chan struct{}
		n, err := func() (int, error) {
			s.inputBufferLocker.Lock()
			defer s.inputBufferLocker.Unlock()
			n, err := s.inputBuffer.Read(buf)
			if err != nil && !errors.Is(err, io.EOF) {
				return 0, fmt.Errorf("unable to read from the circular buffer: %w", err)
			}
			if n < 0 {
				return 0, fmt.Errorf("received a negative count: %d", n)
			}
			if n > 0 {
				logger.Tracef(ctx, "closing noiseSuppressionInputProgressedCh")
				closeAndReplace(&s.noiseSuppressionInputProgressedCh)
				return n, nil
			}
			if s.inputClosed {
				return 0, io.EOF
			}
			waitCh = s.readProgressedCh
			return 0, nil
		}()
		if n > 0 || err != nil {
			return n, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-waitCh:
			logger.Tracef(ctx, "noiseSuppressionLoop: received a read event")
		}
	}
}

func (s *NoiseSuppressionStream) noiseSuppressionLoop(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "noiseSuppressionLoop")
	defer func() { logger.Tracef(ctx, "/noiseSuppressionLoop: %v", _err) }()

	logger.Debugf(ctx, "frame length: %d samples", s.frameAccumulator.FrameLength())

	blockSize := int(PCMFormat.Size()) * int(s.channels)
	inputBuf := make([]byte, blockSize+int(s.Config.InputBufferSize))
	var outputSamples []float32
	carry := 0
	for {
		n, err := s.readInput(ctx, inputBuf[carry:])
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		total := carry + n
		aligned := total - total%blockSize
		samples, err := audio.DecodeSamples(PCMFormat, inputBuf[:aligned])
		if err != nil {
			return fmt.Errorf("unable to decode the input: %w", err)
		}
		carry = copy(inputBuf, inputBuf[aligned:total])

		if err := s.frameAccumulator.Store(samples); err != nil {
			return fmt.Errorf("unable to store %d samples: %w", len(samples), err)
		}
		frames := s.frameAccumulator.Drain()
		if len(frames) == 0 {
			continue
		}

		logger.Tracef(ctx, "s.processor.ProcessFrames(%d frames)", len(frames))
		outputSamples, err = s.processor.ProcessFrames(ctx, outputSamples[:0], frames...)
		logger.Tracef(ctx, "/s.processor.ProcessFrames(%d frames): %v", len(frames), err)
		if err != nil {
			return fmt.Errorf("unable to noise-suppress: %w", err)
		}
		if err := s.writeOutput(ctx, outputSamples); err != nil {
			return err
		}
	}
	if carry != 0 {
		return fmt.Errorf("internal error: %d unaligned bytes left after the end of the input", carry)
	}

	remainder := s.frameAccumulator.FlushRemainder()
	logger.Debugf(ctx, "end of input, the remainder is %d samples, the policy is '%s'", len(remainder), s.Config.RemainderPolicy)
	outputSamples, err := s.processor.ProcessRemainder(ctx, outputSamples[:0], remainder, s.frameAccumulator.FrameLength(), s.Config.RemainderPolicy)
	if err != nil {
		return fmt.Errorf("unable to process the remainder: %w", err)
	}
	if err := s.writeOutput(ctx, outputSamples); err != nil {
		return err
	}

	s.outputBufferLocker.Lock()
	defer s.outputBufferLocker.Unlock()
	s.outputClosed = true
	s.stats = s.processor.Stats
	s.remainderSampleCount = len(remainder)
	closeAndReplace(&s.noiseSuppressionOutputProgressedCh)
	return nil
}

func (s *NoiseSuppressionStream) writeOutput(ctx context.Context, samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	data, err := audio.EncodeSamples(PCMFormat, samples)
	if err != nil {
		return fmt.Errorf("unable to encode the output: %w", err)
	}

	logger.Tracef(ctx, "s.outputBufferLocker.Lock()")
	s.outputBufferLocker.Lock()
	defer s.outputBufferLocker.Unlock()
	logger.Tracef(ctx, "/s.outputBufferLocker.Lock()")

	for len(data) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		w, err := s.outputBuffer.Write(data[:min(len(data), maxWriteSize(s.Config.OutputBufferSize))])
		data = data[w:]
		if w > 0 {
			logger.Tracef(ctx, "closing noiseSuppressionOutputProgressedCh")
			closeAndReplace(&s.noiseSuppressionOutputProgressedCh)
		}
		if err != nil {
			if errors.Is(err, circular.ErrNoSpace) {
				s.waitForOutput(ctx)
				continue
			}
			return fmt.Errorf("unable to write to the circular buffer: %w", err)
		}
	}
	return nil
}

func (s *NoiseSuppressionStream) waitForOutput(ctx context.Context) {
	logger.Tracef(ctx, "waitForOutput")
	defer logger.Tracef(ctx, "/waitForOutput")

	ch := s.outputProgressedCh
	s.outputBufferLocker.Unlock()
	defer s.outputBufferLocker.Lock()
	select {
	case <-ctx.Done():
	case <-ch:
		logger.Tracef(ctx, "waitForOutput: received an event")
	}
}

// Read returns the denoised samples, Float32LE interleaved. After the
// input reached EOF and everything is read, it returns io.EOF.
func (s *NoiseSuppressionStream) Read(pcm []byte) (_ret int, _err error) {
	logger.Tracef(s.readCtx, "Read, len:%d", len(pcm))
	defer func() { logger.Tracef(s.readCtx, "/Read, len:%d: %d, %v", len(pcm), _ret, _err) }()

	if len(pcm) == 0 {
		return 0, nil
	}

	s.outputBufferLocker.Lock()
	defer s.outputBufferLocker.Unlock()
	for {
		if s.resultError != nil {
			return 0, s.resultError
		}

		logger.Tracef(s.readCtx, "Read: s.outputBuffer.Read()")
		n, err := s.outputBuffer.Read(pcm)
		logger.Tracef(s.readCtx, "/Read: s.outputBuffer.Read(): %v %v", n, err)
		if n > 0 {
			closeAndReplace(&s.outputProgressedCh)
			return n, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if s.outputClosed {
			return 0, io.EOF
		}
		if err := s.readCtx.Err(); err != nil {
			return 0, err
		}
		s.waitForNoiseSuppressionOutputProgressed(s.readCtx)
	}
}

func (s *NoiseSuppressionStream) waitForNoiseSuppressionOutputProgressed(ctx context.Context) {
	logger.Tracef(ctx, "waitForNoiseSuppressionOutputProgressed")
	defer logger.Tracef(ctx, "/waitForNoiseSuppressionOutputProgressed")

	ch := s.noiseSuppressionOutputProgressedCh
	s.outputBufferLocker.Unlock()
	defer s.outputBufferLocker.Lock()
	select {
	case <-ctx.Done():
	case <-ch:
		logger.Tracef(ctx, "waitForNoiseSuppressionOutputProgressed: received an event")
	}
}

// Stats returns the statistics of the engine; it is complete only after
// Read returned io.EOF.
func (s *NoiseSuppressionStream) Stats() noisesuppression.Stats {
	s.outputBufferLocker.Lock()
	defer s.outputBufferLocker.Unlock()
	return s.stats
}

// RemainderSampleCount returns the amount of interleaved samples left
// at the end of the input that did not form a whole frame; it is valid only
// after Read returned io.EOF.
func (s *NoiseSuppressionStream) RemainderSampleCount() int {
	s.outputBufferLocker.Lock()
	defer s.outputBufferLocker.Unlock()
	return s.remainderSampleCount
}

// Close stops the background goroutines. It does not close the engine.
func (s *NoiseSuppressionStream) Close() error {
	s.cancelFunc()
	return nil
}
