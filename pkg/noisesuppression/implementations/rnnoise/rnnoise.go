//go:build rnnoise
// +build rnnoise

package rnnoise

import (
	"context"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/denoisewav/pkg/audio"
	"github.com/xaionaro-go/denoisewav/pkg/audio/planar"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression"
	"github.com/xaionaro-go/observability"
)

/*
#cgo pkg-config: rnnoise
#include <stdlib.h>
#include <rnnoise.h>
*/
import "C"

type RNNoise struct {
	Locker        sync.Mutex
	Model         *C.RNNModel
	DenoiseStates []*C.DenoiseState
	ChannelCount  audio.Channel
	Buffer        []float32
}

var _ noisesuppression.NoiseSuppression = (*RNNoise)(nil)

var frameSize int

func init() {
	frameSize = int(C.rnnoise_get_frame_size())
}

// New creates one denoise state per channel. If modelPath is empty, the
// model built into the library is used.
func New(
	channels audio.Channel,
	modelPath string,
) (*RNNoise, error) {
	if channels == 0 {
		return nil, fmt.Errorf("the amount of channels must be positive")
	}

	var model *C.RNNModel
	if modelPath != "" {
		cPath := C.CString(modelPath)
		defer C.free(unsafe.Pointer(cPath))
		model = C.rnnoise_model_from_filename(cPath)
		if model == nil {
			return nil, fmt.Errorf("unable to load the RNNoise model from '%s'", modelPath)
		}
	}

	var denoiseStates []*C.DenoiseState
	for ch := 0; ch < int(channels); ch++ {
		denoiseStates = append(denoiseStates, C.rnnoise_create(model))
	}
	return &RNNoise{
		Model:         model,
		DenoiseStates: denoiseStates,
		ChannelCount:  channels,
	}, nil
}

func (s *RNNoise) Close() error {
	s.Locker.Lock()
	defer s.Locker.Unlock()
	if s.DenoiseStates == nil {
		return fmt.Errorf("double-free attempt")
	}
	for _, denoiseState := range s.DenoiseStates {
		C.rnnoise_destroy(denoiseState)
	}
	s.DenoiseStates = nil
	if s.Model != nil {
		C.rnnoise_model_free(s.Model)
		s.Model = nil
	}
	return nil
}

func (s *RNNoise) Encoding(ctx context.Context) (audio.Encoding, error) {
	pcmFormat, err := audio.NativeFloat32Format()
	if err != nil {
		return nil, err
	}
	return audio.EncodingPCM{
		PCMFormat:  pcmFormat,
		SampleRate: SampleRate,
	}, nil
}

func (s *RNNoise) Channels(ctx context.Context) (audio.Channel, error) {
	return s.ChannelCount, nil
}

func (s *RNNoise) FrameLength() uint {
	return uint(s.ChannelCount) * uint(frameSize)
}

func (s *RNNoise) SuppressNoise(ctx context.Context, input []float32, outputVoice []float32) (_ret float64, _err error) {
	logger.Tracef(ctx, "SuppressNoise, len:%d", len(input))
	defer func() { logger.Tracef(ctx, "/SuppressNoise, len:%d: %v", len(input), _err) }()

	frameLength := int(s.FrameLength())
	if len(input) != len(outputVoice) {
		return 0, fmt.Errorf("lengths of input and output slices are not equal: %d != %d", len(input), len(outputVoice))
	}
	if len(input) < frameLength {
		return 0, fmt.Errorf("the size of the input is too small: %d < %d", len(input), frameLength)
	}
	if len(input)%frameLength != 0 {
		return 0, fmt.Errorf("the size of the input is not a multiple of the frame length: %d %% %d != 0", len(input), frameLength)
	}

	s.Locker.Lock()
	defer s.Locker.Unlock()
	if s.DenoiseStates == nil {
		return 0, fmt.Errorf("the noise suppression is already closed")
	}
	if cap(s.Buffer) < len(input) {
		s.Buffer = make([]float32, len(input))
	}
	buffer := s.Buffer[:len(input)]

	if s.ChannelCount == 1 {
		gain(buffer, input)
		v := noiseSuppressOneChannel(ctx, s.DenoiseStates[0], buffer, outputVoice)
		ungain(outputVoice)
		return v, nil
	}

	return noiseSuppressMultipleChannels(ctx, s.DenoiseStates, input, outputVoice, buffer)
}

func noiseSuppressOneChannel(
	ctx context.Context,
	denoiseState *C.DenoiseState,
	input []float32,
	outputVoice []float32,
) float64 {
	logger.Tracef(ctx, "noiseSuppressOneChannel, len:%d", len(input))
	var maxVADProb float64
	for len(input) > 0 {
		vadProb := C.rnnoise_process_frame(
			denoiseState,
			(*C.float)(unsafe.Pointer(unsafe.SliceData(outputVoice[:frameSize]))),
			(*C.float)(unsafe.Pointer(unsafe.SliceData(input[:frameSize]))),
		)
		if float64(vadProb) > maxVADProb {
			maxVADProb = float64(vadProb)
		}
		input = input[frameSize:]
		outputVoice = outputVoice[frameSize:]
	}
	return maxVADProb
}

func noiseSuppressMultipleChannels(
	ctx context.Context,
	denoiseStates []*C.DenoiseState,
	input []float32,
	outputVoice []float32,
	buffer []float32,
) (float64, error) {
	channels := audio.Channel(len(denoiseStates))
	if err := planar.Planarize(channels, buffer, input); err != nil {
		return 0, fmt.Errorf("unable to planarize: %w", err)
	}
	gain(buffer, buffer)

	oneChanSize := len(buffer) / int(channels)

	var locker sync.Mutex
	var maxVADProb float64
	var wg sync.WaitGroup
	for ch := 0; ch < int(channels); ch++ {
		denoiseState := denoiseStates[ch]
		data := buffer[ch*oneChanSize : (ch+1)*oneChanSize]
		wg.Add(1)
		observability.Go(ctx, func(ctx context.Context) {
			defer wg.Done()
			vadProb := noiseSuppressOneChannel(ctx, denoiseState, data, data)
			locker.Lock()
			defer locker.Unlock()
			if vadProb > maxVADProb {
				maxVADProb = vadProb
			}
		})
	}
	wg.Wait()

	ungain(buffer)
	if err := planar.Unplanarize(channels, outputVoice, buffer); err != nil {
		return 0, fmt.Errorf("unable to unplanarize: %w", err)
	}
	return maxVADProb, nil
}

// RNNoise expects samples in the int16 range.
func gain(dst, src []float32) {
	for idx := range src {
		dst[idx] = src[idx] * math.MaxInt16
	}
}

func ungain(buf []float32) {
	for idx := range buf {
		buf[idx] /= math.MaxInt16
	}
}
