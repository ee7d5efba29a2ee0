package resampler

import (
	"fmt"
	"io"
	"sync"

	"github.com/xaionaro-go/denoisewav/pkg/audio"
)

const (
	distanceStep = 10000
)

type Format struct {
	Channels   audio.Channel
	SampleRate audio.SampleRate
	PCMFormat  audio.PCMFormat
}

type precalculated struct {
	inSampleSize    uint
	outSampleSize   uint
	inNumAvg        uint
	outNumRepeat    uint
	outDistanceStep uint64
}

// Resampler converts a PCM stream between sample rates, sample formats and
// mono/multi-channel layouts. Equal channel counts above one are treated
// as a single stream of samples; use ResampleFloat32 for interleaved
// multi-channel data.
type Resampler struct {
	inReader    io.Reader
	inFormat    Format
	outFormat   Format
	inDistance  uint64
	outDistance uint64
	locker      sync.Mutex
	buffer      []byte
	precalculated
}

var _ io.Reader = (*Resampler)(nil)

func NewResampler(
	inFormat Format,
	inReader io.Reader,
	outFormat Format,
) (*Resampler, error) {
	r := &Resampler{
		inReader:  inReader,
		inFormat:  inFormat,
		outFormat: outFormat,
	}
	err := r.init()
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a resampler from %#+v to %#+v: %w", inFormat, outFormat, err)
	}
	return r, nil
}

func (r *Resampler) init() error {
	r.inSampleSize = r.inFormat.PCMFormat.Size()
	r.outSampleSize = r.outFormat.PCMFormat.Size()
	if r.inSampleSize == 0 || r.outSampleSize == 0 {
		return fmt.Errorf("unsupported PCM format: %v -> %v", r.inFormat.PCMFormat, r.outFormat.PCMFormat)
	}
	if r.inFormat.SampleRate == 0 || r.outFormat.SampleRate == 0 {
		return fmt.Errorf("sample rates must be positive: %d -> %d", r.inFormat.SampleRate, r.outFormat.SampleRate)
	}

	r.inNumAvg = 1
	r.outNumRepeat = 1
	if r.inFormat.Channels != r.outFormat.Channels {
		switch {
		case r.inFormat.Channels == 1:
			r.outNumRepeat = uint(r.outFormat.Channels)
		case r.outFormat.Channels == 1:
			r.inNumAvg = uint(r.inFormat.Channels)
		default:
			return fmt.Errorf("do not know how to convert %d channels to %d", r.inFormat.Channels, r.outFormat.Channels)
		}
	}

	sampleRateAdjust := float64(r.outFormat.SampleRate) / float64(r.inFormat.SampleRate)
	r.outDistanceStep = uint64(float64(distanceStep) / sampleRateAdjust)

	r.inDistance = 0
	r.outDistance = 0

	return nil
}

func (r *Resampler) Read(p []byte) (int, error) {
	r.locker.Lock()
	defer r.locker.Unlock()

	maxOutChunks := uint64(len(p)) / uint64(r.outSampleSize) / uint64(r.outNumRepeat)
	if maxOutChunks == 0 {
		return 0, nil
	}

	chunksToRead := uint64(float64(maxOutChunks) * float64(r.inFormat.SampleRate) / float64(r.outFormat.SampleRate))
	if chunksToRead == 0 {
		chunksToRead = 1
	}
	bytesToRead := chunksToRead * uint64(r.inSampleSize) * uint64(r.inNumAvg)
	if cap(r.buffer) < int(bytesToRead) {
		r.buffer = make([]byte, bytesToRead)
	} else {
		r.buffer = r.buffer[:bytesToRead]
	}
	n, err := r.inReader.Read(r.buffer)
	r.buffer = r.buffer[:n]

	if n > 0 && n%int(r.inSampleSize*r.inNumAvg) != 0 {
		return 0, fmt.Errorf("read a number of bytes (%d) that is not a multiple of %d", n, r.inSampleSize*r.inNumAvg)
	}
	chunksRead := uint64(n) / uint64(r.inSampleSize) / uint64(r.inNumAvg)

	dstChunkIdx := uint64(0)
	srcChunkIdx := uint64(0)
	for srcChunkIdx < chunksRead && dstChunkIdx < maxOutChunks {
		// skip input samples while we are behind the output position
		for r.inDistance < r.outDistance && srcChunkIdx < chunksRead {
			srcChunkIdx++
			r.inDistance += distanceStep
		}
		if srcChunkIdx >= chunksRead {
			break
		}

		idxSrc := srcChunkIdx * uint64(r.inSampleSize) * uint64(r.inNumAvg)
		var sum float64
		for channelIdx := uint64(0); channelIdx < uint64(r.inNumAvg); channelIdx++ {
			sum += audio.DecodeSample(r.inFormat.PCMFormat, r.buffer[idxSrc+channelIdx*uint64(r.inSampleSize):])
		}
		val := sum / float64(r.inNumAvg)

		for dstChunkIdx < maxOutChunks && r.outDistance <= r.inDistance {
			for repeatIdx := uint64(0); repeatIdx < uint64(r.outNumRepeat); repeatIdx++ {
				idxDst := (dstChunkIdx*uint64(r.outNumRepeat) + repeatIdx) * uint64(r.outSampleSize)
				audio.EncodeSample(r.outFormat.PCMFormat, p[idxDst:], val)
			}
			dstChunkIdx++
			r.outDistance += r.outDistanceStep
		}

		srcChunkIdx++
		r.inDistance += distanceStep
	}

	return int(dstChunkIdx * uint64(r.outSampleSize) * uint64(r.outNumRepeat)), err
}
