// Package wav reads RIFF/WAVE files into interleaved float32 samples and
// writes interleaved float32 samples as IEEE float WAVE files.
package wav

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/denoisewav/pkg/audio"
)

const (
	formatTagPCM        = 0x0001
	formatTagIEEEFloat  = 0x0003
	formatTagExtensible = 0xFFFE

	// chunk sizes equal to this value mean "until the end of the file"
	unknownChunkSize = 0xFFFFFFFF

	// the size of WAVE_FORMAT_EXTENSIBLE, the longest known fmt chunk
	maxFormatChunkSize = 40
)

// Audio is a whole decoded audio stream.
type Audio struct {
	// Samples are interleaved: len(Samples) is a multiple of Channels.
	Samples    []float32
	SampleRate audio.SampleRate
	Channels   audio.Channel

	// PCMFormat is the sample format the audio was stored in.
	PCMFormat audio.PCMFormat
}

// SampleCount returns the amount of samples per channel.
func (a *Audio) SampleCount() int {
	if a.Channels == 0 {
		return 0
	}
	return len(a.Samples) / int(a.Channels)
}

type formatChunk struct {
	FormatTag      uint16
	Channels       uint16
	SampleRate     uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	ValidBits      uint16
	ChannelMask    uint32
	SubFormatGUIDs [16]byte
}

func (f *formatChunk) pcmFormat() (audio.PCMFormat, error) {
	formatTag := f.FormatTag
	if formatTag == formatTagExtensible {
		formatTag = binary.LittleEndian.Uint16(f.SubFormatGUIDs[:2])
	}
	switch formatTag {
	case formatTagPCM:
		switch f.BitsPerSample {
		case 8:
			return audio.PCMFormatU8, nil
		case 16:
			return audio.PCMFormatS16LE, nil
		case 24:
			return audio.PCMFormatS24LE, nil
		case 32:
			return audio.PCMFormatS32LE, nil
		}
	case formatTagIEEEFloat:
		switch f.BitsPerSample {
		case 32:
			return audio.PCMFormatFloat32LE, nil
		case 64:
			return audio.PCMFormatFloat64LE, nil
		}
	default:
		return audio.PCMFormatUndefined, fmt.Errorf("unsupported format tag 0x%04X", formatTag)
	}
	return audio.PCMFormatUndefined, fmt.Errorf("unsupported bit depth %d for format tag 0x%04X", f.BitsPerSample, formatTag)
}

func (f *formatChunk) validate(ctx context.Context, pcmFormat audio.PCMFormat) error {
	if f.ValidBits > f.BitsPerSample {
		return fmt.Errorf("invalid WAV file: %d valid bits do not fit into a %d-bit sample", f.ValidBits, f.BitsPerSample)
	}
	if f.ValidBits != 0 && f.ValidBits < f.BitsPerSample {
		logger.Debugf(ctx, "only %d of %d bits per sample are significant", f.ValidBits, f.BitsPerSample)
	}
	if f.ChannelMask != 0 && bits.OnesCount32(f.ChannelMask) != int(f.Channels) {
		logger.Warnf(ctx, "the channel mask 0x%X describes %d speakers, but there are %d channels", f.ChannelMask, bits.OnesCount32(f.ChannelMask), f.Channels)
	}
	if expected := uint(pcmFormat.Size()) * uint(f.Channels); uint(f.BlockAlign) != expected {
		logger.Warnf(ctx, "the declared block align %d differs from %d implied by the format; using the latter", f.BlockAlign, expected)
	}
	return nil
}

// Decode reads a whole WAVE stream.
func Decode(ctx context.Context, r io.Reader) (_ret *Audio, _err error) {
	logger.Tracef(ctx, "Decode")
	defer func() { logger.Tracef(ctx, "/Decode: %v", _err) }()

	var riffHeader [12]byte
	if _, err := io.ReadFull(r, riffHeader[:]); err != nil {
		return nil, fmt.Errorf("unable to read the RIFF header: %w", err)
	}
	if string(riffHeader[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(riffHeader[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		format *formatChunk
		data   []byte
	)
	for data == nil {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("unable to read a chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])
		logger.Tracef(ctx, "chunk '%s' of size %d", chunkID, chunkSize)

		switch chunkID {
		case "fmt ":
			f, err := readFormatChunk(ctx, r, chunkSize)
			if err != nil {
				return nil, err
			}
			format = f
		case "data":
			if format == nil {
				return nil, fmt.Errorf("invalid WAV file: the data chunk precedes the fmt chunk")
			}
			d, err := readDataChunk(ctx, r, chunkSize)
			if err != nil {
				return nil, err
			}
			data = d
		default:
			if err := skipChunk(r, chunkSize); err != nil {
				return nil, fmt.Errorf("unable to skip chunk '%s': %w", chunkID, err)
			}
		}
	}
	if format == nil {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if data == nil {
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	pcmFormat, err := format.pcmFormat()
	if err != nil {
		return nil, err
	}
	if format.Channels == 0 {
		return nil, fmt.Errorf("invalid WAV file: zero channels")
	}
	if format.SampleRate == 0 {
		return nil, fmt.Errorf("invalid WAV file: zero sample rate")
	}

	if err := format.validate(ctx, pcmFormat); err != nil {
		return nil, err
	}

	blockAlign := int(pcmFormat.Size()) * int(format.Channels)
	if tail := len(data) % blockAlign; tail != 0 {
		logger.Warnf(ctx, "the data chunk size %d is not a multiple of the block size %d; ignoring the last %d bytes", len(data), blockAlign, tail)
		data = data[:len(data)-tail]
	}

	samples, err := audio.DecodeSamples(pcmFormat, data)
	if err != nil {
		return nil, fmt.Errorf("unable to decode the samples: %w", err)
	}

	return &Audio{
		Samples:    samples,
		SampleRate: audio.SampleRate(format.SampleRate),
		Channels:   audio.Channel(format.Channels),
		PCMFormat:  pcmFormat,
	}, nil
}

func readFormatChunk(ctx context.Context, r io.Reader, size uint32) (*formatChunk, error) {
	if size < 16 || size == unknownChunkSize {
		return nil, fmt.Errorf("invalid WAV file: unexpected fmt chunk size %d", size)
	}

	// only the first maxFormatChunkSize bytes carry known fields
	var buf [maxFormatChunkSize]byte
	raw := buf[:min(size, maxFormatChunkSize)]
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("unable to read the fmt chunk: %w", err)
	}
	if rest := int64(size) - int64(len(raw)) + int64(size%2); rest > 0 {
		logger.Debugf(ctx, "skipping %d trailing bytes of the fmt chunk", rest)
		if _, err := io.CopyN(io.Discard, r, rest); err != nil {
			return nil, fmt.Errorf("unable to skip the tail of the fmt chunk: %w", err)
		}
	}

	f := &formatChunk{
		FormatTag:     binary.LittleEndian.Uint16(raw[0:2]),
		Channels:      binary.LittleEndian.Uint16(raw[2:4]),
		SampleRate:    binary.LittleEndian.Uint32(raw[4:8]),
		BlockAlign:    binary.LittleEndian.Uint16(raw[12:14]),
		BitsPerSample: binary.LittleEndian.Uint16(raw[14:16]),
	}
	if f.FormatTag == formatTagExtensible {
		if size < maxFormatChunkSize {
			return nil, fmt.Errorf("invalid WAV file: the extensible fmt chunk is too short: %d", size)
		}
		f.ValidBits = binary.LittleEndian.Uint16(raw[18:20])
		f.ChannelMask = binary.LittleEndian.Uint32(raw[20:24])
		copy(f.SubFormatGUIDs[:], raw[24:40])
	}
	return f, nil
}

func readDataChunk(ctx context.Context, r io.Reader, size uint32) ([]byte, error) {
	if size == unknownChunkSize {
		logger.Debugf(ctx, "the data chunk size is unknown, reading until EOF")
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("unable to read the data chunk: %w", err)
		}
		return data, nil
	}

	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, int64(size))
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		logger.Warnf(ctx, "the data chunk is truncated: expected %d bytes, got %d", size, n)
	default:
		return nil, fmt.Errorf("unable to read the data chunk: %w", err)
	}
	return buf.Bytes(), nil
}

func skipChunk(r io.Reader, size uint32) error {
	_, err := io.CopyN(io.Discard, r, int64(size)+int64(size%2))
	return err
}

// dataChunkSize returns the size of a data chunk of sampleCount samples,
// making sure the RIFF size (the data plus overhead bytes) fits the
// 32-bit size fields.
func dataChunkSize(sampleCount int, sampleSize uint64, overhead uint64) (uint32, error) {
	size := uint64(sampleCount) * sampleSize
	if size+overhead > math.MaxUint32 {
		return 0, fmt.Errorf("%d samples (%d bytes) do not fit into a WAV file", sampleCount, size)
	}
	return uint32(size), nil
}

// Encode writes the audio as 32-bit IEEE float WAVE, regardless of
// a.PCMFormat.
func Encode(w io.Writer, a *Audio) error {
	if a.Channels == 0 {
		return fmt.Errorf("the amount of channels must be positive")
	}
	if a.SampleRate == 0 {
		return fmt.Errorf("the sample rate must be positive")
	}
	if len(a.Samples)%int(a.Channels) != 0 {
		return fmt.Errorf("the amount of samples %d is not a multiple of the amount of channels %d", len(a.Samples), a.Channels)
	}

	const (
		bitsPerSample = 32
		fmtChunkSize  = 18
		factChunkSize = 4
	)
	blockAlign := uint32(a.Channels) * bitsPerSample / 8
	dataSize, err := dataChunkSize(len(a.Samples), bitsPerSample/8, 4+(8+fmtChunkSize)+(8+factChunkSize)+8)
	if err != nil {
		return err
	}
	riffSize := 4 + (8 + fmtChunkSize) + (8 + factChunkSize) + (8 + dataSize)

	var header [12 + 8 + fmtChunkSize + 8 + factChunkSize + 8]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], riffSize)
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(header[20:22], formatTagIEEEFloat)
	binary.LittleEndian.PutUint16(header[22:24], uint16(a.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(a.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(a.SampleRate)*blockAlign)
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	binary.LittleEndian.PutUint16(header[36:38], 0)

	copy(header[38:42], "fact")
	binary.LittleEndian.PutUint32(header[42:46], factChunkSize)
	binary.LittleEndian.PutUint32(header[46:50], uint32(a.SampleCount()))

	copy(header[50:54], "data")
	binary.LittleEndian.PutUint32(header[54:58], dataSize)

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("unable to write the header: %w", err)
	}

	payload, err := audio.EncodeSamples(audio.PCMFormatFloat32LE, a.Samples)
	if err != nil {
		return fmt.Errorf("unable to encode the samples: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("unable to write the samples: %w", err)
	}
	return nil
}
