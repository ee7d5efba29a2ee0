package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeSample converts one sample of format f at the beginning of p
// into a float in [-1, 1] (integer formats) or as-is (float formats).
func DecodeSample(f PCMFormat, p []byte) float64 {
	switch f {
	case PCMFormatU8:
		return (float64(p[0]) - 128) / 128
	case PCMFormatS16LE:
		return float64(int16(binary.LittleEndian.Uint16(p))) / 32768
	case PCMFormatS16BE:
		return float64(int16(binary.BigEndian.Uint16(p))) / 32768
	case PCMFormatS24LE:
		return float64(signExtend24(uint32(p[0])|uint32(p[1])<<8|uint32(p[2])<<16)) / 8388608
	case PCMFormatS24BE:
		return float64(signExtend24(uint32(p[2])|uint32(p[1])<<8|uint32(p[0])<<16)) / 8388608
	case PCMFormatS32LE:
		return float64(int32(binary.LittleEndian.Uint32(p))) / 2147483648
	case PCMFormatS32BE:
		return float64(int32(binary.BigEndian.Uint32(p))) / 2147483648
	case PCMFormatS64LE:
		return float64(int64(binary.LittleEndian.Uint64(p))) / 9223372036854775808
	case PCMFormatS64BE:
		return float64(int64(binary.BigEndian.Uint64(p))) / 9223372036854775808
	case PCMFormatFloat32LE:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(p)))
	case PCMFormatFloat32BE:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(p)))
	case PCMFormatFloat64LE:
		return math.Float64frombits(binary.LittleEndian.Uint64(p))
	case PCMFormatFloat64BE:
		return math.Float64frombits(binary.BigEndian.Uint64(p))
	default:
		panic(fmt.Sprintf("unknown format: %v", f))
	}
}

func signExtend24(v uint32) int32 {
	val := int32(v)
	if val&0x800000 != 0 {
		val |= -16777216
	}
	return val
}

// EncodeSample is the reverse of DecodeSample. Integer formats are clamped
// to their range instead of wrapping around.
func EncodeSample(f PCMFormat, p []byte, v float64) {
	switch f {
	case PCMFormatU8:
		p[0] = byte(clamp(math.Round(v*128+128), 0, math.MaxUint8))
	case PCMFormatS16LE:
		binary.LittleEndian.PutUint16(p, uint16(int16(clamp(math.Round(v*32768), math.MinInt16, math.MaxInt16))))
	case PCMFormatS16BE:
		binary.BigEndian.PutUint16(p, uint16(int16(clamp(math.Round(v*32768), math.MinInt16, math.MaxInt16))))
	case PCMFormatS24LE:
		val := int32(clamp(math.Round(v*8388608), -8388608, 8388607))
		p[0] = byte(val)
		p[1] = byte(val >> 8)
		p[2] = byte(val >> 16)
	case PCMFormatS24BE:
		val := int32(clamp(math.Round(v*8388608), -8388608, 8388607))
		p[0] = byte(val >> 16)
		p[1] = byte(val >> 8)
		p[2] = byte(val)
	case PCMFormatS32LE:
		binary.LittleEndian.PutUint32(p, uint32(int32(clamp(math.Round(v*2147483648), math.MinInt32, math.MaxInt32))))
	case PCMFormatS32BE:
		binary.BigEndian.PutUint32(p, uint32(int32(clamp(math.Round(v*2147483648), math.MinInt32, math.MaxInt32))))
	case PCMFormatS64LE:
		binary.LittleEndian.PutUint64(p, uint64(clampInt64(v)))
	case PCMFormatS64BE:
		binary.BigEndian.PutUint64(p, uint64(clampInt64(v)))
	case PCMFormatFloat32LE:
		binary.LittleEndian.PutUint32(p, math.Float32bits(float32(v)))
	case PCMFormatFloat32BE:
		binary.BigEndian.PutUint32(p, math.Float32bits(float32(v)))
	case PCMFormatFloat64LE:
		binary.LittleEndian.PutUint64(p, math.Float64bits(v))
	case PCMFormatFloat64BE:
		binary.BigEndian.PutUint64(p, math.Float64bits(v))
	default:
		panic(fmt.Sprintf("unknown format: %v", f))
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt64(v float64) int64 {
	switch {
	case v >= 1:
		return math.MaxInt64
	case v <= -1:
		return math.MinInt64
	}
	return int64(math.Round(v * 9223372036854775808))
}

// DecodeSamples decodes a buffer of samples of format f into float32 values.
func DecodeSamples(f PCMFormat, raw []byte) ([]float32, error) {
	sampleSize := int(f.Size())
	if sampleSize == 0 {
		return nil, fmt.Errorf("unsupported PCM format: %v", f)
	}
	if len(raw)%sampleSize != 0 {
		return nil, fmt.Errorf("the size of the input is not a multiple of the sample size %d: %d", sampleSize, len(raw))
	}
	result := make([]float32, len(raw)/sampleSize)
	for idx := range result {
		result[idx] = float32(DecodeSample(f, raw[idx*sampleSize:]))
	}
	return result, nil
}

// EncodeSamples encodes float32 samples into format f.
func EncodeSamples(f PCMFormat, samples []float32) ([]byte, error) {
	sampleSize := int(f.Size())
	if sampleSize == 0 {
		return nil, fmt.Errorf("unsupported PCM format: %v", f)
	}
	result := make([]byte, len(samples)*sampleSize)
	for idx, v := range samples {
		EncodeSample(f, result[idx*sampleSize:], float64(v))
	}
	return result, nil
}
