package audio

import (
	"time"

	"github.com/xaionaro-go/denoisewav/pkg/audio/types"
)

type SampleRate = types.SampleRate
type Channel = types.Channel
type PCMFormat = types.PCMFormat

const (
	PCMFormatUndefined = types.PCMFormatUndefined
	PCMFormatU8        = types.PCMFormatU8
	PCMFormatS16LE     = types.PCMFormatS16LE
	PCMFormatS16BE     = types.PCMFormatS16BE
	PCMFormatS24LE     = types.PCMFormatS24LE
	PCMFormatS24BE     = types.PCMFormatS24BE
	PCMFormatS32LE     = types.PCMFormatS32LE
	PCMFormatS32BE     = types.PCMFormatS32BE
	PCMFormatS64LE     = types.PCMFormatS64LE
	PCMFormatS64BE     = types.PCMFormatS64BE
	PCMFormatFloat32LE = types.PCMFormatFloat32LE
	PCMFormatFloat32BE = types.PCMFormatFloat32BE
	PCMFormatFloat64LE = types.PCMFormatFloat64LE
	PCMFormatFloat64BE = types.PCMFormatFloat64BE
)

type Encoding interface {
	BytesPerSample() uint
	BytesForDuration(time.Duration) uint64
}

// EncodingPCM describes raw PCM. A zero SampleRate means the consumer
// accepts any sample rate.
type EncodingPCM struct {
	PCMFormat  PCMFormat
	SampleRate SampleRate
}

var _ Encoding = EncodingPCM{}

func (e EncodingPCM) BytesPerSample() uint {
	return e.PCMFormat.Size()
}

// BytesForDuration returns the amount of bytes of one channel.
func (e EncodingPCM) BytesForDuration(d time.Duration) uint64 {
	samples := uint64(e.SampleRate) * uint64(d) / uint64(time.Second)
	return samples * uint64(e.BytesPerSample())
}
