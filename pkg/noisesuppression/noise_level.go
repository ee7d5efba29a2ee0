package noisesuppression

import (
	"fmt"
	"math"
)

// NoiseLevel classifies how loud the noise removed from a frame is.
type NoiseLevel int

const (
	NoiseLevelNone = NoiseLevel(iota)
	NoiseLevelLow
	NoiseLevelMedium
	NoiseLevelHigh
)

// The upper bounds (exclusive) of the removed noise energy per level, in dBFS.
const (
	NoiseLevelNoneMaxDB   = -60
	NoiseLevelLowMaxDB    = -45
	NoiseLevelMediumMaxDB = -30
)

func (l NoiseLevel) String() string {
	switch l {
	case NoiseLevelNone:
		return "none"
	case NoiseLevelLow:
		return "low"
	case NoiseLevelMedium:
		return "medium"
	case NoiseLevelHigh:
		return "high"
	default:
		return fmt.Sprintf("unknown_noise_level_%d", int(l))
	}
}

// NoiseEnergyDB returns the mean energy of input minus output in dBFS;
// it is -Inf if nothing was removed.
func NoiseEnergyDB(input, output []float32) float64 {
	n := min(len(input), len(output))
	if n == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for idx := 0; idx < n; idx++ {
		d := float64(input[idx]) - float64(output[idx])
		sum += d * d
	}
	return 10 * math.Log10(sum/float64(n))
}

// NoiseLevelOf classifies the noise the engine removed from input
// producing output.
func NoiseLevelOf(input, output []float32) NoiseLevel {
	db := NoiseEnergyDB(input, output)
	switch {
	case db < NoiseLevelNoneMaxDB:
		return NoiseLevelNone
	case db < NoiseLevelLowMaxDB:
		return NoiseLevelLow
	case db < NoiseLevelMediumMaxDB:
		return NoiseLevelMedium
	default:
		return NoiseLevelHigh
	}
}
