// Package planar converts between interleaved sample layout
// (L R L R ...) and planar layout (L L ... R R ...).
package planar

import (
	"fmt"

	"github.com/xaionaro-go/denoisewav/pkg/audio"
)

// Planarize converts interleaved input into planar output.
func Planarize[T any](channels audio.Channel, output, input []T) error {
	samplesPerChan, err := checkLayout(channels, output, input)
	if err != nil {
		return err
	}

	for ch := 0; ch < int(channels); ch++ {
		plane := output[ch*samplesPerChan : (ch+1)*samplesPerChan]
		for samplePos := range plane {
			plane[samplePos] = input[samplePos*int(channels)+ch]
		}
	}

	return nil
}

func checkLayout[T any](channels audio.Channel, output, input []T) (int, error) {
	if channels == 0 {
		return 0, fmt.Errorf("the amount of channels must be positive")
	}
	if len(input)%int(channels) != 0 {
		return 0, fmt.Errorf("expected a message length that is a multiple of %d, but received %d", channels, len(input))
	}
	if len(input) != len(output) {
		return 0, fmt.Errorf("the lengths of input and output are not equal: %d != %d", len(input), len(output))
	}
	return len(input) / int(channels), nil
}
