package planar

import (
	"github.com/xaionaro-go/denoisewav/pkg/audio"
)

// Unplanarize converts planar input into interleaved output.
func Unplanarize[T any](channels audio.Channel, output, input []T) error {
	samplesPerChan, err := checkLayout(channels, output, input)
	if err != nil {
		return err
	}

	for ch := 0; ch < int(channels); ch++ {
		plane := input[ch*samplesPerChan : (ch+1)*samplesPerChan]
		for samplePos, v := range plane {
			output[samplePos*int(channels)+ch] = v
		}
	}

	return nil
}
