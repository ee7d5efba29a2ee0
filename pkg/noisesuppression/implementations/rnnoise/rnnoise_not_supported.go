//go:build !rnnoise
// +build !rnnoise

package rnnoise

import (
	"fmt"

	"github.com/xaionaro-go/denoisewav/pkg/audio"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression/implementations/passthrough"
)

type RNNoise = passthrough.Passthrough

func New(
	channels audio.Channel,
	modelPath string,
) (*RNNoise, error) {
	return nil, fmt.Errorf("built without tag 'rnnoise'")
}
