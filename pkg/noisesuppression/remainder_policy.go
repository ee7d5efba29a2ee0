package noisesuppression

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RemainderPolicy defines what happens to the samples that are left
// at the end of a stream and do not form a complete frame.
type RemainderPolicy int

const (
	// RemainderPolicyDiscard drops the remainder; it is only reported.
	RemainderPolicyDiscard = RemainderPolicy(iota)

	// RemainderPolicyPad zero-pads the remainder to a frame, processes it
	// and emits only as many samples as the remainder had.
	RemainderPolicyPad

	endOfRemainderPolicy
)

func (p RemainderPolicy) String() string {
	switch p {
	case RemainderPolicyDiscard:
		return "discard"
	case RemainderPolicyPad:
		return "pad"
	default:
		return fmt.Sprintf("unknown_policy_%d", int(p))
	}
}

func (p RemainderPolicy) IsValid() bool {
	return p >= 0 && p < endOfRemainderPolicy
}

// Set implements pflag.Value.
func (p *RemainderPolicy) Set(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	for candidate := RemainderPolicy(0); candidate < endOfRemainderPolicy; candidate++ {
		if candidate.String() == s {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown remainder policy '%s'", s)
}

// Type implements pflag.Value.
func (p *RemainderPolicy) Type() string {
	return "remainder-policy"
}

func (p RemainderPolicy) MarshalYAML() (any, error) {
	return p.String(), nil
}

func (p *RemainderPolicy) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("unable to decode the remainder policy: %w", err)
	}
	return p.Set(s)
}
