package dpu

import "fmt"

// Rounds returns the epochs at which selection runs: i·⌊epochs/r⌋+1 for
// i in [0,r).
func Rounds(epochs, r int) ([]int, error) {
	if r < 1 || epochs < 1 {
		return nil, fmt.Errorf("dpu: need epochs >= 1 and rounds >= 1, got %d and %d", epochs, r)
	}
	if r > epochs {
		return nil, fmt.Errorf("dpu: %d rounds exceed %d epochs", r, epochs)
	}
	step := epochs / r
	out := make([]int, r)
	for i := range out {
		out[i] = i*step + 1
	}
	return out, nil
}

// Schedule answers whether an epoch is a selection epoch.
type Schedule map[int]bool

func NewSchedule(epochs, r int) (Schedule, error) {
	rounds, err := Rounds(epochs, r)
	if err != nil {
		return nil, err
	}
	s := make(Schedule, len(rounds))
	for _, e := range rounds {
		s[e] = true
	}
	return s, nil
}

func (s Schedule) Contains(epoch int) bool { return s[epoch] }
