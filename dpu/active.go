// Package dpu implements dynamic parameter update: periodic re-selection of
// the trainable parameter subset from gradient magnitudes (or at random) and
// the optimizer rebuild that follows.
package dpu

import (
	"fmt"

	"curve_lib/nn"
)

// ActiveSet is the subset of parameters that receive updates. It is owned by
// the training loop; parameters themselves carry no trainability flag.
type ActiveSet struct {
	order   []*nn.Parameter
	members map[*nn.Parameter]bool
}

// NewActiveSet holds params in the given order. Duplicates are collapsed.
func NewActiveSet(params []*nn.Parameter) *ActiveSet {
	s := &ActiveSet{members: make(map[*nn.Parameter]bool, len(params))}
	for _, p := range params {
		if !s.members[p] {
			s.members[p] = true
			s.order = append(s.order, p)
		}
	}
	return s
}

// FromNames rebuilds an active set from parameter names, in model order.
func FromNames(all []*nn.Parameter, names []string) (*ActiveSet, error) {
	byName := make(map[string]*nn.Parameter, len(all))
	for _, p := range all {
		byName[p.Name] = p
	}
	want := make(map[*nn.Parameter]bool, len(names))
	for _, name := range names {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("active set names unknown parameter %q", name)
		}
		want[p] = true
	}
	var ordered []*nn.Parameter
	for _, p := range all {
		if want[p] {
			ordered = append(ordered, p)
		}
	}
	return NewActiveSet(ordered), nil
}

func (s *ActiveSet) Contains(p *nn.Parameter) bool { return s.members[p] }

func (s *ActiveSet) Len() int { return len(s.order) }

// Params returns the members in insertion order.
func (s *ActiveSet) Params() []*nn.Parameter {
	return append([]*nn.Parameter(nil), s.order...)
}

// Names returns member names in insertion order.
func (s *ActiveSet) Names() []string {
	names := make([]string, len(s.order))
	for i, p := range s.order {
		names[i] = p.Name
	}
	return names
}

// Scalars counts individual weights across members.
func (s *ActiveSet) Scalars() int {
	n := 0
	for _, p := range s.order {
		n += p.Value.Len()
	}
	return n
}
