// Package models holds the architecture registry: every architecture has a
// plain constructor and a curve constructor with matching parameter layout.
package models

import (
	"fmt"
	"sort"

	"curve_lib/curves"
	"curve_lib/nn"
	"curve_lib/nn/layers"

	"golang.org/x/exp/rand"
)

// Spec sizes an architecture. A multi-dimensional InputShape puts a Flatten
// in front of the stack; its product must equal InputDim.
type Spec struct {
	InputDim   int
	InputShape []int
	NumClasses int
	Hidden     []int
	Dropout    float64
}

// Architecture pairs the plain and curve constructors of one model family.
type Architecture struct {
	Name  string
	Base  func(spec Spec, src rand.Source) (*nn.Network, error)
	Curve func(spec Spec, curve curves.Curve, fixStart, fixEnd bool, src rand.Source) (*curves.Net, error)
}

var registry = map[string]Architecture{
	"MLP": {
		Name:  "MLP",
		Base:  mlpBase,
		Curve: mlpCurve,
	},
	"Linear": {
		Name: "Linear",
		Base: func(spec Spec, src rand.Source) (*nn.Network, error) {
			spec.Hidden = nil
			return mlpBase(spec, src)
		},
		Curve: func(spec Spec, curve curves.Curve, fixStart, fixEnd bool, src rand.Source) (*curves.Net, error) {
			spec.Hidden = nil
			return mlpCurve(spec, curve, fixStart, fixEnd, src)
		},
	},
}

// Lookup returns the named architecture.
func Lookup(name string) (Architecture, error) {
	a, ok := registry[name]
	if !ok {
		return Architecture{}, fmt.Errorf("unknown model %q (have %v)", name, Names())
	}
	return a, nil
}

// Names lists the registered architectures.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s Spec) widths() ([]int, error) {
	if s.InputDim <= 0 || s.NumClasses <= 0 {
		return nil, fmt.Errorf("input dim %d and classes %d must be positive", s.InputDim, s.NumClasses)
	}
	if len(s.InputShape) > 0 {
		size := 1
		for _, n := range s.InputShape {
			size *= n
		}
		if size != s.InputDim {
			return nil, fmt.Errorf("input shape %v holds %d values, input dim is %d", s.InputShape, size, s.InputDim)
		}
	}
	widths := append([]int{s.InputDim}, s.Hidden...)
	for _, w := range widths {
		if w <= 0 {
			return nil, fmt.Errorf("layer widths must be positive, got %v", widths)
		}
	}
	return append(widths, s.NumClasses), nil
}

// inputStack starts the layer stack, flattening multi-dimensional samples.
func inputStack(spec Spec) []nn.Module {
	if len(spec.InputShape) > 1 {
		return []nn.Module{layers.NewFlatten()}
	}
	return nil
}

// hiddenStack appends the activation (and dropout) that follow every hidden layer.
func hiddenStack(stack []nn.Module, spec Spec, src rand.Source) ([]nn.Module, error) {
	stack = append(stack, layers.NewReLU())
	if spec.Dropout > 0 {
		d, err := layers.NewDropout(spec.Dropout, src)
		if err != nil {
			return nil, err
		}
		stack = append(stack, d)
	}
	return stack, nil
}

func mlpBase(spec Spec, src rand.Source) (*nn.Network, error) {
	widths, err := spec.widths()
	if err != nil {
		return nil, err
	}
	stack := inputStack(spec)
	for i := 0; i+1 < len(widths); i++ {
		l := layers.NewLinear(widths[i], widths[i+1])
		l.Init(src)
		stack = append(stack, l)
		if i+2 < len(widths) {
			if stack, err = hiddenStack(stack, spec, src); err != nil {
				return nil, err
			}
		}
	}
	return nn.NewNetwork(stack...), nil
}

func mlpCurve(spec Spec, curve curves.Curve, fixStart, fixEnd bool, src rand.Source) (*curves.Net, error) {
	widths, err := spec.widths()
	if err != nil {
		return nil, err
	}
	stack := inputStack(spec)
	for i := 0; i+1 < len(widths); i++ {
		l := curves.NewLinear(widths[i], widths[i+1], curve)
		l.Init(src)
		stack = append(stack, l)
		if i+2 < len(widths) {
			if stack, err = hiddenStack(stack, spec, src); err != nil {
				return nil, err
			}
		}
	}
	return curves.NewNet(curve, fixStart, fixEnd, stack...)
}
