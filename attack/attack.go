// Package attack generates adversarially perturbed inputs under a norm
// constraint. Inputs are assumed to live in the [0,1] box.
package attack

import (
	"fmt"
	"sort"

	"curve_lib/nn"
	"curve_lib/tensor"

	"golang.org/x/exp/rand"
)

// Kind tags an attack variant.
type Kind string

const (
	None Kind = "none"
	LInf Kind = "inf"
	L2   Kind = "2"
	L1   Kind = "1"
	MSD  Kind = "msd"
)

// ParseKind maps a CLI tag to a Kind. "" and "0" mean no attack.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "0":
		return None, nil
	}
	k := Kind(s)
	if _, ok := table[k]; !ok {
		return "", fmt.Errorf("unknown attack %q (have %v)", s, Kinds())
	}
	return k, nil
}

// Kinds lists the registered attack tags.
func Kinds() []Kind {
	ks := make([]Kind, 0, len(table))
	for k := range table {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
	return ks
}

// Attack returns a perturbed copy of x with the same shape. Curve models are
// evaluated at t for every gradient step; plain models ignore it.
type Attack interface {
	Perturb(m nn.Model, x *tensor.Tensor, targets []int, t float64) (*tensor.Tensor, error)
	Kind() Kind
}

type factory func(curve bool, rng *rand.Rand) Attack

var table = map[Kind]factory{
	None: func(bool, *rand.Rand) Attack { return identity{} },
	LInf: func(_ bool, rng *rand.Rand) Attack { return evalMode{DefaultPGDInf().WithSource(rng)} },
	L2:   func(bool, *rand.Rand) Attack { return evalMode{DefaultPGD2()} },
	L1:   func(_ bool, rng *rand.Rand) Attack { return evalMode{DefaultL1(rng)} },
	MSD:  func(curve bool, rng *rand.Rand) Attack { return evalMode{DefaultMSD(curve, rng)} },
}

// New builds the attack for kind. curve selects the curve-training budget
// where the two differ (MSD's L∞ radius).
func New(kind Kind, curve bool, src rand.Source) (Attack, error) {
	f, ok := table[kind]
	if !ok {
		return nil, fmt.Errorf("unknown attack %q (have %v)", kind, Kinds())
	}
	return f(curve, rand.New(src)), nil
}

type identity struct{}

func (identity) Perturb(_ nn.Model, x *tensor.Tensor, _ []int, _ float64) (*tensor.Tensor, error) {
	return x.Clone(), nil
}

func (identity) Kind() Kind { return None }

// evalMode runs the wrapped attack with the model in evaluation mode and
// restores the previous mode afterwards.
type evalMode struct {
	Attack
}

func (e evalMode) Perturb(m nn.Model, x *tensor.Tensor, targets []int, t float64) (*tensor.Tensor, error) {
	prev := m.Training()
	m.SetTraining(false)
	defer m.SetTraining(prev)
	if x.Rows() != len(targets) {
		return nil, fmt.Errorf("attack %s: %d inputs, %d targets", e.Kind(), x.Rows(), len(targets))
	}
	return e.Attack.Perturb(m, x, targets, t)
}

// inputGrad evaluates the model at x and returns the per-sample losses, the
// logits and dL/dx. Parameter gradients produced on the way are cleared.
func inputGrad(m nn.Model, x *tensor.Tensor, targets []int, t float64) ([]float64, *tensor.Tensor, *tensor.Tensor, error) {
	logits, err := m.Forward(x, t)
	if err != nil {
		return nil, nil, nil, err
	}
	losses, err := nn.CrossEntropyPerSample(logits, targets)
	if err != nil {
		return nil, nil, nil, err
	}
	_, gradLogits, err := nn.CrossEntropy(logits, targets)
	if err != nil {
		return nil, nil, nil, err
	}
	gradIn, err := m.Backward(gradLogits)
	nn.ZeroGrad(m)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(gradIn.Data) != len(x.Data) {
		return nil, nil, nil, fmt.Errorf("input gradient size %d, input size %d", len(gradIn.Data), len(x.Data))
	}
	return losses, logits, gradIn, nil
}

// perSampleLoss evaluates the model without a backward pass.
func perSampleLoss(m nn.Model, x *tensor.Tensor, targets []int, t float64) ([]float64, error) {
	logits, err := m.Forward(x, t)
	if err != nil {
		return nil, err
	}
	return nn.CrossEntropyPerSample(logits, targets)
}

// apply returns x+delta.
func apply(x, delta *tensor.Tensor) *tensor.Tensor {
	out := x.Clone()
	tensor.AddScaled(out, 1, delta)
	return out
}
