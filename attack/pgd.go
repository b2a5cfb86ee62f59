package attack

import (
	"curve_lib/nn"
	"curve_lib/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// PGDInf is projected gradient ascent under an L∞ bound.
type PGDInf struct {
	Epsilon float64
	Step    float64
	Iters   int
	// RandomStart draws the initial perturbation from U(-ε, ε).
	RandomStart bool

	rng *rand.Rand
}

// DefaultPGDInf is the 10-step 8/255 attack used for training.
func DefaultPGDInf() *PGDInf {
	return &PGDInf{Epsilon: 8.0 / 255, Step: 2.0 / 255, Iters: 10, RandomStart: true}
}

func (a *PGDInf) Kind() Kind { return LInf }

// WithSource sets the random-start source.
func (a *PGDInf) WithSource(src rand.Source) *PGDInf {
	a.rng = rand.New(src)
	return a
}

func (a *PGDInf) Perturb(m nn.Model, x *tensor.Tensor, targets []int, t float64) (*tensor.Tensor, error) {
	delta := tensor.New(x.Shape...)
	if a.RandomStart {
		if a.rng == nil {
			a.rng = rand.New(rand.NewSource(0))
		}
		u := distuv.Uniform{Min: -a.Epsilon, Max: a.Epsilon, Src: a.rng}
		for i := range delta.Data {
			delta.Data[i] = u.Rand()
		}
		clipBox(x, delta)
	}
	for it := 0; it < a.Iters; it++ {
		_, _, g, err := inputGrad(m, apply(x, delta), targets, t)
		if err != nil {
			return nil, err
		}
		for i, gv := range g.Data {
			delta.Data[i] += a.Step * sign(gv)
		}
		clipInf(delta, a.Epsilon)
		clipBox(x, delta)
	}
	return apply(x, delta), nil
}

// PGD2 is projected gradient ascent under a per-sample L2 bound.
type PGD2 struct {
	Epsilon float64
	Step    float64
	Iters   int
}

// DefaultPGD2 is the 10-step radius-1 attack used for training.
func DefaultPGD2() *PGD2 {
	return &PGD2{Epsilon: 1.0, Step: 0.2, Iters: 10}
}

func (a *PGD2) Kind() Kind { return L2 }

func (a *PGD2) Perturb(m nn.Model, x *tensor.Tensor, targets []int, t float64) (*tensor.Tensor, error) {
	delta := tensor.New(x.Shape...)
	for it := 0; it < a.Iters; it++ {
		_, _, g, err := inputGrad(m, apply(x, delta), targets, t)
		if err != nil {
			return nil, err
		}
		tensor.AddScaled(delta, a.Step, normalizeRows(g))
		projL2(delta, a.Epsilon)
		clipBox(x, delta)
	}
	return apply(x, delta), nil
}
