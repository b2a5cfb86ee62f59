package attack

import (
	"curve_lib/nn"
	"curve_lib/tensor"

	"golang.org/x/exp/rand"
)

// MSDAttack is multi steepest descent over the union of L∞, L2 and L1 balls:
// every iteration takes one step of each kind from the current perturbation
// and keeps, per sample, the candidate with the highest loss. The result is
// the per-sample best perturbation seen over all iterations.
type MSDAttack struct {
	EpsInf, EpsL2, EpsL1    float64
	StepInf, StepL2, StepL1 float64
	Iters                   int
	KMin, KMax              int

	rng *rand.Rand
}

// DefaultMSD uses an L∞ radius of 2/255 for curve training and 8/255 otherwise.
func DefaultMSD(curve bool, rng *rand.Rand) *MSDAttack {
	epsInf := 8.0 / 255
	if curve {
		epsInf = 2.0 / 255
	}
	return &MSDAttack{
		EpsInf: epsInf, EpsL2: 1, EpsL1: 12,
		StepInf: 2.0 / 255, StepL2: 0.2, StepL1: 0.05,
		Iters: 10, KMin: 5, KMax: 20,
		rng: rng,
	}
}

func (a *MSDAttack) Kind() Kind { return MSD }

func (a *MSDAttack) Perturb(m nn.Model, x *tensor.Tensor, targets []int, t float64) (*tensor.Tensor, error) {
	n := x.Rows()
	delta := tensor.New(x.Shape...)
	best := tensor.New(x.Shape...)
	bestLoss := make([]float64, n)
	l1 := &L1TopK{Step: a.StepL1, KMin: a.KMin, KMax: a.KMax, rng: a.rng}

	for it := 0; it < a.Iters; it++ {
		_, _, g, err := inputGrad(m, apply(x, delta), targets, t)
		if err != nil {
			return nil, err
		}

		candL2 := delta.Clone()
		tensor.AddScaled(candL2, a.StepL2, normalizeRows(g))
		projL2(candL2, a.EpsL2)
		clipBox(x, candL2)

		candInf := delta.Clone()
		for i, gv := range g.Data {
			candInf.Data[i] += a.StepInf * sign(gv)
		}
		clipInf(candInf, a.EpsInf)
		clipBox(x, candInf)

		k, stepL1 := l1.drawK()
		candL1 := delta.Clone()
		tensor.AddScaled(candL1, stepL1, l1Direction(g, x, delta, stepL1, k))
		projL1(candL1, a.EpsL1)
		clipBox(x, candL1)

		iterLoss := make([]float64, n)
		next := tensor.New(x.Shape...)
		for _, cand := range []*tensor.Tensor{candL1, candL2, candInf} {
			losses, err := perSampleLoss(m, apply(x, cand), targets, t)
			if err != nil {
				return nil, err
			}
			for i, l := range losses {
				if l >= iterLoss[i] {
					copy(next.Row(i), cand.Row(i))
					iterLoss[i] = l
				}
			}
		}
		delta = next
		for i, l := range iterLoss {
			if l > bestLoss[i] {
				copy(best.Row(i), delta.Row(i))
				bestLoss[i] = l
			}
		}
	}
	return apply(x, best), nil
}
