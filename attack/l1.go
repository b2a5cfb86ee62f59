package attack

import (
	"curve_lib/nn"
	"curve_lib/tensor"

	"golang.org/x/exp/rand"
)

// L1TopK is steepest-descent ascent under an L1 bound: each step moves the
// k coordinates with the largest admissible gradient by ±step, with k drawn
// from [KMin, KMax] per iteration and the step rescaled by 20/k. Only samples
// the model still classifies correctly are moved.
type L1TopK struct {
	Epsilon float64
	Step    float64
	Iters   int
	Gap     float64
	KMin    int
	KMax    int

	rng *rand.Rand
}

// DefaultL1 is the 10-step radius-12 attack used for training.
func DefaultL1(rng *rand.Rand) *L1TopK {
	return &L1TopK{Epsilon: 12, Step: 0.05, Iters: 10, Gap: 0.05, KMin: 5, KMax: 20, rng: rng}
}

func (a *L1TopK) Kind() Kind { return L1 }

// drawK returns k and the rescaled step for one iteration.
func (a *L1TopK) drawK() (int, float64) {
	k := a.KMin
	if a.KMax > a.KMin {
		k += a.rng.Intn(a.KMax - a.KMin + 1)
	}
	return k, a.Step / float64(k) * 20
}

func (a *L1TopK) Perturb(m nn.Model, x *tensor.Tensor, targets []int, t float64) (*tensor.Tensor, error) {
	delta := tensor.New(x.Shape...)
	for it := 0; it < a.Iters; it++ {
		_, logits, g, err := inputGrad(m, apply(x, delta), targets, t)
		if err != nil {
			return nil, err
		}
		k, step := a.drawK()
		dir := l1Direction(g, x, delta, a.Gap, k)
		pred := nn.Argmax(logits)
		for i := 0; i < delta.Rows(); i++ {
			if pred[i] != targets[i] {
				continue
			}
			row, d := delta.Row(i), dir.Row(i)
			for j := range row {
				row[j] += step * d[j]
			}
		}
		projL1(delta, a.Epsilon)
		clipBox(x, delta)
	}
	return apply(x, delta), nil
}
