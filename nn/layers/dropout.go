package layers

import (
	"fmt"

	"curve_lib/nn"
	"curve_lib/tensor"

	"golang.org/x/exp/rand"
)

// Dropout zeroes inputs with probability P while training and rescales the
// survivors by 1/(1-P). It is the identity in evaluation mode.
type Dropout struct {
	P float64

	rng      *rand.Rand
	training bool
	mask     []float64
}

func NewDropout(p float64, src rand.Source) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability %v not in [0,1)", p)
	}
	return &Dropout{P: p, rng: rand.New(src), training: true}, nil
}

func (d *Dropout) SetTraining(training bool) { d.training = training }

func (d *Dropout) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.P == 0 {
		d.mask = nil
		return x, nil
	}
	out := tensor.New(x.Shape...)
	d.mask = make([]float64, len(x.Data))
	keep := 1 / (1 - d.P)
	for i, v := range x.Data {
		if d.rng.Float64() >= d.P {
			d.mask[i] = keep
			out.Data[i] = v * keep
		}
	}
	return out, nil
}

func (d *Dropout) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if d.mask == nil {
		return gradOut, nil
	}
	gradIn := tensor.New(gradOut.Shape...)
	for i, g := range gradOut.Data {
		gradIn.Data[i] = g * d.mask[i]
	}
	return gradIn, nil
}

func (d *Dropout) Parameters() []*nn.Parameter { return nil }

func (d *Dropout) Tag() string { return fmt.Sprintf("Dropout_%.2f", d.P) }
