package curves

import (
	"fmt"

	"curve_lib/nn"
	"curve_lib/nn/layers"
	"curve_lib/tensor"

	"golang.org/x/exp/rand"
)

// Linear is a fully-connected layer whose weight and bias are a curve
// combination of per-bend parameters. SetT must be called before Forward.
type Linear struct {
	Weights, Biases []*nn.Parameter

	curve     Curve
	coeffs    []float64
	wt, bt    *tensor.Tensor
	lastInput *tensor.Tensor
}

// NewLinear allocates bends named weight_<b> / bias_<b>.
func NewLinear(inDim, outDim int, curve Curve) *Linear {
	n := curve.Bends()
	l := &Linear{curve: curve, Weights: make([]*nn.Parameter, n), Biases: make([]*nn.Parameter, n)}
	for b := 0; b < n; b++ {
		l.Weights[b] = nn.NewParameter(fmt.Sprintf("weight_%d", b), outDim, inDim)
		l.Biases[b] = nn.NewParameter(fmt.Sprintf("bias_%d", b), outDim)
	}
	return l
}

// Init draws independent weights for every bend.
func (l *Linear) Init(src rand.Source) {
	for b := range l.Weights {
		layers.InitUniform(src, l.Weights[b].Value, l.Biases[b].Value)
	}
}

// SetT fixes the interpolation point and materializes W(t), b(t).
func (l *Linear) SetT(t float64) {
	l.coeffs = l.curve.Coefficients(t)
	l.wt = combine(l.Weights, l.coeffs)
	l.bt = combine(l.Biases, l.coeffs)
}

func combine(ps []*nn.Parameter, coeffs []float64) *tensor.Tensor {
	out := tensor.New(ps[0].Value.Shape...)
	for b, p := range ps {
		if coeffs[b] != 0 {
			tensor.AddScaled(out, coeffs[b], p.Value)
		}
	}
	return out
}

// WeightsAt returns the materialized W(t) and b(t) of the last SetT.
func (l *Linear) WeightsAt() (w, b *tensor.Tensor) { return l.wt, l.bt }

// Coefficients returns the bend coefficients of the last SetT.
func (l *Linear) Coefficients() []float64 { return l.coeffs }

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if l.coeffs == nil {
		return nil, fmt.Errorf("curve linear: forward before SetT")
	}
	l.lastInput = x
	return layers.Affine(x, l.wt, l.bt)
}

// Backward sends c_b(t)·dL/dW(t) to bend b.
func (l *Linear) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	gradW, gradB, gradIn, err := layers.AffineBackward(l.lastInput, l.wt, gradOut)
	if err != nil {
		return nil, err
	}
	if err := l.distribute(gradW, gradB, 1); err != nil {
		return nil, err
	}
	return gradIn, nil
}

func (l *Linear) distribute(gradW, gradB *tensor.Tensor, scale float64) error {
	for b, c := range l.coeffs {
		if err := l.Weights[b].AccumulateGrad(scale*c, gradW.Data); err != nil {
			return err
		}
		if err := l.Biases[b].AccumulateGrad(scale*c, gradB.Data); err != nil {
			return err
		}
	}
	return nil
}

// Parameters lists all weight bends followed by all bias bends.
func (l *Linear) Parameters() []*nn.Parameter {
	ps := make([]*nn.Parameter, 0, 2*len(l.Weights))
	ps = append(ps, l.Weights...)
	return append(ps, l.Biases...)
}

func (l *Linear) Tag() string {
	shape := l.Weights[0].Value.Shape
	return fmt.Sprintf("CurveLinear_%d_%d_%s%d", shape[1], shape[0], l.curve.Name(), l.curve.Bends())
}
