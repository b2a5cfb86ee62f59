package layers

import (
	"fmt"
	"math"

	"curve_lib/nn"
	"curve_lib/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Linear is a fully-connected layer: y = x·Wᵀ + B for x of shape (batch, inDim).
type Linear struct {
	W, B *nn.Parameter

	lastInput *tensor.Tensor
}

// NewLinear(inDim→outDim) allocates zero weights named "weight" and "bias".
func NewLinear(inDim, outDim int) *Linear {
	return &Linear{
		W: nn.NewParameter("weight", outDim, inDim),
		B: nn.NewParameter("bias", outDim),
	}
}

// InitUniform fills W and B from U(-1/√inDim, 1/√inDim).
func InitUniform(src rand.Source, params ...*tensor.Tensor) {
	if len(params) == 0 {
		return
	}
	fanIn := params[0].Shape[len(params[0].Shape)-1]
	bound := 1 / math.Sqrt(float64(fanIn))
	dist := distuv.Uniform{Min: -bound, Max: bound, Src: src}
	for _, p := range params {
		for i := range p.Data {
			p.Data[i] = dist.Rand()
		}
	}
}

// Init draws fresh weights for the layer.
func (l *Linear) Init(src rand.Source) {
	InitUniform(src, l.W.Value, l.B.Value)
}

// Affine computes x·wᵀ + b.
func Affine(x, w, b *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 2 || len(w.Shape) != 2 {
		return nil, fmt.Errorf("expected 2D input and 2D weights, got %v and %v", x.Shape, w.Shape)
	}
	if x.Shape[1] != w.Shape[1] {
		return nil, fmt.Errorf("input width %d, weights expect %d", x.Shape[1], w.Shape[1])
	}
	y, err := tensor.MatMulT(x, w)
	if err != nil {
		return nil, err
	}
	if b != nil {
		// Broadcast bias across batch
		for i := 0; i < y.Shape[0]; i++ {
			row := y.Row(i)
			for j := range row {
				row[j] += b.Data[j]
			}
		}
	}
	return y, nil
}

// AffineBackward returns dL/dW = gᵀ·x, dL/dB = Σ_batch g and dL/dx = g·W.
func AffineBackward(x, w, gradOut *tensor.Tensor) (gradW, gradB, gradIn *tensor.Tensor, err error) {
	if x == nil {
		return nil, nil, nil, fmt.Errorf("no cached input for backward pass")
	}
	if len(gradOut.Shape) != 2 || gradOut.Shape[0] != x.Shape[0] || gradOut.Shape[1] != w.Shape[0] {
		return nil, nil, nil, fmt.Errorf("gradient shape %v does not match output (%d, %d)", gradOut.Shape, x.Shape[0], w.Shape[0])
	}
	if gradW, err = tensor.TMatMul(gradOut, x); err != nil {
		return nil, nil, nil, err
	}
	gradB = tensor.New(w.Shape[0])
	for i := 0; i < gradOut.Shape[0]; i++ {
		for j, g := range gradOut.Row(i) {
			gradB.Data[j] += g
		}
	}
	if gradIn, err = tensor.MatMul(gradOut, w); err != nil {
		return nil, nil, nil, err
	}
	return gradW, gradB, gradIn, nil
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	l.lastInput = x
	return Affine(x, l.W.Value, l.B.Value)
}

func (l *Linear) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	gradW, gradB, gradIn, err := AffineBackward(l.lastInput, l.W.Value, gradOut)
	if err != nil {
		return nil, err
	}
	if err := l.W.AccumulateGrad(1, gradW.Data); err != nil {
		return nil, err
	}
	if err := l.B.AccumulateGrad(1, gradB.Data); err != nil {
		return nil, err
	}
	return gradIn, nil
}

func (l *Linear) Parameters() []*nn.Parameter { return []*nn.Parameter{l.W, l.B} }

func (l *Linear) Tag() string {
	return fmt.Sprintf("Linear_%d_%d", l.W.Value.Shape[1], l.W.Value.Shape[0])
}
