package layers

import (
	"fmt"

	"curve_lib/nn"
	"curve_lib/tensor"
)

// ReLU is the rectifier max(0, x).
type ReLU struct {
	lastInput *tensor.Tensor
}

func NewReLU() *ReLU { return &ReLU{} }

func (r *ReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	r.lastInput = x
	return tensor.ReluPlain(x), nil
}

func (r *ReLU) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if r.lastInput == nil {
		return nil, fmt.Errorf("ReLU: no cached input for backward pass")
	}
	if len(gradOut.Data) != len(r.lastInput.Data) {
		return nil, fmt.Errorf("ReLU: gradient size %d, input size %d", len(gradOut.Data), len(r.lastInput.Data))
	}
	gradIn := tensor.New(gradOut.Shape...)
	for i, v := range r.lastInput.Data {
		if v > 0 {
			gradIn.Data[i] = gradOut.Data[i]
		}
	}
	return gradIn, nil
}

func (r *ReLU) Parameters() []*nn.Parameter { return nil }

func (r *ReLU) Tag() string { return "ReLU" }
