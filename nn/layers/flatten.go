package layers

import (
	"curve_lib/nn"
	"curve_lib/tensor"
)

// Flatten layer: reshapes (batch, ...) to (batch, features).
type Flatten struct {
	inShape []int
}

func NewFlatten() *Flatten { return &Flatten{} }

func (f *Flatten) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	f.inShape = append(f.inShape[:0], x.Shape...)
	batch := 1
	if len(x.Shape) > 1 {
		batch = x.Shape[0]
	}
	return tensor.NewWithData(x.Data, batch, len(x.Data)/batch), nil
}

func (f *Flatten) Backward(g *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.NewWithData(g.Data, f.inShape...), nil
}

func (f *Flatten) Parameters() []*nn.Parameter { return nil }

func (f *Flatten) Tag() string {
	return "Flatten"
}
