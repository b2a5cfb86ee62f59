package curves

import (
	"fmt"

	"curve_lib/nn"
	"curve_lib/tensor"
)

// Net is a network whose curve layers are evaluated at an interpolation
// point t supplied to every Forward call.
type Net struct {
	Curve Curve
	// Fixed[b] marks bend b as frozen (never trainable).
	Fixed []bool

	seq         nn.Sequential
	curveLayers []*Linear
	training    bool
}

// NewNet assembles a curve network. Parameter names are prefixed with the
// layer index like nn.NewNetwork does.
func NewNet(curve Curve, fixStart, fixEnd bool, stack ...nn.Module) (*Net, error) {
	n := &Net{Curve: curve, Fixed: make([]bool, curve.Bends()), training: true}
	n.Fixed[0] = fixStart
	n.Fixed[len(n.Fixed)-1] = fixEnd
	for i, layer := range stack {
		if cl, ok := layer.(*Linear); ok {
			if cl.curve.Bends() != curve.Bends() {
				return nil, fmt.Errorf("layer %d has %d bends, net has %d", i, cl.curve.Bends(), curve.Bends())
			}
			n.curveLayers = append(n.curveLayers, cl)
		}
		for _, p := range layer.Parameters() {
			p.Name = fmt.Sprintf("layers.%d.%s", i, p.Name)
		}
	}
	if len(n.curveLayers) == 0 {
		return nil, fmt.Errorf("curve net needs at least one curve layer")
	}
	n.seq = nn.Sequential{Layers: stack}
	return n, nil
}

// NumBends returns the number of bends of the curve.
func (n *Net) NumBends() int { return n.Curve.Bends() }

// Modules returns the full layer stack.
func (n *Net) Modules() []nn.Module { return n.seq.Layers }

// CurveLayers returns the curve-parameterized layers in forward order.
func (n *Net) CurveLayers() []*Linear { return n.curveLayers }

func (n *Net) Forward(x *tensor.Tensor, t float64) (*tensor.Tensor, error) {
	for _, cl := range n.curveLayers {
		cl.SetT(t)
	}
	return n.seq.Forward(x)
}

func (n *Net) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	return n.seq.Backward(gradOut)
}

func (n *Net) Parameters() []*nn.Parameter { return n.seq.Parameters() }

// Trainable excludes the parameters of fixed bends.
func (n *Net) Trainable() []*nn.Parameter {
	frozen := make(map[*nn.Parameter]bool)
	for _, cl := range n.curveLayers {
		for b, fixed := range n.Fixed {
			if fixed {
				frozen[cl.Weights[b]] = true
				frozen[cl.Biases[b]] = true
			}
		}
	}
	var ps []*nn.Parameter
	for _, p := range n.seq.Parameters() {
		if !frozen[p] {
			ps = append(ps, p)
		}
	}
	return ps
}

func (n *Net) SetTraining(training bool) {
	n.training = training
	n.seq.SetTraining(training)
}

func (n *Net) Training() bool { return n.training }

// ImportBase copies the parameters of a plain model into bend index. The
// base model's parameters must be (weight, bias) pairs in curve-layer order.
func (n *Net) ImportBase(base nn.Model, index int) error {
	if index < 0 || index >= n.NumBends() {
		return fmt.Errorf("bend index %d out of range [0,%d)", index, n.NumBends())
	}
	ps := base.Parameters()
	if len(ps) != 2*len(n.curveLayers) {
		return fmt.Errorf("base model has %d parameters, curve net expects %d", len(ps), 2*len(n.curveLayers))
	}
	for i, cl := range n.curveLayers {
		w, b := ps[2*i], ps[2*i+1]
		if err := copyInto(cl.Weights[index], w); err != nil {
			return err
		}
		if err := copyInto(cl.Biases[index], b); err != nil {
			return err
		}
	}
	return nil
}

func copyInto(dst, src *nn.Parameter) error {
	if !tensor.SameShape(dst.Value, src.Value) {
		return fmt.Errorf("%s: shape %v, base %s has %v", dst.Name, dst.Value.Shape, src.Name, src.Value.Shape)
	}
	copy(dst.Value.Data, src.Value.Data)
	return nil
}

// InitLinear places the inner bends on the segment between the endpoints:
// w_b = α·w_last + (1-α)·w_first with α = b/(n-1).
func (n *Net) InitLinear() {
	last := n.NumBends() - 1
	for _, cl := range n.curveLayers {
		for _, ps := range [][]*nn.Parameter{cl.Weights, cl.Biases} {
			for b := 1; b < last; b++ {
				alpha := float64(b) / float64(last)
				dst := ps[b].Value.Data
				for i := range dst {
					dst[i] = alpha*ps[last].Value.Data[i] + (1-alpha)*ps[0].Value.Data[i]
				}
			}
		}
	}
}
