package nn

import (
	"fmt"
	"strings"

	"curve_lib/tensor"
)

// Parameter is a named trainable tensor and the gradient accumulated for it
// by the last backward pass. Grad is nil until a backward pass reaches it.
type Parameter struct {
	Name  string
	Value *tensor.Tensor
	Grad  *tensor.Tensor
}

// NewParameter allocates a zero-valued parameter of the given shape.
func NewParameter(name string, shape ...int) *Parameter {
	return &Parameter{Name: name, Value: tensor.New(shape...)}
}

// AccumulateGrad adds scale*g into the parameter gradient.
func (p *Parameter) AccumulateGrad(scale float64, g []float64) error {
	if len(g) != len(p.Value.Data) {
		return fmt.Errorf("%s: gradient size %d, want %d", p.Name, len(g), len(p.Value.Data))
	}
	if p.Grad == nil {
		p.Grad = tensor.New(p.Value.Shape...)
	}
	for i, v := range g {
		p.Grad.Data[i] += scale * v
	}
	return nil
}

// Module defines a single layer/unit in the network.
type Module interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	// Backward computes gradients and propagates them.
	// It takes the gradient of the loss with respect to the module's output,
	// accumulates parameter gradients, and returns the gradient of the loss
	// with respect to the module's input.
	Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*Parameter
}

// ModeSetter is implemented by layers that behave differently in training and evaluation.
type ModeSetter interface {
	SetTraining(training bool)
}

// Model is a network evaluated at interpolation point t. Plain networks ignore t.
type Model interface {
	Forward(x *tensor.Tensor, t float64) (*tensor.Tensor, error)
	Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*Parameter
	SetTraining(training bool)
	Training() bool
}

// ZeroGrad clears every parameter gradient of m.
func ZeroGrad(m Model) {
	for _, p := range m.Parameters() {
		p.Grad = nil
	}
}

// NumParameters returns the number of parameter tensors and scalar weights of m.
func NumParameters(m Model) (tensors, scalars int) {
	for _, p := range m.Parameters() {
		tensors++
		scalars += p.Value.Len()
	}
	return tensors, scalars
}

// Sequential chains multiple Modules in order.
type Sequential struct {
	Layers []Module
}

// Forward applies each layer in sequence.
func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	out := x
	for i, layer := range s.Layers {
		out, err = layer.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("layer %d forward: %w", i, err)
		}
	}
	return out, nil
}

// Backward applies Backward in reverse order.
func (s *Sequential) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	out := grad
	for i := len(s.Layers) - 1; i >= 0; i-- {
		out, err = s.Layers[i].Backward(out)
		if err != nil {
			return nil, fmt.Errorf("layer %d backward: %w", i, err)
		}
	}
	return out, nil
}

// Parameters returns the parameters of all layers in order.
func (s *Sequential) Parameters() []*Parameter {
	var ps []*Parameter
	for _, layer := range s.Layers {
		ps = append(ps, layer.Parameters()...)
	}
	return ps
}

// SetTraining forwards the mode to every layer that cares about it.
func (s *Sequential) SetTraining(training bool) {
	for _, layer := range s.Layers {
		if ms, ok := layer.(ModeSetter); ok {
			ms.SetTraining(training)
		}
	}
}

// Network is a plain (non-curve) model built from a layer stack.
type Network struct {
	Sequential
	training bool
}

// NewNetwork builds a Network and prefixes parameter names with their layer
// index ("layers.<i>.<name>") so they are unique across the model.
func NewNetwork(layers ...Module) *Network {
	for i, layer := range layers {
		for _, p := range layer.Parameters() {
			p.Name = fmt.Sprintf("layers.%d.%s", i, p.Name)
		}
	}
	return &Network{Sequential: Sequential{Layers: layers}, training: true}
}

// Forward ignores t.
func (n *Network) Forward(x *tensor.Tensor, _ float64) (*tensor.Tensor, error) {
	return n.Sequential.Forward(x)
}

func (n *Network) SetTraining(training bool) {
	n.training = training
	n.Sequential.SetTraining(training)
}

func (n *Network) Training() bool { return n.training }

// Modules returns the layer stack.
func (n *Network) Modules() []Module { return n.Layers }

// Describe joins the layer tags of m, e.g. "Linear_784_128-ReLU-Linear_128_10".
// Layers without a Tag method are shown by their Go type.
func Describe(m Model) string {
	stack, ok := m.(interface{ Modules() []Module })
	if !ok {
		return fmt.Sprintf("%T", m)
	}
	tags := make([]string, 0, len(stack.Modules()))
	for _, layer := range stack.Modules() {
		if tg, ok := layer.(interface{ Tag() string }); ok {
			tags = append(tags, tg.Tag())
		} else {
			tags = append(tags, fmt.Sprintf("%T", layer))
		}
	}
	return strings.Join(tags, "-")
}

// Trainable returns the parameters of m that may ever receive updates. Models
// with frozen parameters (fixed curve endpoints) expose a Trainable method.
func Trainable(m Model) []*Parameter {
	if tm, ok := m.(interface{ Trainable() []*Parameter }); ok {
		return tm.Trainable()
	}
	return m.Parameters()
}
