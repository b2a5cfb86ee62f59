// Package optim implements optimizers over an explicit parameter list.
package optim

import (
	"errors"
	"fmt"

	"curve_lib/nn"

	"gonum.org/v1/gonum/floats"
)

// ErrNoParameters is returned when an optimizer is built over no parameters.
var ErrNoParameters = errors.New("optim: no parameters to optimize")

// Defaults are the hyperparameters an optimizer was constructed with. The
// current learning rate may drift from LR through scheduling.
type Defaults struct {
	LR          float64 `json:"lr"`
	Momentum    float64 `json:"momentum"`
	Dampening   float64 `json:"dampening"`
	WeightDecay float64 `json:"weight_decay"`
	Nesterov    bool    `json:"nesterov"`
}

// State is the serializable optimizer state.
type State struct {
	Type     string               `json:"type"`
	Defaults Defaults             `json:"defaults"`
	LR       float64              `json:"lr"`
	Params   []string             `json:"params"`
	Momentum map[string][]float64 `json:"momentum,omitempty"`
}

// Optimizer updates a fixed list of parameters from their gradients.
type Optimizer interface {
	// Step applies one update. Parameters without a gradient are skipped.
	Step() error
	SetLR(lr float64)
	LR() float64
	Defaults() Defaults
	Params() []*nn.Parameter
	// Rebuild returns a fresh optimizer of the same kind and defaults over
	// params. No per-parameter state carries over.
	Rebuild(params []*nn.Parameter) (Optimizer, error)
	State() State
	LoadState(s State) error
	Name() string
}

// SGD is stochastic gradient descent with optional momentum/weight decay.
type SGD struct {
	defaults Defaults
	lr       float64
	params   []*nn.Parameter
	buffers  map[*nn.Parameter][]float64
}

// NewSGD builds an SGD optimizer; it fails with ErrNoParameters on an empty list.
func NewSGD(params []*nn.Parameter, d Defaults) (*SGD, error) {
	if len(params) == 0 {
		return nil, ErrNoParameters
	}
	if d.LR < 0 || d.Momentum < 0 || d.WeightDecay < 0 {
		return nil, fmt.Errorf("optim: invalid SGD hyperparameters %+v", d)
	}
	if d.Nesterov && (d.Momentum <= 0 || d.Dampening != 0) {
		return nil, fmt.Errorf("optim: nesterov momentum requires a momentum and zero dampening")
	}
	seen := make(map[*nn.Parameter]bool, len(params))
	for _, p := range params {
		if seen[p] {
			return nil, fmt.Errorf("optim: parameter %s listed twice", p.Name)
		}
		seen[p] = true
	}
	return &SGD{
		defaults: d,
		lr:       d.LR,
		params:   append([]*nn.Parameter(nil), params...),
		buffers:  make(map[*nn.Parameter][]float64),
	}, nil
}

func (o *SGD) Step() error {
	d := o.defaults
	for _, p := range o.params {
		if p.Grad == nil {
			continue
		}
		w, g := p.Value.Data, p.Grad.Data
		if len(g) != len(w) {
			return fmt.Errorf("optim: %s gradient size %d, want %d", p.Name, len(g), len(w))
		}
		step := append([]float64(nil), g...)
		if d.WeightDecay != 0 {
			floats.AddScaled(step, d.WeightDecay, w)
		}
		if d.Momentum != 0 {
			buf, ok := o.buffers[p]
			if !ok {
				buf = append([]float64(nil), step...)
				o.buffers[p] = buf
			} else {
				floats.Scale(d.Momentum, buf)
				floats.AddScaled(buf, 1-d.Dampening, step)
			}
			if d.Nesterov {
				floats.AddScaled(step, d.Momentum, buf)
			} else {
				copy(step, buf)
			}
		}
		floats.AddScaled(w, -o.lr, step)
	}
	return nil
}

func (o *SGD) SetLR(lr float64)        { o.lr = lr }
func (o *SGD) LR() float64             { return o.lr }
func (o *SGD) Defaults() Defaults      { return o.defaults }
func (o *SGD) Params() []*nn.Parameter { return o.params }

func (o *SGD) Rebuild(params []*nn.Parameter) (Optimizer, error) {
	return NewSGD(params, o.defaults)
}

func (o *SGD) State() State {
	s := State{
		Type:     "sgd",
		Defaults: o.defaults,
		LR:       o.lr,
		Params:   make([]string, len(o.params)),
		Momentum: make(map[string][]float64, len(o.buffers)),
	}
	for i, p := range o.params {
		s.Params[i] = p.Name
		if buf, ok := o.buffers[p]; ok {
			s.Momentum[p.Name] = append([]float64(nil), buf...)
		}
	}
	return s
}

// LoadState restores hyperparameters, the current learning rate and momentum
// buffers. The state must name exactly the optimizer's parameters.
func (o *SGD) LoadState(s State) error {
	if s.Type != "sgd" {
		return fmt.Errorf("invalid optimizer type: expected sgd, got %q", s.Type)
	}
	byName := make(map[string]*nn.Parameter, len(o.params))
	for _, p := range o.params {
		byName[p.Name] = p
	}
	if len(s.Params) != len(o.params) {
		return fmt.Errorf("optimizer state has %d parameters, optimizer has %d", len(s.Params), len(o.params))
	}
	for _, name := range s.Params {
		if _, ok := byName[name]; !ok {
			return fmt.Errorf("optimizer state names unknown parameter %q", name)
		}
	}
	buffers := make(map[*nn.Parameter][]float64, len(s.Momentum))
	for name, buf := range s.Momentum {
		p, ok := byName[name]
		if !ok {
			return fmt.Errorf("momentum buffer for unknown parameter %q", name)
		}
		if len(buf) != p.Value.Len() {
			return fmt.Errorf("momentum buffer for %s has %d values, want %d", name, len(buf), p.Value.Len())
		}
		buffers[p] = append([]float64(nil), buf...)
	}
	o.defaults = s.Defaults
	o.lr = s.LR
	o.buffers = buffers
	return nil
}

func (o *SGD) Name() string {
	if o.defaults.Momentum > 0 {
		if o.defaults.Nesterov {
			return "SGD (Nesterov momentum)"
		}
		return "SGD (momentum)"
	}
	return "SGD"
}
