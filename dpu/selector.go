package dpu

import (
	"fmt"

	"curve_lib/attack"
	"curve_lib/nn"
	"curve_lib/optim"
	"curve_lib/tensor"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Config controls one selector.
type Config struct {
	// Ratio is the keep fraction k in (0,1].
	Ratio float64
	// Random draws int(k·n) parameters uniformly instead of ranking by score.
	Random bool
	// Curve samples t ~ U(0,1) for the probe forward pass.
	Curve bool
}

// Selector re-picks the active parameter set from one probe batch.
type Selector struct {
	cfg       Config
	attack    attack.Attack
	criterion nn.Criterion
	reg       nn.Regularizer
	rng       *rand.Rand
	t         distuv.Uniform
	log       logrus.FieldLogger
}

// Result describes one selection round.
type Result struct {
	Optimizer optim.Optimizer
	Active    *ActiveSet
	Scored    int
	Kept      int
	Threshold float64
	// Skipped is set when no active parameter received a gradient; Optimizer
	// and Active are then the inputs unchanged.
	Skipped bool
}

// NewSelector builds a selector. atk and reg may be nil.
func NewSelector(cfg Config, atk attack.Attack, criterion nn.Criterion, reg nn.Regularizer, src rand.Source, log logrus.FieldLogger) (*Selector, error) {
	if cfg.Ratio <= 0 || cfg.Ratio > 1 {
		return nil, fmt.Errorf("dpu: keep ratio %v outside (0,1]", cfg.Ratio)
	}
	if criterion == nil {
		return nil, fmt.Errorf("dpu: nil criterion")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	rng := rand.New(src)
	return &Selector{
		cfg:       cfg,
		attack:    atk,
		criterion: criterion,
		reg:       reg,
		rng:       rng,
		t:         distuv.Uniform{Min: 0, Max: 1, Src: rng},
		log:       log,
	}, nil
}

// Select scores the active parameters on (x, targets), shrinks the active set
// to the selected ones and rebuilds opt over them from its defaults.
func (s *Selector) Select(model nn.Model, opt optim.Optimizer, active *ActiveSet, x *tensor.Tensor, targets []int) (Result, error) {
	var t float64
	if s.cfg.Curve {
		t = s.t.Rand()
	}
	if s.attack != nil {
		adv, err := s.attack.Perturb(model, x, targets, t)
		if err != nil {
			return Result{}, fmt.Errorf("dpu: attack probe batch: %w", err)
		}
		x = adv
	}

	logits, err := model.Forward(x, t)
	if err != nil {
		return Result{}, fmt.Errorf("dpu: forward: %w", err)
	}
	loss, grad, err := s.criterion(logits, targets)
	if err != nil {
		return Result{}, fmt.Errorf("dpu: loss: %w", err)
	}
	if s.reg != nil {
		loss += s.reg.Penalty(model)
	}
	nn.ZeroGrad(model)
	if _, err := model.Backward(grad); err != nil {
		return Result{}, fmt.Errorf("dpu: backward: %w", err)
	}
	if s.reg != nil {
		if err := s.reg.Backward(model); err != nil {
			return Result{}, fmt.Errorf("dpu: regularizer backward: %w", err)
		}
	}
	scores := GradientScores(active)
	nn.ZeroGrad(model)

	if len(scores) == 0 {
		s.log.WithField("active", active.Len()).Warn("dpu: no active parameter has a gradient, keeping current selection")
		return Result{Optimizer: opt, Active: active, Skipped: true}, nil
	}

	res := Result{Scored: len(scores)}
	var kept []*nn.Parameter
	if s.cfg.Random {
		kept = SelectRandom(scores, s.cfg.Ratio, s.rng)
	} else {
		kept, res.Threshold = SelectRanked(scores, s.cfg.Ratio)
	}

	next, err := opt.Rebuild(kept)
	if err != nil {
		return Result{}, fmt.Errorf("dpu: rebuild optimizer over %d parameters: %w", len(kept), err)
	}
	res.Optimizer = next
	res.Active = NewActiveSet(kept)
	res.Kept = len(kept)

	s.log.WithFields(logrus.Fields{
		"loss":      loss,
		"scored":    res.Scored,
		"kept":      res.Kept,
		"scalars":   res.Active.Scalars(),
		"threshold": res.Threshold,
		"random":    s.cfg.Random,
	}).Info("dpu: selected parameters")
	return res, nil
}
