package train

import (
	"context"
	"fmt"
	"time"

	"curve_lib/attack"
	"curve_lib/data"
	"curve_lib/nn"
	"curve_lib/optim"

	"gonum.org/v1/gonum/stat"
)

// TrainResult summarizes one training pass.
type TrainResult struct {
	Loss     float64
	Accuracy float64
	// T is the mean interpolation point over batches, 0 for base models.
	T float64
	// AttackTime is the wall time spent generating adversarial batches.
	AttackTime time.Duration
}

// TestResult summarizes one evaluation pass. Loss is NLL plus the
// regularizer penalty.
type TestResult struct {
	NLL      float64
	Loss     float64
	Accuracy float64
	T        float64
}

// Step holds what a train or evaluation pass needs besides the data.
type Step struct {
	Model       nn.Model
	Criterion   nn.Criterion
	Regularizer nn.Regularizer
	// Attack perturbs training batches; nil trains on clean inputs.
	Attack attack.Attack
	// SampleT draws the interpolation point per batch; nil for base models.
	SampleT func() float64
}

func (s *Step) t() float64 {
	if s.SampleT == nil {
		return 0
	}
	return s.SampleT()
}

// Train runs one pass over loader, stepping opt after every batch.
func (s *Step) Train(ctx context.Context, loader *data.Loader, opt optim.Optimizer) (TrainResult, error) {
	s.Model.SetTraining(true)
	var res TrainResult
	var losses, sizes, ts []float64
	var correct, seen int

	err := loader.Each(ctx, func(b data.Batch) error {
		t := s.t()
		x := b.Input
		if s.Attack != nil {
			start := time.Now()
			adv, err := s.Attack.Perturb(s.Model, x, b.Targets, t)
			if err != nil {
				return fmt.Errorf("attack: %w", err)
			}
			res.AttackTime += time.Since(start)
			x = adv
		}
		logits, err := s.Model.Forward(x, t)
		if err != nil {
			return fmt.Errorf("forward: %w", err)
		}
		loss, grad, err := s.Criterion(logits, b.Targets)
		if err != nil {
			return fmt.Errorf("loss: %w", err)
		}
		if s.Regularizer != nil {
			loss += s.Regularizer.Penalty(s.Model)
		}
		nn.ZeroGrad(s.Model)
		if _, err := s.Model.Backward(grad); err != nil {
			return fmt.Errorf("backward: %w", err)
		}
		if s.Regularizer != nil {
			if err := s.Regularizer.Backward(s.Model); err != nil {
				return fmt.Errorf("regularizer backward: %w", err)
			}
		}
		if err := opt.Step(); err != nil {
			return err
		}

		losses = append(losses, loss)
		sizes = append(sizes, float64(len(b.Targets)))
		ts = append(ts, t)
		correct += nn.Correct(logits, b.Targets)
		seen += len(b.Targets)
		return nil
	})
	if err != nil {
		return TrainResult{}, err
	}
	if seen > 0 {
		res.Loss = stat.Mean(losses, sizes)
		res.Accuracy = float64(correct) * 100 / float64(seen)
		res.T = stat.Mean(ts, nil)
	}
	return res, nil
}

// Test evaluates the model on clean inputs in evaluation mode. The previous
// mode is restored afterwards.
func (s *Step) Test(ctx context.Context, loader *data.Loader) (TestResult, error) {
	prev := s.Model.Training()
	s.Model.SetTraining(false)
	defer s.Model.SetTraining(prev)

	var nlls, losses, sizes, ts []float64
	var correct, seen int
	err := loader.Each(ctx, func(b data.Batch) error {
		t := s.t()
		logits, err := s.Model.Forward(b.Input, t)
		if err != nil {
			return fmt.Errorf("forward: %w", err)
		}
		nll, _, err := s.Criterion(logits, b.Targets)
		if err != nil {
			return fmt.Errorf("loss: %w", err)
		}
		loss := nll
		if s.Regularizer != nil {
			loss += s.Regularizer.Penalty(s.Model)
		}
		nlls = append(nlls, nll)
		losses = append(losses, loss)
		sizes = append(sizes, float64(len(b.Targets)))
		ts = append(ts, t)
		correct += nn.Correct(logits, b.Targets)
		seen += len(b.Targets)
		return nil
	})
	if err != nil {
		return TestResult{}, err
	}
	var res TestResult
	if seen > 0 {
		res.NLL = stat.Mean(nlls, sizes)
		res.Loss = stat.Mean(losses, sizes)
		res.Accuracy = float64(correct) * 100 / float64(seen)
		res.T = stat.Mean(ts, nil)
	}
	return res, nil
}
