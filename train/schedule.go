// Package train runs adversarial curve (or base model) training: the
// learning-rate schedule, per-epoch train and evaluation passes, and the
// epoch loop with periodic parameter selection and checkpointing.
package train

// LRScheduler maps an epoch to a learning rate.
type LRScheduler interface {
	// LR returns the learning rate for the given 1-based epoch
	LR(epoch int) float64

	Name() string
}

// CurveSchedule keeps the base rate for the first half of training, decays
// linearly to 1% of it by 90% of training and stays there.
type CurveSchedule struct {
	baseLR float64
	total  int
}

func NewCurveSchedule(baseLR float64, totalEpochs int) *CurveSchedule {
	return &CurveSchedule{baseLR: baseLR, total: totalEpochs}
}

// Factor is the multiplier applied at training progress alpha = epoch/total.
func Factor(alpha float64) float64 {
	switch {
	case alpha <= 0.5:
		return 1.0
	case alpha <= 0.9:
		return 1.0 - (alpha-0.5)/0.4*0.99
	default:
		return 0.01
	}
}

func (s *CurveSchedule) LR(epoch int) float64 {
	return Factor(float64(epoch)/float64(s.total)) * s.baseLR
}

func (s *CurveSchedule) Name() string {
	return "CurveSchedule"
}
