package curves

import (
	"curve_lib/nn"
)

// L2Regularizer penalizes 0.5·wd·Σ‖θ(t)‖² over the materialized curve
// weights and biases of the last forward pass.
type L2Regularizer struct {
	WeightDecay float64
}

func curveLayersOf(m nn.Model) []*Linear {
	if cn, ok := m.(interface{ CurveLayers() []*Linear }); ok {
		return cn.CurveLayers()
	}
	return nil
}

func (r L2Regularizer) Penalty(m nn.Model) float64 {
	sum := 0.0
	for _, cl := range curveLayersOf(m) {
		w, b := cl.WeightsAt()
		if w == nil {
			continue
		}
		sum += w.SumSquares() + b.SumSquares()
	}
	return 0.5 * r.WeightDecay * sum
}

// Backward adds wd·θ(t)·c_b(t) to bend b.
func (r L2Regularizer) Backward(m nn.Model) error {
	for _, cl := range curveLayersOf(m) {
		w, b := cl.WeightsAt()
		if w == nil {
			continue
		}
		if err := cl.distribute(w, b, r.WeightDecay); err != nil {
			return err
		}
	}
	return nil
}
