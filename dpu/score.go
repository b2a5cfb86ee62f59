package dpu

import (
	"math"
	"sort"

	"curve_lib/nn"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// Score is the squared gradient norm of one parameter on the probe batch.
type Score struct {
	Param *nn.Parameter
	Value float64
}

// GradientScores records Σgrad² for every active parameter that has a
// gradient, in active-set order.
func GradientScores(active *ActiveSet) []Score {
	var scores []Score
	for _, p := range active.order {
		if p.Grad == nil {
			continue
		}
		scores = append(scores, Score{Param: p, Value: p.Grad.SumSquares()})
	}
	return scores
}

// Percentile returns the q-th percentile (q in [0,100]) of values using
// linear interpolation between closest ranks: position (n-1)·q/100 in the
// sorted values.
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	q = math.Max(0, math.Min(100, q))
	pos := float64(len(sorted)-1) * q / 100
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// SelectRanked keeps every parameter whose score is at least the
// (1-k)·100-th percentile. Ties at the threshold are all kept, so more than
// a k fraction may survive.
func SelectRanked(scores []Score, k float64) ([]*nn.Parameter, float64) {
	values := make([]float64, len(scores))
	for i, s := range scores {
		values[i] = s.Value
	}
	threshold := Percentile(values, (1-k)*100)
	var kept []*nn.Parameter
	for _, s := range scores {
		if s.Value >= threshold {
			kept = append(kept, s.Param)
		}
	}
	return kept, threshold
}

// SelectRandom keeps int(k·n) parameters drawn uniformly without replacement.
// The kept parameters are returned in score order.
func SelectRandom(scores []Score, k float64, src rand.Source) []*nn.Parameter {
	n := int(float64(len(scores)) * k)
	if n == 0 {
		return nil
	}
	idx := make([]int, n)
	sampleuv.WithoutReplacement(idx, len(scores), src)
	sort.Ints(idx)
	kept := make([]*nn.Parameter, n)
	for i, j := range idx {
		kept[i] = scores[j].Param
	}
	return kept
}
