package attack

import (
	"math"
	"sort"

	"curve_lib/tensor"

	"gonum.org/v1/gonum/floats"
)

// clipBox adjusts delta so that x+delta stays in [0,1].
func clipBox(x, delta *tensor.Tensor) {
	for i, d := range delta.Data {
		v := x.Data[i] + d
		if v < 0 {
			delta.Data[i] = -x.Data[i]
		} else if v > 1 {
			delta.Data[i] = 1 - x.Data[i]
		}
	}
}

// clipInf limits every coordinate of delta to [-eps, eps].
func clipInf(delta *tensor.Tensor, eps float64) {
	delta.Clamp(-eps, eps)
}

// projL2 scales every row of delta onto the L2 ball of radius eps.
func projL2(delta *tensor.Tensor, eps float64) {
	for i := 0; i < delta.Rows(); i++ {
		row := delta.Row(i)
		if n := floats.Norm(row, 2); n > eps {
			floats.Scale(eps/n, row)
		}
	}
}

// projL1 projects every row of delta onto the L1 ball of radius eps
// (Duchi et al., 2008: sort magnitudes, find the soft threshold).
func projL1(delta *tensor.Tensor, eps float64) {
	for i := 0; i < delta.Rows(); i++ {
		projL1Row(delta.Row(i), eps)
	}
}

func projL1Row(v []float64, eps float64) {
	if floats.Norm(v, 1) <= eps {
		return
	}
	u := make([]float64, len(v))
	for i, x := range v {
		u[i] = math.Abs(x)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(u)))
	cumsum, theta := 0.0, 0.0
	for j, x := range u {
		cumsum += x
		if t := (cumsum - eps) / float64(j+1); x-t > 0 {
			theta = t
		}
	}
	for i, x := range v {
		mag := math.Max(math.Abs(x)-theta, 0)
		if x < 0 {
			v[i] = -mag
		} else {
			v[i] = mag
		}
	}
}

// normalizeRows returns g with each row scaled to unit L2 norm (zero rows stay zero).
func normalizeRows(g *tensor.Tensor) *tensor.Tensor {
	out := g.Clone()
	for i := 0; i < out.Rows(); i++ {
		row := out.Row(i)
		if n := floats.Norm(row, 2); n > 1e-12 {
			floats.Scale(1/n, row)
		}
	}
	return out
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// l1Direction is the top-k steepest-descent direction for L1 attacks: on each
// row, coordinates that cannot move further inside the box (within gap of a
// bound in the gradient direction) are dropped, and the k largest remaining
// gradient magnitudes contribute their sign.
func l1Direction(grad, x, delta *tensor.Tensor, gap float64, k int) *tensor.Tensor {
	dir := tensor.New(grad.Shape...)
	for i := 0; i < grad.Rows(); i++ {
		g, xr, dr, out := grad.Row(i), x.Row(i), delta.Row(i), dir.Row(i)
		masked := make([]float64, len(g))
		for j, gv := range g {
			cur := xr[j] + dr[j]
			blocked := (gv < 0 && cur <= gap) || (gv > 0 && cur >= 1-gap)
			if !blocked {
				masked[j] = gv
			}
		}
		kth := kthLargestAbs(masked, k)
		for j, gv := range masked {
			if kth > 0 && math.Abs(gv) >= kth {
				out[j] = sign(gv)
			}
		}
	}
	return dir
}

func kthLargestAbs(v []float64, k int) float64 {
	if len(v) == 0 {
		return 0
	}
	abs := make([]float64, len(v))
	for i, x := range v {
		abs[i] = math.Abs(x)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(abs)))
	if k > len(abs) {
		k = len(abs)
	}
	if k < 1 {
		k = 1
	}
	return abs[k-1]
}
