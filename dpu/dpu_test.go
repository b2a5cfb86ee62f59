package dpu

import (
	"errors"
	"testing"

	"curve_lib/nn"
	"curve_lib/nn/layers"
	"curve_lib/optim"
	"curve_lib/tensor"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func params(n int) []*nn.Parameter {
	ps := make([]*nn.Parameter, n)
	for i := range ps {
		ps[i] = nn.NewParameter(string(rune('a'+i)), 2)
	}
	return ps
}

func scoresOf(ps []*nn.Parameter, values ...float64) []Score {
	out := make([]Score, len(values))
	for i, v := range values {
		out[i] = Score{Param: ps[i], Value: v}
	}
	return out
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestPercentileLinear(t *testing.T) {
	vals := []float64{4, 1, 3, 2}
	assert.Equal(t, 1.0, Percentile(vals, 0))
	assert.Equal(t, 4.0, Percentile(vals, 100))
	assert.InDelta(t, 2.5, Percentile(vals, 50), 1e-12)
	assert.InDelta(t, 3.25, Percentile(vals, 75), 1e-12)
	assert.Equal(t, []float64{4, 1, 3, 2}, vals, "input reordered")
	assert.True(t, Percentile(nil, 50) != Percentile(nil, 50), "empty input should give NaN")
}

func TestSelectRankedKeepsTies(t *testing.T) {
	ps := params(5)
	kept, threshold := SelectRanked(scoresOf(ps, 1, 5, 5, 5, 2), 0.2)
	assert.Equal(t, 5.0, threshold)
	assert.Equal(t, []*nn.Parameter{ps[1], ps[2], ps[3]}, kept)

	all, _ := SelectRanked(scoresOf(ps, 1, 2, 3, 4, 5), 1)
	assert.Len(t, all, 5)
}

func TestSelectRankedMonotoneInK(t *testing.T) {
	ps := params(8)
	scores := scoresOf(ps, 0.3, 7, 1.5, 1.5, 9, 0.01, 4, 2)
	prev := 0
	for _, k := range []float64{0.05, 0.1, 0.25, 0.4, 0.5, 0.75, 0.9, 1} {
		kept, threshold := SelectRanked(scores, k)
		want := 0
		for _, s := range scores {
			if s.Value >= threshold {
				want++
			}
		}
		assert.Len(t, kept, want)
		assert.GreaterOrEqual(t, len(kept), prev, "k=%v", k)
		prev = len(kept)
	}
}

func TestSelectRandomExactCount(t *testing.T) {
	ps := params(10)
	scores := scoresOf(ps, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	seen := map[string]bool{}
	for seed := uint64(1); seed <= 6; seed++ {
		kept := SelectRandom(scores, 0.35, rand.NewSource(seed))
		require.Len(t, kept, 3)
		uniq := map[*nn.Parameter]bool{}
		for _, p := range kept {
			uniq[p] = true
		}
		assert.Len(t, uniq, 3)
		names := NewActiveSet(kept).Names()
		seen[names[0]+names[1]+names[2]] = true
	}
	assert.Greater(t, len(seen), 1, "selection should vary with the seed")

	assert.Empty(t, SelectRandom(scores, 0.05, rand.NewSource(1)))
}

func TestRounds(t *testing.T) {
	r, err := Rounds(100, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 21, 41, 61, 81}, r)

	r, err = Rounds(10, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 7}, r)

	_, err = Rounds(3, 4)
	require.Error(t, err)
	_, err = Rounds(3, 0)
	require.Error(t, err)

	s, err := NewSchedule(100, 5)
	require.NoError(t, err)
	assert.True(t, s.Contains(41))
	assert.False(t, s.Contains(42))
}

func TestActiveSetFromNames(t *testing.T) {
	ps := params(4)
	s, err := FromNames(ps, []string{"d", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, s.Names())
	assert.True(t, s.Contains(ps[1]))
	assert.False(t, s.Contains(ps[0]))
	assert.Equal(t, 4, s.Scalars())

	_, err = FromNames(ps, []string{"zz"})
	require.Error(t, err)

	assert.Equal(t, 2, NewActiveSet([]*nn.Parameter{ps[0], ps[0], ps[1]}).Len())
}

func probe(t *testing.T) (*nn.Network, *tensor.Tensor, []int) {
	t.Helper()
	src := rand.NewSource(3)
	l1, l2 := layers.NewLinear(4, 5), layers.NewLinear(5, 3)
	l1.Init(src)
	l2.Init(src)
	m := nn.NewNetwork(l1, layers.NewReLU(), l2)
	rng := rand.New(rand.NewSource(8))
	x := tensor.New(6, 4)
	for i := range x.Data {
		x.Data[i] = rng.Float64()
	}
	return m, x, []int{0, 1, 2, 0, 1, 2}
}

func TestSelectorShrinksActiveSetAndRebuilds(t *testing.T) {
	m, x, y := probe(t)
	active := NewActiveSet(m.Parameters())
	opt, err := optim.NewSGD(active.Params(), optim.Defaults{LR: 0.1, Momentum: 0.9, WeightDecay: 1e-4})
	require.NoError(t, err)
	opt.SetLR(0.03)

	sel, err := NewSelector(Config{Ratio: 0.5}, nil, nn.CrossEntropy, nil, rand.NewSource(1), quietLogger())
	require.NoError(t, err)
	res, err := sel.Select(m, opt, active, x, y)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	assert.Equal(t, 4, res.Scored)
	assert.Equal(t, res.Kept, res.Active.Len())
	assert.GreaterOrEqual(t, res.Kept, 2)
	assert.Equal(t, res.Active.Params(), res.Optimizer.Params())
	assert.Equal(t, opt.Defaults(), res.Optimizer.Defaults())
	assert.Equal(t, 0.1, res.Optimizer.LR())
	for _, p := range m.Parameters() {
		assert.Nil(t, p.Grad)
	}

	// the next round only scores what is still active
	res2, err := sel.Select(m, res.Optimizer, res.Active, x, y)
	require.NoError(t, err)
	assert.Equal(t, res.Kept, res2.Scored)
	assert.LessOrEqual(t, res2.Kept, res.Kept)
	for _, p := range res2.Active.Params() {
		assert.True(t, res.Active.Contains(p))
	}
}

func TestSelectorStepTouchesOnlySelected(t *testing.T) {
	m, x, y := probe(t)
	active := NewActiveSet(m.Parameters())
	opt, err := optim.NewSGD(active.Params(), optim.Defaults{LR: 0.5})
	require.NoError(t, err)
	sel, err := NewSelector(Config{Ratio: 0.25, Random: true}, nil, nn.CrossEntropy, nil, rand.NewSource(4), quietLogger())
	require.NoError(t, err)
	res, err := sel.Select(m, opt, active, x, y)
	require.NoError(t, err)
	require.Equal(t, 1, res.Kept)

	before := map[*nn.Parameter][]float64{}
	for _, p := range m.Parameters() {
		before[p] = append([]float64(nil), p.Value.Data...)
	}
	out, err := m.Forward(x, 0)
	require.NoError(t, err)
	_, g, err := nn.CrossEntropy(out, y)
	require.NoError(t, err)
	_, err = m.Backward(g)
	require.NoError(t, err)
	require.NoError(t, res.Optimizer.Step())
	for _, p := range m.Parameters() {
		if res.Active.Contains(p) {
			assert.NotEqual(t, before[p], p.Value.Data, p.Name)
		} else {
			assert.Equal(t, before[p], p.Value.Data, p.Name)
		}
	}
}

func TestSelectorNoGradientsSkips(t *testing.T) {
	m, x, y := probe(t)
	orphan := nn.NewParameter("orphan", 3)
	active := NewActiveSet([]*nn.Parameter{orphan})
	opt, err := optim.NewSGD(active.Params(), optim.Defaults{LR: 0.1})
	require.NoError(t, err)
	sel, err := NewSelector(Config{Ratio: 0.5}, nil, nn.CrossEntropy, nil, rand.NewSource(1), quietLogger())
	require.NoError(t, err)
	res, err := sel.Select(m, opt, active, x, y)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Same(t, opt, res.Optimizer)
	assert.Same(t, active, res.Active)
}

func TestSelectorEmptySelectionIsFatal(t *testing.T) {
	m, x, y := probe(t)
	active := NewActiveSet(m.Parameters())
	opt, err := optim.NewSGD(active.Params(), optim.Defaults{LR: 0.1})
	require.NoError(t, err)
	sel, err := NewSelector(Config{Ratio: 0.1, Random: true}, nil, nn.CrossEntropy, nil, rand.NewSource(1), quietLogger())
	require.NoError(t, err)
	_, err = sel.Select(m, opt, active, x, y)
	require.Error(t, err)
	assert.True(t, errors.Is(err, optim.ErrNoParameters))
}

func TestNewSelectorRejectsBadRatio(t *testing.T) {
	for _, k := range []float64{0, -0.1, 1.5} {
		_, err := NewSelector(Config{Ratio: k}, nil, nn.CrossEntropy, nil, rand.NewSource(1), nil)
		assert.Error(t, err, "k=%v", k)
	}
}
