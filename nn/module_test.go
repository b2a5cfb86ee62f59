package nn

import (
	"errors"
	"math"
	"testing"

	"curve_lib/tensor"

	"github.com/stretchr/testify/require"
)

// dummy layer: adds a constant
type addLayer struct {
	c        float64
	training bool
}

func (l *addLayer) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x.Clone()
	for i := range out.Data {
		out.Data[i] += l.c
	}
	return out, nil
}
func (l *addLayer) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) { return grad, nil }
func (l *addLayer) Parameters() []*Parameter                            { return nil }
func (l *addLayer) SetTraining(training bool)                          { l.training = training }

// dummy layer: one parameter, error on forward
type errLayer struct{ p *Parameter }

func (l *errLayer) Forward(*tensor.Tensor) (*tensor.Tensor, error)  { return nil, errors.New("fail") }
func (l *errLayer) Backward(*tensor.Tensor) (*tensor.Tensor, error) { return nil, nil }
func (l *errLayer) Parameters() []*Parameter                        { return []*Parameter{l.p} }

func TestSequentialPlain(t *testing.T) {
	a := tensor.New(1)
	a.Data[0] = 1
	seq := &Sequential{Layers: []Module{&addLayer{c: 2}, &addLayer{c: 3}}}
	out, err := seq.Forward(a)
	if err != nil {
		t.Fatal(err)
	}
	if out.Data[0] != 6 {
		t.Fatalf("expected 6, got %f", out.Data[0])
	}
}

func TestSequentialForwardError(t *testing.T) {
	seq := &Sequential{Layers: []Module{&addLayer{c: 0}, &errLayer{p: NewParameter("w", 1)}}}
	_, err := seq.Forward(tensor.New(1))
	if err == nil {
		t.Fatal("expected error from failing layer")
	}
}

func TestNetworkNamesAndMode(t *testing.T) {
	add := &addLayer{}
	net := NewNetwork(add, &errLayer{p: NewParameter("weight", 2, 2)})
	require.Len(t, net.Parameters(), 1)
	require.Equal(t, "layers.1.weight", net.Parameters()[0].Name)

	net.SetTraining(false)
	require.False(t, net.Training())
	require.False(t, add.training)
	net.SetTraining(true)
	require.True(t, add.training)

	tensors, scalars := NumParameters(net)
	require.Equal(t, 1, tensors)
	require.Equal(t, 4, scalars)
}

func TestParameterAccumulateAndZero(t *testing.T) {
	p := NewParameter("w", 3)
	require.NoError(t, p.AccumulateGrad(1, []float64{1, 2, 3}))
	require.NoError(t, p.AccumulateGrad(0.5, []float64{2, 2, 2}))
	require.Equal(t, []float64{2, 3, 4}, p.Grad.Data)
	require.Error(t, p.AccumulateGrad(1, []float64{1}))

	net := NewNetwork(&errLayer{p: p})
	ZeroGrad(net)
	require.Nil(t, p.Grad)
}

func TestCrossEntropyGradient(t *testing.T) {
	logits := tensor.NewWithData([]float64{1, 2, 0.5, -1, 0, 3}, 2, 3)
	targets := []int{1, 2}
	loss, grad, err := CrossEntropy(logits, targets)
	require.NoError(t, err)

	per, err := CrossEntropyPerSample(logits, targets)
	require.NoError(t, err)
	require.InDelta(t, (per[0]+per[1])/2, loss, 1e-12)

	const h = 1e-6
	for i := range logits.Data {
		orig := logits.Data[i]
		logits.Data[i] = orig + h
		up, _, _ := CrossEntropy(logits, targets)
		logits.Data[i] = orig - h
		down, _, _ := CrossEntropy(logits, targets)
		logits.Data[i] = orig
		numeric := (up - down) / (2 * h)
		if math.Abs(numeric-grad.Data[i]) > 1e-6 {
			t.Errorf("grad[%d] = %f, numeric %f", i, grad.Data[i], numeric)
		}
	}

	require.Equal(t, []int{1, 2}, Argmax(logits))
	require.Equal(t, 2, Correct(logits, targets))

	_, _, err = CrossEntropy(logits, []int{0, 3})
	require.Error(t, err)
}

func TestSoftmaxSumsToOne(t *testing.T) {
	s := Softmax(tensor.NewWithData([]float64{1000, 1001, 999}))
	sum := 0.0
	for _, v := range s.Data {
		sum += v
	}
	require.InDelta(t, 1.0, sum, 1e-12)
}
