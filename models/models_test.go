package models

import (
	"testing"

	"curve_lib/curves"
	"curve_lib/nn"
	"curve_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestMLPBaseAndCurveShareLayout(t *testing.T) {
	arch, err := Lookup("MLP")
	require.NoError(t, err)
	spec := Spec{InputDim: 6, NumClasses: 3, Hidden: []int{8, 4}, Dropout: 0.1}

	base, err := arch.Base(spec, rand.NewSource(1))
	require.NoError(t, err)
	require.Len(t, base.Parameters(), 6)

	curve, err := curves.NewPolyChain(3)
	require.NoError(t, err)
	net, err := arch.Curve(spec, curve, true, false, rand.NewSource(1))
	require.NoError(t, err)
	require.Len(t, net.Parameters(), 18)
	require.Len(t, net.Trainable(), 12)
	assert.Equal(t, "Linear_6_8-ReLU-Dropout_0.10-Linear_8_4-ReLU-Dropout_0.10-Linear_4_3", nn.Describe(base))
	assert.Equal(t, "CurveLinear_6_8_PolyChain3-ReLU-Dropout_0.10-CurveLinear_8_4_PolyChain3-ReLU-Dropout_0.10-CurveLinear_4_3_PolyChain3", nn.Describe(net))

	require.NoError(t, net.ImportBase(base, 0))
	net.SetTraining(false)
	base.SetTraining(false)

	x := tensor.New(2, 6)
	for i := range x.Data {
		x.Data[i] = float64(i) / 12
	}
	want, err := base.Forward(x, 0)
	require.NoError(t, err)
	got, err := net.Forward(x, 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.Data, got.Data, 1e-12)
}

func TestLinearArchitectureHasNoHiddenLayers(t *testing.T) {
	arch, err := Lookup("Linear")
	require.NoError(t, err)
	base, err := arch.Base(Spec{InputDim: 4, NumClasses: 2, Hidden: []int{16}}, rand.NewSource(2))
	require.NoError(t, err)
	require.Len(t, base.Parameters(), 2)
	assert.Equal(t, []int{2, 4}, base.Parameters()[0].Value.Shape)
}

func TestLookupAndSpecErrors(t *testing.T) {
	_, err := Lookup("ResNet")
	require.Error(t, err)

	arch, _ := Lookup("MLP")
	_, err = arch.Base(Spec{InputDim: 0, NumClasses: 2}, rand.NewSource(1))
	require.Error(t, err)
	_, err = arch.Base(Spec{InputDim: 2, NumClasses: 2, Hidden: []int{0}}, rand.NewSource(1))
	require.Error(t, err)
	assert.Equal(t, []string{"Linear", "MLP"}, Names())
}

func TestShapedInputsAreFlattened(t *testing.T) {
	arch, err := Lookup("MLP")
	require.NoError(t, err)
	spec := Spec{InputDim: 6, InputShape: []int{2, 3}, NumClasses: 2, Hidden: []int{4}}

	base, err := arch.Base(spec, rand.NewSource(3))
	require.NoError(t, err)
	assert.Equal(t, "Flatten-Linear_6_4-ReLU-Linear_4_2", nn.Describe(base))
	assert.Equal(t, "layers.1.weight", base.Parameters()[0].Name)

	curve, err := curves.NewBezier(3)
	require.NoError(t, err)
	net, err := arch.Curve(spec, curve, false, false, rand.NewSource(3))
	require.NoError(t, err)
	require.NoError(t, net.ImportBase(base, 2))
	assert.Equal(t, "layers.1.weight_0", net.Parameters()[0].Name)

	x := tensor.New(2, 2, 3)
	for i := range x.Data {
		x.Data[i] = float64(i) / 12
	}
	want, err := base.Forward(x, 0)
	require.NoError(t, err)
	got, err := net.Forward(x, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, got.Shape)
	assert.InDeltaSlice(t, want.Data, got.Data, 1e-12)

	grad, err := net.Backward(tensor.New(2, 2))
	require.NoError(t, err)
	assert.Equal(t, x.Shape, grad.Shape)

	flat := Spec{InputDim: 6, InputShape: []int{6}, NumClasses: 2}
	plain, err := arch.Base(flat, rand.NewSource(3))
	require.NoError(t, err)
	assert.Equal(t, "Linear_6_2", nn.Describe(plain))

	spec.InputShape = []int{2, 2}
	_, err = arch.Base(spec, rand.NewSource(3))
	require.Error(t, err)
}
