package utils

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"curve_lib/nn"
	"curve_lib/nn/layers"
	"curve_lib/optim"
	"curve_lib/tensor"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gopkg.in/yaml.v3"
)

func TestTensorToWeightData(t *testing.T) {
	ten := tensor.New(2, 3)
	for i := range ten.Data {
		ten.Data[i] = float64(i) * 0.5
	}

	wd := TensorToWeightData(ten)
	if len(wd.Shape) != 2 || wd.Shape[0] != 2 || wd.Shape[1] != 3 {
		t.Errorf("Shape = %v, want [2, 3]", wd.Shape)
	}
	for i, v := range wd.Data {
		expected := float64(i) * 0.5
		if v != expected {
			t.Errorf("Data[%d] = %f, want %f", i, v, expected)
		}
	}

	ten.Data[0] = 99
	if wd.Data[0] != 0 {
		t.Errorf("weight data aliases the tensor")
	}
	back := WeightDataToTensor(wd)
	if back.Shape[0] != 2 || back.Shape[1] != 3 || back.Data[5] != 2.5 {
		t.Errorf("round trip = %v %v", back.Shape, back.Data)
	}
}

func testNet(seed uint64) *nn.Network {
	l1, l2 := layers.NewLinear(3, 4), layers.NewLinear(4, 2)
	src := rand.NewSource(seed)
	l1.Init(src)
	l2.Init(src)
	return nn.NewNetwork(l1, layers.NewReLU(), l2)
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	net := testNet(1)
	ps := net.Parameters()
	opt, err := optim.NewSGD(ps[:3], optim.Defaults{LR: 0.05, Momentum: 0.9, WeightDecay: 5e-4})
	require.NoError(t, err)
	for _, p := range ps[:3] {
		require.NoError(t, p.AccumulateGrad(1, make([]float64, p.Value.Len())))
		p.Grad.Data[0] = 1
	}
	require.NoError(t, opt.Step())
	opt.SetLR(0.02)
	active := []string{ps[0].Name, ps[1].Name, ps[2].Name}

	path, err := SaveCheckpoint(dir, 7, net, opt, active)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "checkpoint-7.json"), path)

	ckpt, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, 7, ckpt.Epoch)
	assert.Equal(t, active, ckpt.Active)
	assert.Equal(t, opt.State(), ckpt.OptimizerState)

	other := testNet(2)
	require.NoError(t, LoadModelState(other, ckpt.ModelState))
	for i, p := range other.Parameters() {
		assert.Equal(t, ps[i].Value.Data, p.Value.Data, p.Name)
	}
}

func TestSaveCheckpointRejectsDivergedWeights(t *testing.T) {
	dir := t.TempDir()
	net := testNet(1)
	opt, err := optim.NewSGD(net.Parameters(), optim.Defaults{LR: 0.1})
	require.NoError(t, err)

	p := net.Parameters()[1]
	p.Value.Data[0] = math.NaN()
	_, err = SaveCheckpoint(dir, 3, net, opt, nil)
	require.ErrorIs(t, err, ErrNonFinite)
	assert.Contains(t, err.Error(), p.Name)
	_, statErr := os.Stat(CheckpointPath(dir, 3))
	assert.True(t, os.IsNotExist(statErr))

	p.Value.Data[0] = math.Inf(-1)
	_, err = SaveCheckpoint(dir, 3, net, opt, nil)
	require.ErrorIs(t, err, ErrNonFinite)

	p.Value.Data[0] = 0
	_, err = SaveCheckpoint(dir, 3, net, opt, nil)
	require.NoError(t, err)
}

func TestLoadModelStateNormalizesAndRejects(t *testing.T) {
	src := ModelState(testNet(1))
	prefixed := make(map[string]*WeightData, len(src))
	for k, v := range src {
		prefixed["module."+k] = v
	}
	dst := testNet(3)
	require.NoError(t, LoadModelState(dst, prefixed))
	assert.Equal(t, src["layers.0.weight"].Data, dst.Parameters()[0].Value.Data)

	extra := ModelState(testNet(1))
	extra["layers.9.weight"] = &WeightData{Shape: []int{1}, Data: []float64{0}}
	err := LoadModelState(testNet(3), extra)
	assert.True(t, errors.Is(err, ErrUnknownParameter), "%v", err)

	short := ModelState(testNet(1))
	delete(short, "layers.2.bias")
	fresh := testNet(3)
	before := append([]float64(nil), fresh.Parameters()[0].Value.Data...)
	err = LoadModelState(fresh, short)
	assert.True(t, errors.Is(err, ErrMissingParameter), "%v", err)
	assert.Equal(t, before, fresh.Parameters()[0].Value.Data, "partial load wrote weights")

	bad := ModelState(testNet(1))
	bad["layers.0.bias"] = &WeightData{Shape: []int{3}, Data: []float64{1, 2, 3}}
	err = LoadModelState(testNet(3), bad)
	assert.True(t, errors.Is(err, ErrShapeMismatch), "%v", err)
}

func TestLoadCheckpointErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadCheckpoint(filepath.Join(dir, "nope.json"))
	require.Error(t, err)

	path := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"epoch": 3}`), 0o644))
	_, err = LoadCheckpoint(path)
	require.Error(t, err)
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg, err := LoadConfig(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "synthetic", cfg.Dataset)
	assert.Equal(t, []int{128, 128}, cfg.Hidden)
	assert.Equal(t, 10, cfg.Synthetic.Classes)
	assert.Equal(t, uint64(1), cfg.Seed)
	assert.True(t, cfg.InitLinear)
	assert.False(t, cfg.IsCurve())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("curve: Bezier\nnum_bends: 3\nepochs: 20\nr: 4\nk: 0.25\npgd: msd\n"), 0o644))
	cfg, err := LoadConfig(viper.New(), path)
	require.NoError(t, err)
	assert.True(t, cfg.IsCurve())
	assert.Equal(t, 20, cfg.Epochs)
	assert.Equal(t, 4, cfg.R)
	assert.Equal(t, 0.25, cfg.K)
	assert.Equal(t, "msd", cfg.PGD)
}

func TestValidateConfig(t *testing.T) {
	base, err := LoadConfig(viper.New(), "")
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"k zero":          func(c *Config) { c.K = 0 },
		"k above one":     func(c *Config) { c.K = 1.5 },
		"no rounds":       func(c *Config) { c.R = 0 },
		"rounds > epochs": func(c *Config) { c.R = 300 },
		"one bend":        func(c *Config) { c.Curve = "Bezier"; c.NumBends = 1 },
		"unknown curve":   func(c *Config) { c.Curve = "Spline" },
		"unknown attack":  func(c *Config) { c.PGD = "fgsm" },
		"unknown model":   func(c *Config) { c.Model = "VGG16" },
		"csv without path": func(c *Config) {
			c.Dataset = "csv"
			c.DataPath = ""
		},
		"zero batch":          func(c *Config) { c.BatchSize = 0 },
		"zero input dim":      func(c *Config) { c.InputShape = []int{0, 32} },
		"input shape vs data": func(c *Config) { c.InputShape = []int{5, 5} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := *base
			mutate(&c)
			assert.Error(t, ValidateConfig(&c))
		})
	}
	assert.NoError(t, ValidateConfig(base))

	shaped := *base
	shaped.InputShape = []int{4, 8}
	assert.NoError(t, ValidateConfig(&shaped))
}

func TestParseArchitecture(t *testing.T) {
	arch, err := ParseArchitecture("512 256,128")
	require.NoError(t, err)
	assert.Equal(t, []int{512, 256, 128}, arch)
	_, err = ParseArchitecture("512 x")
	require.Error(t, err)
}

func TestWriteRunFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	cfg, err := LoadConfig(viper.New(), "")
	require.NoError(t, err)
	require.NoError(t, WriteRunFiles(dir, []string{"curve-train", "--epochs=3"}, cfg))

	cmd, err := os.ReadFile(filepath.Join(dir, "command.sh"))
	require.NoError(t, err)
	assert.Equal(t, "curve-train --epochs=3\n", string(cmd))

	raw, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	var back Config
	require.NoError(t, yaml.Unmarshal(raw, &back))
	assert.Equal(t, *cfg, back)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("warn", &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	log.Info("hidden")
	log.WithField("ep", 3).Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "ep=3")

	for level, want := range map[string]logrus.Level{"": logrus.InfoLevel, "DEBUG": logrus.DebugLevel, "warning": logrus.WarnLevel, "error": logrus.ErrorLevel} {
		log, err := NewLogger(level, &buf)
		require.NoError(t, err, level)
		assert.Equal(t, want, log.GetLevel(), level)
	}

	_, err = NewLogger("loud", &buf)
	require.Error(t, err)
}

func TestPrintTimingStats(t *testing.T) {
	var buf bytes.Buffer
	prev := Output
	Output = &buf
	defer func() { Output = prev }()

	var total TimingStats
	total.Add(TimingStats{TotalTime: 2 * time.Second, TrainTime: time.Second, AttackTime: 500 * time.Millisecond})
	total.Add(TimingStats{TotalTime: 2 * time.Second, TrainTime: time.Second})
	PrintTimingStats(&total, 2)
	out := buf.String()
	assert.Contains(t, out, "Average time per epoch: 2s")
	assert.Contains(t, out, "Training passes: 2s (50.0%)")
	assert.Contains(t, out, "of which attacks: 500ms (25.0% of training)")
	assert.Equal(t, 1000.0, DurationUS(time.Millisecond))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	h, err := OpenHistory(ctx, path, "/tmp/run")
	require.NoError(t, err)
	defer h.Close()
	assert.Len(t, h.RunID, 36)

	require.NoError(t, h.RecordEpoch(ctx, EpochRecord{Epoch: 2, LR: 0.1, TrainLoss: 1.5, TestAcc: 40, Active: 3, Duration: 1500 * time.Millisecond}))
	require.NoError(t, h.RecordEpoch(ctx, EpochRecord{Epoch: 1, LR: 0.1, TrainLoss: 2, TestAcc: 20, Active: 4, Duration: time.Second}))
	require.NoError(t, h.RecordRound(ctx, RoundRecord{Epoch: 1, Scored: 4, Kept: 3, Threshold: 0.7}))

	epochs, err := h.Epochs(ctx)
	require.NoError(t, err)
	require.Len(t, epochs, 2)
	assert.Equal(t, 1, epochs[0].Epoch)
	assert.Equal(t, 40.0, epochs[1].TestAcc)
	assert.Equal(t, 1500*time.Millisecond, epochs[1].Duration)

	rounds, err := h.Rounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RoundRecord{{Epoch: 1, Scored: 4, Kept: 3, Threshold: 0.7}}, rounds)

	second, err := OpenHistory(ctx, path, "/tmp/run2")
	require.NoError(t, err)
	defer second.Close()
	assert.NotEqual(t, h.RunID, second.RunID)
	none, err := second.Epochs(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.True(t, strings.Count(h.RunID, "-") == 4)
}
