package train

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"curve_lib/attack"
	"curve_lib/curves"
	"curve_lib/data"
	"curve_lib/dpu"
	"curve_lib/models"
	"curve_lib/nn"
	"curve_lib/optim"
	"curve_lib/utils"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// seed offsets give every consumer of randomness its own stream.
const (
	seedModel uint64 = iota
	seedData
	seedAttack
	seedSelect
	seedT
)

// LoadData builds the train and evaluation sets for cfg.
func LoadData(cfg *utils.Config) (*data.Dataset, *data.Dataset, error) {
	var train, test *data.Dataset
	var err error
	switch cfg.Dataset {
	case "synthetic":
		train, test, err = data.Synthetic(cfg.Synthetic, rand.NewSource(cfg.Seed+seedData))
	case "csv":
		train, err = data.LoadCSV(filepath.Join(cfg.DataPath, "train.csv"), 0)
		if err == nil {
			test, err = data.LoadCSV(filepath.Join(cfg.DataPath, "test.csv"), train.Classes)
			if errors.Is(err, os.ErrNotExist) && !cfg.UseTest {
				test, err = nil, nil
			}
		}
	default:
		err = fmt.Errorf("unknown dataset %q", cfg.Dataset)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(cfg.InputShape) > 0 {
		train.Shape = cfg.InputShape
		if test != nil {
			test.Shape = cfg.InputShape
		}
	}
	return data.Split(train, test, cfg.UseTest)
}

// BuildModel constructs the base model or curve for cfg. Curve endpoints are
// loaded from init_start / init_end (unless resuming) and inner bends are
// initialized on the segment between them when init_linear is on.
func BuildModel(cfg *utils.Config, inputDim, classes int, log logrus.FieldLogger) (nn.Model, error) {
	arch, err := models.Lookup(cfg.Model)
	if err != nil {
		return nil, err
	}
	spec := models.Spec{InputDim: inputDim, InputShape: cfg.InputShape, NumClasses: classes, Hidden: cfg.Hidden, Dropout: cfg.Dropout}
	src := rand.NewSource(cfg.Seed + seedModel)
	if !cfg.IsCurve() {
		return arch.Base(spec, src)
	}

	curve, err := curves.Lookup(cfg.Curve, cfg.NumBends)
	if err != nil {
		return nil, err
	}
	net, err := arch.Curve(spec, curve, cfg.FixStart, cfg.FixEnd, src)
	if err != nil {
		return nil, err
	}
	if cfg.Resume != "" {
		return net, nil
	}
	var base *nn.Network
	for _, endpoint := range []struct {
		path  string
		index int
	}{{cfg.InitStart, 0}, {cfg.InitEnd, cfg.NumBends - 1}} {
		if endpoint.path == "" {
			continue
		}
		if base == nil {
			if base, err = arch.Base(spec, src); err != nil {
				return nil, err
			}
		}
		ckpt, err := utils.LoadCheckpoint(endpoint.path)
		if err != nil {
			return nil, err
		}
		if err := utils.LoadModelState(base, ckpt.ModelState); err != nil {
			return nil, fmt.Errorf("load %s: %w", endpoint.path, err)
		}
		if err := net.ImportBase(base, endpoint.index); err != nil {
			return nil, fmt.Errorf("import %s as point #%d: %w", endpoint.path, endpoint.index, err)
		}
		log.WithFields(logrus.Fields{"path": endpoint.path, "bend": endpoint.index}).Info("loaded curve endpoint")
	}
	if cfg.InitLinear {
		log.Info("linear initialization of inner bends")
		net.InitLinear()
	}
	return net, nil
}

// Setup wires a Trainer from a validated configuration. The returned
// trainer owns the history database; call Close when done.
func Setup(ctx context.Context, cfg *utils.Config, log logrus.FieldLogger) (*Trainer, error) {
	if err := utils.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	var stats utils.TimingStats

	start := time.Now()
	trainSet, testSet, err := LoadData(cfg)
	if err != nil {
		return nil, fmt.Errorf("load data: %w", err)
	}
	trainLoader, err := data.NewLoader(trainSet, cfg.BatchSize, true, cfg.Workers, rand.NewSource(cfg.Seed+seedData))
	if err != nil {
		return nil, err
	}
	testLoader, err := data.NewLoader(testSet, cfg.BatchSize, false, cfg.Workers, rand.NewSource(cfg.Seed+seedData))
	if err != nil {
		return nil, err
	}
	stats.DataLoadTime = time.Since(start)
	log.WithFields(logrus.Fields{"train": trainSet.Len(), "test": testSet.Len(), "dim": trainSet.Dim(), "classes": trainSet.Classes}).Info("loaded data")

	start = time.Now()
	model, err := BuildModel(cfg, trainSet.Dim(), trainSet.Classes, log)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	stats.ModelInitTime = time.Since(start)
	tensors, scalars := nn.NumParameters(model)
	log.WithFields(logrus.Fields{"model": cfg.Model, "curve": cfg.Curve, "layers": nn.Describe(model), "tensors": tensors, "weights": scalars}).Info("built model")

	var reg nn.Regularizer
	wd := cfg.WD
	if cfg.IsCurve() {
		reg = curves.L2Regularizer{WeightDecay: cfg.WD}
		wd = 0
	}
	active := dpu.NewActiveSet(nn.Trainable(model))
	opt, err := optim.NewSGD(active.Params(), optim.Defaults{LR: cfg.LR, Momentum: cfg.Momentum, WeightDecay: wd})
	if err != nil {
		return nil, err
	}

	kind, err := attack.ParseKind(cfg.PGD)
	if err != nil {
		return nil, err
	}
	var atk attack.Attack
	if kind != attack.None {
		if atk, err = attack.New(kind, cfg.IsCurve(), rand.NewSource(cfg.Seed+seedAttack)); err != nil {
			return nil, err
		}
	}

	step := &Step{Model: model, Criterion: nn.CrossEntropy, Regularizer: reg, Attack: atk}
	if cfg.IsCurve() {
		step.SampleT = distuv.Uniform{Min: 0, Max: 1, Src: rand.NewSource(cfg.Seed + seedT)}.Rand
	}

	selector, err := dpu.NewSelector(dpu.Config{Ratio: cfg.K, Random: cfg.RandomSelect, Curve: cfg.IsCurve()},
		atk, nn.CrossEntropy, reg, rand.NewSource(cfg.Seed+seedSelect), log)
	if err != nil {
		return nil, err
	}
	rounds, err := dpu.NewSchedule(cfg.Epochs, cfg.R)
	if err != nil {
		return nil, err
	}

	var history *utils.History
	if cfg.History {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, err
		}
		if history, err = utils.OpenHistory(ctx, filepath.Join(cfg.Dir, "history.db"), cfg.Dir); err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		log = log.WithField("run", history.RunID)
	}

	tr, err := NewTrainer(Options{Dir: cfg.Dir, Epochs: cfg.Epochs, SaveFreq: cfg.SaveFreq, Curve: cfg.IsCurve()},
		step, opt, active, selector, rounds, NewCurveSchedule(cfg.LR, cfg.Epochs), trainLoader, testLoader, history, log)
	if err != nil {
		if history != nil {
			history.Close()
		}
		return nil, err
	}
	tr.stats = stats
	if cfg.Resume != "" {
		if err := tr.Resume(cfg.Resume); err != nil {
			tr.Close()
			return nil, err
		}
	}
	return tr, nil
}

// Close releases the history database, if any.
func (tr *Trainer) Close() error {
	if tr.history == nil {
		return nil
	}
	return tr.history.Close()
}

// History returns the run history, nil when disabled.
func (tr *Trainer) History() *utils.History { return tr.history }
