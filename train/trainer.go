package train

import (
	"context"
	"fmt"
	"time"

	"curve_lib/data"
	"curve_lib/dpu"
	"curve_lib/nn"
	"curve_lib/optim"
	"curve_lib/utils"

	"github.com/sirupsen/logrus"
)

// Options fixes the epoch loop.
type Options struct {
	Dir      string
	Epochs   int
	SaveFreq int
	Curve    bool
}

// EpochResult is what one epoch reports.
type EpochResult struct {
	Epoch    int
	LR       float64
	Train    TrainResult
	Test     TestResult
	Active   int
	Selected *dpu.Result
	Duration time.Duration
	// Timing splits the epoch into selection, attack, train and eval time.
	Timing utils.TimingStats
}

// Trainer owns the model, the optimizer and the active parameter set across
// epochs. The optimizer is replaced whenever selection runs.
type Trainer struct {
	opts      Options
	model     nn.Model
	opt       optim.Optimizer
	active    *dpu.ActiveSet
	step      *Step
	selector  *dpu.Selector
	rounds    dpu.Schedule
	scheduler LRScheduler
	trainData *data.Loader
	testData  *data.Loader
	history   *utils.History
	log       logrus.FieldLogger

	start int
	stats utils.TimingStats
	// OnEpoch, if set, observes every finished epoch.
	OnEpoch func(EpochResult)
}

// NewTrainer starts at epoch 1 unless Resume is called.
func NewTrainer(opts Options, step *Step, opt optim.Optimizer, active *dpu.ActiveSet, selector *dpu.Selector,
	rounds dpu.Schedule, scheduler LRScheduler, trainData, testData *data.Loader, history *utils.History,
	log logrus.FieldLogger) (*Trainer, error) {
	if opts.Epochs < 1 || opts.SaveFreq < 1 {
		return nil, fmt.Errorf("train: epochs and save_freq must be positive, got %d and %d", opts.Epochs, opts.SaveFreq)
	}
	if step == nil || step.Model == nil || opt == nil || active == nil || selector == nil || trainData == nil || testData == nil {
		return nil, fmt.Errorf("train: missing trainer component")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Trainer{
		opts:      opts,
		model:     step.Model,
		opt:       opt,
		active:    active,
		step:      step,
		selector:  selector,
		rounds:    rounds,
		scheduler: scheduler,
		trainData: trainData,
		testData:  testData,
		history:   history,
		log:       log,
		start:     1,
	}, nil
}

func (tr *Trainer) Model() nn.Model            { return tr.model }
func (tr *Trainer) Optimizer() optim.Optimizer { return tr.opt }
func (tr *Trainer) Active() *dpu.ActiveSet     { return tr.active }
func (tr *Trainer) StartEpoch() int            { return tr.start }
func (tr *Trainer) Stats() utils.TimingStats   { return tr.stats }

// Resume restores parameters, the active set and optimizer state from a
// checkpoint; training continues at the following epoch.
func (tr *Trainer) Resume(path string) error {
	ckpt, err := utils.LoadCheckpoint(path)
	if err != nil {
		return err
	}
	if err := utils.LoadModelState(tr.model, ckpt.ModelState); err != nil {
		return fmt.Errorf("resume %s: %w", path, err)
	}
	active := tr.active
	if len(ckpt.Active) > 0 {
		names := make([]string, len(ckpt.Active))
		for i, n := range ckpt.Active {
			names[i] = utils.NormalizeKey(n)
		}
		if active, err = dpu.FromNames(tr.model.Parameters(), names); err != nil {
			return fmt.Errorf("resume %s: %w", path, err)
		}
	}
	state := ckpt.OptimizerState
	for i, n := range state.Params {
		state.Params[i] = utils.NormalizeKey(n)
	}
	if len(state.Momentum) > 0 {
		momentum := make(map[string][]float64, len(state.Momentum))
		for n, buf := range state.Momentum {
			momentum[utils.NormalizeKey(n)] = buf
		}
		state.Momentum = momentum
	}
	opt, err := tr.opt.Rebuild(active.Params())
	if err != nil {
		return fmt.Errorf("resume %s: %w", path, err)
	}
	if err := opt.LoadState(state); err != nil {
		return fmt.Errorf("resume %s: %w", path, err)
	}
	tr.active, tr.opt = active, opt
	tr.start = ckpt.Epoch + 1
	tr.log.WithFields(logrus.Fields{"path": path, "epoch": ckpt.Epoch, "active": active.Len()}).Info("resumed training")
	return nil
}

func (tr *Trainer) save(epoch int) error {
	start := time.Now()
	path, err := utils.SaveCheckpoint(tr.opts.Dir, epoch, tr.model, tr.opt, tr.active.Names())
	tr.stats.CheckpointTime += time.Since(start)
	if err != nil {
		return fmt.Errorf("checkpoint epoch %d: %w", epoch, err)
	}
	tr.log.WithField("path", path).Debug("saved checkpoint")
	return nil
}

// Run trains from the start epoch to the last one. It saves the state before
// the first epoch, every SaveFreq epochs and after the last epoch.
func (tr *Trainer) Run(ctx context.Context) error {
	runStart := time.Now()
	defer func() { tr.stats.TotalTime += time.Since(runStart) }()

	if err := tr.save(tr.start - 1); err != nil {
		return err
	}
	for epoch := tr.start; epoch <= tr.opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := tr.epoch(ctx, epoch)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if epoch%tr.opts.SaveFreq == 0 {
			if err := tr.save(epoch); err != nil {
				return err
			}
		}
		res.Duration = time.Since(res.startedAt)
		tr.stats.Add(res.Timing)
		tr.report(ctx, res.EpochResult)
	}
	if tr.opts.Epochs%tr.opts.SaveFreq != 0 {
		return tr.save(tr.opts.Epochs)
	}
	return nil
}

type epochRun struct {
	EpochResult
	startedAt time.Time
}

func (tr *Trainer) epoch(ctx context.Context, epoch int) (*epochRun, error) {
	res := &epochRun{EpochResult: EpochResult{Epoch: epoch}, startedAt: time.Now()}

	if tr.rounds.Contains(epoch) {
		start := time.Now()
		probe, err := tr.trainData.First(ctx)
		if err != nil {
			return nil, err
		}
		sel, err := tr.selector.Select(tr.model, tr.opt, tr.active, probe.Input, probe.Targets)
		res.Timing.SelectionTime += time.Since(start)
		if err != nil {
			return nil, err
		}
		tr.opt, tr.active = sel.Optimizer, sel.Active
		res.Selected = &sel
		if tr.history != nil {
			round := utils.RoundRecord{Epoch: epoch, Scored: sel.Scored, Kept: sel.Kept, Threshold: sel.Threshold, Skipped: sel.Skipped}
			if err := tr.history.RecordRound(ctx, round); err != nil {
				return nil, fmt.Errorf("record selection round: %w", err)
			}
		}
	}

	res.LR = tr.scheduler.LR(epoch)
	tr.opt.SetLR(res.LR)

	start := time.Now()
	trainRes, err := tr.step.Train(ctx, tr.trainData, tr.opt)
	res.Timing.TrainTime += time.Since(start)
	res.Timing.AttackTime += trainRes.AttackTime
	if err != nil {
		return nil, fmt.Errorf("train pass: %w", err)
	}
	res.Train = trainRes

	start = time.Now()
	testRes, err := tr.step.Test(ctx, tr.testData)
	res.Timing.EvalTime += time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("evaluation pass: %w", err)
	}
	res.Test = testRes
	res.Active = tr.active.Len()
	return res, nil
}

func (tr *Trainer) report(ctx context.Context, res EpochResult) {
	fields := logrus.Fields{
		"ep":      res.Epoch,
		"lr":      fmt.Sprintf("%.4f", res.LR),
		"tr_loss": fmt.Sprintf("%.4f", res.Train.Loss),
		"tr_acc":  fmt.Sprintf("%.4f", res.Train.Accuracy),
		"te_nll":  fmt.Sprintf("%.4f", res.Test.NLL),
		"te_acc":  fmt.Sprintf("%.4f", res.Test.Accuracy),
		"time":    fmt.Sprintf("%.4f", res.Duration.Seconds()),
	}
	if tr.opts.Curve {
		fields["tr_t"] = fmt.Sprintf("%.4f", res.Train.T)
		fields["te_t"] = fmt.Sprintf("%.4f", res.Test.T)
	}
	tr.log.WithFields(fields).Info("epoch")
	tr.log.WithFields(logrus.Fields{
		"ep":        res.Epoch,
		"select_us": utils.DurationUS(res.Timing.SelectionTime),
		"attack_us": utils.DurationUS(res.Timing.AttackTime),
		"train_us":  utils.DurationUS(res.Timing.TrainTime),
		"eval_us":   utils.DurationUS(res.Timing.EvalTime),
	}).Debug("epoch timing")

	if tr.history != nil {
		rec := utils.EpochRecord{
			Epoch: res.Epoch, LR: res.LR,
			TrainLoss: res.Train.Loss, TrainAcc: res.Train.Accuracy, TrainT: res.Train.T,
			TestNLL: res.Test.NLL, TestLoss: res.Test.Loss, TestAcc: res.Test.Accuracy, TestT: res.Test.T,
			Active: res.Active, Duration: res.Duration,
		}
		if err := tr.history.RecordEpoch(ctx, rec); err != nil {
			tr.log.WithError(err).Warn("failed to record epoch history")
		}
	}
	if tr.OnEpoch != nil {
		tr.OnEpoch(res)
	}
}
