// curve-train: adversarial curve trainer with dynamic parameter update
//
// Usage:
//
//	curve-train --dir=/tmp/curve --curve=Bezier --num_bends=3 --init_start=a.json --init_end=b.json --fix_start --fix_end --pgd=inf --R=5 --k=0.5
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"curve_lib/train"
	"curve_lib/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// flagKeys maps CLI flags onto configuration keys.
var flagKeys = map[string]string{
	"dir":           "dir",
	"dataset":       "dataset",
	"data_path":     "data_path",
	"use_test":      "use_test",
	"batch_size":    "batch_size",
	"num-workers":   "workers",
	"model":         "model",
	"dropout":       "dropout",
	"curve":         "curve",
	"num_bends":     "num_bends",
	"init_start":    "init_start",
	"init_end":      "init_end",
	"fix_start":     "fix_start",
	"fix_end":       "fix_end",
	"resume":        "resume",
	"epochs":        "epochs",
	"save_freq":     "save_freq",
	"lr":            "lr",
	"momentum":      "momentum",
	"wd":            "wd",
	"seed":          "seed",
	"pgd":           "pgd",
	"R":             "r",
	"k":             "k",
	"random_select": "random_select",
	"log_level":     "log_level",
	"history":       "history",
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var (
		configPath    string
		hidden        string
		inputShape    string
		initLinearOff bool
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "curve-train",
		Short: "Adversarial mode-connectivity curve training",
		Long: `Trains a base model or a curve between two base models under an optional
adversarial attack, periodically re-selecting the subset of parameters that
receive updates from their gradient magnitudes.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := utils.LoadConfig(v, configPath)
			if err != nil {
				return err
			}
			if hidden != "" {
				if cfg.Hidden, err = utils.ParseArchitecture(hidden); err != nil {
					return fmt.Errorf("invalid --hidden: %w", err)
				}
			}
			if inputShape != "" {
				if cfg.InputShape, err = utils.ParseArchitecture(inputShape); err != nil {
					return fmt.Errorf("invalid --input_shape: %w", err)
				}
			}
			if initLinearOff {
				cfg.InitLinear = false
			}

			log, err := utils.NewLogger(cfg.LogLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := utils.WriteRunFiles(cfg.Dir, os.Args, cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tr, err := train.Setup(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer tr.Close()

			first := tr.StartEpoch()
			if err := tr.Run(ctx); err != nil {
				return err
			}
			log.WithField("dir", cfg.Dir).Info("training complete")

			utils.Verbose = verbose
			utils.Output = cmd.OutOrStdout()
			stats := tr.Stats()
			utils.PrintTimingStats(&stats, cfg.Epochs-first+1)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML configuration file")
	f.String("dir", "/tmp/curve/", "training directory")
	f.String("dataset", "synthetic", "dataset: synthetic or csv")
	f.String("data_path", "", "directory holding train.csv and test.csv")
	f.Bool("use_test", false, "evaluate on the test set instead of a validation split")
	f.Int("batch_size", 128, "input batch size")
	f.Int("num-workers", 4, "batches prepared ahead of the training step")
	f.StringVar(&inputShape, "input_shape", "", "per-sample layout of a data row, e.g. \"28 28\"")
	f.String("model", "MLP", "model name")
	f.StringVar(&hidden, "hidden", "", "hidden layer widths, e.g. \"512 256\"")
	f.Float64("dropout", 0, "dropout probability after hidden layers")
	f.String("curve", "", "curve type to use (Bezier, PolyChain); empty trains a base model")
	f.Int("num_bends", 3, "number of curve bends")
	f.String("init_start", "", "checkpoint to init start point")
	f.String("init_end", "", "checkpoint to init end point")
	f.Bool("fix_start", false, "fix start point")
	f.Bool("fix_end", false, "fix end point")
	f.BoolVar(&initLinearOff, "init_linear_off", false, "turns off linear initialization of intermediate points")
	f.String("resume", "", "checkpoint to resume training from")
	f.Int("epochs", 200, "number of epochs to train")
	f.Int("save_freq", 50, "save frequency")
	f.Float64("lr", 0.01, "initial learning rate")
	f.Float64("momentum", 0.9, "SGD momentum")
	f.Float64("wd", 1e-4, "weight decay")
	f.Uint64("seed", 1, "random seed")
	f.String("pgd", "none", "attack: none, inf, 2, 1, msd")
	f.Int("R", 5, "rounds of weight selection")
	f.Float64("k", 0.5, "ratio of parameters to be updated")
	f.Bool("random_select", false, "randomly select weights by ratio")
	f.String("log_level", "info", "log level: debug, info, warn, error")
	f.Bool("history", true, "record epoch metrics in <dir>/history.db")
	f.BoolVar(&verbose, "verbose", false, "print timing statistics at the end")

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	v.SetEnvPrefix("CURVE")
	v.AutomaticEnv()
	return cmd
}
