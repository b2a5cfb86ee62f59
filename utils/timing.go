package utils

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Verbose controls whether timing statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where timing statistics are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// TimingStats holds timing information for the phases of a run
type TimingStats struct {
	TotalTime      time.Duration
	DataLoadTime   time.Duration
	ModelInitTime  time.Duration
	SelectionTime  time.Duration
	AttackTime     time.Duration
	TrainTime      time.Duration
	EvalTime       time.Duration
	CheckpointTime time.Duration
}

// Add accumulates o into s.
func (s *TimingStats) Add(o TimingStats) {
	s.TotalTime += o.TotalTime
	s.DataLoadTime += o.DataLoadTime
	s.ModelInitTime += o.ModelInitTime
	s.SelectionTime += o.SelectionTime
	s.AttackTime += o.AttackTime
	s.TrainTime += o.TrainTime
	s.EvalTime += o.EvalTime
	s.CheckpointTime += o.CheckpointTime
}

func share(part, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// PrintTimingStats prints detailed timing statistics.
// Respects the Verbose flag - does nothing if Verbose is false.
func PrintTimingStats(stats *TimingStats, epochs int) {
	if !Verbose {
		return
	}
	fmt.Fprintln(Output, "\n=== TIMING STATISTICS ===")
	fmt.Fprintf(Output, "Total training time: %v\n", stats.TotalTime)
	if epochs > 0 {
		fmt.Fprintf(Output, "Average time per epoch: %v\n", stats.TotalTime/time.Duration(epochs))
	}
	fmt.Fprintf(Output, "Epochs completed: %d\n", epochs)
	fmt.Fprintln(Output, "\nBreakdown by phase:")
	fmt.Fprintf(Output, "  Data loading: %v (%.1f%%)\n", stats.DataLoadTime, share(stats.DataLoadTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Model initialization: %v (%.1f%%)\n", stats.ModelInitTime, share(stats.ModelInitTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Parameter selection: %v (%.1f%%)\n", stats.SelectionTime, share(stats.SelectionTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Training passes: %v (%.1f%%)\n", stats.TrainTime, share(stats.TrainTime, stats.TotalTime))
	fmt.Fprintf(Output, "    of which attacks: %v (%.1f%% of training)\n", stats.AttackTime, share(stats.AttackTime, stats.TrainTime))
	fmt.Fprintf(Output, "  Evaluation passes: %v (%.1f%%)\n", stats.EvalTime, share(stats.EvalTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Checkpoints: %v (%.1f%%)\n", stats.CheckpointTime, share(stats.CheckpointTime, stats.TotalTime))
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
