package data

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// SyntheticConfig describes a Gaussian-blob classification problem.
type SyntheticConfig struct {
	Train   int     `mapstructure:"train" yaml:"train"`
	Test    int     `mapstructure:"test" yaml:"test"`
	Dim     int     `mapstructure:"dim" yaml:"dim"`
	Classes int     `mapstructure:"classes" yaml:"classes"`
	Spread  float64 `mapstructure:"spread" yaml:"spread"`
}

// Synthetic draws one blob center per class in [0.2,0.8]^dim and samples
// points around it with standard deviation Spread, clipped to [0,1]. Train
// and test share the centers.
func Synthetic(cfg SyntheticConfig, src rand.Source) (train, test *Dataset, err error) {
	if cfg.Train < 1 || cfg.Test < 0 || cfg.Dim < 1 || cfg.Classes < 2 || cfg.Spread < 0 {
		return nil, nil, fmt.Errorf("invalid synthetic dataset config %+v", cfg)
	}
	rng := rand.New(src)
	centre := distuv.Uniform{Min: 0.2, Max: 0.8, Src: rng}
	centers := make([][]float64, cfg.Classes)
	for c := range centers {
		centers[c] = make([]float64, cfg.Dim)
		for j := range centers[c] {
			centers[c][j] = centre.Rand()
		}
	}
	noise := distuv.Normal{Mu: 0, Sigma: cfg.Spread, Src: rng}
	draw := func(n int) *Dataset {
		ds := &Dataset{Inputs: make([][]float64, n), Labels: make([]int, n), Classes: cfg.Classes}
		for i := 0; i < n; i++ {
			c := rng.Intn(cfg.Classes)
			row := make([]float64, cfg.Dim)
			for j := range row {
				v := centers[c][j]
				if cfg.Spread > 0 {
					v += noise.Rand()
				}
				row[j] = min(1, max(0, v))
			}
			ds.Inputs[i] = row
			ds.Labels[i] = c
		}
		return ds
	}
	return draw(cfg.Train), draw(cfg.Test), nil
}
