package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"curve_lib/attack"
	"curve_lib/curves"
	"curve_lib/data"
	"curve_lib/models"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds training configuration
type Config struct {
	Dir       string               `mapstructure:"dir" yaml:"dir"`
	Dataset   string               `mapstructure:"dataset" yaml:"dataset"`
	DataPath  string               `mapstructure:"data_path" yaml:"data_path"`
	Synthetic data.SyntheticConfig `mapstructure:"synthetic" yaml:"synthetic"`
	UseTest   bool                 `mapstructure:"use_test" yaml:"use_test"`
	BatchSize int                  `mapstructure:"batch_size" yaml:"batch_size"`
	Workers   int                  `mapstructure:"workers" yaml:"workers"`

	// InputShape is the per-sample layout of a data row, e.g. [28 28].
	InputShape []int `mapstructure:"input_shape" yaml:"input_shape,omitempty"`

	Model   string  `mapstructure:"model" yaml:"model"`
	Hidden  []int   `mapstructure:"hidden" yaml:"hidden"`
	Dropout float64 `mapstructure:"dropout" yaml:"dropout"`

	Curve      string `mapstructure:"curve" yaml:"curve"`
	NumBends   int    `mapstructure:"num_bends" yaml:"num_bends"`
	InitStart  string `mapstructure:"init_start" yaml:"init_start"`
	InitEnd    string `mapstructure:"init_end" yaml:"init_end"`
	FixStart   bool   `mapstructure:"fix_start" yaml:"fix_start"`
	FixEnd     bool   `mapstructure:"fix_end" yaml:"fix_end"`
	InitLinear bool   `mapstructure:"init_linear" yaml:"init_linear"`

	Resume   string  `mapstructure:"resume" yaml:"resume"`
	Epochs   int     `mapstructure:"epochs" yaml:"epochs"`
	SaveFreq int     `mapstructure:"save_freq" yaml:"save_freq"`
	LR       float64 `mapstructure:"lr" yaml:"lr"`
	Momentum float64 `mapstructure:"momentum" yaml:"momentum"`
	WD       float64 `mapstructure:"wd" yaml:"wd"`
	Seed     uint64  `mapstructure:"seed" yaml:"seed"`

	PGD          string  `mapstructure:"pgd" yaml:"pgd"`
	R            int     `mapstructure:"r" yaml:"r"`
	K            float64 `mapstructure:"k" yaml:"k"`
	RandomSelect bool    `mapstructure:"random_select" yaml:"random_select"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	History  bool   `mapstructure:"history" yaml:"history"`
}

// SetDefaults registers the default value of every configuration key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("dir", "/tmp/curve/")
	v.SetDefault("dataset", "synthetic")
	v.SetDefault("data_path", "")
	v.SetDefault("synthetic.train", 2000)
	v.SetDefault("synthetic.test", 500)
	v.SetDefault("synthetic.dim", 32)
	v.SetDefault("synthetic.classes", 10)
	v.SetDefault("synthetic.spread", 0.15)
	v.SetDefault("use_test", false)
	v.SetDefault("batch_size", 128)
	v.SetDefault("workers", 4)

	v.SetDefault("model", "MLP")
	v.SetDefault("hidden", []int{128, 128})
	v.SetDefault("dropout", 0.0)

	v.SetDefault("curve", "")
	v.SetDefault("num_bends", 3)
	v.SetDefault("init_start", "")
	v.SetDefault("init_end", "")
	v.SetDefault("fix_start", false)
	v.SetDefault("fix_end", false)
	v.SetDefault("init_linear", true)

	v.SetDefault("resume", "")
	v.SetDefault("epochs", 200)
	v.SetDefault("save_freq", 50)
	v.SetDefault("lr", 0.01)
	v.SetDefault("momentum", 0.9)
	v.SetDefault("wd", 1e-4)
	v.SetDefault("seed", 1)

	v.SetDefault("pgd", "none")
	v.SetDefault("r", 5)
	v.SetDefault("k", 0.5)
	v.SetDefault("random_select", false)

	v.SetDefault("log_level", "info")
	v.SetDefault("history", true)
}

// LoadConfig resolves defaults, the optional YAML file at path and whatever
// flags or environment variables are bound to v.
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ParseArchitecture parses a hidden-layer string such as "512 256" or
// "512,256" into layer widths.
func ParseArchitecture(archStr string) ([]int, error) {
	archParts := strings.FieldsFunc(archStr, func(r rune) bool { return r == ' ' || r == ',' })
	arch := make([]int, len(archParts))
	for i, s := range archParts {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		arch[i] = n
	}
	return arch, nil
}

// IsCurve reports whether the run trains a curve rather than a base model.
func (c *Config) IsCurve() bool { return c.Curve != "" }

// ValidateConfig validates training configuration
func ValidateConfig(config *Config) error {
	var errs []error
	if config.Dir == "" {
		errs = append(errs, fmt.Errorf("training directory must be set"))
	}
	switch config.Dataset {
	case "synthetic":
	case "csv":
		if config.DataPath == "" {
			errs = append(errs, fmt.Errorf("csv dataset needs data_path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dataset %q (have synthetic, csv)", config.Dataset))
	}
	if len(config.InputShape) > 0 {
		size := 1
		for _, n := range config.InputShape {
			if n <= 0 {
				errs = append(errs, fmt.Errorf("input_shape entries must be positive, got %v", config.InputShape))
				break
			}
			size *= n
		}
		if config.Dataset == "synthetic" && size != config.Synthetic.Dim {
			errs = append(errs, fmt.Errorf("input_shape %v does not hold %d synthetic features", config.InputShape, config.Synthetic.Dim))
		}
	}
	if config.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be positive"))
	}
	if config.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be non-negative"))
	}
	if _, err := models.Lookup(config.Model); err != nil {
		errs = append(errs, err)
	}
	if config.Dropout < 0 || config.Dropout >= 1 {
		errs = append(errs, fmt.Errorf("dropout must be in [0,1)"))
	}
	if config.IsCurve() {
		if config.NumBends < 2 {
			errs = append(errs, fmt.Errorf("curve needs at least 2 bends, got %d", config.NumBends))
		} else if _, err := curves.Lookup(config.Curve, config.NumBends); err != nil {
			errs = append(errs, err)
		}
	}
	if config.Epochs < 1 {
		errs = append(errs, fmt.Errorf("epochs must be positive"))
	}
	if config.SaveFreq < 1 {
		errs = append(errs, fmt.Errorf("save_freq must be positive"))
	}
	if config.LR <= 0 {
		errs = append(errs, fmt.Errorf("learning rate must be positive"))
	}
	if config.Momentum < 0 || config.WD < 0 {
		errs = append(errs, fmt.Errorf("momentum and weight decay must be non-negative"))
	}
	if _, err := attack.ParseKind(config.PGD); err != nil {
		errs = append(errs, err)
	}
	if config.K <= 0 || config.K > 1 {
		errs = append(errs, fmt.Errorf("k must be in (0,1], got %v", config.K))
	}
	if config.R < 1 {
		errs = append(errs, fmt.Errorf("R must be at least 1, got %d", config.R))
	} else if config.R > config.Epochs {
		errs = append(errs, fmt.Errorf("R=%d exceeds epochs=%d", config.R, config.Epochs))
	}
	return errors.Join(errs...)
}

// WriteRunFiles records the invoking command line as command.sh and the
// resolved configuration as config.yaml inside dir.
func WriteRunFiles(dir string, argv []string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "command.sh"), []byte(strings.Join(argv, " ")+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write command.sh: %w", err)
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), out, 0o644); err != nil {
		return fmt.Errorf("failed to write config.yaml: %w", err)
	}
	return nil
}
