package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"curve_lib/nn"
	"curve_lib/optim"
	"curve_lib/tensor"
)

var (
	// ErrUnknownParameter marks a checkpoint entry the model does not have.
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrMissingParameter marks a model parameter the checkpoint lacks.
	ErrMissingParameter = errors.New("missing parameter")
	// ErrShapeMismatch marks an entry whose shape differs from the model's.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNonFinite marks a NaN or infinite value, which JSON cannot encode.
	// Training has diverged when a checkpoint hits it.
	ErrNonFinite = errors.New("non-finite value")
)

// parallelPrefix is prepended to every key by data-parallel wrappers.
const parallelPrefix = "module."

// WeightData represents serializable weight data for a parameter
type WeightData struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Checkpoint is the on-disk training state after an epoch.
type Checkpoint struct {
	Epoch          int                    `json:"epoch"`
	ModelState     map[string]*WeightData `json:"model_state"`
	OptimizerState optim.State            `json:"optimizer_state"`
	Active         []string               `json:"active"`
}

// TensorToWeightData converts a tensor to serializable weight data
func TensorToWeightData(t *tensor.Tensor) *WeightData {
	return &WeightData{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64{}, t.Data...), // copy
	}
}

// WeightDataToTensor converts weight data back to a tensor
func WeightDataToTensor(wd *WeightData) *tensor.Tensor {
	t := tensor.New(wd.Shape...)
	copy(t.Data, wd.Data)
	return t
}

// CheckpointPath names the checkpoint file of an epoch.
func CheckpointPath(dir string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("checkpoint-%d.json", epoch))
}

// ModelState snapshots every parameter of m by name.
func ModelState(m nn.Model) map[string]*WeightData {
	state := make(map[string]*WeightData)
	for _, p := range m.Parameters() {
		state[p.Name] = TensorToWeightData(p.Value)
	}
	return state
}

// NormalizeKey strips the data-parallel "module." prefix.
func NormalizeKey(key string) string {
	return strings.TrimPrefix(key, parallelPrefix)
}

// LoadModelState copies state into m. Every key must name a parameter of m
// (after normalization), every parameter must be present and shapes must
// match; nothing is written unless the whole state is valid.
func LoadModelState(m nn.Model, state map[string]*WeightData) error {
	byName := make(map[string]*nn.Parameter)
	for _, p := range m.Parameters() {
		byName[p.Name] = p
	}
	normalized := make(map[string]*WeightData, len(state))
	for key, wd := range state {
		name := NormalizeKey(key)
		p, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w %q", ErrUnknownParameter, key)
		}
		if wd == nil || !sameShape(p.Value.Shape, wd.Shape) || len(wd.Data) != p.Value.Len() {
			return fmt.Errorf("%w for %s", ErrShapeMismatch, name)
		}
		normalized[name] = wd
	}
	var missing []string
	for name := range byName {
		if _, ok := normalized[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrMissingParameter, strings.Join(missing, ", "))
	}
	for name, wd := range normalized {
		copy(byName[name].Value.Data, wd.Data)
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedKeys(state map[string]*WeightData) []string {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstNonFinite(data []float64) int {
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}

func checkFinite(ckpt Checkpoint) error {
	for _, name := range sortedKeys(ckpt.ModelState) {
		if i := firstNonFinite(ckpt.ModelState[name].Data); i >= 0 {
			return fmt.Errorf("%w in parameter %s at %d (%v)", ErrNonFinite, name, i, ckpt.ModelState[name].Data[i])
		}
	}
	for name, buf := range ckpt.OptimizerState.Momentum {
		if i := firstNonFinite(buf); i >= 0 {
			return fmt.Errorf("%w in momentum of %s at %d (%v)", ErrNonFinite, name, i, buf[i])
		}
	}
	if v := ckpt.OptimizerState.LR; math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w in learning rate (%v)", ErrNonFinite, v)
	}
	return nil
}

// SaveCheckpoint writes checkpoint-<epoch>.json into dir and returns its path.
func SaveCheckpoint(dir string, epoch int, m nn.Model, opt optim.Optimizer, active []string) (string, error) {
	ckpt := Checkpoint{
		Epoch:          epoch,
		ModelState:     ModelState(m),
		OptimizerState: opt.State(),
		Active:         append([]string(nil), active...),
	}
	if err := checkFinite(ckpt); err != nil {
		return "", fmt.Errorf("checkpoint epoch %d: %w", epoch, err)
	}
	data, err := json.Marshal(ckpt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := CheckpointPath(dir, epoch)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return path, nil
}

// LoadCheckpoint loads a checkpoint from a JSON file
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var ckpt Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if ckpt.ModelState == nil {
		return nil, fmt.Errorf("checkpoint %s has no model_state", path)
	}
	return &ckpt, nil
}
