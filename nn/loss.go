package nn

import (
	"fmt"
	"math"

	"curve_lib/tensor"
)

// Criterion returns the mean loss over a batch of logits and its gradient
// with respect to the logits.
type Criterion func(logits *tensor.Tensor, targets []int) (float64, *tensor.Tensor, error)

// Regularizer adds a parameter penalty to the loss. Penalty and Backward read
// state cached by the model's last forward pass.
type Regularizer interface {
	Penalty(m Model) float64
	// Backward accumulates the penalty gradient into m's parameters.
	Backward(m Model) error
}

// Softmax applies the softmax function to a 1-D tensor.
func Softmax(logits *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(len(logits.Data))
	softmaxInto(out.Data, logits.Data)
	return out
}

func softmaxInto(dst, logits []float64) {
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	expSum := 0.0
	for i, v := range logits {
		e := math.Exp(v - maxLogit)
		dst[i] = e
		expSum += e
	}
	for i := range dst {
		dst[i] /= expSum
	}
}

func checkBatch(logits *tensor.Tensor, targets []int) (int, int, error) {
	if len(logits.Shape) != 2 {
		return 0, 0, fmt.Errorf("expected 2-D logits, got %v", logits.Shape)
	}
	n, c := logits.Shape[0], logits.Shape[1]
	if n != len(targets) {
		return 0, 0, fmt.Errorf("batch size %d, got %d targets", n, len(targets))
	}
	for _, y := range targets {
		if y < 0 || y >= c {
			return 0, 0, fmt.Errorf("target %d out of range for %d classes", y, c)
		}
	}
	return n, c, nil
}

// CrossEntropyPerSample returns the softmax cross-entropy of every row.
func CrossEntropyPerSample(logits *tensor.Tensor, targets []int) ([]float64, error) {
	n, c, err := checkBatch(logits, targets)
	if err != nil {
		return nil, err
	}
	probs := make([]float64, c)
	losses := make([]float64, n)
	for i := 0; i < n; i++ {
		softmaxInto(probs, logits.Row(i))
		losses[i] = -math.Log(math.Max(probs[targets[i]], 1e-12))
	}
	return losses, nil
}

// CrossEntropy is the mean softmax cross-entropy over the batch.
// grad = (softmax_output - one_hot_label) / batch
func CrossEntropy(logits *tensor.Tensor, targets []int) (float64, *tensor.Tensor, error) {
	n, c, err := checkBatch(logits, targets)
	if err != nil {
		return 0, nil, err
	}
	grad := tensor.New(n, c)
	loss := 0.0
	for i := 0; i < n; i++ {
		row := grad.Row(i)
		softmaxInto(row, logits.Row(i))
		loss -= math.Log(math.Max(row[targets[i]], 1e-12))
		row[targets[i]] -= 1
		for j := range row {
			row[j] /= float64(n)
		}
	}
	return loss / float64(n), grad, nil
}

// Argmax returns the column index of the largest logit per row.
func Argmax(logits *tensor.Tensor) []int {
	n := logits.Rows()
	out := make([]int, n)
	for i := 0; i < n; i++ {
		row := logits.Row(i)
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		out[i] = best
	}
	return out
}

// Correct counts rows whose argmax equals the target.
func Correct(logits *tensor.Tensor, targets []int) int {
	n := 0
	for i, p := range Argmax(logits) {
		if p == targets[i] {
			n++
		}
	}
	return n
}
