// Package data holds in-memory classification datasets and the batch loader
// that feeds the training loop.
package data

import (
	"fmt"

	"curve_lib/tensor"
)

// Dataset is a labelled set of flat feature vectors in [0,1]. Shape, when
// set, is the per-sample layout of a row (e.g. [28 28]); batches then come
// out as (batch, Shape...).
type Dataset struct {
	Inputs  [][]float64
	Labels  []int
	Classes int
	Shape   []int
}

// Batch is a row-major (batch, ...) input and its labels.
type Batch struct {
	Input   *tensor.Tensor
	Targets []int
}

func (d *Dataset) Len() int { return len(d.Inputs) }

// Dim is the feature count, 0 for an empty dataset.
func (d *Dataset) Dim() int {
	if len(d.Inputs) == 0 {
		return 0
	}
	return len(d.Inputs[0])
}

// Validate checks that rows are non-empty, equally sized and labelled within
// [0,Classes).
func (d *Dataset) Validate() error {
	if len(d.Inputs) == 0 {
		return fmt.Errorf("dataset is empty")
	}
	if len(d.Inputs) != len(d.Labels) {
		return fmt.Errorf("dataset has %d inputs but %d labels", len(d.Inputs), len(d.Labels))
	}
	if d.Classes < 2 {
		return fmt.Errorf("dataset needs at least 2 classes, got %d", d.Classes)
	}
	dim := d.Dim()
	if dim == 0 {
		return fmt.Errorf("dataset rows are empty")
	}
	if len(d.Shape) > 0 {
		size := 1
		for _, n := range d.Shape {
			size *= n
		}
		if size != dim {
			return fmt.Errorf("sample shape %v holds %d values, rows have %d", d.Shape, size, dim)
		}
	}
	for i, row := range d.Inputs {
		if len(row) != dim {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), dim)
		}
		if y := d.Labels[i]; y < 0 || y >= d.Classes {
			return fmt.Errorf("row %d label %d outside [0,%d)", i, y, d.Classes)
		}
	}
	return nil
}

// SampleShape is Shape, or [Dim] for flat datasets.
func (d *Dataset) SampleShape() []int {
	if len(d.Shape) > 0 {
		return d.Shape
	}
	return []int{d.Dim()}
}

// Gather copies the rows at idx into one batch.
func (d *Dataset) Gather(idx []int) Batch {
	dim := d.Dim()
	x := tensor.New(append([]int{len(idx)}, d.SampleShape()...)...)
	y := make([]int, len(idx))
	for i, j := range idx {
		copy(x.Data[i*dim:(i+1)*dim], d.Inputs[j])
		y[i] = d.Labels[j]
	}
	return Batch{Input: x, Targets: y}
}

func (d *Dataset) slice(from, to int) *Dataset {
	return &Dataset{Inputs: d.Inputs[from:to], Labels: d.Labels[from:to], Classes: d.Classes, Shape: d.Shape}
}

// validationSize mirrors the usual 5000-sample holdout, shrunk to a tenth for
// small datasets.
func validationSize(n int) int {
	if n >= 50000 {
		return 5000
	}
	v := n / 10
	if v < 1 {
		v = 1
	}
	return v
}

// Split returns the train and evaluation sets. With useTest the held-out test
// set is used as is; otherwise the tail of train becomes a validation set and
// test is ignored.
func Split(train, test *Dataset, useTest bool) (*Dataset, *Dataset, error) {
	if err := train.Validate(); err != nil {
		return nil, nil, fmt.Errorf("train set: %w", err)
	}
	if useTest {
		if test == nil {
			return nil, nil, fmt.Errorf("use_test requested but no test set was loaded")
		}
		if err := test.Validate(); err != nil {
			return nil, nil, fmt.Errorf("test set: %w", err)
		}
		if test.Dim() != train.Dim() {
			return nil, nil, fmt.Errorf("test set has %d features, train set %d", test.Dim(), train.Dim())
		}
		return train, test, nil
	}
	n := train.Len()
	if n < 2 {
		return nil, nil, fmt.Errorf("train set of %d samples is too small to split", n)
	}
	cut := n - validationSize(n)
	return train.slice(0, cut), train.slice(cut, n), nil
}
