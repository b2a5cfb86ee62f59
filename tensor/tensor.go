package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tensor is a simple n-D array backed by a flat []float64.
type Tensor struct {
	Data  []float64
	Shape []int
}

// New allocates a Tensor of given shape (product of dims = len(Data)).
func New(shape ...int) *Tensor {
	total := 1
	for _, d := range shape {
		total *= d
	}
	return &Tensor{
		Data:  make([]float64, total),
		Shape: append([]int(nil), shape...),
	}
}

// NewWithData creates a tensor of the given shape that copies data.
func NewWithData(data []float64, shape ...int) *Tensor {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	return &Tensor{
		Data:  append([]float64(nil), data...),
		Shape: append([]int(nil), shape...),
	}
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return NewWithData(t.Data, t.Shape...)
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// AddScaled performs dst += alpha*src in place.
func AddScaled(dst *Tensor, alpha float64, src *Tensor) error {
	if len(dst.Data) != len(src.Data) {
		return fmt.Errorf("size mismatch: %d vs %d", len(dst.Data), len(src.Data))
	}
	floats.AddScaled(dst.Data, alpha, src.Data)
	return nil
}

// Scale multiplies every element by c in place.
func (t *Tensor) Scale(c float64) {
	floats.Scale(c, t.Data)
}

// Zero sets every element to 0.
func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// SumSquares returns Σ x².
func (t *Tensor) SumSquares() float64 {
	return floats.Dot(t.Data, t.Data)
}

// MatMul returns a×b (2-D only), or error if dims mismatch.
func MatMul(a, b *Tensor) (*Tensor, error) {
	return matMul(a, b, false, false)
}

// MatMulT returns a×bᵀ (2-D only).
func MatMulT(a, b *Tensor) (*Tensor, error) {
	return matMul(a, b, false, true)
}

// TMatMul returns aᵀ×b (2-D only).
func TMatMul(a, b *Tensor) (*Tensor, error) {
	return matMul(a, b, true, false)
}

func matMul(a, b *Tensor, transA, transB bool) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2-D tensors, got %v and %v", a.Shape, b.Shape)
	}
	var ma, mb mat.Matrix = mat.NewDense(a.Shape[0], a.Shape[1], a.Data), mat.NewDense(b.Shape[0], b.Shape[1], b.Data)
	if transA {
		ma = ma.T()
	}
	if transB {
		mb = mb.T()
	}
	r, k := ma.Dims()
	k2, c := mb.Dims()
	if k != k2 {
		return nil, fmt.Errorf("inner dimensions must match: %d vs %d", k, k2)
	}
	out := New(r, c)
	mat.NewDense(r, c, out.Data).Mul(ma, mb)
	return out, nil
}

// Row returns a view of the i-th slice along the leading dimension, so for a
// (batch, c, h, w) tensor it is the whole sample.
func (t *Tensor) Row(i int) []float64 {
	cols := len(t.Data) / t.Shape[0]
	return t.Data[i*cols : (i+1)*cols]
}

// Rows returns the leading dimension.
func (t *Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// ReluPlain applies ReLU to each element in a, returns new Tensor.
func ReluPlain(a *Tensor) *Tensor {
	out := New(a.Shape...)
	for i, v := range a.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	return out
}

// Clamp limits every element to [lo, hi] in place.
func (t *Tensor) Clamp(lo, hi float64) {
	for i, v := range t.Data {
		if v < lo {
			t.Data[i] = lo
		} else if v > hi {
			t.Data[i] = hi
		}
	}
}

// At returns the element at the given indices.
// For a 4D tensor [a, b, c, d], At(i, j, k, l) returns the element at position [i][j][k][l].
func (t *Tensor) At(indices ...int) float64 {
	return t.Data[t.offset("At", indices)]
}

// Set sets the element at the given indices to the given value.
func (t *Tensor) Set(value float64, indices ...int) {
	t.Data[t.offset("Set", indices)] = value
}

func (t *Tensor) offset(op string, indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("%s: expected %d indices, got %d", op, len(t.Shape), len(indices)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("%s: index %d out of bounds for dimension %d (shape: %v)", op, indices[i], i, t.Shape))
		}
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}
