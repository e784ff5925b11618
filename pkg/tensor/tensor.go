// Package tensor provides the dense N-dimensional array used throughout kspacegan.
// Data is stored as float64 in row-major order. Complex-valued arrays keep their
// real and imaginary parts in a trailing dimension of size 2.
package tensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrShape is returned when a shape does not match the data or the operation.
var ErrShape = errors.New("tensor: invalid shape")

// Tensor is a dense row-major array of float64 values
type Tensor struct {
	shape []int
	data  []float64
}

// New creates a tensor over data with the given shape. The data slice is used
// as the backing store without copying.
func New(shape []int, data []float64) (*Tensor, error) {
	n, err := numel(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShape, shape, n, len(data))
	}
	return &Tensor{shape: append([]int(nil), shape...), data: data}, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape ...int) *Tensor {
	n, err := numel(shape)
	if err != nil {
		panic(err)
	}
	return &Tensor{shape: append([]int(nil), shape...), data: make([]float64, n)}
}

// Full allocates a tensor with every element set to v.
func Full(v float64, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

func numel(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrShape, shape)
		}
		n *= d
	}
	return n, nil
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// NDim returns the number of dimensions.
func (t *Tensor) NDim() int {
	return len(t.shape)
}

// Dim returns the size of dimension i. Negative indices count from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// Len returns the total number of elements.
func (t *Tensor) Len() int {
	return len(t.data)
}

// Data returns the backing slice. Callers that did not create the tensor
// must treat it as read-only.
func (t *Tensor) Data() []float64 {
	return t.data
}

// Strides returns the row-major element strides of each dimension.
func (t *Tensor) Strides() []int {
	strides := make([]int, len(t.shape))
	s := 1
	for i := len(t.shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= t.shape[i]
	}
	return strides
}

// At returns the element at the given multi-index.
func (t *Tensor) At(idx ...int) float64 {
	return t.data[t.offset(idx)]
}

// Set stores v at the given multi-index.
func (t *Tensor) Set(v float64, idx ...int) {
	t.data[t.offset(idx)] = v
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: index %v has wrong rank for shape %v", idx, t.shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		off = off*t.shape[i] + v
	}
	return off
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: t.Shape(), data: append([]float64(nil), t.data...)}
}

// Reshape returns a tensor with a new shape sharing the same data.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	return New(shape, t.data)
}

// Unsqueeze inserts a dimension of size 1 at position dim, sharing data.
func (t *Tensor) Unsqueeze(dim int) *Tensor {
	if dim < 0 {
		dim += len(t.shape) + 1
	}
	shape := make([]int, 0, len(t.shape)+1)
	shape = append(shape, t.shape[:dim]...)
	shape = append(shape, 1)
	shape = append(shape, t.shape[dim:]...)
	return &Tensor{shape: shape, data: t.data}
}

// Narrow copies the sub-box starting at start with the given size. Both slices
// must have one entry per dimension.
func (t *Tensor) Narrow(start, size []int) (*Tensor, error) {
	if len(start) != len(t.shape) || len(size) != len(t.shape) {
		return nil, fmt.Errorf("%w: narrow rank mismatch for shape %v", ErrShape, t.shape)
	}
	for i := range t.shape {
		if start[i] < 0 || size[i] < 0 || start[i]+size[i] > t.shape[i] {
			return nil, fmt.Errorf("%w: box start %v size %v outside shape %v", ErrShape, start, size, t.shape)
		}
	}

	out := Zeros(size...)
	if len(size) == 0 {
		out.data[0] = t.data[0]
		return out, nil
	}
	if out.Len() == 0 {
		return out, nil
	}
	strides := t.Strides()
	last := len(t.shape) - 1
	rowLen := size[last]
	idx := make([]int, len(t.shape))

	// copy contiguous rows along the last dimension
	for dst := 0; dst < out.Len(); dst += rowLen {
		src := 0
		for i := range idx {
			src += (start[i] + idx[i]) * strides[i]
		}
		copy(out.data[dst:dst+rowLen], t.data[src:src+rowLen])

		for i := last - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < size[i] {
				break
			}
			idx[i] = 0
		}
	}
	return out, nil
}

// Min returns the smallest element, or NaN for an empty tensor.
func (t *Tensor) Min() float64 {
	if len(t.data) == 0 {
		return math.NaN()
	}
	m := t.data[0]
	for _, v := range t.data[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest element, or NaN for an empty tensor.
func (t *Tensor) Max() float64 {
	if len(t.data) == 0 {
		return math.NaN()
	}
	m := t.data[0]
	for _, v := range t.data[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b *Tensor) bool {
	if len(a.shape) != len(b.shape) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}
