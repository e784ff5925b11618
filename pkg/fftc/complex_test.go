package fftc

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kspacegan/pkg/tensor"
)

func arange(shape ...int) *tensor.Tensor {
	t := tensor.Zeros(shape...)
	for i := range t.Data() {
		t.Data()[i] = float64(i)
	}
	return t
}

func TestCenterCrop(t *testing.T) {
	x := arange(5, 6)

	crop, err := CenterCrop(x, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, crop.Shape())
	// rows 1..3, cols 2..3
	assert.Equal(t, []float64{8, 9, 14, 15, 20, 21}, crop.Data())

	_, err = CenterCrop(x, 6, 2)
	assert.True(t, errors.Is(err, ErrCropSize))
}

func TestComplexCenterCrop(t *testing.T) {
	x := arange(2, 4, 4, 2)

	crop, err := ComplexCenterCrop(x, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2, 2}, crop.Shape())
	assert.Equal(t, x.At(0, 1, 1, 0), crop.At(0, 0, 0, 0))
	assert.Equal(t, x.At(1, 2, 2, 1), crop.At(1, 1, 1, 1))

	_, err = ComplexCenterCrop(x, 5, 2)
	assert.True(t, errors.Is(err, ErrCropSize))
}

func TestRSS(t *testing.T) {
	x, err := tensor.New([]int{2, 1, 2}, []float64{3, 0, 4, 2})
	require.NoError(t, err)

	out, err := RSS(x, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, out.Shape())
	assert.InDeltaSlice(t, []float64{5, 2}, out.Data(), 1e-12)

	_, err = RSS(x, 3)
	assert.True(t, errors.Is(err, tensor.ErrShape))
}

func TestNormalizeInstance(t *testing.T) {
	x, err := tensor.New([]int{4}, []float64{1, 2, 3, 4})
	require.NoError(t, err)

	out, mean, std := NormalizeInstance(x, 1e-11)
	assert.InDelta(t, 2.5, mean, 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3.0), std, 1e-12)

	sum := 0.0
	for _, v := range out.Data() {
		sum += v
	}
	assert.InDelta(t, 0, sum, 1e-9)

	// constant input must not divide by zero
	flat := tensor.Full(3, 5)
	out, _, std = NormalizeInstance(flat, 1e-11)
	assert.Equal(t, 0.0, std)
	for _, v := range out.Data() {
		assert.False(t, math.IsNaN(v))
	}
}

func TestClamp(t *testing.T) {
	x, err := tensor.New([]int{3}, []float64{-10, 0.5, 10})
	require.NoError(t, err)
	assert.Equal(t, []float64{-6, 0.5, 6}, Clamp(x, -6, 6).Data())
	// input untouched
	assert.Equal(t, -10.0, x.At(0))
}
