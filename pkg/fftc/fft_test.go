package fftc

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kspacegan/pkg/tensor"
)

// randomComplex builds a deterministic pseudo-random complex tensor
func randomComplex(shape ...int) *tensor.Tensor {
	t := tensor.Zeros(append(shape, 2)...)
	values := t.Data()
	for i := range values {
		values[i] = math.Sin(float64(i)*0.731) + 0.25*math.Cos(float64(i)*1.37)
	}
	return t
}

func energy(t *tensor.Tensor) float64 {
	sum := 0.0
	for _, v := range t.Data() {
		sum += v * v
	}
	return sum
}

func TestFFTRoundTrip(t *testing.T) {
	for _, shape := range [][]int{{8, 8}, {6, 10}, {3, 5, 7}} {
		x := randomComplex(shape...)

		k, err := FFT2C(x)
		require.NoError(t, err)
		back, err := IFFT2C(k)
		require.NoError(t, err)

		require.Equal(t, x.Shape(), back.Shape())
		assert.InDeltaSlice(t, x.Data(), back.Data(), 1e-9, "shape %v", shape)
	}
}

// TestFFTOrthonormal verifies Parseval's identity for the orthonormal scaling
func TestFFTOrthonormal(t *testing.T) {
	x := randomComplex(2, 12, 9)
	k, err := FFT2C(x)
	require.NoError(t, err)
	assert.InDelta(t, energy(x), energy(k), 1e-9)
}

// TestFFTCenteredDelta checks that a delta at the image center maps to a flat spectrum
func TestFFTCenteredDelta(t *testing.T) {
	h, w := 8, 6
	x := tensor.Zeros(h, w, 2)
	x.Set(1, h/2, w/2, 0)

	k, err := FFT2C(x)
	require.NoError(t, err)

	want := 1 / math.Sqrt(float64(h*w))
	for y := 0; y < h; y++ {
		for z := 0; z < w; z++ {
			assert.InDelta(t, want, k.At(y, z, 0), 1e-12)
			assert.InDelta(t, 0, k.At(y, z, 1), 1e-12)
		}
	}
}

func TestFFTRejectsRealTensor(t *testing.T) {
	_, err := IFFT2C(tensor.Zeros(4, 4))
	assert.True(t, errors.Is(err, tensor.ErrShape))
}

func TestToTensor(t *testing.T) {
	x, err := ToTensor([]complex128{1 + 2i, 3 - 4i}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2}, x.Shape())
	assert.Equal(t, []float64{1, 2, 3, -4}, x.Data())

	abs, err := ComplexAbs(x)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, abs.Shape())
	assert.InDeltaSlice(t, []float64{math.Sqrt(5), 5}, abs.Data(), 1e-12)

	c, err := Complex(x)
	require.NoError(t, err)
	assert.Equal(t, []complex128{1 + 2i, 3 - 4i}, c)

	y, err := ToTensorComplex64([]complex64{1 + 1i}, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, y.Data())
}
