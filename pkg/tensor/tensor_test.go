package tensor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShapeMismatch(t *testing.T) {
	_, err := New([]int{2, 3}, make([]float64, 5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShape))
}

func TestIndexing(t *testing.T) {
	x := Zeros(2, 3, 4)
	x.Set(7, 1, 2, 3)

	assert.Equal(t, 7.0, x.At(1, 2, 3))
	assert.Equal(t, 7.0, x.Data()[23])
	assert.Equal(t, []int{12, 4, 1}, x.Strides())
	assert.Equal(t, 4, x.Dim(-1))
	assert.Equal(t, 3, x.NDim())
}

func TestNarrow(t *testing.T) {
	data := make([]float64, 4*5)
	for i := range data {
		data[i] = float64(i)
	}
	x, err := New([]int{4, 5}, data)
	require.NoError(t, err)

	box, err := x.Narrow([]int{1, 2}, []int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, box.Shape())
	assert.Equal(t, []float64{7, 8, 9, 12, 13, 14}, box.Data())

	_, err = x.Narrow([]int{3, 0}, []int{2, 5})
	assert.True(t, errors.Is(err, ErrShape))
}

func TestUnsqueezeSharesData(t *testing.T) {
	x := Zeros(3, 3)
	y := x.Unsqueeze(0)
	assert.Equal(t, []int{1, 3, 3}, y.Shape())

	y.Set(2, 0, 1, 1)
	assert.Equal(t, 2.0, x.At(1, 1))
}

func TestMinMax(t *testing.T) {
	x, err := New([]int{4}, []float64{3, -1, 8, 0})
	require.NoError(t, err)
	assert.Equal(t, -1.0, x.Min())
	assert.Equal(t, 8.0, x.Max())
	assert.True(t, SameShape(x, x.Clone()))
	assert.False(t, SameShape(x, Zeros(2, 2)))
}
