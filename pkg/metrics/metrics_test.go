package metrics

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kspacegan/pkg/tensor"
)

func gradient(h, w int) *tensor.Tensor {
	t := tensor.Zeros(1, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			t.Set(float64(x+y)/float64(h+w), 0, y, x)
		}
	}
	return t
}

func TestIdenticalImages(t *testing.T) {
	img := gradient(16, 16)

	m, err := Evaluate(img, img.Clone())
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.NMSE)
	assert.Equal(t, 0.0, m.RMSE)
	assert.True(t, math.IsInf(m.PSNR, 1))
	assert.InDelta(t, 1.0, m.SSIM, 1e-9)
}

func TestNoisyImageScoresLower(t *testing.T) {
	img := gradient(20, 20)
	noisy := img.Clone()
	for i := range noisy.Data() {
		noisy.Data()[i] += 0.05 * math.Sin(float64(i)*2.3)
	}

	m, err := Evaluate(img, noisy)
	require.NoError(t, err)
	assert.Greater(t, m.NMSE, 0.0)
	assert.Greater(t, m.PSNR, 10.0)
	assert.Less(t, m.SSIM, 1.0)
	assert.Greater(t, m.SSIM, 0.0)
}

func TestScalarMetrics(t *testing.T) {
	target := []float64{1, 2, 3, 4}
	pred := []float64{1, 2, 3, 2}

	assert.InDelta(t, 4.0/30.0, NMSE(target, pred), 1e-12)
	assert.InDelta(t, 1.0, RMSE(target, pred), 1e-12)
	assert.InDelta(t, 10*math.Log10(16), PSNR(target, pred, 4), 1e-12)
}

func TestShapeErrors(t *testing.T) {
	_, err := Evaluate(gradient(8, 8), gradient(8, 9))
	assert.True(t, errors.Is(err, tensor.ErrShape))

	_, err = SSIM(gradient(4, 4), gradient(4, 4), 1)
	assert.True(t, errors.Is(err, tensor.ErrShape))
}
