package preview

import (
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kspacegan/pkg/tensor"
	"kspacegan/pkg/transforms"
)

func TestPairImageLayout(t *testing.T) {
	a := tensor.Full(-6, 1, 8, 10)
	b := tensor.Full(6, 1, 8, 10)

	img, err := PairImage(a, b)
	require.NoError(t, err)

	bounds := img.Bounds()
	assert.Equal(t, 2*10+gap, bounds.Dx())
	assert.Equal(t, 8, bounds.Dy())

	left, _, _, _ := img.At(0, 0).RGBA()
	right, _, _, _ := img.At(10+gap, 7).RGBA()
	assert.Equal(t, uint32(0), left)
	assert.Equal(t, uint32(65535), right)
}

func TestPairImageErrors(t *testing.T) {
	_, err := PairImage(tensor.Zeros(1, 4, 4), tensor.Zeros(1, 4, 5))
	assert.True(t, errors.Is(err, tensor.ErrShape))

	_, err = PairImage(tensor.Zeros(2, 4, 4), tensor.Zeros(2, 4, 4))
	assert.True(t, errors.Is(err, tensor.ErrShape))
}

func TestSaveSequence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "previews")
	samples := []transforms.Sample{
		{A: tensor.Zeros(1, 6, 6), B: tensor.Full(1, 1, 6, 6)},
		{A: tensor.Full(2, 1, 6, 6), B: tensor.Zeros(1, 6, 6)},
	}

	paths, err := SaveSequence(dir, samples, 10)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "pair_0010.png"), filepath.Join(dir, "pair_0011.png")}, paths)

	f, err := os.Open(paths[1])
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dy())
}
