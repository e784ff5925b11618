package transforms

import (
	"fmt"

	"golang.org/x/exp/rand"

	"kspacegan/internal/models"
	"kspacegan/pkg/subsample"
	"kspacegan/pkg/tensor"
)

// cropSalt separates the crop offset stream from the mask stream of the same volume.
const cropSalt = 0x9e3779b97f4a7c15

// Sample is the paired record consumed by image-to-image translation training.
// APaths and BPaths are always empty; training loops that log sample paths
// expect the fields to exist.
type Sample struct {
	A      *tensor.Tensor
	B      *tensor.Tensor
	APaths string
	BPaths string

	// HasTarget reports whether B comes from real ground truth
	HasTarget bool
}

// GANTransform runs a DataTransform and cuts an aligned square patch from the
// input and target images.
type GANTransform struct {
	base      *DataTransform
	patchSize int
}

// NewGANTransform wraps base with a patchSize x patchSize random crop.
func NewGANTransform(base *DataTransform, patchSize int) (*GANTransform, error) {
	if patchSize <= 0 {
		return nil, fmt.Errorf("%w: patch size %d", ErrResolution, patchSize)
	}
	if patchSize > base.opts.Resolution {
		return nil, fmt.Errorf("%w: patch %d larger than resolution %d", ErrCropSize, patchSize, base.opts.Resolution)
	}
	return &GANTransform{base: base, patchSize: patchSize}, nil
}

// PatchSize returns the side of the square output patch.
func (g *GANTransform) PatchSize() int {
	return g.patchSize
}

// Transform implements the per-record hook of the data source.
func (g *GANTransform) Transform(rec models.Record) (Sample, error) {
	ex, err := g.base.Transform(rec)
	if err != nil {
		return Sample{}, err
	}

	a, b, err := RandomCrop(ex.Input, ex.Target, g.patchSize, g.cropRand(rec.Fname))
	if err != nil {
		return Sample{}, err
	}
	return Sample{A: a, B: b, HasTarget: ex.HasTarget}, nil
}

func (g *GANTransform) cropRand(fname string) *rand.Rand {
	if v, ok := g.base.Seed(fname).Value(); ok {
		return subsample.WithSeed(v ^ cropSalt).Rand()
	}
	return subsample.NoSeed().Rand()
}

// RandomCrop cuts the same size x size window from the last two dimensions of
// input and target. Both must have identical shapes. Images smaller than the
// window fail with ErrCropSize; nothing is padded.
func RandomCrop(input, target *tensor.Tensor, size int, rng *rand.Rand) (*tensor.Tensor, *tensor.Tensor, error) {
	if !tensor.SameShape(input, target) {
		return nil, nil, fmt.Errorf("%w: input %v and target %v differ", tensor.ErrShape, input.Shape(), target.Shape())
	}
	if input.NDim() < 2 {
		return nil, nil, fmt.Errorf("%w: random crop needs at least 2 dims, got %v", tensor.ErrShape, input.Shape())
	}

	height, width := input.Dim(-2), input.Dim(-1)
	if size <= 0 || height < size || width < size {
		return nil, nil, fmt.Errorf("%w: required crop size (%d, %d) is larger than input image size (%d, %d)",
			ErrCropSize, size, size, height, width)
	}

	top := rng.Intn(height - size + 1)
	left := rng.Intn(width - size + 1)

	start := make([]int, input.NDim())
	extent := input.Shape()
	start[len(start)-2], start[len(start)-1] = top, left
	extent[len(extent)-2], extent[len(extent)-1] = size, size

	a, err := input.Narrow(start, extent)
	if err != nil {
		return nil, nil, err
	}
	b, err := target.Narrow(start, extent)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
