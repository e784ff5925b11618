// Package transforms turns raw k-space records into paired training samples.
//
// DataTransform produces the normalized zero-filled image and its matching target.
// GANTransform wraps it for image-to-image translation training: it cuts both images
// at one shared random offset and packages them as an A/B sample.
package transforms

import (
	"errors"
	"fmt"

	"kspacegan/internal/models"
	"kspacegan/pkg/fftc"
	"kspacegan/pkg/subsample"
	"kspacegan/pkg/tensor"
)

const (
	// Epsilon stabilizes instance normalization of near-constant images
	Epsilon = 1e-11

	// ClampRange bounds normalized images to [-ClampRange, ClampRange]
	ClampRange = 6.0
)

var (
	// ErrCropSize is returned when a crop is larger than the image it is cut from.
	ErrCropSize = fftc.ErrCropSize

	// ErrInvalidChallenge is returned for an unknown coil configuration.
	ErrInvalidChallenge = models.ErrInvalidChallenge

	// ErrResolution is returned for a non-positive crop resolution.
	ErrResolution = errors.New("resolution must be positive")
)

// Options configures a DataTransform
type Options struct {
	// Challenge selects single-coil or multi-coil processing
	Challenge models.Challenge

	// Resolution is the side of the square center crop applied in image space
	Resolution int

	// UseSeed derives the mask seed from the volume filename so every slice of a
	// volume gets the same mask in every epoch
	UseSeed bool
}

// Example is the output of DataTransform
type Example struct {
	// Input is the normalized zero-filled image, [1, Resolution, Resolution]
	Input *tensor.Tensor

	// Target is the ground truth normalized with the input's statistics
	Target *tensor.Tensor

	// Mean and Std are the statistics used to normalize both images
	Mean float64
	Std  float64

	Fname    string
	Slice    int
	MaxValue float64

	// HasTarget is false when the record carried no ground truth and Target
	// holds normalized zeros
	HasTarget bool
}

// DataTransform converts one k-space record into a normalized image pair
type DataTransform struct {
	maskFunc subsample.MaskFunc
	opts     Options
}

// NewDataTransform validates opts and returns a transform using maskFunc.
// The transform holds no mutable state and is safe for concurrent use.
func NewDataTransform(maskFunc subsample.MaskFunc, opts Options) (*DataTransform, error) {
	if err := opts.Challenge.Validate(); err != nil {
		return nil, err
	}
	if opts.Resolution <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrResolution, opts.Resolution)
	}
	if maskFunc == nil {
		return nil, errors.New("mask function is required")
	}
	return &DataTransform{maskFunc: maskFunc, opts: opts}, nil
}

// Options returns the configuration the transform was built with.
func (t *DataTransform) Options() Options {
	return t.opts
}

// Seed returns the mask seed used for the given volume.
func (t *DataTransform) Seed(fname string) subsample.Seed {
	if t.opts.UseSeed {
		return subsample.SeedFromName(fname)
	}
	return subsample.NoSeed()
}

// Transform runs the full pipeline on one record:
// mask, inverse FFT, center crop, magnitude, coil combination, instance
// normalization, clamping, and the same normalization applied to the target.
func (t *DataTransform) Transform(rec models.Record) (Example, error) {
	if rec.KSpace == nil {
		return Example{}, fmt.Errorf("%w: record %s slice %d has no k-space", tensor.ErrShape, rec.Fname, rec.Slice)
	}
	wantDims := 3
	if t.opts.Challenge == models.MultiCoil {
		wantDims = 4
	}
	if rec.KSpace.NDim() != wantDims || rec.KSpace.Dim(-1) != 2 {
		return Example{}, fmt.Errorf("%w: %s k-space must have %d dims with trailing size 2, got %v",
			tensor.ErrShape, t.opts.Challenge, wantDims, rec.KSpace.Shape())
	}

	masked, _, err := subsample.ApplyMask(rec.KSpace, t.maskFunc, t.Seed(rec.Fname))
	if err != nil {
		return Example{}, fmt.Errorf("apply mask: %w", err)
	}

	image, err := fftc.IFFT2C(masked)
	if err != nil {
		return Example{}, fmt.Errorf("inverse fft: %w", err)
	}

	res := t.opts.Resolution
	image, err = fftc.ComplexCenterCrop(image, res, res)
	if err != nil {
		return Example{}, err
	}

	image, err = fftc.ComplexAbs(image)
	if err != nil {
		return Example{}, err
	}

	if t.opts.Challenge == models.MultiCoil {
		image, err = fftc.RSS(image, 0)
		if err != nil {
			return Example{}, err
		}
	}

	image, mean, std := fftc.NormalizeInstance(image, Epsilon)
	image = fftc.Clamp(image, -ClampRange, ClampRange)

	target, err := t.target(rec.Target, image)
	if err != nil {
		return Example{}, err
	}
	target = fftc.Normalize(target, mean, std, Epsilon)
	target = fftc.Clamp(target, -ClampRange, ClampRange)

	return Example{
		Input:     image.Unsqueeze(0),
		Target:    target.Unsqueeze(0),
		Mean:      mean,
		Std:       std,
		Fname:     rec.Fname,
		Slice:     rec.Slice,
		MaxValue:  rec.Attrs.Max,
		HasTarget: rec.Target != nil,
	}, nil
}

// target brings the ground truth to the input's shape. Test splits have no
// target and get zeros.
func (t *DataTransform) target(target, image *tensor.Tensor) (*tensor.Tensor, error) {
	if target == nil {
		return tensor.Zeros(image.Shape()...), nil
	}
	if target.NDim() != 2 {
		return nil, fmt.Errorf("%w: target must be [H, W], got %v", tensor.ErrShape, target.Shape())
	}
	res := t.opts.Resolution
	return fftc.CenterCrop(target, res, res)
}
