// Package subsample generates k-space undersampling masks.
//
// A mask keeps a fully sampled block of low-frequency columns around the center
// of k-space and a subset of the remaining columns chosen so that, on average, one
// column in every acceleration-factor columns is kept. Given the same Seed a mask
// function always returns the same mask, which lets every slice of a volume share
// one pattern across epochs.
package subsample

import (
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/rand"

	"kspacegan/pkg/tensor"
)

var (
	// ErrMaskConfig is returned for inconsistent center fractions and accelerations.
	ErrMaskConfig = errors.New("invalid mask configuration")

	// ErrMaskShape is returned when the requested mask shape is not usable.
	ErrMaskShape = errors.New("invalid mask shape")
)

// Seed optionally fixes the randomness of a mask function.
// The zero value means no seed.
type Seed struct {
	value uint64
	set   bool
}

// NoSeed requests a fresh random mask on every call.
func NoSeed() Seed { return Seed{} }

// WithSeed fixes the mask randomness to v.
func WithSeed(v uint64) Seed { return Seed{value: v, set: true} }

// SeedFromName derives a stable seed from a volume filename.
func SeedFromName(fname string) Seed {
	return WithSeed(xxhash.Sum64String(fname))
}

// Value returns the seed and whether it is set.
func (s Seed) Value() (uint64, bool) { return s.value, s.set }

// Rand returns a generator for this seed. Unseeded generators are themselves
// seeded from the package-level source.
func (s Seed) Rand() *rand.Rand {
	if s.set {
		return rand.New(rand.NewSource(s.value))
	}
	return rand.New(rand.NewSource(rand.Uint64()))
}

// MaskFunc produces a sampling mask for a k-space array. For shape
// [..., H, W, 2] the mask has shape [1, ..., 1, W, 1].
type MaskFunc interface {
	Mask(shape []int, seed Seed) (*tensor.Tensor, error)
}

// Mask kinds accepted by NewMaskFunc
const (
	KindRandom     = "random"
	KindEquispaced = "equispaced"
)

// NewMaskFunc builds a mask function by kind name.
func NewMaskFunc(kind string, centerFractions, accelerations []float64) (MaskFunc, error) {
	switch kind {
	case KindRandom, "":
		return NewRandomMask(centerFractions, accelerations)
	case KindEquispaced:
		return NewEquispacedMask(centerFractions, accelerations)
	default:
		return nil, fmt.Errorf("%w: unknown mask type %q", ErrMaskConfig, kind)
	}
}

// maskParams holds the candidate (center fraction, acceleration) pairs. One pair
// is chosen uniformly per mask.
type maskParams struct {
	centerFractions []float64
	accelerations   []float64
}

func newMaskParams(centerFractions, accelerations []float64) (maskParams, error) {
	if len(centerFractions) == 0 || len(centerFractions) != len(accelerations) {
		return maskParams{}, fmt.Errorf("%w: need matching center fractions and accelerations, got %d and %d",
			ErrMaskConfig, len(centerFractions), len(accelerations))
	}
	for i := range centerFractions {
		if centerFractions[i] <= 0 || centerFractions[i] >= 1 {
			return maskParams{}, fmt.Errorf("%w: center fraction %v not in (0, 1)", ErrMaskConfig, centerFractions[i])
		}
		if accelerations[i] < 1 {
			return maskParams{}, fmt.Errorf("%w: acceleration %v below 1", ErrMaskConfig, accelerations[i])
		}
	}
	return maskParams{
		centerFractions: append([]float64(nil), centerFractions...),
		accelerations:   append([]float64(nil), accelerations...),
	}, nil
}

func (p maskParams) choose(rng *rand.Rand) (float64, float64) {
	i := rng.Intn(len(p.accelerations))
	return p.centerFractions[i], p.accelerations[i]
}

// columns validates shape and returns the number of k-space columns.
func columns(shape []int) (int, error) {
	if len(shape) < 3 {
		return 0, fmt.Errorf("%w: shape should have 3 or more dimensions, got %v", ErrMaskShape, shape)
	}
	n := shape[len(shape)-2]
	if n <= 0 {
		return 0, fmt.Errorf("%w: no columns in %v", ErrMaskShape, shape)
	}
	return n, nil
}

// lowFrequencyBlock marks the centered fully sampled block and returns its size.
func lowFrequencyBlock(mask []float64, centerFraction float64) (int, error) {
	numCols := len(mask)
	numLow := int(math.RoundToEven(float64(numCols) * centerFraction))
	if numLow >= numCols {
		return 0, fmt.Errorf("%w: center fraction %v keeps all %d columns", ErrMaskConfig, centerFraction, numCols)
	}
	pad := (numCols - numLow + 1) / 2
	for i := pad; i < pad+numLow; i++ {
		mask[i] = 1
	}
	return numLow, nil
}

func toMaskTensor(mask []float64, ndim int) *tensor.Tensor {
	shape := make([]int, ndim)
	for i := range shape {
		shape[i] = 1
	}
	shape[ndim-2] = len(mask)
	t, _ := tensor.New(shape, mask)
	return t
}

// RandomMask keeps each outer column independently with the probability that
// yields the requested acceleration overall.
type RandomMask struct {
	params maskParams
}

// NewRandomMask validates the parameters and returns a RandomMask.
func NewRandomMask(centerFractions, accelerations []float64) (*RandomMask, error) {
	p, err := newMaskParams(centerFractions, accelerations)
	if err != nil {
		return nil, err
	}
	return &RandomMask{params: p}, nil
}

// Mask implements MaskFunc.
func (m *RandomMask) Mask(shape []int, seed Seed) (*tensor.Tensor, error) {
	numCols, err := columns(shape)
	if err != nil {
		return nil, err
	}

	rng := seed.Rand()
	centerFraction, acceleration := m.params.choose(rng)

	mask := make([]float64, numCols)
	numLow, err := lowFrequencyBlock(mask, centerFraction)
	if err != nil {
		return nil, err
	}
	prob := (float64(numCols)/acceleration - float64(numLow)) / float64(numCols-numLow)
	for i := range mask {
		if rng.Float64() < prob {
			mask[i] = 1
		}
	}

	return toMaskTensor(mask, len(shape)), nil
}

// EquispacedMask keeps outer columns at a regular spacing from a random offset.
// The spacing is adjusted so that the low-frequency block plus the regular
// columns give the requested acceleration.
type EquispacedMask struct {
	params maskParams
}

// NewEquispacedMask validates the parameters and returns an EquispacedMask.
func NewEquispacedMask(centerFractions, accelerations []float64) (*EquispacedMask, error) {
	p, err := newMaskParams(centerFractions, accelerations)
	if err != nil {
		return nil, err
	}
	return &EquispacedMask{params: p}, nil
}

// Mask implements MaskFunc.
func (m *EquispacedMask) Mask(shape []int, seed Seed) (*tensor.Tensor, error) {
	numCols, err := columns(shape)
	if err != nil {
		return nil, err
	}

	rng := seed.Rand()
	centerFraction, acceleration := m.params.choose(rng)

	mask := make([]float64, numCols)
	numLow, err := lowFrequencyBlock(mask, centerFraction)
	if err != nil {
		return nil, err
	}

	// the center block alone already reaches the acceleration
	if float64(numLow)*acceleration >= float64(numCols) {
		return toMaskTensor(mask, len(shape)), nil
	}

	adjusted := acceleration * float64(numLow-numCols) / (float64(numLow)*acceleration - float64(numCols))
	if adjusted < 1 {
		adjusted = 1
	}
	span := int(math.RoundToEven(adjusted))
	if span < 1 {
		span = 1
	}
	offset := float64(rng.Intn(span))
	for pos := offset; pos < float64(numCols-1); pos += adjusted {
		mask[int(math.RoundToEven(pos))] = 1
	}

	return toMaskTensor(mask, len(shape)), nil
}

// ApplyMask zeroes the k-space columns that the mask function does not keep.
// data has shape [..., H, W, 2]; the mask is generated for [1, ..., H, W, 2] so
// all coils share one pattern. The masked copy and the mask are returned.
func ApplyMask(data *tensor.Tensor, maskFunc MaskFunc, seed Seed) (*tensor.Tensor, *tensor.Tensor, error) {
	if data.NDim() < 3 || data.Dim(-1) != 2 {
		return nil, nil, fmt.Errorf("%w: k-space must be [..., H, W, 2], got %v", ErrMaskShape, data.Shape())
	}

	shape := data.Shape()
	for i := 0; i < len(shape)-3; i++ {
		shape[i] = 1
	}
	mask, err := maskFunc.Mask(shape, seed)
	if err != nil {
		return nil, nil, err
	}

	width := data.Dim(-2)
	cols := mask.Data()
	if len(cols) != width {
		return nil, nil, fmt.Errorf("%w: mask has %d columns, data has %d", ErrMaskShape, len(cols), width)
	}

	masked := data.Clone()
	values := masked.Data()
	for i := 0; i < len(values); i += 2 {
		if cols[(i/2)%width] == 0 {
			values[i] = 0
			values[i+1] = 0
		}
	}
	return masked, mask, nil
}
