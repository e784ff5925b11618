// Package phantom synthesizes MRI volumes for testing and demos.
//
// Each slice is a modified Shepp-Logan head phantom whose ellipses shrink away
// from the middle slice. Multi-coil volumes weight the image with smooth coil
// sensitivity profiles placed around the field of view. K-space is the centered
// orthonormal FFT of the coil images, so a fully sampled inverse transform gives
// the phantom back.
package phantom

import (
	"errors"
	"fmt"
	"math"

	"kspacegan/internal/models"
	"kspacegan/pkg/fftc"
	"kspacegan/pkg/tensor"
	"kspacegan/pkg/volume"
)

// ErrOptions is returned for unusable phantom options.
var ErrOptions = errors.New("invalid phantom options")

// Acquisition is the protocol name recorded for synthetic volumes
const Acquisition = "SYNTH_PHANTOM"

// ellipse is one component of the phantom: intensity, semi-axes, center and rotation in degrees
type ellipse struct {
	intensity, a, b, x0, y0, phi float64
}

// modified Shepp-Logan parameters
var sheppLogan = []ellipse{
	{1.0, 0.69, 0.92, 0, 0, 0},
	{-0.8, 0.6624, 0.874, 0, -0.0184, 0},
	{-0.2, 0.11, 0.31, 0.22, 0, -18},
	{-0.2, 0.16, 0.41, -0.22, 0, 18},
	{0.1, 0.21, 0.25, 0, 0.35, 0},
	{0.1, 0.046, 0.046, 0, 0.1, 0},
	{0.1, 0.046, 0.046, 0, -0.1, 0},
	{0.1, 0.046, 0.023, -0.08, -0.605, 0},
	{0.1, 0.023, 0.023, 0, -0.606, 0},
	{0.1, 0.023, 0.046, 0.06, -0.605, 0},
}

// Options describes the volume to synthesize
type Options struct {
	Slices int

	// Height and Width are the k-space matrix size
	Height, Width int

	// Coils is the number of receiver coils; used only for multi-coil volumes
	Coils int

	// ReconSize is the side of the square target image
	ReconSize int

	Challenge models.Challenge

	// DType is the on-disk precision; defaults to F32
	DType volume.DType

	PatientID string

	// NoTarget leaves the target out of written files, as in a test split
	NoTarget bool
}

// DefaultOptions returns a small multi-coil volume configuration.
func DefaultOptions() Options {
	return Options{
		Slices:    4,
		Height:    96,
		Width:     80,
		Coils:     4,
		ReconSize: 64,
		Challenge: models.MultiCoil,
		DType:     volume.F32,
	}
}

func (o Options) validate() error {
	if err := o.Challenge.Validate(); err != nil {
		return err
	}
	if o.Slices <= 0 || o.Height <= 0 || o.Width <= 0 {
		return fmt.Errorf("%w: slices %d, size %dx%d", ErrOptions, o.Slices, o.Height, o.Width)
	}
	if o.ReconSize <= 0 || o.ReconSize > o.Height || o.ReconSize > o.Width {
		return fmt.Errorf("%w: recon size %d for %dx%d", ErrOptions, o.ReconSize, o.Height, o.Width)
	}
	if o.Challenge == models.MultiCoil && o.Coils <= 0 {
		return fmt.Errorf("%w: multi-coil volume needs coils", ErrOptions)
	}
	return nil
}

// Volume is a synthesized acquisition
type Volume struct {
	// KSpace is [S, H, W, 2] or [S, C, H, W, 2]
	KSpace *tensor.Tensor

	// Target is [S, ReconSize, ReconSize]
	Target *tensor.Tensor

	Attrs models.Attrs
}

// Generate synthesizes a volume.
func Generate(opts Options) (*Volume, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	coils := 1
	if opts.Challenge == models.MultiCoil {
		coils = opts.Coils
	}
	sens := sensitivities(coils, opts.Height, opts.Width)

	plane := opts.Height * opts.Width * 2
	sliceLen := coils * plane
	kspace := tensor.Zeros(opts.Slices, coils, opts.Height, opts.Width, 2)
	target := tensor.Zeros(opts.Slices, opts.ReconSize, opts.ReconSize)
	recon := opts.ReconSize * opts.ReconSize

	for s := 0; s < opts.Slices; s++ {
		img := Slice(opts.Height, opts.Width, slicePosition(s, opts.Slices))

		coilImages := tensor.Zeros(coils, opts.Height, opts.Width, 2)
		values := coilImages.Data()
		for c := 0; c < coils; c++ {
			for p, v := range img {
				re, im := sens[c][2*p], sens[c][2*p+1]
				values[c*plane+2*p] = v * re
				values[c*plane+2*p+1] = v * im
			}
		}

		k, err := fftc.FFT2C(coilImages)
		if err != nil {
			return nil, err
		}
		copy(kspace.Data()[s*sliceLen:(s+1)*sliceLen], k.Data())

		t, err := reconstruct(coilImages, opts.ReconSize)
		if err != nil {
			return nil, err
		}
		copy(target.Data()[s*recon:(s+1)*recon], t.Data())
	}

	if opts.Challenge == models.SingleCoil {
		var err error
		kspace, err = kspace.Reshape(opts.Slices, opts.Height, opts.Width, 2)
		if err != nil {
			return nil, err
		}
	}

	return &Volume{
		KSpace: kspace,
		Target: target,
		Attrs: models.Attrs{
			Acquisition: Acquisition,
			Norm:        norm(kspace.Data()),
			Max:         target.Max(),
			PatientID:   opts.PatientID,
			Challenge:   opts.Challenge,
		},
	}, nil
}

// reconstruct returns the cropped root-sum-of-squares magnitude of coil images.
func reconstruct(coilImages *tensor.Tensor, size int) (*tensor.Tensor, error) {
	mag, err := fftc.ComplexAbs(coilImages)
	if err != nil {
		return nil, err
	}
	rss, err := fftc.RSS(mag, 0)
	if err != nil {
		return nil, err
	}
	return fftc.CenterCrop(rss, size, size)
}

// slicePosition maps slice s to [-1, 1] across the volume.
func slicePosition(s, n int) float64 {
	if n == 1 {
		return 0
	}
	return 2*float64(s)/float64(n-1) - 1
}

// Slice renders the phantom at relative position z in [-1, 1] as a row-major
// height x width image.
func Slice(height, width int, z float64) []float64 {
	scale := 1 - 0.3*math.Abs(z)
	img := make([]float64, height*width)
	for y := 0; y < height; y++ {
		py := 1 - 2*(float64(y)+0.5)/float64(height)
		for x := 0; x < width; x++ {
			px := 2*(float64(x)+0.5)/float64(width) - 1
			v := 0.0
			for _, e := range sheppLogan {
				if e.contains(px, py, scale) {
					v += e.intensity
				}
			}
			img[y*width+x] = v
		}
	}
	return img
}

func (e ellipse) contains(x, y, scale float64) bool {
	phi := e.phi * math.Pi / 180
	dx, dy := x-e.x0*scale, y-e.y0*scale
	xr := dx*math.Cos(phi) + dy*math.Sin(phi)
	yr := -dx*math.Sin(phi) + dy*math.Cos(phi)
	a, b := e.a*scale, e.b*scale
	return (xr*xr)/(a*a)+(yr*yr)/(b*b) <= 1
}

// sensitivities places Gaussian coil profiles evenly on a circle around the
// field of view, each with its own constant phase. Values are interleaved re/im.
func sensitivities(coils, height, width int) [][]float64 {
	out := make([][]float64, coils)
	if coils == 1 {
		out[0] = make([]float64, 2*height*width)
		for i := 0; i < height*width; i++ {
			out[0][2*i] = 1
		}
		return out
	}

	const sigma = 0.8
	for c := 0; c < coils; c++ {
		angle := 2 * math.Pi * float64(c) / float64(coils)
		cx, cy := math.Cos(angle), math.Sin(angle)
		phaseRe, phaseIm := math.Cos(angle), math.Sin(angle)

		s := make([]float64, 2*height*width)
		for y := 0; y < height; y++ {
			py := 1 - 2*(float64(y)+0.5)/float64(height)
			for x := 0; x < width; x++ {
				px := 2*(float64(x)+0.5)/float64(width) - 1
				d2 := (px-cx)*(px-cx) + (py-cy)*(py-cy)
				g := math.Exp(-d2 / (2 * sigma * sigma))
				p := y*width + x
				s[2*p] = g * phaseRe
				s[2*p+1] = g * phaseIm
			}
		}
		out[c] = s
	}
	return out
}

func norm(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// WriteVolume synthesizes a volume and writes it to path.
func WriteVolume(path string, opts Options) (*Volume, error) {
	vol, err := Generate(opts)
	if err != nil {
		return nil, err
	}
	dtype := opts.DType
	if dtype == "" {
		dtype = volume.F32
	}
	entries := []volume.Entry{{Name: volume.KSpaceKey, DType: dtype, Tensor: vol.KSpace}}
	if !opts.NoTarget {
		entries = append(entries, volume.Entry{Name: opts.Challenge.TargetKey(), DType: dtype, Tensor: vol.Target})
	}
	if err := volume.Create(path, entries, volume.AttrsMetadata(vol.Attrs)); err != nil {
		return nil, err
	}
	return vol, nil
}
