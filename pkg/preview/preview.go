// Package preview renders paired samples to PNG files for visual inspection.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"kspacegan/pkg/tensor"
	"kspacegan/pkg/transforms"
)

// gap is the number of blank columns between input and target
const gap = 4

// PairImage lays out the input image (A) on the left and the target (B) on the
// right. Both must be [1, H, W] or [H, W] with the same shape. Values in
// [-transforms.ClampRange, transforms.ClampRange] map to the full 16-bit range.
func PairImage(a, b *tensor.Tensor) (image.Image, error) {
	if !tensor.SameShape(a, b) {
		return nil, fmt.Errorf("%w: pair shapes %v and %v differ", tensor.ErrShape, a.Shape(), b.Shape())
	}
	if a.NDim() < 2 || a.Len() != a.Dim(-2)*a.Dim(-1) {
		return nil, fmt.Errorf("%w: preview needs a single image plane, got %v", tensor.ErrShape, a.Shape())
	}

	height, width := a.Dim(-2), a.Dim(-1)
	img := image.NewGray16(image.Rect(0, 0, 2*width+gap, height))
	for i, src := range []*tensor.Tensor{a, b} {
		offset := i * (width + gap)
		values := src.Data()
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.SetGray16(offset+x, y, color.Gray16{Y: toGray(values[y*width+x])})
			}
		}
	}
	return img, nil
}

func toGray(v float64) uint16 {
	r := transforms.ClampRange
	scaled := (v + r) / (2 * r)
	return uint16(math.Max(0, math.Min(65535, scaled*65535)))
}

// SavePair writes the sample as a PNG at path.
func SavePair(path string, sample transforms.Sample) error {
	img, err := PairImage(sample.A, sample.B)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating preview: %w", err)
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("error encoding preview: %w", err)
	}
	return file.Close()
}

// SaveSequence writes every sample to outputDir as pair_0000.png, pair_0001.png, ...
// starting at index start. It returns the written paths.
func SaveSequence(outputDir string, samples []transforms.Sample, start int) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	paths := make([]string, 0, len(samples))
	for i, s := range samples {
		path := filepath.Join(outputDir, fmt.Sprintf("pair_%04d.png", start+i))
		if err := SavePair(path, s); err != nil {
			return paths, fmt.Errorf("failed to save pair %d: %w", start+i, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
