package fftc

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"kspacegan/pkg/tensor"
)

// ErrCropSize is returned when a requested crop is larger than the image.
var ErrCropSize = errors.New("crop size exceeds image dimensions")

// ToTensor converts interleaved complex samples into a tensor with a trailing
// real/imaginary dimension. shape describes the complex array, so the result
// has shape append(shape, 2).
func ToTensor(data []complex128, shape ...int) (*tensor.Tensor, error) {
	values := make([]float64, 2*len(data))
	for i, c := range data {
		values[2*i] = real(c)
		values[2*i+1] = imag(c)
	}
	return tensor.New(append(append([]int(nil), shape...), 2), values)
}

// ToTensorComplex64 is ToTensor for single precision acquisitions.
func ToTensorComplex64(data []complex64, shape ...int) (*tensor.Tensor, error) {
	values := make([]float64, 2*len(data))
	for i, c := range data {
		values[2*i] = float64(real(c))
		values[2*i+1] = float64(imag(c))
	}
	return tensor.New(append(append([]int(nil), shape...), 2), values)
}

// Complex unpacks a tensor with a trailing real/imaginary dimension.
func Complex(data *tensor.Tensor) ([]complex128, error) {
	if err := checkComplex(data, 1); err != nil {
		return nil, err
	}
	values := data.Data()
	out := make([]complex128, len(values)/2)
	for i := range out {
		out[i] = complex(values[2*i], values[2*i+1])
	}
	return out, nil
}

// ComplexCenterCrop crops dimensions -3 and -2 of a complex tensor to height x width.
func ComplexCenterCrop(data *tensor.Tensor, height, width int) (*tensor.Tensor, error) {
	if err := checkComplex(data, 3); err != nil {
		return nil, err
	}
	return centerCrop(data, data.NDim()-3, height, width)
}

// CenterCrop crops the last two dimensions of a real tensor to height x width.
func CenterCrop(data *tensor.Tensor, height, width int) (*tensor.Tensor, error) {
	if data.NDim() < 2 {
		return nil, fmt.Errorf("%w: center crop needs at least 2 dims, got %v", tensor.ErrShape, data.Shape())
	}
	return centerCrop(data, data.NDim()-2, height, width)
}

func centerCrop(data *tensor.Tensor, rowDim, height, width int) (*tensor.Tensor, error) {
	shape := data.Shape()
	if height <= 0 || width <= 0 || height > shape[rowDim] || width > shape[rowDim+1] {
		return nil, fmt.Errorf("%w: cannot crop %dx%d from %dx%d",
			ErrCropSize, height, width, shape[rowDim], shape[rowDim+1])
	}

	start := make([]int, len(shape))
	size := append([]int(nil), shape...)
	start[rowDim] = (shape[rowDim] - height) / 2
	start[rowDim+1] = (shape[rowDim+1] - width) / 2
	size[rowDim] = height
	size[rowDim+1] = width
	return data.Narrow(start, size)
}

// ComplexAbs returns the magnitude of each complex element, dropping the
// trailing dimension.
func ComplexAbs(data *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkComplex(data, 1); err != nil {
		return nil, err
	}
	shape := data.Shape()
	out := tensor.Zeros(shape[:len(shape)-1]...)
	values := data.Data()
	dst := out.Data()
	for i := range dst {
		dst[i] = math.Hypot(values[2*i], values[2*i+1])
	}
	return out, nil
}

// RSS combines a real tensor along dim by root-sum-of-squares. The dimension is removed.
func RSS(data *tensor.Tensor, dim int) (*tensor.Tensor, error) {
	if dim < 0 {
		dim += data.NDim()
	}
	if dim < 0 || dim >= data.NDim() {
		return nil, fmt.Errorf("%w: rss dim %d out of range for %v", tensor.ErrShape, dim, data.Shape())
	}

	shape := data.Shape()
	outer := 1
	for _, d := range shape[:dim] {
		outer *= d
	}
	inner := 1
	for _, d := range shape[dim+1:] {
		inner *= d
	}
	n := shape[dim]

	outShape := append(append([]int(nil), shape[:dim]...), shape[dim+1:]...)
	out := tensor.Zeros(outShape...)
	values := data.Data()
	dst := out.Data()
	for o := 0; o < outer; o++ {
		for k := 0; k < n; k++ {
			src := values[(o*n+k)*inner : (o*n+k+1)*inner]
			acc := dst[o*inner : (o+1)*inner]
			for i, v := range src {
				acc[i] += v * v
			}
		}
	}
	for i, v := range dst {
		dst[i] = math.Sqrt(v)
	}
	return out, nil
}

// Normalize returns (data - mean) / (std + eps).
func Normalize(data *tensor.Tensor, mean, std, eps float64) *tensor.Tensor {
	out := data.Clone()
	values := out.Data()
	for i, v := range values {
		values[i] = (v - mean) / (std + eps)
	}
	return out
}

// NormalizeInstance normalizes data by its own sample mean and standard
// deviation and returns both statistics so they can be applied elsewhere.
func NormalizeInstance(data *tensor.Tensor, eps float64) (*tensor.Tensor, float64, float64) {
	mean, std := stat.MeanStdDev(data.Data(), nil)
	if math.IsNaN(std) {
		std = 0
	}
	return Normalize(data, mean, std, eps), mean, std
}

// Clamp limits every element to [lo, hi].
func Clamp(data *tensor.Tensor, lo, hi float64) *tensor.Tensor {
	out := data.Clone()
	values := out.Data()
	for i, v := range values {
		values[i] = math.Max(lo, math.Min(hi, v))
	}
	return out
}
