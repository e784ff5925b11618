// Package fftc implements the centered Fourier transforms and complex-image helpers
// used to move MRI acquisitions between k-space and image space.
//
// Complex tensors keep real and imaginary parts in a trailing dimension of size 2,
// so a single-coil slice is [H, W, 2] and a multi-coil slice is [C, H, W, 2].
package fftc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"kspacegan/pkg/tensor"
)

// FFT2C applies a centered, orthonormal 2D FFT over dimensions -3 and -2 of a
// complex tensor. The input is left untouched.
func FFT2C(data *tensor.Tensor) (*tensor.Tensor, error) {
	return fft2c(data, false)
}

// IFFT2C applies a centered, orthonormal inverse 2D FFT over dimensions -3 and -2.
// Applied to undersampled k-space it yields the zero-filled reconstruction.
func IFFT2C(data *tensor.Tensor) (*tensor.Tensor, error) {
	return fft2c(data, true)
}

// fft2c runs the separable transform: every row of every image plane first,
// then every column. Each 1D pass is ifftshift, transform, fftshift.
func fft2c(data *tensor.Tensor, inverse bool) (*tensor.Tensor, error) {
	if err := checkComplex(data, 3); err != nil {
		return nil, err
	}

	height := data.Dim(-3)
	width := data.Dim(-2)
	out := data.Clone()
	values := out.Data()
	plane := height * width * 2
	if plane == 0 {
		return out, nil
	}

	rowFFT := fourier.NewCmplxFFT(width)
	colFFT := fourier.NewCmplxFFT(height)
	rowIn := make([]complex128, width)
	rowOut := make([]complex128, width)
	colIn := make([]complex128, height)
	colOut := make([]complex128, height)
	rowScale := 1 / math.Sqrt(float64(width))
	colScale := 1 / math.Sqrt(float64(height))

	for p := 0; p < len(values); p += plane {
		img := values[p : p+plane]

		// Row-wise transform
		for y := 0; y < height; y++ {
			base := y * width * 2
			for x := 0; x < width; x++ {
				src := base + ((x+width/2)%width)*2
				rowIn[x] = complex(img[src], img[src+1])
			}
			transform1D(rowFFT, rowOut, rowIn, inverse)
			for x := 0; x < width; x++ {
				c := rowOut[(x+width-width/2)%width]
				img[base+x*2] = real(c) * rowScale
				img[base+x*2+1] = imag(c) * rowScale
			}
		}

		// Column-wise transform
		for x := 0; x < width; x++ {
			for y := 0; y < height; y++ {
				src := (((y+height/2)%height)*width + x) * 2
				colIn[y] = complex(img[src], img[src+1])
			}
			transform1D(colFFT, colOut, colIn, inverse)
			for y := 0; y < height; y++ {
				c := colOut[(y+height-height/2)%height]
				dst := (y*width + x) * 2
				img[dst] = real(c) * colScale
				img[dst+1] = imag(c) * colScale
			}
		}
	}

	return out, nil
}

func transform1D(fft *fourier.CmplxFFT, dst, src []complex128, inverse bool) {
	if inverse {
		fft.Sequence(dst, src)
		return
	}
	fft.Coefficients(dst, src)
}

// checkComplex verifies that t has at least minDims dimensions and a trailing
// real/imaginary dimension.
func checkComplex(t *tensor.Tensor, minDims int) error {
	if t.NDim() < minDims || t.Dim(-1) != 2 {
		return fmt.Errorf("%w: complex tensor with at least %d dims and trailing size 2 required, got %v",
			tensor.ErrShape, minDims, t.Shape())
	}
	return nil
}
