// Package metrics scores an image against its ground truth.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"kspacegan/pkg/tensor"
)

// ssimWindow is the side of the square SSIM window
const ssimWindow = 7

// Metrics holds the image quality scores of one prediction.
type Metrics struct {
	// NMSE is the squared error normalized by the target energy. Lower is better.
	NMSE float64

	// RMSE is the root mean square error.
	RMSE float64

	// PSNR is the peak signal to noise ratio in dB, with the target maximum as peak.
	PSNR float64

	// SSIM is the mean structural similarity over 7x7 windows, in [-1, 1].
	SSIM float64
}

// Evaluate computes all metrics of pred against target. Both tensors must have
// the same shape with at least two dimensions; leading dimensions are treated
// as separate images.
func Evaluate(target, pred *tensor.Tensor) (Metrics, error) {
	if err := check(target, pred); err != nil {
		return Metrics{}, err
	}
	ssim, err := SSIM(target, pred, target.Max())
	if err != nil {
		return Metrics{}, err
	}
	return Metrics{
		NMSE: NMSE(target.Data(), pred.Data()),
		RMSE: RMSE(target.Data(), pred.Data()),
		PSNR: PSNR(target.Data(), pred.Data(), target.Max()),
		SSIM: ssim,
	}, nil
}

func check(target, pred *tensor.Tensor) error {
	if !tensor.SameShape(target, pred) {
		return fmt.Errorf("%w: target %v and prediction %v differ", tensor.ErrShape, target.Shape(), pred.Shape())
	}
	if target.NDim() < 2 {
		return fmt.Errorf("%w: images need at least 2 dims, got %v", tensor.ErrShape, target.Shape())
	}
	return nil
}

// NMSE returns ||target - pred||^2 / ||target||^2.
func NMSE(target, pred []float64) float64 {
	energy := floats.Dot(target, target)
	if energy == 0 {
		return math.Inf(1)
	}
	return sumSquaredDiff(target, pred) / energy
}

// RMSE returns the root mean square error
func RMSE(target, pred []float64) float64 {
	if len(target) == 0 {
		return 0
	}
	return math.Sqrt(sumSquaredDiff(target, pred) / float64(len(target)))
}

// PSNR returns 10 log10(peak^2 / MSE).
func PSNR(target, pred []float64, peak float64) float64 {
	if len(target) == 0 {
		return 0
	}
	mse := sumSquaredDiff(target, pred) / float64(len(target))
	if mse == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(peak*peak/mse)
}

func sumSquaredDiff(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// SSIM returns the structural similarity averaged over every full 7x7 window
// of every image plane. dataRange sets the stabilizing constants.
func SSIM(target, pred *tensor.Tensor, dataRange float64) (float64, error) {
	if err := check(target, pred); err != nil {
		return 0, err
	}
	height, width := target.Dim(-2), target.Dim(-1)
	if height < ssimWindow || width < ssimWindow {
		return 0, fmt.Errorf("%w: SSIM needs images of at least %dx%d, got %dx%d",
			tensor.ErrShape, ssimWindow, ssimWindow, height, width)
	}

	const k1, k2 = 0.01, 0.03
	c1 := (k1 * dataRange) * (k1 * dataRange)
	c2 := (k2 * dataRange) * (k2 * dataRange)

	plane := height * width
	x := make([]float64, ssimWindow*ssimWindow)
	y := make([]float64, ssimWindow*ssimWindow)
	tv, pv := target.Data(), pred.Data()

	total, windows := 0.0, 0
	for p := 0; p < len(tv); p += plane {
		for top := 0; top+ssimWindow <= height; top++ {
			for left := 0; left+ssimWindow <= width; left++ {
				for r := 0; r < ssimWindow; r++ {
					row := p + (top+r)*width + left
					copy(x[r*ssimWindow:(r+1)*ssimWindow], tv[row:row+ssimWindow])
					copy(y[r*ssimWindow:(r+1)*ssimWindow], pv[row:row+ssimWindow])
				}

				muX := stat.Mean(x, nil)
				muY := stat.Mean(y, nil)
				num := (2*muX*muY + c1) * (2*stat.Covariance(x, y, nil) + c2)
				den := (muX*muX + muY*muY + c1) * (stat.Variance(x, nil) + stat.Variance(y, nil) + c2)
				total += num / den
				windows++
			}
		}
	}
	return total / float64(windows), nil
}
