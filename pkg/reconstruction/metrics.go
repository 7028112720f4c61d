package reconstruction

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ctsim/internal/models"
)

// ValidationMetrics compare a reconstructed slice with the ground-truth slice
// rendered from the phantom. Only pixels inside the reconstruction FOV count.
type ValidationMetrics struct {
	// RMSE is the root mean square HU difference.
	RMSE float64

	// MeanError is the mean signed HU difference (reconstruction minus reference).
	MeanError float64

	// SSIM is the global structural similarity index over the FOV. 1 means identical.
	SSIM float64

	// WithinTolerance is the fraction of pixels whose error is at most the tolerance
	// passed to Validate.
	WithinTolerance float64

	// Pixels is the number of pixels compared.
	Pixels int
}

// ROIStats holds the mean and standard deviation of a circular region.
type ROIStats struct {
	Mean   float64
	StdDev float64
	Pixels int
}

// RegionStats measures the pixels whose centres lie within radius of (cx, cy).
func RegionStats(img *models.Image, cx, cy, radius float64) ROIStats {
	var values []float64
	for row := 0; row < img.Size; row++ {
		for col := 0; col < img.Size; col++ {
			x, y := img.PixelCenter(col, row)
			if math.Hypot(x-cx, y-cy) <= radius {
				values = append(values, float64(img.At(col, row)))
			}
		}
	}
	if len(values) == 0 {
		return ROIStats{}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	return ROIStats{Mean: mean, StdDev: std, Pixels: len(values)}
}

// Validate compares img with ref over the circle of diameter fov.
func Validate(img, ref *models.Image, fov, tolerance float64) (ValidationMetrics, error) {
	if img.Size != ref.Size {
		return ValidationMetrics{}, fmt.Errorf("image sizes differ: %d vs %d", img.Size, ref.Size)
	}
	var got, want []float64
	for row := 0; row < img.Size; row++ {
		for col := 0; col < img.Size; col++ {
			x, y := img.PixelCenter(col, row)
			if math.Hypot(x, y) > fov/2 {
				continue
			}
			got = append(got, float64(img.At(col, row)))
			want = append(want, float64(ref.At(col, row)))
		}
	}
	if len(got) == 0 {
		return ValidationMetrics{}, fmt.Errorf("no pixels inside a %.2f cm FOV", fov)
	}

	within := 0
	sum := 0.0
	for i := range got {
		d := got[i] - want[i]
		sum += d
		if math.Abs(d) <= tolerance {
			within++
		}
	}
	n := float64(len(got))
	return ValidationMetrics{
		RMSE:            calculateRMSE(want, got),
		MeanError:       sum / n,
		SSIM:            calculateSSIM(want, got),
		WithinTolerance: float64(within) / n,
		Pixels:          len(got),
	}, nil
}

// calculateRMSE computes the root mean square error
func calculateRMSE(original, reconstructed []float64) float64 {
	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}
	return floats.Distance(original, reconstructed, 2) / math.Sqrt(float64(n))
}

// calculateSSIM computes the Structural Similarity Index over the CT number range
func calculateSSIM(original, reconstructed []float64) float64 {
	// Dynamic range of the HU scale from air to dense bone.
	const L = 4000.0
	const k1 = 0.01
	const k2 = 0.03

	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	n := len(original)
	if n != len(reconstructed) || n < 2 {
		return 0
	}

	muX := stat.Mean(original, nil)
	muY := stat.Mean(reconstructed, nil)
	sigmaX := stat.Variance(original, nil)
	sigmaY := stat.Variance(reconstructed, nil)
	sigmaXY := stat.Covariance(original, reconstructed, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}
