package reconstruction

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// rampFilter convolves fan-beam projections with the equiangular ramp kernel in
// the frequency domain.
type rampFilter struct {
	channels   int
	deltaGamma float64
	size       int // padded transform length
	offset     int // first channel position inside the padded row
	response   []float64
}

// rampKernel returns the spatial ramp kernel for equiangular fan data, one tap per
// channel offset n in [-(channels-1), channels-1], centred at index channels-1.
func rampKernel(channels int, deltaGamma float64) []float64 {
	kernel := make([]float64, 2*channels-1)
	center := channels - 1
	for i := range kernel {
		n := i - center
		switch {
		case n == 0:
			kernel[i] = 1 / (8 * deltaGamma * deltaGamma)
		case n%2 == 0:
			kernel[i] = 0
		default:
			s := math.Pi * math.Sin(float64(n)*deltaGamma)
			kernel[i] = -0.5 / (s * s)
		}
	}
	return kernel
}

// nextPow2 returns the smallest power of two that is at least n.
func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// newRampFilter builds the kernel, pads it circularly to a power of two of at least
// 2·channels-1 and stores the magnitude of its transform as the filter response.
func newRampFilter(channels int, deltaGamma float64) *rampFilter {
	size := nextPow2(2*channels - 1)
	kernel := rampKernel(channels, deltaGamma)
	center := channels - 1

	// Zero offset at index 0, negative offsets wrapped to the end.
	padded := make([]float64, size)
	for i, v := range kernel {
		n := i - center
		padded[(n+size)%size] = v
	}

	fft := fourier.NewFFT(size)
	coeffs := fft.Coefficients(nil, padded)
	response := make([]float64, len(coeffs))
	for k, c := range coeffs {
		response[k] = cmplx.Abs(c)
	}

	return &rampFilter{
		channels:   channels,
		deltaGamma: deltaGamma,
		size:       size,
		offset:     (size - channels) / 2,
		response:   response,
	}
}

// Response returns the real, non-negative frequency response for the first
// size/2+1 frequencies.
func (f *rampFilter) Response() []float64 { return f.response }

// filterWorker holds the transform state of one goroutine. fourier.FFT keeps
// internal scratch space and must not be shared.
type filterWorker struct {
	*rampFilter
	fft    *fourier.FFT
	work   []float64
	coeffs []complex128
}

func (f *rampFilter) newWorker() *filterWorker {
	return &filterWorker{
		rampFilter: f,
		fft:        fourier.NewFFT(f.size),
		work:       make([]float64, f.size),
		coeffs:     make([]complex128, f.size/2+1),
	}
}

// apply filters one view's channel row in place.
func (w *filterWorker) apply(row []float64) {
	for i := range w.work {
		w.work[i] = 0
	}
	copy(w.work[w.offset:], row)

	w.fft.Coefficients(w.coeffs, w.work)
	for k := range w.coeffs {
		w.coeffs[k] *= complex(w.response[k], 0)
	}
	w.fft.Sequence(w.work, w.coeffs)

	// Sequence is unnormalised.
	scale := w.deltaGamma / float64(w.size)
	for i := range row {
		row[i] = w.work[w.offset+i] * scale
	}
}
