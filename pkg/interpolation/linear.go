// Package interpolation resamples irregularly spaced measurements along one axis.
//
// The helical reconstruction gathers detector samples at scattered table positions
// and needs values at evenly spaced z offsets around the slice being reconstructed.
// Resample sorts the samples, merges samples that share a position, and evaluates a
// piecewise linear fit; Boxcar averages such a resampling over a filter window.
package interpolation

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"
)

// ErrNoSamples is returned when there is nothing to interpolate.
var ErrNoSamples = errors.New("no samples to interpolate")

// Sample is one measurement at position Z.
type Sample struct {
	Z     float64
	Value float64
}

// SortByZ orders samples by position, in place.
func SortByZ(samples []Sample) {
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Z < samples[j].Z
	})
}

// merge returns strictly increasing positions with the mean value at each one.
// samples must already be sorted.
func merge(samples []Sample) (zs, values []float64) {
	zs = make([]float64, 0, len(samples))
	values = make([]float64, 0, len(samples))
	for i := 0; i < len(samples); {
		j := i
		sum := 0.0
		for j < len(samples) && samples[j].Z == samples[i].Z {
			sum += samples[j].Value
			j++
		}
		zs = append(zs, samples[i].Z)
		values = append(values, sum/float64(j-i))
		i = j
	}
	return zs, values
}

// Resample evaluates the samples at every target position by linear interpolation.
// Targets outside the sampled range take the value of the nearest end sample, and
// a single distinct position yields that value everywhere. samples is sorted in place.
func Resample(samples []Sample, targets []float64) ([]float64, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	SortByZ(samples)
	zs, values := merge(samples)

	out := make([]float64, len(targets))
	if len(zs) == 1 {
		for i := range out {
			out[i] = values[0]
		}
		return out, nil
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(zs, values); err != nil {
		return nil, err
	}
	for i, z := range targets {
		out[i] = pl.Predict(z)
	}
	return out, nil
}

// EvenlySpaced returns n positions spread evenly over [center-width/2, center+width/2].
// A single point sits at the center.
func EvenlySpaced(center, width float64, n int) []float64 {
	if n <= 1 {
		return []float64{center}
	}
	return floats.Span(make([]float64, n), center-width/2, center+width/2)
}

// Boxcar resamples the samples at n evenly spaced points across the window and
// returns their mean.
func Boxcar(samples []Sample, center, width float64, n int) (float64, error) {
	resampled, err := Resample(samples, EvenlySpaced(center, width, n))
	if err != nil {
		return 0, err
	}
	return stat.Mean(resampled, nil), nil
}
