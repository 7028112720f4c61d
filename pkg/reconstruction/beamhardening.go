package reconstruction

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"

	"ctsim/pkg/materials"
	"ctsim/pkg/spectrum"
)

// thicknessStep is the spacing of the beam-hardening lookup table in cm.
const thicknessStep = 0.25

// beamHardening maps a polychromatic line integral to the line integral the same
// path would have at the spectrum's mean energy, assuming a single material.
type beamHardening struct {
	thickness interp.PiecewiseLinear // line integral -> equivalent thickness
	muMean    float64                // material attenuation at the mean energy
}

// newBeamHardening forward-simulates the spectrum through 0..maxThickness cm of
// material and inverts the resulting curve.
func newBeamHardening(svc materials.Service, spec spectrum.Spectrum, material string, maxThickness float64) (*beamHardening, error) {
	mu := make([]float64, spec.Len())
	for e, w := range spec.Intensity {
		if w == 0 {
			continue
		}
		v, err := materials.LinearAttenuation(svc, material, spec.EnergyMeV(e))
		if err != nil {
			return nil, fmt.Errorf("failed to build beam-hardening table: %w", err)
		}
		mu[e] = v
	}
	muMean, err := materials.LinearAttenuation(svc, material, spec.MeanEnergyKeV()/1000)
	if err != nil {
		return nil, fmt.Errorf("failed to build beam-hardening table: %w", err)
	}

	total := spec.Total()
	steps := int(math.Ceil(maxThickness / thicknessStep))
	integrals := make([]float64, 0, steps+1)
	thicknesses := make([]float64, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) * thicknessStep
		transmitted := 0.0
		for e, w := range spec.Intensity {
			if w != 0 {
				transmitted += w * math.Exp(-mu[e]*t)
			}
		}
		p := -math.Log(transmitted / total)
		// Stop once the curve flattens out numerically.
		if n := len(integrals); n > 0 && (p <= integrals[n-1] || math.IsInf(p, 0)) {
			break
		}
		integrals = append(integrals, p)
		thicknesses = append(thicknesses, t)
	}

	bh := &beamHardening{muMean: muMean}
	if err := bh.thickness.Fit(integrals, thicknesses); err != nil {
		return nil, fmt.Errorf("failed to build beam-hardening table: %w", err)
	}
	return bh, nil
}

// correct returns the monochromatic line integral for a measured one. Values outside
// the table are clamped to its ends.
func (b *beamHardening) correct(p float64) float64 {
	return b.muMean * b.thickness.Predict(p)
}
