// Package spectrum models the polychromatic output of an X-ray tube as a discretised
// intensity-vs-energy histogram.
package spectrum

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ctsim/pkg/materials"
)

const (
	// NumBins is the number of energy bins in a generated spectrum (0-150 keV).
	NumBins = 151
	// BinWidthKeV is the energy step between bins.
	BinWidthKeV = 1.0
)

// Spectrum is a discretised photon spectrum. Intensity[i] is the relative number of
// photons at energy i*BinWidth keV.
type Spectrum struct {
	BinWidth  float64
	Intensity []float64
}

// New wraps an intensity array with the default 1 keV bin width.
func New(intensity []float64) Spectrum {
	return Spectrum{BinWidth: BinWidthKeV, Intensity: intensity}
}

// Len returns the number of bins.
func (s Spectrum) Len() int { return len(s.Intensity) }

// EnergyKeV returns the energy of bin i.
func (s Spectrum) EnergyKeV(i int) float64 { return float64(i) * s.BinWidth }

// EnergyMeV returns the energy of bin i in MeV, the unit used by the material tables.
func (s Spectrum) EnergyMeV(i int) float64 { return s.EnergyKeV(i) / 1000 }

// Total returns the summed intensity over all bins.
func (s Spectrum) Total() float64 { return floats.Sum(s.Intensity) }

// MeanEnergyKeV returns the intensity-weighted mean energy.
func (s Spectrum) MeanEnergyKeV() float64 {
	if s.Total() <= 0 {
		return 0
	}
	energies := make([]float64, s.Len())
	for i := range energies {
		energies[i] = s.EnergyKeV(i)
	}
	return stat.Mean(energies, s.Intensity)
}

// Normalized returns a copy whose intensities sum to 1.
func (s Spectrum) Normalized() Spectrum {
	out := Spectrum{BinWidth: s.BinWidth, Intensity: make([]float64, s.Len())}
	copy(out.Intensity, s.Intensity)
	if total := s.Total(); total > 0 {
		floats.Scale(1/total, out.Intensity)
	}
	return out
}

// Generator produces tube spectra.
type Generator interface {
	Generate(kVp, filtrationMM float64, filterMaterial string) (Spectrum, error)
}

// Kramers generates bremsstrahlung spectra from Kramers' law, N(E) ∝ (kVp−E)/E,
// hardened by the tube's inherent aluminium filtration and any added filter.
// Characteristic lines are not modelled.
type Kramers struct {
	Materials materials.Service
	// InherentAlMM is the inherent filtration in mm of aluminium.
	InherentAlMM float64
}

// NewKramers creates a generator with 2.5 mm Al inherent filtration.
func NewKramers(svc materials.Service) *Kramers {
	return &Kramers{Materials: svc, InherentAlMM: 2.5}
}

// Generate returns a normalised 151-bin spectrum for the given peak voltage and filter.
func (k *Kramers) Generate(kVp, filtrationMM float64, filterMaterial string) (Spectrum, error) {
	if kVp <= 0 || kVp > float64(NumBins-1)*BinWidthKeV {
		return Spectrum{}, fmt.Errorf("tube potential %g kVp outside 0-%g", kVp, float64(NumBins-1)*BinWidthKeV)
	}
	if filtrationMM < 0 {
		return Spectrum{}, fmt.Errorf("filtration must be non-negative, got %g mm", filtrationMM)
	}

	s := Spectrum{BinWidth: BinWidthKeV, Intensity: make([]float64, NumBins)}
	for i := 1; i < NumBins; i++ {
		e := s.EnergyKeV(i)
		if e >= kVp {
			break
		}
		n := (kVp - e) / e

		muAl, err := materials.LinearAttenuation(k.Materials, "aluminum", e/1000)
		if err != nil {
			return Spectrum{}, err
		}
		attenuation := muAl * k.InherentAlMM / 10
		if filtrationMM > 0 {
			muF, err := materials.LinearAttenuation(k.Materials, filterMaterial, e/1000)
			if err != nil {
				return Spectrum{}, fmt.Errorf("failed to filter spectrum: %w", err)
			}
			attenuation += muF * filtrationMM / 10
		}
		s.Intensity[i] = n * math.Exp(-attenuation)
	}
	if s.Total() <= 0 {
		return Spectrum{}, fmt.Errorf("spectrum fully absorbed by filtration")
	}
	return s.Normalized(), nil
}
