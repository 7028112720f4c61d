package scanner

import (
	"fmt"

	"ctsim/internal/logging"
)

// AcquisitionSettings are the exposure parameters of a scan.
type AcquisitionSettings struct {
	// KVp is the peak tube potential.
	KVp float64
	// Fluence is the number of photons reaching each detector element in air.
	Fluence float64
	// ViewsPerRotation is the number of projection angles per gantry turn.
	ViewsPerRotation int
	// FiltrationMM is the added beam filtration thickness.
	FiltrationMM float64
	// FilterMaterial names the added filter material.
	FilterMaterial string
	// ElectronicNoise is the standard deviation of the constant detector noise.
	ElectronicNoise float64
}

// Validate checks the settings for values no acquisition can use.
func (a AcquisitionSettings) Validate() error {
	if a.KVp <= 0 {
		return fmt.Errorf("tube potential must be positive, got %g", a.KVp)
	}
	if a.Fluence <= 0 {
		return fmt.Errorf("photon fluence must be positive, got %g", a.Fluence)
	}
	if a.ViewsPerRotation < 2 {
		return fmt.Errorf("need at least 2 views per rotation, got %d", a.ViewsPerRotation)
	}
	if a.ElectronicNoise < 0 {
		return fmt.Errorf("electronic noise must be non-negative, got %g", a.ElectronicNoise)
	}
	return nil
}

// ReconstructionSettings describe the image grid.
type ReconstructionSettings struct {
	// FOV is the diameter of the reconstructed field of view.
	FOV float64
	// GridSize is the number of pixels along each side of the square image.
	GridSize int
}

// Clamp returns the settings with FOV limited to the scanner's scan field of view.
// A clamp is reported through warn rather than as an error.
func (r ReconstructionSettings) Clamp(g Geometry, warn logging.WarnFunc) ReconstructionSettings {
	if r.FOV > g.ScanFOV() {
		warn("reconstruction FOV %.2f cm exceeds scan FOV %.2f cm, clamping", r.FOV, g.ScanFOV())
		r.FOV = g.ScanFOV()
	}
	return r
}

// PixelSize returns the side of one pixel.
func (r ReconstructionSettings) PixelSize() float64 {
	return r.FOV / float64(r.GridSize)
}
