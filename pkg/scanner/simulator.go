package scanner

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"ctsim/internal/logging"
	"ctsim/internal/models"
	"ctsim/pkg/materials"
	"ctsim/pkg/noise"
	"ctsim/pkg/phantom"
	"ctsim/pkg/spectrum"
)

// minSignal replaces non-positive detector readings so the log normalisation stays finite.
const minSignal = 0.1

var (
	// ErrNotConfigured is returned when acquiring before geometry and settings are set.
	ErrNotConfigured = errors.New("scanner geometry and acquisition settings not set")
	// ErrNoAirScan is returned when acquiring projections before the air scan.
	ErrNoAirScan = errors.New("air scan not acquired")
)

// State is the acquisition progress of a Simulator.
type State int

const (
	Unconfigured State = iota
	Configured
	AirScanAcquired
	ProjectionsAcquired
)

// Simulator acquires air scans and projections of a phantom.
//
// Configure it with SetGeometry and SetAcquisition, then call AcquireAirScan followed
// by any number of AcquireAxialProjections / AcquireHelicalProjections calls. Each
// projection call replaces the previous dataset and reuses the air scan.
type Simulator struct {
	materials materials.Service
	generator spectrum.Generator
	sampler   noise.Sampler

	geom     Geometry
	hasGeom  bool
	acq      AcquisitionSettings
	hasAcq   bool
	recon    ReconstructionSettings
	spectrum spectrum.Spectrum

	state       State
	air         *models.AirScan
	projections *models.ProjectionData

	// NumCores bounds the number of goroutines tracing rays.
	NumCores int
	// Verbose prints progress lines.
	Verbose bool
	// Warn receives non-fatal problems. Defaults to logging.Stdout.
	Warn logging.WarnFunc
}

// NewSimulator creates a simulator using svc for attenuation data, gen for tube
// spectra and sampler for detector noise.
func NewSimulator(svc materials.Service, gen spectrum.Generator, sampler noise.Sampler) *Simulator {
	return &Simulator{
		materials: svc,
		generator: gen,
		sampler:   sampler,
		NumCores:  runtime.NumCPU(),
		Warn:      logging.Stdout,
	}
}

// SetGeometry sets the scanner layout.
func (s *Simulator) SetGeometry(g Geometry) {
	s.geom = g
	s.hasGeom = true
	if s.recon.FOV > 0 {
		s.recon = s.recon.Clamp(g, s.Warn)
	}
	s.updateState()
}

// SetAcquisition sets the exposure and generates the matching tube spectrum.
func (s *Simulator) SetAcquisition(a AcquisitionSettings) error {
	if err := a.Validate(); err != nil {
		return err
	}
	spec, err := s.generator.Generate(a.KVp, a.FiltrationMM, a.FilterMaterial)
	if err != nil {
		return fmt.Errorf("failed to generate spectrum: %w", err)
	}
	s.acq = a
	s.spectrum = spec.Normalized()
	s.hasAcq = true
	s.updateState()
	return nil
}

// SetReconstruction sets the image grid, clamping the FOV to the scan FOV. When no
// geometry is set yet the clamp happens in SetGeometry.
func (s *Simulator) SetReconstruction(fov float64, gridSize int) {
	r := ReconstructionSettings{FOV: fov, GridSize: gridSize}
	if s.hasGeom {
		r = r.Clamp(s.geom, s.Warn)
	}
	s.recon = r
}

func (s *Simulator) updateState() {
	if s.state == Unconfigured && s.hasGeom && s.hasAcq {
		s.state = Configured
	}
}

// State returns the acquisition progress.
func (s *Simulator) State() State { return s.state }

// Geometry returns the scanner layout.
func (s *Simulator) Geometry() Geometry { return s.geom }

// Acquisition returns the exposure settings.
func (s *Simulator) Acquisition() AcquisitionSettings { return s.acq }

// Reconstruction returns the image grid settings.
func (s *Simulator) Reconstruction() ReconstructionSettings { return s.recon }

// Spectrum returns the normalised tube spectrum of the current settings.
func (s *Simulator) Spectrum() spectrum.Spectrum { return s.spectrum }

// AirScan returns the last air scan, or nil.
func (s *Simulator) AirScan() *models.AirScan { return s.air }

// Projections returns the last projection dataset, or nil.
func (s *Simulator) Projections() *models.ProjectionData { return s.projections }

// AcquireAirScan records one view with no object in the beam. The detector reads
// the fluence attenuated only by the air between source and detector, with noise.
func (s *Simulator) AcquireAirScan() (*models.AirScan, error) {
	if s.state == Unconfigured {
		return nil, ErrNotConfigured
	}
	if s.Verbose {
		fmt.Println("Acquiring air scan...")
	}

	muAir := make([]float64, s.spectrum.Len())
	for e, w := range s.spectrum.Intensity {
		if w == 0 {
			continue
		}
		mu, err := materials.LinearAttenuation(s.materials, "air", s.spectrum.EnergyMeV(e))
		if err != nil {
			return nil, fmt.Errorf("failed to acquire air scan: %w", err)
		}
		muAir[e] = mu
	}

	g := s.geom
	air := models.NewAirScan(g.Rows(), g.Channels())
	for row := 0; row < g.Rows(); row++ {
		for ch := 0; ch < g.Channels(); ch++ {
			length := g.DetectorRay(0, 0, row, ch).Len()
			transmitted := 0.0
			for e, w := range s.spectrum.Intensity {
				if w != 0 {
					transmitted += w * math.Exp(-muAir[e]*length)
				}
			}
			air.Data[row*g.Channels()+ch] = s.addNoise(s.acq.Fluence * transmitted)
		}
	}

	s.air = air
	s.projections = nil
	s.state = AirScanAcquired
	return air, nil
}

// AcquireAxialProjections records one full rotation with the source at table
// position z and returns the air-normalised line integrals.
func (s *Simulator) AcquireAxialProjections(model *phantom.Model, z float64) (*models.ProjectionData, error) {
	m := s.acq.ViewsPerRotation
	return s.acquire(model, models.Axial, m, 0, func(int) float64 { return z })
}

// AcquireHelicalProjections records the given number of rotations while the table
// advances pitch × detector coverage per rotation, starting at zStart.
func (s *Simulator) AcquireHelicalProjections(model *phantom.Model, pitch, zStart float64, rotations int) (*models.ProjectionData, error) {
	if rotations < 1 {
		return nil, fmt.Errorf("need at least one rotation, got %d", rotations)
	}
	if pitch <= 0 {
		return nil, fmt.Errorf("helical pitch must be positive, got %g", pitch)
	}
	m := s.acq.ViewsPerRotation
	dz := pitch * s.geom.Coverage() / float64(m)
	return s.acquire(model, models.Helical, m*rotations, pitch, func(v int) float64 {
		return zStart + float64(v)*dz
	})
}

func (s *Simulator) acquire(model *phantom.Model, mode models.ScanMode, views int, pitch float64, sourceZ func(int) float64) (*models.ProjectionData, error) {
	if s.state == Unconfigured {
		return nil, ErrNotConfigured
	}
	if s.air == nil {
		return nil, ErrNoAirScan
	}
	if model.Tabulated() && !model.TabulatedFor(s.spectrum) {
		s.Warn("attenuation lists were tabulated for another spectrum, re-tabulating")
		model.ResetAttenuationLists()
	}
	if !model.Tabulated() {
		if err := model.TabulateAttenuationLists(s.spectrum); err != nil {
			return nil, fmt.Errorf("failed to tabulate attenuation: %w", err)
		}
	}

	g := s.geom
	m := s.acq.ViewsPerRotation
	data := models.NewProjectionData(mode, views, m, g.Rows(), g.Channels())
	data.Pitch = pitch
	data.KVp = s.acq.KVp
	for v := 0; v < views; v++ {
		data.SourceZ[v] = sourceZ(v)
	}

	if s.Verbose {
		fmt.Printf("Acquiring %s projections: %d views x %d rows x %d channels...\n",
			mode, views, g.Rows(), g.Channels())
	}

	// Trace in parallel; every worker owns a contiguous range of views.
	transmitted := make([]float64, len(data.Data))
	numCores := s.NumCores
	if numCores < 1 {
		numCores = 1
	}
	viewsPerCore := (views + numCores - 1) / numCores
	errs := make([]error, numCores)
	var wg sync.WaitGroup
	for c := 0; c < numCores; c++ {
		start := c * viewsPerCore
		end := min(start+viewsPerCore, views)
		if start >= end {
			break
		}
		wg.Add(1)
		go func(coreID, start, end int) {
			defer wg.Done()
			for v := start; v < end; v++ {
				beta := 2 * math.Pi * float64(v) / float64(m)
				for row := 0; row < g.Rows(); row++ {
					for ch := 0; ch < g.Channels(); ch++ {
						ray := g.DetectorRay(beta, data.SourceZ[v], row, ch)
						t, err := model.GetRayAttenuation(ray, s.spectrum)
						if err != nil {
							errs[coreID] = err
							return
						}
						transmitted[data.Index(v, row, ch)] = t
					}
				}
			}
		}(c, start, end)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to trace projections: %w", err)
	}

	// Noise is sampled sequentially: the sampler is not safe for concurrent use.
	for v := 0; v < views; v++ {
		for row := 0; row < g.Rows(); row++ {
			for ch := 0; ch < g.Channels(); ch++ {
				i := data.Index(v, row, ch)
				signal := s.addNoise(s.acq.Fluence * transmitted[i])
				data.Data[i] = math.Log(s.air.At(row, ch) / signal)
			}
		}
	}

	s.projections = data
	s.state = ProjectionsAcquired
	return data, nil
}

// addNoise applies quantum noise (Gaussian with variance equal to the signal) and
// electronic noise, and floors the result at minSignal.
func (s *Simulator) addNoise(signal float64) float64 {
	noisy := s.sampler.Normal(signal, math.Sqrt(math.Max(signal, 0)))
	noisy += s.sampler.Normal(0, s.acq.ElectronicNoise)
	if noisy <= 0 {
		return minSignal
	}
	return noisy
}
