// Package reconstruction turns fan-beam projection data into Hounsfield-unit images
// by filtered backprojection.
//
// Axial data is reconstructed with ReconAxialFBP: the detector rows are averaged into
// one sinogram, corrected for beam hardening, weighted, ramp-filtered and backprojected.
// Helical data is reconstructed with HelicalFIFBP, which first estimates an in-plane
// sinogram for each requested slice position by interpolating direct and
// complementary rays along z, then follows the same steps.
package reconstruction

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"

	"ctsim/internal/logging"
	"ctsim/internal/models"
	"ctsim/pkg/interpolation"
	"ctsim/pkg/materials"
	"ctsim/pkg/scanner"
	"ctsim/pkg/spectrum"
)

// DefaultBeamHardeningMaterial is the material assumed by the beam-hardening correction.
const DefaultBeamHardeningMaterial = "softtissue"

// ErrGeometryMismatch is returned when projection data does not fit the scanner.
var ErrGeometryMismatch = errors.New("projection data does not match scanner geometry")

// Params holds the reconstruction options.
type Params struct {
	// NumCores specifies how many goroutines filter and backproject.
	NumCores int

	// Verbose prints the processing steps.
	Verbose bool

	// Warn receives non-fatal problems such as helical data gaps.
	// Defaults to logging.Stdout.
	Warn logging.WarnFunc

	// Progress receives per-slice progress of helical reconstructions. When nil and
	// Verbose is set, a progress bar is printed.
	Progress interpolation.ProgressCallback

	// BeamHardeningMaterial is the single material assumed when linearising the data.
	// Empty means DefaultBeamHardeningMaterial.
	BeamHardeningMaterial string

	// DisableBeamHardening skips the beam-hardening correction.
	DisableBeamHardening bool

	// FilterWidth is the z extent of the helical boxcar filter in cm.
	FilterWidth float64

	// InterpolationPoints is the number of z positions resampled across the filter width.
	InterpolationPoints int

	// AbortOnGap makes HelicalFIFBP stop at the first slice with (view, channel)
	// elements that have no samples. Otherwise the gaps are reported through Warn,
	// left at zero, and kept for Gaps.
	AbortOnGap bool
}

// GapElement identifies one in-plane sinogram element with no helical samples.
type GapElement struct {
	View    int
	Channel int
}

// GapError reports the elements of a helical slice whose z window contained no data.
type GapError struct {
	Z        float64
	Elements []GapElement
}

func (e *GapError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "slice at z=%.3f cm: %d sinogram elements have no samples", e.Z, len(e.Elements))
	for i, el := range e.Elements {
		if i == 5 {
			b.WriteString(", ...")
			break
		}
		fmt.Fprintf(&b, "; projection %d channel %d", el.View, el.Channel)
	}
	return b.String()
}

// Reconstructor reconstructs slices for one scanner geometry, image grid and
// spectrum. Lookup tables are built on first use and reused by later slices.
// Every reconstructed slice is appended to Images.
type Reconstructor struct {
	params   *Params
	geom     scanner.Geometry
	settings scanner.ReconstructionSettings

	filter  *rampFilter
	bh      *beamHardening
	tables  *backprojectionTables
	muWater float64
	muAir   float64

	images []*models.Image
	gaps   []*GapError
}

// NewReconstructor prepares the ramp filter, the beam-hardening table and the HU
// scale. The FOV is clamped to the scan FOV with a warning. Water and air
// attenuation at the spectrum's mean energy define 0 and -1000 HU.
func NewReconstructor(params *Params, g scanner.Geometry, settings scanner.ReconstructionSettings, spec spectrum.Spectrum, svc materials.Service) (*Reconstructor, error) {
	// Defaults are filled into a copy; the caller's Params stay as given.
	p := Params{}
	if params != nil {
		p = *params
	}
	params = &p
	if params.NumCores < 1 {
		params.NumCores = runtime.NumCPU()
	}
	if params.Warn == nil {
		params.Warn = logging.Stdout
	}
	if params.BeamHardeningMaterial == "" {
		params.BeamHardeningMaterial = DefaultBeamHardeningMaterial
	}
	if params.InterpolationPoints < 1 {
		params.InterpolationPoints = 1
	}
	if settings.GridSize < 1 || settings.FOV <= 0 {
		return nil, fmt.Errorf("invalid image grid: %d pixels over %g cm", settings.GridSize, settings.FOV)
	}
	if spec.Total() <= 0 {
		return nil, errors.New("spectrum has no intensity")
	}

	meanMeV := spec.MeanEnergyKeV() / 1000
	muWater, err := materials.LinearAttenuation(svc, "water", meanMeV)
	if err != nil {
		return nil, fmt.Errorf("failed to set HU scale: %w", err)
	}
	muAir, err := materials.LinearAttenuation(svc, "air", meanMeV)
	if err != nil {
		return nil, fmt.Errorf("failed to set HU scale: %w", err)
	}

	r := &Reconstructor{
		params:   params,
		geom:     g,
		settings: settings.Clamp(g, params.Warn),
		filter:   newRampFilter(g.Channels(), g.DeltaGamma()),
		muWater:  muWater,
		muAir:    muAir,
	}
	if !params.DisableBeamHardening {
		r.bh, err = newBeamHardening(svc, spec, params.BeamHardeningMaterial, 2*g.Radius())
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Settings returns the image grid after FOV clamping.
func (r *Reconstructor) Settings() scanner.ReconstructionSettings { return r.settings }

// Images returns every slice reconstructed so far, in order.
func (r *Reconstructor) Images() []*models.Image { return r.images }

// Gaps returns the helical data gaps reported so far.
func (r *Reconstructor) Gaps() []*GapError { return r.gaps }

func (r *Reconstructor) checkData(data *models.ProjectionData) error {
	if data == nil {
		return errors.New("no projection data")
	}
	if data.Channels != r.geom.Channels() || data.Rows != r.geom.Rows() {
		return fmt.Errorf("%w: data has %d rows x %d channels, scanner %d x %d",
			ErrGeometryMismatch, data.Rows, data.Channels, r.geom.Rows(), r.geom.Channels())
	}
	if data.ViewsPerRotation < 2 || data.Views < data.ViewsPerRotation {
		return fmt.Errorf("need at least one full rotation, got %d of %d views", data.Views, data.ViewsPerRotation)
	}
	return nil
}

// ReconAxialFBP reconstructs the slice at the source position of an axial scan.
// The detector rows are averaged into a single sinogram over the first rotation.
func (r *Reconstructor) ReconAxialFBP(data *models.ProjectionData) (*models.Image, error) {
	if err := r.checkData(data); err != nil {
		return nil, err
	}
	if r.params.Verbose {
		fmt.Println("Step 1: Averaging detector rows...")
	}

	views := data.ViewsPerRotation
	channels := data.Channels
	sino := mat.NewDense(views, channels, nil)

	// Each view is a rows × channels block; its transpose times a vector of 1/rows
	// gives the row average, written straight into the sinogram row.
	avg := mat.NewVecDense(data.Rows, nil)
	for j := 0; j < data.Rows; j++ {
		avg.SetVec(j, 1/float64(data.Rows))
	}
	for v := 0; v < views; v++ {
		block := mat.NewDense(data.Rows, channels, data.View(v))
		mat.NewVecDense(channels, sino.RawRowView(v)).MulVec(block.T(), avg)
	}

	img := r.reconstructSlice(sino, data.SourceZ[0])
	r.images = append(r.images, img)
	return img, nil
}

// HelicalFIFBP reconstructs one slice per position in sliceZ from helical data. With
// no positions, the middle of the scanned range is used.
//
// Slices with gap elements either stop the reconstruction with a *GapError (when
// AbortOnGap is set) or are reconstructed with those elements at zero.
func (r *Reconstructor) HelicalFIFBP(data *models.ProjectionData, sliceZ ...float64) ([]*models.Image, error) {
	if err := r.checkData(data); err != nil {
		return nil, err
	}
	if r.params.FilterWidth <= 0 {
		return nil, fmt.Errorf("helical filter width must be positive, got %g", r.params.FilterWidth)
	}
	if len(sliceZ) == 0 {
		sliceZ = []float64{(data.SourceZ[0] + data.SourceZ[data.Views-1]) / 2}
	}

	var progress *interpolation.Progress
	if r.params.Progress != nil || r.params.Verbose {
		progress = interpolation.NewProgress(r.params.Progress)
		progress.Report(0, 0, fmt.Sprintf("Reconstructing %d helical slices...", len(sliceZ)))
	}

	out := make([]*models.Image, 0, len(sliceZ))
	for i, z := range sliceZ {
		sino, gaps := r.estimateSinogram(data, z)
		if len(gaps) > 0 {
			gapErr := &GapError{Z: z, Elements: gaps}
			r.gaps = append(r.gaps, gapErr)
			if r.params.AbortOnGap {
				return out, gapErr
			}
			r.params.Warn("%v", gapErr)
		}

		img := r.reconstructSlice(sino, z)
		r.images = append(r.images, img)
		out = append(out, img)
		if progress != nil {
			progress.Report(i+1, len(sliceZ), "")
		}
	}
	return out, nil
}

// estimateSinogram builds the in-plane sinogram at z0. Every (view, channel) element
// averages the direct rays at that view angle and the complementary rays, resampled
// at evenly spaced positions across the filter width.
func (r *Reconstructor) estimateSinogram(data *models.ProjectionData, z0 float64) (*mat.Dense, []GapElement) {
	g := r.geom
	views := data.ViewsPerRotation
	channels := data.Channels
	fw := r.params.FilterWidth
	window := fw/2 + 1
	dBeta := 2 * math.Pi / float64(views)

	sino := mat.NewDense(views, channels, nil)
	var (
		mu   sync.Mutex
		gaps []GapElement
	)

	parallelRange(views, r.params.NumCores, func(start, end int) {
		var samples []interpolation.Sample
		var local []GapElement
		for a := start; a < end; a++ {
			row := sino.RawRowView(a)
			beta := float64(a) * dBeta
			for c := 0; c < channels; c++ {
				samples = samples[:0]

				// Direct rays: the same view angle in every rotation.
				for v := a; v < data.Views; v += views {
					for j := 0; j < data.Rows; j++ {
						z := data.SourceZ[v] + g.RowOffset(j)
						if math.Abs(z-z0) <= window {
							samples = append(samples, interpolation.Sample{Z: z, Value: data.At(v, j, c)})
						}
					}
				}

				// Complementary rays run along the same line in the opposite direction,
				// from angle beta+pi+2*gamma through the mirrored channel. That angle falls
				// between two acquired views.
				mirror := channels - 1 - c
				f := math.Mod((beta+math.Pi+2*g.ChannelAngle(c))/dBeta, float64(views))
				if f < 0 {
					f += float64(views)
				}
				for fk := f; ; fk += float64(views) {
					v0 := int(fk)
					if v0+1 >= data.Views {
						break
					}
					w := fk - float64(v0)
					zSrc := data.SourceZ[v0] + w*(data.SourceZ[v0+1]-data.SourceZ[v0])
					for j := 0; j < data.Rows; j++ {
						z := zSrc + g.RowOffset(j)
						if math.Abs(z-z0) > window {
							continue
						}
						p0 := data.At(v0, j, mirror)
						p1 := data.At(v0+1, j, mirror)
						samples = append(samples, interpolation.Sample{Z: z, Value: p0 + w*(p1-p0)})
					}
				}

				if len(samples) == 0 {
					local = append(local, GapElement{View: a, Channel: c})
					continue
				}
				v, err := interpolation.Boxcar(samples, z0, fw, r.params.InterpolationPoints)
				if err != nil {
					local = append(local, GapElement{View: a, Channel: c})
					continue
				}
				row[c] = v
			}
		}
		mu.Lock()
		gaps = append(gaps, local...)
		mu.Unlock()
	})

	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].View != gaps[j].View {
			return gaps[i].View < gaps[j].View
		}
		return gaps[i].Channel < gaps[j].Channel
	})
	return sino, gaps
}

// reconstructSlice runs beam-hardening correction, fan-beam weighting, ramp
// filtering and backprojection on a views × channels sinogram. The sinogram is
// modified in place.
func (r *Reconstructor) reconstructSlice(sino *mat.Dense, z float64) *models.Image {
	g := r.geom
	views, channels := sino.Dims()

	if r.params.Verbose {
		fmt.Printf("Step 2: Correcting, weighting and filtering %d views...\n", views)
	}
	weights := make([]float64, channels)
	for ch := range weights {
		weights[ch] = g.Radius() * math.Cos(g.ChannelAngle(ch))
	}
	sino.Apply(func(_, ch int, p float64) float64 {
		if r.bh != nil {
			p = r.bh.correct(p)
		}
		return p * weights[ch]
	}, sino)
	parallelRange(views, r.params.NumCores, func(start, end int) {
		worker := r.filter.newWorker()
		for v := start; v < end; v++ {
			worker.apply(sino.RawRowView(v))
		}
	})

	if !r.tables.matches(r.settings.GridSize, r.settings.PixelSize(), views) {
		if r.params.Verbose {
			fmt.Printf("Step 3: Building backprojection tables for %d×%d pixels, %d views...\n",
				r.settings.GridSize, r.settings.GridSize, views)
		}
		r.tables = buildTables(g, r.settings, views, r.params.NumCores)
	}

	if r.params.Verbose {
		fmt.Printf("Step 4: Backprojecting slice at z=%.3f cm...\n", z)
	}
	filtered := sino.RawMatrix().Data
	return r.tables.backproject(filtered, channels, g.DeltaGamma(), r.muWater, r.muAir, z, r.params.NumCores)
}
