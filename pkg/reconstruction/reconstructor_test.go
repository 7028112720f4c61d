package reconstruction

import (
	"errors"
	"math"
	"testing"

	"ctsim/internal/logging"
	"ctsim/internal/models"
	"ctsim/pkg/geometry"
	"ctsim/pkg/materials"
	"ctsim/pkg/noise"
	"ctsim/pkg/phantom"
	"ctsim/pkg/scanner"
	"ctsim/pkg/spectrum"
)

// newTestSimulator creates a noiseless 256-channel scanner with a 30 cm scan FOV
// and acquires its air scan
func newTestSimulator(t *testing.T, rows, views int) (*scanner.Simulator, *materials.Table) {
	t.Helper()
	tbl, err := materials.Reference()
	if err != nil {
		t.Fatalf("Failed to load materials: %v", err)
	}
	sim := scanner.NewSimulator(tbl, spectrum.NewKramers(tbl), noise.None{})
	sim.Warn = logging.Discard
	g, err := scanner.NewGeometry(50, 256, 0.119, rows, 0.5)
	if err != nil {
		t.Fatalf("Failed to create geometry: %v", err)
	}
	sim.SetGeometry(g)
	if err := sim.SetAcquisition(scanner.AcquisitionSettings{
		KVp:              120,
		Fluence:          1e6,
		ViewsPerRotation: views,
	}); err != nil {
		t.Fatalf("Failed to set acquisition: %v", err)
	}
	if _, err := sim.AcquireAirScan(); err != nil {
		t.Fatalf("Failed to acquire air scan: %v", err)
	}
	return sim, tbl
}

// waterCylinder builds a water cylinder of the given radius centred in an air world
func waterCylinder(t *testing.T, tbl materials.Service, radius float64) *phantom.Model {
	t.Helper()
	m := phantom.NewModel(tbl)
	m.Warn = logging.Discard
	if err := m.AddObject("world", geometry.NewCylinder(geometry.Vector3{}, 60, 0), phantom.WorldParent, "air"); err != nil {
		t.Fatal(err)
	}
	if err := m.AddObject("water", geometry.NewCylinder(geometry.Vector3{}, radius, 0), "world", "water"); err != nil {
		t.Fatal(err)
	}
	if err := m.MakeTree(); err != nil {
		t.Fatal(err)
	}
	return m
}

func newTestReconstructor(t *testing.T, sim *scanner.Simulator, tbl materials.Service, params *Params, fov float64, grid int) *Reconstructor {
	t.Helper()
	settings := scanner.ReconstructionSettings{FOV: fov, GridSize: grid}
	r, err := NewReconstructor(params, sim.Geometry(), settings, sim.Spectrum(), tbl)
	if err != nil {
		t.Fatalf("Failed to create reconstructor: %v", err)
	}
	return r
}

// TestRampKernelSymmetry verifies the spatial kernel taps
func TestRampKernelSymmetry(t *testing.T) {
	const channels = 64
	const dg = 0.002
	kernel := rampKernel(channels, dg)

	if len(kernel) != 2*channels-1 {
		t.Fatalf("Expected %d taps, got %d", 2*channels-1, len(kernel))
	}
	center := channels - 1
	if math.Abs(kernel[center]-1/(8*dg*dg)) > 1e-6 {
		t.Errorf("Centre tap: expected %g, got %g", 1/(8*dg*dg), kernel[center])
	}
	for n := 1; n < channels; n++ {
		if kernel[center+n] != kernel[center-n] {
			t.Errorf("Kernel not symmetric at offset %d: %g vs %g", n, kernel[center+n], kernel[center-n])
		}
		if n%2 == 0 && kernel[center+n] != 0 {
			t.Errorf("Even offset %d should be 0, got %g", n, kernel[center+n])
		}
		if n%2 == 1 && kernel[center+n] >= 0 {
			t.Errorf("Odd offset %d should be negative, got %g", n, kernel[center+n])
		}
	}
}

// TestRampFilterResponse verifies the padded length and that the response is a
// non-negative ramp
func TestRampFilterResponse(t *testing.T) {
	tests := []struct {
		channels int
		size     int
	}{
		{channels: 2, size: 4},
		{channels: 64, size: 128},
		{channels: 65, size: 256},
		{channels: 256, size: 512},
	}

	for _, tc := range tests {
		f := newRampFilter(tc.channels, 0.1/float64(tc.channels))
		if f.size != tc.size {
			t.Errorf("%d channels: expected padded size %d, got %d", tc.channels, tc.size, f.size)
		}
		resp := f.Response()
		if len(resp) != f.size/2+1 {
			t.Errorf("%d channels: expected %d frequencies, got %d", tc.channels, f.size/2+1, len(resp))
		}
		for k, v := range resp {
			if v < 0 || math.IsNaN(v) {
				t.Errorf("%d channels: response at %d is %g", tc.channels, k, v)
			}
		}
	}

	f := newRampFilter(256, 0.00238)
	resp := f.Response()
	if !(resp[f.size/2] > resp[f.size/4] && resp[f.size/4] > resp[f.size/16] && resp[f.size/16] > resp[1]) {
		t.Errorf("Response does not rise with frequency: %g %g %g %g",
			resp[1], resp[f.size/16], resp[f.size/4], resp[f.size/2])
	}
}

// TestBeamHardeningInversion verifies that a polychromatic water line integral is
// mapped back to the monochromatic one
func TestBeamHardeningInversion(t *testing.T) {
	tbl, err := materials.Reference()
	if err != nil {
		t.Fatal(err)
	}
	spec, err := spectrum.NewKramers(tbl).Generate(120, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	spec = spec.Normalized()

	bh, err := newBeamHardening(tbl, spec, "water", 100)
	if err != nil {
		t.Fatalf("Failed to build table: %v", err)
	}

	muMean, _ := materials.LinearAttenuation(tbl, "water", spec.MeanEnergyKeV()/1000)
	for _, thickness := range []float64{1, 7.3, 20} {
		transmitted := 0.0
		for e, w := range spec.Intensity {
			if w == 0 {
				continue
			}
			mu, _ := materials.LinearAttenuation(tbl, "water", spec.EnergyMeV(e))
			transmitted += w * math.Exp(-mu*thickness)
		}
		p := -math.Log(transmitted)
		got := bh.correct(p)
		want := muMean * thickness
		if math.Abs(got-want) > 0.01*want {
			t.Errorf("Thickness %g: expected %g, got %g", thickness, want, got)
		}
	}

	if got := bh.correct(-0.5); got != 0 {
		t.Errorf("Negative line integral should clamp to 0, got %g", got)
	}
}

// TestAxialRoundTrip reconstructs a noiseless water cylinder and checks the HU scale
func TestAxialRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping round-trip reconstruction in short mode")
	}

	sim, tbl := newTestSimulator(t, 1, 360)
	model := waterCylinder(t, tbl, 8)
	data, err := sim.AcquireAxialProjections(model, 0)
	if err != nil {
		t.Fatalf("Acquisition failed: %v", err)
	}

	r := newTestReconstructor(t, sim, tbl, &Params{NumCores: 4, Warn: logging.Discard, BeamHardeningMaterial: "water"}, 25, 64)
	img, err := r.ReconAxialFBP(data)
	if err != nil {
		t.Fatalf("Reconstruction failed: %v", err)
	}
	if len(r.Images()) != 1 || r.Images()[0] != img {
		t.Errorf("Expected the slice to be appended to the output list")
	}

	for row := 0; row < img.Size; row++ {
		for col := 0; col < img.Size; col++ {
			x, y := img.PixelCenter(col, row)
			radius := math.Hypot(x, y)
			hu := img.At(col, row)
			switch {
			case radius < 6:
				if hu < -50 || hu > 50 {
					t.Errorf("Water pixel (%d,%d) at r=%.2f: expected ~0 HU, got %d", col, row, radius, hu)
				}
			case radius > 10:
				if hu < -1050 || hu > -950 {
					t.Errorf("Air pixel (%d,%d) at r=%.2f: expected ~-1000 HU, got %d", col, row, radius, hu)
				}
			}
		}
	}

	ref, err := model.ReferenceHU(img.Size, img.PixelSize, 0, sim.Spectrum().MeanEnergyKeV()/1000)
	if err != nil {
		t.Fatalf("Failed to render reference: %v", err)
	}
	metrics, err := Validate(img, ref, 25, 50)
	if err != nil {
		t.Fatalf("Validation failed: %v", err)
	}
	if metrics.WithinTolerance < 0.9 {
		t.Errorf("Expected at least 90%% of pixels within 50 HU, got %.1f%%", metrics.WithinTolerance*100)
	}
}

// TestOutsideFOVIsAir verifies that pixels beyond FOV/2 are exactly -1000 even when
// the object extends past the FOV
func TestOutsideFOVIsAir(t *testing.T) {
	sim, tbl := newTestSimulator(t, 1, 90)
	data, err := sim.AcquireAxialProjections(waterCylinder(t, tbl, 14), 0)
	if err != nil {
		t.Fatal(err)
	}

	r := newTestReconstructor(t, sim, tbl, &Params{NumCores: 2, Warn: logging.Discard}, 20, 32)
	img, err := r.ReconAxialFBP(data)
	if err != nil {
		t.Fatal(err)
	}

	outside, inside := 0, 0
	for row := 0; row < img.Size; row++ {
		for col := 0; col < img.Size; col++ {
			x, y := img.PixelCenter(col, row)
			if math.Hypot(x, y) > 10 {
				outside++
				if img.At(col, row) != models.OutsideFOV {
					t.Errorf("Pixel (%d,%d) outside FOV: expected %d, got %d", col, row, models.OutsideFOV, img.At(col, row))
				}
			} else if img.At(col, row) != models.OutsideFOV {
				inside++
			}
		}
	}
	if outside == 0 || inside == 0 {
		t.Errorf("Expected pixels on both sides of the FOV edge, got %d outside, %d inside with content", outside, inside)
	}
}

// TestFOVClamp verifies that an oversized FOV is clamped with a warning
func TestFOVClamp(t *testing.T) {
	sim, tbl := newTestSimulator(t, 1, 36)
	rec := &logging.Recorder{}
	r := newTestReconstructor(t, sim, tbl, &Params{Warn: rec.Warn}, 100, 16)
	if math.Abs(r.Settings().FOV-sim.Geometry().ScanFOV()) > 1e-12 {
		t.Errorf("Expected FOV %g, got %g", sim.Geometry().ScanFOV(), r.Settings().FOV)
	}
	if rec.Len() != 1 {
		t.Errorf("Expected 1 warning, got %d", rec.Len())
	}
}

// TestParamsNotModified verifies that defaults are filled into a copy of the
// caller's parameters
func TestParamsNotModified(t *testing.T) {
	sim, tbl := newTestSimulator(t, 1, 36)
	params := &Params{}
	r := newTestReconstructor(t, sim, tbl, params, 20, 16)
	if params.NumCores != 0 || params.Warn != nil || params.BeamHardeningMaterial != "" || params.InterpolationPoints != 0 {
		t.Errorf("Expected caller's params to stay empty, got %+v", *params)
	}
	if r.params.NumCores < 1 || r.params.BeamHardeningMaterial != DefaultBeamHardeningMaterial {
		t.Errorf("Expected defaults in the reconstructor, got %+v", *r.params)
	}
}

// TestGeometryMismatch verifies that data from another scanner is rejected
func TestGeometryMismatch(t *testing.T) {
	sim, tbl := newTestSimulator(t, 1, 36)
	r := newTestReconstructor(t, sim, tbl, &Params{Warn: logging.Discard}, 20, 16)

	data := models.NewProjectionData(models.Axial, 36, 36, 1, 8)
	if _, err := r.ReconAxialFBP(data); !errors.Is(err, ErrGeometryMismatch) {
		t.Errorf("Expected ErrGeometryMismatch, got %v", err)
	}
	if _, err := NewReconstructor(nil, sim.Geometry(), scanner.ReconstructionSettings{FOV: 20}, sim.Spectrum(), tbl); err == nil {
		t.Error("Expected an error for an empty grid")
	}
}

// offCentrePhantom is a water cylinder with a bone rod away from the isocentre, so
// a direct ray and its complementary ray cross different parts of the object
func offCentrePhantom(t *testing.T, tbl materials.Service) *phantom.Model {
	t.Helper()
	m := phantom.NewModel(tbl)
	m.Warn = logging.Discard
	if err := m.AddObject("world", geometry.NewCylinder(geometry.Vector3{}, 60, 0), phantom.WorldParent, "air"); err != nil {
		t.Fatal(err)
	}
	if err := m.AddObject("water", geometry.NewCylinder(geometry.Vector3{}, 8, 0), "world", "water"); err != nil {
		t.Fatal(err)
	}
	if err := m.AddObject("rod", geometry.NewCylinder(geometry.Vector3{X: 4, Y: 2}, 1.5, 0), "water", "bone"); err != nil {
		t.Fatal(err)
	}
	if err := m.MakeTree(); err != nil {
		t.Fatal(err)
	}
	return m
}

// TestHelicalFIFBP reconstructs slices of a long phantom with an off-centre rod from
// helical data and compares them with an axial reconstruction of the same phantom
func TestHelicalFIFBP(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping helical reconstruction in short mode")
	}

	sim, tbl := newTestSimulator(t, 2, 180)
	model := offCentrePhantom(t, tbl)
	data, err := sim.AcquireHelicalProjections(model, 1, -2, 4)
	if err != nil {
		t.Fatalf("Acquisition failed: %v", err)
	}
	axialData, err := sim.AcquireAxialProjections(model, 0)
	if err != nil {
		t.Fatalf("Axial acquisition failed: %v", err)
	}

	params := &Params{
		NumCores:              4,
		Warn:                  logging.Discard,
		BeamHardeningMaterial: "water",
		FilterWidth:           1,
		InterpolationPoints:   5,
		AbortOnGap:            true,
	}
	r := newTestReconstructor(t, sim, tbl, params, 25, 48)
	images, err := r.HelicalFIFBP(data, -0.5, 0.5)
	if err != nil {
		t.Fatalf("Helical reconstruction failed: %v", err)
	}
	if len(images) != 2 || len(r.Images()) != 2 {
		t.Fatalf("Expected 2 slices, got %d (%d stored)", len(images), len(r.Images()))
	}
	if images[1].Z != 0.5 {
		t.Errorf("Expected second slice at z=0.5, got %g", images[1].Z)
	}

	axial, err := newTestReconstructor(t, sim, tbl, &Params{NumCores: 4, Warn: logging.Discard, BeamHardeningMaterial: "water"}, 25, 48).ReconAxialFBP(axialData)
	if err != nil {
		t.Fatalf("Axial reconstruction failed: %v", err)
	}
	axialRod := RegionStats(axial, 4, 2, 0.8)
	if axialRod.Mean < 500 {
		t.Fatalf("Expected the axial rod to read as bone, got %.1f HU", axialRod.Mean)
	}

	rois := []struct {
		name   string
		x, y   float64
		radius float64
	}{
		{"rod", 4, 2, 0.8},
		{"mirrored rod position", -4, -2, 0.8},
		{"water", -3, 3, 1.5},
		{"air", 0, 11, 1},
	}
	for _, img := range images {
		for _, roi := range rois {
			want := RegionStats(axial, roi.x, roi.y, roi.radius).Mean
			got := RegionStats(img, roi.x, roi.y, roi.radius).Mean
			if math.Abs(got-want) > 60 {
				t.Errorf("Slice z=%g %s: expected %.1f HU as in the axial slice, got %.1f", img.Z, roi.name, want, got)
			}
		}
		if water := RegionStats(img, -4, -2, 0.8).Mean; math.Abs(water) > 60 {
			t.Errorf("Slice z=%g: expected water opposite the rod, got %.1f HU", img.Z, water)
		}
	}
}

// TestHelicalGaps verifies that a slice outside the scanned range is reported
func TestHelicalGaps(t *testing.T) {
	sim, tbl := newTestSimulator(t, 2, 36)
	data, err := sim.AcquireHelicalProjections(waterCylinder(t, tbl, 8), 1, 0, 2)
	if err != nil {
		t.Fatal(err)
	}

	params := &Params{NumCores: 2, Warn: logging.Discard, FilterWidth: 1, InterpolationPoints: 3, AbortOnGap: true}
	r := newTestReconstructor(t, sim, tbl, params, 20, 16)
	images, err := r.HelicalFIFBP(data, 50)
	var gapErr *GapError
	if !errors.As(err, &gapErr) {
		t.Fatalf("Expected a GapError, got %v", err)
	}
	if len(images) != 0 {
		t.Errorf("Expected no images after abort, got %d", len(images))
	}
	if len(gapErr.Elements) != 36*256 {
		t.Errorf("Expected every element to be a gap, got %d", len(gapErr.Elements))
	}
	if gapErr.Elements[1] != (GapElement{View: 0, Channel: 1}) {
		t.Errorf("Expected gaps ordered by view and channel, got %+v", gapErr.Elements[1])
	}

	rec := &logging.Recorder{}
	params = &Params{NumCores: 2, Warn: rec.Warn, FilterWidth: 1, InterpolationPoints: 3}
	r = newTestReconstructor(t, sim, tbl, params, 20, 16)
	images, err = r.HelicalFIFBP(data, 0.5, 50)
	if err != nil {
		t.Fatalf("Expected gaps to be reported as warnings, got %v", err)
	}
	if len(images) != 2 {
		t.Errorf("Expected 2 slices, got %d", len(images))
	}
	if rec.Len() != 1 || len(r.Gaps()) != 1 || r.Gaps()[0].Z != 50 {
		t.Errorf("Expected one gap warning for z=50, got %d warnings and %d gap reports", rec.Len(), len(r.Gaps()))
	}
}

// TestRegionStats verifies ROI statistics on a synthetic image
func TestRegionStats(t *testing.T) {
	img := models.NewImage(11, 1, 0)
	for row := 0; row < img.Size; row++ {
		for col := 0; col < img.Size; col++ {
			x, y := img.PixelCenter(col, row)
			if math.Hypot(x, y) <= 2 {
				img.HU[row*img.Size+col] = 100
			} else {
				img.HU[row*img.Size+col] = -1000
			}
		}
	}
	stats := RegionStats(img, 0, 0, 2)
	if stats.Mean != 100 || stats.StdDev != 0 || stats.Pixels != 13 {
		t.Errorf("Expected mean 100, std 0 over 13 pixels, got %+v", stats)
	}
	if empty := RegionStats(img, 100, 100, 1); empty.Pixels != 0 {
		t.Errorf("Expected no pixels, got %d", empty.Pixels)
	}
}

// TestCalculateRMSE verifies the error metric
func TestCalculateRMSE(t *testing.T) {
	if got := calculateRMSE([]float64{0, 0, 0, 0}, []float64{1, -1, 1, -1}); got != 1 {
		t.Errorf("Expected RMSE 1, got %g", got)
	}
	if got := calculateRMSE([]float64{1}, []float64{1, 2}); got != 0 {
		t.Errorf("Expected 0 for mismatched lengths, got %g", got)
	}
	same := []float64{-1000, 0, 40, 1200}
	if got := calculateSSIM(same, same); math.Abs(got-1) > 1e-12 {
		t.Errorf("Expected SSIM 1 for identical data, got %g", got)
	}
}

func BenchmarkBackproject(b *testing.B) {
	g, err := scanner.NewGeometry(50, 256, 0.119, 1, 0.5)
	if err != nil {
		b.Fatal(err)
	}
	settings := scanner.ReconstructionSettings{FOV: 25, GridSize: 128}
	tables := buildTables(g, settings, 360, 4)
	filtered := make([]float64, 360*256)
	for i := range filtered {
		filtered[i] = math.Sin(float64(i))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tables.backproject(filtered, 256, g.DeltaGamma(), 0.2, 0, 0, 4)
	}
}
