package visualization

import (
	"bytes"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ctsim/internal/models"
)

// newTestStack creates depth slices where every pixel of slice z holds 100*z HU
func newTestStack(size, depth int) []*models.Image {
	slices := make([]*models.Image, depth)
	for z := 0; z < depth; z++ {
		img := models.NewImage(size, 0.5, float64(z))
		for i := range img.HU {
			img.HU[i] = 100 * z
		}
		slices[z] = img
	}
	return slices
}

// TestWindowGray verifies the HU to gray level mapping
func TestWindowGray(t *testing.T) {
	w := Window{Center: 0, Width: 200}
	tests := []struct {
		hu   float64
		want uint16
	}{
		{hu: -1000, want: 0},
		{hu: -100, want: 0},
		{hu: 0, want: 32768},
		{hu: 100, want: 65535},
		{hu: 3000, want: 65535},
	}
	for _, tc := range tests {
		if got := w.gray(tc.hu); got != tc.want {
			t.Errorf("gray(%g): expected %d, got %d", tc.hu, tc.want, got)
		}
	}

	threshold := Window{Center: 50}
	if threshold.gray(49) != 0 || threshold.gray(50) != math.MaxUint16 {
		t.Error("Zero-width window should threshold at the centre")
	}
}

// TestNewViewer verifies that mismatched grids are rejected
func TestNewViewer(t *testing.T) {
	if _, err := NewViewer(nil, SoftTissueWindow); err == nil {
		t.Error("Expected error for an empty stack, got nil")
	}

	slices := newTestStack(8, 3)
	slices = append(slices, models.NewImage(16, 0.5, 3))
	if _, err := NewViewer(slices, SoftTissueWindow); err == nil {
		t.Error("Expected error for mismatched grids, got nil")
	}
}

// TestExtractSlice verifies transaxial slices and reformats
func TestExtractSlice(t *testing.T) {
	size, depth := 10, 5
	viewer, err := NewViewer(newTestStack(size, depth), Window{Center: 200, Width: 400})
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}
		bounds := img.Bounds()
		if bounds.Dx() != size || bounds.Dy() != size {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d", size, size, bounds.Dx(), bounds.Dy())
		}

		gray16Img, ok := img.(*image.Gray16)
		if !ok {
			t.Fatalf("Expected *image.Gray16, got %T", img)
		}
		expected := uint16(math.Round(math.Min(1, float64(z)/4) * 65535))
		if got := gray16Img.Gray16At(size/2, size/2).Y; got != expected {
			t.Errorf("Expected Z slice value %d at center, got %d", expected, got)
		}
	}

	imgX, err := viewer.ExtractSlice("x", size/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != size || b.Dy() != depth {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", size, depth, b.Dx(), b.Dy())
	}
	// Each reformat row comes from one slice
	g := imgX.(*image.Gray16)
	if g.Gray16At(0, 0).Y != 0 || g.Gray16At(0, depth-1).Y != 65535 {
		t.Errorf("Unexpected reformat values: top %d, bottom %d", g.Gray16At(0, 0).Y, g.Gray16At(0, depth-1).Y)
	}

	imgY, err := viewer.ExtractSlice("y", size/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != size || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", size, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := viewer.ExtractSlice("x", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

// TestSaveSliceSequence verifies that one PNG is written per slice and decodes
func TestSaveSliceSequence(t *testing.T) {
	viewer, err := NewViewer(newTestStack(6, 3), SoftTissueWindow)
	if err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "slices")
	if err := viewer.SaveSliceSequence("z", dir); err != nil {
		t.Fatalf("Failed to save sequence: %v", err)
	}

	for _, name := range []string{"slice_z_000.png", "slice_z_001.png", "slice_z_002.png"} {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("Expected %s to exist: %v", name, err)
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			t.Fatalf("Failed to decode %s: %v", name, err)
		}
		if img.Bounds().Dx() != 6 {
			t.Errorf("%s: expected width 6, got %d", name, img.Bounds().Dx())
		}
	}

	if err := viewer.SaveSliceSequence("w", dir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}

// TestSaveSliceJPEG verifies the JPEG path
func TestSaveSliceJPEG(t *testing.T) {
	viewer, err := NewViewer(newTestStack(8, 1), SoftTissueWindow)
	if err != nil {
		t.Fatal(err)
	}
	img, err := viewer.ExtractSlice("z", 0)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "slice.jpg")
	if err := SaveSlice(img, path); err != nil {
		t.Fatalf("Failed to save JPEG: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) < 2 || raw[0] != 0xFF || raw[1] != 0xD8 {
		t.Error("Expected a JPEG start-of-image marker")
	}
}

// TestSinogramImage verifies the sinogram scaling and dimensions
func TestSinogramImage(t *testing.T) {
	data := models.NewProjectionData(models.Axial, 4, 4, 2, 3)
	data.Set(1, 1, 2, 2.0)
	data.Set(2, 1, 0, 1.0)
	data.Set(3, 1, 1, -0.5)

	img, err := SinogramImage(data, 1)
	if err != nil {
		t.Fatalf("Failed to render sinogram: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 3 || b.Dy() != 4 {
		t.Fatalf("Expected 3x4 sinogram, got %dx%d", b.Dx(), b.Dy())
	}
	g := img.(*image.Gray16)
	if g.Gray16At(2, 1).Y != 65535 {
		t.Errorf("Expected the maximum to be white, got %d", g.Gray16At(2, 1).Y)
	}
	if g.Gray16At(0, 2).Y != 32768 {
		t.Errorf("Expected half intensity, got %d", g.Gray16At(0, 2).Y)
	}
	if g.Gray16At(1, 3).Y != 0 {
		t.Errorf("Expected negative values to clamp to black, got %d", g.Gray16At(1, 3).Y)
	}

	if _, err := SinogramImage(data, 2); err == nil {
		t.Error("Expected error for out of range row, got nil")
	}
}

// TestProfileExports verifies the profile extraction and both export formats
func TestProfileExports(t *testing.T) {
	img := models.NewImage(5, 1, 0)
	for col := 0; col < 5; col++ {
		img.HU[2*5+col] = col * 10
	}

	prof, err := HorizontalProfile(img, 2, "centre")
	if err != nil {
		t.Fatalf("Failed to extract profile: %v", err)
	}
	if prof.Position[0] != -2 || prof.Position[4] != 2 {
		t.Errorf("Expected positions from -2 to 2, got %v", prof.Position)
	}
	if prof.HU[3] != 30 {
		t.Errorf("Expected HU 30 at column 3, got %g", prof.HU[3])
	}
	if _, err := HorizontalProfile(img, 5, ""); err == nil {
		t.Error("Expected error for out of range row, got nil")
	}

	var buf bytes.Buffer
	if err := RenderProfileChart(&buf, "Water phantom", prof); err != nil {
		t.Fatalf("Failed to render chart: %v", err)
	}
	if !strings.Contains(buf.String(), "Water phantom") {
		t.Error("Expected the chart title in the HTML output")
	}
	if err := RenderProfileChart(&buf, "empty"); err == nil {
		t.Error("Expected error for no profiles, got nil")
	}

	path := filepath.Join(t.TempDir(), "profile.png")
	if err := SaveProfilePlot(path, "Water phantom", prof); err != nil {
		t.Fatalf("Failed to save plot: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("Expected a non-empty plot file, got %v", err)
	}
}
