// Package visualization renders reconstructed slices and sinograms as grayscale
// images and exports HU line profiles as PNG plots and HTML charts.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"ctsim/internal/models"
)

// Window maps a range of Hounsfield units onto the gray scale. Values below
// Center-Width/2 are black and values above Center+Width/2 are white.
type Window struct {
	Center float64
	Width  float64
}

// Common display windows.
var (
	SoftTissueWindow = Window{Center: 40, Width: 400}
	BoneWindow       = Window{Center: 400, Width: 1800}
	LungWindow       = Window{Center: -600, Width: 1500}
)

// gray returns the 16-bit gray level of hu under the window.
func (w Window) gray(hu float64) uint16 {
	if w.Width <= 0 {
		if hu >= w.Center {
			return math.MaxUint16
		}
		return 0
	}
	v := (hu - (w.Center - w.Width/2)) / w.Width
	return uint16(math.Round(math.Max(0, math.Min(1, v)) * math.MaxUint16))
}

// Viewer displays a stack of reconstructed slices. Slices are ordered as given,
// which for helical reconstructions is increasing z.
type Viewer struct {
	slices []*models.Image
	size   int
	window Window
}

// NewViewer creates a viewer over slices. All slices must share the same grid.
func NewViewer(slices []*models.Image, window Window) (*Viewer, error) {
	if len(slices) == 0 {
		return nil, fmt.Errorf("no slices to display")
	}
	size := slices[0].Size
	for i, s := range slices {
		if s.Size != size || len(s.HU) != size*size {
			return nil, fmt.Errorf("slice %d has grid %d, expected %d", i, s.Size, size)
		}
	}
	return &Viewer{slices: slices, size: size, window: window}, nil
}

// SetWindow changes the display window for subsequent extractions.
func (v *Viewer) SetWindow(w Window) { v.window = w }

// ExtractSlice renders one plane of the slice stack. Axis "z" is the transaxial
// slice at the given index; "x" and "y" reformat a column or row across all
// slices, one image row per slice.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	depth := len(v.slices)

	var img *image.Gray16
	switch axis {
	case "x", "X":
		if position >= v.size {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.size)
		}
		img = image.NewGray16(image.Rect(0, 0, v.size, depth))
		for z, s := range v.slices {
			for y := 0; y < v.size; y++ {
				img.SetGray16(y, z, color.Gray16{Y: v.window.gray(float64(s.At(position, y)))})
			}
		}

	case "y", "Y":
		if position >= v.size {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.size)
		}
		img = image.NewGray16(image.Rect(0, 0, v.size, depth))
		for z, s := range v.slices {
			for x := 0; x < v.size; x++ {
				img.SetGray16(x, z, color.Gray16{Y: v.window.gray(float64(s.At(x, position)))})
			}
		}

	case "z", "Z":
		if position >= depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, depth)
		}
		s := v.slices[position]
		img = image.NewGray16(image.Rect(0, 0, v.size, v.size))
		for y := 0; y < v.size; y++ {
			for x := 0; x < v.size; x++ {
				img.SetGray16(x, y, color.Gray16{Y: v.window.gray(float64(s.At(x, y)))})
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice writes img to filename, as PNG when the extension is .png and as
// JPEG otherwise.
func SaveSlice(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if strings.EqualFold(filepath.Ext(filename), ".png") {
		err = png.Encode(file, img)
	} else {
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to encode %s: %w", filename, err)
	}
	return file.Close()
}

// SaveSliceSequence renders every position along axis into outputDir as PNG files.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X", "y", "Y":
		maxPos = v.size
	case "z", "Z":
		maxPos = len(v.slices)
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", strings.ToLower(axis), pos))
		if err := SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SinogramImage renders one detector row of the projection data with views down
// and channels across, scaled so that the largest line integral is white.
func SinogramImage(data *models.ProjectionData, row int) (image.Image, error) {
	if row < 0 || row >= data.Rows {
		return nil, fmt.Errorf("row %d out of range [0, %d)", row, data.Rows)
	}

	maxVal := 0.0
	for v := 0; v < data.Views; v++ {
		for c := 0; c < data.Channels; c++ {
			maxVal = math.Max(maxVal, data.At(v, row, c))
		}
	}

	img := image.NewGray16(image.Rect(0, 0, data.Channels, data.Views))
	if maxVal == 0 {
		return img, nil
	}
	for v := 0; v < data.Views; v++ {
		for c := 0; c < data.Channels; c++ {
			p := math.Max(0, data.At(v, row, c)) / maxVal
			img.SetGray16(c, v, color.Gray16{Y: uint16(math.Round(p * math.MaxUint16))})
		}
	}
	return img, nil
}

// Profile is a line of HU values through a slice.
type Profile struct {
	Label    string
	Position []float64 // cm from the isocentre
	HU       []float64
}

// HorizontalProfile extracts image row row of img. Positions are the pixel
// centres along x.
func HorizontalProfile(img *models.Image, row int, label string) (Profile, error) {
	if row < 0 || row >= img.Size {
		return Profile{}, fmt.Errorf("row %d out of range [0, %d)", row, img.Size)
	}
	p := Profile{
		Label:    label,
		Position: make([]float64, img.Size),
		HU:       make([]float64, img.Size),
	}
	for col := 0; col < img.Size; col++ {
		x, _ := img.PixelCenter(col, row)
		p.Position[col] = x
		p.HU[col] = float64(img.At(col, row))
	}
	return p, nil
}

// SaveProfilePlot draws the profiles as lines on one plot and saves it to path.
// The format follows the extension (png, svg, pdf, ...).
func SaveProfilePlot(path, title string, profiles ...Profile) error {
	if len(profiles) == 0 {
		return fmt.Errorf("no profiles to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x (cm)"
	p.Y.Label.Text = "HU"
	p.Add(plotter.NewGrid())

	for i, prof := range profiles {
		pts := make(plotter.XYs, len(prof.HU))
		for j := range prof.HU {
			pts[j].X = prof.Position[j]
			pts[j].Y = prof.HU[j]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("failed to create line for %s: %w", prof.Label, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(prof.Label, line)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}

// RenderProfileChart writes an interactive HTML line chart of the profiles to w.
// The x axis uses the positions of the first profile.
func RenderProfileChart(w io.Writer, title string, profiles ...Profile) error {
	if len(profiles) == 0 {
		return fmt.Errorf("no profiles to chart")
	}

	labels := make([]string, len(profiles[0].Position))
	for i, x := range profiles[0].Position {
		labels[i] = fmt.Sprintf("%.2f", x)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("profiles=%d", len(profiles))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "x (cm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "HU", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(labels)
	for _, prof := range profiles {
		data := make([]opts.LineData, len(prof.HU))
		for i, v := range prof.HU {
			data[i] = opts.LineData{Value: v}
		}
		line.AddSeries(prof.Label, data)
	}

	return line.Render(w)
}

// SaveProfileChart writes the HTML chart produced by RenderProfileChart to path.
func SaveProfileChart(path, title string, profiles ...Profile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := RenderProfileChart(file, title, profiles...); err != nil {
		file.Close()
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return file.Close()
}
