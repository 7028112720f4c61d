// Package models holds the data produced by acquisition and reconstruction.
package models

// OutsideFOV is the value given to pixels outside the reconstruction field of view (air).
const OutsideFOV = -1000

// Image is one reconstructed slice in Hounsfield units.
type Image struct {
	// Size is the width and height of the square grid in pixels.
	Size int

	// PixelSize is the physical size of a pixel in cm.
	PixelSize float64

	// Z is the slice position along the scanner axis in cm.
	Z float64

	// HU holds Size*Size values, row-major with row 0 at the top (+y).
	HU []int
}

// NewImage allocates an image filled with zeros.
func NewImage(size int, pixelSize, z float64) *Image {
	return &Image{Size: size, PixelSize: pixelSize, Z: z, HU: make([]int, size*size)}
}

// At returns the value at column x and row y.
func (im *Image) At(x, y int) int { return im.HU[y*im.Size+x] }

// PixelCenter returns the physical (x, y) coordinates of the centre of pixel (col, row),
// with the isocentre in the middle of the grid.
func (im *Image) PixelCenter(col, row int) (float64, float64) {
	half := float64(im.Size-1) / 2
	return (float64(col) - half) * im.PixelSize, (half - float64(row)) * im.PixelSize
}

// Floats returns the HU values as float64, for statistics and plotting.
func (im *Image) Floats() []float64 {
	out := make([]float64, len(im.HU))
	for i, v := range im.HU {
		out[i] = float64(v)
	}
	return out
}
