// Package scanner simulates a third-generation fan-beam CT scanner: the gantry
// geometry, the acquisition settings, and the air and object scans it records.
package scanner

import (
	"fmt"
	"math"

	"ctsim/pkg/geometry"
)

// Geometry is the fixed layout of the gantry. Create it with NewGeometry; the derived
// fan angle, channel increment and scan field of view do not change afterwards.
//
// The source travels on a circle of the given radius around the isocentre. The
// detector is an arc centred on the source at twice that distance. Channel and row
// widths are given as projected to the isocentre.
type Geometry struct {
	radius       float64
	channels     int
	channelWidth float64
	rows         int
	rowWidth     float64

	deltaGamma float64
	fanAngle   float64
	scanFOV    float64
}

// NewGeometry validates the scanner dimensions (cm) and derives the fan geometry.
func NewGeometry(radius float64, channels int, channelWidth float64, rows int, rowWidth float64) (Geometry, error) {
	if radius <= 0 {
		return Geometry{}, fmt.Errorf("scanner radius must be positive, got %g", radius)
	}
	if channels < 2 || rows < 1 {
		return Geometry{}, fmt.Errorf("need at least 2 channels and 1 row, got %d channels, %d rows", channels, rows)
	}
	if channelWidth <= 0 || rowWidth <= 0 {
		return Geometry{}, fmt.Errorf("channel and row widths must be positive, got %g, %g", channelWidth, rowWidth)
	}
	g := Geometry{
		radius:       radius,
		channels:     channels,
		channelWidth: channelWidth,
		rows:         rows,
		rowWidth:     rowWidth,
	}
	g.deltaGamma = channelWidth / radius
	g.fanAngle = float64(channels) * g.deltaGamma
	if g.fanAngle >= math.Pi {
		return Geometry{}, fmt.Errorf("fan angle %.1f° is not below 180°", g.fanAngle*180/math.Pi)
	}
	g.scanFOV = 2 * radius * math.Sin(g.fanAngle/2)
	return g, nil
}

// Radius returns the source-to-isocentre distance.
func (g Geometry) Radius() float64 { return g.radius }

// Channels returns the number of detector channels per row.
func (g Geometry) Channels() int { return g.channels }

// ChannelWidth returns the channel width at the isocentre.
func (g Geometry) ChannelWidth() float64 { return g.channelWidth }

// Rows returns the number of detector rows.
func (g Geometry) Rows() int { return g.rows }

// RowWidth returns the row width at the isocentre.
func (g Geometry) RowWidth() float64 { return g.rowWidth }

// DeltaGamma returns the angular increment between channels in radians.
func (g Geometry) DeltaGamma() float64 { return g.deltaGamma }

// FanAngle returns the full fan angle in radians.
func (g Geometry) FanAngle() float64 { return g.fanAngle }

// ScanFOV returns the diameter of the circle covered by every view.
func (g Geometry) ScanFOV() float64 { return g.scanFOV }

// SourceToDetector returns the distance from the source to the detector arc.
func (g Geometry) SourceToDetector() float64 { return 2 * g.radius }

// Coverage returns the z extent of the detector at the isocentre.
func (g Geometry) Coverage() float64 { return float64(g.rows) * g.rowWidth }

// ChannelAngle returns the fan angle of channel i, measured counter-clockwise from
// the central ray. The channels are symmetric about the central ray.
func (g Geometry) ChannelAngle(i int) float64 {
	return (float64(i) - float64(g.channels-1)/2) * g.deltaGamma
}

// RowOffset returns the z offset of row j at the isocentre.
func (g Geometry) RowOffset(j int) float64 {
	return (float64(j) - float64(g.rows-1)/2) * g.rowWidth
}

// SourcePosition returns the focal spot position at gantry angle beta and table z.
func (g Geometry) SourcePosition(beta, z float64) geometry.Vector3 {
	s, c := math.Sincos(beta)
	return geometry.Vector3{X: g.radius * c, Y: g.radius * s, Z: z}
}

// CentralDirection returns the unit vector from the source towards the isocentre.
func (g Geometry) CentralDirection(beta float64) geometry.Vector3 {
	s, c := math.Sincos(beta)
	return geometry.Vector3{X: -c, Y: -s}
}

// DetectorRay returns the ray from the source to detector element (row, channel)
// at gantry angle beta with the source at z.
func (g Geometry) DetectorRay(beta, z float64, row, channel int) geometry.Ray {
	src := g.SourcePosition(beta, z)
	dir := g.CentralDirection(beta).RotateZ(g.ChannelAngle(channel)).Scale(g.SourceToDetector())
	dir.Z = 2 * g.RowOffset(row)
	return geometry.Ray{Origin: src, Direction: dir}
}
