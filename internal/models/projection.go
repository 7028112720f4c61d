package models

import (
	"github.com/google/uuid"
)

// ScanMode distinguishes single-rotation axial scans from helical scans.
type ScanMode int

const (
	Axial ScanMode = iota
	Helical
)

// String returns the lower-case mode name used in file names and logs.
func (m ScanMode) String() string {
	switch m {
	case Axial:
		return "axial"
	case Helical:
		return "helical"
	default:
		return "unknown"
	}
}

// AirScan holds the detector signal of an unattenuated exposure, one value per
// (row, channel), row-major.
type AirScan struct {
	Rows     int
	Channels int
	Data     []float64
}

// NewAirScan allocates an air scan of the given size.
func NewAirScan(rows, channels int) *AirScan {
	return &AirScan{Rows: rows, Channels: channels, Data: make([]float64, rows*channels)}
}

// At returns the signal of detector element (row, channel).
func (a *AirScan) At(row, channel int) float64 {
	return a.Data[row*a.Channels+channel]
}

// ProjectionData holds air-normalised line integrals log(air/object), indexed by
// (view, row, channel) and stored row-major in that order.
type ProjectionData struct {
	// ScanID identifies the acquisition that produced the data.
	ScanID uuid.UUID

	Mode ScanMode

	// Views is the total number of projection angles; for helical scans this is
	// ViewsPerRotation times the number of rotations.
	Views            int
	ViewsPerRotation int
	Rows             int
	Channels         int

	// SourceZ is the z position of the source for each view.
	SourceZ []float64

	// Pitch is the table travel per rotation as a multiple of the detector's z coverage.
	Pitch float64

	// KVp is the tube potential the data was acquired with.
	KVp float64

	Data []float64
}

// NewProjectionData allocates a dataset for views x rows x channels samples.
func NewProjectionData(mode ScanMode, views, viewsPerRotation, rows, channels int) *ProjectionData {
	return &ProjectionData{
		ScanID:           uuid.New(),
		Mode:             mode,
		Views:            views,
		ViewsPerRotation: viewsPerRotation,
		Rows:             rows,
		Channels:         channels,
		SourceZ:          make([]float64, views),
		Data:             make([]float64, views*rows*channels),
	}
}

// Index returns the flat index of sample (view, row, channel).
func (p *ProjectionData) Index(view, row, channel int) int {
	return (view*p.Rows+row)*p.Channels + channel
}

// At returns sample (view, row, channel).
func (p *ProjectionData) At(view, row, channel int) float64 {
	return p.Data[p.Index(view, row, channel)]
}

// Set stores sample (view, row, channel).
func (p *ProjectionData) Set(view, row, channel int, v float64) {
	p.Data[p.Index(view, row, channel)] = v
}

// View returns the rows x channels block of one view.
func (p *ProjectionData) View(view int) []float64 {
	n := p.Rows * p.Channels
	return p.Data[view*n : (view+1)*n]
}
