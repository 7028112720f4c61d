// Package dataio writes simulation results as flat dumps: one value per line for
// text files, consecutive little-endian values for binary files. Projections are
// ordered by (view, row, channel), air scans by (row, channel) and images by
// (row, column).
package dataio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"ctsim/internal/models"
)

// Format selects the dump encoding.
type Format int

const (
	Text Format = iota
	Binary
)

// ParseFormat maps "text"/"txt" and "binary"/"bin" to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "text", "txt", "":
		return Text, nil
	case "binary", "bin":
		return Binary, nil
	}
	return Text, fmt.Errorf("unknown dump format %q", s)
}

// Ext returns the file extension for the format.
func (f Format) Ext() string {
	if f == Binary {
		return ".bin"
	}
	return ".txt"
}

// WriteFloats writes values in the given format. Binary values are float64.
func WriteFloats(w io.Writer, values []float64, f Format) error {
	bw := bufio.NewWriter(w)
	if f == Binary {
		buf := make([]byte, 8)
		for _, v := range values {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
	} else {
		for _, v := range values {
			if _, err := bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64)); err != nil {
				return err
			}
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// WriteInts writes integer values. Binary values are int32, which holds any HU value.
func WriteInts(w io.Writer, values []int, f Format) error {
	bw := bufio.NewWriter(w)
	if f == Binary {
		buf := make([]byte, 4)
		for _, v := range values {
			binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
	} else {
		for _, v := range values {
			if _, err := bw.WriteString(strconv.Itoa(v)); err != nil {
				return err
			}
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// ReadFloats reads every value written by WriteFloats.
func ReadFloats(r io.Reader, f Format) ([]float64, error) {
	var out []float64
	if f == Binary {
		br := bufio.NewReader(r)
		buf := make([]byte, 8)
		for {
			_, err := io.ReadFull(br, buf)
			if err == io.EOF {
				return out, nil
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read binary dump: %w", err)
			}
			out = append(out, math.Float64frombits(binary.LittleEndian.Uint64(buf)))
		}
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if sc.Text() == "" {
			continue
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse text dump: %w", err)
		}
		out = append(out, v)
	}
	return out, sc.Err()
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(file); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

// SaveAirScan writes the air scan to path.
func SaveAirScan(path string, air *models.AirScan, f Format) error {
	return writeFile(path, func(w io.Writer) error { return WriteFloats(w, air.Data, f) })
}

// SaveProjections writes the projection data to path.
func SaveProjections(path string, data *models.ProjectionData, f Format) error {
	return writeFile(path, func(w io.Writer) error { return WriteFloats(w, data.Data, f) })
}

// SaveImage writes the HU values of one slice to path.
func SaveImage(path string, img *models.Image, f Format) error {
	return writeFile(path, func(w io.Writer) error { return WriteInts(w, img.HU, f) })
}
