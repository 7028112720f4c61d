package dataio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ctsim/internal/models"
)

// TestWriteFloatsText verifies one value per line
func TestWriteFloatsText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFloats(&buf, []float64{0, 1.5, -2.25e-3}, Text); err != nil {
		t.Fatalf("WriteFloats failed: %v", err)
	}
	want := "0\n1.5\n-0.00225\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}
}

// TestWriteIntsBinary verifies the int32 little-endian layout
func TestWriteIntsBinary(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteInts(&buf, []int{-1000, 0, 1500}, Binary); err != nil {
		t.Fatalf("WriteInts failed: %v", err)
	}
	if buf.Len() != 12 {
		t.Fatalf("Expected 12 bytes, got %d", buf.Len())
	}
	if got := int32(binary.LittleEndian.Uint32(buf.Bytes()[0:4])); got != -1000 {
		t.Errorf("Expected -1000, got %d", got)
	}
	if got := int32(binary.LittleEndian.Uint32(buf.Bytes()[8:12])); got != 1500 {
		t.Errorf("Expected 1500, got %d", got)
	}
}

// TestReadFloats verifies that both formats read back what was written
func TestReadFloats(t *testing.T) {
	values := []float64{3.25, -1, 0, 1e-9}
	for _, f := range []Format{Text, Binary} {
		var buf bytes.Buffer
		if err := WriteFloats(&buf, values, f); err != nil {
			t.Fatal(err)
		}
		got, err := ReadFloats(&buf, f)
		if err != nil {
			t.Fatalf("Format %v: ReadFloats failed: %v", f, err)
		}
		if len(got) != len(values) {
			t.Fatalf("Format %v: expected %d values, got %d", f, len(values), len(got))
		}
		for i := range values {
			if got[i] != values[i] {
				t.Errorf("Format %v value %d: expected %g, got %g", f, i, values[i], got[i])
			}
		}
	}

	if _, err := ReadFloats(strings.NewReader("1\nabc\n"), Text); err == nil {
		t.Error("Expected a parse error")
	}
}

// TestSaveProjectionsOrder verifies the (view, row, channel) ordering on disk
func TestSaveProjectionsOrder(t *testing.T) {
	data := models.NewProjectionData(models.Axial, 2, 2, 2, 3)
	for v := 0; v < 2; v++ {
		for j := 0; j < 2; j++ {
			for c := 0; c < 3; c++ {
				data.Set(v, j, c, float64(100*v+10*j+c))
			}
		}
	}

	path := filepath.Join(t.TempDir(), "scan", "projections.txt")
	if err := SaveProjections(path, data, Text); err != nil {
		t.Fatalf("SaveProjections failed: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Fields(string(raw))
	want := []string{"0", "1", "2", "10", "11", "12", "100", "101", "102", "110", "111", "112"}
	if strings.Join(lines, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, lines)
	}
}

// TestParseFormat verifies format names
func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"text", Text, true},
		{"", Text, true},
		{"bin", Binary, true},
		{"binary", Binary, true},
		{"csv", Text, false},
	}
	for _, tc := range tests {
		got, err := ParseFormat(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("ParseFormat(%q) = %v, %v", tc.in, got, err)
		}
	}
	if Binary.Ext() != ".bin" || Text.Ext() != ".txt" {
		t.Error("Unexpected extensions")
	}
}
