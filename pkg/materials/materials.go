// Package materials provides photon attenuation data for the materials a phantom
// can be built from. The built-in reference tables are embedded in the binary and
// interpolated in log-log space.
package materials

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/interp"
	"gopkg.in/yaml.v3"
)

//go:embed data/materials.yaml
var referenceData []byte

// ErrUnknownMaterial is returned when a material has no attenuation data.
var ErrUnknownMaterial = errors.New("unknown material")

// Service looks up attenuation data for a named material at a photon energy (MeV).
type Service interface {
	// MassAttenuation returns the mass attenuation coefficient in cm^2/g.
	MassAttenuation(material string, energyMeV float64) (float64, error)
	// Density returns the material density in g/cm^3.
	Density(material string) (float64, error)
}

// LinearAttenuation returns the linear attenuation coefficient (1/cm) of a material,
// i.e. mass attenuation times density.
func LinearAttenuation(svc Service, material string, energyMeV float64) (float64, error) {
	mu, err := svc.MassAttenuation(material, energyMeV)
	if err != nil {
		return 0, err
	}
	rho, err := svc.Density(material)
	if err != nil {
		return 0, err
	}
	return mu * rho, nil
}

// tableFile mirrors the layout of the embedded YAML file.
type tableFile struct {
	Materials map[string]struct {
		Density     float64   `yaml:"density"`
		Energies    []float64 `yaml:"energies"`
		Attenuation []float64 `yaml:"attenuation"`
	} `yaml:"materials"`
}

type entry struct {
	density float64
	minE    float64
	maxE    float64
	logFit  interp.PiecewiseLinear
}

// Table is an in-memory Service backed by tabulated coefficients.
type Table struct {
	entries map[string]*entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Reference returns a table loaded with the built-in reference materials:
// air, water, softtissue, bone, aluminum and copper.
func Reference() (*Table, error) {
	t := NewTable()
	if err := t.LoadYAML(referenceData); err != nil {
		return nil, fmt.Errorf("failed to load reference materials: %w", err)
	}
	return t, nil
}

// LoadYAML adds every material found in a YAML document with the embedded layout.
func (t *Table) LoadYAML(data []byte) error {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("error parsing material table: %w", err)
	}
	names := make([]string, 0, len(f.Materials))
	for name := range f.Materials {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := f.Materials[name]
		if err := t.Add(name, m.Density, m.Energies, m.Attenuation); err != nil {
			return err
		}
	}
	return nil
}

// Add registers a material from its density and a mass attenuation table. Energies
// must be strictly increasing and all values positive.
func (t *Table) Add(name string, density float64, energies, attenuation []float64) error {
	if density <= 0 {
		return fmt.Errorf("material %q: density must be positive, got %g", name, density)
	}
	if len(energies) < 2 || len(energies) != len(attenuation) {
		return fmt.Errorf("material %q: need at least 2 energies with matching coefficients, got %d/%d",
			name, len(energies), len(attenuation))
	}
	logE := make([]float64, len(energies))
	logMu := make([]float64, len(energies))
	for i := range energies {
		if energies[i] <= 0 || attenuation[i] <= 0 {
			return fmt.Errorf("material %q: non-positive table value at index %d", name, i)
		}
		logE[i] = math.Log(energies[i])
		logMu[i] = math.Log(attenuation[i])
	}
	e := &entry{density: density, minE: energies[0], maxE: energies[len(energies)-1]}
	if err := e.logFit.Fit(logE, logMu); err != nil {
		return fmt.Errorf("material %q: %w", name, err)
	}
	t.entries[Normalize(name)] = e
	return nil
}

// Names returns the registered material names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MassAttenuation implements Service. Energies outside the table are clamped to its ends.
func (t *Table) MassAttenuation(material string, energyMeV float64) (float64, error) {
	e, ok := t.entries[Normalize(material)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMaterial, material)
	}
	energyMeV = math.Min(math.Max(energyMeV, e.minE), e.maxE)
	return math.Exp(e.logFit.Predict(math.Log(energyMeV))), nil
}

// Density implements Service.
func (t *Table) Density(material string) (float64, error) {
	e, ok := t.entries[Normalize(material)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMaterial, material)
	}
	return e.density, nil
}

// Normalize maps user-facing material names ("Soft Tissue", "soft_tissue") to table keys.
func Normalize(name string) string {
	name = strings.ToLower(name)
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(name)
}
