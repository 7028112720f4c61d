package phantom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"ctsim/pkg/geometry"
	"ctsim/pkg/materials"
	"ctsim/pkg/spectrum"
)

// minPathLength is the shortest intersection that counts as a hit.
const minPathLength = 1e-6

// attenuationTable holds linear attenuation per material per spectrum bin, for the
// spectrum it was built from.
type attenuationTable struct {
	binWidth  float64
	intensity []float64
	objectMu  [][]float64 // [object][bin], shared between objects of the same material
}

// matches reports whether the table covers exactly the non-empty bins of spec.
func (t *attenuationTable) matches(spec spectrum.Spectrum) bool {
	return t.binWidth == spec.BinWidth && floats.Equal(t.intensity, spec.Intensity)
}

// TabulateAttenuationLists precomputes the linear attenuation coefficient of every
// material in the model for every non-empty bin of spec. GetRayAttenuation then reads
// the table instead of calling the material service per ray.
//
// Tabulating a second time is reported as a warning and skipped; call
// ResetAttenuationLists first to tabulate for a different spectrum. Until then rays
// traced with another spectrum look coefficients up directly.
func (m *Model) TabulateAttenuationLists(spec spectrum.Spectrum) error {
	if m.atten != nil {
		if m.atten.matches(spec) {
			m.Warn("attenuation lists already tabulated, skipping")
		} else {
			m.Warn("attenuation lists tabulated for a different spectrum, skipping")
		}
		return nil
	}

	byMaterial := make(map[string][]float64)
	t := &attenuationTable{
		binWidth:  spec.BinWidth,
		intensity: append([]float64(nil), spec.Intensity...),
		objectMu:  make([][]float64, len(m.objects)),
	}
	for i, obj := range m.objects {
		mu, ok := byMaterial[obj.Material]
		if !ok {
			mu = make([]float64, spec.Len())
			for e, w := range spec.Intensity {
				if w == 0 {
					continue
				}
				v, err := materials.LinearAttenuation(m.materials, obj.Material, spec.EnergyMeV(e))
				if err != nil {
					return fmt.Errorf("failed to tabulate object %q: %w", obj.Name, err)
				}
				mu[e] = v
			}
			byMaterial[obj.Material] = mu
		}
		t.objectMu[i] = mu
	}
	m.atten = t
	return nil
}

// ResetAttenuationLists discards tabulated coefficients.
func (m *Model) ResetAttenuationLists() { m.atten = nil }

// Tabulated reports whether attenuation lists are available.
func (m *Model) Tabulated() bool { return m.atten != nil }

// TabulatedFor reports whether the attenuation lists were built for spec.
func (m *Model) TabulatedFor(spec spectrum.Spectrum) bool {
	return m.atten != nil && m.atten.matches(spec)
}

// PathLengths returns the length of ray inside each object, with every child's length
// removed from its parent so each segment is attributed to the innermost object only.
// The world starts with the full ray length. Objects the ray misses have length 0.
func (m *Model) PathLengths(ray geometry.Ray) ([]float64, error) {
	if !m.built {
		return nil, ErrTreeNotBuilt
	}
	lengths := make([]float64, len(m.objects))
	m.pathLengths(ray, lengths, make([]bool, len(m.objects)))
	return lengths, nil
}

func (m *Model) pathLengths(ray geometry.Ray, lengths []float64, hit []bool) {
	lengths[m.world] = ray.Len()
	hit[m.world] = true
	for d := 1; d < len(m.levels); d++ {
		for _, i := range m.levels[d] {
			parent := m.objects[i].Parent
			if !hit[parent] {
				continue
			}
			l := m.objects[i].Shape.RayPathLength(ray)
			if l > minPathLength {
				lengths[i] = l
				hit[i] = true
				lengths[parent] -= l
			}
		}
	}
}

// GetRayAttenuation returns the part of spec transmitted along ray:
//
//	Σ_E w(E) · exp(−Σ_objects μ(material, E) · length)
//
// The result lies between 0 and spec.Total().
func (m *Model) GetRayAttenuation(ray geometry.Ray, spec spectrum.Spectrum) (float64, error) {
	if !m.built {
		return 0, ErrTreeNotBuilt
	}
	n := len(m.objects)
	lengths := make([]float64, n)
	hit := make([]bool, n)
	m.pathLengths(ray, lengths, hit)

	crossed := make([]int, 0, n)
	for i := range hit {
		if hit[i] {
			crossed = append(crossed, i)
		}
	}

	useTable := m.TabulatedFor(spec)
	total := 0.0
	for e, w := range spec.Intensity {
		if w == 0 {
			continue
		}
		sum := 0.0
		for _, i := range crossed {
			var mu float64
			if useTable {
				mu = m.atten.objectMu[i][e]
			} else {
				v, err := materials.LinearAttenuation(m.materials, m.objects[i].Material, spec.EnergyMeV(e))
				if err != nil {
					return 0, err
				}
				mu = v
			}
			sum += mu * lengths[i]
		}
		total += w * math.Exp(-sum)
	}
	return total, nil
}
