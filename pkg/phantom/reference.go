package phantom

import (
	"fmt"
	"math"

	"ctsim/internal/models"
	"ctsim/pkg/geometry"
	"ctsim/pkg/materials"
)

// ReferenceHU renders the ground-truth slice at height z on a size × size grid, in
// Hounsfield units computed from the attenuation of each material at energyMeV.
// Pixels are sampled at their centres with MaterialAt.
func (m *Model) ReferenceHU(size int, pixelSize, z, energyMeV float64) (*models.Image, error) {
	if !m.built {
		return nil, ErrTreeNotBuilt
	}
	muWater, err := materials.LinearAttenuation(m.materials, "water", energyMeV)
	if err != nil {
		return nil, fmt.Errorf("failed to render reference: %w", err)
	}
	muAir, err := materials.LinearAttenuation(m.materials, "air", energyMeV)
	if err != nil {
		return nil, fmt.Errorf("failed to render reference: %w", err)
	}

	hu := make(map[string]int)
	img := models.NewImage(size, pixelSize, z)
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			x, y := img.PixelCenter(col, row)
			material, err := m.MaterialAt(geometry.Vector3{X: x, Y: y, Z: z})
			if err != nil {
				return nil, err
			}
			v, ok := hu[material]
			if !ok {
				mu, err := materials.LinearAttenuation(m.materials, material, energyMeV)
				if err != nil {
					return nil, fmt.Errorf("failed to render reference: %w", err)
				}
				v = int(math.Round(1000 * (mu - muWater) / (muWater - muAir)))
				hu[material] = v
			}
			img.HU[row*size+col] = v
		}
	}
	return img, nil
}
