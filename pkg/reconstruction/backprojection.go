package reconstruction

import (
	"math"
	"sync"

	"ctsim/internal/models"
	"ctsim/pkg/scanner"
)

// backprojectionTables hold, for every pixel and view, the squared source-to-pixel
// distance and the fan angle of the ray through the pixel. They depend only on the
// geometry, the grid and the number of views, so they are built once and reused
// for every slice. float32 halves their footprint.
type backprojectionTables struct {
	gridSize  int
	pixelSize float64
	views     int

	distSq []float32 // [pixel*views + view]
	gamma  []float32
	inFOV  []bool // [pixel]
}

func (t *backprojectionTables) matches(gridSize int, pixelSize float64, views int) bool {
	return t != nil && t.gridSize == gridSize && t.pixelSize == pixelSize && t.views == views
}

// buildTables computes the lookup tables in parallel over image rows.
func buildTables(g scanner.Geometry, settings scanner.ReconstructionSettings, views, numCores int) *backprojectionTables {
	n := settings.GridSize
	ps := settings.PixelSize()
	t := &backprojectionTables{
		gridSize:  n,
		pixelSize: ps,
		views:     views,
		distSq:    make([]float32, n*n*views),
		gamma:     make([]float32, n*n*views),
		inFOV:     make([]bool, n*n),
	}

	sources := make([][2]float64, views)
	centrals := make([][2]float64, views)
	for v := 0; v < views; v++ {
		beta := 2 * math.Pi * float64(v) / float64(views)
		s := g.SourcePosition(beta, 0)
		c := g.CentralDirection(beta)
		sources[v] = [2]float64{s.X, s.Y}
		centrals[v] = [2]float64{c.X, c.Y}
	}

	img := models.Image{Size: n, PixelSize: ps}
	radius := settings.FOV / 2
	parallelRows(n, numCores, func(row int) {
		for col := 0; col < n; col++ {
			x, y := img.PixelCenter(col, row)
			p := row*n + col
			t.inFOV[p] = math.Hypot(x, y) <= radius
			base := p * views
			for v := 0; v < views; v++ {
				dx := x - sources[v][0]
				dy := y - sources[v][1]
				c := centrals[v]
				t.distSq[base+v] = float32(dx*dx + dy*dy)
				t.gamma[base+v] = float32(math.Atan2(c[0]*dy-c[1]*dx, c[0]*dx+c[1]*dy))
			}
		}
	})
	return t
}

// backproject accumulates the filtered sinogram (views × channels, row-major) into
// an image and converts it to Hounsfield units. Pixels outside the FOV read
// models.OutsideFOV.
func (t *backprojectionTables) backproject(filtered []float64, channels int, deltaGamma, muWater, muAir, z float64, numCores int) *models.Image {
	n := t.gridSize
	views := t.views
	img := models.NewImage(n, t.pixelSize, z)
	half := float64(channels-1) / 2
	last := float64(channels - 1)
	scale := 2 * math.Pi / float64(views)

	parallelRows(n, numCores, func(row int) {
		for col := 0; col < n; col++ {
			p := row*n + col
			if !t.inFOV[p] {
				img.HU[p] = models.OutsideFOV
				continue
			}
			base := p * views
			sum := 0.0
			for v := 0; v < views; v++ {
				u := float64(t.gamma[base+v])/deltaGamma + half
				if u < 0 || u > last {
					continue
				}
				i0 := int(u)
				q := filtered[v*channels+i0]
				if i0 < channels-1 {
					w := u - float64(i0)
					q += w * (filtered[v*channels+i0+1] - q)
				}
				sum += q / float64(t.distSq[base+v])
			}
			mu := sum * scale
			img.HU[p] = int(math.Round(1000 * (mu - muWater) / (muWater - muAir)))
		}
	})
	return img
}

// parallelRange splits 0..n-1 into contiguous blocks, one per goroutine, and
// runs fn on each block.
func parallelRange(n, numCores int, fn func(start, end int)) {
	if numCores < 1 {
		numCores = 1
	}
	perCore := (n + numCores - 1) / numCores
	var wg sync.WaitGroup
	for c := 0; c < numCores; c++ {
		start := c * perCore
		end := min(start+perCore, n)
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}

// parallelRows runs fn for every row in 0..n-1 using parallelRange.
func parallelRows(n, numCores int, fn func(row int)) {
	parallelRange(n, numCores, func(start, end int) {
		for row := start; row < end; row++ {
			fn(row)
		}
	})
}
