// Package noise provides the random sampling used to model detector noise.
package noise

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Sampler draws one normally distributed value with the given mean and standard deviation.
// Implementations need not be safe for concurrent use.
type Sampler interface {
	Normal(mean, stddev float64) float64
}

// Gaussian samples from gonum's normal distribution with a seeded source, so runs
// with the same seed reproduce the same noise.
type Gaussian struct {
	src rand.Source
}

// NewGaussian returns a sampler seeded with seed.
func NewGaussian(seed uint64) *Gaussian {
	return &Gaussian{src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
}

// Normal implements Sampler.
func (g *Gaussian) Normal(mean, stddev float64) float64 {
	if stddev <= 0 {
		return mean
	}
	d := distuv.Normal{Mu: mean, Sigma: stddev, Src: g.src}
	return d.Rand()
}

// None is a Sampler that always returns the mean, giving noiseless acquisitions.
type None struct{}

// Normal implements Sampler.
func (None) Normal(mean, _ float64) float64 { return mean }
