package arena

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r2"
)

// raysPerBin is the number of rays cast within each range bin
const raysPerBin = 3

// scan casts rays over the half plane in front of the robot and returns
// the smallest range found in each bin, capped at the laser range
func (a *Arena) scan() []float64 {
	bins := make([]float64, a.LaserBins)
	width := math.Pi / float64(a.LaserBins)
	rays := make([]float64, raysPerBin)

	for i := range bins {
		start := -math.Pi/2 + float64(i)*width
		for j := range rays {
			offset := (float64(j) + 0.5) * width / raysPerBin
			theta := a.heading + start + offset
			dir := r2.Vec{X: math.Cos(theta), Y: math.Sin(theta)}
			rays[j] = a.cast(a.position, dir)
		}
		bins[i] = floats.Min(rays)
	}
	return bins
}

// cast returns the distance along the unit direction dir from origin to
// the nearest wall or obstacle, capped at the laser range
func (a *Arena) cast(origin, dir r2.Vec) float64 {
	nearest := a.LaserRange

	for _, o := range a.obstacles {
		if d, ok := circleHit(origin, dir, o.center, o.radius); ok {
			nearest = math.Min(nearest, d)
		}
	}

	// Walls at ±HalfWidth on each axis
	for _, wall := range []float64{-a.HalfWidth, a.HalfWidth} {
		if dir.X != 0 {
			if d := (wall - origin.X) / dir.X; d >= 0 {
				nearest = math.Min(nearest, d)
			}
		}
		if dir.Y != 0 {
			if d := (wall - origin.Y) / dir.Y; d >= 0 {
				nearest = math.Min(nearest, d)
			}
		}
	}

	return nearest
}

// circleHit returns the distance along dir from origin to the first
// intersection with a circle. If origin lies inside the circle the
// distance is 0.
func circleHit(origin, dir, center r2.Vec, radius float64) (float64, bool) {
	oc := r2.Sub(origin, center)
	b := r2.Dot(oc, dir)
	c := r2.Dot(oc, oc) - radius*radius
	if c <= 0 {
		return 0, true
	}

	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	d := -b - math.Sqrt(disc)
	if d < 0 {
		return 0, false
	}
	return d, true
}
