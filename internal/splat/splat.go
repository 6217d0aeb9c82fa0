// Package splat defines the in-memory Gaussian splat scene and decodes it
// from PLY and glTF files.
package splat

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Per-splat widths of the Set arrays.
const (
	PositionWidth = 3
	RotationWidth = 4
	ScaleWidth    = 3
	ColorWidth    = 4
)

// Set is a structure-of-arrays scene of Count splats. Index i across the
// arrays describes one splat. A Set is never mutated after decoding, so it
// can be read from several goroutines at once.
type Set struct {
	Count int
	// Positions holds x, y, z per splat.
	Positions []float32
	// Rotations holds unit quaternions as w, x, y, z.
	Rotations []float32
	// Scales holds the per-axis standard deviations, all positive.
	Scales []float32
	// Colors holds r, g, b in [0, 1] and opacity in (0, 1).
	Colors []float32
	// Centroid is the mean position.
	Centroid mgl32.Vec3
}

// NewSet allocates a zeroed Set of n splats.
func NewSet(n int) *Set {
	return &Set{
		Count:     n,
		Positions: make([]float32, n*PositionWidth),
		Rotations: make([]float32, n*RotationWidth),
		Scales:    make([]float32, n*ScaleWidth),
		Colors:    make([]float32, n*ColorWidth),
	}
}

// Validate checks that every array has Count elements of its width.
func (s *Set) Validate() error {
	if s.Count < 0 {
		return fmt.Errorf("splat: negative count %d", s.Count)
	}
	for _, a := range []struct {
		name  string
		n     int
		width int
	}{
		{"positions", len(s.Positions), PositionWidth},
		{"rotations", len(s.Rotations), RotationWidth},
		{"scales", len(s.Scales), ScaleWidth},
		{"colors", len(s.Colors), ColorWidth},
	} {
		if a.n != s.Count*a.width {
			return fmt.Errorf("splat: %s has %d values, want %d", a.name, a.n, s.Count*a.width)
		}
	}
	return nil
}

// Position returns the position of splat i.
func (s *Set) Position(i int) mgl32.Vec3 {
	return mgl32.Vec3{s.Positions[3*i], s.Positions[3*i+1], s.Positions[3*i+2]}
}

// Rotation returns the (w, x, y, z) rotation of splat i.
func (s *Set) Rotation(i int) [4]float32 {
	return [4]float32(s.Rotations[4*i : 4*i+4])
}

// Scale returns the scale of splat i.
func (s *Set) Scale(i int) mgl32.Vec3 {
	return mgl32.Vec3{s.Scales[3*i], s.Scales[3*i+1], s.Scales[3*i+2]}
}

// Color returns the color and opacity of splat i.
func (s *Set) Color(i int) mgl32.Vec4 {
	return mgl32.Vec4{s.Colors[4*i], s.Colors[4*i+1], s.Colors[4*i+2], s.Colors[4*i+3]}
}

// Permutation is a draw order: element i is the index of the splat drawn
// i-th.
type Permutation []uint32

// Identity returns the permutation 0, 1, ..., n-1.
func Identity(n int) Permutation {
	return IdentityInto(make(Permutation, n))
}

// IdentityInto fills p with 0, 1, ..., len(p)-1 and returns it.
func IdentityInto(p Permutation) Permutation {
	for i := range p {
		p[i] = uint32(i)
	}
	return p
}

// Valid reports whether p is a bijection onto [0, n).
func (p Permutation) Valid(n int) bool {
	if len(p) != n {
		return false
	}
	seen := make([]bool, n)
	for _, v := range p {
		if int(v) >= n || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}

// Gather writes dst[i*width:(i+1)*width] = src[p[i]*width:...] for every i.
// dst and src must both hold len(p)*width values.
func (p Permutation) Gather(dst, src []float32, width int) {
	for i, j := range p {
		copy(dst[i*width:(i+1)*width], src[int(j)*width:(int(j)+1)*width])
	}
}
