package geom

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	// Dilation is added to both diagonal terms of the screen-space
	// covariance so every splat covers at least about a pixel.
	Dilation = 0.3
	// Sigmas is the quad half-extent in standard deviations.
	Sigmas = 3
	// NearClip is the view-space depth (negative z) a splat must be beyond
	// to be drawn.
	NearClip = 0.01
	// MinAlpha is the blend weight below which a fragment is discarded.
	MinAlpha = 0.01
	// minDet floors the covariance determinant before inversion.
	minDet = 0.0001
)

// Cov2 is a symmetric 2x2 screen-space covariance [[A, B], [B, D]] in
// pixels².
type Cov2 struct {
	A, B, D float32
}

// Covariance3D returns Σ = R·S·Sᵀ·Rᵀ for a (w, x, y, z) rotation and a
// per-axis scale.
func Covariance3D(rot [4]float32, scale mgl32.Vec3) mgl32.Mat3 {
	m := RotationMatrix(rot).Mul3(mgl32.Diag3(scale))
	return m.Mul3(m.Transpose())
}

// ProjectCovariance projects a world-space covariance to screen space for a
// splat at view-space position t. The perspective divide is linearised at t
// with Jacobian J, giving Σ₂ = J·W·Σ₃·Wᵀ·Jᵀ. ok is false when t is at or
// behind the near clip.
func ProjectCovariance(cov3 mgl32.Mat3, view mgl32.Mat4, t mgl32.Vec3, fx, fy float32) (c Cov2, ok bool) {
	if t.Z() > -NearClip {
		return Cov2{}, false
	}
	w := Upper3(view)
	tc := w.Mul3(cov3).Mul3(w.Transpose())

	zi := 1 / t.Z()
	zi2 := zi * zi
	// Rows of J; the third row is zero so only two are needed.
	j0 := mgl32.Vec3{fx * zi, 0, -fx * t.X() * zi2}
	j1 := mgl32.Vec3{0, fy * zi, -fy * t.Y() * zi2}

	tj0 := tc.Mul3x1(j0)
	tj1 := tc.Mul3x1(j1)
	return Cov2{
		A: j0.Dot(tj0) + Dilation,
		B: j0.Dot(tj1),
		D: j1.Dot(tj1) + Dilation,
	}, true
}

// Eigen returns the eigenvalues of c, largest first.
func (c Cov2) Eigen() (l1, l2 float32) {
	det := c.A*c.D - c.B*c.B
	tr := c.A + c.D
	disc := math32.Sqrt(math32.Max(0, tr*tr-4*det))
	return 0.5 * (tr + disc), 0.5 * (tr - disc)
}

// Radius returns the half-extent in pixels of the quad enclosing the
// splat.
func (c Cov2) Radius() float32 {
	l1, l2 := c.Eigen()
	return Sigmas * math32.Sqrt(math32.Max(l1, l2))
}

// Conic returns the inverse covariance as (A', B', D').
func (c Cov2) Conic() mgl32.Vec3 {
	inv := 1 / math32.Max(c.A*c.D-c.B*c.B, minDet)
	return mgl32.Vec3{c.D * inv, -c.B * inv, c.A * inv}
}

// Alpha evaluates the splat at a pixel offset d from its centre. ok is
// false when the fragment is discarded.
func Alpha(conic mgl32.Vec3, d mgl32.Vec2, opacity float32) (alpha float32, ok bool) {
	power := -0.5 * (conic[0]*d[0]*d[0] + 2*conic[1]*d[0]*d[1] + conic[2]*d[1]*d[1])
	if power > 0 {
		return 0, false
	}
	alpha = math32.Exp(power) * opacity
	if alpha < MinAlpha {
		return 0, false
	}
	return alpha, true
}

// Footprint is a splat projected onto the screen.
type Footprint struct {
	// Center is in pixels, origin bottom-left.
	Center mgl32.Vec2
	Radius float32
	Conic  mgl32.Vec3
	// Depth is the view-space distance along the view axis.
	Depth float32
}

// Project runs the full per-splat projection for one splat. ok is false for
// splats at or behind the near clip.
func Project(pos mgl32.Vec3, rot [4]float32, scale mgl32.Vec3, view, proj mgl32.Mat4, fx, fy float32, w, h int) (f Footprint, ok bool) {
	t := view.Mul4x1(pos.Vec4(1)).Vec3()
	c, ok := ProjectCovariance(Covariance3D(rot, scale), view, t, fx, fy)
	if !ok {
		return Footprint{}, false
	}
	clip := proj.Mul4x1(t.Vec4(1))
	ndc := mgl32.Vec2{clip.X() / clip.W(), clip.Y() / clip.W()}
	return Footprint{
		Center: mgl32.Vec2{(ndc[0] + 1) * 0.5 * float32(w), (ndc[1] + 1) * 0.5 * float32(h)},
		Radius: c.Radius(),
		Conic:  c.Conic(),
		Depth:  -t.Z(),
	}, true
}
