// Package geom holds the matrix and quaternion helpers used by the camera,
// the sorter and the renderer. Matrices are mgl32 column-major values, the
// same layout the shaders receive.
package geom

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Identity returns the 4x4 identity matrix.
func Identity() mgl32.Mat4 {
	return mgl32.Ident4()
}

// Perspective returns a right-handed GL projection. fov is vertical and in
// radians.
func Perspective(fov, aspect, near, far float32) mgl32.Mat4 {
	return mgl32.Perspective(fov, aspect, near, far)
}

// LookAt returns the view matrix of an eye looking at target.
func LookAt(eye, target, up mgl32.Vec3) mgl32.Mat4 {
	return mgl32.LookAtV(eye, target, up)
}

// Multiply returns a·b.
func Multiply(a, b mgl32.Mat4) mgl32.Mat4 {
	return a.Mul4(b)
}

// Focal returns the focal length in pixels for a vertical field of view in
// radians and a viewport height in pixels.
func Focal(fov float32, height int) float32 {
	return float32(height) / (2 * math32.Tan(fov/2))
}

// Quat converts a stored (w, x, y, z) rotation into an mgl32 quaternion.
func Quat(q [4]float32) mgl32.Quat {
	return mgl32.Quat{W: q[0], V: mgl32.Vec3{q[1], q[2], q[3]}}
}

// NormalizeQuat returns q scaled to unit length. A zero or non-finite
// quaternion becomes the identity rotation.
func NormalizeQuat(q [4]float32) [4]float32 {
	n := math32.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	if n == 0 || math32.IsNaN(n) || math32.IsInf(n, 0) {
		return [4]float32{1, 0, 0, 0}
	}
	return [4]float32{q[0] / n, q[1] / n, q[2] / n, q[3] / n}
}

// RotationMatrix returns the rotation matrix of a (w, x, y, z) unit
// quaternion.
func RotationMatrix(q [4]float32) mgl32.Mat3 {
	return Upper3(Quat(q).Mat4())
}

// Upper3 returns the upper-left 3x3 block of m.
func Upper3(m mgl32.Mat4) mgl32.Mat3 {
	return mgl32.Mat3{
		m[0], m[1], m[2],
		m[4], m[5], m[6],
		m[8], m[9], m[10],
	}
}

// CameraFromView recovers the camera position and unit forward direction
// from a view matrix whose rotation block is orthonormal. The rotation is
// inverted by transposition: pos = -Rᵀ·t, forward = -(third row of R).
func CameraFromView(view mgl32.Mat4) (pos, forward mgl32.Vec3) {
	pos = mgl32.Vec3{
		-(view[12]*view[0] + view[13]*view[1] + view[14]*view[2]),
		-(view[12]*view[4] + view[13]*view[5] + view[14]*view[6]),
		-(view[12]*view[8] + view[13]*view[9] + view[14]*view[10]),
	}
	forward = mgl32.Vec3{-view[2], -view[6], -view[10]}
	if l := forward.Len(); l > 0 {
		forward = forward.Mul(1 / l)
	}
	return pos, forward
}

// Finite reports whether every element of m is a finite number.
func Finite(m mgl32.Mat4) bool {
	for _, v := range m {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}
