// Package camera implements the orbit camera driven by pointer, wheel and
// touch input.
package camera

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"splat-viewer/internal/config"
	"splat-viewer/internal/geom"
)

const (
	// Sensitivity is the orbit rotation per pixel of drag, in radians.
	Sensitivity = 0.01
	// WheelFactor scales wheel deltas into relative distance changes.
	WheelFactor = 0.001

	// ResetDistance is the distance restored by Reset.
	ResetDistance = 5

	maxPitch = math32.Pi / 2
	// lookAt degenerates when the view direction is parallel to up.
	poleEpsilon = 1e-4
)

// State is the orbit state the view is derived from.
type State struct {
	Target   mgl32.Vec3
	Yaw      float32
	Pitch    float32
	Distance float32
}

// Controller is an orbit camera. It is not safe for concurrent use; input
// is applied on the frame thread.
type Controller struct {
	state State
	up    mgl32.Vec3

	minDistance float32
	maxDistance float32

	dragging  bool
	last      mgl32.Vec2
	pinching  bool
	lastPinch float32

	eye  mgl32.Vec3
	view mgl32.Mat4
}

// New returns a controller at the reset position.
func New(cfg config.CameraConfig) *Controller {
	c := &Controller{
		up:          mgl32.Vec3(cfg.Up),
		minDistance: cfg.MinDistance,
		maxDistance: cfg.MaxDistance,
	}
	if c.up.Len() == 0 {
		c.up = mgl32.Vec3{0, -1, 0}
	}
	if c.maxDistance <= 0 {
		c.minDistance, c.maxDistance = 0.1, 100
	}
	c.state.Distance = cfg.InitialDistance
	if c.state.Distance <= 0 {
		c.state.Distance = ResetDistance
	}
	c.UpdateCamera()
	return c
}

// PointerDown starts a drag at (x, y).
func (c *Controller) PointerDown(x, y float32) {
	c.dragging = true
	c.last = mgl32.Vec2{x, y}
}

// PointerMove orbits by the drag delta since the last pointer position.
// Moves without a pressed pointer are ignored.
func (c *Controller) PointerMove(x, y float32) {
	if !c.dragging {
		return
	}
	c.orbit(x-c.last[0], y-c.last[1])
	c.last = mgl32.Vec2{x, y}
	c.UpdateCamera()
}

// PointerUp ends a drag.
func (c *Controller) PointerUp() {
	c.dragging = false
}

// Dragging reports whether a pointer drag is active.
func (c *Controller) Dragging() bool { return c.dragging }

// Wheel zooms by a wheel delta; positive values move away.
func (c *Controller) Wheel(dy float32) {
	c.state.Distance *= 1 + dy*WheelFactor
	c.UpdateCamera()
}

// Touch applies the current touch points. One point drags, two points
// pinch-zoom by the ratio of finger distances between consecutive calls.
// Any other count is ignored.
func (c *Controller) Touch(points []mgl32.Vec2) {
	switch len(points) {
	case 1:
		c.pinching = false
		if !c.dragging {
			c.PointerDown(points[0][0], points[0][1])
			return
		}
		c.PointerMove(points[0][0], points[0][1])
	case 2:
		c.dragging = false
		d := points[1].Sub(points[0]).Len()
		if c.pinching && c.lastPinch > 0 && d > 0 {
			c.state.Distance /= d / c.lastPinch
			c.UpdateCamera()
		}
		c.pinching = true
		c.lastPinch = d
	}
}

// TouchEnd ends any touch gesture.
func (c *Controller) TouchEnd() {
	c.dragging = false
	c.pinching = false
	c.lastPinch = 0
}

func (c *Controller) orbit(dx, dy float32) {
	c.state.Yaw += dx * Sensitivity
	c.state.Pitch += dy * Sensitivity
}

// UpdateCamera clamps the orbit state and recomputes the eye and view.
func (c *Controller) UpdateCamera() {
	c.state.Pitch = mgl32.Clamp(c.state.Pitch, -maxPitch, maxPitch)
	c.state.Distance = mgl32.Clamp(c.state.Distance, c.minDistance, c.maxDistance)

	pitch := mgl32.Clamp(c.state.Pitch, -maxPitch+poleEpsilon, maxPitch-poleEpsilon)
	sy, cy := math32.Sincos(c.state.Yaw)
	sp, cp := math32.Sincos(pitch)
	dir := mgl32.Vec3{sy * cp, sp, cy * cp}

	c.eye = c.state.Target.Add(dir.Mul(c.state.Distance))
	c.view = geom.LookAt(c.eye, c.state.Target, c.up)
}

// SetTarget re-centers the orbit on p.
func (c *Controller) SetTarget(p mgl32.Vec3) {
	c.state.Target = p
	c.UpdateCamera()
}

// SetDistance sets the orbit distance, clamped to the configured range.
func (c *Controller) SetDistance(d float32) {
	c.state.Distance = d
	c.UpdateCamera()
}

// Reset restores distance 5, zero angles and the origin target.
func (c *Controller) Reset() {
	c.state = State{Distance: ResetDistance}
	c.UpdateCamera()
}

// View returns the current view matrix.
func (c *Controller) View() mgl32.Mat4 { return c.view }

// Eye returns the current eye position.
func (c *Controller) Eye() mgl32.Vec3 { return c.eye }

// State returns the orbit state.
func (c *Controller) State() State { return c.state }
