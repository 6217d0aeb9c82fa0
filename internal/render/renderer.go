// Package render draws splat scenes, on the GPU through a gpu.Device and on
// the CPU through Software.
package render

import (
	"errors"
	"fmt"
	"image"

	"github.com/go-gl/mathgl/mgl32"

	"splat-viewer/internal/gpu"
	"splat-viewer/internal/logx"
	"splat-viewer/internal/splat"
)

// Buffer names in the registry.
const (
	BufQuad      = "quad"
	BufPositions = "positions"
	BufRotations = "rotations"
	BufScales    = "scales"
	BufColors    = "colors"

	programSplat = "splat"
)

// ErrNoScene is returned when sorted indices arrive before any scene.
var ErrNoScene = errors.New("render: no scene")

// Camera is the per-frame camera state.
type Camera struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
	// Focal is (fx, fy) in pixels.
	Focal mgl32.Vec2
	// Viewport is (width, height) in pixels.
	Viewport mgl32.Vec2
}

var instanceBuffers = [...]struct {
	name  string
	attr  uint32
	width int
}{
	{BufPositions, attrPosition, splat.PositionWidth},
	{BufRotations, attrRotation, splat.RotationWidth},
	{BufScales, attrScale, splat.ScaleWidth},
	{BufColors, attrColor, splat.ColorWidth},
}

// Renderer draws one splat set as instanced quads. All methods must be
// called on the GL thread.
type Renderer struct {
	dev      gpu.Device
	buffers  *gpu.Buffers
	programs *gpu.Programs
	program  gpu.Program
	vao      gpu.VertexArray

	uProjection, uView, uFocal, uViewport int32

	set     *splat.Set
	perm    splat.Permutation
	staging [len(instanceBuffers)][]float32

	width, height int32
	background    mgl32.Vec4
	disposed      bool
}

// New compiles the splat program and sets up the quad and instance
// buffers. A shader failure is returned as *gpu.ShaderError.
func New(dev gpu.Device) (*Renderer, error) {
	r := &Renderer{
		dev:        dev,
		buffers:    gpu.NewBuffers(dev),
		programs:   gpu.NewPrograms(dev),
		background: mgl32.Vec4{0, 0, 0, 1},
	}
	p, err := r.programs.GetOrCreate(programSplat, splatVertexShader, splatFragmentShader)
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}
	r.program = p
	r.uProjection = dev.UniformLocation(p, "u_projection")
	r.uView = dev.UniformLocation(p, "u_view")
	r.uFocal = dev.UniformLocation(p, "u_focal")
	r.uViewport = dev.UniformLocation(p, "u_viewport")

	dev.SetAlphaBlending()

	r.vao = dev.CreateVertexArray()
	dev.BindVertexArray(r.vao)
	r.buffers.GetOrCreate(BufQuad, gpu.StaticDraw)
	quad := r.buffers.Upload(BufQuad, quadVertices)
	dev.VertexAttrib(attrQuad, quad, 2, 0)
	for _, ib := range instanceBuffers {
		b := r.buffers.GetOrCreate(ib.name, gpu.DynamicDraw)
		dev.VertexAttrib(ib.attr, b, int32(ib.width), 1)
	}
	dev.BindVertexArray(0)
	return r, nil
}

// SetBackground sets the clear color.
func (r *Renderer) SetBackground(c mgl32.Vec4) { r.background = c }

// SetSplatData installs set in identity order and uploads it.
func (r *Renderer) SetSplatData(set *splat.Set) error {
	if err := set.Validate(); err != nil {
		return fmt.Errorf("set splat data: %w", err)
	}
	r.set = set
	r.perm = splat.Identity(set.Count)
	for i, ib := range instanceBuffers {
		r.staging[i] = make([]float32, set.Count*ib.width)
		r.buffers.Upload(ib.name, r.source(i))
	}
	logx.Logger().Debug("splat data uploaded", "splats", set.Count)
	return nil
}

func (r *Renderer) source(i int) []float32 {
	switch instanceBuffers[i].name {
	case BufPositions:
		return r.set.Positions
	case BufRotations:
		return r.set.Rotations
	case BufScales:
		return r.set.Scales
	default:
		return r.set.Colors
	}
}

// UpdateSortedIndices reorders the instance buffers so that instance i is
// splat perm[i]. An invalid permutation leaves the current order in place.
func (r *Renderer) UpdateSortedIndices(perm splat.Permutation) error {
	if r.set == nil {
		return ErrNoScene
	}
	if !perm.Valid(r.set.Count) {
		return fmt.Errorf("update sorted indices: not a permutation of %d splats", r.set.Count)
	}
	copy(r.perm, perm)
	for i, ib := range instanceBuffers {
		perm.Gather(r.staging[i], r.source(i), ib.width)
		r.buffers.Upload(ib.name, r.staging[i])
	}
	return nil
}

// Count returns the number of splats installed.
func (r *Renderer) Count() int {
	if r.set == nil {
		return 0
	}
	return r.set.Count
}

// Set returns the installed scene, or nil.
func (r *Renderer) Set() *splat.Set { return r.set }

// Permutation returns the current draw order. The slice is owned by the
// renderer.
func (r *Renderer) Permutation() splat.Permutation { return r.perm }

// Render clears the framebuffer and draws every splat in the current order.
func (r *Renderer) Render(cam Camera) {
	if r.disposed {
		return
	}
	r.dev.Clear(r.background)
	n := r.Count()
	if n == 0 {
		return
	}
	r.dev.UseProgram(r.program)
	r.dev.UniformMatrix4(r.uProjection, cam.Projection)
	r.dev.UniformMatrix4(r.uView, cam.View)
	r.dev.Uniform2(r.uFocal, cam.Focal)
	r.dev.Uniform2(r.uViewport, cam.Viewport)
	r.dev.BindVertexArray(r.vao)
	r.dev.DrawQuadsInstanced(int32(n))
	r.dev.BindVertexArray(0)
}

// Resize sets the viewport.
func (r *Renderer) Resize(width, height int) {
	r.width, r.height = int32(width), int32(height)
	r.dev.Viewport(0, 0, r.width, r.height)
}

// ReadPixels returns the framebuffer with the top row first.
func (r *Renderer) ReadPixels() *image.RGBA {
	w, h := int(r.width), int(r.height)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 || r.disposed {
		return img
	}
	pix := r.dev.ReadPixels(0, 0, r.width, r.height)
	for y := range h {
		copy(img.Pix[y*img.Stride:(y+1)*img.Stride], pix[(h-1-y)*4*w:(h-y)*4*w])
	}
	return img
}

// Dispose releases every GPU resource. It is idempotent.
func (r *Renderer) Dispose() {
	if r.disposed {
		return
	}
	r.disposed = true
	r.buffers.Dispose()
	r.programs.Dispose()
	r.dev.DeleteVertexArray(r.vao)
	r.set = nil
	r.perm = nil
}
