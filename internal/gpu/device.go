// Package gpu wraps the OpenGL calls the renderer needs behind Device and
// keeps named registries of buffers and shader programs.
package gpu

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

type (
	Buffer      uint32
	Shader      uint32
	Program     uint32
	VertexArray uint32
)

// Usage is a buffer usage hint.
type Usage uint8

const (
	StaticDraw Usage = iota
	DynamicDraw
)

func (u Usage) String() string {
	if u == StaticDraw {
		return "static"
	}
	return "dynamic"
}

// Stage names a shader pipeline step in errors.
type Stage uint8

const (
	VertexStage Stage = iota
	FragmentStage
	LinkStage
)

func (s Stage) String() string {
	switch s {
	case VertexStage:
		return "vertex"
	case FragmentStage:
		return "fragment"
	default:
		return "link"
	}
}

// ShaderError is a failed compile or link. Log is the driver's info log.
type ShaderError struct {
	Program string
	Stage   Stage
	Log     string
}

func (e *ShaderError) Error() string {
	if e.Stage == LinkStage {
		return fmt.Sprintf("program %s link: %s", e.Program, e.Log)
	}
	return fmt.Sprintf("program %s compile %s: %s", e.Program, e.Stage, e.Log)
}

// Device is the subset of OpenGL 4.1 core used by the renderer. All calls
// must happen on the thread owning the GL context.
type Device interface {
	CreateBuffer() Buffer
	// BufferData replaces the contents of b.
	BufferData(b Buffer, data []float32, usage Usage)
	// BufferSubData writes data at a byte offset into b.
	BufferSubData(b Buffer, offset int, data []float32)
	DeleteBuffer(b Buffer)

	// CompileShader returns a *ShaderError carrying the info log on failure.
	CompileShader(stage Stage, src string) (Shader, error)
	// LinkProgram returns a *ShaderError carrying the info log on failure.
	LinkProgram(vs, fs Shader) (Program, error)
	DeleteShader(s Shader)
	DeleteProgram(p Program)
	UseProgram(p Program)
	UniformLocation(p Program, name string) int32
	UniformMatrix4(loc int32, m mgl32.Mat4)
	Uniform2(loc int32, v mgl32.Vec2)

	CreateVertexArray() VertexArray
	BindVertexArray(v VertexArray)
	DeleteVertexArray(v VertexArray)
	// VertexAttrib binds b to attribute index with size floats per vertex.
	// A divisor of 1 advances the attribute once per instance.
	VertexAttrib(index uint32, b Buffer, size int32, divisor uint32)

	// SetAlphaBlending enables SRC_ALPHA, ONE_MINUS_SRC_ALPHA color
	// blending with FUNC_ADD (alpha blends ONE, ONE_MINUS_SRC_ALPHA) and
	// disables depth testing and depth writes.
	SetAlphaBlending()
	Viewport(x, y, width, height int32)
	Clear(c mgl32.Vec4)
	// DrawQuadsInstanced draws a 4-vertex triangle fan instances times.
	DrawQuadsInstanced(instances int32)
	// ReadPixels returns the framebuffer region as RGBA rows, bottom row
	// first.
	ReadPixels(x, y, width, height int32) []byte
}
