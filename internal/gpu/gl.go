package gpu

import (
	"fmt"
	"strings"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"
)

// GL is the Device backed by the current OpenGL 4.1 core context.
type GL struct{}

// NewGL loads the GL entry points for the context current on this thread.
func NewGL() (*GL, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("initialize OpenGL: %w", err)
	}
	return &GL{}, nil
}

// Version returns the driver's GL and GLSL version strings.
func (*GL) Version() (glVersion, glslVersion string) {
	return gl.GoStr(gl.GetString(gl.VERSION)), gl.GoStr(gl.GetString(gl.SHADING_LANGUAGE_VERSION))
}

func glUsage(u Usage) uint32 {
	if u == StaticDraw {
		return gl.STATIC_DRAW
	}
	return gl.DYNAMIC_DRAW
}

func (*GL) CreateBuffer() Buffer {
	var id uint32
	gl.GenBuffers(1, &id)
	return Buffer(id)
}

func (*GL) BufferData(b Buffer, data []float32, usage Usage) {
	gl.BindBuffer(gl.ARRAY_BUFFER, uint32(b))
	if len(data) == 0 {
		gl.BufferData(gl.ARRAY_BUFFER, 0, nil, glUsage(usage))
		return
	}
	gl.BufferData(gl.ARRAY_BUFFER, len(data)*4, gl.Ptr(data), glUsage(usage))
}

func (*GL) BufferSubData(b Buffer, offset int, data []float32) {
	if len(data) == 0 {
		return
	}
	gl.BindBuffer(gl.ARRAY_BUFFER, uint32(b))
	gl.BufferSubData(gl.ARRAY_BUFFER, offset, len(data)*4, gl.Ptr(data))
}

func (*GL) DeleteBuffer(b Buffer) {
	id := uint32(b)
	gl.DeleteBuffers(1, &id)
}

func (*GL) CompileShader(stage Stage, src string) (Shader, error) {
	kind := uint32(gl.VERTEX_SHADER)
	if stage == FragmentStage {
		kind = gl.FRAGMENT_SHADER
	}
	shader := gl.CreateShader(kind)
	csources, free := gl.Strs(src + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		log := make([]byte, logLength+1)
		gl.GetShaderInfoLog(shader, logLength, nil, &log[0])
		gl.DeleteShader(shader)
		return 0, &ShaderError{Stage: stage, Log: trimLog(log)}
	}
	return Shader(shader), nil
}

func (*GL) LinkProgram(vs, fs Shader) (Program, error) {
	program := gl.CreateProgram()
	gl.AttachShader(program, uint32(vs))
	gl.AttachShader(program, uint32(fs))
	gl.LinkProgram(program)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLength)
		log := make([]byte, logLength+1)
		gl.GetProgramInfoLog(program, logLength, nil, &log[0])
		gl.DeleteProgram(program)
		return 0, &ShaderError{Stage: LinkStage, Log: trimLog(log)}
	}
	gl.DetachShader(program, uint32(vs))
	gl.DetachShader(program, uint32(fs))
	return Program(program), nil
}

func trimLog(log []byte) string {
	return strings.TrimRight(string(log), "\x00\n ")
}

func (*GL) DeleteShader(s Shader)   { gl.DeleteShader(uint32(s)) }
func (*GL) DeleteProgram(p Program) { gl.DeleteProgram(uint32(p)) }
func (*GL) UseProgram(p Program)    { gl.UseProgram(uint32(p)) }

func (*GL) UniformLocation(p Program, name string) int32 {
	return gl.GetUniformLocation(uint32(p), gl.Str(name+"\x00"))
}

func (*GL) UniformMatrix4(loc int32, m mgl32.Mat4) {
	gl.UniformMatrix4fv(loc, 1, false, &m[0])
}

func (*GL) Uniform2(loc int32, v mgl32.Vec2) {
	gl.Uniform2f(loc, v[0], v[1])
}

func (*GL) CreateVertexArray() VertexArray {
	var id uint32
	gl.GenVertexArrays(1, &id)
	return VertexArray(id)
}

func (*GL) BindVertexArray(v VertexArray) { gl.BindVertexArray(uint32(v)) }

func (*GL) DeleteVertexArray(v VertexArray) {
	id := uint32(v)
	gl.DeleteVertexArrays(1, &id)
}

func (*GL) VertexAttrib(index uint32, b Buffer, size int32, divisor uint32) {
	gl.BindBuffer(gl.ARRAY_BUFFER, uint32(b))
	gl.VertexAttribPointerWithOffset(index, size, gl.FLOAT, false, size*4, 0)
	gl.EnableVertexAttribArray(index)
	gl.VertexAttribDivisor(index, divisor)
}

func (*GL) SetAlphaBlending() {
	gl.Enable(gl.BLEND)
	// Color uses SRC_ALPHA, ONE_MINUS_SRC_ALPHA; alpha accumulates coverage.
	gl.BlendFuncSeparate(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA, gl.ONE, gl.ONE_MINUS_SRC_ALPHA)
	gl.BlendEquation(gl.FUNC_ADD)
	gl.Disable(gl.DEPTH_TEST)
	gl.DepthMask(false)
	gl.Disable(gl.CULL_FACE)
}

func (*GL) Viewport(x, y, width, height int32) { gl.Viewport(x, y, width, height) }

func (*GL) Clear(c mgl32.Vec4) {
	gl.ClearColor(c[0], c[1], c[2], c[3])
	gl.Clear(gl.COLOR_BUFFER_BIT)
}

func (*GL) DrawQuadsInstanced(instances int32) {
	gl.DrawArraysInstanced(gl.TRIANGLE_FAN, 0, 4, instances)
}

func (*GL) ReadPixels(x, y, width, height int32) []byte {
	pix := make([]byte, 4*int(width)*int(height))
	if len(pix) == 0 {
		return pix
	}
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.ReadPixels(x, y, width, height, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pix))
	return pix
}
