// Package gputest provides an in-memory gpu.Device for tests.
package gputest

import (
	"github.com/go-gl/mathgl/mgl32"

	"splat-viewer/internal/gpu"
)

// Attrib is a recorded vertex attribute binding.
type Attrib struct {
	Buffer  gpu.Buffer
	Size    int32
	Divisor uint32
}

// Draw is a recorded instanced draw.
type Draw struct {
	Program     gpu.Program
	VertexArray gpu.VertexArray
	Instances   int32
	Attribs     map[uint32]Attrib
}

// Device records every call and keeps buffer contents in memory. Handles
// are never reused.
type Device struct {
	// CompileErrors makes CompileShader fail for a stage with the given log.
	CompileErrors map[gpu.Stage]string
	// LinkError makes LinkProgram fail with the given log.
	LinkError string

	Buffers       map[gpu.Buffer][]float32
	Usages        map[gpu.Buffer]gpu.Usage
	Shaders       map[gpu.Shader]string
	Programs      map[gpu.Program]bool
	VertexArrays  map[gpu.VertexArray]map[uint32]Attrib
	Uniforms      map[string]any
	Draws         []Draw
	ViewportRect  [4]int32
	ClearColor    mgl32.Vec4
	AlphaBlending bool

	BufferCreates int
	Deleted       int

	next      uint32
	program   gpu.Program
	vao       gpu.VertexArray
	locations map[int32]string
	locNames  map[string]int32
}

// New returns an empty Device.
func New() *Device {
	return &Device{
		Buffers:      make(map[gpu.Buffer][]float32),
		Usages:       make(map[gpu.Buffer]gpu.Usage),
		Shaders:      make(map[gpu.Shader]string),
		Programs:     make(map[gpu.Program]bool),
		VertexArrays: make(map[gpu.VertexArray]map[uint32]Attrib),
		Uniforms:     make(map[string]any),
		locations:    make(map[int32]string),
		locNames:     make(map[string]int32),
	}
}

var _ gpu.Device = (*Device)(nil)

func (d *Device) id() uint32 {
	d.next++
	return d.next
}

func (d *Device) CreateBuffer() gpu.Buffer {
	b := gpu.Buffer(d.id())
	d.Buffers[b] = nil
	d.BufferCreates++
	return b
}

func (d *Device) BufferData(b gpu.Buffer, data []float32, usage gpu.Usage) {
	d.Buffers[b] = append([]float32(nil), data...)
	d.Usages[b] = usage
}

func (d *Device) BufferSubData(b gpu.Buffer, offset int, data []float32) {
	copy(d.Buffers[b][offset/4:], data)
}

func (d *Device) DeleteBuffer(b gpu.Buffer) {
	delete(d.Buffers, b)
	d.Deleted++
}

func (d *Device) CompileShader(stage gpu.Stage, src string) (gpu.Shader, error) {
	if log, ok := d.CompileErrors[stage]; ok {
		return 0, &gpu.ShaderError{Stage: stage, Log: log}
	}
	s := gpu.Shader(d.id())
	d.Shaders[s] = src
	return s, nil
}

func (d *Device) LinkProgram(vs, fs gpu.Shader) (gpu.Program, error) {
	if d.LinkError != "" {
		return 0, &gpu.ShaderError{Stage: gpu.LinkStage, Log: d.LinkError}
	}
	p := gpu.Program(d.id())
	d.Programs[p] = true
	return p, nil
}

func (d *Device) DeleteShader(s gpu.Shader) { delete(d.Shaders, s) }

func (d *Device) DeleteProgram(p gpu.Program) {
	delete(d.Programs, p)
	d.Deleted++
}

func (d *Device) UseProgram(p gpu.Program) { d.program = p }

func (d *Device) UniformLocation(_ gpu.Program, name string) int32 {
	if loc, ok := d.locNames[name]; ok {
		return loc
	}
	loc := int32(len(d.locNames))
	d.locNames[name] = loc
	d.locations[loc] = name
	return loc
}

func (d *Device) UniformMatrix4(loc int32, m mgl32.Mat4) { d.Uniforms[d.locations[loc]] = m }
func (d *Device) Uniform2(loc int32, v mgl32.Vec2)       { d.Uniforms[d.locations[loc]] = v }

func (d *Device) CreateVertexArray() gpu.VertexArray {
	v := gpu.VertexArray(d.id())
	d.VertexArrays[v] = make(map[uint32]Attrib)
	return v
}

func (d *Device) BindVertexArray(v gpu.VertexArray) { d.vao = v }

func (d *Device) DeleteVertexArray(v gpu.VertexArray) {
	delete(d.VertexArrays, v)
	d.Deleted++
}

func (d *Device) VertexAttrib(index uint32, b gpu.Buffer, size int32, divisor uint32) {
	if attrs, ok := d.VertexArrays[d.vao]; ok {
		attrs[index] = Attrib{Buffer: b, Size: size, Divisor: divisor}
	}
}

func (d *Device) SetAlphaBlending() { d.AlphaBlending = true }

func (d *Device) Viewport(x, y, width, height int32) {
	d.ViewportRect = [4]int32{x, y, width, height}
}

func (d *Device) Clear(c mgl32.Vec4) { d.ClearColor = c }

func (d *Device) DrawQuadsInstanced(instances int32) {
	d.Draws = append(d.Draws, Draw{
		Program:     d.program,
		VertexArray: d.vao,
		Instances:   instances,
		Attribs:     d.VertexArrays[d.vao],
	})
}

// ReadPixels returns the clear color with row y holding the value y in the
// green channel, so callers can check row order.
func (d *Device) ReadPixels(x, y, width, height int32) []byte {
	pix := make([]byte, 4*int(width)*int(height))
	for row := range int(height) {
		for col := range int(width) {
			p := pix[4*(row*int(width)+col):]
			p[0] = byte(d.ClearColor[0] * 255)
			p[1] = byte(row)
			p[2] = byte(d.ClearColor[2] * 255)
			p[3] = 255
		}
	}
	return pix
}

// Data returns the contents of b.
func (d *Device) Data(b gpu.Buffer) []float32 { return d.Buffers[b] }
