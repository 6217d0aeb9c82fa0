package gpu

import (
	"fmt"
	"maps"
	"slices"

	"splat-viewer/internal/logx"
)

type bufferInfo struct {
	id    Buffer
	usage Usage
	size  int // float32 values
}

// Buffers is a registry of named GPU buffers.
type Buffers struct {
	dev     Device
	buffers map[string]*bufferInfo
}

// NewBuffers returns an empty registry on dev.
func NewBuffers(dev Device) *Buffers {
	return &Buffers{dev: dev, buffers: make(map[string]*bufferInfo)}
}

// GetOrCreate returns the buffer called name, creating it with usage on
// first use. Later calls return the same buffer and keep its first usage.
func (r *Buffers) GetOrCreate(name string, usage Usage) Buffer {
	if b, ok := r.buffers[name]; ok {
		return b.id
	}
	b := &bufferInfo{id: r.dev.CreateBuffer(), usage: usage}
	r.buffers[name] = b
	return b.id
}

// Upload replaces the contents of the buffer called name, creating it as a
// dynamic buffer if needed.
func (r *Buffers) Upload(name string, data []float32) Buffer {
	id := r.GetOrCreate(name, DynamicDraw)
	b := r.buffers[name]
	r.dev.BufferData(id, data, b.usage)
	b.size = len(data)
	logx.Logger().Debug("buffer upload", "name", name, "floats", len(data), "usage", b.usage)
	return id
}

// UpdateRange overwrites part of an existing buffer. offset counts float32
// values.
func (r *Buffers) UpdateRange(name string, offset int, data []float32) error {
	b, ok := r.buffers[name]
	if !ok {
		return fmt.Errorf("buffer %q does not exist", name)
	}
	if offset < 0 || offset+len(data) > b.size {
		return fmt.Errorf("buffer %q: range [%d, %d) outside %d values", name, offset, offset+len(data), b.size)
	}
	r.dev.BufferSubData(b.id, 4*offset, data)
	return nil
}

// Lookup returns the buffer called name if it exists.
func (r *Buffers) Lookup(name string) (Buffer, bool) {
	b, ok := r.buffers[name]
	if !ok {
		return 0, false
	}
	return b.id, true
}

// Len returns the number of values last uploaded to name.
func (r *Buffers) Len(name string) int {
	if b, ok := r.buffers[name]; ok {
		return b.size
	}
	return 0
}

// Names returns the registered names in sorted order.
func (r *Buffers) Names() []string {
	return slices.Sorted(maps.Keys(r.buffers))
}

// Delete releases the buffer called name. Unknown names are ignored.
func (r *Buffers) Delete(name string) {
	if b, ok := r.buffers[name]; ok {
		r.dev.DeleteBuffer(b.id)
		delete(r.buffers, name)
	}
}

// Dispose releases every buffer.
func (r *Buffers) Dispose() {
	for name, b := range r.buffers {
		r.dev.DeleteBuffer(b.id)
		delete(r.buffers, name)
	}
}
