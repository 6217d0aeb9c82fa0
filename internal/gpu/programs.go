package gpu

import (
	"errors"
	"fmt"
)

// Programs is a registry of named, linked shader programs.
type Programs struct {
	dev      Device
	programs map[string]Program
}

// NewPrograms returns an empty registry on dev.
func NewPrograms(dev Device) *Programs {
	return &Programs{dev: dev, programs: make(map[string]Program)}
}

// GetOrCreate returns the program called name, compiling and linking it from
// the given sources on first use. Failures are *ShaderError and leave
// nothing registered.
func (r *Programs) GetOrCreate(name, vertexSrc, fragmentSrc string) (Program, error) {
	if p, ok := r.programs[name]; ok {
		return p, nil
	}

	vs, err := r.dev.CompileShader(VertexStage, vertexSrc)
	if err != nil {
		return 0, named(name, err)
	}
	defer r.dev.DeleteShader(vs)
	fs, err := r.dev.CompileShader(FragmentStage, fragmentSrc)
	if err != nil {
		return 0, named(name, err)
	}
	defer r.dev.DeleteShader(fs)

	p, err := r.dev.LinkProgram(vs, fs)
	if err != nil {
		return 0, named(name, err)
	}
	r.programs[name] = p
	return p, nil
}

func named(name string, err error) error {
	var se *ShaderError
	if errors.As(err, &se) {
		se.Program = name
		return se
	}
	return fmt.Errorf("program %s: %w", name, err)
}

// Lookup returns the program called name if it exists.
func (r *Programs) Lookup(name string) (Program, bool) {
	p, ok := r.programs[name]
	return p, ok
}

// Dispose releases every program.
func (r *Programs) Dispose() {
	for name, p := range r.programs {
		r.dev.DeleteProgram(p)
		delete(r.programs, name)
	}
}
