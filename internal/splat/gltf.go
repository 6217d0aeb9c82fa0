package splat

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/chewxy/math32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"splat-viewer/internal/geom"
)

// glTF attribute names for splat data on a POINTS primitive. Each custom
// attribute is also accepted with the KHR_gaussian_splatting: prefix.
const (
	AttrPosition = "POSITION"
	AttrColor    = "COLOR_0"
	AttrRotation = "_ROTATION"
	AttrScale    = "_SCALE"
	AttrOpacity  = "_OPACITY"

	khrPrefix = "KHR_gaussian_splatting:"

	// defaultScale is used for point clouds that carry no _SCALE.
	defaultScale = 0.01
)

// DecodeGLTF decodes a binary or embedded-buffer JSON glTF document whose
// first POINTS primitive carries splat attributes.
func DecodeGLTF(data []byte) (*Set, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, formatErrorf(CheckFormat, "gltf: %v", err)
	}
	return fromDocument(doc)
}

// OpenGLTF decodes a glTF file from disk, resolving external buffers
// relative to it.
func OpenGLTF(path string) (*Set, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, formatErrorf(CheckFormat, "gltf: %v", err)
	}
	return fromDocument(doc)
}

func fromDocument(doc *gltf.Document) (*Set, error) {
	prim := pointsPrimitive(doc)
	if prim == nil {
		return nil, formatErrorf(CheckAttribute, "no POINTS primitive with %s", AttrPosition)
	}

	positions, err := modeler.ReadPosition(doc, doc.Accessors[prim.Attributes[AttrPosition]], nil)
	if err != nil {
		return nil, formatErrorf(CheckAttribute, "%s: %v", AttrPosition, err)
	}
	n := len(positions)
	set := NewSet(n)

	var sum [3]float64
	for i, p := range positions {
		for k, v := range p {
			if !finite(v) {
				return nil, formatErrorf(CheckNonFinite, "vertex %d position %d is %v", i, k, v)
			}
			set.Positions[3*i+k] = v
			sum[k] += float64(v)
		}
		set.Rotations[4*i] = 1
		set.Scales[3*i], set.Scales[3*i+1], set.Scales[3*i+2] = defaultScale, defaultScale, defaultScale
		set.Colors[4*i], set.Colors[4*i+1], set.Colors[4*i+2], set.Colors[4*i+3] = 1, 1, 1, maxOpacity
	}
	set.Centroid = centroid(sum, n)

	if err := readColors(doc, prim, set); err != nil {
		return nil, err
	}
	if err := readRotations(doc, prim, set); err != nil {
		return nil, err
	}
	if err := readScales(doc, prim, set); err != nil {
		return nil, err
	}
	if err := readOpacities(doc, prim, set); err != nil {
		return nil, err
	}
	return set, nil
}

func pointsPrimitive(doc *gltf.Document) *gltf.Primitive {
	for _, m := range doc.Meshes {
		for _, p := range m.Primitives {
			if p.Mode != gltf.PrimitivePoints {
				continue
			}
			if idx, ok := p.Attributes[AttrPosition]; ok && idx < len(doc.Accessors) {
				return p
			}
		}
	}
	return nil
}

// attribute reads the named accessor, trying the KHR_gaussian_splatting
// alias as well. ok is false when neither name is present.
func attribute(doc *gltf.Document, prim *gltf.Primitive, name string) (data any, ok bool, err error) {
	idx, ok := prim.Attributes[name]
	if !ok {
		idx, ok = prim.Attributes[khrPrefix+name[1:]]
	}
	if !ok {
		return nil, false, nil
	}
	if idx < 0 || idx >= len(doc.Accessors) {
		return nil, true, formatErrorf(CheckAttribute, "%s: accessor %d out of range", name, idx)
	}
	data, err = modeler.ReadAccessor(doc, doc.Accessors[idx], nil)
	if err != nil {
		return nil, true, formatErrorf(CheckAttribute, "%s: %v", name, err)
	}
	return data, true, nil
}

func readColors(doc *gltf.Document, prim *gltf.Primitive, set *Set) error {
	idx, ok := prim.Attributes[AttrColor]
	if !ok {
		return nil
	}
	if idx < 0 || idx >= len(doc.Accessors) {
		return formatErrorf(CheckAttribute, "%s: accessor %d out of range", AttrColor, idx)
	}
	data, err := modeler.ReadAccessor(doc, doc.Accessors[idx], nil)
	if err != nil {
		return formatErrorf(CheckAttribute, "%s: %v", AttrColor, err)
	}
	put := func(i int, r, g, b float32) {
		set.Colors[4*i] = clamp(r, 0, 1)
		set.Colors[4*i+1] = clamp(g, 0, 1)
		set.Colors[4*i+2] = clamp(b, 0, 1)
	}
	var n int
	switch c := data.(type) {
	case [][3]float32:
		n = len(c)
		for i := range min(n, set.Count) {
			put(i, c[i][0], c[i][1], c[i][2])
		}
	case [][4]float32:
		n = len(c)
		for i := range min(n, set.Count) {
			put(i, c[i][0], c[i][1], c[i][2])
		}
	case [][3]uint8:
		n = len(c)
		for i := range min(n, set.Count) {
			put(i, float32(c[i][0])/255, float32(c[i][1])/255, float32(c[i][2])/255)
		}
	case [][4]uint8:
		n = len(c)
		for i := range min(n, set.Count) {
			put(i, float32(c[i][0])/255, float32(c[i][1])/255, float32(c[i][2])/255)
		}
	case [][3]uint16:
		n = len(c)
		for i := range min(n, set.Count) {
			put(i, float32(c[i][0])/65535, float32(c[i][1])/65535, float32(c[i][2])/65535)
		}
	case [][4]uint16:
		n = len(c)
		for i := range min(n, set.Count) {
			put(i, float32(c[i][0])/65535, float32(c[i][1])/65535, float32(c[i][2])/65535)
		}
	default:
		return formatErrorf(CheckAttribute, "%s: unsupported type %T", AttrColor, data)
	}
	return checkLen(AttrColor, n, set.Count)
}

func readRotations(doc *gltf.Document, prim *gltf.Primitive, set *Set) error {
	data, ok, err := attribute(doc, prim, AttrRotation)
	if !ok || err != nil {
		return err
	}
	q, isVec4 := data.([][4]float32)
	if !isVec4 {
		return formatErrorf(CheckAttribute, "%s: want float VEC4, got %T", AttrRotation, data)
	}
	if err := checkLen(AttrRotation, len(q), set.Count); err != nil {
		return err
	}
	for i, v := range q {
		// glTF stores x, y, z, w.
		r := geom.NormalizeQuat([4]float32{v[3], v[0], v[1], v[2]})
		copy(set.Rotations[4*i:], r[:])
	}
	return nil
}

func readScales(doc *gltf.Document, prim *gltf.Primitive, set *Set) error {
	data, ok, err := attribute(doc, prim, AttrScale)
	if !ok || err != nil {
		return err
	}
	s, isVec3 := data.([][3]float32)
	if !isVec3 {
		return formatErrorf(CheckAttribute, "%s: want float VEC3, got %T", AttrScale, data)
	}
	if err := checkLen(AttrScale, len(s), set.Count); err != nil {
		return err
	}
	for i, v := range s {
		for k, x := range v {
			if !finite(x) || x <= 0 {
				return formatErrorf(CheckAttribute, "%s: vertex %d has non-positive scale %v", AttrScale, i, x)
			}
			set.Scales[3*i+k] = x
		}
	}
	return nil
}

func readOpacities(doc *gltf.Document, prim *gltf.Primitive, set *Set) error {
	data, ok, err := attribute(doc, prim, AttrOpacity)
	if !ok || err != nil {
		return err
	}
	o, isScalar := data.([]float32)
	if !isScalar {
		return formatErrorf(CheckAttribute, "%s: want float SCALAR, got %T", AttrOpacity, data)
	}
	if err := checkLen(AttrOpacity, len(o), set.Count); err != nil {
		return err
	}
	for i, v := range o {
		if !finite(v) {
			return formatErrorf(CheckNonFinite, "%s: vertex %d is %v", AttrOpacity, i, v)
		}
		set.Colors[4*i+3] = clamp(v, minOpacity, maxOpacity)
	}
	return nil
}

func checkLen(name string, got, want int) error {
	if got != want {
		return formatErrorf(CheckTruncated, "%s has %d elements, want %d", name, got, want)
	}
	return nil
}

// EncodeGLB writes set as a binary glTF document with one POINTS primitive.
func EncodeGLB(w io.Writer, set *Set) error {
	if err := set.Validate(); err != nil {
		return err
	}
	n := set.Count
	if n == 0 {
		return errors.New("encode glb: empty splat set")
	}
	positions := make([][3]float32, n)
	colors := make([][3]float32, n)
	rotations := make([][4]float32, n)
	scales := make([][3]float32, n)
	opacities := make([]float32, n)
	for i := range n {
		positions[i] = [3]float32(set.Positions[3*i : 3*i+3])
		colors[i] = [3]float32(set.Colors[4*i : 4*i+3])
		q := set.Rotation(i)
		rotations[i] = [4]float32{q[1], q[2], q[3], q[0]}
		scales[i] = [3]float32(set.Scales[3*i : 3*i+3])
		opacities[i] = set.Colors[4*i+3]
	}

	doc := gltf.NewDocument()
	attrs := map[string]int{
		AttrPosition: modeler.WritePosition(doc, positions),
		AttrColor:    modeler.WriteAccessor(doc, gltf.TargetArrayBuffer, colors),
		AttrRotation: modeler.WriteAccessor(doc, gltf.TargetArrayBuffer, rotations),
		AttrScale:    modeler.WriteAccessor(doc, gltf.TargetArrayBuffer, scales),
		AttrOpacity:  modeler.WriteAccessor(doc, gltf.TargetArrayBuffer, opacities),
	}
	doc.Meshes = []*gltf.Mesh{{
		Name:       "splats",
		Primitives: []*gltf.Primitive{{Mode: gltf.PrimitivePoints, Attributes: attrs}},
	}}
	doc.Nodes = []*gltf.Node{{Name: "splats", Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0)

	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode glb: %w", err)
	}
	return nil
}

func finite(v float32) bool {
	return !math32.IsNaN(v) && !math32.IsInf(v, 0)
}
