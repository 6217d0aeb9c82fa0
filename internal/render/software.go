package render

import (
	"image"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"splat-viewer/internal/geom"
	"splat-viewer/internal/splat"
)

// Software rasterizes splats on the CPU with the same projection and
// blending as the GPU path. It is used for headless snapshots.
type Software struct {
	Background mgl32.Vec4
}

// NewSoftware returns a rasterizer with an opaque black background.
func NewSoftware() *Software {
	return &Software{Background: mgl32.Vec4{0, 0, 0, 1}}
}

// Render draws set in the order perm (identity when nil) and returns the
// image with the top row first.
func (s *Software) Render(set *splat.Set, perm splat.Permutation, cam Camera) *image.RGBA {
	w, h := int(cam.Viewport[0]), int(cam.Viewport[1])
	fb := make([]mgl32.Vec4, w*h)
	for i := range fb {
		fb[i] = s.Background
	}
	if perm == nil {
		perm = splat.Identity(set.Count)
	}
	for _, idx := range perm {
		s.splat(fb, w, h, set, int(idx), cam)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		row := fb[(h-1-y)*w : (h-y)*w]
		for x, c := range row {
			p := img.Pix[y*img.Stride+4*x:]
			p[0] = toByte(c[0])
			p[1] = toByte(c[1])
			p[2] = toByte(c[2])
			p[3] = toByte(c[3])
		}
	}
	return img
}

func (s *Software) splat(fb []mgl32.Vec4, w, h int, set *splat.Set, i int, cam Camera) {
	f, ok := geom.Project(set.Position(i), set.Rotation(i), set.Scale(i),
		cam.View, cam.Projection, cam.Focal[0], cam.Focal[1], w, h)
	if !ok {
		return
	}
	x0 := max(0, int(math32.Floor(f.Center[0]-f.Radius)))
	x1 := min(w-1, int(math32.Ceil(f.Center[0]+f.Radius)))
	y0 := max(0, int(math32.Floor(f.Center[1]-f.Radius)))
	y1 := min(h-1, int(math32.Ceil(f.Center[1]+f.Radius)))
	c := set.Color(i)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			d := mgl32.Vec2{float32(x) + 0.5 - f.Center[0], float32(y) + 0.5 - f.Center[1]}
			if math32.Abs(d[0]) > f.Radius || math32.Abs(d[1]) > f.Radius {
				continue
			}
			a, ok := geom.Alpha(f.Conic, d, c[3])
			if !ok {
				continue
			}
			dst := &fb[y*w+x]
			for k := range 3 {
				dst[k] = c[k]*a + dst[k]*(1-a)
			}
			dst[3] = a + dst[3]*(1-a)
		}
	}
}

func toByte(v float32) uint8 {
	return uint8(mgl32.Clamp(v, 0, 1)*255 + 0.5)
}
