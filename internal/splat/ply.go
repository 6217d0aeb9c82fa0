package splat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"splat-viewer/internal/geom"
)

const (
	// SHC0 is the zeroth-order spherical harmonic basis constant.
	SHC0 = 0.28209479177387814

	// RecordFloats is the number of float32 values per PLY vertex:
	// x y z, f_dc_0..2, opacity, scale_0..2, rot_0..3.
	RecordFloats = 14
	// RecordSize is the byte stride of one PLY vertex.
	RecordSize = RecordFloats * 4

	// MaxHeaderSize bounds the search for the header terminator.
	MaxHeaderSize = 64 << 10

	headerEnd = "end_header"

	// cancelStride is how many records are decoded between context checks.
	cancelStride = 1 << 16

	// Decoded opacity is kept strictly inside (0, 1) and log-scales inside
	// a range whose exponent is a positive, finite float32.
	minOpacity  = 1e-6
	maxOpacity  = 1 - 1e-6
	maxLogScale = 30
)

// DecodePLY decodes a binary little-endian Gaussian splat PLY file.
func DecodePLY(data []byte) (*Set, error) {
	return DecodePLYContext(context.Background(), data)
}

// DecodePLYContext is DecodePLY that stops with ctx.Err() once ctx is done.
func DecodePLYContext(ctx context.Context, data []byte) (*Set, error) {
	n, body, err := parsePLYHeader(data)
	if err != nil {
		return nil, err
	}
	if have := len(body) / 4; have/RecordFloats < n {
		return nil, formatErrorf(CheckTruncated, "expected %d floats, got %d", uint64(n)*RecordFloats, have)
	}

	set := NewSet(n)
	var sum [3]float64
	var rec [RecordFloats]float32
	for i := 0; i < n; i++ {
		if i%cancelStride == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		raw := body[i*RecordSize : (i+1)*RecordSize]
		for k := range rec {
			v := math.Float32frombits(binary.LittleEndian.Uint32(raw[4*k:]))
			if !finite(v) {
				return nil, formatErrorf(CheckNonFinite, "vertex %d value %d is %v", i, k, v)
			}
			rec[k] = v
		}
		decodeRecord(set, i, &rec)
		sum[0] += float64(rec[0])
		sum[1] += float64(rec[1])
		sum[2] += float64(rec[2])
	}
	set.Centroid = centroid(sum, n)
	return set, nil
}

// parsePLYHeader returns the declared vertex count and the bytes following
// the header terminator line.
func parsePLYHeader(data []byte) (int, []byte, error) {
	limit := min(len(data), MaxHeaderSize)
	n := -1
	for off := 0; off < limit; {
		nl := bytes.IndexByte(data[off:limit], '\n')
		if nl < 0 {
			break
		}
		line := strings.TrimSpace(string(data[off : off+nl]))
		off += nl + 1

		f := strings.Fields(line)
		switch {
		case line == headerEnd:
			if n < 0 {
				return 0, nil, formatErrorf(CheckVertexCount, "no \"element vertex\" declaration")
			}
			return n, data[off:], nil
		case len(f) >= 2 && f[0] == "format":
			if f[1] != "binary_little_endian" {
				return 0, nil, formatErrorf(CheckFormat, "unsupported encoding %q", f[1])
			}
		case len(f) >= 3 && f[0] == "element" && f[1] == "vertex" && n < 0:
			v, err := strconv.Atoi(f[2])
			if err != nil || v < 0 {
				return 0, nil, formatErrorf(CheckVertexCount, "bad vertex count %q", f[2])
			}
			n = v
		}
	}
	return 0, nil, formatErrorf(CheckHeader, "%q line not found in first %d bytes", headerEnd, limit)
}

func decodeRecord(set *Set, i int, r *[RecordFloats]float32) {
	copy(set.Positions[3*i:], r[0:3])

	c := set.Colors[4*i : 4*i+4]
	c[0] = shColor(r[3])
	c[1] = shColor(r[4])
	c[2] = shColor(r[5])
	c[3] = Sigmoid(r[6])

	s := set.Scales[3*i : 3*i+3]
	s[0] = expScale(r[7])
	s[1] = expScale(r[8])
	s[2] = expScale(r[9])

	q := geom.NormalizeQuat([4]float32{r[10], r[11], r[12], r[13]})
	copy(set.Rotations[4*i:], q[:])
}

func shColor(raw float32) float32 {
	return clamp(float32(float64(raw)*SHC0+0.5), 0, 1)
}

// Sigmoid maps an opacity logit to an opacity strictly inside (0, 1).
func Sigmoid(x float32) float32 {
	return clamp(1/(1+math32.Exp(-x)), minOpacity, maxOpacity)
}

func expScale(logScale float32) float32 {
	return math32.Exp(clamp(logScale, -maxLogScale, maxLogScale))
}

func clamp(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(hi, v))
}

func centroid(sum [3]float64, n int) mgl32.Vec3 {
	if n == 0 {
		return mgl32.Vec3{}
	}
	return mgl32.Vec3{float32(sum[0] / float64(n)), float32(sum[1] / float64(n)), float32(sum[2] / float64(n))}
}

// EncodePLY writes set in the layout DecodePLY reads. Colors, opacities and
// scales are converted back to their stored forms.
func EncodePLY(w io.Writer, set *Set) error {
	if err := set.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\nformat binary_little_endian 1.0\nelement vertex %d\n", set.Count)
	for _, name := range plyProperties {
		fmt.Fprintf(bw, "property float %s\n", name)
	}
	fmt.Fprintf(bw, "%s\n", headerEnd)

	var rec [RecordFloats]float32
	var buf [RecordSize]byte
	for i := range set.Count {
		copy(rec[0:3], set.Positions[3*i:3*i+3])
		for k := range 3 {
			rec[3+k] = float32((float64(set.Colors[4*i+k]) - 0.5) / SHC0)
			rec[7+k] = math32.Log(set.Scales[3*i+k])
		}
		o := set.Colors[4*i+3]
		rec[6] = math32.Log(o / (1 - o))
		copy(rec[10:14], set.Rotations[4*i:4*i+4])
		for k, v := range rec {
			binary.LittleEndian.PutUint32(buf[4*k:], math.Float32bits(v))
		}
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

var plyProperties = [RecordFloats]string{
	"x", "y", "z",
	"f_dc_0", "f_dc_1", "f_dc_2",
	"opacity",
	"scale_0", "scale_1", "scale_2",
	"rot_0", "rot_1", "rot_2", "rot_3",
}
