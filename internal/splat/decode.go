package splat

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
)

// Format identifies a scene container.
type Format int

const (
	FormatUnknown Format = iota
	FormatPLY
	FormatGLB
	FormatGLTF
)

func (f Format) String() string {
	switch f {
	case FormatPLY:
		return "ply"
	case FormatGLB:
		return "glb"
	case FormatGLTF:
		return "gltf"
	default:
		return "unknown"
	}
}

// Sniff guesses the format of a scene from its first bytes.
func Sniff(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte("glTF")):
		return FormatGLB
	case bytes.HasPrefix(bytes.TrimLeft(data[:min(len(data), 64)], " \t\r\n"), []byte("{")):
		return FormatGLTF
	case bytes.HasPrefix(data, []byte("ply")):
		return FormatPLY
	default:
		return FormatUnknown
	}
}

// FormatFromName guesses the format of a scene from its file name.
func FormatFromName(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ply":
		return FormatPLY
	case ".glb":
		return FormatGLB
	case ".gltf":
		return FormatGLTF
	default:
		return FormatUnknown
	}
}

// Decode decodes a scene of any supported format. Data that is not
// recognisably glTF is parsed as PLY, which reports its own header errors.
func Decode(data []byte) (*Set, error) {
	return DecodeContext(context.Background(), data)
}

// DecodeContext is Decode with cancellation. PLY bodies are checked
// periodically; glTF documents only before decoding starts.
func DecodeContext(ctx context.Context, data []byte) (*Set, error) {
	switch Sniff(data) {
	case FormatGLB, FormatGLTF:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return DecodeGLTF(data)
	default:
		return DecodePLYContext(ctx, data)
	}
}
