package splat

import "fmt"

// Check names the validation a scene file failed.
type Check int

const (
	// CheckHeader: no header terminator.
	CheckHeader Check = iota + 1
	// CheckVertexCount: missing or unusable vertex count.
	CheckVertexCount
	// CheckTruncated: fewer values than the declared count needs.
	CheckTruncated
	// CheckFormat: unsupported encoding or container.
	CheckFormat
	// CheckNonFinite: a NaN or infinite value in a record.
	CheckNonFinite
	// CheckAttribute: a required or malformed glTF attribute.
	CheckAttribute
)

func (c Check) String() string {
	switch c {
	case CheckHeader:
		return "header"
	case CheckVertexCount:
		return "vertex count"
	case CheckTruncated:
		return "truncated"
	case CheckFormat:
		return "format"
	case CheckNonFinite:
		return "non-finite"
	case CheckAttribute:
		return "attribute"
	default:
		return fmt.Sprintf("Check(%d)", int(c))
	}
}

// FormatError reports a malformed or truncated scene.
type FormatError struct {
	Check  Check
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("splat: invalid scene (%s): %s", e.Check, e.Detail)
}

func formatErrorf(c Check, format string, args ...any) *FormatError {
	return &FormatError{Check: c, Detail: fmt.Sprintf(format, args...)}
}
