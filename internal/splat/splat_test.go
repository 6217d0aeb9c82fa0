package splat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityIsValid(t *testing.T) {
	for _, n := range []int{0, 1, 7, 1000} {
		p := Identity(n)
		assert.True(t, p.Valid(n), "n=%d", n)
	}
}

func TestPermutationValid(t *testing.T) {
	assert.True(t, Permutation{2, 0, 1}.Valid(3))
	assert.False(t, Permutation{0, 1}.Valid(3), "short")
	assert.False(t, Permutation{0, 1, 1}.Valid(3), "duplicate")
	assert.False(t, Permutation{0, 1, 3}.Valid(3), "out of range")
}

func TestGather(t *testing.T) {
	src := []float32{0, 0, 1, 1, 2, 2}
	dst := make([]float32, len(src))
	Permutation{2, 0, 1}.Gather(dst, src, 2)
	assert.Equal(t, []float32{2, 2, 0, 0, 1, 1}, dst)
}

func TestSetValidate(t *testing.T) {
	s := NewSet(4)
	assert.NoError(t, s.Validate())

	s.Scales = s.Scales[:11]
	assert.ErrorContains(t, s.Validate(), "scales")

	assert.Error(t, (&Set{Count: -1}).Validate())
}

func TestCheckString(t *testing.T) {
	assert.Equal(t, "truncated", CheckTruncated.String())
	err := &FormatError{Check: CheckHeader, Detail: "missing"}
	assert.Equal(t, "splat: invalid scene (header): missing", err.Error())
}
