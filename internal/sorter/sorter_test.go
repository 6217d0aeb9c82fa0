package sorter

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splat-viewer/internal/geom"
	"splat-viewer/internal/splat"
)

func randomPositions(n int, seed int64) []float32 {
	r := rand.New(rand.NewSource(seed))
	p := make([]float32, 3*n)
	for i := range p {
		p[i] = r.Float32()*20 - 10
	}
	return p
}

func assertBackToFront(t *testing.T, perm splat.Permutation, positions []float32, view mgl32.Mat4) {
	t.Helper()
	n := len(positions) / 3
	require.True(t, perm.Valid(n), "not a bijection")
	cam, dir := geom.CameraFromView(view)
	depths := make([]float32, n)
	Depths(depths, positions, cam, dir)
	for i := 1; i < n; i++ {
		require.GreaterOrEqual(t, depths[perm[i-1]], depths[perm[i]], "at %d", i)
	}
}

func TestSortBackToFront(t *testing.T) {
	view := geom.LookAt(mgl32.Vec3{3, 4, 12}, mgl32.Vec3{}, mgl32.Vec3{0, -1, 0})
	for _, n := range []int{0, 1, 2, 100, parallelMin + 17} {
		positions := randomPositions(n, int64(n))
		perm := make(splat.Permutation, n)
		_, err := Sort(perm, positions, n, view, nil)
		require.NoError(t, err, "n=%d", n)
		assertBackToFront(t, perm, positions, view)
	}
}

func TestSortAlongAxis(t *testing.T) {
	// Camera at z=10 looking down -z: the splat at z=-5 is farthest.
	view := geom.LookAt(mgl32.Vec3{0, 0, 10}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	positions := []float32{0, 0, 0, 0, 0, -5, 0, 0, 5}
	perm := make(splat.Permutation, 3)
	_, err := Sort(perm, positions, 3, view, nil)
	require.NoError(t, err)
	assert.Equal(t, splat.Permutation{1, 0, 2}, perm)
}

func TestSortReusesScratch(t *testing.T) {
	view := geom.LookAt(mgl32.Vec3{0, 0, 10}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	scratch := make([]float32, 0, 64)
	depths, err := Sort(make(splat.Permutation, 8), randomPositions(8, 1), 8, view, scratch)
	require.NoError(t, err)
	assert.Len(t, depths, 8)
	assert.Equal(t, 64, cap(depths))
}

func TestSortRejectsMalformed(t *testing.T) {
	view := geom.Identity()
	bad := view
	bad[5] = math32.NaN()

	tests := []struct {
		name      string
		positions []float32
		count     int
		indices   int
		view      mgl32.Mat4
	}{
		{"short positions", make([]float32, 5), 2, 2, view},
		{"wrong index buffer", make([]float32, 6), 2, 3, view},
		{"non-finite view", make([]float32, 6), 2, 2, bad},
		{"negative count", nil, -1, 0, view},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sort(make(splat.Permutation, tt.indices), tt.positions, tt.count, tt.view, nil)
			assert.Error(t, err)
		})
	}
}

func TestSorterRoundTrip(t *testing.T) {
	s := New()
	defer s.Stop()

	view := geom.LookAt(mgl32.Vec3{-6, 2, 1}, mgl32.Vec3{}, mgl32.Vec3{0, -1, 0})
	positions := randomPositions(500, 7)
	buf := make(splat.Permutation, 500)
	require.True(t, s.TrySubmit(Request{Gen: 3, Positions: positions, View: view, Count: 500, Indices: buf}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := s.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, uint64(3), res.Gen)
	assert.Same(t, &buf[0], &res.Indices[0], "buffer handed back")
	assertBackToFront(t, res.Indices, positions, view)
	assert.False(t, s.Busy())
}

func TestSorterDropsWhileInFlight(t *testing.T) {
	s := New()
	defer s.Stop()

	req := Request{Positions: randomPositions(10, 2), View: geom.Identity(), Count: 10, Indices: make(splat.Permutation, 10)}
	require.True(t, s.TrySubmit(req))
	assert.True(t, s.Busy())
	assert.False(t, s.TrySubmit(req), "second request while one is in flight")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.Next(ctx)
	require.NoError(t, err)
	assert.True(t, s.TrySubmit(req), "accepted once the result is taken")
}

func TestSorterReportsErrors(t *testing.T) {
	s := New()
	defer s.Stop()

	require.True(t, s.TrySubmit(Request{Positions: nil, View: geom.Identity(), Count: 4, Indices: make(splat.Permutation, 4)}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Error(t, res.Err)
	assert.Len(t, res.Indices, 4)
}

func TestSorterReady(t *testing.T) {
	s := New()
	defer s.Stop()
	assert.False(t, s.Ready())

	view := geom.LookAt(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec3{0, -1, 0})
	require.True(t, s.TrySubmit(Request{Gen: 1, Positions: randomPositions(8, 1), View: view, Count: 8, Indices: make(splat.Permutation, 8)}))
	require.Eventually(t, s.Ready, 5*time.Second, time.Millisecond)
	assert.True(t, s.Busy(), "unread result keeps the sorter busy")

	_, ok := s.Poll()
	assert.True(t, ok)
	assert.False(t, s.Ready())
	assert.False(t, s.Busy())
}

func TestSorterPollAndStop(t *testing.T) {
	s := New()
	_, ok := s.Poll()
	assert.False(t, ok)

	s.Stop()
	s.Stop()
	assert.False(t, s.TrySubmit(Request{}))
	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}
