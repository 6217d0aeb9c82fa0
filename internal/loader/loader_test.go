package loader

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splat-viewer/internal/splat"
)

// sceneBytes encodes a PLY scene with one unit splat per position.
func sceneBytes(t *testing.T, positions ...mgl32.Vec3) []byte {
	t.Helper()
	set := splat.NewSet(len(positions))
	for i, p := range positions {
		copy(set.Positions[3*i:], p[:])
		copy(set.Rotations[4*i:], []float32{1, 0, 0, 0})
		copy(set.Scales[3*i:], []float32{1, 1, 1})
		copy(set.Colors[4*i:], []float32{0.5, 0.5, 0.5, 0.5})
	}
	var buf bytes.Buffer
	require.NoError(t, splat.EncodePLY(&buf, set))
	return buf.Bytes()
}

func recv(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("load did not resolve")
		return Result{}
	}
}

func TestLoadThreeSplatScene(t *testing.T) {
	l := New()
	defer l.Close()

	data := sceneBytes(t, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{3, 3, 0}, mgl32.Vec3{0, 3, 9})
	res := recv(t, l.Load(context.Background(), Bytes("three", data)))
	require.NoError(t, res.Err)
	assert.Equal(t, "three", res.Source)
	assert.Equal(t, 3, res.Set.Count)
	assert.True(t, res.Set.Centroid.ApproxEqual(mgl32.Vec3{1, 2, 3}), "centroid %v", res.Set.Centroid)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.ply")
	require.NoError(t, os.WriteFile(path, sceneBytes(t, mgl32.Vec3{1, 1, 1}), 0o644))

	l := New()
	defer l.Close()
	res := recv(t, l.Load(context.Background(), File(path)))
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Set.Count)

	res = recv(t, l.Load(context.Background(), File(filepath.Join(t.TempDir(), "missing.ply"))))
	assert.ErrorIs(t, res.Err, os.ErrNotExist)
	assert.Nil(t, res.Set)
}

func TestLoadURL(t *testing.T) {
	data := sceneBytes(t, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{-1, 0, 0})
	mux := http.NewServeMux()
	mux.HandleFunc("/scene.ply", func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	l := &Loader{Client: srv.Client()}
	defer l.Close()

	res := recv(t, l.Load(context.Background(), URL(srv.URL+"/scene.ply")))
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Set.Count)

	res = recv(t, l.Load(context.Background(), URL(srv.URL+"/nope.ply")))
	assert.ErrorContains(t, res.Err, "404")
}

func TestLoadFormatError(t *testing.T) {
	l := New()
	defer l.Close()
	res := recv(t, l.Load(context.Background(), Bytes("bad", []byte("ply\nelement vertex 1\n"))))
	var fe *splat.FormatError
	require.ErrorAs(t, res.Err, &fe)
	assert.Equal(t, splat.CheckHeader, fe.Check)
}

func TestNewLoadCancelsPrevious(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/slow.ply", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(release)

	l := &Loader{Client: srv.Client()}
	defer l.Close()

	first := l.Load(context.Background(), URL(srv.URL+"/slow.ply"))
	second := l.Load(context.Background(), Bytes("fast", sceneBytes(t, mgl32.Vec3{})))

	assert.ErrorIs(t, recv(t, first).Err, context.Canceled)
	res := recv(t, second)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Set.Count)
}

func TestCloseCancelsAndRejects(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := recv(t, l.Load(ctx, Bytes("x", sceneBytes(t, mgl32.Vec3{}))))
	assert.ErrorIs(t, res.Err, context.Canceled)

	l.Close()
	l.Close()
	res = recv(t, l.Load(context.Background(), Bytes("x", nil)))
	assert.ErrorIs(t, res.Err, ErrClosed)
}

// cancelingSource cancels the load's context while handing over its bytes.
type cancelingSource struct {
	data   []byte
	cancel context.CancelFunc
}

func (c cancelingSource) Name() string { return "canceling" }

func (c cancelingSource) Fetch(context.Context, *http.Client) ([]byte, error) {
	c.cancel()
	return c.data, nil
}

func TestCancelReachesDecoder(t *testing.T) {
	l := New()
	defer l.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res := recv(t, l.Load(ctx, cancelingSource{data: sceneBytes(t, mgl32.Vec3{}), cancel: cancel}))
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Nil(t, res.Set)
}

func TestParse(t *testing.T) {
	assert.IsType(t, urlSource(""), Parse("https://example.com/a.ply"))
	assert.IsType(t, fileSource(""), Parse("scenes/a.ply"))
	assert.Equal(t, "scenes/a.ply", Parse("scenes/a.ply").Name())
}
