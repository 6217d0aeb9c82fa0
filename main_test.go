package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"image/png"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splat-viewer/internal/config"
	"splat-viewer/internal/gpu/gputest"
	"splat-viewer/internal/render"
	"splat-viewer/internal/splat"
	"splat-viewer/internal/viewer"
)

func TestParseOptions(t *testing.T) {
	o, err := parseOptions([]string{"-scene", "a.ply", "-width", "640", "-watch", "-v"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "a.ply", o.scene)
	assert.Equal(t, 640, o.width)
	assert.True(t, o.watch)
	assert.True(t, o.verbose)
	assert.Equal(t, defaultConfigPath, o.configPath)
	assert.True(t, o.set["width"])
	assert.False(t, o.set["height"])

	_, err = parseOptions([]string{"-nope"}, io.Discard)
	assert.Error(t, err)
	_, err = parseOptions([]string{"extra"}, io.Discard)
	assert.ErrorContains(t, err, "unexpected arguments")
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "viewer.toml")
	require.NoError(t, os.WriteFile(path, []byte("[window]\nwidth = 300\nheight = 200\n[server]\naddr = \":9000\"\n"), 0o644))

	o, err := parseOptions([]string{"-config", path, "-height", "100", "-static", "web"}, io.Discard)
	require.NoError(t, err)
	cfg, err := loadConfig(o)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Window.Width)
	assert.Equal(t, 100, cfg.Window.Height)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "web", cfg.Server.StaticDir)

	o, err = parseOptions([]string{"-config", path, "-width", "0"}, io.Discard)
	require.NoError(t, err)
	_, err = loadConfig(o)
	assert.ErrorContains(t, err, "invalid flags")

	o, err = parseOptions([]string{"-config", filepath.Join(dir, "missing.toml")}, io.Discard)
	require.NoError(t, err)
	_, err = loadConfig(o)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadConfigDefaultPathOptional(t *testing.T) {
	t.Chdir(t.TempDir())
	o, err := parseOptions(nil, io.Discard)
	require.NoError(t, err)
	cfg, err := loadConfig(o)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, false).Debug("hidden")
	assert.Empty(t, buf.String())
	newLogger(&buf, true).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

type recordedInput struct {
	mu     sync.Mutex
	mouse  []MouseEvent
	touch  [][]mgl32.Vec2
	loads  []string
	signal chan struct{}
}

func newRecordedInput() *recordedInput {
	return &recordedInput{signal: make(chan struct{}, 16)}
}

func (r *recordedInput) Mouse(ev MouseEvent) {
	r.mu.Lock()
	r.mouse = append(r.mouse, ev)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *recordedInput) Touch(points []mgl32.Vec2) {
	r.mu.Lock()
	r.touch = append(r.touch, points)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *recordedInput) LoadURL(url string) {
	r.mu.Lock()
	r.loads = append(r.loads, url)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func mouseMessage(typ MouseEventType, x, y float32, button uint32, pressed bool, scroll float32) []byte {
	msg := make([]byte, mouseMessageSize)
	msg[0] = msgMouse
	msg[1] = byte(typ)
	binary.LittleEndian.PutUint32(msg[2:], math.Float32bits(x))
	binary.LittleEndian.PutUint32(msg[6:], math.Float32bits(y))
	binary.LittleEndian.PutUint32(msg[10:], button)
	if pressed {
		msg[14] = 1
	}
	binary.LittleEndian.PutUint32(msg[15:], math.Float32bits(scroll))
	return msg
}

func touchMessage(points ...mgl32.Vec2) []byte {
	msg := []byte{msgTouch, byte(len(points))}
	for _, p := range points {
		msg = binary.LittleEndian.AppendUint32(msg, math.Float32bits(p[0]))
		msg = binary.LittleEndian.AppendUint32(msg, math.Float32bits(p[1]))
	}
	return msg
}

func TestDispatchInput(t *testing.T) {
	in := newRecordedInput()

	require.NoError(t, dispatchInput(mouseMessage(MouseEventButton, 10, 20, 0, true, 0), in))
	require.NoError(t, dispatchInput(mouseMessage(MouseEventScroll, 0, 0, 0, false, -120), in))
	require.NoError(t, dispatchInput(touchMessage(mgl32.Vec2{1, 2}, mgl32.Vec2{3, 4}), in))
	require.NoError(t, dispatchInput(touchMessage(), in))
	require.NoError(t, dispatchInput(append([]byte{msgLoad}, "https://example.com/a.ply"...), in))

	require.Len(t, in.mouse, 2)
	assert.Equal(t, MouseEvent{Type: MouseEventButton, X: 10, Y: 20, Pressed: true}, in.mouse[0])
	assert.Equal(t, float32(-120), in.mouse[1].ScrollDelta)
	require.Len(t, in.touch, 2)
	assert.Equal(t, []mgl32.Vec2{{1, 2}, {3, 4}}, in.touch[0])
	assert.Empty(t, in.touch[1])
	assert.Equal(t, []string{"https://example.com/a.ply"}, in.loads)
}

func TestDispatchInputRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
	}{
		{"empty", nil},
		{"short mouse", []byte{msgMouse, 0, 1, 2}},
		{"touch without count", []byte{msgTouch}},
		{"truncated touch", []byte{msgTouch, 2, 0, 0, 0, 0}},
		{"local file load", append([]byte{msgLoad}, "/etc/passwd"...)},
		{"unknown type", []byte{9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newRecordedInput()
			assert.ErrorIs(t, dispatchInput(tt.msg, in), errBadMessage)
			assert.Empty(t, in.mouse)
			assert.Empty(t, in.touch)
			assert.Empty(t, in.loads)
		})
	}
}

func TestFrameMessageHeader(t *testing.T) {
	msg := frameMessage([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 2, 1, 8)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(msg[0:4]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(msg[4:8]))
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(msg[8:12]))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, msg[12:])
}

func startServer(t *testing.T, in InputHandler) *HTTPServer {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>viewer</html>"), 0o644))
	s := NewHTTPServer("127.0.0.1:0", dir, in)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })
	return s
}

func TestHTTPServerHealthAndStatic(t *testing.T) {
	s := startServer(t, nil)

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get("http://" + s.Addr() + "/")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "viewer")
}

func dial(t *testing.T, s *HTTPServer) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return s.WebSocketClientCount() == 1 }, 5*time.Second, time.Millisecond)
	return conn
}

func TestWebSocketInputAndFrames(t *testing.T) {
	in := newRecordedInput()
	s := startServer(t, in)
	conn := dial(t, s)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, mouseMessage(MouseEventMotion, 5, 6, 0, false, 0)))
	select {
	case <-in.signal:
	case <-time.After(5 * time.Second):
		t.Fatal("input not delivered")
	}
	in.mu.Lock()
	assert.Equal(t, MouseEvent{Type: MouseEventMotion, X: 5, Y: 6}, in.mouse[0])
	in.mu.Unlock()

	s.BroadcastFrame([]byte{9, 9, 9, 255}, 1, 1, 4)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	typ, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, typ)
	assert.Equal(t, frameMessage([]byte{9, 9, 9, 255}, 1, 1, 4), msg)

	conn.Close()
	assert.Eventually(t, func() bool { return s.WebSocketClientCount() == 0 }, 5*time.Second, time.Millisecond)
}

func newTestViewer(t *testing.T) *viewer.Viewer {
	t.Helper()
	r, err := render.New(gputest.New())
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Window.Width, cfg.Window.Height = 64, 48
	v := viewer.New(r, cfg)
	t.Cleanup(v.Dispose)
	return v
}

func TestRemoteInputRunsOnFrame(t *testing.T) {
	v := newTestViewer(t)
	in := remoteInput{v: v}

	in.Mouse(MouseEvent{Type: MouseEventButton, X: 0, Y: 0, Pressed: true})
	in.Mouse(MouseEvent{Type: MouseEventMotion, X: 50, Y: 0})
	assert.Zero(t, v.Controller().State().Yaw)

	v.Frame()
	assert.InDelta(t, 0.5, v.Controller().State().Yaw, 1e-5)
	assert.True(t, v.Controller().Dragging())

	in.Mouse(MouseEvent{Type: MouseEventButton, Pressed: false})
	in.Mouse(MouseEvent{Type: MouseEventScroll, ScrollDelta: 1000})
	v.Frame()
	assert.False(t, v.Controller().Dragging())
	assert.InDelta(t, 10, v.Controller().State().Distance, 1e-4)
}

func TestRemoteInputIgnoresSecondaryButton(t *testing.T) {
	v := newTestViewer(t)
	in := remoteInput{v: v}
	in.Mouse(MouseEvent{Type: MouseEventButton, Button: 2, Pressed: true})
	v.Frame()
	assert.False(t, v.Controller().Dragging())
}

func TestRemoteTouchPinch(t *testing.T) {
	v := newTestViewer(t)
	in := remoteInput{v: v}
	in.Touch([]mgl32.Vec2{{0, 0}, {100, 0}})
	in.Touch([]mgl32.Vec2{{0, 0}, {200, 0}})
	in.Touch(nil)
	v.Frame()
	assert.InDelta(t, 2.5, v.Controller().State().Distance, 1e-4)
}

func TestTouchTracker(t *testing.T) {
	tr := newTouchTracker()
	assert.Equal(t, []mgl32.Vec2{{1, 1}}, tr.move(7, mgl32.Vec2{1, 1}))
	assert.Equal(t, []mgl32.Vec2{{1, 1}, {2, 2}}, tr.move(3, mgl32.Vec2{2, 2}))
	assert.Equal(t, []mgl32.Vec2{{5, 5}, {2, 2}}, tr.move(7, mgl32.Vec2{5, 5}))
	assert.Equal(t, []mgl32.Vec2{{2, 2}}, tr.lift(7))
	assert.Equal(t, []mgl32.Vec2{{2, 2}}, tr.lift(42))
	assert.Empty(t, tr.lift(3))
}

func writeScene(t *testing.T, set *splat.Set) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, splat.EncodePLY(&buf, set))
	path := filepath.Join(t.TempDir(), "scene.ply")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func centreScene() *splat.Set {
	set := splat.NewSet(1)
	copy(set.Rotations, []float32{1, 0, 0, 0})
	copy(set.Scales, []float32{0.5, 0.5, 0.5})
	copy(set.Colors, []float32{1, 1, 1, 0.9})
	return set
}

func TestSnapshotWritesPNG(t *testing.T) {
	path := writeScene(t, centreScene())
	cfg := config.Default()
	cfg.Window.Width, cfg.Window.Height = 40, 30
	out := filepath.Join(t.TempDir(), "shot.png")

	require.NoError(t, snapshot(context.Background(), cfg, path, out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())
	r, _, _, _ := img.At(20, 15).RGBA()
	assert.Positive(t, r)
}

func TestSnapshotUsesConfiguredBackground(t *testing.T) {
	cfg := config.Default()
	cfg.Window.Width, cfg.Window.Height = 40, 30
	cfg.Window.Background = [4]float32{0, 0, 1, 1}

	img, err := renderSnapshot(cfg, centreScene())
	require.NoError(t, err)
	c := img.RGBAAt(0, 0)
	assert.Equal(t, uint8(0), c.R)
	assert.Equal(t, uint8(255), c.B)
}

func TestExportWritesGLB(t *testing.T) {
	path := writeScene(t, centreScene())
	out := filepath.Join(t.TempDir(), "scene.glb")

	require.NoError(t, exportScene(context.Background(), path, out))

	doc, err := gltf.Open(out)
	require.NoError(t, err)
	require.Len(t, doc.Meshes, 1)

	set, err := splat.OpenGLTF(out)
	require.NoError(t, err)
	assert.Equal(t, 1, set.Count)
}

func TestHeadlessRequiresScene(t *testing.T) {
	out := filepath.Join(t.TempDir(), "x.png")
	assert.ErrorIs(t, snapshot(context.Background(), config.Default(), "", out), errNoScene)
	assert.ErrorIs(t, exportScene(context.Background(), "", out), errNoScene)

	err := exportScene(context.Background(), filepath.Join(t.TempDir(), "missing.ply"), out)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(out)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
