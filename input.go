package main

import (
	"context"
	"slices"

	"github.com/go-gl/mathgl/mgl32"

	"splat-viewer/internal/loader"
	"splat-viewer/internal/logx"
	"splat-viewer/internal/viewer"
)

// wheelNotch converts one SDL wheel step into the pixel-style delta the
// camera expects.
const wheelNotch = 100

// remoteInput applies WebSocket client input to a viewer. Every event is
// posted to the frame thread.
type remoteInput struct {
	v *viewer.Viewer
}

func (in remoteInput) Mouse(ev MouseEvent) {
	in.v.Post(func() {
		c := in.v.Controller()
		switch ev.Type {
		case MouseEventMotion:
			c.PointerMove(ev.X, ev.Y)
		case MouseEventButton:
			// Browser button numbering: 0 is the primary button.
			if ev.Button != 0 {
				return
			}
			if ev.Pressed {
				c.PointerDown(ev.X, ev.Y)
			} else {
				c.PointerUp()
			}
		case MouseEventScroll:
			c.Wheel(ev.ScrollDelta)
		}
	})
}

func (in remoteInput) Touch(points []mgl32.Vec2) {
	points = slices.Clone(points)
	in.v.Post(func() {
		if len(points) == 0 {
			in.v.Controller().TouchEnd()
			return
		}
		in.v.Controller().Touch(points)
	})
}

func (in remoteInput) LoadURL(url string) {
	in.v.Post(func() {
		logx.Logger().Info("remote load request", "url", url)
		if err := in.v.Load(context.Background(), loader.URL(url)); err != nil {
			logx.Logger().Warn("remote load rejected", "url", url, "err", err)
		}
	})
}

// touchTracker keeps the active fingers in the order they touched down.
type touchTracker struct {
	ids []int64
	pos map[int64]mgl32.Vec2
}

func newTouchTracker() *touchTracker {
	return &touchTracker{pos: make(map[int64]mgl32.Vec2)}
}

// move records finger id at p and returns the current points.
func (t *touchTracker) move(id int64, p mgl32.Vec2) []mgl32.Vec2 {
	if _, ok := t.pos[id]; !ok {
		t.ids = append(t.ids, id)
	}
	t.pos[id] = p
	return t.points()
}

// lift removes finger id and returns the remaining points.
func (t *touchTracker) lift(id int64) []mgl32.Vec2 {
	if _, ok := t.pos[id]; ok {
		delete(t.pos, id)
		t.ids = slices.DeleteFunc(t.ids, func(v int64) bool { return v == id })
	}
	return t.points()
}

func (t *touchTracker) points() []mgl32.Vec2 {
	out := make([]mgl32.Vec2, len(t.ids))
	for i, id := range t.ids {
		out[i] = t.pos[id]
	}
	return out
}
