// Package viewer ties the loader, sorter, camera and renderer together and
// drives them one frame at a time.
//
// Every method except Post must be called from the thread that owns the
// renderer. Background work (decoding, sorting, file watching) reports back
// through channels that Frame drains without blocking.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-gl/mathgl/mgl32"

	"splat-viewer/internal/camera"
	"splat-viewer/internal/config"
	"splat-viewer/internal/geom"
	"splat-viewer/internal/loader"
	"splat-viewer/internal/logx"
	"splat-viewer/internal/render"
	"splat-viewer/internal/sorter"
	"splat-viewer/internal/splat"
)

// ErrDisposed is returned by operations on a disposed Viewer.
var ErrDisposed = errors.New("viewer: disposed")

// Renderer is what the viewer needs from a renderer. *render.Renderer
// implements it.
type Renderer interface {
	SetBackground(c mgl32.Vec4)
	SetSplatData(set *splat.Set) error
	UpdateSortedIndices(perm splat.Permutation) error
	Render(cam render.Camera)
	Resize(width, height int)
	Dispose()
}

// Viewer owns a renderer, an orbit camera, a loader and a sorter.
type Viewer struct {
	cfg        config.Config
	renderer   Renderer
	controller *camera.Controller
	loader     *loader.Loader
	sorter     *sorter.Sorter

	width, height int
	projection    mgl32.Mat4
	focal         mgl32.Vec2

	set     *splat.Set
	gen     uint64
	pending <-chan loader.Result
	onLoad  []func(loader.Result)

	frames   uint64
	lastSort uint64
	sortNow  bool
	sorts    uint64
	spare    splat.Permutation

	running  bool
	disposed bool

	mu     sync.Mutex
	posted []func()

	watcher *fsnotify.Watcher
	watchWG sync.WaitGroup
}

// New returns a stopped Viewer rendering through r. The projection is
// computed for the configured window size and the clear color taken from
// the window config.
func New(r Renderer, cfg config.Config) *Viewer {
	v := &Viewer{
		cfg:        cfg,
		renderer:   r,
		controller: camera.New(cfg.Camera),
		loader:     loader.New(),
	}
	r.SetBackground(mgl32.Vec4(cfg.Window.Background))
	v.Resize(cfg.Window.Width, cfg.Window.Height)
	return v
}

// Controller returns the orbit camera for input handling.
func (v *Viewer) Controller() *camera.Controller { return v.controller }

// Loader returns the scene loader, for example to set its HTTP client.
func (v *Viewer) Loader() *loader.Loader { return v.loader }

// Set returns the scene on screen, or nil.
func (v *Viewer) Set() *splat.Set { return v.set }

// Generation counts installed scenes.
func (v *Viewer) Generation() uint64 { return v.gen }

// Frames returns the number of frames rendered.
func (v *Viewer) Frames() uint64 { return v.frames }

// Sorts returns the number of sort results applied.
func (v *Viewer) Sorts() uint64 { return v.sorts }

// Size returns the viewport size.
func (v *Viewer) Size() (width, height int) { return v.width, v.height }

// Camera returns the camera state for the next frame.
func (v *Viewer) Camera() render.Camera {
	return render.Camera{
		View:       v.controller.View(),
		Projection: v.projection,
		Focal:      v.focal,
		Viewport:   mgl32.Vec2{float32(v.width), float32(v.height)},
	}
}

// OnLoad registers fn to be called on the frame thread with every load
// result except canceled ones.
func (v *Viewer) OnLoad(fn func(loader.Result)) {
	v.onLoad = append(v.onLoad, fn)
}

// Resize recomputes the projection and focal length for a width×height
// viewport.
func (v *Viewer) Resize(width, height int) {
	width, height = max(width, 1), max(height, 1)
	v.width, v.height = width, height
	fov := mgl32.DegToRad(v.cfg.Camera.FOV)
	v.projection = geom.Perspective(fov, float32(width)/float32(height), v.cfg.Camera.Near, v.cfg.Camera.Far)
	f := geom.Focal(fov, height)
	v.focal = mgl32.Vec2{f, f}
	v.renderer.Resize(width, height)
}

// Start starts the frame loop.
func (v *Viewer) Start() {
	if !v.disposed {
		v.running = true
	}
}

// Stop pauses the frame loop. Background loads and sorts keep running and
// are picked up after Start.
func (v *Viewer) Stop() { v.running = false }

// Running reports whether Frame renders.
func (v *Viewer) Running() bool { return v.running }

// Load starts loading src in the background, canceling any load in flight.
// The result is applied by a later Frame; a successful load starts the
// frame loop.
func (v *Viewer) Load(ctx context.Context, src loader.Source) error {
	if v.disposed {
		return ErrDisposed
	}
	v.pending = v.loader.Load(ctx, src)
	return nil
}

// LoadSync loads src and applies the result before returning.
func (v *Viewer) LoadSync(ctx context.Context, src loader.Source) error {
	if v.disposed {
		return ErrDisposed
	}
	ch := v.loader.Load(ctx, src)
	v.pending = nil
	select {
	case res := <-ch:
		return v.apply(res)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues fn to run at the start of the next Frame. It is safe to call
// from any goroutine.
func (v *Viewer) Post(fn func()) {
	v.mu.Lock()
	v.posted = append(v.posted, fn)
	v.mu.Unlock()
}

// Frame runs one tick: posted tasks, finished loads and sorts, a new sort
// request when one is due, and the draw.
func (v *Viewer) Frame() {
	if v.disposed {
		return
	}
	v.runPosted()
	v.pollLoad()
	v.pollSort()
	if !v.running {
		return
	}

	v.controller.UpdateCamera()
	cam := v.Camera()
	v.requestSort(cam)
	v.renderer.Render(cam)
	v.frames++
}

func (v *Viewer) runPosted() {
	v.mu.Lock()
	tasks := v.posted
	v.posted = nil
	v.mu.Unlock()
	for _, fn := range tasks {
		fn()
	}
}

func (v *Viewer) pollLoad() {
	if v.pending == nil {
		return
	}
	select {
	case res := <-v.pending:
		v.pending = nil
		v.apply(res)
	default:
	}
}

func (v *Viewer) apply(res loader.Result) error {
	if errors.Is(res.Err, context.Canceled) {
		logx.Logger().Debug("scene load canceled", "source", res.Source)
		return res.Err
	}
	if res.Err == nil {
		if err := v.renderer.SetSplatData(res.Set); err != nil {
			res.Set, res.Err = nil, fmt.Errorf("install %s: %w", res.Source, err)
		}
	}
	if res.Err != nil {
		logx.Logger().Warn("keeping previous scene", "source", res.Source, "err", res.Err)
		v.notify(res)
		return res.Err
	}

	v.set = res.Set
	v.gen++
	v.spare = nil
	v.controller.SetTarget(res.Set.Centroid)
	v.controller.SetDistance(camera.ResetDistance)
	if v.sorter == nil {
		v.sorter = sorter.New()
	}
	v.sortNow = true
	v.Start()
	logx.Logger().Info("scene installed", "source", res.Source, "splats", res.Set.Count, "generation", v.gen)
	v.notify(res)
	return nil
}

func (v *Viewer) notify(res loader.Result) {
	for _, fn := range v.onLoad {
		fn(res)
	}
}

func (v *Viewer) pollSort() {
	if v.sorter == nil {
		return
	}
	res, ok := v.sorter.Poll()
	if !ok {
		return
	}
	if res.Gen != v.gen || v.set == nil {
		logx.Logger().Debug("dropping stale sort", "gen", res.Gen, "current", v.gen)
		return
	}
	if res.Err != nil {
		logx.Logger().Warn("sort failed", "err", res.Err)
	} else if err := v.renderer.UpdateSortedIndices(res.Indices); err != nil {
		logx.Logger().Warn("sorted order rejected", "err", err)
	} else {
		v.sorts++
	}
	v.spare = res.Indices
}

func (v *Viewer) requestSort(cam render.Camera) {
	if v.sorter == nil || v.set == nil || v.set.Count == 0 || v.sorter.Busy() {
		return
	}
	if !v.sortNow && v.frames-v.lastSort < uint64(v.cfg.Sort.Interval) {
		return
	}
	buf := v.spare
	if len(buf) != v.set.Count {
		buf = make(splat.Permutation, v.set.Count)
	}
	req := sorter.Request{
		Gen:        v.gen,
		Positions:  v.set.Positions,
		View:       cam.View,
		Projection: cam.Projection,
		Count:      v.set.Count,
		Indices:    buf,
	}
	if v.sorter.TrySubmit(req) {
		v.spare = nil
		v.sortNow = false
		v.lastSort = v.frames
	}
}

// Dispose stops the loop, cancels background work and releases the
// renderer. It is idempotent and safe before any load completes.
func (v *Viewer) Dispose() {
	if v.disposed {
		return
	}
	v.disposed = true
	v.running = false
	v.closeWatcher()
	v.loader.Close()
	if v.sorter != nil {
		v.sorter.Stop()
	}
	v.pending = nil
	v.renderer.Dispose()
	v.set = nil
}
