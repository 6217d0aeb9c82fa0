// Package sorter orders splats back to front on a background goroutine.
//
// A Sorter is an actor: requests carry an index buffer whose ownership moves
// to the sorter, and results hand the same buffer back. At most one request
// is in flight at a time.
package sorter

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"

	"splat-viewer/internal/geom"
	"splat-viewer/internal/logx"
	"splat-viewer/internal/splat"
)

// ErrStopped is returned by Next after Stop.
var ErrStopped = errors.New("sorter: stopped")

// parallelMin is the splat count from which depths are computed in chunks.
const parallelMin = 1 << 14

// Request asks for a back-to-front order of Count splats.
type Request struct {
	// Gen is the scene generation the positions belong to.
	Gen       uint64
	Positions []float32
	View      mgl32.Mat4
	// Projection is carried with the camera; the depth key only needs View.
	Projection mgl32.Mat4
	Count      int
	// Indices receives the order. It must hold Count entries and belongs
	// to the sorter until returned in the Result.
	Indices splat.Permutation
}

// Result answers one Request. Indices is the request's buffer; when Err is
// set its contents are unspecified.
type Result struct {
	Gen     uint64
	Indices splat.Permutation
	Err     error
	Elapsed time.Duration
}

// Sorter is a depth-sorting actor.
type Sorter struct {
	reqs    chan Request
	results chan Result
	busy    atomic.Bool
	done    chan struct{}
	stop    sync.Once
	wg      sync.WaitGroup

	// owned by the actor goroutine
	depths []float32
}

// New starts a Sorter.
func New() *Sorter {
	s := &Sorter{
		reqs:    make(chan Request, 1),
		results: make(chan Result, 1),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	logx.Logger().Info("sorter started")
	return s
}

// TrySubmit hands req to the sorter. It returns false, dropping req, when a
// request is already in flight or the sorter is stopped.
func (s *Sorter) TrySubmit(req Request) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	if !s.busy.CompareAndSwap(false, true) {
		return false
	}
	s.reqs <- req
	return true
}

// Busy reports whether a request is in flight or its result is unread.
func (s *Sorter) Busy() bool { return s.busy.Load() }

// Ready reports whether a finished result is waiting to be read.
func (s *Sorter) Ready() bool { return len(s.results) > 0 }

// Poll returns a finished result without blocking.
func (s *Sorter) Poll() (Result, bool) {
	select {
	case res := <-s.results:
		s.busy.Store(false)
		return res, true
	default:
		return Result{}, false
	}
}

// Next blocks until a result is ready, ctx is done or the sorter stops.
func (s *Sorter) Next(ctx context.Context) (Result, error) {
	select {
	case res := <-s.results:
		s.busy.Store(false)
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-s.done:
		return Result{}, ErrStopped
	}
}

// Stop terminates the actor and waits for it. Pending results are dropped.
// Stop is idempotent.
func (s *Sorter) Stop() {
	s.stop.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Sorter) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case req := <-s.reqs:
			start := time.Now()
			var err error
			s.depths, err = Sort(req.Indices, req.Positions, req.Count, req.View, s.depths)
			res := Result{Gen: req.Gen, Indices: req.Indices, Err: err, Elapsed: time.Since(start)}
			if err == nil {
				logx.Logger().Debug("sorted splats", "count", req.Count, "gen", req.Gen, "elapsed", res.Elapsed)
			}
			select {
			case s.results <- res:
			case <-s.done:
				return
			}
		}
	}
}

// Sort fills indices with the order of count splats by descending depth
// along the view direction of view, farthest first. depths is scratch space
// that is grown as needed and returned for reuse.
func Sort(indices splat.Permutation, positions []float32, count int, view mgl32.Mat4, depths []float32) ([]float32, error) {
	switch {
	case count < 0:
		return depths, fmt.Errorf("sort: negative count %d", count)
	case len(positions) < 3*count:
		return depths, fmt.Errorf("sort: %d positions for %d splats", len(positions), count)
	case len(indices) != count:
		return depths, fmt.Errorf("sort: index buffer holds %d, want %d", len(indices), count)
	case !geom.Finite(view):
		return depths, errors.New("sort: view matrix is not finite")
	}

	if cap(depths) < count {
		depths = make([]float32, count)
	}
	depths = depths[:count]
	cam, dir := geom.CameraFromView(view)
	Depths(depths, positions, cam, dir)

	splat.IdentityInto(indices)
	slices.SortFunc(indices, func(a, b uint32) int {
		return cmp.Compare(depths[b], depths[a])
	})
	return depths, nil
}

// Depths writes (p_i - cam) . dir for every splat into dst.
func Depths(dst, positions []float32, cam, dir mgl32.Vec3) {
	n := len(dst)
	chunks := runtime.GOMAXPROCS(0)
	if n < parallelMin || chunks < 2 {
		depthRange(dst, positions, cam, dir, 0, n)
		return
	}
	size := (n + chunks - 1) / chunks
	var g errgroup.Group
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		g.Go(func() error {
			depthRange(dst, positions, cam, dir, lo, hi)
			return nil
		})
	}
	g.Wait()
}

func depthRange(dst, positions []float32, cam, dir mgl32.Vec3, lo, hi int) {
	for i := lo; i < hi; i++ {
		p := positions[3*i : 3*i+3]
		dst[i] = (p[0]-cam[0])*dir[0] + (p[1]-cam[1])*dir[1] + (p[2]-cam[2])*dir[2]
	}
}
