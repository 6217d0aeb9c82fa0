// Package loader decodes scenes off the frame thread. Each load runs in its
// own goroutine and resolves exactly once on a buffered channel.
package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"splat-viewer/internal/logx"
	"splat-viewer/internal/splat"
)

// ErrClosed is returned for loads started after Close.
var ErrClosed = errors.New("loader: closed")

// Result is the outcome of one load. Exactly one of Set and Err is set.
type Result struct {
	Source  string
	Set     *splat.Set
	Err     error
	Elapsed time.Duration
}

// Loader runs scene decodes in the background, at most one at a time.
type Loader struct {
	// Client fetches URL sources. Nil uses http.DefaultClient.
	Client *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// New returns an idle Loader.
func New() *Loader {
	return &Loader{}
}

// Load starts decoding src and returns a channel that receives exactly one
// Result. A load still in flight is canceled first; it resolves with
// context.Canceled.
func (l *Loader) Load(ctx context.Context, src Source) <-chan Result {
	out := make(chan Result, 1)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		out <- Result{Source: src.Name(), Err: ErrClosed}
		return out
	}
	if l.cancel != nil {
		l.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		defer cancel()
		out <- l.run(ctx, src)
	}()
	return out
}

// Close cancels any in-flight load and waits for it to finish. Close is
// idempotent.
func (l *Loader) Close() {
	l.mu.Lock()
	l.closed = true
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Loader) run(ctx context.Context, src Source) (res Result) {
	start := time.Now()
	res.Source = src.Name()
	defer func() {
		if r := recover(); r != nil {
			res.Set = nil
			res.Err = fmt.Errorf("decode %s: panic: %v", src.Name(), r)
		}
		res.Elapsed = time.Since(start)
		log := logx.Logger()
		if res.Err != nil {
			log.Warn("scene load failed", "source", res.Source, "err", res.Err)
			return
		}
		log.Info("scene loaded", "source", res.Source, "splats", res.Set.Count, "elapsed", res.Elapsed)
	}()

	set, err := l.decode(ctx, src)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		res.Err = err
		return res
	}
	res.Set = set
	return res
}

func (l *Loader) decode(ctx context.Context, src Source) (*splat.Set, error) {
	if f, ok := src.(fileSource); ok && splat.FormatFromName(string(f)) == splat.FormatGLTF {
		// JSON glTF may reference buffers next to the file.
		return splat.OpenGLTF(string(f))
	}
	data, err := src.Fetch(ctx, l.Client)
	if err != nil {
		return nil, err
	}
	return splat.DecodeContext(ctx, data)
}
