// Package logx holds the structured logger shared by the viewer packages.
package logx

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler discards every record. Enabled reports false so callers skip
// formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogger configures the logger used by the loader, sorter, renderer and
// viewer. By default nothing is logged. Pass nil to restore the silent
// default. Safe for concurrent use.
//
// Levels:
//   - [slog.LevelDebug]: per-sort timings, buffer uploads
//   - [slog.LevelInfo]: lifecycle (scene loaded, sorter started)
//   - [slog.LevelWarn]: non-fatal failures (sort errors, dropped frames)
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
