package viewer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"splat-viewer/internal/loader"
	"splat-viewer/internal/logx"
)

// Watch reloads the scene at path whenever the file is written or
// re-created. Reloads run on the frame thread. Only one path is watched;
// a second call replaces the first.
func (v *Viewer) Watch(path string) error {
	if v.disposed {
		return ErrDisposed
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	// Watch the directory so editors that replace the file are seen.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}
	v.closeWatcher()
	v.watcher = w

	v.watchWG.Add(1)
	go func() {
		defer v.watchWG.Done()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				logx.Logger().Info("scene changed, reloading", "path", abs)
				v.Post(func() {
					v.Load(context.Background(), loader.File(abs))
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logx.Logger().Warn("watch error", "path", abs, "err", err)
			}
		}
	}()
	return nil
}

func (v *Viewer) closeWatcher() {
	if v.watcher == nil {
		return
	}
	v.watcher.Close()
	v.watchWG.Wait()
	v.watcher = nil
}
