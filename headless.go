package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"

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

var errNoScene = errors.New("no scene given, use -scene")

// loadScene decodes the scene at loc without a window.
func loadScene(ctx context.Context, loc string) (*splat.Set, error) {
	if loc == "" {
		return nil, errNoScene
	}
	l := loader.New()
	defer l.Close()
	res := <-l.Load(ctx, loader.Parse(loc))
	if res.Err != nil {
		return nil, res.Err
	}
	logx.Logger().Info("scene loaded", "source", res.Source, "splats", res.Set.Count, "elapsed", res.Elapsed)
	return res.Set, nil
}

// exportScene converts the scene at loc to a binary glTF file.
func exportScene(ctx context.Context, loc, out string) error {
	set, err := loadScene(ctx, loc)
	if err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := splat.EncodeGLB(f, set); err != nil {
		f.Close()
		return fmt.Errorf("export %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export %s: %w", out, err)
	}
	logx.Logger().Info("scene exported", "path", out, "splats", set.Count)
	return nil
}

// snapshotCamera frames set the way the viewer does after a load.
func snapshotCamera(cfg config.Config, set *splat.Set) render.Camera {
	ctrl := camera.New(cfg.Camera)
	ctrl.SetTarget(set.Centroid)
	ctrl.SetDistance(camera.ResetDistance)

	w, h := cfg.Window.Width, cfg.Window.Height
	fov := mgl32.DegToRad(cfg.Camera.FOV)
	f := geom.Focal(fov, h)
	return render.Camera{
		View:       ctrl.View(),
		Projection: geom.Perspective(fov, float32(w)/float32(h), cfg.Camera.Near, cfg.Camera.Far),
		Focal:      mgl32.Vec2{f, f},
		Viewport:   mgl32.Vec2{float32(w), float32(h)},
	}
}

// renderSnapshot sorts set for the initial camera and rasterizes it on the
// CPU.
func renderSnapshot(cfg config.Config, set *splat.Set) (*image.RGBA, error) {
	cam := snapshotCamera(cfg, set)
	perm := make(splat.Permutation, set.Count)
	if _, err := sorter.Sort(perm, set.Positions, set.Count, cam.View, nil); err != nil {
		return nil, err
	}
	sw := render.NewSoftware()
	sw.Background = mgl32.Vec4(cfg.Window.Background)
	return sw.Render(set, perm, cam), nil
}

// snapshot renders the scene at loc to a PNG file.
func snapshot(ctx context.Context, cfg config.Config, loc, out string) error {
	set, err := loadScene(ctx, loc)
	if err != nil {
		return err
	}
	img, err := renderSnapshot(cfg, set)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("snapshot %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("snapshot %s: %w", out, err)
	}
	logx.Logger().Info("snapshot written", "path", out, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	return nil
}
