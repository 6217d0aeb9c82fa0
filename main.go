package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/veandco/go-sdl2/sdl"

	"splat-viewer/internal/config"
	"splat-viewer/internal/gpu"
	"splat-viewer/internal/loader"
	"splat-viewer/internal/logx"
	"splat-viewer/internal/render"
	"splat-viewer/internal/viewer"
)

func init() {
	// This is needed to arrange that main() runs on the main thread.
	// OpenGL and SDL2 require this.
	runtime.LockOSThread()
}

const defaultConfigPath = "splat-viewer.toml"

// options holds the command line. set records which flags were given so
// that only those override the config file.
type options struct {
	configPath string
	scene      string
	width      int
	height     int
	httpAddr   string
	staticDir  string
	watch      bool
	snapshot   string
	export     string
	verbose    bool

	set map[string]bool
}

func parseOptions(args []string, output io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("splat-viewer", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&o.configPath, "config", defaultConfigPath, "TOML configuration file")
	fs.StringVar(&o.scene, "scene", "", "Scene to load: .ply, .gltf or .glb path, or http(s) URL")
	fs.IntVar(&o.width, "width", 0, "Window width (overrides config)")
	fs.IntVar(&o.height, "height", 0, "Window height (overrides config)")
	fs.StringVar(&o.httpAddr, "http", "", "HTTP server address for frame streaming, e.g. :8080")
	fs.StringVar(&o.staticDir, "static", "", "Static files directory served over HTTP")
	fs.BoolVar(&o.watch, "watch", false, "Reload the scene file when it changes")
	fs.StringVar(&o.snapshot, "snapshot", "", "Render the scene to this PNG without opening a window")
	fs.StringVar(&o.export, "export", "", "Convert the scene to this .glb file and exit")
	fs.BoolVar(&o.verbose, "v", false, "Debug logging")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// loadConfig reads the config file and applies flag overrides. The default
// config path may be absent.
func loadConfig(o options) (config.Config, error) {
	cfg, err := config.Load(o.configPath, !o.set["config"])
	if err != nil {
		return cfg, err
	}
	if o.set["width"] {
		cfg.Window.Width = o.width
	}
	if o.set["height"] {
		cfg.Window.Height = o.height
	}
	if o.set["http"] {
		cfg.Server.Addr = o.httpAddr
	}
	if o.set["static"] {
		cfg.Server.StaticDir = o.staticDir
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := newLogger(os.Stderr, opts.verbose)
	slog.SetDefault(logger)
	logx.SetLogger(logger)

	cfg, err := loadConfig(opts)
	if err != nil {
		fatal("Failed to load configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case opts.export != "":
		err = exportScene(ctx, opts.scene, opts.export)
	case opts.snapshot != "":
		err = snapshot(ctx, cfg, opts.scene, opts.snapshot)
	default:
		err = run(ctx, cfg, opts)
	}
	if err != nil {
		fatal("splat-viewer failed", err)
	}
}

func fatal(msg string, err error) {
	logx.Logger().Error(msg, "err", err)
	os.Exit(1)
}

// run opens the window and drives the viewer until the window closes or
// ctx is canceled.
func run(ctx context.Context, cfg config.Config, opts options) error {
	// Initialize SDL2 with OpenGL
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return fmt.Errorf("initialize SDL2: %w", err)
	}
	defer sdl.Quit()

	sdl.GLSetAttribute(sdl.GL_CONTEXT_MAJOR_VERSION, 4)
	sdl.GLSetAttribute(sdl.GL_CONTEXT_MINOR_VERSION, 1)
	sdl.GLSetAttribute(sdl.GL_CONTEXT_PROFILE_MASK, sdl.GL_CONTEXT_PROFILE_CORE)
	sdl.GLSetAttribute(sdl.GL_DOUBLEBUFFER, 1)

	window, err := sdl.CreateWindow(cfg.Window.Title,
		sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.Window.Width), int32(cfg.Window.Height),
		sdl.WINDOW_SHOWN|sdl.WINDOW_OPENGL|sdl.WINDOW_RESIZABLE|sdl.WINDOW_ALLOW_HIGHDPI)
	if err != nil {
		return fmt.Errorf("create SDL2 window: %w", err)
	}
	defer window.Destroy()

	glContext, err := window.GLCreateContext()
	if err != nil {
		return fmt.Errorf("create OpenGL context: %w", err)
	}
	defer sdl.GLDeleteContext(glContext)

	dev, err := gpu.NewGL()
	if err != nil {
		return err
	}
	glVersion, glslVersion := dev.Version()
	log := logx.Logger()
	log.Info("OpenGL ready", "version", glVersion, "glsl", glslVersion)

	r, err := render.New(dev)
	if err != nil {
		return err
	}
	v := viewer.New(r, cfg)
	defer v.Dispose()

	dw, dh := window.GLGetDrawableSize()
	v.Resize(int(dw), int(dh))
	v.OnLoad(func(res loader.Result) {
		if res.Err == nil {
			window.SetTitle(fmt.Sprintf("%s - %s", cfg.Window.Title, res.Source))
		}
	})
	v.Start()

	if opts.scene != "" {
		src := loader.Parse(opts.scene)
		if err := v.LoadSync(ctx, src); err != nil {
			log.Error("Failed to load scene", "scene", opts.scene, "err", err)
		}
		if opts.watch {
			if strings.HasPrefix(opts.scene, "http://") || strings.HasPrefix(opts.scene, "https://") {
				log.Warn("-watch ignored for URL scenes", "scene", opts.scene)
			} else if err := v.Watch(opts.scene); err != nil {
				log.Warn("Failed to watch scene", "err", err)
			}
		}
	}

	var httpServer *HTTPServer
	if cfg.Server.Addr != "" {
		httpServer = NewHTTPServer(cfg.Server.Addr, cfg.Server.StaticDir, remoteInput{v: v})
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("start HTTP server: %w", err)
		}
		defer httpServer.Stop()
	}

	// Render loop ticker (approx 60 FPS).
	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()

	log.Info("Starting render loop. Press Ctrl+C to exit.")

	touches := newTouchTracker()
	frameCount := 0
	lastLog := time.Now()

	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			if handleEvent(v, window, touches, event) {
				log.Info("Window closed, shutting down...")
				return nil
			}
		}

		select {
		case <-ctx.Done():
			log.Info("Shutting down...")
			return nil
		case <-ticker.C:
			v.Frame()

			if httpServer != nil && httpServer.WebSocketClientCount() > 0 {
				img := r.ReadPixels()
				httpServer.BroadcastFrame(img.Pix, img.Rect.Dx(), img.Rect.Dy(), img.Stride)
			}
			window.GLSwap()

			frameCount++
			if time.Since(lastLog) >= 5*time.Second {
				clients := 0
				if httpServer != nil {
					clients = httpServer.WebSocketClientCount()
				}
				splats := 0
				if set := v.Set(); set != nil {
					splats = set.Count
				}
				log.Debug("render stats", "frames", frameCount, "splats", splats,
					"sorts", v.Sorts(), "websocket_clients", clients)
				frameCount = 0
				lastLog = time.Now()
			}
		}
	}
}

// handleEvent maps one SDL event onto the viewer. It reports whether the
// program should quit.
func handleEvent(v *viewer.Viewer, window *sdl.Window, touches *touchTracker, event sdl.Event) bool {
	c := v.Controller()
	switch e := event.(type) {
	case *sdl.QuitEvent:
		return true

	case *sdl.MouseMotionEvent:
		if e.Which == uint32(sdl.TOUCH_MOUSEID) {
			break
		}
		c.PointerMove(float32(e.X), float32(e.Y))

	case *sdl.MouseButtonEvent:
		if e.Which == uint32(sdl.TOUCH_MOUSEID) || e.Button != sdl.BUTTON_LEFT {
			break
		}
		if e.Type == sdl.MOUSEBUTTONDOWN {
			c.PointerDown(float32(e.X), float32(e.Y))
		} else {
			c.PointerUp()
		}

	case *sdl.MouseWheelEvent:
		// SDL reports positive Y when scrolling away from the user.
		c.Wheel(float32(-e.Y) * wheelNotch)

	case *sdl.TouchFingerEvent:
		w, h := window.GetSize()
		p := mgl32.Vec2{e.X * float32(w), e.Y * float32(h)}
		switch e.Type {
		case sdl.FINGERDOWN, sdl.FINGERMOTION:
			c.Touch(touches.move(int64(e.FingerID), p))
		case sdl.FINGERUP:
			if rest := touches.lift(int64(e.FingerID)); len(rest) > 0 {
				c.Touch(rest)
			} else {
				c.TouchEnd()
			}
		}

	case *sdl.WindowEvent:
		if e.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
			dw, dh := window.GLGetDrawableSize()
			v.Resize(int(dw), int(dh))
		}

	case *sdl.DropEvent:
		if e.Type == sdl.DROPFILE {
			if err := v.Load(context.Background(), loader.File(e.File)); err != nil {
				logx.Logger().Warn("Failed to load dropped file", "path", e.File, "err", err)
			}
		}

	case *sdl.KeyboardEvent:
		if e.Type != sdl.KEYDOWN || e.Repeat != 0 {
			break
		}
		switch e.Keysym.Sym {
		case sdl.K_ESCAPE:
			return true
		case sdl.K_r:
			c.Reset()
		case sdl.K_EQUALS, sdl.K_KP_PLUS:
			c.Wheel(-wheelNotch)
		case sdl.K_MINUS, sdl.K_KP_MINUS:
			c.Wheel(wheelNotch)
		}
	}
	return false
}
