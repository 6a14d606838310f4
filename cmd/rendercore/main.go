// Command rendercore renders the demo scene: terrain tiles, static props and skinned NPCs, drawn through
// the static and dynamic pipelines. With -headless it renders into a recording device instead of a window.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/camera"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/config"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/model"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/profiler"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/window"
	"github.com/charmbracelet/log"
)

// defaultHeadlessFrames is the frame count of a headless run without -frames.
const defaultHeadlessFrames = 120

type options struct {
	configPath  string
	writeConfig string
	headless    bool
	frames      int
	logLevel    string
}

func main() {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config file] [-headless] [-frames n]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.StringVar(&opts.configPath, "config", "", "Path to a TOML configuration `file`; built-in defaults when empty")
	flag.StringVar(&opts.writeConfig, "write-config", "", "Write the effective configuration to `file` and exit")
	flag.BoolVar(&opts.headless, "headless", false, "Render into a recording device instead of a window")
	flag.IntVar(&opts.frames, "frames", 0, "Stop after `n` frames; 0 runs until the window closes")
	flag.StringVar(&opts.logLevel, "log-level", "", "Override the configured log `level`")
	flag.Parse()

	if len(flag.Args()) != 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.writeConfig != "" {
		return writeConfig(cfg, opts.writeConfig)
	}

	logger := common.NewLogger("rendercore", cfg.Log.Level)

	collection, err := model.DemoCollection(cfg.Scene.Terrain, cfg.Scene.Props, cfg.Scene.NPCs)
	if err != nil {
		return fmt.Errorf("build demo scene: %w", err)
	}

	rendererOptions, err := rendererOptions(cfg, logger)
	if err != nil {
		return err
	}
	engineOptions := []engine.EngineBuilderOption{
		engine.WithCollection(collection),
		engine.WithLogger(logger.WithPrefix("engine")),
		engine.WithFrameLimit(opts.frames),
		engine.WithCamera(camera.NewCamera(
			camera.WithAspect(float32(cfg.Window.Width)/float32(cfg.Window.Height)),
			camera.WithOrbit(60, 0.6, 0.5),
		)),
	}

	var rec *device.Recorder
	if opts.headless {
		if opts.frames == 0 {
			engineOptions = append(engineOptions, engine.WithFrameLimit(defaultHeadlessFrames))
		}
		rec = device.NewRecorder(
			device.WithCommandLogger(logger.WithPrefix("device")),
			device.WithSurfaceSize(cfg.Window.Width, cfg.Window.Height),
		)
		rendererOptions = append(rendererOptions, renderer.WithDevice(rec))
	} else {
		win, err := window.NewWindow(
			window.WithTitle(cfg.Window.Title),
			window.WithSize(cfg.Window.Width, cfg.Window.Height),
		)
		if err != nil {
			return err
		}
		defer win.Close()
		engineOptions = append(engineOptions, engine.WithWindow(win))
	}

	interval, _ := cfg.Scene.ProfileInterval()
	if interval > 0 {
		engineOptions = append(engineOptions, engine.WithProfiler(profiler.NewProfiler(logger, interval)))
	}

	if cfg.Scene.Texture != "" {
		staging, err := common.LoadTexture(cfg.Scene.Texture, cfg.Renderer.MaxTextureSize)
		if err != nil {
			return err
		}
		engineOptions = append(engineOptions, engine.WithTexture(cfg.Scene.TextureSlot, staging))
	}

	if cfg.Shaders.Watch {
		paths := programPaths(cfg)
		if len(paths) == 0 {
			logger.Warn("shader watching enabled but every program is built in; nothing to watch")
		} else {
			w, err := shader.NewWatcher(paths, logger.WithPrefix("watcher"))
			if err != nil {
				return err
			}
			engineOptions = append(engineOptions, engine.WithShaderWatcher(w))
		}
	}

	engineOptions = append(engineOptions, engine.WithRenderer(renderer.NewRenderer(rendererOptions...)))
	e := engine.NewEngine(engineOptions...)
	e.SetTickCallback(newSceneAnimator(collection, logger).tick)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := e.Run(ctx); err != nil {
		return err
	}

	if rec != nil {
		logger.Info("headless run finished",
			"frames", e.Frames(),
			"commands", len(rec.Commands()),
			"draws", len(rec.Draws()),
		)
	}
	return nil
}

func rendererOptions(cfg *config.Config, logger *log.Logger) ([]renderer.RendererBuilderOption, error) {
	presentMode, err := renderer.ParsePresentMode(cfg.Renderer.PresentMode)
	if err != nil {
		return nil, err
	}
	return []renderer.RendererBuilderOption{
		renderer.WithLogger(logger.WithPrefix("renderer")),
		renderer.WithCategories(cfg.ModelCategories()...),
		renderer.WithProgramPaths(renderer.ProgramPaths{
			StaticVertex:  cfg.Shaders.StaticVertex,
			DynamicVertex: cfg.Shaders.DynamicVertex,
			Fragment:      cfg.Shaders.Fragment,
		}),
		renderer.WithEmptyBlockPadding(cfg.Shaders.PadEmptyBlocks),
		renderer.WithPresentMode(presentMode),
		renderer.WithMSAA(renderer.MSAASampleCount(cfg.Renderer.MSAA)),
		renderer.WithForceSoftwareRenderer(cfg.Renderer.ForceFallbackAdapter),
		renderer.WithClearColor(cfg.Renderer.ClearColor),
		renderer.WithMaxInstances(cfg.Renderer.MaxInstances),
		renderer.WithMaxBones(cfg.Renderer.MaxBones),
		renderer.WithEncodeWorkers(cfg.Renderer.EncodeWorkers),
		renderer.WithParallelThreshold(cfg.Renderer.ParallelThreshold),
	}, nil
}

func programPaths(cfg *config.Config) []string {
	var paths []string
	for _, p := range []string{cfg.Shaders.StaticVertex, cfg.Shaders.DynamicVertex, cfg.Shaders.Fragment} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func writeConfig(cfg *config.Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := cfg.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
