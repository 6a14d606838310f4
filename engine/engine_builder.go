package engine

import (
	"time"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/camera"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/model"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/profiler"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/window"
	"github.com/charmbracelet/log"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithWindow attaches the window frames are presented into. Without one the engine runs headless and the
// renderer must have been given a device.
//
// Parameters:
//   - w: an open Window
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithRenderer sets the renderer the engine initializes and drives.
//
// Parameters:
//   - r: an uninitialized Renderer
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderer(r renderer.Renderer) EngineBuilderOption {
	return func(e *engine) {
		e.renderer = r
	}
}

// WithCollection sets the geometry to render.
func WithCollection(c model.Collection) EngineBuilderOption {
	return func(e *engine) {
		e.collection = c
	}
}

// WithCamera sets the camera written into the camera block.
func WithCamera(c camera.Camera) EngineBuilderOption {
	return func(e *engine) {
		e.camera = c
	}
}

// WithProfiler reports every rendered frame's stats to p.
//
// Parameters:
//   - p: the profiler, or nil to disable profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiler(p *profiler.Profiler) EngineBuilderOption {
	return func(e *engine) {
		e.profiler = p
	}
}

// WithTickRate sets the fixed tick rate in ticks per second.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - hz: target ticks per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(hz float64) EngineBuilderOption {
	return func(e *engine) {
		if hz <= 0 {
			hz = 60
		}
		e.tickRate = time.Duration(float64(time.Second) / hz)
	}
}

// WithFrameLimit stops the loop after n iterations. Zero runs until the window closes or Quit is called.
func WithFrameLimit(n int) EngineBuilderOption {
	return func(e *engine) {
		e.frameLimit = n
	}
}

// WithShaderWatcher rebuilds the renderer whenever the watcher reports a changed program file.
// The engine runs the watcher for the lifetime of Run.
//
// Parameters:
//   - w: a watcher over the program paths
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithShaderWatcher(w *shader.Watcher) EngineBuilderOption {
	return func(e *engine) {
		e.watcher = w
	}
}

// WithTexture uploads a decoded texture to the fragment program slot of the same name once the renderer
// is initialized.
//
// Parameters:
//   - name: the reflected texture name
//   - staging: the decoded pixels
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTexture(name string, staging common.TextureStagingData) EngineBuilderOption {
	return func(e *engine) {
		if e.textures == nil {
			e.textures = make(map[string]common.TextureStagingData)
		}
		e.textures[name] = staging
	}
}

// WithLight sets the initial light.
func WithLight(l Light) EngineBuilderOption {
	return func(e *engine) {
		e.light = l
	}
}

// WithLogger sets the logger for engine events.
func WithLogger(logger *log.Logger) EngineBuilderOption {
	return func(e *engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}
