package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/camera"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/model"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/profiler"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/cbuffer"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/window"
	"github.com/charmbracelet/log"
)

// Names of the uniform blocks the engine writes every frame.
const (
	CameraBlock = "camera"
	LightBlock  = "light"
)

// maxTicksPerFrame bounds how many fixed ticks one frame may catch up on.
const maxTicksPerFrame = 5

var cameraVariables = [...]string{"viewProj", "eye", "time"}

// Light is the directional light written into the fragment program's light block.
type Light struct {
	Direction [3]float32
	Ambient   float32
	Color     [4]float32
}

// DefaultLight is a white light shining down at an angle.
var DefaultLight = Light{
	Direction: [3]float32{-0.4, -1, -0.3},
	Ambient:   0.25,
	Color:     [4]float32{1, 1, 1, 1},
}

// engine implements the Engine interface.
// It owns the frame loop: input, fixed ticks, camera upload, clear, render, present.
type engine struct {
	logger *log.Logger

	window     window.Window
	surface    renderer.Surface
	renderer   renderer.Renderer
	collection model.Collection
	camera     camera.Camera
	profiler   *profiler.Profiler
	watcher    *shader.Watcher
	light      Light
	textures   map[string]common.TextureStagingData

	tickRate     time.Duration
	tickCallback func(deltaTime float32)
	frameLimit   int

	quit     chan struct{}
	quitOnce sync.Once

	changes       <-chan string
	cameraHandles map[string]cbuffer.VariableHandle
	stale         bool

	start  time.Time
	last   time.Time
	lag    time.Duration
	frames int
}

// Engine drives a renderer over a collection, one frame per loop iteration.
type Engine interface {
	// Window returns the window frames are presented into, or nil when running headless.
	Window() window.Window

	// Renderer returns the renderer the engine drives.
	Renderer() renderer.Renderer

	// Collection returns the geometry the engine renders.
	Collection() model.Collection

	// Camera returns the camera whose matrices are written into the camera block.
	Camera() camera.Camera

	// SetTickRate sets the fixed tick rate in ticks per second.
	//
	// Parameters:
	//   - hz: target ticks per second (defaults to 60 if <= 0)
	SetTickRate(hz float64)

	// SetTickCallback registers the function called each fixed tick, on the frame loop's goroutine.
	// Use it to move instances and update bone palettes.
	//
	// Parameters:
	//   - callback: function receiving the tick length in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetLight replaces the light written into the fragment program's light block.
	//
	// Parameters:
	//   - light: the new light
	//
	// Returns:
	//   - error: an error if the renderer rejects the write
	SetLight(light Light) error

	// Run initializes the renderer and runs the frame loop until the window closes, the frame limit is
	// reached, ctx is cancelled or Quit is called. The renderer is shut down before Run returns.
	// When a window is attached Run must be called from the goroutine that created it.
	//
	// Parameters:
	//   - ctx: cancels the loop and the shader watcher
	//
	// Returns:
	//   - error: an initialization error; per-frame failures are logged and the loop continues
	Run(ctx context.Context) error

	// Quit stops the frame loop. Safe to call multiple times and from any goroutine.
	Quit()

	// Frames returns the number of loop iterations run. Read it after Run returns.
	Frames() int
}

var _ Engine = &engine{}

// NewEngine creates a new Engine with the provided options. A renderer and a collection are required by
// Run; a camera sized to the window is created when none is given.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		logger:   log.Default(),
		light:    DefaultLight,
		tickRate: time.Second / 60,
		quit:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(e)
	}
	if e.camera == nil {
		aspect := float32(16.0 / 9.0)
		if e.window != nil && e.window.Height() > 0 {
			aspect = float32(e.window.Width()) / float32(e.window.Height())
		}
		e.camera = camera.NewCamera(camera.WithAspect(aspect))
	}
	return e
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Renderer() renderer.Renderer {
	return e.renderer
}

func (e *engine) Collection() model.Collection {
	return e.collection
}

func (e *engine) Camera() camera.Camera {
	return e.camera
}

func (e *engine) SetTickRate(hz float64) {
	if hz <= 0 {
		hz = 60
	}
	e.tickRate = time.Duration(float64(time.Second) / hz)
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engine) SetLight(light Light) error {
	e.light = light
	if e.cameraHandles == nil || e.stale {
		return nil
	}
	return e.applyLight()
}

func (e *engine) Quit() {
	e.quitOnce.Do(func() {
		close(e.quit)
	})
}

func (e *engine) Frames() int {
	return e.frames
}

func (e *engine) Run(ctx context.Context) error {
	if e.renderer == nil || e.collection == nil {
		return errors.New("engine: a renderer and a collection are required")
	}

	if e.window != nil {
		e.surface = e.window
	}
	if err := e.renderer.Initialize(e.surface, e.collection); err != nil {
		return err
	}
	defer e.renderer.Shutdown()
	e.loadTextures()
	e.bindScene()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if e.watcher != nil {
		e.changes = e.watcher.Changes()
		go e.watcher.Run(ctx)
	}

	e.start = time.Now()
	e.last = e.start
	e.logger.Info("engine running", "session", e.renderer.Session(), "headless", e.window == nil, "frame_limit", e.frameLimit)

	if e.window == nil {
		for e.step(ctx) {
		}
		return nil
	}

	e.window.SetResizeCallback(e.resize)
	e.window.SetKeyDownCallback(e.keyDown)
	e.window.SetScrollCallback(e.camera.Zoom)
	e.window.SetUpdateCallback(func() {
		if !e.step(ctx) {
			_ = e.window.Close()
		}
	})
	e.window.ProcessMessages()
	return nil
}

// step runs one loop iteration and reports whether the loop should continue.
func (e *engine) step(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-e.quit:
		return false
	case path, ok := <-e.changes:
		if !ok {
			e.changes = nil
			break
		}
		e.reload(path)
	default:
	}

	now := time.Now()
	e.lag += now.Sub(e.last)
	e.last = now
	ticks := 0
	for e.lag >= e.tickRate && ticks < maxTicksPerFrame {
		if e.tickCallback != nil {
			e.tickCallback(float32(e.tickRate.Seconds()))
		}
		e.lag -= e.tickRate
		ticks++
	}
	if ticks == maxTicksPerFrame {
		e.lag = 0
	}

	if err := e.frame(now); err != nil {
		e.logger.Error("frame failed", "frame", e.frames, "err", err)
	}
	e.frames++
	return e.frameLimit <= 0 || e.frames < e.frameLimit
}

func (e *engine) frame(now time.Time) error {
	if e.stale {
		return nil
	}
	e.updateCamera(now)

	if err := e.renderer.ClearFrame(); err != nil {
		return err
	}
	// The frame was begun; present it even if rendering aborted so the next clear starts fresh.
	renderErr := e.renderer.RenderFrame(e.collection)
	if err := e.renderer.Present(); err != nil {
		return errors.Join(renderErr, err)
	}
	if e.profiler != nil {
		e.profiler.Tick(e.renderer.Stats())
	}
	return renderErr
}

func (e *engine) updateCamera(now time.Time) {
	viewProj := e.camera.ViewProjection()
	eye := e.camera.Eye()
	e.setCamera("viewProj", viewProj.Bytes())
	e.setCamera("eye", common.Float32Bytes(eye[:]...))
	e.setCamera("time", common.Float32Bytes(float32(now.Sub(e.start).Seconds())))
}

func (e *engine) setCamera(name string, data []byte) {
	h, ok := e.cameraHandles[name]
	if !ok {
		return
	}
	if err := e.renderer.SetVariableHandle(h, data); err != nil {
		e.logger.Debug("camera write skipped", "variable", name, "err", err)
	}
}

// bindScene resolves the camera variables and writes the light. Programs that do not declare them are
// logged once and rendered without them.
func (e *engine) bindScene() {
	e.cameraHandles = make(map[string]cbuffer.VariableHandle, len(cameraVariables))
	for _, name := range cameraVariables {
		h, err := e.renderer.Resolve(shader.StageVertex, CameraBlock, name)
		if err != nil {
			e.logger.Warn("camera variable not declared", "variable", name, "err", err)
			continue
		}
		e.cameraHandles[name] = h
	}
	if err := e.applyLight(); err != nil {
		e.logger.Warn("light not fully applied", "err", err)
	}
}

func (e *engine) loadTextures() {
	for name, staging := range e.textures {
		if err := e.renderer.LoadTexture(name, staging); err != nil {
			e.logger.Error("texture upload failed", "name", name, "err", err)
		}
	}
}

func (e *engine) applyLight() error {
	l := e.light
	return errors.Join(
		e.renderer.SetVariable(shader.StageFragment, LightBlock, "direction", common.Float32Bytes(l.Direction[:]...)),
		e.renderer.SetVariable(shader.StageFragment, LightBlock, "ambient", common.Float32Bytes(l.Ambient)),
		e.renderer.SetVariable(shader.StageFragment, LightBlock, "color", common.Float32Bytes(l.Color[:]...)),
	)
}

// reload rebuilds the renderer after a program change. A failed rebuild leaves the renderer uninitialized
// and the engine idle; the next change initializes it again.
func (e *engine) reload(trigger string) {
	e.logger.Info("reloading shaders", "trigger", trigger)
	var err error
	if e.stale {
		err = e.renderer.Initialize(e.surface, e.collection)
	} else {
		err = e.renderer.Reload(e.collection)
	}
	if err != nil {
		e.stale = true
		e.logger.Error("shader reload failed; waiting for the next change", "err", err)
		return
	}
	// Reload restores textures itself; a fresh Initialize does not.
	if e.stale {
		e.loadTextures()
	}
	e.stale = false
	e.bindScene()
}

func (e *engine) resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	if err := e.renderer.Resize(width, height); err != nil {
		e.logger.Error("resize failed", "width", width, "height", height, "err", err)
		return
	}
	e.camera.SetAspect(float32(width) / float32(height))
}

func (e *engine) keyDown(key uint32) {
	switch key {
	case common.KeyLeft, common.KeyA:
		e.camera.Orbit(-1, 0)
	case common.KeyRight, common.KeyD:
		e.camera.Orbit(1, 0)
	case common.KeyUp, common.KeyW:
		e.camera.Orbit(0, 1)
	case common.KeyDown, common.KeyS:
		e.camera.Orbit(0, -1)
	case common.KeyR:
		e.reload("keyboard")
	}
}
