package pipeline

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/model"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/device"
	"github.com/charmbracelet/log"
)

// FormatState is the geometry state of one format: the vertex program and its input layout, the shared
// fragment program, and the vertex and index buffers holding every mesh of the format.
// The switcher does not own these handles; whoever created them releases them.
type FormatState struct {
	VertexShader   device.Handle
	FragmentShader device.Handle
	InputLayout    device.Handle
	VertexBuffer   device.Handle
	VertexStride   uint32
	IndexBuffer    device.Handle
}

// switcher is the implementation of the Switcher interface.
type switcher struct {
	mu     *sync.Mutex
	device device.Device
	logger *log.Logger

	states map[model.Format]FormatState
	raster device.RasterState

	current model.Format
	active  bool
}

// Switcher binds the complete geometry state of one format at a time. Exactly one format is active after a
// successful Activate; draws issued afterwards use that format's shader, input layout, vertex stride and
// buffers until the next Activate.
type Switcher interface {
	// Activate binds the input layout, vertex shader, vertex buffer with its stride and index buffer of format.
	// The state is always rebound, even if format is already current.
	//
	// Parameters:
	//   - format: the format to activate
	//
	// Returns:
	//   - error: an error if the format has no state, or a *common.DeviceError if the device rejects it
	Activate(format model.Format) error

	// Current reports the active format.
	//
	// Returns:
	//   - model.Format: the active format
	//   - bool: false before the first successful Activate or after a failed one
	Current() (model.Format, bool)

	// State returns the geometry state configured for a format.
	State(format model.Format) (FormatState, bool)

	// SetState replaces the geometry state of a format, for example after its buffers were rebuilt.
	// If the format is active it is deactivated; the next Activate binds the new state.
	SetState(format model.Format, state FormatState)
}

var _ Switcher = &switcher{}

// NewSwitcher creates a Switcher for the formats configured through options.
//
// Parameters:
//   - dev: the render device
//   - options: variadic list of SwitcherBuilderOption functions
//
// Returns:
//   - Switcher: the switcher
func NewSwitcher(dev device.Device, options ...SwitcherBuilderOption) Switcher {
	s := &switcher{
		mu:     &sync.Mutex{},
		device: dev,
		logger: log.Default(),
		states: make(map[model.Format]FormatState),
		raster: device.DefaultRasterState,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *switcher) Activate(format model.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[format]
	if !ok {
		return fmt.Errorf("pipeline: no geometry state for the %s format", format)
	}

	s.active = false
	if err := s.device.SetPipeline(device.PipelineState{
		Label:          format.String(),
		VertexShader:   state.VertexShader,
		FragmentShader: state.FragmentShader,
		InputLayout:    state.InputLayout,
		VertexBuffer:   state.VertexBuffer,
		VertexStride:   state.VertexStride,
		IndexBuffer:    state.IndexBuffer,
		Raster:         s.raster,
	}); err != nil {
		return &common.DeviceError{Op: "activate " + format.String() + " pipeline", Err: err}
	}

	s.current, s.active = format, true
	s.logger.Debug("pipeline activated", "format", format, "stride", state.VertexStride)
	return nil
}

func (s *switcher) Current() (model.Format, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.active
}

func (s *switcher) State(format model.Format) (FormatState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[format]
	return state, ok
}

func (s *switcher) SetState(format model.Format, state FormatState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[format] = state
	if s.active && s.current == format {
		s.active = false
	}
}
