package pipeline

import (
	"github.com/Carmen-Shannon/oxy-rendercore/engine/model"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/device"
	"github.com/charmbracelet/log"
)

// SwitcherBuilderOption is a functional option applied to a switcher during construction via NewSwitcher.
type SwitcherBuilderOption func(*switcher)

// WithFormat sets the geometry state bound when format is activated.
//
// Parameters:
//   - format: the geometry format
//   - state: the handles and stride of the format
//
// Returns:
//   - SwitcherBuilderOption: a function that applies the format option to a switcher
func WithFormat(format model.Format, state FormatState) SwitcherBuilderOption {
	return func(s *switcher) {
		s.states[format] = state
	}
}

// WithDepthTest sets whether the pipelines test against and write to the depth buffer.
//
// Parameters:
//   - test: true to enable depth testing
//   - write: true to enable depth writes
//
// Returns:
//   - SwitcherBuilderOption: a function that applies the depth option to a switcher
func WithDepthTest(test, write bool) SwitcherBuilderOption {
	return func(s *switcher) {
		s.raster.DepthTest = test
		s.raster.DepthWrite = write
	}
}

// WithCullMode sets which faces the pipelines discard.
//
// Parameters:
//   - mode: the cull mode
//
// Returns:
//   - SwitcherBuilderOption: a function that applies the cull mode option to a switcher
func WithCullMode(mode device.CullMode) SwitcherBuilderOption {
	return func(s *switcher) {
		s.raster.CullMode = mode
	}
}

// WithLogger sets the logger used for switch diagnostics.
func WithLogger(logger *log.Logger) SwitcherBuilderOption {
	return func(s *switcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}
