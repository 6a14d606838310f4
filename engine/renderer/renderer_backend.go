package renderer

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/device"
	"github.com/charmbracelet/log"
)

// BackendType identifies the device implementation the Renderer creates when none is supplied.
type BackendType int

const (
	// BackendTypeWGPU selects the WebGPU device.
	BackendTypeWGPU BackendType = iota
)

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the monitor's refresh rate. Eliminates tearing.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	// May cause screen tearing but provides the lowest latency.
	PresentModeUncapped
)

// ParsePresentMode converts a configuration string ("vsync" or "uncapped") to a PresentMode.
func ParsePresentMode(s string) (PresentMode, error) {
	switch s {
	case "vsync", "":
		return PresentModeVSync, nil
	case "uncapped":
		return PresentModeUncapped, nil
	}
	return PresentModeVSync, fmt.Errorf("renderer: unknown present mode %q", s)
}

// MSAASampleCount controls the number of samples used for multisample anti-aliasing (MSAA).
// WebGPU guarantees support for 1 (off) and 4.
type MSAASampleCount uint32

const (
	// MSAAOff disables multisample anti-aliasing (sample count 1). This is the default.
	MSAAOff MSAASampleCount = 1

	// MSAA4x enables 4× multisample anti-aliasing.
	MSAA4x MSAASampleCount = 4
)

// deviceConfig carries the builder settings a backend needs to create its device.
type deviceConfig struct {
	presentMode          PresentMode
	msaa                 MSAASampleCount
	forceFallbackAdapter bool
	clearColor           [4]float32
	sampler              common.SamplerStagingData
	logger               *log.Logger
}

// newDevice creates the device of the selected backend for a surface.
func newDevice(backendType BackendType, surface Surface, cfg deviceConfig) (device.Device, error) {
	switch backendType {
	case BackendTypeWGPU:
		return newWGPUDevice(surface, cfg)
	}
	return nil, fmt.Errorf("renderer: unsupported backend type %d", backendType)
}
