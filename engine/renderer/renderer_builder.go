package renderer

import (
	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/model"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/instance"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
	"github.com/charmbracelet/log"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithDevice supplies the render device instead of letting Initialize create one from the surface.
// The renderer does not close a supplied device.
//
// Parameters:
//   - dev: the device to render with
//
// Returns:
//   - RendererBuilderOption: a function that applies the device option to a renderer
func WithDevice(dev device.Device) RendererBuilderOption {
	return func(r *renderer) {
		r.device = dev
		r.ownsDevice = false
	}
}

// WithBackend selects the device implementation Initialize creates.
func WithBackend(backendType BackendType) RendererBuilderOption {
	return func(r *renderer) {
		r.backendType = backendType
	}
}

// WithPresentMode sets the surface present mode which controls how frames are delivered to the display.
//
// Parameters:
//   - mode: the PresentMode to use (VSync or Uncapped)
//
// Returns:
//   - RendererBuilderOption: a function that applies the present mode option to a renderer
func WithPresentMode(mode PresentMode) RendererBuilderOption {
	return func(r *renderer) {
		r.presentMode = mode
	}
}

// WithMSAA sets the multisample anti-aliasing sample count of the render target.
//
// Parameters:
//   - count: the MSAASampleCount to use (MSAAOff or MSAA4x)
//
// Returns:
//   - RendererBuilderOption: a function that applies the MSAA option to a renderer
func WithMSAA(count MSAASampleCount) RendererBuilderOption {
	return func(r *renderer) {
		r.msaa = count
	}
}

// WithForceSoftwareRenderer forces WGPU to use a CPU/software fallback adapter instead of
// hardware GPU acceleration. This requires a software Vulkan ICD to be installed on the system
// (e.g. SwiftShader or lavapipe).
//
// Parameters:
//   - force: true to force the software fallback adapter, false to use hardware (default)
//
// Returns:
//   - RendererBuilderOption: a function that applies the force software renderer option to a renderer
func WithForceSoftwareRenderer(force bool) RendererBuilderOption {
	return func(r *renderer) {
		r.forceFallbackAdapter = force
	}
}

// WithLogger sets the logger the renderer and its components write to. The renderer tags it with its session id.
func WithLogger(logger *log.Logger) RendererBuilderOption {
	return func(r *renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCategories replaces the ordered category list drawn each frame.
//
// Parameters:
//   - categories: the categories in draw order
//
// Returns:
//   - RendererBuilderOption: a function that applies the categories option to a renderer
func WithCategories(categories ...model.Category) RendererBuilderOption {
	return func(r *renderer) {
		r.categories = append([]model.Category(nil), categories...)
	}
}

// WithPrograms supplies already reflected programs. A nil program falls back to its path or the built-in source.
//
// Parameters:
//   - staticVertex: the vertex program of the static format
//   - dynamicVertex: the vertex program of the dynamic format
//   - fragment: the fragment program shared by both formats
//
// Returns:
//   - RendererBuilderOption: a function that applies the programs option to a renderer
func WithPrograms(staticVertex, dynamicVertex, fragment shader.Program) RendererBuilderOption {
	return func(r *renderer) {
		r.supplied = [programRoleCount]shader.Program{staticVertex, dynamicVertex, fragment}
	}
}

// WithProgramPaths loads the programs from .wgsl or .spv files. Reload reads them again.
func WithProgramPaths(paths ProgramPaths) RendererBuilderOption {
	return func(r *renderer) {
		r.paths = paths
	}
}

// WithEmptyBlockPadding gives uniform blocks without variables a 16 byte size so they can be registered.
func WithEmptyBlockPadding(pad bool) RendererBuilderOption {
	return func(r *renderer) {
		r.padEmptyBlocks = pad
	}
}

// WithResourceNames overrides the reflected names of the instance buffer and the bone palette.
//
// Parameters:
//   - instances: the storage buffer holding per-instance records
//   - bones: the texture holding the bone palette
//
// Returns:
//   - RendererBuilderOption: a function that applies the resource name option to a renderer
func WithResourceNames(instances, bones string) RendererBuilderOption {
	return func(r *renderer) {
		if instances != "" {
			r.instanceResource = instances
		}
		if bones != "" {
			r.boneResource = bones
		}
	}
}

// WithClearColor sets the color ClearFrame fills the render target with.
func WithClearColor(color [4]float32) RendererBuilderOption {
	return func(r *renderer) {
		r.clearColor = color
	}
}

// WithSampler sets the filtering and addressing of the sampler a created device binds beside every texture.
// Zero-valued fields fall back to linear filtering and repeat addressing.
func WithSampler(sampler common.SamplerStagingData) RendererBuilderOption {
	return func(r *renderer) {
		r.sampler = sampler
	}
}

// WithRasterState sets the depth and culling state of both pipelines.
func WithRasterState(state device.RasterState) RendererBuilderOption {
	return func(r *renderer) {
		r.raster = state
	}
}

// WithMaxInstances sets the instance buffer capacity.
func WithMaxInstances(n int) RendererBuilderOption {
	return func(r *renderer) {
		r.uploaderOptions = append(r.uploaderOptions, instance.WithMaxInstances(n))
	}
}

// WithMaxBones sets the bone palette capacity in matrices.
func WithMaxBones(n int) RendererBuilderOption {
	return func(r *renderer) {
		r.uploaderOptions = append(r.uploaderOptions, instance.WithMaxBones(n))
	}
}

// WithEncodeWorkers sets the number of workers encoding large instance uploads.
func WithEncodeWorkers(n int) RendererBuilderOption {
	return func(r *renderer) {
		r.uploaderOptions = append(r.uploaderOptions, instance.WithEncodeWorkers(n))
	}
}

// WithParallelThreshold sets the smallest instance upload encoded on the worker pool.
func WithParallelThreshold(n int) RendererBuilderOption {
	return func(r *renderer) {
		r.uploaderOptions = append(r.uploaderOptions, instance.WithParallelThreshold(n))
	}
}
