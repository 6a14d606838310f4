package renderer

import (
	_ "embed"
	"fmt"

	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

//go:embed assets/static.vert.wgsl
var staticVertexWGSL string

//go:embed assets/dynamic.vert.wgsl
var dynamicVertexWGSL string

//go:embed assets/shared.frag.wgsl
var sharedFragmentWGSL string

// Default reflected names of the resources the renderer binds by itself.
const (
	DefaultInstanceResource = "instances"
	DefaultBoneResource     = "bones"
)

// DefaultClearColor is the color ClearFrame fills the render target with unless configured otherwise.
var DefaultClearColor = [4]float32{0.2, 0.2, 0.2, 1}

// FrameState is the position of the orchestrator within the per-frame sequence.
type FrameState int

const (
	FrameIdle FrameState = iota
	FrameBuffersFlushed
	FrameStaticPass
	FrameDynamicPass
	FrameComplete
)

func (s FrameState) String() string {
	switch s {
	case FrameIdle:
		return "idle"
	case FrameBuffersFlushed:
		return "buffers-flushed"
	case FrameStaticPass:
		return "static-pass"
	case FrameDynamicPass:
		return "dynamic-pass"
	case FrameComplete:
		return "frame-complete"
	}
	return fmt.Sprintf("FrameState(%d)", int(s))
}

// FrameStats counts the device work issued by the last RenderFrame call.
type FrameStats struct {
	ConstantUploads int
	InstanceUploads int
	BoneUploads     int
	Activations     int
	Draws           int
	Instances       int
}

// Surface is the window collaborator the WebGPU device renders into.
type Surface interface {
	Width() int
	Height() int
	SurfaceDescriptor() *wgpu.SurfaceDescriptor
}

// ProgramPaths locates the three shader programs on disk. An empty path selects the built-in program.
type ProgramPaths struct {
	StaticVertex  string
	DynamicVertex string
	Fragment      string
}

// programRole indexes the renderer's three programs.
type programRole int

const (
	roleStaticVertex programRole = iota
	roleDynamicVertex
	roleFragment
	programRoleCount
)

func (r programRole) key() string {
	switch r {
	case roleStaticVertex:
		return "static.vert"
	case roleDynamicVertex:
		return "dynamic.vert"
	default:
		return "shared.frag"
	}
}

func (r programRole) stage() shader.Stage {
	if r == roleFragment {
		return shader.StageFragment
	}
	return shader.StageVertex
}

func (r programRole) builtin() string {
	switch r {
	case roleStaticVertex:
		return staticVertexWGSL
	case roleDynamicVertex:
		return dynamicVertexWGSL
	default:
		return sharedFragmentWGSL
	}
}

func (p ProgramPaths) path(role programRole) string {
	switch role {
	case roleStaticVertex:
		return p.StaticVertex
	case roleDynamicVertex:
		return p.DynamicVertex
	default:
		return p.Fragment
	}
}
