// Package device defines the render device contract every renderer component talks to.
// A Device is one explicitly owned graphics context: it creates and releases resources, accepts
// synchronous buffer and texture writes, binds resources to pipeline slots and records draws.
package device

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
)

// Handle is an opaque reference to a device resource. The zero Handle is never valid.
type Handle uint64

// BufferUsage describes how a buffer is used. Values may be combined.
type BufferUsage uint32

const (
	// UsageConstant marks a uniform (constant) buffer.
	UsageConstant BufferUsage = 1 << iota

	// UsageStructured marks a read-only structured (storage) buffer.
	UsageStructured

	// UsageVertex marks a vertex buffer.
	UsageVertex

	// UsageIndex marks a 32-bit index buffer.
	UsageIndex

	// UsageDynamic marks a buffer rewritten by the CPU frequently, typically every frame.
	UsageDynamic
)

// TextureFormat is the texel format of a device texture.
type TextureFormat int

const (
	// TextureFormatRGBA8 is 8-bit sRGB RGBA, used for decoded image textures.
	TextureFormatRGBA8 TextureFormat = iota

	// TextureFormatRGBA32Float is 32-bit float RGBA, used for the bone palette.
	TextureFormatRGBA32Float
)

// BytesPerTexel returns the byte size of one texel.
func (f TextureFormat) BytesPerTexel() uint32 {
	switch f {
	case TextureFormatRGBA32Float:
		return 16
	default:
		return 4
	}
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// TextureDesc describes a 2D texture to create.
type TextureDesc struct {
	Label         string
	Width, Height uint32
	Format        TextureFormat
}

// Slot identifies where a resource is attached: the stage and position used by slot-indexed APIs, and
// the group and binding used by bind-group APIs.
type Slot struct {
	Stage   shader.Stage
	Index   int
	Group   uint32
	Binding uint32
}

func (s Slot) String() string {
	return fmt.Sprintf("%s[%d](group %d, binding %d)", s.Stage, s.Index, s.Group, s.Binding)
}

// InputLayoutDesc describes the per-vertex attributes fed to a vertex program.
type InputLayoutDesc struct {
	Label      string
	Stride     uint32
	Attributes []shader.VertexInput
}

// CullMode selects which triangle faces are discarded.
type CullMode int

const (
	CullBack CullMode = iota
	CullFront
	CullNone
)

// RasterState holds the fixed-function settings of a pipeline.
type RasterState struct {
	DepthTest  bool
	DepthWrite bool
	CullMode   CullMode
}

// DefaultRasterState is depth tested, depth written, back-face culled.
var DefaultRasterState = RasterState{DepthTest: true, DepthWrite: true, CullMode: CullBack}

// PipelineState is the complete geometry state bound by one pipeline switch.
type PipelineState struct {
	Label          string
	VertexShader   Handle
	FragmentShader Handle
	InputLayout    Handle
	VertexBuffer   Handle
	VertexStride   uint32
	IndexBuffer    Handle
	Raster         RasterState
}

// DrawArgs are the parameters of one indexed, instanced draw.
type DrawArgs struct {
	IndexCount    uint32
	InstanceCount uint32
	StartIndex    uint32
	BaseVertex    int32
	StartInstance uint32
}

// Device is the render device. Every method is synchronous and runs to completion before returning;
// buffer and texture writes behave as map, copy, unmap.
type Device interface {
	// CreateBuffer allocates a device buffer, optionally initialised with data.
	//
	// Parameters:
	//   - desc: the buffer description
	//   - initial: initial contents, or nil for a zeroed buffer
	//
	// Returns:
	//   - Handle: the new buffer
	//   - error: an error if the buffer cannot be created
	CreateBuffer(desc BufferDesc, initial []byte) (Handle, error)

	// WriteBuffer copies data into a buffer at the given byte offset.
	//
	// Parameters:
	//   - buf: the destination buffer
	//   - offset: the destination byte offset
	//   - data: the bytes to copy
	//
	// Returns:
	//   - error: an error if the buffer is unknown, the write is out of range or the map fails
	WriteBuffer(buf Handle, offset uint64, data []byte) error

	// CreateTexture allocates a 2D texture with a single mip level.
	CreateTexture(desc TextureDesc) (Handle, error)

	// WriteTexture replaces the full contents of a texture starting at its first texel. Data may be
	// shorter than the texture; only whole rows are written.
	WriteTexture(tex Handle, data []byte) error

	// CreateShader creates a device shader module from a compiled program.
	CreateShader(p shader.Program) (Handle, error)

	// CreateInputLayout creates the vertex input layout for a vertex shader.
	CreateInputLayout(vertexShader Handle, desc InputLayoutDesc) (Handle, error)

	// BindConstantBuffer attaches a uniform buffer to a slot. The binding persists across pipeline switches.
	BindConstantBuffer(slot Slot, buf Handle) error

	// BindStructuredBuffer attaches a read-only structured buffer to a slot.
	BindStructuredBuffer(slot Slot, buf Handle) error

	// BindTexture attaches a texture to a slot.
	BindTexture(slot Slot, tex Handle) error

	// SetPipeline binds the shaders, input layout and geometry buffers used by subsequent draws.
	SetPipeline(state PipelineState) error

	// DrawIndexedInstanced issues one indexed, instanced draw with the current state.
	DrawIndexedInstanced(args DrawArgs) error

	// Clear begins a frame by clearing the render target to color and the depth buffer to depth.
	Clear(color [4]float32, depth float32) error

	// Present shows the finished frame.
	Present() error

	// Resize reconfigures the render target for a new surface size.
	Resize(width, height int) error

	// Release frees a resource. Releasing an unknown or already released handle is a no-op.
	Release(h Handle)

	// Close releases the device itself. The device must not be used afterwards.
	Close()
}
