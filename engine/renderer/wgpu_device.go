package renderer

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
	"github.com/charmbracelet/log"
	"github.com/cogentcore/webgpu/wgpu"
)

type wgpuBuffer struct {
	buf   *wgpu.Buffer
	size  uint64
	usage device.BufferUsage
}

type wgpuTexture struct {
	tex  *wgpu.Texture
	view *wgpu.TextureView
	desc device.TextureDesc
}

type wgpuShader struct {
	module  *wgpu.ShaderModule
	program shader.Program
}

type wgpuInputLayout struct {
	vertexShader device.Handle
	layout       wgpu.VertexBufferLayout
}

type bindingKind int

const (
	bindingConstant bindingKind = iota
	bindingStructured
	bindingTexture
)

type bindingKey struct {
	group, binding uint32
}

type boundResource struct {
	kind   bindingKind
	handle device.Handle
}

type pipelineKey struct {
	vertexShader   device.Handle
	fragmentShader device.Handle
	inputLayout    device.Handle
	raster         device.RasterState
}

type wgpuPipeline struct {
	pipeline     *wgpu.RenderPipeline
	layout       *wgpu.PipelineLayout
	groupLayouts []*wgpu.BindGroupLayout
	groupEntries [][]wgpu.BindGroupLayoutEntry
}

// wgpuDevice is the WebGPU implementation of device.Device. Draws are recorded into a single render pass
// per frame; a buffer or texture write that targets a resource read by an already recorded draw splits
// the pass so the queue write cannot overtake that draw.
type wgpuDevice struct {
	mu     *sync.Mutex
	logger *log.Logger

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface
	device   *wgpu.Device
	queue    *wgpu.Queue

	surfaceFormat wgpu.TextureFormat
	alphaMode     wgpu.CompositeAlphaMode
	presentMode   wgpu.PresentMode
	sampleCount   uint32
	width, height uint32

	msaaTexture      *wgpu.Texture
	msaaTextureView  *wgpu.TextureView
	depthTexture     *wgpu.Texture
	depthTextureView *wgpu.TextureView

	next         device.Handle
	buffers      map[device.Handle]*wgpuBuffer
	textures     map[device.Handle]*wgpuTexture
	shaders      map[device.Handle]*wgpuShader
	inputLayouts map[device.Handle]*wgpuInputLayout
	bindings     map[bindingKey]boundResource

	sampler     *wgpu.Sampler
	placeholder *wgpuTexture
	pipelines   map[pipelineKey]*wgpuPipeline

	current         *device.PipelineState
	currentPipeline *wgpuPipeline
	applied         bool
	bindGroupsDirty bool

	frameEncoder    *wgpu.CommandEncoder
	framePass       *wgpu.RenderPassEncoder
	frameSurface    *wgpu.Texture
	frameView       *wgpu.TextureView
	frameBindGroups []*wgpu.BindGroup
	inFlight        map[device.Handle]struct{}
	clearColor      wgpu.Color
	depthClear      float32
}

var _ device.Device = &wgpuDevice{}

// newWGPUDevice creates a WebGPU device rendering into the window surface. The calling goroutine is
// locked to its OS thread; every later call must come from the same goroutine.
func newWGPUDevice(surface Surface, cfg deviceConfig) (device.Device, error) {
	runtime.LockOSThread()

	d := &wgpuDevice{
		mu:           &sync.Mutex{},
		logger:       common.Coalesce(cfg.logger, log.Default()),
		instance:     wgpu.CreateInstance(nil),
		presentMode:  wgpu.PresentModeFifo,
		sampleCount:  uint32(common.Coalesce(cfg.msaa, MSAAOff)),
		next:         1,
		buffers:      make(map[device.Handle]*wgpuBuffer),
		textures:     make(map[device.Handle]*wgpuTexture),
		shaders:      make(map[device.Handle]*wgpuShader),
		inputLayouts: make(map[device.Handle]*wgpuInputLayout),
		bindings:     make(map[bindingKey]boundResource),
		pipelines:    make(map[pipelineKey]*wgpuPipeline),
		inFlight:     make(map[device.Handle]struct{}),
		clearColor:   toColor(DefaultClearColor),
		depthClear:   1,
	}
	if cfg.presentMode == PresentModeUncapped {
		d.presentMode = wgpu.PresentModeImmediate
	}
	if cfg.clearColor != [4]float32{} {
		d.clearColor = toColor(cfg.clearColor)
	}

	if err := d.init(surface, cfg); err != nil {
		d.Close()
		return nil, err
	}

	d.logger.Info("wgpu device ready",
		"width", d.width,
		"height", d.height,
		"format", d.surfaceFormat,
		"msaa", d.sampleCount,
		"fallback", cfg.forceFallbackAdapter,
	)
	return d, nil
}

func (d *wgpuDevice) init(surface Surface, cfg deviceConfig) error {
	d.surface = d.instance.CreateSurface(surface.SurfaceDescriptor())
	if d.surface == nil {
		return errors.New("wgpu: surface creation failed")
	}

	a, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: cfg.forceFallbackAdapter,
		CompatibleSurface:    d.surface,
	})
	if err != nil {
		return fmt.Errorf("wgpu: request adapter: %w", err)
	}
	d.adapter = a

	dev, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Render Core Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: request device: %w", err)
	}
	d.device = dev
	d.queue = dev.GetQueue()

	capabilities := d.surface.GetCapabilities(d.adapter)
	if len(capabilities.Formats) == 0 || len(capabilities.AlphaModes) == 0 {
		return errors.New("wgpu: surface reports no supported formats")
	}
	d.surfaceFormat = capabilities.Formats[0]
	d.alphaMode = capabilities.AlphaModes[0]

	if err := d.configure(uint32(max(surface.Width(), 1)), uint32(max(surface.Height(), 1))); err != nil {
		return err
	}

	d.sampler, err = d.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Texture Sampler",
		AddressModeU:  common.Coalesce(cfg.sampler.AddressModeU, wgpu.AddressModeRepeat),
		AddressModeV:  common.Coalesce(cfg.sampler.AddressModeV, wgpu.AddressModeRepeat),
		AddressModeW:  common.Coalesce(cfg.sampler.AddressModeW, wgpu.AddressModeRepeat),
		MagFilter:     common.Coalesce(cfg.sampler.MagFilter, wgpu.FilterModeLinear),
		MinFilter:     common.Coalesce(cfg.sampler.MinFilter, wgpu.FilterModeLinear),
		MipmapFilter:  common.Coalesce(cfg.sampler.MipmapFilter, wgpu.MipmapFilterModeLinear),
		LodMinClamp:   common.Coalesce(cfg.sampler.LodMinClamp, 0.0),
		LodMaxClamp:   common.Coalesce(cfg.sampler.LodMaxClamp, 32.0),
		MaxAnisotropy: common.Coalesce(cfg.sampler.MaxAnisotropy, 1),
	})
	if err != nil {
		return fmt.Errorf("wgpu: create sampler: %w", err)
	}

	white, err := d.newTexture(device.TextureDesc{Label: "Placeholder Texture", Width: 1, Height: 1, Format: device.TextureFormatRGBA8})
	if err != nil {
		return err
	}
	d.queue.WriteTexture(
		&wgpu.ImageCopyTexture{Texture: white.tex, Aspect: wgpu.TextureAspectAll},
		[]byte{255, 255, 255, 255},
		&wgpu.TextureDataLayout{BytesPerRow: 4, RowsPerImage: 1},
		&wgpu.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1},
	)
	d.placeholder = white
	return nil
}

// configure (re)configures the surface and recreates the depth and MSAA targets at the given size.
func (d *wgpuDevice) configure(width, height uint32) error {
	d.surface.Configure(d.adapter, d.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      d.surfaceFormat,
		Width:       width,
		Height:      height,
		PresentMode: d.presentMode,
		AlphaMode:   d.alphaMode,
	})
	d.width, d.height = width, height
	d.releaseTargets()

	if d.sampleCount > 1 {
		tex, view, err := d.renderTarget("MSAA Texture", d.surfaceFormat)
		if err != nil {
			return err
		}
		d.msaaTexture, d.msaaTextureView = tex, view
	}

	// Depth sample count must match the color attachment.
	tex, view, err := d.renderTarget("Depth Texture", wgpu.TextureFormatDepth24Plus)
	if err != nil {
		return err
	}
	d.depthTexture, d.depthTextureView = tex, view
	return nil
}

func (d *wgpuDevice) renderTarget(label string, format wgpu.TextureFormat) (*wgpu.Texture, *wgpu.TextureView, error) {
	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: label,
		Size: wgpu.Extent3D{
			Width:              d.width,
			Height:             d.height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   d.sampleCount,
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wgpu: create %s: %w", label, err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, nil, fmt.Errorf("wgpu: create %s view: %w", label, err)
	}
	return tex, view, nil
}

func (d *wgpuDevice) releaseTargets() {
	if d.msaaTextureView != nil {
		d.msaaTextureView.Release()
		d.msaaTextureView = nil
	}
	if d.msaaTexture != nil {
		d.msaaTexture.Release()
		d.msaaTexture = nil
	}
	if d.depthTextureView != nil {
		d.depthTextureView.Release()
		d.depthTextureView = nil
	}
	if d.depthTexture != nil {
		d.depthTexture.Release()
		d.depthTexture = nil
	}
}

func (d *wgpuDevice) handle() device.Handle {
	h := d.next
	d.next++
	return h
}

func (d *wgpuDevice) CreateBuffer(desc device.BufferDesc, initial []byte) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if uint64(len(initial)) > desc.Size {
		return 0, fmt.Errorf("wgpu: %d initial bytes exceed buffer %q of %d bytes", len(initial), desc.Label, desc.Size)
	}
	size := common.AlignUp(max(desc.Size, 4), 4)
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            desc.Label,
		Size:             size,
		Usage:            bufferUsage(desc.Usage),
		MappedAtCreation: false,
	})
	if err != nil {
		return 0, err
	}
	if len(initial) > 0 {
		d.queue.WriteBuffer(buf, 0, padded(initial))
	}

	h := d.handle()
	d.buffers[h] = &wgpuBuffer{buf: buf, size: size, usage: desc.Usage}
	return h, nil
}

func bufferUsage(usage device.BufferUsage) wgpu.BufferUsage {
	out := wgpu.BufferUsageCopyDst
	if usage&device.UsageConstant != 0 {
		out |= wgpu.BufferUsageUniform
	}
	if usage&device.UsageStructured != 0 {
		out |= wgpu.BufferUsageStorage
	}
	if usage&device.UsageVertex != 0 {
		out |= wgpu.BufferUsageVertex
	}
	if usage&device.UsageIndex != 0 {
		out |= wgpu.BufferUsageIndex
	}
	return out
}

// padded returns data extended with zeros to a multiple of four bytes, the queue write granularity.
func padded(data []byte) []byte {
	if len(data)%4 == 0 {
		return data
	}
	out := make([]byte, common.AlignUp(uint64(len(data)), 4))
	copy(out, data)
	return out
}

func (d *wgpuDevice) WriteBuffer(buf device.Handle, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.buffers[buf]
	if !ok {
		return fmt.Errorf("wgpu: unknown buffer %d", buf)
	}
	if offset%4 != 0 {
		return fmt.Errorf("wgpu: buffer write offset %d is not 4-byte aligned", offset)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("wgpu: write of %d bytes at %d exceeds buffer of %d bytes", len(data), offset, b.size)
	}
	if len(data) == 0 {
		return nil
	}
	if err := d.splitIfInFlight(buf); err != nil {
		return err
	}
	d.queue.WriteBuffer(b.buf, offset, padded(data))
	return nil
}

func (d *wgpuDevice) CreateTexture(desc device.TextureDesc) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.newTexture(desc)
	if err != nil {
		return 0, err
	}
	h := d.handle()
	d.textures[h] = t
	return h, nil
}

func (d *wgpuDevice) newTexture(desc device.TextureDesc) (*wgpuTexture, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("wgpu: texture %q has zero extent", desc.Label)
	}
	format := wgpu.TextureFormatRGBA8UnormSrgb
	if desc.Format == device.TextureFormatRGBA32Float {
		format = wgpu.TextureFormatRGBA32Float
	}
	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     desc.Label,
		Usage:     wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, err
	}
	return &wgpuTexture{tex: tex, view: view, desc: desc}, nil
}

func (d *wgpuDevice) WriteTexture(tex device.Handle, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.textures[tex]
	if !ok {
		return fmt.Errorf("wgpu: unknown texture %d", tex)
	}
	rowBytes := t.desc.Width * t.desc.Format.BytesPerTexel()
	rows := min(uint32(len(data))/rowBytes, t.desc.Height)
	if rows == 0 {
		return nil
	}
	if err := d.splitIfInFlight(tex); err != nil {
		return err
	}
	d.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  t.tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		data[:rows*rowBytes],
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  rowBytes,
			RowsPerImage: rows,
		},
		&wgpu.Extent3D{
			Width:              t.desc.Width,
			Height:             rows,
			DepthOrArrayLayers: 1,
		},
	)
	return nil
}

func (d *wgpuDevice) CreateShader(p shader.Program) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p.Source() == "" {
		return 0, fmt.Errorf("wgpu: program %s has no WGSL source", p.Key())
	}
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: p.Key(),
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: p.Source(),
		},
	})
	if err != nil {
		return 0, err
	}
	h := d.handle()
	d.shaders[h] = &wgpuShader{module: module, program: p}
	return h, nil
}

func (d *wgpuDevice) CreateInputLayout(vertexShader device.Handle, desc device.InputLayoutDesc) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.shaders[vertexShader]
	if !ok || s.program.Stage() != shader.StageVertex {
		return 0, fmt.Errorf("wgpu: input layout %q needs a vertex shader, got handle %d", desc.Label, vertexShader)
	}

	attrs := make([]wgpu.VertexAttribute, 0, len(desc.Attributes))
	var offset uint64
	for _, in := range desc.Attributes {
		format, ok := vertexFormat(in)
		if !ok {
			return 0, fmt.Errorf("wgpu: vertex input %s has no vertex format (%d components)", in.Name, in.Components)
		}
		attrs = append(attrs, wgpu.VertexAttribute{
			Format:         format,
			Offset:         offset,
			ShaderLocation: in.Location,
		})
		offset += uint64(in.Size)
	}
	if uint64(desc.Stride) < offset {
		return 0, fmt.Errorf("wgpu: input layout %q stride %d is smaller than its %d attribute bytes", desc.Label, desc.Stride, offset)
	}

	h := d.handle()
	d.inputLayouts[h] = &wgpuInputLayout{
		vertexShader: vertexShader,
		layout: wgpu.VertexBufferLayout{
			ArrayStride: uint64(desc.Stride),
			StepMode:    wgpu.VertexStepModeVertex,
			Attributes:  attrs,
		},
	}
	return h, nil
}

// vertexFormats maps a scalar kind to the vertex formats of 1 to 4 components.
var vertexFormats = map[shader.ScalarKind][4]wgpu.VertexFormat{
	shader.ScalarFloat: {wgpu.VertexFormatFloat32, wgpu.VertexFormatFloat32x2, wgpu.VertexFormatFloat32x3, wgpu.VertexFormatFloat32x4},
	shader.ScalarSint:  {wgpu.VertexFormatSint32, wgpu.VertexFormatSint32x2, wgpu.VertexFormatSint32x3, wgpu.VertexFormatSint32x4},
	shader.ScalarUint:  {wgpu.VertexFormatUint32, wgpu.VertexFormatUint32x2, wgpu.VertexFormatUint32x3, wgpu.VertexFormatUint32x4},
}

func vertexFormat(in shader.VertexInput) (wgpu.VertexFormat, bool) {
	formats, ok := vertexFormats[in.Scalar]
	if !ok || in.Components < 1 || in.Components > 4 {
		return 0, false
	}
	return formats[in.Components-1], true
}

func (d *wgpuDevice) BindConstantBuffer(slot device.Slot, buf device.Handle) error {
	return d.bind(slot, bindingConstant, buf)
}

func (d *wgpuDevice) BindStructuredBuffer(slot device.Slot, buf device.Handle) error {
	return d.bind(slot, bindingStructured, buf)
}

func (d *wgpuDevice) BindTexture(slot device.Slot, tex device.Handle) error {
	return d.bind(slot, bindingTexture, tex)
}

func (d *wgpuDevice) bind(slot device.Slot, kind bindingKind, h device.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch kind {
	case bindingTexture:
		if _, ok := d.textures[h]; !ok {
			return fmt.Errorf("wgpu: bind unknown texture %d at %s", h, slot)
		}
	default:
		if _, ok := d.buffers[h]; !ok {
			return fmt.Errorf("wgpu: bind unknown buffer %d at %s", h, slot)
		}
	}
	d.bindings[bindingKey{group: slot.Group, binding: slot.Binding}] = boundResource{kind: kind, handle: h}
	d.bindGroupsDirty = true
	return nil
}

func (d *wgpuDevice) SetPipeline(state device.PipelineState) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	vs, ok := d.shaders[state.VertexShader]
	if !ok {
		return fmt.Errorf("wgpu: pipeline %q has unknown vertex shader %d", state.Label, state.VertexShader)
	}
	fs, ok := d.shaders[state.FragmentShader]
	if !ok {
		return fmt.Errorf("wgpu: pipeline %q has unknown fragment shader %d", state.Label, state.FragmentShader)
	}
	il, ok := d.inputLayouts[state.InputLayout]
	if !ok || il.vertexShader != state.VertexShader {
		return fmt.Errorf("wgpu: pipeline %q has no input layout for its vertex shader", state.Label)
	}
	if _, ok := d.buffers[state.VertexBuffer]; !ok {
		return fmt.Errorf("wgpu: pipeline %q has unknown vertex buffer %d", state.Label, state.VertexBuffer)
	}
	if _, ok := d.buffers[state.IndexBuffer]; !ok {
		return fmt.Errorf("wgpu: pipeline %q has unknown index buffer %d", state.Label, state.IndexBuffer)
	}

	key := pipelineKey{
		vertexShader:   state.VertexShader,
		fragmentShader: state.FragmentShader,
		inputLayout:    state.InputLayout,
		raster:         state.Raster,
	}
	p, ok := d.pipelines[key]
	if !ok {
		var err error
		if p, err = d.createPipeline(state.Label, vs, fs, il, state.Raster); err != nil {
			return err
		}
		d.pipelines[key] = p
		d.logger.Debug("render pipeline created", "pipeline", state.Label, "groups", len(p.groupLayouts))
	}

	st := state
	d.current = &st
	d.currentPipeline = p
	d.applied = false
	d.bindGroupsDirty = true
	return nil
}

func (d *wgpuDevice) createPipeline(label string, vs, fs *wgpuShader, il *wgpuInputLayout, raster device.RasterState) (*wgpuPipeline, error) {
	merged := mergeBindGroupLayouts(
		bindGroupLayoutDescriptors(vs.program, wgpu.ShaderStageVertex),
		bindGroupLayoutDescriptors(fs.program, wgpu.ShaderStageFragment),
	)
	maxGroup := -1
	for g := range merged {
		maxGroup = max(maxGroup, g)
	}

	p := &wgpuPipeline{
		groupLayouts: make([]*wgpu.BindGroupLayout, maxGroup+1),
		groupEntries: make([][]wgpu.BindGroupLayoutEntry, maxGroup+1),
	}
	for g := 0; g <= maxGroup; g++ {
		desc, ok := merged[g]
		if !ok {
			// Unused groups still need a layout to keep group indices stable.
			desc = wgpu.BindGroupLayoutDescriptor{Label: fmt.Sprintf("%s Group %d", label, g)}
		}
		layout, err := d.device.CreateBindGroupLayout(&desc)
		if err != nil {
			p.release()
			return nil, fmt.Errorf("wgpu: create bind group layout for group %d: %w", g, err)
		}
		p.groupLayouts[g] = layout
		p.groupEntries[g] = desc.Entries
	}

	pipelineLayout, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: p.groupLayouts,
	})
	if err != nil {
		p.release()
		return nil, err
	}
	p.layout = pipelineLayout

	depthCompare := wgpu.CompareFunctionLess
	if !raster.DepthTest {
		depthCompare = wgpu.CompareFunctionAlways
	}
	created, err := d.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  label + " Render Pipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     vs.module,
			EntryPoint: vs.program.EntryPoint(),
			Buffers:    []wgpu.VertexBufferLayout{il.layout},
		},
		Fragment: &wgpu.FragmentState{
			Module:     fs.module,
			EntryPoint: fs.program.EntryPoint(),
			Targets: []wgpu.ColorTargetState{
				{
					Format:    d.surfaceFormat,
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  cullMode(raster.CullMode),
		},
		Multisample: wgpu.MultisampleState{
			Count: d.sampleCount,
			Mask:  0xFFFFFFFF,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:            wgpu.TextureFormatDepth24Plus,
			DepthWriteEnabled: raster.DepthWrite,
			DepthCompare:      depthCompare,
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		},
	})
	if err != nil {
		p.release()
		return nil, err
	}
	p.pipeline = created
	return p, nil
}

func cullMode(mode device.CullMode) wgpu.CullMode {
	switch mode {
	case device.CullFront:
		return wgpu.CullModeFront
	case device.CullNone:
		return wgpu.CullModeNone
	default:
		return wgpu.CullModeBack
	}
}

func (p *wgpuPipeline) release() {
	if p.pipeline != nil {
		p.pipeline.Release()
	}
	if p.layout != nil {
		p.layout.Release()
	}
	for _, l := range p.groupLayouts {
		if l != nil {
			l.Release()
		}
	}
}

// bindGroupLayoutDescriptors builds one layout descriptor per bind group from a program's reflected resources.
// Vertex-stage textures hold float data read with textureLoad and are declared unfilterable.
func bindGroupLayoutDescriptors(p shader.Program, visibility wgpu.ShaderStage) map[int]wgpu.BindGroupLayoutDescriptor {
	out := make(map[int]wgpu.BindGroupLayoutDescriptor)
	for _, res := range p.Reflection().Resources {
		entry := wgpu.BindGroupLayoutEntry{
			Binding:    res.Binding,
			Visibility: visibility,
		}
		switch res.Kind {
		case shader.ResourceUniform:
			entry.Buffer.Type = wgpu.BufferBindingTypeUniform
			entry.Buffer.MinBindingSize = uint64(res.Size)
		case shader.ResourceStorage:
			entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
			entry.Buffer.MinBindingSize = uint64(res.Size)
		case shader.ResourceTexture:
			entry.Texture.SampleType = wgpu.TextureSampleTypeFloat
			if visibility == wgpu.ShaderStageVertex {
				entry.Texture.SampleType = wgpu.TextureSampleTypeUnfilterableFloat
			}
			entry.Texture.ViewDimension = wgpu.TextureViewDimension2D
			entry.Texture.Multisampled = false
		case shader.ResourceSampler:
			entry.Sampler.Type = wgpu.SamplerBindingTypeFiltering
		}

		g := int(res.Group)
		desc := out[g]
		desc.Label = fmt.Sprintf("%s Group %d", p.Key(), g)
		desc.Entries = append(desc.Entries, entry)
		out[g] = desc
	}
	return out
}

// mergeBindGroupLayouts combines the per-group layouts of the vertex and fragment programs. A binding
// declared by both stages is kept once with the union of their visibilities.
func mergeBindGroupLayouts(
	vertexLayouts, fragmentLayouts map[int]wgpu.BindGroupLayoutDescriptor,
) map[int]wgpu.BindGroupLayoutDescriptor {
	merged := make(map[int]wgpu.BindGroupLayoutDescriptor)

	groupIndices := make(map[int]bool)
	for g := range vertexLayouts {
		groupIndices[g] = true
	}
	for g := range fragmentLayouts {
		groupIndices[g] = true
	}

	for g := range groupIndices {
		vDesc, hasV := vertexLayouts[g]
		fDesc := fragmentLayouts[g]
		label := vDesc.Label
		if !hasV {
			label = fDesc.Label
		}

		entryMap := make(map[uint32]wgpu.BindGroupLayoutEntry)
		for _, e := range vDesc.Entries {
			entryMap[e.Binding] = e
		}
		for _, e := range fDesc.Entries {
			if existing, ok := entryMap[e.Binding]; ok {
				existing.Visibility |= e.Visibility
				entryMap[e.Binding] = existing
			} else {
				entryMap[e.Binding] = e
			}
		}

		entries := make([]wgpu.BindGroupLayoutEntry, 0, len(entryMap))
		for _, e := range entryMap {
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Binding < entries[j].Binding
		})

		merged[g] = wgpu.BindGroupLayoutDescriptor{
			Label:   label,
			Entries: entries,
		}
	}

	return merged
}

func (d *wgpuDevice) DrawIndexedInstanced(args device.DrawArgs) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		return errors.New("wgpu: draw without a pipeline")
	}
	if d.framePass == nil {
		if err := d.beginFrame(wgpu.LoadOpClear); err != nil {
			return err
		}
	}

	if !d.applied {
		d.framePass.SetPipeline(d.currentPipeline.pipeline)
		d.framePass.SetVertexBuffer(0, d.buffers[d.current.VertexBuffer].buf, 0, wgpu.WholeSize)
		d.framePass.SetIndexBuffer(d.buffers[d.current.IndexBuffer].buf, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
		d.applied = true
	}
	if d.bindGroupsDirty {
		if err := d.setBindGroups(); err != nil {
			return err
		}
		d.bindGroupsDirty = false
	}

	d.inFlight[d.current.VertexBuffer] = struct{}{}
	d.inFlight[d.current.IndexBuffer] = struct{}{}
	if args.InstanceCount == 0 || args.IndexCount == 0 {
		return nil
	}
	d.framePass.DrawIndexed(args.IndexCount, args.InstanceCount, args.StartIndex, args.BaseVertex, args.StartInstance)
	return nil
}

// setBindGroups creates one bind group per pipeline group from the current bindings and sets it on the
// pass. Every resource referenced is marked in flight. Unbound textures fall back to a white placeholder.
func (d *wgpuDevice) setBindGroups() error {
	p := d.currentPipeline
	for g, layoutEntries := range p.groupEntries {
		entries := make([]wgpu.BindGroupEntry, 0, len(layoutEntries))
		for _, le := range layoutEntries {
			key := bindingKey{group: uint32(g), binding: le.Binding}
			bound, ok := d.bindings[key]

			switch {
			case le.Sampler.Type != wgpu.SamplerBindingTypeUndefined:
				entries = append(entries, wgpu.BindGroupEntry{Binding: le.Binding, Sampler: d.sampler})
			case le.Texture.SampleType != wgpu.TextureSampleTypeUndefined:
				view := d.placeholder.view
				if ok && bound.kind == bindingTexture {
					if t, live := d.textures[bound.handle]; live {
						view = t.view
						d.inFlight[bound.handle] = struct{}{}
					}
				}
				entries = append(entries, wgpu.BindGroupEntry{Binding: le.Binding, TextureView: view})
			default:
				if !ok || bound.kind == bindingTexture {
					return fmt.Errorf("wgpu: no buffer bound at group %d binding %d", g, le.Binding)
				}
				b, live := d.buffers[bound.handle]
				if !live {
					return fmt.Errorf("wgpu: buffer %d bound at group %d binding %d was released", bound.handle, g, le.Binding)
				}
				entries = append(entries, wgpu.BindGroupEntry{
					Binding: le.Binding,
					Buffer:  b.buf,
					Offset:  0,
					Size:    wgpu.WholeSize,
				})
				d.inFlight[bound.handle] = struct{}{}
			}
		}

		bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   fmt.Sprintf("%s Bind Group %d", d.current.Label, g),
			Layout:  p.groupLayouts[g],
			Entries: entries,
		})
		if err != nil {
			return err
		}
		d.frameBindGroups = append(d.frameBindGroups, bg)
		d.framePass.SetBindGroup(uint32(g), bg, nil)
	}
	return nil
}

// beginFrame acquires the surface texture and opens the frame's render pass.
func (d *wgpuDevice) beginFrame(load wgpu.LoadOp) error {
	if d.frameSurface != nil {
		return errors.New("wgpu: previous frame surface not yet presented")
	}

	surfaceTexture, err := d.surface.GetCurrentTexture()
	if err != nil {
		return err
	}
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return err
	}
	d.frameSurface = surfaceTexture
	d.frameView = view

	if err := d.beginPass(load); err != nil {
		d.releaseFrame()
		return err
	}
	return nil
}

func (d *wgpuDevice) beginPass(load wgpu.LoadOp) error {
	encoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}

	color := wgpu.RenderPassColorAttachment{
		View:       d.frameView,
		LoadOp:     load,
		StoreOp:    wgpu.StoreOpStore,
		ClearValue: d.clearColor,
	}
	if d.sampleCount > 1 {
		// The MSAA target is kept between split passes and resolved into the swapchain each time.
		color.View = d.msaaTextureView
		color.ResolveTarget = d.frameView
	}
	d.framePass = encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{color},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            d.depthTextureView,
			DepthLoadOp:     load,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: d.depthClear,
		},
	})
	d.frameEncoder = encoder
	d.applied = false
	d.bindGroupsDirty = true
	return nil
}

// endPass closes the open render pass and submits it.
func (d *wgpuDevice) endPass() error {
	if d.framePass == nil {
		return nil
	}
	d.framePass.End()
	d.framePass = nil

	commandBuffer, err := d.frameEncoder.Finish(nil)
	d.frameEncoder.Release()
	d.frameEncoder = nil
	if err != nil {
		d.releaseBindGroups()
		return err
	}
	d.queue.Submit(commandBuffer)
	commandBuffer.Release()

	d.releaseBindGroups()
	clear(d.inFlight)
	return nil
}

// splitIfInFlight submits the recorded draws when h is read by one of them, then reopens the pass
// preserving color and depth.
func (d *wgpuDevice) splitIfInFlight(h device.Handle) error {
	if d.framePass == nil {
		return nil
	}
	if _, ok := d.inFlight[h]; !ok {
		return nil
	}
	if err := d.endPass(); err != nil {
		return err
	}
	return d.beginPass(wgpu.LoadOpLoad)
}

func (d *wgpuDevice) releaseBindGroups() {
	for _, bg := range d.frameBindGroups {
		bg.Release()
	}
	d.frameBindGroups = d.frameBindGroups[:0]
}

func (d *wgpuDevice) releaseFrame() {
	if d.framePass != nil {
		d.framePass.End()
		d.framePass = nil
	}
	if d.frameEncoder != nil {
		d.frameEncoder.Release()
		d.frameEncoder = nil
	}
	d.releaseBindGroups()
	clear(d.inFlight)
	if d.frameView != nil {
		d.frameView.Release()
		d.frameView = nil
	}
	if d.frameSurface != nil {
		d.frameSurface.Release()
		d.frameSurface = nil
	}
}

func (d *wgpuDevice) Clear(color [4]float32, depth float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.frameSurface != nil {
		return errors.New("wgpu: clear while a frame is in progress")
	}
	d.clearColor = toColor(color)
	d.depthClear = depth
	return d.beginFrame(wgpu.LoadOpClear)
}

func toColor(c [4]float32) wgpu.Color {
	return wgpu.Color{R: float64(c[0]), G: float64(c[1]), B: float64(c[2]), A: float64(c[3])}
}

func (d *wgpuDevice) Present() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.frameSurface == nil {
		return nil
	}
	if err := d.endPass(); err != nil {
		d.releaseFrame()
		return err
	}
	d.surface.Present()
	d.releaseFrame()
	return nil
}

func (d *wgpuDevice) Resize(width, height int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if width <= 0 || height <= 0 {
		return fmt.Errorf("wgpu: invalid surface size %dx%d", width, height)
	}
	if d.frameSurface != nil {
		return errors.New("wgpu: resize while a frame is in progress")
	}
	if err := d.configure(uint32(width), uint32(height)); err != nil {
		return err
	}
	d.logger.Debug("surface resized", "width", width, "height", height)
	return nil
}

func (d *wgpuDevice) Release(h device.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.buffers[h]; ok {
		b.buf.Release()
		delete(d.buffers, h)
	}
	if t, ok := d.textures[h]; ok {
		t.view.Release()
		t.tex.Release()
		delete(d.textures, h)
	}
	if s, ok := d.shaders[h]; ok {
		for key, p := range d.pipelines {
			if key.vertexShader == h || key.fragmentShader == h {
				d.dropPipeline(key, p)
			}
		}
		s.module.Release()
		delete(d.shaders, h)
	}
	if _, ok := d.inputLayouts[h]; ok {
		for key, p := range d.pipelines {
			if key.inputLayout == h {
				d.dropPipeline(key, p)
			}
		}
		delete(d.inputLayouts, h)
	}
	for key, bound := range d.bindings {
		if bound.handle == h {
			delete(d.bindings, key)
			d.bindGroupsDirty = true
		}
	}
	if d.current != nil && (d.current.VertexBuffer == h || d.current.IndexBuffer == h) {
		d.current, d.currentPipeline = nil, nil
	}
}

func (d *wgpuDevice) dropPipeline(key pipelineKey, p *wgpuPipeline) {
	if d.currentPipeline == p {
		d.current, d.currentPipeline = nil, nil
	}
	p.release()
	delete(d.pipelines, key)
}

func (d *wgpuDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.releaseFrame()
	for key, p := range d.pipelines {
		d.dropPipeline(key, p)
	}
	for h, b := range d.buffers {
		b.buf.Release()
		delete(d.buffers, h)
	}
	for h, t := range d.textures {
		t.view.Release()
		t.tex.Release()
		delete(d.textures, h)
	}
	for h, s := range d.shaders {
		s.module.Release()
		delete(d.shaders, h)
	}
	clear(d.inputLayouts)
	clear(d.bindings)

	if d.placeholder != nil {
		d.placeholder.view.Release()
		d.placeholder.tex.Release()
		d.placeholder = nil
	}
	if d.sampler != nil {
		d.sampler.Release()
		d.sampler = nil
	}
	d.releaseTargets()
	d.queue = nil
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.surface != nil {
		d.surface.Release()
		d.surface = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}
