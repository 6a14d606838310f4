package renderer

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/model"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/cbuffer"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/instance"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

var errNotInitialized = errors.New("renderer: not initialized")

// formats lists the geometry formats in the order their passes run each frame.
var formats = []struct {
	format model.Format
	role   programRole
	state  FrameState
}{
	{model.FormatStatic, roleStaticVertex, FrameStaticPass},
	{model.FormatDynamic, roleDynamicVertex, FrameDynamicPass},
}

// geometryBuffers holds the device copies of one format's shared vertex and index arrays.
type geometryBuffers struct {
	vertex device.Handle
	index  device.Handle
}

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu      *sync.Mutex
	logger  *log.Logger
	session string

	// Pre-creation config collected from builder options
	backendType          BackendType
	presentMode          PresentMode
	msaa                 MSAASampleCount
	forceFallbackAdapter bool
	clearColor           [4]float32
	sampler              common.SamplerStagingData
	raster               device.RasterState
	categories           []model.Category
	paths                ProgramPaths
	supplied             [programRoleCount]shader.Program
	padEmptyBlocks       bool
	instanceResource     string
	boneResource         string
	uploaderOptions      []instance.UploaderBuilderOption

	device     device.Device
	ownsDevice bool

	programs [programRoleCount]shader.Program
	shaders  [programRoleCount]device.Handle
	layouts  map[model.Format]device.Handle
	geometry map[model.Format]geometryBuffers
	registry cbuffer.Registry
	switcher pipeline.Switcher
	uploader instance.Uploader
	textures map[string]device.Handle
	staged   map[string]common.TextureStagingData

	initialized bool
	state       FrameState
	stats       FrameStats
}

// Renderer is the frame orchestrator. It owns every device resource derived from the shader programs and the
// mesh collection, and drives the fixed per-frame sequence: flush dirty constant buffers, draw every static
// category, then draw every dynamic category.
//
// The Renderer is driven from a single goroutine. Calls are synchronous; nothing is deferred to a later frame.
type Renderer interface {
	// Initialize creates the device (unless one was supplied with WithDevice), loads and reflects the three
	// shader programs, registers their uniform blocks, uploads the collection's geometry and allocates the
	// instance buffer and bone palette. On failure every resource created so far is released.
	//
	// Parameters:
	//   - surface: the window to render into; may be nil when a device was supplied
	//   - collection: the geometry to upload
	//
	// Returns:
	//   - error: a *common.ReflectionError or *common.DeviceError describing the first failure
	Initialize(surface Surface, collection model.Collection) error

	// UploadGeometry replaces the device vertex and index buffers with the collection's current arrays.
	//
	// Parameters:
	//   - collection: the geometry to upload
	//
	// Returns:
	//   - error: a *common.DeviceError if a buffer cannot be created
	UploadGeometry(collection model.Collection) error

	// Reload releases every program-derived resource, reloads the programs from disk and rebuilds the
	// renderer on the same device. Constant buffer contents start zeroed again and handles from Resolve must be
	// resolved again; loaded textures are restored.
	//
	// Parameters:
	//   - collection: the geometry to upload after the rebuild
	//
	// Returns:
	//   - error: an error if the rebuild fails, in which case the renderer is left uninitialized
	Reload(collection model.Collection) error

	// SetVariable writes a uniform variable into its block's shadow buffer. The write reaches the device
	// at the next RenderFrame.
	//
	// Parameters:
	//   - stage: the shader stage declaring the block
	//   - block: the uniform block name
	//   - variable: the variable name within the block
	//   - data: the bytes to write
	//
	// Returns:
	//   - error: a *common.UnknownBlockError, *common.UnknownVariableError or *common.RangeError if skipped
	SetVariable(stage shader.Stage, block, variable string, data []byte) error

	// Resolve looks a uniform variable up once for repeated writes through SetVariableHandle.
	Resolve(stage shader.Stage, block, variable string) (cbuffer.VariableHandle, error)

	// SetVariableHandle writes a resolved uniform variable.
	SetVariableHandle(h cbuffer.VariableHandle, data []byte) error

	// LoadTexture uploads a decoded texture and binds it at the fragment program's slot of the same name.
	// A name the fragment program does not declare is logged and ignored.
	//
	// Parameters:
	//   - name: the reflected texture name
	//   - staging: the RGBA8 pixels
	//
	// Returns:
	//   - error: a *common.RangeError for malformed pixel data or a *common.DeviceError
	LoadTexture(name string, staging common.TextureStagingData) error

	// RenderFrame records one frame: flush, static pass, dynamic pass. The first failure aborts the frame
	// and is returned; dirty constant buffers stay dirty and are retried next frame.
	//
	// Parameters:
	//   - collection: the batches, instances and bone palettes to draw
	//
	// Returns:
	//   - error: the failure that aborted the frame
	RenderFrame(collection model.Collection) error

	// ClearFrame begins a frame by clearing the render target and the depth buffer.
	ClearFrame() error

	// Present shows the finished frame.
	Present() error

	// Resize reconfigures the render target. Zero sizes (a minimized window) are ignored.
	Resize(width, height int) error

	// Shutdown releases every resource exactly once and closes the device if the renderer created it.
	Shutdown()

	// State returns the orchestrator's position in the frame sequence.
	State() FrameState

	// Stats returns the work counted during the last RenderFrame.
	Stats() FrameStats

	// Session returns the id tagging this renderer's log lines.
	Session() string
}

var _ Renderer = &renderer{}

// NewRenderer creates a new Renderer. No device work happens until Initialize.
//
// Parameters:
//   - options: variadic list of RendererBuilderOption functions
//
// Returns:
//   - Renderer: the new renderer
func NewRenderer(options ...RendererBuilderOption) Renderer {
	r := &renderer{
		mu:               &sync.Mutex{},
		logger:           log.Default(),
		session:          uuid.New().String(),
		backendType:      BackendTypeWGPU,
		presentMode:      PresentModeVSync,
		msaa:             MSAAOff,
		clearColor:       DefaultClearColor,
		raster:           device.DefaultRasterState,
		categories:       model.DefaultCategories(),
		instanceResource: DefaultInstanceResource,
		boneResource:     DefaultBoneResource,
		staged:           make(map[string]common.TextureStagingData),
	}
	for _, opt := range options {
		opt(r)
	}
	r.logger = r.logger.With("session", r.session)
	return r
}

func (r *renderer) Initialize(surface Surface, collection model.Collection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return errors.New("renderer: already initialized")
	}
	if collection == nil {
		return errors.New("renderer: nil collection")
	}
	if r.device == nil {
		if surface == nil {
			return errors.New("renderer: a surface is required when no device is supplied")
		}
		dev, err := newDevice(r.backendType, surface, deviceConfig{
			presentMode:          r.presentMode,
			msaa:                 r.msaa,
			forceFallbackAdapter: r.forceFallbackAdapter,
			clearColor:           r.clearColor,
			sampler:              r.sampler,
			logger:               r.logger,
		})
		if err != nil {
			return &common.DeviceError{Op: "create device", Err: err}
		}
		r.device, r.ownsDevice = dev, true
	}

	if err := r.build(collection); err != nil {
		r.teardown()
		if r.ownsDevice {
			r.device.Close()
			r.device, r.ownsDevice = nil, false
		}
		r.logger.Error("renderer initialization failed", "err", err)
		return err
	}

	r.initialized = true
	r.setState(FrameIdle)
	r.logger.Info("renderer initialized",
		"categories", len(r.categories),
		"vertexBlocks", len(r.registry.Layouts(shader.StageVertex)),
		"fragmentBlocks", len(r.registry.Layouts(shader.StageFragment)),
		"instances", r.uploader.Capacity(),
	)
	return nil
}

// build creates every program-derived resource on r.device. The caller tears down on error.
func (r *renderer) build(collection model.Collection) error {
	if err := r.loadPrograms(); err != nil {
		return err
	}

	for role := range programRoleCount {
		h, err := r.device.CreateShader(r.programs[role])
		if err != nil {
			return &common.DeviceError{Op: "create shader " + r.programs[role].Key(), Err: err}
		}
		r.shaders[role] = h
	}

	r.registry = cbuffer.NewRegistry(r.device, cbuffer.WithLogger(r.logger))
	for _, p := range r.programs {
		if err := r.registry.RegisterProgram(p); err != nil {
			return err
		}
	}

	r.layouts = make(map[model.Format]device.Handle, len(formats))
	for _, f := range formats {
		p := r.programs[f.role]
		layout, err := r.device.CreateInputLayout(r.shaders[f.role], device.InputLayoutDesc{
			Label:      f.format.String() + " Input Layout",
			Stride:     f.format.VertexStride(),
			Attributes: p.Reflection().Inputs,
		})
		if err != nil {
			return &common.DeviceError{Op: "create " + f.format.String() + " input layout", Err: err}
		}
		r.layouts[f.format] = layout
	}

	instanceSlots := r.resourceSlots(r.instanceResource, shader.ResourceStorage)
	if len(instanceSlots) == 0 {
		r.logger.Warn("no vertex program declares the instance buffer", "resource", r.instanceResource)
	}
	options := append([]instance.UploaderBuilderOption{
		instance.WithLogger(r.logger),
		instance.WithInstanceSlots(instanceSlots...),
		instance.WithBoneSlots(r.resourceSlots(r.boneResource, shader.ResourceTexture)...),
	}, r.uploaderOptions...)
	uploader, err := instance.NewUploader(r.device, options...)
	if err != nil {
		return err
	}
	r.uploader = uploader

	r.switcher = pipeline.NewSwitcher(r.device,
		pipeline.WithDepthTest(r.raster.DepthTest, r.raster.DepthWrite),
		pipeline.WithCullMode(r.raster.CullMode),
		pipeline.WithLogger(r.logger),
	)
	r.geometry = make(map[model.Format]geometryBuffers, len(formats))
	if err := r.uploadGeometry(collection); err != nil {
		return err
	}

	r.textures = make(map[string]device.Handle, len(r.staged))
	for name, staging := range r.staged {
		if err := r.loadTexture(name, staging); err != nil {
			return err
		}
	}
	return nil
}

// loadPrograms resolves each role to a supplied program, a program file or the built-in source, and
// checks that each vertex program consumes exactly its format's vertex record.
func (r *renderer) loadPrograms() error {
	for role := range programRoleCount {
		if p := r.supplied[role]; p != nil {
			if p.Stage() != role.stage() {
				return &common.ReflectionError{
					Program: p.Key(),
					Reason:  fmt.Sprintf("%s program supplied for the %s stage", p.Stage(), role.stage()),
				}
			}
			r.programs[role] = p
			continue
		}

		var (
			p   shader.Program
			err error
		)
		if path := r.paths.path(role); path != "" {
			p, err = shader.LoadProgram(role.key(), role.stage(), path, shader.WithEmptyBlockPadding(r.padEmptyBlocks))
		} else {
			p, err = shader.NewProgram(role.key(), role.stage(), shader.WithWGSL(role.builtin()), shader.WithEmptyBlockPadding(r.padEmptyBlocks))
		}
		if err != nil {
			return err
		}
		r.programs[role] = p
	}

	for _, f := range formats {
		p := r.programs[f.role]
		if got := p.Reflection().VertexStride(); got != f.format.VertexStride() {
			return &common.ReflectionError{
				Program: p.Key(),
				Reason:  fmt.Sprintf("vertex inputs consume %d bytes per vertex, the %s format supplies %d", got, f.format, f.format.VertexStride()),
			}
		}
	}
	return nil
}

// resourceSlots returns the distinct slots at which any program declares the named resource.
func (r *renderer) resourceSlots(name string, kind shader.ResourceKind) []device.Slot {
	var slots []device.Slot
	seen := make(map[device.Slot]bool)
	for _, p := range r.programs {
		res, ok := p.Reflection().Resource(name)
		if !ok || res.Kind != kind {
			continue
		}
		slot := device.Slot{Stage: p.Stage(), Group: res.Group, Binding: res.Binding}
		if !seen[slot] {
			seen[slot] = true
			slots = append(slots, slot)
		}
	}
	return slots
}

func (r *renderer) UploadGeometry(collection model.Collection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return errNotInitialized
	}
	if collection == nil {
		return errors.New("renderer: nil collection")
	}
	return r.uploadGeometry(collection)
}

// uploadGeometry creates fresh vertex and index buffers per format, swaps them into the switcher and
// releases the buffers they replace. A format without geometry gets a one-record placeholder so its
// pipeline can still be bound.
func (r *renderer) uploadGeometry(collection model.Collection) error {
	for _, f := range formats {
		vertices := collection.Vertices(f.format)
		if len(vertices) == 0 {
			vertices = make([]byte, f.format.VertexStride())
		}
		indices := common.SliceToBytes(collection.Indices(f.format))
		if len(indices) == 0 {
			indices = make([]byte, 4)
		}

		vb, err := r.device.CreateBuffer(device.BufferDesc{
			Label: f.format.String() + " Vertex Buffer",
			Size:  uint64(len(vertices)),
			Usage: device.UsageVertex,
		}, vertices)
		if err != nil {
			return &common.DeviceError{Op: "create " + f.format.String() + " vertex buffer", Err: err}
		}
		ib, err := r.device.CreateBuffer(device.BufferDesc{
			Label: f.format.String() + " Index Buffer",
			Size:  uint64(len(indices)),
			Usage: device.UsageIndex,
		}, indices)
		if err != nil {
			r.device.Release(vb)
			return &common.DeviceError{Op: "create " + f.format.String() + " index buffer", Err: err}
		}

		old, replaced := r.geometry[f.format]
		r.geometry[f.format] = geometryBuffers{vertex: vb, index: ib}
		r.switcher.SetState(f.format, pipeline.FormatState{
			VertexShader:   r.shaders[f.role],
			FragmentShader: r.shaders[roleFragment],
			InputLayout:    r.layouts[f.format],
			VertexBuffer:   vb,
			VertexStride:   f.format.VertexStride(),
			IndexBuffer:    ib,
		})
		if replaced {
			r.device.Release(old.vertex)
			r.device.Release(old.index)
		}
		r.logger.Debug("geometry uploaded", "format", f.format, "vertexBytes", len(vertices), "indexBytes", len(indices))
	}
	return nil
}

func (r *renderer) Reload(collection model.Collection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return errNotInitialized
	}
	if collection == nil {
		return errors.New("renderer: nil collection")
	}

	r.teardown()
	r.initialized = false
	if err := r.build(collection); err != nil {
		r.teardown()
		r.logger.Error("renderer reload failed", "err", err)
		return err
	}
	r.initialized = true
	r.setState(FrameIdle)
	r.logger.Info("renderer reloaded")
	return nil
}

func (r *renderer) SetVariable(stage shader.Stage, block, variable string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return errNotInitialized
	}
	return r.registry.SetVariable(stage, block, variable, data)
}

func (r *renderer) Resolve(stage shader.Stage, block, variable string) (cbuffer.VariableHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return cbuffer.VariableHandle{}, errNotInitialized
	}
	return r.registry.Resolve(stage, block, variable)
}

func (r *renderer) SetVariableHandle(h cbuffer.VariableHandle, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return errNotInitialized
	}
	return r.registry.SetVariableHandle(h, data)
}

func (r *renderer) LoadTexture(name string, staging common.TextureStagingData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return errNotInitialized
	}
	return r.loadTexture(name, staging)
}

func (r *renderer) loadTexture(name string, staging common.TextureStagingData) error {
	fragment := r.programs[roleFragment].Reflection()
	binding, ok := fragment.Textures[name]
	if !ok {
		r.logger.Warn("texture has no slot in the fragment program", "texture", name)
		return nil
	}
	res, _ := fragment.Resource(name)

	want := uint64(staging.Width) * uint64(staging.Height) * uint64(device.TextureFormatRGBA8.BytesPerTexel())
	if want == 0 || uint64(len(staging.Pixels)) < want {
		return &common.RangeError{What: "texture " + name + " pixels", Count: uint64(len(staging.Pixels)), Limit: want}
	}

	tex, err := r.device.CreateTexture(device.TextureDesc{
		Label:  name,
		Width:  staging.Width,
		Height: staging.Height,
		Format: device.TextureFormatRGBA8,
	})
	if err != nil {
		return &common.DeviceError{Op: "create texture " + name, Err: err}
	}
	if err := r.device.WriteTexture(tex, staging.Pixels[:want]); err != nil {
		r.device.Release(tex)
		return &common.DeviceError{Op: "upload texture " + name, Err: err}
	}
	slot := device.Slot{Stage: shader.StageFragment, Group: res.Group, Binding: binding}
	if err := r.device.BindTexture(slot, tex); err != nil {
		r.device.Release(tex)
		return &common.DeviceError{Op: "bind texture " + name, Err: err}
	}

	if old, ok := r.textures[name]; ok {
		r.device.Release(old)
	}
	r.textures[name] = tex
	r.staged[name] = staging
	r.logger.Debug("texture bound", "texture", name, "slot", slot, "width", staging.Width, "height", staging.Height)
	return nil
}

func (r *renderer) RenderFrame(collection model.Collection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return errNotInitialized
	}
	if collection == nil {
		return errors.New("renderer: nil collection")
	}

	r.stats = FrameStats{}
	r.setState(FrameIdle)

	uploads, err := r.registry.Flush()
	r.stats.ConstantUploads = uploads
	if err != nil {
		return r.abort(err)
	}
	r.setState(FrameBuffersFlushed)

	for _, f := range formats {
		if err := r.renderPass(collection, f.format, f.state); err != nil {
			return r.abort(err)
		}
	}

	r.setState(FrameComplete)
	return nil
}

// renderPass activates a format and draws its categories in configured order. A format with no configured
// categories is not activated.
func (r *renderer) renderPass(collection model.Collection, format model.Format, state FrameState) error {
	var categories []model.Category
	for _, c := range r.categories {
		if c.Format == format {
			categories = append(categories, c)
		}
	}
	if len(categories) == 0 {
		return nil
	}

	if err := r.switcher.Activate(format); err != nil {
		return err
	}
	r.stats.Activations++
	r.setState(state)

	instances := collection.Instances(format)
	for _, category := range categories {
		batch, ok := collection.Batch(category.Name)
		if !ok || batch.InstanceCount == 0 {
			r.logger.Debug("skipping category", "category", category.Name, "present", ok)
			continue
		}
		// Draw arguments carry the base vertex as a signed 32-bit value.
		if batch.VertexOffset > math.MaxInt32 {
			return &common.RangeError{
				What:   "vertices[" + category.Name + "]",
				Offset: uint64(batch.VertexOffset),
				Count:  uint64(batch.IndexCount),
				Limit:  math.MaxInt32,
			}
		}

		if err := r.uploader.UploadInstances(category.Name, instances, batch); err != nil {
			return err
		}
		r.stats.InstanceUploads++

		if category.Skinned {
			bones := collection.Bones(category.Name)
			if err := r.uploader.UploadBoneData(bones); err != nil {
				return err
			}
			if len(bones) > 0 {
				r.stats.BoneUploads++
			}
		}

		err := r.device.DrawIndexedInstanced(device.DrawArgs{
			IndexCount:    batch.IndexCount,
			InstanceCount: batch.InstanceCount,
			StartIndex:    batch.IndexOffset,
			BaseVertex:    int32(batch.VertexOffset),
			StartInstance: 0,
		})
		if err != nil {
			return &common.DeviceError{Op: "draw " + category.Name, Err: err}
		}
		r.stats.Draws++
		r.stats.Instances += int(batch.InstanceCount)
	}
	return nil
}

func (r *renderer) abort(err error) error {
	r.logger.Error("frame aborted", "state", r.state, "err", err)
	r.setState(FrameIdle)
	return err
}

func (r *renderer) setState(s FrameState) {
	r.state = s
	r.logger.Debug("frame state", "state", s)
}

func (r *renderer) ClearFrame() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return errNotInitialized
	}
	if err := r.device.Clear(r.clearColor, 1.0); err != nil {
		return &common.DeviceError{Op: "clear", Err: err}
	}
	return nil
}

func (r *renderer) Present() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return errNotInitialized
	}
	if err := r.device.Present(); err != nil {
		return &common.DeviceError{Op: "present", Err: err}
	}
	return nil
}

func (r *renderer) Resize(width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return errNotInitialized
	}
	if width <= 0 || height <= 0 {
		r.logger.Debug("ignoring empty resize", "width", width, "height", height)
		return nil
	}
	if err := r.device.Resize(width, height); err != nil {
		return &common.DeviceError{Op: "resize", Err: err}
	}
	return nil
}

func (r *renderer) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.teardown()
	if r.ownsDevice && r.device != nil {
		r.device.Close()
		r.device, r.ownsDevice = nil, false
	}
	if r.initialized {
		r.logger.Info("renderer shut down")
	}
	r.initialized = false
	r.state = FrameIdle
}

// teardown releases every program-derived resource. Each handle is released once and forgotten.
func (r *renderer) teardown() {
	if r.device == nil {
		return
	}
	for name, tex := range r.textures {
		r.device.Release(tex)
		delete(r.textures, name)
	}
	if r.uploader != nil {
		r.uploader.Release()
		r.uploader = nil
	}
	if r.registry != nil {
		r.registry.Release()
		r.registry = nil
	}
	for format, g := range r.geometry {
		r.device.Release(g.vertex)
		r.device.Release(g.index)
		delete(r.geometry, format)
	}
	for format, layout := range r.layouts {
		r.device.Release(layout)
		delete(r.layouts, format)
	}
	for role, h := range r.shaders {
		if h != 0 {
			r.device.Release(h)
			r.shaders[role] = 0
		}
	}
	r.switcher = nil
	r.programs = [programRoleCount]shader.Program{}
}

func (r *renderer) State() FrameState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *renderer) Stats() FrameStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *renderer) Session() string {
	return r.session
}
