package cbuffer

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
	"github.com/charmbracelet/log"
)

// registry is the implementation of the Registry interface.
type registry struct {
	mu     *sync.Mutex
	device device.Device
	logger *log.Logger

	// stages holds one ordered collection per shader stage. A block's slot index is its position.
	stages map[shader.Stage][]*ConstantBufferLayout
}

// Registry owns every constant buffer derived from shader reflection. It allocates and eagerly binds a
// device buffer per uniform block, keeps a zeroed shadow copy of each block, accepts variable writes into
// the shadows and uploads dirty shadows once per frame.
type Registry interface {
	// RegisterBlock allocates the device buffer and shadow for one reflected block, appends it to the
	// stage's collection and binds it at the slot equal to its position.
	//
	// Parameters:
	//   - stage: the shader stage declaring the block
	//   - block: the reflected block descriptor
	//
	// Returns:
	//   - int: the slot index assigned to the block
	//   - error: a *common.ReflectionError for unusable layouts or a *common.DeviceError if the device fails
	RegisterBlock(stage shader.Stage, block shader.Block) (int, error)

	// RegisterProgram registers every uniform block of a program in declaration order.
	// A block already registered for the stage under the same name is shared when its layout is identical;
	// a conflicting layout is a *common.ReflectionError.
	//
	// Parameters:
	//   - p: the reflected program
	//
	// Returns:
	//   - error: the first registration error
	RegisterProgram(p shader.Program) error

	// Layouts returns the stage's blocks in slot order.
	Layouts(stage shader.Stage) []*ConstantBufferLayout

	// Layout looks up a block by name within a stage.
	Layout(stage shader.Stage, block string) (*ConstantBufferLayout, bool)

	// Shadow returns a copy of a block's shadow bytes.
	Shadow(stage shader.Stage, block string) ([]byte, bool)

	// Dirty reports whether a block has writes that have not been uploaded.
	Dirty(stage shader.Stage, block string) bool

	// SetVariable copies data into the shadow buffer of a block at the variable's reflected offset and marks
	// the block dirty. Unknown names are reported as *common.UnknownBlockError or *common.UnknownVariableError
	// and data longer than the variable is a *common.RangeError; in every error case the shadow is untouched.
	//
	// Parameters:
	//   - stage: the shader stage declaring the block
	//   - block: the block name
	//   - variable: the variable name within the block
	//   - data: the bytes to write; may be shorter than the variable
	//
	// Returns:
	//   - error: an error if the write was skipped
	SetVariable(stage shader.Stage, block, variable string, data []byte) error

	// Resolve looks a variable up once and returns a handle for repeated writes without name lookups.
	Resolve(stage shader.Stage, block, variable string) (VariableHandle, error)

	// SetVariableHandle writes a resolved variable. It behaves like SetVariable, and returns ErrStaleHandle
	// when the handle's block has since been released.
	SetVariableHandle(h VariableHandle, data []byte) error

	// Flush uploads the whole shadow of every dirty block, vertex stage first, and clears each block's dirty
	// flag once its upload succeeds. A block written again while its upload was in flight stays dirty.
	// The first device failure stops the flush; that block and every block after it stay dirty.
	//
	// Returns:
	//   - int: the number of uploads performed
	//   - error: a *common.DeviceError if an upload fails
	Flush() (int, error)

	// Release frees every device buffer and empties the registry. Handles resolved before it go stale.
	Release()
}

var _ Registry = &registry{}

// NewRegistry creates an empty Registry that allocates its buffers on the given device.
//
// Parameters:
//   - dev: the render device
//   - options: variadic list of RegistryBuilderOption functions
//
// Returns:
//   - Registry: the new registry
func NewRegistry(dev device.Device, options ...RegistryBuilderOption) Registry {
	r := &registry{
		mu:     &sync.Mutex{},
		device: dev,
		logger: log.Default(),
		stages: make(map[shader.Stage][]*ConstantBufferLayout),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *registry) RegisterBlock(stage shader.Stage, block shader.Block) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerBlock(stage, block)
}

func (r *registry) registerBlock(stage shader.Stage, block shader.Block) (int, error) {
	if block.Size == 0 {
		return -1, &common.ReflectionError{
			Program: stage.String(),
			Reason:  fmt.Sprintf("uniform block %q has zero size; enable empty block padding to register it", block.Name),
		}
	}
	if block.Size%shader.UniformBlockAlignment != 0 {
		return -1, &common.ReflectionError{
			Program: stage.String(),
			Reason:  fmt.Sprintf("uniform block %q size %d is not %d byte aligned", block.Name, block.Size, shader.UniformBlockAlignment),
		}
	}

	for _, v := range block.Variables {
		if uint64(v.Offset)+uint64(v.Size) > uint64(block.Size) {
			return -1, &common.ReflectionError{
				Program: stage.String(),
				Reason:  fmt.Sprintf("variable %q of uniform block %q spans bytes %d..%d past the %d byte block", v.Name, block.Name, v.Offset, uint64(v.Offset)+uint64(v.Size), block.Size),
			}
		}
	}

	index := len(r.stages[stage])
	slot := device.Slot{Stage: stage, Index: index, Group: block.Group, Binding: block.Binding}

	buf, err := r.device.CreateBuffer(device.BufferDesc{
		Label: fmt.Sprintf("%s %s Constant Buffer", stage, block.Name),
		Size:  uint64(block.Size),
		Usage: device.UsageConstant | device.UsageDynamic,
	}, nil)
	if err != nil {
		return -1, &common.DeviceError{Op: "create constant buffer " + block.Name, Err: err}
	}
	if err := r.device.BindConstantBuffer(slot, buf); err != nil {
		r.device.Release(buf)
		return -1, &common.DeviceError{Op: "bind constant buffer " + block.Name, Err: err}
	}

	r.stages[stage] = append(r.stages[stage], newLayout(block, slot, buf))
	r.logger.Debug("registered uniform block", "stage", stage, "block", block.Name, "slot", index, "size", block.Size, "variables", len(block.Variables))
	return index, nil
}

func (r *registry) RegisterProgram(p shader.Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stage := p.Stage()
	for _, block := range p.Reflection().Blocks {
		if existing := r.find(stage, block.Name); existing != nil {
			if !existing.matches(block) {
				return &common.ReflectionError{
					Program: p.Key(),
					Reason:  fmt.Sprintf("uniform block %q conflicts with the layout already registered for the %s stage", block.Name, stage),
				}
			}
			r.logger.Debug("sharing uniform block", "program", p.Key(), "block", block.Name)
			continue
		}
		if _, err := r.registerBlock(stage, block); err != nil {
			if re, ok := err.(*common.ReflectionError); ok {
				re.Program = p.Key()
			}
			return err
		}
	}
	return nil
}

func (r *registry) Layouts(stage shader.Stage) []*ConstantBufferLayout {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ConstantBufferLayout(nil), r.stages[stage]...)
}

func (r *registry) Layout(stage shader.Stage, block string) (*ConstantBufferLayout, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.find(stage, block)
	return l, l != nil
}

func (r *registry) Shadow(stage shader.Stage, block string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.find(stage, block)
	if l == nil {
		return nil, false
	}
	return append([]byte(nil), l.shadow...), true
}

func (r *registry) Dirty(stage shader.Stage, block string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.find(stage, block)
	return l != nil && l.dirty
}

func (r *registry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for stage, layouts := range r.stages {
		for _, l := range layouts {
			r.device.Release(l.buffer)
		}
		delete(r.stages, stage)
	}
}

// find performs a linear search of the stage's blocks. Block counts are small.
func (r *registry) find(stage shader.Stage, block string) *ConstantBufferLayout {
	for _, l := range r.stages[stage] {
		if l.name == block {
			return l
		}
	}
	return nil
}
