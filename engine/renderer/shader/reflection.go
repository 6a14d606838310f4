package shader

import (
	"fmt"
	"math"
	"sort"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
)

// UniformBlockAlignment is the byte alignment every uniform block size is rounded up to.
const UniformBlockAlignment uint32 = 16

// ResourceKind classifies a bound shader resource.
type ResourceKind int

const (
	// ResourceUniform is a uniform (constant) buffer block.
	ResourceUniform ResourceKind = iota

	// ResourceStorage is a read-only structured (storage) buffer, such as the per-instance array.
	ResourceStorage

	// ResourceTexture is a sampled texture.
	ResourceTexture

	// ResourceSampler is a standalone sampler.
	ResourceSampler
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceUniform:
		return "uniform"
	case ResourceStorage:
		return "storage"
	case ResourceTexture:
		return "texture"
	case ResourceSampler:
		return "sampler"
	}
	return fmt.Sprintf("ResourceKind(%d)", int(k))
}

// ScalarKind is the component type of a vertex input.
type ScalarKind int

const (
	ScalarFloat ScalarKind = iota
	ScalarSint
	ScalarUint
)

// Variable is a named member of a uniform block with its compiler-assigned byte offset and size.
// It is immutable once extracted.
type Variable struct {
	Name   string
	Offset uint32
	Size   uint32
}

// Block describes one uniform block declared by a shader stage.
type Block struct {
	// Name is the block's instance name, falling back to its type name.
	Name string
	// Group and Binding locate the block in the pipeline layout.
	Group, Binding uint32
	// Variables lists the block's members in declaration order.
	Variables []Variable
	// Size is max(offset+size) over all variables rounded up to UniformBlockAlignment.
	Size uint32
}

// Variable looks up a member of the block by name.
//
// Parameters:
//   - name: the variable name
//
// Returns:
//   - Variable: the variable layout
//   - bool: true if the block declares the variable
func (b *Block) Variable(name string) (Variable, bool) {
	for _, v := range b.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// Resource is any bound shader resource: uniform block, storage buffer, texture or sampler.
type Resource struct {
	Name           string
	Kind           ResourceKind
	Group, Binding uint32
	// Size is the block size for uniform resources and the fixed-size prefix for storage resources.
	Size uint32
}

// VertexInput is a per-vertex attribute consumed by a vertex entry point.
type VertexInput struct {
	Name       string
	Location   uint32
	Components uint32
	Scalar     ScalarKind
	// Size is the attribute's byte size when tightly packed.
	Size uint32
}

// Reflection is the result of introspecting one compiled shader stage.
type Reflection struct {
	Stage      Stage
	EntryPoint string

	// Blocks lists the uniform blocks in declaration order. Position is the block's slot index.
	Blocks []Block

	// Resources lists every bound resource in declaration order.
	Resources []Resource

	// Textures maps sampled texture names to their binding slot. Only populated for the fragment stage.
	Textures map[string]uint32

	// Inputs lists vertex attributes sorted by location. Only populated for the vertex stage.
	Inputs []VertexInput
}

// Block looks up a uniform block by name.
func (r *Reflection) Block(name string) (*Block, bool) {
	for i := range r.Blocks {
		if r.Blocks[i].Name == name {
			return &r.Blocks[i], true
		}
	}
	return nil, false
}

// Resource looks up a bound resource by name.
func (r *Reflection) Resource(name string) (Resource, bool) {
	for _, res := range r.Resources {
		if res.Name == name {
			return res, true
		}
	}
	return Resource{}, false
}

// VertexStride returns the tightly packed byte size of one vertex as consumed by the entry point.
func (r *Reflection) VertexStride() uint32 {
	var stride uint32
	for _, in := range r.Inputs {
		stride += in.Size
	}
	return stride
}

// ReflectOption configures Reflect.
type ReflectOption func(*reflectConfig)

type reflectConfig struct {
	program        string
	padEmptyBlocks bool
}

// WithPadEmptyBlocks rounds the size of blocks with no variables up to UniformBlockAlignment instead of leaving it at 0.
// Backends that reject zero-sized buffers need this enabled.
//
// Parameters:
//   - pad: true to give empty blocks a 16 byte size
//
// Returns:
//   - ReflectOption: the option
func WithPadEmptyBlocks(pad bool) ReflectOption {
	return func(c *reflectConfig) {
		c.padEmptyBlocks = pad
	}
}

// WithProgramName sets the program name reported in ReflectionError values.
func WithProgramName(name string) ReflectOption {
	return func(c *reflectConfig) {
		c.program = name
	}
}

// Reflect introspects a compiled SPIR-V shader binary for the given stage.
// Uniform blocks and their variables are enumerated in compiler-assigned declaration order, with offsets
// taken verbatim from the binary's Offset decorations. Any failure is returned as a *common.ReflectionError.
//
// Parameters:
//   - stage: the pipeline stage the binary was compiled for
//   - binary: the SPIR-V binary
//   - options: variadic list of ReflectOption functions
//
// Returns:
//   - *Reflection: the reflected layouts and bindings
//   - error: a *common.ReflectionError if the binary cannot be parsed or introspected
func Reflect(stage Stage, binary []byte, options ...ReflectOption) (*Reflection, error) {
	cfg := &reflectConfig{program: stage.String()}
	for _, opt := range options {
		opt(cfg)
	}

	fail := func(reason string, err error) (*Reflection, error) {
		return nil, &common.ReflectionError{Program: cfg.program, Reason: reason, Err: err}
	}

	m, err := parseSPIRV(binary)
	if err != nil {
		return fail("malformed SPIR-V", err)
	}

	r := &Reflection{Stage: stage}
	name, ok := m.entryPointFor(stage)
	if !ok {
		return fail(fmt.Sprintf("no %s entry point", stage), nil)
	}
	r.EntryPoint = name

	for _, v := range m.variables {
		ptr, ok := m.types[v.ptrType]
		if !ok || ptr.op != opTypePointer {
			return fail(fmt.Sprintf("variable %%%d has unresolved pointer type %%%d", v.id, v.ptrType), nil)
		}

		switch v.storage {
		case storageUniform, storageStorageBuffer:
			if err := r.addBuffer(m, cfg, v, ptr.elem); err != nil {
				return fail(err.Error(), nil)
			}
		case storageUniformConstant:
			if err := r.addHandle(m, v, ptr.elem); err != nil {
				return fail(err.Error(), nil)
			}
		case storageInput:
			if stage != StageVertex {
				continue
			}
			if err := r.addInput(m, v, ptr.elem); err != nil {
				return fail(err.Error(), nil)
			}
		}
	}

	sort.SliceStable(r.Inputs, func(i, j int) bool {
		return r.Inputs[i].Location < r.Inputs[j].Location
	})

	return r, nil
}

func (m *spvModule) entryPointFor(stage Stage) (string, bool) {
	want := execModelVertex
	if stage == StageFragment {
		want = execModelFragment
	}
	for _, ep := range m.entryPoints {
		if ep.model == want {
			return ep.name, true
		}
	}
	return "", false
}

func (r *Reflection) addBuffer(m *spvModule, cfg *reflectConfig, v spvVariable, structID uint32) error {
	t, ok := m.types[structID]
	if !ok || t.op != opTypeStruct {
		return fmt.Errorf("buffer variable %%%d does not point to a struct", v.id)
	}
	vd := m.decorationsOf(v.id)
	sd := m.decorationsOf(structID)

	name := common.Coalesce(m.names[v.id], m.names[structID])
	if name == "" {
		name = fmt.Sprintf("block_%d_%d", vd.set, vd.binding)
	}

	if v.storage == storageStorageBuffer || sd.bufferBlock {
		size, err := m.structSize(structID)
		if err != nil {
			return fmt.Errorf("storage buffer %q: %w", name, err)
		}
		r.Resources = append(r.Resources, Resource{Name: name, Kind: ResourceStorage, Group: vd.set, Binding: vd.binding, Size: size})
		return nil
	}

	vars, err := m.blockVariables(name, structID)
	if err != nil {
		return fmt.Errorf("uniform block %q: %w", name, err)
	}
	if _, exists := r.Block(name); exists {
		return fmt.Errorf("uniform block %q declared twice", name)
	}

	var end uint64
	for _, bv := range vars {
		end = max(end, uint64(bv.Offset)+uint64(bv.Size))
	}
	if end > math.MaxUint32-uint64(UniformBlockAlignment-1) {
		return fmt.Errorf("uniform block %q extends to byte %d, past the 32-bit limit", name, end)
	}
	size := common.AlignUp(uint32(end), UniformBlockAlignment)
	if len(vars) == 0 && cfg.padEmptyBlocks {
		size = UniformBlockAlignment
	}

	r.Blocks = append(r.Blocks, Block{Name: name, Group: vd.set, Binding: vd.binding, Variables: vars, Size: size})
	r.Resources = append(r.Resources, Resource{Name: name, Kind: ResourceUniform, Group: vd.set, Binding: vd.binding, Size: size})
	return nil
}

// blockVariables lists the members of a uniform block struct.
// A block whose only member is itself a struct is a wrapper emitted by some compilers around a named
// struct type; its inner members are lifted so they can be addressed directly.
func (m *spvModule) blockVariables(blockName string, structID uint32) ([]Variable, error) {
	if err := m.enter(structID); err != nil {
		return nil, err
	}
	defer m.leave(structID)

	t := m.types[structID]
	if len(t.members) == 1 {
		if inner, ok := m.types[t.members[0]]; ok && inner.op == opTypeStruct {
			wrapper := m.memberInfo(structID, 0)
			if !wrapper.hasOffset {
				return nil, fmt.Errorf("member 0 has no Offset decoration")
			}
			vars, err := m.blockVariables(blockName, t.members[0])
			if err != nil {
				return nil, err
			}
			for i := range vars {
				if vars[i].Offset, err = addExtent(vars[i].Offset, wrapper.offset); err != nil {
					return nil, fmt.Errorf("variable %q: %w", vars[i].Name, err)
				}
			}
			return vars, nil
		}
	}

	vars := make([]Variable, 0, len(t.members))
	seen := make(map[string]struct{}, len(t.members))
	for i, memberType := range t.members {
		info := m.memberInfo(structID, uint32(i))
		if !info.hasOffset {
			return nil, fmt.Errorf("member %d has no Offset decoration", i)
		}
		size, err := m.typeSize(memberType, info.matrixStride)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		name := info.name
		if name == "" {
			name = blockName
			if len(t.members) > 1 {
				name = fmt.Sprintf("%s_%d", blockName, i)
			}
		}
		if _, err := addExtent(info.offset, size); err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate variable %q", name)
		}
		seen[name] = struct{}{}
		vars = append(vars, Variable{Name: name, Offset: info.offset, Size: size})
	}
	return vars, nil
}

func (r *Reflection) addHandle(m *spvModule, v spvVariable, typeID uint32) error {
	t, ok := m.types[typeID]
	for ok && t.op == opTypeArray {
		t, ok = m.types[t.elem]
	}
	if !ok {
		return fmt.Errorf("handle variable %%%d has unresolved type %%%d", v.id, typeID)
	}

	var kind ResourceKind
	switch t.op {
	case opTypeImage, opTypeSampled:
		kind = ResourceTexture
	case opTypeSampler:
		kind = ResourceSampler
	default:
		return nil
	}

	vd := m.decorationsOf(v.id)
	name := m.names[v.id]
	if name == "" {
		name = fmt.Sprintf("%s_%d_%d", kind, vd.set, vd.binding)
	}
	r.Resources = append(r.Resources, Resource{Name: name, Kind: kind, Group: vd.set, Binding: vd.binding})

	if kind == ResourceTexture && r.Stage == StageFragment {
		if r.Textures == nil {
			r.Textures = make(map[string]uint32)
		}
		r.Textures[name] = vd.binding
	}
	return nil
}

func (r *Reflection) addInput(m *spvModule, v spvVariable, typeID uint32) error {
	vd := m.decorationsOf(v.id)
	if vd.builtin || !vd.hasLocation {
		return nil
	}

	t, ok := m.types[typeID]
	if !ok {
		return fmt.Errorf("input variable %%%d has unresolved type %%%d", v.id, typeID)
	}
	components := uint32(1)
	if t.op == opTypeVector {
		components = t.count
		if t, ok = m.types[t.elem]; !ok {
			return fmt.Errorf("input variable %%%d has unresolved component type", v.id)
		}
	}

	var scalar ScalarKind
	switch {
	case t.op == opTypeFloat:
		scalar = ScalarFloat
	case t.op == opTypeInt && t.signed:
		scalar = ScalarSint
	case t.op == opTypeInt:
		scalar = ScalarUint
	default:
		return fmt.Errorf("input variable %%%d has unsupported type", v.id)
	}

	r.Inputs = append(r.Inputs, VertexInput{
		Name:       m.names[v.id],
		Location:   vd.location,
		Components: components,
		Scalar:     scalar,
		Size:       components * t.width / 8,
	})
	return nil
}

// typeSize computes the byte size of a type as laid out in an explicitly decorated block.
// matrixStride is the MatrixStride decoration of the enclosing member, or 0 when absent.
func (m *spvModule) typeSize(id uint32, matrixStride uint32) (uint32, error) {
	t, ok := m.types[id]
	if !ok {
		return 0, fmt.Errorf("unresolved type %%%d", id)
	}
	if err := m.enter(id); err != nil {
		return 0, err
	}
	defer m.leave(id)

	switch t.op {
	case opTypeBool:
		return 4, nil
	case opTypeInt, opTypeFloat:
		return t.width / 8, nil
	case opTypeVector:
		comp, err := m.typeSize(t.elem, 0)
		if err != nil {
			return 0, err
		}
		return mulExtent(comp, t.count)
	case opTypeMatrix:
		column, err := m.typeSize(t.elem, 0)
		if err != nil {
			return 0, err
		}
		if matrixStride == 0 {
			matrixStride = column
		}
		return mulExtent(matrixStride, t.count)
	case opTypeArray:
		length, ok := m.constants[t.length]
		if !ok {
			return 0, fmt.Errorf("array type %%%d has non-constant length", id)
		}
		stride := m.decorationsOf(id).arrayStride
		if stride == 0 {
			elem, err := m.typeSize(t.elem, matrixStride)
			if err != nil {
				return 0, err
			}
			stride = elem
		}
		return mulExtent(stride, length)
	case opTypeRuntime:
		return 0, nil
	case opTypeStruct:
		return m.membersEnd(id)
	}
	return 0, fmt.Errorf("type %%%d (opcode %d) has no defined size", id, t.op)
}

func (m *spvModule) structSize(id uint32) (uint32, error) {
	if err := m.enter(id); err != nil {
		return 0, err
	}
	defer m.leave(id)
	return m.membersEnd(id)
}

func (m *spvModule) membersEnd(id uint32) (uint32, error) {
	t := m.types[id]
	var end uint32
	for i, memberType := range t.members {
		info := m.memberInfo(id, uint32(i))
		if !info.hasOffset {
			return 0, fmt.Errorf("struct %%%d member %d has no Offset decoration", id, i)
		}
		size, err := m.typeSize(memberType, info.matrixStride)
		if err != nil {
			return 0, err
		}
		memberEnd, err := addExtent(info.offset, size)
		if err != nil {
			return 0, fmt.Errorf("struct %%%d member %d: %w", id, i, err)
		}
		end = max(end, memberEnd)
	}
	return end, nil
}

// enter marks a type as being sized. It fails when the type is already being sized, which only
// happens for a type that contains itself.
func (m *spvModule) enter(id uint32) error {
	if _, busy := m.sizing[id]; busy {
		return fmt.Errorf("recursive type %%%d", id)
	}
	m.sizing[id] = struct{}{}
	return nil
}

func (m *spvModule) leave(id uint32) {
	delete(m.sizing, id)
}

func addExtent(a, b uint32) (uint32, error) {
	sum := uint64(a) + uint64(b)
	if sum > math.MaxUint32 {
		return 0, fmt.Errorf("byte extent %d overflows 32 bits", sum)
	}
	return uint32(sum), nil
}

func mulExtent(a, b uint32) (uint32, error) {
	product := uint64(a) * uint64(b)
	if product > math.MaxUint32 {
		return 0, fmt.Errorf("byte extent %d overflows 32 bits", product)
	}
	return uint32(product), nil
}
