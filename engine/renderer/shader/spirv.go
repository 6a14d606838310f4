package shader

import (
	"encoding/binary"
	"fmt"
)

// SPIR-V binary constants used by the reflector.
// Reference: https://registry.khronos.org/SPIR-V/specs/unified1/SPIRV.html
const (
	spvMagic        uint32 = 0x07230203
	spvMagicSwapped uint32 = 0x03022307
	spvHeaderWords         = 5
)

const (
	opName           uint16 = 5
	opMemberName     uint16 = 6
	opEntryPoint     uint16 = 15
	opTypeVoid       uint16 = 19
	opTypeBool       uint16 = 20
	opTypeInt        uint16 = 21
	opTypeFloat      uint16 = 22
	opTypeVector     uint16 = 23
	opTypeMatrix     uint16 = 24
	opTypeImage      uint16 = 25
	opTypeSampler    uint16 = 26
	opTypeSampled    uint16 = 27
	opTypeArray      uint16 = 28
	opTypeRuntime    uint16 = 29
	opTypeStruct     uint16 = 30
	opTypePointer    uint16 = 32
	opConstant       uint16 = 43
	opVariable       uint16 = 59
	opDecorate       uint16 = 71
	opMemberDecorate uint16 = 72
)

const (
	decorationBlock         uint32 = 2
	decorationBufferBlock   uint32 = 3
	decorationArrayStride   uint32 = 6
	decorationMatrixStride  uint32 = 7
	decorationBuiltIn       uint32 = 11
	decorationLocation      uint32 = 30
	decorationBinding       uint32 = 33
	decorationDescriptorSet uint32 = 34
	decorationOffset        uint32 = 35
)

const (
	storageUniformConstant uint32 = 0
	storageInput           uint32 = 1
	storageUniform         uint32 = 2
	storageStorageBuffer   uint32 = 12
)

const (
	execModelVertex   uint32 = 0
	execModelFragment uint32 = 4
)

// spvType is a decoded OpType* instruction.
type spvType struct {
	op      uint16
	width   uint32   // int/float bit width
	signed  bool     // int signedness
	elem    uint32   // vector component, matrix column, array element, image sampled type, pointer pointee
	count   uint32   // vector components, matrix columns
	length  uint32   // constant id holding the array length
	members []uint32 // struct member type ids
	storage uint32   // pointer storage class
}

// spvMember holds the per-member decorations and name of a struct type.
type spvMember struct {
	name         string
	offset       uint32
	hasOffset    bool
	matrixStride uint32
	builtin      bool
}

// spvDecorations holds the id-level decorations the reflector cares about.
type spvDecorations struct {
	block       bool
	bufferBlock bool
	arrayStride uint32
	binding     uint32
	hasBinding  bool
	set         uint32
	location    uint32
	hasLocation bool
	builtin     bool
}

type spvVariable struct {
	id      uint32
	ptrType uint32
	storage uint32
}

type spvEntryPoint struct {
	model uint32
	name  string
}

// spvModule is the flat, decoded view of a SPIR-V binary.
type spvModule struct {
	names       map[uint32]string
	members     map[uint32]map[uint32]*spvMember
	decorations map[uint32]*spvDecorations
	types       map[uint32]*spvType
	constants   map[uint32]uint32
	variables   []spvVariable
	entryPoints []spvEntryPoint

	// sizing holds the type ids whose size is being computed, to reject self-referencing types.
	sizing map[uint32]struct{}
}

// parseSPIRV decodes the instruction stream of a SPIR-V module.
// Only the instructions needed for reflection are interpreted; everything else is skipped by word count.
//
// Parameters:
//   - binary: the little-endian SPIR-V binary
//
// Returns:
//   - *spvModule: the decoded module
//   - error: a descriptive error if the binary is truncated or malformed
func parseSPIRV(binary []byte) (*spvModule, error) {
	if len(binary)%4 != 0 {
		return nil, fmt.Errorf("binary length %d is not a multiple of 4", len(binary))
	}
	words := bytesToWords(binary)
	if len(words) < spvHeaderWords {
		return nil, fmt.Errorf("binary too short for a SPIR-V header (%d words)", len(words))
	}
	switch words[0] {
	case spvMagic:
	case spvMagicSwapped:
		return nil, fmt.Errorf("big-endian SPIR-V is not supported")
	default:
		return nil, fmt.Errorf("bad magic number 0x%08x", words[0])
	}

	m := &spvModule{
		names:       make(map[uint32]string),
		members:     make(map[uint32]map[uint32]*spvMember),
		decorations: make(map[uint32]*spvDecorations),
		types:       make(map[uint32]*spvType),
		constants:   make(map[uint32]uint32),
		sizing:      make(map[uint32]struct{}),
	}

	for i := spvHeaderWords; i < len(words); {
		wordCount := int(words[i] >> 16)
		opcode := uint16(words[i] & 0xFFFF)
		if wordCount == 0 {
			return nil, fmt.Errorf("zero-length instruction at word %d", i)
		}
		if i+wordCount > len(words) {
			return nil, fmt.Errorf("instruction at word %d (opcode %d) overruns the binary", i, opcode)
		}
		if err := m.decode(opcode, words[i+1:i+wordCount]); err != nil {
			return nil, fmt.Errorf("opcode %d at word %d: %w", opcode, i, err)
		}
		i += wordCount
	}

	return m, nil
}

func (m *spvModule) decode(opcode uint16, ops []uint32) error {
	need := func(n int) error {
		if len(ops) < n {
			return fmt.Errorf("expected at least %d operands, got %d", n, len(ops))
		}
		return nil
	}

	switch opcode {
	case opName:
		if err := need(1); err != nil {
			return err
		}
		m.names[ops[0]] = decodeString(ops[1:])
	case opMemberName:
		if err := need(2); err != nil {
			return err
		}
		m.member(ops[0], ops[1]).name = decodeString(ops[2:])
	case opEntryPoint:
		if err := need(3); err != nil {
			return err
		}
		m.entryPoints = append(m.entryPoints, spvEntryPoint{model: ops[0], name: decodeString(ops[2:])})
	case opTypeVoid, opTypeBool, opTypeSampler:
		if err := need(1); err != nil {
			return err
		}
		m.types[ops[0]] = &spvType{op: opcode}
	case opTypeInt:
		if err := need(3); err != nil {
			return err
		}
		m.types[ops[0]] = &spvType{op: opcode, width: ops[1], signed: ops[2] != 0}
	case opTypeFloat:
		if err := need(2); err != nil {
			return err
		}
		m.types[ops[0]] = &spvType{op: opcode, width: ops[1]}
	case opTypeVector, opTypeMatrix:
		if err := need(3); err != nil {
			return err
		}
		m.types[ops[0]] = &spvType{op: opcode, elem: ops[1], count: ops[2]}
	case opTypeImage, opTypeSampled, opTypeRuntime:
		if err := need(2); err != nil {
			return err
		}
		m.types[ops[0]] = &spvType{op: opcode, elem: ops[1]}
	case opTypeArray:
		if err := need(3); err != nil {
			return err
		}
		m.types[ops[0]] = &spvType{op: opcode, elem: ops[1], length: ops[2]}
	case opTypeStruct:
		if err := need(1); err != nil {
			return err
		}
		m.types[ops[0]] = &spvType{op: opcode, members: append([]uint32(nil), ops[1:]...)}
	case opTypePointer:
		if err := need(3); err != nil {
			return err
		}
		m.types[ops[0]] = &spvType{op: opcode, storage: ops[1], elem: ops[2]}
	case opConstant:
		if err := need(3); err != nil {
			return err
		}
		m.constants[ops[1]] = ops[2]
	case opVariable:
		if err := need(3); err != nil {
			return err
		}
		m.variables = append(m.variables, spvVariable{ptrType: ops[0], id: ops[1], storage: ops[2]})
	case opDecorate:
		if err := need(2); err != nil {
			return err
		}
		d := m.decoration(ops[0])
		literal := func() (uint32, error) {
			if len(ops) < 3 {
				return 0, fmt.Errorf("decoration %d is missing its literal", ops[1])
			}
			return ops[2], nil
		}
		var err error
		switch ops[1] {
		case decorationBlock:
			d.block = true
		case decorationBufferBlock:
			d.bufferBlock = true
		case decorationBuiltIn:
			d.builtin = true
		case decorationArrayStride:
			d.arrayStride, err = literal()
		case decorationBinding:
			d.binding, err = literal()
			d.hasBinding = err == nil
		case decorationDescriptorSet:
			d.set, err = literal()
		case decorationLocation:
			d.location, err = literal()
			d.hasLocation = err == nil
		}
		return err
	case opMemberDecorate:
		if err := need(3); err != nil {
			return err
		}
		mem := m.member(ops[0], ops[1])
		switch ops[2] {
		case decorationOffset:
			if len(ops) < 4 {
				return fmt.Errorf("offset decoration is missing its literal")
			}
			mem.offset, mem.hasOffset = ops[3], true
		case decorationMatrixStride:
			if len(ops) < 4 {
				return fmt.Errorf("matrix stride decoration is missing its literal")
			}
			mem.matrixStride = ops[3]
		case decorationBuiltIn:
			mem.builtin = true
		}
	}
	return nil
}

func (m *spvModule) member(structID, index uint32) *spvMember {
	byIndex, ok := m.members[structID]
	if !ok {
		byIndex = make(map[uint32]*spvMember)
		m.members[structID] = byIndex
	}
	mem, ok := byIndex[index]
	if !ok {
		mem = &spvMember{}
		byIndex[index] = mem
	}
	return mem
}

func (m *spvModule) decoration(id uint32) *spvDecorations {
	d, ok := m.decorations[id]
	if !ok {
		d = &spvDecorations{}
		m.decorations[id] = d
	}
	return d
}

// memberInfo returns the decorations of a struct member, or an empty record if none were declared.
func (m *spvModule) memberInfo(structID, index uint32) spvMember {
	if mem, ok := m.members[structID][index]; ok {
		return *mem
	}
	return spvMember{}
}

func (m *spvModule) decorationsOf(id uint32) spvDecorations {
	if d, ok := m.decorations[id]; ok {
		return *d
	}
	return spvDecorations{}
}

func bytesToWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

// decodeString reads a NUL-terminated literal string packed little-endian into words.
func decodeString(words []uint32) string {
	buf := make([]byte, 0, len(words)*4)
	for _, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return string(buf)
			}
			buf = append(buf, c)
		}
	}
	return string(buf)
}
