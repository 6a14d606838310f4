package shader

import "encoding/binary"

// spirvBuilder assembles minimal SPIR-V modules for reflection tests.
// Only the instructions the reflector reads are emitted; ids are allocated sequentially.
type spirvBuilder struct {
	words []uint32
	next  uint32
}

func newSPIRVBuilder() *spirvBuilder {
	return &spirvBuilder{
		words: []uint32{spvMagic, 0x00010300, 0, 0, 0},
		next:  1,
	}
}

func (b *spirvBuilder) id() uint32 {
	id := b.next
	b.next++
	return id
}

func (b *spirvBuilder) inst(op uint16, operands ...uint32) {
	b.words = append(b.words, uint32(len(operands)+1)<<16|uint32(op))
	b.words = append(b.words, operands...)
}

func encodeString(s string) []uint32 {
	raw := append([]byte(s), 0)
	for len(raw)%4 != 0 {
		raw = append(raw, 0)
	}
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out
}

func (b *spirvBuilder) entryPoint(model uint32, name string) {
	fn := b.id()
	b.inst(opEntryPoint, append([]uint32{model, fn}, encodeString(name)...)...)
}

func (b *spirvBuilder) name(id uint32, name string) {
	b.inst(opName, append([]uint32{id}, encodeString(name)...)...)
}

func (b *spirvBuilder) memberName(structID, index uint32, name string) {
	b.inst(opMemberName, append([]uint32{structID, index}, encodeString(name)...)...)
}

func (b *spirvBuilder) decorate(id, decoration uint32, literals ...uint32) {
	b.inst(opDecorate, append([]uint32{id, decoration}, literals...)...)
}

func (b *spirvBuilder) memberDecorate(structID, index, decoration uint32, literals ...uint32) {
	b.inst(opMemberDecorate, append([]uint32{structID, index, decoration}, literals...)...)
}

func (b *spirvBuilder) float32Type() uint32 {
	id := b.id()
	b.inst(opTypeFloat, id, 32)
	return id
}

func (b *spirvBuilder) intType(signed bool) uint32 {
	id := b.id()
	var s uint32
	if signed {
		s = 1
	}
	b.inst(opTypeInt, id, 32, s)
	return id
}

func (b *spirvBuilder) vectorType(elem, count uint32) uint32 {
	id := b.id()
	b.inst(opTypeVector, id, elem, count)
	return id
}

func (b *spirvBuilder) matrixType(column, count uint32) uint32 {
	id := b.id()
	b.inst(opTypeMatrix, id, column, count)
	return id
}

func (b *spirvBuilder) constant(typeID, value uint32) uint32 {
	id := b.id()
	b.inst(opConstant, typeID, id, value)
	return id
}

func (b *spirvBuilder) arrayType(elem, lengthID, stride uint32) uint32 {
	id := b.id()
	b.inst(opTypeArray, id, elem, lengthID)
	if stride != 0 {
		b.decorate(id, decorationArrayStride, stride)
	}
	return id
}

func (b *spirvBuilder) structType(members ...uint32) uint32 {
	id := b.id()
	b.inst(opTypeStruct, append([]uint32{id}, members...)...)
	return id
}

func (b *spirvBuilder) imageType(sampled uint32) uint32 {
	id := b.id()
	// Dim 2D, depth 0, arrayed 0, MS 0, sampled 1, format Unknown.
	b.inst(opTypeImage, id, sampled, 1, 0, 0, 0, 1, 0)
	return id
}

func (b *spirvBuilder) samplerType() uint32 {
	id := b.id()
	b.inst(opTypeSampler, id)
	return id
}

func (b *spirvBuilder) sampledImageType(image uint32) uint32 {
	id := b.id()
	b.inst(opTypeSampled, id, image)
	return id
}

func (b *spirvBuilder) variable(storage, pointee uint32) uint32 {
	ptr := b.id()
	b.inst(opTypePointer, ptr, storage, pointee)
	id := b.id()
	b.inst(opVariable, ptr, id, storage)
	return id
}

// uniform declares a Block-decorated uniform variable at group/binding.
func (b *spirvBuilder) uniform(name string, structID, group, binding uint32) uint32 {
	b.decorate(structID, decorationBlock)
	v := b.variable(storageUniform, structID)
	if name != "" {
		b.name(v, name)
	}
	b.decorate(v, decorationDescriptorSet, group)
	b.decorate(v, decorationBinding, binding)
	return v
}

// handle declares a UniformConstant texture or sampler variable.
func (b *spirvBuilder) handle(name string, typeID, group, binding uint32) uint32 {
	v := b.variable(storageUniformConstant, typeID)
	b.name(v, name)
	b.decorate(v, decorationDescriptorSet, group)
	b.decorate(v, decorationBinding, binding)
	return v
}

// input declares a vertex input at location.
func (b *spirvBuilder) input(name string, typeID, location uint32) uint32 {
	v := b.variable(storageInput, typeID)
	b.name(v, name)
	b.decorate(v, decorationLocation, location)
	return v
}

func (b *spirvBuilder) bytes() []byte {
	words := append([]uint32(nil), b.words...)
	words[3] = b.next
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}
