package cbuffer

import (
	"slices"

	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
)

// ConstantBufferLayout is the registry entry for one uniform block: its reflected variable layout, a
// CPU-side shadow copy of the block's bytes, the device buffer the shadow is uploaded to and a dirty flag.
// The size and offsets never change after registration; only the shadow contents and dirty state do.
type ConstantBufferLayout struct {
	name      string
	slot      device.Slot
	variables []shader.Variable
	size      uint32
	shadow    []byte
	buffer    device.Handle
	dirty     bool
	// version increments on every write so a flush can tell whether the shadow moved during its upload.
	version uint64
}

func newLayout(block shader.Block, slot device.Slot, buffer device.Handle) *ConstantBufferLayout {
	return &ConstantBufferLayout{
		name:      block.Name,
		slot:      slot,
		variables: slices.Clone(block.Variables),
		size:      block.Size,
		shadow:    make([]byte, block.Size),
		buffer:    buffer,
	}
}

// Name returns the block name.
func (l *ConstantBufferLayout) Name() string {
	return l.name
}

// Slot returns the slot the block's buffer is bound to.
func (l *ConstantBufferLayout) Slot() device.Slot {
	return l.slot
}

// Size returns the 16 byte aligned block size.
func (l *ConstantBufferLayout) Size() uint32 {
	return l.size
}

// Buffer returns the device buffer backing the block.
func (l *ConstantBufferLayout) Buffer() device.Handle {
	return l.buffer
}

// Variables returns the block's variables in declaration order.
func (l *ConstantBufferLayout) Variables() []shader.Variable {
	return slices.Clone(l.variables)
}

// Variable looks up a variable by name.
func (l *ConstantBufferLayout) Variable(name string) (shader.Variable, bool) {
	for _, v := range l.variables {
		if v.Name == name {
			return v, true
		}
	}
	return shader.Variable{}, false
}

// matches reports whether a reflected block has exactly this layout.
func (l *ConstantBufferLayout) matches(block shader.Block) bool {
	return l.size == block.Size &&
		l.slot.Group == block.Group &&
		l.slot.Binding == block.Binding &&
		slices.Equal(l.variables, block.Variables)
}

func (l *ConstantBufferLayout) write(offset uint32, data []byte) {
	copy(l.shadow[offset:], data)
	l.dirty = true
	l.version++
}
