package cbuffer

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
)

// ErrStaleHandle is returned when a VariableHandle is written after the block it was resolved against was
// released, for example by a shader reload. Resolve the variable again to get a live handle.
var ErrStaleHandle = errors.New("cbuffer: variable handle refers to a released block")

// flushOrder is the order stages are uploaded in by Flush.
var flushOrder = []shader.Stage{shader.StageVertex, shader.StageFragment}

// VariableHandle is a resolved reference to one variable of one block. Resolving once and writing through
// the handle skips the per-write name lookups of SetVariable.
type VariableHandle struct {
	layout   *ConstantBufferLayout
	stage    shader.Stage
	variable shader.Variable
}

// Name returns "Block.variable" for diagnostics.
func (h VariableHandle) Name() string {
	if h.layout == nil {
		return "<unresolved>"
	}
	return h.layout.name + "." + h.variable.Name
}

func (r *registry) SetVariable(stage shader.Stage, block, variable string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, err := r.resolve(stage, block, variable)
	if err != nil {
		return err
	}
	return h.write(data)
}

func (r *registry) Resolve(stage shader.Stage, block, variable string) (VariableHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolve(stage, block, variable)
}

func (r *registry) SetVariableHandle(h VariableHandle, data []byte) error {
	if h.layout == nil {
		return fmt.Errorf("cbuffer: write through an unresolved variable handle")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.find(h.stage, h.layout.name) != h.layout {
		return fmt.Errorf("%s: %w", h.Name(), ErrStaleHandle)
	}
	return h.write(data)
}

func (r *registry) resolve(stage shader.Stage, block, variable string) (VariableHandle, error) {
	l := r.find(stage, block)
	if l == nil {
		return VariableHandle{}, &common.UnknownBlockError{Stage: stage.String(), Block: block}
	}
	v, ok := l.Variable(variable)
	if !ok {
		return VariableHandle{}, &common.UnknownVariableError{Stage: stage.String(), Block: block, Variable: variable}
	}
	return VariableHandle{layout: l, stage: stage, variable: v}, nil
}

func (h VariableHandle) write(data []byte) error {
	if uint32(len(data)) > h.variable.Size {
		return &common.RangeError{
			What:   h.Name(),
			Offset: uint64(h.variable.Offset),
			Count:  uint64(len(data)),
			Limit:  uint64(h.variable.Size),
		}
	}
	h.layout.write(h.variable.Offset, data)
	return nil
}

type pendingUpload struct {
	layout  *ConstantBufferLayout
	data    []byte
	version uint64
}

func (r *registry) Flush() (int, error) {
	// Snapshot under the lock, upload without it, then clear dirty only for blocks nobody wrote meanwhile.
	r.mu.Lock()
	var pending []pendingUpload
	for _, stage := range flushOrder {
		for _, l := range r.stages[stage] {
			if !l.dirty {
				continue
			}
			pending = append(pending, pendingUpload{
				layout:  l,
				data:    append([]byte(nil), l.shadow...),
				version: l.version,
			})
		}
	}
	r.mu.Unlock()

	uploads := 0
	for _, p := range pending {
		if err := r.device.WriteBuffer(p.layout.buffer, 0, p.data); err != nil {
			r.logger.Error("constant buffer upload failed", "block", p.layout.name, "err", err)
			return uploads, &common.DeviceError{Op: "upload constant buffer " + p.layout.name, Err: err}
		}
		uploads++

		r.mu.Lock()
		if p.layout.version == p.version {
			p.layout.dirty = false
		}
		r.mu.Unlock()
	}

	if uploads > 0 {
		r.logger.Debug("flushed constant buffers", "uploads", uploads)
	}
	return uploads, nil
}
