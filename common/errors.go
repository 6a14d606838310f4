package common

import (
	"fmt"
)

// ReflectionError is returned when a shader binary cannot be parsed or introspected.
// It is fatal to initialization: a program that fails reflection is never partially loaded.
type ReflectionError struct {
	// Program is the key of the shader program being reflected.
	Program string
	// Reason describes what was malformed or unsupported.
	Reason string
	// Err is the underlying cause, if any.
	Err error
}

func (e *ReflectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reflection of %q failed: %s: %v", e.Program, e.Reason, e.Err)
	}
	return fmt.Sprintf("reflection of %q failed: %s", e.Program, e.Reason)
}

func (e *ReflectionError) Unwrap() error {
	return e.Err
}

// UnknownBlockError is returned when a caller references a uniform block that the shader stage does not declare.
// The update is skipped and rendering continues with the previous contents.
type UnknownBlockError struct {
	Stage string
	Block string
}

func (e *UnknownBlockError) Error() string {
	return fmt.Sprintf("%s stage has no uniform block %q", e.Stage, e.Block)
}

// UnknownVariableError is returned when a caller references a variable that a known uniform block does not declare.
// The update is skipped and the block's shadow buffer is left untouched.
type UnknownVariableError struct {
	Stage    string
	Block    string
	Variable string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("%s uniform block %q has no variable %q", e.Stage, e.Block, e.Variable)
}

// RangeError is returned when a write would exceed an allocated capacity or the bounds of its source.
// It is fatal for the current frame.
type RangeError struct {
	// What names the resource being written (e.g. "instances[Terrain]", "bones", "Camera.viewProj").
	What string
	// Offset is the first element or byte of the requested range.
	Offset uint64
	// Count is the number of elements or bytes requested.
	Count uint64
	// Limit is the capacity or length the range was checked against.
	Limit uint64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: range [%d, %d) exceeds limit %d", e.What, e.Offset, e.Offset+e.Count, e.Limit)
}

// DeviceError wraps any failure reported by the graphics device, such as buffer creation, map or draw.
// It is fatal for the current frame and never retried automatically.
type DeviceError struct {
	// Op is the device operation that failed.
	Op string
	// Err is the error reported by the device.
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
