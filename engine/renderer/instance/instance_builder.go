package instance

import (
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/device"
	"github.com/charmbracelet/log"
)

// UploaderBuilderOption is a functional option applied to an uploader during construction via NewUploader.
type UploaderBuilderOption func(*uploader)

// WithMaxInstances sets the fixed capacity of the instance buffer.
//
// Parameters:
//   - n: the maximum number of instances per upload
//
// Returns:
//   - UploaderBuilderOption: a function that applies the capacity option to an uploader
func WithMaxInstances(n int) UploaderBuilderOption {
	return func(u *uploader) {
		u.maxInstances = n
	}
}

// WithMaxBones sets the fixed capacity of the bone palette texture.
//
// Parameters:
//   - n: the maximum number of bone matrices
//
// Returns:
//   - UploaderBuilderOption: a function that applies the capacity option to an uploader
func WithMaxBones(n int) UploaderBuilderOption {
	return func(u *uploader) {
		u.maxBones = n
	}
}

// WithInstanceSlots binds the instance buffer to every given slot at construction.
//
// Parameters:
//   - slots: the structured buffer slots reading instance records
//
// Returns:
//   - UploaderBuilderOption: a function that applies the slot option to an uploader
func WithInstanceSlots(slots ...device.Slot) UploaderBuilderOption {
	return func(u *uploader) {
		u.instanceSlots = append(u.instanceSlots, slots...)
	}
}

// WithBoneSlots binds the bone texture to every given slot at construction.
//
// Parameters:
//   - slots: the texture slots reading the bone palette
//
// Returns:
//   - UploaderBuilderOption: a function that applies the slot option to an uploader
func WithBoneSlots(slots ...device.Slot) UploaderBuilderOption {
	return func(u *uploader) {
		u.boneSlots = append(u.boneSlots, slots...)
	}
}

// WithEncodeWorkers sets the number of workers encoding large instance ranges. 1 disables the pool.
// Values below 1 are ignored.
//
// Parameters:
//   - n: the worker count
//
// Returns:
//   - UploaderBuilderOption: a function that applies the worker option to an uploader
func WithEncodeWorkers(n int) UploaderBuilderOption {
	return func(u *uploader) {
		if n >= 1 {
			u.workers = n
		}
	}
}

// WithParallelThreshold sets the smallest instance range encoded on the worker pool.
//
// Parameters:
//   - n: the instance count threshold
//
// Returns:
//   - UploaderBuilderOption: a function that applies the threshold option to an uploader
func WithParallelThreshold(n int) UploaderBuilderOption {
	return func(u *uploader) {
		if n > 0 {
			u.parallelThreshold = n
		}
	}
}

// WithLogger sets the logger used for uploader diagnostics.
func WithLogger(logger *log.Logger) UploaderBuilderOption {
	return func(u *uploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}
