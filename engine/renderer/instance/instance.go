package instance

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/model"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/device"
	"github.com/charmbracelet/log"
)

const (
	// DefaultMaxInstances is the instance buffer capacity used when none is configured.
	DefaultMaxInstances = 4096

	// DefaultMaxBones is the bone palette capacity used when none is configured.
	DefaultMaxBones = 256

	// DefaultParallelThreshold is the smallest instance range encoded on the worker pool.
	DefaultParallelThreshold = 1024

	// boneTexelsPerMatrix is the width of the bone palette texture: one RGBA32F texel per matrix column.
	boneTexelsPerMatrix = 4
)

// uploader is the implementation of the Uploader interface.
type uploader struct {
	mu     *sync.Mutex
	device device.Device
	logger *log.Logger

	maxInstances int
	maxBones     int
	stride       uint32

	instanceBuffer device.Handle
	boneTexture    device.Handle
	staging        []byte

	instanceSlots []device.Slot
	boneSlots     []device.Slot

	// pool encodes large instance ranges in parallel. Workers are reused across frames.
	pool              worker.DynamicWorkerPool
	workers           int
	parallelThreshold int
}

// Uploader copies per-instance records and bone palettes into fixed-capacity device resources
// immediately before the draw that reads them. The instance buffer and the bone texture are allocated
// once at construction and owned by the Uploader.
type Uploader interface {
	// UploadInstances copies batch.InstanceCount records starting at batch.InstanceOffset of src into the
	// start of the instance buffer with a single device write.
	// A range that leaves src, exceeds the buffer capacity or has a foreign record stride is a
	// *common.RangeError and nothing is written.
	//
	// Parameters:
	//   - category: the category being uploaded, used for diagnostics
	//   - src: the source instance records
	//   - batch: the category's batch
	//
	// Returns:
	//   - error: a *common.RangeError for bad ranges or a *common.DeviceError if the write fails
	UploadInstances(category string, src model.InstanceArray, batch model.GeometryBatch) error

	// UploadBoneData copies a flattened bone palette (16 floats per matrix) into the bone texture.
	// An empty palette is skipped without touching the device.
	//
	// Parameters:
	//   - bones: the flattened palette
	//
	// Returns:
	//   - error: a *common.RangeError if the palette is malformed or too large, or a *common.DeviceError
	UploadBoneData(bones []float32) error

	// InstanceBuffer returns the structured buffer holding the uploaded instances.
	InstanceBuffer() device.Handle

	// BoneTexture returns the RGBA32F texture holding the bone palette.
	BoneTexture() device.Handle

	// Capacity returns the maximum number of instances a single upload may hold.
	Capacity() int

	// Release frees the instance buffer and the bone texture.
	Release()
}

var _ Uploader = &uploader{}

// NewUploader allocates the instance buffer and bone texture and binds them to the configured slots.
// On failure every resource created so far is released.
//
// Parameters:
//   - dev: the render device
//   - options: variadic list of UploaderBuilderOption functions
//
// Returns:
//   - Uploader: the uploader
//   - error: a *common.DeviceError if a resource cannot be created or bound
func NewUploader(dev device.Device, options ...UploaderBuilderOption) (Uploader, error) {
	u := &uploader{
		mu:                &sync.Mutex{},
		device:            dev,
		logger:            log.Default(),
		maxInstances:      DefaultMaxInstances,
		maxBones:          DefaultMaxBones,
		stride:            model.GPUInstanceSize,
		workers:           max(runtime.NumCPU()-1, 1),
		parallelThreshold: DefaultParallelThreshold,
	}
	for _, opt := range options {
		opt(u)
	}
	if u.maxInstances <= 0 || u.maxBones <= 0 {
		return nil, fmt.Errorf("instance: capacities must be positive (instances %d, bones %d)", u.maxInstances, u.maxBones)
	}

	if err := u.allocate(); err != nil {
		u.Release()
		return nil, err
	}

	if u.workers > 1 {
		u.pool = worker.NewDynamicWorkerPool(u.workers, 256, 1*time.Second)
	}
	u.logger.Debug("instance uploader ready", "instances", u.maxInstances, "bones", u.maxBones, "workers", u.workers)
	return u, nil
}

func (u *uploader) allocate() error {
	size := uint64(u.maxInstances) * uint64(u.stride)
	buf, err := u.device.CreateBuffer(device.BufferDesc{
		Label: "Instance Buffer",
		Size:  size,
		Usage: device.UsageStructured | device.UsageDynamic,
	}, nil)
	if err != nil {
		return &common.DeviceError{Op: "create instance buffer", Err: err}
	}
	u.instanceBuffer = buf
	u.staging = make([]byte, size)

	tex, err := u.device.CreateTexture(device.TextureDesc{
		Label:  "Bone Palette",
		Width:  boneTexelsPerMatrix,
		Height: uint32(u.maxBones),
		Format: device.TextureFormatRGBA32Float,
	})
	if err != nil {
		return &common.DeviceError{Op: "create bone texture", Err: err}
	}
	u.boneTexture = tex

	for _, slot := range u.instanceSlots {
		if err := u.device.BindStructuredBuffer(slot, u.instanceBuffer); err != nil {
			return &common.DeviceError{Op: "bind instance buffer at " + slot.String(), Err: err}
		}
	}
	for _, slot := range u.boneSlots {
		if err := u.device.BindTexture(slot, u.boneTexture); err != nil {
			return &common.DeviceError{Op: "bind bone texture at " + slot.String(), Err: err}
		}
	}
	return nil
}

func (u *uploader) UploadInstances(category string, src model.InstanceArray, batch model.GeometryBatch) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	offset, count := int(batch.InstanceOffset), int(batch.InstanceCount)
	if src == nil {
		return &common.RangeError{What: category + " instances", Offset: uint64(offset), Count: uint64(count)}
	}
	if offset+count > src.Len() {
		return &common.RangeError{What: category + " instances", Offset: uint64(offset), Count: uint64(count), Limit: uint64(src.Len())}
	}
	if count > u.maxInstances {
		return &common.RangeError{What: "instance buffer (" + category + ")", Count: uint64(count), Limit: uint64(u.maxInstances)}
	}
	if src.Stride() != u.stride {
		return &common.RangeError{What: category + " instance stride", Count: uint64(src.Stride()), Limit: uint64(u.stride)}
	}
	if count == 0 {
		return nil
	}

	data := u.staging[:count*int(u.stride)]
	u.encode(src, data, offset, count)

	if err := u.device.WriteBuffer(u.instanceBuffer, 0, data); err != nil {
		return &common.DeviceError{Op: "upload " + category + " instances", Err: err}
	}
	return nil
}

// encode fills dst with count records of src. Ranges at or above the parallel threshold are split
// across the worker pool and joined before returning.
func (u *uploader) encode(src model.InstanceArray, dst []byte, offset, count int) {
	if u.pool == nil || count < u.parallelThreshold {
		src.EncodeRange(dst, offset, count)
		return
	}

	stride := int(u.stride)
	chunk := (count + u.workers - 1) / u.workers
	var wg sync.WaitGroup
	for id, start := 0, 0; start < count; id, start = id+1, start+chunk {
		n := min(chunk, count-start)
		part := dst[start*stride : (start+n)*stride]
		first := offset + start
		wg.Add(1)
		u.pool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer wg.Done()
				src.EncodeRange(part, first, n)
				return nil, nil
			},
		})
	}
	wg.Wait()
}

func (u *uploader) UploadBoneData(bones []float32) error {
	if len(bones) == 0 {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(bones)%model.BoneMatrixFloats != 0 {
		return &common.RangeError{What: "bone palette (partial matrix)", Count: uint64(len(bones)), Limit: uint64(u.maxBones * model.BoneMatrixFloats)}
	}
	if len(bones) > u.maxBones*model.BoneMatrixFloats {
		return &common.RangeError{What: "bone palette", Count: uint64(len(bones) / model.BoneMatrixFloats), Limit: uint64(u.maxBones)}
	}

	if err := u.device.WriteTexture(u.boneTexture, common.Float32Bytes(bones...)); err != nil {
		return &common.DeviceError{Op: "upload bone palette", Err: err}
	}
	return nil
}

func (u *uploader) InstanceBuffer() device.Handle {
	return u.instanceBuffer
}

func (u *uploader) BoneTexture() device.Handle {
	return u.boneTexture
}

func (u *uploader) Capacity() int {
	return u.maxInstances
}

func (u *uploader) Release() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.instanceBuffer != 0 {
		u.device.Release(u.instanceBuffer)
		u.instanceBuffer = 0
	}
	if u.boneTexture != 0 {
		u.device.Release(u.boneTexture)
		u.boneTexture = 0
	}
}
