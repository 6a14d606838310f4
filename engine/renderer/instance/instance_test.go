package instance

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/model"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
)

// paddedArray has a record stride the uploader does not accept.
type paddedArray struct{ n int }

func (a paddedArray) Len() int { return a.n }
func (a paddedArray) Stride() uint32 { return 80 }
func (a paddedArray) EncodeRange(dst []byte, offset, count int) {}

func instances(n int) model.InstanceList {
	list := make(model.InstanceList, n)
	for i := range list {
		list[i] = model.GPUInstance{Model: common.Translation(float32(i), 0, 0, 1)}
	}
	return list
}

func encoded(list model.InstanceList, offset, count int) []byte {
	var out []byte
	for _, inst := range list[offset : offset+count] {
		out = append(out, inst.Marshal()...)
	}
	return out
}

func newTestUploader(t *testing.T, options ...UploaderBuilderOption) (Uploader, *device.Recorder) {
	t.Helper()
	rec := device.NewRecorder()
	u, err := NewUploader(rec, append([]UploaderBuilderOption{WithMaxInstances(16), WithMaxBones(4), WithEncodeWorkers(1)}, options...)...)
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}
	return u, rec
}

func TestUploadInstances(t *testing.T) {
	u, rec := newTestUploader(t)
	src := instances(20)
	rec.ResetLog()

	batch := model.GeometryBatch{InstanceOffset: 5, InstanceCount: 10}
	if err := u.UploadInstances("Static", src, batch); err != nil {
		t.Fatalf("UploadInstances: %v", err)
	}
	writes := rec.CommandsOf(device.OpWriteBuffer)
	if len(writes) != 1 || writes[0].Offset != 0 || writes[0].Bytes != 10*model.GPUInstanceSize {
		t.Fatalf("writes = %+v, want one 640 byte write at 0", writes)
	}
	got, _ := rec.Contents(u.InstanceBuffer())
	if !bytes.Equal(got[:640], encoded(src, 5, 10)) {
		t.Error("instance buffer does not hold records 5..14")
	}
}

func TestUploadInstancesParallelEncoding(t *testing.T) {
	u, rec := newTestUploader(t, WithMaxInstances(300), WithEncodeWorkers(4), WithParallelThreshold(8))
	src := instances(300)

	if err := u.UploadInstances("Terrain", src, model.GeometryBatch{InstanceOffset: 7, InstanceCount: 253}); err != nil {
		t.Fatalf("UploadInstances: %v", err)
	}
	if n := rec.Count(device.OpWriteBuffer); n != 1 {
		t.Errorf("WriteBuffer called %d times, want 1", n)
	}
	got, _ := rec.Contents(u.InstanceBuffer())
	if !bytes.Equal(got[:253*model.GPUInstanceSize], encoded(src, 7, 253)) {
		t.Error("parallel encoding differs from the source records")
	}
}

func TestUploadInstancesRangeErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   model.InstanceArray
		batch model.GeometryBatch
	}{
		{"offset plus count past source", instances(10), model.GeometryBatch{InstanceOffset: 8, InstanceCount: 3}},
		{"offset past source", instances(10), model.GeometryBatch{InstanceOffset: 11, InstanceCount: 0}},
		{"over capacity", instances(40), model.GeometryBatch{InstanceOffset: 0, InstanceCount: 17}},
		{"foreign stride", paddedArray{n: 4}, model.GeometryBatch{InstanceCount: 4}},
		{"no source", nil, model.GeometryBatch{InstanceCount: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, rec := newTestUploader(t)
			before, _ := rec.Contents(u.InstanceBuffer())
			rec.ResetLog()

			err := u.UploadInstances("NPC", tt.src, tt.batch)
			var re *common.RangeError
			if !errors.As(err, &re) {
				t.Fatalf("err = %v, want *common.RangeError", err)
			}
			if n := len(rec.Commands()); n != 0 {
				t.Errorf("%d device calls after a range error, want 0", n)
			}
			after, _ := rec.Contents(u.InstanceBuffer())
			if !bytes.Equal(before, after) {
				t.Error("instance buffer partially written")
			}
		})
	}
}

func TestUploadInstancesDeviceFailure(t *testing.T) {
	u, rec := newTestUploader(t)
	rec.FailNext(device.OpWriteBuffer, 1, nil)
	err := u.UploadInstances("Static", instances(4), model.GeometryBatch{InstanceCount: 4})
	var de *common.DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *common.DeviceError", err)
	}
}

func TestUploadBoneData(t *testing.T) {
	palette := make([]float32, 0, 2*model.BoneMatrixFloats)
	for i := range 2 * model.BoneMatrixFloats {
		palette = append(palette, float32(i))
	}

	tests := []struct {
		name      string
		bones     []float32
		wantCalls int
		wantErr   bool
	}{
		{name: "empty", bones: nil, wantCalls: 0},
		{name: "two matrices", bones: palette, wantCalls: 1},
		{name: "partial matrix", bones: palette[:20], wantErr: true},
		{name: "over capacity", bones: make([]float32, 5*model.BoneMatrixFloats), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, rec := newTestUploader(t)
			rec.ResetLog()

			err := u.UploadBoneData(tt.bones)
			if tt.wantErr {
				var re *common.RangeError
				if !errors.As(err, &re) {
					t.Fatalf("err = %v, want *common.RangeError", err)
				}
			} else if err != nil {
				t.Fatalf("UploadBoneData: %v", err)
			}
			if n := len(rec.Commands()); n != tt.wantCalls {
				t.Errorf("%d device calls, want %d", n, tt.wantCalls)
			}
			if tt.wantCalls == 1 {
				got, _ := rec.Contents(u.BoneTexture())
				want := common.Float32Bytes(tt.bones...)
				if !bytes.Equal(got[:len(want)], want) {
					t.Error("bone texture does not hold the palette")
				}
			}
		})
	}
}

func TestNewUploaderBindsSlots(t *testing.T) {
	instanceSlot := device.Slot{Stage: shader.StageVertex, Group: 0, Binding: 2}
	boneSlot := device.Slot{Stage: shader.StageVertex, Group: 0, Binding: 3}
	u, rec := newTestUploader(t, WithInstanceSlots(instanceSlot), WithBoneSlots(boneSlot))

	if h, ok := rec.BoundTexture(boneSlot); !ok || h != u.BoneTexture() {
		t.Errorf("bone slot bound to %d, %v", h, ok)
	}
	binds := rec.CommandsOf(device.OpBindStructuredBuffer)
	if len(binds) != 1 || binds[0].Slot != instanceSlot || binds[0].Handle != u.InstanceBuffer() {
		t.Errorf("structured binds = %+v", binds)
	}

	u.Release()
	if rec.Live() != 0 {
		t.Errorf("Live = %d after Release, want 0", rec.Live())
	}
}

func TestNewUploaderFailureReleases(t *testing.T) {
	rec := device.NewRecorder()
	rec.FailNext(device.OpCreateTexture, 1, nil)
	if _, err := NewUploader(rec); err == nil {
		t.Fatal("NewUploader succeeded with a failing device")
	}
	if rec.Live() != 0 {
		t.Errorf("%d resources leaked", rec.Live())
	}
}
