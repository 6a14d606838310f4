package cbuffer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
)

func TestSetVariableOffsetFidelity(t *testing.T) {
	r, rec := newTestRegistry(t)

	viewProj := common.Translation(1, 2, 3, 1).Bytes()
	eye := common.Float32Bytes(4, 5, 6)
	fog := common.Float32Bytes(0.1, 0.2, 0.3, 0.4)
	direction := common.Float32Bytes(0, -1, 0)

	writes := []struct {
		stage    shader.Stage
		block    string
		variable string
		data     []byte
	}{
		{shader.StageVertex, "Camera", "viewProj", viewProj},
		{shader.StageVertex, "Camera", "eye", eye},
		{shader.StageVertex, "Camera", "fog", fog},
		{shader.StageFragment, "Light", "direction", direction},
	}
	for _, w := range writes {
		if err := r.SetVariable(w.stage, w.block, w.variable, w.data); err != nil {
			t.Fatalf("SetVariable(%s.%s): %v", w.block, w.variable, err)
		}
	}

	uploads, err := r.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if uploads != 2 {
		t.Errorf("uploads = %d, want 2", uploads)
	}

	// Expected buffers are assembled independently from the declared layouts.
	camera := make([]byte, 96)
	copy(camera[0:], viewProj)
	copy(camera[64:], eye)
	copy(camera[80:], fog)
	light := make([]byte, 32)
	copy(light[0:], direction)

	tests := []struct {
		stage shader.Stage
		block string
		want  []byte
	}{
		{shader.StageVertex, "Camera", camera},
		{shader.StageFragment, "Light", light},
	}
	for _, tt := range tests {
		t.Run(tt.block, func(t *testing.T) {
			l, _ := r.Layout(tt.stage, tt.block)
			got, _ := rec.Contents(l.Buffer())
			if !bytes.Equal(got, tt.want) {
				t.Errorf("device buffer = %v, want %v", got, tt.want)
			}
			if r.Dirty(tt.stage, tt.block) {
				t.Error("block still dirty after flush")
			}
		})
	}
}

func TestFlushCoalescesWrites(t *testing.T) {
	r, rec := newTestRegistry(t)
	for _, v := range []float32{1, 2, 3} {
		if err := r.SetVariable(shader.StageVertex, "Camera", "time", common.Float32Bytes(v)); err != nil {
			t.Fatal(err)
		}
	}
	rec.ResetLog()

	uploads, err := r.Flush()
	if err != nil || uploads != 1 {
		t.Fatalf("Flush = %d, %v; want 1, nil", uploads, err)
	}
	if n := rec.Count(device.OpWriteBuffer); n != 1 {
		t.Errorf("WriteBuffer called %d times, want 1", n)
	}
	l, _ := r.Layout(shader.StageVertex, "Camera")
	got, _ := rec.Contents(l.Buffer())
	if !bytes.Equal(got[76:80], common.Float32Bytes(3)) {
		t.Errorf("time = %v, want last write", got[76:80])
	}

	w := rec.CommandsOf(device.OpWriteBuffer)[0]
	if w.Offset != 0 || w.Bytes != 96 {
		t.Errorf("upload wrote %d bytes at %d, want the whole 96 byte shadow", w.Bytes, w.Offset)
	}
}

func TestFlushWithNothingDirty(t *testing.T) {
	r, rec := newTestRegistry(t)
	rec.ResetLog()

	for i := 0; i < 2; i++ {
		uploads, err := r.Flush()
		if err != nil || uploads != 0 {
			t.Fatalf("Flush = %d, %v; want 0, nil", uploads, err)
		}
	}
	if n := len(rec.Commands()); n != 0 {
		t.Errorf("%d device calls, want none", n)
	}
}

func TestSetVariableRejectsBadWrites(t *testing.T) {
	tests := []struct {
		name     string
		stage    shader.Stage
		block    string
		variable string
		data     []byte
		check    func(error) bool
	}{
		{
			name: "unknown variable", stage: shader.StageVertex, block: "Camera", variable: "NoSuchVar",
			data:  common.Float32Bytes(1),
			check: func(err error) bool { var e *common.UnknownVariableError; return errors.As(err, &e) },
		},
		{
			name: "unknown block", stage: shader.StageVertex, block: "NoSuchBlock", variable: "time",
			data:  common.Float32Bytes(1),
			check: func(err error) bool { var e *common.UnknownBlockError; return errors.As(err, &e) },
		},
		{
			name: "block of the other stage", stage: shader.StageFragment, block: "Camera", variable: "time",
			data:  common.Float32Bytes(1),
			check: func(err error) bool { var e *common.UnknownBlockError; return errors.As(err, &e) },
		},
		{
			name: "oversized data", stage: shader.StageVertex, block: "Camera", variable: "eye",
			data:  common.Float32Bytes(1, 2, 3, 4),
			check: func(err error) bool { var e *common.RangeError; return errors.As(err, &e) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRegistry(t)
			before, _ := r.Shadow(shader.StageVertex, "Camera")

			err := r.SetVariable(tt.stage, tt.block, tt.variable, tt.data)
			if !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}

			after, _ := r.Shadow(shader.StageVertex, "Camera")
			if !bytes.Equal(before, after) {
				t.Error("shadow modified by a rejected write")
			}
			if r.Dirty(shader.StageVertex, "Camera") {
				t.Error("block marked dirty by a rejected write")
			}
		})
	}
}

func TestSetVariablePrefixWrite(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.SetVariable(shader.StageVertex, "Camera", "fog", common.Float32Bytes(7, 7, 7, 7)); err != nil {
		t.Fatal(err)
	}
	if err := r.SetVariable(shader.StageVertex, "Camera", "fog", common.Float32Bytes(1)); err != nil {
		t.Fatal(err)
	}
	shadow, _ := r.Shadow(shader.StageVertex, "Camera")
	want := common.Float32Bytes(1, 7, 7, 7)
	if !bytes.Equal(shadow[80:96], want) {
		t.Errorf("fog = %v, want %v", shadow[80:96], want)
	}
}

func TestVariableHandle(t *testing.T) {
	r, rec := newTestRegistry(t)

	h, err := r.Resolve(shader.StageFragment, "Light", "color")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if h.Name() != "Light.color" {
		t.Errorf("Name = %q", h.Name())
	}
	color := common.Float32Bytes(1, 0.5, 0.25, 1)
	if err := r.SetVariableHandle(h, color); err != nil {
		t.Fatalf("SetVariableHandle: %v", err)
	}
	if _, err := r.Flush(); err != nil {
		t.Fatal(err)
	}
	l, _ := r.Layout(shader.StageFragment, "Light")
	got, _ := rec.Contents(l.Buffer())
	if !bytes.Equal(got[16:32], color) {
		t.Errorf("color = %v, want %v", got[16:32], color)
	}

	if _, err := r.Resolve(shader.StageFragment, "Light", "missing"); err == nil {
		t.Error("Resolve of a missing variable succeeded")
	}
	if err := r.SetVariableHandle(VariableHandle{}, color); err == nil {
		t.Error("write through the zero handle succeeded")
	}
}

func TestVariableHandleStaleAfterRelease(t *testing.T) {
	r, rec := newTestRegistry(t)

	h, err := r.Resolve(shader.StageVertex, "Camera", "time")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r.Release()
	if _, err := r.RegisterBlock(shader.StageVertex, cameraBlock); err != nil {
		t.Fatalf("RegisterBlock: %v", err)
	}

	if err := r.SetVariableHandle(h, common.Float32Bytes(42)); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("SetVariableHandle = %v, want ErrStaleHandle", err)
	}
	if r.Dirty(shader.StageVertex, "Camera") {
		t.Error("stale write dirtied the new block")
	}

	fresh, err := r.Resolve(shader.StageVertex, "Camera", "time")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := r.SetVariableHandle(fresh, common.Float32Bytes(42)); err != nil {
		t.Fatalf("SetVariableHandle: %v", err)
	}
	if _, err := r.Flush(); err != nil {
		t.Fatal(err)
	}
	l, _ := r.Layout(shader.StageVertex, "Camera")
	got, _ := rec.Contents(l.Buffer())
	if !bytes.Equal(got[76:80], common.Float32Bytes(42)) {
		t.Errorf("time = %v, want 42", got[76:80])
	}
}

func TestFlushFailureKeepsBlocksDirty(t *testing.T) {
	r, rec := newTestRegistry(t)
	if err := r.SetVariable(shader.StageVertex, "Camera", "time", common.Float32Bytes(1)); err != nil {
		t.Fatal(err)
	}
	if err := r.SetVariable(shader.StageFragment, "Light", "direction", common.Float32Bytes(0, 1, 0)); err != nil {
		t.Fatal(err)
	}

	rec.FailNext(device.OpWriteBuffer, 1, nil)
	uploads, err := r.Flush()
	var de *common.DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *common.DeviceError", err)
	}
	if uploads != 0 {
		t.Errorf("uploads = %d, want 0", uploads)
	}
	if !r.Dirty(shader.StageVertex, "Camera") || !r.Dirty(shader.StageFragment, "Light") {
		t.Fatal("blocks lost their dirty flag after a failed flush")
	}

	uploads, err = r.Flush()
	if err != nil || uploads != 2 {
		t.Fatalf("retry Flush = %d, %v; want 2, nil", uploads, err)
	}
}

// racingDevice writes a new value into the registry while an upload is in flight.
type racingDevice struct {
	*device.Recorder
	registry Registry
	raced    bool
}

func (d *racingDevice) WriteBuffer(buf device.Handle, offset uint64, data []byte) error {
	if !d.raced {
		d.raced = true
		if err := d.registry.SetVariable(shader.StageVertex, "Object", "tint", common.Float32Bytes(9, 9, 9)); err != nil {
			return err
		}
	}
	return d.Recorder.WriteBuffer(buf, offset, data)
}

func TestWriteDuringFlushStaysDirty(t *testing.T) {
	dev := &racingDevice{Recorder: device.NewRecorder()}
	r := NewRegistry(dev)
	dev.registry = r
	if err := r.RegisterProgram(newFakeProgram("static", shader.StageVertex, objectBlock)); err != nil {
		t.Fatal(err)
	}
	if err := r.SetVariable(shader.StageVertex, "Object", "tint", common.Float32Bytes(1, 1, 1)); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !r.Dirty(shader.StageVertex, "Object") {
		t.Fatal("write made during the upload was lost")
	}

	uploads, err := r.Flush()
	if err != nil || uploads != 1 {
		t.Fatalf("second Flush = %d, %v; want 1, nil", uploads, err)
	}
	l, _ := r.Layout(shader.StageVertex, "Object")
	got, _ := dev.Contents(l.Buffer())
	if !bytes.Equal(got[:12], common.Float32Bytes(9, 9, 9)) {
		t.Errorf("tint = %v, want the racing write", got[:12])
	}
}
