package model

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
)

func float32At(buf []byte, offset int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[offset:]))
}

func TestGPUVertexLayout(t *testing.T) {
	v := GPUSkinnedVertex{
		GPUVertex: GPUVertex{
			Position: [3]float32{1, 2, 3},
			Normal:   [3]float32{4, 5, 6},
			Tangent:  [3]float32{7, 8, 9},
			TexCoord: [2]float32{10, 11},
		},
		BoneIndices: [4]uint32{12, 13, 14, 15},
		BoneWeights: [4]float32{0.5, 0.25, 0.125, 0.125},
	}

	static := v.GPUVertex.Marshal()
	if len(static) != GPUVertexSize || v.GPUVertex.Size() != GPUVertexSize {
		t.Fatalf("static vertex is %d bytes (struct %d), want %d", len(static), v.GPUVertex.Size(), GPUVertexSize)
	}
	skinned := v.Marshal()
	if len(skinned) != GPUSkinnedVertexSize || v.Size() != GPUSkinnedVertexSize {
		t.Fatalf("skinned vertex is %d bytes (struct %d), want %d", len(skinned), v.Size(), GPUSkinnedVertexSize)
	}
	if !bytes.Equal(skinned[:GPUVertexSize], static) {
		t.Error("skinned vertex does not start with the static layout")
	}

	for _, tt := range []struct {
		field  string
		offset int
		want   float32
	}{
		{"position.x", 0, 1},
		{"normal.x", 12, 4},
		{"tangent.x", 24, 7},
		{"uv.v", 40, 11},
		{"weight[0]", 60, 0.5},
		{"weight[3]", 72, 0.125},
	} {
		if got := float32At(skinned, tt.offset); got != tt.want {
			t.Errorf("%s at %d = %v, want %v", tt.field, tt.offset, got, tt.want)
		}
	}
	if got := binary.LittleEndian.Uint32(skinned[44:]); got != 12 {
		t.Errorf("bone index 0 = %d, want 12", got)
	}
}

func TestCollectionBatches(t *testing.T) {
	c := NewCollection()
	plane, planeIdx := Plane(1)
	cube, cubeIdx := Cube(1)
	npc, npcIdx := SkinnedCube(1)

	if err := c.AddStatic("Terrain", plane, planeIdx, Grid(100, 1, 0)); err != nil {
		t.Fatal(err)
	}
	if err := c.AddStatic("Static", cube, cubeIdx, Grid(50, 1, 0)); err != nil {
		t.Fatal(err)
	}
	if err := c.AddDynamic("NPC", npc, npcIdx, Grid(10, 1, 0)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		category string
		want     GeometryBatch
	}{
		{"Terrain", GeometryBatch{IndexCount: 6, InstanceCount: 100, IndexOffset: 0, VertexOffset: 0, InstanceOffset: 0}},
		{"Static", GeometryBatch{IndexCount: 36, InstanceCount: 50, IndexOffset: 6, VertexOffset: 4, InstanceOffset: 100}},
		{"NPC", GeometryBatch{IndexCount: 36, InstanceCount: 10, IndexOffset: 0, VertexOffset: 0, InstanceOffset: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			got, ok := c.Batch(tt.category)
			if !ok || got != tt.want {
				t.Errorf("Batch = %+v, %v; want %+v", got, ok, tt.want)
			}
		})
	}

	if got := len(c.Vertices(FormatStatic)); got != 28*GPUVertexSize {
		t.Errorf("static vertex bytes = %d, want %d", got, 28*GPUVertexSize)
	}
	if got := len(c.Vertices(FormatDynamic)); got != 24*GPUSkinnedVertexSize {
		t.Errorf("dynamic vertex bytes = %d, want %d", got, 24*GPUSkinnedVertexSize)
	}
	if got := c.Instances(FormatStatic).Len(); got != 150 {
		t.Errorf("static instances = %d, want 150", got)
	}
	if _, ok := c.Batch("Missing"); ok {
		t.Error("Batch of an unknown category succeeded")
	}
}

func TestCollectionRejectsBadMeshes(t *testing.T) {
	c := NewCollection()
	plane, idx := Plane(1)
	if err := c.AddStatic("Terrain", plane, idx, nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		add  func() error
	}{
		{"duplicate category", func() error { return c.AddStatic("Terrain", plane, idx, nil) }},
		{"index out of range", func() error { return c.AddStatic("Broken", plane, []uint32{0, 1, 4}, nil) }},
		{"bones on static", func() error { return c.SetBones("Terrain", IdentityBones(1)) }},
		{"malformed palette", func() error { return c.SetBones("Terrain", make([]float32, 15)) }},
		{"unknown transform", func() error { return c.SetTransform("Terrain", 0, common.Identity()) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.add(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSetTransformAndEncode(t *testing.T) {
	c := NewCollection()
	cube, idx := Cube(1)
	if err := c.AddStatic("A", cube, idx, Grid(2, 1, 0)); err != nil {
		t.Fatal(err)
	}
	if err := c.AddStatic("B", cube, idx, Grid(3, 1, 0)); err != nil {
		t.Fatal(err)
	}
	moved := common.Translation(7, 8, 9, 2)
	if err := c.SetTransform("B", 1, moved); err != nil {
		t.Fatal(err)
	}

	arr := c.Instances(FormatStatic)
	dst := make([]byte, 2*int(arr.Stride()))
	arr.EncodeRange(dst, 3, 2)

	if !bytes.Equal(dst[:64], moved.Bytes()) {
		t.Error("encoded record 3 is not the updated transform of B[1]")
	}
	if float32At(dst, 64+12*4) != Grid(3, 1, 0)[2].Model[12] {
		t.Error("encoded record 4 is not B[2]")
	}
}

func TestDemoCollection(t *testing.T) {
	c, err := DemoCollection(100, 50, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, cat := range DefaultCategories() {
		if _, ok := c.Batch(cat.Name); !ok {
			t.Errorf("demo collection has no %s batch", cat.Name)
		}
	}
	if got := len(c.Bones("NPC")); got != 2*BoneMatrixFloats {
		t.Errorf("NPC bones = %d floats, want %d", got, 2*BoneMatrixFloats)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"static", FormatStatic, false},
		{" Dynamic ", FormatDynamic, false},
		{"skinned", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, %v", tt.in, got, err)
		}
	}
}
