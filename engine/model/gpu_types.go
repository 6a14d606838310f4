package model

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
)

// GPUVertexSize is the byte size of one GPUVertex as laid out in a vertex buffer.
const GPUVertexSize = 44

// GPUSkinnedVertexSize is the byte size of one GPUSkinnedVertex as laid out in a vertex buffer.
const GPUSkinnedVertexSize = 76

// GPUInstanceSize is the byte size of one GPUInstance record in the instance structured buffer.
const GPUInstanceSize = 64

// GPUVertex is the tightly packed representation of a single vertex of static geometry.
// Matches the static vertex program's inputs at locations 0 to 3.
// Size: 44 bytes.
type GPUVertex struct {
	Position [3]float32 // offset  0: model space position (12 bytes)
	Normal   [3]float32 // offset 12: surface normal (12 bytes)
	Tangent  [3]float32 // offset 24: tangent for normal mapping (12 bytes)
	TexCoord [2]float32 // offset 36: UV coordinate (8 bytes)
}

// Size returns the size of the GPUVertex struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUVertex) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUVertex struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 44-byte buffer ready for GPU upload.
func (g *GPUVertex) Marshal() []byte {
	buf := make([]byte, GPUVertexSize)
	g.marshalInto(buf)
	return buf
}

func (g *GPUVertex) marshalInto(buf []byte) {
	putFloats(buf[0:12], g.Position[:])
	putFloats(buf[12:24], g.Normal[:])
	putFloats(buf[24:36], g.Tangent[:])
	putFloats(buf[36:44], g.TexCoord[:])
}

// GPUSkinnedVertex is the tightly packed representation of a single vertex of dynamic (skinned) geometry.
// It extends GPUVertex with per-vertex bone skinning data.
// Size: 76 bytes (44 base vertex + 32 skinning data).
type GPUSkinnedVertex struct {
	GPUVertex              // offset  0: base vertex data (44 bytes)
	BoneIndices [4]uint32  // offset 44: indices of up to 4 influencing bones (16 bytes)
	BoneWeights [4]float32 // offset 60: blend weights for each bone, summing to 1 (16 bytes)
}

// Size returns the size of the GPUSkinnedVertex struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUSkinnedVertex) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUSkinnedVertex struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 76-byte buffer ready for GPU upload.
func (g *GPUSkinnedVertex) Marshal() []byte {
	buf := make([]byte, GPUSkinnedVertexSize)
	g.GPUVertex.marshalInto(buf)
	for i, idx := range g.BoneIndices {
		binary.LittleEndian.PutUint32(buf[44+i*4:], idx)
	}
	putFloats(buf[60:76], g.BoneWeights[:])
	return buf
}

// GPUInstance is the per-instance record read by both vertex programs from the instance structured buffer.
// Size: 64 bytes (mat4x4<f32>, no padding required).
type GPUInstance struct {
	Model common.Mat4 // offset 0: model-to-world transform (64 bytes)
}

// Size returns the size of the GPUInstance struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUInstance) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUInstance struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 64-byte buffer ready for GPU upload.
func (g *GPUInstance) Marshal() []byte {
	buf := make([]byte, GPUInstanceSize)
	putFloats(buf, g.Model[:])
	return buf
}

func putFloats(dst []byte, values []float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}
