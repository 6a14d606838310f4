package model

import (
	"fmt"
	"strings"
)

// --- Geometry Formats ---

// Format selects one of the two geometry pipelines. Every category is drawn with exactly one format.
type Format int

const (
	// FormatStatic is static scenery: GPUVertex input, no skinning.
	FormatStatic Format = iota

	// FormatDynamic is skinned actors: GPUSkinnedVertex input plus the bone palette.
	FormatDynamic
)

func (f Format) String() string {
	switch f {
	case FormatStatic:
		return "static"
	case FormatDynamic:
		return "dynamic"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat converts a configuration string ("static" or "dynamic") to a Format.
//
// Parameters:
//   - s: the format name, case-insensitive
//
// Returns:
//   - Format: the parsed format
//   - error: an error if s names no format
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static":
		return FormatStatic, nil
	case "dynamic":
		return FormatDynamic, nil
	}
	return 0, fmt.Errorf("unknown geometry format %q", s)
}

// VertexStride returns the byte size of one vertex of the format.
func (f Format) VertexStride() uint32 {
	if f == FormatDynamic {
		return GPUSkinnedVertexSize
	}
	return GPUVertexSize
}

// --- Batches & Categories ---

// GeometryBatch describes the contiguous slice of the shared index, vertex and instance arrays drawn
// for one category with a single indexed, instanced draw.
type GeometryBatch struct {
	IndexCount     uint32
	InstanceCount  uint32
	IndexOffset    uint32
	VertexOffset   uint32
	InstanceOffset uint32
}

// Category is one group of objects drawn together, such as terrain, static props or animated actors.
type Category struct {
	// Name identifies the category's batch in the Collection.
	Name string

	// Format selects the pipeline the category is drawn with.
	Format Format

	// Skinned categories upload their bone palette before drawing. Only meaningful for FormatDynamic.
	Skinned bool
}

// DefaultCategories returns the engine's default draw order: terrain and static props with the static
// pipeline, then animated NPCs with the dynamic pipeline.
//
// Returns:
//   - []Category: the default categories in draw order
func DefaultCategories() []Category {
	return []Category{
		{Name: "Terrain", Format: FormatStatic},
		{Name: "Static", Format: FormatStatic},
		{Name: "NPC", Format: FormatDynamic, Skinned: true},
	}
}

// --- Instances ---

// InstanceArray is a read-only view of per-instance records that can be encoded for upload.
// EncodeRange must be safe to call concurrently for disjoint ranges.
type InstanceArray interface {
	// Len returns the number of records.
	Len() int

	// Stride returns the encoded size of one record in bytes.
	Stride() uint32

	// EncodeRange writes records [offset, offset+count) into dst, which holds exactly count*Stride() bytes.
	EncodeRange(dst []byte, offset, count int)
}

// InstanceList is an InstanceArray over GPUInstance records.
type InstanceList []GPUInstance

var _ InstanceArray = InstanceList(nil)

func (l InstanceList) Len() int {
	return len(l)
}

func (l InstanceList) Stride() uint32 {
	return GPUInstanceSize
}

func (l InstanceList) EncodeRange(dst []byte, offset, count int) {
	for i := 0; i < count; i++ {
		putFloats(dst[i*GPUInstanceSize:], l[offset+i].Model[:])
	}
}

// BoneMatrixFloats is the number of floats in one bone palette matrix.
const BoneMatrixFloats = 16
