package model

import (
	"math"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
)

// Plane builds a flat square of the given size in the XZ plane, facing +Y.
//
// Parameters:
//   - size: the edge length
//
// Returns:
//   - []GPUVertex: the 4 corner vertices
//   - []uint32: the 6 indices of two triangles
func Plane(size float32) ([]GPUVertex, []uint32) {
	h := size / 2
	normal := [3]float32{0, 1, 0}
	tangent := [3]float32{1, 0, 0}
	vertices := []GPUVertex{
		{Position: [3]float32{-h, 0, -h}, Normal: normal, Tangent: tangent, TexCoord: [2]float32{0, 0}},
		{Position: [3]float32{h, 0, -h}, Normal: normal, Tangent: tangent, TexCoord: [2]float32{1, 0}},
		{Position: [3]float32{h, 0, h}, Normal: normal, Tangent: tangent, TexCoord: [2]float32{1, 1}},
		{Position: [3]float32{-h, 0, h}, Normal: normal, Tangent: tangent, TexCoord: [2]float32{0, 1}},
	}
	return vertices, []uint32{0, 2, 1, 0, 3, 2}
}

// Cube builds an axis-aligned cube centred on the origin with per-face normals.
//
// Parameters:
//   - size: the edge length
//
// Returns:
//   - []GPUVertex: 24 vertices, 4 per face
//   - []uint32: 36 indices
func Cube(size float32) ([]GPUVertex, []uint32) {
	h := size / 2
	faces := []struct {
		normal, tangent, bitangent [3]float32
	}{
		{[3]float32{0, 0, 1}, [3]float32{1, 0, 0}, [3]float32{0, 1, 0}},
		{[3]float32{0, 0, -1}, [3]float32{-1, 0, 0}, [3]float32{0, 1, 0}},
		{[3]float32{1, 0, 0}, [3]float32{0, 0, -1}, [3]float32{0, 1, 0}},
		{[3]float32{-1, 0, 0}, [3]float32{0, 0, 1}, [3]float32{0, 1, 0}},
		{[3]float32{0, 1, 0}, [3]float32{1, 0, 0}, [3]float32{0, 0, -1}},
		{[3]float32{0, -1, 0}, [3]float32{1, 0, 0}, [3]float32{0, 0, 1}},
	}
	corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}

	vertices := make([]GPUVertex, 0, 24)
	indices := make([]uint32, 0, 36)
	for _, f := range faces {
		base := uint32(len(vertices))
		for _, c := range corners {
			var p [3]float32
			for i := range p {
				p[i] = h * (f.normal[i] + c[0]*f.tangent[i] + c[1]*f.bitangent[i])
			}
			vertices = append(vertices, GPUVertex{
				Position: p,
				Normal:   f.normal,
				Tangent:  f.tangent,
				TexCoord: [2]float32{(c[0] + 1) / 2, (1 - c[1]) / 2},
			})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return vertices, indices
}

// SkinnedCube builds a cube whose lower half follows bone 0 and upper half follows bone 1.
//
// Parameters:
//   - size: the edge length
//
// Returns:
//   - []GPUSkinnedVertex: 24 vertices
//   - []uint32: 36 indices
func SkinnedCube(size float32) ([]GPUSkinnedVertex, []uint32) {
	base, indices := Cube(size)
	vertices := make([]GPUSkinnedVertex, len(base))
	for i, v := range base {
		bone := uint32(0)
		if v.Position[1] > 0 {
			bone = 1
		}
		vertices[i] = GPUSkinnedVertex{
			GPUVertex:   v,
			BoneIndices: [4]uint32{bone, 0, 0, 0},
			BoneWeights: [4]float32{1, 0, 0, 0},
		}
	}
	return vertices, indices
}

// Grid places count instances on a square grid in the XZ plane.
//
// Parameters:
//   - count: the number of instances
//   - spacing: the distance between neighbours
//   - y: the height of every instance
//
// Returns:
//   - []GPUInstance: the instance records, row by row
func Grid(count int, spacing, y float32) []GPUInstance {
	if count <= 0 {
		return nil
	}
	side := int(math.Ceil(math.Sqrt(float64(count))))
	offset := float32(side-1) * spacing / 2
	instances := make([]GPUInstance, count)
	for i := range instances {
		x := float32(i%side)*spacing - offset
		z := float32(i/side)*spacing - offset
		instances[i] = GPUInstance{Model: common.Translation(x, y, z, 1)}
	}
	return instances
}

// IdentityBones returns a bone palette of n identity matrices.
//
// Parameters:
//   - n: the number of bones
//
// Returns:
//   - []float32: n*16 floats
func IdentityBones(n int) []float32 {
	bones := make([]float32, 0, n*BoneMatrixFloats)
	id := common.Identity()
	for range n {
		bones = append(bones, id[:]...)
	}
	return bones
}

// DemoCollection builds a collection for the default categories: a terrain tile grid, a field of static
// props and a crowd of skinned NPCs.
//
// Parameters:
//   - terrain: the number of terrain tiles
//   - props: the number of static props
//   - npcs: the number of NPCs
//
// Returns:
//   - Collection: the populated collection
//   - error: an error if a mesh cannot be added
func DemoCollection(terrain, props, npcs int) (Collection, error) {
	c := NewCollection(
		WithCapacity(FormatStatic, 28, 42, terrain+props),
		WithCapacity(FormatDynamic, 24, 36, npcs),
	)

	planeVertices, planeIndices := Plane(4)
	if err := c.AddStatic("Terrain", planeVertices, planeIndices, Grid(terrain, 4, 0)); err != nil {
		return nil, err
	}
	cubeVertices, cubeIndices := Cube(1)
	if err := c.AddStatic("Static", cubeVertices, cubeIndices, Grid(props, 3, 0.5)); err != nil {
		return nil, err
	}
	npcVertices, npcIndices := SkinnedCube(1)
	if err := c.AddDynamic("NPC", npcVertices, npcIndices, Grid(npcs, 5, 1)); err != nil {
		return nil, err
	}
	if npcs > 0 {
		if err := c.SetBones("NPC", IdentityBones(2)); err != nil {
			return nil, err
		}
	}
	return c, nil
}
