package model

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
)

// entry is one category's mesh within the collection.
type entry struct {
	format Format
	batch  GeometryBatch
	bones  []float32
}

// collection is the implementation of the Collection interface.
type collection struct {
	mu *sync.Mutex

	vertices  map[Format][]byte
	indices   map[Format][]uint32
	instances map[Format]InstanceList
	entries   map[string]*entry
}

// Collection owns the CPU-side geometry of every category: one shared vertex, index and instance array
// per format, and a GeometryBatch per category locating its slice of those arrays.
// The renderer reads it through Vertices, Indices, Batch, Instances and Bones; the host populates it
// through the Add and Set methods.
type Collection interface {
	// Vertices returns the packed vertex data of all meshes of a format, in the format's vertex layout.
	//
	// Parameters:
	//   - format: the geometry format
	//
	// Returns:
	//   - []byte: the vertex data, GPUVertexSize or GPUSkinnedVertexSize bytes per vertex
	Vertices(format Format) []byte

	// Indices returns the 32-bit indices of all meshes of a format. Indices are relative to each
	// mesh's first vertex; GeometryBatch.VertexOffset rebases them at draw time.
	//
	// Parameters:
	//   - format: the geometry format
	//
	// Returns:
	//   - []uint32: the index data
	Indices(format Format) []uint32

	// Batch returns the draw parameters of a category.
	//
	// Parameters:
	//   - category: the category name
	//
	// Returns:
	//   - GeometryBatch: the category's slice of the shared arrays
	//   - bool: false if the collection has no mesh for the category
	Batch(category string) (GeometryBatch, bool)

	// Instances returns the live instance array shared by every category of a format.
	//
	// Parameters:
	//   - format: the geometry format
	//
	// Returns:
	//   - InstanceArray: the instance records, indexed by GeometryBatch.InstanceOffset
	Instances(format Format) InstanceArray

	// Bones returns the flattened bone palette of a category, 16 floats per matrix, or nil if it has none.
	Bones(category string) []float32

	// AddStatic appends a static mesh and its instances under a new category.
	//
	// Parameters:
	//   - category: the category name, which must not already exist
	//   - vertices: the mesh vertices
	//   - indices: the mesh indices, relative to the first vertex
	//   - instances: one record per drawn copy of the mesh
	//
	// Returns:
	//   - error: an error if the category exists or an index is out of range
	AddStatic(category string, vertices []GPUVertex, indices []uint32, instances []GPUInstance) error

	// AddDynamic appends a skinned mesh and its instances under a new category.
	//
	// Parameters:
	//   - category: the category name, which must not already exist
	//   - vertices: the mesh vertices
	//   - indices: the mesh indices, relative to the first vertex
	//   - instances: one record per drawn copy of the mesh
	//
	// Returns:
	//   - error: an error if the category exists or an index is out of range
	AddDynamic(category string, vertices []GPUSkinnedVertex, indices []uint32, instances []GPUInstance) error

	// SetTransform replaces the model matrix of one instance of a category.
	//
	// Parameters:
	//   - category: the category name
	//   - index: the instance index within the category
	//   - m: the new model matrix
	//
	// Returns:
	//   - error: an error if the category or instance does not exist
	SetTransform(category string, index int, m common.Mat4) error

	// SetBones replaces the bone palette of a dynamic category.
	//
	// Parameters:
	//   - category: the category name
	//   - bones: the flattened palette; its length must be a multiple of 16
	//
	// Returns:
	//   - error: an error if the category is unknown or not dynamic, or the palette is malformed
	SetBones(category string, bones []float32) error
}

var _ Collection = &collection{}

// NewCollection creates an empty Collection.
//
// Parameters:
//   - options: a variadic list of CollectionBuilderOption functions
//
// Returns:
//   - Collection: the new collection
func NewCollection(options ...CollectionBuilderOption) Collection {
	c := &collection{
		mu:        &sync.Mutex{},
		vertices:  make(map[Format][]byte),
		indices:   make(map[Format][]uint32),
		instances: make(map[Format]InstanceList),
		entries:   make(map[string]*entry),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *collection) Vertices(format Format) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vertices[format]
}

func (c *collection) Indices(format Format) []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indices[format]
}

func (c *collection) Batch(category string) (GeometryBatch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[category]
	if !ok {
		return GeometryBatch{}, false
	}
	return e.batch, true
}

func (c *collection) Instances(format Format) InstanceArray {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instances[format]
}

func (c *collection) Bones(category string) []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[category]; ok {
		return e.bones
	}
	return nil
}

func (c *collection) AddStatic(category string, vertices []GPUVertex, indices []uint32, instances []GPUInstance) error {
	encoded := make([]byte, len(vertices)*GPUVertexSize)
	for i := range vertices {
		vertices[i].marshalInto(encoded[i*GPUVertexSize:])
	}
	return c.add(category, FormatStatic, encoded, len(vertices), indices, instances)
}

func (c *collection) AddDynamic(category string, vertices []GPUSkinnedVertex, indices []uint32, instances []GPUInstance) error {
	encoded := make([]byte, 0, len(vertices)*GPUSkinnedVertexSize)
	for i := range vertices {
		encoded = append(encoded, vertices[i].Marshal()...)
	}
	return c.add(category, FormatDynamic, encoded, len(vertices), indices, instances)
}

func (c *collection) add(category string, format Format, encoded []byte, vertexCount int, indices []uint32, instances []GPUInstance) error {
	for _, idx := range indices {
		if int(idx) >= vertexCount {
			return fmt.Errorf("category %q: index %d out of range for %d vertices", category, idx, vertexCount)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[category]; exists {
		return fmt.Errorf("category %q already has a mesh", category)
	}

	stride := int(format.VertexStride())
	c.entries[category] = &entry{
		format: format,
		batch: GeometryBatch{
			IndexCount:     uint32(len(indices)),
			InstanceCount:  uint32(len(instances)),
			IndexOffset:    uint32(len(c.indices[format])),
			VertexOffset:   uint32(len(c.vertices[format]) / stride),
			InstanceOffset: uint32(len(c.instances[format])),
		},
	}
	c.vertices[format] = append(c.vertices[format], encoded...)
	c.indices[format] = append(c.indices[format], indices...)
	c.instances[format] = append(c.instances[format], instances...)
	return nil
}

func (c *collection) SetTransform(category string, index int, m common.Mat4) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[category]
	if !ok {
		return fmt.Errorf("unknown category %q", category)
	}
	if index < 0 || index >= int(e.batch.InstanceCount) {
		return fmt.Errorf("category %q has no instance %d", category, index)
	}
	c.instances[e.format][int(e.batch.InstanceOffset)+index].Model = m
	return nil
}

func (c *collection) SetBones(category string, bones []float32) error {
	if len(bones)%BoneMatrixFloats != 0 {
		return fmt.Errorf("bone palette length %d is not a multiple of %d", len(bones), BoneMatrixFloats)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[category]
	if !ok {
		return fmt.Errorf("unknown category %q", category)
	}
	if e.format != FormatDynamic {
		return fmt.Errorf("category %q is %s and has no bones", category, e.format)
	}
	e.bones = slices.Clone(bones)
	return nil
}
