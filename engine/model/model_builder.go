package model

// CollectionBuilderOption is a functional option for configuring a Collection via NewCollection.
type CollectionBuilderOption func(*collection)

// WithCapacity is an option builder that preallocates the shared arrays of a format.
//
// Parameters:
//   - format: the geometry format
//   - vertices: the expected vertex count
//   - indices: the expected index count
//   - instances: the expected instance count
//
// Returns:
//   - CollectionBuilderOption: a function that applies the capacity option to a collection
func WithCapacity(format Format, vertices, indices, instances int) CollectionBuilderOption {
	return func(c *collection) {
		c.vertices[format] = make([]byte, 0, vertices*int(format.VertexStride()))
		c.indices[format] = make([]uint32, 0, indices)
		c.instances[format] = make(InstanceList, 0, instances)
	}
}
