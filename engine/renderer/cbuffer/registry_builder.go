package cbuffer

import "github.com/charmbracelet/log"

// RegistryBuilderOption is a functional option applied to a registry during construction via NewRegistry.
type RegistryBuilderOption func(*registry)

// WithLogger sets the logger used for registration diagnostics.
//
// Parameters:
//   - logger: the logger to use
//
// Returns:
//   - RegistryBuilderOption: a function that applies the logger option to a registry
func WithLogger(logger *log.Logger) RegistryBuilderOption {
	return func(r *registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}
