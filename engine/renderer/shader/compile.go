package shader

import (
	"fmt"

	"github.com/gogpu/naga"
)

// CompileWGSL compiles WGSL source to a SPIR-V binary using the pure-Go naga compiler.
//
// Parameters:
//   - source: the WGSL source code
//
// Returns:
//   - []byte: the SPIR-V binary
//   - error: the compiler diagnostic if the source is invalid
func CompileWGSL(source string) ([]byte, error) {
	spirv, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("naga: %w", err)
	}
	return spirv, nil
}

// SPIRVWords reinterprets a SPIR-V binary as its little-endian instruction words.
func SPIRVWords(binary []byte) []uint32 {
	return bytesToWords(binary)
}
