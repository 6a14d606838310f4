package shader

// ProgramBuilderOption is a functional option applied to a program during construction via NewProgram.
type ProgramBuilderOption func(*program)

// WithWGSL sets the WGSL source of the program. It is compiled to SPIR-V unless WithSPIRV also supplies a binary.
//
// Parameters:
//   - source: the WGSL source code
//
// Returns:
//   - ProgramBuilderOption: a function that applies the source option to a program
func WithWGSL(source string) ProgramBuilderOption {
	return func(p *program) {
		p.source = source
	}
}

// WithSPIRV sets a precompiled SPIR-V binary for the program.
//
// Parameters:
//   - binary: the SPIR-V binary
//
// Returns:
//   - ProgramBuilderOption: a function that applies the binary option to a program
func WithSPIRV(binary []byte) ProgramBuilderOption {
	return func(p *program) {
		p.binary = binary
	}
}

// WithEmptyBlockPadding gives uniform blocks with no variables a 16 byte size instead of 0.
//
// Parameters:
//   - pad: true to pad empty blocks
//
// Returns:
//   - ProgramBuilderOption: a function that applies the padding option to a program
func WithEmptyBlockPadding(pad bool) ProgramBuilderOption {
	return func(p *program) {
		p.padEmptyBlocks = pad
	}
}

func withPath(path string) ProgramBuilderOption {
	return func(p *program) {
		p.path = path
	}
}
