package shader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
)

// Stage identifies the pipeline stage a shader program runs in.
type Stage int

const (
	// StageVertex is the vertex stage. The engine uses one vertex program per geometry format.
	StageVertex Stage = iota

	// StageFragment is the fragment (pixel) stage, shared by both geometry formats.
	StageFragment
)

func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// program is the implementation of the Program interface.
type program struct {
	key        string
	path       string
	stage      Stage
	source     string
	binary     []byte
	reflection *Reflection

	padEmptyBlocks bool
}

// Program is a compiled and reflected shader stage. It carries the SPIR-V binary the reflection was
// extracted from and, when the program was built from WGSL, the WGSL source for backends that consume it.
type Program interface {
	// Key retrieves the unique identifier for this program, used for labels and error reporting.
	//
	// Returns:
	//   - string: the program's unique key
	Key() string

	// Path returns the file the program was loaded from, or an empty string for in-memory programs.
	Path() string

	// Stage returns the pipeline stage of the program.
	Stage() Stage

	// Source returns the WGSL source, or an empty string when the program was loaded from a SPIR-V binary.
	Source() string

	// Binary returns the compiled SPIR-V binary.
	Binary() []byte

	// EntryPoint returns the name of the entry point for the program's stage.
	EntryPoint() string

	// Reflection returns the uniform blocks, resources and vertex inputs extracted from the binary.
	Reflection() *Reflection
}

var _ Program = &program{}

// NewProgram builds a Program from in-memory WGSL source or a SPIR-V binary supplied through options.
// The binary is reflected immediately; any failure is a *common.ReflectionError and no program is returned.
//
// Parameters:
//   - key: a unique identifier for the program
//   - stage: the pipeline stage the program runs in
//   - options: variadic list of ProgramBuilderOption functions; WithWGSL or WithSPIRV is required
//
// Returns:
//   - Program: the compiled and reflected program
//   - error: an error if compilation or reflection fails
func NewProgram(key string, stage Stage, options ...ProgramBuilderOption) (Program, error) {
	p := &program{
		key:   key,
		stage: stage,
	}
	for _, opt := range options {
		opt(p)
	}

	if len(p.binary) == 0 {
		if p.source == "" {
			return nil, &common.ReflectionError{Program: key, Reason: "no WGSL source or SPIR-V binary provided"}
		}
		bin, err := CompileWGSL(p.source)
		if err != nil {
			return nil, &common.ReflectionError{Program: key, Reason: "WGSL compilation failed", Err: err}
		}
		p.binary = bin
	}

	r, err := Reflect(stage, p.binary, WithProgramName(key), WithPadEmptyBlocks(p.padEmptyBlocks))
	if err != nil {
		return nil, err
	}
	p.reflection = r

	return p, nil
}

// LoadProgram reads a shader program from disk. Files ending in .wgsl are compiled to SPIR-V before
// reflection; any other extension is treated as a SPIR-V binary.
//
// Parameters:
//   - key: a unique identifier for the program
//   - stage: the pipeline stage the program runs in
//   - path: the .wgsl or .spv file to load
//   - options: variadic list of ProgramBuilderOption functions
//
// Returns:
//   - Program: the compiled and reflected program
//   - error: an error if the file cannot be read, compiled or reflected
func LoadProgram(key string, stage Stage, path string, options ...ProgramBuilderOption) (Program, error) {
	if path == "" {
		return nil, errors.New("shader: empty program path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shader: failed to read %q: %w", path, err)
	}

	opts := make([]ProgramBuilderOption, 0, len(options)+2)
	if strings.EqualFold(filepath.Ext(path), ".wgsl") {
		opts = append(opts, WithWGSL(string(data)))
	} else {
		opts = append(opts, WithSPIRV(data))
	}
	opts = append(opts, withPath(path))
	opts = append(opts, options...)

	return NewProgram(key, stage, opts...)
}

func (p *program) Key() string {
	return p.key
}

func (p *program) Path() string {
	return p.path
}

func (p *program) Stage() Stage {
	return p.stage
}

func (p *program) Source() string {
	return p.source
}

func (p *program) Binary() []byte {
	return p.binary
}

func (p *program) EntryPoint() string {
	return p.reflection.EntryPoint
}

func (p *program) Reflection() *Reflection {
	return p.reflection
}
