package device

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
	"github.com/charmbracelet/log"
)

// Op identifies a device call in the Recorder's command log.
type Op int

const (
	OpCreateBuffer Op = iota
	OpWriteBuffer
	OpCreateTexture
	OpWriteTexture
	OpCreateShader
	OpCreateInputLayout
	OpBindConstantBuffer
	OpBindStructuredBuffer
	OpBindTexture
	OpSetPipeline
	OpDraw
	OpClear
	OpPresent
	OpResize
	OpRelease
)

var opNames = map[Op]string{
	OpCreateBuffer:         "CreateBuffer",
	OpWriteBuffer:          "WriteBuffer",
	OpCreateTexture:        "CreateTexture",
	OpWriteTexture:         "WriteTexture",
	OpCreateShader:         "CreateShader",
	OpCreateInputLayout:    "CreateInputLayout",
	OpBindConstantBuffer:   "BindConstantBuffer",
	OpBindStructuredBuffer: "BindStructuredBuffer",
	OpBindTexture:          "BindTexture",
	OpSetPipeline:          "SetPipeline",
	OpDraw:                 "DrawIndexedInstanced",
	OpClear:                "Clear",
	OpPresent:              "Present",
	OpResize:               "Resize",
	OpRelease:              "Release",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Command is one entry of the Recorder's command log.
type Command struct {
	Op       Op
	Handle   Handle
	Label    string
	Slot     Slot
	Offset   uint64
	Bytes    int
	Pipeline PipelineState
	Draw     DrawArgs
}

// DrawRecord captures the state that was bound when a draw was issued.
type DrawRecord struct {
	Args     DrawArgs
	Pipeline PipelineState
	// InputStride is the stride of the input layout bound by the pipeline.
	InputStride uint32
	// Structured holds a copy of the contents of every structured buffer bound at draw time.
	Structured map[Slot][]byte
	// Constants holds the uniform buffer bound to each slot at draw time.
	Constants map[Slot]Handle
	// Textures holds the texture bound to each slot at draw time.
	Textures map[Slot]Handle
}

type resourceKind int

const (
	kindBuffer resourceKind = iota
	kindTexture
	kindShader
	kindInputLayout
)

type resource struct {
	kind   resourceKind
	label  string
	usage  BufferUsage
	data   []byte
	tex    TextureDesc
	stage  shader.Stage
	stride uint32
}

// Recorder is an in-memory Device. It keeps the contents of every buffer and texture readable, logs each
// call in order and snapshots bound state at every draw. Failures can be injected per operation.
// It backs the package tests and the headless mode of the demo host.
type Recorder struct {
	mu *sync.Mutex

	next      Handle
	resources map[Handle]*resource

	constants  map[Slot]Handle
	structured map[Slot]Handle
	textures   map[Slot]Handle
	pipeline   *PipelineState

	commands []Command
	draws    []DrawRecord
	failures map[Op]*injectedFailure

	width, height int
	logger        *log.Logger
}

type injectedFailure struct {
	remaining int
	err       error
}

// RecorderOption is a functional option applied to a Recorder during construction via NewRecorder.
type RecorderOption func(*Recorder)

// WithCommandLogger logs every recorded command at debug level.
//
// Parameters:
//   - logger: the logger to write commands to
//
// Returns:
//   - RecorderOption: a function that applies the logger option to a Recorder
func WithCommandLogger(logger *log.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithSurfaceSize sets the initial render target size reported by the Recorder.
func WithSurfaceSize(width, height int) RecorderOption {
	return func(r *Recorder) {
		r.width, r.height = width, height
	}
}

var _ Device = &Recorder{}

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("injected device failure")

// NewRecorder creates an empty Recorder.
//
// Parameters:
//   - options: variadic list of RecorderOption functions
//
// Returns:
//   - *Recorder: the recording device
func NewRecorder(options ...RecorderOption) *Recorder {
	r := &Recorder{
		mu:         &sync.Mutex{},
		resources:  make(map[Handle]*resource),
		constants:  make(map[Slot]Handle),
		structured: make(map[Slot]Handle),
		textures:   make(map[Slot]Handle),
		failures:   make(map[Op]*injectedFailure),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// FailNext makes the next n calls of op fail with err (ErrInjected when err is nil) without side effects.
//
// Parameters:
//   - op: the operation to fail
//   - n: how many consecutive calls fail
//   - err: the error to return
func (r *Recorder) FailNext(op Op, n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	r.failures[op] = &injectedFailure{remaining: n, err: err}
}

// Commands returns a copy of the command log.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Count returns how many times op was recorded.
func (r *Recorder) Count(op Op) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.commands {
		if c.Op == op {
			n++
		}
	}
	return n
}

// CommandsOf returns the recorded commands of one operation, in order.
func (r *Recorder) CommandsOf(op Op) []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Command
	for _, c := range r.commands {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Draws returns the recorded draws with their bound state.
func (r *Recorder) Draws() []DrawRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DrawRecord(nil), r.draws...)
}

// ResetLog clears the command and draw logs while keeping all resources and bindings.
func (r *Recorder) ResetLog() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
	r.draws = nil
}

// Contents returns a copy of a buffer's or texture's bytes.
func (r *Recorder) Contents(h Handle) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[h]
	if !ok || (res.kind != kindBuffer && res.kind != kindTexture) {
		return nil, false
	}
	return append([]byte(nil), res.data...), true
}

// Label returns the label a resource was created with.
func (r *Recorder) Label(h Handle) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.resources[h]; ok {
		return res.label
	}
	return ""
}

// Live returns the number of resources that have not been released.
func (r *Recorder) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resources)
}

// ConstantBuffer returns the uniform buffer bound to a slot.
func (r *Recorder) ConstantBuffer(slot Slot) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.constants[slot]
	return h, ok
}

// BoundTexture returns the texture bound to a slot.
func (r *Recorder) BoundTexture(slot Slot) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.textures[slot]
	return h, ok
}

// Size returns the current render target size.
func (r *Recorder) Size() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

func (r *Recorder) CreateBuffer(desc BufferDesc, initial []byte) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected(OpCreateBuffer); err != nil {
		return 0, err
	}
	if uint64(len(initial)) > desc.Size {
		return 0, fmt.Errorf("initial data (%d bytes) larger than buffer %q (%d bytes)", len(initial), desc.Label, desc.Size)
	}
	data := make([]byte, desc.Size)
	copy(data, initial)
	h := r.add(&resource{kind: kindBuffer, label: desc.Label, usage: desc.Usage, data: data})
	r.record(Command{Op: OpCreateBuffer, Handle: h, Label: desc.Label, Bytes: int(desc.Size)})
	return h, nil
}

func (r *Recorder) WriteBuffer(buf Handle, offset uint64, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected(OpWriteBuffer); err != nil {
		return err
	}
	res, err := r.lookup(buf, kindBuffer)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > uint64(len(res.data)) {
		return fmt.Errorf("write of %d bytes at %d overruns buffer %q (%d bytes)", len(data), offset, res.label, len(res.data))
	}
	copy(res.data[offset:], data)
	r.record(Command{Op: OpWriteBuffer, Handle: buf, Label: res.label, Offset: offset, Bytes: len(data)})
	return nil
}

func (r *Recorder) CreateTexture(desc TextureDesc) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected(OpCreateTexture); err != nil {
		return 0, err
	}
	if desc.Width == 0 || desc.Height == 0 {
		return 0, fmt.Errorf("texture %q has zero size", desc.Label)
	}
	size := desc.Width * desc.Height * desc.Format.BytesPerTexel()
	h := r.add(&resource{kind: kindTexture, label: desc.Label, data: make([]byte, size), tex: desc})
	r.record(Command{Op: OpCreateTexture, Handle: h, Label: desc.Label, Bytes: int(size)})
	return h, nil
}

func (r *Recorder) WriteTexture(tex Handle, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected(OpWriteTexture); err != nil {
		return err
	}
	res, err := r.lookup(tex, kindTexture)
	if err != nil {
		return err
	}
	if len(data) > len(res.data) {
		return fmt.Errorf("write of %d bytes overruns texture %q (%d bytes)", len(data), res.label, len(res.data))
	}
	copy(res.data, data)
	r.record(Command{Op: OpWriteTexture, Handle: tex, Label: res.label, Bytes: len(data)})
	return nil
}

func (r *Recorder) CreateShader(p shader.Program) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected(OpCreateShader); err != nil {
		return 0, err
	}
	h := r.add(&resource{kind: kindShader, label: p.Key(), stage: p.Stage()})
	r.record(Command{Op: OpCreateShader, Handle: h, Label: p.Key()})
	return h, nil
}

func (r *Recorder) CreateInputLayout(vertexShader Handle, desc InputLayoutDesc) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected(OpCreateInputLayout); err != nil {
		return 0, err
	}
	vs, err := r.lookup(vertexShader, kindShader)
	if err != nil {
		return 0, err
	}
	if vs.stage != shader.StageVertex {
		return 0, fmt.Errorf("input layout %q requires a vertex shader, got %s", desc.Label, vs.stage)
	}
	h := r.add(&resource{kind: kindInputLayout, label: desc.Label, stride: desc.Stride})
	r.record(Command{Op: OpCreateInputLayout, Handle: h, Label: desc.Label})
	return h, nil
}

func (r *Recorder) BindConstantBuffer(slot Slot, buf Handle) error {
	return r.bind(OpBindConstantBuffer, kindBuffer, r.constants, slot, buf)
}

func (r *Recorder) BindStructuredBuffer(slot Slot, buf Handle) error {
	return r.bind(OpBindStructuredBuffer, kindBuffer, r.structured, slot, buf)
}

func (r *Recorder) BindTexture(slot Slot, tex Handle) error {
	return r.bind(OpBindTexture, kindTexture, r.textures, slot, tex)
}

func (r *Recorder) bind(op Op, kind resourceKind, table map[Slot]Handle, slot Slot, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected(op); err != nil {
		return err
	}
	res, err := r.lookup(h, kind)
	if err != nil {
		return err
	}
	table[slot] = h
	r.record(Command{Op: op, Handle: h, Label: res.label, Slot: slot})
	return nil
}

func (r *Recorder) SetPipeline(state PipelineState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected(OpSetPipeline); err != nil {
		return err
	}
	checks := []struct {
		h    Handle
		kind resourceKind
	}{
		{state.VertexShader, kindShader},
		{state.FragmentShader, kindShader},
		{state.InputLayout, kindInputLayout},
		{state.VertexBuffer, kindBuffer},
		{state.IndexBuffer, kindBuffer},
	}
	for _, c := range checks {
		if _, err := r.lookup(c.h, c.kind); err != nil {
			return fmt.Errorf("pipeline %q: %w", state.Label, err)
		}
	}
	s := state
	r.pipeline = &s
	r.record(Command{Op: OpSetPipeline, Label: state.Label, Pipeline: state})
	return nil
}

func (r *Recorder) DrawIndexedInstanced(args DrawArgs) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected(OpDraw); err != nil {
		return err
	}
	if r.pipeline == nil {
		return errors.New("draw issued with no pipeline bound")
	}

	rec := DrawRecord{
		Args:       args,
		Pipeline:   *r.pipeline,
		Structured: make(map[Slot][]byte, len(r.structured)),
		Constants:  maps.Clone(r.constants),
		Textures:   maps.Clone(r.textures),
	}
	if layout, ok := r.resources[r.pipeline.InputLayout]; ok {
		rec.InputStride = layout.stride
	}
	for slot, h := range r.structured {
		if res, ok := r.resources[h]; ok {
			rec.Structured[slot] = append([]byte(nil), res.data...)
		}
	}
	r.draws = append(r.draws, rec)
	r.record(Command{Op: OpDraw, Label: r.pipeline.Label, Draw: args})
	return nil
}

func (r *Recorder) Clear(color [4]float32, depth float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected(OpClear); err != nil {
		return err
	}
	r.record(Command{Op: OpClear})
	return nil
}

func (r *Recorder) Present() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected(OpPresent); err != nil {
		return err
	}
	r.record(Command{Op: OpPresent})
	return nil
}

func (r *Recorder) Resize(width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected(OpResize); err != nil {
		return err
	}
	r.width, r.height = width, height
	r.record(Command{Op: OpResize})
	return nil
}

func (r *Recorder) Release(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[h]
	if !ok {
		return
	}
	delete(r.resources, h)
	for _, table := range []map[Slot]Handle{r.constants, r.structured, r.textures} {
		for slot, bound := range table {
			if bound == h {
				delete(table, slot)
			}
		}
	}
	r.record(Command{Op: OpRelease, Handle: h, Label: res.label})
}

func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipeline = nil
}

func (r *Recorder) add(res *resource) Handle {
	r.next++
	r.resources[r.next] = res
	return r.next
}

func (r *Recorder) lookup(h Handle, kind resourceKind) (*resource, error) {
	res, ok := r.resources[h]
	if !ok {
		return nil, fmt.Errorf("unknown handle %d", h)
	}
	if res.kind != kind {
		return nil, fmt.Errorf("handle %d (%q) has the wrong resource type", h, res.label)
	}
	return res, nil
}

func (r *Recorder) injected(op Op) error {
	f, ok := r.failures[op]
	if !ok || f.remaining == 0 {
		return nil
	}
	f.remaining--
	return f.err
}

func (r *Recorder) record(c Command) {
	r.commands = append(r.commands, c)
	if r.logger != nil {
		r.logger.Debug(c.Op.String(), "handle", c.Handle, "label", c.Label, "bytes", c.Bytes)
	}
}
