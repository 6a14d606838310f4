package renderer

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"testing"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/model"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/cbuffer"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
	"github.com/charmbracelet/log"
)

type testProgram struct {
	key        string
	reflection *shader.Reflection
}

func (p testProgram) Key() string { return p.key }
func (p testProgram) Path() string { return "" }
func (p testProgram) Stage() shader.Stage { return p.reflection.Stage }
func (p testProgram) Source() string { return "" }
func (p testProgram) Binary() []byte { return nil }
func (p testProgram) EntryPoint() string { return "main" }
func (p testProgram) Reflection() *shader.Reflection { return p.reflection }

var (
	instanceSlot = device.Slot{Stage: shader.StageVertex, Group: 0, Binding: 1}
	boneSlot     = device.Slot{Stage: shader.StageVertex, Group: 0, Binding: 2}
	albedoSlot   = device.Slot{Stage: shader.StageFragment, Group: 1, Binding: 1}
)

func cameraBlock() shader.Block {
	return shader.Block{
		Name: "camera", Group: 0, Binding: 0, Size: 80,
		Variables: []shader.Variable{
			{Name: "viewProj", Offset: 0, Size: 64},
			{Name: "eye", Offset: 64, Size: 12},
			{Name: "time", Offset: 76, Size: 4},
		},
	}
}

func staticInputs() []shader.VertexInput {
	return []shader.VertexInput{
		{Name: "position", Location: 0, Components: 3, Scalar: shader.ScalarFloat, Size: 12},
		{Name: "normal", Location: 1, Components: 3, Scalar: shader.ScalarFloat, Size: 12},
		{Name: "tangent", Location: 2, Components: 3, Scalar: shader.ScalarFloat, Size: 12},
		{Name: "uv", Location: 3, Components: 2, Scalar: shader.ScalarFloat, Size: 8},
	}
}

func staticVertexProgram() testProgram {
	return testProgram{key: "static.vert", reflection: &shader.Reflection{
		Stage:      shader.StageVertex,
		EntryPoint: "main",
		Blocks:     []shader.Block{cameraBlock()},
		Resources: []shader.Resource{
			{Name: "camera", Kind: shader.ResourceUniform, Group: 0, Binding: 0, Size: 80},
			{Name: "instances", Kind: shader.ResourceStorage, Group: 0, Binding: 1},
		},
		Inputs: staticInputs(),
	}}
}

func dynamicVertexProgram() testProgram {
	inputs := append(staticInputs(),
		shader.VertexInput{Name: "boneIndices", Location: 4, Components: 4, Scalar: shader.ScalarUint, Size: 16},
		shader.VertexInput{Name: "boneWeights", Location: 5, Components: 4, Scalar: shader.ScalarFloat, Size: 16},
	)
	return testProgram{key: "dynamic.vert", reflection: &shader.Reflection{
		Stage:      shader.StageVertex,
		EntryPoint: "main",
		Blocks:     []shader.Block{cameraBlock()},
		Resources: []shader.Resource{
			{Name: "camera", Kind: shader.ResourceUniform, Group: 0, Binding: 0, Size: 80},
			{Name: "instances", Kind: shader.ResourceStorage, Group: 0, Binding: 1},
			{Name: "bones", Kind: shader.ResourceTexture, Group: 0, Binding: 2},
		},
		Inputs: inputs,
	}}
}

func fragmentProgram() testProgram {
	return testProgram{key: "shared.frag", reflection: &shader.Reflection{
		Stage:      shader.StageFragment,
		EntryPoint: "main",
		Blocks: []shader.Block{{
			Name: "light", Group: 1, Binding: 0, Size: 32,
			Variables: []shader.Variable{
				{Name: "direction", Offset: 0, Size: 12},
				{Name: "ambient", Offset: 12, Size: 4},
				{Name: "color", Offset: 16, Size: 16},
			},
		}},
		Resources: []shader.Resource{
			{Name: "light", Kind: shader.ResourceUniform, Group: 1, Binding: 0, Size: 32},
			{Name: "albedo", Kind: shader.ResourceTexture, Group: 1, Binding: 1},
			{Name: "albedoSampler", Kind: shader.ResourceSampler, Group: 1, Binding: 2},
		},
		Textures: map[string]uint32{"albedo": 1},
	}}
}

func demoCollection(t *testing.T, terrain, props, npcs int) model.Collection {
	t.Helper()
	c, err := model.DemoCollection(terrain, props, npcs)
	if err != nil {
		t.Fatalf("DemoCollection: %v", err)
	}
	return c
}

func newTestRenderer(t *testing.T, collection model.Collection, options ...RendererBuilderOption) (Renderer, *device.Recorder) {
	t.Helper()
	rec := device.NewRecorder()
	base := []RendererBuilderOption{
		WithDevice(rec),
		WithLogger(log.New(io.Discard)),
		WithPrograms(staticVertexProgram(), dynamicVertexProgram(), fragmentProgram()),
		WithMaxInstances(256),
		WithMaxBones(8),
		WithEncodeWorkers(1),
	}
	r := NewRenderer(append(base, options...)...)
	if err := r.Initialize(nil, collection); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(r.Shutdown)
	return r, rec
}

func TestRenderFrameCategoryScenario(t *testing.T) {
	collection := demoCollection(t, 100, 50, 10)
	r, rec := newTestRenderer(t, collection)
	rec.ResetLog()

	if err := r.RenderFrame(collection); err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}

	if n := rec.Count(device.OpSetPipeline); n != 2 {
		t.Errorf("SetPipeline called %d times, want 2", n)
	}
	draws := rec.Draws()
	want := []struct {
		category string
		format   model.Format
		count    uint32
	}{
		{"Terrain", model.FormatStatic, 100},
		{"Static", model.FormatStatic, 50},
		{"NPC", model.FormatDynamic, 10},
	}
	if len(draws) != len(want) {
		t.Fatalf("recorded %d draws, want %d", len(draws), len(want))
	}
	for i, w := range want {
		batch, _ := collection.Batch(w.category)
		got := draws[i]
		if got.Args.InstanceCount != w.count {
			t.Errorf("draw %d instance count = %d, want %d", i, got.Args.InstanceCount, w.count)
		}
		wantArgs := device.DrawArgs{
			IndexCount:    batch.IndexCount,
			InstanceCount: batch.InstanceCount,
			StartIndex:    batch.IndexOffset,
			BaseVertex:    int32(batch.VertexOffset),
		}
		if got.Args != wantArgs {
			t.Errorf("draw %d args = %+v, want %+v", i, got.Args, wantArgs)
		}
		if got.Pipeline.Label != w.format.String() || got.InputStride != w.format.VertexStride() {
			t.Errorf("draw %d used pipeline %q stride %d, want %s", i, got.Pipeline.Label, got.InputStride, w.format)
		}

		first := make([]byte, model.GPUInstanceSize)
		collection.Instances(w.format).EncodeRange(first, int(batch.InstanceOffset), 1)
		if !bytes.HasPrefix(got.Structured[instanceSlot], first) {
			t.Errorf("draw %d (%s) did not see its own instances at the start of the instance buffer", i, w.category)
		}
	}

	var sequence []device.Op
	for _, c := range rec.Commands() {
		sequence = append(sequence, c.Op)
	}
	wantSequence := []device.Op{
		device.OpSetPipeline,
		device.OpWriteBuffer, device.OpDraw,
		device.OpWriteBuffer, device.OpDraw,
		device.OpSetPipeline,
		device.OpWriteBuffer, device.OpWriteTexture, device.OpDraw,
	}
	if !slices.Equal(sequence, wantSequence) {
		t.Errorf("command sequence = %v, want %v", sequence, wantSequence)
	}

	if s := r.State(); s != FrameComplete {
		t.Errorf("State = %s, want %s", s, FrameComplete)
	}
	stats := r.Stats()
	if stats.Activations != 2 || stats.Draws != 3 || stats.Instances != 160 || stats.BoneUploads != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestRenderFrameFlushesConstantsFirst(t *testing.T) {
	collection := demoCollection(t, 4, 4, 4)
	r, rec := newTestRenderer(t, collection)
	rec.ResetLog()

	if err := r.SetVariable(shader.StageVertex, "camera", "viewProj", common.Identity().Bytes()); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}
	if err := r.SetVariable(shader.StageVertex, "camera", "time", common.Float32Bytes(1.5)); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}
	if err := r.RenderFrame(collection); err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}

	commands := rec.Commands()
	if len(commands) == 0 {
		t.Fatal("RenderFrame issued no commands")
	}
	if commands[0].Op != device.OpWriteBuffer || commands[0].Bytes != 80 {
		t.Fatalf("first command = %+v, want the 80 byte camera upload", commands[0])
	}
	if n := r.Stats().ConstantUploads; n != 1 {
		t.Errorf("ConstantUploads = %d, want 1", n)
	}

	if err := r.RenderFrame(collection); err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	if n := r.Stats().ConstantUploads; n != 0 {
		t.Errorf("ConstantUploads on a clean frame = %d, want 0", n)
	}
}

func TestRenderFrameSkipsCategories(t *testing.T) {
	tests := []struct {
		name            string
		terrain, npcs   int
		categories      []model.Category
		wantActivations int
		wantDraws       []uint32
	}{
		{
			name:    "zero instances",
			terrain: 0, npcs: 3,
			categories:      model.DefaultCategories(),
			wantActivations: 2,
			wantDraws:       []uint32{5, 3},
		},
		{
			name:    "no dynamic categories",
			terrain: 2, npcs: 3,
			categories:      []model.Category{{Name: "Terrain", Format: model.FormatStatic}, {Name: "Static", Format: model.FormatStatic}},
			wantActivations: 1,
			wantDraws:       []uint32{2, 5},
		},
		{
			name:    "category missing from the collection",
			terrain: 2, npcs: 3,
			categories:      []model.Category{{Name: "Rocks", Format: model.FormatStatic}, {Name: "NPC", Format: model.FormatDynamic, Skinned: true}},
			wantActivations: 2,
			wantDraws:       []uint32{3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collection := demoCollection(t, tt.terrain, 5, tt.npcs)
			r, rec := newTestRenderer(t, collection, WithCategories(tt.categories...))
			rec.ResetLog()

			if err := r.RenderFrame(collection); err != nil {
				t.Fatalf("RenderFrame: %v", err)
			}
			if n := rec.Count(device.OpSetPipeline); n != tt.wantActivations {
				t.Errorf("SetPipeline called %d times, want %d", n, tt.wantActivations)
			}
			draws := rec.Draws()
			if len(draws) != len(tt.wantDraws) {
				t.Fatalf("recorded %d draws, want %d", len(draws), len(tt.wantDraws))
			}
			for i, count := range tt.wantDraws {
				if draws[i].Args.InstanceCount != count {
					t.Errorf("draw %d instance count = %d, want %d", i, draws[i].Args.InstanceCount, count)
				}
			}
		})
	}
}

func TestRenderFrameAborts(t *testing.T) {
	tests := []struct {
		name      string
		fail      device.Op
		wantDraws int
	}{
		{"flush", device.OpWriteBuffer, 0},
		{"activate", device.OpSetPipeline, 0},
		{"draw", device.OpDraw, 0},
		{"bone upload", device.OpWriteTexture, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collection := demoCollection(t, 4, 4, 4)
			r, rec := newTestRenderer(t, collection)
			if err := r.SetVariable(shader.StageVertex, "camera", "eye", common.Float32Bytes(0, 2, -5)); err != nil {
				t.Fatal(err)
			}
			rec.ResetLog()
			rec.FailNext(tt.fail, 1, nil)

			err := r.RenderFrame(collection)
			if !errors.Is(err, device.ErrInjected) {
				t.Fatalf("err = %v, want the injected failure", err)
			}
			var de *common.DeviceError
			if !errors.As(err, &de) {
				t.Errorf("err = %v, want a *common.DeviceError", err)
			}
			if n := len(rec.Draws()); n != tt.wantDraws {
				t.Errorf("%d draws before the abort, want %d", n, tt.wantDraws)
			}
			if s := r.State(); s != FrameIdle {
				t.Errorf("State = %s after an aborted frame, want %s", s, FrameIdle)
			}

			if err := r.RenderFrame(collection); err != nil {
				t.Fatalf("next RenderFrame: %v", err)
			}
			if tt.fail == device.OpWriteBuffer && r.Stats().ConstantUploads != 1 {
				t.Error("dirty camera block was not retried after the failed flush")
			}
		})
	}
}

func TestRenderFrameInstanceOverflow(t *testing.T) {
	collection := demoCollection(t, 300, 1, 1)
	r, rec := newTestRenderer(t, collection)
	rec.ResetLog()

	err := r.RenderFrame(collection)
	var re *common.RangeError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *common.RangeError", err)
	}
	if n := len(rec.Draws()); n != 0 {
		t.Errorf("%d draws after an overflow, want 0", n)
	}
}

func TestInitializeFailureReleases(t *testing.T) {
	tests := []struct {
		name string
		fail device.Op
	}{
		{"create shader", device.OpCreateShader},
		{"create constant buffer", device.OpCreateBuffer},
		{"bind constant buffer", device.OpBindConstantBuffer},
		{"create input layout", device.OpCreateInputLayout},
		{"create bone texture", device.OpCreateTexture},
		{"bind instance buffer", device.OpBindStructuredBuffer},
		{"bind bone texture", device.OpBindTexture},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := device.NewRecorder()
			rec.FailNext(tt.fail, 1, nil)
			r := NewRenderer(
				WithDevice(rec),
				WithLogger(log.New(io.Discard)),
				WithPrograms(staticVertexProgram(), dynamicVertexProgram(), fragmentProgram()),
				WithEncodeWorkers(1),
			)

			if err := r.Initialize(nil, demoCollection(t, 1, 1, 1)); err == nil {
				t.Fatal("Initialize succeeded with a failing device")
			}
			if n := rec.Live(); n != 0 {
				t.Errorf("%d resources leaked", n)
			}
			if err := r.RenderFrame(demoCollection(t, 1, 1, 1)); err == nil {
				t.Error("RenderFrame succeeded after a failed Initialize")
			}
		})
	}
}

func TestInitializeRejectsPrograms(t *testing.T) {
	narrow := staticVertexProgram()
	narrow.reflection.Inputs = narrow.reflection.Inputs[:3]

	conflicting := dynamicVertexProgram()
	conflicting.reflection.Blocks[0].Variables[1].Offset = 68

	tests := []struct {
		name                  string
		static, dynamic, frag shader.Program
	}{
		{"wrong stage", fragmentProgram(), dynamicVertexProgram(), fragmentProgram()},
		{"vertex stride mismatch", narrow, dynamicVertexProgram(), fragmentProgram()},
		{"dynamic program for the static format", dynamicVertexProgram(), dynamicVertexProgram(), fragmentProgram()},
		{"conflicting shared block", staticVertexProgram(), conflicting, fragmentProgram()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := device.NewRecorder()
			r := NewRenderer(WithDevice(rec), WithLogger(log.New(io.Discard)), WithPrograms(tt.static, tt.dynamic, tt.frag))

			err := r.Initialize(nil, demoCollection(t, 1, 1, 1))
			var re *common.ReflectionError
			if !errors.As(err, &re) {
				t.Fatalf("err = %v, want *common.ReflectionError", err)
			}
			if n := rec.Live(); n != 0 {
				t.Errorf("%d resources leaked", n)
			}
		})
	}
}

func TestInitializeRequiresSurfaceOrDevice(t *testing.T) {
	r := NewRenderer(WithLogger(log.New(io.Discard)))
	if err := r.Initialize(nil, demoCollection(t, 1, 1, 1)); err == nil {
		t.Fatal("Initialize succeeded without a surface or a device")
	}
}

func TestInitializeBindsResources(t *testing.T) {
	_, rec := newTestRenderer(t, demoCollection(t, 1, 1, 1))

	if _, ok := rec.ConstantBuffer(device.Slot{Stage: shader.StageVertex, Index: 0, Group: 0, Binding: 0}); !ok {
		t.Error("camera block not bound at vertex slot 0")
	}
	if _, ok := rec.ConstantBuffer(device.Slot{Stage: shader.StageFragment, Index: 0, Group: 1, Binding: 0}); !ok {
		t.Error("light block not bound at fragment slot 0")
	}
	if _, ok := rec.BoundTexture(boneSlot); !ok {
		t.Error("bone palette not bound")
	}
	binds := rec.CommandsOf(device.OpBindStructuredBuffer)
	if len(binds) != 1 || binds[0].Slot != instanceSlot {
		t.Errorf("instance buffer binds = %+v, want one at %s", binds, instanceSlot)
	}
	if n := rec.Count(device.OpCreateShader); n != 3 {
		t.Errorf("created %d shaders, want 3", n)
	}
}

func TestLoadTexture(t *testing.T) {
	pixels := bytes.Repeat([]byte{255, 128, 0, 255}, 4)

	t.Run("bound at the reflected slot", func(t *testing.T) {
		r, rec := newTestRenderer(t, demoCollection(t, 1, 1, 1))
		if err := r.LoadTexture("albedo", common.TextureStagingData{Pixels: pixels, Width: 2, Height: 2}); err != nil {
			t.Fatalf("LoadTexture: %v", err)
		}
		h, ok := rec.BoundTexture(albedoSlot)
		if !ok {
			t.Fatal("albedo not bound")
		}
		if got, _ := rec.Contents(h); !bytes.Equal(got, pixels) {
			t.Error("albedo texture does not hold the pixels")
		}

		live := rec.Live()
		if err := r.LoadTexture("albedo", common.TextureStagingData{Pixels: pixels, Width: 2, Height: 2}); err != nil {
			t.Fatalf("LoadTexture: %v", err)
		}
		if rec.Live() != live {
			t.Errorf("Live = %d after replacing the texture, want %d", rec.Live(), live)
		}
	})

	t.Run("unknown name", func(t *testing.T) {
		r, rec := newTestRenderer(t, demoCollection(t, 1, 1, 1))
		rec.ResetLog()
		if err := r.LoadTexture("normalMap", common.TextureStagingData{Pixels: pixels, Width: 2, Height: 2}); err != nil {
			t.Fatalf("LoadTexture: %v", err)
		}
		if n := len(rec.Commands()); n != 0 {
			t.Errorf("%d device calls for an unknown texture, want 0", n)
		}
	})

	t.Run("short pixel data", func(t *testing.T) {
		r, rec := newTestRenderer(t, demoCollection(t, 1, 1, 1))
		rec.ResetLog()
		err := r.LoadTexture("albedo", common.TextureStagingData{Pixels: pixels[:8], Width: 2, Height: 2})
		var re *common.RangeError
		if !errors.As(err, &re) {
			t.Fatalf("err = %v, want *common.RangeError", err)
		}
		if n := len(rec.Commands()); n != 0 {
			t.Errorf("%d device calls for malformed pixels, want 0", n)
		}
	})
}

func TestSetVariableErrors(t *testing.T) {
	r, _ := newTestRenderer(t, demoCollection(t, 1, 1, 1))

	var ub *common.UnknownBlockError
	if err := r.SetVariable(shader.StageFragment, "camera", "eye", nil); !errors.As(err, &ub) {
		t.Errorf("err = %v, want *common.UnknownBlockError", err)
	}
	var uv *common.UnknownVariableError
	if err := r.SetVariable(shader.StageFragment, "light", "radius", common.Float32Bytes(1)); !errors.As(err, &uv) {
		t.Errorf("err = %v, want *common.UnknownVariableError", err)
	}

	h, err := r.Resolve(shader.StageFragment, "light", "color")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := r.SetVariableHandle(h, common.Float32Bytes(1, 1, 1, 1)); err != nil {
		t.Errorf("SetVariableHandle: %v", err)
	}

	if err := NewRenderer().SetVariable(shader.StageVertex, "camera", "eye", nil); err == nil {
		t.Error("SetVariable succeeded before Initialize")
	}
}

func TestClearPresentResize(t *testing.T) {
	r, rec := newTestRenderer(t, demoCollection(t, 1, 1, 1))
	rec.ResetLog()

	if err := r.ClearFrame(); err != nil {
		t.Fatalf("ClearFrame: %v", err)
	}
	if err := r.Present(); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if err := r.Resize(0, 0); err != nil {
		t.Fatalf("Resize(0, 0): %v", err)
	}
	if err := r.Resize(800, 600); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if w, h := rec.Size(); w != 800 || h != 600 {
		t.Errorf("surface size = %dx%d, want 800x600", w, h)
	}
	if n := rec.Count(device.OpResize); n != 1 {
		t.Errorf("Resize reached the device %d times, want 1", n)
	}

	rec.FailNext(device.OpPresent, 1, nil)
	var de *common.DeviceError
	if err := r.Present(); !errors.As(err, &de) {
		t.Errorf("err = %v, want *common.DeviceError", err)
	}
}

func TestUploadGeometryReplacesBuffers(t *testing.T) {
	r, rec := newTestRenderer(t, demoCollection(t, 1, 1, 1))
	live := rec.Live()

	bigger := demoCollection(t, 1, 1, 1)
	vertices, indices := model.Cube(2)
	if err := bigger.AddStatic("Crates", vertices, indices, model.Grid(3, 2, 0)); err != nil {
		t.Fatal(err)
	}
	if err := r.UploadGeometry(bigger); err != nil {
		t.Fatalf("UploadGeometry: %v", err)
	}
	if rec.Live() != live {
		t.Errorf("Live = %d after replacing geometry, want %d", rec.Live(), live)
	}

	rec.ResetLog()
	if err := r.RenderFrame(bigger); err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	pipelines := rec.CommandsOf(device.OpSetPipeline)
	vb := pipelines[0].Pipeline.VertexBuffer
	if got, _ := rec.Contents(vb); !bytes.Equal(got, bigger.Vertices(model.FormatStatic)) {
		t.Error("static pipeline does not bind the uploaded vertices")
	}
}

// offsetCollection reports one category's batch with a replaced vertex offset.
type offsetCollection struct {
	model.Collection
	category     string
	vertexOffset uint32
}

func (c offsetCollection) Batch(category string) (model.GeometryBatch, bool) {
	batch, ok := c.Collection.Batch(category)
	if ok && category == c.category {
		batch.VertexOffset = c.vertexOffset
	}
	return batch, ok
}

func TestRenderFrameRejectsVertexOffsetPastInt32(t *testing.T) {
	collection := offsetCollection{Collection: demoCollection(t, 2, 2, 2), category: "Terrain", vertexOffset: 1 << 31}
	r, rec := newTestRenderer(t, collection)
	rec.ResetLog()

	err := r.RenderFrame(collection)
	var re *common.RangeError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *common.RangeError", err)
	}
	if re.Offset != 1<<31 {
		t.Errorf("Offset = %d, want %d", re.Offset, uint64(1)<<31)
	}
	if n := len(rec.Draws()); n != 0 {
		t.Errorf("%d draws, want 0", n)
	}
	if n := rec.Count(device.OpWriteBuffer); n != 0 {
		t.Errorf("%d buffer writes before the rejected draw, want 0", n)
	}
}

func TestVariableHandleStaleAfterReload(t *testing.T) {
	collection := demoCollection(t, 2, 2, 2)
	r, rec := newTestRenderer(t, collection)

	h, err := r.Resolve(shader.StageVertex, "camera", "time")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := r.Reload(collection); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if err := r.SetVariableHandle(h, common.Float32Bytes(42)); !errors.Is(err, cbuffer.ErrStaleHandle) {
		t.Fatalf("SetVariableHandle = %v, want cbuffer.ErrStaleHandle", err)
	}

	fresh, err := r.Resolve(shader.StageVertex, "camera", "time")
	if err != nil {
		t.Fatalf("Resolve after Reload: %v", err)
	}
	if err := r.SetVariableHandle(fresh, common.Float32Bytes(42)); err != nil {
		t.Fatalf("SetVariableHandle: %v", err)
	}
	if err := r.RenderFrame(collection); err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	slot := device.Slot{Stage: shader.StageVertex, Index: 0, Group: 0, Binding: 0}
	buf, ok := rec.ConstantBuffer(slot)
	if !ok {
		t.Fatal("camera block not bound")
	}
	got, _ := rec.Contents(buf)
	if !bytes.Equal(got[76:80], common.Float32Bytes(42)) {
		t.Errorf("time = %v, want 42", got[76:80])
	}
}

func TestReloadRestoresTextures(t *testing.T) {
	collection := demoCollection(t, 2, 2, 2)
	r, rec := newTestRenderer(t, collection)
	pixels := bytes.Repeat([]byte{9}, 16)
	if err := r.LoadTexture("albedo", common.TextureStagingData{Pixels: pixels, Width: 2, Height: 2}); err != nil {
		t.Fatal(err)
	}
	live := rec.Live()

	if err := r.Reload(collection); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if rec.Live() != live {
		t.Errorf("Live = %d after Reload, want %d", rec.Live(), live)
	}
	h, ok := rec.BoundTexture(albedoSlot)
	if !ok {
		t.Fatal("albedo not restored")
	}
	if got, _ := rec.Contents(h); !bytes.Equal(got, pixels) {
		t.Error("restored albedo lost its pixels")
	}
	if err := r.RenderFrame(collection); err != nil {
		t.Fatalf("RenderFrame after Reload: %v", err)
	}
}

func TestShutdownReleasesEverything(t *testing.T) {
	collection := demoCollection(t, 3, 3, 3)
	r, rec := newTestRenderer(t, collection)
	if err := r.LoadTexture("albedo", common.TextureStagingData{Pixels: make([]byte, 4), Width: 1, Height: 1}); err != nil {
		t.Fatal(err)
	}
	if err := r.RenderFrame(collection); err != nil {
		t.Fatal(err)
	}

	r.Shutdown()
	if n := rec.Live(); n != 0 {
		t.Errorf("%d resources alive after Shutdown", n)
	}
	releases := rec.Count(device.OpRelease)
	r.Shutdown()
	if rec.Count(device.OpRelease) != releases {
		t.Error("second Shutdown released handles again")
	}
	if err := r.RenderFrame(collection); err == nil {
		t.Error("RenderFrame succeeded after Shutdown")
	}
}
