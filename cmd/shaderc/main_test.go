package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
)

func TestStageOf(t *testing.T) {
	tests := []struct {
		path  string
		stage shader.Stage
		ok    bool
	}{
		{"assets/static.vert.wgsl", shader.StageVertex, true},
		{"Shared.FRAG.wgsl", shader.StageFragment, true},
		{"common.wgsl", 0, false},
	}
	for _, tt := range tests {
		stage, ok := stageOf(tt.path)
		if ok != tt.ok || (ok && stage != tt.stage) {
			t.Errorf("stageOf(%q) = %v, %v; want %v, %v", tt.path, stage, ok, tt.stage, tt.ok)
		}
	}
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.vert.wgsl", "b.frag.wgsl", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := collect(dir)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("collect(dir) = %v, want the two .wgsl files", got)
	}

	single := filepath.Join(dir, "notes.txt")
	if got, err := collect(single); err != nil || len(got) != 1 || got[0] != single {
		t.Errorf("collect(file) = %v, %v", got, err)
	}

	if _, err := collect(filepath.Join(dir, "absent")); err == nil {
		t.Error("collect succeeded for a missing path")
	}
}
