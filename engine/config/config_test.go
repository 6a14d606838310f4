package config

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-rendercore/engine/model"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	cats := cfg.ModelCategories()
	want := model.DefaultCategories()
	if len(cats) != len(want) {
		t.Fatalf("ModelCategories = %+v, want %+v", cats, want)
	}
	for i := range want {
		if cats[i] != want[i] {
			t.Errorf("category %d = %+v, want %+v", i, cats[i], want[i])
		}
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	doc := `
[window]
width = 800

[renderer]
max_instances = 512
present_mode = "uncapped"
clear_color = [0.0, 0.5, 1.0, 1.0]

[[categories]]
name = "Rocks"
format = "static"

[[categories]]
name = "Crowd"
format = "dynamic"
skinned = true
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Window.Width != 800 || cfg.Window.Height != 720 {
		t.Errorf("window = %+v, want 800x720", cfg.Window)
	}
	if cfg.Renderer.MaxInstances != 512 || cfg.Renderer.MaxBones != 256 {
		t.Errorf("renderer capacities = %d, %d", cfg.Renderer.MaxInstances, cfg.Renderer.MaxBones)
	}
	if cfg.Renderer.ClearColor != [4]float32{0, 0.5, 1, 1} {
		t.Errorf("clear color = %v", cfg.Renderer.ClearColor)
	}
	cats := cfg.ModelCategories()
	want := []model.Category{
		{Name: "Rocks", Format: model.FormatStatic},
		{Name: "Crowd", Format: model.FormatDynamic, Skinned: true},
	}
	if len(cats) != 2 || cats[0] != want[0] || cats[1] != want[1] {
		t.Errorf("categories = %+v, want %+v", cats, want)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown key", "[renderer]\nmax_instancez = 3\n", "max_instancez"},
		{"syntax", "[renderer\n", "line 1"},
		{"zero instances", "[renderer]\nmax_instances = 0\n", "max_instances"},
		{"present mode", "[renderer]\npresent_mode = \"triple\"\n", "present mode"},
		{"msaa", "[renderer]\nmsaa = 2\n", "msaa"},
		{"bad format", "[[categories]]\nname = \"X\"\nformat = \"wobbly\"\n", "wobbly"},
		{"skinned static", "[[categories]]\nname = \"X\"\nformat = \"static\"\nskinned = true\n", "skinned"},
		{"duplicate", "[[categories]]\nname = \"X\"\nformat = \"static\"\n[[categories]]\nname = \"X\"\nformat = \"static\"\n", "twice"},
		{"profile interval", "[scene]\nprofile_every = \"often\"\n", "profile_every"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("Parse succeeded")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateJoinsProblems(t *testing.T) {
	cfg := Default()
	cfg.Window.Width = 0
	cfg.Renderer.MaxBones = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate succeeded")
	}
	if !strings.Contains(err.Error(), "window size") || !strings.Contains(err.Error(), "max_bones") {
		t.Errorf("err = %v, want both problems", err)
	}
}

func TestLoadAndEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Scene.NPCs = 3
	cfg.Scene.ProfileEvery = "250ms"

	var buf bytes.Buffer
	if err := cfg.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "rendercore.toml")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Scene.NPCs != 3 {
		t.Errorf("NPCs = %d, want 3", loaded.Scene.NPCs)
	}
	if d, _ := loaded.Scene.ProfileInterval(); d != 250*time.Millisecond {
		t.Errorf("ProfileInterval = %v", d)
	}
	if len(loaded.Categories) != len(cfg.Categories) {
		t.Errorf("categories = %+v", loaded.Categories)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("Load succeeded for a missing file")
	}
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "cmd", "rendercore", "rendercore.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := Default(); !reflect.DeepEqual(cfg, want) {
		t.Errorf("example config = %+v\nwant %+v", cfg, want)
	}
}
