// Package config loads the render host's TOML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Carmen-Shannon/oxy-rendercore/engine/model"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer"
	"github.com/pelletier/go-toml/v2"
)

// Config is the complete host configuration.
type Config struct {
	Window     WindowConfig     `toml:"window"`
	Shaders    ShaderConfig     `toml:"shaders"`
	Renderer   RendererConfig   `toml:"renderer"`
	Categories []CategoryConfig `toml:"categories"`
	Scene      SceneConfig      `toml:"scene"`
	Log        LogConfig        `toml:"log"`
}

// WindowConfig sizes and titles the window.
type WindowConfig struct {
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	Title  string `toml:"title"`
}

// ShaderConfig points at the three shader programs. Empty paths use the built-in programs.
// Paths ending in .wgsl are compiled at load; anything else is read as SPIR-V.
type ShaderConfig struct {
	StaticVertex   string `toml:"static_vertex"`
	DynamicVertex  string `toml:"dynamic_vertex"`
	Fragment       string `toml:"fragment"`
	PadEmptyBlocks bool   `toml:"pad_empty_blocks"`
	Watch          bool   `toml:"watch"`
}

// RendererConfig holds device and capacity settings.
type RendererConfig struct {
	MaxInstances         int        `toml:"max_instances"`
	MaxBones             int        `toml:"max_bones"`
	PresentMode          string     `toml:"present_mode"`
	MSAA                 uint32     `toml:"msaa"`
	ClearColor           [4]float32 `toml:"clear_color"`
	ForceFallbackAdapter bool       `toml:"force_fallback_adapter"`
	EncodeWorkers        int        `toml:"encode_workers"`
	ParallelThreshold    int        `toml:"parallel_threshold"`
	MaxTextureSize       int        `toml:"max_texture_size"`
}

// CategoryConfig is one entry of the ordered draw category list.
type CategoryConfig struct {
	Name    string `toml:"name"`
	Format  string `toml:"format"`
	Skinned bool   `toml:"skinned"`
}

// SceneConfig sizes the demo scene and names the texture bound to the fragment program.
type SceneConfig struct {
	Terrain      int    `toml:"terrain"`
	Props        int    `toml:"props"`
	NPCs         int    `toml:"npcs"`
	Texture      string `toml:"texture"`
	TextureSlot  string `toml:"texture_slot"`
	ProfileEvery string `toml:"profile_every"`
}

// ProfileInterval parses ProfileEvery. An empty value disables profiling and returns zero.
func (s SceneConfig) ProfileInterval() (time.Duration, error) {
	if s.ProfileEvery == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.ProfileEvery)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("scene.profile_every %q is not a positive duration", s.ProfileEvery)
	}
	return d, nil
}

// LogConfig sets the minimum log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is given.
//
// Returns:
//   - *Config: a valid configuration
func Default() *Config {
	cfg := &Config{
		Window: WindowConfig{Width: 1280, Height: 720, Title: "oxy rendercore"},
		Renderer: RendererConfig{
			MaxInstances:      4096,
			MaxBones:          256,
			PresentMode:       "vsync",
			MSAA:              1,
			ClearColor:        renderer.DefaultClearColor,
			ParallelThreshold: 1024,
			MaxTextureSize:    2048,
		},
		Scene: SceneConfig{
			Terrain:      100,
			Props:        50,
			NPCs:         10,
			TextureSlot:  "albedo",
			ProfileEvery: "1s",
		},
		Log: LogConfig{Level: "info"},
	}
	for _, c := range model.DefaultCategories() {
		cfg.Categories = append(cfg.Categories, CategoryConfig{Name: c.Name, Format: c.Format.String(), Skinned: c.Skinned})
	}
	return cfg
}

// Load reads and validates a TOML file. Keys the file omits keep their Default values.
//
// Parameters:
//   - path: the file to read
//
// Returns:
//   - *Config: the validated configuration
//   - error: an error if the file cannot be read, has unknown keys or fails validation
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults and validates the result. Unknown keys are rejected.
// A [[categories]] list in the document replaces the default list.
//
// Parameters:
//   - data: the TOML document
//
// Returns:
//   - *Config: the validated configuration
//   - error: a decode or validation error
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Categories = nil

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("unknown keys:\n%s", strict.String())
		}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, fmt.Errorf("line %d column %d: %w", row, col, err)
		}
		return nil, err
	}
	if cfg.Categories == nil {
		cfg.Categories = Default().Categories
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field and reports all problems at once.
//
// Returns:
//   - error: nil, or an error joining every problem found
func (c *Config) Validate() error {
	var errs []error
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		errs = append(errs, fmt.Errorf("window size %dx%d must be positive", c.Window.Width, c.Window.Height))
	}
	if c.Renderer.MaxInstances <= 0 {
		errs = append(errs, fmt.Errorf("renderer.max_instances %d must be positive", c.Renderer.MaxInstances))
	}
	if c.Renderer.MaxBones <= 0 {
		errs = append(errs, fmt.Errorf("renderer.max_bones %d must be positive", c.Renderer.MaxBones))
	}
	if _, err := renderer.ParsePresentMode(c.Renderer.PresentMode); err != nil {
		errs = append(errs, err)
	}
	if c.Renderer.MSAA != uint32(renderer.MSAAOff) && c.Renderer.MSAA != uint32(renderer.MSAA4x) {
		errs = append(errs, fmt.Errorf("renderer.msaa %d must be 1 or 4", c.Renderer.MSAA))
	}
	if c.Renderer.EncodeWorkers < 0 || c.Renderer.ParallelThreshold < 0 || c.Renderer.MaxTextureSize < 0 {
		errs = append(errs, errors.New("renderer.encode_workers, parallel_threshold and max_texture_size must not be negative"))
	}
	if c.Scene.Terrain < 0 || c.Scene.Props < 0 || c.Scene.NPCs < 0 {
		errs = append(errs, errors.New("scene counts must not be negative"))
	}
	if _, err := c.Scene.ProfileInterval(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Categories) == 0 {
		errs = append(errs, errors.New("at least one category is required"))
	}

	seen := make(map[string]bool, len(c.Categories))
	for i, cat := range c.Categories {
		if strings.TrimSpace(cat.Name) == "" {
			errs = append(errs, fmt.Errorf("categories[%d] has no name", i))
			continue
		}
		if seen[cat.Name] {
			errs = append(errs, fmt.Errorf("category %q is listed twice", cat.Name))
		}
		seen[cat.Name] = true

		format, err := model.ParseFormat(cat.Format)
		if err != nil {
			errs = append(errs, fmt.Errorf("category %q: %w", cat.Name, err))
			continue
		}
		if cat.Skinned && format != model.FormatDynamic {
			errs = append(errs, fmt.Errorf("category %q is skinned but uses the %s format", cat.Name, format))
		}
	}
	return errors.Join(errs...)
}

// ModelCategories converts the category list to the renderer's draw order. The config must be valid.
func (c *Config) ModelCategories() []model.Category {
	out := make([]model.Category, 0, len(c.Categories))
	for _, cat := range c.Categories {
		format, _ := model.ParseFormat(cat.Format)
		out = append(out, model.Category{Name: cat.Name, Format: format, Skinned: cat.Skinned})
	}
	return out
}

// Encode writes the configuration as TOML.
//
// Parameters:
//   - w: the destination
//
// Returns:
//   - error: an error if encoding or writing fails
func (c *Config) Encode(w io.Writer) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(c)
}
