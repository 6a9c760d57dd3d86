package core

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Application  ApplicationConfig   `toml:"application"`
	Logging      LoggingConfig       `toml:"logging"`
	Window       WindowConfig        `toml:"window"`
	Renderer     RendererConfig      `toml:"renderer"`
	Framebuffers []FramebufferConfig `toml:"framebuffers"`
	Stages       []StageConfig       `toml:"stages"`
}

type ApplicationConfig struct {
	Name      string `toml:"name"`
	AssetRoot string `toml:"asset_root"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

type WindowConfig struct {
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type RendererConfig struct {
	// "vulkan" or "soft"
	Backend    string     `toml:"backend"`
	Debug      bool       `toml:"debug"`
	VSync      bool       `toml:"vsync"`
	ClearColor [4]float32 `toml:"clear_color"`
}

// FramebufferConfig describes an offscreen target a stage can render into.
type FramebufferConfig struct {
	Name        string `toml:"name"`
	Width       uint32 `toml:"width"`
	Height      uint32 `toml:"height"`
	ColorFormat string `toml:"color_format"`
	Depth       bool   `toml:"depth"`
}

type StageConfig struct {
	Name string `toml:"name"`
	// pointer so a missing key keeps the stage enabled
	Enabled *bool `toml:"enabled"`
	// empty means the window framebuffer
	Framebuffer string `toml:"framebuffer"`
}

func (s StageConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

const (
	BackendVulkan = "vulkan"
	BackendSoft   = "soft"
)

func DefaultConfig() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:      "Prism",
			AssetRoot: "assets",
		},
		Logging: LoggingConfig{Level: "info"},
		Window: WindowConfig{
			X:      100,
			Y:      100,
			Width:  1280,
			Height: 720,
		},
		Renderer: RendererConfig{
			Backend:    BackendVulkan,
			VSync:      true,
			ClearColor: [4]float32{0.1, 0.1, 0.15, 1.0},
		},
		Stages: []StageConfig{
			{Name: "opaque"},
			{Name: "transparent"},
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file `%s`: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig overlays the given TOML document on the defaults. A document
// that declares [[stages]] replaces the default stage list.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Stages = nil
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config: %w", err)
	}
	if cfg.Stages == nil {
		cfg.Stages = DefaultConfig().Stages
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Renderer.Backend {
	case BackendVulkan, BackendSoft:
	default:
		return fmt.Errorf("unknown renderer backend `%s`", c.Renderer.Backend)
	}
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return fmt.Errorf("window size must be non zero, got %dx%d", c.Window.Width, c.Window.Height)
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		return err
	}

	framebuffers := make(map[string]struct{}, len(c.Framebuffers))
	for _, fb := range c.Framebuffers {
		if fb.Name == "" {
			return fmt.Errorf("framebuffer without a name")
		}
		if _, ok := framebuffers[fb.Name]; ok {
			return fmt.Errorf("framebuffer `%s` declared twice", fb.Name)
		}
		if fb.Width == 0 || fb.Height == 0 {
			return fmt.Errorf("framebuffer `%s` must have a non zero size", fb.Name)
		}
		framebuffers[fb.Name] = struct{}{}
	}

	stages := make(map[string]struct{}, len(c.Stages))
	for _, s := range c.Stages {
		if s.Name == "" {
			return fmt.Errorf("stage without a name")
		}
		if _, ok := stages[s.Name]; ok {
			return fmt.Errorf("stage `%s` declared twice", s.Name)
		}
		if s.Framebuffer != "" {
			if _, ok := framebuffers[s.Framebuffer]; !ok {
				return fmt.Errorf("stage `%s` targets undefined framebuffer `%s`", s.Name, s.Framebuffer)
			}
		}
		stages[s.Name] = struct{}{}
	}
	return nil
}
