package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigOverlaysDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
[renderer]
backend = "soft"
debug = true

[[framebuffers]]
name = "offscreen"
width = 256
height = 128
color_format = "rgba8"

[[stages]]
name = "shadow"
framebuffer = "offscreen"

[[stages]]
name = "opaque"
enabled = false
`))
	require.NoError(t, err)

	assert.Equal(t, BackendSoft, cfg.Renderer.Backend)
	assert.True(t, cfg.Renderer.Debug)
	assert.Equal(t, uint32(1280), cfg.Window.Width)
	assert.Equal(t, "Prism", cfg.Application.Name)
	require.Len(t, cfg.Stages, 2)
	assert.Equal(t, "shadow", cfg.Stages[0].Name)
	assert.True(t, cfg.Stages[0].IsEnabled())
	assert.False(t, cfg.Stages[1].IsEnabled())
	assert.Equal(t, uint32(256), cfg.Framebuffers[0].Width)
}

func TestParseConfigKeepsDefaultStages(t *testing.T) {
	cfg, err := ParseConfig([]byte(`[logging]
level = "warn"`))
	require.NoError(t, err)
	require.Len(t, cfg.Stages, 2)
	assert.Equal(t, "opaque", cfg.Stages[0].Name)
	assert.Equal(t, "transparent", cfg.Stages[1].Name)
}

func TestConfigValidation(t *testing.T) {
	cases := map[string]string{
		"unknown backend": `[renderer]
backend = "dx9"`,
		"zero window": `[window]
width = 0`,
		"duplicate stage": `[[stages]]
name = "a"
[[stages]]
name = "a"`,
		"undefined framebuffer": `[[stages]]
name = "a"
framebuffer = "missing"`,
		"zero framebuffer": `[[framebuffers]]
name = "f"
width = 0
height = 10`,
		"bad level": `[logging]
level = "loud"`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prism.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[application]
name = "demo"`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Application.Name)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
