package engine

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/platform"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipeline"
	"github.com/spaghettifunk/prism/engine/renderer/soft"
	"github.com/spaghettifunk/prism/engine/renderer/vulkan"
)

func clearColor(c [4]float32) metadata.RgbaFloat {
	return metadata.RgbaFloat{R: c[0], G: c[1], B: c[2], A: c[3]}
}

// newBackend creates the backend named in the configuration.
func newBackend(cfg *core.Config, window *platform.Platform) (renderer.Backend, error) {
	switch cfg.Renderer.Backend {
	case core.BackendVulkan:
		return vulkan.NewBackend(window, vulkan.BackendConfig{
			ApplicationName: cfg.Application.Name,
			Debug:           cfg.Renderer.Debug,
			VSync:           cfg.Renderer.VSync,
			ClearColor:      clearColor(cfg.Renderer.ClearColor),
		})
	case core.BackendSoft:
		return soft.NewBackend(window, soft.WithValidation(cfg.Renderer.Debug))
	}
	return nil, fmt.Errorf("unknown renderer backend `%s`", cfg.Renderer.Backend)
}

// renderTargets are the offscreen framebuffers declared in the configuration,
// with the attachments they own.
type renderTargets struct {
	framebuffers map[string]renderer.Framebuffer
	owned        []renderer.Resource
}

// createRenderTargets creates every configured framebuffer and publishes its
// first color attachment as a context texture under the framebuffer name.
func createRenderTargets(rc *renderer.RenderContext, configs []core.FramebufferConfig) (*renderTargets, error) {
	t := &renderTargets{framebuffers: make(map[string]renderer.Framebuffer)}
	f := rc.Factory()
	fail := func(err error) (*renderTargets, error) {
		_ = t.destroy()
		return nil, err
	}
	for _, c := range configs {
		format, err := metadata.ParsePixelFormat(c.ColorFormat)
		if err != nil {
			return fail(fmt.Errorf("framebuffer `%s`: %w", c.Name, err))
		}
		color, err := f.CreateTexture(metadata.TextureDescription{
			Width:     int(c.Width),
			Height:    int(c.Height),
			Format:    format,
			MipLevels: 1,
		}, nil)
		if err != nil {
			return fail(err)
		}
		t.owned = append(t.owned, color)

		var depth renderer.Texture
		if c.Depth {
			if depth, err = f.CreateTexture(metadata.TextureDescription{
				Width:     int(c.Width),
				Height:    int(c.Height),
				Format:    metadata.PixelFormatD24S8,
				MipLevels: 1,
			}, nil); err != nil {
				return fail(err)
			}
			t.owned = append(t.owned, depth)
		}

		fb, err := f.CreateFramebuffer([]renderer.Texture{color}, depth)
		if err != nil {
			return fail(err)
		}
		binding, err := f.CreateTextureBinding(color)
		if err != nil {
			_ = fb.Destroy()
			return fail(err)
		}
		// framebuffers go first so they are released before their attachments
		t.owned = append([]renderer.Resource{fb, binding}, t.owned...)
		t.framebuffers[c.Name] = fb
		rc.RegisterContextTexture(c.Name, binding)
		core.LogDebug("framebuffer `%s` created (%dx%d %s, depth=%t)", c.Name, c.Width, c.Height, format, c.Depth)
	}
	return t, nil
}

func (t *renderTargets) destroy() error {
	err := renderer.ReleaseAll(t.owned...)
	t.owned = nil
	return err
}

// buildPipeline creates the configured stages in order. Stages drawing into
// an offscreen framebuffer clear it when they bind it.
func buildPipeline(rc *renderer.RenderContext, configs []core.StageConfig, targets *renderTargets) (*pipeline.Pipeline, error) {
	p := pipeline.NewPipeline(rc)
	for _, c := range configs {
		opts := []pipeline.StageOption{pipeline.WithEnabled(c.IsEnabled())}
		if c.Framebuffer != "" {
			fb, ok := targets.framebuffers[c.Framebuffer]
			if !ok {
				return nil, fmt.Errorf("stage `%s` targets undefined framebuffer `%s`", c.Name, c.Framebuffer)
			}
			opts = append(opts, pipeline.WithOverrideFramebuffer(fb), pipeline.WithClearOnBind(true))
		}
		p.AddStage(pipeline.NewStandardStage(rc, c.Name, opts...))
	}
	return p, nil
}
