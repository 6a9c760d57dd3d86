package vulkan

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type factory struct {
	b       *Backend
	alloc   *allocator
	layouts *renderer.LayoutCache
}

func newFactory(b *Backend) *factory {
	return &factory{b: b, alloc: &allocator{b: b}, layouts: renderer.NewLayoutCache()}
}

func (f *factory) Backend() metadata.BackendType {
	return metadata.BackendVulkan
}

func (f *factory) base() renderer.ResourceBase {
	return renderer.NewResourceBase(metadata.BackendVulkan)
}

func (f *factory) CreateVertexBuffer(sizeInBytes int, hint metadata.BufferUsageHint) (*renderer.VertexBuffer, error) {
	return renderer.NewVertexBuffer(f.alloc, sizeInBytes, hint)
}

func (f *factory) CreateIndexBuffer(sizeInBytes int, format metadata.IndexFormat, hint metadata.BufferUsageHint) (*renderer.IndexBuffer, error) {
	return renderer.NewIndexBuffer(f.alloc, sizeInBytes, format, hint)
}

func (f *factory) CreateConstantBuffer(sizeInBytes int, hint metadata.BufferUsageHint) (*renderer.ConstantBuffer, error) {
	return renderer.NewConstantBuffer(f.alloc, sizeInBytes, hint)
}

func (f *factory) CreateTexture(desc metadata.TextureDescription, data []byte) (renderer.Texture, error) {
	if err := renderer.ValidateTextureDescription(desc, data); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	t, err := newTexture(f.b, desc, data)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return t, nil
}

func (f *factory) CreateTextureBinding(tex renderer.Texture) (renderer.TextureBinding, error) {
	t, ok := tex.(*texture)
	if !ok {
		return nil, core.NewResourceCreationError("texture binding", fmt.Errorf("texture of the %s backend", tex.Backend()))
	}
	tb, err := newTextureBinding(f.b, t)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return tb, nil
}

// CreateShaderSet expects SPIR-V binaries as stage sources.
func (f *factory) CreateShaderSet(desc renderer.ShaderSetDescription) (renderer.ShaderSet, error) {
	s, err := newShaderSet(f.b, desc)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return s, nil
}

func (f *factory) CreateFramebuffer(colorAttachments []renderer.Texture, depthAttachment renderer.Texture) (renderer.Framebuffer, error) {
	w, h, err := renderer.ValidateFramebufferAttachments(colorAttachments, depthAttachment)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	colors := make([]*texture, len(colorAttachments))
	for i, c := range colorAttachments {
		t, ok := c.(*texture)
		if !ok {
			return nil, core.NewResourceCreationError("framebuffer", fmt.Errorf("color attachment %d belongs to the %s backend", i, c.Backend()))
		}
		colors[i] = t
	}
	var depth *texture
	if depthAttachment != nil {
		t, ok := depthAttachment.(*texture)
		if !ok {
			return nil, core.NewResourceCreationError("framebuffer", fmt.Errorf("depth attachment belongs to the %s backend", depthAttachment.Backend()))
		}
		depth = t
	}
	fb, err := newOffscreenFramebuffer(f.b, colors, depth, w, h)
	if err != nil {
		err = core.NewResourceCreationError("framebuffer", err)
		core.LogError(err.Error())
		return nil, err
	}
	return fb, nil
}

func (f *factory) CreateBlendState(desc metadata.BlendStateDescription) (renderer.BlendState, error) {
	return &blendState{ResourceBase: f.base(), desc: desc}, nil
}

func (f *factory) CreateDepthStencilState(desc metadata.DepthStencilStateDescription) (renderer.DepthStencilState, error) {
	return &depthStencilState{ResourceBase: f.base(), desc: desc}, nil
}

func (f *factory) CreateRasterizerState(desc metadata.RasterizerStateDescription) (renderer.RasterizerState, error) {
	return &rasterizerState{ResourceBase: f.base(), desc: desc}, nil
}

func (f *factory) CreateMaterial(rc *renderer.RenderContext, desc renderer.MaterialDescription) (*renderer.Material, error) {
	return renderer.BuildMaterial(rc, f, desc)
}
