package soft

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
	return metadata.BackendSoft
}

func (f *factory) base() renderer.ResourceBase {
	return renderer.NewResourceBase(metadata.BackendSoft)
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
	t := &texture{ResourceBase: f.base(), b: f.b, name: f.b.device.GenTexture(), desc: desc}
	for level := 0; level < max(desc.MipLevels, 1); level++ {
		w, h := desc.MipSize(level)
		var px []byte
		if level == 0 {
			px = data
		}
		f.b.device.TexImage2D(t.name, level, w, h, desc.Format, px)
	}
	if err := f.b.check("glTexImage2D"); err != nil {
		f.b.device.DeleteTexture(t.name)
		return nil, core.NewResourceCreationError("texture", err)
	}
	return t, nil
}

func (f *factory) CreateTextureBinding(tex renderer.Texture) (renderer.TextureBinding, error) {
	t, ok := tex.(*texture)
	if !ok {
		return nil, core.NewResourceCreationError("texture binding", fmt.Errorf("texture of the %s backend", tex.Backend()))
	}
	return &textureBinding{ResourceBase: f.base(), tex: t}, nil
}

// CreateShaderSet compiles every stage, binds one attribute location per
// vertex element and links.
func (f *factory) CreateShaderSet(desc renderer.ShaderSetDescription) (renderer.ShaderSet, error) {
	dev := f.b.device
	type stageSource struct {
		stage  metadata.ShaderStage
		source string
	}
	stages := []stageSource{{metadata.ShaderStageVertex, desc.VertexSource}}
	if desc.HasGeometryStage() {
		stages = append(stages, stageSource{metadata.ShaderStageGeometry, desc.GeometrySource})
	}
	stages = append(stages, stageSource{metadata.ShaderStageFragment, desc.FragmentSource})

	var shaders []uint32
	cleanup := func() {
		for _, s := range shaders {
			dev.DeleteShader(s)
		}
	}
	for _, st := range stages {
		name := dev.CreateShader(st.stage, st.source)
		shaders = append(shaders, name)
		if !dev.ShaderCompiled(name) {
			err := &core.ShaderCompilationError{Stage: st.stage.String(), Log: dev.ShaderInfoLog(name)}
			cleanup()
			core.LogError(err.Error())
			return nil, err
		}
	}

	key := core.ContentIdentifier(desc.VertexSource, desc.GeometrySource, desc.FragmentSource).String()
	layout := f.layouts.Acquire(key, desc.VertexInputs)
	program := dev.CreateProgram()
	for _, s := range shaders {
		dev.AttachShader(program, s)
	}
	for _, a := range layout.Attributes() {
		dev.BindAttribLocation(program, a.Location, a.Name)
	}
	if !dev.LinkProgram(program) {
		err := &core.ShaderLinkError{Log: dev.ProgramInfoLog(program)}
		dev.DeleteProgram(program)
		f.layouts.Release(layout)
		cleanup()
		core.LogError(err.Error())
		return nil, err
	}
	if err := f.b.check("glLinkProgram"); err != nil {
		dev.DeleteProgram(program)
		f.layouts.Release(layout)
		cleanup()
		return nil, core.NewResourceCreationError("shader set", err)
	}
	core.LogDebug("shader set `%s` linked as program %d", desc.Name, program)
	return &shaderSet{
		ResourceBase: f.base(),
		b:            f.b,
		name:         desc.Name,
		program:      program,
		shaders:      shaders,
		layout:       layout,
		geom:         desc.HasGeometryStage(),
	}, nil
}

func (f *factory) CreateFramebuffer(colorAttachments []renderer.Texture, depthAttachment renderer.Texture) (renderer.Framebuffer, error) {
	w, h, err := renderer.ValidateFramebufferAttachments(colorAttachments, depthAttachment)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	fb := &framebuffer{
		ResourceBase: f.base(),
		b:            f.b,
		name:         f.b.device.GenFramebuffer(),
		width:        w,
		height:       h,
		colors:       colorAttachments,
		depth:        depthAttachment,
	}
	for i, c := range colorAttachments {
		t, ok := c.(*texture)
		if !ok {
			f.b.device.DeleteFramebuffer(fb.name)
			return nil, core.NewResourceCreationError("framebuffer", fmt.Errorf("color attachment %d belongs to the %s backend", i, c.Backend()))
		}
		f.b.device.FramebufferTexture(fb.name, i, t.name)
	}
	if depthAttachment != nil {
		t, ok := depthAttachment.(*texture)
		if !ok {
			f.b.device.DeleteFramebuffer(fb.name)
			return nil, core.NewResourceCreationError("framebuffer", fmt.Errorf("depth attachment belongs to the %s backend", depthAttachment.Backend()))
		}
		f.b.device.FramebufferDepth(fb.name, t.name)
	}
	if err := f.b.check("glFramebufferTexture2D"); err != nil {
		f.b.device.DeleteFramebuffer(fb.name)
		return nil, core.NewResourceCreationError("framebuffer", err)
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
