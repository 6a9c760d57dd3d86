package renderer

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// GlobalInputDescription is a constant block shared by every object, filled
// by the data provider the context registered under ProviderName.
type GlobalInputDescription struct {
	Name         string
	Type         metadata.MaterialInputType
	ProviderName string
}

// PerObjectInputDescription is a constant block refreshed for each object drawn.
type PerObjectInputDescription struct {
	Name        string
	Type        metadata.MaterialInputType
	SizeInBytes int
}

func (d PerObjectInputDescription) size() int {
	if d.SizeInBytes > 0 {
		return d.SizeInBytes
	}
	return d.Type.Size()
}

// TextureInput resolves one sampled texture of a material.
type TextureInput interface {
	InputName() string
	// Binding returns the binding plus the resources created for it, which
	// the material then owns.
	Binding(rc *RenderContext, factory ResourceFactory) (TextureBinding, []Resource, error)
}

// TextureDataInput uploads pixels loaded by the asset layer.
type TextureDataInput struct {
	Name        string
	Description metadata.TextureDescription
	Pixels      []byte
}

func (t TextureDataInput) InputName() string {
	return t.Name
}

func (t TextureDataInput) Binding(rc *RenderContext, factory ResourceFactory) (TextureBinding, []Resource, error) {
	tex, err := factory.CreateTexture(t.Description, t.Pixels)
	if err != nil {
		return nil, nil, err
	}
	binding, err := factory.CreateTextureBinding(tex)
	if err != nil {
		_ = tex.Destroy()
		return nil, nil, err
	}
	return binding, []Resource{tex, binding}, nil
}

// ContextTextureInput samples a texture another stage published on the context.
type ContextTextureInput struct {
	Name        string
	ContextName string
}

func (t ContextTextureInput) InputName() string {
	return t.Name
}

func (t ContextTextureInput) Binding(rc *RenderContext, _ ResourceFactory) (TextureBinding, []Resource, error) {
	b, ok := rc.ContextTexture(t.ContextName)
	if !ok {
		return nil, nil, core.NewResourceCreationError("material", fmt.Errorf("context texture `%s` is not registered", t.ContextName))
	}
	return b, nil, nil
}

type MaterialDescription struct {
	Name            string
	Shaders         ShaderSetDescription
	GlobalInputs    []GlobalInputDescription
	PerObjectInputs []PerObjectInputDescription
	TextureInputs   []TextureInput
	ContextTextures []ContextTextureInput
}

type globalInput struct {
	desc     GlobalInputDescription
	provider ConstantDataProvider
	buffer   *ConstantBuffer
}

type perObjectInput struct {
	desc   PerObjectInputDescription
	buffer *ConstantBuffer
}

type textureInput struct {
	name    string
	binding TextureBinding
	owned   []Resource
}

// Material is a shader set plus the constant buffers and textures it reads.
type Material struct {
	name      string
	shaderSet ShaderSet
	globals   []globalInput
	perObject []perObjectInput
	textures  []textureInput
}

// BuildMaterial is what every factory's CreateMaterial does. Texture inputs
// are ordered asset textures first, then context textures.
func BuildMaterial(rc *RenderContext, factory ResourceFactory, desc MaterialDescription) (*Material, error) {
	m := &Material{name: desc.Name}
	var created []Resource
	fail := func(err error) (*Material, error) {
		_ = ReleaseAll(created...)
		err = core.NewResourceCreationError(fmt.Sprintf("material `%s`", desc.Name), err)
		core.LogError(err.Error())
		return nil, err
	}

	ss, err := factory.CreateShaderSet(desc.Shaders)
	if err != nil {
		return fail(err)
	}
	m.shaderSet = ss
	created = append(created, ss)

	for _, in := range desc.GlobalInputs {
		provider, ok := rc.DataProvider(in.ProviderName)
		if !ok {
			return fail(fmt.Errorf("no data provider `%s` for global input `%s`", in.ProviderName, in.Name))
		}
		size := provider.DataSizeInBytes()
		if size <= 0 {
			size = in.Type.Size()
		}
		cb, err := factory.CreateConstantBuffer(size, metadata.BufferHintDynamic)
		if err != nil {
			return fail(err)
		}
		created = append(created, cb)
		m.globals = append(m.globals, globalInput{desc: in, provider: provider, buffer: cb})
	}

	for _, in := range desc.PerObjectInputs {
		if in.size() <= 0 {
			return fail(fmt.Errorf("per object input `%s` has no size", in.Name))
		}
		cb, err := factory.CreateConstantBuffer(in.size(), metadata.BufferHintDynamic)
		if err != nil {
			return fail(err)
		}
		created = append(created, cb)
		m.perObject = append(m.perObject, perObjectInput{desc: in, buffer: cb})
	}

	inputs := make([]TextureInput, 0, len(desc.TextureInputs)+len(desc.ContextTextures))
	inputs = append(inputs, desc.TextureInputs...)
	for _, ct := range desc.ContextTextures {
		inputs = append(inputs, ct)
	}
	for _, in := range inputs {
		binding, owned, err := in.Binding(rc, factory)
		if err != nil {
			return fail(err)
		}
		created = append(created, owned...)
		m.textures = append(m.textures, textureInput{name: in.InputName(), binding: binding, owned: owned})
	}

	core.LogDebug("material `%s` created with %d global, %d per object and %d texture inputs",
		desc.Name, len(m.globals), len(m.perObject), len(m.textures))
	return m, nil
}

func (m *Material) Name() string {
	return m.name
}

func (m *Material) ShaderSet() ShaderSet {
	return m.shaderSet
}

func (m *Material) TextureInputNames() []string {
	names := make([]string, len(m.textures))
	for i, t := range m.textures {
		names[i] = t.name
	}
	return names
}

func (m *Material) TextureBinding(index int) TextureBinding {
	return m.textures[index].binding
}

// Apply binds the shader set, refreshes global inputs from their providers
// and binds every constant buffer and texture. Constant buffer slots are
// globals then per object inputs; texture slots follow input order.
func (m *Material) Apply(rc *RenderContext) error {
	if err := rc.SetShaderSet(m.shaderSet); err != nil {
		return err
	}
	slot := 0
	for _, g := range m.globals {
		if err := g.provider.SetData(g.buffer); err != nil {
			return fmt.Errorf("global input `%s`: %w", g.desc.Name, err)
		}
		if err := rc.SetConstantBuffer(slot, g.buffer); err != nil {
			return err
		}
		slot++
	}
	for _, p := range m.perObject {
		if err := rc.SetConstantBuffer(slot, p.buffer); err != nil {
			return err
		}
		slot++
	}
	for i, t := range m.textures {
		if err := rc.SetTexture(i, t.binding); err != nil {
			return err
		}
	}
	return nil
}

// ApplyPerObjectInput writes raw data into the single per object buffer.
func (m *Material) ApplyPerObjectInput(data []byte) error {
	if len(m.perObject) != 1 {
		return core.NewPreconditionError("ApplyPerObjectInput", "material `%s` has %d per object inputs, expected 1", m.name, len(m.perObject))
	}
	return m.perObject[0].buffer.SetData(data, 0)
}

// ApplyPerObjectInputs fills the per object buffers in declaration order.
func (m *Material) ApplyPerObjectInputs(providers ...ConstantDataProvider) error {
	if len(providers) != len(m.perObject) {
		return core.NewPreconditionError("ApplyPerObjectInputs", "material `%s` has %d per object inputs, got %d providers", m.name, len(m.perObject), len(providers))
	}
	for i, p := range providers {
		if err := p.SetData(m.perObject[i].buffer); err != nil {
			return fmt.Errorf("per object input `%s`: %w", m.perObject[i].desc.Name, err)
		}
	}
	return nil
}

// Destroy releases what the material created in reverse order. Context
// textures belong to whoever registered them.
func (m *Material) Destroy() error {
	var owned []Resource
	owned = append(owned, m.shaderSet)
	for _, g := range m.globals {
		owned = append(owned, g.buffer)
	}
	for _, p := range m.perObject {
		owned = append(owned, p.buffer)
	}
	for _, t := range m.textures {
		owned = append(owned, t.owned...)
	}
	m.globals, m.perObject, m.textures = nil, nil, nil
	return ReleaseAll(owned...)
}
