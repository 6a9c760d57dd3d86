package assets

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// MaterialAsset is the on-disk description of a material:
//
//	name = "quad"
//
//	[shaders.vulkan]
//	vertex = "shaders/quad.vert.spv"
//	fragment = "shaders/quad.frag.spv"
//
//	[[vertex_inputs]]
//	[[vertex_inputs.elements]]
//	name = "position"
//	semantic = "position"
//	format = "float3"
//
//	[[global_inputs]]
//	name = "camera"
//	type = "mat4"
//	provider = "camera"
//
//	[[texture_inputs]]
//	name = "albedo"
//	path = "textures/checker.png"
type MaterialAsset struct {
	Name            string                     `toml:"name"`
	Shaders         map[string]ShaderPaths     `toml:"shaders"`
	VertexInputs    []VertexSlotAsset          `toml:"vertex_inputs"`
	GlobalInputs    []GlobalInputAsset         `toml:"global_inputs"`
	PerObjectInputs []PerObjectInputAsset      `toml:"per_object_inputs"`
	TextureInputs   []TextureInputAsset        `toml:"texture_inputs"`
	ContextTextures []ContextTextureInputAsset `toml:"context_textures"`
}

// ShaderPaths are asset relative paths, one set per backend name.
type ShaderPaths struct {
	Vertex   string `toml:"vertex"`
	Geometry string `toml:"geometry"`
	Fragment string `toml:"fragment"`
}

type VertexSlotAsset struct {
	Stride   int                  `toml:"stride"`
	Elements []VertexElementAsset `toml:"elements"`
}

// VertexElementAsset is one attribute. Classifier is "vertex" (the default)
// or "instance".
type VertexElementAsset struct {
	Name       string `toml:"name"`
	Semantic   string `toml:"semantic"`
	Format     string `toml:"format"`
	Classifier string `toml:"classifier"`
	StepRate   int    `toml:"step_rate"`
}

type GlobalInputAsset struct {
	Name     string `toml:"name"`
	Type     string `toml:"type"`
	Provider string `toml:"provider"`
}

type PerObjectInputAsset struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
	Size int    `toml:"size"`
}

type TextureInputAsset struct {
	Name  string `toml:"name"`
	Path  string `toml:"path"`
	FlipY bool   `toml:"flip_y"`
}

type ContextTextureInputAsset struct {
	Name   string `toml:"name"`
	Source string `toml:"source"`
}

func ParseMaterial(data []byte) (*MaterialAsset, error) {
	m := &MaterialAsset{}
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("could not parse material: %w", err)
	}
	if m.Name == "" {
		return nil, core.NewPreconditionError("ParseMaterial", "material has no name")
	}
	if len(m.Shaders) == 0 {
		return nil, core.NewPreconditionError("ParseMaterial", "material `%s` declares no shaders", m.Name)
	}
	return m, nil
}

// VertexInput converts the declared slots.
func (m *MaterialAsset) VertexInput() (metadata.MaterialVertexInput, error) {
	var out metadata.MaterialVertexInput
	for slot, in := range m.VertexInputs {
		desc := metadata.VertexInputDescription{StrideInBytes: in.Stride}
		for _, e := range in.Elements {
			semantic, err := metadata.VertexElementSemanticFromString(e.Semantic)
			if err != nil {
				return out, fmt.Errorf("slot %d element `%s`: %w", slot, e.Name, err)
			}
			format, err := metadata.VertexElementFormatFromString(e.Format)
			if err != nil {
				return out, fmt.Errorf("slot %d element `%s`: %w", slot, e.Name, err)
			}
			element := metadata.VertexInputElement{
				Name:             e.Name,
				Semantic:         semantic,
				Format:           format,
				InstanceStepRate: e.StepRate,
			}
			switch strings.ToLower(e.Classifier) {
			case "", "vertex":
			case "instance":
				element.Classifier = metadata.PerInstance
			default:
				return out, fmt.Errorf("slot %d element `%s`: unknown classifier `%s`", slot, e.Name, e.Classifier)
			}
			desc.Elements = append(desc.Elements, element)
		}
		out.Inputs = append(out.Inputs, desc)
	}
	return out, nil
}

// Description resolves shader sources and textures through db for the given
// backend.
func (m *MaterialAsset) Description(db *AssetDatabase, backend metadata.BackendType) (renderer.MaterialDescription, error) {
	desc := renderer.MaterialDescription{Name: m.Name}
	paths, ok := m.Shaders[backend.String()]
	if !ok {
		return desc, fmt.Errorf("material `%s` has no shaders for the %s backend", m.Name, backend)
	}
	inputs, err := m.VertexInput()
	if err != nil {
		return desc, fmt.Errorf("material `%s`: %w", m.Name, err)
	}
	desc.Shaders = renderer.ShaderSetDescription{Name: m.Name, VertexInputs: inputs}
	if desc.Shaders.VertexSource, err = db.ReadShader(paths.Vertex); err != nil {
		return desc, err
	}
	if desc.Shaders.FragmentSource, err = db.ReadShader(paths.Fragment); err != nil {
		return desc, err
	}
	if paths.Geometry != "" {
		if desc.Shaders.GeometrySource, err = db.ReadShader(paths.Geometry); err != nil {
			return desc, err
		}
	}

	for _, g := range m.GlobalInputs {
		t, err := metadata.MaterialInputTypeFromString(g.Type)
		if err != nil {
			return desc, fmt.Errorf("material `%s` global `%s`: %w", m.Name, g.Name, err)
		}
		provider := g.Provider
		if provider == "" {
			provider = g.Name
		}
		desc.GlobalInputs = append(desc.GlobalInputs, renderer.GlobalInputDescription{Name: g.Name, Type: t, ProviderName: provider})
	}
	for _, p := range m.PerObjectInputs {
		t, err := metadata.MaterialInputTypeFromString(p.Type)
		if err != nil {
			return desc, fmt.Errorf("material `%s` per object input `%s`: %w", m.Name, p.Name, err)
		}
		desc.PerObjectInputs = append(desc.PerObjectInputs, renderer.PerObjectInputDescription{Name: p.Name, Type: t, SizeInBytes: p.Size})
	}
	for _, ti := range m.TextureInputs {
		tex, err := db.LoadTexture(ti.Path, ti.FlipY)
		if err != nil {
			return desc, err
		}
		desc.TextureInputs = append(desc.TextureInputs, tex.Input(ti.Name))
	}
	for _, c := range m.ContextTextures {
		source := c.Source
		if source == "" {
			source = c.Name
		}
		desc.ContextTextures = append(desc.ContextTextures, renderer.ContextTextureInput{Name: c.Name, ContextName: source})
	}
	return desc, nil
}

// Create builds the material on the context's backend.
func (m *MaterialAsset) Create(db *AssetDatabase, rc *renderer.RenderContext) (*renderer.Material, error) {
	desc, err := m.Description(db, rc.BackendType())
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return rc.Factory().CreateMaterial(rc, desc)
}
