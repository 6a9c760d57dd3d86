package renderer_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/internal/spy"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type timeProvider struct {
	seconds float32
	calls   int
}

func (p *timeProvider) DataSizeInBytes() int { return 4 }

func (p *timeProvider) SetData(cb *renderer.ConstantBuffer) error {
	p.calls++
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(p.seconds))
	return cb.SetData(buf[:], 0)
}

func texturedDescription() renderer.MaterialDescription {
	rgba := metadata.TextureDescription{Width: 1, Height: 1, Format: metadata.PixelFormatR8G8B8A8UNorm, MipLevels: 1}
	return renderer.MaterialDescription{
		Name: "composite",
		Shaders: renderer.ShaderSetDescription{
			Name: "composite", VertexSource: "vs", FragmentSource: "fs", VertexInputs: positionColor,
		},
		GlobalInputs:    []renderer.GlobalInputDescription{{Name: "time", Type: metadata.MaterialInputFloat, ProviderName: "time"}},
		PerObjectInputs: []renderer.PerObjectInputDescription{{Name: "world", Type: metadata.MaterialInputMatrix4x4}},
		TextureInputs: []renderer.TextureInput{
			renderer.TextureDataInput{Name: "albedo", Description: rgba, Pixels: []byte{255, 0, 0, 255}},
			renderer.TextureDataInput{Name: "mask", Description: rgba, Pixels: []byte{0, 0, 0, 255}},
		},
		ContextTextures: []renderer.ContextTextureInput{{Name: "scene", ContextName: "offscreen"}},
	}
}

func TestMaterialTextureInputsAreAssetsThenContext(t *testing.T) {
	f := newFixture(t)
	provider := &timeProvider{seconds: 1.5}
	f.rc.RegisterDataProvider("time", provider)

	sceneTex, err := f.factory.CreateTexture(metadata.TextureDescription{Width: 4, Height: 4, Format: metadata.PixelFormatR8G8B8A8UNorm}, nil)
	require.NoError(t, err)
	scene, err := f.factory.CreateTextureBinding(sceneTex)
	require.NoError(t, err)
	f.rc.RegisterContextTexture("offscreen", scene)

	desc := texturedDescription()
	// context textures listed first in the description still come last
	m, err := f.rc.Factory().CreateMaterial(f.rc, desc)
	require.NoError(t, err)
	assert.Equal(t, []string{"albedo", "mask", "scene"}, m.TextureInputNames())
	assert.Same(t, scene, m.TextureBinding(2))

	require.NoError(t, m.Apply(f.rc))
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, 3, f.backend.Count("PlatformSetTexture"))
	assert.Equal(t, 2, f.backend.Count("PlatformSetConstantBuffer"))
	assert.Same(t, scene, f.rc.Texture(2))

	require.NoError(t, m.ApplyPerObjectInput(make([]byte, 64)))
	assert.ErrorIs(t, m.ApplyPerObjectInputs(), core.ErrPreconditionViolation)

	require.NoError(t, m.Destroy())
	assert.False(t, scene.(*spy.TextureBinding).Destroyed, "context textures are not owned by the material")
	assert.True(t, m.ShaderSet().(*spy.ShaderSet).Destroyed)
}

func TestMaterialCreationFailureReleasesEverything(t *testing.T) {
	f := newFixture(t)
	f.rc.RegisterDataProvider("time", &timeProvider{})
	desc := texturedDescription()
	// no "offscreen" context texture registered

	_, err := f.rc.Factory().CreateMaterial(f.rc, desc)
	assert.ErrorIs(t, err, core.ErrResourceCreation)

	for _, r := range f.factory.Created {
		switch v := r.(type) {
		case *spy.ShaderSet:
			assert.True(t, v.Destroyed)
		case *spy.Texture:
			assert.True(t, v.Destroyed)
		case *spy.TextureBinding:
			assert.True(t, v.Destroyed)
		}
	}
	assert.Equal(t, f.factory.Allocator.Allocations, f.factory.Allocator.Released)
	assert.Zero(t, f.factory.Layouts().Len())
}

func TestMaterialMissingProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.rc.Factory().CreateMaterial(f.rc, texturedDescription())
	assert.ErrorIs(t, err, core.ErrResourceCreation)
	assert.Contains(t, err.Error(), "no data provider `time`")
}

func TestMaterialShaderErrorKeepsType(t *testing.T) {
	f := newFixture(t)
	f.factory.FailShader = &core.ShaderLinkError{Log: "fragment input `uv` unmatched"}
	_, err := f.rc.Factory().CreateMaterial(f.rc, texturedDescription())

	var linkErr *core.ShaderLinkError
	require.True(t, errors.As(err, &linkErr))
	assert.Equal(t, "fragment input `uv` unmatched", linkErr.Log)
}
