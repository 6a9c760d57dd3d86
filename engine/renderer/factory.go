package renderer

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type ShaderSetDescription struct {
	Name           string
	VertexSource   string
	GeometrySource string
	FragmentSource string
	VertexInputs   metadata.MaterialVertexInput
}

func (d ShaderSetDescription) HasGeometryStage() bool {
	return d.GeometrySource != ""
}

// ResourceFactory turns backend neutral descriptions into resources. A call
// either returns a usable resource or a typed error, never something half built.
type ResourceFactory interface {
	Backend() metadata.BackendType
	CreateVertexBuffer(sizeInBytes int, hint metadata.BufferUsageHint) (*VertexBuffer, error)
	CreateIndexBuffer(sizeInBytes int, format metadata.IndexFormat, hint metadata.BufferUsageHint) (*IndexBuffer, error)
	CreateConstantBuffer(sizeInBytes int, hint metadata.BufferUsageHint) (*ConstantBuffer, error)
	CreateTexture(desc metadata.TextureDescription, data []byte) (Texture, error)
	CreateTextureBinding(texture Texture) (TextureBinding, error)
	CreateShaderSet(desc ShaderSetDescription) (ShaderSet, error)
	CreateFramebuffer(colorAttachments []Texture, depthAttachment Texture) (Framebuffer, error)
	CreateBlendState(desc metadata.BlendStateDescription) (BlendState, error)
	CreateDepthStencilState(desc metadata.DepthStencilStateDescription) (DepthStencilState, error)
	CreateRasterizerState(desc metadata.RasterizerStateDescription) (RasterizerState, error)
	CreateMaterial(rc *RenderContext, desc MaterialDescription) (*Material, error)
}

// ValidateTextureDescription checks what every backend requires of a texture.
func ValidateTextureDescription(desc metadata.TextureDescription, data []byte) error {
	if desc.Width <= 0 || desc.Height <= 0 {
		return core.NewResourceCreationError("texture", fmt.Errorf("invalid size %dx%d", desc.Width, desc.Height))
	}
	if desc.Format.Size() == 0 {
		return core.NewResourceCreationError("texture", core.ErrUnsupportedFormat)
	}
	if desc.MipLevels < 0 {
		return core.NewResourceCreationError("texture", fmt.Errorf("invalid mip level count %d", desc.MipLevels))
	}
	if data != nil && len(data) != desc.DataSize() {
		return core.NewResourceCreationError("texture", fmt.Errorf("expected %d bytes of pixel data, got %d", desc.DataSize(), len(data)))
	}
	return nil
}

// ValidateFramebufferAttachments checks that attachments agree on size and
// kind, and returns that size. Offscreen framebuffers need at least one
// attachment to take their size from; only the default framebuffer has none.
func ValidateFramebufferAttachments(colors []Texture, depth Texture) (int, int, error) {
	width, height := -1, -1
	check := func(t Texture) error {
		if width < 0 {
			width, height = t.Width(), t.Height()
			return nil
		}
		if t.Width() != width || t.Height() != height {
			return fmt.Errorf("attachment size %dx%d does not match %dx%d", t.Width(), t.Height(), width, height)
		}
		return nil
	}
	for i, c := range colors {
		if c == nil {
			return 0, 0, core.NewResourceCreationError("framebuffer", fmt.Errorf("color attachment %d is nil", i))
		}
		if c.Format().IsDepth() {
			return 0, 0, core.NewResourceCreationError("framebuffer", fmt.Errorf("color attachment %d uses depth format %s", i, c.Format()))
		}
		if err := check(c); err != nil {
			return 0, 0, core.NewResourceCreationError("framebuffer", err)
		}
	}
	if depth != nil {
		if !depth.Format().IsDepth() {
			return 0, 0, core.NewResourceCreationError("framebuffer", fmt.Errorf("depth attachment uses color format %s", depth.Format()))
		}
		if err := check(depth); err != nil {
			return 0, 0, core.NewResourceCreationError("framebuffer", err)
		}
	}
	if width < 0 {
		return 0, 0, core.NewResourceCreationError("framebuffer", fmt.Errorf("no attachments"))
	}
	return width, height, nil
}

// ReleaseAll destroys resources in reverse creation order, keeping the first error.
func ReleaseAll(resources ...Resource) error {
	var first error
	for i := len(resources) - 1; i >= 0; i-- {
		if resources[i] == nil {
			continue
		}
		if err := resources[i].Destroy(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
