package renderer

import (
	"github.com/google/uuid"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Resource is the part every GPU object shares. The backend tag names the
// factory that created it; a context refuses resources of another backend.
type Resource interface {
	ID() uuid.UUID
	Backend() metadata.BackendType
	Destroy() error
}

type Texture interface {
	Resource
	Width() int
	Height() int
	Format() metadata.PixelFormat
	MipLevels() int
	SetPixels(mipLevel int, data []byte) error
	GetPixels(mipLevel int) ([]byte, error)
}

// TextureBinding is the view of a texture a shader samples from.
type TextureBinding interface {
	Resource
	BoundTexture() Texture
}

type Framebuffer interface {
	Resource
	Width() int
	Height() int
	ColorAttachments() []Texture
	DepthAttachment() Texture
	// HasDepthAttachment is true for the window framebuffer too, whose swap
	// surface carries an implicit depth buffer.
	HasDepthAttachment() bool
	IsDefault() bool
}

type ShaderSet interface {
	Resource
	Name() string
	InputLayout() *VertexInputLayout
	HasGeometryStage() bool
}

type BlendState interface {
	Resource
	Description() metadata.BlendStateDescription
}

type DepthStencilState interface {
	Resource
	Description() metadata.DepthStencilStateDescription
}

type RasterizerState interface {
	Resource
	Description() metadata.RasterizerStateDescription
}

// ConstantDataProvider fills a constant buffer, typically once per frame.
type ConstantDataProvider interface {
	DataSizeInBytes() int
	SetData(cb *ConstantBuffer) error
}

// Window is the surface a context presents to.
type Window interface {
	Width() int
	Height() int
	Exists() bool
}

// ResourceBase implements the identity part of Resource for backend types.
type ResourceBase struct {
	id      uuid.UUID
	backend metadata.BackendType
}

func NewResourceBase(backend metadata.BackendType) ResourceBase {
	return ResourceBase{id: core.NewIdentifier(), backend: backend}
}

func (r ResourceBase) ID() uuid.UUID {
	return r.id
}

func (r ResourceBase) Backend() metadata.BackendType {
	return r.backend
}
