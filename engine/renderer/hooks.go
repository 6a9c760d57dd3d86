package renderer

import (
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// PlatformHooks is implemented once per graphics driver. The RenderContext
// is the source of truth for bound state; hooks only translate a change
// into native calls and never read back what is bound.
type PlatformHooks interface {
	PlatformClearBuffer(fb Framebuffer, color metadata.RgbaFloat) error
	PlatformSwapBuffers() error
	PlatformResize(width, height int) error
	PlatformSetViewport(viewport metadata.Viewport) error
	PlatformSetPrimitiveTopology(topology metadata.PrimitiveTopology) error
	PlatformSetScissorRectangle(rect metadata.Rectangle) error
	PlatformClearScissorRectangle() error
	PlatformSetVertexBuffer(slot int, vb *VertexBuffer) error
	PlatformSetIndexBuffer(ib *IndexBuffer) error
	PlatformSetShaderSet(ss ShaderSet) error
	PlatformSetTexture(slot int, binding TextureBinding) error
	PlatformSetConstantBuffer(slot int, cb *ConstantBuffer) error
	// PlatformSetFramebuffer receives the depth state that is effective for fb.
	PlatformSetFramebuffer(fb Framebuffer, depth metadata.DepthStencilStateDescription) error
	PlatformSetBlendState(state BlendState) error
	PlatformSetDepthStencilState(effective metadata.DepthStencilStateDescription) error
	PlatformSetRasterizerState(state RasterizerState) error
	PlatformBindVertexLayout(binding VertexLayoutBinding) error
	PlatformDrawIndexed(indexCount, startIndex, baseVertex int) error
	PlatformDrawInstanced(indexCount, instanceCount, startIndex, baseVertex int) error
	PlatformDispose() error
}

// Backend is the capability set a RenderContext is built on.
type Backend interface {
	PlatformHooks
	Type() metadata.BackendType
	Factory() ResourceFactory
	DefaultFramebuffer() Framebuffer
	Capabilities() metadata.RenderCapabilities
}
