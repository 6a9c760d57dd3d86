package renderer

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// boundState is what the context believes is bound on the device.
type boundState struct {
	vertexBuffers   []*VertexBuffer
	indexBuffer     *IndexBuffer
	shaderSet       ShaderSet
	textures        []TextureBinding
	constantBuffers []*ConstantBuffer
	framebuffer     Framebuffer
	blend           BlendState
	depth           DepthStencilState
	rasterizer      RasterizerState
	topology        metadata.PrimitiveTopology
	viewport        metadata.Viewport
	scissor         metadata.Rectangle
	scissorEnabled  bool
	clearColor      metadata.RgbaFloat
	// depth state actually applied, after the framebuffer policy
	appliedDepth metadata.DepthStencilStateDescription

	baseVertex    int
	layoutChanged bool
}

// RenderContext owns all draw affecting state of one window and forwards
// changes to the backend hooks. It is not safe for concurrent use.
type RenderContext struct {
	window  Window
	backend Backend
	state   boundState
	stats   *core.ContextStats

	dataProviders   map[string]ConstantDataProvider
	contextTextures map[string]TextureBinding

	destroyed bool
}

type ContextOption func(rc *RenderContext)

func WithClearColor(color metadata.RgbaFloat) ContextOption {
	return func(rc *RenderContext) {
		rc.state.clearColor = color
	}
}

// WithInitialViewport replaces the full window viewport set at construction.
func WithInitialViewport(viewport metadata.Viewport) ContextOption {
	return func(rc *RenderContext) {
		rc.state.viewport = viewport
	}
}

func NewRenderContext(window Window, backend Backend, opts ...ContextOption) (*RenderContext, error) {
	if window == nil || backend == nil {
		return nil, core.NewPreconditionError("NewRenderContext", "window and backend are required")
	}
	rc := &RenderContext{
		window:          window,
		backend:         backend,
		stats:           core.NewContextStats(),
		dataProviders:   make(map[string]ConstantDataProvider),
		contextTextures: make(map[string]TextureBinding),
	}
	rc.state.clearColor = metadata.ColorCornflower
	rc.state.viewport = metadata.Viewport{Width: window.Width(), Height: window.Height()}
	rc.state.topology = metadata.TriangleList
	for _, opt := range opts {
		opt(rc)
	}

	// establish a known device state so later sets can be compared against it
	fb := backend.DefaultFramebuffer()
	rc.state.framebuffer = fb
	rc.state.appliedDepth = rc.effectiveDepthState()
	if err := rc.hook("PlatformSetFramebuffer", func() error {
		return backend.PlatformSetFramebuffer(fb, rc.state.appliedDepth)
	}); err != nil {
		return nil, err
	}
	if err := rc.hook("PlatformSetViewport", func() error {
		return backend.PlatformSetViewport(rc.state.viewport)
	}); err != nil {
		return nil, err
	}
	if err := rc.hook("PlatformSetPrimitiveTopology", func() error {
		return backend.PlatformSetPrimitiveTopology(rc.state.topology)
	}); err != nil {
		return nil, err
	}
	core.LogDebug("render context created on %s backend (%dx%d)", backend.Type(), window.Width(), window.Height())
	return rc, nil
}

// hook runs one backend call, counts it and logs a failure.
func (rc *RenderContext) hook(name string, call func() error) error {
	rc.stats.Hook(name)
	if err := call(); err != nil {
		err = fmt.Errorf("%s: %w", name, err)
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (rc *RenderContext) checkUsable(op string) error {
	if rc.destroyed {
		return core.NewPreconditionError(op, "render context destroyed")
	}
	return nil
}

// checkBackend refuses resources created by another backend's factory.
func (rc *RenderContext) checkBackend(op string, r Resource) error {
	if r.Backend() != rc.backend.Type() {
		return core.NewPreconditionError(op, "resource %s belongs to the %s backend, context uses %s",
			core.ShortIdentifier(r.ID()), r.Backend(), rc.backend.Type())
	}
	return nil
}

func (rc *RenderContext) Window() Window {
	return rc.window
}

func (rc *RenderContext) Factory() ResourceFactory {
	return rc.backend.Factory()
}

func (rc *RenderContext) BackendType() metadata.BackendType {
	return rc.backend.Type()
}

func (rc *RenderContext) Capabilities() metadata.RenderCapabilities {
	return rc.backend.Capabilities()
}

// Stats returns a copy of the backend call counters.
func (rc *RenderContext) Stats() core.ContextStats {
	return rc.stats.Snapshot()
}

func (rc *RenderContext) ResetStats() {
	rc.stats.Reset()
}

func (rc *RenderContext) ClearColor() metadata.RgbaFloat {
	return rc.state.clearColor
}

// SetClearColor only records the color, ClearBuffer uses it.
func (rc *RenderContext) SetClearColor(color metadata.RgbaFloat) {
	rc.state.clearColor = color
}

func (rc *RenderContext) ClearBuffer() error {
	if err := rc.checkUsable("ClearBuffer"); err != nil {
		return err
	}
	fb, color := rc.state.framebuffer, rc.state.clearColor
	return rc.hook("PlatformClearBuffer", func() error {
		return rc.backend.PlatformClearBuffer(fb, color)
	})
}

func (rc *RenderContext) SwapBuffers() error {
	if err := rc.checkUsable("SwapBuffers"); err != nil {
		return err
	}
	return rc.hook("PlatformSwapBuffers", rc.backend.PlatformSwapBuffers)
}

// Resize always notifies the backend, then fits the viewport to the new size.
func (rc *RenderContext) Resize(width, height int) error {
	if err := rc.checkUsable("Resize"); err != nil {
		return err
	}
	if err := rc.hook("PlatformResize", func() error {
		return rc.backend.PlatformResize(width, height)
	}); err != nil {
		return err
	}
	core.LogDebug("render context resized to %dx%d", width, height)
	return rc.SetViewport(0, 0, width, height)
}

func (rc *RenderContext) Viewport() metadata.Viewport {
	return rc.state.viewport
}

func (rc *RenderContext) SetViewport(x, y, width, height int) error {
	if err := rc.checkUsable("SetViewport"); err != nil {
		return err
	}
	vp := metadata.Viewport{X: x, Y: y, Width: width, Height: height}
	if vp == rc.state.viewport {
		return nil
	}
	rc.state.viewport = vp
	return rc.hook("PlatformSetViewport", func() error {
		return rc.backend.PlatformSetViewport(vp)
	})
}

func (rc *RenderContext) PrimitiveTopology() metadata.PrimitiveTopology {
	return rc.state.topology
}

func (rc *RenderContext) SetPrimitiveTopology(topology metadata.PrimitiveTopology) error {
	if err := rc.checkUsable("SetPrimitiveTopology"); err != nil {
		return err
	}
	if topology == rc.state.topology {
		return nil
	}
	rc.state.topology = topology
	return rc.hook("PlatformSetPrimitiveTopology", func() error {
		return rc.backend.PlatformSetPrimitiveTopology(topology)
	})
}

// ScissorRectangle returns the active rectangle and whether scissoring is on.
func (rc *RenderContext) ScissorRectangle() (metadata.Rectangle, bool) {
	return rc.state.scissor, rc.state.scissorEnabled
}

func (rc *RenderContext) SetScissorRectangle(rect metadata.Rectangle) error {
	if err := rc.checkUsable("SetScissorRectangle"); err != nil {
		return err
	}
	if rc.state.scissorEnabled && rect == rc.state.scissor {
		return nil
	}
	rc.state.scissor = rect
	rc.state.scissorEnabled = true
	return rc.hook("PlatformSetScissorRectangle", func() error {
		return rc.backend.PlatformSetScissorRectangle(rect)
	})
}

func (rc *RenderContext) ClearScissorRectangle() error {
	if err := rc.checkUsable("ClearScissorRectangle"); err != nil {
		return err
	}
	if !rc.state.scissorEnabled {
		return nil
	}
	rc.state.scissorEnabled = false
	rc.state.scissor = metadata.Rectangle{}
	return rc.hook("PlatformClearScissorRectangle", rc.backend.PlatformClearScissorRectangle)
}

func (rc *RenderContext) VertexBuffer(slot int) *VertexBuffer {
	if slot < 0 || slot >= len(rc.state.vertexBuffers) {
		return nil
	}
	return rc.state.vertexBuffers[slot]
}

// SetVertexBuffer binds vb to slot. The attribute layout is rebound lazily
// before the next draw.
func (rc *RenderContext) SetVertexBuffer(slot int, vb *VertexBuffer) error {
	if err := rc.checkUsable("SetVertexBuffer"); err != nil {
		return err
	}
	if slot < 0 {
		return core.NewPreconditionError("SetVertexBuffer", "negative slot %d", slot)
	}
	if vb != nil {
		if err := rc.checkBackend("SetVertexBuffer", vb); err != nil {
			return err
		}
	}
	if rc.VertexBuffer(slot) == vb {
		return nil
	}
	for len(rc.state.vertexBuffers) <= slot {
		rc.state.vertexBuffers = append(rc.state.vertexBuffers, nil)
	}
	rc.state.vertexBuffers[slot] = vb
	rc.state.layoutChanged = true
	return rc.hook("PlatformSetVertexBuffer", func() error {
		return rc.backend.PlatformSetVertexBuffer(slot, vb)
	})
}

func (rc *RenderContext) IndexBuffer() *IndexBuffer {
	return rc.state.indexBuffer
}

func (rc *RenderContext) SetIndexBuffer(ib *IndexBuffer) error {
	if err := rc.checkUsable("SetIndexBuffer"); err != nil {
		return err
	}
	if ib != nil {
		if err := rc.checkBackend("SetIndexBuffer", ib); err != nil {
			return err
		}
	}
	if ib == rc.state.indexBuffer {
		return nil
	}
	rc.state.indexBuffer = ib
	rc.state.layoutChanged = true
	return rc.hook("PlatformSetIndexBuffer", func() error {
		return rc.backend.PlatformSetIndexBuffer(ib)
	})
}

func (rc *RenderContext) ShaderSet() ShaderSet {
	return rc.state.shaderSet
}

func (rc *RenderContext) SetShaderSet(ss ShaderSet) error {
	if err := rc.checkUsable("SetShaderSet"); err != nil {
		return err
	}
	if ss != nil {
		if err := rc.checkBackend("SetShaderSet", ss); err != nil {
			return err
		}
	}
	if ss == rc.state.shaderSet {
		return nil
	}
	rc.state.shaderSet = ss
	rc.state.layoutChanged = true
	return rc.hook("PlatformSetShaderSet", func() error {
		return rc.backend.PlatformSetShaderSet(ss)
	})
}

func (rc *RenderContext) Texture(slot int) TextureBinding {
	if slot < 0 || slot >= len(rc.state.textures) {
		return nil
	}
	return rc.state.textures[slot]
}

func (rc *RenderContext) SetTexture(slot int, binding TextureBinding) error {
	if err := rc.checkUsable("SetTexture"); err != nil {
		return err
	}
	if slot < 0 {
		return core.NewPreconditionError("SetTexture", "negative slot %d", slot)
	}
	if binding != nil {
		if err := rc.checkBackend("SetTexture", binding); err != nil {
			return err
		}
	}
	if rc.Texture(slot) == binding {
		return nil
	}
	for len(rc.state.textures) <= slot {
		rc.state.textures = append(rc.state.textures, nil)
	}
	rc.state.textures[slot] = binding
	return rc.hook("PlatformSetTexture", func() error {
		return rc.backend.PlatformSetTexture(slot, binding)
	})
}

func (rc *RenderContext) ConstantBuffer(slot int) *ConstantBuffer {
	if slot < 0 || slot >= len(rc.state.constantBuffers) {
		return nil
	}
	return rc.state.constantBuffers[slot]
}

func (rc *RenderContext) SetConstantBuffer(slot int, cb *ConstantBuffer) error {
	if err := rc.checkUsable("SetConstantBuffer"); err != nil {
		return err
	}
	if slot < 0 {
		return core.NewPreconditionError("SetConstantBuffer", "negative slot %d", slot)
	}
	if cb != nil {
		if err := rc.checkBackend("SetConstantBuffer", cb); err != nil {
			return err
		}
	}
	if rc.ConstantBuffer(slot) == cb {
		return nil
	}
	for len(rc.state.constantBuffers) <= slot {
		rc.state.constantBuffers = append(rc.state.constantBuffers, nil)
	}
	rc.state.constantBuffers[slot] = cb
	return rc.hook("PlatformSetConstantBuffer", func() error {
		return rc.backend.PlatformSetConstantBuffer(slot, cb)
	})
}

func (rc *RenderContext) CurrentFramebuffer() Framebuffer {
	return rc.state.framebuffer
}

// effectiveDepthState applies the rule that a target without depth storage
// is never depth tested nor written.
func (rc *RenderContext) effectiveDepthState() metadata.DepthStencilStateDescription {
	desc := metadata.DepthDefault
	if rc.state.depth != nil {
		desc = rc.state.depth.Description()
	}
	if fb := rc.state.framebuffer; fb != nil && !fb.HasDepthAttachment() {
		desc = desc.WithoutDepth()
	}
	return desc
}

// EffectiveDepthState is the depth state the backend was last told to apply.
func (rc *RenderContext) EffectiveDepthState() metadata.DepthStencilStateDescription {
	return rc.state.appliedDepth
}

func (rc *RenderContext) SetFramebuffer(fb Framebuffer) error {
	if err := rc.checkUsable("SetFramebuffer"); err != nil {
		return err
	}
	if fb == nil {
		return core.NewPreconditionError("SetFramebuffer", "framebuffer is nil, use SetDefaultFramebuffer")
	}
	if err := rc.checkBackend("SetFramebuffer", fb); err != nil {
		return err
	}
	if fb == rc.state.framebuffer {
		return nil
	}
	rc.state.framebuffer = fb
	depth := rc.effectiveDepthState()
	rc.state.appliedDepth = depth
	if fb.IsDefault() {
		core.LogDebug("binding default framebuffer")
	} else {
		core.LogDebug("binding framebuffer %s (%dx%d, depth=%t)", core.ShortIdentifier(fb.ID()), fb.Width(), fb.Height(), fb.HasDepthAttachment())
	}
	return rc.hook("PlatformSetFramebuffer", func() error {
		return rc.backend.PlatformSetFramebuffer(fb, depth)
	})
}

func (rc *RenderContext) SetDefaultFramebuffer() error {
	return rc.SetFramebuffer(rc.backend.DefaultFramebuffer())
}

func (rc *RenderContext) BlendState() BlendState {
	return rc.state.blend
}

func (rc *RenderContext) SetBlendState(state BlendState) error {
	if err := rc.checkUsable("SetBlendState"); err != nil {
		return err
	}
	if state == nil {
		return core.NewPreconditionError("SetBlendState", "blend state is nil")
	}
	if err := rc.checkBackend("SetBlendState", state); err != nil {
		return err
	}
	if state == rc.state.blend {
		return nil
	}
	rc.state.blend = state
	return rc.hook("PlatformSetBlendState", func() error {
		return rc.backend.PlatformSetBlendState(state)
	})
}

func (rc *RenderContext) DepthStencilState() DepthStencilState {
	return rc.state.depth
}

func (rc *RenderContext) SetDepthStencilState(state DepthStencilState) error {
	if err := rc.checkUsable("SetDepthStencilState"); err != nil {
		return err
	}
	if state == nil {
		return core.NewPreconditionError("SetDepthStencilState", "depth stencil state is nil")
	}
	if err := rc.checkBackend("SetDepthStencilState", state); err != nil {
		return err
	}
	if state == rc.state.depth {
		return nil
	}
	rc.state.depth = state
	effective := rc.effectiveDepthState()
	rc.state.appliedDepth = effective
	return rc.hook("PlatformSetDepthStencilState", func() error {
		return rc.backend.PlatformSetDepthStencilState(effective)
	})
}

func (rc *RenderContext) RasterizerState() RasterizerState {
	return rc.state.rasterizer
}

func (rc *RenderContext) SetRasterizerState(state RasterizerState) error {
	if err := rc.checkUsable("SetRasterizerState"); err != nil {
		return err
	}
	if state == nil {
		return core.NewPreconditionError("SetRasterizerState", "rasterizer state is nil")
	}
	if err := rc.checkBackend("SetRasterizerState", state); err != nil {
		return err
	}
	if state == rc.state.rasterizer {
		return nil
	}
	rc.state.rasterizer = state
	return rc.hook("PlatformSetRasterizerState", func() error {
		return rc.backend.PlatformSetRasterizerState(state)
	})
}

func (rc *RenderContext) DrawIndexedPrimitives(count, startingIndex int) error {
	return rc.draw("DrawIndexedPrimitives", count, 1, startingIndex, 0, false)
}

func (rc *RenderContext) DrawIndexedPrimitivesBaseVertex(count, startingIndex, startingVertex int) error {
	return rc.draw("DrawIndexedPrimitives", count, 1, startingIndex, startingVertex, false)
}

func (rc *RenderContext) DrawInstancedPrimitives(indexCount, instanceCount, startingIndex int) error {
	return rc.draw("DrawInstancedPrimitives", indexCount, instanceCount, startingIndex, 0, true)
}

func (rc *RenderContext) DrawInstancedPrimitivesBaseVertex(indexCount, instanceCount, startingIndex, startingVertex int) error {
	return rc.draw("DrawInstancedPrimitives", indexCount, instanceCount, startingIndex, startingVertex, true)
}

func (rc *RenderContext) draw(op string, indexCount, instanceCount, startingIndex, baseVertex int, instanced bool) error {
	if err := rc.checkDraw(op, indexCount, instanceCount, startingIndex, baseVertex); err != nil {
		core.LogError(err.Error())
		return err
	}
	rc.setBaseVertexOffset(baseVertex)
	if err := rc.preDrawCommand(op); err != nil {
		return err
	}
	rc.stats.DrawCalls++
	if instanced {
		return rc.hook("PlatformDrawInstanced", func() error {
			return rc.backend.PlatformDrawInstanced(indexCount, instanceCount, startingIndex, baseVertex)
		})
	}
	return rc.hook("PlatformDrawIndexed", func() error {
		return rc.backend.PlatformDrawIndexed(indexCount, startingIndex, baseVertex)
	})
}

func (rc *RenderContext) checkDraw(op string, indexCount, instanceCount, startingIndex, baseVertex int) error {
	if err := rc.checkUsable(op); err != nil {
		return err
	}
	ib := rc.state.indexBuffer
	if ib == nil {
		return core.NewPreconditionError(op, "no index buffer bound")
	}
	if rc.state.shaderSet == nil {
		return core.NewPreconditionError(op, "no shader set bound")
	}
	if indexCount <= 0 || instanceCount <= 0 {
		return core.NewPreconditionError(op, "invalid index count %d or instance count %d", indexCount, instanceCount)
	}
	if startingIndex < 0 || baseVertex < 0 {
		return core.NewPreconditionError(op, "negative starting index %d or base vertex %d", startingIndex, baseVertex)
	}
	if end := (startingIndex + indexCount) * ib.Format().Size(); end > ib.Capacity() {
		return core.NewPreconditionError(op, "index range ends at byte %d, index buffer holds %d", end, ib.Capacity())
	}
	return nil
}

func (rc *RenderContext) setBaseVertexOffset(baseVertex int) {
	if baseVertex != rc.state.baseVertex {
		rc.state.baseVertex = baseVertex
		rc.state.layoutChanged = true
	}
}

// preDrawCommand rebinds vertex attributes once for however many buffer,
// shader or base vertex changes happened since the last draw.
func (rc *RenderContext) preDrawCommand(op string) error {
	if !rc.state.layoutChanged {
		return nil
	}
	layout := rc.state.shaderSet.InputLayout()
	if layout == nil {
		return core.NewPreconditionError(op, "shader set %s has no vertex input layout", rc.state.shaderSet.Name())
	}
	binding, err := layout.Resolve(rc.state.vertexBuffers, rc.state.baseVertex)
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	rc.state.layoutChanged = false
	rc.stats.LayoutBinds++
	return rc.hook("PlatformBindVertexLayout", func() error {
		return rc.backend.PlatformBindVertexLayout(binding)
	})
}

func (rc *RenderContext) RegisterDataProvider(name string, provider ConstantDataProvider) {
	rc.dataProviders[name] = provider
}

func (rc *RenderContext) DataProvider(name string) (ConstantDataProvider, bool) {
	p, ok := rc.dataProviders[name]
	return p, ok
}

// RegisterContextTexture publishes a binding, usually a stage's color
// attachment, for materials built later.
func (rc *RenderContext) RegisterContextTexture(name string, binding TextureBinding) {
	rc.contextTextures[name] = binding
}

func (rc *RenderContext) ContextTexture(name string) (TextureBinding, bool) {
	b, ok := rc.contextTextures[name]
	return b, ok
}

// Destroy releases the default framebuffer and then the backend.
func (rc *RenderContext) Destroy() error {
	if rc.destroyed {
		return nil
	}
	rc.destroyed = true
	var first error
	if fb := rc.backend.DefaultFramebuffer(); fb != nil {
		first = fb.Destroy()
	}
	if err := rc.hook("PlatformDispose", rc.backend.PlatformDispose); err != nil && first == nil {
		first = err
	}
	rc.state = boundState{}
	return first
}
