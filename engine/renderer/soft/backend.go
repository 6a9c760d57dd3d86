package soft

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Backend implements the platform hooks on top of a Device. It keeps its own
// copy of what the context bound so buffers that grew, and therefore changed
// device name, are rebound before each draw.
type Backend struct {
	device   *Device
	window   renderer.Window
	validate bool
	factory  *factory

	defaultFB   *framebuffer
	framebuffer *framebuffer
	topology    metadata.PrimitiveTopology

	// top left origin; converted against the bound target on every change
	scissor        metadata.Rectangle
	scissorEnabled bool

	indexBuffer     *renderer.IndexBuffer
	constantBuffers map[int]*renderer.ConstantBuffer
	layout          renderer.VertexLayoutBinding

	// device names last handed to the device for each binding
	boundIndex    uint32
	boundUniforms map[int]uint32
	boundAttribs  map[int]uint32

	disposed bool
}

type Option func(b *Backend)

// WithValidation checks the device error register after every native call.
func WithValidation(enabled bool) Option {
	return func(b *Backend) {
		b.validate = enabled
	}
}

// WithDevice runs the backend on an existing device.
func WithDevice(d *Device) Option {
	return func(b *Backend) {
		b.device = d
	}
}

func NewBackend(window renderer.Window, opts ...Option) (*Backend, error) {
	if window == nil {
		return nil, core.NewPreconditionError("NewBackend", "window is required")
	}
	b := &Backend{
		window:          window,
		constantBuffers: make(map[int]*renderer.ConstantBuffer),
		boundUniforms:   make(map[int]uint32),
		boundAttribs:    make(map[int]uint32),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.device == nil {
		b.device = NewDevice()
	}
	b.factory = newFactory(b)

	fb, err := b.newDefaultFramebuffer(window.Width(), window.Height())
	if err != nil {
		return nil, err
	}
	b.defaultFB = fb
	b.framebuffer = fb
	core.LogInfo("soft backend ready (%dx%d, validation=%t)", window.Width(), window.Height(), b.validate)
	return b, nil
}

// newDefaultFramebuffer backs the window with a BGRA color target and a
// depth target, like a swap chain would.
func (b *Backend) newDefaultFramebuffer(width, height int) (*framebuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, core.NewResourceCreationError("default framebuffer", fmt.Errorf("invalid window size %dx%d", width, height))
	}
	color, err := b.factory.CreateTexture(metadata.TextureDescription{Width: width, Height: height, Format: metadata.PixelFormatB8G8R8A8UNorm, MipLevels: 1}, nil)
	if err != nil {
		return nil, err
	}
	depth, err := b.factory.CreateTexture(metadata.TextureDescription{Width: width, Height: height, Format: metadata.PixelFormatD24S8, MipLevels: 1}, nil)
	if err != nil {
		_ = color.Destroy()
		return nil, err
	}
	fb, err := b.factory.CreateFramebuffer([]renderer.Texture{color}, depth)
	if err != nil {
		_ = renderer.ReleaseAll(color, depth)
		return nil, err
	}
	f := fb.(*framebuffer)
	f.isDefault = true
	return f, nil
}

// check turns a pending device error into a BackendError when validating.
func (b *Backend) check(call string) error {
	if !b.validate {
		return nil
	}
	if code := b.device.GetError(); code != NoError {
		err := &core.BackendError{Call: call, Code: code.String()}
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (b *Backend) Device() *Device {
	return b.device
}

func (b *Backend) Type() metadata.BackendType {
	return metadata.BackendSoft
}

func (b *Backend) Factory() renderer.ResourceFactory {
	return b.factory
}

func (b *Backend) DefaultFramebuffer() renderer.Framebuffer {
	return b.defaultFB
}

func (b *Backend) Capabilities() metadata.RenderCapabilities {
	return metadata.RenderCapabilities{
		SupportsGeometryShaders: true,
		SupportsInstancing:      true,
		TopLeftUV:               [2]float32{0, 1},
		BottomRightUV:           [2]float32{1, 0},
	}
}

func (b *Backend) PlatformClearBuffer(fb renderer.Framebuffer, color metadata.RgbaFloat) error {
	b.device.ClearColor(color)
	b.device.Clear()
	return b.check("glClear")
}

func (b *Backend) PlatformSwapBuffers() error {
	if !b.window.Exists() {
		return nil
	}
	b.device.SwapBuffers()
	return b.check("SwapBuffers")
}

// PlatformResize reallocates the window targets at the new size.
func (b *Backend) PlatformResize(width, height int) error {
	if width <= 0 || height <= 0 {
		return core.NewPreconditionError("PlatformResize", "invalid size %dx%d", width, height)
	}
	fb := b.defaultFB
	for _, t := range append(append([]renderer.Texture(nil), fb.colors...), fb.depth) {
		tex := t.(*texture)
		tex.desc.Width, tex.desc.Height = width, height
		b.device.TexImage2D(tex.name, 0, width, height, tex.desc.Format, nil)
	}
	fb.width, fb.height = width, height
	if err := b.check("glTexImage2D"); err != nil {
		return err
	}
	if b.framebuffer == fb {
		return b.applyScissor()
	}
	return nil
}

func (b *Backend) PlatformSetViewport(vp metadata.Viewport) error {
	b.device.Viewport(vp.X, vp.Y, vp.Width, vp.Height)
	return b.check("glViewport")
}

// PlatformSetPrimitiveTopology only records the mode, the device takes it per draw.
func (b *Backend) PlatformSetPrimitiveTopology(topology metadata.PrimitiveTopology) error {
	b.topology = topology
	return nil
}

func (b *Backend) PlatformSetScissorRectangle(rect metadata.Rectangle) error {
	b.scissor, b.scissorEnabled = rect, true
	b.device.Enable(CapScissorTest)
	if err := b.check("glEnable"); err != nil {
		return err
	}
	return b.applyScissor()
}

func (b *Backend) PlatformClearScissorRectangle() error {
	b.scissorEnabled = false
	b.device.Disable(CapScissorTest)
	return b.check("glDisable")
}

// applyScissor converts the stored top left origin rectangle to the device's
// bottom left origin for the bound target.
func (b *Backend) applyScissor() error {
	if !b.scissorEnabled {
		return nil
	}
	rect := b.scissor
	y := b.framebuffer.height - rect.Y - rect.Height
	b.device.Scissor(rect.X, y, rect.Width, rect.Height)
	return b.check("glScissor")
}

// PlatformSetVertexBuffer has nothing to do natively; attribute pointers are
// set up when the layout is bound.
func (b *Backend) PlatformSetVertexBuffer(slot int, vb *renderer.VertexBuffer) error {
	return nil
}

func (b *Backend) PlatformSetIndexBuffer(ib *renderer.IndexBuffer) error {
	b.indexBuffer = ib
	var name uint32
	if ib != nil {
		name = storeName(ib.Store())
	}
	b.device.BindIndexBuffer(name)
	b.boundIndex = name
	return b.check("glBindBuffer")
}

func (b *Backend) PlatformSetShaderSet(ss renderer.ShaderSet) error {
	var program uint32
	if ss != nil {
		s, ok := ss.(*shaderSet)
		if !ok {
			return core.NewPreconditionError("PlatformSetShaderSet", "shader set of another backend")
		}
		program = s.program
	}
	b.device.UseProgram(program)
	return b.check("glUseProgram")
}

func (b *Backend) PlatformSetTexture(slot int, binding renderer.TextureBinding) error {
	var name uint32
	if binding != nil {
		tb, ok := binding.(*textureBinding)
		if !ok {
			return core.NewPreconditionError("PlatformSetTexture", "texture binding of another backend")
		}
		name = tb.tex.name
	}
	b.device.BindTexture(slot, name)
	return b.check("glBindTexture")
}

func (b *Backend) PlatformSetConstantBuffer(slot int, cb *renderer.ConstantBuffer) error {
	var name uint32
	if cb != nil {
		name = storeName(cb.Store())
		b.constantBuffers[slot] = cb
	} else {
		delete(b.constantBuffers, slot)
	}
	b.device.BindBufferBase(slot, name)
	b.boundUniforms[slot] = name
	return b.check("glBindBufferBase")
}

func (b *Backend) PlatformSetFramebuffer(fb renderer.Framebuffer, depth metadata.DepthStencilStateDescription) error {
	f, ok := fb.(*framebuffer)
	if !ok {
		return core.NewPreconditionError("PlatformSetFramebuffer", "framebuffer of another backend")
	}
	b.framebuffer = f
	b.device.BindFramebuffer(f.name)
	if err := b.check("glBindFramebuffer"); err != nil {
		return err
	}
	if err := b.applyScissor(); err != nil {
		return err
	}
	return b.applyDepth(depth)
}

func (b *Backend) PlatformSetBlendState(state renderer.BlendState) error {
	desc := state.Description()
	if desc.Enabled {
		b.device.Enable(CapBlend)
	} else {
		b.device.Disable(CapBlend)
	}
	b.device.BlendFunc(desc)
	return b.check("glBlendFuncSeparate")
}

func (b *Backend) PlatformSetDepthStencilState(effective metadata.DepthStencilStateDescription) error {
	return b.applyDepth(effective)
}

func (b *Backend) applyDepth(desc metadata.DepthStencilStateDescription) error {
	if desc.DepthTestEnabled {
		b.device.Enable(CapDepthTest)
	} else {
		b.device.Disable(CapDepthTest)
	}
	b.device.DepthMask(desc.DepthWriteEnabled)
	b.device.DepthFunc(desc.Comparison)
	return b.check("glDepthFunc")
}

func (b *Backend) PlatformSetRasterizerState(state renderer.RasterizerState) error {
	desc := state.Description()
	if desc.CullMode == metadata.FaceCullNone {
		b.device.Disable(CapCullFace)
	} else {
		b.device.Enable(CapCullFace)
		b.device.CullFace(desc.CullMode)
	}
	b.device.PolygonMode(desc.FillMode)
	b.device.FrontFace(desc.FrontFaceClockwise)
	return b.check("glPolygonMode")
}

// PlatformBindVertexLayout points every attribute location at its slot's buffer.
func (b *Backend) PlatformBindVertexLayout(binding renderer.VertexLayoutBinding) error {
	for loc := range b.boundAttribs {
		if !hasLocation(binding.Attributes, loc) {
			b.device.DisableVertexAttribArray(loc)
			delete(b.boundAttribs, loc)
		}
	}
	b.layout = binding
	for _, a := range binding.Attributes {
		b.pointAttribute(a)
	}
	return b.check("glVertexAttribPointer")
}

func hasLocation(attrs []renderer.VertexAttribute, loc int) bool {
	for _, a := range attrs {
		if a.Location == loc {
			return true
		}
	}
	return false
}

func (b *Backend) pointAttribute(a renderer.VertexAttribute) {
	slot := b.layout.Slots[a.Slot]
	var name uint32
	if slot.Buffer != nil {
		name = storeName(slot.Buffer.Store())
	}
	b.device.VertexAttribPointer(VertexAttrib{
		Location:   a.Location,
		Buffer:     name,
		Components: a.Format.ComponentCount(),
		Stride:     slot.Stride,
		Offset:     slot.ByteOffset + a.Offset,
		Divisor:    a.Divisor,
	})
	b.boundAttribs[a.Location] = name
}

// syncBuffers rebinds buffers whose store was replaced by growth since they
// were bound.
func (b *Backend) syncBuffers() {
	if b.indexBuffer != nil {
		if name := storeName(b.indexBuffer.Store()); name != b.boundIndex {
			b.device.BindIndexBuffer(name)
			b.boundIndex = name
		}
	}
	for slot, cb := range b.constantBuffers {
		if name := storeName(cb.Store()); name != b.boundUniforms[slot] {
			b.device.BindBufferBase(slot, name)
			b.boundUniforms[slot] = name
		}
	}
	for _, a := range b.layout.Attributes {
		slot := b.layout.Slots[a.Slot]
		if slot.Buffer == nil {
			continue
		}
		if storeName(slot.Buffer.Store()) != b.boundAttribs[a.Location] {
			b.pointAttribute(a)
		}
	}
}

func (b *Backend) PlatformDrawIndexed(indexCount, startIndex, baseVertex int) error {
	return b.PlatformDrawInstanced(indexCount, 1, startIndex, baseVertex)
}

func (b *Backend) PlatformDrawInstanced(indexCount, instanceCount, startIndex, baseVertex int) error {
	if b.indexBuffer == nil {
		return core.NewPreconditionError("PlatformDrawInstanced", "no index buffer bound")
	}
	b.syncBuffers()
	b.device.DrawElements(b.topology, indexCount, b.indexBuffer.Format(), startIndex, instanceCount, baseVertex)
	return b.check("glDrawElementsInstanced")
}

func (b *Backend) PlatformDispose() error {
	if b.disposed {
		return nil
	}
	b.disposed = true
	b.device.UseProgram(0)
	b.device.BindFramebuffer(0)
	core.LogInfo("soft backend disposed after %d frames", b.device.Frames())
	return b.check("PlatformDispose")
}
