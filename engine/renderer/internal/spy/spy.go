// Package spy is a recording backend for tests. Every hook call is appended
// to a log and resources live in host memory.
package spy

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type Call struct {
	Hook string
	Args []interface{}
}

type Window struct {
	W, H int
}

func (w *Window) Width() int { return w.W }
func (w *Window) Height() int { return w.H }
func (w *Window) Exists() bool { return true }

type Backend struct {
	Calls    []Call
	FailHook map[string]error

	backendType metadata.BackendType
	factory     *Factory
	defaultFB   *Framebuffer
}

func NewBackend(width, height int) *Backend {
	return NewBackendOfType(metadata.BackendSoft, width, height)
}

func NewBackendOfType(t metadata.BackendType, width, height int) *Backend {
	b := &Backend{
		FailHook:    map[string]error{},
		backendType: t,
	}
	b.factory = &Factory{backend: t, layouts: renderer.NewLayoutCache(), Allocator: &Allocator{backend: t}}
	b.defaultFB = &Framebuffer{ResourceBase: renderer.NewResourceBase(t), w: width, h: height, hasDepth: true, isDefault: true}
	return b
}

func (b *Backend) record(hook string, args ...interface{}) error {
	b.Calls = append(b.Calls, Call{Hook: hook, Args: args})
	if err, ok := b.FailHook[hook]; ok {
		return err
	}
	return nil
}

// Count returns how often hook was invoked.
func (b *Backend) Count(hook string) int {
	n := 0
	for _, c := range b.Calls {
		if c.Hook == hook {
			n++
		}
	}
	return n
}

// Last returns the most recent call of hook.
func (b *Backend) Last(hook string) (Call, bool) {
	for i := len(b.Calls) - 1; i >= 0; i-- {
		if b.Calls[i].Hook == hook {
			return b.Calls[i], true
		}
	}
	return Call{}, false
}

func (b *Backend) Reset() {
	b.Calls = nil
}

func (b *Backend) Type() metadata.BackendType { return b.backendType }
func (b *Backend) Factory() renderer.ResourceFactory { return b.factory }
func (b *Backend) SpyFactory() *Factory { return b.factory }
func (b *Backend) DefaultFramebuffer() renderer.Framebuffer { return b.defaultFB }
func (b *Backend) Capabilities() metadata.RenderCapabilities { return metadata.RenderCapabilities{} }

func (b *Backend) PlatformClearBuffer(fb renderer.Framebuffer, color metadata.RgbaFloat) error {
	return b.record("PlatformClearBuffer", fb, color)
}
func (b *Backend) PlatformSwapBuffers() error { return b.record("PlatformSwapBuffers") }
func (b *Backend) PlatformResize(width, height int) error {
	return b.record("PlatformResize", width, height)
}
func (b *Backend) PlatformSetViewport(vp metadata.Viewport) error {
	return b.record("PlatformSetViewport", vp)
}
func (b *Backend) PlatformSetPrimitiveTopology(t metadata.PrimitiveTopology) error {
	return b.record("PlatformSetPrimitiveTopology", t)
}
func (b *Backend) PlatformSetScissorRectangle(r metadata.Rectangle) error {
	return b.record("PlatformSetScissorRectangle", r)
}
func (b *Backend) PlatformClearScissorRectangle() error {
	return b.record("PlatformClearScissorRectangle")
}
func (b *Backend) PlatformSetVertexBuffer(slot int, vb *renderer.VertexBuffer) error {
	return b.record("PlatformSetVertexBuffer", slot, vb)
}
func (b *Backend) PlatformSetIndexBuffer(ib *renderer.IndexBuffer) error {
	return b.record("PlatformSetIndexBuffer", ib)
}
func (b *Backend) PlatformSetShaderSet(ss renderer.ShaderSet) error {
	return b.record("PlatformSetShaderSet", ss)
}
func (b *Backend) PlatformSetTexture(slot int, tb renderer.TextureBinding) error {
	return b.record("PlatformSetTexture", slot, tb)
}
func (b *Backend) PlatformSetConstantBuffer(slot int, cb *renderer.ConstantBuffer) error {
	return b.record("PlatformSetConstantBuffer", slot, cb)
}
func (b *Backend) PlatformSetFramebuffer(fb renderer.Framebuffer, depth metadata.DepthStencilStateDescription) error {
	return b.record("PlatformSetFramebuffer", fb, depth)
}
func (b *Backend) PlatformSetBlendState(s renderer.BlendState) error {
	return b.record("PlatformSetBlendState", s)
}
func (b *Backend) PlatformSetDepthStencilState(d metadata.DepthStencilStateDescription) error {
	return b.record("PlatformSetDepthStencilState", d)
}
func (b *Backend) PlatformSetRasterizerState(s renderer.RasterizerState) error {
	return b.record("PlatformSetRasterizerState", s)
}
func (b *Backend) PlatformBindVertexLayout(binding renderer.VertexLayoutBinding) error {
	return b.record("PlatformBindVertexLayout", binding)
}
func (b *Backend) PlatformDrawIndexed(count, start, baseVertex int) error {
	return b.record("PlatformDrawIndexed", count, start, baseVertex)
}
func (b *Backend) PlatformDrawInstanced(count, instances, start, baseVertex int) error {
	return b.record("PlatformDrawInstanced", count, instances, start, baseVertex)
}
func (b *Backend) PlatformDispose() error { return b.record("PlatformDispose") }

// Allocator keeps buffer stores in host memory and counts allocations.
type Allocator struct {
	backend     metadata.BackendType
	Allocations int
	Copies      int
	Released    int
	FailAlloc   error
	FailRelease error
}

func (a *Allocator) Backend() metadata.BackendType { return a.backend }

func (a *Allocator) Allocate(usage metadata.BufferUsage, size int, hint metadata.BufferUsageHint) (renderer.BufferStore, error) {
	if a.FailAlloc != nil {
		return nil, a.FailAlloc
	}
	a.Allocations++
	return &Store{alloc: a, data: make([]byte, size)}, nil
}

func (a *Allocator) Copy(dst, src renderer.BufferStore, size int) error {
	a.Copies++
	copy(dst.(*Store).data[:size], src.(*Store).data[:size])
	return nil
}

type Store struct {
	alloc  *Allocator
	data   []byte
	mapped bool
}

func (s *Store) Size() int { return len(s.data) }

func (s *Store) Write(offset int, data []byte) error {
	if offset+len(data) > len(s.data) {
		return fmt.Errorf("write past end of store")
	}
	copy(s.data[offset:], data)
	return nil
}

func (s *Store) Read(offset int, dst []byte) (int, error) {
	return copy(dst, s.data[offset:]), nil
}

func (s *Store) Map(size int) ([]byte, error) {
	s.mapped = true
	return s.data[:size], nil
}

func (s *Store) Unmap() error {
	s.mapped = false
	return nil
}

func (s *Store) Release() error {
	if s.alloc.FailRelease != nil {
		return s.alloc.FailRelease
	}
	s.alloc.Released++
	s.data = nil
	return nil
}

type Texture struct {
	renderer.ResourceBase
	desc      metadata.TextureDescription
	pixels    [][]byte
	Destroyed bool
}

func (t *Texture) Width() int { return t.desc.Width }
func (t *Texture) Height() int { return t.desc.Height }
func (t *Texture) Format() metadata.PixelFormat { return t.desc.Format }
func (t *Texture) MipLevels() int { return t.desc.MipLevels }
func (t *Texture) SetPixels(mip int, data []byte) error {
	t.pixels[mip] = append([]byte(nil), data...)
	return nil
}
func (t *Texture) GetPixels(mip int) ([]byte, error) { return t.pixels[mip], nil }
func (t *Texture) Destroy() error {
	t.Destroyed = true
	return nil
}

type TextureBinding struct {
	renderer.ResourceBase
	tex       renderer.Texture
	Destroyed bool
}

func (b *TextureBinding) BoundTexture() renderer.Texture { return b.tex }
func (b *TextureBinding) Destroy() error {
	b.Destroyed = true
	return nil
}

type Framebuffer struct {
	renderer.ResourceBase
	w, h      int
	colors    []renderer.Texture
	depth     renderer.Texture
	hasDepth  bool
	isDefault bool
}

func (f *Framebuffer) Width() int { return f.w }
func (f *Framebuffer) Height() int { return f.h }
func (f *Framebuffer) ColorAttachments() []renderer.Texture { return f.colors }
func (f *Framebuffer) DepthAttachment() renderer.Texture { return f.depth }
func (f *Framebuffer) HasDepthAttachment() bool { return f.hasDepth }
func (f *Framebuffer) IsDefault() bool { return f.isDefault }
func (f *Framebuffer) Destroy() error { return nil }

type ShaderSet struct {
	renderer.ResourceBase
	name      string
	layout    *renderer.VertexInputLayout
	geometry  bool
	cache     *renderer.LayoutCache
	Destroyed bool
}

func (s *ShaderSet) Name() string { return s.name }
func (s *ShaderSet) InputLayout() *renderer.VertexInputLayout { return s.layout }
func (s *ShaderSet) HasGeometryStage() bool { return s.geometry }
func (s *ShaderSet) Destroy() error {
	s.Destroyed = true
	s.cache.Release(s.layout)
	return nil
}

type BlendState struct {
	renderer.ResourceBase
	desc metadata.BlendStateDescription
}

func (s *BlendState) Description() metadata.BlendStateDescription { return s.desc }
func (s *BlendState) Destroy() error { return nil }

type DepthStencilState struct {
	renderer.ResourceBase
	desc metadata.DepthStencilStateDescription
}

func (s *DepthStencilState) Description() metadata.DepthStencilStateDescription { return s.desc }
func (s *DepthStencilState) Destroy() error { return nil }

type RasterizerState struct {
	renderer.ResourceBase
	desc metadata.RasterizerStateDescription
}

func (s *RasterizerState) Description() metadata.RasterizerStateDescription { return s.desc }
func (s *RasterizerState) Destroy() error { return nil }

type Factory struct {
	backend   metadata.BackendType
	layouts   *renderer.LayoutCache
	Allocator *Allocator
	// FailShader makes CreateShaderSet return this error.
	FailShader error
	Created    []renderer.Resource
}

func (f *Factory) Backend() metadata.BackendType { return f.backend }
func (f *Factory) Layouts() *renderer.LayoutCache { return f.layouts }

func (f *Factory) track(r renderer.Resource) {
	f.Created = append(f.Created, r)
}

func (f *Factory) CreateVertexBuffer(size int, hint metadata.BufferUsageHint) (*renderer.VertexBuffer, error) {
	vb, err := renderer.NewVertexBuffer(f.Allocator, size, hint)
	if err == nil {
		f.track(vb)
	}
	return vb, err
}

func (f *Factory) CreateIndexBuffer(size int, format metadata.IndexFormat, hint metadata.BufferUsageHint) (*renderer.IndexBuffer, error) {
	ib, err := renderer.NewIndexBuffer(f.Allocator, size, format, hint)
	if err == nil {
		f.track(ib)
	}
	return ib, err
}

func (f *Factory) CreateConstantBuffer(size int, hint metadata.BufferUsageHint) (*renderer.ConstantBuffer, error) {
	cb, err := renderer.NewConstantBuffer(f.Allocator, size, hint)
	if err == nil {
		f.track(cb)
	}
	return cb, err
}

func (f *Factory) CreateTexture(desc metadata.TextureDescription, data []byte) (renderer.Texture, error) {
	if err := renderer.ValidateTextureDescription(desc, data); err != nil {
		return nil, err
	}
	levels := max(desc.MipLevels, 1)
	t := &Texture{ResourceBase: renderer.NewResourceBase(f.backend), desc: desc, pixels: make([][]byte, levels)}
	t.pixels[0] = data
	f.track(t)
	return t, nil
}

func (f *Factory) CreateTextureBinding(tex renderer.Texture) (renderer.TextureBinding, error) {
	b := &TextureBinding{ResourceBase: renderer.NewResourceBase(f.backend), tex: tex}
	f.track(b)
	return b, nil
}

func (f *Factory) CreateShaderSet(desc renderer.ShaderSetDescription) (renderer.ShaderSet, error) {
	if f.FailShader != nil {
		return nil, f.FailShader
	}
	s := &ShaderSet{
		ResourceBase: renderer.NewResourceBase(f.backend),
		name:         desc.Name,
		layout:       f.layouts.Acquire(desc.VertexSource+desc.FragmentSource, desc.VertexInputs),
		geometry:     desc.HasGeometryStage(),
		cache:        f.layouts,
	}
	f.track(s)
	return s, nil
}

// NewFramebuffer builds a framebuffer of the given size without attachments.
func (f *Factory) NewFramebuffer(width, height int, hasDepth bool) *Framebuffer {
	return &Framebuffer{ResourceBase: renderer.NewResourceBase(f.backend), w: width, h: height, hasDepth: hasDepth}
}

func (f *Factory) CreateFramebuffer(colors []renderer.Texture, depth renderer.Texture) (renderer.Framebuffer, error) {
	w, h, err := renderer.ValidateFramebufferAttachments(colors, depth)
	if err != nil {
		return nil, err
	}
	fb := &Framebuffer{ResourceBase: renderer.NewResourceBase(f.backend), w: w, h: h, colors: colors, depth: depth, hasDepth: depth != nil}
	f.track(fb)
	return fb, nil
}

func (f *Factory) CreateBlendState(desc metadata.BlendStateDescription) (renderer.BlendState, error) {
	return &BlendState{ResourceBase: renderer.NewResourceBase(f.backend), desc: desc}, nil
}

func (f *Factory) CreateDepthStencilState(desc metadata.DepthStencilStateDescription) (renderer.DepthStencilState, error) {
	return &DepthStencilState{ResourceBase: renderer.NewResourceBase(f.backend), desc: desc}, nil
}

func (f *Factory) CreateRasterizerState(desc metadata.RasterizerStateDescription) (renderer.RasterizerState, error) {
	return &RasterizerState{ResourceBase: renderer.NewResourceBase(f.backend), desc: desc}, nil
}

func (f *Factory) CreateMaterial(rc *renderer.RenderContext, desc renderer.MaterialDescription) (*renderer.Material, error) {
	return renderer.BuildMaterial(rc, f, desc)
}

var ErrInjected = errors.New("injected failure")
