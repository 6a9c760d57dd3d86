package soft

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// bufferStore is one device buffer name.
type bufferStore struct {
	b    *Backend
	name uint32
	size int
}

func (s *bufferStore) Size() int {
	return s.size
}

func (s *bufferStore) Write(offset int, data []byte) error {
	s.b.device.BufferSubData(s.name, offset, data)
	return s.b.check("glBufferSubData")
}

func (s *bufferStore) Read(offset int, dst []byte) (int, error) {
	n := s.b.device.GetBufferSubData(s.name, offset, dst)
	return n, s.b.check("glGetBufferSubData")
}

func (s *bufferStore) Map(size int) ([]byte, error) {
	mem := s.b.device.MapBufferRange(s.name, 0, size)
	if err := s.b.check("glMapBufferRange"); err != nil {
		return nil, err
	}
	if mem == nil {
		return nil, fmt.Errorf("glMapBufferRange: buffer %d could not be mapped", s.name)
	}
	return mem, nil
}

func (s *bufferStore) Unmap() error {
	if !s.b.device.UnmapBuffer(s.name) {
		if err := s.b.check("glUnmapBuffer"); err != nil {
			return err
		}
		return fmt.Errorf("glUnmapBuffer: buffer %d was not mapped", s.name)
	}
	return s.b.check("glUnmapBuffer")
}

func (s *bufferStore) Release() error {
	s.b.device.DeleteBuffer(s.name)
	return s.b.check("glDeleteBuffers")
}

// allocator hands out device buffers and grows them with a device side copy.
type allocator struct {
	b *Backend
}

func (a *allocator) Backend() metadata.BackendType {
	return metadata.BackendSoft
}

func (a *allocator) Allocate(usage metadata.BufferUsage, size int, hint metadata.BufferUsageHint) (renderer.BufferStore, error) {
	name := a.b.device.GenBuffer()
	a.b.device.BufferData(name, size, nil)
	if err := a.b.check("glBufferData"); err != nil {
		a.b.device.DeleteBuffer(name)
		return nil, err
	}
	return &bufferStore{b: a.b, name: name, size: size}, nil
}

func (a *allocator) Copy(dst, src renderer.BufferStore, size int) error {
	d, ok1 := dst.(*bufferStore)
	s, ok2 := src.(*bufferStore)
	if !ok1 || !ok2 {
		return core.NewPreconditionError("Copy", "buffer stores of another backend")
	}
	a.b.device.CopyBufferSubData(s.name, d.name, 0, 0, size)
	return a.b.check("glCopyBufferSubData")
}

// storeName is the device buffer behind a store, zero for an empty buffer.
func storeName(store renderer.BufferStore) uint32 {
	if s, ok := store.(*bufferStore); ok {
		return s.name
	}
	return 0
}

type texture struct {
	renderer.ResourceBase
	b    *Backend
	name uint32
	desc metadata.TextureDescription
}

func (t *texture) Width() int {
	return t.desc.Width
}

func (t *texture) Height() int {
	return t.desc.Height
}

func (t *texture) Format() metadata.PixelFormat {
	return t.desc.Format
}

func (t *texture) MipLevels() int {
	return t.desc.MipLevels
}

// Name is the device texture name.
func (t *texture) Name() uint32 {
	return t.name
}

func (t *texture) SetPixels(mipLevel int, data []byte) error {
	if mipLevel < 0 || mipLevel >= max(t.desc.MipLevels, 1) {
		return core.NewPreconditionError("SetPixels", "mip level %d out of range", mipLevel)
	}
	w, h := t.desc.MipSize(mipLevel)
	t.b.device.TexImage2D(t.name, mipLevel, w, h, t.desc.Format, data)
	return t.b.check("glTexImage2D")
}

func (t *texture) GetPixels(mipLevel int) ([]byte, error) {
	px := t.b.device.GetTexImage(t.name, mipLevel)
	return px, t.b.check("glGetTexImage")
}

func (t *texture) Destroy() error {
	t.b.device.DeleteTexture(t.name)
	return t.b.check("glDeleteTextures")
}

type textureBinding struct {
	renderer.ResourceBase
	tex *texture
}

func (b *textureBinding) BoundTexture() renderer.Texture {
	return b.tex
}

// Destroy leaves the texture alone, it has its own owner.
func (b *textureBinding) Destroy() error {
	return nil
}

type framebuffer struct {
	renderer.ResourceBase
	b         *Backend
	name      uint32
	width     int
	height    int
	colors    []renderer.Texture
	depth     renderer.Texture
	isDefault bool
	destroyed bool
}

func (f *framebuffer) Width() int {
	return f.width
}

func (f *framebuffer) Height() int {
	return f.height
}

func (f *framebuffer) ColorAttachments() []renderer.Texture {
	return f.colors
}

func (f *framebuffer) DepthAttachment() renderer.Texture {
	return f.depth
}

func (f *framebuffer) HasDepthAttachment() bool {
	return f.depth != nil
}

func (f *framebuffer) IsDefault() bool {
	return f.isDefault
}

// Name is the device framebuffer name.
func (f *framebuffer) Name() uint32 {
	return f.name
}

// Destroy deletes the framebuffer object. Attachments are only released for
// the default framebuffer, which created its own.
func (f *framebuffer) Destroy() error {
	if f.destroyed {
		return nil
	}
	f.destroyed = true
	f.b.device.DeleteFramebuffer(f.name)
	if f.isDefault {
		for _, c := range f.colors {
			_ = c.Destroy()
		}
		if f.depth != nil {
			_ = f.depth.Destroy()
		}
	}
	return f.b.check("glDeleteFramebuffers")
}

type shaderSet struct {
	renderer.ResourceBase
	b       *Backend
	name    string
	program uint32
	shaders []uint32
	layout  *renderer.VertexInputLayout
	geom    bool
}

func (s *shaderSet) Name() string {
	return s.name
}

func (s *shaderSet) InputLayout() *renderer.VertexInputLayout {
	return s.layout
}

func (s *shaderSet) HasGeometryStage() bool {
	return s.geom
}

// Program is the device program name.
func (s *shaderSet) Program() uint32 {
	return s.program
}

// Destroy releases the program and drops this set's reference on the shared
// input layout. Later calls are no-ops.
func (s *shaderSet) Destroy() error {
	if s.program == 0 {
		return nil
	}
	for _, sh := range s.shaders {
		s.b.device.DeleteShader(sh)
	}
	s.b.device.DeleteProgram(s.program)
	s.shaders, s.program = nil, 0
	s.b.factory.layouts.Release(s.layout)
	return s.b.check("glDeleteProgram")
}

type blendState struct {
	renderer.ResourceBase
	desc metadata.BlendStateDescription
}

func (s *blendState) Description() metadata.BlendStateDescription {
	return s.desc
}

func (s *blendState) Destroy() error {
	return nil
}

type depthStencilState struct {
	renderer.ResourceBase
	desc metadata.DepthStencilStateDescription
}

func (s *depthStencilState) Description() metadata.DepthStencilStateDescription {
	return s.desc
}

func (s *depthStencilState) Destroy() error {
	return nil
}

type rasterizerState struct {
	renderer.ResourceBase
	desc metadata.RasterizerStateDescription
}

func (s *rasterizerState) Description() metadata.RasterizerStateDescription {
	return s.desc
}

func (s *rasterizerState) Destroy() error {
	return nil
}
