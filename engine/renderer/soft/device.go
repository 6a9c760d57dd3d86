// Package soft is a headless backend. Its Device emulates an immediate mode
// driver with named objects and an error register, and keeps a log of every
// call and draw so the output of a frame can be inspected.
package soft

import (
	"encoding/binary"
	"math"

	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type ErrorCode int

const (
	NoError ErrorCode = iota
	InvalidEnum
	InvalidValue
	InvalidOperation
	OutOfMemory
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case InvalidEnum:
		return "INVALID_ENUM"
	case InvalidValue:
		return "INVALID_VALUE"
	case InvalidOperation:
		return "INVALID_OPERATION"
	case OutOfMemory:
		return "OUT_OF_MEMORY"
	}
	return "UNKNOWN_ERROR"
}

type Capability int

const (
	CapDepthTest Capability = iota
	CapScissorTest
	CapBlend
	CapCullFace
)

// VertexAttrib is one enabled attribute pointer.
type VertexAttrib struct {
	Location   int
	Buffer     uint32
	Components int
	Stride     int
	Offset     int
	Divisor    int
}

// DrawRecord is the device state captured by one draw.
type DrawRecord struct {
	Program     uint32
	Framebuffer uint32
	Topology    metadata.PrimitiveTopology
	IndexBuffer uint32
	IndexFormat metadata.IndexFormat
	IndexCount  int
	StartIndex  int
	// BaseVertex as requested; attribute offsets already include it.
	BaseVertex     int
	Instances      int
	Textures       map[int]uint32
	UniformBuffers map[int]uint32
	Attributes     []VertexAttrib
	Depth          metadata.DepthStencilStateDescription
	Blend          metadata.BlendStateDescription
	Viewport       metadata.Viewport
	ScissorEnabled bool
	// Scissor uses a bottom left origin.
	Scissor metadata.Rectangle
}

type bufferObject struct {
	data   []byte
	mapped bool
}

type textureObject struct {
	width, height int
	format        metadata.PixelFormat
	levels        [][]byte
}

type framebufferObject struct {
	colors []uint32
	depth  uint32
}

type deviceState struct {
	program        uint32
	framebuffer    uint32
	indexBuffer    uint32
	viewport       metadata.Viewport
	scissor        metadata.Rectangle
	enabled        map[Capability]bool
	depthMask      bool
	depthFunc      metadata.DepthComparison
	blend          metadata.BlendStateDescription
	cullMode       metadata.FaceCullingMode
	fillMode       metadata.TriangleFillMode
	frontFaceCW    bool
	clearColor     metadata.RgbaFloat
	textures       map[int]uint32
	uniformBuffers map[int]uint32
	attribs        map[int]VertexAttrib
}

// Device is not safe for concurrent use, like the context that drives it.
type Device struct {
	next         uint32
	buffers      map[uint32]*bufferObject
	textures     map[uint32]*textureObject
	framebuffers map[uint32]*framebufferObject
	shaders      map[uint32]*shaderObject
	programs     map[uint32]*programObject

	state     deviceState
	lastError ErrorCode
	calls     []string
	draws     []DrawRecord
	frames    int
}

func NewDevice() *Device {
	return &Device{
		next:         1,
		buffers:      make(map[uint32]*bufferObject),
		textures:     make(map[uint32]*textureObject),
		framebuffers: make(map[uint32]*framebufferObject),
		shaders:      make(map[uint32]*shaderObject),
		programs:     make(map[uint32]*programObject),
		state: deviceState{
			enabled:        make(map[Capability]bool),
			depthMask:      true,
			depthFunc:      metadata.DepthLess,
			textures:       make(map[int]uint32),
			uniformBuffers: make(map[int]uint32),
			attribs:        make(map[int]VertexAttrib),
		},
	}
}

func (d *Device) call(name string) {
	d.calls = append(d.calls, name)
}

// setError keeps the first error until GetError reads it.
func (d *Device) setError(code ErrorCode) {
	if d.lastError == NoError {
		d.lastError = code
	}
}

func (d *Device) genName() uint32 {
	n := d.next
	d.next++
	return n
}

// GetError returns and clears the error register.
func (d *Device) GetError() ErrorCode {
	code := d.lastError
	d.lastError = NoError
	return code
}

// InjectError makes the next GetError report code.
func (d *Device) InjectError(code ErrorCode) {
	d.setError(code)
}

// Calls returns the names of all native calls made so far.
func (d *Device) Calls() []string {
	return d.calls
}

func (d *Device) ResetCalls() {
	d.calls = nil
}

func (d *Device) Draws() []DrawRecord {
	return d.draws
}

func (d *Device) Frames() int {
	return d.frames
}

// Live reports how many named objects of each kind exist.
func (d *Device) Live() (buffers, textures, framebuffers, programs int) {
	return len(d.buffers), len(d.textures), len(d.framebuffers), len(d.programs)
}

func (d *Device) GenBuffer() uint32 {
	d.call("glGenBuffers")
	name := d.genName()
	d.buffers[name] = &bufferObject{}
	return name
}

func (d *Device) buffer(name uint32) *bufferObject {
	b, ok := d.buffers[name]
	if !ok {
		d.setError(InvalidOperation)
		return nil
	}
	return b
}

// BufferData replaces the storage of a buffer. A nil data leaves it zeroed.
func (d *Device) BufferData(name uint32, size int, data []byte) {
	d.call("glBufferData")
	b := d.buffer(name)
	if b == nil {
		return
	}
	if size < 0 || len(data) > size {
		d.setError(InvalidValue)
		return
	}
	if b.mapped {
		d.setError(InvalidOperation)
		return
	}
	b.data = make([]byte, size)
	copy(b.data, data)
}

func (d *Device) BufferSubData(name uint32, offset int, data []byte) {
	d.call("glBufferSubData")
	b := d.buffer(name)
	if b == nil {
		return
	}
	if offset < 0 || offset+len(data) > len(b.data) {
		d.setError(InvalidValue)
		return
	}
	if b.mapped {
		d.setError(InvalidOperation)
		return
	}
	copy(b.data[offset:], data)
}

func (d *Device) CopyBufferSubData(src, dst uint32, srcOffset, dstOffset, size int) {
	d.call("glCopyBufferSubData")
	s, t := d.buffer(src), d.buffer(dst)
	if s == nil || t == nil {
		return
	}
	if size < 0 || srcOffset < 0 || dstOffset < 0 || srcOffset+size > len(s.data) || dstOffset+size > len(t.data) {
		d.setError(InvalidValue)
		return
	}
	if s.mapped || t.mapped {
		d.setError(InvalidOperation)
		return
	}
	copy(t.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
}

// GetBufferSubData copies at most len(dst) bytes from offset and returns the count.
func (d *Device) GetBufferSubData(name uint32, offset int, dst []byte) int {
	d.call("glGetBufferSubData")
	b := d.buffer(name)
	if b == nil {
		return 0
	}
	if offset < 0 || offset > len(b.data) {
		d.setError(InvalidValue)
		return 0
	}
	return copy(dst, b.data[offset:])
}

// MapBufferRange exposes the buffer memory directly until UnmapBuffer.
func (d *Device) MapBufferRange(name uint32, offset, length int) []byte {
	d.call("glMapBufferRange")
	b := d.buffer(name)
	if b == nil {
		return nil
	}
	if offset < 0 || length < 0 || offset+length > len(b.data) {
		d.setError(InvalidValue)
		return nil
	}
	if b.mapped {
		d.setError(InvalidOperation)
		return nil
	}
	b.mapped = true
	return b.data[offset : offset+length : offset+length]
}

func (d *Device) UnmapBuffer(name uint32) bool {
	d.call("glUnmapBuffer")
	b := d.buffer(name)
	if b == nil {
		return false
	}
	if !b.mapped {
		d.setError(InvalidOperation)
		return false
	}
	b.mapped = false
	return true
}

func (d *Device) BufferSize(name uint32) int {
	if b, ok := d.buffers[name]; ok {
		return len(b.data)
	}
	return 0
}

func (d *Device) DeleteBuffer(name uint32) {
	d.call("glDeleteBuffers")
	delete(d.buffers, name)
}

func (d *Device) GenTexture() uint32 {
	d.call("glGenTextures")
	name := d.genName()
	d.textures[name] = &textureObject{}
	return name
}

func (d *Device) texture(name uint32) *textureObject {
	t, ok := d.textures[name]
	if !ok {
		d.setError(InvalidOperation)
		return nil
	}
	return t
}

// TexImage2D defines one mip level. Level 0 fixes size and format and drops
// the other levels.
func (d *Device) TexImage2D(name uint32, level, width, height int, format metadata.PixelFormat, pixels []byte) {
	d.call("glTexImage2D")
	t := d.texture(name)
	if t == nil {
		return
	}
	if format.Size() == 0 {
		d.setError(InvalidEnum)
		return
	}
	size := width * height * format.Size()
	if level < 0 || width <= 0 || height <= 0 || (pixels != nil && len(pixels) != size) {
		d.setError(InvalidValue)
		return
	}
	if level == 0 {
		t.width, t.height, t.format = width, height, format
		t.levels = t.levels[:0]
	}
	for len(t.levels) <= level {
		t.levels = append(t.levels, nil)
	}
	data := make([]byte, size)
	copy(data, pixels)
	t.levels[level] = data
}

// GetTexImage returns a copy of a mip level.
func (d *Device) GetTexImage(name uint32, level int) []byte {
	d.call("glGetTexImage")
	t := d.texture(name)
	if t == nil {
		return nil
	}
	if level < 0 || level >= len(t.levels) {
		d.setError(InvalidValue)
		return nil
	}
	return append([]byte(nil), t.levels[level]...)
}

func (d *Device) DeleteTexture(name uint32) {
	d.call("glDeleteTextures")
	delete(d.textures, name)
}

func (d *Device) GenFramebuffer() uint32 {
	d.call("glGenFramebuffers")
	name := d.genName()
	d.framebuffers[name] = &framebufferObject{}
	return name
}

func (d *Device) FramebufferTexture(fb uint32, attachment int, texture uint32) {
	d.call("glFramebufferTexture2D")
	f, ok := d.framebuffers[fb]
	if !ok || d.texture(texture) == nil {
		d.setError(InvalidOperation)
		return
	}
	for len(f.colors) <= attachment {
		f.colors = append(f.colors, 0)
	}
	f.colors[attachment] = texture
}

func (d *Device) FramebufferDepth(fb uint32, texture uint32) {
	d.call("glFramebufferTexture2D")
	f, ok := d.framebuffers[fb]
	if !ok || d.texture(texture) == nil {
		d.setError(InvalidOperation)
		return
	}
	f.depth = texture
}

func (d *Device) DeleteFramebuffer(name uint32) {
	d.call("glDeleteFramebuffers")
	delete(d.framebuffers, name)
	if d.state.framebuffer == name {
		d.state.framebuffer = 0
	}
}

func (d *Device) BindFramebuffer(name uint32) {
	d.call("glBindFramebuffer")
	if _, ok := d.framebuffers[name]; !ok && name != 0 {
		d.setError(InvalidOperation)
		return
	}
	d.state.framebuffer = name
}

func (d *Device) ClearColor(color metadata.RgbaFloat) {
	d.call("glClearColor")
	d.state.clearColor = color
}

// Clear fills every color attachment of the bound framebuffer with the clear
// color and resets its depth attachment to the far plane.
func (d *Device) Clear() {
	d.call("glClear")
	f, ok := d.framebuffers[d.state.framebuffer]
	if !ok {
		return
	}
	for _, name := range f.colors {
		if t, ok := d.textures[name]; ok && len(t.levels) > 0 {
			fill(t.levels[0], encodeColor(t.format, d.state.clearColor))
		}
	}
	if t, ok := d.textures[f.depth]; ok && len(t.levels) > 0 {
		fill(t.levels[0], encodeDepth(t.format, 1))
	}
}

func fill(dst, texel []byte) {
	if len(texel) == 0 {
		return
	}
	for i := 0; i+len(texel) <= len(dst); i += len(texel) {
		copy(dst[i:], texel)
	}
}

func unorm8(f float32) byte {
	if f <= 0 {
		return 0
	}
	if f >= 1 {
		return 255
	}
	return byte(f*255 + 0.5)
}

func encodeColor(format metadata.PixelFormat, c metadata.RgbaFloat) []byte {
	switch format {
	case metadata.PixelFormatR8G8B8A8UNorm:
		return []byte{unorm8(c.R), unorm8(c.G), unorm8(c.B), unorm8(c.A)}
	case metadata.PixelFormatB8G8R8A8UNorm:
		return []byte{unorm8(c.B), unorm8(c.G), unorm8(c.R), unorm8(c.A)}
	case metadata.PixelFormatR32G32B32A32Float:
		out := make([]byte, 16)
		for i, f := range [4]float32{c.R, c.G, c.B, c.A} {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
		}
		return out
	case metadata.PixelFormatR8UNorm:
		return []byte{unorm8(c.R)}
	case metadata.PixelFormatR16UInt:
		return binary.LittleEndian.AppendUint16(nil, uint16(c.R))
	}
	return nil
}

func encodeDepth(format metadata.PixelFormat, depth float32) []byte {
	switch format {
	case metadata.PixelFormatD32Float:
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(depth))
	case metadata.PixelFormatD24S8:
		return binary.LittleEndian.AppendUint32(nil, uint32(depth*0xffffff)<<8)
	}
	return nil
}

func (d *Device) Viewport(x, y, width, height int) {
	d.call("glViewport")
	if width < 0 || height < 0 {
		d.setError(InvalidValue)
		return
	}
	d.state.viewport = metadata.Viewport{X: x, Y: y, Width: width, Height: height}
}

func (d *Device) Scissor(x, y, width, height int) {
	d.call("glScissor")
	if width < 0 || height < 0 {
		d.setError(InvalidValue)
		return
	}
	d.state.scissor = metadata.Rectangle{X: x, Y: y, Width: width, Height: height}
}

func (d *Device) Enable(c Capability) {
	d.call("glEnable")
	d.state.enabled[c] = true
}

func (d *Device) Disable(c Capability) {
	d.call("glDisable")
	d.state.enabled[c] = false
}

func (d *Device) IsEnabled(c Capability) bool {
	return d.state.enabled[c]
}

func (d *Device) DepthMask(write bool) {
	d.call("glDepthMask")
	d.state.depthMask = write
}

func (d *Device) DepthFunc(cmp metadata.DepthComparison) {
	d.call("glDepthFunc")
	d.state.depthFunc = cmp
}

func (d *Device) BlendFunc(desc metadata.BlendStateDescription) {
	d.call("glBlendFuncSeparate")
	d.state.blend = desc
}

func (d *Device) CullFace(mode metadata.FaceCullingMode) {
	d.call("glCullFace")
	d.state.cullMode = mode
}

func (d *Device) PolygonMode(mode metadata.TriangleFillMode) {
	d.call("glPolygonMode")
	d.state.fillMode = mode
}

func (d *Device) FrontFace(clockwise bool) {
	d.call("glFrontFace")
	d.state.frontFaceCW = clockwise
}

// RasterizerState reports the current cull mode, fill mode and winding.
func (d *Device) RasterizerState() (metadata.FaceCullingMode, metadata.TriangleFillMode, bool) {
	return d.state.cullMode, d.state.fillMode, d.state.frontFaceCW
}

func (d *Device) BindIndexBuffer(name uint32) {
	d.call("glBindBuffer")
	if _, ok := d.buffers[name]; !ok && name != 0 {
		d.setError(InvalidOperation)
		return
	}
	d.state.indexBuffer = name
}

func (d *Device) BindBufferBase(index int, name uint32) {
	d.call("glBindBufferBase")
	if _, ok := d.buffers[name]; !ok && name != 0 {
		d.setError(InvalidOperation)
		return
	}
	d.state.uniformBuffers[index] = name
}

func (d *Device) BindTexture(unit int, name uint32) {
	d.call("glBindTexture")
	if _, ok := d.textures[name]; !ok && name != 0 {
		d.setError(InvalidOperation)
		return
	}
	d.state.textures[unit] = name
}

func (d *Device) VertexAttribPointer(attrib VertexAttrib) {
	d.call("glVertexAttribPointer")
	if attrib.Location < 0 || attrib.Components < 1 || attrib.Components > 4 || attrib.Stride < 0 || attrib.Offset < 0 {
		d.setError(InvalidValue)
		return
	}
	if _, ok := d.buffers[attrib.Buffer]; !ok {
		d.setError(InvalidOperation)
		return
	}
	d.state.attribs[attrib.Location] = attrib
}

func (d *Device) DisableVertexAttribArray(location int) {
	d.call("glDisableVertexAttribArray")
	delete(d.state.attribs, location)
}

// DrawElements records a draw of the bound program and index buffer.
func (d *Device) DrawElements(mode metadata.PrimitiveTopology, count int, format metadata.IndexFormat, startIndex, instances, baseVertex int) {
	d.call("glDrawElementsInstanced")
	if count <= 0 || instances <= 0 || startIndex < 0 {
		d.setError(InvalidValue)
		return
	}
	if _, ok := d.programs[d.state.program]; !ok {
		d.setError(InvalidOperation)
		return
	}
	ib, ok := d.buffers[d.state.indexBuffer]
	if !ok || ib.mapped {
		d.setError(InvalidOperation)
		return
	}
	if (startIndex+count)*format.Size() > len(ib.data) {
		d.setError(InvalidValue)
		return
	}
	rec := DrawRecord{
		Program:        d.state.program,
		Framebuffer:    d.state.framebuffer,
		Topology:       mode,
		IndexBuffer:    d.state.indexBuffer,
		IndexFormat:    format,
		IndexCount:     count,
		StartIndex:     startIndex,
		BaseVertex:     baseVertex,
		Instances:      instances,
		Textures:       make(map[int]uint32, len(d.state.textures)),
		UniformBuffers: make(map[int]uint32, len(d.state.uniformBuffers)),
		Depth: metadata.DepthStencilStateDescription{
			DepthTestEnabled:  d.state.enabled[CapDepthTest],
			DepthWriteEnabled: d.state.depthMask,
			Comparison:        d.state.depthFunc,
		},
		Blend:          d.state.blend,
		Viewport:       d.state.viewport,
		ScissorEnabled: d.state.enabled[CapScissorTest],
		Scissor:        d.state.scissor,
	}
	for unit, t := range d.state.textures {
		if t != 0 {
			rec.Textures[unit] = t
		}
	}
	for index, b := range d.state.uniformBuffers {
		if b != 0 {
			rec.UniformBuffers[index] = b
		}
	}
	for loc := 0; len(rec.Attributes) < len(d.state.attribs); loc++ {
		if a, ok := d.state.attribs[loc]; ok {
			rec.Attributes = append(rec.Attributes, a)
		}
	}
	d.draws = append(d.draws, rec)
}

func (d *Device) SwapBuffers() {
	d.call("SwapBuffers")
	d.frames++
}
