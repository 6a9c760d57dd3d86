package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// texture is a device local image. Between uses it rests in the layout
// shaders sample from, or in the attachment layout for depth formats.
type texture struct {
	renderer.ResourceBase
	b     *Backend
	desc  metadata.TextureDescription
	image *VulkanImage
	rest  vk.ImageLayout
}

func newTexture(b *Backend, desc metadata.TextureDescription, data []byte) (*texture, error) {
	ctx := b.context
	format, err := pixelFormat(desc.Format, ctx.Device.DepthFormat)
	if err != nil {
		return nil, core.NewResourceCreationError("texture", err)
	}
	spec := imageSpec{
		width:   uint32(desc.Width),
		height:  uint32(desc.Height),
		format:  format,
		levels:  uint32(max(desc.MipLevels, 1)),
		memory:  vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		hasView: true,
	}
	rest := vk.ImageLayoutShaderReadOnlyOptimal
	if desc.Format.IsDepth() {
		spec.usage = vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit | vk.ImageUsageTransferDstBit)
		spec.aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
		rest = vk.ImageLayoutDepthStencilAttachmentOptimal
	} else {
		spec.usage = vk.ImageUsageFlags(vk.ImageUsageSampledBit | vk.ImageUsageColorAttachmentBit |
			vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit)
		spec.aspect = vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	image, err := ImageCreate(ctx, spec)
	if err != nil {
		return nil, core.NewResourceCreationError("texture", err)
	}
	t := &texture{
		ResourceBase: renderer.NewResourceBase(metadata.BackendVulkan),
		b:            b,
		desc:         desc,
		image:        image,
		rest:         rest,
	}
	if data != nil && !desc.Format.IsDepth() {
		err = t.upload(0, data, vk.ImageLayoutUndefined)
	} else {
		err = b.immediate(func(cmd *VulkanCommandBuffer) error {
			image.TransitionLayout(cmd, vk.ImageLayoutUndefined, rest)
			return nil
		})
	}
	if err != nil {
		image.ImageDestroy(ctx)
		return nil, core.NewResourceCreationError("texture", err)
	}
	return t, nil
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

func (t *texture) checkLevel(op string, level int) error {
	if t.image == nil {
		return core.NewPreconditionError(op, "texture was destroyed")
	}
	if level < 0 || level >= max(t.desc.MipLevels, 1) {
		return core.NewPreconditionError(op, "mip level %d out of range", level)
	}
	return nil
}

// upload copies one level through a staging buffer and leaves the image in
// its resting layout.
func (t *texture) upload(level int, data []byte, from vk.ImageLayout) error {
	w, h := t.desc.MipSize(level)
	staging, err := newBufferStore(t.b, len(data), vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit))
	if err != nil {
		return err
	}
	defer staging.destroy()
	if err := staging.Write(0, data); err != nil {
		return err
	}
	return t.b.immediate(func(cmd *VulkanCommandBuffer) error {
		t.image.TransitionLayout(cmd, from, vk.ImageLayoutTransferDstOptimal)
		t.image.CopyFromBuffer(cmd, staging.handle, uint32(level), uint32(w), uint32(h))
		t.image.TransitionLayout(cmd, vk.ImageLayoutTransferDstOptimal, t.rest)
		return nil
	})
}

func (t *texture) SetPixels(mipLevel int, data []byte) error {
	if err := t.checkLevel("SetPixels", mipLevel); err != nil {
		return err
	}
	if t.desc.Format.IsDepth() {
		return core.NewPreconditionError("SetPixels", "depth textures cannot be uploaded to")
	}
	w, h := t.desc.MipSize(mipLevel)
	if want := w * h * t.desc.Format.Size(); len(data) != want {
		return core.NewPreconditionError("SetPixels", "expected %d bytes for level %d, got %d", want, mipLevel, len(data))
	}
	return t.upload(mipLevel, data, t.rest)
}

// GetPixels reads one level back through a staging buffer.
func (t *texture) GetPixels(mipLevel int) ([]byte, error) {
	if err := t.checkLevel("GetPixels", mipLevel); err != nil {
		return nil, err
	}
	if t.desc.Format.IsDepth() {
		return nil, core.NewPreconditionError("GetPixels", "depth textures cannot be read back")
	}
	w, h := t.desc.MipSize(mipLevel)
	size := w * h * t.desc.Format.Size()
	staging, err := newBufferStore(t.b, size, vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))
	if err != nil {
		return nil, err
	}
	defer staging.destroy()
	if err := t.b.immediate(func(cmd *VulkanCommandBuffer) error {
		t.image.TransitionLayout(cmd, t.rest, vk.ImageLayoutTransferSrcOptimal)
		t.image.CopyToBuffer(cmd, staging.handle, uint32(mipLevel), uint32(w), uint32(h))
		t.image.TransitionLayout(cmd, vk.ImageLayoutTransferSrcOptimal, t.rest)
		return nil
	}); err != nil {
		return nil, err
	}
	px := make([]byte, size)
	if _, err := staging.Read(0, px); err != nil {
		return nil, err
	}
	return px, nil
}

func (t *texture) Destroy() error {
	if t.image == nil {
		return nil
	}
	image := t.image
	t.image = nil
	t.b.deferRelease(func() {
		image.ImageDestroy(t.b.context)
	})
	return nil
}

// textureBinding pairs a texture with the sampler shaders read it through.
type textureBinding struct {
	renderer.ResourceBase
	b       *Backend
	tex     *texture
	sampler vk.Sampler
}

func newTextureBinding(b *Backend, t *texture) (*textureBinding, error) {
	if t.desc.Format.IsDepth() {
		return nil, core.NewResourceCreationError("texture binding", fmt.Errorf("depth textures cannot be sampled"))
	}
	filter := vk.FilterLinear
	mipmap := vk.SamplerMipmapModeLinear
	if t.desc.Format == metadata.PixelFormatR16UInt {
		// integer formats cannot be filtered
		filter = vk.FilterNearest
		mipmap = vk.SamplerMipmapModeNearest
	}
	createInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               filter,
		MinFilter:               filter,
		MipmapMode:              mipmap,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1.0,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MinLod:                  0,
		MaxLod:                  float32(max(t.desc.MipLevels, 1)),
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	}
	tb := &textureBinding{
		ResourceBase: renderer.NewResourceBase(metadata.BackendVulkan),
		b:            b,
		tex:          t,
	}
	ctx := b.context
	if res := vk.CreateSampler(ctx.Device.LogicalDevice, &createInfo, ctx.Allocator, &tb.sampler); res != vk.Success {
		return nil, core.NewResourceCreationError("texture binding", resultError("vkCreateSampler", res))
	}
	return tb, nil
}

func (tb *textureBinding) BoundTexture() renderer.Texture {
	return tb.tex
}

// Destroy releases the sampler only, the texture has its own owner.
func (tb *textureBinding) Destroy() error {
	if tb.sampler == nil {
		return nil
	}
	sampler := tb.sampler
	tb.sampler = nil
	tb.b.deferRelease(func() {
		vk.DestroySampler(tb.b.context.Device.LogicalDevice, sampler, tb.b.context.Allocator)
	})
	return nil
}

// framebuffer renders either into textures or, for the default one, into
// the swapchain image acquired for the frame.
type framebuffer struct {
	renderer.ResourceBase
	b         *Backend
	width     int
	height    int
	colors    []renderer.Texture
	depth     renderer.Texture
	isDefault bool

	clearPass *VulkanRenderpass
	loadPass  *VulkanRenderpass
	// one per swapchain image for the default framebuffer
	targets []*VulkanFramebuffer

	// color the next pass starts from, set by a clear outside of a pass
	pendingClear *metadata.RgbaFloat
}

func newOffscreenFramebuffer(b *Backend, colors []*texture, depth *texture, width, height int) (*framebuffer, error) {
	ctx := b.context
	spec := renderpassSpec{
		depthFormat: ctx.Device.DepthFormat,
		hasDepth:    depth != nil,
		colorLayout: vk.ImageLayoutShaderReadOnlyOptimal,
	}
	var views []vk.ImageView
	for _, c := range colors {
		spec.colorFormats = append(spec.colorFormats, c.image.Format)
		views = append(views, c.image.View)
	}
	if depth != nil {
		views = append(views, depth.image.View)
	}
	fb := &framebuffer{
		ResourceBase: renderer.NewResourceBase(metadata.BackendVulkan),
		b:            b,
		width:        width,
		height:       height,
	}
	for _, c := range colors {
		fb.colors = append(fb.colors, c)
	}
	if depth != nil {
		fb.depth = depth
	}
	if err := fb.createPasses(spec); err != nil {
		return nil, err
	}
	target, err := FramebufferCreate(ctx, fb.clearPass, uint32(width), uint32(height), views)
	if err != nil {
		fb.destroyPasses()
		return nil, err
	}
	fb.targets = []*VulkanFramebuffer{target}
	return fb, nil
}

func (f *framebuffer) createPasses(spec renderpassSpec) error {
	w, h := float32(f.width), float32(f.height)
	clear, err := RenderpassCreate(f.b.context, spec, w, h)
	if err != nil {
		return err
	}
	spec.load = true
	load, err := RenderpassCreate(f.b.context, spec, w, h)
	if err != nil {
		clear.RenderpassDestroy(f.b.context)
		return err
	}
	f.clearPass, f.loadPass = clear, load
	return nil
}

func (f *framebuffer) destroyPasses() {
	if f.clearPass != nil {
		f.clearPass.RenderpassDestroy(f.b.context)
		f.clearPass = nil
	}
	if f.loadPass != nil {
		f.loadPass.RenderpassDestroy(f.b.context)
		f.loadPass = nil
	}
}

func (f *framebuffer) destroyTargets() {
	for _, t := range f.targets {
		t.Destroy(f.b.context)
	}
	f.targets = nil
}

// target is the native framebuffer to render into this frame.
func (f *framebuffer) target() *VulkanFramebuffer {
	if f.isDefault {
		return f.targets[f.b.context.ImageIndex]
	}
	return f.targets[0]
}

// resize sets the render area of both passes.
func (f *framebuffer) resize(width, height int) {
	f.width, f.height = width, height
	for _, p := range []*VulkanRenderpass{f.clearPass, f.loadPass} {
		p.W, p.H = float32(width), float32(height)
	}
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
	return f.isDefault || f.depth != nil
}

func (f *framebuffer) IsDefault() bool {
	return f.isDefault
}

// Destroy releases the passes and the native framebuffer. Attachments stay
// with their owner. The default framebuffer lives as long as the backend.
func (f *framebuffer) Destroy() error {
	if f.isDefault || f.clearPass == nil {
		return nil
	}
	f.b.releaseTarget(f)
	clear, load, targets := f.clearPass, f.loadPass, f.targets
	f.clearPass, f.loadPass, f.targets = nil, nil, nil
	f.b.deferRelease(func() {
		ctx := f.b.context
		for _, t := range targets {
			t.Destroy(ctx)
		}
		clear.RenderpassDestroy(ctx)
		load.RenderpassDestroy(ctx)
	})
	return nil
}

type blendState struct {
	renderer.ResourceBase
	desc metadata.BlendStateDescription
}

func (s *blendState) Description() metadata.BlendStateDescription {
	return s.desc
}

// Destroy is a no-op, pipelines are baked from the description.
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
