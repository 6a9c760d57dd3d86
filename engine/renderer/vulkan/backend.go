package vulkan

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/containers"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Surface is the window the backend presents to.
type Surface interface {
	renderer.Window
	GetRequiredExtensionNames() []string
	GetInstanceProcAddress() unsafe.Pointer
	// CreateSurface returns the native surface handle for instance.
	CreateSurface(instance interface{}) (uintptr, error)
}

type BackendConfig struct {
	ApplicationName string
	// Debug enables the validation layer and the debug report callback.
	Debug      bool
	VSync      bool
	ClearColor metadata.RgbaFloat
	// Constant buffer and texture slots available to shaders.
	MaxConstantBuffers int
	MaxTextures        int
	// Bytes of constant data a single frame can draw with.
	UniformArenaSize int
	MaxDrawsPerFrame int
}

func (c BackendConfig) withDefaults() BackendConfig {
	if c.ApplicationName == "" {
		c.ApplicationName = "prism"
	}
	if c.MaxConstantBuffers <= 0 {
		c.MaxConstantBuffers = 4
	}
	if c.MaxTextures <= 0 {
		c.MaxTextures = 8
	}
	if c.UniformArenaSize <= 0 {
		c.UniformArenaSize = 4 << 20
	}
	if c.MaxDrawsPerFrame <= 0 {
		c.MaxDrawsPerFrame = 4096
	}
	return c
}

type frameResources struct {
	uniforms    *uniformArena
	descriptors *VulkanDescriptorPool
}

type releaseEntry struct {
	frame   uint64
	release func()
}

// Backend implements the platform hooks on Vulkan. Frames and render passes
// begin lazily: the first command that needs a pass waits for the frame slot,
// acquires a swapchain image and opens the pass of the bound framebuffer.
type Backend struct {
	window  Surface
	cfg     BackendConfig
	context *VulkanContext
	locks   *VulkanLockPool
	factory *factory

	setLayout *VulkanDescriptorSetLayout
	pipelines *pipelineCache
	frames    []*frameResources
	defaultFB *framebuffer

	// requested window size, applied when the swapchain is recreated
	pendingWidth  uint32
	pendingHeight uint32

	// frame bookkeeping
	frameNumber     uint64
	completedFrame  uint64
	slotFrame       []uint64
	frameActive     bool
	defaultRendered bool
	graveyard       *containers.RingQueue[releaseEntry]

	framebuffer    *framebuffer
	activeTarget   *framebuffer
	activePass     *VulkanRenderpass
	boundPipeline  *VulkanPipeline
	viewport       metadata.Viewport
	scissor        *metadata.Rectangle
	topology       metadata.PrimitiveTopology
	shaderSet      *shaderSet
	blend          metadata.BlendStateDescription
	depth          metadata.DepthStencilStateDescription
	raster         metadata.RasterizerStateDescription
	indexBuffer    *renderer.IndexBuffer
	uniformBuffers map[int]*renderer.ConstantBuffer
	textures       map[int]*textureBinding
	layout         renderer.VertexLayoutBinding
	hasLayout      bool

	disposed bool
}

func NewBackend(window Surface, cfg BackendConfig) (*Backend, error) {
	if window == nil {
		return nil, core.NewPreconditionError("NewBackend", "window is required")
	}
	cfg = cfg.withDefaults()
	b := &Backend{
		window: window,
		cfg:    cfg,
		context: &VulkanContext{
			FramebufferWidth:  uint32(window.Width()),
			FramebufferHeight: uint32(window.Height()),
			Device:            &VulkanDevice{},
		},
		locks:          NewVulkanLockPool(),
		pendingWidth:   uint32(window.Width()),
		pendingHeight:  uint32(window.Height()),
		blend:          metadata.BlendOverride,
		depth:          metadata.DepthDefault,
		raster:         metadata.RasterizerCullBack,
		uniformBuffers: make(map[int]*renderer.ConstantBuffer),
		textures:       make(map[int]*textureBinding),
		graveyard:      containers.NewRingQueue[releaseEntry](16),
	}
	b.factory = newFactory(b)
	b.pipelines = newPipelineCache(b.locks)
	b.viewport = metadata.Viewport{Width: window.Width(), Height: window.Height()}

	if err := b.initialize(); err != nil {
		_ = b.PlatformDispose()
		return nil, err
	}
	core.LogInfo("vulkan backend ready (%dx%d, validation=%t)", b.context.FramebufferWidth, b.context.FramebufferHeight, cfg.Debug)
	return b, nil
}

func (b *Backend) initialize() error {
	ctx := b.context
	procAddr := b.window.GetInstanceProcAddress()
	if procAddr == nil {
		return fmt.Errorf("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return fmt.Errorf("failed to initialize vk: %w", err)
	}

	if err := b.createInstance(); err != nil {
		return err
	}

	if b.cfg.Debug {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if res := vk.CreateDebugReportCallback(ctx.Instance, &debugCreateInfo, ctx.Allocator, &dbg); res != vk.Success {
			return resultError("vkCreateDebugReportCallbackEXT", res)
		}
		ctx.debugMessenger = dbg
	}

	surface, err := b.window.CreateSurface(ctx.Instance)
	if err != nil {
		return fmt.Errorf("vulkan surface creation failed: %w", err)
	}
	ctx.Surface = vk.SurfaceFromPointer(surface)

	if err := DeviceCreate(ctx); err != nil {
		return err
	}
	b.locks.SetQueueFamily(uint32(ctx.Device.GraphicsQueueIndex))
	b.locks.SetQueueFamily(uint32(ctx.Device.PresentQueueIndex))

	sc, err := SwapchainCreate(ctx, ctx.FramebufferWidth, ctx.FramebufferHeight, b.cfg.VSync)
	if err != nil {
		return err
	}
	ctx.Swapchain = sc
	ctx.FramebufferWidth, ctx.FramebufferHeight = sc.Extent.Width, sc.Extent.Height

	stages := vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit)
	if ctx.Device.Features.GeometryShader == vk.True {
		stages |= vk.ShaderStageFlags(vk.ShaderStageGeometryBit)
	}
	if b.setLayout, err = NewDescriptorSetLayout(ctx, b.cfg.MaxConstantBuffers, b.cfg.MaxTextures, stages); err != nil {
		return err
	}

	if err := b.createDefaultFramebuffer(); err != nil {
		return err
	}
	if err := b.createCommandBuffers(); err != nil {
		return err
	}
	return b.createFrameResources()
}

func (b *Backend) createInstance() error {
	ctx := b.context
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(b.cfg.ApplicationName),
		PEngineName:        VulkanSafeString("Prism"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string(nil), b.window.GetRequiredExtensionNames()...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}
	var layers []string
	if b.cfg.Debug {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		missing, err := missingLayers(layers)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("required validation layers are missing: %v", missing)
		}
		core.LogInfo("Validation layers enabled.")
	}
	core.LogDebug("Required instance extensions: %v", extensions)

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if res := vk.CreateInstance(&createInfo, ctx.Allocator, &ctx.Instance); res != vk.Success {
		return resultError("vkCreateInstance", res)
	}
	if err := vk.InitInstance(ctx.Instance); err != nil {
		return err
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

// missingLayers returns the required layers the loader does not offer.
func missingLayers(required []string) ([]string, error) {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return nil, resultError("vkEnumerateInstanceLayerProperties", res)
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return nil, resultError("vkEnumerateInstanceLayerProperties", res)
	}
	names := make([]string, len(available))
	for i := range available {
		available[i].Deref()
		names[i] = vulkanString(available[i].LayerName[:])
	}
	return missingNames(required, names), nil
}

func missingNames(required, available []string) []string {
	var missing []string
	for _, r := range required {
		found := false
		for _, a := range available {
			if a == r {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, r)
		}
	}
	return missing
}

// createDefaultFramebuffer builds the passes that render into swapchain
// images and one native framebuffer per image.
func (b *Backend) createDefaultFramebuffer() error {
	ctx := b.context
	fb := &framebuffer{
		ResourceBase: renderer.NewResourceBase(metadata.BackendVulkan),
		b:            b,
		width:        int(ctx.FramebufferWidth),
		height:       int(ctx.FramebufferHeight),
		isDefault:    true,
	}
	if err := fb.createPasses(b.defaultPassSpec()); err != nil {
		return err
	}
	b.defaultFB = fb
	b.framebuffer = fb
	return b.createSwapchainTargets()
}

func (b *Backend) defaultPassSpec() renderpassSpec {
	ctx := b.context
	return renderpassSpec{
		colorFormats: []vk.Format{ctx.Swapchain.ImageFormat.Format},
		depthFormat:  ctx.Device.DepthFormat,
		hasDepth:     true,
		colorLayout:  vk.ImageLayoutPresentSrc,
	}
}

func (b *Backend) createSwapchainTargets() error {
	ctx := b.context
	sc := ctx.Swapchain
	fb := b.defaultFB
	fb.targets = make([]*VulkanFramebuffer, 0, sc.ImageCount)
	for i := 0; i < int(sc.ImageCount); i++ {
		target, err := FramebufferCreate(ctx, fb.clearPass, ctx.FramebufferWidth, ctx.FramebufferHeight,
			[]vk.ImageView{sc.Views[i], sc.DepthAttachment.View})
		if err != nil {
			return err
		}
		fb.targets = append(fb.targets, target)
	}
	return nil
}

func (b *Backend) createCommandBuffers() error {
	ctx := b.context
	pool := ctx.Device.GraphicsCommandPool
	for _, cb := range ctx.GraphicsCommandBuffers {
		cb.Free(ctx, pool)
	}
	ctx.GraphicsCommandBuffers = make([]*VulkanCommandBuffer, 0, ctx.Swapchain.ImageCount)
	for i := 0; i < int(ctx.Swapchain.ImageCount); i++ {
		cb, err := NewVulkanCommandBuffer(ctx, pool, true)
		if err != nil {
			return err
		}
		ctx.GraphicsCommandBuffers = append(ctx.GraphicsCommandBuffers, cb)
	}
	ctx.ImagesInFlight = make([]*VulkanFence, ctx.Swapchain.ImageCount)
	core.LogDebug("Vulkan command buffers created.")
	return nil
}

// createFrameResources creates what each frame in flight owns: sync objects,
// a uniform arena and a descriptor pool.
func (b *Backend) createFrameResources() error {
	ctx := b.context
	n := int(ctx.Swapchain.MaxFramesInFlight)
	alignment := int(ctx.Device.Properties.Limits.MinUniformBufferOffsetAlignment)
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	b.slotFrame = make([]uint64, n)
	for i := 0; i < n; i++ {
		var available, complete vk.Semaphore
		if res := vk.CreateSemaphore(ctx.Device.LogicalDevice, &semaphoreCreateInfo, ctx.Allocator, &available); res != vk.Success {
			return resultError("vkCreateSemaphore", res)
		}
		ctx.ImageAvailableSemaphores = append(ctx.ImageAvailableSemaphores, available)
		if res := vk.CreateSemaphore(ctx.Device.LogicalDevice, &semaphoreCreateInfo, ctx.Allocator, &complete); res != vk.Success {
			return resultError("vkCreateSemaphore", res)
		}
		ctx.QueueCompleteSemaphores = append(ctx.QueueCompleteSemaphores, complete)
		// Signaled, so the first wait on a slot does not block.
		fence, err := NewFence(ctx, true)
		if err != nil {
			return err
		}
		ctx.InFlightFences = append(ctx.InFlightFences, fence)

		arena, err := newUniformArena(b, b.cfg.UniformArenaSize, alignment)
		if err != nil {
			return err
		}
		pool, err := NewDescriptorPool(ctx, b.setLayout, b.cfg.MaxDrawsPerFrame)
		if err != nil {
			arena.destroy()
			return err
		}
		b.frames = append(b.frames, &frameResources{uniforms: arena, descriptors: pool})
	}
	return nil
}

func (b *Backend) Type() metadata.BackendType {
	return metadata.BackendVulkan
}

func (b *Backend) Factory() renderer.ResourceFactory {
	return b.factory
}

func (b *Backend) DefaultFramebuffer() renderer.Framebuffer {
	return b.defaultFB
}

func (b *Backend) Capabilities() metadata.RenderCapabilities {
	return metadata.RenderCapabilities{
		SupportsGeometryShaders: b.context.Device.Features.GeometryShader == vk.True,
		SupportsInstancing:      true,
		TopLeftUV:               [2]float32{0, 0},
		BottomRightUV:           [2]float32{1, 1},
	}
}

// Context exposes the native objects, mostly for diagnostics.
func (b *Backend) Context() *VulkanContext {
	return b.context
}

// immediate records commands into a single use buffer, submits them and
// waits for the queue to drain.
func (b *Backend) immediate(record func(cmd *VulkanCommandBuffer) error) error {
	ctx := b.context
	pool := ctx.Device.TransientCommandPool
	return b.locks.SafeCall(CommandPoolManagement, func() error {
		cmd, err := AllocateAndBeginSingleUse(ctx, pool)
		if err != nil {
			return err
		}
		if err := record(cmd); err != nil {
			cmd.Free(ctx, pool)
			return err
		}
		return b.locks.SafeQueueCall(uint32(ctx.Device.GraphicsQueueIndex), func() error {
			return cmd.EndSingleUse(ctx, pool, ctx.Device.GraphicsQueue)
		})
	})
}

// deferRelease runs release once every frame that may reference the object
// has finished on the device.
func (b *Backend) deferRelease(release func()) {
	if b.disposed {
		release()
		return
	}
	b.graveyard.Enqueue(releaseEntry{frame: b.frameNumber, release: release})
}

func (b *Backend) collectGarbage() {
	// entries are queued in frame order
	for {
		e, ok := b.graveyard.Peek()
		if !ok || e.frame > b.completedFrame {
			return
		}
		b.graveyard.Dequeue()
		e.release()
	}
}

// releaseTarget forgets a framebuffer that is being destroyed.
func (b *Backend) releaseTarget(f *framebuffer) {
	if b.activeTarget == f {
		b.endPass()
	}
	if b.framebuffer == f {
		b.framebuffer = b.defaultFB
	}
	handle := f.clearPass.Handle
	var stale []*VulkanPipeline
	b.pipelines.evict(func(k pipelineKey) bool {
		return k.renderpass == handle
	}, func(p *VulkanPipeline) {
		stale = append(stale, p)
	})
	b.deferRelease(func() {
		for _, p := range stale {
			p.Destroy(b.context)
		}
	})
}

func (b *Backend) commandBuffer() *VulkanCommandBuffer {
	return b.context.GraphicsCommandBuffers[b.context.ImageIndex]
}

// beginFrame waits for the frame slot, acquires the next image and starts
// recording. It returns core.ErrSwapchainBooting when the frame has to be skipped.
func (b *Backend) beginFrame() error {
	if b.frameActive {
		return nil
	}
	ctx := b.context
	if ctx.FramebufferSizeGeneration != ctx.FramebufferSizeLastGeneration {
		if err := b.recreateSwapchain(); err != nil {
			return err
		}
	}

	slot := ctx.CurrentFrame
	fence := ctx.InFlightFences[slot]
	if err := fence.FenceWait(ctx, math.MaxUint64); err != nil {
		return err
	}
	b.completedFrame = max(b.completedFrame, b.slotFrame[slot])
	b.collectGarbage()

	imageIndex, err := ctx.Swapchain.SwapchainAcquireNextImageIndex(ctx, math.MaxUint64, ctx.ImageAvailableSemaphores[slot], nil)
	if errors.Is(err, core.ErrSwapchainBooting) {
		ctx.FramebufferSizeGeneration++
		return err
	}
	if err != nil {
		return err
	}
	ctx.ImageIndex = imageIndex
	// A previous frame may still be rendering into this image.
	if inFlight := ctx.ImagesInFlight[imageIndex]; inFlight != nil && inFlight != fence {
		if err := inFlight.FenceWait(ctx, math.MaxUint64); err != nil {
			return err
		}
	}
	ctx.ImagesInFlight[imageIndex] = fence

	frame := b.frames[slot]
	frame.uniforms.reset()
	if err := frame.descriptors.Reset(ctx); err != nil {
		return err
	}

	cmd := b.commandBuffer()
	if err := cmd.Reset(); err != nil {
		return err
	}
	if err := cmd.Begin(false, false, false); err != nil {
		return err
	}
	b.frameNumber++
	b.slotFrame[slot] = b.frameNumber
	b.frameActive = true
	b.defaultRendered = false
	return nil
}

// ensurePass opens the pass of the bound framebuffer. A pending clear or the
// first use of the window in a frame starts from the clearing variant, every
// other pass keeps what the target holds.
func (b *Backend) ensurePass() error {
	if err := b.beginFrame(); err != nil {
		return err
	}
	target := b.framebuffer
	if b.activeTarget == target {
		return nil
	}
	b.endPass()

	pass := target.loadPass
	switch {
	case target.pendingClear != nil:
		pass = target.clearPass
		pass.SetClearColor(*target.pendingClear)
	case target.isDefault && !b.defaultRendered:
		pass = target.clearPass
		pass.SetClearColor(b.cfg.ClearColor)
	}
	target.pendingClear = nil
	if target.isDefault {
		b.defaultRendered = true
	}

	cmd := b.commandBuffer()
	pass.RenderpassBegin(cmd, target.target().Handle)
	b.activeTarget = target
	b.activePass = pass
	b.boundPipeline = nil
	b.applyViewport()
	b.applyScissor()
	return nil
}

func (b *Backend) endPass() {
	if b.activePass == nil {
		return
	}
	b.activePass.RenderpassEnd(b.commandBuffer())
	b.activeTarget = nil
	b.activePass = nil
	b.boundPipeline = nil
}

// applyViewport flips the viewport so clip space keeps y pointing up.
func (b *Backend) applyViewport() {
	if b.activeTarget == nil {
		return
	}
	vp := b.viewport
	viewport := vk.Viewport{
		X:        float32(vp.X),
		Y:        float32(b.activeTarget.height - vp.Y),
		Width:    float32(vp.Width),
		Height:   -float32(vp.Height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}
	vk.CmdSetViewport(b.commandBuffer().Handle, 0, 1, []vk.Viewport{viewport})
}

func (b *Backend) applyScissor() {
	if b.activeTarget == nil {
		return
	}
	vk.CmdSetScissor(b.commandBuffer().Handle, 0, 1, []vk.Rect2D{scissorRect(b.scissor, b.activeTarget.width, b.activeTarget.height)})
}

// scissorRect clips a top left origin rectangle to the target. Without a
// rectangle the whole target is drawable.
func scissorRect(rect *metadata.Rectangle, width, height int) vk.Rect2D {
	if rect == nil {
		return vk.Rect2D{Extent: vk.Extent2D{Width: uint32(width), Height: uint32(height)}}
	}
	x0, y0 := max(rect.X, 0), max(rect.Y, 0)
	x1, y1 := min(rect.X+rect.Width, width), min(rect.Y+rect.Height, height)
	if x1 <= x0 || y1 <= y0 {
		return vk.Rect2D{Offset: vk.Offset2D{X: int32(x0), Y: int32(y0)}}
	}
	return vk.Rect2D{
		Offset: vk.Offset2D{X: int32(x0), Y: int32(y0)},
		Extent: vk.Extent2D{Width: uint32(x1 - x0), Height: uint32(y1 - y0)},
	}
}

// endFrame submits the recorded commands and presents the image.
func (b *Backend) endFrame() error {
	ctx := b.context
	b.endPass()
	b.frameActive = false
	cmd := b.commandBuffer()
	if err := cmd.End(); err != nil {
		return err
	}
	slot := ctx.CurrentFrame
	fence := ctx.InFlightFences[slot]
	if err := fence.FenceReset(ctx); err != nil {
		return err
	}
	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{ctx.ImageAvailableSemaphores[slot]},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cmd.Handle},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{ctx.QueueCompleteSemaphores[slot]},
	}
	if err := b.locks.SafeQueueCall(uint32(ctx.Device.GraphicsQueueIndex), func() error {
		if res := vk.QueueSubmit(ctx.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle); res != vk.Success {
			return resultError("vkQueueSubmit", res)
		}
		return nil
	}); err != nil {
		return err
	}
	cmd.UpdateSubmitted()

	err := b.locks.SafeQueueCall(uint32(ctx.Device.PresentQueueIndex), func() error {
		return ctx.Swapchain.SwapchainPresent(ctx, ctx.Device.PresentQueue, ctx.QueueCompleteSemaphores[slot], ctx.ImageIndex)
	})
	if errors.Is(err, core.ErrSwapchainBooting) {
		ctx.FramebufferSizeGeneration++
		return nil
	}
	return err
}

// recreateSwapchain rebuilds the swapchain and everything sized after it.
func (b *Backend) recreateSwapchain() error {
	ctx := b.context
	if ctx.RecreatingSwapchain {
		return core.ErrSwapchainBooting
	}
	if b.pendingWidth == 0 || b.pendingHeight == 0 {
		core.LogDebug("window has a zero dimension, skipping the frame")
		return core.ErrSwapchainBooting
	}
	ctx.RecreatingSwapchain = true
	defer func() {
		ctx.RecreatingSwapchain = false
	}()

	if res := vk.DeviceWaitIdle(ctx.Device.LogicalDevice); !VulkanResultIsSuccess(res) {
		return resultError("vkDeviceWaitIdle", res)
	}
	b.completedFrame = b.frameNumber
	b.collectGarbage()

	if err := DeviceQuerySwapchainSupport(ctx.Device.PhysicalDevice, ctx.Surface, &ctx.Device.SwapchainSupport); err != nil {
		return err
	}
	DeviceDetectDepthFormat(ctx.Device)

	oldFormat := ctx.Swapchain.ImageFormat.Format
	b.defaultFB.destroyTargets()
	sc, err := ctx.Swapchain.SwapchainRecreate(ctx, b.pendingWidth, b.pendingHeight, b.cfg.VSync)
	if err != nil {
		return err
	}
	ctx.Swapchain = sc
	ctx.FramebufferWidth, ctx.FramebufferHeight = sc.Extent.Width, sc.Extent.Height
	ctx.FramebufferSizeLastGeneration = ctx.FramebufferSizeGeneration

	fb := b.defaultFB
	if sc.ImageFormat.Format != oldFormat {
		handle := fb.clearPass.Handle
		b.pipelines.evict(func(k pipelineKey) bool {
			return k.renderpass == handle
		}, func(p *VulkanPipeline) {
			p.Destroy(ctx)
		})
		fb.destroyPasses()
		if err := fb.createPasses(b.defaultPassSpec()); err != nil {
			return err
		}
	}
	fb.resize(int(ctx.FramebufferWidth), int(ctx.FramebufferHeight))
	if err := b.createSwapchainTargets(); err != nil {
		return err
	}
	if err := b.createCommandBuffers(); err != nil {
		return err
	}
	core.LogInfo("swapchain recreated at %dx%d", ctx.FramebufferWidth, ctx.FramebufferHeight)
	return nil
}

// skipBooting drops work issued while the swapchain cannot be rendered to.
func skipBooting(err error) error {
	if errors.Is(err, core.ErrSwapchainBooting) {
		return nil
	}
	return err
}

// PlatformClearBuffer clears inside the open pass, or opens the pass of fb
// with the clearing variant.
func (b *Backend) PlatformClearBuffer(fb renderer.Framebuffer, color metadata.RgbaFloat) error {
	f, ok := fb.(*framebuffer)
	if !ok {
		return core.NewPreconditionError("PlatformClearBuffer", "framebuffer of another backend")
	}
	if b.activeTarget == f {
		b.clearAttachments(f, color)
		return nil
	}
	f.pendingClear = &color
	if f != b.framebuffer {
		return nil
	}
	return skipBooting(b.ensurePass())
}

func (b *Backend) clearAttachments(f *framebuffer, color metadata.RgbaFloat) {
	n := len(f.clearPass.spec.colorFormats)
	attachments := make([]vk.ClearAttachment, 0, n+1)
	for i := 0; i < n; i++ {
		a := vk.ClearAttachment{
			AspectMask:      vk.ImageAspectFlags(vk.ImageAspectColorBit),
			ColorAttachment: uint32(i),
		}
		a.ClearValue.SetColor([]float32{color.R, color.G, color.B, color.A})
		attachments = append(attachments, a)
	}
	if f.clearPass.spec.hasDepth {
		a := vk.ClearAttachment{AspectMask: vk.ImageAspectFlags(vk.ImageAspectDepthBit)}
		a.ClearValue.SetDepthStencil(1.0, 0)
		attachments = append(attachments, a)
	}
	rect := vk.ClearRect{
		Rect:       vk.Rect2D{Extent: vk.Extent2D{Width: uint32(f.width), Height: uint32(f.height)}},
		LayerCount: 1,
	}
	vk.CmdClearAttachments(b.commandBuffer().Handle, uint32(len(attachments)), attachments, 1, []vk.ClearRect{rect})
}

// PlatformSwapBuffers submits the frame and presents it. A frame that never
// touched the window still presents a cleared image.
func (b *Backend) PlatformSwapBuffers() error {
	if !b.window.Exists() {
		return nil
	}
	if !b.frameActive || !b.defaultRendered {
		bound := b.framebuffer
		b.framebuffer = b.defaultFB
		err := b.ensurePass()
		b.framebuffer = bound
		if err != nil {
			return skipBooting(err)
		}
	}
	return b.endFrame()
}

// PlatformResize schedules a swapchain rebuild before the next frame.
func (b *Backend) PlatformResize(width, height int) error {
	if width <= 0 || height <= 0 {
		return core.NewPreconditionError("PlatformResize", "invalid size %dx%d", width, height)
	}
	b.pendingWidth, b.pendingHeight = uint32(width), uint32(height)
	b.context.FramebufferSizeGeneration++
	if !b.frameActive {
		// report the new size right away, the swapchain follows before the next pass
		b.defaultFB.resize(width, height)
	}
	core.LogDebug("vulkan backend resize to %dx%d, generation %d", width, height, b.context.FramebufferSizeGeneration)
	return nil
}

func (b *Backend) PlatformSetViewport(viewport metadata.Viewport) error {
	b.viewport = viewport
	b.applyViewport()
	return nil
}

func (b *Backend) PlatformSetPrimitiveTopology(topology metadata.PrimitiveTopology) error {
	b.topology = topology
	return nil
}

func (b *Backend) PlatformSetScissorRectangle(rect metadata.Rectangle) error {
	b.scissor = &rect
	b.applyScissor()
	return nil
}

func (b *Backend) PlatformClearScissorRectangle() error {
	b.scissor = nil
	b.applyScissor()
	return nil
}

// PlatformSetVertexBuffer has nothing to do natively, buffers are bound per
// draw from the vertex layout.
func (b *Backend) PlatformSetVertexBuffer(slot int, vb *renderer.VertexBuffer) error {
	return nil
}

func (b *Backend) PlatformSetIndexBuffer(ib *renderer.IndexBuffer) error {
	b.indexBuffer = ib
	return nil
}

func (b *Backend) PlatformSetShaderSet(ss renderer.ShaderSet) error {
	if ss == nil {
		b.shaderSet = nil
		return nil
	}
	s, ok := ss.(*shaderSet)
	if !ok {
		return core.NewPreconditionError("PlatformSetShaderSet", "shader set of another backend")
	}
	b.shaderSet = s
	return nil
}

func (b *Backend) PlatformSetTexture(slot int, binding renderer.TextureBinding) error {
	if slot < 0 || slot >= b.cfg.MaxTextures {
		return core.NewPreconditionError("PlatformSetTexture", "texture slot %d out of range [0, %d)", slot, b.cfg.MaxTextures)
	}
	if binding == nil {
		delete(b.textures, slot)
		return nil
	}
	tb, ok := binding.(*textureBinding)
	if !ok {
		return core.NewPreconditionError("PlatformSetTexture", "texture binding of another backend")
	}
	b.textures[slot] = tb
	return nil
}

func (b *Backend) PlatformSetConstantBuffer(slot int, cb *renderer.ConstantBuffer) error {
	if slot < 0 || slot >= b.cfg.MaxConstantBuffers {
		return core.NewPreconditionError("PlatformSetConstantBuffer", "constant buffer slot %d out of range [0, %d)", slot, b.cfg.MaxConstantBuffers)
	}
	if cb == nil {
		delete(b.uniformBuffers, slot)
		return nil
	}
	b.uniformBuffers[slot] = cb
	return nil
}

// PlatformSetFramebuffer only records the target, its pass opens with the
// next command that needs one.
func (b *Backend) PlatformSetFramebuffer(fb renderer.Framebuffer, depth metadata.DepthStencilStateDescription) error {
	f, ok := fb.(*framebuffer)
	if !ok {
		return core.NewPreconditionError("PlatformSetFramebuffer", "framebuffer of another backend")
	}
	b.framebuffer = f
	b.depth = depth
	return nil
}

func (b *Backend) PlatformSetBlendState(state renderer.BlendState) error {
	b.blend = state.Description()
	return nil
}

func (b *Backend) PlatformSetDepthStencilState(effective metadata.DepthStencilStateDescription) error {
	b.depth = effective
	return nil
}

func (b *Backend) PlatformSetRasterizerState(state renderer.RasterizerState) error {
	b.raster = state.Description()
	return nil
}

func (b *Backend) PlatformBindVertexLayout(binding renderer.VertexLayoutBinding) error {
	b.layout = binding
	b.hasLayout = true
	return nil
}

func (b *Backend) PlatformDrawIndexed(indexCount, startIndex, baseVertex int) error {
	return b.PlatformDrawInstanced(indexCount, 1, startIndex, baseVertex)
}

// PlatformDrawInstanced binds everything the draw reads and records it. The
// base vertex is already part of the vertex buffer offsets.
func (b *Backend) PlatformDrawInstanced(indexCount, instanceCount, startIndex, baseVertex int) error {
	if b.indexBuffer == nil {
		return core.NewPreconditionError("PlatformDrawInstanced", "no index buffer bound")
	}
	if b.shaderSet == nil {
		return core.NewPreconditionError("PlatformDrawInstanced", "no shader set bound")
	}
	if !b.hasLayout {
		return core.NewPreconditionError("PlatformDrawInstanced", "no vertex layout bound")
	}
	indexHandle := bufferHandle(b.indexBuffer.Store())
	if indexHandle == nil {
		return core.NewPreconditionError("PlatformDrawInstanced", "index buffer is empty")
	}
	if err := b.ensurePass(); err != nil {
		return skipBooting(err)
	}
	cmd := b.commandBuffer()

	pipeline, err := b.currentPipeline()
	if err != nil {
		return err
	}
	if pipeline != b.boundPipeline {
		pipeline.Bind(cmd)
		b.boundPipeline = pipeline
	}
	if err := b.bindDescriptors(cmd); err != nil {
		return err
	}
	if err := b.bindVertexBuffers(cmd); err != nil {
		return err
	}
	vk.CmdBindIndexBuffer(cmd.Handle, indexHandle, 0, indexType(b.indexBuffer.Format()))
	vk.CmdDrawIndexed(cmd.Handle, uint32(indexCount), uint32(instanceCount), uint32(startIndex), 0, 0)
	return nil
}

func (b *Backend) currentPipeline() (*VulkanPipeline, error) {
	target := b.activeTarget
	key := pipelineKey{
		shaderSet:  b.shaderSet.ID(),
		topology:   b.topology,
		blend:      b.blend,
		depth:      b.depth,
		raster:     b.raster,
		renderpass: target.clearPass.Handle,
	}
	ss := b.shaderSet
	return b.pipelines.get(b.context, key, func() *VulkanPipelineConfig {
		return &VulkanPipelineConfig{
			Renderpass: target.clearPass,
			Layout:     ss.pipelineLayout,
			Stages:     ss.stageInfos(),
			Inputs:     ss.layout,
			Topology:   b.topology,
			Blend:      b.blend,
			Depth:      b.depth,
			Raster:     b.raster,
			DepthClamp: b.context.Device.Features.DepthClamp == vk.True,
		}
	})
}

// bindDescriptors snapshots every bound constant buffer into the frame's
// arena and writes a fresh descriptor set for the draw.
func (b *Backend) bindDescriptors(cmd *VulkanCommandBuffer) error {
	ctx := b.context
	frame := b.frames[ctx.CurrentFrame]
	set, err := frame.descriptors.Allocate(ctx, b.setLayout)
	if err != nil {
		return err
	}
	w := descriptorWrites{set: set}
	for slot, cb := range b.uniformBuffers {
		store := cb.Store()
		if store == nil {
			continue
		}
		offset, size, err := frame.uniforms.push(store)
		if err != nil {
			return err
		}
		w.uniform(uint32(slot), frame.uniforms.store.handle, offset, size)
	}
	for slot, tb := range b.textures {
		if tb.sampler == nil || tb.tex.image == nil {
			return core.NewPreconditionError("PlatformDrawInstanced", "texture at slot %d was destroyed", slot)
		}
		w.texture(b.setLayout.TextureBinding(slot), tb.sampler, tb.tex.image.View, vk.ImageLayoutShaderReadOnlyOptimal)
	}
	w.flush(ctx)
	vk.CmdBindDescriptorSets(cmd.Handle, vk.PipelineBindPointGraphics, b.shaderSet.pipelineLayout, 0, 1, []vk.DescriptorSet{set}, 0, nil)
	return nil
}

func (b *Backend) bindVertexBuffers(cmd *VulkanCommandBuffer) error {
	n := len(b.layout.Slots)
	if n == 0 {
		return nil
	}
	buffers := make([]vk.Buffer, n)
	offsets := make([]vk.DeviceSize, n)
	for i, slot := range b.layout.Slots {
		if slot.Buffer == nil {
			return core.NewPreconditionError("PlatformDrawInstanced", "no vertex buffer at slot %d", i)
		}
		handle := bufferHandle(slot.Buffer.Store())
		if handle == nil {
			return core.NewPreconditionError("PlatformDrawInstanced", "vertex buffer at slot %d is empty", i)
		}
		buffers[i] = handle
		offsets[i] = vk.DeviceSize(slot.ByteOffset)
	}
	vk.CmdBindVertexBuffers(cmd.Handle, 0, uint32(n), buffers, offsets)
	return nil
}

// PlatformDispose waits for the device and releases everything in reverse
// creation order. It is safe to call more than once.
func (b *Backend) PlatformDispose() error {
	if b.disposed {
		return nil
	}
	ctx := b.context
	device := ctx.Device.LogicalDevice
	if device != nil {
		vk.DeviceWaitIdle(device)
		b.completedFrame = b.frameNumber
		b.collectGarbage()
		b.pipelines.evict(func(pipelineKey) bool { return true }, func(p *VulkanPipeline) {
			p.Destroy(ctx)
		})
		for _, f := range b.frames {
			f.descriptors.Destroy(ctx)
			f.uniforms.destroy()
		}
		b.frames = nil
		if b.setLayout != nil {
			b.setLayout.Destroy(ctx)
		}
		if b.defaultFB != nil {
			b.defaultFB.destroyTargets()
			b.defaultFB.destroyPasses()
		}
		for i := range ctx.InFlightFences {
			vk.DestroySemaphore(device, ctx.ImageAvailableSemaphores[i], ctx.Allocator)
			vk.DestroySemaphore(device, ctx.QueueCompleteSemaphores[i], ctx.Allocator)
			ctx.InFlightFences[i].FenceDestroy(ctx)
		}
		ctx.ImageAvailableSemaphores = nil
		ctx.QueueCompleteSemaphores = nil
		ctx.InFlightFences = nil
		ctx.ImagesInFlight = nil
		for _, cb := range ctx.GraphicsCommandBuffers {
			cb.Free(ctx, ctx.Device.GraphicsCommandPool)
		}
		ctx.GraphicsCommandBuffers = nil
		if ctx.Swapchain != nil {
			ctx.Swapchain.SwapchainDestroy(ctx)
			ctx.Swapchain = nil
		}
		core.LogDebug("Destroying Vulkan device...")
		DeviceDestroy(ctx)
	}
	b.disposed = true

	if ctx.Surface != vk.NullSurface {
		vk.DestroySurface(ctx.Instance, ctx.Surface, ctx.Allocator)
		ctx.Surface = vk.NullSurface
	}
	if ctx.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugMessenger, ctx.Allocator)
		ctx.debugMessenger = vk.NullDebugReportCallback
	}
	if ctx.Instance != nil {
		vk.DestroyInstance(ctx.Instance, ctx.Allocator)
		ctx.Instance = nil
	}
	core.LogInfo("vulkan backend disposed after %d frames", b.frameNumber)
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("performance: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
