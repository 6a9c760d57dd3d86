package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type VulkanRenderPassState int

const (
	READY VulkanRenderPassState = iota
	RECORDING
	IN_RENDER_PASS
	RECORDING_ENDED
	SUBMITTED
	NOT_ALLOCATED
)

// renderpassSpec describes the attachments of a pass. Passes that differ only
// in load and layout settings are compatible and share framebuffers and pipelines.
type renderpassSpec struct {
	colorFormats []vk.Format
	depthFormat  vk.Format
	hasDepth     bool
	// layout color attachments rest in outside the pass
	colorLayout vk.ImageLayout
	// keep the previous contents instead of clearing them
	load bool
}

type VulkanRenderpass struct {
	Handle     vk.RenderPass
	X, Y, W, H float32
	R, G, B, A float32
	Depth      float32
	Stencil    uint32
	State      VulkanRenderPassState

	spec renderpassSpec
}

func RenderpassCreate(context *VulkanContext, spec renderpassSpec, w, h float32) (*VulkanRenderpass, error) {
	rp := &VulkanRenderpass{
		W:     w,
		H:     h,
		A:     1.0,
		Depth: 1.0,
		spec:  spec,
		State: NOT_ALLOCATED,
	}

	loadOp := vk.AttachmentLoadOpClear
	colorInitial := vk.ImageLayoutUndefined
	depthInitial := vk.ImageLayoutUndefined
	if spec.load {
		loadOp = vk.AttachmentLoadOpLoad
		colorInitial = spec.colorLayout
		depthInitial = vk.ImageLayoutDepthStencilAttachmentOptimal
	}

	attachments := make([]vk.AttachmentDescription, 0, len(spec.colorFormats)+1)
	colorRefs := make([]vk.AttachmentReference, 0, len(spec.colorFormats))
	for i, format := range spec.colorFormats {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         loadOp,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  colorInitial,
			FinalLayout:    spec.colorLayout,
		})
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if spec.hasDepth {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         spec.depthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         loadOp,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  depthInitial,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(attachments) - 1),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	dependencies := []vk.SubpassDependency{{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageFragmentShaderBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
	}}
	if spec.colorLayout == vk.ImageLayoutShaderReadOnlyOptimal {
		// Later passes sample what this one wrote.
		dependencies = append(dependencies, vk.SubpassDependency{
			SrcSubpass:    0,
			DstSubpass:    vk.SubpassExternal,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			SrcAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
		})
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}
	if res := vk.CreateRenderPass(context.Device.LogicalDevice, &createInfo, context.Allocator, &rp.Handle); res != vk.Success {
		return nil, resultError("vkCreateRenderPass", res)
	}
	rp.State = READY
	return rp, nil
}

func (vr *VulkanRenderpass) RenderpassDestroy(context *VulkanContext) {
	if vr.Handle != nil {
		vk.DestroyRenderPass(context.Device.LogicalDevice, vr.Handle, context.Allocator)
		vr.Handle = nil
	}
	vr.State = NOT_ALLOCATED
}

func (vr *VulkanRenderpass) SetClearColor(c metadata.RgbaFloat) {
	vr.R, vr.G, vr.B, vr.A = c.R, c.G, c.B, c.A
}

func (vr *VulkanRenderpass) attachmentCount() int {
	n := len(vr.spec.colorFormats)
	if vr.spec.hasDepth {
		n++
	}
	return n
}

func (vr *VulkanRenderpass) RenderpassBegin(commandBuffer *VulkanCommandBuffer, frameBuffer vk.Framebuffer) {
	clearValues := make([]vk.ClearValue, vr.attachmentCount())
	for i := range vr.spec.colorFormats {
		clearValues[i].SetColor([]float32{vr.R, vr.G, vr.B, vr.A})
	}
	if vr.spec.hasDepth {
		clearValues[len(clearValues)-1].SetDepthStencil(vr.Depth, vr.Stencil)
	}

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vr.Handle,
		Framebuffer: frameBuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: int32(vr.X), Y: int32(vr.Y)},
			Extent: vk.Extent2D{Width: uint32(vr.W), Height: uint32(vr.H)},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(commandBuffer.Handle, &beginInfo, vk.SubpassContentsInline)
	commandBuffer.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
	vr.State = IN_RENDER_PASS
}

func (vr *VulkanRenderpass) RenderpassEnd(commandBuffer *VulkanCommandBuffer) {
	vk.CmdEndRenderPass(commandBuffer.Handle)
	commandBuffer.State = COMMAND_BUFFER_STATE_RECORDING
	vr.State = RECORDING_ENDED
}
