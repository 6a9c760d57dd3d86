package vulkan

import (
	vk "github.com/goki/vulkan"
)

type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Width  uint32
	Height uint32
	Format vk.Format
	Levels uint32
	Aspect vk.ImageAspectFlags
}

type imageSpec struct {
	width, height uint32
	format        vk.Format
	levels        uint32
	usage         vk.ImageUsageFlags
	aspect        vk.ImageAspectFlags
	memory        vk.MemoryPropertyFlags
	hasView       bool
}

// ImageCreate creates an optimally tiled 2D image with bound memory and,
// when requested, a view over all of its levels.
func ImageCreate(context *VulkanContext, spec imageSpec) (*VulkanImage, error) {
	img := &VulkanImage{
		Width:  spec.width,
		Height: spec.height,
		Format: spec.format,
		Levels: max(spec.levels, 1),
		Aspect: spec.aspect,
	}
	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    spec.format,
		Extent: vk.Extent3D{
			Width:  spec.width,
			Height: spec.height,
			Depth:  1,
		},
		MipLevels:     img.Levels,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         spec.usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	device := context.Device.LogicalDevice
	if res := vk.CreateImage(device, &createInfo, context.Allocator, &img.Handle); res != vk.Success {
		return nil, resultError("vkCreateImage", res)
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, img.Handle, &reqs)
	reqs.Deref()
	memory, err := context.allocateMemory(reqs, spec.memory)
	if err != nil {
		img.ImageDestroy(context)
		return nil, err
	}
	img.Memory = memory
	if res := vk.BindImageMemory(device, img.Handle, img.Memory, 0); res != vk.Success {
		img.ImageDestroy(context)
		return nil, resultError("vkBindImageMemory", res)
	}

	if spec.hasView {
		view, err := createImageView(context, img.Handle, spec.format, spec.aspect, img.Levels)
		if err != nil {
			img.ImageDestroy(context)
			return nil, err
		}
		img.View = view
	}
	return img, nil
}

func createImageView(context *VulkanContext, image vk.Image, format vk.Format, aspect vk.ImageAspectFlags, levels uint32) (vk.ImageView, error) {
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: levels,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &view); res != vk.Success {
		return nil, resultError("vkCreateImageView", res)
	}
	return view, nil
}

// TransitionLayout records a barrier moving every level from oldLayout to newLayout.
func (img *VulkanImage) TransitionLayout(cmd *VulkanCommandBuffer, oldLayout, newLayout vk.ImageLayout) {
	srcAccess, srcStage := layoutAccess(oldLayout)
	dstAccess, dstStage := layoutAccess(newLayout)
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: img.barrierAspect(),
			LevelCount: img.Levels,
			LayerCount: 1,
		},
	}
	vk.CmdPipelineBarrier(cmd.Handle, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

// barrierAspect adds the stencil aspect for combined formats, which barriers
// have to cover as a whole.
func (img *VulkanImage) barrierAspect() vk.ImageAspectFlags {
	if hasStencil(img.Format) {
		return img.Aspect | vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return img.Aspect
}

func hasStencil(format vk.Format) bool {
	switch format {
	case vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint, vk.FormatD16UnormS8Uint:
		return true
	}
	return false
}

// layoutAccess returns the accesses and stages that touch an image in layout.
func layoutAccess(layout vk.ImageLayout) (vk.AccessFlags, vk.PipelineStageFlags) {
	switch layout {
	case vk.ImageLayoutTransferDstOptimal:
		return vk.AccessFlags(vk.AccessTransferWriteBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case vk.ImageLayoutTransferSrcOptimal:
		return vk.AccessFlags(vk.AccessTransferReadBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case vk.ImageLayoutShaderReadOnlyOptimal:
		return vk.AccessFlags(vk.AccessShaderReadBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	case vk.ImageLayoutColorAttachmentOptimal:
		return vk.AccessFlags(vk.AccessColorAttachmentWriteBit), vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	case vk.ImageLayoutDepthStencilAttachmentOptimal:
		return vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit), vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)
	}
	return 0, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
}

// CopyFromBuffer records an upload of one tightly packed level.
func (img *VulkanImage) CopyFromBuffer(cmd *VulkanCommandBuffer, buffer vk.Buffer, level, width, height uint32) {
	vk.CmdCopyBufferToImage(cmd.Handle, buffer, img.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{
		img.levelCopy(level, width, height),
	})
}

// CopyToBuffer records a readback of one level.
func (img *VulkanImage) CopyToBuffer(cmd *VulkanCommandBuffer, buffer vk.Buffer, level, width, height uint32) {
	vk.CmdCopyImageToBuffer(cmd.Handle, img.Handle, vk.ImageLayoutTransferSrcOptimal, buffer, 1, []vk.BufferImageCopy{
		img.levelCopy(level, width, height),
	})
}

func (img *VulkanImage) levelCopy(level, width, height uint32) vk.BufferImageCopy {
	return vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: img.Aspect,
			MipLevel:   level,
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: 1},
	}
}

func (img *VulkanImage) ImageDestroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if img.View != nil {
		vk.DestroyImageView(device, img.View, context.Allocator)
		img.View = nil
	}
	if img.Memory != nil {
		vk.FreeMemory(device, img.Memory, context.Allocator)
		img.Memory = nil
	}
	if img.Handle != nil {
		vk.DestroyImage(device, img.Handle, context.Allocator)
		img.Handle = nil
	}
}
