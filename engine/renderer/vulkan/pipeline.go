package vulkan

import (
	"fmt"

	"github.com/google/uuid"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// VulkanPipeline is one baked combination of shaders and fixed function state.
type VulkanPipeline struct {
	Handle vk.Pipeline
}

// VulkanPipelineConfig is everything a graphics pipeline is baked from.
type VulkanPipelineConfig struct {
	Renderpass *VulkanRenderpass
	Layout     vk.PipelineLayout
	Stages     []vk.PipelineShaderStageCreateInfo
	Inputs     *renderer.VertexInputLayout
	Topology   metadata.PrimitiveTopology
	Blend      metadata.BlendStateDescription
	Depth      metadata.DepthStencilStateDescription
	Raster     metadata.RasterizerStateDescription
	// DepthClamp is set when the device can clamp instead of clip.
	DepthClamp bool
}

// pipelineKey identifies a pipeline in the cache. Compatible render passes
// have distinct handles, so a framebuffer uses the key of its clear pass.
type pipelineKey struct {
	shaderSet  uuid.UUID
	topology   metadata.PrimitiveTopology
	blend      metadata.BlendStateDescription
	depth      metadata.DepthStencilStateDescription
	raster     metadata.RasterizerStateDescription
	renderpass vk.RenderPass
}

func NewGraphicsPipeline(context *VulkanContext, config *VulkanPipelineConfig) (*VulkanPipeline, error) {
	// Viewport and scissor are dynamic, only the counts matter here.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             polygonMode(config.Raster.FillMode),
		CullMode:                cullMode(config.Raster.CullMode),
		FrontFace:               frontFace(config.Raster.FrontFaceClockwise),
		LineWidth:               1.0,
		DepthBiasEnable:         vk.False,
	}
	if !config.Raster.DepthClipEnabled && config.DepthClamp {
		rasterizerCreateInfo.DepthClampEnable = vk.True
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vkBool(config.Depth.DepthTestEnabled),
		DepthWriteEnable:  vkBool(config.Depth.DepthWriteEnabled),
		DepthCompareOp:    compareOp(config.Depth.Comparison),
		StencilTestEnable: vk.False,
		MaxDepthBounds:    1.0,
	}

	blend := config.Blend
	attachments := make([]vk.PipelineColorBlendAttachmentState, len(config.Renderpass.spec.colorFormats))
	for i := range attachments {
		attachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vkBool(blend.Enabled),
			SrcColorBlendFactor: blendFactor(blend.SourceColor),
			DstColorBlendFactor: blendFactor(blend.DestinationColor),
			ColorBlendOp:        blendOp(blend.ColorFunction),
			SrcAlphaBlendFactor: blendFactor(blend.SourceAlpha),
			DstAlphaBlendFactor: blendFactor(blend.DestinationAlpha),
			AlphaBlendOp:        blendOp(blend.AlphaFunction),
			ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
				vk.ColorComponentBBit | vk.ColorComponentABit),
		}
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		BlendConstants:  [4]float32{blend.BlendFactor.R, blend.BlendFactor.G, blend.BlendFactor.B, blend.BlendFactor.A},
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	bindings, attributes := vertexInputDescriptions(config.Inputs)
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               primitiveTopology(config.Topology),
		PrimitiveRestartEnable: vk.False,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(config.Stages)),
		PStages:             config.Stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              config.Layout,
		RenderPass:          config.Renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	result := vk.CreateGraphicsPipelines(context.Device.LogicalDevice, vk.NullPipelineCache, 1,
		[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, context.Allocator, pipelines)
	if !VulkanResultIsSuccess(result) {
		return nil, resultError("vkCreateGraphicsPipelines", result)
	}
	if pipelines[0] == nil {
		return nil, fmt.Errorf("vkCreateGraphicsPipelines returned no pipeline")
	}
	return &VulkanPipeline{Handle: pipelines[0]}, nil
}

func (p *VulkanPipeline) Destroy(context *VulkanContext) {
	if p.Handle != nil {
		vk.DestroyPipeline(context.Device.LogicalDevice, p.Handle, context.Allocator)
		p.Handle = nil
	}
}

func (p *VulkanPipeline) Bind(commandBuffer *VulkanCommandBuffer) {
	vk.CmdBindPipeline(commandBuffer.Handle, vk.PipelineBindPointGraphics, p.Handle)
}

// vertexInputDescriptions has one binding per slot of the layout and one
// attribute per element, at the location the layout assigned.
func vertexInputDescriptions(layout *renderer.VertexInputLayout) ([]vk.VertexInputBindingDescription, []vk.VertexInputAttributeDescription) {
	if layout == nil {
		return nil, nil
	}
	inputs := layout.Inputs().Inputs
	bindings := make([]vk.VertexInputBindingDescription, 0, len(inputs))
	for slot, in := range inputs {
		rate := vk.VertexInputRateVertex
		if in.PerInstance() {
			rate = vk.VertexInputRateInstance
		}
		bindings = append(bindings, vk.VertexInputBindingDescription{
			Binding:   uint32(slot),
			Stride:    uint32(in.Stride()),
			InputRate: rate,
		})
	}
	attributes := make([]vk.VertexInputAttributeDescription, 0, len(layout.Attributes()))
	for _, a := range layout.Attributes() {
		if a.Divisor > 1 {
			core.LogWarn("attribute `%s` steps every %d instances, stepping every instance instead", a.Name, a.Divisor)
		}
		attributes = append(attributes, vk.VertexInputAttributeDescription{
			Location: uint32(a.Location),
			Binding:  uint32(a.Slot),
			Format:   vertexFormat(a.Format),
			Offset:   uint32(a.Offset),
		})
	}
	return bindings, attributes
}

// pipelineCache bakes pipelines on first use and keeps them until the shader
// set or render pass they were built for goes away.
type pipelineCache struct {
	locks     *VulkanLockPool
	pipelines map[pipelineKey]*VulkanPipeline
}

func newPipelineCache(locks *VulkanLockPool) *pipelineCache {
	return &pipelineCache{locks: locks, pipelines: make(map[pipelineKey]*VulkanPipeline)}
}

func (c *pipelineCache) get(context *VulkanContext, key pipelineKey, build func() *VulkanPipelineConfig) (*VulkanPipeline, error) {
	var out *VulkanPipeline
	err := c.locks.SafeCall(PipelineManagement, func() error {
		if p, ok := c.pipelines[key]; ok {
			out = p
			return nil
		}
		p, err := NewGraphicsPipeline(context, build())
		if err != nil {
			return err
		}
		c.pipelines[key] = p
		out = p
		core.LogDebug("pipeline baked (%d cached)", len(c.pipelines))
		return nil
	})
	return out, err
}

// evict removes every pipeline matching the predicate and hands it to release.
func (c *pipelineCache) evict(match func(pipelineKey) bool, release func(*VulkanPipeline)) {
	_ = c.locks.SafeCall(PipelineManagement, func() error {
		for key, p := range c.pipelines {
			if match(key) {
				release(p)
				delete(c.pipelines, key)
			}
		}
		return nil
	})
}

func (c *pipelineCache) len() int {
	n := 0
	_ = c.locks.SafeCall(PipelineManagement, func() error {
		n = len(c.pipelines)
		return nil
	})
	return n
}

func vkBool(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

func blendFactor(b metadata.Blend) vk.BlendFactor {
	switch b {
	case metadata.BlendZero:
		return vk.BlendFactorZero
	case metadata.BlendOne:
		return vk.BlendFactorOne
	case metadata.BlendSourceAlpha:
		return vk.BlendFactorSrcAlpha
	case metadata.BlendInverseSourceAlpha:
		return vk.BlendFactorOneMinusSrcAlpha
	case metadata.BlendDestinationAlpha:
		return vk.BlendFactorDstAlpha
	case metadata.BlendInverseDestinationAlpha:
		return vk.BlendFactorOneMinusDstAlpha
	case metadata.BlendSourceColor:
		return vk.BlendFactorSrcColor
	case metadata.BlendInverseSourceColor:
		return vk.BlendFactorOneMinusSrcColor
	case metadata.BlendDestinationColor:
		return vk.BlendFactorDstColor
	case metadata.BlendInverseDestinationColor:
		return vk.BlendFactorOneMinusDstColor
	case metadata.BlendFactor:
		return vk.BlendFactorConstantColor
	case metadata.BlendInverseBlendFactor:
		return vk.BlendFactorOneMinusConstantColor
	}
	return vk.BlendFactorOne
}

func blendOp(f metadata.BlendFunction) vk.BlendOp {
	switch f {
	case metadata.BlendFunctionSubtract:
		return vk.BlendOpSubtract
	case metadata.BlendFunctionReverseSubtract:
		return vk.BlendOpReverseSubtract
	case metadata.BlendFunctionMinimum:
		return vk.BlendOpMin
	case metadata.BlendFunctionMaximum:
		return vk.BlendOpMax
	}
	return vk.BlendOpAdd
}

func compareOp(c metadata.DepthComparison) vk.CompareOp {
	switch c {
	case metadata.DepthNever:
		return vk.CompareOpNever
	case metadata.DepthLess:
		return vk.CompareOpLess
	case metadata.DepthEqual:
		return vk.CompareOpEqual
	case metadata.DepthLessEqual:
		return vk.CompareOpLessOrEqual
	case metadata.DepthGreater:
		return vk.CompareOpGreater
	case metadata.DepthNotEqual:
		return vk.CompareOpNotEqual
	case metadata.DepthGreaterEqual:
		return vk.CompareOpGreaterOrEqual
	}
	return vk.CompareOpAlways
}

func cullMode(m metadata.FaceCullingMode) vk.CullModeFlags {
	switch m {
	case metadata.FaceCullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case metadata.FaceCullNone:
		return vk.CullModeFlags(vk.CullModeNone)
	}
	return vk.CullModeFlags(vk.CullModeBackBit)
}

// frontFace keeps the counter clockwise default meaningful under the
// flipped viewport, which turns the winding along with the image.
func frontFace(clockwise bool) vk.FrontFace {
	if clockwise {
		return vk.FrontFaceClockwise
	}
	return vk.FrontFaceCounterClockwise
}

func polygonMode(m metadata.TriangleFillMode) vk.PolygonMode {
	if m == metadata.FillWireframe {
		return vk.PolygonModeLine
	}
	return vk.PolygonModeFill
}

func primitiveTopology(t metadata.PrimitiveTopology) vk.PrimitiveTopology {
	switch t {
	case metadata.TriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case metadata.LineList:
		return vk.PrimitiveTopologyLineList
	case metadata.LineStrip:
		return vk.PrimitiveTopologyLineStrip
	case metadata.PointList:
		return vk.PrimitiveTopologyPointList
	}
	return vk.PrimitiveTopologyTriangleList
}

func vertexFormat(f metadata.VertexElementFormat) vk.Format {
	switch f {
	case metadata.VertexFloat1:
		return vk.FormatR32Sfloat
	case metadata.VertexFloat2:
		return vk.FormatR32g32Sfloat
	case metadata.VertexFloat3:
		return vk.FormatR32g32b32Sfloat
	case metadata.VertexByte4:
		return vk.FormatR8g8b8a8Unorm
	}
	return vk.FormatR32g32b32a32Sfloat
}

// pixelFormat maps a texture format. Every depth format resolves to the one
// the device supports.
func pixelFormat(f metadata.PixelFormat, depthFormat vk.Format) (vk.Format, error) {
	switch f {
	case metadata.PixelFormatR8G8B8A8UNorm:
		return vk.FormatR8g8b8a8Unorm, nil
	case metadata.PixelFormatB8G8R8A8UNorm:
		return vk.FormatB8g8r8a8Unorm, nil
	case metadata.PixelFormatR32G32B32A32Float:
		return vk.FormatR32g32b32a32Sfloat, nil
	case metadata.PixelFormatR8UNorm:
		return vk.FormatR8Unorm, nil
	case metadata.PixelFormatR16UInt:
		return vk.FormatR16Uint, nil
	case metadata.PixelFormatD24S8, metadata.PixelFormatD32Float:
		return depthFormat, nil
	}
	return vk.FormatUndefined, core.ErrUnsupportedFormat
}

func indexType(f metadata.IndexFormat) vk.IndexType {
	if f == metadata.IndexFormatUInt32 {
		return vk.IndexTypeUint32
	}
	return vk.IndexTypeUint16
}
