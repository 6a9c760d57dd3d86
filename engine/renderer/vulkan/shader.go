package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

const shaderEntryPoint = "main"

type shaderStage struct {
	stage  metadata.ShaderStage
	module vk.ShaderModule
}

func shaderStageFlag(stage metadata.ShaderStage) vk.ShaderStageFlagBits {
	switch stage {
	case metadata.ShaderStageGeometry:
		return vk.ShaderStageGeometryBit
	case metadata.ShaderStageFragment:
		return vk.ShaderStageFragmentBit
	}
	return vk.ShaderStageVertexBit
}

// createShaderModule wraps one SPIR-V binary. Malformed input is reported as
// a compilation failure of that stage.
func createShaderModule(context *VulkanContext, stage metadata.ShaderStage, source string) (vk.ShaderModule, error) {
	words, err := spirvWords([]byte(source))
	if err != nil {
		return nil, &core.ShaderCompilationError{Stage: stage.String(), Log: err.Error()}
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(source)),
		PCode:    words,
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &module); res != vk.Success {
		return nil, &core.ShaderCompilationError{Stage: stage.String(), Log: VulkanResultString(res, true)}
	}
	return module, nil
}

type stageSource struct {
	stage  metadata.ShaderStage
	source string
}

type shaderSet struct {
	renderer.ResourceBase
	b              *Backend
	name           string
	stages         []shaderStage
	pipelineLayout vk.PipelineLayout
	layout         *renderer.VertexInputLayout
	geom           bool
}

func newShaderSet(b *Backend, desc renderer.ShaderSetDescription) (*shaderSet, error) {
	ctx := b.context
	sources := []stageSource{{metadata.ShaderStageVertex, desc.VertexSource}}
	if desc.HasGeometryStage() {
		if !b.Capabilities().SupportsGeometryShaders {
			return nil, &core.ShaderCompilationError{Stage: metadata.ShaderStageGeometry.String(), Log: "geometry shaders are not supported by the device"}
		}
		sources = append(sources, stageSource{metadata.ShaderStageGeometry, desc.GeometrySource})
	}
	sources = append(sources, stageSource{metadata.ShaderStageFragment, desc.FragmentSource})

	s := &shaderSet{
		ResourceBase: renderer.NewResourceBase(metadata.BackendVulkan),
		b:            b,
		name:         desc.Name,
		geom:         desc.HasGeometryStage(),
	}
	for _, src := range sources {
		module, err := createShaderModule(ctx, src.stage, src.source)
		if err != nil {
			s.destroyModules()
			return nil, err
		}
		s.stages = append(s.stages, shaderStage{stage: src.stage, module: module})
	}

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{b.setLayout.Handle},
	}
	if res := vk.CreatePipelineLayout(ctx.Device.LogicalDevice, &layoutInfo, ctx.Allocator, &s.pipelineLayout); res != vk.Success {
		s.destroyModules()
		return nil, &core.ShaderLinkError{Log: VulkanResultString(res, true)}
	}

	key := core.ContentIdentifier(desc.VertexSource, desc.GeometrySource, desc.FragmentSource).String()
	s.layout = b.factory.layouts.Acquire(key, desc.VertexInputs)
	core.LogDebug("shader set `%s` created with %d stages", desc.Name, len(s.stages))
	return s, nil
}

// stageInfos describes the stages for pipeline creation.
func (s *shaderSet) stageInfos() []vk.PipelineShaderStageCreateInfo {
	infos := make([]vk.PipelineShaderStageCreateInfo, len(s.stages))
	for i, st := range s.stages {
		infos[i] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  shaderStageFlag(st.stage),
			Module: st.module,
			PName:  VulkanSafeString(shaderEntryPoint),
		}
	}
	return infos
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

func (s *shaderSet) destroyModules() {
	ctx := s.b.context
	for _, st := range s.stages {
		vk.DestroyShaderModule(ctx.Device.LogicalDevice, st.module, ctx.Allocator)
	}
	s.stages = nil
}

// Destroy drops the pipelines baked from this set once no frame in flight
// can still use them.
func (s *shaderSet) Destroy() error {
	if s.stages == nil && s.pipelineLayout == nil {
		return nil
	}
	id := s.ID()
	var pipelines []*VulkanPipeline
	s.b.pipelines.evict(func(k pipelineKey) bool {
		return k.shaderSet == id
	}, func(p *VulkanPipeline) {
		pipelines = append(pipelines, p)
	})
	stages, layout := s.stages, s.pipelineLayout
	s.stages, s.pipelineLayout = nil, nil
	s.b.factory.layouts.Release(s.layout)
	s.b.deferRelease(func() {
		ctx := s.b.context
		for _, p := range pipelines {
			p.Destroy(ctx)
		}
		vk.DestroyPipelineLayout(ctx.Device.LogicalDevice, layout, ctx.Allocator)
		for _, st := range stages {
			vk.DestroyShaderModule(ctx.Device.LogicalDevice, st.module, ctx.Allocator)
		}
	})
	return nil
}
