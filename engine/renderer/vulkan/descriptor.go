package vulkan

import (
	vk "github.com/goki/vulkan"
)

// VulkanDescriptorSetLayout is shared by every shader set. Constant buffer
// slots come first, texture slots follow.
type VulkanDescriptorSetLayout struct {
	Handle   vk.DescriptorSetLayout
	Uniforms int
	Textures int
}

func NewDescriptorSetLayout(context *VulkanContext, uniforms, textures int, stages vk.ShaderStageFlags) (*VulkanDescriptorSetLayout, error) {
	l := &VulkanDescriptorSetLayout{Uniforms: uniforms, Textures: textures}
	bindings := make([]vk.DescriptorSetLayoutBinding, 0, uniforms+textures)
	for i := 0; i < uniforms; i++ {
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         uint32(i),
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      stages,
		})
	}
	for i := 0; i < textures; i++ {
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         l.TextureBinding(i),
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      stages,
		})
	}
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &createInfo, context.Allocator, &l.Handle); res != vk.Success {
		return nil, resultError("vkCreateDescriptorSetLayout", res)
	}
	return l, nil
}

// TextureBinding is the binding number of a texture slot.
func (l *VulkanDescriptorSetLayout) TextureBinding(slot int) uint32 {
	return uint32(l.Uniforms + slot)
}

func (l *VulkanDescriptorSetLayout) Destroy(context *VulkanContext) {
	if l.Handle != nil {
		vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, l.Handle, context.Allocator)
		l.Handle = nil
	}
}

// VulkanDescriptorPool hands out the sets of one frame and is reset as a
// whole when the frame comes around again.
type VulkanDescriptorPool struct {
	Handle  vk.DescriptorPool
	MaxSets int
	used    int
}

func NewDescriptorPool(context *VulkanContext, layout *VulkanDescriptorSetLayout, maxSets int) (*VulkanDescriptorPool, error) {
	p := &VulkanDescriptorPool{MaxSets: maxSets}
	var sizes []vk.DescriptorPoolSize
	if layout.Uniforms > 0 {
		sizes = append(sizes, vk.DescriptorPoolSize{
			Type:            vk.DescriptorTypeUniformBuffer,
			DescriptorCount: uint32(maxSets * layout.Uniforms),
		})
	}
	if layout.Textures > 0 {
		sizes = append(sizes, vk.DescriptorPoolSize{
			Type:            vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: uint32(maxSets * layout.Textures),
		})
	}
	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       uint32(maxSets),
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	if res := vk.CreateDescriptorPool(context.Device.LogicalDevice, &createInfo, context.Allocator, &p.Handle); res != vk.Success {
		return nil, resultError("vkCreateDescriptorPool", res)
	}
	return p, nil
}

func (p *VulkanDescriptorPool) Reset(context *VulkanContext) error {
	if res := vk.ResetDescriptorPool(context.Device.LogicalDevice, p.Handle, 0); res != vk.Success {
		return resultError("vkResetDescriptorPool", res)
	}
	p.used = 0
	return nil
}

// Allocate returns a fresh set. vk.ErrorOutOfPoolMemory means the frame
// issued more draws than the pool was sized for.
func (p *VulkanDescriptorPool) Allocate(context *VulkanContext, layout *VulkanDescriptorSetLayout) (vk.DescriptorSet, error) {
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.Handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout.Handle},
	}
	var set vk.DescriptorSet
	if res := vk.AllocateDescriptorSets(context.Device.LogicalDevice, &allocateInfo, &set); res != vk.Success {
		return nil, resultError("vkAllocateDescriptorSets", res)
	}
	p.used++
	return set, nil
}

func (p *VulkanDescriptorPool) Destroy(context *VulkanContext) {
	if p.Handle != nil {
		vk.DestroyDescriptorPool(context.Device.LogicalDevice, p.Handle, context.Allocator)
		p.Handle = nil
	}
}

// descriptorWrites collects the writes for one set.
type descriptorWrites struct {
	set    vk.DescriptorSet
	writes []vk.WriteDescriptorSet
}

func (w *descriptorWrites) uniform(binding uint32, buffer vk.Buffer, offset, size int) {
	w.writes = append(w.writes, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          w.set,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: buffer,
			Offset: vk.DeviceSize(offset),
			Range:  vk.DeviceSize(size),
		}},
	})
}

func (w *descriptorWrites) texture(binding uint32, sampler vk.Sampler, view vk.ImageView, layout vk.ImageLayout) {
	w.writes = append(w.writes, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          w.set,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		PImageInfo: []vk.DescriptorImageInfo{{
			Sampler:     sampler,
			ImageView:   view,
			ImageLayout: layout,
		}},
	})
}

func (w *descriptorWrites) flush(context *VulkanContext) {
	if len(w.writes) == 0 {
		return
	}
	vk.UpdateDescriptorSets(context.Device.LogicalDevice, uint32(len(w.writes)), w.writes, 0, nil)
}
