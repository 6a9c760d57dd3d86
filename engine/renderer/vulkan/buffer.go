package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

func bufferUsageFlags(usage metadata.BufferUsage) vk.BufferUsageFlags {
	flags := vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit
	switch usage {
	case metadata.BufferUsageVertex:
		flags |= vk.BufferUsageVertexBufferBit
	case metadata.BufferUsageIndex:
		flags |= vk.BufferUsageIndexBufferBit
	case metadata.BufferUsageUniform:
		flags |= vk.BufferUsageUniformBufferBit
	}
	return vk.BufferUsageFlags(flags)
}

// vulkanBufferStore is a buffer backed by host visible, coherent memory.
type vulkanBufferStore struct {
	b      *Backend
	handle vk.Buffer
	memory vk.DeviceMemory
	size   int
	mapped []byte
}

func newBufferStore(b *Backend, size int, usage vk.BufferUsageFlags) (*vulkanBufferStore, error) {
	ctx := b.context
	s := &vulkanBufferStore{b: b, size: size}
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	if res := vk.CreateBuffer(ctx.Device.LogicalDevice, &createInfo, ctx.Allocator, &s.handle); res != vk.Success {
		return nil, resultError("vkCreateBuffer", res)
	}
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(ctx.Device.LogicalDevice, s.handle, &reqs)
	reqs.Deref()
	memory, err := ctx.allocateMemory(reqs, vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		s.destroy()
		return nil, err
	}
	s.memory = memory
	if res := vk.BindBufferMemory(ctx.Device.LogicalDevice, s.handle, s.memory, 0); res != vk.Success {
		s.destroy()
		return nil, resultError("vkBindBufferMemory", res)
	}
	return s, nil
}

func (s *vulkanBufferStore) Size() int {
	return s.size
}

func (s *vulkanBufferStore) mapRange(offset, size int) ([]byte, error) {
	var ptr unsafe.Pointer
	ctx := s.b.context
	if res := vk.MapMemory(ctx.Device.LogicalDevice, s.memory, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &ptr); res != vk.Success {
		return nil, resultError("vkMapMemory", res)
	}
	return unsafe.Slice((*byte)(ptr), size), nil
}

func (s *vulkanBufferStore) unmapRange() {
	vk.UnmapMemory(s.b.context.Device.LogicalDevice, s.memory)
}

func (s *vulkanBufferStore) Write(offset int, data []byte) error {
	if offset+len(data) > s.size {
		return core.NewPreconditionError("vkMapMemory", "write of %d bytes at %d exceeds buffer size %d", len(data), offset, s.size)
	}
	if s.mapped != nil {
		copy(s.mapped[offset:], data)
		return nil
	}
	mem, err := s.mapRange(offset, len(data))
	if err != nil {
		return err
	}
	copy(mem, data)
	s.unmapRange()
	return nil
}

func (s *vulkanBufferStore) Read(offset int, dst []byte) (int, error) {
	n := min(len(dst), s.size-offset)
	if n <= 0 {
		return 0, nil
	}
	if s.mapped != nil {
		return copy(dst, s.mapped[offset:offset+n]), nil
	}
	mem, err := s.mapRange(offset, n)
	if err != nil {
		return 0, err
	}
	copy(dst, mem)
	s.unmapRange()
	return n, nil
}

func (s *vulkanBufferStore) Map(size int) ([]byte, error) {
	if s.mapped != nil {
		return nil, fmt.Errorf("vkMapMemory: buffer is already mapped")
	}
	mem, err := s.mapRange(0, size)
	if err != nil {
		return nil, err
	}
	s.mapped = mem
	return mem, nil
}

func (s *vulkanBufferStore) Unmap() error {
	if s.mapped == nil {
		return fmt.Errorf("vkUnmapMemory: buffer was not mapped")
	}
	s.unmapRange()
	s.mapped = nil
	return nil
}

// Release defers destruction until no submitted frame can still read the buffer.
func (s *vulkanBufferStore) Release() error {
	if s.mapped != nil {
		s.unmapRange()
		s.mapped = nil
	}
	s.b.deferRelease(s.destroy)
	return nil
}

func (s *vulkanBufferStore) destroy() {
	ctx := s.b.context
	if s.handle != nil {
		vk.DestroyBuffer(ctx.Device.LogicalDevice, s.handle, ctx.Allocator)
		s.handle = nil
	}
	if s.memory != nil {
		vk.FreeMemory(ctx.Device.LogicalDevice, s.memory, ctx.Allocator)
		s.memory = nil
	}
}

// bufferHandle returns the native buffer behind a store, nil when unset.
func bufferHandle(store renderer.BufferStore) vk.Buffer {
	if s, ok := store.(*vulkanBufferStore); ok {
		return s.handle
	}
	return nil
}

type allocator struct {
	b *Backend
}

func (a *allocator) Backend() metadata.BackendType {
	return metadata.BackendVulkan
}

func (a *allocator) Allocate(usage metadata.BufferUsage, size int, hint metadata.BufferUsageHint) (renderer.BufferStore, error) {
	return newBufferStore(a.b, size, bufferUsageFlags(usage))
}

// Copy records vkCmdCopyBuffer in a single use command buffer and waits for it.
func (a *allocator) Copy(dst, src renderer.BufferStore, size int) error {
	d, ok1 := dst.(*vulkanBufferStore)
	s, ok2 := src.(*vulkanBufferStore)
	if !ok1 || !ok2 {
		return core.NewPreconditionError("vkCmdCopyBuffer", "buffer store of another backend")
	}
	return a.b.immediate(func(cmd *VulkanCommandBuffer) error {
		vk.CmdCopyBuffer(cmd.Handle, s.handle, d.handle, 1, []vk.BufferCopy{{Size: vk.DeviceSize(size)}})
		return nil
	})
}

// uniformArena is a persistently mapped buffer constant buffer contents are
// copied into at draw time, so each draw reads the values it was issued with.
type uniformArena struct {
	store     *vulkanBufferStore
	data      []byte
	offset    int
	alignment int
}

func newUniformArena(b *Backend, size, alignment int) (*uniformArena, error) {
	store, err := newBufferStore(b, size, vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit))
	if err != nil {
		return nil, err
	}
	data, err := store.Map(size)
	if err != nil {
		store.destroy()
		return nil, err
	}
	return &uniformArena{store: store, data: data, alignment: max(alignment, 1)}, nil
}

func (u *uniformArena) reset() {
	u.offset = 0
}

// push copies the current contents of src and returns where they landed.
func (u *uniformArena) push(src renderer.BufferStore) (int, int, error) {
	size := src.Size()
	start := int(metadata.GetAligned(uint64(u.offset), uint64(u.alignment)))
	if start+size > len(u.data) {
		return 0, 0, core.NewPreconditionError("PlatformDrawInstanced", "uniform arena of %d bytes exhausted", len(u.data))
	}
	if _, err := src.Read(0, u.data[start:start+size]); err != nil {
		return 0, 0, err
	}
	u.offset = start + size
	return start, size, nil
}

func (u *uniformArena) destroy() {
	if u.store.mapped != nil {
		_ = u.store.Unmap()
	}
	u.store.destroy()
}
