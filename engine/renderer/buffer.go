package renderer

import (
	"fmt"
	"unsafe"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// BufferStore is one native allocation. A DeviceBuffer swaps stores when it grows.
type BufferStore interface {
	Size() int
	Write(offset int, data []byte) error
	Read(offset int, dst []byte) (int, error)
	Map(size int) ([]byte, error)
	Unmap() error
	Release() error
}

// BufferAllocator creates native stores and copies between them on the device.
type BufferAllocator interface {
	Backend() metadata.BackendType
	Allocate(usage metadata.BufferUsage, size int, hint metadata.BufferUsageHint) (BufferStore, error)
	Copy(dst, src BufferStore, size int) error
}

// DeviceBuffer is a logical GPU buffer whose capacity grows on demand while
// callers keep holding the same handle.
type DeviceBuffer struct {
	ResourceBase
	usage     metadata.BufferUsage
	hint      metadata.BufferUsageHint
	allocator BufferAllocator
	store     BufferStore
	capacity  int
	mapped    bool
	destroyed bool
}

func newDeviceBuffer(allocator BufferAllocator, usage metadata.BufferUsage, size int, hint metadata.BufferUsageHint) (DeviceBuffer, error) {
	b := DeviceBuffer{
		ResourceBase: NewResourceBase(allocator.Backend()),
		usage:        usage,
		hint:         hint,
		allocator:    allocator,
	}
	if size < 0 {
		return b, core.NewResourceCreationError(usage.String()+" buffer", fmt.Errorf("negative size %d", size))
	}
	if err := b.ensureCapacity(size); err != nil {
		return b, err
	}
	return b, nil
}

func (b *DeviceBuffer) Usage() metadata.BufferUsage {
	return b.usage
}

// Capacity is the size of the current store, never smaller than any size requested so far.
func (b *DeviceBuffer) Capacity() int {
	return b.capacity
}

// Store exposes the current native store to the backend that created it.
func (b *DeviceBuffer) Store() BufferStore {
	return b.store
}

func (b *DeviceBuffer) IsMapped() bool {
	return b.mapped
}

func (b *DeviceBuffer) checkAlive(op string) error {
	if b.destroyed {
		return core.NewPreconditionError(op, "%s buffer %s already destroyed", b.usage, core.ShortIdentifier(b.ID()))
	}
	return nil
}

// ensureCapacity moves the contents to a larger store. The old bytes land at
// offset 0 of the new store before it becomes current.
func (b *DeviceBuffer) ensureCapacity(required int) error {
	if required <= b.capacity {
		return nil
	}
	next, err := b.allocator.Allocate(b.usage, required, b.hint)
	if err != nil {
		err = core.NewResourceCreationError(b.usage.String()+" buffer", err)
		core.LogError(err.Error())
		return err
	}
	previous, previousSize := b.store, b.capacity
	if previous != nil && previousSize > 0 {
		if err := b.allocator.Copy(next, previous, previousSize); err != nil {
			_ = next.Release()
			core.LogError("failed to copy %d bytes into grown %s buffer: %s", previousSize, b.usage, err)
			return err
		}
	}
	b.store = next
	b.capacity = required
	// the buffer already grew, a store that fails to release only leaks
	if previous != nil {
		if err := previous.Release(); err != nil {
			core.LogWarn("failed to release previous %s buffer store: %s", b.usage, err)
		}
	}
	core.LogDebug("%s buffer %s grew %d -> %d bytes", b.usage, core.ShortIdentifier(b.ID()), previousSize, required)
	return nil
}

// SetData writes data at offset, growing the buffer first when it does not fit.
func (b *DeviceBuffer) SetData(data []byte, offset int) error {
	if err := b.checkAlive("SetData"); err != nil {
		return err
	}
	if offset < 0 {
		return core.NewPreconditionError("SetData", "negative destination offset %d", offset)
	}
	if b.mapped {
		return core.NewPreconditionError("SetData", "%s buffer is mapped", b.usage)
	}
	if len(data) == 0 {
		return nil
	}
	if err := b.ensureCapacity(offset + len(data)); err != nil {
		return err
	}
	return b.store.Write(offset, data)
}

// GetData reads from the start of the buffer into dst and returns the number
// of bytes read, which is min(Capacity(), len(dst)).
func (b *DeviceBuffer) GetData(dst []byte) (int, error) {
	if err := b.checkAlive("GetData"); err != nil {
		return 0, err
	}
	if b.mapped {
		return 0, core.NewPreconditionError("GetData", "%s buffer is mapped", b.usage)
	}
	n := min(b.capacity, len(dst))
	if n == 0 {
		return 0, nil
	}
	return b.store.Read(0, dst[:n])
}

// MapBuffer grows the buffer to at least size bytes and maps its first size bytes.
func (b *DeviceBuffer) MapBuffer(size int) ([]byte, error) {
	if err := b.checkAlive("MapBuffer"); err != nil {
		return nil, err
	}
	if b.mapped {
		return nil, core.NewPreconditionError("MapBuffer", "%s buffer is already mapped", b.usage)
	}
	if size <= 0 {
		return nil, core.NewPreconditionError("MapBuffer", "invalid map size %d", size)
	}
	if err := b.ensureCapacity(size); err != nil {
		return nil, err
	}
	data, err := b.store.Map(size)
	if err != nil {
		return nil, err
	}
	b.mapped = true
	return data, nil
}

func (b *DeviceBuffer) UnmapBuffer() error {
	if err := b.checkAlive("UnmapBuffer"); err != nil {
		return err
	}
	if !b.mapped {
		return core.NewPreconditionError("UnmapBuffer", "%s buffer is not mapped", b.usage)
	}
	b.mapped = false
	return b.store.Unmap()
}

func (b *DeviceBuffer) Destroy() error {
	if b.destroyed {
		return nil
	}
	b.destroyed = true
	if b.store == nil {
		return nil
	}
	if b.mapped {
		b.mapped = false
		if err := b.store.Unmap(); err != nil {
			core.LogWarn("unmapping %s buffer on destroy: %s", b.usage, err)
		}
	}
	store := b.store
	b.store = nil
	return store.Release()
}

// SetSliceData writes a slice of fixed size values, e.g. vertex structs, at a byte offset.
func SetSliceData[T any](b *DeviceBuffer, data []T, offset int) error {
	if len(data) == 0 {
		return nil
	}
	return b.SetData(sliceBytes(data), offset)
}

func sliceBytes[T any](data []T) []byte {
	size := int(unsafe.Sizeof(data[0])) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), size)
}

type VertexBuffer struct {
	DeviceBuffer
}

func NewVertexBuffer(allocator BufferAllocator, size int, hint metadata.BufferUsageHint) (*VertexBuffer, error) {
	b, err := newDeviceBuffer(allocator, metadata.BufferUsageVertex, size, hint)
	if err != nil {
		return nil, err
	}
	return &VertexBuffer{DeviceBuffer: b}, nil
}

type IndexBuffer struct {
	DeviceBuffer
	format metadata.IndexFormat
}

func NewIndexBuffer(allocator BufferAllocator, size int, format metadata.IndexFormat, hint metadata.BufferUsageHint) (*IndexBuffer, error) {
	b, err := newDeviceBuffer(allocator, metadata.BufferUsageIndex, size, hint)
	if err != nil {
		return nil, err
	}
	return &IndexBuffer{DeviceBuffer: b, format: format}, nil
}

func (ib *IndexBuffer) Format() metadata.IndexFormat {
	return ib.format
}

// SetIndices16 writes 16 bit indices starting at the given index (not byte) offset.
func (ib *IndexBuffer) SetIndices16(indices []uint16, indexOffset int) error {
	ib.format = metadata.IndexFormatUInt16
	return SetSliceData(&ib.DeviceBuffer, indices, indexOffset*2)
}

func (ib *IndexBuffer) SetIndices32(indices []uint32, indexOffset int) error {
	ib.format = metadata.IndexFormatUInt32
	return SetSliceData(&ib.DeviceBuffer, indices, indexOffset*4)
}

// ConstantBuffer backs a uniform block.
type ConstantBuffer struct {
	DeviceBuffer
}

func NewConstantBuffer(allocator BufferAllocator, size int, hint metadata.BufferUsageHint) (*ConstantBuffer, error) {
	b, err := newDeviceBuffer(allocator, metadata.BufferUsageUniform, size, hint)
	if err != nil {
		return nil, err
	}
	return &ConstantBuffer{DeviceBuffer: b}, nil
}
