package renderer

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// VertexAttribute maps one element of a vertex buffer slot to a shader input location.
type VertexAttribute struct {
	Location int
	Slot     int
	Name     string
	Semantic metadata.VertexElementSemantic
	Format   metadata.VertexElementFormat
	// Offset of the element inside one vertex.
	Offset  int
	Stride  int
	Divisor int
}

// VertexSlotBinding is what a backend needs to point a slot at its buffer.
type VertexSlotBinding struct {
	Buffer *VertexBuffer
	Stride int
	// ByteOffset already accounts for the base vertex.
	ByteOffset  int
	PerInstance bool
}

// VertexLayoutBinding is handed to PlatformBindVertexLayout once per dirty draw.
type VertexLayoutBinding struct {
	Layout     *VertexInputLayout
	BaseVertex int
	Slots      []VertexSlotBinding
	Attributes []VertexAttribute
}

// VertexInputLayout is shared by every shader set linked against the same
// shader and vertex format. Locations run sequentially over all slots.
type VertexInputLayout struct {
	id         uuid.UUID
	key        string
	inputs     metadata.MaterialVertexInput
	attributes []VertexAttribute
	refs       int
}

func newVertexInputLayout(key string, inputs metadata.MaterialVertexInput) *VertexInputLayout {
	l := &VertexInputLayout{
		id:     core.NewIdentifier(),
		key:    key,
		inputs: inputs,
	}
	location := 0
	for slot, in := range inputs.Inputs {
		stride := in.Stride()
		for i, e := range in.Elements {
			divisor := 0
			if e.Classifier == metadata.PerInstance {
				divisor = max(e.InstanceStepRate, 1)
			}
			l.attributes = append(l.attributes, VertexAttribute{
				Location: location,
				Slot:     slot,
				Name:     e.Name,
				Semantic: e.Semantic,
				Format:   e.Format,
				Offset:   in.ElementOffset(i),
				Stride:   stride,
				Divisor:  divisor,
			})
			location++
		}
	}
	return l
}

func (l *VertexInputLayout) ID() uuid.UUID {
	return l.id
}

func (l *VertexInputLayout) Key() string {
	return l.key
}

func (l *VertexInputLayout) Inputs() metadata.MaterialVertexInput {
	return l.inputs
}

func (l *VertexInputLayout) SlotCount() int {
	return len(l.inputs.Inputs)
}

func (l *VertexInputLayout) Attributes() []VertexAttribute {
	return l.attributes
}

// Attribute finds an element by name.
func (l *VertexInputLayout) Attribute(name string) (VertexAttribute, bool) {
	for _, a := range l.attributes {
		if a.Name == name {
			return a, true
		}
	}
	return VertexAttribute{}, false
}

// Resolve pairs the layout with the bound buffers. Per vertex slots are
// offset by baseVertex whole vertices.
func (l *VertexInputLayout) Resolve(buffers []*VertexBuffer, baseVertex int) (VertexLayoutBinding, error) {
	binding := VertexLayoutBinding{
		Layout:     l,
		BaseVertex: baseVertex,
		Slots:      make([]VertexSlotBinding, len(l.inputs.Inputs)),
		Attributes: l.attributes,
	}
	for slot, in := range l.inputs.Inputs {
		if slot >= len(buffers) || buffers[slot] == nil {
			return binding, core.NewPreconditionError("BindVertexLayout", "no vertex buffer bound at slot %d", slot)
		}
		stride := in.Stride()
		offset := 0
		if !in.PerInstance() {
			offset = baseVertex * stride
		}
		binding.Slots[slot] = VertexSlotBinding{
			Buffer:      buffers[slot],
			Stride:      stride,
			ByteOffset:  offset,
			PerInstance: in.PerInstance(),
		}
	}
	return binding, nil
}

// LayoutCache hands out one layout per shader and vertex format pair.
type LayoutCache struct {
	mu      sync.Mutex
	layouts map[string]*VertexInputLayout
}

func NewLayoutCache() *LayoutCache {
	return &LayoutCache{layouts: make(map[string]*VertexInputLayout)}
}

func layoutKey(shaderKey string, inputs metadata.MaterialVertexInput) string {
	return fmt.Sprintf("%s|%s", shaderKey, inputs.Key())
}

// Acquire returns the shared layout and takes a reference on it.
func (c *LayoutCache) Acquire(shaderKey string, inputs metadata.MaterialVertexInput) *VertexInputLayout {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := layoutKey(shaderKey, inputs)
	l, ok := c.layouts[key]
	if !ok {
		l = newVertexInputLayout(key, inputs)
		c.layouts[key] = l
	}
	l.refs++
	return l
}

// Release drops a reference and evicts the layout once unused.
func (c *LayoutCache) Release(l *VertexInputLayout) {
	if l == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l.refs--
	if l.refs <= 0 {
		delete(c.layouts, l.key)
	}
}

func (c *LayoutCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.layouts)
}
