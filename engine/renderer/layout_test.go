package renderer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/internal/spy"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

var twoSlots = metadata.MaterialVertexInput{
	Inputs: []metadata.VertexInputDescription{
		{Elements: []metadata.VertexInputElement{
			{Name: "position", Semantic: metadata.SemanticPosition, Format: metadata.VertexFloat3},
			{Name: "uv", Semantic: metadata.SemanticTextureCoordinate, Format: metadata.VertexFloat2},
		}},
		{Elements: []metadata.VertexInputElement{
			{Name: "offset", Semantic: metadata.SemanticPosition, Format: metadata.VertexFloat4, Classifier: metadata.PerInstance, InstanceStepRate: 1},
		}},
	},
}

func TestLayoutLocationsRunAcrossSlots(t *testing.T) {
	cache := renderer.NewLayoutCache()
	l := cache.Acquire("instanced", twoSlots)

	attrs := l.Attributes()
	require.Len(t, attrs, 3)
	assert.Equal(t, 0, attrs[0].Location)
	assert.Equal(t, 1, attrs[1].Location)
	assert.Equal(t, 12, attrs[1].Offset)
	assert.Equal(t, 20, attrs[1].Stride)
	assert.Equal(t, 2, attrs[2].Location)
	assert.Equal(t, 1, attrs[2].Slot)
	assert.Equal(t, 1, attrs[2].Divisor)

	uv, ok := l.Attribute("uv")
	require.True(t, ok)
	assert.Equal(t, metadata.VertexFloat2, uv.Format)
}

func TestLayoutResolveOffsetsPerVertexSlotsOnly(t *testing.T) {
	cache := renderer.NewLayoutCache()
	l := cache.Acquire("instanced", twoSlots)
	alloc := &spy.Allocator{}
	a, err := renderer.NewVertexBuffer(alloc, 200, metadata.BufferHintStatic)
	require.NoError(t, err)
	b, err := renderer.NewVertexBuffer(alloc, 64, metadata.BufferHintStatic)
	require.NoError(t, err)

	binding, err := l.Resolve([]*renderer.VertexBuffer{a, b}, 3)
	require.NoError(t, err)
	assert.Equal(t, 60, binding.Slots[0].ByteOffset)
	assert.Zero(t, binding.Slots[1].ByteOffset)
	assert.True(t, binding.Slots[1].PerInstance)

	_, err = l.Resolve([]*renderer.VertexBuffer{a}, 0)
	assert.ErrorIs(t, err, core.ErrPreconditionViolation)
}

func TestLayoutCacheSharesAndReleases(t *testing.T) {
	cache := renderer.NewLayoutCache()
	a := cache.Acquire("lit", positionColor)
	b := cache.Acquire("lit", positionColor)
	c := cache.Acquire("unlit", positionColor)
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, cache.Len())

	cache.Release(a)
	assert.Equal(t, 2, cache.Len())
	cache.Release(b)
	assert.Equal(t, 1, cache.Len())
	cache.Release(c)
	assert.Zero(t, cache.Len())
}
