package renderer_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/internal/spy"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

func pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i)
	}
	return out
}

func TestBufferGrowthPreservesPriorWrites(t *testing.T) {
	alloc := &spy.Allocator{}
	vb, err := renderer.NewVertexBuffer(alloc, 0, metadata.BufferHintDynamic)
	require.NoError(t, err)

	first := pattern(64, 1)
	require.NoError(t, vb.SetData(first, 0))
	assert.Equal(t, 64, vb.Capacity())

	require.NoError(t, vb.SetData(pattern(32, 100), 64))
	assert.Equal(t, 96, vb.Capacity())

	out := make([]byte, 64)
	n, err := vb.GetData(out)
	require.NoError(t, err)
	assert.Equal(t, 64, n)
	assert.Equal(t, first, out)

	all := make([]byte, 96)
	_, err = vb.GetData(all)
	require.NoError(t, err)
	assert.Equal(t, pattern(32, 100), all[64:])

	// one store per growth, the previous one copied then released
	assert.Equal(t, 2, alloc.Allocations)
	assert.Equal(t, 1, alloc.Copies)
	assert.Equal(t, 1, alloc.Released)
}

func TestBufferCapacityNeverShrinks(t *testing.T) {
	vb, err := renderer.NewVertexBuffer(&spy.Allocator{}, 16, metadata.BufferHintStatic)
	require.NoError(t, err)

	sizes := []struct{ n, offset int }{{8, 0}, {40, 0}, {4, 2}, {10, 100}, {1, 0}, {200, 0}, {3, 5}}
	last := vb.Capacity()
	for _, s := range sizes {
		require.NoError(t, vb.SetData(pattern(s.n, 0), s.offset))
		assert.GreaterOrEqual(t, vb.Capacity(), last)
		assert.GreaterOrEqual(t, vb.Capacity(), s.n+s.offset)
		last = vb.Capacity()
	}
	assert.Equal(t, 200, last)
}

func TestBufferGetDataTruncates(t *testing.T) {
	cb, err := renderer.NewConstantBuffer(&spy.Allocator{}, 0, metadata.BufferHintDynamic)
	require.NoError(t, err)

	n, err := cb.GetData(make([]byte, 8))
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, cb.SetData([]byte{1, 2, 3, 4}, 0))
	out := make([]byte, 16)
	n, err = cb.GetData(out)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.True(t, bytes.Equal([]byte{1, 2, 3, 4}, out[:n]))
	assert.Equal(t, 4, cb.Capacity())
}

func TestBufferMapMisuse(t *testing.T) {
	vb, err := renderer.NewVertexBuffer(&spy.Allocator{}, 8, metadata.BufferHintDynamic)
	require.NoError(t, err)

	err = vb.UnmapBuffer()
	assert.ErrorIs(t, err, core.ErrPreconditionViolation)

	mapped, err := vb.MapBuffer(24)
	require.NoError(t, err)
	assert.Len(t, mapped, 24)
	assert.Equal(t, 24, vb.Capacity())
	copy(mapped, pattern(24, 7))

	_, err = vb.MapBuffer(4)
	assert.ErrorIs(t, err, core.ErrPreconditionViolation)
	assert.ErrorIs(t, vb.SetData([]byte{1}, 0), core.ErrPreconditionViolation)

	require.NoError(t, vb.UnmapBuffer())
	assert.ErrorIs(t, vb.UnmapBuffer(), core.ErrPreconditionViolation)

	out := make([]byte, 24)
	_, err = vb.GetData(out)
	require.NoError(t, err)
	assert.Equal(t, pattern(24, 7), out)
}

func TestBufferDestroy(t *testing.T) {
	alloc := &spy.Allocator{}
	ib, err := renderer.NewIndexBuffer(alloc, 12, metadata.IndexFormatUInt16, metadata.BufferHintStatic)
	require.NoError(t, err)

	require.NoError(t, ib.Destroy())
	require.NoError(t, ib.Destroy())
	assert.Equal(t, 1, alloc.Released)
	assert.ErrorIs(t, ib.SetData([]byte{1}, 0), core.ErrPreconditionViolation)
	_, err = ib.GetData(make([]byte, 1))
	assert.ErrorIs(t, err, core.ErrPreconditionViolation)
}

func TestBufferAllocationFailureKeepsContents(t *testing.T) {
	alloc := &spy.Allocator{}
	vb, err := renderer.NewVertexBuffer(alloc, 0, metadata.BufferHintDynamic)
	require.NoError(t, err)
	require.NoError(t, vb.SetData(pattern(8, 3), 0))

	alloc.FailAlloc = errors.New("out of device memory")
	err = vb.SetData(pattern(8, 0), 8)
	assert.ErrorIs(t, err, core.ErrResourceCreation)
	assert.Equal(t, 8, vb.Capacity())

	out := make([]byte, 8)
	_, err = vb.GetData(out)
	require.NoError(t, err)
	assert.Equal(t, pattern(8, 3), out)
}

func TestBufferGrowthSurvivesReleaseFailure(t *testing.T) {
	alloc := &spy.Allocator{}
	vb, err := renderer.NewVertexBuffer(alloc, 0, metadata.BufferHintDynamic)
	require.NoError(t, err)
	require.NoError(t, vb.SetData(pattern(8, 3), 0))

	alloc.FailRelease = errors.New("device lost")
	require.NoError(t, vb.SetData(pattern(8, 0), 8))
	assert.Equal(t, 16, vb.Capacity())

	out := make([]byte, 16)
	n, err := vb.GetData(out)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, append(pattern(8, 3), pattern(8, 0)...), out)
}

func TestTypedWrites(t *testing.T) {
	type vertex struct {
		X, Y, Z float32
		Color   [4]byte
	}
	vb, err := renderer.NewVertexBuffer(&spy.Allocator{}, 0, metadata.BufferHintStatic)
	require.NoError(t, err)
	require.NoError(t, renderer.SetSliceData(&vb.DeviceBuffer, []vertex{{1, 2, 3, [4]byte{}}, {4, 5, 6, [4]byte{}}}, 0))
	assert.Equal(t, 32, vb.Capacity())

	ib, err := renderer.NewIndexBuffer(&spy.Allocator{}, 0, metadata.IndexFormatUInt16, metadata.BufferHintStatic)
	require.NoError(t, err)
	require.NoError(t, ib.SetIndices32([]uint32{0, 1, 2}, 0))
	assert.Equal(t, metadata.IndexFormatUInt32, ib.Format())
	assert.Equal(t, 12, ib.Capacity())
	require.NoError(t, ib.SetIndices32([]uint32{3}, 3))
	assert.Equal(t, 16, ib.Capacity())
}

func TestNegativeOffsetsAreRejected(t *testing.T) {
	vb, err := renderer.NewVertexBuffer(&spy.Allocator{}, 0, metadata.BufferHintStatic)
	require.NoError(t, err)
	assert.ErrorIs(t, vb.SetData([]byte{1}, -1), core.ErrPreconditionViolation)

	_, err = renderer.NewVertexBuffer(&spy.Allocator{}, -4, metadata.BufferHintStatic)
	assert.ErrorIs(t, err, core.ErrResourceCreation)
}
