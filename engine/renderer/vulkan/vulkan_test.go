package vulkan

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/containers"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/internal/spy"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

func TestVulkanResultString(t *testing.T) {
	assert.Equal(t, "VK_SUCCESS", VulkanResultString(vk.Success, false))
	assert.Equal(t, "VK_ERROR_OUT_OF_DATE_KHR", VulkanResultString(vk.ErrorOutOfDate, false))
	assert.Contains(t, VulkanResultString(vk.ErrorOutOfDate, true), "recreated")
	assert.Equal(t, "VkResult(-12345)", VulkanResultString(vk.Result(-12345), false))
}

func TestVulkanResultIsSuccess(t *testing.T) {
	assert.True(t, VulkanResultIsSuccess(vk.Success))
	assert.True(t, VulkanResultIsSuccess(vk.Suboptimal))
	assert.True(t, VulkanResultIsSuccess(vk.NotReady))
	assert.False(t, VulkanResultIsSuccess(vk.ErrorDeviceLost))
	assert.False(t, VulkanResultIsSuccess(vk.Result(-12345)))
}

func TestResultErrorIsBackendError(t *testing.T) {
	err := resultError("vkQueueSubmit", vk.ErrorDeviceLost)
	var backendErr *core.BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, "vkQueueSubmit", backendErr.Call)
	assert.Equal(t, "VK_ERROR_DEVICE_LOST", backendErr.Code)
}

func TestSafeStrings(t *testing.T) {
	assert.Equal(t, "main\x00", VulkanSafeString("main"))
	assert.Equal(t, "main\x00", VulkanSafeString("main\x00"))
	assert.Equal(t, []string{"a\x00", "b\x00"}, VulkanSafeStrings([]string{"a", "b"}))
	assert.Empty(t, VulkanSafeStrings(nil))
}

func TestVulkanString(t *testing.T) {
	raw := make([]byte, 16)
	copy(raw, "VK_LAYER_X")
	assert.Equal(t, "VK_LAYER_X", vulkanString(raw))
	assert.Equal(t, "full", vulkanString([]byte("full")))
}

func spirvModule(words ...uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func TestSpirvWords(t *testing.T) {
	words, err := spirvWords(spirvModule(spirvMagic, 0x00010000, 7))
	require.NoError(t, err)
	assert.Equal(t, []uint32{spirvMagic, 0x00010000, 7}, words)

	_, err = spirvWords(nil)
	assert.Error(t, err)
	_, err = spirvWords([]byte{1, 2, 3})
	assert.Error(t, err)
	_, err = spirvWords(spirvModule(0xdeadbeef))
	assert.Error(t, err)
	_, err = spirvWords([]byte("in position\nout color!"))
	assert.Error(t, err)
}

func TestMissingNames(t *testing.T) {
	assert.Empty(t, missingNames([]string{"a"}, []string{"b", "a"}))
	assert.Equal(t, []string{"c"}, missingNames([]string{"a", "c"}, []string{"a"}))
	assert.Empty(t, missingNames(nil, []string{"a"}))
}

func TestLockPoolSerializesGroups(t *testing.T) {
	pool := NewVulkanLockPool()
	var wg sync.WaitGroup
	counter, inside := 0, 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.SafeCall(PipelineManagement, func() error {
				inside++
				defer func() { inside-- }()
				if inside != 1 {
					t.Errorf("%d callers inside the lock", inside)
				}
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 32, counter)
}

func TestLockPoolQueueCall(t *testing.T) {
	pool := NewVulkanLockPool()
	boom := errors.New("boom")
	assert.ErrorIs(t, pool.SafeQueueCall(3, func() error { return boom }), boom)

	// a nested call on another queue family must not deadlock
	err := pool.SafeQueueCall(0, func() error {
		return pool.SafeQueueCall(1, func() error { return nil })
	})
	assert.NoError(t, err)
}

func TestChoosePresentMode(t *testing.T) {
	all := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox, vk.PresentModeImmediate}
	assert.Equal(t, vk.PresentModeMailbox, choosePresentMode(all, true))
	assert.Equal(t, vk.PresentModeImmediate, choosePresentMode(all, false))
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode([]vk.PresentMode{vk.PresentModeFifo}, false))
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode(nil, true))
}

func TestChooseSurfaceFormat(t *testing.T) {
	preferred := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	other := vk.SurfaceFormat{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	assert.Equal(t, preferred, chooseSurfaceFormat([]vk.SurfaceFormat{other, preferred}))
	assert.Equal(t, other, chooseSurfaceFormat([]vk.SurfaceFormat{other}))
}

func TestHasStencil(t *testing.T) {
	assert.True(t, hasStencil(vk.FormatD24UnormS8Uint))
	assert.True(t, hasStencil(vk.FormatD32SfloatS8Uint))
	assert.False(t, hasStencil(vk.FormatD32Sfloat))
	assert.False(t, hasStencil(vk.FormatR8g8b8a8Unorm))
}

func TestBufferUsageFlags(t *testing.T) {
	transfer := vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit)
	cases := map[metadata.BufferUsage]vk.BufferUsageFlagBits{
		metadata.BufferUsageVertex:  vk.BufferUsageVertexBufferBit,
		metadata.BufferUsageIndex:   vk.BufferUsageIndexBufferBit,
		metadata.BufferUsageUniform: vk.BufferUsageUniformBufferBit,
	}
	for usage, bit := range cases {
		flags := bufferUsageFlags(usage)
		assert.Equal(t, transfer, flags&transfer, "usage %v", usage)
		assert.NotZero(t, flags&vk.BufferUsageFlags(bit), "usage %v", usage)
	}
}

func TestUniformArenaAlignsPushes(t *testing.T) {
	alloc := &spy.Allocator{}
	arena := &uniformArena{data: make([]byte, 256), alignment: 64}

	first, err := alloc.Allocate(metadata.BufferUsageUniform, 16, metadata.BufferHintDynamic)
	require.NoError(t, err)
	require.NoError(t, first.Write(0, []byte{1, 2, 3, 4}))
	second, err := alloc.Allocate(metadata.BufferUsageUniform, 80, metadata.BufferHintDynamic)
	require.NoError(t, err)
	require.NoError(t, second.Write(0, []byte{9}))

	offset, size, err := arena.push(first)
	require.NoError(t, err)
	assert.Equal(t, 0, offset)
	assert.Equal(t, 16, size)

	offset, size, err = arena.push(second)
	require.NoError(t, err)
	assert.Equal(t, 64, offset)
	assert.Equal(t, 80, size)
	assert.Equal(t, []byte{1, 2, 3, 4}, arena.data[:4])
	assert.Equal(t, byte(9), arena.data[64])

	// values pushed earlier keep what the draw saw
	require.NoError(t, first.Write(0, []byte{7, 7, 7, 7}))
	assert.Equal(t, []byte{1, 2, 3, 4}, arena.data[:4])

	_, _, err = arena.push(second)
	var pre *core.PreconditionError
	assert.ErrorAs(t, err, &pre)

	arena.reset()
	offset, _, err = arena.push(second)
	require.NoError(t, err)
	assert.Equal(t, 0, offset)
}

func TestStateTranslation(t *testing.T) {
	assert.Equal(t, vk.Bool32(vk.True), vkBool(true))
	assert.Equal(t, vk.Bool32(vk.False), vkBool(false))

	assert.Equal(t, vk.BlendFactorOneMinusSrcAlpha, blendFactor(metadata.BlendInverseSourceAlpha))
	assert.Equal(t, vk.BlendFactorConstantColor, blendFactor(metadata.BlendFactor))
	assert.Equal(t, vk.BlendFactorZero, blendFactor(metadata.BlendZero))

	assert.Equal(t, vk.BlendOpAdd, blendOp(metadata.BlendFunctionAdd))
	assert.Equal(t, vk.BlendOpReverseSubtract, blendOp(metadata.BlendFunctionReverseSubtract))
	assert.Equal(t, vk.BlendOpMax, blendOp(metadata.BlendFunctionMaximum))

	assert.Equal(t, vk.CompareOpLessOrEqual, compareOp(metadata.DepthLessEqual))
	assert.Equal(t, vk.CompareOpAlways, compareOp(metadata.DepthAlways))
	assert.Equal(t, vk.CompareOpNever, compareOp(metadata.DepthNever))

	assert.Equal(t, vk.CullModeFlags(vk.CullModeBackBit), cullMode(metadata.FaceCullBack))
	assert.Equal(t, vk.CullModeFlags(vk.CullModeFrontBit), cullMode(metadata.FaceCullFront))
	assert.Equal(t, vk.CullModeFlags(vk.CullModeNone), cullMode(metadata.FaceCullNone))

	assert.Equal(t, vk.FrontFaceClockwise, frontFace(true))
	assert.Equal(t, vk.FrontFaceCounterClockwise, frontFace(false))

	assert.Equal(t, vk.PolygonModeLine, polygonMode(metadata.FillWireframe))
	assert.Equal(t, vk.PolygonModeFill, polygonMode(metadata.FillSolid))

	assert.Equal(t, vk.PrimitiveTopologyTriangleList, primitiveTopology(metadata.TriangleList))
	assert.Equal(t, vk.PrimitiveTopologyLineStrip, primitiveTopology(metadata.LineStrip))
	assert.Equal(t, vk.PrimitiveTopologyPointList, primitiveTopology(metadata.PointList))

	assert.Equal(t, vk.FormatR32g32b32Sfloat, vertexFormat(metadata.VertexFloat3))
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, vertexFormat(metadata.VertexByte4))

	assert.Equal(t, vk.IndexTypeUint16, indexType(metadata.IndexFormatUInt16))
	assert.Equal(t, vk.IndexTypeUint32, indexType(metadata.IndexFormatUInt32))
}

func TestPixelFormat(t *testing.T) {
	f, err := pixelFormat(metadata.PixelFormatR8G8B8A8UNorm, vk.FormatD32Sfloat)
	require.NoError(t, err)
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, f)

	for _, depth := range []metadata.PixelFormat{metadata.PixelFormatD24S8, metadata.PixelFormatD32Float} {
		f, err = pixelFormat(depth, vk.FormatD24UnormS8Uint)
		require.NoError(t, err)
		assert.Equal(t, vk.FormatD24UnormS8Uint, f)
	}

	_, err = pixelFormat(metadata.PixelFormat(999), vk.FormatD32Sfloat)
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

func TestScissorRect(t *testing.T) {
	full := scissorRect(nil, 640, 480)
	assert.Equal(t, vk.Extent2D{Width: 640, Height: 480}, full.Extent)
	assert.Equal(t, vk.Offset2D{}, full.Offset)

	r := scissorRect(&metadata.Rectangle{X: 10, Y: 20, Width: 100, Height: 50}, 640, 480)
	assert.Equal(t, vk.Offset2D{X: 10, Y: 20}, r.Offset)
	assert.Equal(t, vk.Extent2D{Width: 100, Height: 50}, r.Extent)

	clipped := scissorRect(&metadata.Rectangle{X: -10, Y: 400, Width: 100, Height: 200}, 640, 480)
	assert.Equal(t, vk.Offset2D{X: 0, Y: 400}, clipped.Offset)
	assert.Equal(t, vk.Extent2D{Width: 90, Height: 80}, clipped.Extent)

	outside := scissorRect(&metadata.Rectangle{X: 700, Y: 0, Width: 10, Height: 10}, 640, 480)
	assert.Equal(t, vk.Extent2D{}, outside.Extent)
}

func TestBackendConfigDefaults(t *testing.T) {
	cfg := BackendConfig{}.withDefaults()
	assert.Equal(t, "prism", cfg.ApplicationName)
	assert.Equal(t, 4, cfg.MaxConstantBuffers)
	assert.Equal(t, 8, cfg.MaxTextures)
	assert.Equal(t, 4<<20, cfg.UniformArenaSize)
	assert.Equal(t, 4096, cfg.MaxDrawsPerFrame)

	custom := BackendConfig{ApplicationName: "demo", MaxTextures: 2}.withDefaults()
	assert.Equal(t, "demo", custom.ApplicationName)
	assert.Equal(t, 2, custom.MaxTextures)
}

func TestPipelineCacheEvict(t *testing.T) {
	cache := newPipelineCache(NewVulkanLockPool())
	a := pipelineKey{topology: metadata.TriangleList}
	b := pipelineKey{topology: metadata.LineList}
	cache.pipelines[a] = &VulkanPipeline{}
	cache.pipelines[b] = &VulkanPipeline{}

	var released int
	cache.evict(func(k pipelineKey) bool { return k.topology == metadata.LineList }, func(*VulkanPipeline) {
		released++
	})
	assert.Equal(t, 1, released)
	assert.Equal(t, 1, cache.len())
}

func TestDeferredReleaseWaitsForFrame(t *testing.T) {
	b := &Backend{graveyard: containers.NewRingQueue[releaseEntry](1)}
	var released []string
	b.frameNumber = 1
	b.deferRelease(func() { released = append(released, "first") })
	b.frameNumber = 2
	b.deferRelease(func() { released = append(released, "second") })
	b.deferRelease(func() { released = append(released, "third") })

	b.completedFrame = 1
	b.collectGarbage()
	assert.Equal(t, []string{"first"}, released)

	b.completedFrame = 2
	b.collectGarbage()
	assert.Equal(t, []string{"first", "second", "third"}, released)
	assert.True(t, b.graveyard.IsEmpty())

	b.disposed = true
	b.deferRelease(func() { released = append(released, "now") })
	assert.Len(t, released, 4)
}
