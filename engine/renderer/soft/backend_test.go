package soft_test

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
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/soft"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

type window struct {
	w, h   int
	closed bool
}

func (w *window) Width() int { return w.w }
func (w *window) Height() int { return w.h }
func (w *window) Exists() bool { return !w.closed }

var positionColor = metadata.MaterialVertexInput{
	Inputs: []metadata.VertexInputDescription{{
		Elements: []metadata.VertexInputElement{
			{Name: "position", Semantic: metadata.SemanticPosition, Format: metadata.VertexFloat3},
			{Name: "color", Semantic: metadata.SemanticColor, Format: metadata.VertexFloat4},
		},
	}},
}

const (
	vertexSource   = "in position\nin color\nout vcolor\nuniform world"
	fragmentSource = "// flat colour\nin vcolor\nout target"
)

func newContext(t *testing.T, opts ...soft.Option) (*soft.Backend, *renderer.RenderContext) {
	t.Helper()
	win := &window{w: 320, h: 240}
	backend, err := soft.NewBackend(win, opts...)
	require.NoError(t, err)
	rc, err := renderer.NewRenderContext(win, backend)
	require.NoError(t, err)
	return backend, rc
}

func flatShader(t *testing.T, rc *renderer.RenderContext) renderer.ShaderSet {
	t.Helper()
	ss, err := rc.Factory().CreateShaderSet(renderer.ShaderSetDescription{
		Name:           "flat",
		VertexSource:   vertexSource,
		FragmentSource: fragmentSource,
		VertexInputs:   positionColor,
	})
	require.NoError(t, err)
	return ss
}

// bindQuad binds a four vertex quad and returns its index buffer.
func bindQuad(t *testing.T, rc *renderer.RenderContext) *renderer.IndexBuffer {
	t.Helper()
	f := rc.Factory()
	vb, err := f.CreateVertexBuffer(28*4, metadata.BufferHintStatic)
	require.NoError(t, err)
	ib, err := f.CreateIndexBuffer(0, metadata.IndexFormatUInt16, metadata.BufferHintStatic)
	require.NoError(t, err)
	require.NoError(t, ib.SetIndices16([]uint16{0, 1, 2, 2, 3, 0}, 0))
	require.NoError(t, rc.SetVertexBuffer(0, vb))
	require.NoError(t, rc.SetIndexBuffer(ib))
	require.NoError(t, rc.SetShaderSet(flatShader(t, rc)))
	return ib
}

func TestGrowthKeepsEarlierWrites(t *testing.T) {
	backend, rc := newContext(t, soft.WithValidation(true))
	buffersBefore, _, _, _ := backend.Device().Live()

	vb, err := rc.Factory().CreateVertexBuffer(0, metadata.BufferHintDynamic)
	require.NoError(t, err)
	first := bytes.Repeat([]byte{0xAB}, 64)
	second := bytes.Repeat([]byte{0xCD}, 32)
	require.NoError(t, vb.SetData(first, 0))
	require.NoError(t, vb.SetData(second, 64))
	assert.Equal(t, 96, vb.Capacity())

	out := make([]byte, 128)
	n, err := vb.GetData(out)
	require.NoError(t, err)
	assert.Equal(t, 96, n)
	assert.Equal(t, append(first, second...), out[:n])
	assert.Contains(t, backend.Device().Calls(), "glCopyBufferSubData")

	// the store that was replaced is gone
	buffersAfter, _, _, _ := backend.Device().Live()
	assert.Equal(t, buffersBefore+1, buffersAfter)

	require.NoError(t, vb.Destroy())
	buffersAfter, _, _, _ = backend.Device().Live()
	assert.Equal(t, buffersBefore, buffersAfter)
}

func TestMappedBufferIsDeviceMemory(t *testing.T) {
	_, rc := newContext(t, soft.WithValidation(true))
	cb, err := rc.Factory().CreateConstantBuffer(16, metadata.BufferHintDynamic)
	require.NoError(t, err)

	mem, err := cb.MapBuffer(8)
	require.NoError(t, err)
	copy(mem, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, cb.UnmapBuffer())

	out := make([]byte, 8)
	_, err = cb.GetData(out)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, out)
}

func TestShaderCompileErrorIsVerbatim(t *testing.T) {
	_, rc := newContext(t)
	_, err := rc.Factory().CreateShaderSet(renderer.ShaderSetDescription{
		Name:           "broken",
		VertexSource:   "in position\n#error position must be a vec3",
		FragmentSource: fragmentSource,
		VertexInputs:   positionColor,
	})
	var compileErr *core.ShaderCompilationError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "vertex", compileErr.Stage)
	assert.Equal(t, "position must be a vec3", compileErr.Log)
	assert.ErrorIs(t, err, core.ErrResourceCreation)

	_, err = rc.Factory().CreateShaderSet(renderer.ShaderSetDescription{
		VertexSource:   vertexSource,
		FragmentSource: "in vcolor\nvarying x",
	})
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "fragment", compileErr.Stage)
	assert.Equal(t, "0:2: unknown directive `varying`", compileErr.Log)
}

func TestShaderLinkErrorListsMismatches(t *testing.T) {
	backend, rc := newContext(t)
	_, _, _, programsBefore := backend.Device().Live()

	_, err := rc.Factory().CreateShaderSet(renderer.ShaderSetDescription{
		Name:           "mismatch",
		VertexSource:   "in position\nin normal\nout vcolor",
		FragmentSource: "in vnormal\nout target",
		VertexInputs:   positionColor,
	})
	var linkErr *core.ShaderLinkError
	require.ErrorAs(t, err, &linkErr)
	assert.Equal(t,
		"vertex input `normal` has no layout element\nfragment input `vnormal` is not written by the vertex stage",
		linkErr.Log)

	_, _, _, programsAfter := backend.Device().Live()
	assert.Equal(t, programsBefore, programsAfter)
}

func TestGeometryStageIsLinkedBetween(t *testing.T) {
	_, rc := newContext(t)
	ss, err := rc.Factory().CreateShaderSet(renderer.ShaderSetDescription{
		Name:           "billboard",
		VertexSource:   vertexSource,
		GeometrySource: "in vcolor\nout gcolor",
		FragmentSource: "in gcolor\nout target",
		VertexInputs:   positionColor,
	})
	require.NoError(t, err)
	assert.True(t, ss.HasGeometryStage())
	require.NoError(t, ss.Destroy())
}

func TestDrawRecordsState(t *testing.T) {
	backend, rc := newContext(t, soft.WithValidation(true))
	bindQuad(t, rc)
	require.NoError(t, rc.SetPrimitiveTopology(metadata.TriangleStrip))
	require.NoError(t, rc.DrawInstancedPrimitives(6, 3, 0))

	draws := backend.Device().Draws()
	require.Len(t, draws, 1)
	d := draws[0]
	assert.Equal(t, metadata.TriangleStrip, d.Topology)
	assert.Equal(t, 6, d.IndexCount)
	assert.Equal(t, 3, d.Instances)
	assert.Equal(t, metadata.DepthDefault, d.Depth)
	require.Len(t, d.Attributes, 2)
	assert.Equal(t, 3, d.Attributes[0].Components)
	assert.Equal(t, 12, d.Attributes[1].Offset)
	assert.Equal(t, 28, d.Attributes[1].Stride)
}

func TestBaseVertexMovesAttributeOffsets(t *testing.T) {
	backend, rc := newContext(t, soft.WithValidation(true))
	bindQuad(t, rc)
	require.NoError(t, rc.DrawIndexedPrimitivesBaseVertex(3, 0, 2))

	d := backend.Device().Draws()[0]
	assert.Equal(t, 2, d.BaseVertex)
	assert.Equal(t, 2*28, d.Attributes[0].Offset)
	assert.Equal(t, 2*28+12, d.Attributes[1].Offset)
}

func TestGrownIndexBufferIsRebound(t *testing.T) {
	backend, rc := newContext(t, soft.WithValidation(true))
	ib := bindQuad(t, rc)
	require.NoError(t, rc.DrawIndexedPrimitives(6, 0))
	before := backend.Device().Draws()[0].IndexBuffer

	require.NoError(t, ib.SetIndices16([]uint16{1, 2, 3}, 6))
	require.NoError(t, rc.DrawIndexedPrimitives(9, 0))
	after := backend.Device().Draws()[1].IndexBuffer
	assert.NotEqual(t, before, after)
}

func TestDepthPolicyFollowsTarget(t *testing.T) {
	backend, rc := newContext(t, soft.WithValidation(true))
	bindQuad(t, rc)
	f := rc.Factory()

	color, err := f.CreateTexture(metadata.TextureDescription{Width: 16, Height: 16, Format: metadata.PixelFormatR8G8B8A8UNorm, MipLevels: 1}, nil)
	require.NoError(t, err)
	noDepth, err := f.CreateFramebuffer([]renderer.Texture{color}, nil)
	require.NoError(t, err)

	require.NoError(t, rc.SetFramebuffer(noDepth))
	require.NoError(t, rc.DrawIndexedPrimitives(6, 0))
	require.NoError(t, rc.SetDefaultFramebuffer())
	require.NoError(t, rc.DrawIndexedPrimitives(6, 0))

	draws := backend.Device().Draws()
	require.Len(t, draws, 2)
	assert.False(t, draws[0].Depth.DepthTestEnabled)
	assert.False(t, draws[0].Depth.DepthWriteEnabled)
	assert.True(t, draws[1].Depth.DepthTestEnabled)
	assert.True(t, draws[1].Depth.DepthWriteEnabled)
}

func TestClearFillsOffscreenColor(t *testing.T) {
	_, rc := newContext(t, soft.WithValidation(true))
	f := rc.Factory()
	color, err := f.CreateTexture(metadata.TextureDescription{Width: 4, Height: 2, Format: metadata.PixelFormatR8G8B8A8UNorm, MipLevels: 1}, nil)
	require.NoError(t, err)
	fb, err := f.CreateFramebuffer([]renderer.Texture{color}, nil)
	require.NoError(t, err)

	require.NoError(t, rc.SetFramebuffer(fb))
	rc.SetClearColor(metadata.RgbaFloat{R: 1, G: 0, B: 0, A: 1})
	require.NoError(t, rc.ClearBuffer())

	px, err := color.GetPixels(0)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{255, 0, 0, 255}, 8), px)
}

func TestScissorUsesBottomLeftOrigin(t *testing.T) {
	backend, rc := newContext(t, soft.WithValidation(true))
	bindQuad(t, rc)
	require.NoError(t, rc.SetScissorRectangle(metadata.Rectangle{X: 10, Y: 20, Width: 30, Height: 40}))
	require.NoError(t, rc.DrawIndexedPrimitives(6, 0))

	d := backend.Device().Draws()[0]
	assert.True(t, d.ScissorEnabled)
	assert.Equal(t, metadata.Rectangle{X: 10, Y: 180, Width: 30, Height: 40}, d.Scissor)

	require.NoError(t, rc.ClearScissorRectangle())
	require.NoError(t, rc.DrawIndexedPrimitives(6, 0))
	assert.False(t, backend.Device().Draws()[1].ScissorEnabled)
}

func TestScissorFollowsTheBoundTarget(t *testing.T) {
	backend, rc := newContext(t, soft.WithValidation(true))
	bindQuad(t, rc)
	f := rc.Factory()
	color, err := f.CreateTexture(metadata.TextureDescription{Width: 64, Height: 64, Format: metadata.PixelFormatR8G8B8A8UNorm, MipLevels: 1}, nil)
	require.NoError(t, err)
	offscreen, err := f.CreateFramebuffer([]renderer.Texture{color}, nil)
	require.NoError(t, err)

	require.NoError(t, rc.SetScissorRectangle(metadata.Rectangle{Width: 10, Height: 10}))
	require.NoError(t, rc.SetFramebuffer(offscreen))
	require.NoError(t, rc.DrawIndexedPrimitives(6, 0))
	require.NoError(t, rc.SetDefaultFramebuffer())
	require.NoError(t, rc.DrawIndexedPrimitives(6, 0))
	require.NoError(t, rc.Resize(320, 100))
	require.NoError(t, rc.DrawIndexedPrimitives(6, 0))

	draws := backend.Device().Draws()
	require.Len(t, draws, 3)
	assert.Equal(t, metadata.Rectangle{X: 0, Y: 54, Width: 10, Height: 10}, draws[0].Scissor)
	assert.Equal(t, metadata.Rectangle{X: 0, Y: 230, Width: 10, Height: 10}, draws[1].Scissor)
	assert.Equal(t, metadata.Rectangle{X: 0, Y: 90, Width: 10, Height: 10}, draws[2].Scissor)

	// a cleared scissor stays off across target switches
	require.NoError(t, rc.ClearScissorRectangle())
	require.NoError(t, rc.SetFramebuffer(offscreen))
	require.NoError(t, rc.DrawIndexedPrimitives(6, 0))
	assert.False(t, backend.Device().Draws()[3].ScissorEnabled)
}

func TestValidationSurfacesDeviceErrors(t *testing.T) {
	backend, rc := newContext(t, soft.WithValidation(true))
	backend.Device().InjectError(soft.InvalidOperation)

	err := rc.SetViewport(0, 0, 10, 10)
	var backendErr *core.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "glViewport", backendErr.Call)
	assert.Equal(t, "INVALID_OPERATION", backendErr.Code)
	assert.True(t, errors.Is(err, core.ErrBackendCall))

	// the register was cleared by the check
	assert.NoError(t, rc.SetViewport(0, 0, 20, 20))
}

func TestWithoutValidationErrorsStayInRegister(t *testing.T) {
	backend, rc := newContext(t)
	backend.Device().InjectError(soft.InvalidValue)
	assert.NoError(t, rc.SetViewport(0, 0, 10, 10))
	assert.Equal(t, soft.InvalidValue, backend.Device().GetError())
}

func TestResizeReallocatesWindowTargets(t *testing.T) {
	backend, rc := newContext(t, soft.WithValidation(true))
	require.NoError(t, rc.Resize(64, 48))

	fb := backend.DefaultFramebuffer()
	assert.Equal(t, 64, fb.Width())
	assert.Equal(t, 48, fb.Height())
	px, err := fb.ColorAttachments()[0].GetPixels(0)
	require.NoError(t, err)
	assert.Len(t, px, 64*48*4)
	assert.Equal(t, metadata.Viewport{Width: 64, Height: 48}, rc.Viewport())
}

func TestSwapAndDestroy(t *testing.T) {
	backend, rc := newContext(t, soft.WithValidation(true))
	require.NoError(t, rc.SwapBuffers())
	require.NoError(t, rc.SwapBuffers())
	assert.Equal(t, 2, backend.Device().Frames())

	require.NoError(t, rc.Destroy())
	_, textures, framebuffers, _ := backend.Device().Live()
	assert.Zero(t, textures)
	assert.Zero(t, framebuffers)
	assert.ErrorIs(t, rc.SwapBuffers(), core.ErrPreconditionViolation)
}

func countCalls(d *soft.Device, name string) int {
	n := 0
	for _, c := range d.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

func TestShaderSetDestroyKeepsSharedLayout(t *testing.T) {
	backend, rc := newContext(t, soft.WithValidation(true))
	a := flatShader(t, rc)
	b := flatShader(t, rc)
	require.Same(t, a.InputLayout(), b.InputLayout())

	require.NoError(t, a.Destroy())
	require.NoError(t, a.Destroy())
	assert.Equal(t, 1, countCalls(backend.Device(), "glDeleteProgram"))

	// b still holds the layout, so a new set of the same pair shares it
	c := flatShader(t, rc)
	assert.Same(t, b.InputLayout(), c.InputLayout())
}

func TestFramebufferDestroyIsIdempotent(t *testing.T) {
	backend, rc := newContext(t, soft.WithValidation(true))
	f := rc.Factory()
	color, err := f.CreateTexture(metadata.TextureDescription{Width: 8, Height: 8, Format: metadata.PixelFormatR8G8B8A8UNorm, MipLevels: 1}, nil)
	require.NoError(t, err)
	fb, err := f.CreateFramebuffer([]renderer.Texture{color}, nil)
	require.NoError(t, err)

	require.NoError(t, fb.Destroy())
	require.NoError(t, fb.Destroy())
	assert.Equal(t, 1, countCalls(backend.Device(), "glDeleteFramebuffers"))

	require.NoError(t, rc.Destroy())
	deletes := countCalls(backend.Device(), "glDeleteTextures")
	require.NoError(t, backend.DefaultFramebuffer().Destroy())
	assert.Equal(t, deletes, countCalls(backend.Device(), "glDeleteTextures"))
}

func TestFramebufferNeedsAnAttachment(t *testing.T) {
	_, rc := newContext(t)
	_, err := rc.Factory().CreateFramebuffer(nil, nil)
	assert.ErrorIs(t, err, core.ErrResourceCreation)
}

func TestForeignResourcesAreRejected(t *testing.T) {
	_, rc := newContext(t)
	foreign, err := renderer.NewVertexBuffer(&foreignAllocator{}, 16, metadata.BufferHintStatic)
	require.NoError(t, err)
	assert.ErrorIs(t, rc.SetVertexBuffer(0, foreign), core.ErrPreconditionViolation)
}

// foreignAllocator tags its buffers as another backend's.
type foreignAllocator struct{}

func (foreignAllocator) Backend() metadata.BackendType { return metadata.BackendVulkan }

func (foreignAllocator) Allocate(metadata.BufferUsage, int, metadata.BufferUsageHint) (renderer.BufferStore, error) {
	return &memStore{}, nil
}

func (foreignAllocator) Copy(dst, src renderer.BufferStore, size int) error { return nil }

type memStore struct{ data []byte }

func (s *memStore) Size() int { return len(s.data) }
func (s *memStore) Write(offset int, data []byte) error { return nil }
func (s *memStore) Read(offset int, dst []byte) (int, error) { return 0, nil }
func (s *memStore) Map(size int) ([]byte, error) { return make([]byte, size), nil }
func (s *memStore) Unmap() error { return nil }
func (s *memStore) Release() error { return nil }
