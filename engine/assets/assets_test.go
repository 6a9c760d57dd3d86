package assets

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/soft"
	"github.com/spaghettifunk/prism/engine/systems"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

type window struct{ w, h int }

func (w *window) Width() int { return w.w }
func (w *window) Height() int { return w.h }
func (w *window) Exists() bool { return true }

// twoRows is a 2x2 image with a red top row and a blue bottom row.
func twoRows() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for x := 0; x < 2; x++ {
		img.Set(x, 0, color.NRGBA{R: 255, A: 255})
		img.Set(x, 1, color.NRGBA{B: 255, A: 255})
	}
	return img
}

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeTexturePNG(t *testing.T) {
	tex, err := DecodeTexture("checker.png", encodePNG(t, twoRows()), false)
	require.NoError(t, err)
	assert.Equal(t, "png", tex.Format)
	assert.Equal(t, 2, tex.Width)
	assert.Equal(t, 2, tex.Height)
	require.Len(t, tex.Pixels, 16)
	assert.Equal(t, []byte{255, 0, 0, 255}, tex.Pixels[:4])
	assert.Equal(t, []byte{0, 0, 255, 255}, tex.Pixels[8:12])

	desc := tex.Description()
	assert.Equal(t, metadata.PixelFormatR8G8B8A8UNorm, desc.Format)
	assert.Equal(t, len(tex.Pixels), desc.DataSize())
}

func TestDecodeTextureBMPFlipped(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, twoRows()))
	tex, err := DecodeTexture("rows.bmp", buf.Bytes(), true)
	require.NoError(t, err)
	assert.Equal(t, "bmp", tex.Format)
	assert.Equal(t, []byte{0, 0, 255, 255}, tex.Pixels[:4])
	assert.Equal(t, []byte{255, 0, 0, 255}, tex.Pixels[8:12])
}

func TestDecodeTextureRejectsGarbage(t *testing.T) {
	_, err := DecodeTexture("bad.png", []byte("not an image"), false)
	assert.Error(t, err)
}

const quadMaterial = `
name = "quad"

[shaders.soft]
vertex = "shaders/quad.vert"
fragment = "shaders/quad.frag"

[[vertex_inputs]]
[[vertex_inputs.elements]]
name = "position"
semantic = "position"
format = "float3"

[[vertex_inputs.elements]]
name = "uv"
semantic = "texcoord"
format = "float2"

[[per_object_inputs]]
name = "world"
type = "mat4"

[[texture_inputs]]
name = "albedo"
path = "textures/checker.png"

[[context_textures]]
name = "scene"
source = "offscreen"
`

func newDatabase(t *testing.T) (*AssetDatabase, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "materials/quad.toml", []byte(quadMaterial))
	writeFile(t, root, "shaders/quad.vert", []byte("in position\nin uv\nout vuv\nuniform world"))
	writeFile(t, root, "shaders/quad.frag", []byte("in vuv\nsampler albedo\nsampler scene\nout target"))
	writeFile(t, root, "textures/checker.png", encodePNG(t, twoRows()))
	db, err := NewAssetDatabase(root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, root
}

func TestNewAssetDatabaseRequiresDirectory(t *testing.T) {
	_, err := NewAssetDatabase(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestLoadMaterialIsCached(t *testing.T) {
	db, _ := newDatabase(t)
	m, err := db.LoadMaterial("quad")
	require.NoError(t, err)
	assert.Equal(t, "quad", m.Name)
	require.Contains(t, m.Shaders, "soft")

	again, err := db.LoadMaterial("quad")
	require.NoError(t, err)
	assert.Same(t, m, again)

	db.Invalidate("materials/quad.toml")
	reloaded, err := db.LoadMaterial("quad")
	require.NoError(t, err)
	assert.NotSame(t, m, reloaded)

	_, err = db.LoadMaterial("missing")
	assert.Error(t, err)
}

func TestParseMaterialValidation(t *testing.T) {
	_, err := ParseMaterial([]byte(`name = "x"`))
	var pre *core.PreconditionError
	assert.ErrorAs(t, err, &pre)

	_, err = ParseMaterial([]byte("[shaders.soft]\nvertex = \"a\""))
	assert.ErrorAs(t, err, &pre)

	_, err = ParseMaterial([]byte("name = "))
	assert.Error(t, err)
}

func TestMaterialVertexInput(t *testing.T) {
	m := &MaterialAsset{VertexInputs: []VertexSlotAsset{
		{Elements: []VertexElementAsset{{Name: "position", Semantic: "position", Format: "float3"}}},
		{Elements: []VertexElementAsset{{Name: "offset", Semantic: "position", Format: "float2", Classifier: "instance", StepRate: 1}}},
	}}
	in, err := m.VertexInput()
	require.NoError(t, err)
	require.Len(t, in.Inputs, 2)
	assert.Equal(t, 12, in.Inputs[0].Stride())
	assert.True(t, in.Inputs[1].PerInstance())
	assert.Equal(t, 1, in.Inputs[1].Elements[0].InstanceStepRate)

	m.VertexInputs[0].Elements[0].Format = "float5"
	_, err = m.VertexInput()
	assert.Error(t, err)

	m.VertexInputs[0].Elements[0].Format = "float3"
	m.VertexInputs[1].Elements[0].Classifier = "sometimes"
	_, err = m.VertexInput()
	assert.Error(t, err)
}

func TestMaterialCreateOnSoftBackend(t *testing.T) {
	db, _ := newDatabase(t)
	win := &window{w: 64, h: 64}
	backend, err := soft.NewBackend(win)
	require.NoError(t, err)
	rc, err := renderer.NewRenderContext(win, backend)
	require.NoError(t, err)

	m, err := db.LoadMaterial("quad")
	require.NoError(t, err)

	// the context texture is not published yet
	_, err = m.Create(db, rc)
	assert.Error(t, err)

	tex, err := rc.Factory().CreateTexture(metadata.TextureDescription{Width: 4, Height: 4, Format: metadata.PixelFormatR8G8B8A8UNorm, MipLevels: 1}, nil)
	require.NoError(t, err)
	binding, err := rc.Factory().CreateTextureBinding(tex)
	require.NoError(t, err)
	rc.RegisterContextTexture("offscreen", binding)

	material, err := m.Create(db, rc)
	require.NoError(t, err)
	assert.Equal(t, "quad", material.Name())
	assert.Equal(t, []string{"albedo", "scene"}, material.TextureInputNames())
	require.NoError(t, material.Destroy())
}

func TestMaterialWithoutShadersForBackend(t *testing.T) {
	db, _ := newDatabase(t)
	m, err := db.LoadMaterial("quad")
	require.NoError(t, err)
	_, err = m.Description(db, metadata.BackendVulkan)
	assert.ErrorContains(t, err, "vulkan")
}

func TestWatchInvalidatesAndNotifies(t *testing.T) {
	db, root := newDatabase(t)
	shader, err := db.ReadShader("shaders/quad.vert")
	require.NoError(t, err)

	changed := make(chan string, 16)
	db.OnChange(func(path string) { changed <- path })
	require.NoError(t, db.Watch(context.Background()))

	writeFile(t, root, "shaders/quad.vert", []byte("in position\nout vuv"))
	select {
	case path := <-changed:
		assert.Equal(t, "shaders/quad.vert", path)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}

	reloaded, err := db.ReadShader("shaders/quad.vert")
	require.NoError(t, err)
	assert.NotEqual(t, shader, reloaded)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	assert.ErrorIs(t, db.Watch(context.Background()), ErrWatcherClosed)
}

func TestPreloadFillsCaches(t *testing.T) {
	db, root := newDatabase(t)
	writeFile(t, root, "materials/notes.txt", []byte("not a material"))
	names, err := db.MaterialNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"quad"}, names)

	js, err := systems.NewJobSystem(2, 0)
	require.NoError(t, err)
	defer js.Shutdown()
	require.NoError(t, db.Preload(js, names...))

	db.mutex.RLock()
	assert.Contains(t, db.materials, "materials/quad.toml")
	assert.Contains(t, db.textures, "textures/checker.png")
	db.mutex.RUnlock()

	err = db.Preload(js, "missing")
	assert.ErrorContains(t, err, "missing")
}

func TestMaterialNamesWithoutDirectory(t *testing.T) {
	db, err := NewAssetDatabase(t.TempDir())
	require.NoError(t, err)
	names, err := db.MaterialNames()
	require.NoError(t, err)
	assert.Empty(t, names)
}
