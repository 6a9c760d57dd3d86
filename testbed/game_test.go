package testbed

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	pmath "github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipeline"
	"github.com/spaghettifunk/prism/engine/renderer/soft"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

type window struct{ w, h int }

func (w *window) Width() int { return w.w }
func (w *window) Height() int { return w.h }
func (w *window) Exists() bool { return true }

type fixture struct {
	game     *TestGame
	rc       *renderer.RenderContext
	pipeline *pipeline.Pipeline
}

// newFixture loads the shipped assets on the soft backend, optionally with an
// offscreen target published as a context texture.
func newFixture(t *testing.T, offscreen bool) *fixture {
	t.Helper()
	win := &window{w: 320, h: 180}
	backend, err := soft.NewBackend(win)
	require.NoError(t, err)
	rc, err := renderer.NewRenderContext(win, backend)
	require.NoError(t, err)

	p := pipeline.NewPipeline(rc)
	var owned []renderer.Resource
	if offscreen {
		desc := metadata.TextureDescription{Width: 64, Height: 64, Format: metadata.PixelFormatR8G8B8A8UNorm, MipLevels: 1}
		color, err := rc.Factory().CreateTexture(desc, nil)
		require.NoError(t, err)
		fb, err := rc.Factory().CreateFramebuffer([]renderer.Texture{color}, nil)
		require.NoError(t, err)
		binding, err := rc.Factory().CreateTextureBinding(color)
		require.NoError(t, err)
		rc.RegisterContextTexture("offscreen", binding)
		p.AddStage(pipeline.NewStandardStage(rc, "offscreen", pipeline.WithOverrideFramebuffer(fb), pipeline.WithClearOnBind(true)))
		owned = append(owned, color, binding, fb)
	}
	p.AddStage(pipeline.NewStandardStage(rc, "opaque"))
	p.AddStage(pipeline.NewStandardStage(rc, "transparent"))

	db, err := assets.NewAssetDatabase("../assets")
	require.NoError(t, err)

	g := NewTestGame(core.DefaultConfig())
	require.NoError(t, g.load(rc, db))
	t.Cleanup(func() {
		_ = g.Shutdown()
		_ = renderer.ReleaseAll(owned...)
		_ = db.Close()
		_ = rc.Destroy()
	})
	return &fixture{game: g, rc: rc, pipeline: p}
}

func TestSceneWithoutOffscreen(t *testing.T) {
	f := newFixture(t, false)
	s := f.game.state()
	assert.Len(t, s.quads, 2)
	assert.NotContains(t, s.materials, "mirror")

	f.rc.ResetStats()
	require.NoError(t, f.pipeline.RenderFrame(f.game.Visibility))
	assert.Equal(t, 2, f.rc.Stats().DrawCalls)
}

func TestSceneWithOffscreen(t *testing.T) {
	f := newFixture(t, true)
	s := f.game.state()
	require.Len(t, s.quads, 3)
	assert.Equal(t, []string{"albedo"}, s.materials["mirror"].TextureInputNames())

	f.rc.ResetStats()
	require.NoError(t, f.pipeline.RenderFrame(f.game.Visibility))
	// checker twice (offscreen and opaque), mirror, glass
	assert.Equal(t, 4, f.rc.Stats().DrawCalls)
}

func TestUpdateSpinsQuadsAndMovesViewpoints(t *testing.T) {
	f := newFixture(t, false)
	s := f.game.state()
	s.pipeline = f.pipeline
	before := s.camera.Position()

	require.NoError(t, f.game.Update(0.5))
	assert.InDelta(t, 0.4, s.quads[0].angle, 1e-6)
	assert.InDelta(t, -0.25, s.quads[1].angle, 1e-6)
	assert.False(t, s.camera.Position().Compare(before, 1e-6))

	stage, ok := f.pipeline.Stage("opaque")
	require.True(t, ok)
	assert.Equal(t, s.camera.Viewpoint(), stage.(*pipeline.StandardStage).Viewpoint())
}

func TestOnResizeUpdatesAspect(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.game.OnResize(200, 100))
	assert.InDelta(t, 2.0, f.game.state().camera.Aspect(), 1e-6)
	require.NoError(t, f.game.OnResize(200, 0))
	assert.InDelta(t, 2.0, f.game.state().camera.Aspect(), 1e-6)
}

func TestAssetsChangedReloadsMaterials(t *testing.T) {
	f := newFixture(t, false)
	s := f.game.state()
	before := s.materials["quad"]

	require.NoError(t, f.game.AssetsChanged([]string{"config.toml"}))
	assert.Same(t, before, s.materials["quad"])

	s.db.Invalidate("materials/quad.toml")
	require.NoError(t, f.game.AssetsChanged([]string{"materials/quad.toml"}))
	assert.NotSame(t, before, s.materials["quad"])
	require.NoError(t, f.pipeline.RenderFrame(f.game.Visibility))
}

func TestSortKeys(t *testing.T) {
	view := pmath.NewVec3(0, 0, 5)
	near := &quad{materialID: 1, position: pmath.NewVec3(0, 0, 4)}
	far := &quad{materialID: 1, position: pmath.NewVec3(0, 0, -4)}
	assert.Less(t, near.SortKey(view), far.SortKey(view))

	nearGlass := &quad{transparent: true, position: pmath.NewVec3(0, 0, 4)}
	farGlass := &quad{transparent: true, position: pmath.NewVec3(0, 0, -4)}
	// back to front
	assert.Less(t, farGlass.SortKey(view), nearGlass.SortKey(view))
}
