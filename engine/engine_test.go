package engine

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/platform"
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

func softConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.Renderer.Backend = core.BackendSoft
	cfg.Framebuffers = []core.FramebufferConfig{
		{Name: "offscreen", Width: 32, Height: 16, ColorFormat: "rgba8", Depth: true},
	}
	cfg.Stages = []core.StageConfig{
		{Name: "offscreen", Framebuffer: "offscreen"},
		{Name: "opaque"},
		{Name: "transparent"},
	}
	return cfg
}

func newSoftEngine(t *testing.T, g *Game) (*Engine, *window) {
	t.Helper()
	e, err := New(g)
	require.NoError(t, err)
	win := &window{w: 64, h: 48}
	backend, err := soft.NewBackend(win)
	require.NoError(t, err)
	require.NoError(t, e.attachRenderer(win, backend))
	e.registerEvents()
	t.Cleanup(func() { _ = e.Shutdown() })
	return e, win
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
	_, err = New(&Game{})
	assert.Error(t, err)

	cfg := core.DefaultConfig()
	cfg.Renderer.Backend = "opengl"
	_, err = New(&Game{Config: cfg})
	assert.Error(t, err)
}

func TestAttachRendererBuildsTargetsAndStages(t *testing.T) {
	e, _ := newSoftEngine(t, &Game{Config: softConfig()})

	rc := e.RenderContext()
	require.NotNil(t, rc)
	assert.Equal(t, metadata.BackendSoft, rc.BackendType())

	binding, ok := rc.ContextTexture("offscreen")
	require.True(t, ok)
	assert.NotNil(t, binding)

	var names []string
	for _, s := range e.Pipeline().Stages() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"offscreen", "opaque", "transparent"}, names)

	stage, ok := e.Pipeline().Stage("offscreen")
	require.True(t, ok)
	standard, ok := stage.(*pipeline.StandardStage)
	require.True(t, ok)
	assert.NotNil(t, standard.OverrideFramebuffer())

	require.NoError(t, e.Pipeline().RenderFrame(pipeline.NewListVisibilityManager()))
}

func TestCreateRenderTargetsRejectsUnknownFormat(t *testing.T) {
	cfg := softConfig()
	cfg.Framebuffers[0].ColorFormat = "rgb565"
	e, err := New(&Game{Config: cfg})
	require.NoError(t, err)
	win := &window{w: 8, h: 8}
	backend, err := soft.NewBackend(win)
	require.NoError(t, err)
	err = e.attachRenderer(win, backend)
	assert.ErrorContains(t, err, "offscreen")
	assert.Nil(t, e.RenderContext())
}

func TestBuildPipelineUndefinedFramebuffer(t *testing.T) {
	e, _ := newSoftEngine(t, &Game{Config: softConfig()})
	_, err := buildPipeline(e.RenderContext(), []core.StageConfig{{Name: "x", Framebuffer: "missing"}}, e.targets)
	assert.ErrorContains(t, err, "missing")
}

func TestDisabledStageFromConfig(t *testing.T) {
	cfg := softConfig()
	off := false
	cfg.Stages[2].Enabled = &off
	e, _ := newSoftEngine(t, &Game{Config: cfg})
	stage, ok := e.Pipeline().Stage("transparent")
	require.True(t, ok)
	assert.False(t, stage.Enabled())
}

func TestResizeEvents(t *testing.T) {
	var sizes [][2]int
	g := &Game{
		Config: softConfig(),
		FnOnResize: func(width, height int) error {
			sizes = append(sizes, [2]int{width, height})
			return nil
		},
	}
	e, win := newSoftEngine(t, g)

	e.Events().Fire(core.EventContext{Type: core.EventResized, Data: &core.ResizeEvent{Width: 0, Height: 10}})
	assert.True(t, e.isSuspended)
	assert.Empty(t, sizes)

	win.w, win.h = 100, 50
	e.Events().Fire(core.EventContext{Type: core.EventResized, Data: &core.ResizeEvent{Width: 100, Height: 50}})
	assert.False(t, e.isSuspended)
	assert.Equal(t, [][2]int{{100, 50}}, sizes)
	assert.Equal(t, metadata.Viewport{Width: 100, Height: 50}, e.RenderContext().Viewport())
}

func TestEscapeQuits(t *testing.T) {
	e, _ := newSoftEngine(t, &Game{Config: softConfig()})
	e.isRunning.Store(true)

	e.Events().Fire(core.EventContext{Type: core.EventKeyPressed, Data: &core.KeyEvent{KeyCode: 'A'}})
	assert.True(t, e.isRunning.Load())

	e.Events().Fire(core.EventContext{Type: core.EventKeyPressed, Data: &core.KeyEvent{KeyCode: platform.KeyEscape}})
	assert.False(t, e.isRunning.Load())
}

func TestPendingAssetChangesDeduplicates(t *testing.T) {
	e, err := New(&Game{Config: softConfig()})
	require.NoError(t, err)
	assert.Empty(t, e.pendingAssetChanges())

	for _, p := range []string{"shaders/a.vert", "materials/quad.toml", "shaders/a.vert"} {
		e.assetChanges <- p
	}
	assert.Equal(t, []string{"shaders/a.vert", "materials/quad.toml"}, e.pendingAssetChanges())
	assert.Empty(t, e.pendingAssetChanges())
}

func TestOpenAndPreloadAssets(t *testing.T) {
	e, err := New(&Game{Config: softConfig()})
	require.NoError(t, err)
	require.NoError(t, e.openAssets(t.TempDir()))
	t.Cleanup(func() { _ = e.Shutdown() })
	require.NotNil(t, e.Assets())
	assert.DirExists(t, e.Assets().Root())
	require.NoError(t, e.preloadAssets())
	assert.NotNil(t, e.jobs)
}

func TestShutdownIsIdempotent(t *testing.T) {
	calls := 0
	g := &Game{
		Config:     softConfig(),
		FnShutdown: func() error { calls++; return nil },
	}
	e, _ := newSoftEngine(t, g)
	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())
	assert.Equal(t, 1, calls)
	assert.Equal(t, EngineStageShutdown, e.CurrentStage())
}
