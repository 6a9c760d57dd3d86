package pipeline_test

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
	pmath "github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/internal/spy"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipeline"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

// item records the order it was rendered in.
type item struct {
	name        string
	stages      []string
	key         pipeline.RenderOrderKey
	transparent bool
	position    pmath.Vec3
	culled      bool
	err         error
	log         *[]string
}

func (i *item) Stages() []string { return i.stages }

func (i *item) SortKey(view pmath.Vec3) pipeline.RenderOrderKey {
	if i.key != 0 {
		return i.key
	}
	d := i.position.Distance(view)
	if i.transparent {
		return pipeline.NewTransparentRenderOrderKey(d)
	}
	return pipeline.NewRenderOrderKey(0, d)
}

func (i *item) Render(rc *renderer.RenderContext, stage string) error {
	*i.log = append(*i.log, stage+":"+i.name)
	return i.err
}

type culledItem struct {
	*item
}

func (c culledItem) Cull(_, _ pmath.Vec3) bool { return c.culled }

func newContext(t *testing.T) (*spy.Backend, *renderer.RenderContext) {
	t.Helper()
	backend := spy.NewBackend(320, 240)
	rc, err := renderer.NewRenderContext(&spy.Window{W: 320, H: 240}, backend)
	require.NoError(t, err)
	backend.Reset()
	return backend, rc
}

func TestRenderOrderKeyNearFirst(t *testing.T) {
	near := pipeline.NewRenderOrderKey(7, 1)
	far := pipeline.NewRenderOrderKey(1, 10)
	assert.Less(t, near, far)

	// same distance groups by material
	assert.Less(t, pipeline.NewRenderOrderKey(1, 5), pipeline.NewRenderOrderKey(2, 5))

	tNear := pipeline.NewTransparentRenderOrderKey(1)
	tFar := pipeline.NewTransparentRenderOrderKey(10)
	assert.Less(t, tFar, tNear)

	// negative and NaN distances collapse to zero
	assert.Equal(t, pipeline.NewRenderOrderKey(3, 0), pipeline.NewRenderOrderKey(3, -4))
}

func TestQueueSortIsStableForEqualKeys(t *testing.T) {
	var log []string
	q := pipeline.NewRenderQueue()
	for _, name := range []string{"a", "b", "c", "d"} {
		q.Add(&item{name: name, key: 5, log: &log})
	}
	q.AddRange(&item{name: "first", key: 1, log: &log})

	for run := 0; run < 3; run++ {
		q.Sort(pmath.NewVec3Zero())
		var names []string
		for _, it := range q.Items() {
			names = append(names, it.(*item).name)
		}
		assert.Equal(t, []string{"first", "a", "b", "c", "d"}, names)
	}

	q.Clear()
	assert.Equal(t, 0, q.Len())
}

func TestQueueEachStopsAtError(t *testing.T) {
	var log []string
	q := pipeline.NewRenderQueue()
	q.Add(&item{name: "ok", log: &log})
	q.Add(&item{name: "bad", err: spy.ErrInjected, log: &log})
	q.Add(&item{name: "never", log: &log})

	err := q.Each(func(it pipeline.RenderItem) error { return it.Render(nil, "s") })
	assert.ErrorIs(t, err, spy.ErrInjected)
	assert.Equal(t, []string{"s:ok", "s:bad"}, log)
}

func TestVisibilityFiltersByStageAndCull(t *testing.T) {
	var log []string
	visible := &item{name: "visible", stages: []string{"opaque"}, log: &log}
	other := &item{name: "other", stages: []string{"transparent"}, log: &log}
	hidden := culledItem{&item{name: "hidden", stages: []string{"opaque"}, culled: true, log: &log}}

	vm := pipeline.NewListVisibilityManager(visible, other, hidden)
	q := pipeline.NewRenderQueue()
	vm.CollectVisibleObjects(q, "opaque", pmath.NewVec3Zero(), pmath.NewVec3Forward())
	require.Equal(t, 1, q.Len())
	assert.Same(t, visible, q.Items()[0])

	assert.True(t, vm.Remove(visible))
	assert.False(t, vm.Remove(visible))
	assert.Equal(t, 2, vm.Len())
}

func TestDisabledStageMakesNoCalls(t *testing.T) {
	backend, rc := newContext(t)
	var log []string
	vm := pipeline.NewListVisibilityManager(&item{name: "x", stages: []string{"opaque"}, log: &log})

	stage := pipeline.NewStandardStage(rc, "opaque", pipeline.WithEnabled(false), pipeline.WithClearOnBind(true))
	require.NoError(t, stage.ExecuteStage(vm))
	assert.Empty(t, backend.Calls)
	assert.Empty(t, log)

	stage.SetEnabled(true)
	require.NoError(t, stage.ExecuteStage(vm))
	assert.Equal(t, []string{"opaque:x"}, log)
	assert.Equal(t, 1, backend.Count("PlatformClearBuffer"))
}

func TestStageBindsOverrideTargetAndFitsViewport(t *testing.T) {
	backend, rc := newContext(t)
	fb := backend.SpyFactory().NewFramebuffer(64, 32, false)

	stage := pipeline.NewStandardStage(rc, "shadow", pipeline.WithOverrideFramebuffer(fb))
	require.NoError(t, stage.ExecuteStage(pipeline.NewListVisibilityManager()))

	assert.Same(t, fb, rc.CurrentFramebuffer())
	assert.Equal(t, metadata.Viewport{Width: 64, Height: 32}, rc.Viewport())
	assert.Equal(t, metadata.DepthDisabled.DepthTestEnabled, rc.EffectiveDepthState().DepthTestEnabled)
	assert.Equal(t, 0, backend.Count("PlatformClearBuffer"))
}

func TestStageSortsByDistance(t *testing.T) {
	_, rc := newContext(t)
	var log []string
	vm := pipeline.NewListVisibilityManager(
		&item{name: "far", stages: []string{"opaque"}, position: pmath.NewVec3(0, 0, -20), log: &log},
		&item{name: "near", stages: []string{"opaque"}, position: pmath.NewVec3(0, 0, -2), log: &log},
		&item{name: "glass-near", stages: []string{"transparent"}, position: pmath.NewVec3(0, 0, -3), transparent: true, log: &log},
		&item{name: "glass-far", stages: []string{"transparent"}, position: pmath.NewVec3(0, 0, -30), transparent: true, log: &log},
	)

	p := pipeline.NewPipeline(rc,
		pipeline.NewStandardStage(rc, "opaque"),
		pipeline.NewStandardStage(rc, "transparent"),
	)
	require.NoError(t, p.RenderFrame(vm))
	assert.Equal(t, []string{
		"opaque:near", "opaque:far",
		"transparent:glass-far", "transparent:glass-near",
	}, log)
}

func TestStageErrorAbortsFrame(t *testing.T) {
	backend, rc := newContext(t)
	var log []string
	vm := pipeline.NewListVisibilityManager(
		&item{name: "bad", stages: []string{"opaque"}, err: spy.ErrInjected, log: &log},
		&item{name: "late", stages: []string{"overlay"}, log: &log},
	)
	p := pipeline.NewPipeline(rc, pipeline.NewStandardStage(rc, "opaque"))
	p.AddStage(pipeline.NewStandardStage(rc, "overlay"))

	err := p.RenderFrame(vm)
	require.Error(t, err)
	assert.True(t, errors.Is(err, spy.ErrInjected))
	assert.Contains(t, err.Error(), "stage `opaque`")
	assert.Equal(t, []string{"opaque:bad"}, log)
	assert.Equal(t, 0, backend.Count("PlatformSwapBuffers"))
}

func TestRenderFrameClearsAndPresents(t *testing.T) {
	backend, rc := newContext(t)
	p := pipeline.NewPipeline(rc, pipeline.NewStandardStage(rc, "opaque"))
	require.NoError(t, p.RenderFrame(nil))

	assert.Equal(t, 1, backend.Count("PlatformClearBuffer"))
	assert.Equal(t, 1, backend.Count("PlatformSwapBuffers"))
	_, ok := p.Stage("opaque")
	assert.True(t, ok)
	_, ok = p.Stage("missing")
	assert.False(t, ok)
}

func TestChangeRenderContextReachesStages(t *testing.T) {
	_, rc := newContext(t)
	other, rc2 := newContext(t)
	stage := pipeline.NewStandardStage(rc, "opaque")
	p := pipeline.NewPipeline(rc, stage)

	p.ChangeRenderContext(rc2)
	assert.Same(t, rc2, stage.RenderContext())
	require.NoError(t, p.RenderFrame(nil))
	assert.Equal(t, 1, other.Count("PlatformSwapBuffers"))
}
