package testbed

import (
	"fmt"
	"strings"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	pmath "github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/components"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipeline"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	rc       *renderer.RenderContext
	db       *assets.AssetDatabase
	pipeline *pipeline.Pipeline
	camera   *components.Camera

	geometry *quadGeometry
	opaque   renderer.BlendState
	alpha    renderer.BlendState
	depth    renderer.DepthStencilState
	readOnly renderer.DepthStencilState

	materials map[string]*renderer.Material
	quads     []*quad
	visible   *pipeline.ListVisibilityManager
}

func NewTestGame(cfg *core.Config) *TestGame {
	state := &gameState{
		camera:    components.NewCamera(pmath.NewVec3(0, 1.5, 4), pmath.NewVec3Zero()),
		materials: make(map[string]*renderer.Material),
		visible:   pipeline.NewListVisibilityManager(),
	}
	tg := &TestGame{
		Game: &engine.Game{
			Config:     cfg,
			State:      state,
			Visibility: state.visible,
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnAssetsChanged = tg.AssetsChanged
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(e *engine.Engine) error {
	core.LogDebug("testbed initialize")
	g.state().pipeline = e.Pipeline()
	return g.load(e.RenderContext(), e.Assets())
}

// load creates the shared geometry and states, the materials and the quads
// of the scene.
func (g *TestGame) load(rc *renderer.RenderContext, db *assets.AssetDatabase) error {
	s := g.state()
	s.rc, s.db = rc, db
	s.camera.SetAspect(float32(rc.Window().Width()) / float32(max(rc.Window().Height(), 1)))
	rc.RegisterDataProvider("camera", s.camera)

	f := rc.Factory()
	var err error
	if s.geometry, err = newQuadGeometry(f); err != nil {
		return err
	}
	if s.opaque, err = f.CreateBlendState(metadata.BlendOverride); err != nil {
		return err
	}
	if s.alpha, err = f.CreateBlendState(metadata.BlendAlpha); err != nil {
		return err
	}
	if s.depth, err = f.CreateDepthStencilState(metadata.DepthDefault); err != nil {
		return err
	}
	if s.readOnly, err = f.CreateDepthStencilState(metadata.DepthReadOnly); err != nil {
		return err
	}

	names := []string{"quad", "glass"}
	// the mirror samples the offscreen stage, which only exists when configured
	_, hasOffscreen := rc.ContextTexture("offscreen")
	if hasOffscreen {
		names = append(names, "mirror")
	}
	for _, name := range names {
		m, err := g.createMaterial(name)
		if err != nil {
			return err
		}
		s.materials[name] = m
	}

	checkerStages := []string{"opaque"}
	if hasOffscreen {
		checkerStages = append(checkerStages, "offscreen")
	}
	s.quads = []*quad{
		{name: "checker", material: "quad", materialID: 1, stages: checkerStages, position: pmath.NewVec3(-1.2, 0, 0), spin: 0.8},
		{name: "glass", material: "glass", materialID: 2, stages: []string{"transparent"}, position: pmath.NewVec3(0.4, 0, 1), spin: -0.5, transparent: true},
	}
	if hasOffscreen {
		s.quads = append(s.quads, &quad{name: "mirror", material: "mirror", materialID: 3, stages: []string{"opaque"}, position: pmath.NewVec3(1.4, 0, -0.5)})
	}
	for _, q := range s.quads {
		q.state = s
		s.visible.Add(q)
	}
	core.LogInfo("testbed scene loaded: %d quads, %d materials", len(s.quads), len(s.materials))
	return nil
}

func (g *TestGame) createMaterial(name string) (*renderer.Material, error) {
	s := g.state()
	asset, err := s.db.LoadMaterial(name)
	if err != nil {
		return nil, err
	}
	return asset.Create(s.db, s.rc)
}

// cameraOrbitSpeed is in radians per second.
const cameraOrbitSpeed = 0.2

func (g *TestGame) Update(deltaTime float64) error {
	s := g.state()
	for _, q := range s.quads {
		q.angle += q.spin * float32(deltaTime)
	}
	s.camera.Orbit(cameraOrbitSpeed * float32(deltaTime))
	if s.pipeline != nil {
		vp := s.camera.Viewpoint()
		for _, stage := range s.pipeline.Stages() {
			if st, ok := stage.(*pipeline.StandardStage); ok {
				st.SetViewpoint(vp)
			}
		}
	}
	return nil
}

func (g *TestGame) OnResize(width, height int) error {
	if height > 0 {
		g.state().camera.SetAspect(float32(width) / float32(height))
	}
	return nil
}

// AssetsChanged rebuilds every material once any material, shader or texture
// changed. A material that fails to rebuild keeps its previous version.
func (g *TestGame) AssetsChanged(paths []string) error {
	reload := false
	for _, p := range paths {
		if strings.HasPrefix(p, "materials/") || strings.HasPrefix(p, "shaders/") || strings.HasPrefix(p, "textures/") {
			reload = true
			break
		}
	}
	if !reload {
		return nil
	}
	s := g.state()
	for name, old := range s.materials {
		m, err := g.createMaterial(name)
		if err != nil {
			core.LogWarn("keeping material `%s`: %s", name, err)
			continue
		}
		s.materials[name] = m
		if err := old.Destroy(); err != nil {
			core.LogWarn("could not release old material `%s`: %s", name, err)
		}
		core.LogInfo("material `%s` reloaded", name)
	}
	return nil
}

func (g *TestGame) Shutdown() error {
	s := g.state()
	var resources []renderer.Resource
	if s.geometry != nil {
		resources = append(resources, s.geometry.vertices, s.geometry.indices)
	}
	for _, st := range []renderer.Resource{s.opaque, s.alpha, s.depth, s.readOnly} {
		if st != nil {
			resources = append(resources, st)
		}
	}
	err := renderer.ReleaseAll(resources...)
	for name, m := range s.materials {
		if mErr := m.Destroy(); mErr != nil && err == nil {
			err = fmt.Errorf("material `%s`: %w", name, mErr)
		}
	}
	s.materials = make(map[string]*renderer.Material)
	s.geometry = nil
	s.quads = nil
	s.visible = pipeline.NewListVisibilityManager()
	g.Visibility = s.visible
	return err
}
