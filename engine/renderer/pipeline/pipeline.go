package pipeline

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
)

// Pipeline runs its stages in order once per frame.
type Pipeline struct {
	rc     *renderer.RenderContext
	stages []Stage
}

func NewPipeline(rc *renderer.RenderContext, stages ...Stage) *Pipeline {
	return &Pipeline{rc: rc, stages: stages}
}

func (p *Pipeline) AddStage(stage Stage) {
	p.stages = append(p.stages, stage)
}

func (p *Pipeline) Stage(name string) (Stage, bool) {
	for _, s := range p.stages {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// RenderFrame clears the window, executes every stage and presents.
func (p *Pipeline) RenderFrame(vm VisibilityManager) error {
	if err := p.rc.SetDefaultFramebuffer(); err != nil {
		return err
	}
	if err := p.rc.ClearBuffer(); err != nil {
		return err
	}
	for _, s := range p.stages {
		if err := s.ExecuteStage(vm); err != nil {
			return err
		}
	}
	return p.rc.SwapBuffers()
}

func (p *Pipeline) ChangeRenderContext(rc *renderer.RenderContext) {
	p.rc = rc
	for _, s := range p.stages {
		s.ChangeRenderContext(rc)
	}
	core.LogDebug("pipeline moved to a new render context with %d stages", len(p.stages))
}
