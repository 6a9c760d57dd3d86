package pipeline

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	pmath "github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
)

// Viewpoint is where a stage looks from when collecting and sorting.
type Viewpoint struct {
	Position  pmath.Vec3
	Direction pmath.Vec3
}

var DefaultViewpoint = Viewpoint{Direction: pmath.NewVec3Forward()}

// Stage is one pass of a frame.
type Stage interface {
	Name() string
	Enabled() bool
	SetEnabled(enabled bool)
	ExecuteStage(vm VisibilityManager) error
	ChangeRenderContext(rc *renderer.RenderContext)
}

// StandardStage draws every visible item of its name into a target, sorted
// by RenderOrderKey.
type StandardStage struct {
	name        string
	enabled     bool
	clearOnBind bool
	viewpoint   Viewpoint
	override    renderer.Framebuffer
	rc          *renderer.RenderContext
	queue       *RenderQueue
}

type StageOption func(s *StandardStage)

// WithOverrideFramebuffer draws into fb instead of the default framebuffer.
func WithOverrideFramebuffer(fb renderer.Framebuffer) StageOption {
	return func(s *StandardStage) {
		s.override = fb
	}
}

func WithViewpoint(vp Viewpoint) StageOption {
	return func(s *StandardStage) {
		s.viewpoint = vp
	}
}

func WithClearOnBind(clear bool) StageOption {
	return func(s *StandardStage) {
		s.clearOnBind = clear
	}
}

func WithEnabled(enabled bool) StageOption {
	return func(s *StandardStage) {
		s.enabled = enabled
	}
}

func NewStandardStage(rc *renderer.RenderContext, name string, opts ...StageOption) *StandardStage {
	s := &StandardStage{
		name:      name,
		enabled:   true,
		viewpoint: DefaultViewpoint,
		rc:        rc,
		queue:     NewRenderQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StandardStage) Name() string {
	return s.name
}

func (s *StandardStage) Enabled() bool {
	return s.enabled
}

func (s *StandardStage) SetEnabled(enabled bool) {
	s.enabled = enabled
}

func (s *StandardStage) Viewpoint() Viewpoint {
	return s.viewpoint
}

func (s *StandardStage) SetViewpoint(vp Viewpoint) {
	s.viewpoint = vp
}

func (s *StandardStage) OverrideFramebuffer() renderer.Framebuffer {
	return s.override
}

func (s *StandardStage) RenderContext() *renderer.RenderContext {
	return s.rc
}

func (s *StandardStage) ChangeRenderContext(rc *renderer.RenderContext) {
	s.rc = rc
}

// Queue exposes the items of the last execution, in submission order.
func (s *StandardStage) Queue() *RenderQueue {
	return s.queue
}

func (s *StandardStage) ExecuteStage(vm VisibilityManager) error {
	if !s.enabled {
		return nil
	}
	if s.rc == nil {
		return core.NewPreconditionError("ExecuteStage", "stage `%s` has no render context", s.name)
	}
	if err := s.bindTarget(); err != nil {
		return fmt.Errorf("stage `%s`: %w", s.name, err)
	}

	s.queue.Clear()
	if vm != nil {
		vm.CollectVisibleObjects(s.queue, s.name, s.viewpoint.Position, s.viewpoint.Direction)
	}
	s.queue.Sort(s.viewpoint.Position)

	if err := s.queue.Each(func(item RenderItem) error {
		return item.Render(s.rc, s.name)
	}); err != nil {
		err = fmt.Errorf("stage `%s`: %w", s.name, err)
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (s *StandardStage) bindTarget() error {
	var err error
	if s.override != nil {
		err = s.rc.SetFramebuffer(s.override)
	} else {
		err = s.rc.SetDefaultFramebuffer()
	}
	if err != nil {
		return err
	}
	fb := s.rc.CurrentFramebuffer()
	if err := s.rc.SetViewport(0, 0, fb.Width(), fb.Height()); err != nil {
		return err
	}
	if s.clearOnBind {
		return s.rc.ClearBuffer()
	}
	return nil
}
