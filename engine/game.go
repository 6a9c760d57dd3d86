package engine

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/pipeline"
)

type Game struct {
	Config *core.Config
	State  interface{}

	// Visibility supplies the items the stages draw each frame.
	Visibility pipeline.VisibilityManager

	FnInitialize    Initialize
	FnUpdate        Update
	FnOnResize      OnResize
	FnAssetsChanged AssetsChanged
	FnShutdown      Shutdown
}

type Initialize func(e *Engine) error
type Update func(deltaTime float64) error
type OnResize func(width, height int) error

// AssetsChanged runs on the main loop with the asset paths changed since the
// previous frame.
type AssetsChanged func(paths []string) error
type Shutdown func() error
