package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/platform"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/pipeline"
	"github.com/spaghettifunk/prism/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released every resource
	EngineStageShutdown
)

// assetChangeBuffer bounds the asset paths queued between two frames. Further
// changes are dropped with a warning.
const assetChangeBuffer = 256

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *core.Config
	isSuspended  bool

	// written by the quit event, which may fire off the main goroutine
	isRunning atomic.Bool

	events   *core.EventBus
	platform *platform.Platform
	assets   *assets.AssetDatabase
	jobs     *systems.JobSystem
	clock    *core.Clock
	metrics  *core.Metrics
	lastTime float64

	renderContext *renderer.RenderContext
	targets       *renderTargets
	pipeline      *pipeline.Pipeline

	assetChanges chan string
	cancelWatch  context.CancelFunc
	shutdownOnce sync.Once
	shutdownErr  error
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.Config == nil {
		return nil, fmt.Errorf("game and game configuration are required")
	}
	if err := g.Config.Validate(); err != nil {
		return nil, err
	}
	events := core.NewEventBus()
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       g.Config,
		events:       events,
		platform:     platform.New(events),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		assetChanges: make(chan string, assetChangeBuffer),
	}, nil
}

func (e *Engine) Events() *core.EventBus {
	return e.events
}

func (e *Engine) RenderContext() *renderer.RenderContext {
	return e.renderContext
}

func (e *Engine) Pipeline() *pipeline.Pipeline {
	return e.pipeline
}

func (e *Engine) Assets() *assets.AssetDatabase {
	return e.assets
}

func (e *Engine) Metrics() *core.Metrics {
	return e.metrics
}

func (e *Engine) CurrentStage() Stage {
	return e.currentStage
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	level, err := core.ParseLogLevel(e.config.Logging.Level)
	if err != nil {
		return err
	}
	core.SetLogLevel(level)

	e.registerEvents()

	w := e.config.Window
	if err := e.platform.Startup(e.config.Application.Name, w.X, w.Y, w.Width, w.Height); err != nil {
		return err
	}

	backend, err := newBackend(e.config, e.platform)
	if err != nil {
		return err
	}
	if err := e.attachRenderer(e.platform, backend); err != nil {
		return err
	}

	root, err := filepath.Abs(e.config.Application.AssetRoot)
	if err != nil {
		return err
	}
	if err := e.openAssets(root); err != nil {
		return err
	}
	if err := e.preloadAssets(); err != nil {
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.platform.Width(), e.platform.Height()); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// attachRenderer builds the render context, the configured offscreen targets
// and the stage pipeline on top of an already created backend.
func (e *Engine) attachRenderer(window renderer.Window, backend renderer.Backend) error {
	rc, err := renderer.NewRenderContext(window, backend, renderer.WithClearColor(clearColor(e.config.Renderer.ClearColor)))
	if err != nil {
		return err
	}
	targets, err := createRenderTargets(rc, e.config.Framebuffers)
	if err != nil {
		_ = rc.Destroy()
		return err
	}
	p, err := buildPipeline(rc, e.config.Stages, targets)
	if err != nil {
		_ = targets.destroy()
		_ = rc.Destroy()
		return err
	}
	e.renderContext = rc
	e.targets = targets
	e.pipeline = p
	core.LogInfo("%s renderer ready with %d stage(s)", rc.BackendType(), len(p.Stages()))
	return nil
}

// openAssets opens the asset database and starts watching it. Listeners run
// on the watcher goroutine, so paths are queued and handled by the main loop.
func (e *Engine) openAssets(root string) error {
	db, err := assets.NewAssetDatabase(root)
	if err != nil {
		return err
	}
	db.OnChange(func(path string) {
		select {
		case e.assetChanges <- path:
		default:
			core.LogWarn("asset change queue full, dropping %s", path)
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := db.Watch(ctx); err != nil {
		// hot reload is optional, the database still serves loads
		core.LogWarn("asset hot reload disabled: %s", err)
	}
	e.assets = db
	e.cancelWatch = cancel
	return nil
}

// preloadAssets warms the asset caches with every material on a job system
// sized after the CPU count. Failures are logged, the material errors again
// when the game loads it.
func (e *Engine) preloadAssets() error {
	jobs, err := systems.NewJobSystem(runtime.NumCPU(), 0)
	if err != nil {
		return err
	}
	e.jobs = jobs
	names, err := e.assets.MaterialNames()
	if err != nil {
		return err
	}
	if err := e.assets.Preload(jobs, names...); err != nil {
		core.LogWarn("asset preload: %s", err)
	}
	core.LogDebug("preloaded %d material(s)", len(names))
	return nil
}

// pendingAssetChanges drains the queued asset paths without blocking.
func (e *Engine) pendingAssetChanges() []string {
	var paths []string
	seen := make(map[string]struct{})
	for {
		select {
		case p := <-e.assetChanges:
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				paths = append(paths, p)
			}
		default:
			return paths
		}
	}
}

func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		e.platform.PumpMessages()
		if !e.platform.Exists() {
			e.isRunning.Store(false)
			break
		}
		if e.isSuspended {
			continue
		}
		if err := e.frame(); err != nil {
			core.LogError("frame failed, shutting down: %s", err)
			e.isRunning.Store(false)
			return err
		}
	}
	return nil
}

// frame runs one iteration of the main loop: asset changes, game update and
// the stage pipeline.
func (e *Engine) frame() error {
	e.clock.Update()
	currentTime := e.clock.Elapsed()
	delta := currentTime - e.lastTime
	frameStart := e.platform.GetAbsoluteTime()

	if paths := e.pendingAssetChanges(); len(paths) > 0 && e.gameInstance.FnAssetsChanged != nil {
		if err := e.gameInstance.FnAssetsChanged(paths); err != nil {
			return fmt.Errorf("asset reload: %w", err)
		}
	}
	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			return fmt.Errorf("game update: %w", err)
		}
	}
	if err := e.pipeline.RenderFrame(e.gameInstance.Visibility); err != nil {
		return err
	}

	e.metrics.Update(e.platform.GetAbsoluteTime() - frameStart)
	e.lastTime = currentTime
	return nil
}

// Shutdown releases everything Initialize created. It is safe to call more
// than once.
func (e *Engine) Shutdown() error {
	e.shutdownOnce.Do(func() {
		e.currentStage = EngineStageShuttingDown
		e.isRunning.Store(false)

		var errs []error
		if e.gameInstance.FnShutdown != nil {
			errs = append(errs, e.gameInstance.FnShutdown())
		}
		if e.cancelWatch != nil {
			e.cancelWatch()
		}
		if e.jobs != nil {
			errs = append(errs, e.jobs.Shutdown())
		}
		if e.assets != nil {
			errs = append(errs, e.assets.Close())
		}
		if e.targets != nil {
			errs = append(errs, e.targets.destroy())
		}
		if e.renderContext != nil {
			errs = append(errs, e.renderContext.Destroy())
		}
		e.events.Shutdown()
		if e.platform.Window != nil {
			errs = append(errs, e.platform.Shutdown())
		}
		for _, err := range errs {
			if err != nil && e.shutdownErr == nil {
				e.shutdownErr = err
			}
		}
		e.clock.Stop()
		e.currentStage = EngineStageShutdown
		core.LogInfo("engine shut down (%.1f fps average over the last second)", e.metrics.FPSValue())
	})
	return e.shutdownErr
}

func (e *Engine) registerEvents() {
	e.events.Register(core.EventApplicationQuit, e, e.onEvent)
	e.events.Register(core.EventKeyPressed, e, e.onKey)
	e.events.Register(core.EventResized, e, e.onResized)
}

func (e *Engine) onEvent(context core.EventContext) bool {
	if context.Type == core.EventApplicationQuit {
		core.LogInfo("application quit received, shutting down")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onKey(context core.EventContext) bool {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	if ke.KeyCode == platform.KeyEscape {
		// other quit listeners still get the event
		e.events.Fire(core.EventContext{Type: core.EventApplicationQuit})
		return true
	}
	return false
}

func (e *Engine) onResized(context core.EventContext) bool {
	re, ok := context.Data.(*core.ResizeEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	if re.Width == 0 || re.Height == 0 {
		core.LogInfo("window minimized, suspending application")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("window restored, resuming application")
		e.isSuspended = false
	}
	core.LogDebug("window resize: %d, %d", re.Width, re.Height)
	if e.renderContext != nil {
		if err := e.renderContext.Resize(re.Width, re.Height); err != nil {
			core.LogError("renderer resize failed: %s", err)
			return true
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(re.Width, re.Height); err != nil {
			core.LogError("game resize failed: %s", err)
		}
	}
	return false
}
