/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/testbed"
)

func loadConfig(path string) (*core.Config, error) {
	cfg, err := core.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		core.LogWarn("no configuration at %s, using defaults", path)
		return core.DefaultConfig(), nil
	}
	return cfg, err
}

func main() {
	configPath := flag.String("config", "config.toml", "path to the engine configuration")
	backend := flag.String("backend", "", "override the configured renderer backend (vulkan or soft)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		core.LogFatal("invalid configuration: %s", err)
	}
	if *backend != "" {
		cfg.Renderer.Backend = *backend
	}

	tb := testbed.NewTestGame(cfg)

	engine, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal(err.Error())
	}

	if err := engine.Initialize(); err != nil {
		_ = engine.Shutdown()
		core.LogFatal("engine initialization failed: %s", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// ask the main loop to stop; resources are released on the main thread
	go func() {
		<-sigCh
		engine.Events().Fire(core.EventContext{Type: core.EventApplicationQuit})
	}()

	runErr := engine.Run()
	if err := engine.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
