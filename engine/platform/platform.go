package platform

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/prism/engine/core"
)

// KeyEscape is the key code reported for the escape key.
const KeyEscape = int(glfw.KeyEscape)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Platform owns the window. Width and Height report the framebuffer size in
// pixels, which is what the renderer sizes its targets after.
type Platform struct {
	Window *glfw.Window
	events *core.EventBus

	startTime float64
	width     int
	height    int
}

func New(events *core.EventBus) *Platform {
	return &Platform{events: events}
}

func (p *Platform) Startup(applicationName string, x, y, width, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}
	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogError("failed to create window: %s", err)
		glfw.Terminate()
		return err
	}
	p.Window = window
	p.width, p.height = window.GetFramebufferSize()

	window.SetKeyCallback(p.keyCallback)
	window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	window.SetCloseCallback(p.closeCallback)
	window.SetPos(int(x), int(y))
	window.Show()

	p.startTime = glfw.GetTime()
	core.LogInfo("window `%s` opened at %dx%d", applicationName, p.width, p.height)
	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages dispatches pending window events to the callbacks.
func (p *Platform) PumpMessages() {
	glfw.PollEvents()
}

// GetAbsoluteTime returns the seconds since Startup.
func (p *Platform) GetAbsoluteTime() float64 {
	return glfw.GetTime() - p.startTime
}

func (p *Platform) Width() int {
	return p.width
}

func (p *Platform) Height() int {
	return p.height
}

// Exists is false once the window was closed or destroyed.
func (p *Platform) Exists() bool {
	return p.Window != nil && !p.Window.ShouldClose()
}

func (p *Platform) GetRequiredExtensionNames() []string {
	if p.Window == nil {
		return nil
	}
	return p.Window.GetRequiredInstanceExtensions()
}

func (p *Platform) GetInstanceProcAddress() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

// CreateSurface creates a VkSurfaceKHR for the window and returns its handle.
func (p *Platform) CreateSurface(instance interface{}) (uintptr, error) {
	if p.Window == nil {
		return 0, fmt.Errorf("window is not open")
	}
	return p.Window.CreateWindowSurface(instance, nil)
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	code := core.EventKeyPressed
	switch action {
	case glfw.Release:
		code = core.EventKeyReleased
	case glfw.Repeat:
		return
	}
	p.events.Fire(core.EventContext{Type: code, Data: &core.KeyEvent{KeyCode: int(key)}})
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	if width == p.width && height == p.height {
		return
	}
	p.width, p.height = width, height
	p.events.Fire(core.EventContext{Type: core.EventResized, Data: &core.ResizeEvent{Width: width, Height: height}})
}

func (p *Platform) closeCallback(w *glfw.Window) {
	p.events.Fire(core.EventContext{Type: core.EventApplicationQuit})
}
