package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusDispatch(t *testing.T) {
	bus := NewEventBus()
	var got []int
	first, second := &struct{ n int }{1}, &struct{ n int }{2}

	assert.True(t, bus.Register(EventResized, first, func(ctx EventContext) bool {
		got = append(got, ctx.Data.(*ResizeEvent).Width)
		return false
	}))
	assert.False(t, bus.Register(EventResized, first, func(EventContext) bool { return true }))
	assert.True(t, bus.Register(EventResized, second, func(EventContext) bool {
		got = append(got, -1)
		return true
	}))

	handled := bus.Fire(EventContext{Type: EventResized, Data: &ResizeEvent{Width: 800, Height: 600}})
	assert.True(t, handled)
	assert.Equal(t, []int{800, -1}, got)

	assert.True(t, bus.Unregister(EventResized, second))
	assert.False(t, bus.Fire(EventContext{Type: EventResized, Data: &ResizeEvent{Width: 10}}))
	assert.False(t, bus.Fire(EventContext{Type: EventApplicationQuit}))
}

func TestContextStats(t *testing.T) {
	s := NewContextStats()
	s.Hook("PlatformSetViewport")
	s.Hook("PlatformSetViewport")
	s.DrawCalls = 3
	snap := s.Snapshot()
	s.Reset()

	assert.Equal(t, 2, snap.Calls("PlatformSetViewport"))
	assert.Equal(t, 2, snap.TotalHookCalls())
	assert.Equal(t, "draws=3 layout_binds=0 PlatformSetViewport=2", snap.String())
	assert.Equal(t, 0, s.TotalHookCalls())
}
