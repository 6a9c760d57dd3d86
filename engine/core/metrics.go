package core

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const AVG_COUNT uint8 = 30

// Metrics tracks frame timings for one engine loop.
type Metrics struct {
	FrameAVGCounter    uint8
	MStimes            [AVG_COUNT]float64
	MSavg              float64
	Frames             int32
	AccumulatedFrameMS float64
	FPS                float64
}

func NewMetrics() *Metrics {
	return &Metrics{
		MStimes: [AVG_COUNT]float64{0},
	}
}

func (m *Metrics) Update(frameElapsedTime float64) {
	// Calculate frame ms average
	frameMS := frameElapsedTime * 1000.0
	m.MStimes[m.FrameAVGCounter] = frameMS
	if m.FrameAVGCounter == AVG_COUNT-1 {
		m.MSavg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.MSavg += m.MStimes[i]
		}
		m.MSavg /= float64(AVG_COUNT)
	}
	m.FrameAVGCounter++
	m.FrameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	m.AccumulatedFrameMS += frameMS
	if m.AccumulatedFrameMS > 1000 {
		m.FPS = float64(m.Frames)
		m.AccumulatedFrameMS -= 1000
		m.Frames = 0
	}

	// Count all Frames.
	m.Frames++
}

func (m *Metrics) FPSValue() float64 {
	return m.FPS
}

func (m *Metrics) FrameTime() float64 {
	return m.MSavg
}

// ContextStats counts what a render context asked of its backend.
type ContextStats struct {
	HookCalls   map[string]int
	DrawCalls   int
	LayoutBinds int
}

func NewContextStats() *ContextStats {
	return &ContextStats{HookCalls: map[string]int{}}
}

func (s *ContextStats) Hook(name string) {
	s.HookCalls[name]++
}

// Calls returns how often the named hook ran.
func (s *ContextStats) Calls(name string) int {
	return s.HookCalls[name]
}

func (s *ContextStats) TotalHookCalls() int {
	total := 0
	for _, n := range s.HookCalls {
		total += n
	}
	return total
}

func (s *ContextStats) Snapshot() ContextStats {
	return ContextStats{
		HookCalls:   maps.Clone(s.HookCalls),
		DrawCalls:   s.DrawCalls,
		LayoutBinds: s.LayoutBinds,
	}
}

func (s *ContextStats) Reset() {
	maps.Clear(s.HookCalls)
	s.DrawCalls = 0
	s.LayoutBinds = 0
}

func (s ContextStats) String() string {
	names := make([]string, 0, len(s.HookCalls))
	for n := range s.HookCalls {
		names = append(names, n)
	}
	slices.Sort(names)
	var b strings.Builder
	fmt.Fprintf(&b, "draws=%d layout_binds=%d", s.DrawCalls, s.LayoutBinds)
	for _, n := range names {
		fmt.Fprintf(&b, " %s=%d", n, s.HookCalls[n])
	}
	return b.String()
}
