package pipeline

import (
	"math"

	pmath "github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
)

// RenderOrderKey sorts ascending. The high 32 bits carry a distance, the low
// bits group items sharing a material so state changes are minimized.
type RenderOrderKey uint64

// NewRenderOrderKey orders nearer items first.
func NewRenderOrderKey(materialID uint32, distance float32) RenderOrderKey {
	return RenderOrderKey(uint64(distanceBits(distance))<<32 | uint64(materialID))
}

// NewTransparentRenderOrderKey orders farther items first, as blending requires.
func NewTransparentRenderOrderKey(distance float32) RenderOrderKey {
	return RenderOrderKey(uint64(math.MaxUint32-distanceBits(distance)) << 32)
}

// distanceBits maps a non negative float to bits that compare like the float.
func distanceBits(distance float32) uint32 {
	if distance < 0 || distance != distance {
		distance = 0
	}
	return math.Float32bits(distance)
}

// RenderItem is anything a stage can draw. Items are collected fresh every
// frame, the queue never keeps them across executions.
type RenderItem interface {
	// Stages lists the names of the stages this item is drawn in.
	Stages() []string
	SortKey(viewPosition pmath.Vec3) RenderOrderKey
	Render(rc *renderer.RenderContext, stage string) error
}

// Cullable items may opt out of a stage after the stage name matched.
type Cullable interface {
	Cull(viewPosition, viewDirection pmath.Vec3) bool
}

func participatesIn(item RenderItem, stage string) bool {
	for _, s := range item.Stages() {
		if s == stage {
			return true
		}
	}
	return false
}
