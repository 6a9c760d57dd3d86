package components

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/prism/engine/math"
)

func TestCameraViewProjectionCaching(t *testing.T) {
	c := NewCamera(math.NewVec3(0, 0, 5), math.NewVec3Zero())
	first := c.ViewProjection()
	assert.Equal(t, first, c.ViewProjection())

	c.SetAspect(1)
	assert.NotEqual(t, first, c.ViewProjection())

	c.SetAspect(0)
	assert.Equal(t, float32(1), c.Aspect())
}

func TestCameraLooksDownNegativeZ(t *testing.T) {
	c := NewCamera(math.NewVec3(0, 0, 5), math.NewVec3Zero())
	assert.True(t, c.Forward().Compare(math.NewVec3(0, 0, -1), 1e-6))

	// the target lands in the middle of the view, in front of the camera
	p := c.target.Transform(c.View())
	assert.InDelta(t, 0, p.X, 1e-5)
	assert.InDelta(t, 0, p.Y, 1e-5)
	assert.InDelta(t, -5, p.Z, 1e-5)

	vp := c.Viewpoint()
	assert.Equal(t, c.Position(), vp.Position)
	assert.True(t, vp.Direction.Compare(c.Forward(), 1e-6))
}

func TestCameraMovement(t *testing.T) {
	c := NewCamera(math.NewVec3(0, 0, 5), math.NewVec3Zero())
	c.MoveForward(2)
	assert.True(t, c.Position().Compare(math.NewVec3(0, 0, 3), 1e-5))
	assert.True(t, c.Target().Compare(math.NewVec3(0, 0, -2), 1e-5))
	c.MoveBackward(2)
	assert.True(t, c.Position().Compare(math.NewVec3(0, 0, 5), 1e-5))

	c.SetTarget(math.NewVec3Zero())
	c.Orbit(math.DegToRad(90))
	assert.InDelta(t, 5, c.Position().Length(), 1e-4)
	assert.InDelta(t, 0, c.Position().Y, 1e-6)
}
