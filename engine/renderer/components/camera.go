package components

import (
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/pipeline"
)

// Camera is a perspective camera looking from Position at Target. It fills
// the constant buffer of any material global input bound to it with the view
// projection matrix.
type Camera struct {
	position math.Vec3
	target   math.Vec3
	fov      float32
	aspect   float32
	near     float32
	far      float32

	// viewProjection is rebuilt on the next read once isDirty is set
	isDirty        bool
	viewProjection math.Mat4
}

func NewCamera(position, target math.Vec3) *Camera {
	return &Camera{
		position: position,
		target:   target,
		fov:      math.DegToRad(60),
		aspect:   16.0 / 9.0,
		near:     0.1,
		far:      100,
		isDirty:  true,
	}
}

func (c *Camera) Position() math.Vec3 {
	return c.position
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.position = position
	c.isDirty = true
}

func (c *Camera) Target() math.Vec3 {
	return c.target
}

func (c *Camera) SetTarget(target math.Vec3) {
	c.target = target
	c.isDirty = true
}

func (c *Camera) Aspect() float32 {
	return c.aspect
}

// SetAspect ignores non positive ratios, as reported for minimized windows.
func (c *Camera) SetAspect(aspect float32) {
	if aspect <= 0 {
		return
	}
	c.aspect = aspect
	c.isDirty = true
}

func (c *Camera) Forward() math.Vec3 {
	return c.target.Sub(c.position).Normalized()
}

func (c *Camera) View() math.Mat4 {
	return math.NewMat4LookAt(c.position, c.target, math.NewVec3Up())
}

func (c *Camera) Projection() math.Mat4 {
	return math.NewMat4Perspective(c.fov, c.aspect, c.near, c.far)
}

func (c *Camera) ViewProjection() math.Mat4 {
	if c.isDirty {
		c.viewProjection = c.Projection().Mul(c.View())
		c.isDirty = false
	}
	return c.viewProjection
}

// MoveForward moves position and target together along the view direction.
func (c *Camera) MoveForward(amount float32) {
	step := c.Forward().MulScalar(amount)
	c.position = c.position.Add(step)
	c.target = c.target.Add(step)
	c.isDirty = true
}

func (c *Camera) MoveBackward(amount float32) {
	c.MoveForward(-amount)
}

// Orbit rotates the position around the target about the up axis.
func (c *Camera) Orbit(angleRadians float32) {
	offset := c.position.Sub(c.target).Transform(math.NewMat4EulerY(angleRadians))
	c.position = c.target.Add(offset)
	c.isDirty = true
}

// Viewpoint is what stages sort and collect from.
func (c *Camera) Viewpoint() pipeline.Viewpoint {
	return pipeline.Viewpoint{Position: c.position, Direction: c.Forward()}
}

func (c *Camera) DataSizeInBytes() int {
	return 64
}

func (c *Camera) SetData(cb *renderer.ConstantBuffer) error {
	return cb.SetData(c.ViewProjection().Bytes(), 0)
}
