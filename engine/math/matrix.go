package math

import (
	"encoding/binary"
	"math"
)

func NewMat4Identity() Mat4 {
	var m Mat4
	m.Data[0], m.Data[5], m.Data[10], m.Data[15] = 1, 1, 1, 1
	return m
}

// Mul returns m applied after other.
func (m Mat4) Mul(other Mat4) Mat4 {
	var out Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += m.Data[k*4+row] * other.Data[col*4+k]
			}
			out.Data[col*4+row] = sum
		}
	}
	return out
}

func NewMat4Orthographic(left, right, bottom, top, nearClip, farClip float32) Mat4 {
	m := NewMat4Identity()
	lr := 1 / (left - right)
	bt := 1 / (bottom - top)
	nf := 1 / (nearClip - farClip)
	m.Data[0] = -2 * lr
	m.Data[5] = -2 * bt
	m.Data[10] = 2 * nf
	m.Data[12] = (left + right) * lr
	m.Data[13] = (top + bottom) * bt
	m.Data[14] = (farClip + nearClip) * nf
	return m
}

func NewMat4Perspective(fovRadians, aspectRatio, nearClip, farClip float32) Mat4 {
	halfTan := float32(math.Tan(float64(fovRadians) * 0.5))
	var m Mat4
	m.Data[0] = 1 / (aspectRatio * halfTan)
	m.Data[5] = 1 / halfTan
	m.Data[10] = -((farClip + nearClip) / (farClip - nearClip))
	m.Data[11] = -1
	m.Data[14] = -((2 * farClip * nearClip) / (farClip - nearClip))
	return m
}

// NewMat4LookAt builds a view matrix looking from position at target.
func NewMat4LookAt(position, target, up Vec3) Mat4 {
	z := target.Sub(position).Normalized()
	x := z.Cross(up).Normalized()
	y := x.Cross(z)
	return Mat4{Data: [16]float32{
		x.X, y.X, -z.X, 0,
		x.Y, y.Y, -z.Y, 0,
		x.Z, y.Z, -z.Z, 0,
		-x.Dot(position), -y.Dot(position), z.Dot(position), 1,
	}}
}

func NewMat4Translation(position Vec3) Mat4 {
	m := NewMat4Identity()
	m.Data[12], m.Data[13], m.Data[14] = position.X, position.Y, position.Z
	return m
}

func NewMat4Scale(scale Vec3) Mat4 {
	m := NewMat4Identity()
	m.Data[0], m.Data[5], m.Data[10] = scale.X, scale.Y, scale.Z
	return m
}

func NewMat4EulerY(angleRadians float32) Mat4 {
	m := NewMat4Identity()
	c := float32(math.Cos(float64(angleRadians)))
	s := float32(math.Sin(float64(angleRadians)))
	m.Data[0], m.Data[2] = c, -s
	m.Data[8], m.Data[10] = s, c
	return m
}

// Transform multiplies v, as a point, by m.
func (v Vec3) Transform(m Mat4) Vec3 {
	return Vec3{
		v.X*m.Data[0] + v.Y*m.Data[4] + v.Z*m.Data[8] + m.Data[12],
		v.X*m.Data[1] + v.Y*m.Data[5] + v.Z*m.Data[9] + m.Data[13],
		v.X*m.Data[2] + v.Y*m.Data[6] + v.Z*m.Data[10] + m.Data[14],
	}
}

// Bytes encodes the matrix little endian, ready for a constant buffer.
func (m Mat4) Bytes() []byte {
	out := make([]byte, 64)
	for i, f := range m.Data {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}
