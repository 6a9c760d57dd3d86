package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec3Distance(t *testing.T) {
	a := NewVec3(1, 2, 3)
	b := NewVec3(1, 2, 8)
	assert.InDelta(t, 5, a.Distance(b), 1e-6)
	assert.InDelta(t, 0, a.Distance(a), 1e-6)
}

func TestVec3NormalizedZero(t *testing.T) {
	assert.Equal(t, Vec3{}, NewVec3Zero().Normalized())
	assert.InDelta(t, 1, NewVec3(3, 4, 0).Normalized().Length(), 1e-6)
}

func TestMat4IdentityMul(t *testing.T) {
	tr := NewMat4Translation(NewVec3(1, 2, 3))
	assert.Equal(t, tr, NewMat4Identity().Mul(tr))
	assert.Equal(t, tr, tr.Mul(NewMat4Identity()))
}

func TestTranslationThenScale(t *testing.T) {
	m := NewMat4Translation(NewVec3(1, 0, 0)).Mul(NewMat4Scale(NewVec3(2, 2, 2)))
	p := NewVec3(1, 1, 1).Transform(m)
	assert.True(t, p.Compare(NewVec3(3, 2, 2), 1e-6), "got %v", p)
}

func TestLookAtMovesTargetDownNegativeZ(t *testing.T) {
	view := NewMat4LookAt(NewVec3(0, 0, 5), NewVec3Zero(), NewVec3Up())
	p := NewVec3Zero().Transform(view)
	assert.True(t, p.Compare(NewVec3(0, 0, -5), 1e-5), "got %v", p)
}

func TestMat4BytesLength(t *testing.T) {
	b := NewMat4Identity().Bytes()
	assert.Len(t, b, 64)
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, b[:4])
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 3, Clamp(5, 0, 3))
	assert.Equal(t, float32(0), Clamp(float32(-1), 0, 1))
	assert.Equal(t, "b", Clamp("b", "a", "c"))
}
