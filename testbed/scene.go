package testbed

import (
	pmath "github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipeline"
)

type vertex struct {
	Position [3]float32
	UV       [2]float32
}

// quadGeometry is a unit quad in the XY plane shared by every quad.
type quadGeometry struct {
	vertices *renderer.VertexBuffer
	indices  *renderer.IndexBuffer
}

var (
	quadVertices = []vertex{
		{Position: [3]float32{-0.5, -0.5, 0}, UV: [2]float32{0, 0}},
		{Position: [3]float32{0.5, -0.5, 0}, UV: [2]float32{1, 0}},
		{Position: [3]float32{0.5, 0.5, 0}, UV: [2]float32{1, 1}},
		{Position: [3]float32{-0.5, 0.5, 0}, UV: [2]float32{0, 1}},
	}
	quadIndices = []uint16{0, 1, 2, 2, 3, 0}
)

func newQuadGeometry(f renderer.ResourceFactory) (*quadGeometry, error) {
	vb, err := f.CreateVertexBuffer(len(quadVertices)*20, metadata.BufferHintStatic)
	if err != nil {
		return nil, err
	}
	if err := renderer.SetSliceData(&vb.DeviceBuffer, quadVertices, 0); err != nil {
		_ = vb.Destroy()
		return nil, err
	}
	ib, err := f.CreateIndexBuffer(len(quadIndices)*2, metadata.IndexFormatUInt16, metadata.BufferHintStatic)
	if err != nil {
		_ = vb.Destroy()
		return nil, err
	}
	if err := ib.SetIndices16(quadIndices, 0); err != nil {
		_ = renderer.ReleaseAll(vb, ib)
		return nil, err
	}
	return &quadGeometry{vertices: vb, indices: ib}, nil
}

// quad is a spinning textured quad drawn with one of the scene materials.
type quad struct {
	name        string
	material    string
	materialID  uint32
	stages      []string
	position    pmath.Vec3
	spin        float32
	angle       float32
	transparent bool

	state *gameState
}

func (q *quad) Stages() []string {
	return q.stages
}

func (q *quad) SortKey(viewPosition pmath.Vec3) pipeline.RenderOrderKey {
	d := q.position.Distance(viewPosition)
	if q.transparent {
		return pipeline.NewTransparentRenderOrderKey(d)
	}
	return pipeline.NewRenderOrderKey(q.materialID, d)
}

func (q *quad) world() pmath.Mat4 {
	return pmath.NewMat4Translation(q.position).Mul(pmath.NewMat4EulerY(q.angle))
}

func (q *quad) Render(rc *renderer.RenderContext, stage string) error {
	s := q.state
	m, ok := s.materials[q.material]
	if !ok {
		return nil
	}
	blend, depth := s.opaque, s.depth
	if q.transparent {
		blend, depth = s.alpha, s.readOnly
	}
	if err := rc.SetBlendState(blend); err != nil {
		return err
	}
	if err := rc.SetDepthStencilState(depth); err != nil {
		return err
	}
	if err := m.ApplyPerObjectInput(q.world().Bytes()); err != nil {
		return err
	}
	if err := m.Apply(rc); err != nil {
		return err
	}
	if err := rc.SetVertexBuffer(0, s.geometry.vertices); err != nil {
		return err
	}
	if err := rc.SetIndexBuffer(s.geometry.indices); err != nil {
		return err
	}
	return rc.DrawIndexedPrimitives(len(quadIndices), 0)
}
