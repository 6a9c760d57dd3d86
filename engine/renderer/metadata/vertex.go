package metadata

import (
	"fmt"
	"strings"
)

type VertexElementFormat int

const (
	VertexFloat1 VertexElementFormat = iota
	VertexFloat2
	VertexFloat3
	VertexFloat4
	VertexByte4
)

func (f VertexElementFormat) Size() int {
	switch f {
	case VertexFloat1:
		return 4
	case VertexFloat2:
		return 8
	case VertexFloat3:
		return 12
	case VertexFloat4:
		return 16
	case VertexByte4:
		return 4
	}
	return 0
}

func (f VertexElementFormat) ComponentCount() int {
	switch f {
	case VertexFloat1:
		return 1
	case VertexFloat2:
		return 2
	case VertexFloat3:
		return 3
	}
	return 4
}

func VertexElementFormatFromString(s string) (VertexElementFormat, error) {
	switch strings.ToLower(s) {
	case "float1", "float":
		return VertexFloat1, nil
	case "float2":
		return VertexFloat2, nil
	case "float3":
		return VertexFloat3, nil
	case "float4":
		return VertexFloat4, nil
	case "byte4":
		return VertexByte4, nil
	}
	return 0, fmt.Errorf("unknown vertex element format `%s`", s)
}

type VertexElementSemantic int

const (
	SemanticPosition VertexElementSemantic = iota
	SemanticNormal
	SemanticTextureCoordinate
	SemanticColor
)

func VertexElementSemanticFromString(s string) (VertexElementSemantic, error) {
	switch strings.ToLower(s) {
	case "position":
		return SemanticPosition, nil
	case "normal":
		return SemanticNormal, nil
	case "texcoord", "texture_coordinate":
		return SemanticTextureCoordinate, nil
	case "color":
		return SemanticColor, nil
	}
	return 0, fmt.Errorf("unknown vertex semantic `%s`", s)
}

type StorageClassifier int

const (
	PerVertex StorageClassifier = iota
	PerInstance
)

type VertexInputElement struct {
	Name             string
	Semantic         VertexElementSemantic
	Format           VertexElementFormat
	Classifier       StorageClassifier
	InstanceStepRate int
}

// VertexInputDescription is the interleaved format of one vertex buffer slot.
type VertexInputDescription struct {
	Elements []VertexInputElement
	// StrideInBytes overrides the tightly packed stride when non zero.
	StrideInBytes int
}

func (d VertexInputDescription) Stride() int {
	if d.StrideInBytes > 0 {
		return d.StrideInBytes
	}
	stride := 0
	for _, e := range d.Elements {
		stride += e.Format.Size()
	}
	return stride
}

func (d VertexInputDescription) ElementOffset(index int) int {
	offset := 0
	for i := 0; i < index && i < len(d.Elements); i++ {
		offset += d.Elements[i].Format.Size()
	}
	return offset
}

// PerInstance reports whether the slot advances per instance instead of per vertex.
func (d VertexInputDescription) PerInstance() bool {
	return len(d.Elements) > 0 && d.Elements[0].Classifier == PerInstance
}

/**
 * @brief All vertex buffer slots a shader set consumes, in slot order.
 */
type MaterialVertexInput struct {
	Inputs []VertexInputDescription
}

func (m MaterialVertexInput) ElementCount() int {
	n := 0
	for _, in := range m.Inputs {
		n += len(in.Elements)
	}
	return n
}

// Key is a stable textual form used to share layouts between shader sets.
func (m MaterialVertexInput) Key() string {
	var b strings.Builder
	for slot, in := range m.Inputs {
		fmt.Fprintf(&b, "[%d:%d", slot, in.Stride())
		for _, e := range in.Elements {
			fmt.Fprintf(&b, " %s/%d/%d/%d/%d", e.Name, e.Semantic, e.Format, e.Classifier, e.InstanceStepRate)
		}
		b.WriteByte(']')
	}
	return b.String()
}
