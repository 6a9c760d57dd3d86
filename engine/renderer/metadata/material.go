package metadata

import (
	"fmt"
	"strings"
)

/** @brief Types a material constant input may carry. */
type MaterialInputType int

const (
	MaterialInputFloat MaterialInputType = iota
	MaterialInputFloat2
	MaterialInputFloat3
	MaterialInputFloat4
	MaterialInputMatrix4x4
	MaterialInputCustom
)

// Size is the byte size of the input, zero for custom inputs which declare their own.
func (t MaterialInputType) Size() int {
	switch t {
	case MaterialInputFloat:
		return 4
	case MaterialInputFloat2:
		return 8
	case MaterialInputFloat3:
		return 12
	case MaterialInputFloat4:
		return 16
	case MaterialInputMatrix4x4:
		return 64
	}
	return 0
}

func MaterialInputTypeFromString(s string) (MaterialInputType, error) {
	switch strings.ToLower(s) {
	case "float":
		return MaterialInputFloat, nil
	case "float2", "vec2":
		return MaterialInputFloat2, nil
	case "float3", "vec3":
		return MaterialInputFloat3, nil
	case "float4", "vec4":
		return MaterialInputFloat4, nil
	case "mat4", "matrix4x4":
		return MaterialInputMatrix4x4, nil
	case "custom":
		return MaterialInputCustom, nil
	}
	return 0, fmt.Errorf("unknown material input type `%s`", s)
}
