package metadata

import "fmt"

/** @brief The graphics driver family a resource or context belongs to. */
type BackendType uint8

const (
	BackendSoft BackendType = iota
	BackendVulkan
)

func (b BackendType) String() string {
	switch b {
	case BackendSoft:
		return "soft"
	case BackendVulkan:
		return "vulkan"
	}
	return fmt.Sprintf("backend(%d)", uint8(b))
}

func BackendTypeFromString(s string) (BackendType, error) {
	switch s {
	case "soft":
		return BackendSoft, nil
	case "vulkan":
		return BackendVulkan, nil
	}
	return 0, fmt.Errorf("unknown backend `%s`", s)
}

/**
 * @brief Optional features and conventions that differ per backend.
 */
type RenderCapabilities struct {
	SupportsGeometryShaders bool
	SupportsInstancing      bool
	/** @brief UV coordinate of the top left texel. */
	TopLeftUV [2]float32
	/** @brief UV coordinate of the bottom right texel. */
	BottomRightUV [2]float32
}
