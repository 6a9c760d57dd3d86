package metadata

type Blend int

const (
	BlendZero Blend = iota
	BlendOne
	BlendSourceAlpha
	BlendInverseSourceAlpha
	BlendDestinationAlpha
	BlendInverseDestinationAlpha
	BlendSourceColor
	BlendInverseSourceColor
	BlendDestinationColor
	BlendInverseDestinationColor
	BlendFactor
	BlendInverseBlendFactor
)

type BlendFunction int

const (
	BlendFunctionAdd BlendFunction = iota
	BlendFunctionSubtract
	BlendFunctionReverseSubtract
	BlendFunctionMinimum
	BlendFunctionMaximum
)

/**
 * @brief Fixed function color blending. Comparable with ==.
 */
type BlendStateDescription struct {
	Enabled          bool
	SourceColor      Blend
	DestinationColor Blend
	ColorFunction    BlendFunction
	SourceAlpha      Blend
	DestinationAlpha Blend
	AlphaFunction    BlendFunction
	BlendFactor      RgbaFloat
}

var (
	BlendOverride = BlendStateDescription{
		Enabled:          false,
		SourceColor:      BlendOne,
		DestinationColor: BlendZero,
		SourceAlpha:      BlendOne,
		DestinationAlpha: BlendZero,
	}
	BlendAlpha = BlendStateDescription{
		Enabled:          true,
		SourceColor:      BlendSourceAlpha,
		DestinationColor: BlendInverseSourceAlpha,
		SourceAlpha:      BlendSourceAlpha,
		DestinationAlpha: BlendInverseSourceAlpha,
	}
	BlendAdditive = BlendStateDescription{
		Enabled:          true,
		SourceColor:      BlendSourceAlpha,
		DestinationColor: BlendOne,
		SourceAlpha:      BlendSourceAlpha,
		DestinationAlpha: BlendOne,
	}
)

type DepthComparison int

const (
	DepthNever DepthComparison = iota
	DepthLess
	DepthEqual
	DepthLessEqual
	DepthGreater
	DepthNotEqual
	DepthGreaterEqual
	DepthAlways
)

/**
 * @brief Depth and stencil testing. Comparable with ==.
 */
type DepthStencilStateDescription struct {
	DepthTestEnabled  bool
	DepthWriteEnabled bool
	Comparison        DepthComparison
}

var (
	DepthDefault = DepthStencilStateDescription{
		DepthTestEnabled:  true,
		DepthWriteEnabled: true,
		Comparison:        DepthLessEqual,
	}
	DepthReadOnly = DepthStencilStateDescription{
		DepthTestEnabled:  true,
		DepthWriteEnabled: false,
		Comparison:        DepthLessEqual,
	}
	DepthDisabled = DepthStencilStateDescription{
		DepthTestEnabled:  false,
		DepthWriteEnabled: false,
		Comparison:        DepthAlways,
	}
)

// WithoutDepth is the state actually applied when the bound target has no
// depth attachment.
func (d DepthStencilStateDescription) WithoutDepth() DepthStencilStateDescription {
	d.DepthTestEnabled = false
	d.DepthWriteEnabled = false
	return d
}

type FaceCullingMode int

const (
	FaceCullBack FaceCullingMode = iota
	FaceCullFront
	FaceCullNone
)

type TriangleFillMode int

const (
	FillSolid TriangleFillMode = iota
	FillWireframe
)

/**
 * @brief Rasterizer configuration. Comparable with ==.
 */
type RasterizerStateDescription struct {
	CullMode           FaceCullingMode
	FillMode           TriangleFillMode
	FrontFaceClockwise bool
	DepthClipEnabled   bool
}

var (
	RasterizerCullBack = RasterizerStateDescription{
		CullMode:         FaceCullBack,
		FillMode:         FillSolid,
		DepthClipEnabled: true,
	}
	RasterizerCullNone = RasterizerStateDescription{
		CullMode:         FaceCullNone,
		FillMode:         FillSolid,
		DepthClipEnabled: true,
	}
)
