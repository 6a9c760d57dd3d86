package metadata

import (
	"fmt"
	"strings"
)

type PrimitiveTopology int

const (
	TriangleList PrimitiveTopology = iota
	TriangleStrip
	LineList
	LineStrip
	PointList
)

func (t PrimitiveTopology) String() string {
	switch t {
	case TriangleList:
		return "triangle_list"
	case TriangleStrip:
		return "triangle_strip"
	case LineList:
		return "line_list"
	case LineStrip:
		return "line_strip"
	case PointList:
		return "point_list"
	}
	return "unknown"
}

type IndexFormat int

const (
	IndexFormatUInt16 IndexFormat = iota
	IndexFormatUInt32
)

// Size returns the size of one index in bytes.
func (f IndexFormat) Size() int {
	if f == IndexFormatUInt32 {
		return 4
	}
	return 2
}

type PixelFormat int

const (
	PixelFormatR8G8B8A8UNorm PixelFormat = iota
	PixelFormatB8G8R8A8UNorm
	PixelFormatR32G32B32A32Float
	PixelFormatR8UNorm
	PixelFormatR16UInt
	PixelFormatD24S8
	PixelFormatD32Float
)

func (f PixelFormat) Size() int {
	switch f {
	case PixelFormatR8G8B8A8UNorm, PixelFormatB8G8R8A8UNorm, PixelFormatD24S8, PixelFormatD32Float:
		return 4
	case PixelFormatR32G32B32A32Float:
		return 16
	case PixelFormatR8UNorm:
		return 1
	case PixelFormatR16UInt:
		return 2
	}
	return 0
}

func (f PixelFormat) IsDepth() bool {
	return f == PixelFormatD24S8 || f == PixelFormatD32Float
}

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatR8G8B8A8UNorm:
		return "rgba8"
	case PixelFormatB8G8R8A8UNorm:
		return "bgra8"
	case PixelFormatR32G32B32A32Float:
		return "rgba32f"
	case PixelFormatR8UNorm:
		return "r8"
	case PixelFormatR16UInt:
		return "r16ui"
	case PixelFormatD24S8:
		return "d24s8"
	case PixelFormatD32Float:
		return "d32f"
	}
	return "unknown"
}

// ParsePixelFormat accepts the short names used in configuration and asset files.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(s) {
	case "rgba8", "":
		return PixelFormatR8G8B8A8UNorm, nil
	case "bgra8":
		return PixelFormatB8G8R8A8UNorm, nil
	case "rgba32f":
		return PixelFormatR32G32B32A32Float, nil
	case "r8":
		return PixelFormatR8UNorm, nil
	case "r16ui":
		return PixelFormatR16UInt, nil
	case "d24s8":
		return PixelFormatD24S8, nil
	case "d32f":
		return PixelFormatD32Float, nil
	}
	return 0, fmt.Errorf("unknown pixel format `%s`", s)
}

type TextureDescription struct {
	Width     int
	Height    int
	Format    PixelFormat
	MipLevels int
}

// DataSize is the byte size of the top mip level.
func (d TextureDescription) DataSize() int {
	return d.Width * d.Height * d.Format.Size()
}

// MipSize returns the dimensions of the given level, never below one texel.
func (d TextureDescription) MipSize(level int) (int, int) {
	w, h := d.Width>>level, d.Height>>level
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

type BufferUsage int

const (
	BufferUsageVertex BufferUsage = iota
	BufferUsageIndex
	BufferUsageUniform
)

func (u BufferUsage) String() string {
	switch u {
	case BufferUsageVertex:
		return "vertex"
	case BufferUsageIndex:
		return "index"
	case BufferUsageUniform:
		return "uniform"
	}
	return "unknown"
}

type BufferUsageHint int

const (
	BufferHintStatic BufferUsageHint = iota
	BufferHintDynamic
)

/** @brief Shader stages available in the system. */
type ShaderStage int

const (
	ShaderStageVertex ShaderStage = iota
	ShaderStageGeometry
	ShaderStageFragment
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStageGeometry:
		return "geometry"
	case ShaderStageFragment:
		return "fragment"
	}
	return "unknown"
}
