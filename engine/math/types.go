package math

type Vec2 struct {
	X, Y float32
}

type Vec3 struct {
	X, Y, Z float32
}

type Vec4 struct {
	X, Y, Z, W float32
}

/** @brief A 4x4 column major matrix, laid out the way shader constant blocks expect it. */
type Mat4 struct {
	Data [16]float32
}

/**
 * @brief Vertex layout used by the demo geometry: position then colour,
 * matching a Float3 + Float4 vertex input description.
 */
type VertexPositionColor struct {
	Position Vec3
	Colour   Vec4
}

/**
 * @brief Vertex layout for textured geometry: position then texture coordinate.
 */
type VertexPositionTexture struct {
	Position Vec3
	Texcoord Vec2
}
