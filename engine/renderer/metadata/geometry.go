package metadata

type RgbaFloat struct {
	R, G, B, A float32
}

var (
	ColorBlack       = RgbaFloat{0, 0, 0, 1}
	ColorWhite       = RgbaFloat{1, 1, 1, 1}
	ColorCornflower  = RgbaFloat{0.392, 0.584, 0.929, 1}
	ColorTransparent = RgbaFloat{}
)

func (c RgbaFloat) Equal(o RgbaFloat) bool {
	return c == o
}

// Bytes packs the color into 8-bit RGBA.
func (c RgbaFloat) Bytes() [4]byte {
	conv := func(v float32) byte {
		if v <= 0 {
			return 0
		}
		if v >= 1 {
			return 255
		}
		return byte(v*255 + 0.5)
	}
	return [4]byte{conv(c.R), conv(c.G), conv(c.B), conv(c.A)}
}

type Rectangle struct {
	X, Y, Width, Height int
}

func (r Rectangle) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

type Viewport struct {
	X, Y, Width, Height int
}
