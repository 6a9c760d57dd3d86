package assets

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// TextureAsset is a decoded image in RGBA8, rows top to bottom.
type TextureAsset struct {
	Path   string
	Format string
	Width  int
	Height int
	Pixels []byte
}

// DecodeTexture decodes any registered image format into RGBA8. flipY
// reverses the row order for shaders that sample with a bottom left origin.
func DecodeTexture(path string, data []byte, flipY bool) (*TextureAsset, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not decode texture `%s`: %w", path, err)
	}
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*bounds.Dx() || bounds.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}
	t := &TextureAsset{
		Path:   path,
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pixels: rgba.Pix,
	}
	if flipY {
		t.flip()
	}
	return t, nil
}

func (t *TextureAsset) flip() {
	stride := t.Width * 4
	row := make([]byte, stride)
	for top, bottom := 0, t.Height-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := t.Pixels[top*stride : (top+1)*stride]
		b := t.Pixels[bottom*stride : (bottom+1)*stride]
		copy(row, a)
		copy(a, b)
		copy(b, row)
	}
}

func (t *TextureAsset) Description() metadata.TextureDescription {
	return metadata.TextureDescription{
		Width:     t.Width,
		Height:    t.Height,
		Format:    metadata.PixelFormatR8G8B8A8UNorm,
		MipLevels: 1,
	}
}

// Input binds the texture to a material input.
func (t *TextureAsset) Input(name string) renderer.TextureDataInput {
	return renderer.TextureDataInput{
		Name:        name,
		Description: t.Description(),
		Pixels:      t.Pixels,
	}
}
