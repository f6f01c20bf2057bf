package summary

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	// Scale is the upscaling factor applied to each tile.
	Scale = 4

	captionHeight = 16
	gap           = 2
)

// ImageGrid lays out count single-channel images side by side. pixels
// holds count images of width*height values in [0, 1], row-major; values
// outside are clamped. captions, when non-nil, are drawn under each tile.
func ImageGrid(pixels []float32, count, width, height int, captions []string) (*image.RGBA, error) {
	if count <= 0 || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image grid: invalid size %d x %dx%d", count, width, height)
	}
	if len(pixels) < count*width*height {
		return nil, fmt.Errorf("image grid: need %d pixels, got %d", count*width*height, len(pixels))
	}
	if captions != nil && len(captions) != count {
		return nil, fmt.Errorf("image grid: %d captions for %d images", len(captions), count)
	}

	tileW, tileH := width*Scale, height*Scale
	total := image.Rect(0, 0, count*(tileW+gap)-gap, tileH+captionHeight)
	dst := image.NewRGBA(total)
	draw.Draw(dst, total, image.Black, image.Point{}, draw.Src)

	for i := 0; i < count; i++ {
		tile := image.NewGray(image.Rect(0, 0, width, height))
		for p, v := range pixels[i*width*height : (i+1)*width*height] {
			tile.Pix[p] = toGray(v)
		}

		left := i * (tileW + gap)
		rect := image.Rect(left, 0, left+tileW, tileH)
		draw.NearestNeighbor.Scale(dst, rect, tile, tile.Bounds(), draw.Src, nil)

		if captions != nil {
			d := &font.Drawer{
				Dst:  dst,
				Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
				Face: basicfont.Face7x13,
				Dot:  fixed.P(left+2, tileH+captionHeight-3),
			}
			d.DrawString(captions[i])
		}
	}
	return dst, nil
}

func toGray(v float32) uint8 {
	switch {
	case v <= 0 || v != v:
		return 0
	case v >= 1:
		return 255
	default:
		return uint8(v*255 + 0.5)
	}
}

// WritePNG encodes img to path, creating parent directories.
func WritePNG(path string, img image.Image) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path) //nolint:gosec // caller-chosen output path
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return png.Encode(f, img)
}
