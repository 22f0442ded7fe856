package chart

import (
	"image"
	"image/color"
	"image/draw"
)

// BytesPerPixel is the stride of one RGBA sample in Bitmap.Pix.
const BytesPerPixel = 4

// Bitmap is a decoded image: row-major, non-premultiplied RGBA, 4 bytes per
// pixel. Alpha is carried but never read by the validator.
type Bitmap struct {
	Width  int
	Height int
	Pix    []byte
}

// NewBitmap allocates a zeroed (transparent black) bitmap.
func NewBitmap(width, height int) Bitmap {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return Bitmap{Width: width, Height: height, Pix: make([]byte, width*height*BytesPerPixel)}
}

// Set writes one pixel. Out-of-range coordinates are ignored.
func (b Bitmap) Set(x, y int, c color.NRGBA) {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return
	}
	i := (y*b.Width + x) * BytesPerPixel
	b.Pix[i] = c.R
	b.Pix[i+1] = c.G
	b.Pix[i+2] = c.B
	b.Pix[i+3] = c.A
}

// Area returns Width*Height.
func (b Bitmap) Area() int {
	return b.Width * b.Height
}

// FromImage converts any decoded image into a Bitmap. Tightly packed NRGBA
// images share their buffer; everything else is copied through draw.
func FromImage(img image.Image) Bitmap {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if n, ok := img.(*image.NRGBA); ok && n.Stride == w*BytesPerPixel && n.Rect.Min == (image.Point{}) {
		return Bitmap{Width: w, Height: h, Pix: n.Pix[:w*h*BytesPerPixel]}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return Bitmap{Width: w, Height: h, Pix: dst.Pix}
}
