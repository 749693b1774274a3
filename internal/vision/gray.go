package vision

import (
	"image"
	"image/color"
)

// ToGray converts img to an 8-bit grayscale frame of width x height using
// nearest-neighbour sampling. A gray image that already has the requested
// size is returned unchanged.
func ToGray(img image.Image, width, height int) *image.Gray {
	src := img.Bounds()
	if g, ok := img.(*image.Gray); ok && src.Dx() == width && src.Dy() == height {
		return g
	}
	dst := image.NewGray(image.Rect(0, 0, width, height))
	if src.Empty() {
		return dst
	}
	for y := 0; y < height; y++ {
		sy := src.Min.Y + y*src.Dy()/height
		for x := 0; x < width; x++ {
			sx := src.Min.X + x*src.Dx()/width
			dst.Pix[y*dst.Stride+x] = color.GrayModel.Convert(img.At(sx, sy)).(color.Gray).Y
		}
	}
	return dst
}
