package vision

import (
	"image"
	"math"
)

// EllipseKernel returns the elliptical structuring element of the given odd
// size as a list of (dx, dy) offsets from the anchor at the centre. For size 5
// this is the familiar shape
//
//	. . x . .
//	x x x x x
//	x x x x x
//	x x x x x
//	. . x . .
func EllipseKernel(size int) []image.Point {
	r := size / 2
	if r == 0 {
		return []image.Point{{0, 0}}
	}
	var pts []image.Point
	for dy := -r; dy <= r; dy++ {
		half := int(math.Round(float64(r) * math.Sqrt(1-float64(dy*dy)/float64(r*r))))
		for dx := -half; dx <= half; dx++ {
			pts = append(pts, image.Point{dx, dy})
		}
	}
	return pts
}

// Dilate sets a pixel when any kernel position around it is set. Positions
// outside the image count as unset.
func Dilate(src *image.Gray, kernel []image.Point) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			for _, k := range kernel {
				px, py := x+k.X, y+k.Y
				if px < b.Min.X || px >= b.Max.X || py < b.Min.Y || py >= b.Max.Y {
					continue
				}
				if src.Pix[src.PixOffset(px, py)] != 0 {
					dst.Pix[dst.PixOffset(x, y)] = MaskForeground
					break
				}
			}
		}
	}
	return dst
}

// Erode keeps a pixel only when every kernel position around it is set.
// Positions outside the image are ignored so the border does not eat blobs.
func Erode(src *image.Gray, kernel []image.Point) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			keep := true
			for _, k := range kernel {
				px, py := x+k.X, y+k.Y
				if px < b.Min.X || px >= b.Max.X || py < b.Min.Y || py >= b.Max.Y {
					continue
				}
				if src.Pix[src.PixOffset(px, py)] == 0 {
					keep = false
					break
				}
			}
			if keep {
				dst.Pix[dst.PixOffset(x, y)] = MaskForeground
			}
		}
	}
	return dst
}

// Close is dilation followed by erosion; it merges nearby fragments.
func Close(src *image.Gray, kernel []image.Point) *image.Gray {
	return Erode(Dilate(src, kernel), kernel)
}

// Open is erosion followed by dilation; it removes speckle noise.
func Open(src *image.Gray, kernel []image.Point) *image.Gray {
	return Dilate(Erode(src, kernel), kernel)
}
