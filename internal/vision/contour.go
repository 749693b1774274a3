package vision

import "image"

// Contour is the outer boundary of one connected foreground region.
type Contour struct {
	// Points traces the boundary pixels clockwise starting from the
	// top-most, left-most pixel of the region.
	Points []image.Point
	// Bounds is the bounding box of the region.
	Bounds image.Rectangle
	// Pixels is the number of foreground pixels in the region.
	Pixels int
}

// Area returns the area enclosed by the boundary polygon, using pixel
// centres as vertices. A filled w x h rectangle has area (w-1)*(h-1).
func (c Contour) Area() float64 {
	n := len(c.Points)
	if n < 3 {
		return 0
	}
	var sum int
	for i := 0; i < n; i++ {
		p := c.Points[i]
		q := c.Points[(i+1)%n]
		sum += p.X*q.Y - q.X*p.Y
	}
	if sum < 0 {
		sum = -sum
	}
	return float64(sum) / 2
}

// FillRatio is the share of the bounding box covered by the region.
func (c Contour) FillRatio() float64 {
	box := c.Bounds.Dx() * c.Bounds.Dy()
	if box == 0 {
		return 0
	}
	return float64(c.Pixels) / float64(box)
}

// clockwise Moore neighbourhood starting at west, in image coordinates
var moore = [8]image.Point{
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
}

// ExternalContours finds the outer contours of 8-connected foreground regions
// in a binary mask. Regions that sit entirely inside a hole of another region
// are not reported, mirroring an "external only" retrieval mode.
func ExternalContours(mask *image.Gray) []Contour {
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}
	fg := func(x, y int) bool {
		if x < 0 || y < 0 || x >= w || y >= h {
			return false
		}
		return mask.Pix[mask.PixOffset(b.Min.X+x, b.Min.Y+y)] != 0
	}

	outside := floodOutside(w, h, fg)
	labels := make([]int32, w*h)
	var contours []Contour
	var stack []image.Point
	next := int32(0)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !fg(x, y) || labels[y*w+x] != 0 {
				continue
			}
			next++
			region := Contour{Bounds: image.Rect(x, y, x+1, y+1)}
			external := false

			stack = append(stack[:0], image.Point{x, y})
			labels[y*w+x] = next
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				region.Pixels++
				region.Bounds = region.Bounds.Union(image.Rect(p.X, p.Y, p.X+1, p.Y+1))
				for _, d := range moore {
					q := p.Add(d)
					if q.X < 0 || q.Y < 0 || q.X >= w || q.Y >= h {
						external = true
						continue
					}
					if !fg(q.X, q.Y) {
						// background is 4-connected: only edge neighbours
						// decide whether the region touches the outside
						if (d.X == 0 || d.Y == 0) && outside[q.Y*w+q.X] {
							external = true
						}
						continue
					}
					if labels[q.Y*w+q.X] == 0 {
						labels[q.Y*w+q.X] = next
						stack = append(stack, q)
					}
				}
			}
			if !external {
				continue
			}
			region.Points = traceBoundary(image.Point{x, y}, fg)
			region.Bounds = region.Bounds.Add(b.Min)
			for i := range region.Points {
				region.Points[i] = region.Points[i].Add(b.Min)
			}
			contours = append(contours, region)
		}
	}
	return contours
}

// floodOutside marks every background pixel 4-connected to the image border.
func floodOutside(w, h int, fg func(x, y int) bool) []bool {
	outside := make([]bool, w*h)
	var stack []image.Point
	push := func(x, y int) {
		if x < 0 || y < 0 || x >= w || y >= h {
			return
		}
		if outside[y*w+x] || fg(x, y) {
			return
		}
		outside[y*w+x] = true
		stack = append(stack, image.Point{x, y})
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		push(p.X-1, p.Y)
		push(p.X+1, p.Y)
		push(p.X, p.Y-1)
		push(p.X, p.Y+1)
	}
	return outside
}

// traceBoundary walks the outer boundary of the region containing start
// using Moore-neighbour tracing. start must be the first region pixel in
// raster order, so its west neighbour is background.
func traceBoundary(start image.Point, fg func(x, y int) bool) []image.Point {
	points := []image.Point{start}
	cur := start
	back := 0 // index in moore of the background pixel we entered from
	var first image.Point
	haveFirst := false

	for steps := 0; ; steps++ {
		found := false
		for i := 1; i <= 8; i++ {
			k := (back + i) % 8
			n := cur.Add(moore[k])
			if !fg(n.X, n.Y) {
				continue
			}
			prev := cur.Add(moore[(k+7)%8])
			if cur == start {
				if !haveFirst {
					first = n
					haveFirst = true
				} else if n == first {
					return points
				}
			}
			back = mooreIndex(prev.Sub(n))
			cur = n
			found = true
			break
		}
		if !found {
			// isolated pixel
			return points
		}
		if cur != start {
			points = append(points, cur)
		}
		if steps > 1<<24 {
			return points
		}
	}
}

func mooreIndex(d image.Point) int {
	for i, m := range moore {
		if m == d {
			return i
		}
	}
	return 0
}
