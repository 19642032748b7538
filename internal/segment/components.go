package segment

import (
	"image"

	"github.com/m2i-duo/mandoc-ocr-api/internal/mempool"
)

// Component is one 8-connected foreground blob.
type Component struct {
	Label int
	Box   Box
	Area  int
}

// compStats accumulates the extent of a component while it is traversed.
type compStats struct {
	area int
	minX int
	minY int
	maxX int
	maxY int
}

func (st *compStats) add(x, y int) {
	st.area++
	if x < st.minX {
		st.minX = x
	}
	if y < st.minY {
		st.minY = y
	}
	if x > st.maxX {
		st.maxX = x
	}
	if y > st.maxY {
		st.maxY = y
	}
}

var neighbors8 = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// Components labels the 8-connected foreground regions of mask. Labels start
// at 1 and follow the raster order of each component's first pixel; the
// background is not reported.
func Components(mask *image.Gray) []Component {
	w, h := mask.Bounds().Dx(), mask.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil
	}

	fg := func(x, y int) bool {
		return mask.Pix[mask.PixOffset(mask.Rect.Min.X+x, mask.Rect.Min.Y+y)] != Background
	}

	labels := mempool.GetInt32(w * h)
	defer mempool.PutInt32(labels)

	var comps []Component
	var queue []int
	label := int32(0)

	for y := range h {
		for x := range w {
			idx := y*w + x
			if labels[idx] != 0 || !fg(x, y) {
				continue
			}
			label++
			st := compStats{minX: x, minY: y, maxX: x, maxY: y}
			labels[idx] = label
			queue = append(queue[:0], idx)

			for len(queue) > 0 {
				ci := queue[len(queue)-1]
				queue = queue[:len(queue)-1]
				cx, cy := ci%w, ci/w
				st.add(cx, cy)
				for _, d := range neighbors8 {
					nx, ny := cx+d[0], cy+d[1]
					if nx < 0 || nx >= w || ny < 0 || ny >= h {
						continue
					}
					ni := ny*w + nx
					if labels[ni] == 0 && fg(nx, ny) {
						labels[ni] = label
						queue = append(queue, ni)
					}
				}
			}

			comps = append(comps, Component{
				Label: int(label),
				Box:   Box{X: st.minX, Y: st.minY, W: st.maxX - st.minX + 1, H: st.maxY - st.minY + 1},
				Area:  st.area,
			})
		}
	}
	return comps
}

// FilterByArea keeps components whose pixel area is at least minArea, preserving order.
func FilterByArea(comps []Component, minArea int) []Box {
	boxes := make([]Box, 0, len(comps))
	for _, c := range comps {
		if c.Area >= minArea {
			boxes = append(boxes, c.Box)
		}
	}
	return boxes
}
