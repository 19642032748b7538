package segment

import (
	"fmt"
	"image"
	"sort"
	"strings"
)

// Box is an integer rectangle in source image coordinates.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// MidY is the integer vertical midpoint of the box.
func (b Box) MidY() int { return b.Y + b.H/2 }

// Direction is the horizontal reading order inside a row.
type Direction int

const (
	LeftToRight Direction = iota
	RightToLeft
)

func (d Direction) String() string {
	switch d {
	case LeftToRight:
		return "ltr"
	case RightToLeft:
		return "rtl"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection accepts "ltr"/"left-to-right" and "rtl"/"right-to-left".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ltr", "left-to-right":
		return LeftToRight, nil
	case "rtl", "right-to-left":
		return RightToLeft, nil
	default:
		return LeftToRight, fmt.Errorf("unknown reading direction: %q", s)
	}
}

// GroupRows assigns boxes to rows in input order. A box joins the first row
// whose first box has a vertical midpoint within half of the candidate's
// height; otherwise it opens a new row. Only the first box of a row is the
// reference, so a row may drift as boxes join it.
func GroupRows(boxes []Box) [][]Box {
	var rows [][]Box
	for _, b := range boxes {
		mid := b.MidY()
		placed := false
		for i := range rows {
			d := rows[i][0].MidY() - mid
			if d < 0 {
				d = -d
			}
			if d <= b.H/2 {
				rows[i] = append(rows[i], b)
				placed = true
				break
			}
		}
		if !placed {
			rows = append(rows, []Box{b})
		}
	}
	return rows
}

// OrderBoxes sorts rows top to bottom by their first box and the boxes of
// each row by x in the given direction, returning the flattened sequence
// together with the row index of every box.
func OrderBoxes(rows [][]Box, dir Direction) ([]Box, []int) {
	sorted := make([][]Box, len(rows))
	for i, r := range rows {
		sorted[i] = append([]Box(nil), r...)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i][0].Y < sorted[j][0].Y })

	var out []Box
	var rowIdx []int
	for ri, r := range sorted {
		if dir == RightToLeft {
			sort.SliceStable(r, func(i, j int) bool { return r[i].X > r[j].X })
		} else {
			sort.SliceStable(r, func(i, j int) bool { return r[i].X < r[j].X })
		}
		for _, b := range r {
			out = append(out, b)
			rowIdx = append(rowIdx, ri)
		}
	}
	return out, rowIdx
}
