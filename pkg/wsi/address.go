package wsi

import (
	"fmt"
	"image"
	"regexp"
	"strconv"
)

var addressPattern = regexp.MustCompile(`(?i)^x(\d+)_y(\d+)_z(\d+)`)

// CoordToAddress formats a tile coordinate at a magnification, e.g. "x3_y7_z20".
func CoordToAddress(x, y, magnification int) string {
	return fmt.Sprintf("x%d_y%d_z%d", x, y, magnification)
}

// AddressToCoord parses the coordinate out of a tile address. Trailing
// text after the magnification is ignored.
func AddressToCoord(s string) (image.Point, error) {
	m := addressPattern.FindStringSubmatch(s)
	if m == nil {
		return image.Point{}, fmt.Errorf("invalid tile address %q", s)
	}
	x, err := strconv.Atoi(m[1])
	if err != nil {
		return image.Point{}, fmt.Errorf("tile address %q: %w", s, err)
	}
	y, err := strconv.Atoi(m[2])
	if err != nil {
		return image.Point{}, fmt.Errorf("tile address %q: %w", s, err)
	}
	return image.Pt(x, y), nil
}
