package wsi

import (
	"fmt"
	"image"
)

// TileGrid is a DeepZoom-style grid with no overlap over a raster. Edge
// tiles are truncated to the raster bounds.
type TileGrid struct {
	Width    int
	Height   int
	TileSize int
}

// NewTileGrid validates the raster and tile dimensions.
func NewTileGrid(width, height, tileSize int) (TileGrid, error) {
	if width <= 0 || height <= 0 {
		return TileGrid{}, fmt.Errorf("empty raster %dx%d", width, height)
	}
	if tileSize <= 0 {
		return TileGrid{}, fmt.Errorf("tile size must be positive, got %d", tileSize)
	}
	return TileGrid{Width: width, Height: height, TileSize: tileSize}, nil
}

func (g TileGrid) Cols() int  { return ceilDiv(g.Width, g.TileSize) }
func (g TileGrid) Rows() int  { return ceilDiv(g.Height, g.TileSize) }
func (g TileGrid) Count() int { return g.Cols() * g.Rows() }

// Tile returns the pixel bounds of tile (x, y). ok is false when the
// coordinate lies outside the grid.
func (g TileGrid) Tile(x, y int) (image.Rectangle, bool) {
	if x < 0 || y < 0 || x >= g.Cols() || y >= g.Rows() {
		return image.Rectangle{}, false
	}
	r := image.Rect(x*g.TileSize, y*g.TileSize, (x+1)*g.TileSize, (y+1)*g.TileSize)
	return r.Intersect(image.Rect(0, 0, g.Width, g.Height)), true
}

// Coordinates lists every tile coordinate, x outer and y inner.
func (g TileGrid) Coordinates() []image.Point {
	cols, rows := g.Cols(), g.Rows()
	out := make([]image.Point, 0, cols*rows)
	for x := 0; x < cols; x++ {
		for y := 0; y < rows; y++ {
			out = append(out, image.Pt(x, y))
		}
	}
	return out
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
