package wsi

import (
	"image"
	"runtime"
	"sync"
)

// purpleMargin is how far red and blue must exceed green for a pixel to
// count as hematoxylin-stained.
const purpleMargin = 10

// OtsuScores returns the mean mask value of every addressed tile on a grid
// of tileSize over mask. Tiles outside the mask grid score 0.
func OtsuScores(coords []image.Point, mask Mat, tileSize int) []float64 {
	scores := make([]float64, len(coords))
	grid, err := NewTileGrid(mask.Cols(), mask.Rows(), tileSize)
	if err != nil {
		return scores
	}
	parallelFor(len(coords), func(i int) {
		r, ok := grid.Tile(coords[i].X, coords[i].Y)
		if !ok {
			return
		}
		scores[i] = regionMean(mask, r)
	})
	return scores
}

// PurpleScores returns, for every addressed tile, the count of pixels whose
// red and blue channels both exceed green by more than purpleMargin,
// divided by the tile's channel count (3 per pixel). A fully purple tile
// scores 1/3. Tiles outside the raster grid score 0.
func PurpleScores(coords []image.Point, rgb *image.RGBA, tileSize int) []float64 {
	scores := make([]float64, len(coords))
	b := rgb.Bounds()
	grid, err := NewTileGrid(b.Dx(), b.Dy(), tileSize)
	if err != nil {
		return scores
	}
	parallelFor(len(coords), func(i int) {
		r, ok := grid.Tile(coords[i].X, coords[i].Y)
		if !ok {
			return
		}
		scores[i] = purpleFraction(rgb, r.Add(b.Min))
	})
	return scores
}

func purpleFraction(rgb *image.RGBA, r image.Rectangle) float64 {
	total := 3 * r.Dx() * r.Dy()
	if total == 0 {
		return 0
	}
	count := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := rgb.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x++ {
			red, green, blue := int(rgb.Pix[off]), int(rgb.Pix[off+1]), int(rgb.Pix[off+2])
			if red > green+purpleMargin && blue > green+purpleMargin {
				count++
			}
			off += 4
		}
	}
	return float64(count) / float64(total)
}

// parallelFor runs fn for 0..n-1 in contiguous chunks, one goroutine per CPU.
func parallelFor(n int, fn func(i int)) {
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	chunk := ceilDiv(n, workers)
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				fn(i)
			}
		}(start, end)
	}
	wg.Wait()
}
