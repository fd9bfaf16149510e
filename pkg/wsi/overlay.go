package wsi

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// VisualizationFileName is the thumbnail overlay written by VisualizeScoring.
const VisualizationFileName = "tile_scores_and_labels_visualization.png"

// FieldOverlayFileName is the zone summary image written next to the scores.
const FieldOverlayFileName = "tile_field_summary.jpg"

// DrawTileScores outlines every tissue tile of idx on the thumbnail, colored
// by its otsu score. It returns the number of tiles drawn.
func DrawTileScores(thumbnail *image.RGBA, idx *ScoreIndex, tileSize int) int {
	b := thumbnail.Bounds()
	grid, err := NewTileGrid(b.Dx(), b.Dy(), tileSize)
	if err != nil {
		return 0
	}
	drawn := 0
	for _, t := range idx.Tiles {
		if !t.IsTissue() {
			continue
		}
		r, ok := grid.Tile(t.Coordinates.X, t.Coordinates.Y)
		if !ok {
			continue
		}
		drawTileRing(thumbnail, r.Add(b.Min), ScoreColor(t.OtsuScore))
		drawn++
	}
	return drawn
}

// drawTileRing draws the one-pixel ring just outside r. Pixels off the
// image are dropped.
func drawTileRing(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	if r.Empty() {
		return
	}
	drawRectPerimeter(img, r.Inset(-1), c)
}

// drawRectPerimeter draws the one-pixel inner border of r.
func drawRectPerimeter(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y, c)
		img.SetRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetRGBA(r.Min.X, y, c)
		img.SetRGBA(r.Max.X-1, y, c)
	}
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create visualization file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode visualization: %w", err)
	}
	return f.Close()
}

// RenderFieldOverlay renders the 3x3 tissue summary as a JPG image.
func RenderFieldOverlay(field *FieldSummary, width, height int, outputPath string) error {
	img, err := renderFieldImage(field, width, height)
	if err != nil {
		return err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create overlay file: %w", err)
	}
	defer f.Close()

	return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}

func renderFieldImage(field *FieldSummary, width, height int) (*image.RGBA, error) {
	if field == nil {
		return nil, fmt.Errorf("no field summary data")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid field size %dx%d", width, height)
	}

	// Render at 600px wide, proportional height
	const targetWidth = 600
	scale := float64(targetWidth) / float64(width)
	imgW := targetWidth
	imgH := int(float64(height) * scale)
	if imgH < 120 {
		imgH = 120
	}

	summaryH := 40
	totalH := imgH + summaryH
	img := image.NewRGBA(image.Rect(0, 0, imgW, totalH))
	fillRect(img, img.Bounds(), color.RGBA{0, 0, 0, 255})

	xLo := int(float64(imgW) * fieldEdgeFraction)
	xHi := int(float64(imgW) * (1.0 - fieldEdgeFraction))
	yLo := int(float64(imgH) * fieldEdgeFraction)
	yHi := int(float64(imgH) * (1.0 - fieldEdgeFraction))
	xBounds := [3][2]int{{0, xLo}, {xLo, xHi}, {xHi, imgW}}
	yBounds := [3][2]int{{0, yLo}, {yLo, yHi}, {yHi, imgH}}

	face := basicfont.Face7x13
	textColor := color.RGBA{255, 255, 255, 255}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			zone := field.Zones[zoneGrid[row][col]]
			cell := image.Rect(xBounds[col][0], yBounds[row][0], xBounds[col][1], yBounds[row][1])
			fillRect(img, cell, ScoreColor(zoneCoverage(zone)))
			drawRectPerimeter(img, cell, color.RGBA{255, 255, 255, 255})

			cx := (cell.Min.X + cell.Max.X) / 2
			cy := (cell.Min.Y + cell.Max.Y) / 2
			drawCenteredText(img, face, zone.Label, cx, cy-14, textColor)
			drawCenteredText(img, face, fmt.Sprintf("otsu: %.2f", zone.MedianOtsu), cx, cy+2, textColor)
			drawCenteredText(img, face, fmt.Sprintf("%d/%d", zone.TissueTiles, zone.TotalTiles), cx, cy+16, textColor)
		}
	}

	summaryColor := color.RGBA{220, 220, 220, 255}
	line := fmt.Sprintf("Tissue: %.1f%%  (densest: %s, sparsest: %s)",
		field.TissueFraction*100, field.DensestZone, field.SparsestZone)
	drawText(img, face, line, 10, imgH+24, summaryColor)

	return img, nil
}

func zoneCoverage(z ZoneData) float64 {
	if z.TotalTiles == 0 {
		return 0
	}
	return float64(z.TissueTiles) / float64(z.TotalTiles)
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// drawText draws a string at (x, y) using the given font face.
func drawText(img *image.RGBA, face font.Face, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// drawCenteredText draws a string centered at (cx, cy).
func drawCenteredText(img *image.RGBA, face font.Face, s string, cx, cy int, c color.RGBA) {
	advance := font.MeasureString(face, s)
	x := cx - advance.Round()/2
	drawText(img, face, s, x, cy, c)
}
