package wsi

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreColor_Endpoints(t *testing.T) {
	require.Len(t, scorePalette, PaletteSize)
	assert.Equal(t, color.RGBA{0x44, 0x01, 0x54, 255}, ScoreColor(0))
	assert.Equal(t, color.RGBA{0xfd, 0xe7, 0x25, 255}, ScoreColor(1))
	assert.Equal(t, ScoreColor(1), ScoreColor(1.7), "scores above 1 clamp")
	assert.Equal(t, ScoreColor(0), ScoreColor(-0.2), "scores below 0 clamp")
	assert.Equal(t, scorePalette[50], ScoreColor(0.504))
}

func TestBuildPalette(t *testing.T) {
	p := buildPalette([]string{"#000000", "#ffffff"}, 3)
	require.Len(t, p, 3)
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, p[0])
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, p[2])
	assert.Equal(t, p[1].R, p[1].G, "blending grays stays gray")

	assert.Panics(t, func() { buildPalette([]string{"#000000", "not-a-color"}, 3) })
}

func TestDrawTileScores(t *testing.T) {
	thumb := syntheticSlide(20, 10, 0)
	idx := NewScoreIndex(2)
	require.NoError(t, idx.Add(TileScore{Address: "x0_y0_z20", Coordinates: image.Pt(0, 0), OtsuScore: 0.8}))
	require.NoError(t, idx.Add(TileScore{Address: "x1_y0_z20", Coordinates: image.Pt(1, 0), OtsuScore: 0.3}))

	drawn := DrawTileScores(thumb, idx, 10)
	assert.Equal(t, 1, drawn)

	want := ScoreColor(0.8)
	assert.Equal(t, want, thumb.RGBAAt(10, 0), "ring sits just outside the tile")
	assert.Equal(t, want, thumb.RGBAAt(10, 9))
	assert.Equal(t, backgroundColor, thumb.RGBAAt(0, 0), "tile edge is untouched")
	assert.Equal(t, backgroundColor, thumb.RGBAAt(9, 9), "tile edge is untouched")
	assert.Equal(t, backgroundColor, thumb.RGBAAt(5, 5), "interior is untouched")
	assert.Equal(t, backgroundColor, thumb.RGBAAt(19, 5), "non-tissue tile is not outlined")
}

func TestDrawTileRing(t *testing.T) {
	img := syntheticSlide(8, 8, 0)
	c := color.RGBA{1, 2, 3, 255}
	drawTileRing(img, image.Rect(2, 2, 5, 5), c)

	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			onRing := ((x == 1 || x == 5) && y >= 1 && y <= 5) || ((y == 1 || y == 5) && x >= 1 && x <= 5)
			if onRing {
				assert.Equal(t, c, img.RGBAAt(x, y), "(%d,%d)", x, y)
			} else {
				assert.Equal(t, backgroundColor, img.RGBAAt(x, y), "(%d,%d)", x, y)
			}
		}
	}
}
