package wsi

import (
	"fmt"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// PaletteSize is the number of discrete score colors (scores 0.00..1.00).
const PaletteSize = 101

// viridisStops are evenly spaced samples of the viridis colormap.
var viridisStops = []string{
	"#440154", "#482475", "#414487", "#355f8d", "#2a788e", "#21918c",
	"#22a884", "#44bf70", "#7ad151", "#bddf26", "#fde725",
}

var scorePalette = buildPalette(viridisStops, PaletteSize)

// buildPalette interpolates n colors across the stops in Lab space.
func buildPalette(stops []string, n int) []color.RGBA {
	anchors := make([]colorful.Color, len(stops))
	for i, s := range stops {
		c, err := colorful.Hex(s)
		if err != nil {
			panic(fmt.Sprintf("palette stop %q: %v", s, err))
		}
		anchors[i] = c
	}
	palette := make([]color.RGBA, n)
	segments := float64(len(anchors) - 1)
	for i := range palette {
		pos := float64(i) / float64(n-1) * segments
		seg := int(math.Floor(pos))
		if seg >= len(anchors)-1 {
			seg = len(anchors) - 2
		}
		var c colorful.Color
		switch frac := pos - float64(seg); frac {
		case 0:
			c = anchors[seg]
		case 1:
			c = anchors[seg+1]
		default:
			c = anchors[seg].BlendLab(anchors[seg+1], frac).Clamped()
		}
		r, g, b := c.RGB255()
		palette[i] = color.RGBA{r, g, b, 255}
	}
	return palette
}

// ScoreColor maps a score in [0, 1] to its palette color, dark purple at 0
// and yellow at 1.
func ScoreColor(score float64) color.RGBA {
	i := int(math.Round(score * float64(PaletteSize-1)))
	if i < 0 {
		i = 0
	}
	if i >= PaletteSize {
		i = PaletteSize - 1
	}
	return scorePalette[i]
}
