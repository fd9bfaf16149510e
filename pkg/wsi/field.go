package wsi

import (
	"sort"
)

const fieldEdgeFraction = 0.25

var zoneLabels = map[ZonePosition]string{
	ZoneTopLeft:     "TL",
	ZoneTop:         "T",
	ZoneTopRight:    "TR",
	ZoneLeft:        "L",
	ZoneCenter:      "Center",
	ZoneRight:       "R",
	ZoneBottomLeft:  "BL",
	ZoneBottom:      "B",
	ZoneBottomRight: "BR",
}

// ZoneOrder lists the zones row by row, top-left first.
var ZoneOrder = []ZonePosition{
	ZoneTopLeft, ZoneTop, ZoneTopRight,
	ZoneLeft, ZoneCenter, ZoneRight,
	ZoneBottomLeft, ZoneBottom, ZoneBottomRight,
}

var zoneGrid = [3][3]ZonePosition{
	{ZoneTopLeft, ZoneTop, ZoneTopRight},
	{ZoneLeft, ZoneCenter, ZoneRight},
	{ZoneBottomLeft, ZoneBottom, ZoneBottomRight},
}

// SummarizeField divides a cols x rows tile grid into a 3x3 field and
// computes per-zone tissue statistics. Tiles are placed by their centers.
func SummarizeField(idx *ScoreIndex, cols, rows int) *FieldSummary {
	if idx == nil || idx.Len() == 0 || cols <= 0 || rows <= 0 {
		return nil
	}

	xLo := float64(cols) * fieldEdgeFraction
	xHi := float64(cols) * (1.0 - fieldEdgeFraction)
	yLo := float64(rows) * fieldEdgeFraction
	yHi := float64(rows) * (1.0 - fieldEdgeFraction)

	zoneTiles := make(map[ZonePosition][]TileScore)
	for _, pos := range ZoneOrder {
		zoneTiles[pos] = make([]TileScore, 0)
	}
	for _, t := range idx.Tiles {
		pos := classifyZone(float64(t.Coordinates.X)+0.5, float64(t.Coordinates.Y)+0.5, xLo, xHi, yLo, yHi)
		zoneTiles[pos] = append(zoneTiles[pos], t)
	}

	summary := &FieldSummary{Zones: make(map[ZonePosition]ZoneData)}
	tissue := 0
	bestCoverage, worstCoverage := -1.0, 2.0
	for _, pos := range ZoneOrder {
		z := computeZoneData(pos, zoneTiles[pos])
		summary.Zones[pos] = z
		tissue += z.TissueTiles
		if z.TotalTiles == 0 {
			continue
		}
		coverage := zoneCoverage(z)
		if coverage > bestCoverage {
			bestCoverage = coverage
			summary.DensestZone = z.Label
		}
		if coverage < worstCoverage {
			worstCoverage = coverage
			summary.SparsestZone = z.Label
		}
	}
	summary.TissueFraction = float64(tissue) / float64(idx.Len())
	return summary
}

func classifyZone(x, y, xLo, xHi, yLo, yHi float64) ZonePosition {
	var col, row int
	if x < xLo {
		col = 0
	} else if x < xHi {
		col = 1
	} else {
		col = 2
	}
	if y < yLo {
		row = 0
	} else if y < yHi {
		row = 1
	} else {
		row = 2
	}
	return zoneGrid[row][col]
}

func computeZoneData(pos ZonePosition, tiles []TileScore) ZoneData {
	zd := ZoneData{
		Label:      zoneLabels[pos],
		TotalTiles: len(tiles),
	}
	if len(tiles) == 0 {
		return zd
	}

	otsu := make([]float64, len(tiles))
	purple := make([]float64, len(tiles))
	for i, t := range tiles {
		otsu[i] = t.OtsuScore
		purple[i] = t.PurpleScore
		if t.IsTissue() {
			zd.TissueTiles++
		}
	}
	zd.MedianOtsu = medianFloat64(otsu)
	zd.MedianPurple = medianFloat64(purple)
	return zd
}

func medianFloat64(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}
