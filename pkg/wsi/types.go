package wsi

import (
	"fmt"
	"image"
)

// DefaultScaleFactor is the thumbnail downscale applied on top of the
// requested magnification when TileParams.ScaleFactor is unset.
const DefaultScaleFactor = 4

// TissueThreshold is the otsu score a tile must exceed to count as tissue.
const TissueThreshold = 0.5

// TileParams are the tiling parameters shared by scoring, visualization
// and tile extraction. TileSize and Magnification are expressed at the
// requested magnification.
type TileParams struct {
	TileSize      int `json:"tile_size" yaml:"tile_size" validate:"required,gt=0"`
	Magnification int `json:"magnification" yaml:"magnification" validate:"required,gt=0"`
	ScaleFactor   int `json:"scale_factor,omitempty" yaml:"scale_factor,omitempty" validate:"gte=0"`
}

// Validate checks the required fields.
func (p TileParams) Validate() error {
	if p.TileSize <= 0 {
		return fmt.Errorf("tile_size must be positive, got %d", p.TileSize)
	}
	if p.Magnification <= 0 {
		return fmt.Errorf("magnification must be positive, got %d", p.Magnification)
	}
	if p.ScaleFactor < 0 {
		return fmt.Errorf("scale_factor must not be negative, got %d", p.ScaleFactor)
	}
	return nil
}

// Thumbnail returns the effective thumbnail scale factor.
func (p TileParams) Thumbnail() int {
	if p.ScaleFactor == 0 {
		return DefaultScaleFactor
	}
	return p.ScaleFactor
}

// TileScore is one row of the scored tile index.
type TileScore struct {
	Address     string
	Coordinates image.Point // X = column, Y = row
	OtsuScore   float64
	PurpleScore float64
}

// IsTissue reports whether the tile passes the tissue gate.
func (t TileScore) IsTissue() bool {
	return t.OtsuScore > TissueThreshold
}

// ScoreIndex is an ordered list of tile scores with lookup by address.
type ScoreIndex struct {
	Tiles  []TileScore
	byAddr map[string]int
}

// NewScoreIndex creates an empty index with room for n tiles.
func NewScoreIndex(n int) *ScoreIndex {
	return &ScoreIndex{
		Tiles:  make([]TileScore, 0, n),
		byAddr: make(map[string]int, n),
	}
}

// Add appends a tile. Adding an address twice is an error.
func (idx *ScoreIndex) Add(t TileScore) error {
	if _, ok := idx.byAddr[t.Address]; ok {
		return fmt.Errorf("duplicate tile address %q", t.Address)
	}
	idx.byAddr[t.Address] = len(idx.Tiles)
	idx.Tiles = append(idx.Tiles, t)
	return nil
}

func (idx *ScoreIndex) Len() int { return len(idx.Tiles) }

// Get returns the tile with the given address.
func (idx *ScoreIndex) Get(address string) (TileScore, bool) {
	i, ok := idx.byAddr[address]
	if !ok {
		return TileScore{}, false
	}
	return idx.Tiles[i], true
}

// Tissue returns the tiles passing the tissue gate, in index order.
func (idx *ScoreIndex) Tissue() []TileScore {
	out := make([]TileScore, 0)
	for _, t := range idx.Tiles {
		if t.IsTissue() {
			out = append(out, t)
		}
	}
	return out
}

// ScoreLabels are the score columns available in a tile index.
var ScoreLabels = []string{"coordinates", "otsu_score", "purple_score"}

// PretileResult describes a scoring run.
type PretileResult struct {
	File                        string
	Magnification               int
	FullResolutionMagnification int
	TileSize                    int
	FullResolutionTileSize      int
	TotalTiles                  int
	TissueTiles                 int
	AvailableLabels             []string
	Field                       *FieldSummary
}

// Properties returns the result as graph node properties.
func (r *PretileResult) Properties() map[string]any {
	props := map[string]any{
		"file":                          r.File,
		"magnification":                 r.Magnification,
		"full_resolution_magnification": r.FullResolutionMagnification,
		"tile_size":                     r.TileSize,
		"full_resolution_tile_size":     r.FullResolutionTileSize,
		"total_tiles":                   r.TotalTiles,
		"tissue_tiles":                  r.TissueTiles,
		"available_labels":              r.AvailableLabels,
	}
	if r.Field != nil {
		props["tissue_fraction"] = r.Field.TissueFraction
		props["densest_zone"] = r.Field.DensestZone
		props["sparsest_zone"] = r.Field.SparsestZone
	}
	return props
}

// VisualizeResult describes a rendered visualization.
type VisualizeResult struct {
	File string
}

func (r *VisualizeResult) Properties() map[string]any {
	return map[string]any{"file": r.File}
}

// TileSliceResult describes an extracted tile slice.
type TileSliceResult struct {
	Path        string
	ImageMode   string
	ImageSize   int
	ImageLength int
	TileCount   int
	IndexFile   string
}

func (r *TileSliceResult) Properties() map[string]any {
	return map[string]any{
		"path":             r.Path,
		"pil_image_mode":   r.ImageMode,
		"pil_image_size":   r.ImageSize,
		"pil_image_length": r.ImageLength,
		"tile_count":       r.TileCount,
		"index_file":       r.IndexFile,
	}
}

// ZonePosition identifies a zone in the 3x3 field grid.
type ZonePosition int

const (
	ZoneTopLeft ZonePosition = iota
	ZoneTop
	ZoneTopRight
	ZoneLeft
	ZoneCenter
	ZoneRight
	ZoneBottomLeft
	ZoneBottom
	ZoneBottomRight
)

// ZoneData holds per-zone tissue statistics.
type ZoneData struct {
	Label        string
	MedianOtsu   float64
	MedianPurple float64
	TissueTiles  int
	TotalTiles   int
}

// FieldSummary is the 3x3 tissue coverage summary of a slide.
type FieldSummary struct {
	Zones          map[ZonePosition]ZoneData
	TissueFraction float64
	DensestZone    string
	SparsestZone   string
}
