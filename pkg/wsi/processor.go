package wsi

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Processor runs the slide tiling pipeline.
type Processor struct {
	log *zap.Logger
}

// NewProcessor creates a processor logging to log. A nil logger discards output.
func NewProcessor(log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{log: log}
}

// scales holds the magnification arithmetic shared by every pipeline step.
type scales struct {
	toMag             int
	toThumbnail       int
	fullTileSize      int
	thumbnailTileSize int
}

func (p *Processor) resolveScales(slide Slide, params TileParams) (scales, error) {
	if err := params.Validate(); err != nil {
		return scales{}, err
	}
	toMag, err := ScaleFactorAtMagnification(slide, params.Magnification)
	if err != nil {
		return scales{}, err
	}
	s := scales{
		toMag:             toMag,
		toThumbnail:       toMag * params.Thumbnail(),
		fullTileSize:      params.TileSize * toMag,
		thumbnailTileSize: params.TileSize / params.Thumbnail(),
	}
	if s.thumbnailTileSize < 1 {
		return scales{}, fmt.Errorf("tile_size %d is smaller than scale_factor %d", params.TileSize, params.Thumbnail())
	}
	p.log.Info("Resolved scale factors",
		zap.Int("magnification", params.Magnification),
		zap.Int("to_mag_scale_factor", s.toMag),
		zap.Int("to_thumbnail_scale_factor", s.toThumbnail),
		zap.Int("full_resolution_tile_size", s.fullTileSize),
		zap.Int("thumbnail_tile_size", s.thumbnailTileSize),
	)
	return s, nil
}

func (p *Processor) openSlide(slidePath string) (*ImageSlide, error) {
	p.log.Info("Processing slide", zap.String("slide", slidePath))
	slide, err := OpenSlide(slidePath)
	if err != nil {
		return nil, err
	}
	w, h := slide.Dimensions()
	p.log.Info("Slide size", zap.Int("width", w), zap.Int("height", h))
	return slide, nil
}

// PretileScoring scores every full-resolution tile of a slide on a
// thumbnail and writes the index to outDir.
func (p *Processor) PretileScoring(ctx context.Context, slidePath, outDir string, params TileParams) (*PretileResult, error) {
	start := time.Now()
	slide, err := p.openSlide(slidePath)
	if err != nil {
		return nil, err
	}
	defer slide.Close()

	sc, err := p.resolveScales(slide, params)
	if err != nil {
		return nil, err
	}

	thumbnail, err := DownscaledThumbnail(slide, sc.toThumbnail)
	if err != nil {
		return nil, fmt.Errorf("creating thumbnail: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mask := MakeOtsu(thumbnail, 1)
	defer mask.Close()
	p.log.Info("Thumbnail ready",
		zap.Int("width", thumbnail.Bounds().Dx()),
		zap.Int("height", thumbnail.Bounds().Dy()),
		zap.Float64("foreground_fraction", ForegroundFraction(mask)),
	)

	w, h := slide.Dimensions()
	grid, err := NewTileGrid(w, h, sc.fullTileSize)
	if err != nil {
		return nil, err
	}
	coords := grid.Coordinates()
	p.log.Info("Number of tiles in raster", zap.Int("tiles", len(coords)))

	otsu := OtsuScores(coords, mask, sc.thumbnailTileSize)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	purple := PurpleScores(coords, thumbnail, sc.thumbnailTileSize)

	idx := NewScoreIndex(len(coords))
	for i, c := range coords {
		if err := idx.Add(TileScore{
			Address:     CoordToAddress(c.X, c.Y, params.Magnification),
			Coordinates: c,
			OtsuScore:   otsu[i],
			PurpleScore: purple[i],
		}); err != nil {
			return nil, err
		}
	}
	tissue := len(idx.Tissue())
	p.log.Info("Tiles passing tissue threshold", zap.Int("tissue_tiles", tissue), zap.Float64("threshold", TissueThreshold))

	outputFile := filepath.Join(outDir, ScoresFileName)
	if err := WriteScores(outputFile, idx); err != nil {
		return nil, err
	}
	p.log.Info("Saved tile scores", zap.String("file", outputFile), zap.Duration("elapsed", time.Since(start)))

	return &PretileResult{
		File:                        outputFile,
		Magnification:               params.Magnification,
		FullResolutionMagnification: params.Magnification * sc.toMag,
		TileSize:                    params.TileSize,
		FullResolutionTileSize:      sc.fullTileSize,
		TotalTiles:                  idx.Len(),
		TissueTiles:                 tissue,
		AvailableLabels:             append([]string(nil), ScoreLabels...),
		Field:                       SummarizeField(idx, grid.Cols(), grid.Rows()),
	}, nil
}

// VisualizeScoring draws the tissue tiles of a scores file onto the slide
// thumbnail and saves it as PNG in outDir.
func (p *Processor) VisualizeScoring(ctx context.Context, slidePath, scoresPath, outDir string, params TileParams) (*VisualizeResult, error) {
	slide, err := p.openSlide(slidePath)
	if err != nil {
		return nil, err
	}
	defer slide.Close()

	sc, err := p.resolveScales(slide, params)
	if err != nil {
		return nil, err
	}
	thumbnail, err := DownscaledThumbnail(slide, sc.toThumbnail)
	if err != nil {
		return nil, fmt.Errorf("creating thumbnail: %w", err)
	}
	idx, err := ReadScores(scoresPath)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	drawn := DrawTileScores(thumbnail, idx, sc.thumbnailTileSize)
	outputFile := filepath.Join(outDir, VisualizationFileName)
	if err := savePNG(outputFile, thumbnail); err != nil {
		return nil, err
	}
	p.log.Info("Saved visualization", zap.String("file", outputFile), zap.Int("tiles_drawn", drawn))
	return &VisualizeResult{File: outputFile}, nil
}

// SaveTiles extracts the full-resolution pixels of every tissue tile in a
// scores file into a raw RGB slice with a Parquet index.
func (p *Processor) SaveTiles(ctx context.Context, slidePath, scoresPath, outDir string, params TileParams) (*TileSliceResult, error) {
	slide, err := p.openSlide(slidePath)
	if err != nil {
		return nil, err
	}
	defer slide.Close()

	if err := params.Validate(); err != nil {
		return nil, err
	}
	toMag, err := ScaleFactorAtMagnification(slide, params.Magnification)
	if err != nil {
		return nil, err
	}
	idx, err := ReadScores(scoresPath)
	if err != nil {
		return nil, err
	}

	w, h := slide.Dimensions()
	grid, err := NewTileGrid(w, h, params.TileSize*toMag)
	if err != nil {
		return nil, err
	}
	return p.writeTileSlice(ctx, slide, grid, idx.Tissue(), outDir)
}

// tileRegion reads one grid tile from the slide.
func tileRegion(slide Slide, grid TileGrid, c image.Point) (*image.RGBA, error) {
	r, ok := grid.Tile(c.X, c.Y)
	if !ok {
		return nil, fmt.Errorf("tile (%d, %d) outside %dx%d grid", c.X, c.Y, grid.Cols(), grid.Rows())
	}
	return slide.ReadRegion(r)
}
