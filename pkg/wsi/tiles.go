package wsi

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"
)

const (
	TileSliceFileName = "tiles.slice.pil"
	TileIndexFileName = "tiles.parquet"
	tileImageMode     = "RGB"
)

// TileRecord locates one tile inside the raw slice file.
type TileRecord struct {
	Address     string  `parquet:"address"`
	Coordinates string  `parquet:"coordinates"`
	OtsuScore   float64 `parquet:"otsu_score"`
	PurpleScore float64 `parquet:"purple_score"`
	Offset      int64   `parquet:"offset"`
	Length      int64   `parquet:"length"`
	Width       int32   `parquet:"width"`
	Height      int32   `parquet:"height"`
}

func (p *Processor) writeTileSlice(ctx context.Context, slide Slide, grid TileGrid, tiles []TileScore, outDir string) (*TileSliceResult, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("no tiles with otsu_score > %.1f to save", TissueThreshold)
	}

	slicePath := filepath.Join(outDir, TileSliceFileName)
	f, err := os.Create(slicePath)
	if err != nil {
		return nil, fmt.Errorf("creating tile slice: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	records := make([]TileRecord, 0, len(tiles))
	var offset int64
	for i, t := range tiles {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		tile, err := tileRegion(slide, grid, t.Coordinates)
		if err != nil {
			return nil, fmt.Errorf("reading tile %s: %w", t.Address, err)
		}
		raw := rgbBytes(tile)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("writing tile %s: %w", t.Address, err)
		}
		records = append(records, TileRecord{
			Address:     t.Address,
			Coordinates: formatCoordinates(t.Coordinates),
			OtsuScore:   t.OtsuScore,
			PurpleScore: t.PurpleScore,
			Offset:      offset,
			Length:      int64(len(raw)),
			Width:       int32(tile.Bounds().Dx()),
			Height:      int32(tile.Bounds().Dy()),
		})
		offset += int64(len(raw))
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flushing tile slice: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing tile slice: %w", err)
	}

	indexPath := filepath.Join(outDir, TileIndexFileName)
	if err := parquet.WriteFile(indexPath, records); err != nil {
		return nil, fmt.Errorf("writing tile index: %w", err)
	}

	first := records[0]
	p.log.Info("Saved tiles",
		zap.String("slice", slicePath),
		zap.String("index", indexPath),
		zap.Int("tiles", len(records)),
		zap.Int64("bytes", offset),
	)
	return &TileSliceResult{
		Path:        outDir,
		ImageMode:   tileImageMode,
		ImageSize:   int(first.Width),
		ImageLength: int(first.Length),
		TileCount:   len(records),
		IndexFile:   indexPath,
	}, nil
}

// ReadTileIndex loads the Parquet index written next to a tile slice.
func ReadTileIndex(path string) ([]TileRecord, error) {
	records, err := parquet.ReadFile[TileRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading tile index: %w", err)
	}
	return records, nil
}

// rgbBytes packs the pixels of img as interleaved 8-bit RGB.
func rgbBytes(img *image.RGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		for x := 0; x < b.Dx(); x++ {
			out = append(out, img.Pix[off], img.Pix[off+1], img.Pix[off+2])
			off += 4
		}
	}
	return out
}
