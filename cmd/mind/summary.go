package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mind/pkg/wsi"
)

var (
	overlayPath   string
	overlayWidth  int
	overlayHeight int
)

var slideSummaryCmd = &cobra.Command{
	Use:   "slide-summary <scores-file>",
	Short: "Print tissue statistics of a scored tile index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := wsi.ReadScores(args[0])
		if err != nil {
			return err
		}
		cols, rows := gridSize(idx)
		field := wsi.SummarizeField(idx, cols, rows)
		printSummary(os.Stdout, idx, field, cols, rows)

		if overlayPath != "" {
			if err := wsi.RenderFieldOverlay(field, overlayWidth, overlayHeight, overlayPath); err != nil {
				return fmt.Errorf("rendering overlay: %w", err)
			}
			logger.Info("Wrote field overlay", zap.String("path", overlayPath))
		}
		return nil
	},
}

func init() {
	slideSummaryCmd.Flags().StringVar(&overlayPath, "overlay", "", "also render the 3x3 field summary to this JPG")
	slideSummaryCmd.Flags().IntVar(&overlayWidth, "overlay-width", 600, "overlay width in pixels")
	slideSummaryCmd.Flags().IntVar(&overlayHeight, "overlay-height", 600, "overlay height in pixels")
}

// gridSize derives the tile grid from the largest tile coordinates.
func gridSize(idx *wsi.ScoreIndex) (int, int) {
	cols, rows := 0, 0
	for _, t := range idx.Tiles {
		cols = max(cols, t.Coordinates.X+1)
		rows = max(rows, t.Coordinates.Y+1)
	}
	return cols, rows
}

func printSummary(w io.Writer, idx *wsi.ScoreIndex, field *wsi.FieldSummary, cols, rows int) {
	tissue := idx.Tissue()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Tile Scoring Results ===")
	fmt.Fprintf(w, "  Tile grid:       %d x %d\n", cols, rows)
	fmt.Fprintf(w, "  Tiles scored:    %d\n", idx.Len())
	fmt.Fprintf(w, "  Tissue tiles:    %d\n", len(tissue))

	if idx.Len() > 0 {
		otsu := make([]float64, idx.Len())
		purple := make([]float64, idx.Len())
		for i, t := range idx.Tiles {
			otsu[i] = t.OtsuScore
			purple[i] = t.PurpleScore
		}
		otsuMedian, otsuMAD := medianMAD(otsu)
		purpleMedian, purpleMAD := medianMAD(purple)
		fmt.Fprintf(w, "  Otsu (median):   %.3f +/- %.3f\n", otsuMedian, otsuMAD)
		fmt.Fprintf(w, "  Purple (median): %.3f +/- %.3f\n", purpleMedian, purpleMAD)
	}
	fmt.Fprintln(w, "==============================")

	if field == nil {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Field Analysis (3x3) ===")
	for i, pos := range wsi.ZoneOrder {
		z := field.Zones[pos]
		fmt.Fprintf(w, "  %-8s otsu=%.3f  purple=%.3f  tissue=%d/%d\n", z.Label, z.MedianOtsu, z.MedianPurple, z.TissueTiles, z.TotalTiles)
		if (i+1)%3 == 0 && i < 8 {
			fmt.Fprintln(w, "  ---")
		}
	}
	fmt.Fprintf(w, "\n  Tissue:   %.1f%% (densest: %s, sparsest: %s)\n", field.TissueFraction*100, field.DensestZone, field.SparsestZone)
	fmt.Fprintln(w, "==============================")
}

func medianMAD(values []float64) (float64, float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	median := middle(sorted)

	deviations := make([]float64, len(sorted))
	for i := range sorted {
		deviations[i] = math.Abs(sorted[i] - median)
	}
	sort.Float64s(deviations)

	return median, 1.4826 * middle(deviations)
}

func middle(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}
