package wsi

import (
	"encoding/csv"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"
	"strings"
)

// ScoresFileName is the scored tile index written by PretileScoring.
const ScoresFileName = "tile_scores_and_labels.csv"

var scoresHeader = []string{"address", "coordinates", "otsu_score", "purple_score"}

// WriteScores writes the index as CSV, one row per tile in index order.
func WriteScores(path string, idx *ScoreIndex) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating scores file: %w", err)
	}
	if err := writeScores(f, idx); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeScores(w io.Writer, idx *ScoreIndex) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(scoresHeader); err != nil {
		return fmt.Errorf("writing scores header: %w", err)
	}
	for _, t := range idx.Tiles {
		record := []string{
			t.Address,
			formatCoordinates(t.Coordinates),
			strconv.FormatFloat(t.OtsuScore, 'f', -1, 64),
			strconv.FormatFloat(t.PurpleScore, 'f', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing scores row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadScores loads a scores CSV. Columns are located by header name so
// files carrying extra label columns load too.
func ReadScores(path string) (*ScoreIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening scores file: %w", err)
	}
	defer f.Close()
	return readScores(f)
}

func readScores(r io.Reader) (*ScoreIndex, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading scores header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"address", "otsu_score"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("scores file is missing column %q", required)
		}
	}

	idx := NewScoreIndex(0)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading scores line %d: %w", line, err)
		}
		t := TileScore{Address: record[cols["address"]]}
		if t.Coordinates, err = AddressToCoord(t.Address); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if t.OtsuScore, err = strconv.ParseFloat(record[cols["otsu_score"]], 64); err != nil {
			return nil, fmt.Errorf("line %d: parsing otsu_score: %w", line, err)
		}
		if i, ok := cols["purple_score"]; ok {
			if t.PurpleScore, err = strconv.ParseFloat(record[i], 64); err != nil {
				return nil, fmt.Errorf("line %d: parsing purple_score: %w", line, err)
			}
		}
		if err := idx.Add(t); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	return idx, nil
}

func formatCoordinates(p image.Point) string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Y)
}
