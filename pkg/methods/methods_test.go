package methods

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mind/pkg/graph"
	"mind/pkg/graph/graphtest"
	"mind/pkg/wsi"
)

// writeSlide saves a 400x300 PNG slide, stained left of x=240, scanned at 20x.
func writeSlide(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 400; x++ {
			c := color.RGBA{255, 255, 255, 255}
			if x < 240 {
				c = color.RGBA{150, 50, 150, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	path := filepath.Join(dir, "slide-9.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	require.NoError(t, os.WriteFile(wsi.SidecarPath(path), []byte("aperio.AppMag: 20\n"), 0o644))
	return path
}

func containerRecord() graph.Record {
	return graph.Record{
		"container": map[string]any{"name": "slide-9", "namespace": "brca", "qualified_address": "brca::slide-9"},
		"labels":    []any{"slide"},
	}
}

func TestLookup(t *testing.T) {
	assert.Equal(t, []string{"collect_tiles", "pretile", "visualize_tiles", "window_dicom"}, Names())

	m, err := Lookup("pretile")
	require.NoError(t, err)
	assert.Equal(t, "pretile", m.Name)

	_, err = Lookup("extract_radiomics")
	assert.ErrorIs(t, err, ErrUnknownFunction)
}

func TestValidate(t *testing.T) {
	pretile, _ := Lookup(FuncPretile)
	params, err := pretile.Validate([]byte(`{"job_tag":"tiles","input_wsi_tag":"main","tile_size":128,"magnification":20}`))
	require.NoError(t, err)
	assert.Equal(t, "tiles", params["job_tag"])

	_, err = pretile.Validate([]byte(`{"job_tag":"tiles","input_wsi_tag":"main"}`))
	assert.Error(t, err, "tile_size and magnification are required")
	_, err = pretile.Validate([]byte(`not json`))
	assert.Error(t, err)
	_, err = pretile.Validate([]byte(`null`))
	assert.Error(t, err)

	collect, _ := Lookup(FuncCollectTiles)
	_, err = collect.Validate([]byte(`{"job_tag":"t","input_wsi_tag":"main","input_label_tag":"tiles"}`))
	assert.NoError(t, err)
	_, err = collect.Validate([]byte(`{"job_tag":"t","input_wsi_tag":"main"}`))
	assert.Error(t, err)

	window, _ := Lookup(FuncWindowDicom)
	_, err = window.Validate([]byte(`{"job_tag":"w","dicom_input_tag":"dicoms"}`))
	assert.NoError(t, err)
	_, err = window.Validate([]byte(`{"job_tag":"w","dicom_input_tag":"dicoms","window":true}`))
	assert.Error(t, err, "levels are required when windowing")
	_, err = window.Validate([]byte(`{"job_tag":"w","dicom_input_tag":"dicoms","window":true,"window_low_level":-100,"window_high_level":100}`))
	assert.NoError(t, err)
}

func TestReadParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"job_tag":"tiles","tile_size":128}`), 0o644))
	params, err := ReadParams(path)
	require.NoError(t, err)
	assert.Equal(t, float64(128), params["tile_size"])

	_, err = ReadParams(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestRun_Pretile(t *testing.T) {
	slidePath := writeSlide(t, t.TempDir())
	dataDir := t.TempDir()
	fake := graphtest.New().
		On("HAS_DATA]-(data:wsi)", graph.Record{"data": map[string]any{"name": "main", "path": slidePath}}).
		On("MATCH (container) WHERE", containerRecord())

	r := NewRunner(fake, dataDir, nil)
	err := r.Run(context.Background(), FuncPretile, "brca", "slide-9", map[string]any{
		"job_tag": "tiles_40", "input_wsi_tag": "main", "tile_size": 40, "magnification": 10,
	})
	require.NoError(t, err)

	csv := filepath.Join(dataDir, "data", "brca", "slide-9", "tiles_40", wsi.ScoresFileName)
	assert.FileExists(t, csv)

	merges := fake.Matching("MERGE (container)-[:HAS_DATA]->(data:TileScores")
	require.Len(t, merges, 1)
	props := merges[0].Params["props"].(map[string]any)
	assert.Equal(t, csv, props["file"])
	assert.Equal(t, 20, props["total_tiles"])
	assert.Equal(t, 20, props["full_resolution_magnification"])
	assert.Equal(t, "brca::slide-9::tiles_40", merges[0].Params["data"])
}

func TestRun_CollectAndVisualizeUseLabelProperties(t *testing.T) {
	slidePath := writeSlide(t, t.TempDir())
	scoresDir := t.TempDir()
	params := wsi.TileParams{TileSize: 40, Magnification: 10}
	res, err := wsi.NewProcessor(nil).PretileScoring(context.Background(), slidePath, scoresDir, params)
	require.NoError(t, err)

	dataDir := t.TempDir()
	fake := graphtest.New().
		On("HAS_DATA]-(data:wsi)", graph.Record{"data": map[string]any{"name": "main", "path": slidePath}}).
		On("HAS_DATA]-(data:TileScores)", graph.Record{"data": map[string]any{
			"name": "tiles_40", "file": res.File, "tile_size": int64(40), "magnification": int64(10),
		}}).
		On("MATCH (container) WHERE", containerRecord())
	r := NewRunner(fake, dataDir, nil)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx, FuncCollectTiles, "brca", "slide-9", map[string]any{
		"job_tag": "slices", "input_wsi_tag": "main", "input_label_tag": "tiles_40",
	}))
	assert.FileExists(t, filepath.Join(dataDir, "data", "brca", "slide-9", "slices", wsi.TileSliceFileName))
	merges := fake.Matching("(data:TileImages")
	require.Len(t, merges, 1)
	props := merges[0].Params["props"].(map[string]any)
	assert.Equal(t, "RGB", props["pil_image_mode"])
	assert.Equal(t, 12, props["tile_count"])

	require.NoError(t, r.Run(ctx, FuncVisualizeTiles, "brca", "slide-9", map[string]any{
		"job_tag": "vis", "input_wsi_tag": "main", "input_label_tag": "tiles_40",
	}))
	assert.FileExists(t, filepath.Join(dataDir, "data", "brca", "slide-9", "vis", wsi.VisualizationFileName))
	assert.Len(t, fake.Matching("(data:TileScoresVisualization"), 1)
}

func TestRun_FailureLeavesGraphUnchanged(t *testing.T) {
	fake := graphtest.New().On("MATCH (container) WHERE", containerRecord())
	r := NewRunner(fake, t.TempDir(), nil)

	err := r.Run(context.Background(), FuncPretile, "brca", "slide-9", map[string]any{
		"job_tag": "tiles", "input_wsi_tag": "missing", "tile_size": 40, "magnification": 10,
	})
	assert.Error(t, err)
	assert.Empty(t, fake.Matching("MERGE"))

	err = r.Run(context.Background(), FuncWindowDicom, "brca", "slide-9", map[string]any{
		"job_tag": "w", "dicom_input_tag": "dicoms",
	})
	assert.Error(t, err)
	assert.Empty(t, fake.Matching("MERGE"))
}

func TestRun_Errors(t *testing.T) {
	ctx := context.Background()
	fake := graphtest.New().On("MATCH (container) WHERE", containerRecord())

	assert.ErrorIs(t, NewRunner(fake, t.TempDir(), nil).Run(ctx, "nope", "brca", "slide-9", nil), ErrUnknownFunction)
	assert.Error(t, NewRunner(fake, "", nil).Run(ctx, FuncPretile, "brca", "slide-9", nil))
	assert.Error(t, NewRunner(graphtest.New(), t.TempDir(), nil).Run(ctx, FuncPretile, "brca", "slide-9", map[string]any{}))
}

func TestFindDicoms(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "series"), 0o755))
	for _, name := range []string{"b.dcm", "series/a.DCM", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), nil, 0o644))
	}
	files, err := findDicoms(root)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "b.dcm"), filepath.Join(root, "series", "a.DCM")}, files)

	_, err = findDicoms(filepath.Join(root, "missing"))
	assert.Error(t, err)
}
