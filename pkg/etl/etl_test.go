package etl

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mind/pkg/config"
	"mind/pkg/graph/graphtest"
	"mind/pkg/table"
)

func dataConfig(t *testing.T, yaml string) (*config.Set, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	cfg := config.NewSet()
	require.NoError(t, cfg.Load(config.DataConfig, path, ""))
	return cfg, path
}

func TestTableNaming(t *testing.T) {
	cfg, _ := dataConfig(t, "ROOT_PATH: /data\nPROJECT: OV_16-158\nDATA_TYPE: diagnosis\nSOURCE_DATA_TYPE: dicom\nDATASET_NAME: ds1\n")

	loc, err := ProjectLocation(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/data/OV_16-158", loc)

	name, err := TableName(cfg, false)
	require.NoError(t, err)
	assert.Equal(t, "DIAGNOSIS_ds1", name)
	name, err = TableName(cfg, true)
	require.NoError(t, err)
	assert.Equal(t, "DICOM_ds1", name)

	tl, err := TableLocation(cfg, false)
	require.NoError(t, err)
	assert.Equal(t, "/data/OV_16-158/tables/DIAGNOSIS_ds1", tl)

	cl, err := ConfigLocation(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/data/OV_16-158/configs/DIAGNOSIS_ds1", cl)

	noDataset, _ := dataConfig(t, "ROOT_PATH: /data\nPROJECT: p\nDATA_TYPE: patient\n")
	name, err = TableName(noDataset, false)
	require.NoError(t, err)
	assert.Equal(t, "PATIENT", name)

	_, err = TableLocation(config.NewSet(), false)
	assert.Error(t, err)
}

func TestDelimiter(t *testing.T) {
	d, err := Delimiter("CSV")
	require.NoError(t, err)
	assert.Equal(t, ',', d)
	d, err = Delimiter("tsv")
	require.NoError(t, err)
	assert.Equal(t, '\t', d)
	_, err = Delimiter("xlsx")
	assert.ErrorIs(t, err, ErrFileType)
	assert.EqualError(t, err, "make sure input file is a valid tsv or csv file")
}

func TestClinicalProxy(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "patients.tsv")
	require.NoError(t, os.WriteFile(source, []byte("patient_id\tage\tnotes\nP1\t61\t\nP2\t\tfollow up\n"), 0o644))
	appPath := filepath.Join(root, "app.yaml")
	require.NoError(t, os.WriteFile(appPath, []byte("GRAPH_URI: bolt://x\n"), 0o644))

	cfg, dataPath := dataConfig(t, fmt.Sprintf(
		"ROOT_PATH: %s\nPROJECT: proj\nDATA_TYPE: patient\nFILE_TYPE: tsv\nSOURCE_PATH: %s\n", root, source))

	path, err := ClinicalProxy(cfg, appPath, dataPath, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "proj", "tables", "PATIENT", table.PartFile), path)
	assert.FileExists(t, filepath.Join(root, "proj", "configs", "PATIENT", "app_config.yaml"))
	assert.FileExists(t, filepath.Join(root, "proj", "configs", "PATIENT", "data_config.yaml"))

	cols, rows, err := table.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "notes", "patient_id", "uuid"}, cols)
	require.Len(t, rows, 2)
	assert.Equal(t, "61", rows[0]["age"])
	_, ok := rows[0]["notes"]
	assert.False(t, ok)
	assert.Equal(t, "follow up", rows[1]["notes"])
	assert.Len(t, rows[0]["uuid"], 36)
	assert.NotEqual(t, rows[0]["uuid"], rows[1]["uuid"])
}

func TestClinicalProxy_BadFileType(t *testing.T) {
	root := t.TempDir()
	appPath := filepath.Join(root, "app.yaml")
	require.NoError(t, os.WriteFile(appPath, []byte("{}\n"), 0o644))
	cfg, dataPath := dataConfig(t, fmt.Sprintf(
		"ROOT_PATH: %s\nPROJECT: proj\nDATA_TYPE: patient\nFILE_TYPE: xls\nSOURCE_PATH: /none\n", root))

	_, err := ClinicalProxy(cfg, appPath, dataPath, nil)
	assert.ErrorIs(t, err, ErrFileType)
}

func TestParseProcesses(t *testing.T) {
	assert.Equal(t, []string{"transfer", "delta"}, ParseProcesses(" Transfer, delta ,"))
	assert.True(t, selected([]string{"all"}, ProcessGraph))
	assert.False(t, selected([]string{"delta"}, ProcessGraph))
}

func TestRadiologyProxy_Transfer(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "env.txt")
	script := filepath.Join(root, "transfer.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$HOST $FILE_COUNT\" > "+out+"\n"), 0o755))
	failing := filepath.Join(root, "fail.sh")
	require.NoError(t, os.WriteFile(failing, []byte("#!/bin/sh\nexit 3\n"), 0o755))

	template := fmt.Sprintf("LANDING_PATH: %s/landing\nBWLIMIT: 100\nCHUNK_FILE: chunks\nHOST: pacs01\n"+
		"SOURCE_PATH: /src\nRAW_DATA_PATH: %s/raw\nFILE_COUNT: 2\nDATA_SIZE: 10\n", root, root)
	cfg, templatePath := dataConfig(t, template)

	r := NewRadiologyProxy(cfg, templatePath, nil, nil)
	r.TransferScript = script
	require.NoError(t, r.Run(context.Background(), []string{ProcessTransfer}))
	assert.FileExists(t, filepath.Join(root, "landing", "manifest.yaml"))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "pacs01 2", strings.TrimSpace(string(got)))

	r.TransferScript = failing
	assert.Error(t, r.Run(context.Background(), []string{ProcessTransfer, ProcessDelta}))
}

func TestRadiologyProxy_DeltaNoFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "raw"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "raw", "bad.dcm"), []byte("not dicom"), 0o644))
	cfg, templatePath := dataConfig(t, fmt.Sprintf(
		"LANDING_PATH: %s/landing\nRAW_DATA_PATH: %s/raw\nFILE_COUNT: 1\n", root, root))

	_, err := NewRadiologyProxy(cfg, templatePath, nil, nil).Delta(context.Background())
	assert.Error(t, err)
}

func TestRadiologyProxy_UpdateGraph(t *testing.T) {
	root := t.TempDir()
	landing := filepath.Join(root, "landing")
	_, err := table.WriteDir(filepath.Join(landing, DicomTable), "dicom", nil, []table.Row{
		{"PatientID": "P1", "AccessionNumber": "A1", "SeriesInstanceUID": "S1", "InstanceNumber": "1"},
		{"PatientID": "P1", "AccessionNumber": "A1", "SeriesInstanceUID": "S1", "InstanceNumber": "2"},
		{"PatientID": "P1", "AccessionNumber": "A1", "SeriesInstanceUID": "S2", "InstanceNumber": "1"},
	})
	require.NoError(t, err)

	cfg, templatePath := dataConfig(t, fmt.Sprintf(
		"LANDING_PATH: %s\nROOT_PATH: %s\nPROJECT: proj\nDATA_TYPE: dicom\nDATASET_NAME: ds1\nMODALITY: CT\n", landing, root))
	fake := graphtest.New()
	r := NewRadiologyProxy(cfg, templatePath, fake, nil)
	require.NoError(t, r.Run(context.Background(), []string{ProcessGraph}))

	ds := fake.Matching("MERGE (n:dataset")
	require.Len(t, ds, 1)
	props := ds[0].Params["props"].(map[string]any)
	assert.Equal(t, "CT", props["MODALITY"])
	assert.Equal(t, filepath.Join(root, "proj", "tables", "DICOM_ds1"), props["TABLE_LOCATION"])
	assert.Equal(t, "ds1", ds[0].Params["name"])

	links := fake.Matching("MERGE (px)-[:HAS_CASE]->(cas)")
	require.Len(t, links, 2)
	assert.Equal(t, "S1", links[0].Params["series"])
	assert.Equal(t, "S2", links[1].Params["series"])

	assert.Error(t, NewRadiologyProxy(cfg, templatePath, nil, nil).UpdateGraph(context.Background()))
}

// sparkFeatureRow mirrors a feature table written by Spark: every column
// nullable, InstanceNumber an integer, and columns the unpacker ignores.
type sparkFeatureRow struct {
	AccessionNumber          string `parquet:"AccessionNumber,optional"`
	InstanceNumber           *int32 `parquet:"InstanceNumber,optional"`
	ScanAnnotationRecordUUID string `parquet:"scan_annotation_record_uuid,optional"`
	Label                    string `parquet:"label,optional"`
	Dicom                    []byte `parquet:"dicom,optional"`
	Overlay                  []byte `parquet:"overlay,optional"`
	Metadata                 string `parquet:"metadata,optional"`
}

func instance(n int32) *int32 { return &n }

func TestUnpackFeatures(t *testing.T) {
	root := t.TempDir()
	cfg, _ := dataConfig(t, fmt.Sprintf(
		"ROOT_PATH: %s\nPROJECT: proj\nDATA_TYPE: feature\nDESTINATION_PATH: %s/out\nCOLUMN_NAME: dicom\nIMAGE_WIDTH: 2\nIMAGE_HEIGHT: 2\n", root, root))
	tableDir := filepath.Join(root, "proj", "tables", "FEATURE")
	require.NoError(t, os.MkdirAll(tableDir, 0o755))

	pix := []byte{0, 64, 128, 255}
	require.NoError(t, parquet.WriteFile(filepath.Join(tableDir, table.PartFile), []sparkFeatureRow{
		{AccessionNumber: "A1", InstanceNumber: instance(1), ScanAnnotationRecordUUID: "u1", Label: "left", Dicom: pix, Metadata: "x"},
		{AccessionNumber: "A1", InstanceNumber: instance(1), ScanAnnotationRecordUUID: "u2", Label: "right", Dicom: pix},
		{AccessionNumber: "A2", InstanceNumber: instance(7), ScanAnnotationRecordUUID: "u3", Label: "left", Dicom: pix},
	}))

	rows, err := readFeatureTable(tableDir)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, pix, rows[2].Dicom)
	assert.Equal(t, "7", rows[2].InstanceNumber)
	assert.Equal(t, "u3", rows[2].ScanAnnotationRecordUUID)
	assert.Empty(t, rows[2].Overlay)

	n, err := UnpackFeatures(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.FileExists(t, filepath.Join(root, "out", "dicom", "A1_left", "1.png"))
	assert.FileExists(t, filepath.Join(root, "out", "dicom", "A1_right", "1.png"))
	assert.FileExists(t, filepath.Join(root, "out", "dicom", "A2", "7.png"))

	f, err := os.Open(filepath.Join(root, "out", "dicom", "A2", "7.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())
	gray, ok := img.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, pix, gray.Pix)
}

func TestUnpackFeatures_NullColumn(t *testing.T) {
	root := t.TempDir()
	cfg, _ := dataConfig(t, fmt.Sprintf(
		"ROOT_PATH: %s\nPROJECT: proj\nDATA_TYPE: feature\nDESTINATION_PATH: %s/out\nCOLUMN_NAME: overlay\nIMAGE_WIDTH: 1\nIMAGE_HEIGHT: 1\n", root, root))
	tableDir := filepath.Join(root, "proj", "tables", "FEATURE")
	require.NoError(t, os.MkdirAll(tableDir, 0o755))
	require.NoError(t, parquet.WriteFile(filepath.Join(tableDir, table.PartFile), []sparkFeatureRow{
		{AccessionNumber: "A1", InstanceNumber: instance(1), Dicom: []byte{9}},
	}))

	n, err := UnpackFeatures(cfg, nil)
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestFeatureImage(t *testing.T) {
	row := FeatureRow{Overlay: []byte{1, 2, 3, 4, 5, 6}}
	img, err := featureImage(row, "overlay", 2, 1)
	require.NoError(t, err)
	r, g, b, _ := img.At(1, 0).RGBA()
	assert.Equal(t, []uint32{4, 5, 6}, []uint32{r >> 8, g >> 8, b >> 8})

	_, err = featureImage(row, "dicom", 4, 4)
	assert.Error(t, err)
	_, err = featureImage(row, "mask", 1, 1)
	assert.Error(t, err)
}
