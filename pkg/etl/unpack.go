package etl

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"mind/pkg/config"
	"mind/pkg/logging"
)

// FeatureRow is one slice of the radiology feature table.
type FeatureRow struct {
	AccessionNumber          string
	InstanceNumber           string
	ScanAnnotationRecordUUID string
	Label                    string
	Dicom                    []byte
	Overlay                  []byte
}

// featureColumns maps leaf column names to FeatureRow setters. Any other
// column is ignored.
var featureColumns = map[string]func(*FeatureRow, parquet.Value){
	"AccessionNumber":             func(r *FeatureRow, v parquet.Value) { r.AccessionNumber = valueString(v) },
	"InstanceNumber":              func(r *FeatureRow, v parquet.Value) { r.InstanceNumber = valueString(v) },
	"scan_annotation_record_uuid": func(r *FeatureRow, v parquet.Value) { r.ScanAnnotationRecordUUID = valueString(v) },
	"label":                       func(r *FeatureRow, v parquet.Value) { r.Label = valueString(v) },
	"dicom":                       func(r *FeatureRow, v parquet.Value) { r.Dicom = valueBytes(v) },
	"overlay":                     func(r *FeatureRow, v parquet.Value) { r.Overlay = valueBytes(v) },
}

// UnpackFeatures writes the COLUMN_NAME binaries of the feature table as
// DESTINATION_PATH/COLUMN_NAME/<accession>[_<label>]/<instance>.png and
// returns the number of images written.
func UnpackFeatures(cfg *config.Set, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	defer logging.Timer(log, "unpack features")()

	location, err := TableLocation(cfg, false)
	if err != nil {
		return 0, err
	}
	dest, err := cfg.GetString(dataKey + "DESTINATION_PATH")
	if err != nil {
		return 0, err
	}
	column, err := cfg.GetString(dataKey + "COLUMN_NAME")
	if err != nil {
		return 0, err
	}
	width, err := cfg.GetInt(dataKey + "IMAGE_WIDTH")
	if err != nil {
		return 0, err
	}
	height, err := cfg.GetInt(dataKey + "IMAGE_HEIGHT")
	if err != nil {
		return 0, err
	}

	rows, err := readFeatureTable(location)
	if err != nil {
		return 0, err
	}
	multiple := multipleAnnotations(rows)

	written := 0
	for _, row := range rows {
		img, err := featureImage(row, column, width, height)
		if err != nil {
			return written, fmt.Errorf("accession %s instance %s: %w", row.AccessionNumber, row.InstanceNumber, err)
		}
		dir := row.AccessionNumber
		if multiple[row.AccessionNumber] && row.Label != "" {
			dir += "_" + row.Label
		}
		dir = filepath.Join(dest, column, dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return written, err
		}
		if err := writePNG(filepath.Join(dir, row.InstanceNumber+".png"), img); err != nil {
			return written, err
		}
		written++
	}
	log.Info("Unpacked feature images", zap.Int("count", written), zap.String("destination", dest))
	return written, nil
}

func readFeatureTable(dir string) ([]FeatureRow, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no parquet files under %s", dir)
	}
	var rows []FeatureRow
	for _, f := range files {
		part, err := readFeatureFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		rows = append(rows, part...)
	}
	return rows, nil
}

// readFeatureFile decodes rows value by value so nullable binary columns
// keep their bytes.
func readFeatureFile(path string) ([]FeatureRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, err
	}

	leaves := pf.Schema().Columns()
	setters := make([]func(*FeatureRow, parquet.Value), len(leaves))
	for i, leaf := range leaves {
		setters[i] = featureColumns[leaf[len(leaf)-1]]
	}

	var out []FeatureRow
	buf := make([]parquet.Row, 64)
	for _, rg := range pf.RowGroups() {
		rr := rg.Rows()
		for {
			n, err := rr.ReadRows(buf)
			for _, row := range buf[:n] {
				var fr FeatureRow
				for _, v := range row {
					col := v.Column()
					if v.IsNull() || col < 0 || col >= len(setters) || setters[col] == nil {
						continue
					}
					setters[col](&fr, v)
				}
				out = append(out, fr)
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				rr.Close()
				return nil, err
			}
		}
		if err := rr.Close(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func valueString(v parquet.Value) string {
	switch v.Kind() {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	case parquet.Int32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case parquet.Int64:
		return strconv.FormatInt(v.Int64(), 10)
	default:
		return v.String()
	}
}

// valueBytes copies the value out of the reader's buffer.
func valueBytes(v parquet.Value) []byte {
	return append([]byte(nil), v.ByteArray()...)
}

// multipleAnnotations marks accessions with more than one distinct
// scan annotation.
func multipleAnnotations(rows []FeatureRow) map[string]bool {
	seen := make(map[string]map[string]struct{})
	for _, r := range rows {
		if seen[r.AccessionNumber] == nil {
			seen[r.AccessionNumber] = make(map[string]struct{})
		}
		seen[r.AccessionNumber][r.ScanAnnotationRecordUUID] = struct{}{}
	}
	out := make(map[string]bool, len(seen))
	for acc, ids := range seen {
		out[acc] = len(ids) > 1
	}
	return out
}

// featureImage decodes raw pixels: 8-bit gray for dicom, packed RGB for
// overlay.
func featureImage(row FeatureRow, column string, w, h int) (image.Image, error) {
	switch strings.ToLower(column) {
	case "dicom":
		if len(row.Dicom) < w*h {
			return nil, fmt.Errorf("dicom column has %d bytes, need %d", len(row.Dicom), w*h)
		}
		img := image.NewGray(image.Rect(0, 0, w, h))
		copy(img.Pix, row.Dicom[:w*h])
		return img, nil
	case "overlay":
		if len(row.Overlay) < w*h*3 {
			return nil, fmt.Errorf("overlay column has %d bytes, need %d", len(row.Overlay), w*h*3)
		}
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < w*h; i++ {
			copy(img.Pix[i*4:i*4+3], row.Overlay[i*3:i*3+3])
			img.Pix[i*4+3] = 0xff
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported column %q, expected dicom or overlay", column)
	}
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return f.Close()
}
