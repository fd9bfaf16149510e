package etl

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mind/pkg/config"
	"mind/pkg/logging"
	"mind/pkg/table"
)

// ErrFileType is returned when FILE_TYPE is neither csv nor tsv.
var ErrFileType = errors.New("make sure input file is a valid tsv or csv file")

// Delimiter maps FILE_TYPE to its field separator.
func Delimiter(fileType string) (rune, error) {
	switch strings.ToLower(fileType) {
	case "csv":
		return ',', nil
	case "tsv":
		return '\t', nil
	default:
		return 0, ErrFileType
	}
}

// ClinicalProxy copies the app and data configs next to the table and
// converts SOURCE_PATH into a string proxy table with a uuid column.
// It returns the written table file.
func ClinicalProxy(cfg *config.Set, appConfigPath, dataConfigPath string, log *zap.Logger) (string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	defer logging.Timer(log, "generate clinical proxy table")()

	cfgDir, err := ConfigLocation(cfg)
	if err != nil {
		return "", err
	}
	if err := copyFile(appConfigPath, filepath.Join(cfgDir, "app_config.yaml")); err != nil {
		return "", err
	}
	if err := copyFile(dataConfigPath, filepath.Join(cfgDir, "data_config.yaml")); err != nil {
		return "", err
	}

	delim, err := Delimiter(cfg.StringOr(dataKey+"FILE_TYPE", ""))
	if err != nil {
		return "", err
	}
	source, err := cfg.GetString(dataKey + "SOURCE_PATH")
	if err != nil {
		return "", err
	}
	location, err := TableLocation(cfg, false)
	if err != nil {
		return "", err
	}
	name, _ := TableName(cfg, false)

	log.Info("Generating proxy table", zap.String("source", source), zap.String("table", location))
	columns, rows, err := readDelimited(source, delim)
	if err != nil {
		return "", err
	}
	columns = append(columns, "uuid")
	for _, r := range rows {
		r["uuid"] = uuid.NewString()
	}

	path, err := table.WriteDir(location, name, columns, rows)
	if err != nil {
		return "", err
	}
	log.Info("Wrote clinical proxy table", zap.Int("rows", len(rows)), zap.Strings("columns", columns))
	return path, nil
}

// readDelimited reads a headed delimited file. Empty cells are null.
func readDelimited(path string, delim rune) ([]string, []table.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("reading header of %s: %w", path, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []table.Row
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", path, err)
		}
		row := make(table.Row, len(header)+1)
		for i, col := range header {
			if i < len(rec) && rec[i] != "" {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}
