// Package table writes and reads string-typed Parquet proxy tables whose
// columns are only known at run time.
package table

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"
)

// PartFile is the single data file written under a table location.
const PartFile = "part-00000.parquet"

// Row maps column name to value. A missing column is null.
type Row map[string]string

// Columns returns the sorted union of column names over rows.
func Columns(rows []Row) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Schema is a nullable string column per name.
func Schema(name string, columns []string) *parquet.Schema {
	group := make(parquet.Group, len(columns))
	for _, c := range columns {
		group[c] = parquet.Optional(parquet.String())
	}
	return parquet.NewSchema(name, group)
}

// Write encodes rows to w. When columns is nil the union of row keys is
// used. Columns are stored in sorted order.
func Write(w io.Writer, name string, columns []string, rows []Row) error {
	cols := columns
	if cols == nil {
		cols = Columns(rows)
	}
	if len(cols) == 0 {
		return errors.New("table has no columns")
	}
	schema := Schema(name, cols)
	// Leaf order follows the schema, which sorts group fields by name.
	leaves := schema.Columns()

	pw := parquet.NewWriter(w, schema)
	buf := make([]parquet.Row, 0, 1)
	for _, r := range rows {
		row := make(parquet.Row, len(leaves))
		for i, path := range leaves {
			if v, ok := r[path[0]]; ok {
				row[i] = parquet.ValueOf(v).Level(0, 1, i)
			} else {
				row[i] = parquet.Value{}.Level(0, 0, i)
			}
		}
		buf = append(buf[:0], row)
		if _, err := pw.WriteRows(buf); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	return nil
}

// WriteDir writes rows to dir/PartFile, replacing any previous table.
func WriteDir(dir, name string, columns []string, rows []Row) (string, error) {
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clearing %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, PartFile)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := Write(f, name, columns, rows); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// ReadFile loads every row of a table written by Write.
func ReadFile(path string) ([]string, []Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := parquet.NewReader(f)
	defer r.Close()

	leaves := r.Schema().Columns()
	cols := make([]string, len(leaves))
	for i, p := range leaves {
		cols[i] = p[0]
	}

	var rows []Row
	buf := make([]parquet.Row, 64)
	for {
		n, err := r.ReadRows(buf)
		for _, pr := range buf[:n] {
			row := make(Row, len(cols))
			for _, v := range pr {
				if v.IsNull() {
					continue
				}
				row[cols[v.Column()]] = string(v.ByteArray())
			}
			rows = append(rows, row)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return cols, rows, nil
}
