// Package etl builds proxy tables from raw clinical and radiology data and
// links the ingested datasets into the graph.
package etl

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mind/pkg/config"
)

const dataKey = config.DataConfig + "::"

// ProjectLocation is ROOT_PATH/PROJECT.
func ProjectLocation(cfg *config.Set) (string, error) {
	root, err := cfg.GetString(dataKey + "ROOT_PATH")
	if err != nil {
		return "", err
	}
	project, err := cfg.GetString(dataKey + "PROJECT")
	if err != nil {
		return "", err
	}
	return filepath.Join(root, project), nil
}

// TableName is the upper-cased DATA_TYPE (SOURCE_DATA_TYPE when source is
// set) with a _DATASET_NAME suffix when a dataset name is configured.
func TableName(cfg *config.Set, source bool) (string, error) {
	key := "DATA_TYPE"
	if source {
		key = "SOURCE_DATA_TYPE"
	}
	typ, err := cfg.GetString(dataKey + key)
	if err != nil {
		return "", err
	}
	name := strings.ToUpper(typ)
	if ds := cfg.StringOr(dataKey+"DATASET_NAME", ""); ds != "" {
		name += "_" + ds
	}
	return name, nil
}

// TableLocation is PROJECT_LOCATION/tables/TABLE_NAME.
func TableLocation(cfg *config.Set, source bool) (string, error) {
	project, err := ProjectLocation(cfg)
	if err != nil {
		return "", err
	}
	name, err := TableName(cfg, source)
	if err != nil {
		return "", err
	}
	return filepath.Join(project, "tables", name), nil
}

// ConfigLocation is PROJECT_LOCATION/configs/TABLE_NAME.
func ConfigLocation(cfg *config.Set) (string, error) {
	project, err := ProjectLocation(cfg)
	if err != nil {
		return "", err
	}
	name, err := TableName(cfg, false)
	if err != nil {
		return "", err
	}
	return filepath.Join(project, "configs", name), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
