package etl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mind/pkg/config"
	"mind/pkg/dicomio"
	"mind/pkg/graph"
	"mind/pkg/logging"
	"mind/pkg/table"
)

// Radiology proxy processes.
const (
	ProcessTransfer = "transfer"
	ProcessDelta    = "delta"
	ProcessGraph    = "graph"
	ProcessAll      = "all"
)

// DicomTable is the header table directory under LANDING_PATH.
const DicomTable = "tables/dicom"

// DefaultTransferScript is run for the transfer process.
const DefaultTransferScript = "./data_processing/radiology/proxy_table/transfer_files.sh"

// datasetProperties are copied from the data config onto the dataset node.
var datasetProperties = []string{
	"LANDING_PATH", "DATASET_NAME", "REQUESTOR", "REQUESTOR_DEPARTMENT",
	"REQUESTOR_EMAIL", "PROJECT", "SOURCE", "MODALITY",
}

// transferEnv are the data config keys exported to the transfer script.
var transferEnv = []string{
	"BWLIMIT", "CHUNK_FILE", "INCLUDE", "HOST", "SOURCE_PATH",
	"RAW_DATA_PATH", "FILE_COUNT", "DATA_SIZE",
}

// ParseProcesses splits "transfer,delta" into lower-case process names.
func ParseProcesses(s string) []string {
	var out []string
	for _, p := range strings.Split(strings.ToLower(strings.TrimSpace(s)), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func selected(processes []string, name string) bool {
	for _, p := range processes {
		if p == name || p == ProcessAll {
			return true
		}
	}
	return false
}

// RadiologyProxy ingests a landed DICOM dataset.
type RadiologyProxy struct {
	cfg          *config.Set
	templatePath string
	graph        graph.Querier
	log          *zap.Logger

	// TransferScript overrides DefaultTransferScript.
	TransferScript string
}

// NewRadiologyProxy reads settings from the DATA_CFG document loaded from
// templatePath. q may be nil when the graph process is not run.
func NewRadiologyProxy(cfg *config.Set, templatePath string, q graph.Querier, log *zap.Logger) *RadiologyProxy {
	if log == nil {
		log = zap.NewNop()
	}
	return &RadiologyProxy{cfg: cfg, templatePath: templatePath, graph: q, log: log, TransferScript: DefaultTransferScript}
}

// Run executes the selected processes in order, stopping at the first
// failure.
func (r *RadiologyProxy) Run(ctx context.Context, processes []string) error {
	defer logging.Timer(r.log, "generate proxy table")()
	r.log.Info("Running radiology proxy", zap.Strings("processes", processes), zap.String("template", r.templatePath))

	landing, err := r.cfg.GetString(dataKey + "LANDING_PATH")
	if err != nil {
		return err
	}
	if err := copyFile(r.templatePath, filepath.Join(landing, "manifest.yaml")); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	if selected(processes, ProcessTransfer) {
		if err := r.Transfer(ctx); err != nil {
			return err
		}
	}
	if selected(processes, ProcessDelta) {
		if _, err := r.Delta(ctx); err != nil {
			r.log.Error("Delta table creation had errors. Exiting.", zap.Error(err))
			return err
		}
	}
	if selected(processes, ProcessGraph) {
		if err := r.UpdateGraph(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Transfer runs the transfer script with the data config exported into
// its environment.
func (r *RadiologyProxy) Transfer(ctx context.Context) error {
	defer logging.Timer(r.log, "transfer files")()

	env := os.Environ()
	for _, key := range transferEnv {
		v, err := r.cfg.GetString(dataKey + key)
		if err != nil {
			if key == "INCLUDE" {
				continue
			}
			return err
		}
		env = append(env, key+"="+v)
	}

	cmd := exec.CommandContext(ctx, r.TransferScript)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			r.log.Error("Error transferring files, non-zero exit code", zap.Int("exit_code", exitErr.ExitCode()))
		}
		return fmt.Errorf("transferring files: %w", err)
	}
	return nil
}

// Delta parses every *.dcm header under RAW_DATA_PATH into the dicom
// table and returns its path. The processed count must equal FILE_COUNT.
func (r *RadiologyProxy) Delta(ctx context.Context) (string, error) {
	defer logging.Timer(r.log, "parse and save dicom")()

	raw, err := r.cfg.GetString(dataKey + "RAW_DATA_PATH")
	if err != nil {
		return "", err
	}
	landing, err := r.cfg.GetString(dataKey + "LANDING_PATH")
	if err != nil {
		return "", err
	}
	want, err := r.cfg.GetInt(dataKey + "FILE_COUNT")
	if err != nil {
		return "", err
	}

	var files []string
	err = filepath.WalkDir(raw, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".dcm") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scanning %s: %w", raw, err)
	}
	sort.Strings(files)

	rows := make([]table.Row, len(files))
	var skipped sync.Map
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row, err := headerRow(f)
			if err != nil {
				skipped.Store(f, err)
				return nil
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	parsed := rows[:0]
	for _, row := range rows {
		if row != nil {
			parsed = append(parsed, row)
		}
	}
	skipped.Range(func(k, v any) bool {
		r.log.Warn("Skipping unreadable dicom", zap.String("path", k.(string)), zap.Error(v.(error)))
		return true
	})
	if len(parsed) == 0 {
		return "", fmt.Errorf("no dicom headers parsed under %s, expected %d", raw, want)
	}

	path, err := table.WriteDir(filepath.Join(landing, DicomTable), "dicom", nil, parsed)
	if err != nil {
		return "", err
	}
	r.log.Info("Processed dicom headers",
		zap.Int("processed", len(parsed)),
		zap.Int("expected", want),
		zap.String("table", path),
	)
	if len(parsed) != want {
		return path, fmt.Errorf("processed %d dicom headers out of %d expected", len(parsed), want)
	}
	return path, nil
}

func headerRow(path string) (table.Row, error) {
	content, err := dicomio.ReadFile(path)
	if err != nil {
		return nil, err
	}
	h, err := dicomio.ReadHeader(path)
	if err != nil {
		return nil, err
	}
	row := make(table.Row, len(h)+3)
	for k, v := range h {
		row[k] = v
	}
	row["path"] = path
	row["length"] = fmt.Sprint(len(content))
	row["dicom_record_uuid"] = dicomio.RecordUUID(content)
	return row, nil
}

// scanKey identifies one series of a case.
type scanKey struct {
	PatientID, AccessionNumber, SeriesInstanceUID string
}

// UpdateGraph merges the dataset node and links every distinct
// patient/case/scan of the dicom table to it.
func (r *RadiologyProxy) UpdateGraph(ctx context.Context) error {
	if r.graph == nil {
		return errors.New("graph process needs a graph connection")
	}
	defer logging.Timer(r.log, "synchronize graph")()

	landing, err := r.cfg.GetString(dataKey + "LANDING_PATH")
	if err != nil {
		return err
	}
	location, err := TableLocation(r.cfg, false)
	if err != nil {
		return err
	}
	datasetName := r.cfg.StringOr(dataKey+"DATASET_NAME", "")

	props := map[string]any{"TABLE_LOCATION": location}
	for _, key := range datasetProperties {
		if v, err := r.cfg.GetString(dataKey + key); err == nil {
			props[key] = v
		}
	}
	if _, err := r.graph.Query(ctx,
		"MERGE (n:dataset {DATASET_NAME: $name}) SET n += $props",
		map[string]any{"name": datasetName, "props": props}); err != nil {
		return fmt.Errorf("merging dataset node: %w", err)
	}

	_, rows, err := table.ReadFile(filepath.Join(landing, DicomTable, table.PartFile))
	if err != nil {
		return fmt.Errorf("loading dicom table: %w", err)
	}
	keys := distinctScans(rows)
	r.log.Info("Synchronizing scans", zap.Int("scans", len(keys)), zap.String("dataset", datasetName))

	const link = `MATCH (das:dataset {DATASET_NAME: $dataset})
MERGE (px:xnat_patient {PatientID: $patient})
MERGE (cas:case {AccessionNumber: $accession, type: "radiology"})
MERGE (sc:scan {SeriesInstanceUID: $series})
MERGE (px)-[:HAS_CASE]->(cas)
MERGE (cas)-[:HAS_SCAN]->(sc)
MERGE (sc)-[:HAS_DATA]->(das)`
	for _, k := range keys {
		if _, err := r.graph.Query(ctx, link, map[string]any{
			"dataset":   datasetName,
			"patient":   k.PatientID,
			"accession": k.AccessionNumber,
			"series":    k.SeriesInstanceUID,
		}); err != nil {
			return fmt.Errorf("linking scan %s: %w", k.SeriesInstanceUID, err)
		}
	}
	return nil
}

func distinctScans(rows []table.Row) []scanKey {
	seen := make(map[scanKey]struct{})
	var keys []scanKey
	for _, row := range rows {
		k := scanKey{row["PatientID"], row["AccessionNumber"], row["SeriesInstanceUID"]}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
