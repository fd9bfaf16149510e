// Package methods runs processing methods against a data container: the
// inputs are resolved from the container's data nodes, outputs are written
// under the shared data directory and recorded as a new data node.
package methods

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"mind/pkg/container"
	"mind/pkg/graph"
	"mind/pkg/logging"
	"mind/pkg/wsi"
)

// ErrUnknownFunction is returned for unregistered method names.
var ErrUnknownFunction = errors.New("unknown function")

var validate = validator.New(validator.WithRequiredStructEnabled())

// job is the state shared by a single method run.
type job struct {
	log       *zap.Logger
	container *container.Container
	params    map[string]any
	dataDir   string
	proc      *wsi.Processor
}

type runFunc func(ctx context.Context, j *job) (graph.Node, error)

// Method is a registered processing function.
type Method struct {
	Name string
	// Request returns a pointer to the submission model.
	Request func() any
	run     runFunc
}

var registry = map[string]Method{}

func register(m Method) {
	registry[m.Name] = m
}

// Lookup returns the method registered under name.
func Lookup(name string) (Method, error) {
	m, ok := registry[name]
	if !ok {
		return Method{}, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return m, nil
}

// Names lists registered methods.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks a JSON body against the method's submission model and
// returns it as a parameter map.
func (m Method) Validate(body []byte) (map[string]any, error) {
	var params map[string]any
	if err := json.Unmarshal(body, &params); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if params == nil {
		return nil, errors.New("invalid parameters: expected a JSON object")
	}
	if err := decode(params, m.Request()); err != nil {
		return nil, err
	}
	return params, nil
}

// ReadParams loads a JSON method parameter file.
func ReadParams(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading method parameters: %w", err)
	}
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parsing method parameters %s: %w", path, err)
	}
	return params, nil
}

// decode converts params into out and validates it.
func decode(params map[string]any, out any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding parameters: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

// Runner executes methods against containers in the graph.
type Runner struct {
	q       graph.Querier
	dataDir string
	log     *zap.Logger
	proc    *wsi.Processor
}

// NewRunner writes outputs under dataDir, normally MIND_GPFS_DIR.
func NewRunner(q graph.Querier, dataDir string, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{q: q, dataDir: dataDir, log: log, proc: wsi.NewProcessor(log)}
}

// Run resolves the container, executes the method and saves its output
// node. On failure nothing is written to the graph.
func (r *Runner) Run(ctx context.Context, function, cohortID, containerID string, params map[string]any) error {
	m, err := Lookup(function)
	if err != nil {
		return err
	}
	log := r.log.With(
		zap.String("function", function),
		zap.String("cohort_id", cohortID),
		zap.String("container_id", containerID),
	)
	defer logging.Timer(log, function)()

	if r.dataDir == "" {
		return errors.New("MIND_GPFS_DIR is not set")
	}

	c := container.New(r.q, log).SetNamespace(cohortID)
	if err := c.Lookup(ctx, containerID); err != nil {
		log.Error("Container lookup failed", zap.Error(err))
		return err
	}

	merged := make(map[string]any, len(params))
	for k, v := range params {
		merged[k] = v
	}
	node, err := m.run(ctx, &job{log: log, container: c, params: merged, dataDir: r.dataDir, proc: r.proc})
	if err != nil {
		log.Error("Exception raised, stopping job execution", zap.Error(err))
		return err
	}

	c.Add(node)
	if err := c.SaveAll(ctx); err != nil {
		log.Error("Saving output node failed", zap.Error(err))
		return err
	}
	log.Info("Method finished", zap.String("output", node.Type), zap.String("tag", node.Name))
	return nil
}

// outputDir creates and returns the directory for a job tag.
func (j *job) outputDir(tag string) (string, error) {
	dir := j.container.OutputDir(j.dataDir, tag)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	return dir, nil
}
