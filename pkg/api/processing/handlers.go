// Package processing serves method submission and job status.
package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mind/pkg/api"
	"mind/pkg/graph"
	"mind/pkg/jobs"
	"mind/pkg/methods"
)

// ServiceName labels logs and metrics.
const ServiceName = "processing"

// Runner executes one method against one container.
type Runner interface {
	Run(ctx context.Context, function, cohortID, containerID string, params map[string]any) error
}

// Executor queues jobs.
type Executor interface {
	Submit(spec jobs.Spec, fn jobs.Func) (string, error)
	Accepting() bool
	Job(id string) (jobs.Job, error)
}

// CohortRequest selects containers with a Cypher query and applies the
// same parameters to each.
type CohortRequest struct {
	Query  string         `json:"query" binding:"required"`
	Params map[string]any `json:"params" binding:"required"`
}

type Handlers struct {
	q      graph.Querier
	runner Runner
	exec   Executor
	log    *zap.Logger
}

func NewHandlers(q graph.Querier, runner Runner, exec Executor, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{q: q, runner: runner, exec: exec, log: log}
}

func RegisterRoutes(router gin.IRouter, h *Handlers) {
	router.GET("/service/health", api.Health(ServiceName, h.exec.Accepting))

	v1 := router.Group(api.BasePath)
	{
		v1.GET("/jobs/:job_id", h.GetJob)
		v1.POST("/:function/:cohort_id/submit", h.SubmitCohort)
		v1.POST("/:function/:cohort_id/:container_id/submit", h.SubmitContainer)
	}
}

// submit queues function against one container.
func (h *Handlers) submit(function, cohortID, containerID string, params map[string]any) (string, error) {
	spec := jobs.Spec{Function: function, Cohort: cohortID, Container: containerID, Params: params}
	return h.exec.Submit(spec, func(ctx context.Context) error {
		return h.runner.Run(ctx, function, cohortID, containerID, params)
	})
}

func (h *Handlers) submitError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, jobs.ErrQueueFull) || errors.Is(err, jobs.ErrClosed) {
		status = http.StatusServiceUnavailable
	}
	h.log.Error("Job submission failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(status, gin.H{"message": err.Error()})
}

// SubmitContainer validates the body against the method's model and
// queues one job.
func (h *Handlers) SubmitContainer(c *gin.Context) {
	function, cohortID, containerID := c.Param("function"), c.Param("cohort_id"), c.Param("container_id")
	m, err := methods.Lookup(function)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	params, err := m.Validate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	id, err := h.submit(function, cohortID, containerID, params)
	if err != nil {
		h.submitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message": fmt.Sprintf("Submitted %s for %s::%s", function, cohortID, containerID),
		"job_id":  id,
	})
}

// ContainerAddresses runs query and returns the single qualified_address
// column of its result.
func ContainerAddresses(ctx context.Context, q graph.Querier, query string) ([]string, error) {
	recs, err := q.Query(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errors.New("query returned no containers")
	}
	addresses := make([]string, 0, len(recs))
	for _, rec := range recs {
		if len(rec) != 1 {
			return nil, fmt.Errorf("query must return exactly one column, got %d", len(rec))
		}
		for key, v := range rec {
			if !strings.Contains(key, "qualified_address") {
				return nil, fmt.Errorf("query must return a qualified_address column, got %q", key)
			}
			addr, ok := v.(string)
			if !ok || addr == "" {
				return nil, fmt.Errorf("query returned an empty %s", key)
			}
			addresses = append(addresses, addr)
		}
	}
	return addresses, nil
}

// SubmitCohort queues the method once per container selected by the
// request query.
func (h *Handlers) SubmitCohort(c *gin.Context) {
	function, cohortID := c.Param("function"), c.Param("cohort_id")
	m, err := methods.Lookup(function)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
		return
	}
	var req CohortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	encoded, err := json.Marshal(req.Params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	params, err := m.Validate(encoded)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	addresses, err := ContainerAddresses(c.Request.Context(), h.q, req.Query)
	if err != nil {
		h.log.Warn("Container query rejected", zap.String("query", req.Query), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	ids := make([]string, len(addresses))
	var g errgroup.Group
	for i, addr := range addresses {
		g.Go(func() error {
			id, err := h.submit(function, cohortID, addr, params)
			if err != nil {
				return fmt.Errorf("submitting %s: %w", addr, err)
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.submitError(c, err)
		return
	}
	h.log.Info("Submitted cohort jobs", zap.String("function", function), zap.String("cohort_id", cohortID), zap.Int("jobs", len(ids)))
	c.JSON(http.StatusAccepted, gin.H{
		"message": fmt.Sprintf("Submitted %d %s jobs for cohort %s", len(ids), function, cohortID),
		"job_ids": ids,
	})
}

// GetJob returns the stored job record.
func (h *Handlers) GetJob(c *gin.Context) {
	job, err := h.exec.Job(c.Param("job_id"))
	if errors.Is(err, jobs.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Job not found"})
		return
	}
	if err != nil {
		h.log.Error("Job lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}
