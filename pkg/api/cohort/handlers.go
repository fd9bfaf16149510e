// Package cohort serves the cohort, patient and container management API.
package cohort

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mind/pkg/api"
	"mind/pkg/container"
	"mind/pkg/graph"
)

// ServiceName labels logs and metrics.
const ServiceName = "cohort"

// Handlers serve the cohort API over a graph.
type Handlers struct {
	q   graph.Querier
	log *zap.Logger
}

func NewHandlers(q graph.Querier, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{q: q, log: log}
}

// RegisterRoutes mounts the API under api.BasePath and the health probe.
func RegisterRoutes(router gin.IRouter, h *Handlers) {
	router.GET("/service/health", api.Health(ServiceName, nil))

	v1 := router.Group(api.BasePath)
	{
		v1.PUT("/cohort/:cohort_id", h.PutCohort)
		v1.GET("/cohort/:cohort_id", h.GetCohort)
		v1.PUT("/cohort/:cohort_id/:patient_id", h.IncludePatient)
		v1.DELETE("/cohort/:cohort_id/:patient_id", h.ExcludePatient)

		v1.PUT("/container/:container_type/:container_id", h.PutContainer)

		v1.GET("/patient/:cohort_id/:patient_id", h.GetPatient)
		v1.PUT("/patient/:cohort_id/:patient_id", h.PutPatient)
		v1.GET("/patient/:cohort_id/:patient_id/:case_list", h.GetCases)
		v1.PUT("/patient/:cohort_id/:patient_id/:case_list", h.AddCases)
		v1.DELETE("/patient/:cohort_id/:patient_id/:case_list", h.RemoveCases)
	}
}

func cohortNode(id string) graph.Node {
	return graph.NewNode("cohort", id, nil)
}

func patientNode(cohortID, patientID string) graph.Node {
	return graph.NewNode("patient", patientID, map[string]any{"namespace": cohortID})
}

// binding renders a node into a Cypher pattern under variable v.
type binding struct {
	v      string
	node   graph.Node
	create bool
}

func match(v string, n graph.Node) binding  { return binding{v: v, node: n} }
func create(v string, n graph.Node) binding { return binding{v: v, node: n, create: true} }

// run fills the rendered patterns into cypher, in order, and executes it.
func (h *Handlers) run(ctx context.Context, cypher string, extra map[string]any, bs ...binding) ([]graph.Record, error) {
	args := make([]any, 0, len(bs))
	params := []map[string]any{extra}
	for _, b := range bs {
		render := b.node.Match
		if b.create {
			render = b.node.Create
		}
		pattern, p, err := render(b.v)
		if err != nil {
			return nil, err
		}
		args = append(args, pattern)
		params = append(params, p)
	}
	return h.q.Query(ctx, fmt.Sprintf(cypher, args...), graph.MergeParams(params...))
}

func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	h.log.Error(msg, zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.String(http.StatusInternalServerError, msg)
}

func (h *Handlers) cohortExists(ctx context.Context, id string) (bool, error) {
	pattern, params, err := cohortNode(id).Match("co")
	if err != nil {
		return false, err
	}
	recs, err := h.q.Query(ctx, "MATCH "+pattern+" RETURN co", params)
	if err != nil {
		return false, err
	}
	return len(recs) == 1, nil
}

// PutCohort creates a cohort.
func (h *Handlers) PutCohort(c *gin.Context) {
	id := c.Param("cohort_id")
	if graph.ValidID(id) != nil {
		c.String(http.StatusBadRequest, "Invalid cohort name, only use alphanumeric characters")
		return
	}
	ctx := c.Request.Context()
	exists, err := h.cohortExists(ctx, id)
	if err != nil {
		h.fail(c, "Cohort lookup failed", err)
		return
	}
	if exists {
		c.String(http.StatusOK, "Cohort already exists")
		return
	}
	pattern, params, err := cohortNode(id).Create("co")
	if err == nil {
		_, err = h.q.Query(ctx, "CREATE "+pattern+" RETURN co", params)
	}
	if err != nil {
		h.fail(c, "Cohort creation failed", err)
		return
	}
	h.log.Info("Created cohort", zap.String("cohort_id", id))
	c.String(http.StatusCreated, "Created successfully")
}

// GetCohort returns the cohort with its patients and their accessions.
func (h *Handlers) GetCohort(c *gin.Context) {
	id := c.Param("cohort_id")
	ctx := c.Request.Context()

	pattern, params, err := cohortNode(id).Match("co")
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	cohorts, err := h.q.Query(ctx, "MATCH "+pattern+" RETURN co", params)
	if err != nil {
		h.fail(c, "Cohort lookup failed", err)
		return
	}
	if len(cohorts) == 0 {
		c.String(http.StatusNotFound, "Cohort not found, please create it first")
		return
	}
	patients, err := h.q.Query(ctx, "MATCH "+pattern+"-[:INCLUDE]-(px:patient) RETURN px", params)
	if err != nil {
		h.fail(c, "Patient listing failed", err)
		return
	}

	summary := copyMap(cohorts[0]["co"])
	list := make([]map[string]any, 0, len(patients))
	for _, rec := range patients {
		px := copyMap(rec["px"])
		name, _ := px["name"].(string)
		cases, err := h.patientCases(ctx, id, name)
		if err != nil {
			h.fail(c, "Case listing failed", err)
			return
		}
		px["Patient Accessions"] = cases
		list = append(list, px)
	}
	summary["Patients"] = list
	c.JSON(http.StatusOK, summary)
}

// IncludePatient links an existing patient to the cohort.
func (h *Handlers) IncludePatient(c *gin.Context) {
	recs, err := h.run(c.Request.Context(),
		"MATCH %s MATCH %s MERGE (co)-[r:INCLUDE]-(px) RETURN r", nil,
		match("co", cohortNode(c.Param("cohort_id"))),
		match("px", patientNode(c.Param("cohort_id"), c.Param("patient_id"))))
	if err != nil {
		h.fail(c, "Including patient failed", err)
		return
	}
	c.String(http.StatusOK, fmt.Sprintf("Added %d patients to cohort", len(recs)))
}

// ExcludePatient removes the INCLUDE edge between cohort and patient.
func (h *Handlers) ExcludePatient(c *gin.Context) {
	recs, err := h.run(c.Request.Context(),
		"MATCH %s-[r:INCLUDE]-%s DELETE r RETURN count(r) AS deleted", nil,
		match("co", cohortNode(c.Param("cohort_id"))),
		match("px", patientNode(c.Param("cohort_id"), c.Param("patient_id"))))
	if err != nil {
		h.fail(c, "Excluding patient failed", err)
		return
	}
	c.String(http.StatusOK, fmt.Sprintf("Deleted %d patients from cohort", countOf(recs, "deleted")))
}

// PutContainer creates a container node.
func (h *Handlers) PutContainer(c *gin.Context) {
	typ, id := c.Param("container_type"), c.Param("container_id")
	if !container.ValidType(typ) {
		c.String(http.StatusBadRequest, "Invalid container type")
		return
	}
	if graph.ValidID(id) != nil {
		c.String(http.StatusBadRequest, "Invalid container name, only use alphanumeric characters")
		return
	}
	pattern, params, err := graph.NewNode(typ, id, nil).Create("container")
	if err == nil {
		_, err = h.q.Query(c.Request.Context(), "CREATE "+pattern+" RETURN container", params)
	}
	if err != nil {
		h.fail(c, "Container creation failed", err)
		return
	}
	h.log.Info("Created container", zap.String("type", typ), zap.String("container_id", id))
	c.String(http.StatusCreated, "Created successfully")
}

func (h *Handlers) patientCases(ctx context.Context, cohortID, patientID string) ([]map[string]any, error) {
	recs, err := h.run(ctx,
		"MATCH %s-[:HAS_CASE]-(cases:accession) RETURN cases", nil,
		match("px", patientNode(cohortID, patientID)))
	if err != nil {
		return nil, err
	}
	cases := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		cases = append(cases, copyMap(rec["cases"]))
	}
	return cases, nil
}

// GetPatient lists the cases of a patient.
func (h *Handlers) GetPatient(c *gin.Context) {
	cases, err := h.patientCases(c.Request.Context(), c.Param("cohort_id"), c.Param("patient_id"))
	if err != nil {
		h.fail(c, "Case listing failed", err)
		return
	}
	c.JSON(http.StatusOK, cases)
}

// PutPatient creates a patient in the cohort namespace and includes it.
func (h *Handlers) PutPatient(c *gin.Context) {
	cohortID, patientID := c.Param("cohort_id"), c.Param("patient_id")
	if graph.ValidID(patientID) != nil {
		c.String(http.StatusBadRequest, "Invalid patient name, only use alphanumeric characters")
		return
	}
	ctx := c.Request.Context()
	if !h.requireCohort(c, cohortID) {
		return
	}

	co, px := cohortNode(cohortID), patientNode(cohortID, patientID)
	existing, err := h.run(ctx, "MATCH %s MATCH %s RETURN px", nil, match("co", co), match("px", px))
	if err != nil {
		h.fail(c, "Patient lookup failed", err)
		return
	}
	if len(existing) > 0 {
		if _, err := h.run(ctx, "MATCH %s MATCH %s MERGE (co)-[:INCLUDE]-(px) RETURN px", nil, match("co", co), match("px", px)); err != nil {
			h.fail(c, "Including patient failed", err)
			return
		}
		c.String(http.StatusOK, "Patient already exists")
		return
	}

	if _, err := h.run(ctx, "MATCH %s CREATE %s MERGE (co)-[:INCLUDE]-(px) RETURN px", nil, match("co", co), create("px", px)); err != nil {
		h.fail(c, "Patient creation failed", err)
		return
	}
	h.log.Info("Created patient", zap.String("cohort_id", cohortID), zap.String("patient_id", patientID))
	c.String(http.StatusCreated, "Created successfully")
}

func (h *Handlers) requireCohort(c *gin.Context, cohortID string) bool {
	ok, err := h.cohortExists(c.Request.Context(), cohortID)
	if err != nil {
		h.fail(c, "Cohort lookup failed", err)
		return false
	}
	if !ok {
		c.String(http.StatusNotFound, "No cohort namespace found")
		return false
	}
	return true
}

// ParseCaseList splits a comma separated accession list, dropping quotes
// and blanks.
func ParseCaseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.Trim(strings.TrimSpace(p), `'"`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetCases groups the data of the listed cases by series.
func (h *Handlers) GetCases(c *gin.Context) {
	cohortID, patientID := c.Param("cohort_id"), c.Param("patient_id")
	if !h.requireCohort(c, cohortID) {
		return
	}
	recs, err := h.run(c.Request.Context(),
		"MATCH %s-[:HAS_CASE]->(cases:accession)-[:HAS_SCAN]->(sc:scan)-[:HAS_DATA]->(data) "+
			"WHERE cases.AccessionNumber IN $cases RETURN sc.SeriesInstanceUID AS series, data",
		map[string]any{"cases": ParseCaseList(c.Param("case_list"))},
		match("px", patientNode(cohortID, patientID)))
	if err != nil {
		h.fail(c, "Case data lookup failed", err)
		return
	}
	collection := map[string][]any{}
	for _, rec := range recs {
		series := fmt.Sprint(rec["series"])
		collection[series] = append(collection[series], rec["data"])
	}
	c.JSON(http.StatusOK, collection)
}

// AddCases links existing accessions to the patient.
func (h *Handlers) AddCases(c *gin.Context) {
	cohortID, patientID := c.Param("cohort_id"), c.Param("patient_id")
	if !h.requireCohort(c, cohortID) {
		return
	}
	recs, err := h.run(c.Request.Context(),
		"MATCH %s MATCH (cases:accession) WHERE cases.AccessionNumber IN $cases "+
			"MERGE (px)-[r:HAS_CASE]->(cases) RETURN cases",
		map[string]any{"cases": ParseCaseList(c.Param("case_list"))},
		match("px", patientNode(cohortID, patientID)))
	if err != nil {
		h.fail(c, "Adding cases failed", err)
		return
	}
	cases := make([]any, 0, len(recs))
	for _, rec := range recs {
		cases = append(cases, rec["cases"])
	}
	c.String(http.StatusOK, fmt.Sprintf("Added %s with %d cases: %v", patientID, len(cases), cases))
}

// RemoveCases unlinks the listed accessions from the patient.
func (h *Handlers) RemoveCases(c *gin.Context) {
	cohortID, patientID := c.Param("cohort_id"), c.Param("patient_id")
	if !h.requireCohort(c, cohortID) {
		return
	}
	recs, err := h.run(c.Request.Context(),
		"MATCH %s-[r:HAS_CASE]->(cases:accession) WHERE cases.AccessionNumber IN $cases "+
			"DELETE r RETURN count(r) AS deleted",
		map[string]any{"cases": ParseCaseList(c.Param("case_list"))},
		match("px", patientNode(cohortID, patientID)))
	if err != nil {
		h.fail(c, "Removing cases failed", err)
		return
	}
	c.String(http.StatusOK, fmt.Sprintf("Deleted %d cases from cohort", countOf(recs, "deleted")))
}

func copyMap(v any) map[string]any {
	src, _ := v.(map[string]any)
	out := make(map[string]any, len(src)+1)
	for k, val := range src {
		out[k] = val
	}
	return out
}

func countOf(recs []graph.Record, key string) int64 {
	if len(recs) == 0 {
		return 0
	}
	switch n := recs[0][key].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
