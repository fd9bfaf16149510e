package processing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mind/pkg/api"
	"mind/pkg/graph"
	"mind/pkg/graph/graphtest"
	"mind/pkg/jobs"
)

const pretileBody = `{"job_tag":"tiles","input_wsi_tag":"main","tile_size":128,"magnification":20}`

type recordingRunner struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingRunner) Run(_ context.Context, function, cohortID, containerID string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, function+" "+cohortID+" "+containerID)
	return r.err
}

func (r *recordingRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func setup(t *testing.T, fake *graphtest.Fake, runner Runner) (*gin.Engine, *jobs.Executor) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := jobs.OpenStore(jobs.StoreConfig{InMemory: true})
	require.NoError(t, err)
	exec := jobs.NewExecutor(store, 2, nil)
	t.Cleanup(func() {
		_ = exec.Shutdown(context.Background())
		_ = store.Close()
	})
	router := api.NewRouter(ServiceName, nil)
	RegisterRoutes(router, NewHandlers(fake, runner, exec, nil))
	return router, exec
}

func post(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func waitDone(t *testing.T, exec *jobs.Executor, id string) jobs.Job {
	t.Helper()
	var job jobs.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = exec.Job(id)
		return err == nil && job.Done()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestSubmitContainer(t *testing.T) {
	runner := &recordingRunner{}
	router, exec := setup(t, graphtest.New(), runner)

	w := post(router, api.BasePath+"/pretile/brca/slide-9/submit", pretileBody)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp struct {
		Message string `json:"message"`
		JobID   string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)

	job := waitDone(t, exec, resp.JobID)
	assert.Equal(t, jobs.StatusSucceeded, job.Status)
	assert.Equal(t, []string{"pretile brca slide-9"}, runner.Calls())

	w = get(router, api.BasePath+"/jobs/"+resp.JobID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"succeeded"`)
}

func TestSubmitContainer_Errors(t *testing.T) {
	router, _ := setup(t, graphtest.New(), &recordingRunner{})

	w := post(router, api.BasePath+"/extract_radiomics/brca/slide-9/submit", pretileBody)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = post(router, api.BasePath+"/pretile/brca/slide-9/submit", `{"job_tag":"tiles"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(router, api.BasePath+"/pretile/brca/slide-9/submit", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitContainer_FailedJob(t *testing.T) {
	runner := &recordingRunner{err: errors.New("slide unreadable")}
	router, exec := setup(t, graphtest.New(), runner)

	w := post(router, api.BasePath+"/pretile/brca/slide-9/submit", pretileBody)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	job := waitDone(t, exec, resp["job_id"])
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, "slide unreadable", job.Error)
}

func TestSubmitCohort(t *testing.T) {
	fake := graphtest.New().On("MATCH (s:slide)",
		graph.Record{"s.qualified_address": "brca::slide-1"},
		graph.Record{"s.qualified_address": "brca::slide-2"},
	)
	runner := &recordingRunner{}
	router, exec := setup(t, fake, runner)

	body := `{"query":"MATCH (s:slide) RETURN s.qualified_address","params":` + pretileBody + `}`
	w := post(router, api.BasePath+"/pretile/brca/submit", body)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp struct {
		JobIDs []string `json:"job_ids"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.JobIDs, 2)
	for _, id := range resp.JobIDs {
		waitDone(t, exec, id)
	}
	assert.ElementsMatch(t, []string{"pretile brca brca::slide-1", "pretile brca brca::slide-2"}, runner.Calls())
}

func TestSubmitCohort_RejectsQueries(t *testing.T) {
	fake := graphtest.New().
		On("RETURN s.name", graph.Record{"s.name": "slide-1"}).
		On("RETURN s, s.qualified_address", graph.Record{"s": map[string]any{}, "s.qualified_address": "brca::slide-1"})
	runner := &recordingRunner{}
	router, _ := setup(t, fake, runner)

	for _, query := range []string{
		"MATCH (s:slide) RETURN s.name",
		"MATCH (s:slide) RETURN s, s.qualified_address",
		"MATCH (s:slide {name: 'none'}) RETURN s.qualified_address",
	} {
		body, _ := json.Marshal(map[string]any{"query": query, "params": json.RawMessage(pretileBody)})
		w := post(router, api.BasePath+"/pretile/brca/submit", string(body))
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}

	w := post(router, api.BasePath+"/pretile/brca/submit", `{"params":`+pretileBody+`}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = post(router, api.BasePath+"/pretile/brca/submit", `{"query":"MATCH (s) RETURN s.qualified_address","params":{"job_tag":"t"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, runner.Calls())
}

func TestGetJob_NotFound(t *testing.T) {
	router, _ := setup(t, graphtest.New(), &recordingRunner{})
	assert.Equal(t, http.StatusNotFound, get(router, api.BasePath+"/jobs/missing").Code)
}

func TestHealth(t *testing.T) {
	router, exec := setup(t, graphtest.New(), &recordingRunner{})
	assert.Equal(t, http.StatusOK, get(router, "/service/health").Code)

	require.NoError(t, exec.Shutdown(context.Background()))
	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/service/health").Code)

	w := post(router, api.BasePath+"/pretile/brca/slide-9/submit", pretileBody)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestContainerAddresses(t *testing.T) {
	fake := graphtest.New().
		On("bad", graph.Record{"c.qualified_address": 7}).
		On("good", graph.Record{"qualified_address": "brca::p1"})
	got, err := ContainerAddresses(context.Background(), fake, "good")
	require.NoError(t, err)
	assert.Equal(t, []string{"brca::p1"}, got)

	_, err = ContainerAddresses(context.Background(), fake, "bad")
	assert.Error(t, err)
}
