package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/alignoracle/internal/config"
	"github.com/agenthands/alignoracle/internal/core"
	"github.com/agenthands/alignoracle/internal/core/model"
	"github.com/agenthands/alignoracle/internal/llm"
	"github.com/agenthands/alignoracle/internal/metrics"
	"github.com/agenthands/alignoracle/internal/ontology"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// gatedEngine blocks Align until release is closed.
type gatedEngine struct {
	release chan struct{}
}

func (e *gatedEngine) Align(ctx context.Context) ([]model.CandidateMapping, error) {
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []model.CandidateMapping{
		{Source: "MA_1", Target: "NCI_1", Relation: model.RelationEquivalence, Confidence: 0.9},
		{Source: "MA_2", Target: "NCI_2", Relation: model.RelationEquivalence, Confidence: 0.5},
	}, nil
}

func (e *gatedEngine) Realign(ctx context.Context, feedback []model.RefinedMapping) ([]model.CandidateMapping, error) {
	return nil, nil
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Task.Name = "anatomy"
	cfg.Aligner.MappingsPath = "unused.txt"
	cfg.Selector = config.SelectorConfig{Low: 0.4, High: 0.6, MaxQueries: 5}
	cfg.Prompt.Template = "label_only"
	cfg.LLM.Provider = "static"
	cfg.Artifacts.Dir = t.TempDir()
	return cfg
}

func setup(t *testing.T, engine *gatedEngine) (*Server, *gin.Engine, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	catalogues := core.WithCatalogues(
		ontology.NewCatalogue("mouse", []model.Entity{{IRI: "MA_1", Label: "tail"}, {IRI: "MA_2", Label: "femur"}}),
		ontology.NewCatalogue("human", []model.Entity{{IRI: "NCI_1", Label: "Tail"}, {IRI: "NCI_2", Label: "Femur"}}),
	)
	factory := func(ctx context.Context, cfg *config.Config) (*core.Pipeline, error) {
		return core.New(ctx, cfg,
			core.WithEngine(engine),
			core.WithBackend(llm.NewStaticBackend(map[string]string{llm.DefaultScriptKey: "true"})),
			core.WithMetrics(m),
			catalogues)
	}
	s := NewServer(testConfig(t), nil, reg, factory)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, s.SetupRouter(), reg
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func startRun(t *testing.T, r http.Handler, body string) string {
	t.Helper()
	w := do(r, http.MethodPost, "/runs", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)
	return resp.RunID
}

func waitFinished(t *testing.T, r http.Handler, id string) RunResponse {
	t.Helper()
	var resp RunResponse
	require.Eventually(t, func() bool {
		w := do(r, http.MethodGet, "/runs/"+id, "")
		resp = RunResponse{}
		if json.Unmarshal(w.Body.Bytes(), &resp) != nil {
			return false
		}
		return resp.Report != nil || resp.Error != ""
	}, 5*time.Second, 10*time.Millisecond)
	return resp
}

func TestRunLifecycle(t *testing.T) {
	engine := &gatedEngine{release: make(chan struct{})}
	_, r, _ := setup(t, engine)

	id := startRun(t, r, "")

	w := do(r, http.MethodGet, "/runs/"+id+"/alignment", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	close(engine.release)
	resp := waitFinished(t, r, id)
	assert.Equal(t, core.StateDone, resp.State)

	w = do(r, http.MethodGet, "/runs/"+id+"/alignment", "")
	require.Equal(t, http.StatusOK, w.Code)
	var alignment AlignmentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alignment))
	assert.Equal(t, id, alignment.RunID)
	require.Len(t, alignment.Mappings, 2)
	assert.Equal(t, model.ProvenanceOracleConfirmed, alignment.Mappings[1].Provenance)
}

func TestStartRunModeOverride(t *testing.T) {
	_, r, _ := setup(t, &gatedEngine{})

	id := startRun(t, r, `{"mode": "alignment_only"}`)
	resp := waitFinished(t, r, id)
	assert.Equal(t, core.StateDone, resp.State)
	assert.Equal(t, "alignment_only", resp.Mode)
	assert.Zero(t, resp.Asked)
}

func TestStartRunRejectsBadConfig(t *testing.T) {
	_, r, _ := setup(t, &gatedEngine{})

	w := do(r, http.MethodPost, "/runs", `{"mode": "oracle_only"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "pipeline.mode")

	w = do(r, http.MethodPost, "/runs", `{"mode":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownRun(t *testing.T) {
	_, r, _ := setup(t, &gatedEngine{})

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/runs/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/runs/nope/alignment", "").Code)
}

func TestShutdownFailsRunningRuns(t *testing.T) {
	s, r, _ := setup(t, &gatedEngine{release: make(chan struct{})})
	id := startRun(t, r, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	w := do(r, http.MethodGet, "/runs/"+id, "")
	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, core.StateFailed, resp.State)
	assert.Equal(t, core.StateIdle, resp.LastCompleted)
	assert.NotEmpty(t, resp.Error)
}

func TestHealthAndMetrics(t *testing.T) {
	_, r, _ := setup(t, &gatedEngine{})

	w := do(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	id := startRun(t, r, "")
	waitFinished(t, r, id)

	w = do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `alignoracle_pipeline_runs_total{state="done"} 1`)
	assert.Contains(t, w.Body.String(), `alignoracle_verdicts_total{verdict="confirm"} 1`)
}
