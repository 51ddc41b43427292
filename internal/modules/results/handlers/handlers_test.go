package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/events"
	"github.com/qerplab/qerp/internal/modules/hamiltonian"
	"github.com/qerplab/qerp/internal/modules/results"
	testingpkg "github.com/qerplab/qerp/internal/testing"
)

type stubTrigger struct {
	calls int
}

func (s *stubTrigger) Trigger() { s.calls++ }

type fixture struct {
	router  *chi.Mux
	service *results.Service
	bus     *events.Bus
	trigger *stubTrigger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "results")
	t.Cleanup(cleanup)

	repo := results.NewRepository(testingpkg.GetRawConnection(db), zerolog.Nop())
	svc := results.NewService(repo, "", zerolog.Nop())
	bus := events.NewBus(zerolog.Nop())
	trigger := &stubTrigger{}

	router := chi.NewRouter()
	NewHandler(svc, bus, trigger, zerolog.Nop()).RegisterRoutes(router)

	return &fixture{router: router, service: svc, bus: bus, trigger: trigger}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func h2Bundle(t *testing.T) []byte {
	t.Helper()
	bundle, err := hamiltonian.EncodeBundle(testingpkg.NewH2ActiveSpace())
	require.NoError(t, err)
	return bundle
}

func submitBody(t *testing.T, cfg domain.RunConfig, bundle []byte, description string) []byte {
	t.Helper()
	body, err := json.Marshal(SubmitRunRequest{Config: cfg, Bundle: bundle, Description: description})
	require.NoError(t, err)
	return body
}

func TestSubmitRunQueuesAndTriggersProcessor(t *testing.T) {
	f := newFixture(t)

	var queued []*events.Event
	f.bus.Subscribe(events.RunQueued, func(e *events.Event) { queued = append(queued, e) })

	body := submitBody(t, domain.RunConfig{Backend: "simulator", Shots: 1024, PathwayID: "pw-1", ImageIndex: 2}, h2Bundle(t), "hydrogen check")
	rec := f.do(t, http.MethodPost, "/runs", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var run domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, domain.RunStatusQueued, run.Status)
	assert.Equal(t, "hydrogen check", run.Description)

	assert.Equal(t, 1, f.trigger.calls)

	require.Len(t, queued, 1)
	assert.Equal(t, run.ID, queued[0].Data["run_id"])
	assert.Equal(t, "queued", queued[0].Data["status"])
	assert.Equal(t, "pw-1", queued[0].Data["pathway_id"])
}

func TestSubmitRunRejectsBadBundle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/runs", submitBody(t, domain.RunConfig{}, []byte("not msgpack"), ""))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid tensor bundle")
	assert.Zero(t, f.trigger.calls)
}

func TestSubmitRunRejectsMissingBundle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/runs", []byte(`{"config":{}}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Tensor bundle is required")
}

func TestSubmitRunRejectsMalformedJSON(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/runs", []byte("{"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid request body")
}

func TestSubmitRunRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/runs", submitBody(t, domain.RunConfig{Mapping: "bravyi-kitaev"}, h2Bundle(t), ""))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown mapping scheme")
}

func TestListRuns(t *testing.T) {
	f := newFixture(t)
	bundle := h2Bundle(t)
	for i := 0; i < 3; i++ {
		_, err := f.service.SubmitRun(domain.RunConfig{}, bundle, "")
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodGet, "/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var runs []domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 3)

	rec = f.do(t, http.MethodGet, "/runs?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 2)
}

func TestListRunsRejectsBadLimit(t *testing.T) {
	f := newFixture(t)

	for _, limit := range []string{"zero", "0", "-3"} {
		rec := f.do(t, http.MethodGet, "/runs?limit="+limit, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestListRunsEmptyIsArray(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestGetRun(t *testing.T) {
	f := newFixture(t)
	run, err := f.service.SubmitRun(domain.RunConfig{}, h2Bundle(t), "lookup")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "lookup", got.Description)
}

func TestGetRunNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/runs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetResult(t *testing.T) {
	f := newFixture(t)
	run, err := f.service.SubmitRun(domain.RunConfig{}, h2Bundle(t), "")
	require.NoError(t, err)
	require.NoError(t, f.service.MarkStarted(run.ID))
	require.NoError(t, f.service.CompleteRun(&domain.RunResult{
		RunID:                  run.ID,
		Status:                 domain.RunStatusConverged,
		Energy:                 -1.1371,
		Uncertainty:            3e-5,
		Iterations:             2,
		HamiltonianFingerprint: "fp",
	}))

	rec := f.do(t, http.MethodGet, "/runs/"+run.ID+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res domain.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, run.ID, res.RunID)
	assert.InDelta(t, -1.1371, res.Energy, 0)
	assert.Equal(t, domain.RunStatusConverged, res.Status)
}

func TestGetResultBeforeCompletion(t *testing.T) {
	f := newFixture(t)
	run, err := f.service.SubmitRun(domain.RunConfig{}, h2Bundle(t), "")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/runs/"+run.ID+"/result", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTrace(t *testing.T) {
	f := newFixture(t)
	run, err := f.service.SubmitRun(domain.RunConfig{}, h2Bundle(t), "")
	require.NoError(t, err)
	require.NoError(t, f.service.MarkStarted(run.ID))
	require.NoError(t, f.service.RecordIteration(run.ID, domain.IterationRecord{
		Iteration: 1, SelectedOperator: "double 0,2->1,3", Parameters: []float64{-0.11},
	}))
	require.NoError(t, f.service.RecordIteration(run.ID, domain.IterationRecord{
		Iteration: 2, SelectedOperator: "single 0->1", Parameters: []float64{-0.11, 0.002},
	}))

	rec := f.do(t, http.MethodGet, "/runs/"+run.ID+"/trace", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		RunID string                   `json:"run_id"`
		Trace []domain.IterationRecord `json:"trace"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, run.ID, payload.RunID)
	require.Len(t, payload.Trace, 2)
	assert.Equal(t, "double 0,2->1,3", payload.Trace[0].SelectedOperator)
}

func TestGetTraceEmptyForFreshRun(t *testing.T) {
	f := newFixture(t)
	run, err := f.service.SubmitRun(domain.RunConfig{}, h2Bundle(t), "")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/runs/"+run.ID+"/trace", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Trace []domain.IterationRecord `json:"trace"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Empty(t, payload.Trace)
}

func TestGetTraceUnknownRun(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/runs/missing/trace", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPathwayProfile(t *testing.T) {
	f := newFixture(t)
	bundle := h2Bundle(t)

	for i, energy := range []float64{-1.14, -1.09} {
		run, err := f.service.SubmitRun(domain.RunConfig{PathwayID: "neb-7", ImageIndex: i}, bundle, "")
		require.NoError(t, err)
		require.NoError(t, f.service.MarkStarted(run.ID))
		require.NoError(t, f.service.CompleteRun(&domain.RunResult{
			RunID:                  run.ID,
			Status:                 domain.RunStatusConverged,
			Energy:                 energy,
			Iterations:             1,
			HamiltonianFingerprint: "fp",
		}))
	}

	rec := f.do(t, http.MethodGet, "/pathways/neb-7/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		PathwayID string                `json:"pathway_id"`
		Points    []domain.PathwayPoint `json:"points"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "neb-7", payload.PathwayID)
	require.Len(t, payload.Points, 2)
	assert.Equal(t, 0, payload.Points[0].ImageIndex)
	assert.InDelta(t, -1.14, payload.Points[0].Energy, 0)
	assert.InDelta(t, -1.09, payload.Points[1].Energy, 0)
}

func TestPathwayProfileUnknownPathway(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/pathways/nothing-here/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Points []domain.PathwayPoint `json:"points"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Empty(t, payload.Points)
}
