package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-lead-crawler/internal/ledger"
	"github.com/JakeFAU/forum-lead-crawler/internal/pipeline"
	"github.com/JakeFAU/forum-lead-crawler/internal/storage/memory"
)

type fakeRuns struct {
	err     error
	started []string
	last    *pipeline.RunRecord
}

func (f *fakeRuns) Start(_ context.Context, trigger string) (pipeline.RunRecord, error) {
	if f.err != nil {
		return pipeline.RunRecord{}, f.err
	}
	f.started = append(f.started, trigger)
	rec := pipeline.RunRecord{ID: "run-1", Trigger: trigger, State: pipeline.RunRunning}
	f.last = &rec
	return rec, nil
}

func (f *fakeRuns) Last() (pipeline.RunRecord, bool) {
	if f.last == nil {
		return pipeline.RunRecord{}, false
	}
	return *f.last, true
}

func newLedger(t *testing.T) *ledger.Store {
	t.Helper()
	store := ledger.New(memory.NewLedgerStore())
	store.Upsert("r10:1", func(r *ledger.Record) { r.Status = ledger.StatusReady })
	store.Upsert("r10:2", func(r *ledger.Record) {
		r.Status = ledger.StatusFailed
		r.Attempts = 2
		r.LastError = "status 503"
	})
	store.Upsert("bhw:https://www.blackhatworld.com/seo/x", func(r *ledger.Record) { r.Status = ledger.StatusNotJob })
	return store
}

func newTestServer(t *testing.T, runs *fakeRuns, cfg Config) *Server {
	t.Helper()
	if runs == nil {
		runs = &fakeRuns{}
	}
	return NewServer(context.Background(), newLedger(t), runs, cfg, zap.NewNop())
}

func serve(s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, Config{})
	rec := serve(s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(s, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, Config{})
	serve(s, http.MethodGet, "/healthz", nil)
	rec := serve(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_LedgerStats(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(t, nil, Config{}), http.MethodGet, "/v1/ledger/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Records)
	assert.Equal(t, map[string]int{"ready": 1, "failed": 1, "not_job": 1}, resp.ByStatus)
}

func TestServer_GetThread(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, Config{})

	rec := serve(s, http.MethodGet, "/v1/threads/r10:2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "r10:2", body["key"])
	record := body["record"].(map[string]any)
	assert.Equal(t, "failed", record["status"])
	assert.Equal(t, "status 503", record["lastError"])

	rec = serve(s, http.MethodGet, "/v1/threads/bhw:https:%2F%2Fwww.blackhatworld.com%2Fseo%2Fx", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, http.MethodGet, "/v1/threads/r10:404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StartRun(t *testing.T) {
	t.Parallel()

	runs := &fakeRuns{}
	s := newTestServer(t, runs, Config{})

	rec := serve(s, http.MethodGet, "/v1/runs/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(s, http.MethodPost, "/v1/runs", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"run_id":"run-1","state":"running"}`, rec.Body.String())
	assert.Equal(t, []string{"api"}, runs.started)

	rec = serve(s, http.MethodGet, "/v1/runs/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"trigger":"api"`)
}

func TestServer_StartRunConflict(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeRuns{err: pipeline.ErrBusy}, Config{})
	rec := serve(s, http.MethodPost, "/v1/runs", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	s = newTestServer(t, &fakeRuns{err: errors.New("id generator broke")}, Config{})
	rec = serve(s, http.MethodPost, "/v1/runs", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, Config{APIKey: "secret"})

	rec := serve(s, http.MethodGet, "/v1/ledger/stats", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(s, http.MethodGet, "/v1/ledger/stats", http.Header{"X-Api-Key": {"secret"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health checks stay open")
}

func TestServer_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_TimeoutMiddleware(t *testing.T) {
	t.Parallel()

	h := timeoutMiddleware(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(t, nil, Config{}), http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		return h.client.Close()
	}
	return nil
}
