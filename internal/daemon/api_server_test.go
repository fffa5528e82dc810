package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"inkwell/internal/api"
	"inkwell/internal/config"
	"inkwell/internal/logging"
	"inkwell/internal/notifications"
	"inkwell/internal/services"
	"inkwell/internal/services/llm"
	"inkwell/internal/testsupport"
)

func newTestServer(t *testing.T) (*apiServer, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	rt, err := BuildRuntime(context.Background(), cfg, logging.NewNop(), RuntimeOptions{
		Generator: &llm.Fake{},
		Notifier:  &notifications.Recorder{},
	})
	require.NoError(t, err)
	d, err := New(cfg, rt, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d.api, cfg
}

func do(t *testing.T, srv *apiServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestAPIServerBookLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/books", `{"title":"Harbour Lights","genre":"mystery","targetChapterCount":3}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	book := decodeBody[api.Book](t, w)
	require.Equal(t, "concept_pending", book.Status)

	w = do(t, srv, http.MethodPost, "/api/books/1/events/start_keyword_research", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	book = decodeBody[api.Book](t, w)
	require.Equal(t, "keyword_research", book.Status)

	w = do(t, srv, http.MethodGet, "/api/books?status=keyword_research", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeBody[[]api.Book](t, w), 1)
}

func TestAPIServerRejectsInvalidTransition(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, http.MethodPost, "/api/books", `{"title":"Harbour Lights","targetChapterCount":3}`)

	w := do(t, srv, http.MethodPost, "/api/books/1/events/publish_primary", "")
	require.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody[api.Error](t, w)
	require.Equal(t, api.CodeInvalidTransition, body.Code)
	require.Equal(t, "concept_pending", body.Details["from"])
}

func TestAPIServerStaleVersionConflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, http.MethodPost, "/api/books", `{"title":"Harbour Lights","targetChapterCount":3}`)

	w := do(t, srv, http.MethodPost, "/api/books/1/events/start_keyword_research", `{"expectedVersion":9}`)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, api.CodeConcurrencyConflict, decodeBody[api.Error](t, w).Code)
}

func TestAPIServerGateFailureCarriesDetails(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, http.MethodPost, "/api/books", `{"title":"Harbour Lights","targetChapterCount":2}`)
	for _, ev := range []string{"start_keyword_research", "approve_keywords", "start_writing"} {
		w := do(t, srv, http.MethodPost, "/api/books/1/events/"+ev, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := do(t, srv, http.MethodPost, "/api/books/1/scores", `{"aiDetectionScore":35,"plagiarismScore":1}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, srv, http.MethodPost, "/api/books/1/events/approve_for_export", "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decodeBody[api.Error](t, w)
	require.Equal(t, api.CodeQualityGateFailed, body.Code)
	failures, ok := body.Details["failures"].([]any)
	require.True(t, ok, "failures detail: %#v", body.Details)
	require.Len(t, failures, 2)

	w = do(t, srv, http.MethodGet, "/api/books/1/chapters", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeBody[[]api.Chapter](t, w), 2)
}

func TestAPIServerValidatesInput(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/api/books/abc", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/api/books", `{"title":"x","unknown":1}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodGet, "/api/books/42", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, api.CodeNotFound, decodeBody[api.Error](t, w).Code)

	w = do(t, srv, http.MethodPost, "/api/pricing/sweeps/hourly", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPIServerPreflightNeedsScoring(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, http.MethodPost, "/api/books", `{"title":"Harbour Lights","targetChapterCount":1}`)

	w := do(t, srv, http.MethodPost, "/api/books/1/preflight", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, api.CodeConfiguration, decodeBody[api.Error](t, w).Code)
}

func TestAPIServerPricing(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, http.MethodPost, "/api/books", `{"title":"Harbour Lights","targetChapterCount":1}`)

	w := do(t, srv, http.MethodGet, "/api/books/1/pricing", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "launch", decodeBody[api.Pricing](t, w).Phase)

	w = do(t, srv, http.MethodPost, "/api/books/1/pricing/phase", `{"phase":"bundle","price":9.99,"reason":"Box set"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decodeBody[api.Pricing](t, w)
	require.Equal(t, "bundle", p.Phase)
	require.Len(t, p.History, 2)
	require.Equal(t, "Box set", p.History[1].Reason)

	w = do(t, srv, http.MethodPost, "/api/books/1/pricing/promotion", "")
	require.Equal(t, http.StatusConflict, w.Code)

	w = do(t, srv, http.MethodPost, "/api/pricing/sweeps/daily", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "daily", decodeBody[api.SweepResult](t, w).Sweep)
}

func TestAuthMiddleware(t *testing.T) {
	next := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }
	h := authMiddleware("s3cret", next)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	h(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "unauthorized", decodeBody[api.Error](t, w).Code)

	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	h(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	open := authMiddleware("", next)
	w = httptest.NewRecorder()
	open(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := requestIDMiddleware(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = services.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set(requestIDHeader, "req-42")
	w := httptest.NewRecorder()
	h(w, req)
	require.Equal(t, "req-42", seen)
	require.Equal(t, "req-42", w.Header().Get(requestIDHeader))

	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.NotEmpty(t, seen)
	require.NotEqual(t, "req-42", seen)
	require.Equal(t, seen, w.Header().Get(requestIDHeader))
}
