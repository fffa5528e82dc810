package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inkwell/internal/api"
	"inkwell/internal/config"
	"inkwell/internal/logging"
	"inkwell/internal/services"
)

const maxBodyBytes = 4 << 20

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	svc     *api.Service
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
		svc:    d.rt.Service,
	}
	srv.handler = srv.routes(cfg)
	return srv
}

func (s *apiServer) routes(cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	auth := func(h http.HandlerFunc) http.HandlerFunc {
		return requestIDMiddleware(authMiddleware(cfg.Paths.APIToken, h))
	}

	mux.HandleFunc("GET /api/status", auth(s.handleStatus))

	mux.HandleFunc("GET /api/books", auth(s.handleListBooks))
	mux.HandleFunc("POST /api/books", auth(s.handleCreateBook))
	mux.HandleFunc("GET /api/books/{id}", auth(s.handleGetBook))
	mux.HandleFunc("POST /api/books/{id}/events/{event}", auth(s.handleFireEvent))
	mux.HandleFunc("GET /api/books/{id}/chapters", auth(s.handleListChapters))
	mux.HandleFunc("GET /api/books/{id}/progress", auth(s.handleProgress))
	mux.HandleFunc("POST /api/books/{id}/resync", auth(s.handleResync))
	mux.HandleFunc("POST /api/books/{id}/scores", auth(s.handleScores))
	mux.HandleFunc("POST /api/books/{id}/checklist", auth(s.handleChecklist))
	mux.HandleFunc("GET /api/books/{id}/gate", auth(s.handleGate))
	mux.HandleFunc("POST /api/books/{id}/preflight", auth(s.handlePreflight))
	mux.HandleFunc("GET /api/books/{id}/consistency", auth(s.handleConsistency))
	mux.HandleFunc("GET /api/books/{id}/pricing", auth(s.handlePricing))
	mux.HandleFunc("POST /api/books/{id}/pricing/phase", auth(s.handleSetPhase))
	mux.HandleFunc("POST /api/books/{id}/pricing/promotion", auth(s.handleStartPromotion))
	mux.HandleFunc("PATCH /api/books/{id}/pricing/settings", auth(s.handlePricingSettings))
	mux.HandleFunc("POST /api/books/{id}/reviews", auth(s.handleReviews))
	mux.HandleFunc("POST /api/pricing/sweeps/{sweep}", auth(s.handleSweep))

	mux.HandleFunc("GET /api/chapters/{id}", auth(s.handleGetChapter))
	mux.HandleFunc("POST /api/chapters/{id}/approve", auth(s.handleApprove))
	mux.HandleFunc("POST /api/chapters/{id}/reject", auth(s.handleReject))
	mux.HandleFunc("POST /api/chapters/{id}/ready", auth(s.handleReady))
	mux.HandleFunc("POST /api/chapters/{id}/requeue", auth(s.handleRequeue))
	mux.HandleFunc("PUT /api/chapters/{id}/content", auth(s.handleSetContent))

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleListBooks(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	books, err := s.svc.ListBooks(r.Context(), queryList(r, "status"), limit)
	s.respond(w, http.StatusOK, books, err)
}

func (s *apiServer) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req api.CreateBookRequest
	if !s.decode(w, r, &req) {
		return
	}
	book, err := s.svc.CreateBook(r.Context(), req)
	s.respond(w, http.StatusCreated, book, err)
}

func (s *apiServer) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	book, err := s.svc.GetBook(r.Context(), id)
	s.respond(w, http.StatusOK, book, err)
}

type fireEventRequest struct {
	ExpectedVersion int64 `json:"expectedVersion"`
}

func (s *apiServer) handleFireEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req fireEventRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	book, err := s.svc.FireBookEvent(r.Context(), id, r.PathValue("event"), req.ExpectedVersion)
	s.respond(w, http.StatusOK, book, err)
}

func (s *apiServer) handleListChapters(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	chapters, err := s.svc.ListChapters(r.Context(), id, queryList(r, "status"))
	s.respond(w, http.StatusOK, chapters, err)
}

func (s *apiServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	report, err := s.svc.Progress(r.Context(), id)
	s.respond(w, http.StatusOK, report, err)
}

func (s *apiServer) handleResync(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	words, err := s.svc.ResyncWordCount(r.Context(), id)
	s.respond(w, http.StatusOK, map[string]int{"wordCount": words}, err)
}

func (s *apiServer) handleScores(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req api.RecordScoresRequest
	if !s.decode(w, r, &req) {
		return
	}
	book, err := s.svc.RecordScores(r.Context(), id, req)
	s.respond(w, http.StatusOK, book, err)
}

func (s *apiServer) handleChecklist(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var items map[string]bool
	if !s.decode(w, r, &items) {
		return
	}
	book, err := s.svc.UpdateChecklist(r.Context(), id, items)
	s.respond(w, http.StatusOK, book, err)
}

func (s *apiServer) handleGate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	result, err := s.svc.EvaluateGate(r.Context(), id)
	s.respond(w, http.StatusOK, result, err)
}

func (s *apiServer) handlePreflight(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	err := s.svc.SchedulePreflight(r.Context(), id)
	s.respond(w, http.StatusAccepted, map[string]bool{"queued": err == nil}, err)
}

func (s *apiServer) handleConsistency(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	reports, err := s.svc.ConsistencyReports(r.Context(), id)
	s.respond(w, http.StatusOK, reports, err)
}

func (s *apiServer) handlePricing(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	p, err := s.svc.Pricing(r.Context(), id)
	s.respond(w, http.StatusOK, p, err)
}

type setPhaseRequest struct {
	Phase  string  `json:"phase"`
	Price  float64 `json:"price"`
	Reason string  `json:"reason"`
}

func (s *apiServer) handleSetPhase(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req setPhaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.svc.SetPricePhase(r.Context(), id, req.Phase, req.Price, req.Reason)
	s.respond(w, http.StatusOK, p, err)
}

func (s *apiServer) handleStartPromotion(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	p, err := s.svc.StartPromotion(r.Context(), id)
	s.respond(w, http.StatusOK, p, err)
}

func (s *apiServer) handlePricingSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req api.PricingSettings
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.svc.UpdatePricingSettings(r.Context(), id, req)
	s.respond(w, http.StatusOK, p, err)
}

type reviewsRequest struct {
	TotalReviews  int     `json:"totalReviews"`
	AverageRating float64 `json:"averageRating"`
}

func (s *apiServer) handleReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req reviewsRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.svc.RecordReviews(r.Context(), id, req.TotalReviews, req.AverageRating)
	s.respond(w, http.StatusCreated, req, err)
}

func (s *apiServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.RunPricingSweep(r.Context(), r.PathValue("sweep"))
	s.respond(w, http.StatusOK, result, err)
}

func (s *apiServer) handleGetChapter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ch, err := s.svc.GetChapter(r.Context(), id)
	s.respond(w, http.StatusOK, ch, err)
}

func (s *apiServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ch, err := s.svc.ApproveChapter(r.Context(), id)
	s.respond(w, http.StatusOK, ch, err)
}

type rejectRequest struct {
	Notes string `json:"notes"`
}

func (s *apiServer) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if !s.decode(w, r, &req) {
		return
	}
	ch, err := s.svc.RejectChapter(r.Context(), id, req.Notes)
	s.respond(w, http.StatusOK, ch, err)
}

func (s *apiServer) handleReady(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ch, err := s.svc.MarkReady(r.Context(), id)
	s.respond(w, http.StatusOK, ch, err)
}

func (s *apiServer) handleRequeue(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ch, err := s.svc.RequeueChapter(r.Context(), id)
	s.respond(w, http.StatusOK, ch, err)
}

type contentRequest struct {
	Content string `json:"content"`
}

func (s *apiServer) handleSetContent(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req contentRequest
	if !s.decode(w, r, &req) {
		return
	}
	ch, err := s.svc.SetChapterContent(r.Context(), id, req.Content)
	s.respond(w, http.StatusOK, ch, err)
}

func queryList(r *http.Request, key string) []string {
	var out []string
	for _, value := range r.URL.Query()[key] {
		for part := range strings.SplitSeq(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (s *apiServer) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, services.Wrap(services.ErrValidation, "api", "path", fmt.Sprintf("invalid id %q", r.PathValue("id")), nil))
		return 0, false
	}
	return id, true
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, services.Wrap(services.ErrValidation, "api", "decode", "invalid request body", err))
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (s *apiServer) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return s.decode(w, r, v)
}

func (s *apiServer) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, status, payload)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	body := api.ErrorFrom(err)
	_, status := api.Code(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("api request failed", logging.Error(err))
	}
	s.writeJSON(w, status, body)
}
