package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/insight/internal/extractor"
	"github.com/MikeSquared-Agency/insight/internal/insight"
	"github.com/MikeSquared-Agency/insight/internal/store"
)

// Insight is satisfied by *insight.Service.
type Insight interface {
	EngagementScore(ctx context.Context, headline, summary string) (*insight.Engagement, error)
	State(ctx context.Context, inputText string) (*insight.State, error)
}

// CallLister is satisfied by *store.Store.
type CallLister interface {
	RecentCalls(ctx context.Context, kind store.CallKind, limit int) ([]store.Call, error)
}

type Server struct {
	router *chi.Mux
	http   *http.Server
	svc    Insight
	calls  CallLister
	model  string
	logger *slog.Logger
}

// NewServer builds the HTTP surface. calls may be nil, in which case the
// call log endpoint is not mounted.
func NewServer(port int, svc Insight, calls CallLister, model string, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		svc:    svc,
		calls:  calls,
		model:  model,
		logger: logger,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1/insight", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Post("/engagement", s.engagement)
		r.Post("/state", s.state)
		if calls != nil {
			r.Get("/calls", s.recentCalls)
		}
	})

	return s
}

// Start blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type engagementRequest struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
}

type stateRequest struct {
	InputText string `json:"input_text"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":     "insight",
		"model":     s.model,
		"call_log":  s.calls != nil,
		"endpoints": []string{"engagement", "state"},
	})
}

func (s *Server) engagement(w http.ResponseWriter, r *http.Request) {
	var req engagementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if strings.TrimSpace(req.Headline) == "" || strings.TrimSpace(req.Summary) == "" {
		writeError(w, http.StatusBadRequest, "headline and summary are required")
		return
	}

	result, err := s.svc.EngagementScore(r.Context(), req.Headline, req.Summary)
	if err != nil {
		s.writeAbsent(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if strings.TrimSpace(req.InputText) == "" {
		writeError(w, http.StatusBadRequest, "input_text is required")
		return
	}

	result, err := s.svc.State(r.Context(), req.InputText)
	if err != nil {
		s.writeAbsent(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) recentCalls(w http.ResponseWriter, r *http.Request) {
	kind := store.CallKind(r.URL.Query().Get("kind"))
	if kind != "" && kind != store.CallExtraction && kind != store.CallChat {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown kind %q", kind))
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %v", err))
			return
		}
		limit = n
	}

	calls, err := s.calls.RecentCalls(r.Context(), kind, limit)
	if err != nil {
		s.logger.Error("failed to list model calls", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list model calls")
		return
	}
	if calls == nil {
		calls = []store.Call{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls, "count": len(calls)})
}

// writeAbsent reports an extraction that produced no result. The kind is
// exposed, the model output is not.
func (s *Server) writeAbsent(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
		"error": "no result",
		"kind":  string(extractor.KindOf(err)),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
