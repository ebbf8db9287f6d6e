package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/himanalot/swimmer-elo/internal/crawler"
	"github.com/himanalot/swimmer-elo/internal/metrics"
	"github.com/himanalot/swimmer-elo/internal/swimtime"
)

// SwimmerFetcher fetches and parses a single swimmer on demand.
type SwimmerFetcher interface {
	FetchOne(ctx context.Context, id string) (crawler.ParsedEntity, error)
}

// StatusReporter reports checkpointed progress per team.
type StatusReporter interface {
	Status(ctx context.Context) ([]crawler.ParentStatus, error)
}

// Config controls server behavior.
type Config struct {
	RequestTimeout time.Duration
	MetricsEnabled bool
}

// Server wires HTTP handlers to the crawl engine.
type Server struct {
	router  chi.Router
	swimmer SwimmerFetcher
	status  StatusReporter
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. status may be nil.
func NewServer(swimmer SwimmerFetcher, status StatusReporter, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{swimmer: swimmer, status: status, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if cfg.MetricsEnabled {
		r.Use(metrics.Middleware)
		r.Handle("/metrics", metrics.Handler())
	}

	r.Get("/healthz", s.healthz)
	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Route("/v1", func(r chi.Router) {
			r.Get("/swimmers/{id}", s.getSwimmer)
			r.Post("/swimmers", s.postSwimmer)
			r.Get("/teams", s.listTeams)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Swimmer is the JSON body returned for a swimmer lookup.
type Swimmer struct {
	ID        string                       `json:"id"`
	Name      string                       `json:"name"`
	Team      string                       `json:"team"`
	Teams     []string                     `json:"teams"`
	BestTimes map[string]swimtime.BestTime `json:"best_times"`
	crawler.Media
}

type swimmerRequest struct {
	SwimmerID string `json:"swimmerId"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getSwimmer(w http.ResponseWriter, r *http.Request) {
	s.lookup(w, r, chi.URLParam(r, "id"))
}

func (s *Server) postSwimmer(w http.ResponseWriter, r *http.Request) {
	var req swimmerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.lookup(w, r, req.SwimmerID)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, id string) {
	if !crawler.ValidID(id) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid swimmer id %q", id))
		return
	}
	entity, err := s.swimmer.FetchOne(r.Context(), id)
	if err != nil {
		status := statusFor(err)
		s.logger.Warn("swimmer lookup failed",
			zap.String("swimmer_id", id),
			zap.Int("status", status),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, status, err.Error())
		return
	}
	teams := entity.Teams
	if teams == nil {
		teams = []string{}
	}
	writeJSON(w, http.StatusOK, Swimmer{
		ID:        entity.ID,
		Name:      entity.Name,
		Team:      entity.Affiliation,
		Teams:     teams,
		BestTimes: swimtime.Normalize(entity.BestTimes),
		Media:     entity.Media,
	})
}

func (s *Server) listTeams(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusNotFound, "status not available")
		return
	}
	teams, err := s.status.Status(r.Context())
	if err != nil {
		if errors.Is(err, crawler.ErrIndexNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

// statusFor maps lookup errors onto HTTP status codes.
func statusFor(err error) int {
	var fetchErr *crawler.FetchError
	switch {
	case errors.Is(err, crawler.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, crawler.ErrMalformed):
		return http.StatusUnprocessableEntity
	case errors.As(err, &fetchErr):
		switch fetchErr.Outcome {
		case crawler.OutcomeRateLimited:
			return http.StatusTooManyRequests
		case crawler.OutcomeBlocked:
			return http.StatusServiceUnavailable
		default:
			return http.StatusBadGateway
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("request_id", requestID(r.Context())),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
