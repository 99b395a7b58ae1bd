// Package httpapi serves the operator HTTP API: health, metrics, manual triggers and dispatch stats.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"exam_dispatch_engine/internal/app"
	"exam_dispatch_engine/internal/domain/exam"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Ops is the operator service the handlers call.
type Ops interface {
	ListActiveSchedules(ctx context.Context) ([]*exam.Schedule, error)
	DispatchStats(ctx context.Context, scheduleID string) (*app.ScheduleStats, error)
	TriggerRun(ctx context.Context) (*app.RunReport, error)
	TriggerRetry(ctx context.Context) (*app.RunReport, error)
}

type Server struct {
	baseCtx    context.Context
	ops        Ops
	metrics    http.Handler
	apiToken   string
	runTimeout time.Duration
	logger     *logrus.Entry
}

// NewServer builds the API. Manual runs are cancelled when baseCtx is done.
// When apiToken is non-empty, the trigger endpoints require it as a bearer token.
func NewServer(baseCtx context.Context, ops Ops, metrics http.Handler, apiToken string, runTimeout time.Duration, logger *logrus.Entry) *Server {
	if runTimeout <= 0 {
		runTimeout = 30 * time.Minute
	}
	return &Server{
		baseCtx:    baseCtx,
		ops:        ops,
		metrics:    metrics,
		apiToken:   apiToken,
		runTimeout: runTimeout,
		logger:     logger.WithField("component", "httpapi"),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/schedules", s.handleListSchedules)
		r.Get("/schedules/{id}/dispatch-stats", s.handleDispatchStats)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Post("/workflow/run", s.handleTrigger(s.ops.TriggerRun))
			r.Post("/workflow/retry", s.handleTrigger(s.ops.TriggerRetry))
		})
	})
	return r
}

type scheduleView struct {
	ID                     string     `json:"id"`
	ExamDate               string     `json:"exam_date"`
	Status                 string     `json:"status"`
	Recurring              bool       `json:"is_recurring"`
	AutoGenerateQuestions  bool       `json:"auto_generate_questions"`
	NotificationsStartedAt *time.Time `json:"notifications_started_at,omitempty"`
}

func toView(s *exam.Schedule) scheduleView {
	v := scheduleView{
		ID:                    s.ID,
		ExamDate:              exam.DateKey(s.ExamDate),
		Status:                string(s.Status),
		Recurring:             s.Recurring,
		AutoGenerateQuestions: s.AutoGenerateQuestions,
	}
	if s.NotificationsStartedAt.Valid {
		t := s.NotificationsStartedAt.Time
		v.NotificationsStartedAt = &t
	}
	return v
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := s.ops.ListActiveSchedules(r.Context())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	views := make([]scheduleView, 0, len(list))
	for _, sched := range list {
		views = append(views, toView(sched))
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": views})
}

func (s *Server) handleDispatchStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stats, err := s.ops.DispatchStats(r.Context(), id)
	if err != nil {
		if errors.Is(err, exam.ErrScheduleNotFound) {
			s.fail(w, r, http.StatusNotFound, err)
			return
		}
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schedule": toView(stats.Schedule),
		"counts":   stats.Counts,
	})
}

// handleTrigger runs fn under the server's base context rather than the request's,
// so a dropped client connection does not cut a sweep short but shutdown does.
func (s *Server) handleTrigger(fn func(context.Context) (*app.RunReport, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(s.baseCtx, s.runTimeout)
		defer cancel()

		report, err := fn(ctx)
		if err != nil {
			s.logger.WithError(err).Error("Manual run failed")
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": report})
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiToken)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
