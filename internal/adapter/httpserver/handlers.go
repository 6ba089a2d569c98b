package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/config"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg     config.Config
	Submit  usecase.SubmitService
	Status  usecase.StatusService
	DBCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, submit usecase.SubmitService, status usecase.StatusService, dbCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Submit: submit, Status: status, DBCheck: dbCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type submitRequest struct {
	FileID      string          `json:"fileId" validate:"required,max=512"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
	Priority    int             `json:"priority" validate:"omitempty,min=1,max=100"`
	MaxAttempts int             `json:"maxAttempts" validate:"omitempty,min=1,max=20"`
}

type submitResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
}

// HandleSubmit accepts a summarization job.
func (s *Server) HandleSubmit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, s.Cfg.MaxBodyBytes))
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: read body", domain.ErrInvalidArgument), nil)
			return
		}
		var req submitRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid JSON", domain.ErrInvalidArgument), err.Error())
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), err.Error())
			return
		}

		rc, err := s.Submit.Submit(r.Context(), req.FileID, req.Payload, req.Priority, req.MaxAttempts)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		observability.JobsEnqueuedTotal.WithLabelValues(string(rc.Status)).Inc()
		status := http.StatusAccepted
		if rc.Status == domain.AlreadyCompleted {
			status = http.StatusOK
		}
		writeJSON(w, status, submitResponse{JobID: rc.JobID, Status: string(rc.Status), Result: rc.Result})
	}
}

// HandleGetJob serves one job's state for producer polling.
func (s *Server) HandleGetJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		v, err := s.Status.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// HandleStats serves queue statistics.
func (s *Server) HandleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.Status.Stats(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{
			"queued":     st.Queued,
			"processing": st.Processing,
			"succeeded":  st.Succeeded,
			"failed":     st.Failed,
			"dead":       st.Dead,
		})
	}
}

// HandleHealthz is the liveness probe.
func (s *Server) HandleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleReadyz is the readiness probe; it pings the store.
func (s *Server) HandleReadyz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.DBCheck != nil {
			if err := s.DBCheck(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "db": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
