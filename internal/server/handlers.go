package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eci-platform/notifyd/internal/domain"
	"github.com/eci-platform/notifyd/internal/engine"
	"github.com/eci-platform/notifyd/internal/logging"
	"github.com/eci-platform/notifyd/internal/store"
)

type submitRequest struct {
	EventID   string            `json:"event_id" validate:"required"`
	EventType string            `json:"event_type" validate:"required"`
	Channel   string            `json:"channel" validate:"required,oneof=EMAIL SMS"`
	Recipient string            `json:"recipient" validate:"required"`
	Locale    string            `json:"locale"`
	Payload   map[string]string `json:"payload"`
}

type jobResponse struct {
	ID            string     `json:"id"`
	SourceEventID string     `json:"source_event_id"`
	EventType     string     `json:"event_type"`
	Channel       string     `json:"channel"`
	Recipient     string     `json:"recipient"`
	Locale        string     `json:"locale"`
	TemplateID    string     `json:"template_id,omitempty"`
	State         string     `json:"state"`
	AttemptCount  int        `json:"attempt_count"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
}

type attemptResponse struct {
	AttemptNo    int       `json:"attempt_no"`
	ResponseCode int       `json:"response_code"`
	Succeeded    bool      `json:"succeeded"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Error        string    `json:"error,omitempty"`
	AttemptedAt  time.Time `json:"attempted_at"`
}

func toJobResponse(job *domain.NotificationJob) jobResponse {
	resp := jobResponse{
		ID:            job.ID,
		SourceEventID: job.SourceEventID,
		EventType:     job.EventType,
		Channel:       string(job.Channel),
		Recipient:     job.Recipient,
		Locale:        job.Locale,
		TemplateID:    job.TemplateID,
		State:         string(job.State),
		AttemptCount:  job.AttemptCount,
		LastError:     job.LastError,
		CreatedAt:     job.CreatedAt,
	}
	if !job.LastAttemptAt.IsZero() {
		t := job.LastAttemptAt
		resp.LastAttemptAt = &t
	}
	if !job.NextRetryAt.IsZero() {
		t := job.NextRetryAt
		resp.NextRetryAt = &t
	}
	return resp
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	channel, _ := domain.ParseChannel(req.Channel)
	jobID, err := s.engine.Submit(r.Context(), engine.Submission{
		EventID:   req.EventID,
		EventType: req.EventType,
		Channel:   channel,
		Recipient: req.Recipient,
		Locale:    req.Locale,
		Payload:   req.Payload,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyDelivered) {
			writeJSON(w, http.StatusConflict, errorResponse{
				Error:  "already_delivered",
				Detail: "a notification for this event, channel and recipient was already delivered",
				JobID:  jobID,
			})
			return
		}
		switch domain.KindOf(err) {
		case domain.KindValidation:
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		case domain.KindUnknownEventType:
			writeError(w, http.StatusBadRequest, "unknown_event_type", err.Error())
		default:
			logging.FromContext(r.Context()).Error("submit failed",
				slog.String("code", "API_ERROR"), slog.Any("error", err))
			writeError(w, http.StatusServiceUnavailable, "unavailable", "could not accept notification")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := s.engine.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such job")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable", "could not load job")
		return
	}

	attempts, err := s.attempts.ListByJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "could not load attempts")
		return
	}

	resp := struct {
		jobResponse
		Attempts []attemptResponse `json:"attempts"`
	}{jobResponse: toJobResponse(job), Attempts: make([]attemptResponse, 0, len(attempts))}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			AttemptNo:    a.AttemptNo,
			ResponseCode: a.ResponseCode,
			Succeeded:    a.Succeeded,
			ErrorKind:    a.ErrorKind,
			Error:        a.Error,
			AttemptedAt:  a.AttemptedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{
		State:     domain.JobState(q.Get("state")),
		EventType: q.Get("event_type"),
		Channel:   domain.Channel(q.Get("channel")),
		OrderID:   q.Get("order_id"),
		Limit:     100,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be between 1 and 1000")
			return
		}
		filter.Limit = n
	}
	if filter.State != "" && !validState(filter.State) {
		writeError(w, http.StatusBadRequest, "validation_failed", "unknown state "+string(filter.State))
		return
	}

	jobs, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "could not list jobs")
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toJobResponse(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out, "count": len(out)})
}

func validState(s domain.JobState) bool {
	switch s {
	case domain.StatePending, domain.StateRendering, domain.StateSending,
		domain.StateDelivered, domain.StateRetrying, domain.StateFailed:
		return true
	}
	return false
}

type statsResponse struct {
	Total       int            `json:"total"`
	ByState     map[string]int `json:"by_state"`
	ByChannel   map[string]int `json:"by_channel"`
	ByEventType map[string]int `json:"by_event_type"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.jobs.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "could not compute stats")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Total:       stats.Total,
		ByState:     stats.ByState,
		ByChannel:   stats.ByChannel,
		ByEventType: stats.ByEventType,
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	newID, err := s.engine.Resubmit(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such job")
			return
		}
		if domain.KindOf(err) == domain.KindValidation {
			writeError(w, http.StatusBadRequest, "cannot_retry", err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable", "could not retry job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": newID})
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Components: map[string]string{}}

	check := func(name string, err error) {
		if err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unreachable"
			return
		}
		resp.Components[name] = "ok"
	}
	check("postgres", s.jobs.Ping(r.Context()))
	check("redis", s.idem.Ping(r.Context()))

	if s.broker != nil && !s.broker.Healthy() {
		resp.Status = "degraded"
		resp.Components["broker"] = "disconnected"
	} else if s.broker != nil {
		resp.Components["broker"] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
