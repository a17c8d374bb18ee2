package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/revsent/internal/jobs"
	"github.com/kalambet/revsent/internal/storage"
)

// AppStore is the storage surface behind the management routes.
type AppStore interface {
	ListRuns(kind string, limit int) ([]storage.Run, error)
	GetRun(id string) (storage.Run, error)
	GetJob(id string) (storage.Job, error)
	EnqueueJob(job storage.Job) error
}

// AppDeps holds dependencies for the bearer-protected management API.
type AppDeps struct {
	Store AppStore
	Token string
}

// JobRequest is the body of POST /jobs.
type JobRequest struct {
	Type     string       `json:"type"`
	Payload  jobs.Payload `json:"payload"`
	RunAfter *time.Time   `json:"run_after,omitempty"`
}

// JobResponse is the JSON view of a queued job.
type JobResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	RunAfter    time.Time `json:"run_after"`
	LastError   string    `json:"last_error,omitempty"`
}

// NewAppHandler returns the management routes for runs and jobs.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Get("/runs", handleListRuns(deps))
	r.Get("/runs/{id}", handleGetRun(deps))
	r.Post("/jobs", handleEnqueueJob(deps))
	r.Get("/jobs/{id}", handleGetJob(deps))

	return r
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := r.URL.Query().Get("kind")
		if kind != "" && kind != storage.RunTrain && kind != storage.RunSummarize {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "kind must be %q or %q", storage.RunTrain, storage.RunSummarize)
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		runs, err := deps.Store.ListRuns(kind, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.Run{}
		}

		writeJSON(w, http.StatusOK, runs)
	}
}

func handleGetRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		run, err := deps.Store.GetRun(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, run)
	}
}

func handleEnqueueJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req JobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if !jobs.ValidType(req.Type) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "type must be one of %v", jobs.Types)
			return
		}

		var runAfter time.Time
		if req.RunAfter != nil {
			runAfter = *req.RunAfter
		}
		id, err := jobs.Enqueue(deps.Store, req.Type, req.Payload, runAfter)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     id,
			"status": "queued",
		})
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		j, err := deps.Store.GetJob(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, JobResponse{
			ID:          j.ID,
			Type:        j.Type,
			Status:      j.Status,
			Attempts:    j.Attempts,
			MaxAttempts: j.MaxAttempts,
			RunAfter:    j.RunAfter,
			LastError:   j.LastError,
		})
	}
}
