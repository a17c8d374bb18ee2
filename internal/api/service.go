package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/revsent/internal/aggregate"
	"github.com/kalambet/revsent/internal/ranking"
	"github.com/kalambet/revsent/internal/sentiment"
	"github.com/kalambet/revsent/internal/storage"
)

// ServiceDeps holds dependencies for the public prediction and summary API.
type ServiceDeps struct {
	Predictor Predictor     // optional; if nil, /predict returns 503
	Summaries SummaryReader // optional; if nil, /summary routes return 404
	TopN      int
	GapM      int
}

// PredictRequest is the body of POST /predict.
type PredictRequest struct {
	Text string `json:"text"`
}

// NewServiceHandler returns the public routes: health, prediction and the
// summary tables of the latest summary run.
func NewServiceHandler(deps ServiceDeps) http.Handler {
	if deps.TopN <= 0 {
		deps.TopN = ranking.DefaultTopN
	}
	if deps.GapM <= 0 {
		deps.GapM = ranking.DefaultGapM
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Post("/predict", handlePredict(deps))
	r.Get("/summary/products", handleSummaryProducts(deps))
	r.Get("/summary/products/{id}", handleSummaryProduct(deps))
	r.Get("/summary/top-bottom", handleSummaryTopBottom(deps))
	r.Get("/summary/issues", handleSummaryIssues(deps))

	return r
}

func handleHealth(deps ServiceDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"model_loaded": modelLoaded(deps.Predictor),
		})
	}
}

func handlePredict(deps ServiceDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req PredictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required and must not be empty")
			return
		}
		if !modelLoaded(deps.Predictor) {
			httpError(w, http.StatusServiceUnavailable, "api_error", "%v", errNoModel)
			return
		}

		pred, err := deps.Predictor.Predict(req.Text)
		if errors.Is(err, sentiment.ErrInvalidInput) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required and must not be empty")
			return
		}
		if err != nil {
			slog.Error("prediction failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "prediction failed")
			return
		}

		writeJSON(w, http.StatusOK, pred)
	}
}

func handleSummaryProducts(deps ServiceDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, products, ok := loadSummary(w, deps)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, productsView(run, products))
	}
}

func handleSummaryProduct(deps ServiceDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		run, p, err := latestProduct(deps.Summaries, id)
		switch {
		case errors.Is(err, errNoSummary):
			httpError(w, http.StatusNotFound, "not_found", "%v", errNoSummary)
			return
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "product not found")
			return
		case err != nil:
			slog.Error("loading product summary failed", "product_id", id, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load summary")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run_id": run.ID, "product": p})
	}
}

func handleSummaryTopBottom(deps ServiceDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, products, ok := loadSummary(w, deps)
		if !ok {
			return
		}
		n := parseIntParam(r, "n", deps.TopN, 100)
		writeJSON(w, http.StatusOK, topBottomView(run, products, n))
	}
}

func handleSummaryIssues(deps ServiceDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, products, ok := loadSummary(w, deps)
		if !ok {
			return
		}
		m := parseIntParam(r, "m", deps.GapM, 100)
		writeJSON(w, http.StatusOK, issuesView(run, products, m))
	}
}

func loadSummary(w http.ResponseWriter, deps ServiceDeps) (storage.Run, []aggregate.Product, bool) {
	run, products, err := latestProducts(deps.Summaries)
	if errors.Is(err, errNoSummary) {
		httpError(w, http.StatusNotFound, "not_found", "%v", errNoSummary)
		return storage.Run{}, nil, false
	}
	if err != nil {
		slog.Error("loading summaries failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to load summary")
		return storage.Run{}, nil, false
	}
	return run, products, true
}
