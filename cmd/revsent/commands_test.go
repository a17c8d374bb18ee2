package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/revsent/internal/api"
	"github.com/kalambet/revsent/internal/config"
	"github.com/kalambet/revsent/internal/jobs"
	"github.com/kalambet/revsent/internal/pipeline"
	"github.com/kalambet/revsent/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestRunsList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /runs": `[{"id":"0f8e2c1a-77aa-4d1e-9d55-2c6e1b0b9a11","kind":"train","created_at":"2026-01-01T00:00:00Z","status":"completed","rows_accepted":1200}]`,
	})

	resp, err := ts.client().get(ctx, "/runs?kind=train&limit=5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var runs []storage.Run
	if err := decodeJSON(resp, &runs); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].RowsAccepted != 1200 || runs[0].Kind != storage.RunTrain {
		t.Errorf("run = %+v", runs[0])
	}

	r := ts.requests[0]
	if r.Path != "/runs?kind=train&limit=5" {
		t.Errorf("path = %q", r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
}

func TestFormatRun(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	line := formatRun(storage.Run{
		ID:           "0f8e2c1a-77aa-4d1e-9d55-2c6e1b0b9a11",
		Kind:         storage.RunSummarize,
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Status:       storage.RunFailed,
		RowsAccepted: 7,
	})
	if !strings.HasPrefix(line, "0f8e2c1a  summarize") {
		t.Errorf("line = %q", line)
	}
	if !strings.Contains(line, "failed") || !strings.HasSuffix(line, "7 rows") {
		t.Errorf("line = %q", line)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID(abc) = %q", got)
	}
	if got := shortID("0123456789"); got != "01234567" {
		t.Errorf("shortID = %q", got)
	}
}

func TestJobsEnqueue_Request(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /jobs": `{"id":"job-123","status":"queued"}`,
	})

	cmd := &cobra.Command{}
	addJobFlags(cmd)
	cmd.Flags().Set("data", "/data/reviews.json")
	cmd.Flags().Set("publish", "true")
	cmd.Flags().Set("at", "2026-03-01T12:00:00Z")

	req, err := buildJobRequest(cmd, jobs.TypeTrain)
	if err != nil {
		t.Fatalf("buildJobRequest: %v", err)
	}

	resp, err := ts.client().post(ctx, "/jobs", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["id"] != "job-123" {
		t.Errorf("id = %q, want job-123", result["id"])
	}

	var sent api.JobRequest
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sent); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sent.Type != jobs.TypeTrain || sent.Payload.DataPath != "/data/reviews.json" || !sent.Payload.Publish {
		t.Errorf("sent = %+v", sent)
	}
	if sent.RunAfter == nil || !sent.RunAfter.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("run_after = %v", sent.RunAfter)
	}
}

func TestJobsEnqueue_BadTime(t *testing.T) {
	cmd := &cobra.Command{}
	addJobFlags(cmd)
	cmd.Flags().Set("at", "tomorrow")

	if _, err := buildJobRequest(cmd, jobs.TypeSummarize); err == nil {
		t.Fatal("expected error for non-RFC 3339 time")
	}
}

func TestJobsEnqueue_InvalidType(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"jobs", "enqueue", "deploy"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for unknown job type")
	}
	if !strings.Contains(err.Error(), "job type") {
		t.Errorf("error = %q, want it to mention 'job type'", err.Error())
	}
}

func TestStatus_ServerStopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"auth_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/runs")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestLogLevel(t *testing.T) {
	tests := map[string]string{"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "info": "INFO", "": "INFO"}
	for in, want := range tests {
		if got := logLevel(in).String(); got != want {
			t.Errorf("logLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestFormatCounts(t *testing.T) {
	if got := formatCounts(nil); got != "none" {
		t.Errorf("formatCounts(nil) = %q", got)
	}
	got := formatCounts(map[string]int{"pending": 2, "completed": 5})
	if got != "5 completed, 2 pending" {
		t.Errorf("formatCounts = %q", got)
	}
}

func TestWithPayload(t *testing.T) {
	var cfg config.Config
	cfg.Data.Path = "default.json"
	cfg.Model.Path = "model.json.gz"
	cfg.Model.Key = "models/a"

	got := withPayload(cfg, jobs.Payload{DataPath: "other.json", ModelKey: "models/b"})
	if got.Data.Path != "other.json" || got.Model.Key != "models/b" {
		t.Errorf("override not applied: %+v", got)
	}
	if got.Model.Path != "model.json.gz" {
		t.Errorf("Model.Path = %q, empty payload fields must keep config", got.Model.Path)
	}
	if cfg.Data.Path != "default.json" {
		t.Error("withPayload mutated its input")
	}
}

func TestLivePredictor_Empty(t *testing.T) {
	live := &livePredictor{}
	if live.Loaded() {
		t.Error("empty predictor reports a model")
	}
	if _, err := live.Predict("great"); !errors.Is(err, errNoModel) {
		t.Errorf("Predict error = %v, want errNoModel", err)
	}
}

func TestNewHandler_Routing(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	h := newHandler(
		api.ServiceDeps{Predictor: &livePredictor{}, Summaries: store},
		api.AppDeps{Store: store, Token: "tok"},
	)

	do := func(method, path, body, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	tests := []struct {
		name, method, path, body, token string
		want                            int
	}{
		{"health is public", http.MethodGet, "/health", "", "", http.StatusOK},
		{"predict without model", http.MethodPost, "/predict", `{"text":"fun"}`, "", http.StatusServiceUnavailable},
		{"summary without run", http.MethodGet, "/summary/products", "", "", http.StatusNotFound},
		{"runs need token", http.MethodGet, "/runs", "", "", http.StatusUnauthorized},
		{"runs with token", http.MethodGet, "/runs", "", "tok", http.StatusOK},
		{"run by id", http.MethodGet, "/runs/missing", "", "tok", http.StatusNotFound},
		{"enqueue job", http.MethodPost, "/jobs", `{"type":"summarize"}`, "tok", http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(tt.method, tt.path, tt.body, tt.token)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func writeCorpus(t *testing.T, dir string) string {
	t.Helper()
	positive := []string{"great toy", "love it", "kids love this great puzzle", "excellent quality"}
	negative := []string{"broke fast", "terrible quality", "cheap and broke", "waste of money"}

	var b strings.Builder
	for i := 0; i < 6; i++ {
		for _, p := range positive {
			fmt.Fprintf(&b, `{"asin":"P1","overall":5,"reviewText":"%s %d","summary":"Fun"}`+"\n", p, i)
		}
		for _, n := range negative {
			fmt.Fprintf(&b, `{"asin":"P2","overall":1,"reviewText":"%s %d","summary":"Junk"}`+"\n", n, i)
		}
	}

	path := filepath.Join(dir, "reviews.json")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("writing corpus: %v", err)
	}
	return path
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()

	var cfg config.Config
	cfg.Data.Path = writeCorpus(t, dir)
	cfg.Model.Path = filepath.Join(dir, "model.json.gz")
	cfg.Train.TestRatio = 0.2
	cfg.Train.Seed = 42
	cfg.Rank.TopN = 1
	cfg.Rank.GapM = 2
	cfg.Scoring.Workers = 2
	cfg.Output.Dir = filepath.Join(dir, "out")
	return cfg
}

func TestJobHandlers_SummarizeWithoutModel(t *testing.T) {
	handlers := jobHandlers(testConfig(t), nil, &livePredictor{})

	err := handlers[jobs.TypeSummarize](ctx, jobs.Payload{})
	if !errors.Is(err, errNoModel) {
		t.Errorf("err = %v, want errNoModel", err)
	}
}

func TestJobHandlers_TrainThenSummarize(t *testing.T) {
	cfg := testConfig(t)
	live := &livePredictor{}
	handlers := jobHandlers(cfg, nil, live)

	if err := handlers[jobs.TypeTrain](ctx, jobs.Payload{}); err != nil {
		t.Fatalf("train job: %v", err)
	}
	if !live.Loaded() {
		t.Fatal("train job did not install a model")
	}
	if _, err := os.Stat(cfg.Model.Path); err != nil {
		t.Errorf("artifact not saved: %v", err)
	}

	pred, err := live.Predict("great toy love it")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.PredictedLabel != 1 {
		t.Errorf("prediction = %+v, want positive", pred)
	}

	if err := handlers[jobs.TypeSummarize](ctx, jobs.Payload{}); err != nil {
		t.Fatalf("summarize job: %v", err)
	}
	for _, name := range []string{pipeline.ProductsFile, pipeline.TopBottomFile, pipeline.IssuesFile} {
		if _, err := os.Stat(filepath.Join(cfg.Output.Dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
}

func TestLoadServingScorer_FallsBackToFile(t *testing.T) {
	cfg := testConfig(t)
	if err := jobHandlers(cfg, nil, &livePredictor{})[jobs.TypeTrain](ctx, jobs.Payload{}); err != nil {
		t.Fatalf("train job: %v", err)
	}

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	runner := pipeline.NewRunner(store, runnerOptions(cfg))
	if _, err := loadServingScorer(runner, cfg.Model.Path, "models/unpublished"); err != nil {
		t.Fatalf("loadServingScorer should fall back to the file: %v", err)
	}
	if _, err := loadServingScorer(runner, filepath.Join(t.TempDir(), "none.json.gz"), "models/unpublished"); err == nil {
		t.Fatal("expected error with neither key nor file")
	}
}
