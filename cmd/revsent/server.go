package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/revsent/internal/api"
	"github.com/kalambet/revsent/internal/config"
	"github.com/kalambet/revsent/internal/jobs"
	"github.com/kalambet/revsent/internal/pipeline"
	"github.com/kalambet/revsent/internal/sentiment"
	"github.com/kalambet/revsent/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve predictions and summaries, and run background jobs (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(cmd.Context(), withMCP)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, model and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", true, "serve MCP over stdin/stdout")
}

var errNoModel = errors.New("no sentiment model loaded")

// livePredictor serves predictions from the most recently loaded scorer.
// Train jobs swap in their artifact without a restart.
type livePredictor struct {
	scorer atomic.Pointer[sentiment.Scorer]
}

func (p *livePredictor) Predict(text string) (sentiment.Prediction, error) {
	s := p.scorer.Load()
	if s == nil {
		return sentiment.Prediction{}, errNoModel
	}
	return s.Predict(text)
}

func (p *livePredictor) Loaded() bool { return p.scorer.Load() != nil }

func (p *livePredictor) current() *sentiment.Scorer { return p.scorer.Load() }

func (p *livePredictor) set(s *sentiment.Scorer) { p.scorer.Store(s) }

// loadServingScorer prefers the artifact published under key and falls back
// to the file at path when nothing has been published yet.
func loadServingScorer(runner *pipeline.Runner, path, key string) (*sentiment.Scorer, error) {
	if key != "" {
		s, err := loadScorer(runner, path, key)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	return loadScorer(runner, path, "")
}

// withPayload applies the non-empty payload fields over cfg.
func withPayload(cfg config.Config, p jobs.Payload) config.Config {
	if p.DataPath != "" {
		cfg.Data.Path = p.DataPath
	}
	if p.ModelPath != "" {
		cfg.Model.Path = p.ModelPath
	}
	if p.ModelKey != "" {
		cfg.Model.Key = p.ModelKey
	}
	return cfg
}

func jobHandlers(cfg config.Config, store pipeline.Store, live *livePredictor) map[string]jobs.Handler {
	return map[string]jobs.Handler{
		jobs.TypeTrain: func(ctx context.Context, p jobs.Payload) error {
			c := withPayload(cfg, p)
			out, err := pipeline.NewRunner(store, runnerOptions(c)).Train(ctx, c.Data.Path, p.Publish || c.Model.Publish)
			if err != nil {
				return err
			}
			scorer, err := sentiment.NewScorer(out.Result.Artifact)
			if err != nil {
				return err
			}
			live.set(scorer)
			slog.Info("serving model replaced", "run_id", out.RunID, "accuracy", out.Result.Report.Accuracy)
			return nil
		},
		jobs.TypeSummarize: func(ctx context.Context, p jobs.Payload) error {
			c := withPayload(cfg, p)
			runner := pipeline.NewRunner(store, runnerOptions(c))

			scorer := live.current()
			if p.ModelPath != "" || p.ModelKey != "" {
				s, err := loadScorer(runner, c.Model.Path, p.ModelKey)
				if err != nil {
					return err
				}
				scorer = s
			}
			if scorer == nil {
				return errNoModel
			}

			_, err := runner.Summarize(ctx, c.Data.Path, scorer)
			return err
		},
	}
}

// newHandler routes the bearer-protected management paths to the app
// handler and everything else to the public service handler.
func newHandler(svc api.ServiceDeps, app api.AppDeps) http.Handler {
	appHandler := api.NewAppHandler(app)
	mux := http.NewServeMux()
	for _, prefix := range []string{"/runs", "/runs/", "/jobs", "/jobs/"} {
		mux.Handle(prefix, appHandler)
	}
	mux.Handle("/", api.NewServiceHandler(svc))
	return mux
}

func runServer(ctx context.Context, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "revsent version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.APIToken == "" {
		printWarning("REVSENT_API_TOKEN is not set; /runs and /jobs will reject every request")
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	live := &livePredictor{}
	scorer, err := loadServingScorer(pipeline.NewRunner(store, runnerOptions(cfg)), cfg.Model.Path, cfg.Model.Key)
	if err != nil {
		slog.Warn("no sentiment model loaded; /predict returns 503 until a train job completes", "error", err)
	} else {
		live.set(scorer)
	}

	summaries := pipeline.Summaries{Store: store, Dir: cfg.Output.Dir}
	handler := newHandler(
		api.ServiceDeps{Predictor: live, Summaries: summaries, TopN: cfg.Rank.TopN, GapM: cfg.Rank.GapM},
		api.AppDeps{Store: store, Token: cfg.Server.APIToken},
	)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Start job worker.
	worker := jobs.NewWorker(store, jobHandlers(cfg, store, live), 500*time.Millisecond)
	go worker.Run(ctx)

	if cfg.Schedule.Rebuild != "" {
		sched, err := jobs.NewScheduler(store, cfg.Schedule.Rebuild, jobs.Payload{})
		if err != nil {
			return err
		}
		go sched.Run(ctx)
		slog.Info("rebuild schedule active", "schedule", cfg.Schedule.Rebuild, "next", sched.Next(time.Now()))
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Predictor: live,
			Summaries: summaries,
			TopN:      cfg.Rank.TopN,
			GapM:      cfg.Rank.GapM,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "revsent listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL(cfg)+"/health", nil)
	if err != nil {
		return err
	}
	var health struct {
		ModelLoaded bool `json:"model_loaded"`
	}
	resp, err := client.Do(req)
	if err != nil {
		printStatus("Server", "stopped")
	} else if err := decodeJSON(resp, &health); err != nil {
		printStatus("Server", "error (%v)", err)
	} else {
		printStatus("Server", "running on port %d", cfg.Server.Port)
		printStatus("Model loaded", "%t", health.ModelLoaded)
	}

	printStatus("Data file", "%s", cfg.Data.Path)
	printStatus("Model file", "%s", cfg.Model.Path)
	printStatus("Model key", "%s", cfg.Model.Key)
	if cfg.Schedule.Rebuild != "" {
		printStatus("Rebuild schedule", "%s", cfg.Schedule.Rebuild)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		printError("could not open storage: %v", err)
		return nil
	}
	defer store.Close()

	if versions, err := store.AppliedMigrations(); err == nil && len(versions) > 0 {
		printStatus("Schema version", "%d", versions[len(versions)-1])
	}
	for _, kind := range []string{storage.RunTrain, storage.RunSummarize} {
		run, err := store.LatestRun(kind)
		if errors.Is(err, storage.ErrNotFound) {
			printStatus("Last "+kind, "never")
			continue
		}
		if err != nil {
			printError("reading %s runs: %v", kind, err)
			continue
		}
		printStatus("Last "+kind, "%s (%s, %d rows)", run.CreatedAt.Local().Format(time.DateTime), shortID(run.ID), run.RowsAccepted)
	}

	counts, err := store.CountJobs()
	if err != nil {
		printError("counting jobs: %v", err)
		return nil
	}
	printStatus("Jobs", "%s", formatCounts(counts))
	return nil
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)

	out := ""
	for i, s := range statuses {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d %s", counts[s], s)
	}
	return out
}
