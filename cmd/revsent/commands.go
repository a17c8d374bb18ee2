package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/revsent/internal/api"
	"github.com/kalambet/revsent/internal/config"
	"github.com/kalambet/revsent/internal/jobs"
	"github.com/kalambet/revsent/internal/pipeline"
	"github.com/kalambet/revsent/internal/review"
	"github.com/kalambet/revsent/internal/sentiment"
	"github.com/kalambet/revsent/internal/storage"
	"github.com/kalambet/revsent/internal/trainer"
)

func runnerOptions(cfg config.Config) pipeline.Options {
	return pipeline.Options{
		MaxLines: cfg.Data.MaxLines,
		Train: trainer.Options{
			TestRatio:   cfg.Train.TestRatio,
			Seed:        uint64(cfg.Train.Seed),
			MaxFeatures: cfg.Train.MaxFeatures,
			MaxIter:     cfg.Train.MaxIter,
			C:           cfg.Train.C,
		},
		TopN:      cfg.Rank.TopN,
		GapM:      cfg.Rank.GapM,
		Workers:   cfg.Scoring.Workers,
		OutputDir: cfg.Output.Dir,
		ModelPath: cfg.Model.Path,
		ModelKey:  cfg.Model.Key,
	}
}

// loadScorer reads the artifact stored under key when key is set, otherwise
// the artifact file at path.
func loadScorer(runner *pipeline.Runner, path, key string) (*sentiment.Scorer, error) {
	a, err := runner.LoadArtifact(path, key)
	if err != nil {
		return nil, err
	}
	return sentiment.NewScorer(a)
}

func printLoadStats(s review.Stats) {
	printStatus("Lines scanned", "%d", s.LinesScanned)
	printStatus("Rows accepted", "%d", s.RowsAccepted)
	if s.Skipped() > 0 {
		printWarning("Skipped %d lines (%d unparsable, %d invalid, %d blank)",
			s.Skipped(), s.ParseErrors, s.ValidationErrors, s.BlankLines)
	}
}

// --- train ---

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a sentiment artifact from rated reviews",
	Long: `Train a sentiment artifact from rated reviews.

Reviews rated 4 or above are labelled positive, everything else negative.

Examples:
  revsent train --data Toys_and_Games_5.json
  revsent train --max-lines 10000 --out model.json.gz --publish`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("data"); v != "" {
			cfg.Data.Path = v
		}
		if v, _ := cmd.Flags().GetInt("max-lines"); v > 0 {
			cfg.Data.MaxLines = v
		}
		if v, _ := cmd.Flags().GetString("out"); v != "" {
			cfg.Model.Path = v
		}
		publish := cfg.Model.Publish
		if cmd.Flags().Changed("publish") {
			publish, _ = cmd.Flags().GetBool("publish")
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		printStep("Training on %s", cfg.Data.Path)
		out, err := pipeline.NewRunner(store, runnerOptions(cfg)).Train(cmd.Context(), cfg.Data.Path, publish)
		if err != nil {
			return err
		}

		printLoadStats(out.Stats)
		printStatus("Train/test", "%d/%d", out.Result.TrainSize, out.Result.TestSize)
		printStatus("Vocabulary", "%d", out.Result.Vocabulary)
		fmt.Println()
		fmt.Print(out.Result.Report.String())
		fmt.Println()

		printSuccess("Saved artifact to %s (run %s)", out.ArtifactPath, out.RunID)
		if out.Published != nil {
			printSuccess("Published %s (%d bytes, sha256 %s)", out.Published.Key, out.Published.Size, out.Published.SHA256[:12])
		}
		return nil
	},
}

func init() {
	trainCmd.Flags().String("data", "", "review data file (default: data.path)")
	trainCmd.Flags().Int("max-lines", 0, "maximum input lines to scan (default: data.max_lines)")
	trainCmd.Flags().String("out", "", "artifact output path (default: model.path)")
	trainCmd.Flags().Bool("publish", false, "also store the artifact under model.key")
}

// --- summarize ---

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Score reviews and write per-product summary tables",
	Long: `Score reviews with a trained artifact and write the product summary,
top/bottom and perception-gap tables.

Examples:
  revsent summarize
  revsent summarize --key models/toy_sentiment_model --out-dir reports`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("data"); v != "" {
			cfg.Data.Path = v
		}
		if v, _ := cmd.Flags().GetString("model"); v != "" {
			cfg.Model.Path = v
		}
		if v, _ := cmd.Flags().GetString("out-dir"); v != "" {
			cfg.Output.Dir = v
		}
		key, _ := cmd.Flags().GetString("key")

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		runner := pipeline.NewRunner(store, runnerOptions(cfg))
		scorer, err := loadScorer(runner, cfg.Model.Path, key)
		if err != nil {
			return err
		}

		printStep("Scoring %s", cfg.Data.Path)
		out, err := runner.Summarize(cmd.Context(), cfg.Data.Path, scorer)
		if err != nil {
			return err
		}

		printLoadStats(out.Stats)
		printStatus("Products", "%d", len(out.Products))
		for _, f := range out.Files {
			printSuccess("Wrote %s", f)
		}
		return nil
	},
}

func init() {
	summarizeCmd.Flags().String("data", "", "review data file (default: data.path)")
	summarizeCmd.Flags().String("model", "", "artifact file (default: model.path)")
	summarizeCmd.Flags().String("key", "", "load the artifact published under this key instead of a file")
	summarizeCmd.Flags().String("out-dir", "", "directory for the summary tables (default: output.dir)")
	summarizeCmd.MarkFlagsMutuallyExclusive("model", "key")
}

// --- predict ---

var predictCmd = &cobra.Command{
	Use:   "predict <text...>",
	Short: "Score a single review text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("model"); v != "" {
			cfg.Model.Path = v
		}
		key, _ := cmd.Flags().GetString("key")

		var store pipeline.Store
		if key != "" {
			s, err := storage.Open(cfg.Storage.DataDir)
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}
			defer s.Close()
			store = s
		}

		scorer, err := loadScorer(pipeline.NewRunner(store, runnerOptions(cfg)), cfg.Model.Path, key)
		if err != nil {
			return err
		}
		pred, err := scorer.Predict(strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, pred)
	},
}

func init() {
	predictCmd.Flags().String("model", "", "artifact file (default: model.path)")
	predictCmd.Flags().String("key", "", "load the artifact published under this key instead of a file")
	predictCmd.MarkFlagsMutuallyExclusive("model", "key")
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded train and summarize runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		if kind != "" {
			q.Set("kind", kind)
		}
		resp, err := client.get(cmd.Context(), "/runs?"+q.Encode())
		if err != nil {
			return err
		}

		var runs []storage.Run
		if err := decodeJSON(resp, &runs); err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs found.")
			return nil
		}
		for _, r := range runs {
			fmt.Println(formatRun(r))
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatRun(r storage.Run) string {
	status := colorize(colorGreen, r.Status)
	if r.Status == storage.RunFailed {
		status = colorize(colorRed, r.Status)
	}
	return fmt.Sprintf("%s  %-9s  %s  %s  %d rows",
		colorize(colorCyan, shortID(r.ID)),
		r.Kind,
		r.CreatedAt.Local().Format(time.DateTime),
		status,
		r.RowsAccepted,
	)
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single run with its report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/runs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var run any
		if err := decodeJSON(resp, &run); err != nil {
			return err
		}
		return printJSON(os.Stdout, run)
	},
}

func init() {
	runsListCmd.Flags().String("kind", "", "only list runs of this kind (train or summarize)")
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Queue and inspect background jobs on the running server",
}

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue <train|summarize>",
	Short: "Queue a train or summarize job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildJobRequest(cmd, args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/jobs", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued %s job %s", req.Type, result["id"])
		return nil
	},
}

func buildJobRequest(cmd *cobra.Command, typ string) (api.JobRequest, error) {
	if !jobs.ValidType(typ) {
		return api.JobRequest{}, fmt.Errorf("job type must be one of %s", strings.Join(jobs.Types, ", "))
	}

	req := api.JobRequest{Type: typ}
	req.Payload.DataPath, _ = cmd.Flags().GetString("data")
	req.Payload.ModelPath, _ = cmd.Flags().GetString("model")
	req.Payload.ModelKey, _ = cmd.Flags().GetString("key")
	req.Payload.Publish, _ = cmd.Flags().GetBool("publish")

	if at, _ := cmd.Flags().GetString("at"); at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return api.JobRequest{}, fmt.Errorf("--at must be an RFC 3339 time: %w", err)
		}
		req.RunAfter = &t
	}
	return req, nil
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a queued job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/jobs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var job api.JobResponse
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		return printJSON(os.Stdout, job)
	},
}

func addJobFlags(cmd *cobra.Command) {
	cmd.Flags().String("data", "", "review data file (default: data.path)")
	cmd.Flags().String("model", "", "artifact file (default: model.path)")
	cmd.Flags().String("key", "", "artifact key to publish to or load from")
	cmd.Flags().Bool("publish", false, "publish the trained artifact (train jobs)")
	cmd.Flags().String("at", "", "run no earlier than this RFC 3339 time")
}

func init() {
	addJobFlags(jobsEnqueueCmd)
	jobsCmd.AddCommand(jobsEnqueueCmd)
	jobsCmd.AddCommand(jobsShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Set a configuration value",
	Args:      cobra.ExactArgs(2),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
