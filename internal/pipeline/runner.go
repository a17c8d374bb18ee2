// Package pipeline wires the batch stages together: load, label and train
// into an artifact, or load, score, aggregate and rank into summary tables.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/revsent/internal/aggregate"
	"github.com/kalambet/revsent/internal/model"
	"github.com/kalambet/revsent/internal/ranking"
	"github.com/kalambet/revsent/internal/review"
	"github.com/kalambet/revsent/internal/sentiment"
	"github.com/kalambet/revsent/internal/storage"
	"github.com/kalambet/revsent/internal/trainer"
)

// Summary table file names written to the output directory.
const (
	ProductsFile  = "dashboard_stats.csv"
	TopBottomFile = "summary_top_bottom.csv"
	IssuesFile    = "summary_issues.csv"
)

// Store persists runs, summaries and published artifacts.
type Store interface {
	SaveRun(r storage.Run) error
	SaveSummaryRun(r storage.Run, products []aggregate.Product) error
	PutArtifact(key string, data []byte, runID string) (storage.ArtifactInfo, error)
	GetArtifact(key string) ([]byte, storage.ArtifactInfo, error)
}

// Options configures a Runner.
type Options struct {
	MaxLines  int
	Train     trainer.Options
	TopN      int
	GapM      int
	Workers   int
	OutputDir string
	ModelPath string
	ModelKey  string
}

// TrainOutcome describes a finished training run.
type TrainOutcome struct {
	RunID        string
	Stats        review.Stats
	Result       *trainer.Result
	ArtifactPath string
	Published    *storage.ArtifactInfo
}

// SummaryOutcome describes a finished summary run.
type SummaryOutcome struct {
	RunID     string
	Stats     review.Stats
	Products  []aggregate.Product
	TopBottom []ranking.Row
	Issues    []aggregate.Product
	Files     []string
}

// Runner executes batch runs. A nil store disables persistence and publishing.
type Runner struct {
	store  Store
	opts   Options
	logger *slog.Logger
}

// NewRunner creates a Runner. Non-positive sizes fall back to the reference
// defaults.
func NewRunner(store Store, opts Options) *Runner {
	if opts.TopN <= 0 {
		opts.TopN = ranking.DefaultTopN
	}
	if opts.GapM <= 0 {
		opts.GapM = ranking.DefaultGapM
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	return &Runner{store: store, opts: opts, logger: slog.Default()}
}

// Train loads dataPath, derives labels, fits an artifact and saves it to the
// configured model path. With publish set the artifact is also stored under
// the configured model key.
func (r *Runner) Train(ctx context.Context, dataPath string, publish bool) (*TrainOutcome, error) {
	run := storage.Run{ID: uuid.New().String(), Kind: storage.RunTrain, CreatedAt: time.Now(), Source: dataPath}

	out, err := r.train(ctx, &run, dataPath, publish)
	if err != nil {
		r.recordFailure(run, err)
		return nil, err
	}
	if err := r.saveRun(run); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runner) train(ctx context.Context, run *storage.Run, dataPath string, publish bool) (*TrainOutcome, error) {
	loaded, err := r.load(run, dataPath)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := trainer.New(r.opts.Train).Train(review.LabelRecords(loaded.Records))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report, err := json.Marshal(res.Report)
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}
	run.ReportJSON = string(report)

	out := &TrainOutcome{RunID: run.ID, Stats: loaded.Stats, Result: res}
	if r.opts.ModelPath != "" {
		if err := model.Save(r.opts.ModelPath, res.Artifact); err != nil {
			return nil, err
		}
		out.ArtifactPath = r.opts.ModelPath
	}

	if publish {
		if r.store == nil || r.opts.ModelKey == "" {
			return nil, errors.New("publishing artifact: no store or model key configured")
		}
		data, err := model.Encode(res.Artifact)
		if err != nil {
			return nil, err
		}
		info, err := r.store.PutArtifact(r.opts.ModelKey, data, run.ID)
		if err != nil {
			return nil, fmt.Errorf("publishing artifact: %w", err)
		}
		run.ArtifactKey = info.Key
		out.Published = &info
		r.logger.Info("artifact published", "key", info.Key, "size", info.Size, "run_id", run.ID)
	}
	return out, nil
}

// Summarize loads dataPath, scores every record with scorer and writes the
// product, top/bottom and issue tables. The run is recorded as completed only
// once its product rows are stored; otherwise it is recorded as failed.
func (r *Runner) Summarize(ctx context.Context, dataPath string, scorer *sentiment.Scorer) (*SummaryOutcome, error) {
	run := storage.Run{ID: uuid.New().String(), Kind: storage.RunSummarize, CreatedAt: time.Now(), Source: dataPath}

	out, err := r.summarize(ctx, &run, dataPath, scorer)
	if err != nil {
		r.recordFailure(run, err)
		return nil, err
	}
	if r.store != nil {
		if err := r.store.SaveSummaryRun(run, out.Products); err != nil {
			err = fmt.Errorf("saving summaries: %w", err)
			r.recordFailure(run, err)
			return nil, err
		}
	}
	return out, nil
}

func (r *Runner) summarize(ctx context.Context, run *storage.Run, dataPath string, scorer *sentiment.Scorer) (*SummaryOutcome, error) {
	if scorer == nil {
		return nil, errors.New("summarize: no scorer")
	}
	loaded, err := r.load(run, dataPath)
	if err != nil {
		return nil, err
	}

	scored, err := scorer.ScoreRecords(ctx, loaded.Records, r.opts.Workers)
	if err != nil {
		return nil, err
	}

	products := aggregate.Aggregate(scored)
	out := &SummaryOutcome{
		RunID:     run.ID,
		Stats:     loaded.Stats,
		Products:  products,
		TopBottom: ranking.TopBottom(products, r.opts.TopN),
		Issues:    ranking.ByGap(products, r.opts.GapM),
	}

	writers := []struct {
		name  string
		write func(io.Writer) error
	}{
		{ProductsFile, func(w io.Writer) error { return aggregate.WriteCSV(w, out.Products) }},
		{TopBottomFile, func(w io.Writer) error { return ranking.WriteBucketsCSV(w, out.TopBottom) }},
		{IssuesFile, func(w io.Writer) error { return ranking.WriteIssuesCSV(w, out.Issues) }},
	}
	for _, wr := range writers {
		path := filepath.Join(r.opts.OutputDir, wr.name)
		if err := writeFile(path, wr.write); err != nil {
			return nil, err
		}
		out.Files = append(out.Files, path)
	}

	r.logger.Info("summary complete",
		"run_id", run.ID,
		"products", len(products),
		"reviews", len(scored),
	)
	return out, nil
}

// LoadArtifact reads the artifact stored under key when key is set and a
// store is available, otherwise the file at path.
func (r *Runner) LoadArtifact(path, key string) (*model.Artifact, error) {
	if key == "" {
		return model.Load(path)
	}
	if r.store == nil {
		return nil, &model.ArtifactError{Source: key, Err: errors.New("no artifact store configured")}
	}
	data, _, err := r.store.GetArtifact(key)
	if err != nil {
		return nil, &model.ArtifactError{Source: key, Err: err}
	}
	return model.Decode(data, key)
}

func (r *Runner) load(run *storage.Run, dataPath string) (review.Result, error) {
	loaded, err := review.LoadFile(dataPath, r.opts.MaxLines)
	if err != nil {
		return review.Result{}, err
	}
	run.LinesScanned = loaded.Stats.LinesScanned
	run.RowsAccepted = loaded.Stats.RowsAccepted
	run.ParseErrors = loaded.Stats.ParseErrors
	run.ValidationErrors = loaded.Stats.ValidationErrors

	r.logger.Info("reviews loaded",
		"source", dataPath,
		"accepted", loaded.Stats.RowsAccepted,
		"skipped", loaded.Stats.Skipped(),
	)
	return loaded, nil
}

func (r *Runner) saveRun(run storage.Run) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveRun(run); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

func (r *Runner) recordFailure(run storage.Run, cause error) {
	run.Status = storage.RunFailed
	run.Error = cause.Error()
	if err := r.saveRun(run); err != nil {
		r.logger.Warn("could not record failed run", "run_id", run.ID, "error", err)
	}
}

func writeFile(path string, write func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
