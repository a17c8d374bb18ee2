// Package trainer fits a scoring artifact from labelled reviews and
// evaluates it on a stratified held-out split.
package trainer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/revsent/internal/classifier"
	"github.com/kalambet/revsent/internal/features"
	"github.com/kalambet/revsent/internal/model"
	"github.com/kalambet/revsent/internal/review"
	"github.com/kalambet/revsent/internal/sentiment"
)

// ErrTrainingData matches any *TrainingDataError.
var ErrTrainingData = errors.New("unusable training data")

// TrainingDataError reports a training set that cannot produce a
// meaningful classifier.
type TrainingDataError struct {
	Rows      int
	Positives int
	Reason    string
}

func (e *TrainingDataError) Error() string {
	return fmt.Sprintf("%v: %s (%d rows, %d positive)", ErrTrainingData, e.Reason, e.Rows, e.Positives)
}

func (e *TrainingDataError) Unwrap() error { return ErrTrainingData }

// Options configures a training run. Zero fields take defaults.
type Options struct {
	TestRatio   float64
	Seed        uint64
	MaxFeatures int
	MaxIter     int
	C           float64
}

// DefaultOptions returns the reference configuration: 80/20 split with
// seed 42, 20000 features, 1000 iterations, C = 1.
func DefaultOptions() Options {
	return Options{
		TestRatio:   0.2,
		Seed:        42,
		MaxFeatures: features.DefaultMaxFeatures,
		MaxIter:     classifier.DefaultMaxIter,
		C:           classifier.DefaultC,
	}
}

// Result is the outcome of a successful training run.
type Result struct {
	Artifact   *model.Artifact
	Report     Report
	Fit        classifier.FitInfo
	TrainSize  int
	TestSize   int
	Vocabulary int
}

// Trainer fits artifacts.
type Trainer struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Trainer. Out-of-range options fall back to defaults.
func New(opts Options) *Trainer {
	def := DefaultOptions()
	if opts.TestRatio <= 0 || opts.TestRatio >= 1 {
		opts.TestRatio = def.TestRatio
	}
	if opts.MaxFeatures <= 0 {
		opts.MaxFeatures = def.MaxFeatures
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = def.MaxIter
	}
	if opts.C <= 0 {
		opts.C = def.C
	}
	return &Trainer{opts: opts, logger: slog.Default()}
}

// Train is New(opts).Train(rows).
func Train(rows []review.Labeled, opts Options) (*Result, error) {
	return New(opts).Train(rows)
}

// Train splits rows, fits the vectorizer and classifier on the training
// part only, and evaluates on the held-out part.
func (t *Trainer) Train(rows []review.Labeled) (*Result, error) {
	if err := checkRows(rows); err != nil {
		return nil, err
	}

	labels := make([]int, len(rows))
	for i, r := range rows {
		labels[i] = r.Label
	}
	trainIdx, testIdx := StratifiedSplit(labels, t.opts.TestRatio, t.opts.Seed)

	trainTexts, trainLabels := pick(rows, trainIdx)
	testTexts, testLabels := pick(rows, testIdx)

	vec := features.NewVectorizer(t.opts.MaxFeatures, features.DefaultMaxNGram)
	if err := vec.Fit(trainTexts); err != nil {
		return nil, &TrainingDataError{Rows: len(rows), Positives: countPositive(labels), Reason: err.Error()}
	}

	clf, info, err := classifier.Fit(vec.TransformAll(trainTexts), trainLabels, vec.Dim(), classifier.Options{
		C:       t.opts.C,
		MaxIter: t.opts.MaxIter,
	})
	if err != nil {
		return nil, fmt.Errorf("training classifier: %w", err)
	}
	if !info.Converged {
		t.logger.Warn("classifier did not converge, keeping best-effort model",
			"iterations", info.Iterations, "loss", info.Loss)
	}

	artifact, err := model.New(vec, clf)
	if err != nil {
		return nil, err
	}

	preds := make([]int, len(testTexts))
	for i, text := range testTexts {
		preds[i] = sentiment.PredictLabel(artifact.Probability(text))
	}

	t.logger.Info("training complete",
		"train_rows", len(trainIdx),
		"test_rows", len(testIdx),
		"features", vec.Dim(),
		"iterations", info.Iterations,
	)

	return &Result{
		Artifact:   artifact,
		Report:     Evaluate(testLabels, preds),
		Fit:        info,
		TrainSize:  len(trainIdx),
		TestSize:   len(testIdx),
		Vocabulary: vec.Dim(),
	}, nil
}

func checkRows(rows []review.Labeled) error {
	positives := 0
	for _, r := range rows {
		if r.Label != 0 && r.Label != 1 {
			return &TrainingDataError{Rows: len(rows), Reason: fmt.Sprintf("label %d is not binary", r.Label)}
		}
		positives += r.Label
	}
	switch {
	case len(rows) == 0:
		return &TrainingDataError{Reason: "no rows"}
	case positives == 0 || positives == len(rows):
		return &TrainingDataError{Rows: len(rows), Positives: positives, Reason: "only one class present"}
	}
	return nil
}

func pick(rows []review.Labeled, idx []int) ([]string, []int) {
	texts := make([]string, len(idx))
	labels := make([]int, len(idx))
	for k, i := range idx {
		texts[k] = rows[i].Text
		labels[k] = rows[i].Label
	}
	return texts, labels
}

func countPositive(labels []int) int {
	n := 0
	for _, l := range labels {
		n += l
	}
	return n
}
