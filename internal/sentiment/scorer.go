// Package sentiment scores review text with an explicitly supplied
// artifact.
package sentiment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/revsent/internal/model"
	"github.com/kalambet/revsent/internal/review"
)

// Threshold is the probability at or above which a text is labelled positive.
const Threshold = 0.5

// ErrInvalidInput matches any *InputError.
var ErrInvalidInput = errors.New("invalid input")

// InputError rejects an empty or whitespace-only text. Index is its
// position in the batch.
type InputError struct {
	Index int
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%v: text %d is empty", ErrInvalidInput, e.Index)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// Prediction is the response shape for a single text.
type Prediction struct {
	InputText           string  `json:"input_text"`
	PositiveProbability float64 `json:"positive_probability"`
	PredictedLabel      int     `json:"predicted_label"`
}

// Scorer applies one artifact. It holds no mutable state and is safe for
// concurrent use.
type Scorer struct {
	artifact *model.Artifact
}

// NewScorer wraps a loaded artifact.
func NewScorer(a *model.Artifact) (*Scorer, error) {
	if err := a.Validate(); err != nil {
		return nil, &model.ArtifactError{Err: err}
	}
	return &Scorer{artifact: a}, nil
}

// PredictLabel thresholds a probability.
func PredictLabel(p float64) int {
	if p >= Threshold {
		return 1
	}
	return 0
}

// Score returns one probability per text, in order. Texts are normalised
// with review.CleanText, as the training data was. The call is all or
// nothing: any text that is empty after cleaning fails it before anything is
// scored, and the error names the first such index.
func (s *Scorer) Score(texts []string) ([]float64, error) {
	cleaned := cleanAll(texts)
	if err := checkTexts(cleaned); err != nil {
		return nil, err
	}
	out := make([]float64, len(cleaned))
	for i, t := range cleaned {
		out[i] = s.artifact.Probability(t)
	}
	return out, nil
}

// ScoreBatch is Score spread over at most workers goroutines.
func (s *Scorer) ScoreBatch(ctx context.Context, texts []string, workers int) ([]float64, error) {
	return s.scoreBatch(ctx, cleanAll(texts), workers)
}

func (s *Scorer) scoreBatch(ctx context.Context, texts []string, workers int) ([]float64, error) {
	if err := checkTexts(texts); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return []float64{}, nil
	}
	if workers <= 0 {
		workers = 4
	}

	out := make([]float64, len(texts))
	chunk := (len(texts) + workers - 1) / workers
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for start := 0; start < len(texts); start += chunk {
		end := min(start+chunk, len(texts))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gCtx.Err(); err != nil {
					return err
				}
				out[i] = s.artifact.Probability(texts[i])
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Predict scores a single text. InputText echoes text as given.
func (s *Scorer) Predict(text string) (Prediction, error) {
	cleaned := review.CleanText(text)
	if cleaned == "" {
		return Prediction{}, &InputError{Index: 0}
	}
	p := s.artifact.Probability(cleaned)
	return Prediction{
		InputText:           text,
		PositiveProbability: p,
		PredictedLabel:      PredictLabel(p),
	}, nil
}

// ScoreRecords attaches a sentiment score to each record. Record text is
// already clean, so it is scored as is.
func (s *Scorer) ScoreRecords(ctx context.Context, records []review.Record, workers int) ([]review.Scored, error) {
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	probs, err := s.scoreBatch(ctx, texts, workers)
	if err != nil {
		return nil, fmt.Errorf("scoring records: %w", err)
	}

	scored := make([]review.Scored, len(records))
	for i, r := range records {
		scored[i] = review.Scored{Record: r, SentimentScore: probs[i]}
	}
	return scored, nil
}

func cleanAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = review.CleanText(t)
	}
	return out
}

func checkTexts(texts []string) error {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return &InputError{Index: i}
		}
	}
	return nil
}
