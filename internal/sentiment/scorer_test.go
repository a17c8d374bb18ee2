package sentiment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kalambet/revsent/internal/classifier"
	"github.com/kalambet/revsent/internal/features"
	"github.com/kalambet/revsent/internal/model"
	"github.com/kalambet/revsent/internal/review"
)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	v, err := features.FromVocabulary([]string{"broke", "great"}, []float64{1, 1}, 2)
	if err != nil {
		t.Fatal(err)
	}
	a, err := model.New(v, &classifier.Model{Weights: []float64{-3, 3}})
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewScorer(a)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	return s
}

func TestScore_OrderAndBounds(t *testing.T) {
	s := newTestScorer(t)
	texts := []string{"great toy", "broke fast", "no signal here"}

	probs, err := s.Score(texts)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(probs) != len(texts) {
		t.Fatalf("len = %d, want %d", len(probs), len(texts))
	}
	for i, p := range probs {
		if p < 0 || p > 1 {
			t.Errorf("probs[%d] = %v, want within [0,1]", i, p)
		}
	}
	if probs[0] <= 0.9 {
		t.Errorf("great toy = %v, want > 0.9", probs[0])
	}
	if probs[1] >= 0.1 {
		t.Errorf("broke fast = %v, want < 0.1", probs[1])
	}
	if probs[2] != 0.5 {
		t.Errorf("unknown words = %v, want exactly 0.5 with zero intercept", probs[2])
	}
}

func TestScore_RejectsEmptyText(t *testing.T) {
	s := newTestScorer(t)
	_, err := s.Score([]string{"great", "   "})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
	var ie *InputError
	if !errors.As(err, &ie) || ie.Index != 1 {
		t.Errorf("InputError = %+v, want index 1", ie)
	}
}

func TestPredict_LabelMatchesThreshold(t *testing.T) {
	s := newTestScorer(t)
	for _, text := range []string{"great", "broke", "great broke", "nothing known"} {
		p, err := s.Predict(text)
		if err != nil {
			t.Fatalf("Predict(%q): %v", text, err)
		}
		want := 0
		if p.PositiveProbability >= Threshold {
			want = 1
		}
		if p.PredictedLabel != want {
			t.Errorf("Predict(%q) label = %d with p=%v, want %d", text, p.PredictedLabel, p.PositiveProbability, want)
		}
		if p.InputText != text {
			t.Errorf("InputText = %q, want %q", p.InputText, text)
		}
	}

	if _, err := s.Predict(""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Predict(\"\") error = %v, want ErrInvalidInput", err)
	}
}

func TestPredictLabel_Boundary(t *testing.T) {
	if PredictLabel(0.5) != 1 {
		t.Error("PredictLabel(0.5) != 1")
	}
	if PredictLabel(0.4999999) != 0 {
		t.Error("PredictLabel(0.4999999) != 0")
	}
}

func TestScoreBatch_MatchesScore(t *testing.T) {
	s := newTestScorer(t)
	texts := make([]string, 0, 37)
	for i := 0; i < 37; i++ {
		if i%3 == 0 {
			texts = append(texts, "broke again")
		} else {
			texts = append(texts, "great value")
		}
	}

	want, err := s.Score(texts)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.ScoreBatch(context.Background(), texts, 4)
	if err != nil {
		t.Fatalf("ScoreBatch: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ScoreBatch[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestScoreBatch_Cancelled(t *testing.T) {
	s := newTestScorer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.ScoreBatch(ctx, []string{"great", "broke"}, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestScoreRecords(t *testing.T) {
	s := newTestScorer(t)
	records := []review.Record{
		{ProductID: "A1", Rating: 5, Text: "great toy"},
		{ProductID: "A1", Rating: 1, Text: "broke fast"},
	}
	scored, err := s.ScoreRecords(context.Background(), records, 2)
	if err != nil {
		t.Fatalf("ScoreRecords: %v", err)
	}
	if len(scored) != 2 || scored[0].ProductID != "A1" {
		t.Fatalf("scored = %+v", scored)
	}
	if scored[0].SentimentScore <= scored[1].SentimentScore {
		t.Errorf("scores = %v, %v; want first higher", scored[0].SentimentScore, scored[1].SentimentScore)
	}
}

func TestNewScorer_NilArtifact(t *testing.T) {
	if _, err := NewScorer(nil); !errors.Is(err, model.ErrArtifact) {
		t.Errorf("error = %v, want ErrArtifact", err)
	}
}

func TestPredict_CleansLikeTraining(t *testing.T) {
	v, err := features.FromVocabulary([]string{"amp", "great"}, []float64{1, 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	a, err := model.New(v, &classifier.Model{Weights: []float64{-3, 3}})
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewScorer(a)
	if err != nil {
		t.Fatal(err)
	}

	raw := "great &amp; fun<br/>"
	rec, err := review.Parse([]byte(`{"asin":"A","overall":5,"reviewText":"` + raw + `"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	scored, err := s.ScoreRecords(context.Background(), []review.Record{rec}, 1)
	if err != nil {
		t.Fatalf("ScoreRecords: %v", err)
	}

	p, err := s.Predict(raw)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if p.PositiveProbability != scored[0].SentimentScore {
		t.Errorf("Predict = %v, loaded record scored %v", p.PositiveProbability, scored[0].SentimentScore)
	}
	if p.PositiveProbability <= 0.9 {
		t.Errorf("Predict = %v, want > 0.9 once the entity is decoded", p.PositiveProbability)
	}
	if p.InputText != raw {
		t.Errorf("InputText = %q, want %q", p.InputText, raw)
	}

	probs, err := s.Score([]string{raw})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if probs[0] != p.PositiveProbability {
		t.Errorf("Score = %v, Predict = %v", probs[0], p.PositiveProbability)
	}

	if _, err := s.Predict("<br/><p></p>"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("markup-only text error = %v, want ErrInvalidInput", err)
	}
}

func TestScore_RejectedCallLeavesOthersAlone(t *testing.T) {
	s := newTestScorer(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	probs := make([][]float64, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			texts := []string{"great toy", "broke fast"}
			if i%2 == 0 {
				texts = append(texts, " ")
			}
			probs[i], errs[i] = s.ScoreBatch(context.Background(), texts, 2)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if i%2 == 0 {
			var ie *InputError
			if !errors.As(err, &ie) || ie.Index != 2 {
				t.Errorf("call %d error = %v, want InputError at index 2", i, err)
			}
			if probs[i] != nil {
				t.Errorf("call %d returned scores alongside an error", i)
			}
			continue
		}
		if err != nil {
			t.Errorf("call %d: %v", i, err)
		}
		if len(probs[i]) != 2 || probs[i][0] <= probs[i][1] {
			t.Errorf("call %d probs = %v", i, probs[i])
		}
	}
}
