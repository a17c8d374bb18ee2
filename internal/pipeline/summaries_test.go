package pipeline

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/revsent/internal/aggregate"
	"github.com/kalambet/revsent/internal/storage"
)

func TestSummaries_FallsBackToProductTable(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	s := Summaries{Store: store, Dir: dir}

	if _, err := s.LatestRun(storage.RunSummarize); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("LatestRun without table error = %v, want ErrNotFound", err)
	}

	products := []aggregate.Product{
		{ProductID: "A1", Title: "doll", AvgRating: 3, AvgSentiment: 0.5, ReviewCount: 2, RatingScaled: 0.6, PerceptionGap: -0.1},
		{ProductID: "B2", Title: "truck", AvgRating: 5, AvgSentiment: 0.9, ReviewCount: 1, RatingScaled: 1, PerceptionGap: -0.1},
	}
	if err := writeFile(filepath.Join(dir, ProductsFile), func(w io.Writer) error {
		return aggregate.WriteCSV(w, products)
	}); err != nil {
		t.Fatalf("writing table: %v", err)
	}

	run, err := s.LatestRun(storage.RunSummarize)
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if !strings.HasPrefix(run.ID, fileRunPrefix) || run.Status != storage.RunCompleted {
		t.Errorf("run = %+v", run)
	}

	got, err := s.ListSummaries(run.ID)
	if err != nil {
		t.Fatalf("ListSummaries: %v", err)
	}
	if len(got) != 2 || got[0] != products[0] || got[1] != products[1] {
		t.Errorf("ListSummaries = %+v", got)
	}

	one, err := s.GetSummary(run.ID, "B2")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if one != products[1] {
		t.Errorf("GetSummary = %+v, want %+v", one, products[1])
	}
	if _, err := s.GetSummary(run.ID, "ZZ"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSummary(ZZ) error = %v, want ErrNotFound", err)
	}

	if _, err := s.LatestRun(storage.RunTrain); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LatestRun(train) error = %v, want ErrNotFound", err)
	}
}

func TestSummaries_PrefersStoredRun(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ProductsFile), []byte(strings.Join(aggregate.Columns, ",")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	stored := []aggregate.Product{{ProductID: "C3", AvgRating: 4, AvgSentiment: 0.7, ReviewCount: 3, RatingScaled: 0.8, PerceptionGap: -0.1}}
	if err := store.SaveSummaryRun(storage.Run{ID: "sum-1", Kind: storage.RunSummarize}, stored); err != nil {
		t.Fatalf("SaveSummaryRun: %v", err)
	}

	s := Summaries{Store: store, Dir: dir}
	run, err := s.LatestRun(storage.RunSummarize)
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if run.ID != "sum-1" {
		t.Errorf("LatestRun = %q, want sum-1", run.ID)
	}
	got, err := s.ListSummaries(run.ID)
	if err != nil {
		t.Fatalf("ListSummaries: %v", err)
	}
	if len(got) != 1 || got[0].ProductID != "C3" {
		t.Errorf("ListSummaries = %+v", got)
	}
}

func TestSummaries_CorruptTable(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ProductsFile), []byte("not,a,summary\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := Summaries{Store: openTestStore(t), Dir: dir}

	run, err := s.LatestRun(storage.RunSummarize)
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if _, err := s.ListSummaries(run.ID); err == nil {
		t.Error("expected error for a table with the wrong header")
	}
}
