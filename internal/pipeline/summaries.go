package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/revsent/internal/aggregate"
	"github.com/kalambet/revsent/internal/storage"
)

// fileRunPrefix marks run ids that refer to a product table on disk.
const fileRunPrefix = "file:"

// SummaryStore reads summary runs persisted by Summarize.
type SummaryStore interface {
	LatestRun(kind string) (storage.Run, error)
	ListSummaries(runID string) ([]aggregate.Product, error)
	GetSummary(runID, productID string) (aggregate.Product, error)
}

// Summaries serves summary runs from a store and falls back to the product
// table in Dir when the store has no completed summary run, for example
// after tables were copied in from another machine.
type Summaries struct {
	Store SummaryStore
	Dir   string
}

// LatestRun returns the newest completed run from the store, or a run
// describing Dir's product table when the store has none.
func (s Summaries) LatestRun(kind string) (storage.Run, error) {
	run, err := s.Store.LatestRun(kind)
	if !errors.Is(err, storage.ErrNotFound) || kind != storage.RunSummarize {
		return run, err
	}

	path := filepath.Join(s.Dir, ProductsFile)
	info, statErr := os.Stat(path)
	if statErr != nil {
		return storage.Run{}, err
	}
	return storage.Run{
		ID:        fileRunPrefix + path,
		Kind:      storage.RunSummarize,
		CreatedAt: info.ModTime(),
		Source:    path,
		Status:    storage.RunCompleted,
	}, nil
}

func (s Summaries) ListSummaries(runID string) ([]aggregate.Product, error) {
	path, ok := strings.CutPrefix(runID, fileRunPrefix)
	if !ok {
		return s.Store.ListSummaries(runID)
	}
	return readProductsFile(path)
}

func (s Summaries) GetSummary(runID, productID string) (aggregate.Product, error) {
	path, ok := strings.CutPrefix(runID, fileRunPrefix)
	if !ok {
		return s.Store.GetSummary(runID, productID)
	}
	products, err := readProductsFile(path)
	if err != nil {
		return aggregate.Product{}, err
	}
	for _, p := range products {
		if p.ProductID == productID {
			return p, nil
		}
	}
	return aggregate.Product{}, storage.ErrNotFound
}

func readProductsFile(path string) ([]aggregate.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening product table: %w", err)
	}
	defer f.Close()

	products, err := aggregate.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if products == nil {
		products = []aggregate.Product{}
	}
	return products, nil
}
