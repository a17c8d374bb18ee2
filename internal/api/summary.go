package api

import (
	"errors"
	"time"

	"github.com/kalambet/revsent/internal/aggregate"
	"github.com/kalambet/revsent/internal/ranking"
	"github.com/kalambet/revsent/internal/sentiment"
	"github.com/kalambet/revsent/internal/storage"
)

// Predictor scores a single review text.
type Predictor interface {
	Predict(text string) (sentiment.Prediction, error)
}

// SummaryReader reads persisted summary runs.
type SummaryReader interface {
	LatestRun(kind string) (storage.Run, error)
	ListSummaries(runID string) ([]aggregate.Product, error)
	GetSummary(runID, productID string) (aggregate.Product, error)
}

// modelLoaded reports whether p can serve predictions. Predictors that swap
// models at runtime expose a Loaded method.
func modelLoaded(p Predictor) bool {
	if p == nil {
		return false
	}
	if l, ok := p.(interface{ Loaded() bool }); ok {
		return l.Loaded()
	}
	return true
}

var (
	errNoModel   = errors.New("no sentiment model loaded")
	errNoSummary = errors.New("no summary run available")
)

type productsResponse struct {
	RunID     string              `json:"run_id"`
	CreatedAt time.Time           `json:"created_at"`
	Products  []aggregate.Product `json:"products"`
}

type topBottomResponse struct {
	RunID     string        `json:"run_id"`
	CreatedAt time.Time     `json:"created_at"`
	Rows      []ranking.Row `json:"rows"`
}

// latestProducts returns the newest completed summary run and its full
// precision product table.
func latestProducts(store SummaryReader) (storage.Run, []aggregate.Product, error) {
	if store == nil {
		return storage.Run{}, nil, errNoSummary
	}
	run, err := store.LatestRun(storage.RunSummarize)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Run{}, nil, errNoSummary
	}
	if err != nil {
		return storage.Run{}, nil, err
	}
	products, err := store.ListSummaries(run.ID)
	if err != nil {
		return storage.Run{}, nil, err
	}
	return run, products, nil
}

func latestProduct(store SummaryReader, productID string) (storage.Run, aggregate.Product, error) {
	if store == nil {
		return storage.Run{}, aggregate.Product{}, errNoSummary
	}
	run, err := store.LatestRun(storage.RunSummarize)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Run{}, aggregate.Product{}, errNoSummary
	}
	if err != nil {
		return storage.Run{}, aggregate.Product{}, err
	}
	p, err := store.GetSummary(run.ID, productID)
	if err != nil {
		return run, aggregate.Product{}, err
	}
	return run, p.Rounded(), nil
}

func productsView(run storage.Run, products []aggregate.Product) productsResponse {
	return productsResponse{RunID: run.ID, CreatedAt: run.CreatedAt, Products: rounded(products)}
}

func topBottomView(run storage.Run, products []aggregate.Product, n int) topBottomResponse {
	rows := ranking.TopBottom(products, n)
	for i := range rows {
		rows[i].Product = rows[i].Product.Rounded()
	}
	return topBottomResponse{RunID: run.ID, CreatedAt: run.CreatedAt, Rows: rows}
}

func issuesView(run storage.Run, products []aggregate.Product, m int) productsResponse {
	return productsView(run, ranking.ByGap(products, m))
}

func rounded(products []aggregate.Product) []aggregate.Product {
	out := make([]aggregate.Product, len(products))
	for i, p := range products {
		out[i] = p.Rounded()
	}
	return out
}
