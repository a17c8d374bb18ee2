// Package aggregate folds scored reviews into per-product summaries and
// reads and writes the product summary table.
package aggregate

import (
	"math"
	"sort"

	"github.com/kalambet/revsent/internal/review"
)

// Precision is the number of decimals kept in emitted tables.
const Precision = 3

// Product summarises every scored review of one product.
// PerceptionGap is AvgSentiment - RatingScaled: positive means the text
// reads more positive than the stars suggest.
type Product struct {
	ProductID     string  `json:"product_id"`
	Title         string  `json:"title"`
	AvgRating     float64 `json:"avg_rating"`
	AvgSentiment  float64 `json:"avg_sentiment"`
	ReviewCount   int     `json:"review_count"`
	RatingScaled  float64 `json:"rating_scaled"`
	PerceptionGap float64 `json:"perception_gap"`
}

// Rounded returns a copy with every float rounded for presentation.
func (p Product) Rounded() Product {
	p.AvgRating = Round(p.AvgRating)
	p.AvgSentiment = Round(p.AvgSentiment)
	p.RatingScaled = Round(p.RatingScaled)
	p.PerceptionGap = Round(p.PerceptionGap)
	return p
}

// Round rounds v half away from zero to Precision decimals.
func Round(v float64) float64 {
	const scale = 1e3
	return math.Round(v*scale) / scale
}

type accumulator struct {
	title     string
	ratingSum float64
	scoreSum  float64
	count     int
}

// Aggregate groups scored reviews by product. The title is the first
// non-empty title seen in input order. Output is sorted by product id and
// keeps full precision.
func Aggregate(scored []review.Scored) []Product {
	groups := make(map[string]*accumulator)
	for _, s := range scored {
		acc, ok := groups[s.ProductID]
		if !ok {
			acc = &accumulator{}
			groups[s.ProductID] = acc
		}
		if acc.title == "" {
			acc.title = s.Title
		}
		acc.ratingSum += s.Rating
		acc.scoreSum += s.SentimentScore
		acc.count++
	}

	out := make([]Product, 0, len(groups))
	for id, acc := range groups {
		n := float64(acc.count)
		p := Product{
			ProductID:    id,
			Title:        acc.title,
			AvgRating:    acc.ratingSum / n,
			AvgSentiment: acc.scoreSum / n,
			ReviewCount:  acc.count,
		}
		p.RatingScaled = p.AvgRating / 5
		p.PerceptionGap = p.AvgSentiment - p.RatingScaled
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
