// Package ranking selects products by sentiment and by perception gap.
// All views sort on full precision and break ties by product id.
package ranking

import (
	"math"
	"sort"

	"github.com/kalambet/revsent/internal/aggregate"
)

// Reference view sizes.
const (
	DefaultTopN = 10
	DefaultGapM = 15
)

// Bucket tags a row of the sentiment view.
type Bucket string

const (
	BucketTop    Bucket = "Top"
	BucketBottom Bucket = "Bottom"
)

// Row is a product in the top/bottom view.
type Row struct {
	aggregate.Product
	Bucket Bucket `json:"bucket"`
}

// Top returns up to n products by descending average sentiment.
func Top(products []aggregate.Product, n int) []aggregate.Product {
	return selectSorted(products, n, func(a, b aggregate.Product) bool {
		if a.AvgSentiment != b.AvgSentiment {
			return a.AvgSentiment > b.AvgSentiment
		}
		return a.ProductID < b.ProductID
	})
}

// Bottom returns up to n products by ascending average sentiment.
func Bottom(products []aggregate.Product, n int) []aggregate.Product {
	return selectSorted(products, n, func(a, b aggregate.Product) bool {
		if a.AvgSentiment != b.AvgSentiment {
			return a.AvgSentiment < b.AvgSentiment
		}
		return a.ProductID < b.ProductID
	})
}

// ByGap returns up to m products by descending absolute perception gap,
// regardless of sign.
func ByGap(products []aggregate.Product, m int) []aggregate.Product {
	return selectSorted(products, m, func(a, b aggregate.Product) bool {
		ga, gb := math.Abs(a.PerceptionGap), math.Abs(b.PerceptionGap)
		if ga != gb {
			return ga > gb
		}
		return a.ProductID < b.ProductID
	})
}

// TopBottom concatenates the Top-n and Bottom-n views. A product already
// tagged Top is left out of the Bottom bucket, so each product appears at
// most once.
func TopBottom(products []aggregate.Product, n int) []Row {
	top := Top(products, n)
	inTop := make(map[string]struct{}, len(top))
	rows := make([]Row, 0, 2*len(top))
	for _, p := range top {
		inTop[p.ProductID] = struct{}{}
		rows = append(rows, Row{Product: p, Bucket: BucketTop})
	}

	rest := make([]aggregate.Product, 0, len(products))
	for _, p := range products {
		if _, ok := inTop[p.ProductID]; !ok {
			rest = append(rest, p)
		}
	}
	for _, p := range Bottom(rest, n) {
		rows = append(rows, Row{Product: p, Bucket: BucketBottom})
	}
	return rows
}

func selectSorted(products []aggregate.Product, n int, less func(a, b aggregate.Product) bool) []aggregate.Product {
	if n <= 0 || len(products) == 0 {
		return []aggregate.Product{}
	}
	sorted := make([]aggregate.Product, len(products))
	copy(sorted, products)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
