package ranking

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/kalambet/revsent/internal/aggregate"
)

// WriteBucketsCSV writes the top/bottom view with a trailing bucket column.
func WriteBucketsCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	header := append(append([]string{}, aggregate.Columns...), "bucket")
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, r := range rows {
		rec := append(aggregate.Record(r.Product), string(r.Bucket))
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing %s: %w", r.ProductID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteIssuesCSV writes the gap view in the summary table layout.
func WriteIssuesCSV(w io.Writer, products []aggregate.Product) error {
	return aggregate.WriteCSV(w, products)
}
