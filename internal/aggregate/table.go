package aggregate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Columns is the header of the product summary table.
var Columns = []string{
	"product_id", "title", "avg_rating", "avg_sentiment",
	"review_count", "rating_scaled", "perception_gap",
}

// Record renders p (rounded) as a table row in Columns order.
func Record(p Product) []string {
	r := p.Rounded()
	return []string{
		r.ProductID,
		r.Title,
		formatFloat(r.AvgRating),
		formatFloat(r.AvgSentiment),
		strconv.Itoa(r.ReviewCount),
		formatFloat(r.RatingScaled),
		formatFloat(r.PerceptionGap),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCSV writes the product summary table with a header row.
func WriteCSV(w io.Writer, products []Product) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, p := range products {
		if err := cw.Write(Record(p)); err != nil {
			return fmt.Errorf("writing %s: %w", p.ProductID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a table written by WriteCSV. Extra trailing columns are
// ignored.
func ReadCSV(r io.Reader) ([]Product, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("reading summary table: empty input")
		}
		return nil, fmt.Errorf("reading summary header: %w", err)
	}
	if len(header) < len(Columns) {
		return nil, fmt.Errorf("summary header has %d columns, want at least %d", len(header), len(Columns))
	}
	for i, c := range Columns {
		if header[i] != c {
			return nil, fmt.Errorf("summary column %d is %q, want %q", i, header[i], c)
		}
	}

	var out []Product
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading summary row %d: %w", line, err)
		}
		p, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("summary row %d: %w", line, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// parseRecord is the inverse of Record.
func parseRecord(rec []string) (Product, error) {
	if len(rec) < len(Columns) {
		return Product{}, fmt.Errorf("row has %d fields, want %d", len(rec), len(Columns))
	}
	var p Product
	var err error
	p.ProductID, p.Title = rec[0], rec[1]
	floats := []*float64{&p.AvgRating, &p.AvgSentiment, nil, &p.RatingScaled, &p.PerceptionGap}
	for i, dst := range floats {
		col := i + 2
		if dst == nil {
			if p.ReviewCount, err = strconv.Atoi(rec[col]); err != nil {
				return Product{}, fmt.Errorf("%s: %w", Columns[col], err)
			}
			continue
		}
		if *dst, err = strconv.ParseFloat(rec[col], 64); err != nil {
			return Product{}, fmt.Errorf("%s: %w", Columns[col], err)
		}
	}
	return p, nil
}
