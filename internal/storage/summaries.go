package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/kalambet/revsent/internal/aggregate"
)

const summaryColumns = `product_id, title, avg_rating, avg_sentiment, review_count, rating_scaled, perception_gap`

// SaveSummaryRun records run together with its product table, replacing any
// earlier table of the same run. Either both are stored or neither is.
func (s *Store) SaveSummaryRun(run Run, products []aggregate.Product) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning summary transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveRun(tx, run); err != nil {
		return err
	}
	if err := saveSummaries(tx, run.ID, products); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run %s: %w", run.ID, err)
	}
	return nil
}

func saveSummaries(tx *sql.Tx, runID string, products []aggregate.Product) error {
	if _, err := tx.Exec(`DELETE FROM product_summaries WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clearing summaries for %s: %w", runID, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO product_summaries (run_id, ` + summaryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing summary insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range products {
		if _, err := stmt.Exec(runID, p.ProductID, p.Title, p.AvgRating, p.AvgSentiment,
			p.ReviewCount, p.RatingScaled, p.PerceptionGap); err != nil {
			return fmt.Errorf("saving summary %s: %w", p.ProductID, err)
		}
	}
	return nil
}

// ListSummaries returns the product table of a run ordered by product id.
func (s *Store) ListSummaries(runID string) ([]aggregate.Product, error) {
	rows, err := s.db.Query(`SELECT `+summaryColumns+` FROM product_summaries
		WHERE run_id = ? ORDER BY product_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing summaries: %w", err)
	}
	defer rows.Close()

	out := []aggregate.Product{}
	for rows.Next() {
		p, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetSummary returns one product row of a run or ErrNotFound.
func (s *Store) GetSummary(runID, productID string) (aggregate.Product, error) {
	p, err := scanSummary(s.db.QueryRow(`SELECT `+summaryColumns+` FROM product_summaries
		WHERE run_id = ? AND product_id = ?`, runID, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return aggregate.Product{}, ErrNotFound
	}
	return p, err
}

func scanSummary(row rowScanner) (aggregate.Product, error) {
	var p aggregate.Product
	err := row.Scan(&p.ProductID, &p.Title, &p.AvgRating, &p.AvgSentiment,
		&p.ReviewCount, &p.RatingScaled, &p.PerceptionGap)
	return p, err
}
