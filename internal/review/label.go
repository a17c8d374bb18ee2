package review

// PositiveThreshold is the lowest star rating labelled positive.
const PositiveThreshold = 4.0

// Labeled is a supervised training row.
type Labeled struct {
	Text  string
	Label int
}

// Scored is a record with its positive-class probability.
type Scored struct {
	Record
	SentimentScore float64
}

// Label maps a star rating to 1 (positive) or 0 (not positive).
func Label(rating float64) int {
	if rating >= PositiveThreshold {
		return 1
	}
	return 0
}

// LabelRecords derives training rows from records. Ratings outside [1,5]
// are invalid input and are left out rather than labelled 0.
func LabelRecords(records []Record) []Labeled {
	rows := make([]Labeled, 0, len(records))
	for _, r := range records {
		if r.Rating < 1 || r.Rating > 5 {
			continue
		}
		rows = append(rows, Labeled{Text: r.Text, Label: Label(r.Rating)})
	}
	return rows
}
