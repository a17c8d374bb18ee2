// Package review turns line-delimited review JSON into validated records
// and derives the binary training label from the star rating.
package review

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// titleFallbackRunes is how much review text stands in for a missing summary.
const titleFallbackRunes = 60

// Record is one validated review. Build it with Parse.
type Record struct {
	ProductID  string  `json:"product_id" validate:"required"`
	Rating     float64 `json:"rating" validate:"gte=1,lte=5"`
	Text       string  `json:"review_text" validate:"required"`
	Title      string  `json:"title,omitempty"`
	ReviewerID string  `json:"reviewer_id,omitempty"`
	Verified   bool    `json:"verified,omitempty"`
	ReviewDate string  `json:"review_date,omitempty"`
}

// rawRecord accepts both the raw marketplace keys and the cleaned keys
// written by the upstream export step.
type rawRecord struct {
	ASIN       string          `json:"asin"`
	ProductID  string          `json:"product_id"`
	Overall    json.RawMessage `json:"overall"`
	Rating     json.RawMessage `json:"rating"`
	ReviewText string          `json:"reviewText"`
	CleanText  string          `json:"review_text"`
	Summary    string          `json:"summary"`
	Title      string          `json:"title"`
	ReviewerID string          `json:"reviewerID"`
	CleanRevID string          `json:"reviewer_id"`
	Verified   any             `json:"verified"`
	ReviewTime string          `json:"reviewTime"`
	ReviewDate string          `json:"review_date"`
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}()

// Parse parses one JSON line into a Record. It returns a *ParseError when
// the line is not a JSON object and a *ValidationError when a required
// field is missing or out of range.
func Parse(line []byte) (Record, error) {
	return parse(0, line)
}

func parse(lineNo int, line []byte) (Record, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Record{}, &ParseError{Line: lineNo, Err: errors.New("not a JSON object")}
	}

	var raw rawRecord
	if err := json.Unmarshal(line, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return Record{}, &ValidationError{Line: lineNo, Field: typeErr.Field, Reason: "has the wrong type"}
		}
		return Record{}, &ParseError{Line: lineNo, Err: err}
	}

	rating, err := parseRating(firstRaw(raw.Overall, raw.Rating))
	if err != nil {
		return Record{}, &ValidationError{Line: lineNo, Field: "rating", Reason: err.Error()}
	}

	rec := Record{
		ProductID:  strings.TrimSpace(firstNonEmpty(raw.ASIN, raw.ProductID)),
		Rating:     rating,
		Text:       CleanText(firstNonEmpty(raw.ReviewText, raw.CleanText)),
		Title:      CleanText(firstNonEmpty(raw.Summary, raw.Title)),
		ReviewerID: strings.TrimSpace(firstNonEmpty(raw.ReviewerID, raw.CleanRevID)),
		Verified:   parseBool(raw.Verified),
		ReviewDate: strings.TrimSpace(firstNonEmpty(raw.ReviewTime, raw.ReviewDate)),
	}

	if err := validate.Struct(rec); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return Record{}, &ValidationError{Line: lineNo, Field: fe.Field(), Reason: friendlyMessage(fe)}
		}
		return Record{}, &ValidationError{Line: lineNo, Field: "record", Reason: err.Error()}
	}

	if rec.Title == "" {
		rec.Title = truncateRunes(rec.Text, titleFallbackRunes)
	}
	return rec, nil
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	default:
		return "is invalid"
	}
}

// parseRating accepts a JSON number or a numeric string.
func parseRating(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errors.New("is required")
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, errors.New("is not a number")
		}
	} else {
		s = string(raw)
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("is not a number: %q", s)
	}
	return f, nil
}

func parseBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	default:
		return false
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}

func firstRaw(vals ...json.RawMessage) json.RawMessage {
	for _, v := range vals {
		v = bytes.TrimSpace(v)
		if len(v) > 0 && !bytes.Equal(v, []byte("null")) {
			return v
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
