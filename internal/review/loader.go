package review

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Stats counts what happened to each scanned line. LinesScanned is the
// quantity bounded by the loader cap; RowsAccepted is what survived.
type Stats struct {
	LinesScanned     int `json:"lines_scanned"`
	RowsAccepted     int `json:"rows_accepted"`
	ParseErrors      int `json:"parse_errors"`
	ValidationErrors int `json:"validation_errors"`
	BlankLines       int `json:"blank_lines"`
}

// Skipped returns the number of scanned lines that produced no record.
func (s Stats) Skipped() int {
	return s.ParseErrors + s.ValidationErrors + s.BlankLines
}

// Result is the outcome of a load, records in input order.
type Result struct {
	Records []Record
	Stats   Stats
}

// MaxLineBytes bounds a single input line. Longer lines are skipped as
// parse errors without being held in memory.
const MaxLineBytes = 1 << 20

var errLineTooLong = fmt.Errorf("line longer than %d bytes", MaxLineBytes)

// Loader reads line-delimited review JSON.
type Loader struct {
	maxLines     int
	maxLineBytes int
	logger       *slog.Logger
}

// NewLoader creates a Loader that reads at most maxLines lines.
// A maxLines <= 0 reads the whole source.
func NewLoader(maxLines int) *Loader {
	return &Loader{
		maxLines:     maxLines,
		maxLineBytes: MaxLineBytes,
		logger:       slog.Default(),
	}
}

// Load reads records from r. Malformed and invalid lines are counted and
// skipped; only a read failure on r is returned as an error.
func (l *Loader) Load(r io.Reader) (Result, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var res Result

	for l.maxLines <= 0 || res.Stats.LinesScanned < l.maxLines {
		line, tooLong, readErr := readLine(br, l.maxLineBytes)
		if len(line) == 0 && !tooLong && readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return res, fmt.Errorf("reading reviews after line %d: %w", res.Stats.LinesScanned, readErr)
		}

		res.Stats.LinesScanned++
		n := res.Stats.LinesScanned
		if tooLong {
			res.Stats.ParseErrors++
			l.logger.Debug("skipping review line", "line", n, "error", &ParseError{Line: n, Err: errLineTooLong})
		} else {
			l.consume(&res, n, line)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return res, fmt.Errorf("reading reviews after line %d: %w", n, readErr)
		}
	}

	return res, nil
}

// readLine returns the next line including its newline. A line over limit
// bytes is drained and reported as tooLong with no content.
func readLine(br *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, readErr := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !errors.Is(readErr, bufio.ErrBufferFull) {
			return line, tooLong, readErr
		}
	}
}

func (l *Loader) consume(res *Result, n int, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		res.Stats.BlankLines++
		return
	}

	rec, err := parse(n, line)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			res.Stats.ParseErrors++
		} else {
			res.Stats.ValidationErrors++
		}
		l.logger.Debug("skipping review line", "line", n, "error", err)
		return
	}

	res.Records = append(res.Records, rec)
	res.Stats.RowsAccepted++
}

// LoadFile opens path and loads at most maxLines lines from it.
func LoadFile(path string, maxLines int) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("opening reviews %s: %w", path, err)
	}
	defer f.Close()

	res, err := NewLoader(maxLines).Load(f)
	if err != nil {
		return res, fmt.Errorf("loading %s: %w", path, err)
	}
	return res, nil
}
