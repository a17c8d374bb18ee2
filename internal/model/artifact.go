// Package model holds the scoring artifact: a fitted vectorizer and
// classifier persisted together as one gzip-compressed JSON document.
package model

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kalambet/revsent/internal/classifier"
	"github.com/kalambet/revsent/internal/features"
)

// ErrArtifact matches any *ArtifactError.
var ErrArtifact = errors.New("scoring artifact unavailable")

// ArtifactError reports a missing or corrupt artifact. Source is the path
// or store key it was read from.
type ArtifactError struct {
	Source string
	Err    error
}

func (e *ArtifactError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%v: %v", ErrArtifact, e.Err)
	}
	return fmt.Sprintf("%v (%s): %v", ErrArtifact, e.Source, e.Err)
}

func (e *ArtifactError) Unwrap() []error { return []error{ErrArtifact, e.Err} }

// Artifact pairs a fitted vectorizer with the classifier trained on its
// output. It is never mutated after construction.
type Artifact struct {
	Vectorizer *features.Vectorizer `json:"vectorizer"`
	Classifier *classifier.Model    `json:"classifier"`
}

// New bundles a fitted vectorizer and classifier, checking they agree.
func New(v *features.Vectorizer, c *classifier.Model) (*Artifact, error) {
	a := &Artifact{Vectorizer: v, Classifier: c}
	if err := a.Validate(); err != nil {
		return nil, &ArtifactError{Err: err}
	}
	return a, nil
}

// Validate checks the artifact is complete and dimensionally consistent.
func (a *Artifact) Validate() error {
	switch {
	case a == nil:
		return errors.New("artifact is nil")
	case !a.Vectorizer.Fitted():
		return errors.New("vectorizer is missing or unfitted")
	case a.Classifier == nil:
		return errors.New("classifier is missing")
	case len(a.Classifier.Weights) != a.Vectorizer.Dim():
		return fmt.Errorf("classifier has %d weights for %d features", len(a.Classifier.Weights), a.Vectorizer.Dim())
	}
	return nil
}

// Probability returns the positive-class probability for text.
func (a *Artifact) Probability(text string) float64 {
	return a.Classifier.Probability(a.Vectorizer.Transform(text))
}

// Encode serialises a. The output is deterministic for a given artifact.
func Encode(a *Artifact) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, &ArtifactError{Err: err}
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(a); err != nil {
		return nil, fmt.Errorf("encoding artifact: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("flushing artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses bytes produced by Encode. source names where the bytes
// came from and is only used in errors.
func Decode(data []byte, source string) (*Artifact, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ArtifactError{Source: source, Err: fmt.Errorf("not a gzip stream: %w", err)}
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, &ArtifactError{Source: source, Err: fmt.Errorf("decompressing: %w", err)}
	}

	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, &ArtifactError{Source: source, Err: fmt.Errorf("decoding: %w", err)}
	}
	if err := a.Validate(); err != nil {
		return nil, &ArtifactError{Source: source, Err: err}
	}
	return &a, nil
}

// Save writes a to path atomically.
func Save(path string, a *Artifact) error {
	data, err := Encode(a)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating artifact directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing artifact: %w", err)
	}
	return nil
}

// Load reads the artifact at path.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ArtifactError{Source: path, Err: err}
	}
	return Decode(data, path)
}
