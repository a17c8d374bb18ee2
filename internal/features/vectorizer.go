package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Defaults used when a zero value is passed to NewVectorizer.
const (
	DefaultMaxFeatures = 20000
	DefaultMaxNGram    = 2
)

// Vector is a sparse row. Indices are ascending.
type Vector struct {
	Indices []int
	Values  []float64
}

// Dot returns the inner product of v with a dense weight vector.
func (v Vector) Dot(w []float64) float64 {
	var sum float64
	for k, i := range v.Indices {
		sum += v.Values[k] * w[i]
	}
	return sum
}

// Vectorizer maps text to L2-normalised TF-IDF vectors. A fitted
// Vectorizer is read-only and safe for concurrent Transform calls.
type Vectorizer struct {
	maxFeatures int
	maxNGram    int
	vocabulary  []string
	idf         []float64
	index       map[string]int
}

// NewVectorizer returns an unfitted Vectorizer capped at maxFeatures terms
// with n-grams up to maxNGram.
func NewVectorizer(maxFeatures, maxNGram int) *Vectorizer {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}
	if maxNGram <= 0 {
		maxNGram = DefaultMaxNGram
	}
	return &Vectorizer{maxFeatures: maxFeatures, maxNGram: maxNGram}
}

// FromVocabulary builds a fitted Vectorizer from a known vocabulary and
// matching IDF weights.
func FromVocabulary(vocabulary []string, idf []float64, maxNGram int) (*Vectorizer, error) {
	if len(vocabulary) != len(idf) {
		return nil, fmt.Errorf("vocabulary has %d terms but %d idf weights", len(vocabulary), len(idf))
	}
	if maxNGram <= 0 {
		maxNGram = DefaultMaxNGram
	}
	index := make(map[string]int, len(vocabulary))
	for i, term := range vocabulary {
		if _, dup := index[term]; dup {
			return nil, fmt.Errorf("duplicate vocabulary term %q", term)
		}
		index[term] = i
	}
	return &Vectorizer{
		maxFeatures: len(vocabulary),
		maxNGram:    maxNGram,
		vocabulary:  vocabulary,
		idf:         idf,
		index:       index,
	}, nil
}

// Fit learns the vocabulary and IDF weights from docs. Terms are ranked by
// corpus frequency (ties by term) and the top maxFeatures are kept, stored
// in lexical order.
func (v *Vectorizer) Fit(docs []string) error {
	if len(docs) == 0 {
		return errors.New("fitting vectorizer: no documents")
	}

	total := make(map[string]int)
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{})
		for _, term := range Terms(doc, v.maxNGram) {
			total[term]++
			if _, ok := seen[term]; !ok {
				seen[term] = struct{}{}
				df[term]++
			}
		}
	}
	if len(total) == 0 {
		return errors.New("fitting vectorizer: documents contain no tokens")
	}

	terms := make([]string, 0, len(total))
	for term := range total {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if total[terms[i]] != total[terms[j]] {
			return total[terms[i]] > total[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > v.maxFeatures {
		terms = terms[:v.maxFeatures]
	}
	sort.Strings(terms)

	n := float64(len(docs))
	v.vocabulary = terms
	v.idf = make([]float64, len(terms))
	v.index = make(map[string]int, len(terms))
	for i, term := range terms {
		v.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
		v.index[term] = i
	}
	return nil
}

// Fitted reports whether the Vectorizer has a vocabulary.
func (v *Vectorizer) Fitted() bool {
	return v != nil && len(v.vocabulary) > 0
}

// Dim returns the number of features.
func (v *Vectorizer) Dim() int {
	return len(v.vocabulary)
}

func (v *Vectorizer) Transform(doc string) Vector {
	counts := make(map[int]float64)
	for _, term := range Terms(doc, v.maxNGram) {
		if i, ok := v.index[term]; ok {
			counts[i]++
		}
	}
	if len(counts) == 0 {
		return Vector{}
	}

	vec := Vector{
		Indices: make([]int, 0, len(counts)),
		Values:  make([]float64, 0, len(counts)),
	}
	for i := range counts {
		vec.Indices = append(vec.Indices, i)
	}
	sort.Ints(vec.Indices)

	var norm float64
	for _, i := range vec.Indices {
		w := counts[i] * v.idf[i]
		vec.Values = append(vec.Values, w)
		norm += w * w
	}
	norm = math.Sqrt(norm)
	for k := range vec.Values {
		vec.Values[k] /= norm
	}
	return vec
}

// TransformAll converts each document in order.
func (v *Vectorizer) TransformAll(docs []string) []Vector {
	out := make([]Vector, len(docs))
	for i, d := range docs {
		out[i] = v.Transform(d)
	}
	return out
}

type vectorizerJSON struct {
	MaxNGram   int       `json:"max_ngram"`
	Vocabulary []string  `json:"vocabulary"`
	IDF        []float64 `json:"idf"`
}

func (v *Vectorizer) MarshalJSON() ([]byte, error) {
	return json.Marshal(vectorizerJSON{
		MaxNGram:   v.maxNGram,
		Vocabulary: v.vocabulary,
		IDF:        v.idf,
	})
}

func (v *Vectorizer) UnmarshalJSON(data []byte) error {
	var raw vectorizerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	built, err := FromVocabulary(raw.Vocabulary, raw.IDF, raw.MaxNGram)
	if err != nil {
		return err
	}
	*v = *built
	return nil
}
