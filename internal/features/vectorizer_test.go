package features

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Great toy!", []string{"great", "toy"}},
		{"A b cd", []string{"cd"}},
		{"ＦＵＬＬ width", []string{"full", "width"}},
		{"kids' 2nd-favourite", []string{"kids", "2nd", "favourite"}},
		{"", nil},
	}
	for _, tt := range tests {
		got := Tokenize(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNGrams(t *testing.T) {
	got := NGrams([]string{"broke", "very", "fast"}, 2)
	want := []string{"broke", "very", "fast", "broke very", "very fast"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NGrams = %v, want %v", got, want)
	}

	if got := NGrams([]string{"one", "two"}, 1); len(got) != 2 {
		t.Errorf("unigram-only NGrams = %v, want 2 terms", got)
	}
}

func TestFit_VocabularyAndIDF(t *testing.T) {
	v := NewVectorizer(0, 2)
	docs := []string{"great toy", "great fun", "broke fast"}
	if err := v.Fit(docs); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	want := []string{"broke", "broke fast", "fast", "fun", "great", "great fun", "great toy", "toy"}
	if !reflect.DeepEqual(v.vocabulary, want) {
		t.Fatalf("Vocabulary = %v, want %v", v.vocabulary, want)
	}

	// "great" appears in 2 of 3 docs.
	idx := v.index["great"]
	wantIDF := math.Log(4.0/3.0) + 1
	if math.Abs(v.idf[idx]-wantIDF) > 1e-12 {
		t.Errorf("idf[great] = %v, want %v", v.idf[idx], wantIDF)
	}
}

func TestFit_MaxFeaturesKeepsMostFrequent(t *testing.T) {
	v := NewVectorizer(2, 1)
	if err := v.Fit([]string{"aa aa bb", "aa cc", "bb dd"}); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	want := []string{"aa", "bb"}
	if !reflect.DeepEqual(v.vocabulary, want) {
		t.Errorf("Vocabulary = %v, want %v", v.vocabulary, want)
	}
}

func TestFit_Errors(t *testing.T) {
	if err := NewVectorizer(10, 2).Fit(nil); err == nil {
		t.Error("expected error for no documents")
	}
	if err := NewVectorizer(10, 2).Fit([]string{"a b", "!"}); err == nil {
		t.Error("expected error for documents without tokens")
	}
}

func TestTransform_L2Normalised(t *testing.T) {
	v := NewVectorizer(0, 2)
	if err := v.Fit([]string{"great toy", "great fun", "broke fast"}); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	vec := v.Transform("great great toy and unknown words")
	var sum float64
	for _, x := range vec.Values {
		sum += x * x
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("squared norm = %v, want 1", sum)
	}
	for i := 1; i < len(vec.Indices); i++ {
		if vec.Indices[i] <= vec.Indices[i-1] {
			t.Fatalf("indices not ascending: %v", vec.Indices)
		}
	}

	if empty := v.Transform("nothing known"); len(empty.Indices) != 0 {
		t.Errorf("expected empty vector, got %+v", empty)
	}
}

func TestVectorizerJSONRoundTrip(t *testing.T) {
	v := NewVectorizer(0, 2)
	if err := v.Fit([]string{"great toy", "broke fast"}); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back Vectorizer
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	a, b := v.Transform("great toy"), back.Transform("great toy")
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Transform after round trip = %+v, want %+v", b, a)
	}
}

func TestFromVocabulary_Mismatch(t *testing.T) {
	if _, err := FromVocabulary([]string{"a", "b"}, []float64{1}, 2); err == nil {
		t.Error("expected error for mismatched idf length")
	}
	if _, err := FromVocabulary([]string{"aa", "aa"}, []float64{1, 1}, 2); err == nil {
		t.Error("expected error for duplicate term")
	}
}
