// Package features converts review text into sparse TF-IDF vectors over
// unigrams and adjacent-token bigrams.
package features

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// tokenPattern matches runs of two or more letters, digits or underscores.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]{2,}`)

// Tokenize lowercases and NFKC-normalises text, then splits it into tokens.
// Single-character tokens are dropped.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(norm.NFKC.String(text)), -1)
}

// NGrams returns the unigrams of tokens followed by their bigrams up to
// maxN (1 or 2). Bigrams are joined with a single space.
func NGrams(tokens []string, maxN int) []string {
	if len(tokens) == 0 {
		return nil
	}
	out := make([]string, 0, len(tokens)*maxN)
	out = append(out, tokens...)
	if maxN >= 2 {
		for i := 0; i+1 < len(tokens); i++ {
			out = append(out, tokens[i]+" "+tokens[i+1])
		}
	}
	return out
}

// Terms tokenizes text and expands it to n-gram terms.
func Terms(text string, maxN int) []string {
	return NGrams(Tokenize(text), maxN)
}
