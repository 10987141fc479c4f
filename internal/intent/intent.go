// Package intent wraps the language-model backend that turns an utterance
// into ranked keywords and sub-task steps. The router treats this package
// as an opaque scoring oracle.
package intent

import (
	"context"
	"strings"
	"unicode"
)

// Step is one sub-task extracted from an utterance. Single-step results
// are the common case; multi-step results drive sequential routing.
type Step struct {
	Utterance string   `json:"utterance"`
	Keywords  []string `json:"keywords"`
}

// Result is the ranked-intent output consumed by the router.
type Result struct {
	Steps []Step `json:"steps"`
}

// Classifier extracts intent from an utterance, optionally informed by
// prior conversation turns.
type Classifier interface {
	Classify(ctx context.Context, utterance string, history []string) (*Result, error)
}

// KeywordClassifier is a deterministic, dependency-free classifier used
// when the language-model backend is disabled. It lowercases the
// utterance, strips stop words and returns a single step.
type KeywordClassifier struct{}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "be": true,
	"can": true, "do": true, "does": true, "for": true, "how": true,
	"i": true, "in": true, "is": true, "it": true, "me": true,
	"my": true, "of": true, "on": true, "or": true, "please": true,
	"tell": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "what": true, "when": true, "where": true, "which": true,
	"who": true, "with": true, "you": true, "your": true,
}

// Classify never fails; an utterance with only stop words yields a step
// with no keywords, which the router scores as zero.
func (KeywordClassifier) Classify(_ context.Context, utterance string, _ []string) (*Result, error) {
	return &Result{Steps: []Step{{Utterance: utterance, Keywords: Keywords(utterance)}}}, nil
}

// Keywords tokenizes an utterance into lowercase keyword terms.
func Keywords(utterance string) []string {
	fields := strings.FieldsFunc(strings.ToLower(utterance), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '+' && r != '-' && r != '*' && r != '/'
	})

	var out []string
	seen := make(map[string]bool)
	for _, f := range fields {
		if stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
