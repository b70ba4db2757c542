package store

import (
	"math"
	"strings"
)

// Stop words excluded from lexical ranking.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "i": true, "how": true, "may": true, "via": true,
}

// tokenize splits text into lowercased terms, trims punctuation, and removes
// stop words.
func tokenize(text string) []string {
	words := strings.Fields(text)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		cleaned := strings.ToLower(strings.Trim(w, ".,!?;:'\"-()[]{}"))
		if cleaned != "" && !stopWords[cleaned] {
			terms = append(terms, cleaned)
		}
	}
	return terms
}

// lexicalRank scores how well text covers the query's terms. The score is
// the fraction of distinct query terms present in the text, damped by a log
// term-frequency factor, and stays within roughly the same [0, 1) range as
// Postgres ts_rank so that one alpha calibrates both backends. The exact
// numbers differ from ts_rank (no stemming here); alpha and this ranker are
// a tunable pair, not a bit-identical contract.
func lexicalRank(query, text string) float64 {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return 0
	}

	distinct := make(map[string]struct{}, len(queryTerms))
	for _, t := range queryTerms {
		distinct[t] = struct{}{}
	}

	counts := make(map[string]int)
	for _, t := range tokenize(text) {
		counts[t]++
	}

	matched := 0
	tf := 0
	for t := range distinct {
		if c := counts[t]; c > 0 {
			matched++
			tf += c
		}
	}
	if matched == 0 {
		return 0
	}

	coverage := float64(matched) / float64(len(distinct))
	return coverage * (1 - 1/(1+math.Log1p(float64(tf))))
}
