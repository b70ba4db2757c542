package answer

import (
	"strings"
	"unicode"
)

// minSentenceLength is the minimum length of a sentence considered for
// extractive synthesis; anything shorter is treated as noise (headings,
// bullets, stray fragments).
const minSentenceLength = 20

// splitSentences breaks text into sentences on terminal punctuation
// (.!?) followed by whitespace, and keeps only non-trivial ones.
func splitSentences(text string) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if text == "" {
		return nil
	}

	var sentences []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if ch != '.' && ch != '!' && ch != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); len(s) >= minSentenceLength {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); len(s) >= minSentenceLength {
		sentences = append(sentences, s)
	}
	return sentences
}
