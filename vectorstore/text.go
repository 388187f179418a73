package vectorstore

import "strings"

// Stop words excluded from term-overlap scoring.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "how": true, "what": true, "when": true,
}

// Tokenize splits text into lowercase terms, trims punctuation, and removes
// stop words.
func Tokenize(text string) []string {
	words := strings.Fields(text)
	terms := make([]string, 0, len(words))

	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))
		if cleaned != "" && !stopWords[cleaned] {
			terms = append(terms, cleaned)
		}
	}

	return terms
}

// TermScore is the fraction of distinct query terms that occur in text.
// Returns 0 when terms is empty.
func TermScore(text string, terms []string) float32 {
	if len(terms) == 0 {
		return 0
	}

	present := make(map[string]bool)
	for _, t := range Tokenize(text) {
		present[t] = true
	}

	distinct := make(map[string]bool, len(terms))
	matched := 0
	for _, t := range terms {
		if distinct[t] {
			continue
		}
		distinct[t] = true
		if present[t] {
			matched++
		}
	}

	return float32(matched) / float32(len(distinct))
}
