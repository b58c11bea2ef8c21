// Package textproc provides deterministic tokenization, tag extraction, and
// title selection. Every function here is pure: identical input produces
// identical output across runs and processes.
package textproc

import (
	"strings"
	"unicode"
)

// stopWords are dropped during tokenization.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "been": true, "but": true, "by": true, "can": true, "could": true,
	"did": true, "do": true, "does": true, "for": true, "from": true, "had": true,
	"has": true, "have": true, "he": true, "her": true, "his": true, "how": true,
	"if": true, "in": true, "into": true, "is": true, "it": true, "its": true,
	"just": true, "me": true, "more": true, "most": true, "my": true, "no": true,
	"not": true, "of": true, "on": true, "or": true, "our": true, "out": true,
	"she": true, "so": true, "some": true, "than": true, "that": true, "the": true,
	"their": true, "them": true, "then": true, "there": true, "these": true,
	"they": true, "this": true, "those": true, "to": true, "too": true, "up": true,
	"very": true, "was": true, "we": true, "were": true, "what": true, "when": true,
	"where": true, "which": true, "while": true, "who": true, "why": true,
	"will": true, "with": true, "would": true, "you": true, "your": true,
}

// genericTerms are technical filler words. They survive tokenization but are
// down-weighted in token-cosine comparisons (not in tag extraction).
var genericTerms = map[string]bool{
	"api": true, "app": true, "code": true, "data": true, "file": true,
	"function": true, "project": true, "server": true, "software": true,
	"system": true, "test": true, "tool": true, "user": true, "version": true,
}

// genericTermWeight is the cosine-side multiplier for genericTerms.
const genericTermWeight = 0.4

// tagBlacklist holds generic tokens that never become tags.
var tagBlacklist = map[string]bool{
	"also": true, "get": true, "idea": true, "like": true, "make": true,
	"new": true, "note": true, "one": true, "other": true, "stuff": true,
	"thing": true, "time": true, "use": true, "using": true, "way": true,
	"work": true,
}

// ingExceptions lists words that keep their "ing" ending.
var ingExceptions = map[string]bool{
	"during": true, "evening": true, "morning": true, "nothing": true,
	"spring": true, "string": true, "thing": true,
	"embedding": true, "programming": true,
}

// edExceptions keeps words whose "ed" is not a suffix.
var edExceptions = map[string]bool{
	"embed": true, "exceed": true, "feed": true, "indeed": true, "need": true,
	"proceed": true, "seed": true, "speed": true, "succeed": true,
}

// Tokenize lowercases, splits on non-alphanumeric boundaries, drops
// stop-words and tokens shorter than two characters, stems, and returns
// per-token counts.
func Tokenize(text string) map[string]int {
	counts := make(map[string]int)
	for _, raw := range splitAlnum(text) {
		token := Stem(strings.ToLower(raw))
		if len(token) < 2 || stopWords[token] {
			continue
		}
		counts[token]++
	}
	return counts
}

// TokenWeight returns the cosine-side weight of a token: generic technical
// terms count 0.4x, everything else 1x.
func TokenWeight(token string) float64 {
	if genericTerms[token] {
		return genericTermWeight
	}
	return 1.0
}

// Stem applies the light suffix rules: trailing "ies" becomes "y"; "ing",
// "ed", and plural "s" are stripped with common exceptions.
func Stem(token string) string {
	switch {
	case strings.HasSuffix(token, "ies") && len(token) > 4:
		return token[:len(token)-3] + "y"
	case strings.HasSuffix(token, "ing") && len(token) > 5 && !ingExceptions[token]:
		return token[:len(token)-3]
	case strings.HasSuffix(token, "ed") && len(token) > 4 && !edExceptions[token]:
		return token[:len(token)-2]
	case strings.HasSuffix(token, "s") && len(token) > 3 &&
		!strings.HasSuffix(token, "ss") && !strings.HasSuffix(token, "us") && !strings.HasSuffix(token, "is"):
		return token[:len(token)-1]
	}
	return token
}

// splitAlnum splits text into maximal alphanumeric runs.
func splitAlnum(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// IsStopWord reports whether the (lowercased) token is on the stop list.
func IsStopWord(token string) bool {
	return stopWords[token]
}
