package textproc

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultMaxTags is the tag-set size cap when the caller does not override.
const DefaultMaxTags = 8

// hashtagPattern matches explicit #tag markers: letters, digits, dash,
// underscore, and slash, starting with a letter.
var hashtagPattern = regexp.MustCompile(`#([a-zA-Z][a-zA-Z0-9_/-]*)`)

// TagOptions configures ExtractTags.
type TagOptions struct {
	// MaxTags caps the tag set (0 = DefaultMaxTags).
	MaxTags int
	// Body enables bigram extraction from the body text. Bigrams never
	// exceed half the final tag set.
	Body string
}

// ExtractTags derives a sorted, deduplicated, lowercased tag set.
//
// Explicit #tag hashtags anywhere in the text are authoritative: when at
// least one is present, the hashtags are the whole tag set. Otherwise
// unigrams are ranked by frequency and supplemented with body bigrams.
func ExtractTags(text string, tokenCounts map[string]int, opts TagOptions) []string {
	maxTags := opts.MaxTags
	if maxTags <= 0 {
		maxTags = DefaultMaxTags
	}

	if explicit := ExtractHashtags(text); len(explicit) > 0 {
		if len(explicit) > maxTags {
			explicit = explicit[:maxTags]
		}
		return explicit
	}

	// Rank unigrams by frequency, ties broken alphabetically so the result
	// is stable across runs.
	type scored struct {
		token string
		count int
	}
	ranked := make([]scored, 0, len(tokenCounts))
	for token, count := range tokenCounts {
		if tagBlacklist[token] || isNumeric(token) {
			continue
		}
		ranked = append(ranked, scored{token, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].token < ranked[j].token
	})

	maxBigrams := maxTags / 2
	bigrams := extractBigrams(opts.Body, maxBigrams)

	tags := make([]string, 0, maxTags)
	seen := make(map[string]bool)
	add := func(tag string) {
		if len(tags) < maxTags && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	unigramBudget := maxTags - len(bigrams)
	for _, sc := range ranked {
		if len(tags) >= unigramBudget {
			break
		}
		add(sc.token)
	}
	for _, b := range bigrams {
		add(b)
	}
	for _, sc := range ranked {
		if len(tags) >= maxTags {
			break
		}
		add(sc.token)
	}

	sort.Strings(tags)
	return tags
}

// ExtractHashtags returns the explicit #tags in the text, sorted,
// deduplicated, and lowercased.
func ExtractHashtags(text string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var tags []string
	for _, m := range matches {
		tag := strings.ToLower(m[1])
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return tags
}

// extractBigrams pulls frequent adjacent word pairs out of the body.
// Both words must survive tokenization; the pair is joined with a dash.
func extractBigrams(body string, limit int) []string {
	if limit <= 0 || body == "" {
		return nil
	}

	counts := make(map[string]int)
	for _, line := range strings.Split(body, "\n") {
		words := splitAlnum(line)
		var prev string
		for _, raw := range words {
			token := Stem(strings.ToLower(raw))
			if len(token) < 2 || stopWords[token] || tagBlacklist[token] || isNumeric(token) {
				prev = ""
				continue
			}
			if prev != "" {
				counts[prev+"-"+token]++
			}
			prev = token
		}
	}

	type scored struct {
		bigram string
		count  int
	}
	ranked := make([]scored, 0, len(counts))
	for bigram, count := range counts {
		// A pair seen once is noise.
		if count < 2 {
			continue
		}
		ranked = append(ranked, scored{bigram, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].bigram < ranked[j].bigram
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]string, len(ranked))
	for i, sc := range ranked {
		out[i] = sc.bigram
	}
	return out
}

func isNumeric(token string) bool {
	for _, r := range token {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(token) > 0
}
