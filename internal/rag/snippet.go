package rag

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/vferraz/acervo/internal/itemtext"
)

const fallbackSnippetLen = 150

var (
	sentenceRe   = regexp.MustCompile(`[.!?]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// snippet returns the sentence of content most relevant to the query: the
// first sentence containing the most query terms. Content without a scoring
// sentence falls back to its opening characters.
func snippet(content, query string) string {
	text := whitespaceRe.ReplaceAllString(itemtext.StripTags(content), " ")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	terms := queryTerms(query)
	best := ""
	bestScore := 0
	for _, sentence := range sentenceRe.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		score := 0
		lower := strings.ToLower(sentence)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				score++
			}
		}
		if score > bestScore {
			best = sentence
			bestScore = score
		}
	}

	if best == "" {
		best = text
		if len(best) > fallbackSnippetLen {
			cut := fallbackSnippetLen
			for cut > 0 && !utf8.RuneStart(best[cut]) {
				cut--
			}
			best = best[:cut]
		}
	}
	return highlight(best, terms) + "..."
}

// queryTerms splits a query into lowercase terms. Every term counts,
// whatever its length.
func queryTerms(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// highlight wraps whole-word occurrences of the terms in <mark> tags.
func highlight(text string, terms []string) string {
	for _, term := range terms {
		re, err := regexp.Compile(`(?i)\b(` + regexp.QuoteMeta(term) + `)\b`)
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, "<mark>$1</mark>")
	}
	return text
}
