package rag

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSnippetPicksBestSentence(t *testing.T) {
	content := "A. Ceramic bowl from 1920. Unrelated sentence."
	got := snippet(content, "ceramic bowl")
	if !strings.Contains(got, "Ceramic") || !strings.Contains(got, "bowl") {
		t.Errorf("snippet = %q, want the ceramic bowl sentence", got)
	}
	if strings.Contains(got, "Unrelated") {
		t.Errorf("snippet = %q, picked the wrong sentence", got)
	}
}

func TestSnippetHighlightsTerms(t *testing.T) {
	got := snippet("The glazed bowl sits on a shelf.", "glazed bowl")
	if !strings.Contains(got, "<mark>glazed</mark>") || !strings.Contains(got, "<mark>bowl</mark>") {
		t.Errorf("snippet = %q, terms not highlighted", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("snippet = %q, missing trailing ellipsis", got)
	}
}

func TestSnippetHighlightWholeWordsOnly(t *testing.T) {
	got := snippet("The bowling alley has a bowl.", "bowl")
	if strings.Contains(got, "<mark>bowl</mark>ing") {
		t.Errorf("snippet = %q, highlighted inside a word", got)
	}
	if !strings.Contains(got, "<mark>bowl</mark>.") && !strings.Contains(got, "a <mark>bowl</mark>") {
		t.Errorf("snippet = %q, whole word not highlighted", got)
	}
}

func TestSnippetFallback(t *testing.T) {
	long := strings.Repeat("word ", 60)
	got := snippet(long, "zzz")
	if !strings.HasSuffix(got, "...") {
		t.Errorf("snippet = %q, missing ellipsis", got)
	}
	if len(got) > fallbackSnippetLen+3 {
		t.Errorf("fallback snippet too long: %d chars", len(got))
	}
}

func TestSnippetStripsMarkup(t *testing.T) {
	got := snippet("<p>A <b>glazed</b> bowl.</p>", "glazed")
	if strings.Contains(got, "<p>") || strings.Contains(got, "<b>") {
		t.Errorf("snippet = %q, markup not stripped", got)
	}
}

func TestQueryTermsKeepsEveryWord(t *testing.T) {
	terms := queryTerms("Is A Ceramic")
	want := []string{"is", "a", "ceramic"}
	if len(terms) != len(want) {
		t.Fatalf("queryTerms = %v, want %v", terms, want)
	}
	for i := range want {
		if terms[i] != want[i] {
			t.Errorf("queryTerms[%d] = %q, want %q", i, terms[i], want[i])
		}
	}
}

func TestSnippetFallbackIsHighlighted(t *testing.T) {
	// No sentence boundary, so the opening characters are the fallback;
	// matched terms still get marked there.
	got := snippet("glazed "+strings.Repeat("word ", 60), "glazed zzz")
	if !strings.Contains(got, "<mark>glazed</mark>") {
		t.Errorf("snippet = %q, fallback not highlighted", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("snippet = %q, missing ellipsis", got)
	}
}

func TestSnippetFallbackCutsOnRuneBoundary(t *testing.T) {
	// One ASCII char then two-byte runes puts the raw cut offset inside
	// a rune, so a byte-exact truncation would split it.
	long := "v" + strings.Repeat("ç", 200)
	got := snippet(long, "zzz")
	if !strings.HasSuffix(got, "...") {
		t.Errorf("snippet = %q, missing ellipsis", got)
	}
	body := strings.TrimSuffix(got, "...")
	if !utf8.ValidString(body) {
		t.Errorf("snippet body %q split a rune", body)
	}
	if len(body) > fallbackSnippetLen {
		t.Errorf("fallback body is %d bytes, cap is %d", len(body), fallbackSnippetLen)
	}
}

func TestSnippetEmptyContent(t *testing.T) {
	if got := snippet("", "query"); got != "" {
		t.Errorf("snippet = %q, want empty", got)
	}
}
