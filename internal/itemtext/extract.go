package itemtext

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	titleRe       = regexp.MustCompile(`TITLE:[ \t]*(.*)`)
	descriptionRe = regexp.MustCompile(`(?s)DESCRIPTION:[ \t]*(.*?)(?:\n\n|$)`)
	metadataRe    = regexp.MustCompile(`(?s)METADATA:\n(.*?)(?:\n\n|$)`)
)

// ExtractTitle returns the title section of formatted item text, or ""
// when the text has none.
func ExtractTitle(content string) string {
	if m := titleRe.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// ExtractDescription returns the description section of formatted item text.
func ExtractDescription(content string) string {
	if m := descriptionRe.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// ExtractMetadata parses the metadata section back into key/value pairs.
// Lines without a colon are skipped.
func ExtractMetadata(content string) map[string]string {
	m := metadataRe.FindStringSubmatch(content)
	if m == nil {
		return nil
	}

	metadata := make(map[string]string)
	for _, line := range strings.Split(m[1], "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key != "" && value != "" {
			metadata[key] = value
		}
	}
	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

// StripTags removes markup from a fragment, keeping only its text content.
// Plain text passes through untouched.
func StripTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}

	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(sb.String())
		case html.TextToken:
			sb.Write(z.Text())
		}
	}
}
