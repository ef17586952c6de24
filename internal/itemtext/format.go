// Package itemtext serializes collection items into embeddable text and
// parses that text back into structured fields. The labeled-section layout is
// a contract: the stored content is the only record of an item's fields, so
// the query engine reconstructs titles, descriptions, and metadata from it.
package itemtext

import (
	"sort"
	"strings"

	"github.com/vferraz/acervo/internal/source"
)

// Core section names. Anything else in the field list is treated as an
// extension field looked up in the item's metadata map.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldMetadata    = "metadata"
)

// Formatter renders items as ordered labeled sections.
type Formatter struct {
	fields    []string
	chunkSize int // token budget; <= 0 disables truncation
}

// NewFormatter creates a Formatter rendering the given sections in order.
// An empty field list falls back to title, description, metadata.
func NewFormatter(fields []string, chunkSize int) *Formatter {
	if len(fields) == 0 {
		fields = []string{FieldTitle, FieldDescription, FieldMetadata}
	}
	return &Formatter{fields: fields, chunkSize: chunkSize}
}

// Format serializes an item into labeled uppercase sections separated by
// blank lines, with the permalink last. Metadata keys are sorted so the
// output is deterministic. Output exceeding the chunk budget
// (chunkSize tokens x 4 chars/token) is truncated at a sentence boundary
// when one falls in the final 20% of the window.
func (f *Formatter) Format(item source.Item) string {
	var parts []string

	for _, field := range f.fields {
		switch field {
		case FieldTitle:
			if item.Title != "" {
				parts = append(parts, "TITLE: "+item.Title)
			}
		case FieldDescription:
			if item.Description != "" {
				parts = append(parts, "DESCRIPTION: "+StripTags(item.Description))
			}
		case FieldMetadata:
			if section := formatMetadata(item.Metadata); section != "" {
				parts = append(parts, section)
			}
		default:
			if v := item.Metadata[field]; v != "" {
				parts = append(parts, strings.ToUpper(field)+": "+v)
			}
		}
	}

	if item.URL != "" {
		parts = append(parts, "URL: "+item.URL)
	}

	text := strings.Join(parts, "\n\n")

	if f.chunkSize > 0 {
		text = truncate(text, f.chunkSize*4)
	}

	return text
}

func formatMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		if metadata[k] != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("METADATA:")
	for _, k := range keys {
		sb.WriteString("\n")
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(metadata[k])
	}
	return sb.String()
}

// truncate cuts text to at most maxChars, preferring the last sentence
// boundary that falls within the final 20% of the window.
func truncate(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}

	chunk := text[:maxChars]
	if idx := strings.LastIndexAny(chunk, ".!?"); idx >= maxChars*4/5 {
		return chunk[:idx+1]
	}
	return chunk
}
