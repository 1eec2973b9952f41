package model

import (
	"strings"
)

// RichTextKind is the closed set of rich-text element variants (spec
// §3.2).
type RichTextKind string

const (
	RTEPlain         RichTextKind = "plain"
	RTEBold          RichTextKind = "bold"
	RTEItalic        RichTextKind = "italic"
	RTEUnderline     RichTextKind = "underline"
	RTEStrikethrough RichTextKind = "strikethrough"
	RTELink          RichTextKind = "link"
	RTEPrefmtInline  RichTextKind = "prefmt_inline"
	RTEPrefmtBlock   RichTextKind = "prefmt_block"
	RTEBlockquote    RichTextKind = "blockquote"
	RTESpoiler       RichTextKind = "spoiler"
)

// RichTextElement is one element of a message's text, carrying a
// precomputed SearchableString (spec §3.2).
type RichTextElement struct {
	Kind RichTextKind
	Text string

	// Link
	LinkText *string
	Href     string
	Hidden   bool

	// PrefmtBlock
	Language *string

	SearchableString string
}

// NewRichTextElement builds an element of the given kind and computes
// its SearchableString: whitespace-normalized text, with the href
// folded in for links (spec §3.2).
func NewRichTextElement(kind RichTextKind, text string, opts ...func(*RichTextElement)) RichTextElement {
	e := RichTextElement{Kind: kind, Text: text}
	for _, opt := range opts {
		opt(&e)
	}
	e.SearchableString = e.computeSearchableString()
	return e
}

func WithHref(href string, hidden bool) func(*RichTextElement) {
	return func(e *RichTextElement) { e.Href = href; e.Hidden = hidden }
}

func WithLinkText(text string) func(*RichTextElement) {
	return func(e *RichTextElement) { e.LinkText = &text }
}

func WithLanguage(lang string) func(*RichTextElement) {
	return func(e *RichTextElement) { e.Language = &lang }
}

func (e *RichTextElement) computeSearchableString() string {
	text := e.Text
	if e.Kind == RTELink && e.LinkText != nil {
		text = *e.LinkText
	}
	normalized := normalizeWhitespace(text)
	if e.Kind == RTELink && e.Href != "" {
		if normalized == "" {
			return normalizeWhitespace(e.Href)
		}
		return normalized + " " + normalizeWhitespace(e.Href)
	}
	return normalized
}

// normalizeWhitespace collapses runs of whitespace to single spaces and
// trims the result, mirroring the searchable-string rule in spec §3.2.
func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
