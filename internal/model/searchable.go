package model

import "strings"

// ComputeMessageSearchableString derives a message's searchable_string
// from its rich text plus any typed content that carries human-visible
// text (spec §3.2): the whitespace-normalized concatenation of every
// text element's own searchable string, followed by each content
// element's file name, title, performer, address, poll question, and
// shared-contact first name, last name and phone number where present.
func ComputeMessageSearchableString(text []RichTextElement, regular *Regular) string {
	var parts []string
	for _, e := range text {
		if e.SearchableString != "" {
			parts = append(parts, e.SearchableString)
		}
	}
	if regular != nil {
		for _, c := range regular.Contents {
			parts = append(parts, contentSearchableParts(&c)...)
		}
	}
	return normalizeWhitespace(strings.Join(parts, " "))
}

func contentSearchableParts(c *Content) []string {
	var out []string
	appendNonEmpty := func(s *string) {
		if s != nil && *s != "" {
			out = append(out, *s)
		}
	}
	appendNonEmpty(c.FileName)
	appendNonEmpty(c.Title)
	appendNonEmpty(c.Performer)
	appendNonEmpty(c.Address)
	appendNonEmpty(c.PollQuestion)
	appendNonEmpty(c.FirstName)
	appendNonEmpty(c.LastName)
	appendNonEmpty(c.PhoneNumber)
	return out
}
