package model

// ContentKind is the closed set of message content payloads (spec
// §3.2). As with the rest of the model, each Content is a flat struct
// with a discriminating Kind plus sparsely-populated fields, matching
// how the teacher represents closed variant sets that round-trip
// through SQL (nullable columns rather than an interface hierarchy).
type ContentKind string

const (
	ContentSticker       ContentKind = "sticker"
	ContentPhoto         ContentKind = "photo"
	ContentVoiceMsg      ContentKind = "voice_message"
	ContentAudio         ContentKind = "audio"
	ContentVideoMsg      ContentKind = "video_message"
	ContentVideo         ContentKind = "video"
	ContentFile          ContentKind = "file"
	ContentLocation      ContentKind = "location"
	ContentPoll          ContentKind = "poll"
	ContentSharedContact ContentKind = "shared_contact"
)

// Content is one element of a Regular message's ordered content list.
// Path and ThumbnailPath, when present, are relative to the dataset
// root (spec §3.2, §3.4).
type Content struct {
	Kind ContentKind

	// Path-bearing content (sticker, photo, voice/video msg, audio,
	// video, file).
	Path          *string
	ThumbnailPath *string
	FileName      *string
	Width         *int
	Height        *int
	MimeType      *string
	DurationSec   *int
	Emoji         *string // sticker
	Title         *string // audio
	Performer     *string // audio

	// Location
	Lat     *string
	Lon     *string
	Address *string

	// Poll
	PollQuestion *string

	// SharedContact
	FirstName   *string
	LastName    *string
	PhoneNumber *string

	// GroupX service-message payloads reuse Content's Members field via
	// the message_content.members column (spec §4.2.2); kept here so
	// the store can round-trip both with one table.
	Members []string
}

// PathFields returns every non-nil relative path carried by this
// content element, used for ownership bookkeeping and media copy.
func (c *Content) PathFields() []*string {
	var out []*string
	if c.Path != nil {
		out = append(out, c.Path)
	}
	if c.ThumbnailPath != nil {
		out = append(out, c.ThumbnailPath)
	}
	return out
}
