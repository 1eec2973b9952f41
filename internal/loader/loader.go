// Package loader defines the contract every source-specific importer
// implements (spec §6.3) and a registry loaders are dispatched through
// by name. A Loader turns a path on disk into an in-memory dataset;
// it never touches a durable store directly — the caller (CLI or API)
// decides whether and how to persist what Load produces.
package loader

import (
	"github.com/wesm/chatvault/internal/apperr"
	"github.com/wesm/chatvault/internal/memstore"
	"github.com/wesm/chatvault/internal/model"
	"github.com/wesm/chatvault/internal/prompt"
)

// Loader converts one source format into a single in-memory dataset.
//
// Implementations must honor the obligations spec §6.3 places on every
// loader's output:
//   - exactly one user has IsMyself set, resolved either automatically
//     (a single candidate, or a source that names the account holder)
//     or by asking ch.ChooseMyself;
//   - for a personal chat, MemberIDs[0] is the myself user;
//   - Chat.MsgCount matches the number of messages actually produced;
//   - message InternalID values are densely assigned, starting at 0,
//     strictly increasing with Timestamp order;
//   - every message's SearchableString is precomputed, not left for
//     the reader to derive from rich text at query time;
//   - any file a message or chat references is recorded as a path
//     relative to the dataset's declared root, and a loader tolerates
//     (does not fail on) a referenced file that turns out to be
//     missing from that root.
type Loader interface {
	// Name identifies the loader, e.g. "telegram", "whatsapp".
	Name() string

	// LooksAboutRight reports whether path appears to hold an export
	// this loader understands, without fully parsing it — a cheap
	// sniff used to pick a default loader for a path (spec §6.3).
	LooksAboutRight(path string) bool

	// Load parses path and returns an in-memory store holding exactly
	// one dataset, plus that dataset's uuid. ch is consulted only when
	// the source itself can't resolve myself or a chat name.
	Load(path string, ch prompt.Channel) (*memstore.Store, model.DatasetUUID, error)
}

// Registry dispatches to loaders by name (spec §6.2: "Loader service,
// keyed by loader name").
type Registry struct {
	loaders map[string]Loader
}

// NewRegistry builds a registry from a fixed set of loaders.
func NewRegistry(loaders ...Loader) *Registry {
	r := &Registry{loaders: make(map[string]Loader, len(loaders))}
	for _, l := range loaders {
		r.loaders[l.Name()] = l
	}
	return r
}

// Get returns the named loader, or a NotFound error.
func (r *Registry) Get(name string) (Loader, error) {
	l, ok := r.loaders[name]
	if !ok {
		return nil, apperr.NotFound("no loader registered with name %q", name)
	}
	return l, nil
}

// Names returns every registered loader name.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.loaders))
	for name := range r.loaders {
		out = append(out, name)
	}
	return out
}

// Detect returns a registered loader whose LooksAboutRight matches
// path, or a NotFound error if none claims it. Loaders are kept in a
// map, so when several match, which one is returned is not defined.
func (r *Registry) Detect(path string) (Loader, error) {
	for _, l := range r.loaders {
		if l.LooksAboutRight(path) {
			return l, nil
		}
	}
	return nil, apperr.NotFound("no loader recognizes %q", path)
}
