// Package memstore implements Component E: an in-memory store exposing
// the same read shape as internal/store, but holding every entity in
// ordinary containers instead of SQLite. Loaders produce a *Store as
// their output artifact; the merger reads from one when the master or
// slave side comes from a loader rather than a durable DAO. Mutation
// is only available through the builder methods used while ingesting
// — once handed to a reader, a Store is treated as read-only (spec
// §4.5: "writes not supported").
package memstore

import (
	"sort"
	"sync"

	"github.com/wesm/chatvault/internal/apperr"
	"github.com/wesm/chatvault/internal/dsroot"
	"github.com/wesm/chatvault/internal/model"
)

// Store holds one or more datasets entirely in memory. Media is still
// read from a declared dataset root on disk (spec §6.3: "reference
// media only by paths relative to the declared dataset root") even
// though entity rows themselves never touch SQLite.
type Store struct {
	mu          sync.RWMutex
	storageRoot string
	datasets    map[model.DatasetUUID]*model.Dataset
	users       map[model.DatasetUUID]map[model.UserID]model.User
	myself      map[model.DatasetUUID]model.UserID
	chats       map[model.DatasetUUID]map[model.ChatID]model.Chat
	messages    map[model.DatasetUUID]map[model.ChatID][]model.Message
}

// New returns an empty in-memory store whose datasets' media lives
// under storageRoot (the same <ds_uuid>/ layout as internal/store, spec
// §4.2.3), so a loader can stage files before the merger or a durable
// store copies them.
func New(storageRoot string) *Store {
	return &Store{
		storageRoot: storageRoot,
		datasets:    make(map[model.DatasetUUID]*model.Dataset),
		users:       make(map[model.DatasetUUID]map[model.UserID]model.User),
		myself:      make(map[model.DatasetUUID]model.UserID),
		chats:       make(map[model.DatasetUUID]map[model.ChatID]model.Chat),
		messages:    make(map[model.DatasetUUID]map[model.ChatID][]model.Message),
	}
}

// Root returns the media root for ds beneath this store's storage
// directory.
func (s *Store) Root(ds model.DatasetUUID) *dsroot.Root {
	return dsroot.New(s.storageRoot, ds)
}

// AddDataset registers a dataset, creating its empty user/chat maps.
func (s *Store) AddDataset(d model.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[d.UUID] = &d
	if s.users[d.UUID] == nil {
		s.users[d.UUID] = make(map[model.UserID]model.User)
	}
	if s.chats[d.UUID] == nil {
		s.chats[d.UUID] = make(map[model.ChatID]model.Chat)
	}
	if s.messages[d.UUID] == nil {
		s.messages[d.UUID] = make(map[model.ChatID][]model.Message)
	}
}

// AddUser registers a user in ds.
func (s *Store) AddUser(ds model.DatasetUUID, u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[ds][u.ID] = u
	if u.IsMyself {
		s.myself[ds] = u.ID
	}
}

// AddChat registers a chat in ds.
func (s *Store) AddChat(ds model.DatasetUUID, c model.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[ds][c.ID] = c
}

// AddMessages appends msgs to chat's ordered sequence, which must
// already be internal_id-ordered by the caller (loaders assign
// internal ids sequentially as they ingest).
func (s *Store) AddMessages(ds model.DatasetUUID, chat model.ChatID, msgs []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[ds][chat] = append(s.messages[ds][chat], msgs...)
	if c, ok := s.chats[ds][chat]; ok {
		c.MsgCount += int64(len(msgs))
		s.chats[ds][chat] = c
	}
}

// PruneOrphanUsers drops every user in ds that is not a member of any
// chat, the loader-driven hook spec §4.5 calls out.
func (s *Store) PruneOrphanUsers(ds model.DatasetUUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	referenced := make(map[model.UserID]bool)
	for _, c := range s.chats[ds] {
		for _, uid := range c.MemberIDs {
			referenced[uid] = true
		}
	}
	for id := range s.users[ds] {
		if !referenced[id] {
			delete(s.users[ds], id)
		}
	}
}

// Datasets returns every registered dataset.
func (s *Store) Datasets() ([]model.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Dataset, 0, len(s.datasets))
	for _, d := range s.datasets {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out, nil
}

// Dataset returns one dataset by uuid.
func (s *Store) Dataset(ds model.DatasetUUID) (*model.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.datasets[ds]
	if !ok {
		return nil, apperr.NotFound("dataset %s not found", ds)
	}
	cp := *d
	return &cp, nil
}

// Users returns ds's id→User map.
func (s *Store) Users(ds model.DatasetUUID) (map[model.UserID]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.UserID]model.User, len(s.users[ds]))
	for id, u := range s.users[ds] {
		out[id] = u
	}
	return out, nil
}

// Myself returns ds's distinguished myself user id.
func (s *Store) Myself(ds model.DatasetUUID) (model.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.myself[ds], nil
}

// Chats returns every chat in ds.
func (s *Store) Chats(ds model.DatasetUUID) ([]model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Chat, 0, len(s.chats[ds]))
	for _, c := range s.chats[ds] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Chat returns one chat by id.
func (s *Store) Chat(ds model.DatasetUUID, id model.ChatID) (*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[ds][id]
	if !ok {
		return nil, apperr.NotFound("chat %d not found in dataset %s", id, ds)
	}
	cp := c
	return &cp, nil
}

func (s *Store) chatMessages(ds model.DatasetUUID, chat model.ChatID) []model.Message {
	return s.messages[ds][chat]
}

// First returns the first n messages of chat.
func (s *Store) First(ds model.DatasetUUID, chat model.ChatID, n int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.chatMessages(ds, chat)
	if n > len(msgs) {
		n = len(msgs)
	}
	return append([]model.Message(nil), msgs[:n]...), nil
}

// Last returns the last n messages of chat, ascending.
func (s *Store) Last(ds model.DatasetUUID, chat model.ChatID, n int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.chatMessages(ds, chat)
	start := len(msgs) - n
	if start < 0 {
		start = 0
	}
	return append([]model.Message(nil), msgs[start:]...), nil
}

// Scroll returns n messages starting at offset.
func (s *Store) Scroll(ds model.DatasetUUID, chat model.ChatID, offset, n int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.chatMessages(ds, chat)
	if offset > len(msgs) {
		offset = len(msgs)
	}
	end := offset + n
	if end > len(msgs) {
		end = len(msgs)
	}
	return append([]model.Message(nil), msgs[offset:end]...), nil
}

func (s *Store) indexOf(msgs []model.Message, id model.MessageInternalID) int {
	for i, m := range msgs {
		if m.InternalID == id {
			return i
		}
	}
	return -1
}

// Before returns up to n messages with internal_id strictly less than
// id, ascending.
func (s *Store) Before(ds model.DatasetUUID, chat model.ChatID, id model.MessageInternalID, n int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.chatMessages(ds, chat)
	idx := len(msgs)
	for i, m := range msgs {
		if m.InternalID >= id {
			idx = i
			break
		}
	}
	start := idx - n
	if start < 0 {
		start = 0
	}
	return append([]model.Message(nil), msgs[start:idx]...), nil
}

// After returns up to n messages with internal_id strictly greater
// than id, ascending.
func (s *Store) After(ds model.DatasetUUID, chat model.ChatID, id model.MessageInternalID, n int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.chatMessages(ds, chat)
	start := 0
	for i, m := range msgs {
		if m.InternalID > id {
			start = i
			break
		}
		start = i + 1
	}
	end := start + n
	if end > len(msgs) {
		end = len(msgs)
	}
	return append([]model.Message(nil), msgs[start:end]...), nil
}

// MessageBySourceID looks up a message by its source-assigned id.
func (s *Store) MessageBySourceID(ds model.DatasetUUID, chat model.ChatID, srcID model.MessageSourceID) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.chatMessages(ds, chat) {
		if m.SourceID != nil && *m.SourceID == srcID {
			cp := m
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("message with source_id %d not found in chat %d", srcID, chat)
}

// SliceLen returns the number of messages with internal_id in
// [id1, id2] inclusive.
func (s *Store) SliceLen(ds model.DatasetUUID, chat model.ChatID, id1, id2 model.MessageInternalID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.chatMessages(ds, chat) {
		if m.InternalID >= id1 && m.InternalID <= id2 {
			n++
		}
	}
	return n, nil
}

// Slice returns every message with internal_id in [id1, id2] inclusive.
func (s *Store) Slice(ds model.DatasetUUID, chat model.ChatID, id1, id2 model.MessageInternalID) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Message
	for _, m := range s.chatMessages(ds, chat) {
		if m.InternalID >= id1 && m.InternalID <= id2 {
			out = append(out, m)
		}
	}
	return out, nil
}

// AbbreviatedSlice implements spec §4.2.5 for the in-memory store,
// matching the durable store's semantics exactly so the diff analyzer
// can treat either side interchangeably.
func (s *Store) AbbreviatedSlice(ds model.DatasetUUID, chat model.ChatID, id1, id2 model.MessageInternalID, combinedLimit, abbrevLimit int) ([]model.Message, int64, []model.Message, error) {
	full, err := s.Slice(ds, chat, id1, id2)
	if err != nil {
		return nil, 0, nil, err
	}
	if len(full) <= combinedLimit {
		return full, 0, nil, nil
	}
	left := full
	if len(left) > abbrevLimit {
		left = left[:abbrevLimit]
	}
	right := full
	if len(right) > abbrevLimit {
		right = right[len(right)-abbrevLimit:]
	}
	gap := int64(len(full) - len(left) - len(right))
	if gap < 0 {
		gap = 0
	}
	return append([]model.Message(nil), left...), gap, append([]model.Message(nil), right...), nil
}
