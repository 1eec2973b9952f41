// Package chatdao defines the read-only contract shared by the durable
// SQLite store and the in-memory store (spec §4.2.1, §4.5), so the
// diff analyzer and the merger can treat either as an interchangeable
// source of truth without caring which one backs a given dataset.
package chatdao

import (
	"github.com/wesm/chatvault/internal/dsroot"
	"github.com/wesm/chatvault/internal/model"
)

// Reader is the read surface both internal/store.Store and
// internal/memstore.Store implement.
type Reader interface {
	Dataset(ds model.DatasetUUID) (*model.Dataset, error)
	Users(ds model.DatasetUUID) (map[model.UserID]model.User, error)
	Myself(ds model.DatasetUUID) (model.UserID, error)
	Chats(ds model.DatasetUUID) ([]model.Chat, error)
	Chat(ds model.DatasetUUID, id model.ChatID) (*model.Chat, error)

	First(ds model.DatasetUUID, chat model.ChatID, n int) ([]model.Message, error)
	Last(ds model.DatasetUUID, chat model.ChatID, n int) ([]model.Message, error)
	Scroll(ds model.DatasetUUID, chat model.ChatID, offset, n int) ([]model.Message, error)
	Before(ds model.DatasetUUID, chat model.ChatID, id model.MessageInternalID, n int) ([]model.Message, error)
	After(ds model.DatasetUUID, chat model.ChatID, id model.MessageInternalID, n int) ([]model.Message, error)
	Slice(ds model.DatasetUUID, chat model.ChatID, id1, id2 model.MessageInternalID) ([]model.Message, error)
	SliceLen(ds model.DatasetUUID, chat model.ChatID, id1, id2 model.MessageInternalID) (int64, error)
	AbbreviatedSlice(ds model.DatasetUUID, chat model.ChatID, id1, id2 model.MessageInternalID, combinedLimit, abbrevLimit int) ([]model.Message, int64, []model.Message, error)
	MessageBySourceID(ds model.DatasetUUID, chat model.ChatID, srcID model.MessageSourceID) (*model.Message, error)
}

// Source pairs a Reader with the on-disk media root backing it, the
// shape the merger and the copy-file protocol need to read a dataset's
// entities and its files interchangeably from either backend.
type Source interface {
	Reader
	Root(ds model.DatasetUUID) *dsroot.Root
}
