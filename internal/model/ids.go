// Package model defines the canonical in-memory data model shared by the
// durable store, the in-memory store, the diff analyzer and the merger:
// Dataset, User, Chat, Message, Content and RichText, plus the identity
// and ownership rules of spec §3.
package model

import "github.com/google/uuid"

// DatasetUUID is the 128-bit partition key for everything in a dataset.
type DatasetUUID = uuid.UUID

// ParseDatasetUUID parses the canonical textual form of a dataset UUID.
func ParseDatasetUUID(s string) (DatasetUUID, error) {
	return uuid.Parse(s)
}

// NewDatasetUUID generates a fresh random dataset UUID.
func NewDatasetUUID() DatasetUUID {
	return uuid.New()
}

// UserID uniquely identifies a user within a dataset. Zero is reserved
// as "invalid" (spec §3.1).
type UserID int64

// InvalidUserID is the reserved zero value.
const InvalidUserID UserID = 0

// ChatID uniquely identifies a chat within a dataset.
type ChatID int64

// MessageSourceID is the source-assigned message id, unique per chat
// where present. Sources that omit it leave SourceID unset.
type MessageSourceID int64

// MessageInternalID is assigned by the store: monotonically increasing
// within a chat, unique per dataset, stable across reads but never
// preserved across re-import (spec §3.1).
type MessageInternalID int64

// Timestamp is epoch seconds.
type Timestamp int64
