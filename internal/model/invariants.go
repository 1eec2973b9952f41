package model

import "fmt"

// Snapshot is a fully materialized dataset: every user, chat and its
// messages. It's the shape the in-memory store holds and the shape
// invariant checks (spec §3.3, §8) are run against in tests.
type Snapshot struct {
	Dataset  Dataset
	Users    []User
	Chats    []Chat
	Messages map[ChatID][]Message
}

// CheckInvariants validates the invariants in spec §3.3 that can be
// checked from an in-memory snapshot: 2,3,4,5 and 8 are checked here; 1
// is cross-dataset and trivially true for a single Snapshot; 6 (media
// paths), 7 and 9 are not checked here.
func (s *Snapshot) CheckInvariants() error {
	usersByID := make(map[UserID]*User, len(s.Users))
	myselfCount := 0
	for i := range s.Users {
		u := &s.Users[i]
		usersByID[u.ID] = u
		if u.IsMyself {
			myselfCount++
		}
	}
	if myselfCount != 1 {
		return fmt.Errorf("invariant 2: expected exactly one myself user, found %d", myselfCount)
	}

	for i := range s.Chats {
		c := &s.Chats[i]
		if len(c.MemberIDs) > 0 {
			myself := usersByID[c.MemberIDs[0]]
			if myself == nil || !myself.IsMyself {
				return fmt.Errorf("invariant 2: chat %d member[0] is not myself", c.ID)
			}
		}
		for _, mid := range c.MemberIDs {
			if _, ok := usersByID[mid]; !ok {
				return fmt.Errorf("invariant 3: chat %d references unknown user %d", c.ID, mid)
			}
		}

		msgs := s.Messages[c.ID]
		if int64(len(msgs)) != c.MsgCount {
			return fmt.Errorf("invariant 5: chat %d msg_count=%d but has %d messages", c.ID, c.MsgCount, len(msgs))
		}
		for _, m := range msgs {
			if !c.HasMember(m.FromID) {
				return fmt.Errorf("invariant 4: message %d from_id %d not a member of chat %d", m.InternalID, m.FromID, c.ID)
			}
		}

		if c.MainChatID != nil {
			main := findChat(s.Chats, *c.MainChatID)
			if main == nil {
				return fmt.Errorf("invariant 8: chat %d main_chat_id points to missing chat", c.ID)
			}
			if main.IsSlave() {
				return fmt.Errorf("invariant 8: chat %d main_chat_id points to a slave chat", c.ID)
			}
		}
	}
	return nil
}

func findChat(chats []Chat, id ChatID) *Chat {
	for i := range chats {
		if chats[i].ID == id {
			return &chats[i]
		}
	}
	return nil
}
