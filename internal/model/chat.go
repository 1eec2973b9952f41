package model

// Chat is a conversation within a dataset: personal or group, sourced
// from one messenger export. member_ids is ordered with myself first
// (spec §3.2, §3.3 invariant 2). A chat with MainChatID set is a slave
// of another chat (spec §3.4, GLOSSARY "Slave chat") — a one-level
// fan-in, never a general graph (spec §9).
type Chat struct {
	DsUUID     DatasetUUID
	ID         ChatID
	Name       *string
	SourceType SourceType
	Type       ChatType
	ImgPath    *string
	MemberIDs  []UserID
	MsgCount   int64
	MainChatID *ChatID
}

// IsSlave reports whether this chat is combined into another.
func (c *Chat) IsSlave() bool { return c.MainChatID != nil }

// Myself returns the chat's first member, which by invariant 2 must be
// the dataset's distinguished "myself" user whenever the chat has any
// members at all.
func (c *Chat) Myself() (UserID, bool) {
	if len(c.MemberIDs) == 0 {
		return InvalidUserID, false
	}
	return c.MemberIDs[0], true
}

// HasMember reports whether uid is a member of this chat.
func (c *Chat) HasMember(uid UserID) bool {
	for _, m := range c.MemberIDs {
		if m == uid {
			return true
		}
	}
	return false
}
