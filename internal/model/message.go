package model

// MessageTypeKind distinguishes Regular user messages from Service
// (system) messages (spec §3.2).
type MessageTypeKind string

const (
	MessageRegular MessageTypeKind = "regular"
	MessageService MessageTypeKind = "service"
)

// ServiceKind is the closed set of service-message subtypes.
type ServiceKind string

const (
	SvcPhoneCall            ServiceKind = "phone_call"
	SvcSuggestProfilePhoto  ServiceKind = "suggest_profile_photo"
	SvcPinMessage           ServiceKind = "pin_message"
	SvcClearHistory         ServiceKind = "clear_history"
	SvcBlockUser            ServiceKind = "block_user"
	SvcStatusTextChanged    ServiceKind = "status_text_changed"
	SvcNotice               ServiceKind = "notice"
	SvcGroupCreate          ServiceKind = "group_create"
	SvcGroupEditTitle       ServiceKind = "group_edit_title"
	SvcGroupEditPhoto       ServiceKind = "group_edit_photo"
	SvcGroupDeletePhoto     ServiceKind = "group_delete_photo"
	SvcGroupInviteMembers   ServiceKind = "group_invite_members"
	SvcGroupRemoveMembers   ServiceKind = "group_remove_members"
	SvcGroupMigrateFrom     ServiceKind = "group_migrate_from"
	SvcGroupMigrateTo       ServiceKind = "group_migrate_to"
)

// Service holds the payload for a Service message. Which fields are
// meaningful depends on Kind; the store writes this through the same
// message_content row shape as Regular content (spec §9 "Content
// tagged union").
type Service struct {
	Kind ServiceKind

	// PhoneCall
	DurationSec    *int
	DiscardReason  *string
	IsOneTime      bool

	// PinMessage
	PinnedMessageSourceID *MessageSourceID

	// BlockUser
	IsBlocked bool

	// StatusTextChanged / Notice / GroupEditTitle
	Text *string

	// GroupEditPhoto / SuggestProfilePhoto
	Photo *Content

	// GroupInviteMembers / GroupRemoveMembers / GroupCreate
	Members []string

	// GroupMigrateFrom / GroupMigrateTo
	MigrateChatID *ChatID
}

// Regular holds the payload for a Regular (user-authored) message.
type Regular struct {
	EditTimestamp      *Timestamp
	IsDeleted          bool
	ForwardFromName    *string
	ReplyToSourceID    *MessageSourceID
	Contents           []Content
}

// Message is one entry in a chat's ordered message sequence (spec
// §3.2). Exactly one of Regular or Service is set, selected by
// TypeKind.
type Message struct {
	InternalID       MessageInternalID
	SourceID         *MessageSourceID
	Timestamp        Timestamp
	FromID           UserID
	Text             []RichTextElement
	SearchableString string

	TypeKind MessageTypeKind
	Regular  *Regular
	Service  *Service
}

// IsRegular reports whether this is a Regular message.
func (m *Message) IsRegular() bool { return m.TypeKind == MessageRegular }

// IsService reports whether this is a Service message.
func (m *Message) IsService() bool { return m.TypeKind == MessageService }

// Validate checks invariant 4 (from_id is a chat member) and the
// Regular/Service tagging invariant.
func (m *Message) Validate(chat *Chat) error {
	if !chat.HasMember(m.FromID) {
		return errFromIDNotMember
	}
	switch m.TypeKind {
	case MessageRegular:
		if m.Regular == nil {
			return errMissingRegularPayload
		}
	case MessageService:
		if m.Service == nil {
			return errMissingServicePayload
		}
	default:
		return errUnknownMessageType
	}
	return nil
}
