package model

import "testing"

func strp(s string) *string { return &s }

func TestPrettyNameFallback(t *testing.T) {
	cases := []struct {
		name string
		u    User
		want string
	}{
		{"first+last", User{FirstName: strp("Ann"), LastName: strp("Lee")}, "Ann Lee"},
		{"first only", User{FirstName: strp("Ann")}, "Ann"},
		{"last only", User{LastName: strp("Lee")}, "Lee"},
		{"username only", User{Username: strp("annlee")}, "annlee"},
		{"nothing", User{}, "User"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.u.PrettyName(); got != tc.want {
				t.Errorf("PrettyName() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestUserValidate(t *testing.T) {
	if err := (&User{ID: 0}).Validate(); err == nil {
		t.Error("expected error for id=0")
	}
	if err := (&User{ID: -1}).Validate(); err == nil {
		t.Error("expected error for negative id")
	}
	if err := (&User{ID: 7}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRichTextSearchableString(t *testing.T) {
	e := NewRichTextElement(RTELink, "click  me", WithHref("http://example.com", false))
	if e.SearchableString != "click me http://example.com" {
		t.Errorf("got %q", e.SearchableString)
	}

	plain := NewRichTextElement(RTEPlain, "  hello   world  ")
	if plain.SearchableString != "hello world" {
		t.Errorf("got %q", plain.SearchableString)
	}
}

func TestComputeMessageSearchableString(t *testing.T) {
	text := []RichTextElement{NewRichTextElement(RTEPlain, "hi there")}
	reg := &Regular{Contents: []Content{{Kind: ContentFile, FileName: strp("report.pdf")}}}
	got := ComputeMessageSearchableString(text, reg)
	if got != "hi there report.pdf" {
		t.Errorf("got %q", got)
	}
}

func TestSnapshotInvariants(t *testing.T) {
	ds := Dataset{UUID: NewDatasetUUID(), Alias: "test"}
	myself := User{ID: 1, IsMyself: true, FirstName: strp("Me")}
	other := User{ID: 2, FirstName: strp("Other")}
	chat := Chat{ID: 10, MemberIDs: []UserID{1, 2}, MsgCount: 1, Type: ChatPersonal, SourceType: SourceTelegram}
	msg := Message{InternalID: 0, FromID: 2, TypeKind: MessageRegular, Regular: &Regular{}}

	snap := &Snapshot{
		Dataset:  ds,
		Users:    []User{myself, other},
		Chats:    []Chat{chat},
		Messages: map[ChatID][]Message{10: {msg}},
	}
	if err := snap.CheckInvariants(); err != nil {
		t.Fatalf("expected valid snapshot: %v", err)
	}

	// Break invariant 4: from_id not a member.
	bad := *snap
	bad.Messages = map[ChatID][]Message{10: {{InternalID: 0, FromID: 99, TypeKind: MessageRegular, Regular: &Regular{}}}}
	if err := bad.CheckInvariants(); err == nil {
		t.Error("expected invariant violation for unknown from_id")
	}
}
