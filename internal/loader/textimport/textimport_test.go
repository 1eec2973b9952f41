package textimport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wesm/chatvault/internal/loader"
	"github.com/wesm/chatvault/internal/prompt"
)

func writeTranscript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.txt")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	return path
}

func TestLoadTwoPartyTranscript(t *testing.T) {
	path := writeTranscript(t, "200 Bob: there\n100 Alice: hi\n")

	l := New()
	if !l.LooksAboutRight(path) {
		t.Fatalf("want LooksAboutRight true for .txt path")
	}

	store, ds, err := l.Load(path, prompt.Static{MyselfIndex: 0})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	chats, err := store.Chats(ds)
	if err != nil || len(chats) != 1 {
		t.Fatalf("want 1 chat, got %+v err=%v", chats, err)
	}
	chat := chats[0]
	if chat.MsgCount != 2 {
		t.Fatalf("want msg_count 2, got %d", chat.MsgCount)
	}

	myself, err := store.Myself(ds)
	if err != nil {
		t.Fatalf("Myself: %v", err)
	}
	if !chat.HasMember(myself) || chat.MemberIDs[0] != myself {
		t.Fatalf("want myself as first chat member, got %+v myself=%d", chat.MemberIDs, myself)
	}

	msgs, err := store.First(ds, chat.ID, 10)
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}
	if msgs[0].SearchableString != "hi" || msgs[1].SearchableString != "there" {
		t.Fatalf("want messages ordered by timestamp, got %+v", msgs)
	}
	if msgs[0].InternalID != 0 || msgs[1].InternalID != 1 {
		t.Fatalf("want dense internal ids starting at 0, got %d,%d", msgs[0].InternalID, msgs[1].InternalID)
	}
}

func TestRegistryDetectAndDispatch(t *testing.T) {
	path := writeTranscript(t, "100 Alice: hi\n")
	reg := loader.NewRegistry(New())

	found, err := reg.Detect(path)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if found.Name() != "text_import" {
		t.Fatalf("want text_import loader, got %s", found.Name())
	}

	if _, err := reg.Get("does-not-exist"); err == nil {
		t.Fatal("want error for unknown loader name")
	}
}
