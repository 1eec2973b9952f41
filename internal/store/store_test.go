package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wesm/chatvault/internal/dsroot"
	"github.com/wesm/chatvault/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strp(s string) *string { return &s }

func textMessage(internalID int64, srcID int64, ts int64, from model.UserID, text string) model.Message {
	sid := model.MessageSourceID(srcID)
	return model.Message{
		SourceID:         &sid,
		Timestamp:        model.Timestamp(ts),
		FromID:           from,
		Text:             []model.RichTextElement{model.NewRichTextElement(model.RTEPlain, text)},
		SearchableString: text,
		TypeKind:         model.MessageRegular,
		Regular:          &model.Regular{},
	}
}

func seedDataset(t *testing.T, s *Store, ds model.DatasetUUID) model.ChatID {
	t.Helper()
	if err := s.InsertDataset(model.Dataset{UUID: ds, Alias: "test"}); err != nil {
		t.Fatalf("InsertDataset: %v", err)
	}
	me := model.User{DsUUID: ds, ID: 1, FirstName: strp("Alice"), IsMyself: true}
	other := model.User{DsUUID: ds, ID: 2, FirstName: strp("Bob")}
	if err := s.InsertUser(me, nil); err != nil {
		t.Fatalf("InsertUser myself: %v", err)
	}
	if err := s.InsertUser(other, nil); err != nil {
		t.Fatalf("InsertUser other: %v", err)
	}
	chat := model.Chat{
		DsUUID:     ds,
		ID:         10,
		Name:       strp("Bob"),
		SourceType: model.SourceTextImport,
		Type:       model.ChatPersonal,
		MemberIDs:  []model.UserID{1, 2},
	}
	if err := s.InsertChat(chat, nil); err != nil {
		t.Fatalf("InsertChat: %v", err)
	}
	return chat.ID
}

// S1: copy a dataset from one store into another and read it back.
func TestCopyDatasetsFromAndRead(t *testing.T) {
	src := openTestStore(t)
	ds := model.NewDatasetUUID()
	chat := seedDataset(t, src, ds)
	msgs := []model.Message{
		textMessage(0, 1, 100, 1, "hi"),
		textMessage(0, 2, 200, 2, "there"),
	}
	if err := src.InsertMessages(ds, chat, msgs, nil); err != nil {
		t.Fatalf("InsertMessages: %v", err)
	}

	dst := openTestStore(t)
	if err := dst.CopyDatasetsFrom(src, []model.DatasetUUID{ds}); err != nil {
		t.Fatalf("CopyDatasetsFrom: %v", err)
	}

	got, err := dst.Last(ds, chat, 10)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(got) != 2 || got[0].SearchableString != "hi" || got[1].SearchableString != "there" {
		t.Fatalf("unexpected copied messages: %+v", got)
	}

	users, err := dst.Users(ds)
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("want 2 copied users, got %d", len(users))
	}
}

// S2: AbbreviatedSlice returns the full range when it fits the
// combined limit, and a left/gap/right split otherwise (spec §4.2.5).
func TestAbbreviatedSlice(t *testing.T) {
	s := openTestStore(t)
	ds := model.NewDatasetUUID()
	chat := seedDataset(t, s, ds)

	var msgs []model.Message
	for i := int64(1); i <= 10; i++ {
		msgs = append(msgs, textMessage(0, i, 1000+i, 1, "msg"))
	}
	if err := s.InsertMessages(ds, chat, msgs, nil); err != nil {
		t.Fatalf("InsertMessages: %v", err)
	}

	all, err := s.First(ds, chat, 10)
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if len(all) != 10 {
		t.Fatalf("want 10 seeded messages, got %d", len(all))
	}
	first, last := all[0].InternalID, all[len(all)-1].InternalID

	left, gap, right, err := s.AbbreviatedSlice(ds, chat, first, last, 20, 3)
	if err != nil {
		t.Fatalf("AbbreviatedSlice full: %v", err)
	}
	if gap != 0 || len(left) != 10 || len(right) != 0 {
		t.Fatalf("want full range with no gap, got left=%d gap=%d right=%d", len(left), gap, len(right))
	}

	left, gap, right, err = s.AbbreviatedSlice(ds, chat, first, last, 4, 2)
	if err != nil {
		t.Fatalf("AbbreviatedSlice abbreviated: %v", err)
	}
	if len(left) != 2 || len(right) != 2 {
		t.Fatalf("want 2/2 ends, got left=%d right=%d", len(left), len(right))
	}
	if gap != 6 {
		t.Fatalf("want gap of 6 (10 - 2*2), got %d", gap)
	}
}

// S3: update_user cascades id changes and renames the personal chat.
func TestUpdateUserIDCascade(t *testing.T) {
	s := openTestStore(t)
	ds := model.NewDatasetUUID()
	chat := seedDataset(t, s, ds)
	if err := s.InsertMessages(ds, chat, []model.Message{
		textMessage(0, 1, 100, 2, "from bob"),
	}, nil); err != nil {
		t.Fatalf("InsertMessages: %v", err)
	}

	updated := model.User{DsUUID: ds, ID: 112233, FirstName: strp("Robert")}
	if err := s.UpdateUser(ds, 2, updated); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	users, err := s.Users(ds)
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if _, stillThere := users[2]; stillThere {
		t.Fatalf("old user id 2 should be gone")
	}
	if u, ok := users[112233]; !ok || u.FirstName == nil || *u.FirstName != "Robert" {
		t.Fatalf("want renamed user at new id, got %+v", users[112233])
	}

	msgs, err := s.Last(ds, chat, 10)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(msgs) != 1 || msgs[0].FromID != 112233 {
		t.Fatalf("want message.from_id cascaded to new id, got %+v", msgs)
	}

	got, err := s.Chat(ds, chat)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !got.HasMember(112233) {
		t.Fatalf("want chat_member cascaded to new id, got %+v", got.MemberIDs)
	}
	if got.Name == nil || *got.Name != "Robert" {
		t.Fatalf("want personal chat renamed to new pretty name, got %v", got.Name)
	}
}

// S4: delete_chat moves its owned media files into the dated backup
// tree instead of unlinking them (spec §4.2.6).
func TestDeleteChatMovesFilesToBackup(t *testing.T) {
	s := openTestStore(t)
	ds := model.NewDatasetUUID()

	srcDS := model.NewDatasetUUID()
	srcRoot := dsroot.New(t.TempDir(), srcDS)
	imgAbs, err := srcRoot.Abs("avatar.jpg")
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(imgAbs), 0o755); err != nil {
		t.Fatalf("mkdir fixture dir: %v", err)
	}
	if err := os.WriteFile(imgAbs, []byte("fake-jpeg-bytes"), 0o644); err != nil {
		t.Fatalf("write fixture image: %v", err)
	}

	if err := s.InsertDataset(model.Dataset{UUID: ds}); err != nil {
		t.Fatalf("InsertDataset: %v", err)
	}
	me := model.User{DsUUID: ds, ID: 1, FirstName: strp("Alice"), IsMyself: true}
	if err := s.InsertUser(me, nil); err != nil {
		t.Fatalf("InsertUser: %v", err)
	}

	chat := model.Chat{
		DsUUID:     ds,
		ID:         10,
		SourceType: model.SourceTextImport,
		Type:       model.ChatPersonal,
		MemberIDs:  []model.UserID{1},
		ImgPath:    strp("avatar.jpg"),
	}
	if err := s.InsertChat(chat, srcRoot); err != nil {
		t.Fatalf("InsertChat: %v", err)
	}

	got, err := s.Chat(ds, chat.ID)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got.ImgPath == nil {
		t.Fatalf("want chat img copied into the dataset root")
	}
	copiedAbs, err := s.Root(ds).Abs(*got.ImgPath)
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}
	if _, err := os.Stat(copiedAbs); err != nil {
		t.Fatalf("copied chat image missing before delete: %v", err)
	}

	if err := s.DeleteChat(ds, chat.ID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}

	if _, err := os.Stat(copiedAbs); !os.IsNotExist(err) {
		t.Fatalf("want chat image removed from its original location, err=%v", err)
	}
	backupRoot := backupsDir(s.StorageRoot)
	entries, err := os.ReadDir(backupRoot)
	if err != nil || len(entries) == 0 {
		t.Fatalf("want a dated backup directory created, err=%v entries=%v", err, entries)
	}

	if _, err := s.Chat(ds, chat.ID); err == nil {
		t.Fatalf("want chat gone after delete")
	}
}

// ShiftDatasetTime applied and then inverse-applied is a no-op.
func TestShiftDatasetTimeIsInvertible(t *testing.T) {
	s := openTestStore(t)
	ds := model.NewDatasetUUID()
	chat := seedDataset(t, s, ds)
	if err := s.InsertMessages(ds, chat, []model.Message{
		textMessage(0, 1, 1000, 1, "hi"),
	}, nil); err != nil {
		t.Fatalf("InsertMessages: %v", err)
	}

	if err := s.ShiftDatasetTime(ds, 3); err != nil {
		t.Fatalf("ShiftDatasetTime +3h: %v", err)
	}
	if err := s.ShiftDatasetTime(ds, -3); err != nil {
		t.Fatalf("ShiftDatasetTime -3h: %v", err)
	}

	msgs, err := s.Last(ds, chat, 10)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Timestamp != 1000 {
		t.Fatalf("want timestamp restored to 1000, got %+v", msgs)
	}
}
