package merge

import (
	"testing"

	"github.com/wesm/chatvault/internal/compare"
	"github.com/wesm/chatvault/internal/diff"
	"github.com/wesm/chatvault/internal/memstore"
	"github.com/wesm/chatvault/internal/model"
	"github.com/wesm/chatvault/internal/store"
)

func strp(s string) *string { return &s }

func plainMsg(internalID int64, ts int64, srcID int64, from model.UserID, text string) model.Message {
	sid := model.MessageSourceID(srcID)
	return model.Message{
		InternalID:       model.MessageInternalID(internalID),
		SourceID:         &sid,
		Timestamp:        model.Timestamp(ts),
		FromID:           from,
		Text:             []model.RichTextElement{model.NewRichTextElement(model.RTEPlain, text)},
		SearchableString: text,
		TypeKind:         model.MessageRegular,
		Regular:          &model.Regular{},
	}
}

// decisionsFromSections mirrors the one-to-one mapping a caller (CLI
// or API) makes between diff.Analyze's output and the merger's
// per-section decisions when no conflicts need manual resolution
// (spec §4.4 step 1): Match stays matched, Retention keeps the
// master side, Addition pulls in the slave side.
func decisionsFromSections(sections []diff.Section) []MessagesMergeDecision {
	out := make([]MessagesMergeDecision, len(sections))
	for i, s := range sections {
		var kind MessagesMergeKind
		switch s.Kind {
		case diff.Match:
			kind = MsgMatch
		case diff.Retention:
			kind = MsgRetain
		case diff.Addition:
			kind = MsgAdd
		case diff.Conflict:
			kind = MsgReplace
		}
		out[i] = MessagesMergeDecision{
			Kind:        kind,
			FirstMaster: s.FirstMaster, LastMaster: s.LastMaster,
			FirstSlave: s.FirstSlave, LastSlave: s.LastSlave,
		}
	}
	return out
}

// TestMergeMatchedChatWithSlaveAddition covers spec §8 scenario S7: a
// Match section keeps the master copy, and a trailing slave-only
// Addition is folded in, producing one destination chat with every
// message attributed to the right final user.
func TestMergeMatchedChatWithSlaveAddition(t *testing.T) {
	master, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open master: %v", err)
	}
	defer master.Close()

	masterDS := model.NewDatasetUUID()
	if err := master.InsertDataset(model.Dataset{UUID: masterDS, Alias: "phone"}); err != nil {
		t.Fatalf("InsertDataset: %v", err)
	}
	if err := master.InsertUser(model.User{DsUUID: masterDS, ID: 1, FirstName: strp("Alice"), IsMyself: true}, nil); err != nil {
		t.Fatalf("InsertUser myself: %v", err)
	}
	if err := master.InsertUser(model.User{DsUUID: masterDS, ID: 2, FirstName: strp("Bob")}, nil); err != nil {
		t.Fatalf("InsertUser bob: %v", err)
	}
	masterChat := model.Chat{
		DsUUID: masterDS, ID: 10, Name: strp("Bob"),
		SourceType: model.SourceTextImport, Type: model.ChatPersonal,
		MemberIDs: []model.UserID{1, 2},
	}
	if err := master.InsertChat(masterChat, nil); err != nil {
		t.Fatalf("InsertChat master: %v", err)
	}
	if err := master.InsertMessages(masterDS, 10, []model.Message{
		plainMsg(0, 100, 1, 1, "hi"),
		plainMsg(0, 200, 2, 2, "there"),
	}, nil); err != nil {
		t.Fatalf("InsertMessages master: %v", err)
	}

	slave := memstore.New(t.TempDir())
	slaveDS := model.NewDatasetUUID()
	slave.AddDataset(model.Dataset{UUID: slaveDS, Alias: "laptop"})
	slave.AddUser(slaveDS, model.User{DsUUID: slaveDS, ID: 1, FirstName: strp("Alice"), IsMyself: true})
	slave.AddUser(slaveDS, model.User{DsUUID: slaveDS, ID: 2, FirstName: strp("Bob")})
	slaveChat := model.Chat{
		DsUUID: slaveDS, ID: 5, Name: strp("Bob"),
		SourceType: model.SourceTextImport, Type: model.ChatPersonal,
		MemberIDs: []model.UserID{1, 2},
	}
	slave.AddChat(slaveDS, slaveChat)
	slave.AddMessages(slaveDS, 5, []model.Message{
		plainMsg(1, 100, 1, 1, "hi"),
		plainMsg(2, 200, 2, 2, "there"),
		plainMsg(3, 300, 3, 1, "bye"),
	})

	cmp := &compare.Comparator{}
	sections, err := diff.Analyze(master, masterDS, 10, slave, slaveDS, 5, cmp, diff.Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(sections) != 2 || sections[0].Kind != diff.Match || sections[1].Kind != diff.Addition {
		t.Fatalf("want Match + Addition, got %+v", sections)
	}

	userDecisions := []UserMergeDecision{
		{Kind: UserMatchOrDontReplace, MasterID: 1, SlaveID: 1},
		{Kind: UserMatchOrDontReplace, MasterID: 2, SlaveID: 2},
	}
	chatDecisions := []ChatMergeDecision{
		{Kind: ChatMerge, MasterID: 10, SlaveID: 5, MessageMerges: decisionsFromSections(sections)},
	}

	dest, newDS, err := Merge(t.TempDir(), master, masterDS, slave, slaveDS, userDecisions, chatDecisions)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	defer dest.Close()

	msgs, err := dest.Last(newDS, 10, 10)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("want 3 merged messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].SearchableString != "hi" || msgs[1].SearchableString != "there" || msgs[2].SearchableString != "bye" {
		t.Fatalf("unexpected merged message order/content: %+v", msgs)
	}
	if msgs[2].FromID != 1 {
		t.Fatalf("want the added slave message attributed to final user 1, got %d", msgs[2].FromID)
	}

	gotChat, err := dest.Chat(newDS, 10)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if gotChat.MsgCount != 3 {
		t.Fatalf("want msg_count refreshed to 3, got %d", gotChat.MsgCount)
	}
	if !gotChat.HasMember(1) || !gotChat.HasMember(2) {
		t.Fatalf("want both final users as members, got %+v", gotChat.MemberIDs)
	}

	users, err := dest.Users(newDS)
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("want 2 merged users, got %d", len(users))
	}
}
