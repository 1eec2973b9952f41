package diff

import (
	"testing"

	"github.com/google/uuid"

	"github.com/wesm/chatvault/internal/compare"
	"github.com/wesm/chatvault/internal/memstore"
	"github.com/wesm/chatvault/internal/model"
)

func srcID(n int64) *model.MessageSourceID {
	id := model.MessageSourceID(n)
	return &id
}

func plainMsg(internalID model.MessageInternalID, ts int64, from model.UserID, src *model.MessageSourceID, text string) model.Message {
	return model.Message{
		InternalID:       internalID,
		SourceID:         src,
		Timestamp:        model.Timestamp(ts),
		FromID:           from,
		Text:             []model.RichTextElement{model.NewRichTextElement(model.RTEPlain, text)},
		SearchableString: text,
		TypeKind:         model.MessageRegular,
		Regular:          &model.Regular{},
	}
}

func newTestStore(msgs []model.Message) (*memstore.Store, model.DatasetUUID, model.ChatID) {
	s := memstore.New("")
	ds := model.DatasetUUID(uuid.New())
	chat := model.ChatID(1)
	s.AddDataset(model.Dataset{UUID: ds})
	s.AddChat(ds, model.Chat{ID: chat})
	s.AddMessages(ds, chat, msgs)
	return s, ds, chat
}

func TestAnalyzeIdenticalChatsIsOneMatch(t *testing.T) {
	msgs := []model.Message{
		plainMsg(1, 100, 1, srcID(1), "hi"),
		plainMsg(2, 200, 1, srcID(2), "there"),
		plainMsg(3, 300, 1, srcID(3), "bye"),
	}
	master, mds, mchat := newTestStore(msgs)
	slave, sds, schat := newTestStore(append([]model.Message(nil), msgs...))

	cmp := &compare.Comparator{}
	sections, err := Analyze(master, mds, mchat, slave, sds, schat, cmp, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(sections) != 1 || sections[0].Kind != Match {
		t.Fatalf("want single Match section, got %+v", sections)
	}
	if sections[0].FirstMaster != 1 || sections[0].LastMaster != 3 {
		t.Fatalf("unexpected master range: %+v", sections[0])
	}
}

func TestAnalyzeSlaveHasExtraTrailingMessage(t *testing.T) {
	masterMsgs := []model.Message{
		plainMsg(1, 100, 1, srcID(1), "hi"),
		plainMsg(2, 200, 1, srcID(2), "there"),
	}
	slaveMsgs := []model.Message{
		plainMsg(1, 100, 1, srcID(1), "hi"),
		plainMsg(2, 200, 1, srcID(2), "there"),
		plainMsg(3, 300, 1, srcID(3), "bye"),
	}
	master, mds, mchat := newTestStore(masterMsgs)
	slave, sds, schat := newTestStore(slaveMsgs)

	cmp := &compare.Comparator{}
	sections, err := Analyze(master, mds, mchat, slave, sds, schat, cmp, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("want Match + Addition, got %+v", sections)
	}
	if sections[0].Kind != Match {
		t.Fatalf("first section should be Match, got %v", sections[0].Kind)
	}
	if sections[1].Kind != Addition || !sections[1].HasSlave || sections[1].HasMaster {
		t.Fatalf("second section should be slave-only Addition, got %+v", sections[1])
	}
}

func TestAnalyzeMasterHasExtraMessage(t *testing.T) {
	masterMsgs := []model.Message{
		plainMsg(1, 100, 1, srcID(1), "hi"),
		plainMsg(2, 200, 1, srcID(2), "there"),
		plainMsg(3, 300, 1, srcID(3), "bye"),
	}
	slaveMsgs := []model.Message{
		plainMsg(1, 100, 1, srcID(1), "hi"),
		plainMsg(2, 200, 1, srcID(2), "there"),
	}
	master, mds, mchat := newTestStore(masterMsgs)
	slave, sds, schat := newTestStore(slaveMsgs)

	cmp := &compare.Comparator{}
	sections, err := Analyze(master, mds, mchat, slave, sds, schat, cmp, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(sections) != 2 || sections[1].Kind != Retention {
		t.Fatalf("want Match + Retention, got %+v", sections)
	}
	if !sections[1].HasMaster || sections[1].HasSlave {
		t.Fatalf("retention section should be master-only, got %+v", sections[1])
	}
}

func TestAnalyzeConflictingContentSameSourceID(t *testing.T) {
	masterMsgs := []model.Message{plainMsg(1, 100, 1, srcID(1), "original text")}
	slaveMsgs := []model.Message{plainMsg(1, 100, 1, srcID(1), "edited text")}
	master, mds, mchat := newTestStore(masterMsgs)
	slave, sds, schat := newTestStore(slaveMsgs)

	cmp := &compare.Comparator{}
	sections, err := Analyze(master, mds, mchat, slave, sds, schat, cmp, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(sections) != 1 || sections[0].Kind != Conflict {
		t.Fatalf("want single Conflict section, got %+v", sections)
	}
}

func TestAnalyzeAmbiguousOrderingIsFatal(t *testing.T) {
	masterMsgs := []model.Message{plainMsg(1, 100, 1, nil, "alpha")}
	slaveMsgs := []model.Message{plainMsg(1, 100, 1, nil, "beta")}
	master, mds, mchat := newTestStore(masterMsgs)
	slave, sds, schat := newTestStore(slaveMsgs)

	cmp := &compare.Comparator{}
	_, err := Analyze(master, mds, mchat, slave, sds, schat, cmp, Options{})
	if err == nil {
		t.Fatal("want ambiguous-ordering error, got nil")
	}
}

func TestApplyForceConflictCollapsesMiddleSections(t *testing.T) {
	sections := []Section{
		{Kind: Match, HasMaster: true, HasSlave: true, FirstMaster: 1, LastMaster: 1, FirstSlave: 1, LastSlave: 1},
		{Kind: Retention, HasMaster: true, FirstMaster: 2, LastMaster: 2},
		{Kind: Addition, HasSlave: true, FirstSlave: 2, LastSlave: 2},
		{Kind: Match, HasMaster: true, HasSlave: true, FirstMaster: 3, LastMaster: 3, FirstSlave: 3, LastSlave: 3},
	}
	out := applyForceConflict(sections)
	if len(out) != 3 {
		t.Fatalf("want 3 sections after collapse, got %d: %+v", len(out), out)
	}
	if out[0].Kind != Match || out[2].Kind != Match {
		t.Fatalf("leading/trailing Match sections should survive, got %+v", out)
	}
	if out[1].Kind != Conflict || out[1].FirstMaster != 2 || out[1].FirstSlave != 2 {
		t.Fatalf("middle section should be a merged Conflict, got %+v", out[1])
	}
}

func TestApplyForceConflictNoOpWhenAllMatch(t *testing.T) {
	sections := []Section{
		{Kind: Match, HasMaster: true, HasSlave: true},
		{Kind: Match, HasMaster: true, HasSlave: true},
	}
	out := applyForceConflict(sections)
	if len(out) != 2 {
		t.Fatalf("all-Match input should pass through unchanged, got %+v", out)
	}
}
