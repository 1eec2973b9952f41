package compare

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/wesm/chatvault/internal/dsroot"
	"github.com/wesm/chatvault/internal/model"
)

func TestFold(t *testing.T) {
	if Fold(Equal, LeftHasMore) != LeftHasMore {
		t.Error("Equal should be identity")
	}
	if Fold(LeftHasMore, Equal) != LeftHasMore {
		t.Error("Equal should be identity (right side)")
	}
	if Fold(LeftHasMore, LeftHasMore) != LeftHasMore {
		t.Error("same non-equal values should pass through")
	}
	if Fold(LeftHasMore, RightHasMore) != Conflict {
		t.Error("distinct non-equal values should conflict")
	}
	if Fold(Conflict, Equal) != Conflict {
		t.Error("conflict should be absorbing")
	}
}

func TestCompareOption(t *testing.T) {
	var none, some *int
	x := 5
	some = &x
	if CompareOption(none, (*int)(nil), func(l, r int) Ordering { return Equal }) != Equal {
		t.Error("None,None should be Equal")
	}
	if CompareOption(some, (*int)(nil), func(l, r int) Ordering { return Equal }) != LeftHasMore {
		t.Error("Some,None should be LeftHasMore")
	}
	if CompareOption((*int)(nil), some, func(l, r int) Ordering { return Equal }) != RightHasMore {
		t.Error("None,Some should be RightHasMore")
	}
}

func TestCompareLatLon(t *testing.T) {
	cases := []struct{ l, r string; want Ordering }{
		{"1.5000", "1.5", Equal},
		{"1.50", "1.500", Equal},
		{"1.5", "1.53", RightHasMore},
		{"1.53", "1.5", LeftHasMore},
		{"1.5", "2.7", Conflict},
	}
	for _, tc := range cases {
		if got := CompareLatLon(tc.l, tc.r); got != tc.want {
			t.Errorf("CompareLatLon(%q,%q) = %v, want %v", tc.l, tc.r, got, tc.want)
		}
	}
}

func strp(s string) *string { return &s }

func TestMessagesPracticallyEqualIgnoresInternalFields(t *testing.T) {
	c := &Comparator{}
	left := &model.Message{
		InternalID: 1, Timestamp: 100, FromID: 1,
		SearchableString: "left string",
		Text:             []model.RichTextElement{model.NewRichTextElement(model.RTEPlain, "hello")},
		TypeKind:         model.MessageRegular,
		Regular:          &model.Regular{ForwardFromName: strp("Bob"), EditTimestamp: tsp(5)},
	}
	right := &model.Message{
		InternalID: 99, Timestamp: 100, FromID: 1,
		SearchableString: "right string",
		Text:             []model.RichTextElement{model.NewRichTextElement(model.RTEPlain, "hello")},
		TypeKind:         model.MessageRegular,
		Regular:          &model.Regular{ForwardFromName: nil, EditTimestamp: nil},
	}
	if !c.MessagesPracticallyEqual(left, right) {
		t.Error("expected practical equality ignoring internal id / searchable_string / forward_from_name / edit_timestamp")
	}
}

func tsp(v model.Timestamp) *model.Timestamp { return &v }

func TestRichTextBoldWidensOnRight(t *testing.T) {
	c := &Comparator{}
	left := []model.RichTextElement{model.NewRichTextElement(model.RTEBold, "x")}
	for _, k := range []model.RichTextKind{model.RTEItalic, model.RTEUnderline, model.RTEStrikethrough} {
		right := []model.RichTextElement{model.NewRichTextElement(k, "x")}
		if !c.richTextEqual(left, right) {
			t.Errorf("Bold(left) vs %s(right) should be equal", k)
		}
	}
	// Not symmetric: italic on the left vs bold on the right is not tolerated.
	leftItalic := []model.RichTextElement{model.NewRichTextElement(model.RTEItalic, "x")}
	rightBold := []model.RichTextElement{model.NewRichTextElement(model.RTEBold, "x")}
	if c.richTextEqual(leftItalic, rightBold) {
		t.Error("the widening rule should not be symmetric")
	}
}

func TestPathFieldEqualByteContent(t *testing.T) {
	leftRoot := dsroot.New(t.TempDir(), uuid.New())
	rightRoot := dsroot.New(t.TempDir(), uuid.New())
	c := &Comparator{LeftRoot: leftRoot, RightRoot: rightRoot}

	writeFile(t, leftRoot, "chat_1/photos/ab/cd.jpg", "same bytes")
	writeFile(t, rightRoot, "chat_1/photos/ab/cd.jpg", "same bytes")
	l, r := "chat_1/photos/ab/cd.jpg", "chat_1/photos/ab/cd.jpg"
	if !c.pathFieldEqual(&l, &r) {
		t.Error("identical file content should be equal")
	}

	writeFile(t, rightRoot, "chat_1/photos/ab/ce.jpg", "different bytes")
	r2 := "chat_1/photos/ab/ce.jpg"
	if c.pathFieldEqual(&l, &r2) {
		t.Error("different file content should not be equal")
	}

	// One side missing entirely is tolerated (content stripped on re-export).
	missing := "chat_1/photos/ab/missing.jpg"
	if !c.pathFieldEqual(&l, &missing) {
		t.Error("one side missing should be tolerated as equal")
	}
}

func writeFile(t *testing.T, root *dsroot.Root, relative, content string) {
	t.Helper()
	abs, err := root.Abs(relative)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMembersEqualToleratesDisappearedNotAppeared(t *testing.T) {
	resolveBoth := func(name string) (model.UserID, bool) {
		switch name {
		case "Alice":
			return 1, true
		case "Bob":
			return 2, true
		case "Carol":
			return 3, true
		}
		return 0, false
	}
	c := &Comparator{ResolveLeftMember: resolveBoth, ResolveRightMember: resolveBoth}

	// Bob disappeared on the right: tolerated.
	if !c.membersEqual([]string{"Alice", "Bob"}, []string{"Alice"}) {
		t.Error("a member disappearing on the right should be tolerated")
	}
	// Carol appeared on the right: not tolerated.
	if c.membersEqual([]string{"Alice"}, []string{"Alice", "Carol"}) {
		t.Error("a member appearing on the right should not be tolerated")
	}
}
