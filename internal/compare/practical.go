package compare

import (
	"github.com/wesm/chatvault/internal/dsroot"
	"github.com/wesm/chatvault/internal/model"
)

// MemberResolver resolves a member display-name string (as stored in
// Content.Members / Service.Members) to the user id it denotes on one
// side of a comparison, per spec §4.1.1's "members: [String] are
// resolved to user IDs against the chat's details before comparison".
type MemberResolver func(name string) (model.UserID, bool)

// Comparator holds the two dataset roots practical equality needs to
// resolve and open path-bearing fields.
type Comparator struct {
	LeftRoot, RightRoot *dsroot.Root
	ResolveLeftMember   MemberResolver
	ResolveRightMember  MemberResolver
}

// MessagesPracticallyEqual implements spec §4.1.1: internal ids,
// searchable_string, forward_from_name and edit_timestamp are
// ignored; path-bearing fields compare by file content; RichText
// Italic/Underline/Strikethrough on the right count as Bold on the
// left.
func (c *Comparator) MessagesPracticallyEqual(left, right *model.Message) bool {
	if left.Timestamp != right.Timestamp {
		return false
	}
	if left.FromID != right.FromID {
		return false
	}
	if left.TypeKind != right.TypeKind {
		return false
	}
	if !c.richTextEqual(left.Text, right.Text) {
		return false
	}

	switch left.TypeKind {
	case model.MessageRegular:
		return c.regularEqual(left.Regular, right.Regular)
	case model.MessageService:
		return c.serviceEqual(left.Service, right.Service)
	default:
		return false
	}
}

func (c *Comparator) richTextEqual(left, right []model.RichTextElement) bool {
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if !c.rteEqual(&left[i], &right[i]) {
			return false
		}
	}
	return true
}

// rteWidensToBold reports whether kind is one that a left-side Bold
// tolerates on the right (spec §4.1.1's "one source widened styling to
// bold" special case).
func rteWidensToBold(kind model.RichTextKind) bool {
	return kind == model.RTEItalic || kind == model.RTEUnderline || kind == model.RTEStrikethrough
}

func (c *Comparator) rteEqual(left, right *model.RichTextElement) bool {
	kindsEqual := left.Kind == right.Kind
	if !kindsEqual && left.Kind == model.RTEBold && rteWidensToBold(right.Kind) {
		kindsEqual = true
	}
	if !kindsEqual {
		return false
	}
	if left.Text != right.Text {
		return false
	}
	if left.Kind == model.RTELink {
		if left.Href != right.Href || left.Hidden != right.Hidden {
			return false
		}
		if !strPtrEqual(left.LinkText, right.LinkText) {
			return false
		}
	}
	if left.Kind == model.RTEPrefmtBlock {
		if !strPtrEqual(left.Language, right.Language) {
			return false
		}
	}
	return true
}

func (c *Comparator) regularEqual(left, right *model.Regular) bool {
	if left == nil || right == nil {
		return left == right
	}
	if left.IsDeleted != right.IsDeleted {
		return false
	}
	if !optSourceIDEqual(left.ReplyToSourceID, right.ReplyToSourceID) {
		return false
	}
	if len(left.Contents) != len(right.Contents) {
		return false
	}
	for i := range left.Contents {
		if !c.contentEqual(&left.Contents[i], &right.Contents[i]) {
			return false
		}
	}
	return true
}

func (c *Comparator) serviceEqual(left, right *model.Service) bool {
	if left == nil || right == nil {
		return left == right
	}
	if left.Kind != right.Kind {
		return false
	}
	if !intPtrEqual(left.DurationSec, right.DurationSec) {
		return false
	}
	if !strPtrEqual(left.DiscardReason, right.DiscardReason) {
		return false
	}
	if left.IsOneTime != right.IsOneTime {
		return false
	}
	if left.IsBlocked != right.IsBlocked {
		return false
	}
	if !strPtrEqual(left.Text, right.Text) {
		return false
	}
	if !c.membersEqual(left.Members, right.Members) {
		return false
	}
	if !chatIDPtrEqual(left.MigrateChatID, right.MigrateChatID) {
		return false
	}
	if left.Photo != nil || right.Photo != nil {
		return c.contentEqual(left.Photo, right.Photo)
	}
	return true
}

func (c *Comparator) contentEqual(left, right *model.Content) bool {
	if left == nil || right == nil {
		return left == right
	}
	if left.Kind != right.Kind {
		return false
	}
	if !c.pathFieldEqual(left.Path, right.Path) {
		return false
	}
	if !c.pathFieldEqual(left.ThumbnailPath, right.ThumbnailPath) {
		return false
	}
	if !strPtrEqual(left.FileName, right.FileName) {
		return false
	}
	if !strPtrEqual(left.MimeType, right.MimeType) {
		return false
	}
	if !strPtrEqual(left.Emoji, right.Emoji) {
		return false
	}
	if !strPtrEqual(left.Title, right.Title) {
		return false
	}
	if !strPtrEqual(left.Performer, right.Performer) {
		return false
	}
	if left.Lat != nil || right.Lat != nil || left.Lon != nil || right.Lon != nil {
		if !latLonEqual(left.Lat, right.Lat) || !latLonEqual(left.Lon, right.Lon) {
			return false
		}
	}
	if !strPtrEqual(left.Address, right.Address) {
		return false
	}
	if !strPtrEqual(left.PollQuestion, right.PollQuestion) {
		return false
	}
	if !strPtrEqual(left.FirstName, right.FirstName) {
		return false
	}
	if !strPtrEqual(left.LastName, right.LastName) {
		return false
	}
	if !strPtrEqual(left.PhoneNumber, right.PhoneNumber) {
		return false
	}
	return c.membersEqual(left.Members, right.Members)
}

// pathFieldEqual compares a path-bearing field by file content: if
// both sides are missing or neither file exists, equal; if one side
// has content and the other doesn't, still equal (spec §4.1.1 —
// "some sources strip content on re-export").
func (c *Comparator) pathFieldEqual(left, right *string) bool {
	leftExists := left != nil && c.LeftRoot != nil && c.LeftRoot.Exists(*left)
	rightExists := right != nil && c.RightRoot != nil && c.RightRoot.Exists(*right)

	if !leftExists || !rightExists {
		return true
	}

	leftAbs, err := c.LeftRoot.Abs(*left)
	if err != nil {
		return false
	}
	rightAbs, err := c.RightRoot.Abs(*right)
	if err != nil {
		return false
	}
	leftHash, err := dsroot.HashFile(leftAbs)
	if err != nil {
		return false
	}
	rightHash, err := dsroot.HashFile(rightAbs)
	if err != nil {
		return false
	}
	return leftHash == rightHash
}

// membersEqual implements the members-list tolerance rule: members
// that disappeared on the right are tolerated, members that appeared
// on the right are not.
func (c *Comparator) membersEqual(left, right []string) bool {
	leftIDs := c.resolveMembers(c.ResolveLeftMember, left)
	rightIDs := c.resolveMembers(c.ResolveRightMember, right)

	for id := range rightIDs {
		if !leftIDs[id] {
			return false
		}
	}
	return true
}

func (c *Comparator) resolveMembers(resolve MemberResolver, names []string) map[model.UserID]bool {
	out := make(map[model.UserID]bool, len(names))
	if resolve == nil {
		return out
	}
	for _, n := range names {
		if id, ok := resolve(n); ok {
			out[id] = true
		}
	}
	return out
}

func latLonEqual(left, right *string) bool {
	if left == nil || right == nil {
		return left == right
	}
	return CompareLatLon(*left, *right) == Equal
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func optSourceIDEqual(a, b *model.MessageSourceID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func chatIDPtrEqual(a, b *model.ChatID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
