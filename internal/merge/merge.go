// Package merge implements Component G: folding a slave dataset into a
// master dataset according to caller-supplied per-user and per-chat
// decisions, producing a brand-new destination store (spec §4.4).
package merge

import (
	"os"

	"github.com/rotisserie/eris"

	"github.com/wesm/chatvault/internal/apperr"
	"github.com/wesm/chatvault/internal/chatdao"
	"github.com/wesm/chatvault/internal/dsroot"
	"github.com/wesm/chatvault/internal/model"
	"github.com/wesm/chatvault/internal/store"
)

const mergeBatchSize = 5000

// UserMergeKind is the closed set of per-user merge decisions.
type UserMergeKind string

const (
	UserRetain             UserMergeKind = "retain"
	UserAdd                UserMergeKind = "add"
	UserDontAdd            UserMergeKind = "dont_add"
	UserReplace            UserMergeKind = "replace"
	UserMatchOrDontReplace UserMergeKind = "match_or_dont_replace"
)

// UserMergeDecision covers one user present on the master and/or slave
// side. MasterID/SlaveID are populated according to Kind: Retain and
// MatchOrDontReplace key off MasterID (carrying SlaveID too, for the
// picture union); Add, DontAdd and Replace key off SlaveID (carrying
// MasterID too, for Replace's picture union).
type UserMergeDecision struct {
	Kind     UserMergeKind
	MasterID model.UserID
	SlaveID  model.UserID
}

// ChatMergeKind is the closed set of per-chat merge decisions.
type ChatMergeKind string

const (
	ChatRetain    ChatMergeKind = "retain"
	ChatAdd       ChatMergeKind = "add"
	ChatDontAdd   ChatMergeKind = "dont_add"
	ChatDontMerge ChatMergeKind = "dont_merge"
	ChatMerge     ChatMergeKind = "merge"
)

// ChatMergeDecision covers one chat. MasterID is the final destination
// chat id for Retain/DontMerge/Merge; SlaveID is the source chat id for
// Add/Merge/DontAdd.
type ChatMergeDecision struct {
	Kind          ChatMergeKind
	MasterID      model.ChatID
	SlaveID       model.ChatID
	MessageMerges []MessagesMergeDecision
}

// MessagesMergeKind mirrors one diff.SectionKind plus the Replace/
// DontReplace refinement the merger applies to Conflict sections.
type MessagesMergeKind string

const (
	MsgMatch      MessagesMergeKind = "match"
	MsgRetain     MessagesMergeKind = "retain"
	MsgAdd        MessagesMergeKind = "add"
	MsgDontAdd    MessagesMergeKind = "dont_add"
	MsgReplace    MessagesMergeKind = "replace"
	MsgDontReplace MessagesMergeKind = "dont_replace"
)

// MessagesMergeDecision is one step of a Merge chat's walk over its
// analyzer sections, carrying the same ranges the section it mirrors
// covered.
type MessagesMergeDecision struct {
	Kind                    MessagesMergeKind
	FirstMaster, LastMaster model.MessageInternalID
	FirstSlave, LastSlave   model.MessageInternalID
}

type userKey struct {
	side string
	id   model.UserID
}

// Merge runs the spec §4.4 algorithm: it opens a fresh destination
// store at destDir, folds slaveDS (read from slave) into masterDS (read
// from master) per userDecisions/chatDecisions, then copies every other
// dataset master already holds verbatim, and vacuums.
func Merge(
	destDir string,
	master *store.Store, masterDS model.DatasetUUID,
	slave chatdao.Source, slaveDS model.DatasetUUID,
	userDecisions []UserMergeDecision,
	chatDecisions []ChatMergeDecision,
) (*store.Store, model.DatasetUUID, error) {
	dest, err := store.Open(destDir)
	if err != nil {
		return nil, model.DatasetUUID{}, apperr.WrapFS(err, "open destination store")
	}

	masterDataset, err := master.Dataset(masterDS)
	if err != nil {
		return nil, model.DatasetUUID{}, err
	}

	newDS := model.NewDatasetUUID()
	if err := dest.InsertDataset(model.Dataset{UUID: newDS, Alias: masterDataset.Alias + " (merged)"}); err != nil {
		return nil, model.DatasetUUID{}, err
	}

	masterUsers, err := master.Users(masterDS)
	if err != nil {
		return nil, model.DatasetUUID{}, err
	}
	slaveUsers, err := slave.Users(slaveDS)
	if err != nil {
		return nil, model.DatasetUUID{}, err
	}
	masterRoot := master.Root(masterDS)
	slaveRoot := slave.Root(slaveDS)
	dstRoot := dest.Root(newDS)

	finalUserID := make(map[userKey]model.UserID)
	skippedSlaveUsers := make(map[model.UserID]bool)

	for _, d := range userDecisions {
		if d.Kind == UserDontAdd {
			skippedSlaveUsers[d.SlaveID] = true
			continue
		}
		u, root, slavePics, masterPics, err := resolveMergedUser(d, masterUsers, slaveUsers)
		if err != nil {
			return nil, model.DatasetUUID{}, err
		}
		u.DsUUID = newDS
		u.Pictures = nil
		if err := dest.InsertUser(u, root); err != nil {
			return nil, model.DatasetUUID{}, err
		}
		pics, err := unionProfilePictures(slaveRoot, slavePics, masterRoot, masterPics, dstRoot, u.ID)
		if err != nil {
			return nil, model.DatasetUUID{}, err
		}
		if err := dest.SetUserProfilePictureRows(newDS, u.ID, pics); err != nil {
			return nil, model.DatasetUUID{}, err
		}

		switch d.Kind {
		case UserRetain:
			finalUserID[userKey{"master", d.MasterID}] = u.ID
		case UserAdd:
			finalUserID[userKey{"slave", d.SlaveID}] = u.ID
		case UserReplace:
			finalUserID[userKey{"slave", d.SlaveID}] = u.ID
			finalUserID[userKey{"master", d.MasterID}] = u.ID
		case UserMatchOrDontReplace:
			finalUserID[userKey{"master", d.MasterID}] = u.ID
			finalUserID[userKey{"slave", d.SlaveID}] = u.ID
		}
	}

	finalUsers, err := dest.Users(newDS)
	if err != nil {
		return nil, model.DatasetUUID{}, err
	}

	for _, cd := range chatDecisions {
		if cd.Kind == ChatDontAdd {
			continue
		}
		if err := mergeOneChat(dest, newDS, master, masterDS, masterRoot, masterUsers,
			slave, slaveDS, slaveRoot, slaveUsers, finalUserID, finalUsers, skippedSlaveUsers, cd); err != nil {
			return nil, model.DatasetUUID{}, err
		}
	}

	others, err := master.Datasets()
	if err != nil {
		return nil, model.DatasetUUID{}, err
	}
	var otherUUIDs []model.DatasetUUID
	for _, d := range others {
		if d.UUID != masterDS {
			otherUUIDs = append(otherUUIDs, d.UUID)
		}
	}
	if len(otherUUIDs) > 0 {
		if err := dest.CopyDatasetsFrom(master, otherUUIDs); err != nil {
			return nil, model.DatasetUUID{}, err
		}
	}
	if err := dest.Vacuum(); err != nil {
		return nil, model.DatasetUUID{}, err
	}
	return dest, newDS, nil
}

// resolveMergedUser picks the user row per spec §4.4 step 2, along with
// the slave/master picture lists to union. The returned root is always
// nil: pictures are copied by unionProfilePictures, not by InsertUser.
func resolveMergedUser(d UserMergeDecision, masterUsers, slaveUsers map[model.UserID]model.User) (model.User, *dsroot.Root, []model.ProfilePicture, []model.ProfilePicture, error) {
	switch d.Kind {
	case UserRetain:
		u, ok := masterUsers[d.MasterID]
		if !ok {
			return model.User{}, nil, nil, nil, apperr.NotFound("master user %d not found", d.MasterID)
		}
		return u, nil, nil, u.Pictures, nil
	case UserAdd:
		u, ok := slaveUsers[d.SlaveID]
		if !ok {
			return model.User{}, nil, nil, nil, apperr.NotFound("slave user %d not found", d.SlaveID)
		}
		return u, nil, u.Pictures, nil, nil
	case UserReplace:
		u, ok := slaveUsers[d.SlaveID]
		if !ok {
			return model.User{}, nil, nil, nil, apperr.NotFound("slave user %d not found", d.SlaveID)
		}
		var masterPics []model.ProfilePicture
		if mu, ok := masterUsers[d.MasterID]; ok {
			masterPics = mu.Pictures
		}
		return u, nil, u.Pictures, masterPics, nil
	case UserMatchOrDontReplace:
		u, ok := masterUsers[d.MasterID]
		if !ok {
			return model.User{}, nil, nil, nil, apperr.NotFound("master user %d not found", d.MasterID)
		}
		var slavePics []model.ProfilePicture
		if su, ok := slaveUsers[d.SlaveID]; ok {
			slavePics = su.Pictures
		}
		return u, nil, slavePics, u.Pictures, nil
	default:
		return model.User{}, nil, nil, nil, apperr.Invalid("unknown user merge decision %q", d.Kind)
	}
}

// unionProfilePictures copies slave pictures first, then master
// pictures, deduplicated by file hash (missing files are never treated
// as duplicates of anything, spec §4.4 step 2).
func unionProfilePictures(slaveRoot *dsroot.Root, slavePics []model.ProfilePicture, masterRoot *dsroot.Root, masterPics []model.ProfilePicture, dstRoot *dsroot.Root, finalID model.UserID) ([]model.ProfilePicture, error) {
	seen := make(map[string]bool)
	var out []model.ProfilePicture
	copyFrom := func(root *dsroot.Root, pics []model.ProfilePicture) error {
		if root == nil {
			return nil
		}
		for _, pic := range pics {
			abs, err := root.Abs(pic.RelativePath)
			if err != nil {
				continue
			}
			if _, statErr := os.Stat(abs); statErr == nil {
				hash, hashErr := dsroot.HashFile(abs)
				if hashErr == nil && hash != "" {
					if seen[hash] {
						continue
					}
					seen[hash] = true
				}
			}
			dstRel, err := store.CopyUserPictureFile(root, dstRoot, finalID, pic.RelativePath)
			if err != nil {
				return err
			}
			if dstRel == "" {
				continue
			}
			out = append(out, model.ProfilePicture{RelativePath: dstRel, Frame: pic.Frame})
		}
		return nil
	}
	if err := copyFrom(slaveRoot, slavePics); err != nil {
		return nil, err
	}
	if err := copyFrom(masterRoot, masterPics); err != nil {
		return nil, err
	}
	return out, nil
}

func mergeOneChat(
	dest *store.Store, newDS model.DatasetUUID,
	master *store.Store, masterDS model.DatasetUUID, masterRoot *dsroot.Root, masterUsers map[model.UserID]model.User,
	slave chatdao.Source, slaveDS model.DatasetUUID, slaveRoot *dsroot.Root, slaveUsers map[model.UserID]model.User,
	finalUserID map[userKey]model.UserID, finalUsers map[model.UserID]model.User, skippedSlaveUsers map[model.UserID]bool,
	cd ChatMergeDecision,
) error {
	var baseRoot *dsroot.Root
	var baseChat model.Chat
	var baseSide string
	var finalChatID model.ChatID

	switch cd.Kind {
	case ChatRetain, ChatDontMerge:
		c, err := master.Chat(masterDS, cd.MasterID)
		if err != nil {
			return err
		}
		baseChat, baseRoot, baseSide, finalChatID = *c, masterRoot, "master", cd.MasterID
	case ChatAdd:
		c, err := slave.Chat(slaveDS, cd.SlaveID)
		if err != nil {
			return err
		}
		baseChat, baseRoot, baseSide, finalChatID = *c, slaveRoot, "slave", cd.SlaveID
	case ChatMerge:
		c, err := slave.Chat(slaveDS, cd.SlaveID)
		if err != nil {
			return err
		}
		baseChat, baseRoot, baseSide, finalChatID = *c, slaveRoot, "slave", cd.MasterID
		if baseChat.ImgPath == nil || !slaveRoot.Exists(*baseChat.ImgPath) {
			if mc, err := master.Chat(masterDS, cd.MasterID); err == nil && mc.ImgPath != nil {
				baseChat.ImgPath = mc.ImgPath
				baseRoot = masterRoot
			}
		}
	default:
		return apperr.Invalid("unknown chat merge decision %q", cd.Kind)
	}

	members, err := remapChatMembers(baseChat, baseSide, finalUserID, skippedSlaveUsers)
	if err != nil {
		return err
	}
	if cd.Kind == ChatMerge {
		mc, err := master.Chat(masterDS, cd.MasterID)
		if err == nil {
			extra, err := remapChatMembers(*mc, "master", finalUserID, skippedSlaveUsers)
			if err != nil {
				return err
			}
			members = dedupUserIDs(append(members, extra...))
		}
	}

	baseChat.DsUUID = newDS
	baseChat.ID = finalChatID
	baseChat.MemberIDs = members
	baseChat.MainChatID = nil
	if baseChat.Type == model.ChatPersonal {
		if name, ok := nonMyselfPrettyName(members, finalUsers); ok {
			baseChat.Name = &name
		}
	}
	baseChat.MsgCount = 0 // refreshed after messages are inserted

	if err := dest.InsertChat(baseChat, baseRoot); err != nil {
		return err
	}

	var total int64
	switch cd.Kind {
	case ChatRetain, ChatDontMerge:
		n, err := copyAllMessages(dest, newDS, finalChatID, master, masterDS, cd.MasterID, masterRoot, "master", masterUsers, finalUserID, finalUsers)
		if err != nil {
			return err
		}
		total = n
	case ChatAdd:
		n, err := copyAllMessages(dest, newDS, finalChatID, slave, slaveDS, cd.SlaveID, slaveRoot, "slave", slaveUsers, finalUserID, finalUsers)
		if err != nil {
			return err
		}
		total = n
	case ChatMerge:
		n, err := mergeMessages(dest, newDS, finalChatID,
			master, masterDS, cd.MasterID, masterRoot, masterUsers,
			slave, slaveDS, cd.SlaveID, slaveRoot, slaveUsers,
			finalUserID, finalUsers, cd.MessageMerges)
		if err != nil {
			return err
		}
		total = n
	}

	updated := baseChat
	updated.MsgCount = total
	return dest.UpdateChat(newDS, finalChatID, updated)
}

func dedupUserIDs(ids []model.UserID) []model.UserID {
	seen := make(map[model.UserID]bool, len(ids))
	var out []model.UserID
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func nonMyselfPrettyName(members []model.UserID, finalUsers map[model.UserID]model.User) (string, bool) {
	for _, id := range members {
		u, ok := finalUsers[id]
		if !ok || u.IsMyself {
			continue
		}
		name := u.PrettyName()
		return name, true
	}
	return "", false
}

func remapChatMembers(c model.Chat, side string, finalUserID map[userKey]model.UserID, skippedSlaveUsers map[model.UserID]bool) ([]model.UserID, error) {
	out := make([]model.UserID, 0, len(c.MemberIDs))
	for _, id := range c.MemberIDs {
		if side == "slave" && skippedSlaveUsers[id] {
			return nil, apperr.Conflict("chat %d references slave user %d, which was skipped (dont_add)", c.ID, id)
		}
		final, ok := finalUserID[userKey{side, id}]
		if !ok {
			return nil, apperr.Conflict("chat %d references %s user %d with no merge decision", c.ID, side, id)
		}
		out = append(out, final)
	}
	return out, nil
}

func copyAllMessages(
	dest *store.Store, newDS model.DatasetUUID, finalChatID model.ChatID,
	src chatdao.Source, srcDS model.DatasetUUID, srcChat model.ChatID, srcRoot *dsroot.Root, side string,
	srcUsers map[model.UserID]model.User, finalUserID map[userKey]model.UserID, finalUsers map[model.UserID]model.User,
) (int64, error) {
	var total int64
	last := model.MessageInternalID(-1)
	for {
		batch, err := src.After(srcDS, srcChat, last, mergeBatchSize)
		if err != nil {
			return 0, err
		}
		if len(batch) == 0 {
			return total, nil
		}
		for i := range batch {
			remapMessage(&batch[i], side, srcUsers, finalUserID, finalUsers)
		}
		if err := dest.InsertMessages(newDS, finalChatID, batch, srcRoot); err != nil {
			return 0, err
		}
		total += int64(len(batch))
		last = batch[len(batch)-1].InternalID
		if len(batch) < mergeBatchSize {
			return total, nil
		}
	}
}

// pendingRun accumulates contiguous same-source messages for a single
// batched insert (spec §4.4 step 4's "group contiguous same-source runs
// into batches of 5000").
type pendingRun struct {
	root *dsroot.Root
	msgs []model.Message
}

func mergeMessages(
	dest *store.Store, newDS model.DatasetUUID, finalChatID model.ChatID,
	master chatdao.Source, masterDS model.DatasetUUID, masterChat model.ChatID, masterRoot *dsroot.Root, masterUsers map[model.UserID]model.User,
	slave chatdao.Source, slaveDS model.DatasetUUID, slaveChat model.ChatID, slaveRoot *dsroot.Root, slaveUsers map[model.UserID]model.User,
	finalUserID map[userKey]model.UserID, finalUsers map[model.UserID]model.User,
	decisions []MessagesMergeDecision,
) (int64, error) {
	var total int64
	var run pendingRun

	flush := func() error {
		if len(run.msgs) == 0 {
			return nil
		}
		if err := dest.InsertMessages(newDS, finalChatID, run.msgs, run.root); err != nil {
			return err
		}
		total += int64(len(run.msgs))
		run = pendingRun{}
		return nil
	}
	push := func(root *dsroot.Root, msg model.Message) error {
		if run.root != nil && run.root != root {
			if err := flush(); err != nil {
				return err
			}
		}
		run.root = root
		run.msgs = append(run.msgs, msg)
		if len(run.msgs) >= mergeBatchSize {
			return flush()
		}
		return nil
	}

	for _, d := range decisions {
		switch d.Kind {
		case MsgRetain, MsgDontReplace:
			msgs, err := master.Slice(masterDS, masterChat, d.FirstMaster, d.LastMaster)
			if err != nil {
				return 0, err
			}
			for _, m := range msgs {
				remapMessage(&m, "master", masterUsers, finalUserID, finalUsers)
				if err := push(masterRoot, m); err != nil {
					return 0, err
				}
			}
		case MsgAdd, MsgReplace:
			msgs, err := slave.Slice(slaveDS, slaveChat, d.FirstSlave, d.LastSlave)
			if err != nil {
				return 0, err
			}
			for _, m := range msgs {
				remapMessage(&m, "slave", slaveUsers, finalUserID, finalUsers)
				if err := push(slaveRoot, m); err != nil {
					return 0, err
				}
			}
		case MsgDontAdd:
			continue
		case MsgMatch:
			masterMsgs, err := master.Slice(masterDS, masterChat, d.FirstMaster, d.LastMaster)
			if err != nil {
				return 0, err
			}
			slaveMsgs, err := slave.Slice(slaveDS, slaveChat, d.FirstSlave, d.LastSlave)
			if err != nil {
				return 0, err
			}
			if len(masterMsgs) != len(slaveMsgs) {
				return 0, eris.Wrap(apperr.Conflict(
					"match section for chat %d has mismatched lengths: %d master vs %d slave",
					finalChatID, len(masterMsgs), len(slaveMsgs)), "merge messages")
			}
			for i := range masterMsgs {
				mm, sm := masterMsgs[i], slaveMsgs[i]
				if countExistingFiles(&mm, masterRoot) >= countExistingFiles(&sm, slaveRoot) {
					overlaySlaveOntoMaster(&mm, &sm)
					remapMessage(&mm, "master", masterUsers, finalUserID, finalUsers)
					if err := push(masterRoot, mm); err != nil {
						return 0, err
					}
				} else {
					remapMessage(&sm, "slave", slaveUsers, finalUserID, finalUsers)
					if err := push(slaveRoot, sm); err != nil {
						return 0, err
					}
				}
			}
		default:
			return 0, apperr.Invalid("unknown message merge decision %q", d.Kind)
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return total, nil
}

func countExistingFiles(msg *model.Message, root *dsroot.Root) int {
	n := 0
	check := func(p *string) {
		if p != nil && root != nil && root.Exists(*p) {
			n++
		}
	}
	if msg.Regular != nil {
		for _, c := range msg.Regular.Contents {
			for _, p := range c.PathFields() {
				check(p)
			}
		}
	}
	if msg.Service != nil && msg.Service.Photo != nil {
		for _, p := range msg.Service.Photo.PathFields() {
			check(p)
		}
	}
	return n
}

// overlaySlaveOntoMaster applies spec §4.4 step 4's Match overlay rule
// when the master copy of a matched pair was kept.
func overlaySlaveOntoMaster(kept, slave *model.Message) {
	kept.SourceID = slave.SourceID
	if kept.Regular != nil && slave.Regular != nil {
		kept.Regular.ReplyToSourceID = slave.Regular.ReplyToSourceID
		for i := range kept.Regular.Contents {
			if i < len(slave.Regular.Contents) {
				kept.Regular.Contents[i].FileName = slave.Regular.Contents[i].FileName
			}
		}
	}
	if kept.Service != nil && slave.Service != nil && kept.Service.Kind == model.SvcPinMessage {
		kept.Service.PinnedMessageSourceID = slave.Service.PinnedMessageSourceID
	}
}

// remapMessage rewrites from_id and every members string to final
// destination ids/names (spec §4.4 step 4's fixup_members), in place.
func remapMessage(msg *model.Message, side string, srcUsers map[model.UserID]model.User, finalUserID map[userKey]model.UserID, finalUsers map[model.UserID]model.User) {
	if final, ok := finalUserID[userKey{side, msg.FromID}]; ok {
		msg.FromID = final
	}
	if msg.Regular != nil {
		for i := range msg.Regular.Contents {
			msg.Regular.Contents[i].Members = fixupMembers(msg.Regular.Contents[i].Members, srcUsers, side, finalUserID, finalUsers)
		}
	}
	if msg.Service != nil {
		msg.Service.Members = fixupMembers(msg.Service.Members, srcUsers, side, finalUserID, finalUsers)
	}
}

func fixupMembers(names []string, srcUsers map[model.UserID]model.User, side string, finalUserID map[userKey]model.UserID, finalUsers map[model.UserID]model.User) []string {
	if len(names) == 0 {
		return names
	}
	out := make([]string, len(names))
	for i, n := range names {
		resolvedID, ok := resolveUserByName(srcUsers, n)
		if !ok {
			out[i] = n
			continue
		}
		finalID, ok := finalUserID[userKey{side, resolvedID}]
		if !ok {
			out[i] = n
			continue
		}
		fu, ok := finalUsers[finalID]
		if !ok {
			out[i] = n
			continue
		}
		out[i] = fu.PrettyName()
	}
	return out
}

func resolveUserByName(users map[model.UserID]model.User, name string) (model.UserID, bool) {
	for id, u := range users {
		if u.PrettyName() == name {
			return id, true
		}
	}
	return model.InvalidUserID, false
}
