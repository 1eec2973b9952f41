package store

import (
	"database/sql"

	"github.com/wesm/chatvault/internal/apperr"
	"github.com/wesm/chatvault/internal/compare"
	"github.com/wesm/chatvault/internal/dsroot"
	"github.com/wesm/chatvault/internal/model"
)

// CopyDatasetsFrom copies each named dataset from src into s, one
// dataset at a time: dataset + users (with profile pictures) + chats
// (with members and images) + messages (paged in batches of
// sliceBatchSize, copying every referenced file) all within a single
// transaction, then a VACUUM, then a post-copy verification comparing
// user and chat counts, each chat's msg_count, and every message pair
// for practical equality (spec
// §4.2.6: "each source dataset is copied in a single per-dataset
// transaction... after each dataset, VACUUM", grounded on the
// teacher's CopySubset/copyData shape, generalized from one
// SQLite-to-SQLite copy into a decision-driven cross-store copy).
func (s *Store) CopyDatasetsFrom(src *Store, uuids []model.DatasetUUID) error {
	for _, ds := range uuids {
		if err := s.copyOneDataset(src, ds); err != nil {
			return err
		}
		if err := s.Vacuum(); err != nil {
			return err
		}
		if err := s.verifyDatasetCopy(src, ds); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) copyOneDataset(src *Store, ds model.DatasetUUID) error {
	dataset, err := src.Dataset(ds)
	if err != nil {
		return err
	}
	users, _, err := src.usersAndMyself(ds)
	if err != nil {
		return err
	}
	chats, err := src.Chats(ds)
	if err != nil {
		return err
	}

	srcRoot := dsroot.New(src.StorageRoot, ds)
	dstRoot := dsroot.New(s.StorageRoot, ds)

	return s.withWriteLock(func() error {
		return s.withTx(func(tx *sql.Tx) error {
			if err := insertDatasetTx(tx, *dataset); err != nil {
				return err
			}
			for _, u := range users {
				if err := insertUserTx(tx, u, srcRoot, dstRoot); err != nil {
					return err
				}
			}
			for _, c := range chats {
				if err := insertChatTx(tx, c, srcRoot, dstRoot); err != nil {
					return err
				}
				if err := copyMessagesPagedTx(tx, src, ds, c.ID, srcRoot, dstRoot); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// copyMessagesPagedTx pages through src's messages for one chat
// (read-only against src, taking no lock on s beyond the caller's
// already-held transaction) and inserts each page as part of that
// transaction.
func copyMessagesPagedTx(tx *sql.Tx, src *Store, ds model.DatasetUUID, chat model.ChatID, srcRoot, dstRoot *dsroot.Root) error {
	var last model.MessageInternalID
	for {
		batch, err := src.After(ds, chat, last, sliceBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := insertMessagesTx(tx, ds, chat, batch, srcRoot, dstRoot); err != nil {
			return err
		}
		last = batch[len(batch)-1].InternalID
		if len(batch) < sliceBatchSize {
			return nil
		}
	}
}

// verifyDatasetCopy re-reads ds from both stores and fails fatally on
// the first practical-equality mismatch (spec §4.2.6:
// "get_datasets_diff(src, ds, self, ds, max_diffs=1); any diff is
// fatal").
func (s *Store) verifyDatasetCopy(src *Store, ds model.DatasetUUID) error {
	srcUsers, _, err := src.usersAndMyself(ds)
	if err != nil {
		return err
	}
	dstUsers, _, err := s.usersAndMyself(ds)
	if err != nil {
		return err
	}
	if len(srcUsers) != len(dstUsers) {
		return apperr.Conflict("copy verification failed for dataset %s: user count mismatch", ds)
	}

	srcChats, err := src.Chats(ds)
	if err != nil {
		return err
	}
	dstChats, err := s.Chats(ds)
	if err != nil {
		return err
	}
	if len(srcChats) != len(dstChats) {
		return apperr.Conflict("copy verification failed for dataset %s: chat count mismatch", ds)
	}

	srcRoot := dsroot.New(src.StorageRoot, ds)
	dstRoot := dsroot.New(s.StorageRoot, ds)
	cmp := &compare.Comparator{
		LeftRoot:           srcRoot,
		RightRoot:          dstRoot,
		ResolveLeftMember:  memberResolverByName(srcUsers),
		ResolveRightMember: memberResolverByName(dstUsers),
	}

	dstChatByID := make(map[model.ChatID]model.Chat, len(dstChats))
	for _, c := range dstChats {
		dstChatByID[c.ID] = c
	}
	for _, sc := range srcChats {
		dc, ok := dstChatByID[sc.ID]
		if !ok {
			return apperr.Conflict("copy verification failed for dataset %s: chat %d missing", ds, sc.ID)
		}
		if sc.MsgCount != dc.MsgCount {
			return apperr.Conflict("copy verification failed for dataset %s: chat %d message count mismatch", ds, sc.ID)
		}
		if err := verifyChatMessages(src, s, ds, sc.ID, cmp); err != nil {
			return err
		}
	}
	return nil
}

func verifyChatMessages(src, dst *Store, ds model.DatasetUUID, chat model.ChatID, cmp *compare.Comparator) error {
	var last model.MessageInternalID
	for {
		srcBatch, err := src.After(ds, chat, last, sliceBatchSize)
		if err != nil {
			return err
		}
		if len(srcBatch) == 0 {
			return nil
		}
		dstBatch, err := dst.After(ds, chat, last, sliceBatchSize)
		if err != nil {
			return err
		}
		if len(srcBatch) != len(dstBatch) {
			return apperr.Conflict("copy verification failed for dataset %s chat %d: message count mismatch", ds, chat)
		}
		for i := range srcBatch {
			if !cmp.MessagesPracticallyEqual(&srcBatch[i], &dstBatch[i]) {
				return apperr.Conflict("copy verification failed for dataset %s chat %d: message %d differs",
					ds, chat, srcBatch[i].InternalID)
			}
		}
		last = srcBatch[len(srcBatch)-1].InternalID
		if len(srcBatch) < sliceBatchSize {
			return nil
		}
	}
}

func memberResolverByName(users map[model.UserID]model.User) compare.MemberResolver {
	return func(name string) (model.UserID, bool) {
		for id, u := range users {
			if u.PrettyName() == name {
				return id, true
			}
		}
		return model.InvalidUserID, false
	}
}
