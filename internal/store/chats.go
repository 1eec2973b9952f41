package store

import (
	"database/sql"
	"os"

	"github.com/wesm/chatvault/internal/apperr"
	"github.com/wesm/chatvault/internal/dsroot"
	"github.com/wesm/chatvault/internal/fileutil"
	"github.com/wesm/chatvault/internal/model"
)

// Chats returns every chat in ds.
func (s *Store) Chats(ds model.DatasetUUID) ([]model.Chat, error) {
	var out []model.Chat
	err := s.withReadLock(func() error {
		var err error
		out, err = s.loadChats(ds, `WHERE ds_uuid = ?`, []interface{}{uuidBytes(ds)})
		return err
	})
	return out, err
}

// Chat returns one chat by id.
func (s *Store) Chat(ds model.DatasetUUID, id model.ChatID) (*model.Chat, error) {
	var out *model.Chat
	err := s.withReadLock(func() error {
		chats, err := s.loadChats(ds, `WHERE ds_uuid = ? AND id = ?`, []interface{}{uuidBytes(ds), int64(id)})
		if err != nil {
			return err
		}
		if len(chats) == 0 {
			return apperr.NotFound("chat %d not found in dataset %s", id, ds)
		}
		out = &chats[0]
		return nil
	})
	return out, err
}

func (s *Store) loadChats(ds model.DatasetUUID, whereClause string, args []interface{}) ([]model.Chat, error) {
	rows, err := s.db.Query(
		`SELECT ds_uuid, id, name, source_type, tpe, img_path, msg_count, main_chat_id FROM chat `+whereClause,
		args...)
	if err != nil {
		return nil, apperr.WrapDB(err, "query chats")
	}
	defer rows.Close()

	var out []model.Chat
	for rows.Next() {
		var dsBytes []byte
		var id int64
		var name, imgPath sql.NullString
		var sourceType, tpe string
		var msgCount int64
		var mainChatID sql.NullInt64
		if err := rows.Scan(&dsBytes, &id, &name, &sourceType, &tpe, &imgPath, &msgCount, &mainChatID); err != nil {
			return nil, apperr.WrapDB(err, "scan chat")
		}
		c := model.Chat{
			DsUUID:     ds,
			ID:         model.ChatID(id),
			Name:       strPtr(name),
			SourceType: model.SourceType(sourceType),
			Type:       model.ChatType(tpe),
			ImgPath:    strPtr(imgPath),
			MsgCount:   msgCount,
		}
		if mainChatID.Valid {
			mc := model.ChatID(mainChatID.Int64)
			c.MainChatID = &mc
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.WrapDB(err, "iterate chats")
	}

	for i := range out {
		members, err := s.loadChatMembers(ds, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].MemberIDs = members
	}
	return out, nil
}

func (s *Store) loadChatMembers(ds model.DatasetUUID, chat model.ChatID) ([]model.UserID, error) {
	rows, err := s.db.Query(
		`SELECT user_id FROM chat_member WHERE ds_uuid = ? AND chat_id = ? ORDER BY seq_order`,
		uuidBytes(ds), int64(chat))
	if err != nil {
		return nil, apperr.WrapDB(err, "query chat members")
	}
	defer rows.Close()

	var out []model.UserID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.WrapDB(err, "scan chat member")
		}
		out = append(out, model.UserID(id))
	}
	return out, rows.Err()
}

// InsertChat inserts a new chat, its members, and copies its img_path
// file (if any) from srcRoot.
func (s *Store) InsertChat(c model.Chat, srcRoot *dsroot.Root) error {
	return s.withWriteLock(func() error {
		return s.withTx(func(tx *sql.Tx) error {
			dstRoot := dsroot.New(s.StorageRoot, c.DsUUID)
			return insertChatTx(tx, c, srcRoot, dstRoot)
		})
	})
}

// insertChatTx is InsertChat's statement, factored out so a caller
// already holding a transaction (CopyDatasetsFrom) can insert a chat as
// one step of a larger per-dataset transaction instead of opening its
// own.
func insertChatTx(tx *sql.Tx, c model.Chat, srcRoot, dstRoot *dsroot.Root) error {
	var mainChatID interface{}
	if c.MainChatID != nil {
		mainChatID = int64(*c.MainChatID)
	}
	imgPath, err := copyChatImg(srcRoot, dstRoot, c.ID, c.ImgPath)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO chat (ds_uuid, id, name, source_type, tpe, img_path, msg_count, main_chat_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuidBytes(c.DsUUID), int64(c.ID), c.Name, string(c.SourceType), string(c.Type), imgPath, c.MsgCount, mainChatID)
	if err != nil {
		if isSQLiteError(err, "UNIQUE constraint") {
			return apperr.Conflict("chat %d already exists in dataset %s", c.ID, c.DsUUID)
		}
		return apperr.WrapDB(err, "insert chat")
	}
	for seq, uid := range c.MemberIDs {
		if _, err := tx.Exec(
			`INSERT INTO chat_member (ds_uuid, chat_id, user_id, seq_order) VALUES (?, ?, ?, ?)`,
			uuidBytes(c.DsUUID), int64(c.ID), int64(uid), seq); err != nil {
			return apperr.WrapDB(err, "insert chat member")
		}
	}
	return nil
}

func copyChatImg(srcRoot, dstRoot *dsroot.Root, chat model.ChatID, imgPath *string) (*string, error) {
	if imgPath == nil {
		return nil, nil
	}
	dstRel := dsroot.NonHashedRelativePath(chatRelBase(chat), "", baseName(*imgPath))
	if err := dsroot.CopyFile(srcRoot, *imgPath, dstRoot, dstRel, "", nil); err != nil {
		return nil, err
	}
	return &dstRel, nil
}

// UpdateChat updates a chat's mutable fields. If newID differs from
// oldID, an id-change cascade runs: chat_member, message, and any
// slave chat.main_chat_id rows are updated; the chat_<oldid> directory
// is renamed on disk; every chat.img_path / message_content.path /
// thumbnail_path beginning with the old relative prefix is rewritten
// via SQL string replace scoped to this chat (spec §4.2.6).
func (s *Store) UpdateChat(ds model.DatasetUUID, oldID model.ChatID, updated model.Chat) error {
	return s.withWriteLock(func() error {
		newID := updated.ID
		err := s.withTx(func(tx *sql.Tx) error {
			if newID != oldID {
				if _, err := tx.Exec(`PRAGMA defer_foreign_keys = ON`); err != nil {
					return apperr.WrapDB(err, "defer foreign keys")
				}
			}

			var mainChatID interface{}
			if updated.MainChatID != nil {
				mainChatID = int64(*updated.MainChatID)
			}
			res, err := tx.Exec(
				`UPDATE chat SET id = ?, name = ?, source_type = ?, tpe = ?, img_path = ?, msg_count = ?, main_chat_id = ?
				 WHERE ds_uuid = ? AND id = ?`,
				int64(newID), updated.Name, string(updated.SourceType), string(updated.Type), updated.ImgPath,
				updated.MsgCount, mainChatID, uuidBytes(ds), int64(oldID))
			if err != nil {
				return apperr.WrapDB(err, "update chat")
			}
			if err := requireRowsAffected(res, "chat %d", oldID); err != nil {
				return err
			}

			if newID != oldID {
				if _, err := tx.Exec(`UPDATE chat_member SET chat_id = ? WHERE ds_uuid = ? AND chat_id = ?`,
					int64(newID), uuidBytes(ds), int64(oldID)); err != nil {
					return apperr.WrapDB(err, "cascade chat_member.chat_id")
				}
				if _, err := tx.Exec(`UPDATE message SET chat_id = ? WHERE ds_uuid = ? AND chat_id = ?`,
					int64(newID), uuidBytes(ds), int64(oldID)); err != nil {
					return apperr.WrapDB(err, "cascade message.chat_id")
				}
				if _, err := tx.Exec(`UPDATE chat SET main_chat_id = ? WHERE ds_uuid = ? AND main_chat_id = ?`,
					int64(newID), uuidBytes(ds), int64(oldID)); err != nil {
					return apperr.WrapDB(err, "cascade slave main_chat_id")
				}

				oldPrefix := chatRelBase(oldID)
				newPrefix := chatRelBase(newID)
				if _, err := tx.Exec(
					`UPDATE chat SET img_path = ? || substr(img_path, ?) WHERE ds_uuid = ? AND id = ? AND img_path LIKE ? || '%'`,
					newPrefix, len(oldPrefix)+1, uuidBytes(ds), int64(newID), oldPrefix); err != nil {
					return apperr.WrapDB(err, "rewrite chat.img_path")
				}
				if err := rewriteContentPathPrefix(tx, ds, newID, "path", oldPrefix, newPrefix); err != nil {
					return err
				}
				if err := rewriteContentPathPrefix(tx, ds, newID, "thumbnail_path", oldPrefix, newPrefix); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		if newID != oldID {
			root := dsroot.New(s.StorageRoot, ds)
			oldDir := root.ChatDir(oldID)
			newDir := root.ChatDir(newID)
			if _, statErr := os.Stat(oldDir); statErr == nil {
				if err := fileutil.SecureMkdirAll(root.Dir(), 0o755); err != nil {
					return apperr.WrapFS(err, "ensure dataset root")
				}
				if err := os.Rename(oldDir, newDir); err != nil {
					return apperr.WrapFS(err, "rename chat directory")
				}
			}
		}
		return nil
	})
}

func rewriteContentPathPrefix(tx *sql.Tx, ds model.DatasetUUID, chat model.ChatID, column, oldPrefix, newPrefix string) error {
	query := `UPDATE message_content SET ` + column + ` = ? || substr(` + column + `, ?)
		WHERE ` + column + ` LIKE ? || '%' AND message_internal_id IN (
			SELECT internal_id FROM message WHERE ds_uuid = ? AND chat_id = ?
		)`
	_, err := tx.Exec(query, newPrefix, len(oldPrefix)+1, oldPrefix, uuidBytes(ds), int64(chat))
	if err != nil {
		return apperr.WrapDB(err, "rewrite message_content.%s", column)
	}
	return nil
}

// CombineChats sets main_chat_id = master.id on slave and on every
// chat that currently points at slave (a slave-of-slave), requiring
// master itself not already be a slave (spec §4.2.6).
func (s *Store) CombineChats(ds model.DatasetUUID, master, slave model.ChatID) error {
	return s.withWriteLock(func() error {
		return s.withTx(func(tx *sql.Tx) error {
			var masterMain sql.NullInt64
			if err := tx.QueryRow(`SELECT main_chat_id FROM chat WHERE ds_uuid = ? AND id = ?`,
				uuidBytes(ds), int64(master)).Scan(&masterMain); err != nil {
				if err == sql.ErrNoRows {
					return apperr.NotFound("chat %d not found", master)
				}
				return apperr.WrapDB(err, "load master chat")
			}
			if masterMain.Valid {
				return apperr.Invalid("chat %d is already a slave chat and cannot become a master", master)
			}
			if _, err := tx.Exec(
				`UPDATE chat SET main_chat_id = ? WHERE ds_uuid = ? AND (id = ? OR main_chat_id = ?)`,
				int64(master), uuidBytes(ds), int64(slave), int64(slave)); err != nil {
				return apperr.WrapDB(err, "combine chats")
			}
			return nil
		})
	})
}

// DeleteChat collects every relative media path referenced by the
// chat, deletes its rows, prunes now-orphaned users, then moves each
// referenced file that still exists on disk under the dated backup
// directory, finally removing empty ancestor directories (spec
// §4.2.6).
func (s *Store) DeleteChat(ds model.DatasetUUID, chat model.ChatID) error {
	return s.withWriteLock(func() error {
		var paths []string
		err := s.withTx(func(tx *sql.Tx) error {
			var err error
			paths, err = collectChatMediaPaths(tx, ds, chat)
			if err != nil {
				return err
			}

			stmts := []struct {
				query string
				args  []interface{}
			}{
				{`DELETE FROM message_content WHERE message_internal_id IN (SELECT internal_id FROM message WHERE ds_uuid = ? AND chat_id = ?)`, []interface{}{uuidBytes(ds), int64(chat)}},
				{`DELETE FROM message_text_element WHERE message_internal_id IN (SELECT internal_id FROM message WHERE ds_uuid = ? AND chat_id = ?)`, []interface{}{uuidBytes(ds), int64(chat)}},
				{`DELETE FROM message WHERE ds_uuid = ? AND chat_id = ?`, []interface{}{uuidBytes(ds), int64(chat)}},
				{`DELETE FROM chat_member WHERE ds_uuid = ? AND chat_id = ?`, []interface{}{uuidBytes(ds), int64(chat)}},
				{`DELETE FROM chat WHERE ds_uuid = ? AND id = ?`, []interface{}{uuidBytes(ds), int64(chat)}},
			}
			for _, st := range stmts {
				if _, err := tx.Exec(st.query, st.args...); err != nil {
					return apperr.WrapDB(err, "delete chat: %s", st.query)
				}
			}

			if _, err := tx.Exec(
				`DELETE FROM user WHERE ds_uuid = ? AND id NOT IN (SELECT DISTINCT user_id FROM chat_member WHERE ds_uuid = ?)`,
				uuidBytes(ds), uuidBytes(ds)); err != nil {
				return apperr.WrapDB(err, "prune orphan users")
			}
			return nil
		})
		if err != nil {
			return err
		}

		if len(paths) == 0 {
			return nil
		}
		destBase, err := newDatedBackupSubdir(s.StorageRoot)
		if err != nil {
			return err
		}
		root := dsroot.New(s.StorageRoot, ds)
		for _, rel := range paths {
			abs, err := root.Abs(rel)
			if err != nil {
				continue
			}
			if err := moveFileToBackupDir(s.StorageRoot, destBase, abs); err != nil {
				return err
			}
		}
		return nil
	})
}

func collectChatMediaPaths(tx *sql.Tx, ds model.DatasetUUID, chat model.ChatID) ([]string, error) {
	var out []string
	var imgPath sql.NullString
	if err := tx.QueryRow(`SELECT img_path FROM chat WHERE ds_uuid = ? AND id = ?`,
		uuidBytes(ds), int64(chat)).Scan(&imgPath); err != nil && err != sql.ErrNoRows {
		return nil, apperr.WrapDB(err, "load chat img_path")
	}
	if imgPath.Valid && imgPath.String != "" {
		out = append(out, imgPath.String)
	}

	rows, err := tx.Query(`
		SELECT path, thumbnail_path FROM message_content
		WHERE message_internal_id IN (SELECT internal_id FROM message WHERE ds_uuid = ? AND chat_id = ?)`,
		uuidBytes(ds), int64(chat))
	if err != nil {
		return nil, apperr.WrapDB(err, "query chat media paths")
	}
	defer rows.Close()
	for rows.Next() {
		var path, thumb sql.NullString
		if err := rows.Scan(&path, &thumb); err != nil {
			return nil, apperr.WrapDB(err, "scan chat media paths")
		}
		if path.Valid && path.String != "" {
			out = append(out, path.String)
		}
		if thumb.Valid && thumb.String != "" {
			out = append(out, thumb.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.WrapDB(err, "iterate chat media paths")
	}
	return out, nil
}
