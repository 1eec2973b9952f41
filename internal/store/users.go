package store

import (
	"database/sql"
	"os"
	"strings"

	"github.com/wesm/chatvault/internal/apperr"
	"github.com/wesm/chatvault/internal/dsroot"
	"github.com/wesm/chatvault/internal/fileutil"
	"github.com/wesm/chatvault/internal/model"
)

// Users returns every user in ds, id→User, cached per dataset (spec
// §4.2.7).
func (s *Store) Users(ds model.DatasetUUID) (map[model.UserID]model.User, error) {
	users, _, err := s.usersAndMyself(ds)
	return users, err
}

// Myself returns the dataset's distinguished "myself" user id (spec
// §3.3 invariant 2).
func (s *Store) Myself(ds model.DatasetUUID) (model.UserID, error) {
	_, myself, err := s.usersAndMyself(ds)
	return myself, err
}

func (s *Store) usersAndMyself(ds model.DatasetUUID) (map[model.UserID]model.User, model.UserID, error) {
	var users map[model.UserID]model.User
	var myself model.UserID
	err := s.withReadLock(func() error {
		var err error
		users, myself, err = s.cache.getUsers(ds, func() (map[model.UserID]model.User, model.UserID, error) {
			return s.loadUsers(ds)
		})
		return err
	})
	return users, myself, err
}

func (s *Store) loadUsers(ds model.DatasetUUID) (map[model.UserID]model.User, model.UserID, error) {
	rows, err := s.db.Query(
		`SELECT id, first_name, last_name, username, phone_numbers, is_myself FROM user WHERE ds_uuid = ?`,
		uuidBytes(ds))
	if err != nil {
		return nil, 0, apperr.WrapDB(err, "query users")
	}
	defer rows.Close()

	out := make(map[model.UserID]model.User)
	var myself model.UserID
	for rows.Next() {
		var id int64
		var firstName, lastName, username, phone sql.NullString
		var isMyself int64
		if err := rows.Scan(&id, &firstName, &lastName, &username, &phone, &isMyself); err != nil {
			return nil, 0, apperr.WrapDB(err, "scan user")
		}
		u := model.User{
			DsUUID:    ds,
			ID:        model.UserID(id),
			FirstName: strPtr(firstName),
			LastName:  strPtr(lastName),
			Username:  strPtr(username),
			Phone:     strPtr(phone),
			IsMyself:  isMyself != 0,
		}
		if u.IsMyself {
			myself = u.ID
		}
		out[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.WrapDB(err, "iterate users")
	}

	for id, u := range out {
		pics, err := s.loadProfilePictures(ds, u.ID)
		if err != nil {
			return nil, 0, err
		}
		u.Pictures = pics
		out[id] = u
	}
	return out, myself, nil
}

func (s *Store) loadProfilePictures(ds model.DatasetUUID, userID model.UserID) ([]model.ProfilePicture, error) {
	rows, err := s.db.Query(
		`SELECT path, frame_x, frame_y, frame_w, frame_h FROM profile_picture
		 WHERE ds_uuid = ? AND user_id = ? ORDER BY seq_order`,
		uuidBytes(ds), int64(userID))
	if err != nil {
		return nil, apperr.WrapDB(err, "query profile pictures")
	}
	defer rows.Close()

	var out []model.ProfilePicture
	for rows.Next() {
		var path string
		var fx, fy, fw, fh sql.NullFloat64
		if err := rows.Scan(&path, &fx, &fy, &fw, &fh); err != nil {
			return nil, apperr.WrapDB(err, "scan profile picture")
		}
		pic := model.ProfilePicture{RelativePath: path}
		if fx.Valid && fy.Valid && fw.Valid && fh.Valid {
			pic.Frame = &model.CropFrame{X: fx.Float64, Y: fy.Float64, W: fw.Float64, H: fh.Float64}
		}
		out = append(out, pic)
	}
	return out, rows.Err()
}

// InsertUser inserts a new user row, copying any profile picture files
// from srcRoot into this store's dataset root.
func (s *Store) InsertUser(u model.User, srcRoot *dsroot.Root) error {
	if err := u.Validate(); err != nil {
		return apperr.WrapInvalid(err, "insert user")
	}
	return s.withWriteLock(func() error {
		return s.withTx(func(tx *sql.Tx) error {
			dstRoot := dsroot.New(s.StorageRoot, u.DsUUID)
			return insertUserTx(tx, u, srcRoot, dstRoot)
		})
	})
}

// insertUserTx is InsertUser's statement, factored out so a caller
// already holding a transaction (CopyDatasetsFrom) can insert a user as
// one step of a larger per-dataset transaction instead of opening its
// own.
func insertUserTx(tx *sql.Tx, u model.User, srcRoot, dstRoot *dsroot.Root) error {
	isMyself := 0
	if u.IsMyself {
		isMyself = 1
	}
	_, err := tx.Exec(
		`INSERT INTO user (ds_uuid, id, first_name, last_name, username, phone_numbers, is_myself)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuidBytes(u.DsUUID), int64(u.ID), u.FirstName, u.LastName, u.Username, u.Phone, isMyself)
	if err != nil {
		if isSQLiteError(err, "UNIQUE constraint") {
			return apperr.Conflict("user %d already exists in dataset %s", u.ID, u.DsUUID)
		}
		return apperr.WrapDB(err, "insert user")
	}
	return insertProfilePicturesTx(tx, u, srcRoot, dstRoot)
}

func insertProfilePicturesTx(tx *sql.Tx, u model.User, srcRoot, dstRoot *dsroot.Root) error {
	for seq, pic := range u.Pictures {
		dstRel, err := copyProfilePicture(srcRoot, dstRoot, u.ID, pic.RelativePath)
		if err != nil {
			return err
		}
		var fx, fy, fw, fh sql.NullFloat64
		if pic.Frame != nil {
			fx = sql.NullFloat64{Float64: pic.Frame.X, Valid: true}
			fy = sql.NullFloat64{Float64: pic.Frame.Y, Valid: true}
			fw = sql.NullFloat64{Float64: pic.Frame.W, Valid: true}
			fh = sql.NullFloat64{Float64: pic.Frame.H, Valid: true}
		}
		if _, err := tx.Exec(
			`INSERT INTO profile_picture (ds_uuid, user_id, path, seq_order, frame_x, frame_y, frame_w, frame_h)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuidBytes(u.DsUUID), int64(u.ID), dstRel, seq, fx, fy, fw, fh); err != nil {
			return apperr.WrapDB(err, "insert profile picture")
		}
	}
	return nil
}

// CopyUserPictureFile copies one profile-picture file from srcRoot into
// dstRoot under userID's hashed profile-pic subtree without writing any
// row, returning the dest-relative path (or "" if the source file is
// missing). Exported for the merger, which unions pictures from two
// source roots before writing profile_picture rows in one batch via
// SetUserProfilePictureRows.
func CopyUserPictureFile(srcRoot, dstRoot *dsroot.Root, userID model.UserID, srcRelative string) (string, error) {
	return copyProfilePicture(srcRoot, dstRoot, userID, srcRelative)
}

func copyProfilePicture(srcRoot, dstRoot *dsroot.Root, userID model.UserID, srcRelative string) (string, error) {
	hash, err := hashInRoot(srcRoot, srcRelative)
	if err != nil || hash == "" {
		return "", nil
	}
	dstRel := dsroot.HashedRelativePath(userBaseName(userID), dsroot.SubtreeProfilePics, hash, extOf(srcRelative))
	if err := dsroot.CopyFile(srcRoot, srcRelative, dstRoot, dstRel, dsroot.SubtreeProfilePics, nil); err != nil {
		return "", err
	}
	return dstRel, nil
}

func hashInRoot(root *dsroot.Root, relative string) (string, error) {
	abs, err := root.Abs(relative)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", nil
	}
	return dsroot.HashFile(abs)
}

func userBaseName(id model.UserID) string {
	return "user_" + itoa(int(id))
}

// SetUserProfilePictureRows replaces a user's profile_picture rows with
// pics whose RelativePath values are already resolved against this
// store's own dataset root — no file copy is performed. Used by the
// merger, which must union pictures already copied in from two
// different source roots before writing a single row set (spec
// §4.4 step 2's "deduplicated by file hash" profile-pic merge).
func (s *Store) SetUserProfilePictureRows(ds model.DatasetUUID, userID model.UserID, pics []model.ProfilePicture) error {
	return s.withWriteLock(func() error {
		return s.withTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(`DELETE FROM profile_picture WHERE ds_uuid = ? AND user_id = ?`,
				uuidBytes(ds), int64(userID)); err != nil {
				return apperr.WrapDB(err, "clear profile pictures")
			}
			for seq, pic := range pics {
				var fx, fy, fw, fh sql.NullFloat64
				if pic.Frame != nil {
					fx = sql.NullFloat64{Float64: pic.Frame.X, Valid: true}
					fy = sql.NullFloat64{Float64: pic.Frame.Y, Valid: true}
					fw = sql.NullFloat64{Float64: pic.Frame.W, Valid: true}
					fh = sql.NullFloat64{Float64: pic.Frame.H, Valid: true}
				}
				if _, err := tx.Exec(
					`INSERT INTO profile_picture (ds_uuid, user_id, path, seq_order, frame_x, frame_y, frame_w, frame_h)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
					uuidBytes(ds), int64(userID), pic.RelativePath, seq, fx, fy, fw, fh); err != nil {
					return apperr.WrapDB(err, "insert profile picture")
				}
			}
			return nil
		})
	})
}

// UpdateUserProfilePics replaces a user's profile picture list wholesale.
func (s *Store) UpdateUserProfilePics(ds model.DatasetUUID, userID model.UserID, pics []model.ProfilePicture, srcRoot *dsroot.Root) error {
	return s.withWriteLock(func() error {
		return s.withTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(`DELETE FROM profile_picture WHERE ds_uuid = ? AND user_id = ?`,
				uuidBytes(ds), int64(userID)); err != nil {
				return apperr.WrapDB(err, "clear profile pictures")
			}
			dstRoot := dsroot.New(s.StorageRoot, ds)
			return insertProfilePicturesTx(tx, model.User{DsUUID: ds, ID: userID, Pictures: pics}, srcRoot, dstRoot)
		})
	})
}

// UpdateUser updates a user's fields. If newID differs from oldID, an
// id-change cascade runs with foreign keys deferred for the transaction:
// user.id, message.from_id and chat_member.user_id are all updated, the
// on-disk profile-pics directory is renamed, personal chats naming this
// user are retitled, and any message_content.members string mentioning
// the user's old pretty name is rewritten (spec §4.2.6).
func (s *Store) UpdateUser(ds model.DatasetUUID, oldID model.UserID, updated model.User) error {
	if err := updated.Validate(); err != nil {
		return apperr.WrapInvalid(err, "update user")
	}
	return s.withWriteLock(func() error {
		users, _, err := s.loadUsers(ds)
		if err != nil {
			return err
		}
		oldUser, ok := users[oldID]
		if !ok {
			return apperr.NotFound("user %d not found in dataset %s", oldID, ds)
		}
		oldPrettyName := oldUser.PrettyName()
		newID := updated.ID

		err = s.withTx(func(tx *sql.Tx) error {
			if newID != oldID {
				if _, err := tx.Exec(`PRAGMA defer_foreign_keys = ON`); err != nil {
					return apperr.WrapDB(err, "defer foreign keys")
				}
			}

			isMyself := 0
			if updated.IsMyself {
				isMyself = 1
			}
			if _, err := tx.Exec(
				`UPDATE user SET id = ?, first_name = ?, last_name = ?, username = ?, phone_numbers = ?, is_myself = ?
				 WHERE ds_uuid = ? AND id = ?`,
				int64(newID), updated.FirstName, updated.LastName, updated.Username, updated.Phone, isMyself,
				uuidBytes(ds), int64(oldID)); err != nil {
				return apperr.WrapDB(err, "update user")
			}

			if newID != oldID {
				if _, err := tx.Exec(`UPDATE message SET from_id = ? WHERE ds_uuid = ? AND from_id = ?`,
					int64(newID), uuidBytes(ds), int64(oldID)); err != nil {
					return apperr.WrapDB(err, "cascade message.from_id")
				}
				if _, err := tx.Exec(`UPDATE chat_member SET user_id = ? WHERE ds_uuid = ? AND user_id = ?`,
					int64(newID), uuidBytes(ds), int64(oldID)); err != nil {
					return apperr.WrapDB(err, "cascade chat_member.user_id")
				}
				if _, err := tx.Exec(`UPDATE profile_picture SET user_id = ? WHERE ds_uuid = ? AND user_id = ?`,
					int64(newID), uuidBytes(ds), int64(oldID)); err != nil {
					return apperr.WrapDB(err, "cascade profile_picture.user_id")
				}
			}

			if !updated.IsMyself {
				newName := updated.PrettyName()
				if _, err := tx.Exec(`
					UPDATE chat SET name = ?
					WHERE ds_uuid = ? AND tpe = 'personal' AND id IN (
						SELECT chat_id FROM chat_member WHERE ds_uuid = ? AND user_id = ? AND chat_id IN (
							SELECT chat_id FROM chat_member WHERE ds_uuid = ? GROUP BY chat_id HAVING COUNT(*) = 2
						)
					)`, newName, uuidBytes(ds), uuidBytes(ds), int64(newID), uuidBytes(ds)); err != nil {
					return apperr.WrapDB(err, "rename personal chats")
				}
			}

			if oldPrettyName != "" {
				newPrettyName := updated.PrettyName()
				if oldPrettyName != newPrettyName {
					if err := rewriteMembersStrings(tx, ds, oldPrettyName, newPrettyName); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		if newID != oldID {
			root := dsroot.New(s.StorageRoot, ds)
			oldDir := root.UserDir(oldID)
			newDir := root.UserDir(newID)
			if _, statErr := os.Stat(oldDir); statErr == nil {
				if err := fileutil.SecureMkdirAll(root.Dir(), 0o755); err != nil {
					return apperr.WrapFS(err, "ensure dataset root")
				}
				if err := os.Rename(oldDir, newDir); err != nil {
					return apperr.WrapFS(err, "rename profile-pics directory")
				}
			}
		}
		return nil
	})
}

// rewriteMembersStrings does a naive substring replace of oldName with
// newName in every message_content.members value for the dataset. This
// preserves the source's documented quirk (spec §9 open question iii):
// if one user's pretty name is a substring of another's, the rewrite
// can be incorrect. Do not silently change this to a tokenized replace.
func rewriteMembersStrings(tx *sql.Tx, ds model.DatasetUUID, oldName, newName string) error {
	rows, err := tx.Query(`
		SELECT mc.id, mc.members FROM message_content mc
		JOIN message m ON m.internal_id = mc.message_internal_id
		WHERE m.ds_uuid = ? AND mc.members LIKE '%' || ? || '%'`,
		uuidBytes(ds), oldName)
	if err != nil {
		return apperr.WrapDB(err, "query members strings")
	}
	type update struct {
		id      int64
		members string
	}
	var updates []update
	for rows.Next() {
		var u update
		if err := rows.Scan(&u.id, &u.members); err != nil {
			rows.Close()
			return apperr.WrapDB(err, "scan members string")
		}
		updates = append(updates, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperr.WrapDB(err, "iterate members strings")
	}

	for _, u := range updates {
		rewritten := strings.ReplaceAll(u.members, oldName, newName)
		if _, err := tx.Exec(`UPDATE message_content SET members = ? WHERE id = ?`, rewritten, u.id); err != nil {
			return apperr.WrapDB(err, "rewrite members string")
		}
	}
	return nil
}
