package store

import (
	"database/sql"
	"fmt"

	"github.com/wesm/chatvault/internal/apperr"
	"github.com/wesm/chatvault/internal/dsroot"
	"github.com/wesm/chatvault/internal/model"
)

const sliceBatchSize = 5000

// messageRow is the flat message table row, before content/text are
// attached (spec §4.2.2).
type messageRow struct {
	internalID       int64
	sourceID         sql.NullInt64
	tpe              string
	subtype          sql.NullString
	timeSent         int64
	timeEdited       sql.NullInt64
	isDeleted        bool
	fromID           int64
	forwardFromName  sql.NullString
	replyToMessageID sql.NullInt64
	searchableString string
}

const messageColumns = `internal_id, source_id, tpe, subtype, time_sent, time_edited, is_deleted, from_id, forward_from_name, reply_to_message_id, searchable_string`

func scanMessageRow(rows *sql.Rows) (messageRow, error) {
	var r messageRow
	var isDeleted int64
	err := rows.Scan(&r.internalID, &r.sourceID, &r.tpe, &r.subtype, &r.timeSent, &r.timeEdited,
		&isDeleted, &r.fromID, &r.forwardFromName, &r.replyToMessageID, &r.searchableString)
	r.isDeleted = isDeleted != 0
	return r, err
}

// First returns the first N messages in chat ordered by internal_id.
func (s *Store) First(ds model.DatasetUUID, chat model.ChatID, n int) ([]model.Message, error) {
	var out []model.Message
	err := s.withReadLock(func() error {
		var err error
		out, err = s.loadMessages(ds, chat,
			`WHERE ds_uuid = ? AND chat_id = ? ORDER BY internal_id ASC LIMIT ?`,
			[]interface{}{uuidBytes(ds), int64(chat), n})
		return err
	})
	return out, err
}

// Last returns the last N messages in chat, returned in ascending
// internal_id order.
func (s *Store) Last(ds model.DatasetUUID, chat model.ChatID, n int) ([]model.Message, error) {
	var out []model.Message
	err := s.withReadLock(func() error {
		rows, err := s.loadMessages(ds, chat,
			`WHERE ds_uuid = ? AND chat_id = ? ORDER BY internal_id DESC LIMIT ?`,
			[]interface{}{uuidBytes(ds), int64(chat), n})
		if err != nil {
			return err
		}
		reverseMessages(rows)
		out = rows
		return nil
	})
	return out, err
}

// Scroll returns N messages starting at the given zero-based offset
// from the start of the chat.
func (s *Store) Scroll(ds model.DatasetUUID, chat model.ChatID, offset, n int) ([]model.Message, error) {
	var out []model.Message
	err := s.withReadLock(func() error {
		var err error
		out, err = s.loadMessages(ds, chat,
			`WHERE ds_uuid = ? AND chat_id = ? ORDER BY internal_id ASC LIMIT ? OFFSET ?`,
			[]interface{}{uuidBytes(ds), int64(chat), n, offset})
		return err
	})
	return out, err
}

// Before returns up to N messages with internal_id strictly less than
// id, in ascending order.
func (s *Store) Before(ds model.DatasetUUID, chat model.ChatID, id model.MessageInternalID, n int) ([]model.Message, error) {
	var out []model.Message
	err := s.withReadLock(func() error {
		rows, err := s.loadMessages(ds, chat,
			`WHERE ds_uuid = ? AND chat_id = ? AND internal_id < ? ORDER BY internal_id DESC LIMIT ?`,
			[]interface{}{uuidBytes(ds), int64(chat), int64(id), n})
		if err != nil {
			return err
		}
		reverseMessages(rows)
		out = rows
		return nil
	})
	return out, err
}

// After returns up to N messages with internal_id strictly greater
// than id, ascending. This is the batched iterator the diff analyzer
// uses to stream a chat's messages.
func (s *Store) After(ds model.DatasetUUID, chat model.ChatID, id model.MessageInternalID, n int) ([]model.Message, error) {
	var out []model.Message
	err := s.withReadLock(func() error {
		var err error
		out, err = s.loadMessages(ds, chat,
			`WHERE ds_uuid = ? AND chat_id = ? AND internal_id > ? ORDER BY internal_id ASC LIMIT ?`,
			[]interface{}{uuidBytes(ds), int64(chat), int64(id), n})
		return err
	})
	return out, err
}

// MessageBySourceID looks up a message by its source-assigned id.
func (s *Store) MessageBySourceID(ds model.DatasetUUID, chat model.ChatID, srcID model.MessageSourceID) (*model.Message, error) {
	var out *model.Message
	err := s.withReadLock(func() error {
		msgs, err := s.loadMessages(ds, chat,
			`WHERE ds_uuid = ? AND chat_id = ? AND source_id = ? LIMIT 1`,
			[]interface{}{uuidBytes(ds), int64(chat), int64(srcID)})
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return apperr.NotFound("message with source_id %d not found in chat %d", srcID, chat)
		}
		out = &msgs[0]
		return nil
	})
	return out, err
}

// SliceLen returns the number of messages with internal_id in
// [id1, id2] inclusive.
func (s *Store) SliceLen(ds model.DatasetUUID, chat model.ChatID, id1, id2 model.MessageInternalID) (int64, error) {
	var n int64
	err := s.withReadLock(func() error {
		return s.db.QueryRow(
			`SELECT COUNT(*) FROM message WHERE ds_uuid = ? AND chat_id = ? AND internal_id BETWEEN ? AND ?`,
			uuidBytes(ds), int64(chat), int64(id1), int64(id2),
		).Scan(&n)
	})
	return n, err
}

// Slice returns every message with internal_id in [id1, id2]
// inclusive, paging internally in batches of sliceBatchSize to cap
// memory (spec §4.2.5); sequential batches skip the duplicated
// boundary message.
func (s *Store) Slice(ds model.DatasetUUID, chat model.ChatID, id1, id2 model.MessageInternalID) ([]model.Message, error) {
	var out []model.Message
	err := s.withReadLock(func() error {
		cursor := id1
		first := true
		for {
			lowerOp := ">="
			if !first {
				lowerOp = ">"
			}
			batch, err := s.loadMessages(ds, chat,
				fmt.Sprintf(`WHERE ds_uuid = ? AND chat_id = ? AND internal_id %s ? AND internal_id <= ? ORDER BY internal_id ASC LIMIT ?`, lowerOp),
				[]interface{}{uuidBytes(ds), int64(chat), int64(cursor), int64(id2), sliceBatchSize})
			if err != nil {
				return err
			}
			out = append(out, batch...)
			if len(batch) < sliceBatchSize {
				return nil
			}
			cursor = batch[len(batch)-1].InternalID
			first = false
		}
	})
	return out, err
}

// AbbreviatedSlice implements spec §4.2.5: if [id1,id2] fits within
// combinedLimit, return the full slice with no gap; otherwise return
// abbrevLimit messages from each end and the count of hidden messages
// between them.
func (s *Store) AbbreviatedSlice(ds model.DatasetUUID, chat model.ChatID, id1, id2 model.MessageInternalID, combinedLimit, abbrevLimit int) (left []model.Message, gap int64, right []model.Message, err error) {
	err = s.withReadLock(func() error {
		total, e := s.sliceLenLocked(ds, chat, id1, id2)
		if e != nil {
			return e
		}
		if total <= int64(combinedLimit) {
			full, e := s.loadMessages(ds, chat,
				`WHERE ds_uuid = ? AND chat_id = ? AND internal_id BETWEEN ? AND ? ORDER BY internal_id ASC`,
				[]interface{}{uuidBytes(ds), int64(chat), int64(id1), int64(id2)})
			if e != nil {
				return e
			}
			left = full
			gap = 0
			right = nil
			return nil
		}

		l, e := s.loadMessages(ds, chat,
			`WHERE ds_uuid = ? AND chat_id = ? AND internal_id >= ? ORDER BY internal_id ASC LIMIT ?`,
			[]interface{}{uuidBytes(ds), int64(chat), int64(id1), abbrevLimit})
		if e != nil {
			return e
		}
		r, e := s.loadMessages(ds, chat,
			`WHERE ds_uuid = ? AND chat_id = ? AND internal_id <= ? ORDER BY internal_id DESC LIMIT ?`,
			[]interface{}{uuidBytes(ds), int64(chat), int64(id2), abbrevLimit})
		if e != nil {
			return e
		}
		reverseMessages(r)
		left, right = l, r
		if len(left) == 0 || len(right) == 0 {
			gap = total - int64(len(left)) - int64(len(right))
			return nil
		}
		between, e := s.sliceLenLocked(ds, chat, left[len(left)-1].InternalID, right[0].InternalID)
		if e != nil {
			return e
		}
		gap = between - 2
		if gap < 0 {
			gap = 0
		}
		return nil
	})
	return left, gap, right, err
}

func (s *Store) sliceLenLocked(ds model.DatasetUUID, chat model.ChatID, id1, id2 model.MessageInternalID) (int64, error) {
	var n int64
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM message WHERE ds_uuid = ? AND chat_id = ? AND internal_id BETWEEN ? AND ?`,
		uuidBytes(ds), int64(chat), int64(id1), int64(id2),
	).Scan(&n)
	return n, err
}

func reverseMessages(msgs []model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// loadMessages runs the given WHERE/ORDER/LIMIT clause against the
// message table and hydrates full Message values, including their
// content and text-element children.
func (s *Store) loadMessages(ds model.DatasetUUID, chat model.ChatID, whereClause string, args []interface{}) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM message ` + whereClause
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, apperr.WrapDB(err, "query messages")
	}
	var mrows []messageRow
	for rows.Next() {
		r, err := scanMessageRow(rows)
		if err != nil {
			rows.Close()
			return nil, apperr.WrapDB(err, "scan message")
		}
		mrows = append(mrows, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.WrapDB(err, "iterate messages")
	}
	if len(mrows) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(mrows))
	for i, r := range mrows {
		ids[i] = r.internalID
	}
	contents, err := s.loadContentRows(ids)
	if err != nil {
		return nil, err
	}
	rtes, err := s.loadRTERows(ids)
	if err != nil {
		return nil, err
	}

	out := make([]model.Message, len(mrows))
	for i, r := range mrows {
		out[i] = hydrateMessage(r, contents[r.internalID], rtes[r.internalID])
	}
	return out, nil
}

func (s *Store) loadContentRows(ids []int64) (map[int64][]contentRow, error) {
	out := make(map[int64][]contentRow)
	err := queryInChunks(s.db, ids, nil,
		`SELECT message_internal_id, seq_order, element_type, path, file_name, width, height, mime_type, duration_sec,
		        thumbnail_path, emoji, title, performer, lat, lon, address, poll_question, first_name, last_name,
		        phone_number, members, pinned_message_id, is_blocked, is_one_time, discard_reason
		 FROM message_content WHERE message_internal_id IN (%s) ORDER BY message_internal_id, seq_order`,
		func(rows *sql.Rows) error {
			var msgID int64
			var row contentRow
			if err := rows.Scan(&msgID, &row.seqOrder, &row.elementType, &row.path, &row.fileName, &row.width, &row.height,
				&row.mimeType, &row.durationSec, &row.thumbnailPath, &row.emoji, &row.title, &row.performer, &row.lat,
				&row.lon, &row.address, &row.pollQuestion, &row.firstName, &row.lastName, &row.phoneNumber, &row.members,
				&row.pinnedMessageID, &row.isBlocked, &row.isOneTime, &row.discardReason); err != nil {
				return err
			}
			out[msgID] = append(out[msgID], row)
			return nil
		})
	if err != nil {
		return nil, apperr.WrapDB(err, "load message content")
	}
	return out, nil
}

func (s *Store) loadRTERows(ids []int64) (map[int64][]rteRow, error) {
	out := make(map[int64][]rteRow)
	err := queryInChunks(s.db, ids, nil,
		`SELECT message_internal_id, seq_order, element_type, text, href, link_text, hidden, language
		 FROM message_text_element WHERE message_internal_id IN (%s) ORDER BY message_internal_id, seq_order`,
		func(rows *sql.Rows) error {
			var msgID int64
			var row rteRow
			if err := rows.Scan(&msgID, &row.seqOrder, &row.elementType, &row.text, &row.href, &row.linkText,
				&row.hidden, &row.language); err != nil {
				return err
			}
			out[msgID] = append(out[msgID], row)
			return nil
		})
	if err != nil {
		return nil, apperr.WrapDB(err, "load message text elements")
	}
	return out, nil
}

func hydrateMessage(r messageRow, contents []contentRow, rtes []rteRow) model.Message {
	msg := model.Message{
		InternalID:       model.MessageInternalID(r.internalID),
		Timestamp:        model.Timestamp(r.timeSent),
		FromID:           model.UserID(r.fromID),
		SearchableString: r.searchableString,
		TypeKind:         model.MessageTypeKind(r.tpe),
	}
	if r.sourceID.Valid {
		id := model.MessageSourceID(r.sourceID.Int64)
		msg.SourceID = &id
	}
	for _, rte := range rtes {
		msg.Text = append(msg.Text, rowToRTE(rte))
	}

	switch msg.TypeKind {
	case model.MessageService:
		if len(contents) > 0 {
			svc := rowToService(contents[0])
			msg.Service = &svc
		}
	default:
		reg := &model.Regular{IsDeleted: r.isDeleted}
		if r.timeEdited.Valid {
			t := model.Timestamp(r.timeEdited.Int64)
			reg.EditTimestamp = &t
		}
		reg.ForwardFromName = strPtr(r.forwardFromName)
		if r.replyToMessageID.Valid {
			id := model.MessageSourceID(r.replyToMessageID.Int64)
			reg.ReplyToSourceID = &id
		}
		for _, c := range contents {
			reg.Contents = append(reg.Contents, rowToContent(c))
		}
		msg.Regular = reg
	}
	return msg
}

// InsertMessages inserts msgs into chat, copying every path-bearing
// content field from srcRoot into the store's own dataset root per the
// copy-file protocol (spec §4.2.4). Insertion order is preserved;
// chat.msg_count is left to the caller to refresh via UpdateChat.
func (s *Store) InsertMessages(ds model.DatasetUUID, chat model.ChatID, msgs []model.Message, srcRoot *dsroot.Root) error {
	return s.withWriteLock(func() error {
		dstRoot := dsroot.New(s.StorageRoot, ds)
		return s.withTx(func(tx *sql.Tx) error {
			return insertMessagesTx(tx, ds, chat, msgs, srcRoot, dstRoot)
		})
	})
}

// insertMessagesTx is InsertMessages' statement, factored out so a
// caller already holding a transaction (CopyDatasetsFrom) can insert a
// chat's messages as one step of a larger per-dataset transaction
// instead of opening its own.
func insertMessagesTx(tx *sql.Tx, ds model.DatasetUUID, chat model.ChatID, msgs []model.Message, srcRoot, dstRoot *dsroot.Root) error {
	insMsg, err := tx.Prepare(`INSERT INTO message
		(ds_uuid, chat_id, source_id, tpe, subtype, time_sent, time_edited, is_deleted, from_id,
		 forward_from_name, reply_to_message_id, searchable_string)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return apperr.WrapDB(err, "prepare insert message")
	}
	defer insMsg.Close()

	insContent, err := tx.Prepare(`INSERT INTO message_content
		(message_internal_id, seq_order, element_type, path, file_name, width, height, mime_type, duration_sec,
		 thumbnail_path, emoji, title, performer, lat, lon, address, poll_question, first_name, last_name,
		 phone_number, members, pinned_message_id, is_blocked, is_one_time, discard_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return apperr.WrapDB(err, "prepare insert message_content")
	}
	defer insContent.Close()

	insRTE, err := tx.Prepare(`INSERT INTO message_text_element
		(message_internal_id, seq_order, element_type, text, href, link_text, hidden, language)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return apperr.WrapDB(err, "prepare insert message_text_element")
	}
	defer insRTE.Close()

	for _, m := range msgs {
		subtype, isDeleted, editTs, forwardFrom, replyTo := msgWriteFields(m)
		res, err := insMsg.Exec(uuidBytes(ds), int64(chat), sourceIDArg(m.SourceID), string(m.TypeKind),
			subtype, int64(m.Timestamp), editTs, isDeleted, int64(m.FromID), forwardFrom, replyTo, m.SearchableString)
		if err != nil {
			return apperr.WrapDB(err, "insert message")
		}
		internalID, err := res.LastInsertId()
		if err != nil {
			return apperr.WrapDB(err, "get inserted message id")
		}

		for seq, rte := range m.Text {
			row := rteToRow(seq, rte)
			if _, err := insRTE.Exec(internalID, row.seqOrder, row.elementType, row.text, row.href,
				row.linkText, row.hidden, row.language); err != nil {
				return apperr.WrapDB(err, "insert text element")
			}
		}

		rows := contentRowsFor(m)
		for seq, row := range rows {
			if err := copyContentFiles(srcRoot, dstRoot, chat, &row); err != nil {
				return err
			}
			if _, err := insContent.Exec(internalID, seq, row.elementType, row.path, row.fileName, row.width,
				row.height, row.mimeType, row.durationSec, row.thumbnailPath, row.emoji, row.title, row.performer,
				row.lat, row.lon, row.address, row.pollQuestion, row.firstName, row.lastName, row.phoneNumber,
				row.members, row.pinnedMessageID, row.isBlocked, row.isOneTime, row.discardReason); err != nil {
				return apperr.WrapDB(err, "insert message_content")
			}
		}
	}
	return nil
}

func sourceIDArg(id *model.MessageSourceID) interface{} {
	if id == nil {
		return nil
	}
	return int64(*id)
}

func msgWriteFields(m model.Message) (subtype sql.NullString, isDeleted int64, editTs sql.NullInt64, forwardFrom sql.NullString, replyTo sql.NullInt64) {
	if m.Service != nil {
		subtype = sql.NullString{String: string(m.Service.Kind), Valid: true}
	}
	if m.Regular != nil {
		if m.Regular.IsDeleted {
			isDeleted = 1
		}
		if m.Regular.EditTimestamp != nil {
			editTs = sql.NullInt64{Int64: int64(*m.Regular.EditTimestamp), Valid: true}
		}
		forwardFrom = nullStr(m.Regular.ForwardFromName)
		if m.Regular.ReplyToSourceID != nil {
			replyTo = sql.NullInt64{Int64: int64(*m.Regular.ReplyToSourceID), Valid: true}
		}
	}
	return
}

func contentRowsFor(m model.Message) []contentRow {
	if m.Service != nil {
		return []contentRow{serviceToRow(*m.Service)}
	}
	if m.Regular == nil {
		return nil
	}
	rows := make([]contentRow, len(m.Regular.Contents))
	for i, c := range m.Regular.Contents {
		rows[i] = contentToRow(i, c)
	}
	return rows
}

// copyContentFiles runs the copy-file protocol (spec §4.2.4) for one
// content row's path/thumbnail fields, rewriting them to destination-
// relative paths in place.
func copyContentFiles(srcRoot, dstRoot *dsroot.Root, chat model.ChatID, row *contentRow) error {
	subtree := subtreeForElementType(row.elementType)
	if subtree == "" {
		return nil
	}
	if row.path.Valid {
		dstRel, err := copyOneFile(srcRoot, dstRoot, chat, row.path.String, subtree, false)
		if err != nil {
			return err
		}
		row.path = sql.NullString{String: dstRel, Valid: dstRel != ""}
	}
	if row.thumbnailPath.Valid {
		dstRel, err := copyOneFile(srcRoot, dstRoot, chat, row.thumbnailPath.String, subtree, true)
		if err != nil {
			return err
		}
		row.thumbnailPath = sql.NullString{String: dstRel, Valid: dstRel != ""}
	}
	return nil
}

func copyOneFile(srcRoot, dstRoot *dsroot.Root, chat model.ChatID, srcRelative, subtree string, isThumbnail bool) (string, error) {
	srcAbs, err := srcRoot.Abs(srcRelative)
	if err != nil {
		return "", err
	}
	var dstRel string
	base := chatRelBase(chat)
	if isThumbnail {
		dstRel = dsroot.ThumbnailRelativePath(dsroot.NonHashedRelativePath(base, subtree, baseName(srcRelative)))
	} else if dsroot.IsHashedSubtree(subtree) {
		hash, err := dsroot.HashFile(srcAbs)
		if err != nil {
			// Missing source file: the copy-file protocol tolerates this
			// (spec §4.2.4 step 1) by leaving the field unset.
			return "", nil
		}
		dstRel = dsroot.HashedRelativePath(base, subtree, hash, extOf(srcRelative))
	} else {
		dstRel = dsroot.NonHashedRelativePath(base, subtree, baseName(srcRelative))
	}
	if err := dsroot.CopyFile(srcRoot, srcRelative, dstRoot, dstRel, subtree, nil); err != nil {
		return "", err
	}
	return dstRel, nil
}

func subtreeForElementType(elementType string) string {
	switch model.ContentKind(elementType) {
	case model.ContentSticker:
		return dsroot.SubtreeStickers
	case model.ContentPhoto:
		return dsroot.SubtreePhotos
	case model.ContentVoiceMsg:
		return dsroot.SubtreeVoiceMsgs
	case model.ContentAudio:
		return dsroot.SubtreeAudios
	case model.ContentVideoMsg:
		return dsroot.SubtreeVideoMsgs
	case model.ContentVideo:
		return dsroot.SubtreeVideos
	case model.ContentFile:
		return dsroot.SubtreeFiles
	default:
		return ""
	}
}

func chatRelBase(chat model.ChatID) string {
	return fmt.Sprintf("chat_%d", chat)
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}

func extOf(p string) string {
	for i := len(p) - 1; i >= 0 && p[i] != '/' && p[i] != '\\'; i-- {
		if p[i] == '.' {
			return p[i+1:]
		}
	}
	return ""
}
