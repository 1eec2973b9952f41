package store

import (
	"database/sql"
	"strings"

	"github.com/wesm/chatvault/internal/model"
)

// contentRow mirrors one message_content row (spec §4.2.2). Regular
// messages write one row per Content element; a Service message writes
// a single row carrying whichever columns its ServiceKind uses (the
// model package's comment on Content.Members documents this one-table
// round trip).
type contentRow struct {
	seqOrder        int
	elementType     string
	path            sql.NullString
	fileName        sql.NullString
	width           sql.NullInt64
	height          sql.NullInt64
	mimeType        sql.NullString
	durationSec     sql.NullInt64
	thumbnailPath   sql.NullString
	emoji           sql.NullString
	title           sql.NullString
	performer       sql.NullString
	lat             sql.NullString
	lon             sql.NullString
	address         sql.NullString
	pollQuestion    sql.NullString
	firstName       sql.NullString
	lastName        sql.NullString
	phoneNumber     sql.NullString
	members         sql.NullString
	pinnedMessageID sql.NullInt64
	isBlocked       sql.NullInt64
	isOneTime       sql.NullInt64
	discardReason   sql.NullString
}

func nullStr(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func strPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func joinMembers(members []string) sql.NullString {
	if members == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.Join(members, ";"), Valid: true}
}

func splitMembers(n sql.NullString) []string {
	if !n.Valid || n.String == "" {
		return nil
	}
	return strings.Split(n.String, ";")
}

// contentToRow flattens one Content element into its message_content
// row form (spec §4.2.2 columns).
func contentToRow(seq int, c model.Content) contentRow {
	return contentRow{
		seqOrder:     seq,
		elementType:  string(c.Kind),
		path:         nullStr(c.Path),
		fileName:     nullStr(c.FileName),
		width:        nullInt(c.Width),
		height:       nullInt(c.Height),
		mimeType:     nullStr(c.MimeType),
		durationSec:  nullInt(c.DurationSec),
		thumbnailPath: nullStr(c.ThumbnailPath),
		emoji:        nullStr(c.Emoji),
		title:        nullStr(c.Title),
		performer:    nullStr(c.Performer),
		lat:          nullStr(c.Lat),
		lon:          nullStr(c.Lon),
		address:      nullStr(c.Address),
		pollQuestion: nullStr(c.PollQuestion),
		firstName:    nullStr(c.FirstName),
		lastName:     nullStr(c.LastName),
		phoneNumber:  nullStr(c.PhoneNumber),
		members:      joinMembers(c.Members),
	}
}

func rowToContent(r contentRow) model.Content {
	return model.Content{
		Kind:          model.ContentKind(r.elementType),
		Path:          strPtr(r.path),
		ThumbnailPath: strPtr(r.thumbnailPath),
		FileName:      strPtr(r.fileName),
		Width:         intPtr(r.width),
		Height:        intPtr(r.height),
		MimeType:      strPtr(r.mimeType),
		DurationSec:   intPtr(r.durationSec),
		Emoji:         strPtr(r.emoji),
		Title:         strPtr(r.title),
		Performer:     strPtr(r.performer),
		Lat:           strPtr(r.lat),
		Lon:           strPtr(r.lon),
		Address:       strPtr(r.address),
		PollQuestion:  strPtr(r.pollQuestion),
		FirstName:     strPtr(r.firstName),
		LastName:      strPtr(r.lastName),
		PhoneNumber:   strPtr(r.phoneNumber),
		Members:       splitMembers(r.members),
	}
}

// serviceToRow flattens a Service payload into a single message_content
// row, reusing the photo's path-bearing columns when the service kind
// carries an attached photo (GroupEditPhoto, SuggestProfilePhoto).
func serviceToRow(svc model.Service) contentRow {
	row := contentRow{
		seqOrder:      0,
		elementType:   string(svc.Kind),
		durationSec:   nullInt(svc.DurationSec),
		discardReason: nullStr(svc.DiscardReason),
		title:         nullStr(svc.Text),
		members:       joinMembers(svc.Members),
	}
	if svc.IsOneTime {
		row.isOneTime = sql.NullInt64{Int64: 1, Valid: true}
	}
	if svc.IsBlocked {
		row.isBlocked = sql.NullInt64{Int64: 1, Valid: true}
	}
	if svc.PinnedMessageSourceID != nil {
		row.pinnedMessageID = sql.NullInt64{Int64: int64(*svc.PinnedMessageSourceID), Valid: true}
	}
	if svc.MigrateChatID != nil {
		row.pinnedMessageID = sql.NullInt64{Int64: int64(*svc.MigrateChatID), Valid: true}
	}
	if svc.Photo != nil {
		row.path = nullStr(svc.Photo.Path)
		row.thumbnailPath = nullStr(svc.Photo.ThumbnailPath)
		row.fileName = nullStr(svc.Photo.FileName)
		row.width = nullInt(svc.Photo.Width)
		row.height = nullInt(svc.Photo.Height)
		row.mimeType = nullStr(svc.Photo.MimeType)
	}
	return row
}

func rowToService(r contentRow) model.Service {
	svc := model.Service{
		Kind:          model.ServiceKind(r.elementType),
		DurationSec:   intPtr(r.durationSec),
		DiscardReason: strPtr(r.discardReason),
		IsOneTime:     r.isOneTime.Valid && r.isOneTime.Int64 != 0,
		IsBlocked:     r.isBlocked.Valid && r.isBlocked.Int64 != 0,
		Text:          strPtr(r.title),
		Members:       splitMembers(r.members),
	}
	if r.pinnedMessageID.Valid {
		switch svc.Kind {
		case model.SvcGroupMigrateFrom, model.SvcGroupMigrateTo:
			id := model.ChatID(r.pinnedMessageID.Int64)
			svc.MigrateChatID = &id
		case model.SvcPinMessage:
			id := model.MessageSourceID(r.pinnedMessageID.Int64)
			svc.PinnedMessageSourceID = &id
		}
	}
	if r.path.Valid || r.fileName.Valid {
		svc.Photo = &model.Content{
			Kind:          model.ContentPhoto,
			Path:          strPtr(r.path),
			ThumbnailPath: strPtr(r.thumbnailPath),
			FileName:      strPtr(r.fileName),
			Width:         intPtr(r.width),
			Height:        intPtr(r.height),
			MimeType:      strPtr(r.mimeType),
		}
	}
	return svc
}

// rteToRow/rowToRTE convert message_text_element rows (spec §4.2.2).
type rteRow struct {
	seqOrder    int
	elementType string
	text        sql.NullString
	href        sql.NullString
	linkText    sql.NullString
	hidden      sql.NullInt64
	language    sql.NullString
}

func rteToRow(seq int, e model.RichTextElement) rteRow {
	row := rteRow{
		seqOrder:    seq,
		elementType: string(e.Kind),
		text:        sql.NullString{String: e.Text, Valid: true},
		linkText:    nullStr(e.LinkText),
		language:    nullStr(e.Language),
	}
	if e.Href != "" {
		row.href = sql.NullString{String: e.Href, Valid: true}
	}
	if e.Hidden {
		row.hidden = sql.NullInt64{Int64: 1, Valid: true}
	}
	return row
}

func rowToRTE(r rteRow) model.RichTextElement {
	opts := []func(*model.RichTextElement){}
	if r.href.Valid {
		opts = append(opts, model.WithHref(r.href.String, r.hidden.Valid && r.hidden.Int64 != 0))
	}
	if r.linkText.Valid {
		opts = append(opts, model.WithLinkText(r.linkText.String))
	}
	if r.language.Valid {
		opts = append(opts, model.WithLanguage(r.language.String))
	}
	return model.NewRichTextElement(model.RichTextKind(r.elementType), r.text.String, opts...)
}
