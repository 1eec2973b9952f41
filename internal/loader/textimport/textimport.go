// Package textimport implements the reference loader for chatvault's
// simplest source: a plain text transcript. It exists to let tests and
// the CLI exercise the full loader → memstore → merge pipeline without
// pulling in a real per-messenger parser (spec §6.3, SPEC_FULL.md §6.3).
//
// Transcript format: one message per line,
//
//	<unix_timestamp> <sender name>: <text>
//
// Blank lines and lines without a ": " separator are skipped. Sender
// names are matched case-sensitively; the first name encountered that
// the operator does not pick as "myself" becomes a regular member, and
// every later occurrence of the same name resolves to the same user.
package textimport

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/wesm/chatvault/internal/apperr"
	"github.com/wesm/chatvault/internal/memstore"
	"github.com/wesm/chatvault/internal/model"
	"github.com/wesm/chatvault/internal/prompt"
)

// Loader implements loader.Loader for SourceTextImport.
type Loader struct{}

// New returns the text-import reference loader.
func New() Loader { return Loader{} }

func (Loader) Name() string { return "text_import" }

// LooksAboutRight accepts any plain .txt file; it's the fallback
// loader when nothing more specific claims a path.
func (Loader) LooksAboutRight(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".txt")
}

type rawLine struct {
	ts   int64
	name string
	text string
}

// Load parses path as a transcript and produces a single-chat,
// single-dataset in-memory store. If more than one distinct sender
// name is found, ch.ChooseMyself is asked which one is the operator;
// with exactly one name, that sender is myself automatically.
func (l Loader) Load(path string, ch prompt.Channel) (*memstore.Store, model.DatasetUUID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, model.DatasetUUID{}, apperr.WrapFS(err, "open transcript %s", path)
	}
	defer f.Close()

	var lines []rawLine
	names := make(map[string]bool)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		parsed, ok := parseLine(line)
		if !ok {
			continue
		}
		lines = append(lines, parsed)
		names[parsed.name] = true
	}
	if err := sc.Err(); err != nil {
		return nil, model.DatasetUUID{}, apperr.WrapFS(err, "read transcript %s", path)
	}
	if len(lines) == 0 {
		return nil, model.DatasetUUID{}, apperr.Invalid("transcript %s contains no parseable lines", path)
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].ts < lines[j].ts })

	orderedNames := make([]string, 0, len(names))
	for n := range names {
		orderedNames = append(orderedNames, n)
	}
	sort.Strings(orderedNames)

	users := make([]model.User, len(orderedNames))
	for i, n := range orderedNames {
		name := n
		users[i] = model.User{ID: model.UserID(i + 1), FirstName: &name}
	}

	myselfIdx := 0
	if len(users) > 1 {
		idx, err := ch.ChooseMyself(users)
		if err != nil {
			return nil, model.DatasetUUID{}, err
		}
		if idx < 0 || idx >= len(users) {
			return nil, model.DatasetUUID{}, apperr.Invalid("choose_myself index %d out of range", idx)
		}
		myselfIdx = idx
	}
	users[myselfIdx].IsMyself = true

	nameToID := make(map[string]model.UserID, len(users))
	for _, u := range users {
		nameToID[*u.FirstName] = u.ID
	}

	ds := model.NewDatasetUUID()
	store := memstore.New("")
	store.AddDataset(model.Dataset{UUID: ds, Alias: fmt.Sprintf("text_import:%s", path)})
	memberIDs := []model.UserID{users[myselfIdx].ID}
	for i, u := range users {
		store.AddUser(ds, u)
		if i != myselfIdx {
			memberIDs = append(memberIDs, u.ID)
		}
	}

	var chatName *string
	if len(users) == 2 {
		for _, u := range users {
			if !u.IsMyself {
				n := u.PrettyName()
				chatName = &n
			}
		}
	} else {
		name, err := ch.AskForText("name for this imported chat")
		if err != nil {
			return nil, model.DatasetUUID{}, err
		}
		chatName = &name
	}

	chatType := model.ChatPersonal
	if len(users) > 2 {
		chatType = model.ChatPrivateGroup
	}
	chat := model.Chat{
		DsUUID:     ds,
		ID:         1,
		Name:       chatName,
		SourceType: model.SourceTextImport,
		Type:       chatType,
		MemberIDs:  memberIDs,
	}
	store.AddChat(ds, chat)

	msgs := make([]model.Message, len(lines))
	for i, ln := range lines {
		text := model.NewRichTextElement(model.RTEPlain, ln.text)
		srcID := model.MessageSourceID(i + 1)
		msgs[i] = model.Message{
			InternalID:       model.MessageInternalID(i),
			SourceID:         &srcID,
			Timestamp:        model.Timestamp(ln.ts),
			FromID:           nameToID[ln.name],
			Text:             []model.RichTextElement{text},
			SearchableString: text.SearchableString,
			TypeKind:         model.MessageRegular,
			Regular:          &model.Regular{},
		}
	}
	store.AddMessages(ds, chat.ID, msgs)

	return store, ds, nil
}

// parseLine splits "<unix_ts> <name>: <text>" into its parts.
func parseLine(line string) (rawLine, bool) {
	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		return rawLine{}, false
	}
	ts, err := strconv.ParseInt(line[:sp], 10, 64)
	if err != nil {
		return rawLine{}, false
	}
	rest := line[sp+1:]
	sep := strings.Index(rest, ": ")
	if sep < 0 {
		return rawLine{}, false
	}
	name := strings.TrimSpace(rest[:sep])
	text := rest[sep+2:]
	if name == "" {
		return rawLine{}, false
	}
	return rawLine{ts: ts, name: name, text: text}, true
}
