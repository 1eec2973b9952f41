// Package diff implements Component F: the streaming analyzer that
// walks two chats' message streams in lock-step and emits a sequence
// of non-overlapping sections describing how they relate (spec §4.3).
package diff

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/wesm/chatvault/internal/apperr"
	"github.com/wesm/chatvault/internal/chatdao"
	"github.com/wesm/chatvault/internal/compare"
	"github.com/wesm/chatvault/internal/model"
)

// batchSize is the page size for the underlying after() reads (spec
// §4.3.3).
const batchSize = 1000

// SectionKind is the closed set of section kinds the analyzer emits.
type SectionKind string

const (
	Match     SectionKind = "match"
	Retention SectionKind = "retention"
	Addition  SectionKind = "addition"
	Conflict  SectionKind = "conflict"
)

// Section is one contiguous, non-overlapping range of the combined
// master/slave timeline (spec §4.3.2).
type Section struct {
	Kind                     SectionKind
	HasMaster, HasSlave      bool
	FirstMaster, LastMaster  model.MessageInternalID
	FirstSlave, LastSlave    model.MessageInternalID
}

// Options configures Analyze.
type Options struct {
	// ForceConflict collapses everything between the first non-Match
	// section and any trailing Match run into one Conflict (spec
	// §4.3.4).
	ForceConflict bool
}

type ordering int

const (
	orderLess ordering = iota
	orderEqual
	orderGreater
)

// order implements spec §4.3.1's message total order between a master
// and a slave message at the current stream heads.
func order(mm, sm *model.Message) (ordering, error) {
	switch {
	case mm.Timestamp < sm.Timestamp:
		return orderLess, nil
	case mm.Timestamp > sm.Timestamp:
		return orderGreater, nil
	}
	if mm.SearchableString == sm.SearchableString {
		return orderEqual, nil
	}
	if mm.SourceID != nil && sm.SourceID != nil {
		switch {
		case *mm.SourceID < *sm.SourceID:
			return orderLess, nil
		case *mm.SourceID > *sm.SourceID:
			return orderGreater, nil
		default:
			return orderEqual, nil
		}
	}
	return orderEqual, eris.Wrap(apperr.Ambiguity(
		"ambiguous ordering between master message %d and slave message %d: equal timestamps, differing searchable text, no source ids to break the tie",
		mm.InternalID, sm.InternalID), "diff analyzer")
}

// isTimeshiftOnly reports whether mm and sm would be practically equal
// if their timestamps matched — the "only remaining difference is
// timestamp" condition of spec §4.3.3's NoState/source-id-match row.
func isTimeshiftOnly(cmp *compare.Comparator, mm, sm *model.Message) bool {
	shifted := *sm
	shifted.Timestamp = mm.Timestamp
	return cmp.MessagesPracticallyEqual(mm, &shifted)
}

func timeshiftError(mm, sm *model.Message) error {
	delta := int64(sm.Timestamp) - int64(mm.Timestamp)
	sign := "+"
	if delta < 0 {
		sign = "-"
		delta = -delta
	}
	return eris.Wrap(apperr.TimeShift(
		"messages %d/%d share a source id but differ only by a time shift of %s%ds",
		mm.InternalID, sm.InternalID, sign, delta), "diff analyzer")
}

// cursor streams one chat's messages in batches of batchSize,
// consumed lock-step by Analyze (spec §4.3.3: "reads are batched 1000
// at a time via the store's after(chat, last_id, N) iterator").
type cursor struct {
	reader chatdao.Reader
	ds     model.DatasetUUID
	chat   model.ChatID
	buf    []model.Message
	pos    int
	lastID model.MessageInternalID
	done   bool
}

func newCursor(r chatdao.Reader, ds model.DatasetUUID, chat model.ChatID) *cursor {
	// lastID starts below every internal id, so a chat numbered from 0
	// (as loaders number it) is read from its first message.
	return &cursor{reader: r, ds: ds, chat: chat, lastID: -1}
}

func (c *cursor) peek() (*model.Message, error) {
	for c.pos >= len(c.buf) {
		if c.done {
			return nil, nil
		}
		batch, err := c.reader.After(c.ds, c.chat, c.lastID, batchSize)
		if err != nil {
			return nil, err
		}
		c.buf = batch
		c.pos = 0
		if len(batch) == 0 {
			c.done = true
			return nil, nil
		}
	}
	return &c.buf[c.pos], nil
}

func (c *cursor) advance() {
	if c.pos < len(c.buf) {
		c.lastID = c.buf[c.pos].InternalID
		c.pos++
	}
}

type sectionState struct {
	sec Section
}

func newSectionState(kind SectionKind, mm, sm *model.Message) *sectionState {
	st := &sectionState{sec: Section{Kind: kind}}
	st.extend(mm, sm)
	return st
}

func (st *sectionState) extend(mm, sm *model.Message) {
	if mm != nil {
		if !st.sec.HasMaster {
			st.sec.HasMaster = true
			st.sec.FirstMaster = mm.InternalID
		}
		st.sec.LastMaster = mm.InternalID
	}
	if sm != nil {
		if !st.sec.HasSlave {
			st.sec.HasSlave = true
			st.sec.FirstSlave = sm.InternalID
		}
		st.sec.LastSlave = sm.InternalID
	}
}

// Analyze walks masterChat (in masterReader/masterDS) and slaveChat
// (in slaveReader/slaveDS) in lock-step and returns the section
// sequence describing how they relate (spec §4.3).
func Analyze(
	masterReader chatdao.Reader, masterDS model.DatasetUUID, masterChat model.ChatID,
	slaveReader chatdao.Reader, slaveDS model.DatasetUUID, slaveChat model.ChatID,
	cmp *compare.Comparator, opts Options,
) ([]Section, error) {
	mc := newCursor(masterReader, masterDS, masterChat)
	sc := newCursor(slaveReader, slaveDS, slaveChat)

	var sections []Section
	var state *sectionState

	for {
		mm, err := mc.peek()
		if err != nil {
			return nil, fmt.Errorf("peek master: %w", err)
		}
		sm, err := sc.peek()
		if err != nil {
			return nil, fmt.Errorf("peek slave: %w", err)
		}

		if mm == nil && sm == nil {
			if state != nil {
				sections = append(sections, state.sec)
			}
			break
		}

		if state == nil {
			switch {
			case mm != nil && sm != nil && cmp.MessagesPracticallyEqual(mm, sm):
				state = newSectionState(Match, mm, sm)
				mc.advance()
				sc.advance()
			case mm != nil && sm != nil && mm.SourceID != nil && sm.SourceID != nil && *mm.SourceID == *sm.SourceID:
				if isTimeshiftOnly(cmp, mm, sm) {
					return nil, timeshiftError(mm, sm)
				}
				state = newSectionState(Conflict, mm, sm)
				mc.advance()
				sc.advance()
			case mm == nil:
				state = newSectionState(Addition, nil, sm)
				sc.advance()
			case sm == nil:
				state = newSectionState(Retention, mm, nil)
				mc.advance()
			default:
				ord, err := order(mm, sm)
				if err != nil {
					return nil, err
				}
				if ord == orderGreater {
					state = newSectionState(Addition, nil, sm)
					sc.advance()
				} else {
					state = newSectionState(Retention, mm, nil)
					mc.advance()
				}
			}
			continue
		}

		switch state.sec.Kind {
		case Match:
			if mm != nil && sm != nil && cmp.MessagesPracticallyEqual(mm, sm) {
				state.extend(mm, sm)
				mc.advance()
				sc.advance()
				continue
			}
		case Conflict:
			if mm != nil && sm != nil && !cmp.MessagesPracticallyEqual(mm, sm) {
				state.extend(mm, sm)
				mc.advance()
				sc.advance()
				continue
			}
		case Addition:
			if mm != nil && sm != nil {
				ord, err := order(mm, sm)
				if err != nil {
					return nil, err
				}
				if ord == orderGreater {
					state.extend(nil, sm)
					sc.advance()
					continue
				}
			} else if sm != nil {
				state.extend(nil, sm)
				sc.advance()
				continue
			}
		case Retention:
			if mm != nil && sm != nil {
				ord, err := order(mm, sm)
				if err != nil {
					return nil, err
				}
				if ord == orderLess {
					state.extend(mm, nil)
					mc.advance()
					continue
				}
			} else if mm != nil {
				state.extend(mm, nil)
				mc.advance()
				continue
			}
		}

		sections = append(sections, state.sec)
		state = nil
	}

	if opts.ForceConflict {
		sections = applyForceConflict(sections)
	}
	return sections, nil
}

// applyForceConflict implements spec §4.3.4.
func applyForceConflict(sections []Section) []Section {
	if len(sections) <= 1 {
		return sections
	}
	firstNonMatch := -1
	for i, s := range sections {
		if s.Kind != Match {
			firstNonMatch = i
			break
		}
	}
	if firstNonMatch == -1 {
		return sections
	}

	trailingMatchStart := len(sections)
	for i := len(sections) - 1; i >= 0; i-- {
		if sections[i].Kind == Match {
			trailingMatchStart = i
		} else {
			break
		}
	}
	if trailingMatchStart <= firstNonMatch {
		trailingMatchStart = firstNonMatch + 1
	}

	merged := Section{Kind: Conflict}
	for i := firstNonMatch; i < trailingMatchStart; i++ {
		s := sections[i]
		if s.HasMaster {
			if !merged.HasMaster {
				merged.HasMaster = true
				merged.FirstMaster = s.FirstMaster
			}
			merged.LastMaster = s.LastMaster
		}
		if s.HasSlave {
			if !merged.HasSlave {
				merged.HasSlave = true
				merged.FirstSlave = s.FirstSlave
			}
			merged.LastSlave = s.LastSlave
		}
	}

	out := make([]Section, 0, firstNonMatch+1+(len(sections)-trailingMatchStart))
	out = append(out, sections[:firstNonMatch]...)
	out = append(out, merged)
	out = append(out, sections[trailingMatchStart:]...)
	return out
}
