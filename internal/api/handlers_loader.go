package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wesm/chatvault/internal/apperr"
)

// handleLoaderLoad runs a registered loader against a path and stages
// its output in memory under the loader name as the session key
// (spec §6.2 Loader service: load(key, path)).
func (s *Server) handleLoaderLoad(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req LoadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}

	l, err := s.loaders.Get(name)
	if err != nil {
		writeError(w, statusForError(err), errKind(err), err.Error())
		return
	}

	mem, ds, err := l.Load(req.Path, channel{broker: s.broker})
	if err != nil {
		writeError(w, statusForError(err), errKind(err), err.Error())
		return
	}

	s.mu.Lock()
	s.staged[name] = &stagedDataset{store: mem, ds: ds}
	s.mu.Unlock()

	chats, _ := mem.Chats(ds)
	users, _ := mem.Users(ds)
	var msgCount int64
	for _, c := range chats {
		msgCount += c.MsgCount
	}
	writeJSON(w, http.StatusOK, LoadResponse{
		Key: name, ChatCount: len(chats), UserCount: len(users), MsgCount: msgCount,
	})
}

// handleLoaderFiles lists the relative media paths a staged dataset's
// chat images and regular-message contents (path and thumbnail)
// reference; profile pictures and service-message photos are not
// listed (spec §6.2 Loader service: get_loaded_files).
func (s *Server) handleLoaderFiles(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	staged, err := s.lookupStaged(name)
	if err != nil {
		writeError(w, statusForError(err), errKind(err), err.Error())
		return
	}

	var files []string
	chats, _ := staged.store.Chats(staged.ds)
	for _, c := range chats {
		if c.ImgPath != nil {
			files = append(files, *c.ImgPath)
		}
		msgs, _ := staged.store.First(staged.ds, c.ID, 1<<30)
		for _, m := range msgs {
			if m.Regular == nil {
				continue
			}
			for _, content := range m.Regular.Contents {
				for _, p := range content.PathFields() {
					files = append(files, *p)
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"files": files})
}

// handleLoaderClose discards a staged session without committing it
// (spec §6.2 Loader service: close(key)).
func (s *Server) handleLoaderClose(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	delete(s.staged, name)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lookupStaged(key string) (*stagedDataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged, ok := s.staged[key]
	if !ok {
		return nil, apperr.NotFound("no staged loader session with key %q", key)
	}
	return staged, nil
}

// handleEnsureSame compares two staged sessions and reports any
// mismatches found (spec §6.2 Loader service: ensure_same), capped at
// 10 differences.
func (s *Server) handleEnsureSame(w http.ResponseWriter, r *http.Request) {
	var req EnsureSameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}
	master, err := s.lookupStaged(req.MasterKey)
	if err != nil {
		writeError(w, statusForError(err), errKind(err), err.Error())
		return
	}
	slave, err := s.lookupStaged(req.SlaveKey)
	if err != nil {
		writeError(w, statusForError(err), errKind(err), err.Error())
		return
	}

	diffs := ensureSameDifferences(master, slave)
	writeJSON(w, http.StatusOK, diffs)
}

const maxDifferences = 10

func ensureSameDifferences(master, slave *stagedDataset) []Difference {
	var diffs []Difference
	add := func(msg string, values ...string) bool {
		diffs = append(diffs, Difference{Message: msg, Values: values})
		return len(diffs) >= maxDifferences
	}

	masterUsers, _ := master.store.Users(master.ds)
	slaveUsers, _ := slave.store.Users(slave.ds)
	if len(masterUsers) != len(slaveUsers) {
		if add("user count differs", strconv.Itoa(len(masterUsers)), strconv.Itoa(len(slaveUsers))) {
			return diffs
		}
	}

	masterChats, _ := master.store.Chats(master.ds)
	slaveChats, _ := slave.store.Chats(slave.ds)
	if len(masterChats) != len(slaveChats) {
		if add("chat count differs", strconv.Itoa(len(masterChats)), strconv.Itoa(len(slaveChats))) {
			return diffs
		}
	}

	n := len(masterChats)
	if len(slaveChats) < n {
		n = len(slaveChats)
	}
	for i := 0; i < n; i++ {
		mc, sc := masterChats[i], slaveChats[i]
		if mc.MsgCount != sc.MsgCount {
			if add("chat msg_count differs", strconv.FormatInt(mc.MsgCount, 10), strconv.FormatInt(sc.MsgCount, 10)) {
				return diffs
			}
		}
	}
	return diffs
}
