package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wesm/chatvault/internal/model"
)

// handleDatasets lists every dataset in the durable store (spec
// §6.2's "/dao/..." thin pass-through of §4.2's read methods).
func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.store.Datasets()
	if err != nil {
		writeError(w, statusForError(err), errKind(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, datasets)
}

func parseDatasetParam(r *http.Request) (model.DatasetUUID, error) {
	return model.ParseDatasetUUID(chi.URLParam(r, "ds"))
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	ds, err := parseDatasetParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed dataset id")
		return
	}
	users, err := s.store.Users(ds)
	if err != nil {
		writeError(w, statusForError(err), errKind(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	ds, err := parseDatasetParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed dataset id")
		return
	}
	chats, err := s.store.Chats(ds)
	if err != nil {
		writeError(w, statusForError(err), errKind(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

// handleMessages serves a chat's messages, defaulting to the last 50
// and accepting ?offset=&limit= for paging (spec §4.2.5 scroll).
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	ds, err := parseDatasetParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed dataset id")
		return
	}
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chat"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed chat id")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	var msgs []model.Message
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, perr := strconv.Atoi(v)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid", "malformed offset")
			return
		}
		msgs, err = s.store.Scroll(ds, model.ChatID(chatID), offset, limit)
	} else {
		msgs, err = s.store.Last(ds, model.ChatID(chatID), limit)
	}
	if err != nil {
		writeError(w, statusForError(err), errKind(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
