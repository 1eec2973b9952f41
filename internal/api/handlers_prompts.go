package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleNextPrompt long-polls for the next pending choose_myself or
// ask_for_text question a loader is blocked on (spec §6.2's stand-in
// for the bidirectional prompt channel).
func (s *Server) handleNextPrompt(w http.ResponseWriter, r *http.Request) {
	select {
	case p := <-s.broker.waiters:
		writeJSON(w, http.StatusOK, p.req)
	case <-r.Context().Done():
		w.WriteHeader(http.StatusRequestTimeout)
	}
}

// handleAnswerPrompt delivers an operator's answer to the prompt
// identified by {id}, unblocking the loader goroutine waiting on it.
func (s *Server) handleAnswerPrompt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var ans PromptAnswer
	if err := decodeJSON(r, &ans); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}
	if err := s.broker.answer(id, ans); err != nil {
		writeError(w, statusForError(err), errKind(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
