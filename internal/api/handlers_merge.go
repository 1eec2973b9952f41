package api

import (
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/wesm/chatvault/internal/chatdao"
	"github.com/wesm/chatvault/internal/compare"
	"github.com/wesm/chatvault/internal/diff"
	"github.com/wesm/chatvault/internal/merge"
	"github.com/wesm/chatvault/internal/model"
)

// slaveSource resolves the chatdao.Source backing a slave dataset: a
// staged loader session when slaveKey is set, otherwise a second
// dataset already living in the durable store (e.g. merging two
// previously-imported datasets without re-running a loader).
func (s *Server) slaveSource(slaveKey string) (chatdao.Source, error) {
	if slaveKey == "" {
		return s.store, nil
	}
	staged, err := s.lookupStaged(slaveKey)
	if err != nil {
		return nil, err
	}
	return staged.store, nil
}

func memberResolver(reader chatdao.Reader, ds model.DatasetUUID) compare.MemberResolver {
	return func(name string) (model.UserID, bool) {
		users, err := reader.Users(ds)
		if err != nil {
			return model.InvalidUserID, false
		}
		for id, u := range users {
			if u.PrettyName() == name {
				return id, true
			}
		}
		return model.InvalidUserID, false
	}
}

func (s *Server) handleMergeAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}
	masterDS, err := model.ParseDatasetUUID(req.MasterDS)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed master_ds")
		return
	}
	slaveDS, err := model.ParseDatasetUUID(req.SlaveDS)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed slave_ds")
		return
	}
	slave, err := s.slaveSource(req.SlaveKey)
	if err != nil {
		writeError(w, statusForError(err), errKind(err), err.Error())
		return
	}

	cmp := &compare.Comparator{
		LeftRoot:           s.store.Root(masterDS),
		RightRoot:          slave.Root(slaveDS),
		ResolveLeftMember:  memberResolver(s.store, masterDS),
		ResolveRightMember: memberResolver(slave, slaveDS),
	}

	sections, err := diff.Analyze(
		s.store, masterDS, model.ChatID(req.MasterChat),
		slave, slaveDS, model.ChatID(req.SlaveChat),
		cmp, diff.Options{ForceConflict: req.ForceConflict},
	)
	if err != nil {
		writeError(w, statusForError(err), errKind(err), err.Error())
		return
	}

	out := make([]SectionDTO, len(sections))
	for i, sec := range sections {
		out[i] = SectionDTO{
			Kind: string(sec.Kind), HasMaster: sec.HasMaster, HasSlave: sec.HasSlave,
			FirstMaster: int64(sec.FirstMaster), LastMaster: int64(sec.LastMaster),
			FirstSlave: int64(sec.FirstSlave), LastSlave: int64(sec.LastSlave),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMergeMerge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}
	masterDS, err := model.ParseDatasetUUID(req.MasterDS)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed master_ds")
		return
	}
	slaveDS, err := model.ParseDatasetUUID(req.SlaveDS)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed slave_ds")
		return
	}
	slave, err := s.slaveSource(req.SlaveKey)
	if err != nil {
		writeError(w, statusForError(err), errKind(err), err.Error())
		return
	}

	userDecisions := make([]merge.UserMergeDecision, len(req.UserMerges))
	for i, d := range req.UserMerges {
		userDecisions[i] = merge.UserMergeDecision{
			Kind: merge.UserMergeKind(d.Kind), MasterID: d.MasterID, SlaveID: d.SlaveID,
		}
	}
	chatDecisions := make([]merge.ChatMergeDecision, len(req.ChatMerges))
	for i, d := range req.ChatMerges {
		msgDecisions := make([]merge.MessagesMergeDecision, len(d.MessageMerges))
		for j, md := range d.MessageMerges {
			msgDecisions[j] = merge.MessagesMergeDecision{
				Kind:        merge.MessagesMergeKind(md.Kind),
				FirstMaster: model.MessageInternalID(md.FirstMaster), LastMaster: model.MessageInternalID(md.LastMaster),
				FirstSlave: model.MessageInternalID(md.FirstSlave), LastSlave: model.MessageInternalID(md.LastSlave),
			}
		}
		chatDecisions[i] = merge.ChatMergeDecision{
			Kind: merge.ChatMergeKind(d.Kind), MasterID: d.MasterID, SlaveID: d.SlaveID,
			MessageMerges: msgDecisions,
		}
	}

	destDir := filepath.Join(s.cfg.Storage.StorageRoot, "merges", uuid.NewString())
	dest, newDS, err := merge.Merge(destDir, s.store, masterDS, slave, slaveDS, userDecisions, chatDecisions)
	if err != nil {
		writeError(w, statusForError(err), errKind(err), err.Error())
		return
	}
	defer dest.Close()

	// Fold the merge's scratch store back into the server's own store
	// so the new dataset is reachable through the regular /dao routes.
	if err := s.store.CopyDatasetsFrom(dest, []model.DatasetUUID{newDS}); err != nil {
		writeError(w, statusForError(err), errKind(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, MergeResponse{NewDatasetID: newDS.String()})
}
