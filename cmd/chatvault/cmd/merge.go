package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wesm/chatvault/internal/merge"
	"github.com/wesm/chatvault/internal/model"
	"github.com/wesm/chatvault/internal/store"
)

var mergeDecisionsPath string

// decisionsFile mirrors the JSON shape a caller submits to the HTTP API's
// merge route (internal/api.MergeRequest), so the same decisions document
// produced from an `analyze` run works against either surface.
type decisionsFile struct {
	UserMerges []struct {
		Kind     string       `json:"kind"`
		MasterID model.UserID `json:"master_id"`
		SlaveID  model.UserID `json:"slave_id"`
	} `json:"user_merges"`
	ChatMerges []struct {
		Kind          string       `json:"kind"`
		MasterID      model.ChatID `json:"master_id"`
		SlaveID       model.ChatID `json:"slave_id"`
		MessageMerges []struct {
			Kind        string `json:"kind"`
			FirstMaster int64  `json:"first_master"`
			LastMaster  int64  `json:"last_master"`
			FirstSlave  int64  `json:"first_slave"`
			LastSlave   int64  `json:"last_slave"`
		} `json:"message_merges"`
	} `json:"chat_merges"`
}

func (f decisionsFile) toMergeDecisions() ([]merge.UserMergeDecision, []merge.ChatMergeDecision) {
	userDecisions := make([]merge.UserMergeDecision, len(f.UserMerges))
	for i, d := range f.UserMerges {
		userDecisions[i] = merge.UserMergeDecision{
			Kind: merge.UserMergeKind(d.Kind), MasterID: d.MasterID, SlaveID: d.SlaveID,
		}
	}
	chatDecisions := make([]merge.ChatMergeDecision, len(f.ChatMerges))
	for i, d := range f.ChatMerges {
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
	return userDecisions, chatDecisions
}

var mergeCmd = &cobra.Command{
	Use:   "merge <master-ds> <slave-ds>",
	Short: "Fold a slave dataset into a master dataset per a decisions file (spec §4.4)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if mergeDecisionsPath == "" {
			return fmt.Errorf("--decisions is required")
		}
		masterDS, err := model.ParseDatasetUUID(args[0])
		if err != nil {
			return fmt.Errorf("parse master dataset uuid: %w", err)
		}
		slaveDS, err := model.ParseDatasetUUID(args[1])
		if err != nil {
			return fmt.Errorf("parse slave dataset uuid: %w", err)
		}

		raw, err := os.ReadFile(mergeDecisionsPath)
		if err != nil {
			return fmt.Errorf("read decisions file: %w", err)
		}
		var df decisionsFile
		if err := json.Unmarshal(raw, &df); err != nil {
			return fmt.Errorf("parse decisions file: %w", err)
		}
		userDecisions, chatDecisions := df.toMergeDecisions()

		s, err := store.Open(cfg.Storage.StorageRoot)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		destDir := filepath.Join(cfg.Storage.StorageRoot, "merges", uuid.NewString())
		dest, newDS, err := merge.Merge(destDir, s, masterDS, s, slaveDS, userDecisions, chatDecisions)
		if err != nil {
			return fmt.Errorf("merge: %w", err)
		}
		defer dest.Close()

		if err := s.CopyDatasetsFrom(dest, []model.DatasetUUID{newDS}); err != nil {
			return fmt.Errorf("fold merged dataset back into store: %w", err)
		}

		fmt.Printf("merged into new dataset %s\n", newDS)
		return nil
	},
}

func init() {
	mergeCmd.Flags().StringVar(&mergeDecisionsPath, "decisions", "", "path to a JSON decisions file (required)")
	rootCmd.AddCommand(mergeCmd)
}
