package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wesm/chatvault/internal/compare"
	"github.com/wesm/chatvault/internal/diff"
	"github.com/wesm/chatvault/internal/model"
	"github.com/wesm/chatvault/internal/store"
)

var analyzeForceConflict bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <master-ds> <master-chat> <slave-ds> <slave-chat>",
	Short: "Diff two chats and print the resulting Match/Retention/Addition/Conflict sections",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		masterDS, err := model.ParseDatasetUUID(args[0])
		if err != nil {
			return fmt.Errorf("parse master dataset uuid: %w", err)
		}
		masterChat, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("parse master chat id: %w", err)
		}
		slaveDS, err := model.ParseDatasetUUID(args[2])
		if err != nil {
			return fmt.Errorf("parse slave dataset uuid: %w", err)
		}
		slaveChat, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			return fmt.Errorf("parse slave chat id: %w", err)
		}

		s, err := store.Open(cfg.Storage.StorageRoot)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		cmpr := &compare.Comparator{
			LeftRoot:  s.Root(masterDS),
			RightRoot: s.Root(slaveDS),
		}
		forceConflict := analyzeForceConflict
		if !cmd.Flags().Changed("force-conflict") {
			forceConflict = cfg.Merge.ForceConflict
		}
		sections, err := diff.Analyze(
			s, masterDS, model.ChatID(masterChat),
			s, slaveDS, model.ChatID(slaveChat),
			cmpr, diff.Options{ForceConflict: forceConflict},
		)
		if err != nil {
			return fmt.Errorf("analyze: %w", err)
		}

		for _, sec := range sections {
			fmt.Printf("%-10s master=[%d,%d] slave=[%d,%d]\n",
				sec.Kind, sec.FirstMaster, sec.LastMaster, sec.FirstSlave, sec.LastSlave)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeForceConflict, "force-conflict", false,
		"collapse everything from the first difference up to the final run of matches into one conflict; defaults to [merge] force_conflict (spec §4.3.4)")
	rootCmd.AddCommand(analyzeCmd)
}
