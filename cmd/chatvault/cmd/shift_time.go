package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wesm/chatvault/internal/model"
	"github.com/wesm/chatvault/internal/store"
)

var shiftTimeCmd = &cobra.Command{
	Use:   "shift-time <dataset-uuid> <hours>",
	Short: "Shift every message timestamp in a dataset by whole hours",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := model.ParseDatasetUUID(args[0])
		if err != nil {
			return fmt.Errorf("parse dataset uuid: %w", err)
		}
		hours, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("parse hours: %w", err)
		}

		s, err := store.Open(cfg.Storage.StorageRoot)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		if err := s.ShiftDatasetTime(ds, hours); err != nil {
			return fmt.Errorf("shift time: %w", err)
		}
		fmt.Printf("shifted dataset %s by %d hour(s)\n", ds, hours)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(shiftTimeCmd)
}
