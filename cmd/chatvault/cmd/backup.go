package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/chatvault/internal/store"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take an online backup of the archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.Storage.StorageRoot)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		handle, err := s.Backup()
		if err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		if err := handle.Join(); err != nil {
			return fmt.Errorf("compress backup: %w", err)
		}
		fmt.Printf("backup written to %s\n", handle.Path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
}
