package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/chatvault/internal/store"
)

var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Create or migrate the chatvault database",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.Storage.StorageRoot)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()
		fmt.Printf("database ready at %s\n", cfg.Storage.StorageRoot)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initdbCmd)
}
