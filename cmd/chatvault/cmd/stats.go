package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/chatvault/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show archive statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.Storage.StorageRoot)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		stats, err := s.GetStats()
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Store: %s\n", cfg.Storage.StorageRoot)
		fmt.Printf("  Datasets: %d\n", stats.DatasetCount)
		fmt.Printf("  Users:    %d\n", stats.UserCount)
		fmt.Printf("  Chats:    %d\n", stats.ChatCount)
		fmt.Printf("  Messages: %d\n", stats.MessageCount)
		fmt.Printf("  Size:     %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
