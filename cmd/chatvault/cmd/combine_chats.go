package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wesm/chatvault/internal/model"
	"github.com/wesm/chatvault/internal/store"
)

var combineChatsCmd = &cobra.Command{
	Use:   "combine-chats <dataset-uuid> <master-chat-id> <slave-chat-id>",
	Short: "Mark a slave chat as combined into a master chat (spec §4.2.6 combine_chats)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := model.ParseDatasetUUID(args[0])
		if err != nil {
			return fmt.Errorf("parse dataset uuid: %w", err)
		}
		master, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("parse master chat id: %w", err)
		}
		slave, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("parse slave chat id: %w", err)
		}

		s, err := store.Open(cfg.Storage.StorageRoot)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		if err := s.CombineChats(ds, model.ChatID(master), model.ChatID(slave)); err != nil {
			return fmt.Errorf("combine chats: %w", err)
		}
		fmt.Printf("combined chat %d into %d in dataset %s\n", slave, master, ds)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(combineChatsCmd)
}
