package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wesm/chatvault/internal/loader"
	"github.com/wesm/chatvault/internal/loader/textimport"
	"github.com/wesm/chatvault/internal/memstore"
	"github.com/wesm/chatvault/internal/model"
	"github.com/wesm/chatvault/internal/prompt"
	"github.com/wesm/chatvault/internal/store"
)

var importLoaderName string

var importCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Import a chat-history export into the archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		reg := registeredLoaders()

		var l loader.Loader
		var err error
		if importLoaderName != "" {
			l, err = reg.Get(importLoaderName)
		} else {
			l, err = reg.Detect(path)
		}
		if err != nil {
			return fmt.Errorf("find loader: %w", err)
		}

		mem, ds, err := l.Load(path, prompt.Stdin{In: os.Stdin, Out: os.Stdout})
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}

		s, err := store.Open(cfg.Storage.StorageRoot)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		if err := persistMemstoreDataset(s, mem, ds); err != nil {
			return fmt.Errorf("persist imported dataset: %w", err)
		}

		chats, _ := mem.Chats(ds)
		fmt.Printf("imported dataset %s (%d chats) via %s loader\n", ds, len(chats), l.Name())
		return nil
	},
}

// registeredLoaders returns the dispatcher's full loader set. Only the
// text_import reference loader is implemented in this build; per-source
// parsers (Telegram, WhatsApp, Signal, ...) register here the same way.
func registeredLoaders() *loader.Registry {
	return loader.NewRegistry(textimport.New())
}

// persistMemstoreDataset copies a loader's in-memory output into the
// durable store: memstore has no SQL backing to copy from directly
// (unlike store.CopyDatasetsFrom between two durable stores), so this
// walks its entities and re-inserts them through the same Store
// methods a direct caller would use.
func persistMemstoreDataset(s *store.Store, mem *memstore.Store, ds model.DatasetUUID) error {
	dataset, err := mem.Dataset(ds)
	if err != nil {
		return err
	}
	if err := s.InsertDataset(*dataset); err != nil {
		return err
	}

	users, err := mem.Users(ds)
	if err != nil {
		return err
	}
	srcRoot := mem.Root(ds)
	for _, u := range users {
		if err := s.InsertUser(u, srcRoot); err != nil {
			return err
		}
	}

	chats, err := mem.Chats(ds)
	if err != nil {
		return err
	}
	for _, c := range chats {
		if err := s.InsertChat(c, srcRoot); err != nil {
			return err
		}
		msgs, err := mem.First(ds, c.ID, 1<<30)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			continue
		}
		if err := s.InsertMessages(ds, c.ID, msgs, srcRoot); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	importCmd.Flags().StringVar(&importLoaderName, "loader", "", "loader name to use (default: auto-detect)")
	rootCmd.AddCommand(importCmd)
}
