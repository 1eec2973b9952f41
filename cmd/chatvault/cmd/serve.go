package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/chatvault/internal/api"
	"github.com/wesm/chatvault/internal/loader"
	"github.com/wesm/chatvault/internal/loader/textimport"
	"github.com/wesm/chatvault/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/JSON API (and, if enabled, the MCP tool endpoint) as a foreground daemon",
	Long: `Run chatvault as a long-running daemon serving the HTTP/JSON API that
stands in for the loader, DAO and merge services (spec §6.2).

Configure the bind address and port in config.toml:

  [server]
  api_port = 8080
  bind_addr = "127.0.0.1"
  mcp_enabled = false

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	s, err := store.Open(cfg.Storage.StorageRoot)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	reg := loader.NewRegistry(textimport.New())
	apiServer := api.NewServer(cfg, s, reg, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if cfg.Server.MCPEnabled {
		go func() {
			if err := apiServer.ServeMCP(cmd.Context()); err != nil {
				logger.Error("mcp server error", "error", err)
			}
		}()
	}

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Printf("chatvault daemon started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  MCP enabled: %v\n", cfg.Server.MCPEnabled)
	fmt.Printf("  Storage root: %s\n", cfg.Storage.StorageRoot)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	select {
	case <-cmd.Context().Done():
		logger.Info("context cancelled")
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
		fmt.Printf("\nAPI server error: %v\n", err)
	}

	fmt.Println("Shutting down API server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
		return err
	}
	fmt.Println("Shutdown complete.")
	return nil
}
