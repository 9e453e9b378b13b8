package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"reasond/internal/mcp"
)

var (
	mcpServerURL string
	mcpUserID    string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP over stdio against a running reasond server",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpServerURL, "server-url", "http://127.0.0.1:8080", "Base URL of the reasond server")
	mcpCmd.Flags().StringVar(&mcpUserID, "user-id", "mcp-adapter", "Principal the adapter's sessions belong to")
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter := mcp.NewAdapter(mcp.Config{
		ServerURL: mcpServerURL,
		UserID:    mcpUserID,
		Version:   version,
	})
	if err := adapter.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp adapter: %w", err)
	}
	return nil
}
