package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/mcp"
)

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the record operations and process_query over MCP stdio",
		Long:  "Runs an MCP server on stdin/stdout so MCP hosts can call the nine record operations and the full question pipeline.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd, c)
		},
	}
}

func runMCP(cmd *cobra.Command, c *cli) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := Wire(ctx, c.cfg, wireOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Invoker == nil {
		return medragerr.New(medragerr.CodeCLISetupFailure, "mcp requires a records transport")
	}
	srv := mcp.NewServer(app.Invoker,
		mcp.WithImplementation("medrag", version),
		mcp.WithQueryProcessor(app.Orchestrator))
	if err := mcp.ServeStdio(ctx, srv); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
