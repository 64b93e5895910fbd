package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/mcp"
	"github.com/sweetpotato0/medrag/server"
)

func newServeCmd(c *cli) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Serves /v1/query, session history, /healthz, /metrics and, when records are reachable, the MCP endpoint at /mcp.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				c.cfg.Server.Listen = listen
			}
			return runServe(cmd, c)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "override listen address (host:port)")
	return cmd
}

func runServe(cmd *cobra.Command, c *cli) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := Wire(ctx, c.cfg, wireOptions{rateLimit: true})
	if err != nil {
		return err
	}
	defer app.Close()

	svc := &server.Services{
		Processor: app.Orchestrator,
		Sessions:  app.Sessions,
		Chain:     app.Chain,
		Tools:     app.Orchestrator.Tools(),
		Checks:    app.Checks,
	}
	if c.cfg.Server.MountMCP && app.Invoker != nil {
		svc.MCP = mcp.HTTPHandler(mcp.NewServer(app.Invoker,
			mcp.WithImplementation("medrag", version),
			mcp.WithQueryProcessor(app.Orchestrator)))
	}

	srv, err := server.New(server.Config{
		ListenAddr:  c.cfg.Server.Listen,
		CORSOrigins: c.cfg.Server.CORSOrigins,
		Version:     version,
	}, svc)
	if err != nil {
		return medragerr.Wrap(err, medragerr.CodeCLISetupFailure, "creating server")
	}
	return srv.Start(ctx)
}
