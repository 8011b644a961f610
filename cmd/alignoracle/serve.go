package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agenthands/alignoracle/internal/server"
)

var addrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API",
	Long: `Starts the HTTP API:

  POST /runs                  start a run ({"mode": "...", "realign": true})
  GET  /runs/:id              run state and history
  GET  /runs/:id/alignment    refined alignment, once the run is done
  GET  /healthz
  GET  /metrics               Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		addr := addrFlag
		if addr == "" {
			addr = cfg.Server.Addr
		}
		return server.NewDefault(cfg, logger).Serve(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (default server.addr)")
}
