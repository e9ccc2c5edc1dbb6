package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"treesync/internal/config"
	"treesync/internal/server"
)

func newSrvCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "srv",
		Short: "Run the treesync API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg == nil {
				return fmt.Errorf("config not initialized")
			}

			logger := slog.Default().With("component", "server")

			addr, err := server.ListenAddr(cfg.APIURL)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			b, err := openBackends(ctx, cfg, slog.Default())
			if err != nil {
				return err
			}
			defer b.Close()

			if cfg.APITokenHash == "" {
				logger.Warn("api_token_hash is not set; the API accepts unauthenticated requests")
			}
			srv := server.New(addr, b.orchestrator, b.repair, cfg.APITokenHash, logger)
			return srv.ListenAndServe(ctx)
		},
	}
}
