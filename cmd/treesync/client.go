package main

import (
	"context"
	"fmt"
	"time"

	"treesync/internal/api"
	"treesync/internal/config"
)

const pingTimeout = 2 * time.Second

func withClient(ctx context.Context, cfg *config.Config, fn func(*api.Client) error) error {
	if cfg == nil || cfg.APIURL == "" {
		return fmt.Errorf("api_url is required for --remote")
	}
	client := api.NewClient(cfg.APIURL)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		return err
	}
	return fn(client)
}
