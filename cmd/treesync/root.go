package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"treesync/internal/config"
)

// outputOptions carries the persistent output flags.
type outputOptions struct {
	json bool
	yaml bool
}

func (o *outputOptions) structured() bool {
	return o != nil && (o.json || o.yaml)
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var output outputOptions
	var logLevel string

	cmd := &cobra.Command{
		Use:           "treesync",
		Short:         "Treesync replicates record trees and their blobs between backends",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if output.json && output.yaml {
				return fmt.Errorf("--json and --yaml are mutually exclusive")
			}
			warning, err := configureLoggerForCLI(logLevel, cfg.LogLevel)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), warning)
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&output.json, "json", false, "output JSON")
	cmd.PersistentFlags().BoolVar(&output.yaml, "yaml", false, "output YAML")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newSrvCmd(cfg),
		newMigrateCmd(cfg, &output),
		newVerifyCmd(cfg, &output),
		newManifestCmd(cfg, &output),
		newConfigCmd(cfg),
		newTokenCmd(&output),
		newDBCmd(cfg, &output),
	)

	return cmd
}
