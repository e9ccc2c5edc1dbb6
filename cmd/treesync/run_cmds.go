package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"treesync/internal/api"
	"treesync/internal/config"
	"treesync/internal/models"
	"treesync/internal/repair"
)

// scopeFlags are shared by every command that operates on a scope.
type scopeFlags struct {
	project string
	remote  bool
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.project, "project", "", "limit the run to one project subtree")
	cmd.Flags().BoolVar(&f.remote, "remote", false, "run on the server at api_url instead of locally")
}

func (f *scopeFlags) request() api.ScopeRequest {
	if f.project != "" {
		return api.ScopeRequest{Scope: string(models.ScopeProject), ProjectID: f.project}
	}
	return api.ScopeRequest{Scope: string(models.ScopeFull)}
}

func withLocalBackends(ctx context.Context, cfg *config.Config, fn func(*backends) error) error {
	b, err := openBackends(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b)
}

func newMigrateCmd(cfg *config.Config, output *outputOptions) *cobra.Command {
	var flags scopeFlags

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy the source tree and its blobs to the target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := flags.request()
			scope, err := req.ParseScope()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var resp api.MigrateResponse
			if flags.remote {
				err = withClient(ctx, cfg, func(client *api.Client) error {
					resp, err = client.Migrate(ctx, req)
					return err
				})
			} else {
				err = withLocalBackends(ctx, cfg, func(b *backends) error {
					report, runErr := b.orchestrator.Migrate(ctx, scope)
					resp = api.MigrateResponse{Message: "migration complete", Report: report}
					return runErr
				})
			}
			var apiErr *api.APIError
			if errors.As(err, &apiErr) && apiErr.Report != nil {
				resp.Report = apiErr.Report
			}
			if err != nil {
				if resp.Report != nil && resp.Report.ManifestSize > 0 {
					_ = writeReport(cmd.OutOrStdout(), output, resp.Report)
				}
				return err
			}
			return writeMigrateResponse(cmd.OutOrStdout(), output, resp)
		},
	}

	flags.register(cmd)
	return cmd
}

func newVerifyCmd(cfg *config.Config, output *outputOptions) *cobra.Command {
	var flags scopeFlags
	var scanOrphans bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare target with source and repair divergent blobs and records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.VerifyRequest{ScopeRequest: flags.request(), ScanOrphans: scanOrphans}
			scope, err := req.ParseScope()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var resp api.VerifyResponse
			if flags.remote {
				err = withClient(ctx, cfg, func(client *api.Client) error {
					resp, err = client.Verify(ctx, req)
					return err
				})
			} else {
				err = withLocalBackends(ctx, cfg, func(b *backends) error {
					result, runErr := b.repair.VerifyAndRepair(ctx, scope, repair.Options{ScanOrphans: scanOrphans})
					if runErr != nil {
						return runErr
					}
					resp = api.NewVerifyResponse(result)
					return nil
				})
			}
			if err != nil {
				return err
			}
			return writeVerifyResponse(cmd.OutOrStdout(), output, resp)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&scanOrphans, "scan-orphans", false, "list blobs no record references (full scope only)")
	return cmd
}

func newManifestCmd(cfg *config.Config, output *outputOptions) *cobra.Command {
	var flags scopeFlags

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Show the blobs and records a migration would write, without writing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := flags.request()
			scope, err := req.ParseScope()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var resp api.ManifestResponse
			if flags.remote {
				err = withClient(ctx, cfg, func(client *api.Client) error {
					resp, err = client.Manifest(ctx, req)
					return err
				})
			} else {
				err = withLocalBackends(ctx, cfg, func(b *backends) error {
					plan, planErr := b.orchestrator.Plan(ctx, scope)
					if planErr != nil {
						return planErr
					}
					resp = api.NewManifestResponse(plan)
					return nil
				})
			}
			if err != nil {
				return err
			}
			return writeManifestResponse(cmd.OutOrStdout(), output, resp)
		},
	}

	flags.register(cmd)
	return cmd
}
