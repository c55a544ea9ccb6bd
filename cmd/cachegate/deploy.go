package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newDeployCmd(a *app) *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Cut the cache over to a new build version",
		Long: `Cut the persisted cache over to a new build version while the server is
stopped: partitions of every other version are deleted and the precache
URLs are fetched into the new partitions. A running server is cut over
with POST /_cachegate/deploy instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			backend, err := a.cfg.OpenBackend(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			eng, err := a.newEngine(ctx, backend, a.cfg.Build.Version)
			if err != nil {
				return err
			}
			defer eng.Close()

			report, err := eng.OnDeploy(ctx, version)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(newDeployResponse(report)); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "build version to cut over to (required)")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}
