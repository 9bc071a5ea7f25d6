package main

import (
	"fmt"

	"github.com/nulzo/gatewayctl/internal/cli"
	"github.com/nulzo/gatewayctl/internal/core/services/bootstrap"
	"github.com/spf13/cobra"
)

func newDiagnoseCmd(a *app) *cobra.Command {
	var failUnhealthy bool
	cmd := &cobra.Command{
		Use:   "diagnose [provider...]",
		Short: "Walk provisioned routes through the diagnostic levels",
		Long: `diagnose rebuilds the route set from configuration and runs the five-level
diagnostic against each route without provisioning anything. Limit it to some
providers by naming them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, closeStore, err := a.runner(ctx, true)
			if err != nil {
				return err
			}
			defer closeStore()

			key, err := r.ConsumerKey(ctx)
			if err != nil {
				return err
			}

			profiles := selectProfiles(a.cfg.Providers, args)
			sets, skipped := a.builder().Build(ctx, profiles)
			for _, s := range skipped {
				_, _ = fmt.Fprintf(a.out, "%s %s: %v\n", cli.WarningSign(), s.ProviderID, s.Err)
			}

			reports := r.Diagnose(ctx, key, bootstrap.Targets(bootstrap.Flatten(sets), profiles, a.cfg.Diagnose.Model))
			unhealthy := 0
			for _, report := range reports {
				cli.Report(a.out, report)
				if !report.Healthy() {
					unhealthy++
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if failUnhealthy && unhealthy > 0 {
				return fmt.Errorf("%d of %d routes unhealthy", unhealthy, len(reports))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failUnhealthy, "fail-unhealthy", false, "exit non-zero when any route is unhealthy")
	return cmd
}

func newCleanupCmd(a *app) *cobra.Command {
	var deep bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete the routes gatewayctl owns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSetup(cmd.Context(), &setupOptions{cleanup: !deep, deepCleanup: deep})
		},
	}
	cmd.Flags().BoolVar(&deep, "deep", false, "also delete the consumer, the identity realm and cached credentials")
	return cmd
}
