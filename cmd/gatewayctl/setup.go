package main

import (
	"context"
	"fmt"

	"github.com/nulzo/gatewayctl/internal/cli"
	"github.com/nulzo/gatewayctl/internal/core/services/bootstrap"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type setupOptions struct {
	cleanup     bool
	deepCleanup bool
	noDiagnose  bool
}

func addSetupFlags(cmd *cobra.Command, opts *setupOptions) {
	cmd.Flags().BoolVar(&opts.cleanup, "cleanup", false, "delete the routes gatewayctl owns and exit")
	cmd.Flags().BoolVar(&opts.deepCleanup, "deepcleanup", false, "also delete the consumer, the identity realm and cached credentials")
	cmd.Flags().BoolVar(&opts.noDiagnose, "no-diagnose", false, "skip functional diagnostics after provisioning")
	cmd.MarkFlagsMutuallyExclusive("cleanup", "deepcleanup")
}

func newSetupCmd(a *app) *cobra.Command {
	opts := &setupOptions{}
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Wait for dependencies, provision routes and diagnose them (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSetup(cmd.Context(), opts)
		},
	}
	addSetupFlags(cmd, opts)
	return cmd
}

func (a *app) runSetup(ctx context.Context, opts *setupOptions) error {
	r, closeStore, err := a.runner(ctx, !opts.noDiagnose)
	if err != nil {
		return err
	}
	defer closeStore()

	switch {
	case opts.deepCleanup:
		deleted, err := r.DeepCleanup(ctx)
		a.printCleanup(deleted, err)
		return err
	case opts.cleanup:
		deleted, err := r.Cleanup(ctx)
		a.printCleanup(deleted, err)
		return err
	}

	out, err := r.Run(ctx, a.cfg.Providers)
	a.printOutcome(out)
	if err != nil {
		return err
	}
	if !out.Healthy() {
		a.log.Warn("Some routes are unhealthy; see the remediation above")
	}
	return nil
}

func (a *app) printCleanup(deleted int, err error) {
	cli.Phase(a.out, "cleanup", err)
	_, _ = fmt.Fprintf(a.out, "%s deleted %d routes\n", cli.Arrow(), deleted)
}

func (a *app) printOutcome(out *bootstrap.Outcome) {
	if out == nil {
		return
	}
	for _, p := range out.Phases {
		if p.Skipped {
			_, _ = fmt.Fprintf(a.out, "%s %s\n", cli.Dim("-"), cli.Dim(p.Name+" (skipped)"))
			continue
		}
		cli.Phase(a.out, p.Name, p.Err)
		if p.Name == bootstrap.PhaseProvision {
			for _, s := range out.Skipped {
				_, _ = fmt.Fprintf(a.out, "  %s %s: %v\n", cli.WarningSign(), s.ProviderID, s.Err)
			}
			cli.ApplyResults(a.out, out.Results)
		}
	}
	for _, report := range out.Reports {
		cli.Report(a.out, report)
	}
	a.log.Debug("Run finished", zap.Int("phases", len(out.Phases)), zap.Int("reports", len(out.Reports)))
}
