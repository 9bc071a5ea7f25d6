package main

import (
	"fmt"

	"github.com/nulzo/gatewayctl/internal/cli"
	"github.com/nulzo/gatewayctl/internal/core/services/bootstrap"
	"github.com/nulzo/gatewayctl/internal/loadprobe"
	"github.com/spf13/cobra"
)

func newBenchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench [provider...]",
		Short: "Drive sustained traffic through provisioned routes",
		Long: `bench sends requests at a fixed rate through the gateway to every route that
would be provisioned and fails when any route's error rate exceeds
bench.max_error_rate. Requests reach the real upstreams, so keep the rate low
against paid providers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, closeStore, err := a.runner(ctx, false)
			if err != nil {
				return err
			}
			defer closeStore()

			key, err := r.ConsumerKey(ctx)
			if err != nil {
				return err
			}

			profiles := selectProfiles(a.cfg.Providers, args)
			sets, _ := a.builder().Build(ctx, profiles)
			targets := bootstrap.Targets(bootstrap.Flatten(sets), profiles, a.cfg.Diagnose.Model)

			probe := loadprobe.New(loadprobe.Options{
				Rate:        a.cfg.Bench.Rate,
				Duration:    a.cfg.Bench.Duration,
				Timeout:     a.cfg.Gateway.Timeout,
				KeyHeader:   a.cfg.Gateway.KeyHeader,
				ConsumerKey: key,
			}, a.log.Named("bench"))

			results, err := probe.RunAll(ctx, a.cfg.Gateway.URL, targets)
			failing := 0
			for _, res := range results {
				mark := cli.CheckMark()
				if res.ErrorRate() > a.cfg.Bench.MaxErrorRate {
					mark = cli.CrossMark()
					failing++
				}
				_, _ = fmt.Fprintf(a.out, "%s %s\n", mark, res)
				for _, msg := range res.Errors {
					_, _ = fmt.Fprintf(a.out, "    %s\n", cli.Dim(msg))
				}
			}
			if err != nil {
				return err
			}
			if failing > 0 {
				return fmt.Errorf("%d of %d routes exceeded error rate %.2f", failing, len(results), a.cfg.Bench.MaxErrorRate)
			}
			return nil
		},
	}
	cmd.Flags().Int("rate", 0, "requests per second per route")
	cmd.Flags().Duration("duration", 0, "how long to attack each route")
	_ = a.v.BindPFlag("bench.rate", cmd.Flags().Lookup("rate"))
	_ = a.v.BindPFlag("bench.duration", cmd.Flags().Lookup("duration"))
	return cmd
}
