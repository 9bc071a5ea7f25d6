package main

import (
	"github.com/nulzo/gatewayctl/internal/adapters/cache"
	"github.com/nulzo/gatewayctl/internal/cli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCredsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creds",
		Short: "Manage the local credential cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := cache.New(ctx, a.cfg.Cache, a.log)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					a.log.Warn("Could not close credential cache", zap.Error(err))
				}
			}()

			err = store.Clear(ctx)
			cli.Phase(a.out, "clear credential cache", err)
			return err
		},
	})
	return cmd
}
