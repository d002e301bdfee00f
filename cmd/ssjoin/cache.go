package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/redis"
)

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the join result cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete every cached join result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd, nil); err != nil {
				return err
			}
			if !a.cfg.Redis.Enabled {
				return apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitConfig, "redis.enabled is false")
			}
			rc, err := redis.NewClient(a.cfg.Redis)
			if err != nil {
				return fmt.Errorf("connecting to redis: %w", err)
			}
			defer rc.Close()

			deleted, err := cache.New(rc, a.cfg.Redis.CacheTTL).Invalidate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d cached results\n", deleted)
			return nil
		},
	})
	return cmd
}
