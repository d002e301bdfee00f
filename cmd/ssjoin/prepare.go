package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
)

func newPrepareCommand(a *app) *cobra.Command {
	flags := &joinFlags{}
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Rank the input collections and write them as a snapshot for later joins",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd, func(cfg *config.Config) { flags.apply(cmd, cfg) }); err != nil {
				return err
			}
			path := a.cfg.Snapshot.Path
			if path == "" {
				return apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitConfig, "prepare needs --snapshot or snapshot.path")
			}
			if a.cfg.Input.Format == "snapshot" {
				return apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitConfig, "input is already a snapshot")
			}

			res := &resources{}
			defer res.close()
			input, err := a.openInput(res)
			if err != nil {
				return err
			}
			p := pipeline.New(pipeline.Config{}, input, &sink.Counter{}, pipeline.WithMetrics(a.metrics), pipeline.WithHealth(a.checker))
			snap, err := p.Prepare(cmd.Context())
			if err != nil {
				return err
			}
			if err := snapshot.Write(path, snap); err != nil {
				return err
			}
			slog.Info("snapshot written",
				"path", path,
				"indexed", len(snap.Dataset.Indexed),
				"foreign", len(snap.Dataset.Foreign),
				"max_token", snap.Dataset.MaxToken,
			)
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
