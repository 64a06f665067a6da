package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wuyou/docbridge/internal/config"
	"github.com/wuyou/docbridge/internal/staging"
)

func newSweepCmd(configPath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove staging artifacts left behind by a crashed process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				olderThan = cfg.Editor.StagingMaxAge
			}
			dir := cfg.Editor.StagingDir
			if dir == "" {
				dir = staging.DefaultDir()
			}

			removed, err := staging.Sweep(dir, olderThan, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d artifact(s) from %s\n", removed, dir)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "minimum artifact age (defaults to editor.staging_max_age)")
	return cmd
}
