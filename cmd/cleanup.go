package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/himanalot/swimmer-elo/internal/procs"
	"github.com/himanalot/swimmer-elo/internal/report"
)

// newReaper is replaced in tests so they never touch real processes.
var newReaper = func(logger *zap.Logger, patterns ...string) *procs.Reaper {
	return procs.New(logger, patterns...)
}

func newCleanupCmd() *cobra.Command {
	var patterns []string
	cmd := &cobra.Command{
		Use:         "cleanup",
		Short:       "Kill stray Chrome and chromedriver processes",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipAppAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanup(cmd, zap.NewNop(), patterns...)
		},
	}
	cmd.Flags().StringSliceVar(&patterns, "match", nil, "process name substrings to kill (default chrome, chromium, chromedriver)")
	return cmd
}

func runCleanup(cmd *cobra.Command, logger *zap.Logger, patterns ...string) error {
	res, err := newReaper(logger, patterns...).Sweep(cmd.Context())
	if err != nil {
		return err
	}
	report.KeyValues(cmd.OutOrStdout(), "Cleanup", [][2]any{
		{"matched", res.Matched},
		{"killed", res.Killed},
		{"failed", res.Failed},
	})
	return nil
}
