package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/himanalot/swimmer-elo/internal/report"
)

type convertOptions struct {
	noUpsert bool
}

func newConvertCmd() *cobra.Command {
	var opts convertOptions
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Build swimmers.json from the roster files",
		Long: `Reads every roster file and writes swimmers.json to export.output, a
local path or a gs://bucket/object URI. When a ratings backend is configured
and export.upsert is set, the rows are also upserted.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			return runConvert(cmd.Context(), cmd, appInstance, opts)
		}),
	}
	cmd.Flags().BoolVar(&opts.noUpsert, "no-upsert", false, "skip the ratings upsert")
	return cmd
}

func runConvert(ctx context.Context, cmd *cobra.Command, appInstance App, opts convertOptions) error {
	exporter, exportOpts, err := appInstance.Exporter(ctx)
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	if opts.noUpsert {
		exportOpts.Upserter = nil
	}
	res, err := exporter.Run(ctx, exportOpts)
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	report.KeyValues(cmd.OutOrStdout(), "Export", [][2]any{
		{"teams", res.Teams},
		{"swimmers", res.Swimmers},
		{"uri", res.URI},
		{"sha256", res.SHA256},
		{"upserted", res.Upserted},
	})
	return nil
}

func newEnrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enrich [teamID...]",
		Short: "Backfill profile images and social links in the roster files",
		Args:  cobra.ArbitraryArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, appInstance App) error {
			return runEnrich(cmd.Context(), cmd, appInstance, args...)
		}),
	}
}

func runEnrich(ctx context.Context, cmd *cobra.Command, appInstance App, teams ...string) error {
	e, err := appInstance.Enricher()
	if err != nil {
		return fmt.Errorf("enrich: %w", err)
	}
	res, err := e.Run(ctx, teams...)
	report.KeyValues(cmd.OutOrStdout(), "Enrich", [][2]any{
		{"teams", res.Teams},
		{"checked", res.Checked},
		{"updated", res.Updated},
		{"failures", res.Failures},
	})
	if err != nil {
		return fmt.Errorf("enrich: %w", err)
	}
	return nil
}
