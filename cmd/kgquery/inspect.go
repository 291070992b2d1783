package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/app"
	"github.com/rhuss/kgquery/pkg/classify"
	"github.com/rhuss/kgquery/pkg/partition"
	"github.com/rhuss/kgquery/pkg/temporal"
	"github.com/spf13/cobra"
)

func newDatesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dates QUERY",
		Short: "Print the partition dates a question mentions",
		Long: `Print the YYYYMM date tokens extracted from a question, one per line.

Relative expressions such as "last quarter" are resolved against the
current date.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.loadConfig(); err != nil {
				return err
			}
			dates := temporal.New().Extract(strings.Join(args, " "))
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"dates": nonNil(dates)})
			}
			if len(dates) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no dates found")
				return nil
			}
			for _, d := range dates {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}
}

func newClassifyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify QUERY",
		Short: "Print how a question is classified",
		Long: `Print the analysis of a question: query type, scopes, entities and the
query pattern that selects the analysis template.

When a generation backend is configured it is asked first; the keyword
rules are used when it is not configured or its answer is unusable.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			s, err := app.LoadSchema(cfg.Dataset)
			if err != nil {
				return err
			}
			backend, closeBackend, err := app.NewBackend(ctx, cfg.Backend, cfg.Cache)
			if err != nil {
				return err
			}
			if closeBackend != nil {
				defer closeBackend()
			}

			extractor := temporal.New()
			var copts []classify.Option
			if backend != nil {
				copts = append(copts, classify.WithBackend(backend))
			}
			query := strings.Join(args, " ")
			res := classify.New(s, extractor, copts...).Classify(ctx, query, extractor.Extract(query))

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"strategy": res.Strategy,
					"rule":     res.Rule,
					"analysis": res.Analysis,
				})
			}
			printAnalysis(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func printAnalysis(w io.Writer, res classify.Result) {
	bold := color.New(color.Bold)
	a := res.Analysis
	rows := []struct{ label, value string }{
		{"Type", a.Type},
		{"Pattern", a.QueryPattern},
		{"Time scope", a.TimeScope},
		{"Geography", a.GeographicScope},
		{"Business", a.BusinessScope},
		{"Entities", strings.Join(a.Entities, ", ")},
		{"Node types", strings.Join(a.TargetNodeTypes, ", ")},
		{"Dates", strings.Join(a.ExtractedDateRange, ", ")},
	}
	for _, r := range rows {
		bold.Fprintf(w, "%-11s ", r.label+":")
		fmt.Fprintln(w, r.value)
	}
	strategy := res.Strategy
	if res.Rule != "" {
		strategy += " (" + res.Rule + ")"
	}
	bold.Fprintf(w, "%-11s ", "Strategy:")
	fmt.Fprintln(w, strategy)
	if res.BackendErr != nil {
		color.New(color.FgYellow).Fprintf(w, "backend classification failed: %v\n", res.BackendErr)
	}
}

func newPartitionsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "partitions",
		Short: "List the graph partitions in the dataset directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			listing := partition.Catalog(cfg.Dataset.Path)
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), listing)
			}

			w := cmd.OutOrStdout()
			if len(listing.Data) == 0 {
				fmt.Fprintf(w, "no partitions in %s\n", cfg.Dataset.Path)
				return nil
			}
			for _, info := range listing.Data {
				y, m, _ := api.ParseDateToken(info.Date)
				fmt.Fprintf(w, "%s  %04d-%02d  %10d bytes\n", info.Date, y, m, info.SizeBytes)
			}
			color.New(color.Bold).Fprintf(w, "\n%d partitions, %s to %s, %.2f MB\n",
				listing.FileCount, listing.DateRange[0], listing.DateRange[len(listing.DateRange)-1], listing.TotalSizeMB)
			return nil
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
