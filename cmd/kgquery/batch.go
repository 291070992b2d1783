package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rhuss/kgquery/pkg/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newBatchCmd(opts *globalOptions) *cobra.Command {
	var (
		concurrency int
		dates       []string
	)
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Answer a file of questions",
		Long: `Answer every question in FILE, one per line. Blank lines and lines starting
with # are skipped. Use - to read from stdin.

Questions run concurrently up to --concurrency (default: sandbox.max_concurrent).
Results are printed in input order. With --json, one envelope is written per
line (NDJSON).

Exit codes:
  0 = every question succeeded
  1 = at least one question was invalid or failed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := readQueries(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if len(queries) == 0 {
				return fmt.Errorf("no queries in %s", args[0])
			}

			ctx := cmd.Context()
			a, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			limit := concurrency
			if limit <= 0 {
				limit = a.Config.Sandbox.MaxConcurrent
			}
			vcfg := validationConfig(a.Config.Server.MaxQueryLength, a.Config.Server.MaxDates)

			// Every query gets an envelope; a failure never cancels its
			// siblings, so the group only bounds concurrency.
			envs := make([]*api.ResponseEnvelope, len(queries))
			var g errgroup.Group
			g.SetLimit(limit)
			for i, q := range queries {
				g.Go(func() error {
					req := &api.QueryRequest{Query: q, Dates: dates}
					if apiErr := api.ValidateQueryRequest(req, vcfg); apiErr != nil {
						envs[i] = rejected(q, apiErr)
						return nil
					}
					envs[i] = a.Engine.Run(ctx, req, nil)
					return nil
				})
			}
			_ = g.Wait()

			return report(cmd.OutOrStdout(), envs, opts.jsonOutput)
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "Maximum questions in flight")
	cmd.Flags().StringSliceVar(&dates, "dates", nil, "Explicit partitions for every question (YYYYMM, comma-separated)")
	return cmd
}

// readQueries reads one query per line from path, or from stdin when path
// is "-".
func readQueries(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening queries: %w", err)
		}
		defer f.Close()
		r = f
	}

	var queries []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		queries = append(queries, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading queries: %w", err)
	}
	return queries, nil
}

// rejected builds the envelope reported for a query that failed validation.
func rejected(query string, apiErr *api.APIError) *api.ResponseEnvelope {
	return &api.ResponseEnvelope{
		Object:      "query",
		Query:       query,
		Data:        &api.Projection{Error: apiErr.Message},
		Insights:    []string{},
		TargetFiles: []string{},
		Error:       apiErr.Message,
	}
}

func report(w io.Writer, envs []*api.ResponseEnvelope, jsonOutput bool) error {
	failed := 0
	for _, env := range envs {
		if !env.ExecutionSuccess {
			failed++
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		for _, env := range envs {
			if err := enc.Encode(env); err != nil {
				return err
			}
		}
	} else {
		green := color.New(color.FgGreen)
		red := color.New(color.FgRed)
		for i, env := range envs {
			if env.ExecutionSuccess {
				green.Fprintf(w, "%3d OK     ", i+1)
				fmt.Fprintf(w, "%-22s %s\n", env.QueryType, env.Query)
				continue
			}
			kind := string(env.FailureKind)
			if kind == "" {
				kind = string(api.ErrorTypeInvalidRequest)
			}
			red.Fprintf(w, "%3d FAILED ", i+1)
			fmt.Fprintf(w, "%-22s %s: %s\n", kind, env.Query, env.Error)
		}
		fmt.Fprintf(w, "\n%d succeeded, %d failed\n", len(envs)-failed, failed)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d queries failed", failed, len(envs))
	}
	return nil
}
