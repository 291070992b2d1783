package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/engine"
	"github.com/spf13/cobra"
)

// errQueryFailed marks a query that ran but did not succeed. The envelope
// has already been printed.
var errQueryFailed = errors.New("query failed")

func newRunCmd(opts *globalOptions) *cobra.Command {
	var (
		dates      []string
		showEvents bool
		showCode   bool
	)
	cmd := &cobra.Command{
		Use:   "run QUERY",
		Short: "Answer one question",
		Long: `Answer one question and print the result.

The words of QUERY are joined with spaces, so quoting is optional.

Exit codes:
  0 = the analysis ran successfully
  1 = the request was invalid or the analysis failed`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			req := &api.QueryRequest{Query: strings.Join(args, " "), Dates: dates}
			if apiErr := api.ValidateQueryRequest(req, validationConfig(a.Config.Server.MaxQueryLength, a.Config.Server.MaxDates)); apiErr != nil {
				return apiErr
			}

			var observe engine.Observer
			if showEvents {
				observe = func(ev api.StageEvent) { printEvent(cmd.ErrOrStderr(), ev) }
			}
			env := a.Engine.Run(ctx, req, observe)

			if opts.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), env); err != nil {
					return err
				}
			} else {
				printEnvelope(cmd.OutOrStdout(), env, showCode)
			}
			if !env.ExecutionSuccess {
				return errQueryFailed
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&dates, "dates", nil, "Explicit partitions to read (YYYYMM, comma-separated)")
	cmd.Flags().BoolVar(&showEvents, "events", false, "Print stage events to stderr as they happen")
	cmd.Flags().BoolVar(&showCode, "code", false, "Print the generated analysis code")
	return cmd
}

func validationConfig(maxQueryLength, maxDates int) api.ValidationConfig {
	return api.ValidationConfig{MaxQueryLength: maxQueryLength, MaxDates: maxDates}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printEvent(w io.Writer, ev api.StageEvent) {
	faint := color.New(color.Faint)
	if ev.Stage != "" {
		faint.Fprintf(w, "[%d] %s %s (%dms)\n", ev.SequenceNumber, ev.Type, ev.Stage, ev.ElapsedMS)
		return
	}
	faint.Fprintf(w, "[%d] %s\n", ev.SequenceNumber, ev.Type)
}

func printEnvelope(w io.Writer, env *api.ResponseEnvelope, showCode bool) {
	bold := color.New(color.Bold)
	if env.ExecutionSuccess {
		color.New(color.FgGreen, color.Bold).Fprintln(w, "OK")
	} else {
		color.New(color.FgRed, color.Bold).Fprintf(w, "FAILED (%s)\n", env.FailureKind)
	}

	bold.Fprint(w, "Query:      ")
	fmt.Fprintln(w, env.Query)
	bold.Fprint(w, "Type:       ")
	fmt.Fprintln(w, env.QueryType)
	bold.Fprint(w, "Partitions: ")
	if len(env.TargetFiles) == 0 {
		fmt.Fprintln(w, "none")
	} else {
		fmt.Fprintln(w, strings.Join(env.TargetFiles, ", "))
	}
	bold.Fprint(w, "Elapsed:    ")
	fmt.Fprintf(w, "%dms (execution %dms)\n", env.ElapsedMS, env.ExecutionTimeMS)

	if env.Error != "" {
		bold.Fprint(w, "Error:      ")
		fmt.Fprintln(w, env.Error)
	}
	if env.CodeValidation.UsedFallback {
		color.New(color.FgYellow).Fprintln(w, "Generated code was replaced by the fallback template.")
	}

	if len(env.Insights) > 0 {
		fmt.Fprintln(w)
		bold.Fprintln(w, "Insights:")
		for _, insight := range env.Insights {
			fmt.Fprintf(w, "  - %s\n", insight)
		}
	}

	if showCode {
		fmt.Fprintln(w)
		bold.Fprintln(w, "Code:")
		fmt.Fprintln(w, env.GeneratedCode)
	}
}
