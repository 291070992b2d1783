package main

import (
	"context"
	"fmt"

	"github.com/rhuss/kgquery/pkg/app"
	"github.com/rhuss/kgquery/pkg/config"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	dataset    string
	debug      string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "kgquery",
		Short: "Ask analytic questions about the product graph dataset",
		Long: `kgquery turns natural-language questions into analysis programs, runs them
in a sandbox against the monthly graph partitions and prints the result.

Examples:
  # Ask a question
  kgquery run "Show FOOD SBU totals for January 2022"

  # Pin the partitions explicitly
  kgquery run --dates 202201,202202 "Compare FOOD and DAIRY"

  # Answer a file of questions, four at a time
  kgquery batch --concurrency 4 questions.txt

  # Inspect how a question is understood
  kgquery dates "sales last quarter"
  kgquery classify "top 10 products in Germany"

  # List the partitions on disk
  kgquery partitions

Configuration:
  Settings come from --config, KGQUERY_CONFIG, ./config.yaml or
  /etc/kgquery/config.yaml, overridden by KGQUERY_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (%s)", buildVersion, buildCommit),
	}
	root.SetVersionTemplate("{{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Path to the configuration file")
	pf.StringVar(&opts.dataset, "dataset", "", "Override the dataset directory")
	pf.StringVar(&opts.debug, "debug", "", "Enable debug categories (comma-separated, or \"all\")")
	pf.BoolVar(&opts.jsonOutput, "json", false, "Write JSON instead of human-readable output")

	root.AddCommand(
		newRunCmd(opts),
		newBatchCmd(opts),
		newDatesCmd(opts),
		newClassifyCmd(opts),
		newPartitionsCmd(opts),
	)
	return root
}

// loadConfig loads and validates the configuration with the flag overrides
// applied, and configures logging.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dataset != "" {
		cfg.Dataset.Path = o.dataset
	}
	if o.debug != "" {
		cfg.Observability.Debug = o.debug
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app.InitLogging(cfg.Observability)
	return cfg, nil
}

// newApp loads the configuration and wires a full engine.
func (o *globalOptions) newApp(ctx context.Context) (*app.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}
