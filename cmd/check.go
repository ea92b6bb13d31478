package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/hydra/internal/errors"
	"github.com/conneroisu/hydra/internal/renderer"
)

func (a *app) newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate every component file",
		Long: `Load the components directory and parse every template without
rendering it. Front matter errors, duplicate names and template syntax
errors are all reported before the command fails.`,
		Args: cobra.NoArgs,
		RunE: a.runCheck,
	}
}

func (a *app) runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := a.load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	collector := errors.NewCollector()
	reg, err := newLoader(cfg, logger).Load(cmd.Context(), collector)
	if err != nil {
		return fmt.Errorf("failed to load components: %w", err)
	}

	compiler := renderer.NewTemplateCompiler()
	for _, d := range reg.All() {
		if err := compiler.Check(d); err != nil {
			collector.Add(err)
		}
	}

	out := cmd.OutOrStdout()
	if collector.Len() > 0 {
		fmt.Fprint(out, collector.Report())
	}
	if collector.HasErrors() {
		return fmt.Errorf("%d problems in %s", collector.Len(), cfg.Components.Dir)
	}
	_, err = fmt.Fprintf(out, "All %d components OK\n", reg.Count())
	return err
}
