package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/hydra/internal/errors"
	"github.com/conneroisu/hydra/internal/registry"
)

type listEntry struct {
	Name        string `json:"name" yaml:"name"`
	Tag         string `json:"tag" yaml:"tag"`
	Export      string `json:"export" yaml:"export"`
	Initializer string `json:"initializer,omitempty" yaml:"initializer,omitempty"`
	Static      bool   `json:"static,omitempty" yaml:"static,omitempty"`
	Source      string `json:"source,omitempty" yaml:"source,omitempty"`
}

func (a *app) newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"l"},
		Short:   "List the components in the components directory",
		Long: `List every component the loader finds with its wrapper tag, export
policy and client initializer.

Examples:
  hydra list                # Table output
  hydra list -f json        # JSON output
  hydra list --format yaml  # YAML output`,
		Args: cobra.NoArgs,
		RunE: a.runList,
	}
	cmd.Flags().StringP("format", "f", "table", "output format (table, json, yaml)")
	return cmd
}

func (a *app) runList(cmd *cobra.Command, _ []string) error {
	cfg, err := a.load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	format = strings.ToLower(format)
	switch format {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unsupported format: %s (use table, json or yaml)", format)
	}

	ctx := cmd.Context()
	collector := errors.NewCollector()
	reg, err := newLoader(cfg, logger).Load(ctx, collector)
	if err != nil {
		return fmt.Errorf("failed to load components: %w", err)
	}
	for _, e := range collector.Entries() {
		logger.Warn(ctx, e.Err, "Component skipped")
	}

	entries := listEntries(reg)
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(entries)
	default:
		return writeTable(out, entries)
	}
}

// listEntries returns the registry in name order.
func listEntries(reg *registry.Registry) []listEntry {
	entries := make([]listEntry, 0, reg.Count())
	for _, d := range reg.All() {
		entries = append(entries, listEntry{
			Name:        d.Name,
			Tag:         d.RenderTag(),
			Export:      d.Export.String(),
			Initializer: d.Initializer,
			Static:      d.Static,
			Source:      d.Source,
		})
	}
	return entries
}

func writeTable(out io.Writer, entries []listEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No components found.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTAG\tEXPORT\tINITIALIZER\tSOURCE")
	for _, e := range entries {
		initializer := e.Initializer
		if initializer == "" {
			initializer = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Name, e.Tag, e.Export, initializer, e.Source)
	}
	return w.Flush()
}
