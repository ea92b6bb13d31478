package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/hydra/internal/version"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the hydra version, commit, build time, Go version and platform.

Examples:
  hydra version                # Version with commit
  hydra version --short        # Version only
  hydra version --format json  # Output as JSON`,
		Args: cobra.NoArgs,
		RunE: runVersion,
	}
	cmd.Flags().StringP("format", "f", "text", "Output format (text, json)")
	cmd.Flags().Bool("short", false, "Show short version only")
	return cmd
}

func runVersion(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	short, _ := cmd.Flags().GetBool("short")
	out := cmd.OutOrStdout()
	info := version.GetBuildInfo()

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "text":
		if short {
			_, err := fmt.Fprintln(out, version.GetShortVersion())
			return err
		}
		fmt.Fprintf(out, "hydra %s", info.Version)
		if info.GitCommit != "unknown" && len(info.GitCommit) >= 7 {
			fmt.Fprintf(out, " (%s)", info.GitCommit[:7])
		}
		if version.IsDirty() {
			fmt.Fprint(out, " (dirty)")
		}
		fmt.Fprintln(out)
		if !info.BuildTime.IsZero() {
			fmt.Fprintf(out, "Built: %s\n", info.BuildTime.Format(time.RFC3339))
		}
		_, err := fmt.Fprintf(out, "Go: %s %s\n", info.GoVersion, info.Platform)
		return err
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", format)
	}
}
