package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/hydra/internal/errors"
	"github.com/conneroisu/hydra/internal/protocol"
	"github.com/conneroisu/hydra/internal/renderer"
	"github.com/conneroisu/hydra/internal/validation"
)

func (a *app) newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <Component>",
		Short: "Render one component to stdout",
		Long: `Render a component the way the render endpoint would and print the
resulting HTML, or the full render response with --json.

Examples:
  hydra render Greeting --attr name=Ada
  hydra render UserCard --data '{"user":{"name":"Ada"}}' --json`,
		Args: cobra.ExactArgs(1),
		RunE: a.runRender,
	}

	cmd.Flags().StringArray("attr", nil, "component attribute as key=value (repeatable)")
	cmd.Flags().String("data", "", "inherited data as a JSON object")
	cmd.Flags().Bool("unwrap", false, "print only the component's inner HTML")
	cmd.Flags().Bool("json", false, "print the render response as JSON")
	return cmd
}

func (a *app) runRender(cmd *cobra.Command, args []string) error {
	cfg, err := a.load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	name := args[0]
	if err := validation.ValidateComponentName(name); err != nil {
		return fmt.Errorf("invalid component name: %w", err)
	}

	req := protocol.RenderRequest{Component: name, Attributes: map[string]any{}}
	pairs, _ := cmd.Flags().GetStringArray("attr")
	for _, pair := range pairs {
		key, val, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("attribute %q must be key=value", pair)
		}
		if err := validation.ValidateAttributeName(key); err != nil {
			return fmt.Errorf("invalid attribute %q: %w", key, err)
		}
		req.Attributes[key] = val
	}
	if raw, _ := cmd.Flags().GetString("data"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Data); err != nil {
			return fmt.Errorf("--data must be a JSON object: %w", err)
		}
	}
	req.Unwrap, _ = cmd.Flags().GetBool("unwrap")

	ctx := cmd.Context()
	collector := errors.NewCollector()
	reg, err := newLoader(cfg, logger).Load(ctx, collector)
	if err != nil {
		return fmt.Errorf("failed to load components: %w", err)
	}
	for _, e := range collector.Entries() {
		logger.Warn(ctx, e.Err, "Component skipped")
	}

	pipeline := renderer.New(reg,
		renderer.WithMarker(cfg.Render.Marker),
		renderer.WithLogger(logger),
	)
	resp, err := pipeline.Handle(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	_, err = fmt.Fprintln(out, resp.HTML)
	return err
}
