package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/hydra/internal/errors"
	"github.com/conneroisu/hydra/internal/logging"
	"github.com/conneroisu/hydra/internal/metrics"
	"github.com/conneroisu/hydra/internal/registry"
	"github.com/conneroisu/hydra/internal/server"
	"github.com/conneroisu/hydra/internal/validation"
	"github.com/conneroisu/hydra/internal/watcher"
)

func (a *app) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the render endpoint with live reload",
		Long: `Serve the components directory over HTTP.

The render endpoint answers client redraw requests, /components/<Name>
previews a single component and the live path pushes reload notices when
component files change.

Examples:
  hydra serve                      # Serve ./components on localhost:8080
  hydra serve -p 3000 -d ./ui      # Serve another directory and port
  hydra serve --no-watch           # Do not reload on file changes`,
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	cmd.Flags().String("host", "localhost", "Host to bind to")
	cmd.Flags().Bool("no-watch", false, "Disable reloading on component file changes")
	cmd.Flags().Bool("open", false, "Open the component index in a browser")

	_ = a.v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	_ = a.v.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	return cmd
}

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := a.load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if noWatch, _ := cmd.Flags().GetBool("no-watch"); noWatch {
		cfg.Components.Watch = false
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := newLoader(cfg, logger)
	collector := errors.NewCollector()
	reg, err := loader.Load(ctx, collector)
	if err != nil {
		return fmt.Errorf("failed to load components: %w", err)
	}
	for _, e := range collector.Entries() {
		logger.Warn(ctx, e.Err, "Component skipped")
	}

	live := registry.NewLive(reg)
	m := metrics.New()
	m.ObserveReload(reg.Count())
	srv := server.New(cfg, live, server.WithLogger(logger), server.WithMetrics(m))

	if cfg.Components.Watch {
		reloader := &watcher.Reloader{Loader: loader, Live: live, Metrics: m, Logger: logger}
		fw, err := reloader.Watch(ctx, cfg.Components.Debounce)
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", cfg.Components.Dir, err)
		}
		defer fw.Stop()
	}

	url := fmt.Sprintf("http://%s", cfg.Server.Addr())
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d components from %s at %s\n", reg.Count(), cfg.Components.Dir, url)
	if open, _ := cmd.Flags().GetBool("open"); open {
		go openBrowser(ctx, logger, url)
	}

	return srv.Start(ctx)
}

func openBrowser(ctx context.Context, logger logging.Logger, url string) {
	time.Sleep(100 * time.Millisecond)

	if err := validation.ValidateURL(url); err != nil {
		logger.Warn(ctx, err, "Refusing to open browser")
		return
	}

	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
	if err != nil {
		logger.Warn(ctx, err, "Failed to open browser")
	}
}
