// Package cmd provides the hydra command-line interface.
//
// Configuration is read with the following precedence:
//
//  1. Command-line flags (--config, --port, ...) - highest priority
//  2. HYDRA_CONFIG_FILE environment variable - custom config file path
//  3. Individual environment variables (HYDRA_SERVER_PORT, HYDRA_RENDER_MARKER, ...)
//  4. Configuration file (.hydra.yml in the working directory) - lowest priority
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/hydra/internal/config"
	"github.com/conneroisu/hydra/internal/logging"
	"github.com/conneroisu/hydra/internal/registry"
)

// app holds the state shared by one command tree.
type app struct {
	v       *viper.Viper
	cfgFile string
}

// newRootCmd builds a fresh command tree with its own configuration.
func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "hydra",
		Short: "Server-rendered components with client hydration",
		Long: `Hydra renders HTML components on the server, marks them for hydration
and serves a render endpoint the client runtime redraws them from.

Components live as template files with optional YAML front matter in the
components directory. The serve command watches that directory and pushes
reload notices to connected pages.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.initConfig,
	}

	root.SetGlobalNormalizationFunc(dashedFlags)
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is .hydra.yml)")
	root.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringP("dir", "d", "", "components directory")
	_ = a.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	_ = a.v.BindPFlag("components.dir", root.PersistentFlags().Lookup("dir"))

	root.AddCommand(
		a.newServeCmd(),
		a.newRenderCmd(),
		a.newCheckCmd(),
		a.newListCmd(),
		newVersionCmd(),
	)
	return root
}

// dashedFlags lets --log_level and --no_watch spell --log-level and --no-watch.
func dashedFlags(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

var rootCmd = newRootCmd()

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// initConfig reads the config file and environment overrides. A missing
// default config file is not an error.
func (a *app) initConfig(cmd *cobra.Command, _ []string) error {
	config.ConfigureEnv(a.v)

	explicit := a.cfgFile
	if explicit == "" {
		explicit = os.Getenv(config.EnvPrefix + "_CONFIG_FILE")
	}
	if explicit != "" {
		a.v.SetConfigFile(explicit)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigType("yaml")
		a.v.SetConfigName(".hydra")
	}

	if err := a.v.ReadInConfig(); err != nil {
		if explicit != "" {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", a.v.ConfigFileUsed())
	return nil
}

func (a *app) load() (*config.Config, error) {
	return config.LoadFrom(a.v)
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Log.Format,
		Output:    cmd.ErrOrStderr(),
		Component: "hydra",
	}), nil
}

func newLoader(cfg *config.Config, logger logging.Logger) *registry.Loader {
	return &registry.Loader{
		Dir:        cfg.Components.Dir,
		Extensions: cfg.Components.Extensions,
		Logger:     logger,
	}
}
