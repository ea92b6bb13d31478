// Package config provides configuration management for hydra using Viper
// for loading from files, environment variables and command-line flags.
//
// Values come from `.hydra.yml`, HYDRA_-prefixed environment variables
// (HYDRA_SERVER_PORT, HYDRA_RENDER_MARKER, ...) and flags bound by the CLI.
// Load fills defaults for anything left unset and validates the result.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "HYDRA"

type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Components ComponentsConfig `yaml:"components" mapstructure:"components"`
	Render     RenderConfig     `yaml:"render" mapstructure:"render"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	Host           string   `yaml:"host" mapstructure:"host"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MetricsPath    string   `yaml:"metrics_path" mapstructure:"metrics_path"`
}

type ComponentsConfig struct {
	Dir        string        `yaml:"dir" mapstructure:"dir"`
	Extensions []string      `yaml:"extensions" mapstructure:"extensions"`
	Watch      bool          `yaml:"watch" mapstructure:"watch"`
	Debounce   time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

type RenderConfig struct {
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Marker   string `yaml:"marker" mapstructure:"marker"`
	LivePath string `yaml:"live_path" mapstructure:"live_path"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Addr is the host:port the server listens on.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConfigureEnv enables HYDRA_ environment overrides on v, with dots in keys
// read as underscores.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.allowed_origins", []string{"localhost", "127.0.0.1"})
	v.SetDefault("server.metrics_path", "/metrics")

	v.SetDefault("components.dir", "./components")
	v.SetDefault("components.extensions", []string{".html", ".tmpl"})
	v.SetDefault("components.watch", true)
	v.SetDefault("components.debounce", 300*time.Millisecond)

	v.SetDefault("render.endpoint", "/_hydra/render")
	v.SetDefault("render.marker", "data-component")
	v.SetDefault("render.live_path", "/_hydra/live")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Handle slices set through env (workaround for viper slice handling)
	if len(config.Components.Extensions) == 1 && strings.Contains(config.Components.Extensions[0], ",") {
		config.Components.Extensions = splitList(config.Components.Extensions[0])
	}
	if len(config.Server.AllowedOrigins) == 1 && strings.Contains(config.Server.AllowedOrigins[0], ",") {
		config.Server.AllowedOrigins = splitList(config.Server.AllowedOrigins[0])
	}
	for i, ext := range config.Components.Extensions {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			config.Components.Extensions[i] = "." + ext
		}
	}

	// Validate configuration values
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateComponentsConfig(&config.Components); err != nil {
		return fmt.Errorf("components config: %w", err)
	}
	if err := validateRenderConfig(&config.Render); err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", " "}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %q", char)
			}
		}
	}

	if err := validateURLPath("metrics_path", config.MetricsPath); err != nil {
		return err
	}
	return nil
}

// validateComponentsConfig validates components configuration values
func validateComponentsConfig(config *ComponentsConfig) error {
	if err := validatePath(config.Dir); err != nil {
		return fmt.Errorf("invalid dir '%s': %w", config.Dir, err)
	}
	if len(config.Extensions) == 0 {
		return fmt.Errorf("at least one extension is required")
	}
	for _, ext := range config.Extensions {
		if ext == "." || strings.ContainsAny(ext, "/\\*") {
			return fmt.Errorf("invalid extension %q", ext)
		}
	}
	if config.Debounce < 0 {
		return fmt.Errorf("debounce %s must not be negative", config.Debounce)
	}
	return nil
}

// validateRenderConfig validates the render endpoint and marker names
func validateRenderConfig(config *RenderConfig) error {
	if err := validateURLPath("endpoint", config.Endpoint); err != nil {
		return err
	}
	if err := validateURLPath("live_path", config.LivePath); err != nil {
		return err
	}
	if config.Endpoint == config.LivePath {
		return fmt.Errorf("endpoint and live_path must differ")
	}
	if !strings.HasPrefix(config.Marker, "data-") || len(config.Marker) == len("data-") {
		return fmt.Errorf("marker %q must start with data-", config.Marker)
	}
	for i := 0; i < len(config.Marker); i++ {
		c := config.Marker[i]
		if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') && c != '-' {
			return fmt.Errorf("marker %q may only contain lowercase letters, digits and dashes", config.Marker)
		}
	}
	return nil
}

func validateLogConfig(config *LogConfig) error {
	switch strings.ToLower(config.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown level %q", config.Level)
	}
	switch strings.ToLower(config.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown format %q", config.Format)
	}
	return nil
}

func validateURLPath(name, path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%s %q must start with /", name, path)
	}
	if strings.Contains(path, "..") || strings.ContainsAny(path, " ?#") {
		return fmt.Errorf("%s %q is not a plain path", name, path)
	}
	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	// Reject path traversal attempts
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
