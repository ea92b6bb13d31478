package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "/metrics", cfg.Server.MetricsPath)
	assert.Equal(t, "localhost:8080", cfg.Server.Addr())
	assert.Equal(t, "./components", cfg.Components.Dir)
	assert.Equal(t, []string{".html", ".tmpl"}, cfg.Components.Extensions)
	assert.True(t, cfg.Components.Watch)
	assert.Equal(t, 300*time.Millisecond, cfg.Components.Debounce)
	assert.Equal(t, "/_hydra/render", cfg.Render.Endpoint)
	assert.Equal(t, "data-component", cfg.Render.Marker)
	assert.Equal(t, "/_hydra/live", cfg.Render.LivePath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadGlobal(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("server.port", 3000)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".hydra.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  allowed_origins: [example.com]
components:
  dir: ./ui
  extensions: [html, .htm]
  watch: false
  debounce: 1s
render:
  marker: data-widget
log:
  level: debug
  format: json
`), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "./ui", cfg.Components.Dir)
	assert.Equal(t, []string{".html", ".htm"}, cfg.Components.Extensions, "extensions get a leading dot")
	assert.False(t, cfg.Components.Watch)
	assert.Equal(t, time.Second, cfg.Components.Debounce)
	assert.Equal(t, "data-widget", cfg.Render.Marker)
	assert.Equal(t, "/_hydra/render", cfg.Render.Endpoint, "unset keys keep defaults")
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HYDRA_SERVER_PORT", "4000")
	t.Setenv("HYDRA_RENDER_ENDPOINT", "/render")
	t.Setenv("HYDRA_COMPONENTS_DEBOUNCE", "50ms")
	t.Setenv("HYDRA_COMPONENTS_EXTENSIONS", ".html,.svg")

	v := viper.New()
	ConfigureEnv(v)
	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "/render", cfg.Render.Endpoint)
	assert.Equal(t, 50*time.Millisecond, cfg.Components.Debounce)
	assert.Equal(t, []string{".html", ".svg"}, cfg.Components.Extensions)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"port too high", "server.port", 70000},
		{"negative port", "server.port", -1},
		{"unparseable port", "server.port", "invalid_port"},
		{"host injection", "server.host", "localhost;rm"},
		{"relative metrics path", "server.metrics_path", "metrics"},
		{"dir traversal", "components.dir", "../outside"},
		{"empty dir", "components.dir", ""},
		{"glob extension", "components.extensions", []string{"*.html"}},
		{"negative debounce", "components.debounce", -time.Second},
		{"endpoint without slash", "render.endpoint", "render"},
		{"endpoint with query", "render.endpoint", "/render?x=1"},
		{"live path equals endpoint", "render.live_path", "/_hydra/render"},
		{"marker without data prefix", "render.marker", "component"},
		{"bare data marker", "render.marker", "data-"},
		{"uppercase marker", "render.marker", "data-Comp"},
		{"unknown level", "log.level", "verbose"},
		{"unknown format", "log.format", "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.value)
			cfg, err := LoadFrom(v)
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"./components", false},
		{"components/ui", false},
		{"/abs/components", false},
		{"", true},
		{"a/../../b", true},
		{"comp;rm", true},
		{"$(whoami)", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := validatePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
