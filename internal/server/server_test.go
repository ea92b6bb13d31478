package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/hydra/internal/config"
	"github.com/conneroisu/hydra/internal/metrics"
	"github.com/conneroisu/hydra/internal/protocol"
	"github.com/conneroisu/hydra/internal/registry"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(viper.New())
	require.NoError(t, err)
	return cfg
}

func testRegistry() *registry.Registry {
	return registry.NewBuilder().
		MustRegister(registry.Descriptor{Name: "Greeting", Template: "<p>Hello {{.name}}</p>", Initializer: "greeting.js"}).
		MustRegister(registry.Descriptor{Name: "Mismatch", Template: "<div><span></div>"}).
		MustRegister(registry.Descriptor{Name: "MissingPartial", Template: `{{template "missing"}}`}).
		MustRegister(registry.Descriptor{
			Name:     "Failing",
			Template: "<p>never</p>",
			Provider: func(context.Context, registry.ProviderInput) (map[string]any, error) {
				return nil, fmt.Errorf("database password rejected")
			},
		}).
		Build()
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(testConfig(t), registry.NewLive(testRegistry()), WithMetrics(metrics.New()))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		ts.Close()
	})
	return s, ts
}

func post(t *testing.T, ts *httptest.Server, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(ts.URL+protocol.DefaultEndpoint, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestRenderEndpoint(t *testing.T) {
	s, ts := newTestServer(t)

	resp, raw := post(t, ts, `{"component":"Greeting","attributes":{"name":"Ann"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var out protocol.RenderResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Contains(t, out.HTML, "<p>Hello Ann</p>")
	assert.Contains(t, out.HTML, `data-component="Greeting"`)
	assert.Equal(t, map[string]string{"Greeting": "greeting.js"}, out.Initializers)
	assert.Equal(t, "Ann", out.Data["name"])

	t.Run("unwrap returns the inner markup", func(t *testing.T) {
		resp, raw := post(t, ts, `{"component":"Greeting","attributes":{"name":"Bo"},"unwrap":true}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out protocol.RenderResponse
		require.NoError(t, json.Unmarshal(raw, &out))
		assert.Equal(t, "<p>Hello Bo</p>", out.HTML)
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.EndpointRequests.WithLabelValues("200")))
}

func TestRenderEndpointErrors(t *testing.T) {
	s, ts := newTestServer(t)

	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"malformed json", `{"component":`, http.StatusBadRequest, "invalid request body"},
		{"missing component", `{"attributes":{}}`, http.StatusBadRequest, "component is required"},
		{"unknown component", `{"component":"Nope"}`, http.StatusNotFound, "Nope"},
		{"markup mismatch", `{"component":"Mismatch"}`, http.StatusUnprocessableEntity, "span"},
		{"template failure", `{"component":"MissingPartial"}`, http.StatusUnprocessableEntity, "missing"},
		{"provider failure is not leaked", `{"component":"Failing"}`, http.StatusInternalServerError, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := post(t, ts, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)

			var out protocol.ErrorResponse
			require.NoError(t, json.Unmarshal(raw, &out), string(raw))
			assert.Contains(t, out.Error, tt.message)
			assert.NotContains(t, out.Error, "password")
		})
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.EndpointRequests.WithLabelValues("400")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.EndpointRequests.WithLabelValues("404")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.EndpointRequests.WithLabelValues("422")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.EndpointRequests.WithLabelValues("500")))
}

func TestRenderEndpointRejectsGet(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + protocol.DefaultEndpoint)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRenderEndpointCORS(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		origin string
		want   string
	}{
		{"http://localhost:3000", "http://localhost:3000"},
		{"http://127.0.0.1", "http://127.0.0.1"},
		{"https://evil.example", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, ts.URL+protocol.DefaultEndpoint,
				bytes.NewBufferString(`{"component":"Greeting"}`))
			require.NoError(t, err)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.want, resp.Header.Get("Access-Control-Allow-Origin"))
		})
	}

	t.Run("preflight", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, ts.URL+protocol.DefaultEndpoint, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:3000")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, "POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	})
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func TestComponentPage(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := get(t, ts.URL+"/components/Greeting?name=Ann")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "<title>Greeting - hydra</title>")
	assert.Contains(t, body, "<p>Hello Ann</p>")
	assert.Contains(t, body, `id="hydra-config"`)
	assert.Contains(t, body, "greeting.js")

	tests := []struct {
		path   string
		status int
	}{
		{"/components/Nope", http.StatusNotFound},
		{"/components/bad$name", http.StatusBadRequest},
		{"/components/Mismatch", http.StatusUnprocessableEntity},
		{"/components/Failing", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := get(t, ts.URL+tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotContains(t, body, "password")
		})
	}
}

func TestComponentPageEscapesQuery(t *testing.T) {
	_, ts := newTestServer(t)

	name := `"><script>alert(1)</script>`
	resp, body := get(t, ts.URL+"/components/Greeting?name="+url.QueryEscape(name))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.NotContains(t, body, "<script>alert(1)")
	assert.Contains(t, body, "&lt;script&gt;alert(1)&lt;/script&gt;")
}

func TestIndexAndListing(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := get(t, ts.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `<a href="/components/Greeting">Greeting</a>`)

	resp, body = get(t, ts.URL+"/api/components")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []componentSummary
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	require.Len(t, list, 4)
	assert.Equal(t, "Failing", list[0].Name)
	assert.Equal(t, componentSummary{Name: "Greeting", Export: "all", Initializer: "greeting.js"}, list[1])
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := get(t, ts.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, 4.0, health["components"])

	post(t, ts, `{"component":"Greeting"}`)
	resp, body = get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `hydra_render_requests_total{code="200"} 1`)
	assert.Contains(t, body, "hydra_render_duration_seconds")
}

func TestMetricsRouteNeedsMetrics(t *testing.T) {
	s := New(testConfig(t), registry.NewLive(nil))
	defer s.Shutdown(context.Background())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, _ := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeAnnouncesSwaps(t *testing.T) {
	live := registry.NewLive(testRegistry())
	s := New(testConfig(t), live)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "ws://" + ln.Addr().String() + protocol.DefaultLivePath
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	live.Swap(registry.NewBuilder().
		MustRegister(registry.Descriptor{Name: "Greeting", Template: "<p>Hi {{.name}}</p>", Hash: "v2"}).
		Build())

	var seen []string
	for len(seen) < 4 {
		var msg protocol.LiveMessage
		require.NoError(t, wsjson.Read(dialCtx, conn, &msg))
		assert.Equal(t, protocol.LiveReload, msg.Type)
		seen = append(seen, msg.Components...)
	}
	assert.ElementsMatch(t, []string{"Greeting", "Mismatch", "MissingPartial", "Failing"}, seen)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.Zero(t, s.Hub().Clients())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("plain")))
}
