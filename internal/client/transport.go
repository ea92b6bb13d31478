package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/conneroisu/hydra/internal/errors"
	"github.com/conneroisu/hydra/internal/protocol"
	"github.com/conneroisu/hydra/internal/version"
)

// Transport posts render requests. A nil response with a nil error means
// the request was aborted and produced an empty body.
type Transport interface {
	Render(ctx context.Context, endpoint string, req protocol.RenderRequest) (*protocol.RenderResponse, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, endpoint string, req protocol.RenderRequest) (*protocol.RenderResponse, error)

// Render calls f.
func (f TransportFunc) Render(ctx context.Context, endpoint string, req protocol.RenderRequest) (*protocol.RenderResponse, error) {
	return f(ctx, endpoint, req)
}

// HTTPTransport talks to a render endpoint over HTTP.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
	Header  http.Header
}

// NewHTTPTransport creates a transport resolving endpoints against baseURL.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Render implements Transport.
func (t *HTTPTransport) Render(ctx context.Context, endpoint string, req protocol.RenderRequest) (*protocol.RenderResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.NewNetworkError(errors.ErrCodeRequestFailed, "encode render request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewNetworkError(errors.ErrCodeRequestFailed, "build render request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	for k, vs := range t.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewNetworkError(errors.ErrCodeRequestFailed, "render request to "+endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewNetworkError(errors.ErrCodeBadResponse, "read render response", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		var er protocol.ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return nil, errors.NewNetworkError(errors.ErrCodeBadResponse,
			fmt.Sprintf("render %s returned %d", req.Component, resp.StatusCode), fmt.Errorf("%s", msg))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var out protocol.RenderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.NewNetworkError(errors.ErrCodeBadResponse, "decode render response", err)
	}
	return &out, nil
}
