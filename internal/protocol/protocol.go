// Package protocol holds the wire types shared by the render endpoint and the
// client runtime, and the reserved attribute names both sides agree on.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conneroisu/hydra/internal/markup"
)

// Defaults for the values a page publishes in its config block.
const (
	DefaultEndpoint = "/_hydra/render"
	DefaultLivePath = "/_hydra/live"
	DefaultMarker   = "data-component"

	// ConfigScriptID is the id of the inline config block.
	ConfigScriptID = "hydra-config"
)

// Reserved attribute names.
const (
	AttrUse       = "use"
	AttrRef       = "ref"
	AttrArrayRef  = "array:ref"
	AttrID        = "id"
	AttrIf        = "data-if"
	AttrClassName = "data-classname-"
	AttrModel     = "data-model"
	AttrModelCast = "data-model-cast"
	// AttrModelNullable makes an empty model input write null.
	AttrModelNullable = "data-model-nullable"
	AttrHidden        = "hidden"
)

// RenderRequest is the body of a render endpoint call.
type RenderRequest struct {
	Component  string         `json:"component"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Unwrap     bool           `json:"unwrap,omitempty"`
}

// Validate checks the request carries a component name.
func (r *RenderRequest) Validate() error {
	if strings.TrimSpace(r.Component) == "" {
		return fmt.Errorf("component is required")
	}
	return nil
}

// RenderResponse is the body returned by the render endpoint.
type RenderResponse struct {
	HTML         string            `json:"html"`
	Initializers map[string]string `json:"initializers"`
	Data         map[string]any    `json:"data"`
}

// ErrorResponse is the body of a failed render call.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LiveMessage is pushed on the live-reload socket.
type LiveMessage struct {
	Type       string   `json:"type"`
	Components []string `json:"components,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}

// LiveReload is the LiveMessage type announcing changed components.
const LiveReload = "reload"

// PageConfig is the inline configuration block read by the client runtime.
type PageConfig struct {
	Endpoint     string            `json:"endpoint"`
	Marker       string            `json:"marker"`
	Live         string            `json:"live,omitempty"`
	Initializers map[string]string `json:"initializers,omitempty"`
}

// DefaultPageConfig returns the config a page uses when none is injected.
func DefaultPageConfig() PageConfig {
	return PageConfig{Endpoint: DefaultEndpoint, Marker: DefaultMarker}
}

// Markers groups the attribute names derived from the component marker.
type Markers struct {
	Component string
	ID        string
	Deferred  string
}

// MarkersFor derives the id and deferred attribute names from marker.
func MarkersFor(marker string) Markers {
	if marker == "" {
		marker = DefaultMarker
	}
	return Markers{Component: marker, ID: marker + "-id", Deferred: marker + "-deferred"}
}

// Reserved reports whether name is a runtime attribute that never flows
// into component data.
func (m Markers) Reserved(name string) bool {
	switch name {
	case AttrUse, AttrRef, AttrArrayRef, "class", "style",
		m.Component, m.ID, m.Deferred,
		AttrIf, AttrModel, AttrModelCast, AttrModelNullable:
		return true
	}
	return strings.HasPrefix(name, AttrClassName)
}

// ConfigNode builds the `<script type="application/json">` config block.
func (c PageConfig) ConfigNode() (*markup.Node, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal page config: %w", err)
	}
	n := markup.NewElement("script")
	n.SetAttr("type", "application/json")
	n.SetAttr("id", ConfigScriptID)
	n.AppendChild(markup.NewText(string(raw)))
	return n, nil
}

// ReadPageConfig finds the config block under root. Missing fields take
// their defaults; a missing block yields DefaultPageConfig.
func ReadPageConfig(root *markup.Node) (PageConfig, error) {
	cfg := DefaultPageConfig()
	block := root.Find(func(n *markup.Node) bool {
		return n.Tag == "script" && n.AttrOr("id", "") == ConfigScriptID
	})
	if block == nil {
		return cfg, nil
	}
	var raw []byte
	for _, c := range block.Children() {
		raw = append(raw, c.Data...)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s block: %w", ConfigScriptID, err)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	return cfg, nil
}
