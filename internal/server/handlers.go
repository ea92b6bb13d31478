package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/conneroisu/hydra/internal/errors"
	"github.com/conneroisu/hydra/internal/protocol"
	"github.com/conneroisu/hydra/internal/validation"
	"github.com/conneroisu/hydra/internal/version"
)

// maxRequestBytes bounds a render request body.
const maxRequestBytes = 1 << 20

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req protocol.RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, errors.NewRenderError(errors.ErrCodeInvalidRequest, "invalid request body: "+err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, errors.NewRenderError(errors.ErrCodeInvalidRequest, err.Error()))
		return
	}

	resp, err := s.pipeline.Handle(ctx, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.IncrementRequest(strconv.Itoa(http.StatusOK))
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps a render failure to its HTTP status.
func statusFor(err error) int {
	herr, ok := errors.As(err)
	switch {
	case ok && herr.Code == errors.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsParse(err), errors.IsTemplate(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON ErrorResponse. Server-side failures keep their
// detail in the log only.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.metrics.IncrementRequest(strconv.Itoa(status))

	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, "Render request failed", "path", r.URL.Path)
		message = http.StatusText(status)
	} else {
		s.logger.Debug(r.Context(), "Render request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, protocol.ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// componentSummary is one entry of the component listing.
type componentSummary struct {
	Name        string `json:"name"`
	Tag         string `json:"tag,omitempty"`
	Export      string `json:"export"`
	Initializer string `json:"initializer,omitempty"`
	Static      bool   `json:"static,omitempty"`
	Source      string `json:"source,omitempty"`
}

func (s *Server) summaries() []componentSummary {
	all := s.live.Snapshot().All()
	out := make([]componentSummary, 0, len(all))
	for _, d := range all {
		out = append(out, componentSummary{
			Name:        d.Name,
			Tag:         d.Tag,
			Export:      d.Export.String(),
			Initializer: d.Initializer,
			Static:      d.Static,
			Source:      d.Source,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Server) handleComponents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.summaries())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"version":      version.GetVersion(),
		"components":   s.live.Snapshot().Count(),
		"live_clients": s.hub.Clients(),
	})
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>hydra components</title>
</head>
<body>
<h1>Components</h1>
<ul>
{{- range . }}
<li><a href="/components/{{ .Name }}">{{ .Name }}</a>{{ if .Tag }} &lt;{{ .Tag }}&gt;{{ end }}{{ if .Initializer }} ({{ .Initializer }}){{ end }}</li>
{{- else }}
<li>No components registered.</li>
{{- end }}
</ul>
</body>
</html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.summaries()); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to write index response")
	}
}

var shellTemplate = template.Must(template.New("shell").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{ .Title }}</title>
</head>
<body>
{{ .Body }}
{{ .Config }}
</body>
</html>
`))

type shell struct {
	Title  string
	Body   template.HTML
	Config template.HTML
}

// handleComponentPage renders one component inside a bootable page. Query
// parameters become the component's attributes.
func (s *Server) handleComponentPage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := validation.ValidateComponentName(name); err != nil {
		http.Error(w, "Invalid component name: "+err.Error(), http.StatusBadRequest)
		return
	}

	attrs := make(map[string]any)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			attrs[key] = values[len(values)-1]
		}
	}

	resp, err := s.pipeline.Handle(r.Context(), protocol.RenderRequest{Component: name, Attributes: attrs})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error(r.Context(), err, "Component page failed", "component", name)
			http.Error(w, http.StatusText(status), status)
			return
		}
		http.Error(w, err.Error(), status)
		return
	}

	cfg := protocol.PageConfig{
		Endpoint:     s.config.Render.Endpoint,
		Marker:       s.config.Render.Marker,
		Initializers: resp.Initializers,
	}
	if s.config.Components.Watch {
		cfg.Live = s.config.Render.LivePath
	}
	node, err := cfg.ConfigNode()
	if err != nil {
		s.logger.Error(r.Context(), err, "Failed to build page config", "component", name)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = shellTemplate.Execute(w, shell{
		Title:  fmt.Sprintf("%s - hydra", name),
		Body:   template.HTML(resp.HTML),
		Config: template.HTML(node.OuterHTML()),
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "Failed to write component page", "component", name)
	}
}
