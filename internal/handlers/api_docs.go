package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/threatwatch/threatwatch/docs"
	"github.com/threatwatch/threatwatch/internal/api"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DocsHandler serves the embedded OpenAPI document and a Swagger UI page
type DocsHandler struct {
	spec []byte
	log  *zap.Logger

	jsonOnce sync.Once
	jsonSpec []byte
	jsonErr  error
}

// NewDocsHandler creates a docs handler over the embedded document
func NewDocsHandler(log *zap.Logger) *DocsHandler {
	return &DocsHandler{spec: docs.OpenAPISpec, log: log.Named("docs")}
}

// SetupRoutes registers the docs routes
func (h *DocsHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/openapi.yaml", h.handleOpenAPISpec)
	mux.HandleFunc("/api/openapi.json", h.handleOpenAPIJSON)
	mux.HandleFunc("/api/docs", h.handleDocs)
}

// handleOpenAPISpec serves the embedded OpenAPI specification file.
func (h *DocsHandler) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	if _, err := w.Write(h.spec); err != nil {
		h.log.Debug("Failed to write response", zap.Error(err))
	}
}

// handleOpenAPIJSON serves the same document converted to JSON
func (h *DocsHandler) handleOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	h.jsonOnce.Do(func() {
		h.jsonSpec, h.jsonErr = yamlToJSON(h.spec)
	})
	if h.jsonErr != nil {
		h.log.Error("Failed to convert OpenAPI document", zap.Error(h.jsonErr))
		api.RespondInternalError(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(h.jsonSpec); err != nil {
		h.log.Debug("Failed to write response", zap.Error(err))
	}
}

// handleDocs serves the Swagger UI HTML page.
func (h *DocsHandler) handleDocs(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(swaggerUIHTML)); err != nil {
		h.log.Debug("Failed to write response", zap.Error(err))
	}
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI YAML: %w", err)
	}
	return json.Marshal(doc)
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>ThreatWatch API Docs</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
  <style>body { margin: 0; }</style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/openapi.yaml",
      dom_id: "#swagger-ui",
      presets: [SwaggerUIBundle.presets.apis],
      layout: "BaseLayout"
    });
  </script>
</body>
</html>`
