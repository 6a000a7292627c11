package api

import (
    "encoding/json"
    "net/http"
    "os"

    yaml "gopkg.in/yaml.v3"

    "voyageopt/openapi"
)

// openAPILoad returns the OpenAPI document. OPENAPI_FILE overrides the
// embedded copy during development.
func openAPILoad() ([]byte, error) {
    if p := os.Getenv("OPENAPI_FILE"); p != "" {
        return os.ReadFile(p)
    }
    return openapi.Spec, nil
}

// OpenAPIHandler serves the OpenAPI document as YAML, or as JSON with
// ?format=json.
func (s *Server) OpenAPIHandler(w http.ResponseWriter, r *http.Request) {
    b, err := openAPILoad()
    if err != nil { writeProblem(w, 500, "OpenAPI not available", err.Error(), r.URL.Path); return }
    if r.URL.Query().Get("format") != "json" {
        w.Header().Set("Content-Type", "application/yaml")
        _, _ = w.Write(b)
        return
    }
    var doc map[string]any
    if err := yaml.Unmarshal(b, &doc); err != nil { writeProblem(w, 500, "OpenAPI parse failed", err.Error(), r.URL.Path); return }
    js, err := json.Marshal(doc)
    if err != nil { writeProblem(w, 500, "OpenAPI encode failed", err.Error(), r.URL.Path); return }
    w.Header().Set("Content-Type", "application/json")
    _, _ = w.Write(js)
}

// DocsHandler serves ReDoc over /openapi.yaml.
func (s *Server) DocsHandler(w http.ResponseWriter, r *http.Request) {
    w.Header().Set("Content-Type", "text/html; charset=utf-8")
    _, _ = w.Write([]byte(`<!DOCTYPE html><html><head><title>Voyage Optimization API</title>
<meta charset="utf-8"/><meta name="viewport" content="width=device-width, initial-scale=1">
<script src="https://cdn.jsdelivr.net/npm/redoc@2/bundles/redoc.standalone.js"></script>
</head><body><redoc spec-url="/openapi.yaml"></redoc></body></html>`))
}
