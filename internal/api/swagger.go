package api

import (
    "html/template"
    "net/http"

    "voyageopt/internal/auth"
)

var consoleTmpl = template.Must(template.New("console").Parse(`<!DOCTYPE html>
<html lang="en"><head>
<title>Voyage API Console</title>
<meta charset="utf-8"/>
<meta name="viewport" content="width=device-width,initial-scale=1">
<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css"/>
<style>body{margin:0}.topbar{display:none}#who{position:fixed;top:8px;right:8px;padding:8px;background:#fff;border:1px solid #ddd;z-index:9;font:13px sans-serif}</style>
</head><body>
<form id="who">
  <label>Tenant <input name="tenant" value="{{.Tenant}}"></label>
  <label>Role <select name="role">{{range .Roles}}<option{{if eq . $.Role}} selected{{end}}>{{.}}</option>{{end}}</select></label>
  <label>Bearer <input name="token" size="24"></label>
</form>
<div id="swagger-ui"></div>
<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>
const who = document.getElementById('who');
SwaggerUIBundle({
  url: {{.SpecURL}},
  dom_id: '#swagger-ui',
  deepLinking: true,
  requestInterceptor: (req) => {
    const f = new FormData(who);
    if (f.get('token')) req.headers['Authorization'] = 'Bearer ' + f.get('token');
    req.headers['X-Tenant-Id'] = f.get('tenant');
    req.headers['X-Role'] = f.get('role');
    return req;
  }
});
</script>
</body></html>`))

type consolePage struct {
    SpecURL string
    Tenant  string
    Role    string
    Roles   []string
}

// SwaggerHandler serves a Swagger UI console for the OpenAPI document with
// the caller's tenant and role preselected.
func (s *Server) SwaggerHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    w.Header().Set("Content-Type", "text/html; charset=utf-8")
    err := consoleTmpl.Execute(w, consolePage{
        SpecURL: "/openapi.yaml",
        Tenant:  p.Tenant,
        Role:    p.Role,
        Roles:   []string{auth.RoleAdmin, auth.RolePlanner, auth.RoleViewer},
    })
    if err != nil {
        writeError(w, r, err)
    }
}
