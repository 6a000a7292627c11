// Package api implements the HTTP surface of the voyage optimization service.
package api

import (
    "net/http"
    "strings"

    "voyageopt/internal/auth"
)

type Principal struct {
    Tenant string
    Role   string // admin, planner, viewer
}

// getPrincipal extracts tenant and role from a bearer token when one verifies,
// else from the X-Tenant-Id and X-Role headers used in development.
func (s *Server) getPrincipal(r *http.Request) Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return Principal{Tenant: pr.Tenant, Role: pr.Role}
        }
    }
    tenant := r.Header.Get("X-Tenant-Id")
    if tenant == "" {
        tenant = "t_demo"
    }
    role := r.Header.Get("X-Role")
    if role == "" {
        role = auth.RoleAdmin
    }
    return Principal{Tenant: tenant, Role: auth.NormalizeRole(role)}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == auth.RoleAdmin }

// CanPlan reports whether the principal may run the optimizer and change voyages.
func (p Principal) CanPlan() bool { return p.IsAdmin() || p.Role == auth.RolePlanner }

// requirePlanner writes 403 and returns false unless the caller can plan.
func (s *Server) requirePlanner(w http.ResponseWriter, r *http.Request) (Principal, bool) {
    p := s.getPrincipal(r)
    if !p.CanPlan() {
        writeProblem(w, http.StatusForbidden, "Forbidden", "planner or admin required", r.URL.Path)
        return p, false
    }
    return p, true
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) (Principal, bool) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() {
        writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
        return p, false
    }
    return p, true
}
