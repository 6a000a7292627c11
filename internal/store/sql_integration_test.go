//go:build postgres_integration

package store

import (
    "os"
    "testing"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
    dsn := os.Getenv("DATABASE_URL")
    if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
    p, err := NewPostgres(t.Context(), dsn)
    if err != nil { t.Fatalf("NewPostgres: %v", err) }
    if err := p.Migrate(t.Context()); err != nil { t.Fatalf("Migrate: %v", err) }
    if _, _, err := p.ListVoyages(t.Context(), "t_demo", "", "", 1); err != nil { t.Fatalf("ListVoyages: %v", err) }
}
