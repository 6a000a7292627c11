package store

import (
    "context"
    "crypto/sha256"
    "database/sql"
    "embed"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "slices"
    "sort"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"
    _ "modernc.org/sqlite"

    "voyageopt/internal/model"
    "voyageopt/internal/opt"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQL is the database/sql store. Queries are written with ? placeholders
// and rebound for Postgres; timestamps are stored as fixed-width UTC text
// so both dialects compare them the same way.
type SQL struct {
    db      *sql.DB
    dialect string
}

const tsLayout = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(s string) time.Time {
    t, _ := time.Parse(tsLayout, s)
    return t
}

// Open picks the driver from the URL: sqlite://path or file paths ending in
// .db use SQLite, anything else is handed to pgx.
func Open(ctx context.Context, url string) (*SQL, error) {
    if p, ok := strings.CutPrefix(url, "sqlite://"); ok {
        return NewSQLite(ctx, p)
    }
    if strings.HasSuffix(url, ".db") {
        return NewSQLite(ctx, url)
    }
    return NewPostgres(ctx, url)
}

func NewPostgres(ctx context.Context, dsn string) (*SQL, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, fmt.Errorf("open postgres: %w", err)
    }
    db.SetMaxOpenConns(10)
    db.SetMaxIdleConns(10)
    db.SetConnMaxLifetime(30 * time.Minute)
    s := &SQL{db: db, dialect: "postgres"}
    if err := s.Ping(ctx); err != nil {
        db.Close()
        return nil, fmt.Errorf("verify postgres connection: %w", err)
    }
    return s, nil
}

func NewSQLite(ctx context.Context, path string) (*SQL, error) {
    if dir := filepath.Dir(path); dir != "." {
        if err := os.MkdirAll(dir, 0o700); err != nil {
            return nil, fmt.Errorf("create database directory: %w", err)
        }
    }
    db, err := sql.Open("sqlite", path)
    if err != nil {
        return nil, fmt.Errorf("open sqlite: %w", err)
    }
    // a single connection serializes writers
    db.SetMaxOpenConns(1)
    for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000", "PRAGMA synchronous = NORMAL"} {
        if _, err := db.ExecContext(ctx, pragma); err != nil {
            db.Close()
            return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
        }
    }
    s := &SQL{db: db, dialect: "sqlite"}
    if err := s.Migrate(ctx); err != nil {
        db.Close()
        return nil, err
    }
    return s, nil
}

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *SQL) Migrate(ctx context.Context) error {
    entries, err := migrations.ReadDir("migrations")
    if err != nil {
        return err
    }
    for _, e := range entries {
        b, err := migrations.ReadFile("migrations/" + e.Name())
        if err != nil {
            return err
        }
        if err := s.execScript(ctx, string(b)); err != nil {
            return fmt.Errorf("migration %s: %w", e.Name(), err)
        }
    }
    return nil
}

// MigrateDir applies every .sql file in dir in name order.
func (s *SQL) MigrateDir(ctx context.Context, dir string) error {
    files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
    if err != nil {
        return err
    }
    sort.Strings(files)
    for _, f := range files {
        b, err := os.ReadFile(f)
        if err != nil {
            return err
        }
        if err := s.execScript(ctx, string(b)); err != nil {
            return fmt.Errorf("migration %s: %w", filepath.Base(f), err)
        }
    }
    return nil
}

func (s *SQL) execScript(ctx context.Context, script string) error {
    for _, stmt := range strings.Split(script, ";") {
        if strings.TrimSpace(stmt) == "" { continue }
        if _, err := s.db.ExecContext(ctx, stmt); err != nil {
            return err
        }
    }
    return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func rebind(dialect, q string) string {
    if dialect != "postgres" { return q }
    var b strings.Builder
    n := 0
    for _, r := range q {
        if r == '?' {
            n++
            b.WriteString("$" + strconv.Itoa(n))
            continue
        }
        b.WriteRune(r)
    }
    return b.String()
}

func (s *SQL) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
    return s.db.ExecContext(ctx, rebind(s.dialect, q), args...)
}

func (s *SQL) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
    return s.db.QueryContext(ctx, rebind(s.dialect, q), args...)
}

func (s *SQL) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
    return s.db.QueryRowContext(ctx, rebind(s.dialect, q), args...)
}

const voyageCols = `id, tenant_id, COALESCE(reference,''), vessel, origin, destination, depart_at, status, version, request, plans, created_at, updated_at`

func scanVoyage(sc interface{ Scan(...any) error }) (model.Voyage, error) {
    var v model.Voyage
    var depart, created, updated, req, plans string
    if err := sc.Scan(&v.ID, &v.TenantID, &v.Reference, &v.Vessel, &v.Origin, &v.Destination, &depart, &v.Status, &v.Version, &req, &plans, &created, &updated); err != nil {
        return v, err
    }
    v.DepartAt, v.CreatedAt, v.UpdatedAt = parseTS(depart), parseTS(created), parseTS(updated)
    if err := json.Unmarshal([]byte(req), &v.Request); err != nil { return v, fmt.Errorf("decode voyage %s request: %w", v.ID, err) }
    if err := json.Unmarshal([]byte(plans), &v.Plans); err != nil { return v, fmt.Errorf("decode voyage %s plans: %w", v.ID, err) }
    return v, nil
}

func (s *SQL) CreateVoyage(ctx context.Context, v model.Voyage) (model.Voyage, error) {
    if v.ID == "" { v.ID = uuid.New().String() }
    now := time.Now().UTC()
    v.Version = 1
    v.CreatedAt, v.UpdatedAt = now, now
    req, err := json.Marshal(v.Request)
    if err != nil { return v, err }
    plans, err := json.Marshal(v.Plans)
    if err != nil { return v, err }
    _, err = s.exec(ctx, `INSERT INTO voyages (id, tenant_id, reference, vessel, origin, destination, depart_at, status, version, request, plans, created_at, updated_at)
        VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
        v.ID, v.TenantID, nullIfEmpty(v.Reference), v.Vessel, v.Origin, v.Destination, ts(v.DepartAt), v.Status, v.Version, string(req), string(plans), ts(now), ts(now))
    if err != nil { return v, fmt.Errorf("insert voyage: %w", err) }
    return v, nil
}

func (s *SQL) GetVoyage(ctx context.Context, tenantID, id string) (model.Voyage, error) {
    v, err := scanVoyage(s.queryRow(ctx, `SELECT `+voyageCols+` FROM voyages WHERE tenant_id=? AND id=?`, tenantID, id))
    if errors.Is(err, sql.ErrNoRows) { return model.Voyage{}, ErrNotFound }
    return v, err
}

func (s *SQL) ListVoyages(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Voyage, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT ` + voyageCols + ` FROM voyages WHERE tenant_id=?`
    args := []any{tenantID}
    if status != "" { q += ` AND status=?`; args = append(args, status) }
    if cursor != "" { q += ` AND id > ?`; args = append(args, cursor) }
    q += ` ORDER BY id LIMIT ?`
    args = append(args, limit)
    rows, err := s.query(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Voyage{}
    for rows.Next() {
        v, err := scanVoyage(rows)
        if err != nil { return nil, "", err }
        out = append(out, v)
    }
    if err := rows.Err(); err != nil { return nil, "", err }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, nil
}

func (s *SQL) ReplacePlans(ctx context.Context, tenantID, id string, expectVersion int, status string, plans []opt.VoyagePlan) (model.Voyage, error) {
    b, err := json.Marshal(plans)
    if err != nil { return model.Voyage{}, err }
    res, err := s.exec(ctx, `UPDATE voyages SET plans=?, status=?, version=version+1, updated_at=?
        WHERE tenant_id=? AND id=? AND (? = 0 OR version = ?)`, string(b), status, ts(time.Now()), tenantID, id, expectVersion, expectVersion)
    if err != nil { return model.Voyage{}, fmt.Errorf("replace plans: %w", err) }
    n, err := res.RowsAffected()
    if err != nil { return model.Voyage{}, err }
    v, gerr := s.GetVoyage(ctx, tenantID, id)
    if gerr != nil { return model.Voyage{}, gerr }
    if n == 0 { return v, ErrVersionConflict }
    return v, nil
}

func (s *SQL) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := s.exec(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret, created_at) VALUES (?,?,?,?,?,?)`, id, req.TenantID, req.URL, string(ev), nullIfEmpty(req.Secret), ts(time.Now()))
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (s *SQL) listSubs(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, error) {
    q := `SELECT id, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=?`
    args := []any{tenantID}
    if cursor != "" { q += ` AND id > ?`; args = append(args, cursor) }
    q += ` ORDER BY id`
    if limit > 0 { q += ` LIMIT ?`; args = append(args, limit) }
    rows, err := s.query(ctx, q, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var sub model.Subscription
        var ev string
        if err := rows.Scan(&sub.ID, &sub.URL, &sub.Secret, &ev); err != nil { return nil, err }
        sub.TenantID = tenantID
        _ = json.Unmarshal([]byte(ev), &sub.Events)
        out = append(out, sub)
    }
    return out, rows.Err()
}

// GetSubscriptionsForEvent filters in Go; the events column is plain JSON text
// in both dialects.
func (s *SQL) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    all, err := s.listSubs(ctx, tenantID, "", 0)
    if err != nil { return nil, err }
    out := []model.Subscription{}
    for _, sub := range all {
        if slices.Contains(sub.Events, eventType) || slices.Contains(sub.Events, "*") { out = append(out, sub) }
    }
    return out, nil
}

func (s *SQL) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    out, err := s.listSubs(ctx, tenantID, cursor, limit)
    if err != nil { return nil, "", err }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, nil
}

func (s *SQL) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    res, err := s.exec(ctx, `DELETE FROM subscriptions WHERE tenant_id=? AND id=?`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Webhook deliveries
func (s *SQL) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    now := ts(time.Now())
    _, err := s.exec(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key, created_at)
        VALUES (?,?,?,?,?,?,?,'pending',0,?,?,?)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), string(payload), now, dk, now)
    if err != nil { return "", err }
    return id, nil
}

func (s *SQL) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    if limit <= 0 { limit = 50 }
    rows, err := s.query(ctx, `SELECT id, tenant_id, COALESCE(subscription_id,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= ? ORDER BY next_attempt_at ASC LIMIT ?`, ts(time.Now()), limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        var payload string
        if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        d.Payload = []byte(payload)
        out = append(out, d)
    }
    return out, rows.Err()
}

func (s *SQL) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := s.exec(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=?, next_attempt_at=?, response_code=?, latency_ms=? WHERE id=?`,
            nullIfEmpty(lastError), ts(*nextAttemptAt), responseCode, latencyMs, id)
        return err
    }
    _, err := s.exec(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=?, response_code=?, latency_ms=? WHERE id=?`, ts(time.Now()), responseCode, latencyMs, id)
    return err
}

func (s *SQL) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    if _, err := tx.ExecContext(ctx, rebind(s.dialect, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=?, response_code=?, latency_ms=? WHERE id=?`),
        nullIfEmpty(lastError), responseCode, latencyMs, id); err != nil {
        return err
    }
    // move to DLQ
    if _, err := tx.ExecContext(ctx, rebind(s.dialect, `INSERT INTO webhook_dlq (id, tenant_id, delivery_id, event_type, url, attempts, last_error, response_code, latency_ms, created_at)
        SELECT ?, tenant_id, id, event_type, url, attempts, last_error, response_code, latency_ms, ? FROM webhook_deliveries WHERE id=?`), uuid.New().String(), ts(time.Now()), id); err != nil {
        return err
    }
    return tx.Commit()
}

func (s *SQL) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]DeliveryInfo, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id, event_type, status, attempts, url, next_attempt_at, COALESCE(last_error,''), response_code, latency_ms FROM webhook_deliveries WHERE tenant_id=?`
    args := []any{tenantID}
    if status != "" { q += ` AND status=?`; args = append(args, status) }
    if cursor != "" { q += ` AND id > ?`; args = append(args, cursor) }
    q += ` ORDER BY id LIMIT ?`
    args = append(args, limit)
    rows, err := s.query(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []DeliveryInfo{}
    for rows.Next() {
        var d DeliveryInfo
        var next string
        if err := rows.Scan(&d.ID, &d.EventType, &d.Status, &d.Attempts, &d.URL, &next, &d.LastError, &d.ResponseCode, &d.LatencyMs); err != nil { return nil, "", err }
        if d.Status == DeliveryPending || d.Status == DeliveryRetry {
            t := parseTS(next)
            d.NextAttemptAt = &t
        }
        out = append(out, d)
    }
    if err := rows.Err(); err != nil { return nil, "", err }
    nextCur := ""
    if len(out) == limit { nextCur = out[len(out)-1].ID }
    return out, nextCur, nil
}

func (s *SQL) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    res, err := s.exec(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=? WHERE tenant_id=? AND id=?`, ts(time.Now()), tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (s *SQL) ListWebhookDLQ(ctx context.Context, tenantID, cursor string, limit int) ([]DeliveryInfo, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id, event_type, url, attempts, COALESCE(last_error,''), response_code, latency_ms FROM webhook_dlq WHERE tenant_id=?`
    args := []any{tenantID}
    if cursor != "" { q += ` AND id > ?`; args = append(args, cursor) }
    q += ` ORDER BY id LIMIT ?`
    args = append(args, limit)
    rows, err := s.query(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []DeliveryInfo{}
    for rows.Next() {
        d := DeliveryInfo{Status: DeliveryFailed}
        if err := rows.Scan(&d.ID, &d.EventType, &d.URL, &d.Attempts, &d.LastError, &d.ResponseCode, &d.LatencyMs); err != nil { return nil, "", err }
        out = append(out, d)
    }
    if err := rows.Err(); err != nil { return nil, "", err }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, nil
}

// RequeueWebhookDLQ puts the dead-lettered delivery back on the queue and
// drops the DLQ entry.
func (s *SQL) RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error {
    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    var delID string
    err = tx.QueryRowContext(ctx, rebind(s.dialect, `SELECT delivery_id FROM webhook_dlq WHERE tenant_id=? AND id=?`), tenantID, id).Scan(&delID)
    if errors.Is(err, sql.ErrNoRows) { return ErrNotFound }
    if err != nil { return err }
    if _, err := tx.ExecContext(ctx, rebind(s.dialect, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=? WHERE id=?`), ts(time.Now()), delID); err != nil { return err }
    if _, err := tx.ExecContext(ctx, rebind(s.dialect, `DELETE FROM webhook_dlq WHERE tenant_id=? AND id=?`), tenantID, id); err != nil { return err }
    return tx.Commit()
}

func (s *SQL) SavePlanMetrics(ctx context.Context, tenantID, voyageID, label string, m opt.Metrics) error {
    b, err := json.Marshal(m)
    if err != nil { return err }
    _, err = s.exec(ctx, `INSERT INTO plan_metrics (tenant_id, voyage_id, label, metrics, created_at) VALUES (?,?,?,?,?)
        ON CONFLICT (tenant_id, voyage_id, label) DO UPDATE SET metrics=excluded.metrics, created_at=excluded.created_at`,
        tenantID, voyageID, label, string(b), ts(time.Now()))
    return err
}

func (s *SQL) ListPlanMetrics(ctx context.Context, tenantID, voyageID, label string) ([]model.PlanMetrics, error) {
    q := `SELECT voyage_id, label, metrics, created_at FROM plan_metrics WHERE tenant_id=?`
    args := []any{tenantID}
    if voyageID != "" { q += ` AND voyage_id=?`; args = append(args, voyageID) }
    if label != "" { q += ` AND label=?`; args = append(args, label) }
    q += ` ORDER BY voyage_id, label`
    rows, err := s.query(ctx, q, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.PlanMetrics{}
    for rows.Next() {
        var pm model.PlanMetrics
        var mx, created string
        if err := rows.Scan(&pm.VoyageID, &pm.Label, &mx, &created); err != nil { return nil, err }
        if err := json.Unmarshal([]byte(mx), &pm.Metrics); err != nil { return nil, err }
        pm.CreatedAt = parseTS(created)
        out = append(out, pm)
    }
    return out, rows.Err()
}

func (s *SQL) GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error) {
    var js string
    if err := s.queryRow(ctx, `SELECT config FROM optimizer_config WHERE tenant_id=?`, tenantID).Scan(&js); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return nil, nil }
        return nil, err
    }
    var cfg map[string]any
    if err := json.Unmarshal([]byte(js), &cfg); err != nil { return nil, err }
    return cfg, nil
}

func (s *SQL) SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
    b, err := json.Marshal(cfg)
    if err != nil { return err }
    _, err = s.exec(ctx, `INSERT INTO optimizer_config (tenant_id, config, updated_at) VALUES (?,?,?)
        ON CONFLICT (tenant_id) DO UPDATE SET config=excluded.config, updated_at=excluded.updated_at`, tenantID, string(b), ts(time.Now()))
    return err
}

func computeDedupKey(payload []byte) string {
    // try to parse JSON and use id
    var m map[string]any
    if json.Unmarshal(payload, &m) == nil {
        if v, ok := m["id"].(string); ok && v != "" {
            return v
        }
    }
    sum := sha256.Sum256(payload)
    return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
