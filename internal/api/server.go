package api

import (
    "context"
    "errors"
    "fmt"
    "log"
    "os"
    "strings"
    "time"

    "voyageopt/internal/auth"
    "voyageopt/internal/config"
    "voyageopt/internal/cost"
    "voyageopt/internal/env"
    "voyageopt/internal/integrations"
    "voyageopt/internal/integrations/csvprices"
    "voyageopt/internal/model"
    "voyageopt/internal/opt"
    "voyageopt/internal/store"
    "voyageopt/internal/webhooks"
)

type Server struct {
    Store   store.Store
    Pub     *webhooks.Publisher
    Auth    *auth.Verifier
    Broker  EventBroker
    Engine  *opt.Engine
    Graphs  model.GraphBuilder
    Prices  cost.PriceLookup
    Limiter *Limiter
}

// NewServer wires the server from the environment. Without DATABASE_URL the
// store is in memory; without REDIS_URL or KAFKA_BROKERS the broker is too.
func NewServer(ctx context.Context) (*Server, error) {
    cfg, err := config.LoadFromEnv()
    if err != nil {
        return nil, err
    }
    eng := opt.New(cfg)
    if p := os.Getenv("CLIMATOLOGY_FILE"); p != "" {
        c, err := env.LoadClimatology(p)
        if err != nil {
            return nil, fmt.Errorf("climatology: %w", err)
        }
        eng = eng.WithClimatology(c)
    }

    var s store.Store
    if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn == "" {
        s = store.NewMemory()
    } else {
        sq, err := store.Open(ctx, dsn)
        if err != nil {
            return nil, err
        }
        if os.Getenv("DB_MIGRATE") != "false" {
            if err := sq.Migrate(ctx); err != nil {
                return nil, fmt.Errorf("migrate: %w", err)
            }
        }
        if dir := os.Getenv("DB_MIGRATIONS_DIR"); dir != "" {
            if err := sq.MigrateDir(ctx, dir); err != nil {
                return nil, fmt.Errorf("migrate %s: %w", dir, err)
            }
        }
        s = sq
    }

    var prices cost.PriceLookup
    if p := os.Getenv("FUEL_PRICES_FILE"); p != "" {
        ttl := time.Duration(config.EnvInt("FUEL_PRICES_TTL_S", 900)) * time.Second
        prices = integrations.NewPrices(csvprices.Adapter{Path: p}, ttl)
    }

    srv := &Server{
        Store:   s,
        Pub:     webhooks.NewPublisher(s),
        Auth:    auth.NewVerifierFromEnv(),
        Broker:  newBrokerFromEnv(),
        Engine:  eng,
        Graphs:  integrations.GreatCircle{},
        Prices:  prices,
        Limiter: NewLimiter(config.EnvFloat("RATE_RPS", 5), config.EnvInt("RATE_BURST", 10)),
    }
    return srv, nil
}

func newBrokerFromEnv() EventBroker {
    if url := os.Getenv("REDIS_URL"); url != "" {
        rb, err := NewRedisBroker(url)
        if err == nil {
            return rb
        }
        log.Printf("broker: redis unavailable, using memory: %v", err)
    }
    if b := os.Getenv("KAFKA_BROKERS"); b != "" {
        return NewKafkaBroker(strings.Split(b, ","), config.EnvOr("KAFKA_TOPIC", "voyage-plan-events"))
    }
    return NewBroker()
}

// Close releases the broker and store connections.
func (s *Server) Close() error {
    var errs []error
    if c, ok := s.Broker.(interface{ Close() error }); ok {
        errs = append(errs, c.Close())
    }
    if c, ok := s.Store.(interface{ Close() error }); ok {
        errs = append(errs, c.Close())
    }
    return errors.Join(errs...)
}

// engineFor applies the tenant's stored overrides to the base engine.
func (s *Server) engineFor(ctx context.Context, tenant string) (*opt.Engine, error) {
    ov, err := s.Store.GetOptimizerConfig(ctx, tenant)
    if err != nil {
        return nil, err
    }
    if len(ov) == 0 {
        return s.Engine, nil
    }
    cfg, err := s.Engine.Config().WithOverrides(ov)
    if err != nil {
        return nil, err
    }
    return s.Engine.WithConfig(cfg), nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store)
}
