package main

import (
    "context"
    "errors"
    "log"
    "net/http"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "time"

    "github.com/gorilla/handlers"
    "github.com/joho/godotenv"

    "voyageopt/internal/api"
    "voyageopt/internal/metrics"
)

func main() {
    // A missing .env is fine; the environment may already be set.
    _ = godotenv.Load()

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    srvDeps, err := api.NewServer(ctx)
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }
    metrics.RegisterDefault()

    origins := []string{"*"}
    if v := os.Getenv("ALLOW_ORIGINS"); v != "" {
        origins = strings.Split(v, ",")
    }
    var h http.Handler = srvDeps.Router()
    h = handlers.CORS(
        handlers.AllowedOrigins(origins),
        handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
        handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "If-Match", "X-Tenant-Id", "X-Role", "X-Request-Id"}),
    )(h)
    h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h)
    h = handlers.LoggingHandler(os.Stdout, h)

    addr := ":8080"
    if v := os.Getenv("PORT"); v != "" {
        addr = ":" + v
    }
    srv := &http.Server{
        Addr:              addr,
        Handler:           h,
        ReadHeaderTimeout: 5 * time.Second,
    }

    worker := srvDeps.NewWebhookWorker()
    worker.Start()

    go func() {
        log.Printf("API listening on %s", addr)
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.Fatalf("server error: %v", err)
        }
    }()

    <-ctx.Done()
    log.Printf("shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()
    if err := srv.Shutdown(shutdownCtx); err != nil {
        log.Printf("shutdown: %v", err)
    }
    close(worker.Stop)
    if err := srvDeps.Close(); err != nil {
        log.Printf("close: %v", err)
    }
}
