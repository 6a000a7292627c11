package api

import (
    "net/http"
    "os"
    "time"

    "voyageopt/internal/buildinfo"
)

// DebugJSON reports build info, process settings and the active engine
// configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    if _, ok := s.requireAdmin(w, r); !ok { return }
    writeJSON(w, 200, map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "PORT":                 os.Getenv("PORT"),
            "AUTH_MODE":            os.Getenv("AUTH_MODE"),
            "ALLOW_ORIGINS":        os.Getenv("ALLOW_ORIGINS"),
            "RATE_RPS":             os.Getenv("RATE_RPS"),
            "RATE_BURST":           os.Getenv("RATE_BURST"),
            "WEBHOOK_MAX_ATTEMPTS": os.Getenv("WEBHOOK_MAX_ATTEMPTS"),
            "ENGINE_CONFIG":        os.Getenv("ENGINE_CONFIG"),
            "HAS_DATABASE_URL":     os.Getenv("DATABASE_URL") != "",
            "HAS_REDIS_URL":        os.Getenv("REDIS_URL") != "",
            "HAS_KAFKA_BROKERS":    os.Getenv("KAFKA_BROKERS") != "",
            "HAS_FUEL_PRICES":      s.Prices != nil,
        },
        "engine": s.Engine.Config().AsMap(),
        "broker": brokerName(s.Broker),
    })
}

func brokerName(b EventBroker) string {
    switch b.(type) {
    case *RedisBroker:
        return "redis"
    case *KafkaBroker:
        return "kafka"
    default:
        return "memory"
    }
}
