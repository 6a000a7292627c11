// Package obs carries request ids through contexts and logs operation timings.
package obs

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type ctxKeyRequestID struct{}

const HeaderRequestID = "X-Request-Id"

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}

// Middleware assigns a request id, reusing the caller's X-Request-Id when present.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// Time starts a timer for op; the returned func logs the elapsed time and
// returns it.
//
//	defer obs.Time(ctx, "optimize")()
func Time(ctx context.Context, op string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		log.Printf("req_id=%s op=%s dur=%.1fms", RequestID(ctx), op, float64(d.Microseconds())/1000)
		return d
	}
}
