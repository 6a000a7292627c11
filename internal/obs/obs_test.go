package obs

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestMiddlewareAssignsAndKeepsRequestID(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen = RequestID(r.Context()) }))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rr.Header().Get(HeaderRequestID) != seen {
		t.Fatalf("generated id not propagated: %q %q", seen, rr.Header().Get(HeaderRequestID))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc" {
		t.Fatalf("caller id not kept: %q", seen)
	}
}

func TestTimeLogs(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	Time(WithRequestID(t.Context(), "r1"), "sweep")()
	if !strings.Contains(buf.String(), "req_id=r1 op=sweep dur=") {
		t.Fatalf("unexpected log line: %q", buf.String())
	}
}
