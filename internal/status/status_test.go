package status

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"canvaspaint/internal/paint"
	"canvaspaint/internal/ratelimit"
)

func TestHandler_Status(t *testing.T) {
	src := Sources{
		Driver: func() paint.Status {
			return paint.Status{State: "painting", Pass: 2, Total: 4, Percent: 50,
				Stats: paint.Stats{Attempted: 2, Written: 1, Skipped: 1}}
		},
		Buckets: func() []ratelimit.State {
			return []ratelimit.State{{Endpoint: ratelimit.EndpointSetPixel, Hits: 3, MaxHits: 5}}
		},
	}
	rec := httptest.NewRecorder()
	Handler(src).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	var got Report
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.State != "painting" || got.Pass != 2 || got.Percent != 50 || got.Stats.Skipped != 1 {
		t.Fatalf("report = %+v", got)
	}
	if len(got.Buckets) != 1 || got.Buckets[0].Endpoint != ratelimit.EndpointSetPixel {
		t.Fatalf("buckets = %+v", got.Buckets)
	}
}

func TestHandler_EmptySources(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(Sources{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var raw map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if b, ok := raw["buckets"].([]any); !ok || len(b) != 0 {
		t.Fatalf("buckets = %v", raw["buckets"])
	}
}

func TestHandler_Healthz(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(Sources{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestServe_StopsWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, ln, Sources{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + ln.Addr().String() + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
