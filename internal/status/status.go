// Package status serves the painter's progress over HTTP. It only reads
// in-process state and never talks to the canvas.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"canvaspaint/internal/paint"
	"canvaspaint/internal/ratelimit"
)

// Sources supplies the reported state.
type Sources struct {
	Driver  func() paint.Status
	Buckets func() []ratelimit.State
}

// Report is the body of GET /status.
type Report struct {
	paint.Status
	Buckets []ratelimit.State `json:"buckets"`
}

// Handler returns the status router.
func Handler(src Sources) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		var rep Report
		if src.Driver != nil {
			rep.Status = src.Driver()
		}
		if src.Buckets != nil {
			rep.Buckets = src.Buckets()
		}
		if rep.Buckets == nil {
			rep.Buckets = []ratelimit.State{}
		}
		writeJSON(w, http.StatusOK, rep)
	})
	return r
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, src Sources, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln, src, logger)
}

func serve(ctx context.Context, ln net.Listener, src Sources, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Handler:           Handler(src),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("status server starting", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("status server shutdown", "error", err)
		return err
	}
	logger.Info("status server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
