package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ercoshn4-droid/vnc-server/internal/config"
	"github.com/ercoshn4-droid/vnc-server/internal/transport"
)

// BuildMux wires the WebSocket endpoint and the HTTP facade onto one
// mux. Exported so tests can serve the full surface through httptest.
func BuildMux(h *Hub, bus *transport.Bus, readLimit int64) *http.ServeMux {
	mux := http.NewServeMux()
	transport.RegisterConnectHandler(mux, bus, h, readLimit)
	RegisterHTTPHandlers(mux, h)
	return mux
}

// Run starts the hub server. It blocks until ctx is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg *config.Config) error {
	bus := transport.NewBus()
	h := New(bus)
	mux := BuildMux(h, bus, cfg.MaxMessageBytes)

	srv := &http.Server{Addr: cfg.Listen, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("hub listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		return fmt.Errorf("hub server: %w", err)
	}
}
