// Command zonis-echo-server runs a minimal hub exposing a single "ping"
// route that clients can call via client_to_server, and demonstrates the
// server driving "boom" requests out to whichever client connects,
// mirroring spec.md §8's single-client and fan-out scenarios.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Skelmis/zonis-go/hub"
	"github.com/Skelmis/zonis-go/transport"
)

func main() {
	addr := flag.String("addr", ":8765", "listen address")
	boomInterval := flag.Duration("boom-interval", 10*time.Second, "interval between server-initiated boom requests, 0 disables")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "zonis-echo-server: failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	h := hub.New(hub.WithLogger(logger))
	if err := h.Route("ping", func(ctx context.Context, args map[string]any) (any, error) {
		return "pong", nil
	}); err != nil {
		logger.Fatal("failed to register ping route", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		t, err := transport.NewWSServerSide(w, r)
		if err != nil {
			logger.Error("websocket upgrade failed", zap.Error(err))
			return
		}

		raw, err := t.Receive(r.Context())
		if err != nil {
			logger.Error("failed to read identify frame", zap.Error(err))
			_ = t.Close()
			return
		}

		identifier, err := h.ParseIdentify(r.Context(), raw, t)
		if err != nil {
			logger.Warn("admission refused", zap.Error(err))
			return
		}
		logger.Info("client connected", zap.String("identifier", identifier))
	})

	srv := &http.Server{Addr: *addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("listening", zap.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	if *boomInterval > 0 {
		go runBoomLoop(ctx, h, logger, *boomInterval)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	h.Shutdown()
}

// runBoomLoop periodically fans a "boom" request out to every connected
// client and logs each client's outcome, demonstrating RequestAll.
func runBoomLoop(ctx context.Context, h *hub.Hub, logger *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			results := h.RequestAll(ctx, "boom", map[string]any{"at": time.Now().Unix()})
			for identifier, outcome := range results {
				if outcome.Err != nil {
					logger.Warn("boom failed", zap.String("identifier", identifier), zap.Error(outcome.Err))
					continue
				}
				logger.Info("boom answered", zap.String("identifier", identifier), zap.Any("value", outcome.Value))
			}
		}
	}
}
