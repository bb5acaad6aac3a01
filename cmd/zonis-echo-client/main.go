// Command zonis-echo-client connects to a zonis-echo-server hub, answers
// "boom" requests pushed down from the server, and repeatedly calls the
// server's "ping" route until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Skelmis/zonis-go/client"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8765/ws", "hub websocket url")
	identifier := flag.String("identifier", "", "client identifier, empty lets the server assign one")
	overrideKey := flag.String("override-key", "", "override key, empty to skip reclaiming an existing identifier")
	pingInterval := flag.Duration("ping-interval", 5*time.Second, "interval between ping requests")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "zonis-echo-client: failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	opts := []client.Option{
		client.WithLogger(logger),
		client.WithReconnectAttempts(3),
	}
	if *identifier != "" {
		opts = append(opts, client.WithIdentifier(*identifier))
	}
	if *overrideKey != "" {
		opts = append(opts, client.WithOverrideKey(*overrideKey))
	}

	c := client.New(*url, opts...)
	if err := c.Route("boom", func(ctx context.Context, args map[string]any) (any, error) {
		logger.Info("boom received", zap.Any("args", args))
		return "ack", nil
	}); err != nil {
		logger.Fatal("failed to register boom route", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		logger.Fatal("failed to connect", zap.Error(err))
	}
	logger.Info("connected", zap.String("identifier", c.Identifier()))

	ticker := time.NewTicker(*pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			_ = c.Close()
			return
		case <-ticker.C:
			result, err := c.Request(ctx, "ping", nil)
			if err != nil {
				logger.Warn("ping failed", zap.Error(err))
				continue
			}
			logger.Info("ping answered", zap.Any("value", result))
		}
	}
}
