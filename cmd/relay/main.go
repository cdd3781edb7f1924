package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peerlink/internal/config"
	"github.com/rudransh-shrivastava/peerlink/internal/logger"
	"github.com/rudransh-shrivastava/peerlink/internal/relay"
)

// Standalone relay for deployments that only need signaling. Settings come
// from PEERLINK_CONFIG and PEERLINK_* variables.
func main() {
	cfg, err := config.Load(os.Getenv("PEERLINK_CONFIG"))
	if err != nil {
		log.Fatal(err)
		return
	}
	lg, err := logger.NewWithLevel(cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
		return
	}

	srv, err := relay.NewServer(relay.Config{
		Addr:     cfg.Relay.Addr,
		Capacity: cfg.Relay.Capacity,
		Logger:   lg,
		TCPAddr:  cfg.Relay.TCPAddr,
	})
	if err != nil {
		lg.Fatal(err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		lg.Error(err)
	}
	if err := srv.Shutdown(); err != nil {
		lg.Error(err)
	}
}
