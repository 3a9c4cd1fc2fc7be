// Command syncd runs the candle sync loop headless: an immediate full sync on
// startup, then the two-cadence sweep schedule until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"candlesync/internal/cli"
	"candlesync/internal/config"
	"candlesync/internal/svc"
)

const shutdownTimeout = 10 * time.Second // Grace period for shutdown

var configFile = flag.String("f", "etc/candlesync.yaml", "the config file")

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[main] Starting sync daemon...")

	cfg := config.MustLoad(*configFile)
	log.Printf("[main] Configuration loaded:")
	for _, line := range cli.ConfigSummaryLines(cfg) {
		log.Printf("  - %s", line)
	}

	svcCtx := svc.NewServiceContext(*cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svcCtx.Store.Ping(ctx); err != nil {
		log.Fatalf("[main] Database unreachable: %v", err)
	}

	intradayEvery := time.Duration(cfg.Sync.IntradayEverySeconds) * time.Second
	dailyEvery := time.Duration(cfg.Sync.DailyEverySeconds) * time.Second

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := svcCtx.Engine.RunForever(ctx, intradayEvery, dailyEvery); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[main] Sync loop error: %v", err)
		}
	}()

	log.Println("[main] Sync daemon started. Press Ctrl+C to stop.")
	<-ctx.Done()
	log.Println("[main] Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[main] Sync loop stopped cleanly")
	case <-shutdownCtx.Done():
		log.Println("[main] Shutdown timeout exceeded, forcing exit")
	}

	log.Println("[main] Sync daemon stopped")
}
