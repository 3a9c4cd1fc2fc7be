package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"candlesync/internal/cli"
	"candlesync/internal/config"
	"candlesync/internal/svc"
	syncpkg "candlesync/internal/sync"
)

var configFile = flag.String("f", "etc/candlesync.yaml", "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	cli.LogConfigSummary(cfg)

	svcCtx := svc.NewServiceContext(*cfg)
	engine := svcCtx.NewEngine(syncpkg.WithDisplay(os.Stdout, cfg.Sync.DisplayRows))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svcCtx.Store.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "database unreachable: %v\n", err)
		os.Exit(1)
	}

	runMenu(ctx, cfg, engine)
}

func runMenu(ctx context.Context, cfg *config.Config, engine *syncpkg.Engine) {
	reader := bufio.NewReader(os.Stdin)
	for ctx.Err() == nil {
		fmt.Println()
		fmt.Println("1) Sync all symbols once")
		fmt.Println("2) Run sync loop")
		fmt.Println("3) Add symbol")
		fmt.Println("4) Add multiple symbols")
		fmt.Println("5) Exit")
		choice, ok := prompt(reader, "Choose an option: ")
		if !ok {
			return
		}

		switch choice {
		case "1":
			if _, err := engine.SyncAll(ctx); err != nil && ctx.Err() == nil {
				fmt.Printf("sync failed: %v\n", err)
			}
		case "2":
			runLoop(ctx, cfg, engine, reader)
		case "3":
			symbol, ok := prompt(reader, "Symbol: ")
			if !ok || symbol == "" {
				continue
			}
			reportAdd(engine.AddSymbol(ctx, symbol))
		case "4":
			raw, ok := prompt(reader, "Symbols (comma separated): ")
			if !ok || raw == "" {
				continue
			}
			addMultiple(ctx, engine, raw)
		case "5":
			return
		default:
			fmt.Println("Unknown option.")
		}
	}
}

func runLoop(ctx context.Context, cfg *config.Config, engine *syncpkg.Engine, reader *bufio.Reader) {
	intradayEvery := promptSeconds(reader, "Intraday sweep interval in seconds", cfg.Sync.IntradayEverySeconds)
	dailyEvery := promptSeconds(reader, "Daily sweep interval in seconds", cfg.Sync.DailyEverySeconds)

	fmt.Println("Sync loop running. Press Ctrl+C to stop.")
	if err := engine.RunForever(ctx, intradayEvery, dailyEvery); err != nil && ctx.Err() == nil {
		fmt.Printf("sync loop stopped: %v\n", err)
	}
}

func addMultiple(ctx context.Context, engine *syncpkg.Engine, raw string) {
	var symbols []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			symbols = append(symbols, part)
		}
	}
	if len(symbols) == 0 {
		fmt.Println("No symbols given.")
		return
	}

	added, failed := engine.AddSymbols(ctx, symbols)
	for _, result := range added {
		printAdd(result)
	}
	for symbol, reason := range failed {
		fmt.Printf("%s: failed: %s\n", symbol, reason)
	}
}

func reportAdd(result syncpkg.AddResult, err error) {
	if err != nil {
		fmt.Printf("add failed: %v\n", err)
		return
	}
	printAdd(result)
}

func printAdd(result syncpkg.AddResult) {
	status := "registered, pending resolution"
	if result.Resolved {
		status = fmt.Sprintf("synced, %d rows inserted", result.Inserted)
	}
	fmt.Printf("%s: %s\n", result.Symbol, status)
}

func prompt(reader *bufio.Reader, label string) (string, bool) {
	fmt.Print(label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(line), true
}

func promptSeconds(reader *bufio.Reader, label string, fallback int) time.Duration {
	raw, ok := prompt(reader, fmt.Sprintf("%s [%d]: ", label, fallback))
	if ok && raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		fmt.Printf("Invalid value, using %d.\n", fallback)
	}
	return time.Duration(fallback) * time.Second
}
