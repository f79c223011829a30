// feedtest connects to the market-data front and streams decoded events to
// the console, without validation or persistence. Useful for checking feed
// credentials and session coverage before running the watcher.
//
// Usage: go run ./cmd/feedtest --config configs/watcher.local.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/market-watcher/internal/config"
	"github.com/rickgao/market-watcher/internal/feed"
)

func main() {
	configPath := flag.String("config", "configs/watcher.local.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full tick JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	mgr := feed.NewManager(feed.ManagerConfig{
		URL:               cfg.Feed.URL,
		BrokerID:          cfg.Feed.BrokerID,
		UserID:            cfg.Feed.UserID,
		Password:          cfg.Feed.Password,
		ReconnectBaseWait: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxWait:  cfg.Feed.ReconnectMaxDelay,
		PingTimeout:       cfg.Feed.PingTimeout,
		WriteTimeout:      cfg.Feed.WriteTimeout,
		BufferSize:        cfg.Feed.BufferSize,
	}, logger)

	go printEvents(ctx, mgr, cfg.Watcher.SubscribeList, *verbose, logger)

	// Queue stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := mgr.Events().Stats()
				logger.Info("stats",
					"connected", mgr.IsConnected(),
					"queue_len", stats.Count,
					"queue_cap", stats.Capacity,
					"total_sent", stats.TotalSent,
					"total_received", stats.TotalReceived,
				)
			}
		}
	}()

	logger.Info("connecting to feed", "url", cfg.Feed.URL)
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start feed manager", "error", err)
		os.Exit(1)
	}

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	mgr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

func printEvents(ctx context.Context, mgr feed.Manager, instruments []string, verbose bool, logger *slog.Logger) {
	events := mgr.Events()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			ev, ok := events.TryReceive()
			if !ok {
				time.Sleep(10 * time.Millisecond)
				continue
			}

			switch ev.Kind {
			case feed.EventFrontConnected:
				fmt.Printf("[FRONT] connected\n")
			case feed.EventFrontDisconnected:
				fmt.Printf("[FRONT] disconnected reason=%d\n", ev.Reason)
			case feed.EventLoginFailure:
				fmt.Printf("[LOGIN] rejected: %s\n", ev.Message)
			case feed.EventLoginSuccess:
				fmt.Printf("[LOGIN] ok trading_day=%s\n", ev.TradingDay)
				if err := mgr.Subscribe(instruments); err != nil {
					logger.Error("subscribe failed", "error", err)
				}
			case feed.EventTick:
				if verbose {
					data, _ := json.MarshalIndent(ev.Tick, "", "  ")
					fmt.Printf("[TICK] %s\n", data)
				} else {
					fmt.Printf("[TICK] instrument=%s time=%s.%03d last=%.2f vol=%d bid=%.2f ask=%.2f\n",
						ev.Tick.InstrumentID, ev.Tick.UpdateTime, ev.Tick.Millisec,
						ev.Tick.LastPrice, ev.Tick.Volume, ev.Tick.BidPrice, ev.Tick.AskPrice)
				}
			}
		}
	}
}
