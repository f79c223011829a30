package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/market-watcher/internal/calendar"
	"github.com/rickgao/market-watcher/internal/config"
	"github.com/rickgao/market-watcher/internal/database"
	"github.com/rickgao/market-watcher/internal/feed"
	"github.com/rickgao/market-watcher/internal/persist"
	"github.com/rickgao/market-watcher/internal/schedule"
	"github.com/rickgao/market-watcher/internal/sessions"
	"github.com/rickgao/market-watcher/internal/version"
	"github.com/rickgao/market-watcher/internal/watcher"
)

func main() {
	configPath := flag.String("config", "configs/watcher.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting watcher",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"feed_url", cfg.Feed.URL,
		"instruments", len(cfg.Watcher.SubscribeList),
		"save_ticks", cfg.Watcher.SaveTicks,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Session table
	table, err := sessions.LoadFile(cfg.Sessions.Path)
	if err != nil {
		logger.Error("failed to load session table", "error", err, "path", cfg.Sessions.Path)
		os.Exit(1)
	}

	// Trading calendar
	var holidays []time.Time
	if cfg.Calendar.HolidaysPath != "" {
		holidays, err = calendar.LoadHolidays(cfg.Calendar.HolidaysPath)
		if err != nil {
			logger.Error("failed to load holiday list", "error", err, "path", cfg.Calendar.HolidaysPath)
			os.Exit(1)
		}
	}
	cal := calendar.NewWeekdayCalendar(holidays)
	logger.Info("trading calendar loaded", "holidays", len(holidays))

	// Tick sink: only connect to the database when persistence is on.
	var (
		pool *pgxpool.Pool
		sink persist.Sink
	)
	if cfg.Watcher.SaveTicks {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		sink = persist.NewPostgresSink(pool, logger)
		logger.Info("database connected")
	}

	// Flush scheduler; the watcher installs the group table after login.
	sched := schedule.New(logger)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		sched.Stop(shutdownCtx)
	}()

	// Feed manager
	feedMgr := feed.NewManager(feed.ManagerConfig{
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

	// Watcher core
	w := watcher.New(watcher.Config{
		SaveTicks:        cfg.Watcher.SaveTicks,
		Instruments:      cfg.Watcher.SubscribeList,
		FlushDelay:       cfg.Watcher.FlushDelay,
		NightCutoff:      cfg.Watcher.NightCutoff,
		SettlementCutoff: cfg.Watcher.SettlementCutoff,
	}, feedMgr, cal, table, sink, sched, logger)

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start watcher", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		w.Stop(shutdownCtx)
	}()

	// Connect to the feed last so the event loop is already draining.
	if err := feedMgr.Start(ctx); err != nil {
		logger.Error("failed to start feed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		feedMgr.Stop(shutdownCtx)
	}()

	// Health server
	healthPort := cfg.Health.Port
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", healthPort),
		Handler: createHealthHandler(pool, feedMgr, w, logger),
	}

	go func() {
		logger.Info("starting health server", "port", healthPort)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("watcher running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", healthPort),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	// Graceful shutdown of health server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	logger.Info("watcher stopped")
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(pool *pgxpool.Pool, feedMgr feed.Manager, w *watcher.Watcher, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		// Check database (absent when save_ticks is off)
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		// Check feed connection
		if feedMgr.IsConnected() {
			health.Components["feed"] = "connected"
		} else {
			health.Components["feed"] = "disconnected"
			health.Status = "degraded"
		}

		// Watcher readiness
		health.Components["watcher"] = w.Status()
		if w.Status() != "Ready" {
			health.Status = "degraded"
		}

		// Set response
		rw.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			rw.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(rw).Encode(health)
	})

	mux.HandleFunc("/debug/stats", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(w.GetStats())
	})

	return mux
}
