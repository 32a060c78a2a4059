package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/wellaios/crypto-chart-mcp/internal/artifact"
	"github.com/wellaios/crypto-chart-mcp/internal/catalog"
	"github.com/wellaios/crypto-chart-mcp/internal/config"
	"github.com/wellaios/crypto-chart-mcp/internal/icons"
	"github.com/wellaios/crypto-chart-mcp/internal/market"
	"github.com/wellaios/crypto-chart-mcp/internal/recorder"
	"github.com/wellaios/crypto-chart-mcp/internal/server"
	"github.com/wellaios/crypto-chart-mcp/internal/session"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("crypto-chart-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("crypto-chart-mcp - MCP server that renders cryptocurrency charts")
			fmt.Println()
			fmt.Println("Usage: crypto-chart-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Configuration comes from config.yaml plus environment variables.")
			fmt.Println("Required environment variables:")
			fmt.Println("  BEARER_TOKEN     Token MCP clients must present")
			fmt.Println("  CMC_KEY          Market data provider API key")
			fmt.Println("  SERVER_DOMAIN    Public base URL charts are served from")
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "crypto-chart-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	log.Info().Str("version", Version).Str("commit", GitCommit).Msg("starting crypto-chart-mcp")

	client := market.NewClient(
		cfg.Provider.BaseURL,
		cfg.Provider.APIKey,
		cfg.Provider.RateLimitPerSec,
		time.Duration(cfg.Provider.FetchTimeoutSec)*time.Second,
		log,
	)

	cat, err := catalog.New(cfg.Catalog.SnapshotFile, log)
	if err != nil {
		return err
	}

	fetcher := market.NewFetcher(client, market.FetcherConfig{
		TTL:          time.Duration(cfg.Market.CacheTTLSec) * time.Second,
		StaleGrace:   time.Duration(cfg.Market.StaleGraceSec) * time.Second,
		FetchTimeout: time.Duration(cfg.Provider.FetchTimeoutSec) * time.Second,
	}, log)

	charts, err := artifact.NewPublisher(artifact.Config{
		Dir:      cfg.Charts.Dir,
		BaseURL:  cfg.Server.PublicBaseURL,
		MaxCount: cfg.Charts.MaxCount,
		MaxAge:   time.Duration(cfg.Charts.MaxAgeHours) * time.Hour,
	}, log)
	if err != nil {
		return err
	}

	var rec recorder.Recorder = recorder.Noop{}
	if cfg.Database.SQLitePath != "" {
		sqlRec, err := recorder.OpenSQLite(cfg.Database.SQLitePath, log)
		if err != nil {
			return err
		}
		defer sqlRec.Close()
		rec = sqlRec
	}

	srv := server.New(server.Options{
		Catalog:        cat,
		Icons:          icons.NewStore(cfg.Icons.Dir, log),
		Market:         fetcher,
		Charts:         charts,
		Sessions:       session.NewRegistry(cfg.Sessions.MaxInFlight, time.Duration(cfg.Sessions.IdleTimeoutSec)*time.Second, log),
		Recorder:       rec,
		BearerToken:    cfg.Server.BearerToken,
		RequestTimeout: cfg.RequestTimeout(),
		Watermark:      cfg.Charts.Watermark,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobs := cron.New()
	if cfg.Catalog.RefreshCron != "" {
		if _, err := jobs.AddFunc(cfg.Catalog.RefreshCron, func() {
			rctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			defer cancel()
			if err := cat.Refresh(rctx, client); err != nil {
				log.Error().Err(err).Msg("coin list refresh failed")
			}
		}); err != nil {
			return fmt.Errorf("catalog refresh schedule: %w", err)
		}
	}
	if cfg.Charts.SweepCron != "" {
		if _, err := jobs.AddFunc(cfg.Charts.SweepCron, func() { charts.Sweep() }); err != nil {
			return fmt.Errorf("chart sweep schedule: %w", err)
		}
	}
	jobs.Start()
	defer jobs.Stop()

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout() + 10*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
