package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"kotori/internal/kotori"
)

func main() {
	var (
		help      = flag.Bool("h", false, "Show help")
		helpLong  = flag.Bool("help", false, "Show help")
		debug     = flag.Bool("d", false, "Enable debug logging")
		debugLong = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	if *help || *helpLong {
		_, _ = fmt.Fprintf(os.Stdout, "Usage: %s [flags]\n\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stdout, "Flags:\n")
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stdout, "\nEnvironment Variables:\n\n")
		_, _ = fmt.Fprintf(os.Stdout, "  KOTORI_APP_CACHE_DIR        root directory for derived artifacts (default: /var/lib/kotori/cache)\n")
		_, _ = fmt.Fprintf(os.Stdout, "  KOTORI_DATABASE_URL         catalog PostgreSQL DSN\n")
		_, _ = fmt.Fprintf(os.Stdout, "  KOTORI_DEV                  use the dev metadata entry name and DEBUG logging (default: false)\n")
		_, _ = fmt.Fprintf(os.Stdout, "  KOTORI_MAX_OPEN_ARCHIVES    global open-archive quota (default: 100)\n")
		_, _ = fmt.Fprintf(os.Stdout, "  KOTORI_DISPATCHER_HW        actor pool cap, 0 = NumCPU (default: 0)\n")
		_, _ = fmt.Fprintf(os.Stdout, "  KOTORI_MAX_INGEST_PERMITS   concurrent ingest saves (default: 50)\n")
		_, _ = fmt.Fprintf(os.Stdout, "  KOTORI_COVER_EXTRACT_PERMITS validated but unused; cover extractions run at KOTORI_MAX_INGEST_PERMITS/5 (default: 10)\n")
		_, _ = fmt.Fprintf(os.Stdout, "  KOTORI_ZIP_INTEGRITY_FAIL_TTL TTL for failed integrity checks (default: 5m)\n")
		_, _ = fmt.Fprintf(os.Stdout, "  KOTORI_ADMIN_ADDR           admin HTTP bind address (default: :8090)\n")
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *debug || *debugLong {
		level = slog.LevelDebug
	}
	logger := kotori.NewLogger(level, nil, nil)

	logger.Debug("loading configuration from environment")
	cfg, err := kotori.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.Dev && level != slog.LevelDebug {
		logger = kotori.NewLoggerFromConfig(cfg)
	}
	logger.Debug("configuration loaded", "max_open_archives", cfg.MaxOpenArchives, "dispatcher_hw", cfg.DispatcherHW)

	logger.Debug("initializing metrics")
	reg := prometheus.NewRegistry()
	metrics := kotori.NewMetrics(reg)

	logger.Debug("running catalog migrations")
	if err := kotori.MigrateUp(cfg.DatabaseURL, logger); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to catalog database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	integrity := kotori.NewArchiveIntegrityCache(cfg.ZipIntegrityFailTTL, nil, nil, metrics)
	mutator := kotori.NewMutator(metrics)

	dispatcher := kotori.NewDispatcher(cfg.MaxOpenArchives, cfg.DispatcherHW, integrity, mutator, cfg.MetadataEntryName(), metrics)

	events := kotori.NewEventBus()
	catalog := kotori.NewPostgresCatalog(pool)
	collections := kotori.NewPostgresCollections(pool)

	coverDir := filepath.Join(cfg.AppCacheDir, "covers")
	covers := kotori.NewCoverExtractor(dispatcher, catalog, events, metrics, coverDir)
	ingestor := kotori.NewIngestor(dispatcher, catalog, covers, events, metrics, cfg.MaxIngestPermits)

	// core is the surface the GUI/HTTP caller layer consumes; that layer
	// sits outside this binary and is out of scope here.
	core := kotori.NewCore(dispatcher, catalog, collections, ingestor, covers, events, coverDir)

	logger.Debug("scanning existing catalog folders")
	if err := core.ScanLibrary(ctx); err != nil {
		logger.Error("initial library scan failed", "error", err)
	}

	admin := kotori.NewAdminServer(dispatcher, reg)
	httpServer := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           admin,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	logger.Debug("admin server configured", "addr", httpServer.Addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during admin server shutdown", "error", err)
		}
	}()

	logger.Info("starting kotori-core", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("admin server error", "error", err)
		os.Exit(1)
	}

	logger.Info("kotori-core stopped")
}
