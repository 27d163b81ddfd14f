package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lazypower/canopy/internal/config"
	"github.com/lazypower/canopy/internal/events"
	"github.com/lazypower/canopy/internal/graph"
	"github.com/lazypower/canopy/internal/metrics"
	"github.com/lazypower/canopy/internal/protect"
	"github.com/lazypower/canopy/internal/search"
	"github.com/lazypower/canopy/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// app is everything a command needs: the loaded cache over the database
// and the search service on top of it.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	db      *store.DB
	bus     *events.Bus
	metrics *metrics.Metrics
	session *protect.Manager
	cache   *graph.Cache
	search  *search.Service
}

// newLogger builds the slog handler named by cfg.
func newLogger(w io.Writer, cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// openApp loads configuration, opens the database and loads the cache.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	logger, err := newLogger(os.Stderr, cfg.Logging)
	if err != nil {
		return nil, err
	}

	path := cfg.Database.Path
	if path == "" {
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	bus := events.New(events.Config{
		BufferSize: cfg.Events.BufferSize,
		Workers:    cfg.Events.Workers,
		Logger:     logger,
	})
	m.WatchBus(bus)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		bus:     bus,
		metrics: m,
		session: protect.NewManager(),
	}
	a.cache = graph.New(
		graph.WithStore(db),
		graph.WithLogger(logger),
		graph.WithBus(bus),
		graph.WithMetrics(m),
		graph.WithProtectedSession(a.session),
	)
	a.search = search.New(a.cache,
		search.WithLogger(logger),
		search.WithMetrics(m),
		search.WithTimeout(cfg.Search.Timeout),
		search.WithRegexTTL(cfg.Search.RegexCacheTTL),
	)

	if err := a.cache.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load cache: %w", err)
	}
	return a, nil
}

// Close drains the event bus and closes the database.
func (a *app) Close() {
	if err := a.bus.Shutdown(5 * time.Second); err != nil {
		a.logger.Warn("event bus shutdown", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", "error", err)
	}
}
