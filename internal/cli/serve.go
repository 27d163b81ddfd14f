package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lazypower/canopy/internal/events"
	"github.com/lazypower/canopy/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.bus.Subscribe(events.ConsumerFunc("change-log", func(e events.Event) error {
		a.logger.Debug("entity changed",
			"kind", e.Kind,
			"entity", e.EntityName,
			"entity_id", e.EntityID,
			"note_id", e.NoteID,
		)
		return nil
	}))
	if err != nil {
		return fmt.Errorf("subscribe change log: %w", err)
	}

	srv := server.New(a.cache, a.search, VersionString(),
		server.WithLogger(a.logger),
		server.WithMetrics(a.metrics),
		server.WithSearchDefaults(a.cfg.Search.DefaultLimit, a.cfg.Search.FuzzyAttributes),
	)
	addr := a.cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("canopy serving",
		"addr", addr,
		"db", a.db.Path,
		"notes", a.cache.NoteCount(),
	)
	errc := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
