/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ikimina round engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Build logger
  3. Open SQLite store
  4. Wire the engine over the store
  5. Start outbox worker and tick scheduler
  6. Start HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections (30s drain)
  2. Stop the tick scheduler (waits for an in-flight pass)
  3. Stop the outbox worker and flush one final drain
  4. Close database connection
  5. Exit

EXAMPLES:
  # Defaults (port 8080, ./data/ikimina.db, Africa/Kigali)
  ./server

  # In-memory database, tighter tick
  DATABASE_PATH=":memory:" TICK_INTERVAL=5s ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/umusanzu/ikimina-engine/api"
	"github.com/umusanzu/ikimina-engine/config"
	"github.com/umusanzu/ikimina-engine/ikimina"
	"github.com/umusanzu/ikimina-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := config.NewLogger(cfg)

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	engine := &ikimina.Engine{
		Rounds:      store,
		Slots:       store,
		Rules:       store,
		Activities:  store,
		Schedules:   store,
		Members:     store,
		NotifyState: store,
		Outbox:      store,
		Clock:       ikimina.NewSystemClock(cfg.Location()),
		Log:         log,
		TickWorkers: cfg.TickWorkers,
	}

	outbox := &ikimina.OutboxWorker{
		Outbox:   store,
		Notifier: &ikimina.LogNotifier{Log: log},
		Log:      log,
	}
	outbox.Start()

	scheduler := api.NewTickScheduler(engine, cfg.TickInterval, log)
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start tick scheduler")
	}

	handler := api.NewHandler(engine, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(map[string]any{
			"port":     cfg.Port,
			"timezone": cfg.CivilTimezone,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	scheduler.Stop()
	outbox.Stop()
	// One last drain so enqueued notifications survive a clean restart
	// without waiting a full interval.
	outbox.Drain(ctx)

	log.Info("server stopped")
}
