/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the seed lot tracking server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and environment configuration
  2. Initialize SQLite store
  3. Start the WebSocket hub
  4. Create the mutation gatekeeper and API handler
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides APP_PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for an in-memory database
  -env     Path to a .env file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the WebSocket hub and close client sockets
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/seedlot.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

ENVIRONMENT:
  APP_PORT         HTTP port (default 8080)
  DB_PATH          SQLite path (default ./data/seedlot.db)
  ALLOWED_ORIGINS  Comma-separated CORS origins (default *)

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agrovale/seedlot-engine/api"
	"github.com/agrovale/seedlot-engine/config"
	"github.com/agrovale/seedlot-engine/ledger"
	"github.com/agrovale/seedlot-engine/notify"
	"github.com/agrovale/seedlot-engine/pkg/logger"
	"github.com/agrovale/seedlot-engine/store/sqlite"
)

func main() {
	// Flags override the environment
	port := flag.String("port", "", "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	envFile := flag.String("env", "", "path to .env file")
	flag.Parse()

	log := logger.Must(logger.New())
	defer log.Sync()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// WebSocket hub for push notifications
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	hub := notify.NewHub(logger.Named(log, "notify"))
	go hub.Run(hubCtx)

	// Gatekeeper and handler
	keeper := ledger.NewKeeper(store, hub, logger.Named(log, "ledger"))
	handler := api.NewHandler(store, keeper)

	// Create router
	router := api.NewRouter(handler, hub.HandleWS, cfg.CORS.AllowedOrigins)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting",
			zap.String("addr", "http://localhost:"+cfg.Server.Port),
			zap.String("db", cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}
	stopHub()

	log.Info("server stopped")
}
