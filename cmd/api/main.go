package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xelth-com/dongled/internal/actionlog"
	"github.com/xelth-com/dongled/internal/config"
	"github.com/xelth-com/dongled/internal/database"
	"github.com/xelth-com/dongled/internal/handlers"
	"github.com/xelth-com/dongled/internal/pairing"
	"github.com/xelth-com/dongled/internal/realtime"
	"github.com/xelth-com/dongled/internal/store"
	"github.com/xelth-com/dongled/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema
	log.Println("🚀 Synchronizing database schema...")
	if err := db.Migrate(); err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Wire the device bridge
	accounts := store.NewAccounts(db.DB)
	devices := store.NewDevices(db.DB)
	logs := store.NewActionLog(db.DB)

	registry := realtime.NewRegistry()
	recorder := actionlog.NewRecorder(logs, cfg.Realtime.ActionLogBuffer)
	dispatcher := realtime.NewDispatcher(devices, registry, recorder, cfg.Realtime.CommandTimeout)

	// 5. Set up HTTP router
	router := handlers.NewRouter(cfg, handlers.Services{
		Accounts:   accounts,
		Devices:    devices,
		ActionLog:  logs,
		Pairing:    pairing.NewEngine(devices),
		Registry:   registry,
		Dispatcher: dispatcher,
		Channels:   websocket.NewServer(devices, registry, cfg.Realtime),
	})

	// 6. Start server with graceful shutdown
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 Server (%s) starting on port %s (command timeout %s)\n", cfg.NodeEnv, cfg.Port, cfg.Realtime.CommandTimeout)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Drop device channels first so in-flight commands fail fast as
	// connection_lost; hijacked websockets are not tracked by the server.
	registry.Close()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Flush queued audit rows before the database goes away
	recorder.Close()

	// Close database (this also stops embedded PostgreSQL)
	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
