// cmd/server/main.go
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

	"github.com/gin-gonic/gin"

	"github.com/Annany2002/nebula-gateway/api"
	"github.com/Annany2002/nebula-gateway/config"
	"github.com/Annany2002/nebula-gateway/internal/logger"
	"github.com/Annany2002/nebula-gateway/internal/storage"
)

var (
	customLog = logger.NewLogger()
)

const shutdownTimeout = 10 * time.Second

func main() {
	customLog.Println("Starting Nebula Gateway server...")

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		customLog.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logger.Configure(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile}); err != nil {
		customLog.Fatalf("Failed to configure logger: %v", err)
	}
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. Initialize Metadata Database Connection
	metaDB, err := storage.ConnectMetadataDB(cfg)
	if err != nil {
		customLog.Fatalf("Failed to initialize metadata database: %v", err)
	}
	defer func() {
		customLog.Println("Closing metadata database connection...")
		if err := metaDB.Close(); err != nil {
			customLog.Printf("Error closing metadata database: %v", err)
		}
	}()

	// 3. Build shared services
	svc, err := api.NewServices(context.Background(), metaDB, cfg)
	if err != nil {
		customLog.Errorf("Failed to initialize services: %v", err)
		return
	}
	defer func() {
		customLog.Println("Closing tenant database pools...")
		if err := svc.Close(); err != nil {
			customLog.Printf("Error closing tenant database pools: %v", err)
		}
	}()

	// 4. Setup Router and start the server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           api.SetupRouter(metaDB, cfg, svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		customLog.Printf("Server listening on port %s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			customLog.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	customLog.Println("Shutdown signal received, draining requests...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		customLog.Errorf("Server forced to shutdown: %v", err)
	}
	customLog.Println("Server stopped")
}
