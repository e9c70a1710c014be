// Package main is the entry point for the cherita server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cherita/server/internal/api"
	"github.com/cherita/server/internal/cache"
	"github.com/cherita/server/internal/config"
	"github.com/cherita/server/internal/strapi"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting cherita server on port %d", cfg.Server.Port)
	log.Printf("Serving datasets from: %v", cfg.Data.Roots)

	// Initialize response cache (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		ResponseSizeMB: cfg.Cache.ResponseSizeMB,
		ResponseTTL:    time.Duration(cfg.Cache.TTLDays) * 24 * time.Hour,
		QueryCacheSize: cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Disease search is optional; without a base URL the endpoints report
	// the service as unconfigured.
	var strapiClient *strapi.Client
	if cfg.Strapi.BaseURL != "" {
		strapiClient = strapi.NewClient(cfg.Strapi.BaseURL, time.Duration(cfg.Strapi.TimeoutSeconds)*time.Second)
		log.Printf("Disease search backend: %s", cfg.Strapi.BaseURL)
	}

	// Set up HTTP router
	srv := api.NewServer(cfg, cacheManager, strapiClient)
	router := api.NewRouter(srv)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
