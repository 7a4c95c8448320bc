package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/modavn/storefront/internal/api"
	"github.com/modavn/storefront/internal/db"
	"github.com/modavn/storefront/internal/events"
	"github.com/modavn/storefront/internal/metrics"
	"github.com/modavn/storefront/internal/services"
	"github.com/modavn/storefront/pkg/config"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize OpenTelemetry metrics
	ctx := context.Background()
	appMetrics, meterProvider, err := metrics.InitMetrics(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down meter provider: %v", err)
		}
	}()

	// Initialize database
	database, err := db.NewDB(cfg.GetDSN(), cfg.OTELServiceName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Initialize schema
	schemaSQL, err := os.ReadFile("schema.sql")
	if err != nil {
		log.Printf("Warning: Could not read schema.sql: %v", err)
		log.Println("Assuming database schema already exists")
	} else {
		if err := database.InitSchema(ctx, string(schemaSQL)); err != nil {
			log.Printf("Warning: Could not initialize schema: %v", err)
			log.Println("Assuming database schema already exists")
		}
	}

	// Kafka publisher is optional; nil when no brokers are configured.
	publisher, err := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		log.Fatalf("Failed to connect to Kafka: %v", err)
	}
	defer publisher.Close()

	// Initialize services
	productService := services.NewProductService(database, appMetrics)
	cartService := services.NewCartService(database, appMetrics, productService)
	voucherService := services.NewVoucherService(database, appMetrics)
	orderService := services.NewOrderService(database, appMetrics, publisher)
	userService := services.NewUserService(database, appMetrics)
	checkoutService := services.NewCheckoutService(database, appMetrics, productService, voucherService, orderService, publisher)

	// Outbox worker settles post-order side effects in the background.
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	outboxWorker := services.NewOutboxWorker(database, appMetrics, voucherService, cartService, orderService,
		cfg.OutboxInterval, cfg.OutboxMaxAttempts)
	go outboxWorker.Run(workerCtx)

	// Initialize app
	app := api.NewApp(cfg, database, appMetrics, productService, cartService, voucherService,
		orderService, userService, checkoutService)

	// Setup router
	router := mux.NewRouter()
	app.SetupRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.AppPort)
		log.Printf("OTLP endpoint: %s", cfg.OTELExporterOTLPEndpoint)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopWorker()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
