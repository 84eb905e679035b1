// Command persistence is the entry point for the persistence worker.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courier/internal/broker"
	"courier/internal/cache"
	"courier/internal/config"
	"courier/internal/database"
	"courier/internal/observability"
	"courier/internal/persist"
	"courier/internal/repository"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:  "courier-persistence",
		Environment:  cfg.Env,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	redisClient := cache.NewClient(cfg.RedisAddr())
	if redisClient == nil {
		log.Fatalf("Failed to connect to Redis at %s", cfg.RedisAddr())
	}

	worker := persist.NewWorker(
		cache.NewHotWindow(redisClient),
		repository.NewChatRepository(db),
	)

	consumer := &broker.Consumer{
		URL:        cfg.RabbitURL(),
		Exchange:   persist.Exchange,
		Queue:      persist.Queue,
		RoutingKey: persist.RoutingKey,
		Component:  "persistence",
		Handler:    worker.HandleDelivery,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down persistence worker...")
		cancel()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}()

	log.Println("Persistence worker starting...")
	consumer.Run(ctx)
}
