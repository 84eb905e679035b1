// Command presence is the entry point for the presence registry service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courier/internal/cache"
	"courier/internal/config"
	"courier/internal/middleware"
	"courier/internal/observability"
	"courier/internal/presence"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:  "courier-presence",
		Environment:  cfg.Env,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	redisClient := cache.NewClient(cfg.RedisAddr())
	if redisClient == nil {
		log.Fatalf("Failed to connect to Redis at %s", cfg.RedisAddr())
	}

	store := presence.NewStore(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName: "Courier Presence Registry",
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())
	prom := observability.NewFiberMetrics("courier-presence")
	app.Use(prom.Middleware)
	app.Use(middleware.StructuredLogger())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.AllowedOrigins}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	prom.RegisterAt(app, "/metrics")

	presence.NewHandlers(store).Register(app)

	// Flip records whose socket died without a clean offline
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	go store.RunSweeper(sweepCtx, cfg.PresenceStaleAfter)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down presence registry...")
		cancelSweep()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}()

	// Start server
	log.Printf("Presence registry starting on port %s...", cfg.Port)
	log.Fatal(app.Listen(":" + cfg.Port))
}
