// Package server contains HTTP and WebSocket handlers for the chat node.
package server

import (
	"context"
	"fmt"

	"courier/internal/broker"
	"courier/internal/cache"
	"courier/internal/config"
	"courier/internal/database"
	"courier/internal/fanout"
	"courier/internal/history"
	"courier/internal/middleware"
	"courier/internal/persist"
	"courier/internal/presence"
	"courier/internal/push"
	"courier/internal/repository"
	"courier/internal/sockets"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Prometheus collectors register globally; one middleware instance serves
// every Server in the process.
var promMiddleware = fiberprometheus.New("courier-node")

// Server holds the chat node's dependencies and provides its handlers.
type Server struct {
	config           *config.Config
	db               *gorm.DB
	redis            *redis.Client
	promMiddleware   *fiberprometheus.FiberPrometheus
	chatRepo         repository.ChatRepository
	window           *cache.HotWindow
	table            *sockets.Table
	deliverer        *sockets.Deliverer
	presence         *presence.Client
	chatPublisher    *broker.Publisher
	persistPublisher *broker.Publisher
	enqueuer         *persist.Enqueuer
	distributor      *fanout.Distributor
	reader           *history.Reader
}

// NewServer creates a chat node server, connecting to its stores and broker.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	redisClient := cache.NewClient(cfg.RedisAddr())
	if redisClient == nil {
		return nil, fmt.Errorf("redis connection failed: %s", cfg.RedisAddr())
	}

	return NewServerWithDeps(cfg, db, redisClient), nil
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Used by tests and any bootstrap layer that establishes DB/Redis itself.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) *Server {
	chatRepo := repository.NewChatRepository(db)
	window := cache.NewHotWindow(redisClient)
	table := sockets.NewTable()

	chatPublisher := broker.NewPublisher(cfg.RabbitURL(), cfg.ExchangeName)
	persistPublisher := broker.NewPublisher(cfg.RabbitURL(), persist.Exchange)
	presenceClient := presence.NewClient(cfg.PresenceServiceURL, cfg.NodeID)

	var pushDispatcher fanout.PushNotifier
	if cfg.PushServiceURL != "" {
		pushDispatcher = push.NewHTTPDispatcher(cfg.PushServiceURL)
	} else {
		pushDispatcher = push.LogDispatcher{}
	}

	return &Server{
		config:           cfg,
		db:               db,
		redis:            redisClient,
		promMiddleware:   promMiddleware,
		chatRepo:         chatRepo,
		window:           window,
		table:            table,
		deliverer:        sockets.NewDeliverer(table),
		presence:         presenceClient,
		chatPublisher:    chatPublisher,
		persistPublisher: persistPublisher,
		enqueuer:         persist.NewEnqueuer(persistPublisher),
		distributor: fanout.NewDistributor(
			&memberLister{repo: chatRepo},
			presenceClient,
			chatPublisher,
			pushDispatcher,
		),
		reader: history.NewReader(window, chatRepo),
	}
}

// RunConsumer consumes this node's queue, delivering envelopes to local
// sockets, until the context is cancelled.
func (s *Server) RunConsumer(ctx context.Context) {
	consumer := &broker.Consumer{
		URL:        s.config.RabbitURL(),
		Exchange:   s.config.ExchangeName,
		Queue:      s.config.NodeID + "-queue",
		RoutingKey: s.config.NodeID,
		Component:  "node-consumer",
		Handler:    s.deliverer.HandleDelivery,
	}
	consumer.Run(ctx)
}

// SetupMiddleware configures middleware for the Fiber app.
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context middleware to propagate request and socket identity into logs
	app.Use(middleware.ContextMiddleware())

	// Prometheus metrics
	app.Use(s.promMiddleware.Middleware)

	// Structured logging (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
	}))
}

// SetupRoutes configures all routes for the chat node.
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/", s.HealthCheck)

	s.promMiddleware.RegisterAt(app, "/metrics")

	conversations := app.Group("/conversations")
	conversations.Post("/", s.CreateConversation)
	conversations.Get("/:id/messages", s.GetMessages)
	conversations.Post("/:id/members", s.UpdateMembers)
	conversations.Get("/:id", s.GetConversation)

	app.Get("/sync", s.Sync)

	s.setupWebSocket(app)
}

// HealthCheck reports node liveness.
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"node_id": s.config.NodeID,
	})
}

// Shutdown closes every attached socket and the broker publishers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.table.CloseAll()
	s.chatPublisher.Close()
	s.persistPublisher.Close()
	return nil
}
