package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"kerjabareng/internal/config"
	"kerjabareng/internal/domain"
	"kerjabareng/internal/handler"
	"kerjabareng/internal/logger"
	"kerjabareng/internal/middleware"
	"kerjabareng/internal/service"
	"kerjabareng/internal/store"
	"kerjabareng/internal/store/memory"
	"kerjabareng/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err == nil {
		fmt.Println("Loaded environment from .env")
	}

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	docStore, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to open document store", zap.Error(err))
	}
	defer docStore.Close()

	redisClient, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	minioClient, err := config.NewMinIOClient(cfg, log.Named("minio"))
	if err != nil {
		log.Warn("MinIO unavailable, image upload disabled", zap.Error(err))
	}

	services := service.NewServices(docStore, redisClient, minioClient, cfg, log)
	defer services.Close()

	handlers := handler.NewHandlers(services, cfg)

	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
	}))

	setupRoutes(app, handlers, cfg, services)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		sig := <-sigChan
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		_ = app.Shutdown()
	}()

	log.Info("server starting",
		zap.String("port", cfg.Port),
		zap.String("store_driver", cfg.StoreDriver),
	)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func openStore(cfg *config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory document store; data is not persisted")
		return memory.New(), nil
	case "postgres":
		return postgres.New(cfg.DatabaseURL, log.Named("store"))
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func setupRoutes(app *fiber.App, h *handler.Handlers, cfg *config.Config, services *service.Services) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/api/v1", middleware.AuthRequired(cfg.JWTSecret, services.Directory))

	users := v1.Group("/users")
	users.Post("/me", h.User.CreateProfile)
	users.Get("/me", h.User.GetProfile)
	users.Put("/me", h.User.UpdateProfile)
	users.Post("/me/avatar", h.User.UploadAvatar)
	users.Get("/:userId", h.User.GetUser)

	opportunities := v1.Group("/opportunities")
	opportunities.Get("/", h.Opportunity.List)
	opportunities.Post("/", middleware.RequireRole(domain.RoleHirer), middleware.RequireOnboarded(), h.Opportunity.Create)
	opportunities.Get("/:opportunityId", h.Opportunity.Get)
	opportunities.Post("/:opportunityId/apply", middleware.RequireRole(domain.RoleSeeker), middleware.RequireOnboarded(), h.Application.Apply)
	opportunities.Get("/:opportunityId/applications", h.Application.ListForOpportunity)
	opportunities.Post("/:opportunityId/complete", h.Opportunity.Complete)
	opportunities.Post("/:opportunityId/cancel", h.Opportunity.Cancel)

	applications := v1.Group("/applications")
	applications.Get("/mine", h.Application.ListMine)
	applications.Post("/:applicationId/accept", h.Application.Accept)
	applications.Post("/:applicationId/cancel", h.Application.Cancel)

	conversations := v1.Group("/conversations")
	conversations.Get("/", h.Conversation.List)
	conversations.Get("/:conversationId/messages", h.Conversation.Messages)
	conversations.Post("/:conversationId/messages", h.Conversation.Send)
	conversations.Post("/:conversationId/read", h.Conversation.MarkRead)

	if !cfg.IsProduction() {
		dev := v1.Group("/dev")
		dev.Delete("/collections/:collection", h.Dev.ClearCollection)
	}
}
