package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/config"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/database"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/handlers"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/middleware"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/migrations"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/models"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/realtime"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/routes"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/services"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/pkg/logger"
)

func main() {
	// 0. Load Config & Initialize Logger
	config.LoadConfig()

	env := os.Getenv("GO_ENV")
	if env == "" {
		env = "development"
	}
	logger.Init(env)

	logger.Info().Str("environment", env).Msg("Starting Connestro Backend...")

	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 1. Connect Database & Redis
	database.Connect()
	database.InitRedis()

	logger.Info().Msg("Running Database Migrations...")
	if err := database.DB.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.Message{},
		&models.Notification{},
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to migrate database")
	}
	if err := migrations.NewMigrator(database.DB).Run(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}
	logger.Info().Msg("Database Migrations Complete")

	// 2. Realtime core: presence + room tables are process-lifetime,
	// constructed here and injected everywhere they are needed
	presence := realtime.NewPresenceRegistry()
	rooms := realtime.NewRoomTable()

	emitter := &realtime.SocketEmitter{}
	notifier := services.NewNotifier(database.DB, emitter)

	delivery := services.NewDeliveryService(database.DB, presence, rooms, emitter, notifier)
	delivery.SweepLookback = time.Duration(config.AppConfig.SweepLookbackHours) * time.Hour
	delivery.SweepBatch = config.AppConfig.SweepBatchSize

	calls := services.NewCallService(database.DB, emitter, notifier, config.AppConfig.CallRingTimeout())

	socketServer := handlers.InitSocketServer(handlers.SocketDeps{
		Presence: presence,
		Rooms:    rooms,
		Delivery: delivery,
		Calls:    calls,
	})
	emitter.Server = socketServer
	handlers.Delivery = delivery

	// 3. Setup Router
	r := gin.New()

	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.ErrorHandlerMiddleware())
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware())

	// Exempt /socket.io from rate limiting
	r.Use(func(c *gin.Context) {
		if len(c.Request.URL.Path) >= 10 && c.Request.URL.Path[:10] == "/socket.io" {
			c.Next()
			return
		}
		middleware.GeneralRateLimit()(c)
	})

	// 4. Register Routes
	api := r.Group("/api")
	{
		routes.RegisterChatRoutes(api)
		routes.RegisterNotificationRoutes(api)
	}

	r.GET("/socket.io/*any", handlers.SocketHandler(socketServer))
	r.POST("/socket.io/*any", handlers.SocketHandler(socketServer))

	// Health check with DB and Redis status
	r.GET("/health", func(c *gin.Context) {
		dbStatus := "ok"
		redisStatus := "ok"

		sqlDB, err := database.DB.DB()
		if err != nil || sqlDB.Ping() != nil {
			dbStatus = "error"
		}

		if database.Redis != nil {
			if err := database.Redis.Ping(database.Ctx).Err(); err != nil {
				redisStatus = "error"
			}
		} else {
			redisStatus = "disabled"
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"db":     dbStatus,
			"redis":  redisStatus,
		})
	})

	// 5. Serve with graceful shutdown
	port := config.AppConfig.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		logger.Info().Str("port", port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	socketServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Forced shutdown")
	}
	logger.Info().Msg("Server exited")
}
