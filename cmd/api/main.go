package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/anjiri1684/chat_core/configs"
	"github.com/anjiri1684/chat_core/database"
	"github.com/anjiri1684/chat_core/handlers"
	"github.com/anjiri1684/chat_core/jobs"
	"github.com/anjiri1684/chat_core/logger"
	"github.com/anjiri1684/chat_core/metrics"
	"github.com/anjiri1684/chat_core/notifications"
	"github.com/anjiri1684/chat_core/ratelimit"
	"github.com/anjiri1684/chat_core/routes"
	"github.com/anjiri1684/chat_core/services"
	"github.com/anjiri1684/chat_core/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.Init("info", false)
		boot.Fatal().Err(err).Msg("load configuration")
	}
	log := logger.Init(cfg.LogLevel, cfg.LogPretty)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		store database.Store
		gate  services.FriendshipGate
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		mem := database.NewMemoryStore()
		store, gate = mem, mem
		log.Warn().Msg("using the in-memory store; data is lost on restart")
	default:
		db, err := database.ConnectDB(cfg.DatabaseURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("connect database")
		}
		if err := database.Migrate(db); err != nil {
			log.Fatal().Err(err).Msg("migrate database")
		}
		store, gate = database.NewGormStore(db), services.NewFriendshipGate(db)
	}

	hub := websocket.NewHub(cfg.SendBuffer, m, log.With().Str("component", "hub").Logger())

	var publisher services.EventPublisher
	if cfg.KafkaBrokers != "" {
		kp := notifications.NewKafkaPublisher(notifications.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), log)
		defer kp.Close()
		publisher = kp
		log.Info().Str("topic", cfg.KafkaTopic).Msg("kafka publishing enabled")
	}

	var limiter ratelimit.Limiter = ratelimit.Noop{}
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := ratelimit.Connect(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer rdb.Close()
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.RateLimitMessages, cfg.RateLimitWindow)
	}

	svc := services.New(services.Deps{
		Store:             store,
		Gate:              gate,
		Hub:               hub,
		Publisher:         publisher,
		Metrics:           m,
		Log:               log.With().Str("component", "services").Logger(),
		HeartbeatInterval: cfg.HeartbeatInterval,
	})
	svc.Presence.OnExpire(hub.CloseSession)

	media, err := services.NewMediaSigner(cfg.CloudinaryURL, cfg.MediaFolder, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("init media signer")
	}

	c := cron.New()
	if _, err := jobs.SchedulePresenceSweep(c, svc.Presence, cfg.HeartbeatInterval, log); err != nil {
		log.Fatal().Err(err).Msg("schedule presence sweep")
	}
	c.Start()
	defer c.Stop()
	log.Info().Dur("interval", cfg.HeartbeatInterval).Msg("presence sweep scheduled")

	h := handlers.New(handlers.Options{
		Services:  svc,
		Hub:       hub,
		Media:     media,
		Limiter:   limiter,
		Metrics:   m,
		JWTSecret: cfg.JWTSecret,
		Log:       log.With().Str("component", "http").Logger(),
	})

	app := fiber.New(fiber.Config{
		AppName:       "Chat Core",
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		ErrorHandler:  h.ErrorHandler,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.CORSOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods:  "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders: "Content-Length, Authorization",
		MaxAge:        86400,
	}))
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		TimeFormat: "2006-01-02 15:04:05",
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	routes.PublicRoutes(app, reg)
	routes.MessagingRoutes(app, h, cfg.JWTSecret)
	routes.UploadRoutes(app, h, cfg.JWTSecret)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info().Msg("shutting down")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	log.Info().Str("port", cfg.Port).Msg("server is running")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}
