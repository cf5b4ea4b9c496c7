package handlers

import (
	"time"

	"github.com/anjiri1684/chat_core/metrics"
	"github.com/anjiri1684/chat_core/middleware"
	"github.com/anjiri1684/chat_core/models"
	"github.com/anjiri1684/chat_core/ratelimit"
	"github.com/anjiri1684/chat_core/services"
	"github.com/anjiri1684/chat_core/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Options struct {
	Services    *services.Services
	Hub         *websocket.Hub
	Media       *services.MediaSigner
	Limiter     ratelimit.Limiter
	Metrics     *metrics.Metrics
	JWTSecret   string
	AuthTimeout time.Duration
	Log         zerolog.Logger
}

// Handler serves the REST surface and the websocket endpoint.
type Handler struct {
	svc         *services.Services
	hub         *websocket.Hub
	media       *services.MediaSigner
	limiter     ratelimit.Limiter
	metrics     *metrics.Metrics
	jwtSecret   string
	authTimeout time.Duration
	log         zerolog.Logger
}

func New(o Options) *Handler {
	if o.Limiter == nil {
		o.Limiter = ratelimit.Noop{}
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 10 * time.Second
	}
	return &Handler{
		svc:         o.Services,
		hub:         o.Hub,
		media:       o.Media,
		limiter:     o.Limiter,
		metrics:     o.Metrics,
		jwtSecret:   o.JWTSecret,
		authTimeout: o.AuthTimeout,
		log:         o.Log,
	}
}

func identity(c *fiber.Ctx) (models.Identity, error) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return models.Identity{}, fiber.ErrUnauthorized
	}
	return id, nil
}

func uuidParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}
