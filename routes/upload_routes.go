package routes

import (
	"github.com/anjiri1684/chat_core/handlers"
	"github.com/anjiri1684/chat_core/middleware"
	"github.com/gofiber/fiber/v2"
)

func UploadRoutes(app *fiber.App, h *handlers.Handler, jwtSecret string) {
	uploads := app.Group("/api/v1/uploads", middleware.Protected(jwtSecret))
	uploads.Get("/signature", h.UploadSignature)
}
