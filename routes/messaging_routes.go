package routes

import (
	"github.com/anjiri1684/chat_core/handlers"
	"github.com/anjiri1684/chat_core/middleware"
	"github.com/gofiber/fiber/v2"
)

func MessagingRoutes(app *fiber.App, h *handlers.Handler, jwtSecret string) {
	api := app.Group("/api/v1")
	protected := middleware.Protected(jwtSecret)

	conversations := api.Group("/conversations", protected)
	conversations.Get("", h.ListConversations)
	conversations.Get("/search", h.SearchConversations)
	conversations.Post("/direct", h.StartDirectMessage)
	conversations.Post("/group", h.CreateGroup)
	conversations.Get("/:id", h.GetConversation)
	conversations.Patch("/:id", h.UpdateGroup)
	conversations.Post("/:id/participants", h.AddParticipant)
	conversations.Delete("/:id/participants/:userId", h.KickParticipant)
	conversations.Patch("/:id/participants/:userId", h.ChangeRole)
	conversations.Post("/:id/leave", h.LeaveConversation)
	conversations.Post("/:id/read", h.MarkRead)
	conversations.Get("/:id/unread-count", h.UnreadCount)
	conversations.Get("/:id/messages", h.ListMessages)
	conversations.Post("/:id/messages", h.SendMessage)
	conversations.Delete("/:id/messages", h.ClearConversation)

	messages := api.Group("/messages", protected)
	messages.Patch("/:id", h.EditMessage)
	messages.Delete("/:id", h.DeleteMessage)
	messages.Post("/:id/reactions", h.ToggleReaction)

	api.Get("/unread-count", protected, h.TotalUnreadCount)
	api.Get("/presence", protected, h.Presence)

	api.Use("/ws", handlers.RequireUpgrade)
	api.Get("/ws", h.ServeWs())
}
