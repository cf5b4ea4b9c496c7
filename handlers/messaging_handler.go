package handlers

import (
	"strings"

	"github.com/anjiri1684/chat_core/models"
	"github.com/anjiri1684/chat_core/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type startDirectRequest struct {
	RecipientID string `json:"recipient_id" validate:"required,uuid"`
}

type createGroupRequest struct {
	Title          string   `json:"title" validate:"required"`
	Description    *string  `json:"description"`
	ImageURL       *string  `json:"image_url" validate:"omitempty,url"`
	ParticipantIDs []string `json:"participant_ids" validate:"required,min=1,dive,uuid"`
}

type updateGroupRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	ImageURL    *string `json:"image_url" validate:"omitempty,url"`
}

type addParticipantRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin member"`
}

type sendMessageRequest struct {
	Content          *string `json:"content"`
	MediaURL         *string `json:"media_url" validate:"omitempty,url"`
	MediaType        *string `json:"media_type"`
	ReplyToMessageID *string `json:"reply_to_message_id" validate:"omitempty,uuid"`
}

type editMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

type reactionRequest struct {
	Emoji string `json:"emoji" validate:"required,max=64"`
}

func parseIDs(raw []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		if id, err := uuid.Parse(strings.TrimSpace(s)); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func (h *Handler) ListConversations(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	skip, take := paging(c)
	list, err := h.svc.Conversations.ListForUser(c.UserContext(), me.UserID, skip, take)
	if err != nil {
		return err
	}
	return c.JSON(list)
}

func (h *Handler) SearchConversations(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	skip, take := paging(c)
	list, err := h.svc.Conversations.Search(c.UserContext(), me.UserID, c.Query("q"), skip, take)
	if err != nil {
		return err
	}
	return c.JSON(list)
}

func (h *Handler) GetConversation(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	convID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	skip, take := paging(c)
	detail, err := h.svc.Conversations.Get(c.UserContext(), me.UserID, convID, skip, take)
	if err != nil {
		return err
	}
	return c.JSON(detail)
}

func (h *Handler) StartDirectMessage(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	var req startDirectRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	conv, err := h.svc.Conversations.StartDirectMessage(c.UserContext(), me.UserID, uuid.MustParse(req.RecipientID))
	if err != nil {
		return err
	}
	return c.JSON(conv)
}

func (h *Handler) CreateGroup(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	var req createGroupRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	conv, err := h.svc.Conversations.CreateGroup(c.UserContext(), me.UserID, services.NewGroup{
		Title:          req.Title,
		Description:    req.Description,
		ImageURL:       req.ImageURL,
		ParticipantIDs: parseIDs(req.ParticipantIDs),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

func (h *Handler) UpdateGroup(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	convID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req updateGroupRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	conv, err := h.svc.Conversations.UpdateGroup(c.UserContext(), me.UserID, convID, services.GroupUpdate{
		Title:       req.Title,
		Description: req.Description,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		return err
	}
	return c.JSON(conv)
}

func (h *Handler) AddParticipant(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	convID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req addParticipantRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	p, err := h.svc.Conversations.AddParticipant(c.UserContext(), me.UserID, convID, uuid.MustParse(req.UserID))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *Handler) KickParticipant(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	convID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	userID, err := uuidParam(c, "userId")
	if err != nil {
		return err
	}
	if err := h.svc.Conversations.Kick(c.UserContext(), me.UserID, convID, userID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) ChangeRole(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	convID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	userID, err := uuidParam(c, "userId")
	if err != nil {
		return err
	}
	var req changeRoleRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	p, err := h.svc.Conversations.ChangeRole(c.UserContext(), me.UserID, convID, userID, models.ParticipantRole(req.Role))
	if err != nil {
		return err
	}
	return c.JSON(p)
}

func (h *Handler) LeaveConversation(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	convID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Conversations.Leave(c.UserContext(), me.UserID, convID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) MarkRead(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	convID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	receipt, err := h.svc.ReadState.MarkRead(c.UserContext(), me.UserID, convID)
	if err != nil {
		return err
	}
	return c.JSON(receipt)
}

func (h *Handler) UnreadCount(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	convID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	n, err := h.svc.ReadState.UnreadCount(c.UserContext(), me.UserID, convID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"conversation_id": convID, "unread_count": n})
}

func (h *Handler) TotalUnreadCount(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	n, err := h.svc.ReadState.TotalUnreadCount(c.UserContext(), me.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"unread_count": n})
}

func (h *Handler) ListMessages(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	convID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	skip, take := paging(c)
	views, err := h.svc.Messages.History(c.UserContext(), me.UserID, convID, skip, take)
	if err != nil {
		return err
	}
	return c.JSON(views)
}

func (h *Handler) SendMessage(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	convID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req sendMessageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := h.allow(c.UserContext(), "send:"+me.UserID.String()); err != nil {
		return err
	}
	in := services.SendInput{Content: req.Content, MediaURL: req.MediaURL, MediaType: req.MediaType}
	if req.ReplyToMessageID != nil {
		id := uuid.MustParse(*req.ReplyToMessageID)
		in.ReplyToMessageID = &id
	}
	view, err := h.svc.Messages.Send(c.UserContext(), me.UserID, convID, in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

func (h *Handler) ClearConversation(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	convID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	ev, err := h.svc.Messages.ClearConversation(c.UserContext(), me.UserID, convID)
	if err != nil {
		return err
	}
	return c.JSON(ev)
}

func (h *Handler) EditMessage(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	msgID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req editMessageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	view, err := h.svc.Messages.Edit(c.UserContext(), me.UserID, msgID, req.Content)
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (h *Handler) DeleteMessage(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	msgID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Messages.Delete(c.UserContext(), me.UserID, msgID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) ToggleReaction(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	msgID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req reactionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	update, err := h.svc.Messages.ToggleReaction(c.UserContext(), me.UserID, msgID, req.Emoji)
	if err != nil {
		return err
	}
	return c.JSON(update)
}

// Presence answers GET /presence?user_ids=a,b,c. Users who share no active
// conversation with the caller are left out.
func (h *Handler) Presence(c *fiber.Ctx) error {
	me, err := identity(c)
	if err != nil {
		return err
	}
	raw := strings.Split(c.Query("user_ids"), ",")
	ids := parseIDs(raw)
	if len(ids) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "user_ids is required")
	}
	snapshot, err := h.svc.Presence.SnapshotFor(c.UserContext(), me.UserID, ids)
	if err != nil {
		return err
	}
	out := make([]models.PresenceChange, 0, len(snapshot))
	for _, id := range ids {
		if online, ok := snapshot[id]; ok {
			out = append(out, models.PresenceChange{UserID: id, IsOnline: online})
		}
	}
	return c.JSON(out)
}
