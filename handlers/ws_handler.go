package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anjiri1684/chat_core/middleware"
	"github.com/anjiri1684/chat_core/models"
	"github.com/anjiri1684/chat_core/services"
	"github.com/anjiri1684/chat_core/websocket"
	websocketcontrib "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

var errUnknownTarget = errors.New("unknown invocation target")

type conversationArgs struct {
	ConversationID string `json:"conversation_id" validate:"required,uuid"`
}

type sendMessageArgs struct {
	ConversationID   string  `json:"conversation_id" validate:"required,uuid"`
	Content          *string `json:"content"`
	MediaURL         *string `json:"media_url" validate:"omitempty,url"`
	MediaType        *string `json:"media_type"`
	ReplyToMessageID *string `json:"reply_to_message_id" validate:"omitempty,uuid"`
}

type messageArgs struct {
	MessageID string `json:"message_id" validate:"required,uuid"`
}

type reactionArgs struct {
	MessageID string `json:"message_id" validate:"required,uuid"`
	Emoji     string `json:"emoji" validate:"required,max=64"`
}

// RequireUpgrade rejects plain HTTP requests on the websocket route.
func RequireUpgrade(c *fiber.Ctx) error {
	if !websocketcontrib.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// ServeWs returns the websocket endpoint handler.
func (h *Handler) ServeWs() fiber.Handler {
	return websocketcontrib.New(h.serveConn)
}

func (h *Handler) serveConn(c *websocketcontrib.Conn) {
	_ = c.SetReadDeadline(time.Now().Add(h.authTimeout))
	var auth websocket.AuthFrame
	if err := c.ReadJSON(&auth); err != nil || auth.Type != websocket.FrameAuth {
		h.log.Debug().Err(err).Msg("websocket auth: missing auth frame")
		_ = c.WriteJSON(fiber.Map{"type": "AuthFailed", "error": "Invalid or missing auth message"})
		_ = c.Close()
		return
	}
	id, err := middleware.ParseToken(h.jwtSecret, auth.Token)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket auth: invalid token")
		_ = c.WriteJSON(fiber.Map{"type": "AuthFailed", "error": "Invalid token"})
		_ = c.Close()
		return
	}
	_ = c.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := h.hub.Register(c, id)
	h.svc.Presence.Connect(ctx, id.UserID, s.ID)
	h.hub.SendFrame(s, fiber.Map{"type": "Authenticated", "data": fiber.Map{"user_id": id.UserID, "session_id": s.ID}})
	defer func() {
		h.hub.Unregister(s)
		h.svc.Presence.Disconnect(ctx, id.UserID, s.ID)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocketcontrib.IsUnexpectedCloseError(err, websocketcontrib.CloseGoingAway, websocketcontrib.CloseNormalClosure) {
				s.Log().Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		var inv websocket.Invocation
		if err := json.Unmarshal(data, &inv); err != nil || inv.Type != websocket.FrameInvoke {
			h.hub.SendEvent(s, models.MessageError{Code: "BAD_FRAME", Message: "expected an invoke frame"})
			continue
		}
		h.Invoke(ctx, s, inv)
	}
}

// Invoke runs one invocation for the session and answers with a Completion
// when the invocation carries an id.
func (h *Handler) Invoke(ctx context.Context, s *websocket.Session, inv websocket.Invocation) {
	result, err := h.dispatch(ctx, s, inv)
	if err != nil && inv.Target == websocket.TargetSendMessage {
		h.hub.SendEvent(s, models.MessageError{Code: errorCode(err), Message: errorMessage(err)})
	}
	if err != nil && errorCode(err) == "INTERNAL" {
		s.Log().Error().Err(err).Str("target", inv.Target).Msg("invocation failed")
	}
	if inv.InvocationID == "" {
		return
	}
	done := websocket.Completion{Type: websocket.FrameCompletion, InvocationID: inv.InvocationID}
	if err != nil {
		done.Error = &websocket.CompletionError{Code: errorCode(err), Message: errorMessage(err)}
	} else {
		done.Result = result
	}
	h.hub.SendFrame(s, done)
}

func errorCode(err error) string {
	if kind := services.KindOf(err); kind != "" {
		return string(kind)
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return "BAD_REQUEST"
	}
	if errors.Is(err, errUnknownTarget) {
		return "UNKNOWN_TARGET"
	}
	return "INTERNAL"
}

func errorMessage(err error) string {
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		return svcErr.Reason
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	if errors.Is(err, errUnknownTarget) {
		return err.Error()
	}
	return "internal error"
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed arguments")
	}
	if err := validate.Struct(v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func (h *Handler) allow(ctx context.Context, key string) error {
	ok, err := h.limiter.Allow(ctx, key)
	if err != nil {
		// fail open
		h.log.Warn().Err(err).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		h.metrics.RateLimited()
		return services.ErrRateLimited
	}
	return nil
}

func (h *Handler) dispatch(ctx context.Context, s *websocket.Session, inv websocket.Invocation) (any, error) {
	me := s.Identity.UserID
	switch inv.Target {
	case websocket.TargetJoinConversation:
		var args conversationArgs
		if err := decodeArgs(inv.Arguments, &args); err != nil {
			return nil, err
		}
		convID := uuid.MustParse(args.ConversationID)
		if err := h.svc.Conversations.RequireMember(ctx, me, convID); err != nil {
			return nil, err
		}
		h.hub.Join(s, convID)
		return nil, nil

	case websocket.TargetLeaveConversation:
		var args conversationArgs
		if err := decodeArgs(inv.Arguments, &args); err != nil {
			return nil, err
		}
		h.hub.Leave(s, uuid.MustParse(args.ConversationID))
		return nil, nil

	case websocket.TargetSendMessage:
		var args sendMessageArgs
		if err := decodeArgs(inv.Arguments, &args); err != nil {
			return nil, err
		}
		if err := h.allow(ctx, "send:"+me.String()); err != nil {
			return nil, err
		}
		in := services.SendInput{Content: args.Content, MediaURL: args.MediaURL, MediaType: args.MediaType}
		if args.ReplyToMessageID != nil {
			id := uuid.MustParse(*args.ReplyToMessageID)
			in.ReplyToMessageID = &id
		}
		return h.svc.Messages.Send(ctx, me, uuid.MustParse(args.ConversationID), in)

	case websocket.TargetMarkMessageAsRead:
		var args messageArgs
		if err := decodeArgs(inv.Arguments, &args); err != nil {
			return nil, err
		}
		return h.svc.ReadState.MarkMessageRead(ctx, me, uuid.MustParse(args.MessageID))

	case websocket.TargetToggleReaction:
		var args reactionArgs
		if err := decodeArgs(inv.Arguments, &args); err != nil {
			return nil, err
		}
		return h.svc.Messages.ToggleReaction(ctx, me, uuid.MustParse(args.MessageID), args.Emoji)

	case websocket.TargetSendTyping, websocket.TargetStopTyping:
		var args conversationArgs
		if err := decodeArgs(inv.Arguments, &args); err != nil {
			return nil, err
		}
		convID := uuid.MustParse(args.ConversationID)
		stopped := inv.Target == websocket.TargetStopTyping
		if !stopped {
			if err := h.allow(ctx, "typing:"+me.String()); err != nil {
				return nil, err
			}
		}
		if err := h.svc.Conversations.RequireMember(ctx, me, convID); err != nil {
			return nil, err
		}
		h.hub.BroadcastExcept(convID, me, models.TypingIndicator{
			ConversationID: convID,
			UserID:         me,
			Stopped:        stopped,
			At:             time.Now().UTC(),
		})
		return nil, nil

	case websocket.TargetUpdateActivity:
		h.svc.Presence.Heartbeat(ctx, me, s.ID)
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownTarget, inv.Target)
}
