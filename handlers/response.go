package handlers

import (
	"errors"
	"strconv"

	"github.com/anjiri1684/chat_core/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

var statusByKind = map[services.ErrorKind]int{
	services.KindNotAuthorized:            fiber.StatusForbidden,
	services.KindNotAMember:               fiber.StatusForbidden,
	services.KindNotFriends:               fiber.StatusForbidden,
	services.KindConversationNotFound:     fiber.StatusNotFound,
	services.KindParticipantNotFound:      fiber.StatusNotFound,
	services.KindMessageNotFound:          fiber.StatusNotFound,
	services.KindAlreadyMember:            fiber.StatusConflict,
	services.KindSelfConversation:         fiber.StatusUnprocessableEntity,
	services.KindInvalidConversationType:  fiber.StatusUnprocessableEntity,
	services.KindCannotLeaveDirectMessage: fiber.StatusUnprocessableEntity,
	services.KindCannotKickSelf:           fiber.StatusUnprocessableEntity,
	services.KindUnknownParticipant:       fiber.StatusUnprocessableEntity,
	services.KindInvalidTitle:             fiber.StatusUnprocessableEntity,
	services.KindInsufficientParticipants: fiber.StatusUnprocessableEntity,
	services.KindEmptyMessage:             fiber.StatusUnprocessableEntity,
	services.KindInvalidRole:              fiber.StatusUnprocessableEntity,
	services.KindInvalidReaction:          fiber.StatusUnprocessableEntity,
	services.KindRateLimited:              fiber.StatusTooManyRequests,
}

// StatusFor maps a service error kind to an HTTP status.
func StatusFor(kind services.ErrorKind) int {
	if code, ok := statusByKind[kind]; ok {
		return code
	}
	return fiber.StatusInternalServerError
}

// ErrorHandler is the app-wide fiber error handler. Service errors keep their
// kind as the code; anything unexpected is logged and reported as 500.
func (h *Handler) ErrorHandler(c *fiber.Ctx, err error) error {
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		return c.Status(StatusFor(svcErr.Kind)).JSON(fiber.Map{
			"status":  "error",
			"code":    svcErr.Kind,
			"message": svcErr.Reason,
		})
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"status":  "error",
			"code":    fe.Code,
			"message": fe.Message,
		})
	}
	if errors.Is(err, services.ErrMediaDisabled) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":  "error",
			"code":    fiber.StatusServiceUnavailable,
			"message": err.Error(),
		})
	}

	h.log.Error().Err(err).Str("path", c.Path()).Str("method", c.Method()).Msg("request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"status":  "error",
		"code":    fiber.StatusInternalServerError,
		"message": "internal server error",
	})
}

// parseBody decodes and validates the JSON body into v.
func parseBody(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Cannot parse JSON")
	}
	if err := validate.Struct(v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func paging(c *fiber.Ctx) (int, int) {
	skip, _ := strconv.Atoi(c.Query("skip", "0"))
	take, _ := strconv.Atoi(c.Query("take", "20"))
	return skip, take
}
