package middleware

import (
	"errors"
	"fmt"

	"github.com/anjiri1684/chat_core/models"
	"github.com/gofiber/fiber/v2"
	jwtware "github.com/gofiber/jwt/v3"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const identityKey = "identity"

var ErrInvalidToken = errors.New("invalid token")

func Protected(secret string) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey:     []byte(secret),
		ErrorHandler:   jwtError,
		SuccessHandler: resolveIdentity,
	})
}

func jwtError(c *fiber.Ctx, err error) error {
	if err.Error() == "Missing or malformed JWT" {
		return c.Status(fiber.StatusBadRequest).
			JSON(fiber.Map{"status": "error", "message": "Missing or malformed JWT", "data": nil})
	}
	return c.Status(fiber.StatusUnauthorized).
		JSON(fiber.Map{"status": "error", "message": "Invalid or expired JWT", "data": nil})
}

// resolveIdentity turns the verified token into an Identity once per request.
func resolveIdentity(c *fiber.Ctx) error {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return jwtError(c, ErrInvalidToken)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return jwtError(c, ErrInvalidToken)
	}
	id, err := identityFromClaims(claims)
	if err != nil {
		return jwtError(c, err)
	}
	c.Locals(identityKey, id)
	return c.Next()
}

// IdentityFrom returns the caller resolved by Protected.
func IdentityFrom(c *fiber.Ctx) (models.Identity, bool) {
	id, ok := c.Locals(identityKey).(models.Identity)
	return id, ok
}

// ParseToken verifies an HMAC-signed token outside the HTTP middleware, for
// the websocket auth frame.
func ParseToken(secret, tokenString string) (models.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return models.Identity{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return models.Identity{}, ErrInvalidToken
	}
	return identityFromClaims(claims)
}

func identityFromClaims(claims jwt.MapClaims) (models.Identity, error) {
	raw, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(raw)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: user_id claim", ErrInvalidToken)
	}
	role, _ := claims["role"].(string)
	return models.Identity{UserID: userID, Role: role}, nil
}
