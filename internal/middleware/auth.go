// Package middleware provides authentication, logging and tracing middleware for the API.
package middleware

import (
	"strings"

	"lfgkeeper/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// AuthRequired validates the bearer JWT and stores the actor id (sub) and moderator flag in locals.
func AuthRequired(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authorization header required",
		})
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid authorization header format",
		})
	}

	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired token",
		})
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid token claims",
		})
	}

	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid token structure - missing subject",
		})
	}

	c.Locals("actorID", sub)
	c.Locals("isModerator", hasModeratorRole(claims))
	c.SetUserContext(WithActor(c.UserContext(), sub))

	return c.Next()
}

func hasModeratorRole(claims jwt.MapClaims) bool {
	roles, ok := claims["roles"].([]interface{})
	if !ok {
		return false
	}
	for _, r := range roles {
		if s, ok := r.(string); ok && (s == "moderator" || s == "admin") {
			return true
		}
	}
	return false
}

// ModeratorRequired rejects callers whose token lacks a moderator role. Must run after AuthRequired.
func ModeratorRequired(c *fiber.Ctx) error {
	if isMod, _ := c.Locals("isModerator").(bool); !isMod {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Moderator role required",
		})
	}
	return c.Next()
}

// ActorID returns the authenticated actor id, or "" when unauthenticated.
func ActorID(c *fiber.Ctx) string {
	id, _ := c.Locals("actorID").(string)
	return id
}

// IsModerator reports whether the authenticated actor holds a moderator role.
func IsModerator(c *fiber.Ctx) bool {
	isMod, _ := c.Locals("isModerator").(bool)
	return isMod
}
