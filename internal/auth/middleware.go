package auth

import (
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// JWTMiddleware validates bearer tokens and stores subject and role in locals.
// When roles are given, tokens carrying any other role get 403.
func JWTMiddleware(secret string, roles ...string) fiber.Handler {
	issuer := NewIssuer(secret)
	return func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get("Authorization"))
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		claims, err := issuer.Parse(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
			return fiber.NewError(fiber.StatusForbidden, "role not allowed")
		}

		c.Locals("subject", claims.Subject)
		c.Locals("role", claims.Role)
		return c.Next()
	}
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
