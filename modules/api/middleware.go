package api

import (
	"strings"

	"github.com/bestorange88/IM/modules/auth"
	"github.com/gofiber/fiber/v2"
)

// UserContextKey holds the caller's *auth.Identity in the Fiber context.
const UserContextKey = "user"

// AuthMiddleware rejects requests without a valid bearer JWT and stores the
// verified identity under UserContextKey.
func AuthMiddleware(authPort auth.AuthPort) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, problem := bearerToken(c.Get(fiber.HeaderAuthorization))
		if problem != "" {
			return unauthorized(c, problem)
		}

		identity, err := authPort.Authenticate(c.UserContext(), token)
		if err != nil {
			return unauthorized(c, "Invalid or expired token")
		}

		c.Locals(UserContextKey, identity)
		return c.Next()
	}
}

// bearerToken extracts the token of an Authorization header. problem is set
// when the header is unusable.
func bearerToken(header string) (token, problem string) {
	if header == "" {
		return "", "Authorization header is required"
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", "Invalid authorization header format. Use: Bearer <token>"
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", "Token is required"
	}
	return token, ""
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
		Error:   "unauthorized",
		Message: message,
	})
}

// currentUser returns the identity stored by AuthMiddleware.
func currentUser(c *fiber.Ctx) (*auth.Identity, bool) {
	identity, ok := c.Locals(UserContextKey).(*auth.Identity)
	return identity, ok && identity != nil
}

// userRateKey keys the REST rate limit by the authenticated user.
func userRateKey(c *fiber.Ctx) string {
	if identity, ok := currentUser(c); ok {
		return "user:" + identity.UserID
	}
	return ""
}
