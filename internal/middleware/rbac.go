package middleware

import (
	"github.com/gofiber/fiber/v2"

	"kerjabareng/internal/domain"
)

// RequireRole gates a route on the caller's marketplace role.
func RequireRole(role domain.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetCurrentUser(c)
		if user == nil {
			return Unauthorized("User not found")
		}

		if user.Role != role {
			return Forbidden("Insufficient permissions for this operation")
		}

		return c.Next()
	}
}

// RequireOnboarded blocks workflow actions until the profile is complete.
func RequireOnboarded() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetCurrentUser(c)
		if user == nil {
			return Unauthorized("User not found")
		}

		if !user.OnboardingComplete {
			return Forbidden("Complete onboarding before performing this action")
		}

		return c.Next()
	}
}
