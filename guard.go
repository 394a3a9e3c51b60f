package brix

import (
	"github.com/gofiber/fiber/v2"
)

const (
	// ProfileLocalsKey is where RequireAuth stores the caller's profile.
	ProfileLocalsKey = "brix:profile"
	// SessionLocalsKey is where RequireAuth stores the caller's session.
	SessionLocalsKey = "brix:session"
)

// RequireAuth rejects requests until the engine is fully Authenticated:
// session established and profile loaded. While the profile is still
// resolving it answers 503 with Retry-After rather than 401, because the
// caller may well be logged in and merely racing the backend trigger.
func RequireAuth(engine *Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		state := engine.State()

		switch state.Mode() {
		case ModeAuthenticated:
			c.Locals(ProfileLocalsKey, state.Profile)
			c.Locals(SessionLocalsKey, state.Session)
			ctx := WithProfileContext(c.UserContext(), state.Profile)
			c.SetUserContext(WithSessionContext(ctx, state.Session))
			return c.Next()
		case ModeResolving:
			c.Set(fiber.HeaderRetryAfter, "1")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "profile still loading, retry shortly",
			})
		case ModeProfileMissing:
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": state.Err,
			})
		default:
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "authentication required",
			})
		}
	}
}

// RequireRole builds on RequireAuth semantics and additionally checks the
// loaded profile's role.
func RequireRole(engine *Engine, role UserRole) fiber.Handler {
	guard := RequireAuth(engine)

	return func(c *fiber.Ctx) error {
		state := engine.State()
		if state.Mode() == ModeAuthenticated && !state.Profile.HasRole(role) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "insufficient role",
			})
		}
		return guard(c)
	}
}

// RequireAdmin is RequireRole for the admin role.
func RequireAdmin(engine *Engine) fiber.Handler {
	return RequireRole(engine, RoleAdmin)
}

// ProfileFromCtx retrieves the profile RequireAuth stored on the request.
func ProfileFromCtx(c *fiber.Ctx) (*Profile, bool) {
	profile, ok := c.Locals(ProfileLocalsKey).(*Profile)
	return profile, ok && profile != nil
}
