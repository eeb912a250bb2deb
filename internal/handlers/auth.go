package handlers

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/ahmetk3436/autoremedy/internal/config"
	"github.com/ahmetk3436/autoremedy/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler serves the single operator account configured through the
// environment. The account's role is carried in the token and decides which
// workflow steps the operator may sign off.
type AuthHandler struct {
	cfg          *config.Config
	mu           sync.RWMutex
	passwordHash []byte
}

func NewAuthHandler(cfg *config.Config) *AuthHandler {
	h := &AuthHandler{cfg: cfg}
	if cfg.AdminPassword == "" {
		slog.Warn("ADMIN_PASSWORD not set, login is disabled")
		return h
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("Failed to hash admin password", "error", err)
		return h
	}
	h.passwordHash = hash
	return h
}

func (h *AuthHandler) hash() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.passwordHash
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	hash := h.hash()
	if hash == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   true,
			"message": "Login is disabled",
		})
	}
	if req.Username != h.cfg.AdminUsername || bcrypt.CompareHashAndPassword(hash, []byte(req.Password)) != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid credentials",
		})
	}

	return h.issue(c, req.Username, h.cfg.AdminDisplayName, h.cfg.AdminRole)
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	claims := &middleware.Claims{}
	token, err := jwt.ParseWithClaims(req.RefreshToken, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(h.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.Kind != middleware.RefreshToken {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid or expired refresh token",
		})
	}

	return h.issue(c, claims.Username, claims.DisplayName, claims.Role)
}

func (h *AuthHandler) issue(c *fiber.Ctx, username, displayName, role string) error {
	access, refresh, err := middleware.GenerateTokens(username, h.cfg.JWTSecret, displayName, role)
	if err != nil {
		slog.Error("Failed to generate tokens", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to generate tokens",
		})
	}
	return c.JSON(fiber.Map{
		"access_token":  access,
		"refresh_token": refresh,
		"user": fiber.Map{
			"username":        username,
			"display_name":    displayName,
			"role":            role,
			"avatar_initials": buildInitials(displayName),
		},
	})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	username, displayName, role := actor(c)
	return c.JSON(fiber.Map{
		"username":        username,
		"display_name":    displayName,
		"role":            role,
		"avatar_initials": buildInitials(displayName),
	})
}

func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	if len(req.NewPassword) < 8 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "New password must be at least 8 characters",
		})
	}
	if bcrypt.CompareHashAndPassword(h.hash(), []byte(req.OldPassword)) != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   true,
			"message": "Current password is incorrect",
		})
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("Failed to hash new password", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to update password",
		})
	}
	h.mu.Lock()
	h.passwordHash = newHash
	h.mu.Unlock()
	slog.Info("Admin password changed")

	return c.JSON(fiber.Map{"message": "Password changed"})
}

// actor returns the authenticated operator's username, display name and role.
func actor(c *fiber.Ctx) (string, string, string) {
	username, _ := c.Locals("username").(string)
	displayName, _ := c.Locals("display_name").(string)
	role, _ := c.Locals("role").(string)
	return username, displayName, role
}

// buildInitials extracts up to two uppercase initials, "Night Shift" -> "NS".
func buildInitials(name string) string {
	initials := ""
	for _, p := range strings.Fields(name) {
		initials += strings.ToUpper(p[:1])
		if len(initials) == 2 {
			break
		}
	}
	if initials == "" {
		return "?"
	}
	return initials
}
