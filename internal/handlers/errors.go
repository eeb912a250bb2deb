package handlers

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/ahmetk3436/autoremedy/internal/agents"
	"github.com/ahmetk3436/autoremedy/internal/executor"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/ahmetk3436/autoremedy/internal/workflow"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, agents.ErrUnknownAgent), errors.Is(err, executor.ErrNoConnection):
		return fiber.StatusNotFound
	case errors.Is(err, store.ErrDuplicate), errors.Is(err, store.ErrConflict),
		errors.Is(err, workflow.ErrWorkflowClosed), errors.Is(err, agents.ErrNotRetryable),
		errors.Is(err, models.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, workflow.ErrInsufficientRole):
		return fiber.StatusForbidden
	case errors.Is(err, workflow.ErrInvalidDecision), errors.Is(err, executor.ErrInvalidConnection):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

// fail writes err as the standard error body. Server errors are logged and
// replaced with message; client errors are returned as-is.
func fail(c *fiber.Ctx, err error, message string) error {
	code := statusFor(err)
	if code == fiber.StatusInternalServerError {
		slog.Error(message, "path", c.Path(), "error", err)
	} else {
		message = err.Error()
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}

func paramID(c *fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Params("id"))
}

func queryLimit(c *fiber.Ctx, fallback, max int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n < 1 || n > max {
		return fallback
	}
	return n
}
