package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/fairyhunter13/parking-session-engine/internal/model"
)

// DiscountProgramServiceInterface defines the interface for discount program lookups.
type DiscountProgramServiceInterface interface {
	ListDiscountPrograms(ctx context.Context, acct model.Account) ([]model.DiscountProgram, error)
}

// DiscountProgramHandler handles HTTP requests for discount programs (convenios).
type DiscountProgramHandler struct {
	service   DiscountProgramServiceInterface
	validator *validator.Validate
}

// NewDiscountProgramHandler creates a new DiscountProgramHandler with the given service and validator.
func NewDiscountProgramHandler(svc DiscountProgramServiceInterface, v *validator.Validate) *DiscountProgramHandler {
	return &DiscountProgramHandler{service: svc, validator: v}
}

func formatAccountValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		switch ve[0].Tag() {
		case "required":
			return "invalid request: user_id is required"
		case "notblank":
			return "invalid request: user_id cannot be whitespace only"
		case "max":
			return "invalid request: user_id exceeds maximum length of 255"
		}
		return "invalid request: user_id is invalid"
	}
	return "invalid request"
}

// ListDiscountPrograms handles GET /api/convenios requests.
func (h *DiscountProgramHandler) ListDiscountPrograms(c *fiber.Ctx) error {
	var q model.AccountQuery
	if err := c.QueryParser(&q); err != nil {
		return badRequest(c, "invalid query")
	}
	if err := h.validator.Struct(q); err != nil {
		return badRequest(c, formatAccountValidationError(err))
	}

	programs, err := h.service.ListDiscountPrograms(c.Context(), model.Account{UserID: q.UserID})
	if err != nil {
		return writeError(c, err, "failed to list discount programs")
	}
	return c.JSON(programs)
}
