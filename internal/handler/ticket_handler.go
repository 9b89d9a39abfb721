package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/parking-session-engine/internal/model"
	"github.com/fairyhunter13/parking-session-engine/internal/service"
)

// TicketServiceInterface defines the interface for ticket ledger operations.
type TicketServiceInterface interface {
	OpenSession(ctx context.Context, acct model.Account, plate string, ratePerMinute decimal.Decimal) (*model.Ticket, error)
	LookupOpenSession(ctx context.Context, acct model.Account, plate string) (*model.Ticket, error)
	GetFeePreview(ctx context.Context, acct model.Account, ticketID, discountProgramID string) (*model.Settlement, error)
	CloseSession(ctx context.Context, acct model.Account, ticketID string, req service.CloseRequest) (*model.Settlement, error)
}

// TicketHandler handles HTTP requests for ticket operations.
type TicketHandler struct {
	service   TicketServiceInterface
	validator *validator.Validate
}

// NewTicketHandler creates a new TicketHandler with the given service and validator.
func NewTicketHandler(svc TicketServiceInterface, v *validator.Validate) *TicketHandler {
	return &TicketHandler{service: svc, validator: v}
}

// formatTicketValidationError converts validator errors to client-facing messages.
func formatTicketValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			field := fe.Field()
			tag := fe.Tag()

			switch field {
			case "Plate":
				if tag == "required" {
					return "invalid request: placa is required"
				}
				return "invalid request: placa must have at least 6 letters or digits"
			case "UserID":
				if tag == "required" {
					return "invalid request: user_id is required"
				}
				if tag == "notblank" {
					return "invalid request: user_id cannot be whitespace only"
				}
				if tag == "max" {
					return "invalid request: user_id exceeds maximum length of 255"
				}
				return "invalid request: user_id is invalid"
			case "RatePerMinute":
				return "invalid request: tarifa_por_minuto must be a non-negative amount below 1000000 with at most 4 decimal places"
			case "PaymentMethod":
				if tag == "required" {
					return "invalid request: forma_pagamento is required"
				}
				if tag == "oneof" {
					return "invalid request: forma_pagamento must be one of pix, dinheiro, credito, debito"
				}
				return "invalid request: forma_pagamento is invalid"
			case "DiscountProgramID":
				return "invalid request: convenio_id exceeds maximum length of 255"
			default:
				if tag == "required" {
					return "invalid request: " + field + " is required"
				}
				if tag == "max" {
					return "invalid request: " + field + " exceeds maximum length"
				}
				return "invalid request: " + field + " is invalid"
			}
		}
	}
	return "invalid request"
}

// errorStatus maps a ledger error code to its HTTP status.
func errorStatus(code string) int {
	switch code {
	case service.CodeInvalidPlate, service.CodeInvalidInterval, service.CodeInvalidRequest:
		return fiber.StatusBadRequest
	case service.CodeSessionNotFound, service.CodeDiscountProgramNotFound:
		return fiber.StatusNotFound
	case service.CodeSessionAlreadyOpen, service.CodeSessionAlreadyClosed:
		return fiber.StatusConflict
	case service.CodeLedgerUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

var errorMessages = map[string]string{
	service.CodeInvalidPlate:            "invalid plate",
	service.CodeInvalidInterval:         "exit before entry",
	service.CodeInvalidRequest:          "invalid request",
	service.CodeSessionNotFound:         "no open ticket for this plate",
	service.CodeDiscountProgramNotFound: "discount program not found",
	service.CodeSessionAlreadyOpen:      "plate already has an open ticket",
	service.CodeSessionAlreadyClosed:    "ticket already closed",
	service.CodeLedgerUnavailable:       "ledger unavailable",
	service.CodeInternal:                "internal server error",
}

// writeError renders a service error as {"error", "code"} and logs the ones
// that are not expected outcomes.
func writeError(c *fiber.Ctx, err error, msg string) error {
	code := service.ErrorCode(err)
	status := errorStatus(code)
	if status >= fiber.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", c.GetRespHeader("X-Request-ID")).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg(msg)
	}
	return c.Status(status).JSON(fiber.Map{"error": errorMessages[code], "code": code})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg, "code": service.CodeInvalidRequest})
}

// OpenTicket handles POST /api/estacionamento/entrada requests.
func (h *TicketHandler) OpenTicket(c *fiber.Ctx) error {
	var req model.OpenTicketRequest

	// Parse JSON body
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, formatTicketValidationError(err))
	}

	rate := decimal.Zero
	if s := strings.TrimSpace(req.RatePerMinute); s != "" {
		rate = decimal.RequireFromString(s) // checked by the money rule
	}

	ticket, err := h.service.OpenSession(c.Context(), model.Account{UserID: req.UserID}, req.Plate, rate)
	if err != nil {
		return writeError(c, err, "failed to open ticket")
	}

	log.Info().
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Str("user_id", req.UserID).
		Str("ticket_id", ticket.ID).
		Str("plate", ticket.Plate).
		Msg("ticket opened")

	return c.Status(fiber.StatusCreated).JSON(ticket)
}

// GetOpenTicket handles GET /api/estacionamento/por-placa requests.
func (h *TicketHandler) GetOpenTicket(c *fiber.Ctx) error {
	var q model.TicketLookupQuery
	if err := c.QueryParser(&q); err != nil {
		return badRequest(c, "invalid query")
	}
	if err := h.validator.Struct(q); err != nil {
		return badRequest(c, formatTicketValidationError(err))
	}

	ticket, err := h.service.LookupOpenSession(c.Context(), model.Account{UserID: q.UserID}, q.Plate)
	if err != nil {
		return writeError(c, err, "failed to look up open ticket")
	}
	return c.JSON(ticket)
}

// PreviewFee handles GET /api/estacionamento/:id/resumo requests.
// Nothing is written; the body has the shape of a settlement.
func (h *TicketHandler) PreviewFee(c *fiber.Ctx) error {
	id := c.Params("id")
	if strings.TrimSpace(id) == "" {
		return badRequest(c, "invalid request: id is required")
	}

	var q model.FeePreviewQuery
	if err := c.QueryParser(&q); err != nil {
		return badRequest(c, "invalid query")
	}
	if err := h.validator.Struct(q); err != nil {
		return badRequest(c, formatTicketValidationError(err))
	}

	preview, err := h.service.GetFeePreview(c.Context(), model.Account{UserID: q.UserID}, id, q.DiscountProgramID)
	if err != nil {
		return writeError(c, err, "failed to compute fee preview")
	}
	return c.JSON(preview)
}

// CloseTicket handles PATCH /api/estacionamento/:id/saida requests.
func (h *TicketHandler) CloseTicket(c *fiber.Ctx) error {
	id := c.Params("id")
	if strings.TrimSpace(id) == "" {
		return badRequest(c, "invalid request: id is required")
	}

	var req model.CloseTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, formatTicketValidationError(err))
	}

	settlement, err := h.service.CloseSession(c.Context(), model.Account{UserID: req.UserID}, id, service.CloseRequest{
		PaymentMethod:     req.PaymentMethod,
		DiscountProgramID: req.DiscountProgramID,
	})
	if err != nil {
		return writeError(c, err, "failed to close ticket")
	}

	log.Info().
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Str("user_id", req.UserID).
		Str("ticket_id", id).
		Str("payment_method", req.PaymentMethod).
		Msg("ticket closed")

	return c.JSON(model.CloseTicketResponse{Ticket: *settlement})
}
