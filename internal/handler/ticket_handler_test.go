package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/parking-session-engine/internal/model"
	"github.com/fairyhunter13/parking-session-engine/internal/service"
	"github.com/fairyhunter13/parking-session-engine/internal/validator"
)

// mockTicketService is a mock implementation of TicketServiceInterface.
type mockTicketService struct {
	openSessionFn       func(ctx context.Context, acct model.Account, plate string, rate decimal.Decimal) (*model.Ticket, error)
	lookupOpenSessionFn func(ctx context.Context, acct model.Account, plate string) (*model.Ticket, error)
	getFeePreviewFn     func(ctx context.Context, acct model.Account, ticketID, programID string) (*model.Settlement, error)
	closeSessionFn      func(ctx context.Context, acct model.Account, ticketID string, req service.CloseRequest) (*model.Settlement, error)
}

func (m *mockTicketService) OpenSession(ctx context.Context, acct model.Account, plate string, rate decimal.Decimal) (*model.Ticket, error) {
	if m.openSessionFn != nil {
		return m.openSessionFn(ctx, acct, plate, rate)
	}
	return nil, nil
}

func (m *mockTicketService) LookupOpenSession(ctx context.Context, acct model.Account, plate string) (*model.Ticket, error) {
	if m.lookupOpenSessionFn != nil {
		return m.lookupOpenSessionFn(ctx, acct, plate)
	}
	return nil, service.ErrSessionNotFound
}

func (m *mockTicketService) GetFeePreview(ctx context.Context, acct model.Account, ticketID, programID string) (*model.Settlement, error) {
	if m.getFeePreviewFn != nil {
		return m.getFeePreviewFn(ctx, acct, ticketID, programID)
	}
	return nil, service.ErrSessionNotFound
}

func (m *mockTicketService) CloseSession(ctx context.Context, acct model.Account, ticketID string, req service.CloseRequest) (*model.Settlement, error) {
	if m.closeSessionFn != nil {
		return m.closeSessionFn(ctx, acct, ticketID, req)
	}
	return nil, service.ErrSessionNotFound
}

func setupTicketApp(mockSvc *mockTicketService) *fiber.App {
	app := fiber.New()
	h := NewTicketHandler(mockSvc, validator.New())
	app.Post("/api/estacionamento/entrada", h.OpenTicket)
	app.Get("/api/estacionamento/por-placa", h.GetOpenTicket)
	app.Get("/api/estacionamento/:id/resumo", h.PreviewFee)
	app.Patch("/api/estacionamento/:id/saida", h.CloseTicket)
	return app
}

var handlerEntry = time.Date(2025, 9, 2, 10, 0, 0, 0, time.UTC)

func sampleTicket() *model.Ticket {
	return &model.Ticket{
		ID:            "t-1",
		UserID:        "user_001",
		Plate:         "ABC1D23",
		EntryTime:     handlerEntry,
		RatePerMinute: decimal.RequireFromString("0.12"),
		State:         model.StateOpen,
	}
}

func sampleSettlement() *model.Settlement {
	minutes := 43
	gross := decimal.RequireFromString("5.16")
	net := decimal.RequireFromString("4.13")
	method := model.PaymentPix
	return &model.Settlement{
		TicketID:      "t-1",
		MinutesTotal:  &minutes,
		GrossAmount:   &gross,
		NetAmount:     &net,
		PaymentMethod: &method,
	}
}

func doJSON(t *testing.T, app *fiber.App, method, target, body string) (*http.Response, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	var result map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&result)
	return resp, result
}

func TestOpenTicket_Success(t *testing.T) {
	var gotAcct model.Account
	var gotPlate string
	var gotRate decimal.Decimal
	app := setupTicketApp(&mockTicketService{
		openSessionFn: func(ctx context.Context, acct model.Account, plate string, rate decimal.Decimal) (*model.Ticket, error) {
			gotAcct, gotPlate, gotRate = acct, plate, rate
			return sampleTicket(), nil
		},
	})

	resp, result := doJSON(t, app, http.MethodPost, "/api/estacionamento/entrada",
		`{"placa": "abc-1d23", "user_id": "user_001", "tarifa_por_minuto": "0.12"}`)

	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, "user_001", gotAcct.UserID)
	assert.Equal(t, "abc-1d23", gotPlate, "normalization is the service's job")
	assert.Equal(t, "0.12", gotRate.String())
	assert.Equal(t, "t-1", result["_id"])
	assert.Equal(t, "ABC1D23", result["placa"])
	assert.Equal(t, "open", result["status"])
}

func TestOpenTicket_DefaultRate(t *testing.T) {
	app := setupTicketApp(&mockTicketService{
		openSessionFn: func(ctx context.Context, acct model.Account, plate string, rate decimal.Decimal) (*model.Ticket, error) {
			assert.True(t, rate.IsZero(), "an omitted rate is passed as zero")
			return sampleTicket(), nil
		},
	})

	resp, _ := doJSON(t, app, http.MethodPost, "/api/estacionamento/entrada",
		`{"placa": "ABC1D23", "user_id": "user_001"}`)

	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
}

func TestOpenTicket_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing plate",
			body:    `{"user_id": "user_001"}`,
			wantErr: "invalid request: placa is required",
		},
		{
			name:    "short plate",
			body:    `{"placa": "AB-12", "user_id": "user_001"}`,
			wantErr: "invalid request: placa must have at least 6 letters or digits",
		},
		{
			name:    "missing user",
			body:    `{"placa": "ABC1D23"}`,
			wantErr: "invalid request: user_id is required",
		},
		{
			name:    "blank user",
			body:    `{"placa": "ABC1D23", "user_id": "   "}`,
			wantErr: "invalid request: user_id cannot be whitespace only",
		},
		{
			name:    "negative rate",
			body:    `{"placa": "ABC1D23", "user_id": "user_001", "tarifa_por_minuto": "-1"}`,
			wantErr: "invalid request: tarifa_por_minuto must be a non-negative amount below 1000000 with at most 4 decimal places",
		},
		{
			name:    "rate with five decimals",
			body:    `{"placa": "ABC1D23", "user_id": "user_001", "tarifa_por_minuto": "0.12345"}`,
			wantErr: "invalid request: tarifa_por_minuto must be a non-negative amount below 1000000 with at most 4 decimal places",
		},
		{
			name:    "rate overflowing the column",
			body:    `{"placa": "ABC1D23", "user_id": "user_001", "tarifa_por_minuto": "1e7"}`,
			wantErr: "invalid request: tarifa_por_minuto must be a non-negative amount below 1000000 with at most 4 decimal places",
		},
		{
			name:    "rate with tiny exponent",
			body:    `{"placa": "ABC1D23", "user_id": "user_001", "tarifa_por_minuto": "1e-100000"}`,
			wantErr: "invalid request: tarifa_por_minuto must be a non-negative amount below 1000000 with at most 4 decimal places",
		},
		{
			name:    "rate of one million",
			body:    `{"placa": "ABC1D23", "user_id": "user_001", "tarifa_por_minuto": "1000000"}`,
			wantErr: "invalid request: tarifa_por_minuto must be a non-negative amount below 1000000 with at most 4 decimal places",
		},
		{
			name:    "malformed json",
			body:    `{"placa": `,
			wantErr: "invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := setupTicketApp(&mockTicketService{
				openSessionFn: func(ctx context.Context, acct model.Account, plate string, rate decimal.Decimal) (*model.Ticket, error) {
					t.Fatal("service must not be called on invalid input")
					return nil, nil
				},
			})

			resp, result := doJSON(t, app, http.MethodPost, "/api/estacionamento/entrada", tt.body)

			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.wantErr, result["error"])
			assert.Equal(t, service.CodeInvalidRequest, result["code"])
		})
	}
}

func TestOpenTicket_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"already open", service.ErrSessionAlreadyOpen, fiber.StatusConflict, service.CodeSessionAlreadyOpen},
		{"invalid plate", service.ErrInvalidPlate, fiber.StatusBadRequest, service.CodeInvalidPlate},
		{"ledger down", fmt.Errorf("%w: insert ticket: timeout", service.ErrLedgerUnavailable), fiber.StatusServiceUnavailable, service.CodeLedgerUnavailable},
		{"unexpected", fmt.Errorf("boom"), fiber.StatusInternalServerError, service.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := setupTicketApp(&mockTicketService{
				openSessionFn: func(ctx context.Context, acct model.Account, plate string, rate decimal.Decimal) (*model.Ticket, error) {
					return nil, tt.err
				},
			})

			resp, result := doJSON(t, app, http.MethodPost, "/api/estacionamento/entrada",
				`{"placa": "ABC1D23", "user_id": "user_001"}`)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, result["code"])
			assert.NotEmpty(t, result["error"])
		})
	}
}

func TestGetOpenTicket_Success(t *testing.T) {
	app := setupTicketApp(&mockTicketService{
		lookupOpenSessionFn: func(ctx context.Context, acct model.Account, plate string) (*model.Ticket, error) {
			assert.Equal(t, "user_001", acct.UserID)
			assert.Equal(t, "abc1d23", plate)
			return sampleTicket(), nil
		},
	})

	resp, result := doJSON(t, app, http.MethodGet, "/api/estacionamento/por-placa?placa=abc1d23&user_id=user_001", "")

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "t-1", result["_id"])
	assert.Equal(t, "0.12", result["tarifa_por_minuto"])
}

func TestGetOpenTicket_NotFound(t *testing.T) {
	app := setupTicketApp(&mockTicketService{})

	resp, result := doJSON(t, app, http.MethodGet, "/api/estacionamento/por-placa?placa=ABC1D23&user_id=user_001", "")

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, service.CodeSessionNotFound, result["code"])
}

func TestGetOpenTicket_MissingQuery(t *testing.T) {
	app := setupTicketApp(&mockTicketService{})

	resp, result := doJSON(t, app, http.MethodGet, "/api/estacionamento/por-placa?placa=ABC1D23", "")

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid request: user_id is required", result["error"])
}

func TestPreviewFee_Success(t *testing.T) {
	app := setupTicketApp(&mockTicketService{
		getFeePreviewFn: func(ctx context.Context, acct model.Account, ticketID, programID string) (*model.Settlement, error) {
			assert.Equal(t, "t-1", ticketID)
			assert.Equal(t, "c1", programID)
			s := sampleSettlement()
			s.PaymentMethod = nil
			return s, nil
		},
	})

	resp, result := doJSON(t, app, http.MethodGet, "/api/estacionamento/t-1/resumo?user_id=user_001&convenio_id=c1", "")

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(43), result["minutos_total"])
	assert.Equal(t, "4.13", result["valor_final"])
	assert.NotContains(t, result, "forma_pagamento")
}

func TestPreviewFee_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"closed", service.ErrSessionAlreadyClosed, fiber.StatusConflict, service.CodeSessionAlreadyClosed},
		{"unknown program", service.ErrDiscountProgramNotFound, fiber.StatusNotFound, service.CodeDiscountProgramNotFound},
		{"not found", service.ErrSessionNotFound, fiber.StatusNotFound, service.CodeSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := setupTicketApp(&mockTicketService{
				getFeePreviewFn: func(ctx context.Context, acct model.Account, ticketID, programID string) (*model.Settlement, error) {
					return nil, tt.err
				},
			})

			resp, result := doJSON(t, app, http.MethodGet, "/api/estacionamento/t-1/resumo?user_id=user_001", "")

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, result["code"])
		})
	}
}

func TestCloseTicket_Success(t *testing.T) {
	var got service.CloseRequest
	app := setupTicketApp(&mockTicketService{
		closeSessionFn: func(ctx context.Context, acct model.Account, ticketID string, req service.CloseRequest) (*model.Settlement, error) {
			assert.Equal(t, "t-1", ticketID)
			assert.Equal(t, "user_001", acct.UserID)
			got = req
			return sampleSettlement(), nil
		},
	})

	resp, result := doJSON(t, app, http.MethodPatch, "/api/estacionamento/t-1/saida",
		`{"user_id": "user_001", "forma_pagamento": "pix", "convenio_id": "c1"}`)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, service.CloseRequest{PaymentMethod: "pix", DiscountProgramID: "c1"}, got)

	ticket, ok := result["ticket"].(map[string]any)
	require.True(t, ok, "settlement must be wrapped in a ticket field")
	assert.Equal(t, float64(43), ticket["minutos_total"])
	assert.Equal(t, "4.13", ticket["valor_final"])
	assert.Equal(t, "pix", ticket["forma_pagamento"])
}

func TestCloseTicket_AlreadyClosed(t *testing.T) {
	app := setupTicketApp(&mockTicketService{
		closeSessionFn: func(ctx context.Context, acct model.Account, ticketID string, req service.CloseRequest) (*model.Settlement, error) {
			return nil, service.ErrSessionAlreadyClosed
		},
	})

	resp, result := doJSON(t, app, http.MethodPatch, "/api/estacionamento/t-1/saida",
		`{"user_id": "user_001", "forma_pagamento": "dinheiro"}`)

	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, service.CodeSessionAlreadyClosed, result["code"])
	assert.Equal(t, "ticket already closed", result["error"])
}

func TestCloseTicket_InvalidPaymentMethod(t *testing.T) {
	app := setupTicketApp(&mockTicketService{})

	resp, result := doJSON(t, app, http.MethodPatch, "/api/estacionamento/t-1/saida",
		`{"user_id": "user_001", "forma_pagamento": "cheque"}`)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid request: forma_pagamento must be one of pix, dinheiro, credito, debito", result["error"])
}

func TestCloseTicket_MissingPaymentMethod(t *testing.T) {
	app := setupTicketApp(&mockTicketService{})

	resp, result := doJSON(t, app, http.MethodPatch, "/api/estacionamento/t-1/saida", `{"user_id": "user_001"}`)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid request: forma_pagamento is required", result["error"])
}

func TestCloseTicket_ManualDiscountIgnored(t *testing.T) {
	app := setupTicketApp(&mockTicketService{
		closeSessionFn: func(ctx context.Context, acct model.Account, ticketID string, req service.CloseRequest) (*model.Settlement, error) {
			return sampleSettlement(), nil
		},
	})

	resp, _ := doJSON(t, app, http.MethodPatch, "/api/estacionamento/t-1/saida",
		`{"user_id": "user_001", "forma_pagamento": "pix", "desconto_manual": "1.00"}`)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode, "unknown fields are ignored")
}
