package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketState is the lifecycle state of a parking ticket.
type TicketState string

const (
	// StateOpen is a ticket whose vehicle is still parked.
	StateOpen TicketState = "open"
	// StatePreviewComputed is an open ticket that has had at least one fee preview.
	// The ledger never stores it; it only exists on the client side.
	StatePreviewComputed TicketState = "preview_computed"
	// StateClosed is a settled ticket. Terminal.
	StateClosed TicketState = "closed"
)

// Payment methods accepted at settlement.
const (
	PaymentPix    = "pix"
	PaymentCash   = "dinheiro"
	PaymentCredit = "credito"
	PaymentDebit  = "debito"
)

// Account identifies the operator account every ledger call is made on behalf of.
type Account struct {
	UserID string
}

// Ticket is one vehicle's stay, from entry to settlement.
type Ticket struct {
	ID            string          `json:"_id"`
	UserID        string          `json:"user_id"`
	Plate         string          `json:"placa"`
	EntryTime     time.Time       `json:"hora_entrada"`
	RatePerMinute decimal.Decimal `json:"tarifa_por_minuto"`
	State         TicketState     `json:"status"`

	// Populated only once closed.
	ExitTime              *time.Time       `json:"hora_saida,omitempty"`
	TotalMinutes          *int             `json:"minutos_total,omitempty"`
	GrossAmount           *decimal.Decimal `json:"valor_bruto,omitempty"`
	DiscountProgramID     *string          `json:"convenio_id,omitempty"`
	DiscountProgramAmount *decimal.Decimal `json:"desconto_convenio,omitempty"`
	FinalAmount           *decimal.Decimal `json:"valor_final,omitempty"`
	PaymentMethod         *string          `json:"forma_pagamento,omitempty"`

	CreatedAt time.Time `json:"-"`
}

// Clone returns a copy of t whose settlement fields share no pointers with t.
func (t Ticket) Clone() Ticket {
	t.ExitTime = clonePtr(t.ExitTime)
	t.TotalMinutes = clonePtr(t.TotalMinutes)
	t.GrossAmount = clonePtr(t.GrossAmount)
	t.DiscountProgramID = clonePtr(t.DiscountProgramID)
	t.DiscountProgramAmount = clonePtr(t.DiscountProgramAmount)
	t.FinalAmount = clonePtr(t.FinalAmount)
	t.PaymentMethod = clonePtr(t.PaymentMethod)
	return t
}

// DiscountProgram is a named proportional discount (convenio).
type DiscountProgram struct {
	ID         string          `json:"id"`
	UserID     string          `json:"-"`
	Name       string          `json:"nome"`
	PercentOff decimal.Decimal `json:"percentual"`
}

// OpenTicketRequest is the DTO for POST /api/estacionamento/entrada.
type OpenTicketRequest struct {
	Plate         string `json:"placa" validate:"required,plate"`
	UserID        string `json:"user_id" validate:"required,notblank,max=255"`
	RatePerMinute string `json:"tarifa_por_minuto,omitempty" validate:"omitempty,money"`
}

// CloseTicketRequest is the DTO for PATCH /api/estacionamento/:id/saida.
// Manual discounts are local to the client and have no field here.
type CloseTicketRequest struct {
	UserID            string `json:"user_id" validate:"required,notblank,max=255"`
	PaymentMethod     string `json:"forma_pagamento" validate:"required,oneof=pix dinheiro credito debito"`
	DiscountProgramID string `json:"convenio_id,omitempty" validate:"omitempty,max=255"`
}

// CloseTicketResponse wraps the settlement the way the ledger returns it.
type CloseTicketResponse struct {
	Ticket Settlement `json:"ticket"`
}

// TicketLookupQuery is the query of GET /api/estacionamento/por-placa.
type TicketLookupQuery struct {
	Plate  string `query:"placa" validate:"required,plate"`
	UserID string `query:"user_id" validate:"required,notblank,max=255"`
}

// FeePreviewQuery is the query of GET /api/estacionamento/:id/resumo.
type FeePreviewQuery struct {
	UserID            string `query:"user_id" validate:"required,notblank,max=255"`
	DiscountProgramID string `query:"convenio_id" validate:"omitempty,max=255"`
}

// AccountQuery is the query of endpoints scoped to an account only.
type AccountQuery struct {
	UserID string `query:"user_id" validate:"required,notblank,max=255"`
}
