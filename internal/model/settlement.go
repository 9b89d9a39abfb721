package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeePreview is a non-authoritative fee snapshot for an open ticket.
// Recomputed on every request and never persisted.
type FeePreview struct {
	TicketID              string          `json:"ticket_id"`
	Minutes               int             `json:"minutos"`
	RatePerMinute         decimal.Decimal `json:"tarifa_por_minuto"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	DiscountProgramName   string          `json:"convenio_nome,omitempty"`
	DiscountProgramAmount decimal.Decimal `json:"desconto_convenio"`
	ManualDiscountAmount  decimal.Decimal `json:"desconto_manual"`
	Total                 decimal.Decimal `json:"total"`
	ComputedAt            time.Time       `json:"calculado_em"`

	// Estimated is set when the preview was computed locally because the
	// ledger could not be reached.
	Estimated bool `json:"estimado"`
}

// Settlement is the ledger's result for a ticket. Returned authoritatively
// by close and in the same shape by the ledger's preview endpoint.
// Every field is optional: a ledger response may omit any of them.
type Settlement struct {
	TicketID              string           `json:"_id,omitempty"`
	MinutesTotal          *int             `json:"minutos_total,omitempty"`
	RatePerMinute         *decimal.Decimal `json:"tarifa_por_minuto,omitempty"`
	GrossAmount           *decimal.Decimal `json:"valor_bruto,omitempty"`
	DiscountProgramID     *string          `json:"convenio_id,omitempty"`
	DiscountProgramName   *string          `json:"convenio_nome,omitempty"`
	DiscountProgramAmount *decimal.Decimal `json:"desconto_convenio,omitempty"`
	NetAmount             *decimal.Decimal `json:"valor_final,omitempty"`
	PaymentMethod         *string          `json:"forma_pagamento,omitempty"`
	ExitTime              *time.Time       `json:"hora_saida,omitempty"`
}

// DisplayValues is the merged, presentation-ready view of a ticket.
type DisplayValues struct {
	Plate                 string          `json:"placa"`
	EntryTime             time.Time       `json:"hora_entrada"`
	Minutes               int             `json:"minutos"`
	TariffLabel           string          `json:"tarifa"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	DiscountProgramName   string          `json:"convenio_nome,omitempty"`
	DiscountProgramAmount decimal.Decimal `json:"desconto_convenio"`
	ManualDiscountAmount  decimal.Decimal `json:"desconto_manual"`
	Total                 decimal.Decimal `json:"total"`
	PaymentMethod         string          `json:"forma_pagamento,omitempty"`
	ExitTime              *time.Time      `json:"hora_saida,omitempty"`

	// Estimated is true when the total did not come from the ledger.
	Estimated bool `json:"estimado"`
}

// Clone returns a copy of s that shares no pointers with it.
func (s *Settlement) Clone() *Settlement {
	if s == nil {
		return nil
	}
	out := *s
	out.MinutesTotal = clonePtr(s.MinutesTotal)
	out.RatePerMinute = clonePtr(s.RatePerMinute)
	out.GrossAmount = clonePtr(s.GrossAmount)
	out.DiscountProgramID = clonePtr(s.DiscountProgramID)
	out.DiscountProgramName = clonePtr(s.DiscountProgramName)
	out.DiscountProgramAmount = clonePtr(s.DiscountProgramAmount)
	out.NetAmount = clonePtr(s.NetAmount)
	out.PaymentMethod = clonePtr(s.PaymentMethod)
	out.ExitTime = clonePtr(s.ExitTime)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
