package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/parking-session-engine/internal/model"
)

// Ledger is the authoritative store of tickets. Implemented in-process by
// LedgerService and over HTTP by ledger.Client.
//
// Errors:
//   - ErrSessionNotFound when a ticket does not exist (or is not open, for lookups)
//   - ErrSessionAlreadyOpen / ErrSessionAlreadyClosed on state conflicts
//   - ErrDiscountProgramNotFound for an unknown discount program id
//   - ErrLedgerUnavailable for transport or backend failures
type Ledger interface {
	LookupOpenSession(ctx context.Context, acct model.Account, plate string) (*model.Ticket, error)
	OpenSession(ctx context.Context, acct model.Account, plate string, ratePerMinute decimal.Decimal) (*model.Ticket, error)
	GetFeePreview(ctx context.Context, acct model.Account, ticketID, discountProgramID string) (*model.Settlement, error)
	ListDiscountPrograms(ctx context.Context, acct model.Account) ([]model.DiscountProgram, error)
	CloseSession(ctx context.Context, acct model.Account, ticketID string, req CloseRequest) (*model.Settlement, error)
}

// CloseRequest carries what the ledger needs to settle a ticket.
type CloseRequest struct {
	PaymentMethod     string
	DiscountProgramID string
}
