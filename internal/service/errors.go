package service

import (
	"errors"

	"github.com/fairyhunter13/parking-session-engine/internal/fee"
	"github.com/fairyhunter13/parking-session-engine/internal/plate"
)

var (
	// ErrInvalidPlate is returned when a plate normalizes to fewer than 6 characters
	ErrInvalidPlate = plate.ErrInvalidPlate

	// ErrInvalidInterval is returned when exit would be before entry
	ErrInvalidInterval = fee.ErrInvalidInterval

	// ErrInvalidInput is returned for unparsable operator input such as a manual discount
	ErrInvalidInput = fee.ErrInvalidInput

	// ErrSessionNotFound is returned when there is no open ticket for a plate, or no ticket with an id.
	// It is an expected outcome, not a failure.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionAlreadyOpen is returned when entering a plate that already has an open ticket
	ErrSessionAlreadyOpen = errors.New("session already open")

	// ErrSessionAlreadyClosed is returned when settling or previewing a ticket that is already closed
	ErrSessionAlreadyClosed = errors.New("session already closed")

	// ErrDiscountProgramNotFound is returned when a discount program id is unknown for the account
	ErrDiscountProgramNotFound = errors.New("discount program not found")

	// ErrLedgerUnavailable is returned when the ledger or its backing store cannot be reached
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrInvalidRequest is returned when request data is invalid or incomplete
	ErrInvalidRequest = errors.New("invalid request")
)

// IsStateConflict reports whether err is a ledger state conflict the caller should act on
// instead of retrying.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrSessionAlreadyOpen) || errors.Is(err, ErrSessionAlreadyClosed)
}

// Error codes carried in the "code" field of ledger HTTP error bodies.
const (
	CodeInvalidPlate            = "invalid_plate"
	CodeInvalidInterval         = "invalid_interval"
	CodeInvalidRequest          = "invalid_request"
	CodeSessionNotFound         = "session_not_found"
	CodeDiscountProgramNotFound = "discount_program_not_found"
	CodeSessionAlreadyOpen      = "session_already_open"
	CodeSessionAlreadyClosed    = "session_already_closed"
	CodeLedgerUnavailable       = "ledger_unavailable"
	CodeInternal                = "internal_error"
)

var codeErrors = []struct {
	code string
	err  error
}{
	{CodeInvalidPlate, ErrInvalidPlate},
	{CodeInvalidInterval, ErrInvalidInterval},
	{CodeInvalidRequest, ErrInvalidRequest},
	{CodeInvalidRequest, ErrInvalidInput},
	{CodeSessionNotFound, ErrSessionNotFound},
	{CodeDiscountProgramNotFound, ErrDiscountProgramNotFound},
	{CodeSessionAlreadyOpen, ErrSessionAlreadyOpen},
	{CodeSessionAlreadyClosed, ErrSessionAlreadyClosed},
	{CodeLedgerUnavailable, ErrLedgerUnavailable},
}

// ErrorCode returns the wire code of err, or CodeInternal for errors outside the taxonomy.
func ErrorCode(err error) string {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeInternal
}

// ErrorForCode is the inverse of ErrorCode. It returns nil for unknown codes.
func ErrorForCode(code string) error {
	for _, ce := range codeErrors {
		if ce.code == code {
			return ce.err
		}
	}
	return nil
}
