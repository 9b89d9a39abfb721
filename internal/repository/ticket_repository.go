package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/parking-session-engine/internal/model"
	"github.com/fairyhunter13/parking-session-engine/internal/service"
	"github.com/fairyhunter13/parking-session-engine/pkg/database"
)

// PoolInterface defines the database operations needed by repositories.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ticketColumns are read back as text where the column is numeric so that
// amounts keep their exact decimal value.
const ticketColumns = `id, user_id, plate, entry_time, rate_per_minute::text, status,
	exit_time, total_minutes, gross_amount::text, discount_program_id,
	discount_program_amount::text, final_amount::text, payment_method, created_at`

// TicketRepository provides data access for tickets using pgx.
type TicketRepository struct {
	pool PoolInterface
}

// NewTicketRepository creates a new TicketRepository with the given pool.
func NewTicketRepository(pool *pgxpool.Pool) *TicketRepository {
	return &TicketRepository{pool: pool}
}

// NewTicketRepositoryWithPool creates a new TicketRepository with a custom pool interface.
// This is primarily used for testing.
func NewTicketRepositoryWithPool(pool PoolInterface) *TicketRepository {
	return &TicketRepository{pool: pool}
}

// Insert inserts a new open ticket.
// Returns service.ErrSessionAlreadyOpen if the plate already has an open ticket for the account.
func (r *TicketRepository) Insert(ctx context.Context, ticket *model.Ticket) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO tickets (id, user_id, plate, entry_time, rate_per_minute, status)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
		ticket.ID, ticket.UserID, ticket.Plate, ticket.EntryTime, ticket.RatePerMinute.String(), string(model.StateOpen))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrSessionAlreadyOpen
		}
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

// GetOpenByPlate retrieves the open ticket of a plate.
// Returns nil, nil if the plate has no open ticket (service layer handles this).
func (r *TicketRepository) GetOpenByPlate(ctx context.Context, userID, plate string) (*model.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE user_id = $1 AND plate = $2 AND status = 'open'`

	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, userID, plate))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get open ticket for plate %s: %w", plate, err)
	}
	return ticket, nil
}

// GetByID retrieves a ticket of the account by id, open or closed.
// Returns nil, nil if the ticket is not found.
func (r *TicketRepository) GetByID(ctx context.Context, userID, id string) (*model.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE user_id = $1 AND id = $2`

	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, userID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	return ticket, nil
}

// GetTicketForUpdate retrieves a ticket with a row lock (SELECT FOR UPDATE).
// This locks the row until the transaction completes.
// Returns service.ErrSessionNotFound if the ticket doesn't exist.
func (r *TicketRepository) GetTicketForUpdate(ctx context.Context, tx database.TxQuerier, userID, id string) (*model.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE user_id = $1 AND id = $2 FOR UPDATE`

	ticket, err := scanTicket(tx.QueryRow(ctx, query, userID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get ticket for update %s: %w", id, err)
	}
	return ticket, nil
}

// Close writes the settlement of a ticket.
// Must be called within a transaction after locking the row. The status guard
// makes a second close a no-op, reported as service.ErrSessionAlreadyClosed.
func (r *TicketRepository) Close(ctx context.Context, tx database.TxQuerier, ticket *model.Ticket) error {
	query := `UPDATE tickets SET
		status = 'closed',
		exit_time = $3,
		total_minutes = $4,
		gross_amount = $5::numeric,
		discount_program_id = $6,
		discount_program_amount = $7::numeric,
		final_amount = $8::numeric,
		payment_method = $9
	WHERE user_id = $1 AND id = $2 AND status = 'open'`

	tag, err := tx.Exec(ctx, query,
		ticket.UserID,
		ticket.ID,
		ticket.ExitTime,
		ticket.TotalMinutes,
		numericArg(ticket.GrossAmount),
		ticket.DiscountProgramID,
		numericArg(ticket.DiscountProgramAmount),
		numericArg(ticket.FinalAmount),
		ticket.PaymentMethod,
	)
	if err != nil {
		return fmt.Errorf("close ticket %s: %w", ticket.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrSessionAlreadyClosed
	}
	return nil
}

func scanTicket(row pgx.Row) (*model.Ticket, error) {
	var (
		t             model.Ticket
		rate          string
		status        string
		gross         decimal.NullDecimal
		programAmount decimal.NullDecimal
		finalAmount   decimal.NullDecimal
	)
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Plate,
		&t.EntryTime,
		&rate,
		&status,
		&t.ExitTime,
		&t.TotalMinutes,
		&gross,
		&t.DiscountProgramID,
		&programAmount,
		&finalAmount,
		&t.PaymentMethod,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.RatePerMinute, err = decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("parse rate_per_minute %q: %w", rate, err)
	}
	t.State = model.TicketState(status)
	t.GrossAmount = decimalPtr(gross)
	t.DiscountProgramAmount = decimalPtr(programAmount)
	t.FinalAmount = decimalPtr(finalAmount)
	return &t, nil
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

// numericArg renders an optional amount as text for a ::numeric parameter.
func numericArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
