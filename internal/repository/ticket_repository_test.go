package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/parking-session-engine/internal/model"
	"github.com/fairyhunter13/parking-session-engine/internal/service"
)

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFn func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.scanFn != nil {
		return m.scanFn(dest...)
	}
	return nil
}

// mockPool implements PoolInterface for testing.
type mockPool struct {
	execFn     func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (m *mockPool) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if m.execFn != nil {
		return m.execFn(ctx, sql, arguments...)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (m *mockPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFn != nil {
		return m.queryRowFn(ctx, sql, args...)
	}
	return &mockRow{}
}

// mockTxQuerier implements database.TxQuerier for testing.
type mockTxQuerier struct {
	execFn     func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (m *mockTxQuerier) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if m.execFn != nil {
		return m.execFn(ctx, sql, arguments...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (m *mockTxQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFn != nil {
		return m.queryRowFn(ctx, sql, args...)
	}
	return &mockRow{}
}

func (m *mockTxQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

var (
	testEntry   = time.Date(2025, 9, 2, 10, 0, 0, 0, time.UTC)
	testCreated = time.Date(2025, 9, 2, 10, 0, 1, 0, time.UTC)
)

// openTicketRow fills the destinations of scanTicket for an open ticket.
func openTicketRow(dest ...any) error {
	*(dest[0].(*string)) = "t-1"
	*(dest[1].(*string)) = "user_001"
	*(dest[2].(*string)) = "ABC1D23"
	*(dest[3].(*time.Time)) = testEntry
	*(dest[4].(*string)) = "0.1200"
	*(dest[5].(*string)) = "open"
	*(dest[6].(**time.Time)) = nil
	*(dest[7].(**int)) = nil
	*(dest[8].(*decimal.NullDecimal)) = decimal.NullDecimal{}
	*(dest[9].(**string)) = nil
	*(dest[10].(*decimal.NullDecimal)) = decimal.NullDecimal{}
	*(dest[11].(*decimal.NullDecimal)) = decimal.NullDecimal{}
	*(dest[12].(**string)) = nil
	*(dest[13].(*time.Time)) = testCreated
	return nil
}

// closedTicketRow fills the destinations of scanTicket for a settled ticket.
func closedTicketRow(dest ...any) error {
	_ = openTicketRow(dest...)
	exit := testEntry.Add(43 * time.Minute)
	minutes := 43
	program := "c1"
	payment := model.PaymentPix
	*(dest[5].(*string)) = "closed"
	*(dest[6].(**time.Time)) = &exit
	*(dest[7].(**int)) = &minutes
	*(dest[8].(*decimal.NullDecimal)) = decimal.NewNullDecimal(decimal.RequireFromString("5.16"))
	*(dest[9].(**string)) = &program
	*(dest[10].(*decimal.NullDecimal)) = decimal.NewNullDecimal(decimal.RequireFromString("1.03"))
	*(dest[11].(*decimal.NullDecimal)) = decimal.NewNullDecimal(decimal.RequireFromString("4.13"))
	*(dest[12].(**string)) = &payment
	return nil
}

func TestTicketRepository_Insert_Success(t *testing.T) {
	var capturedSQL string
	var capturedArgs []any

	mock := &mockPool{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			capturedSQL = sql
			capturedArgs = arguments
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	}

	repo := NewTicketRepositoryWithPool(mock)
	ticket := &model.Ticket{
		ID:            "t-1",
		UserID:        "user_001",
		Plate:         "ABC1D23",
		EntryTime:     testEntry,
		RatePerMinute: decimal.RequireFromString("0.12"),
	}

	err := repo.Insert(context.Background(), ticket)

	require.NoError(t, err)
	assert.Contains(t, capturedSQL, "INSERT INTO tickets")
	assert.Contains(t, capturedSQL, "$5::numeric")
	assert.Equal(t, "t-1", capturedArgs[0])
	assert.Equal(t, "user_001", capturedArgs[1])
	assert.Equal(t, "ABC1D23", capturedArgs[2])
	assert.Equal(t, testEntry, capturedArgs[3])
	assert.Equal(t, "0.12", capturedArgs[4])
	assert.Equal(t, "open", capturedArgs[5])
}

func TestTicketRepository_Insert_AlreadyOpen(t *testing.T) {
	mock := &mockPool{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			// Simulate the partial unique index on open plates
			pgErr := &pgconn.PgError{
				Code:           "23505",
				Message:        "duplicate key value violates unique constraint",
				ConstraintName: "idx_tickets_open_plate",
			}
			return pgconn.CommandTag{}, pgErr
		},
	}

	repo := NewTicketRepositoryWithPool(mock)
	err := repo.Insert(context.Background(), &model.Ticket{ID: "t-2", Plate: "ABC1D23"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrSessionAlreadyOpen), "should return ErrSessionAlreadyOpen for duplicate")
}

func TestTicketRepository_Insert_DatabaseError(t *testing.T) {
	dbErr := errors.New("connection refused")
	mock := &mockPool{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, dbErr
		},
	}

	repo := NewTicketRepositoryWithPool(mock)
	err := repo.Insert(context.Background(), &model.Ticket{ID: "t-1"})

	require.Error(t, err)
	assert.False(t, errors.Is(err, service.ErrSessionAlreadyOpen))
	assert.Contains(t, err.Error(), "insert ticket")
	assert.True(t, errors.Is(err, dbErr), "should wrap original error")
}

func TestTicketRepository_Insert_OtherPgError(t *testing.T) {
	mock := &mockPool{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			pgErr := &pgconn.PgError{
				Code:    "23514", // check_violation
				Message: "new row violates check constraint",
			}
			return pgconn.CommandTag{}, pgErr
		},
	}

	repo := NewTicketRepositoryWithPool(mock)
	err := repo.Insert(context.Background(), &model.Ticket{ID: "t-1"})

	require.Error(t, err)
	assert.False(t, errors.Is(err, service.ErrSessionAlreadyOpen), "only 23505 means already open")
}

func TestTicketRepository_GetOpenByPlate_Found(t *testing.T) {
	var capturedArgs []any
	mock := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			assert.Contains(t, sql, "status = 'open'")
			assert.Contains(t, sql, "rate_per_minute::text")
			capturedArgs = args
			return &mockRow{scanFn: openTicketRow}
		},
	}

	repo := NewTicketRepositoryWithPool(mock)
	ticket, err := repo.GetOpenByPlate(context.Background(), "user_001", "ABC1D23")

	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, []any{"user_001", "ABC1D23"}, capturedArgs)
	assert.Equal(t, "t-1", ticket.ID)
	assert.Equal(t, model.StateOpen, ticket.State)
	assert.True(t, decimal.RequireFromString("0.12").Equal(ticket.RatePerMinute))
	assert.Equal(t, testEntry, ticket.EntryTime)
	assert.Equal(t, testCreated, ticket.CreatedAt)
	assert.Nil(t, ticket.ExitTime)
	assert.Nil(t, ticket.FinalAmount)
	assert.Nil(t, ticket.PaymentMethod)
}

func TestTicketRepository_GetOpenByPlate_NotFound(t *testing.T) {
	mock := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{
				scanFn: func(dest ...any) error {
					return pgx.ErrNoRows
				},
			}
		},
	}

	repo := NewTicketRepositoryWithPool(mock)
	ticket, err := repo.GetOpenByPlate(context.Background(), "user_001", "ABC1D23")

	assert.NoError(t, err, "not found is not an error at this layer")
	assert.Nil(t, ticket)
}

func TestTicketRepository_GetOpenByPlate_DatabaseError(t *testing.T) {
	dbErr := errors.New("connection timeout")
	mock := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{
				scanFn: func(dest ...any) error {
					return dbErr
				},
			}
		},
	}

	repo := NewTicketRepositoryWithPool(mock)
	ticket, err := repo.GetOpenByPlate(context.Background(), "user_001", "ABC1D23")

	require.Error(t, err)
	assert.Nil(t, ticket)
	assert.True(t, errors.Is(err, dbErr))
	assert.Contains(t, err.Error(), "ABC1D23")
}

func TestTicketRepository_GetByID_Closed(t *testing.T) {
	mock := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			assert.NotContains(t, sql, "status = 'open'")
			return &mockRow{scanFn: closedTicketRow}
		},
	}

	repo := NewTicketRepositoryWithPool(mock)
	ticket, err := repo.GetByID(context.Background(), "user_001", "t-1")

	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, model.StateClosed, ticket.State)
	require.NotNil(t, ticket.TotalMinutes)
	assert.Equal(t, 43, *ticket.TotalMinutes)
	assert.Equal(t, "5.16", ticket.GrossAmount.StringFixed(2))
	assert.Equal(t, "1.03", ticket.DiscountProgramAmount.StringFixed(2))
	assert.Equal(t, "4.13", ticket.FinalAmount.StringFixed(2))
	assert.Equal(t, "c1", *ticket.DiscountProgramID)
	assert.Equal(t, model.PaymentPix, *ticket.PaymentMethod)
}

func TestTicketRepository_GetByID_NotFound(t *testing.T) {
	mock := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{
				scanFn: func(dest ...any) error {
					return pgx.ErrNoRows
				},
			}
		},
	}

	repo := NewTicketRepositoryWithPool(mock)
	ticket, err := repo.GetByID(context.Background(), "user_001", "missing")

	assert.NoError(t, err)
	assert.Nil(t, ticket)
}

func TestTicketRepository_GetByID_BadRate(t *testing.T) {
	mock := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{
				scanFn: func(dest ...any) error {
					_ = openTicketRow(dest...)
					*(dest[4].(*string)) = "abc"
					return nil
				},
			}
		},
	}

	repo := NewTicketRepositoryWithPool(mock)
	_, err := repo.GetByID(context.Background(), "user_001", "t-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_per_minute")
}

func TestTicketRepository_GetTicketForUpdate_Success(t *testing.T) {
	var capturedSQL string
	tx := &mockTxQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			capturedSQL = sql
			return &mockRow{scanFn: openTicketRow}
		},
	}

	repo := NewTicketRepositoryWithPool(&mockPool{})
	ticket, err := repo.GetTicketForUpdate(context.Background(), tx, "user_001", "t-1")

	require.NoError(t, err)
	assert.Equal(t, "t-1", ticket.ID)
	assert.Contains(t, capturedSQL, "FOR UPDATE")
}

func TestTicketRepository_GetTicketForUpdate_NotFound(t *testing.T) {
	tx := &mockTxQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{
				scanFn: func(dest ...any) error {
					return pgx.ErrNoRows
				},
			}
		},
	}

	repo := NewTicketRepositoryWithPool(&mockPool{})
	ticket, err := repo.GetTicketForUpdate(context.Background(), tx, "user_001", "t-1")

	assert.Nil(t, ticket)
	assert.True(t, errors.Is(err, service.ErrSessionNotFound))
}

func TestTicketRepository_GetTicketForUpdate_DatabaseError(t *testing.T) {
	dbErr := errors.New("deadlock detected")
	tx := &mockTxQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{
				scanFn: func(dest ...any) error {
					return dbErr
				},
			}
		},
	}

	repo := NewTicketRepositoryWithPool(&mockPool{})
	_, err := repo.GetTicketForUpdate(context.Background(), tx, "user_001", "t-1")

	assert.True(t, errors.Is(err, dbErr))
	assert.False(t, errors.Is(err, service.ErrSessionNotFound))
}

func closedTicket() *model.Ticket {
	exit := testEntry.Add(43 * time.Minute)
	minutes := 43
	gross := decimal.RequireFromString("5.16")
	programAmount := decimal.RequireFromString("1.03")
	final := decimal.RequireFromString("4.13")
	program := "c1"
	payment := model.PaymentPix
	return &model.Ticket{
		ID:                    "t-1",
		UserID:                "user_001",
		Plate:                 "ABC1D23",
		EntryTime:             testEntry,
		RatePerMinute:         decimal.RequireFromString("0.12"),
		State:                 model.StateClosed,
		ExitTime:              &exit,
		TotalMinutes:          &minutes,
		GrossAmount:           &gross,
		DiscountProgramID:     &program,
		DiscountProgramAmount: &programAmount,
		FinalAmount:           &final,
		PaymentMethod:         &payment,
	}
}

func TestTicketRepository_Close_Success(t *testing.T) {
	var capturedSQL string
	var capturedArgs []any
	tx := &mockTxQuerier{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			capturedSQL = sql
			capturedArgs = arguments
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}

	repo := NewTicketRepositoryWithPool(&mockPool{})
	err := repo.Close(context.Background(), tx, closedTicket())

	require.NoError(t, err)
	assert.Contains(t, capturedSQL, "UPDATE tickets SET")
	assert.Contains(t, capturedSQL, "status = 'open'", "close must only apply to open tickets")
	require.Len(t, capturedArgs, 9)
	assert.Equal(t, "user_001", capturedArgs[0])
	assert.Equal(t, "t-1", capturedArgs[1])
	assert.Equal(t, "5.16", *(capturedArgs[4].(*string)))
	assert.Equal(t, "1.03", *(capturedArgs[6].(*string)))
	assert.Equal(t, "4.13", *(capturedArgs[7].(*string)))
}

func TestTicketRepository_Close_NoProgram(t *testing.T) {
	var capturedArgs []any
	tx := &mockTxQuerier{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			capturedArgs = arguments
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}
	ticket := closedTicket()
	ticket.DiscountProgramID = nil

	repo := NewTicketRepositoryWithPool(&mockPool{})
	require.NoError(t, repo.Close(context.Background(), tx, ticket))

	assert.Nil(t, capturedArgs[5])
}

func TestTicketRepository_Close_AlreadyClosed(t *testing.T) {
	tx := &mockTxQuerier{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}

	repo := NewTicketRepositoryWithPool(&mockPool{})
	err := repo.Close(context.Background(), tx, closedTicket())

	assert.True(t, errors.Is(err, service.ErrSessionAlreadyClosed))
}

func TestTicketRepository_Close_DatabaseError(t *testing.T) {
	dbErr := errors.New("connection reset")
	tx := &mockTxQuerier{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, dbErr
		},
	}

	repo := NewTicketRepositoryWithPool(&mockPool{})
	err := repo.Close(context.Background(), tx, closedTicket())

	assert.True(t, errors.Is(err, dbErr))
	assert.Contains(t, err.Error(), "close ticket t-1")
}

func TestNumericArg(t *testing.T) {
	assert.Nil(t, numericArg(nil))

	d := decimal.RequireFromString("4.10")
	assert.Equal(t, "4.1", *numericArg(&d))
}
