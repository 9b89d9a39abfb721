package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/parking-session-engine/internal/model"
)

// ProgramPoolInterface defines the database operations needed by DiscountProgramRepository.
type ProgramPoolInterface interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DiscountProgramRepository provides data access for discount programs using pgx.
type DiscountProgramRepository struct {
	pool ProgramPoolInterface
}

// NewDiscountProgramRepository creates a new DiscountProgramRepository with the given pool.
func NewDiscountProgramRepository(pool *pgxpool.Pool) *DiscountProgramRepository {
	return &DiscountProgramRepository{pool: pool}
}

// NewDiscountProgramRepositoryWithPool creates a new DiscountProgramRepository with a custom pool interface.
// This is primarily used for testing.
func NewDiscountProgramRepositoryWithPool(pool ProgramPoolInterface) *DiscountProgramRepository {
	return &DiscountProgramRepository{pool: pool}
}

// ListByUser retrieves the discount programs of an account ordered by name.
// On success, returns an empty slice (not nil) when the account has none.
func (r *DiscountProgramRepository) ListByUser(ctx context.Context, userID string) ([]model.DiscountProgram, error) {
	query := `SELECT id, user_id, name, percent_off::text FROM discount_programs WHERE user_id = $1 ORDER BY name, id`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list discount programs for %s: %w", userID, err)
	}
	defer rows.Close()

	programs := []model.DiscountProgram{}
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discount program: %w", err)
		}
		programs = append(programs, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discount program rows: %w", err)
	}
	return programs, nil
}

// GetByID retrieves one discount program of an account.
// Returns nil, nil if it is not found (service layer handles this).
func (r *DiscountProgramRepository) GetByID(ctx context.Context, userID, id string) (*model.DiscountProgram, error) {
	query := `SELECT id, user_id, name, percent_off::text FROM discount_programs WHERE user_id = $1 AND id = $2`

	p, err := scanProgram(r.pool.QueryRow(ctx, query, userID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get discount program %s: %w", id, err)
	}
	return p, nil
}

func scanProgram(row pgx.Row) (*model.DiscountProgram, error) {
	var (
		p       model.DiscountProgram
		percent string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &percent); err != nil {
		return nil, err
	}
	pct, err := decimal.NewFromString(percent)
	if err != nil {
		return nil, fmt.Errorf("parse percent_off %q: %w", percent, err)
	}
	p.PercentOff = pct
	return &p, nil
}
