package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/parking-session-engine/internal/fee"
	"github.com/fairyhunter13/parking-session-engine/internal/metrics"
	"github.com/fairyhunter13/parking-session-engine/internal/model"
	"github.com/fairyhunter13/parking-session-engine/internal/plate"
	"github.com/fairyhunter13/parking-session-engine/pkg/database"
)

// TicketRepositoryInterface defines the interface for ticket data access.
type TicketRepositoryInterface interface {
	Insert(ctx context.Context, ticket *model.Ticket) error
	GetOpenByPlate(ctx context.Context, userID, plate string) (*model.Ticket, error)
	GetByID(ctx context.Context, userID, id string) (*model.Ticket, error)
	GetTicketForUpdate(ctx context.Context, tx database.TxQuerier, userID, id string) (*model.Ticket, error)
	Close(ctx context.Context, tx database.TxQuerier, ticket *model.Ticket) error
}

// DiscountProgramRepositoryInterface defines the interface for discount program data access.
type DiscountProgramRepositoryInterface interface {
	ListByUser(ctx context.Context, userID string) ([]model.DiscountProgram, error)
	GetByID(ctx context.Context, userID, id string) (*model.DiscountProgram, error)
}

// OpenTicketCache caches open tickets by account and plate.
type OpenTicketCache interface {
	Save(ctx context.Context, ticket *model.Ticket) error
	Get(ctx context.Context, userID, plate string) (*model.Ticket, error)
	Delete(ctx context.Context, userID, plate string) error
}

// TxBeginner defines the interface for beginning transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LedgerOptions holds the optional collaborators of a LedgerService.
type LedgerOptions struct {
	// DefaultRate is used when a ticket is opened without a rate.
	DefaultRate decimal.Decimal
	// Cache may be nil.
	Cache OpenTicketCache
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// LedgerService is the authoritative ticket ledger backed by Postgres.
// It implements Ledger.
type LedgerService struct {
	pool     TxBeginner
	tickets  TicketRepositoryInterface
	programs DiscountProgramRepositoryInterface
	opts     LedgerOptions
}

// NewLedgerService creates a new LedgerService with the given pool and repositories.
func NewLedgerService(pool *pgxpool.Pool, tickets TicketRepositoryInterface, programs DiscountProgramRepositoryInterface, opts LedgerOptions) *LedgerService {
	return NewLedgerServiceWithTxBeginner(pool, tickets, programs, opts)
}

// NewLedgerServiceWithTxBeginner creates a LedgerService with a custom TxBeginner.
// Primarily used for testing.
func NewLedgerServiceWithTxBeginner(pool TxBeginner, tickets TicketRepositoryInterface, programs DiscountProgramRepositoryInterface, opts LedgerOptions) *LedgerService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LedgerService{
		pool:     pool,
		tickets:  tickets,
		programs: programs,
		opts:     opts,
	}
}

// now is truncated to what Postgres timestamps can hold.
func (s *LedgerService) now() time.Time {
	return s.opts.Now().UTC().Truncate(time.Microsecond)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLedgerUnavailable, op, err)
}

// OpenSession registers the entry of a vehicle.
// A zero rate means the ledger's default rate.
// Returns ErrSessionAlreadyOpen if the plate already has an open ticket for the account.
func (s *LedgerService) OpenSession(ctx context.Context, acct model.Account, rawPlate string, ratePerMinute decimal.Decimal) (*model.Ticket, error) {
	if acct.UserID == "" {
		return nil, ErrInvalidRequest
	}
	if err := fee.ValidateRate(ratePerMinute); err != nil {
		return nil, ErrInvalidRequest
	}
	p, err := plate.Parse(rawPlate)
	if err != nil {
		return nil, err
	}
	if ratePerMinute.IsZero() {
		ratePerMinute = s.opts.DefaultRate
	}

	ticket := &model.Ticket{
		ID:            uuid.NewString(),
		UserID:        acct.UserID,
		Plate:         p,
		EntryTime:     s.now(),
		RatePerMinute: ratePerMinute,
		State:         model.StateOpen,
	}

	if err := s.tickets.Insert(ctx, ticket); err != nil {
		if errors.Is(err, ErrSessionAlreadyOpen) {
			s.opts.Metrics.TicketOpened(metrics.ResultAlreadyOpen)
			return nil, ErrSessionAlreadyOpen
		}
		s.opts.Metrics.TicketOpened(metrics.ResultError)
		return nil, unavailable("insert ticket", err)
	}
	s.opts.Metrics.TicketOpened(metrics.ResultSuccess)

	if s.opts.Cache != nil {
		if err := s.opts.Cache.Save(ctx, ticket); err != nil {
			log.Warn().Err(err).Str("ticket_id", ticket.ID).Msg("failed to cache open ticket")
		}
	}
	return ticket, nil
}

// LookupOpenSession finds the open ticket for a plate.
// Returns ErrSessionNotFound when the plate has no open ticket.
func (s *LedgerService) LookupOpenSession(ctx context.Context, acct model.Account, rawPlate string) (*model.Ticket, error) {
	p, err := plate.Parse(rawPlate)
	if err != nil {
		return nil, err
	}

	if s.opts.Cache != nil {
		cached, err := s.opts.Cache.Get(ctx, acct.UserID, p)
		if err != nil {
			log.Warn().Err(err).Str("plate", p).Msg("open ticket cache read failed")
		} else if cached != nil {
			if ticket, ok := s.confirmCached(ctx, acct, cached); ok {
				return ticket, nil
			}
		}
	}

	ticket, err := s.tickets.GetOpenByPlate(ctx, acct.UserID, p)
	if err != nil {
		return nil, unavailable("get open ticket", err)
	}
	if ticket == nil {
		return nil, ErrSessionNotFound
	}
	return ticket, nil
}

// confirmCached checks a cached ticket against its row, since a failed
// eviction on close leaves a closed ticket cached as open. Entries that are no
// longer open are evicted. When the row cannot be read the cached ticket is
// served as is.
func (s *LedgerService) confirmCached(ctx context.Context, acct model.Account, cached *model.Ticket) (*model.Ticket, bool) {
	if cached.State == model.StateOpen {
		ticket, err := s.tickets.GetByID(ctx, acct.UserID, cached.ID)
		if err != nil {
			log.Warn().Err(err).Str("ticket_id", cached.ID).Msg("serving cached ticket unconfirmed")
			return cached, true
		}
		if ticket != nil && ticket.State == model.StateOpen {
			return ticket, true
		}
	}

	if err := s.opts.Cache.Delete(ctx, acct.UserID, cached.Plate); err != nil {
		log.Warn().Err(err).Str("ticket_id", cached.ID).Msg("failed to evict stale ticket")
	}
	return nil, false
}

// ListDiscountPrograms returns the discount programs available to the account.
func (s *LedgerService) ListDiscountPrograms(ctx context.Context, acct model.Account) ([]model.DiscountProgram, error) {
	programs, err := s.programs.ListByUser(ctx, acct.UserID)
	if err != nil {
		return nil, unavailable("list discount programs", err)
	}
	return programs, nil
}

// GetFeePreview computes what the ticket would owe if it closed now.
// Nothing is written.
func (s *LedgerService) GetFeePreview(ctx context.Context, acct model.Account, ticketID, discountProgramID string) (*model.Settlement, error) {
	ticket, err := s.tickets.GetByID(ctx, acct.UserID, ticketID)
	if err != nil {
		return nil, unavailable("get ticket", err)
	}
	if ticket == nil {
		return nil, ErrSessionNotFound
	}
	if ticket.State == model.StateClosed {
		return nil, ErrSessionAlreadyClosed
	}

	program, err := s.discountProgram(ctx, acct, discountProgramID)
	if err != nil {
		return nil, err
	}
	return settle(ticket, program, s.now())
}

// CloseSession settles a ticket atomically.
// Uses SELECT FOR UPDATE so that of two concurrent closes exactly one wins.
// Returns:
//   - ErrSessionNotFound if the ticket doesn't exist
//   - ErrSessionAlreadyClosed if the ticket was already settled
//   - ErrDiscountProgramNotFound if the discount program is unknown
func (s *LedgerService) CloseSession(ctx context.Context, acct model.Account, ticketID string, req CloseRequest) (*model.Settlement, error) {
	if req.PaymentMethod == "" {
		return nil, ErrInvalidRequest
	}

	program, err := s.discountProgram(ctx, acct, req.DiscountProgramID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	// 1. Lock the ticket row
	ticket, err := s.tickets.GetTicketForUpdate(ctx, tx, acct.UserID, ticketID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, unavailable("get ticket for update", err)
	}

	// 2. Reject a second settlement
	if ticket.State == model.StateClosed {
		s.opts.Metrics.SettlementRecorded(metrics.ResultAlreadyClosed, 0)
		return nil, ErrSessionAlreadyClosed
	}

	// 3. Price it
	settlement, err := settle(ticket, program, s.now())
	if err != nil {
		return nil, err
	}
	settlement.PaymentMethod = &req.PaymentMethod
	applySettlement(ticket, settlement)

	// 4. Persist
	if err := s.tickets.Close(ctx, tx, ticket); err != nil {
		if errors.Is(err, ErrSessionAlreadyClosed) {
			s.opts.Metrics.SettlementRecorded(metrics.ResultAlreadyClosed, 0)
			return nil, ErrSessionAlreadyClosed
		}
		s.opts.Metrics.SettlementRecorded(metrics.ResultError, 0)
		return nil, unavailable("close ticket", err)
	}
	if err := tx.Commit(ctx); err != nil {
		s.opts.Metrics.SettlementRecorded(metrics.ResultError, 0)
		return nil, unavailable("commit", err)
	}

	net, _ := settlement.NetAmount.Float64()
	s.opts.Metrics.SettlementRecorded(metrics.ResultSuccess, net)

	if s.opts.Cache != nil {
		if err := s.opts.Cache.Delete(ctx, ticket.UserID, ticket.Plate); err != nil {
			log.Warn().Err(err).Str("ticket_id", ticket.ID).Msg("failed to evict closed ticket from cache")
		}
	}
	return settlement, nil
}

func (s *LedgerService) discountProgram(ctx context.Context, acct model.Account, id string) (*model.DiscountProgram, error) {
	if id == "" {
		return nil, nil
	}
	program, err := s.programs.GetByID(ctx, acct.UserID, id)
	if err != nil {
		return nil, unavailable("get discount program", err)
	}
	if program == nil {
		return nil, ErrDiscountProgramNotFound
	}
	return program, nil
}

// settle prices ticket as if it left at exit. Manual discounts are not a
// ledger concept and are never applied here.
func settle(ticket *model.Ticket, program *model.DiscountProgram, exit time.Time) (*model.Settlement, error) {
	sub, err := fee.ComputeSubtotal(ticket.EntryTime, exit, ticket.RatePerMinute)
	if err != nil {
		return nil, err
	}
	d := fee.ApplyDiscounts(sub.Subtotal, program, decimal.Zero)

	rate := ticket.RatePerMinute
	settlement := &model.Settlement{
		TicketID:              ticket.ID,
		MinutesTotal:          &sub.Minutes,
		RatePerMinute:         &rate,
		GrossAmount:           &sub.Subtotal,
		DiscountProgramAmount: &d.ProgramAmount,
		NetAmount:             &d.Total,
		ExitTime:              &exit,
	}
	if program != nil {
		settlement.DiscountProgramID = &program.ID
		settlement.DiscountProgramName = &program.Name
	}
	return settlement, nil
}

func applySettlement(ticket *model.Ticket, s *model.Settlement) {
	ticket.State = model.StateClosed
	ticket.ExitTime = s.ExitTime
	ticket.TotalMinutes = s.MinutesTotal
	ticket.GrossAmount = s.GrossAmount
	ticket.DiscountProgramID = s.DiscountProgramID
	ticket.DiscountProgramAmount = s.DiscountProgramAmount
	ticket.FinalAmount = s.NetAmount
	ticket.PaymentMethod = s.PaymentMethod
}
