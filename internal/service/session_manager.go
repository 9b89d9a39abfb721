package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/parking-session-engine/internal/fee"
	"github.com/fairyhunter13/parking-session-engine/internal/metrics"
	"github.com/fairyhunter13/parking-session-engine/internal/model"
	"github.com/fairyhunter13/parking-session-engine/internal/plate"
	"github.com/fairyhunter13/parking-session-engine/internal/reconcile"
)

// ErrCloseInProgress is returned when Close is called while another Close on
// the same session is still waiting for the ledger.
var ErrCloseInProgress = errors.New("close already in progress")

// SessionManager drives tickets through their lifecycle against a Ledger.
// It holds no state shared between sessions.
type SessionManager struct {
	ledger  Ledger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSessionManager creates a SessionManager over ledger. m may be nil.
func NewSessionManager(ledger Ledger, m *metrics.Metrics) *SessionManager {
	return NewSessionManagerWithClock(ledger, m, time.Now)
}

// NewSessionManagerWithClock creates a SessionManager with a custom clock.
// Primarily used for testing.
func NewSessionManagerWithClock(ledger Ledger, m *metrics.Metrics, now func() time.Time) *SessionManager {
	return &SessionManager{ledger: ledger, metrics: m, now: now}
}

// FindOpenByPlate looks up the open ticket for a plate.
// Returns ErrInvalidPlate before calling the ledger when the plate is too short,
// and ErrSessionNotFound, distinct from ErrLedgerUnavailable, when nothing is open.
func (m *SessionManager) FindOpenByPlate(ctx context.Context, acct model.Account, rawPlate string) (*Session, error) {
	p, err := plate.Parse(rawPlate)
	if err != nil {
		return nil, err
	}
	ticket, err := m.ledger.LookupOpenSession(ctx, acct, p)
	if err != nil {
		return nil, fmt.Errorf("lookup open session %s: %w", p, err)
	}
	return m.Resume(acct, ticket), nil
}

// Open registers an entry. The ledger assigns the id and entry time.
// ErrSessionAlreadyOpen and ErrLedgerUnavailable are returned to the caller as is;
// nothing is retried or fabricated locally.
func (m *SessionManager) Open(ctx context.Context, acct model.Account, rawPlate string, ratePerMinute decimal.Decimal) (*Session, error) {
	p, err := plate.Parse(rawPlate)
	if err != nil {
		return nil, err
	}
	ticket, err := m.ledger.OpenSession(ctx, acct, p, ratePerMinute)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", p, err)
	}
	log.Info().Str("ticket_id", ticket.ID).Str("plate", ticket.Plate).Msg("ticket opened")
	return m.Resume(acct, ticket), nil
}

// ListDiscountPrograms returns the discount programs of the account.
func (m *SessionManager) ListDiscountPrograms(ctx context.Context, acct model.Account) ([]model.DiscountProgram, error) {
	programs, err := m.ledger.ListDiscountPrograms(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("list discount programs: %w", err)
	}
	return programs, nil
}

// Resume wraps a ticket fetched elsewhere in a Session.
func (m *SessionManager) Resume(acct model.Account, ticket *model.Ticket) *Session {
	s := &Session{
		mgr:    m,
		acct:   acct,
		ticket: ticket.Clone(),
		state:  ticket.State,
		closed: make(chan struct{}),
	}
	if s.state == "" {
		s.state = model.StateOpen
	}
	if s.state == model.StateClosed {
		close(s.closed)
	}
	return s
}

// PreviewOptions selects the discounts applied to a preview.
type PreviewOptions struct {
	Program        *model.DiscountProgram
	ManualDiscount decimal.Decimal
}

// CloseOptions carries the operator's choices at settlement.
// Manual discounts stay local and are not part of it.
type CloseOptions struct {
	PaymentMethod     string
	DiscountProgramID string
}

// Session is one ticket owned by its SessionManager. Safe for concurrent use.
type Session struct {
	mgr  *SessionManager
	acct model.Account

	mu         sync.Mutex
	ticket     model.Ticket
	state      model.TicketState
	preview    *model.FeePreview
	settlement *model.Settlement
	closing    bool
	closed     chan struct{}
}

// Ticket returns a copy of the ticket.
func (s *Session) Ticket() model.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.ticket.Clone()
	t.State = s.state
	return t
}

// State returns the lifecycle state.
func (s *Session) State() model.TicketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Settlement returns a copy of the ledger's settlement, or nil while the ticket is open.
func (s *Session) Settlement() *model.Settlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settlement.Clone()
}

// LastPreview returns a copy of the most recent preview, or nil.
func (s *Session) LastPreview() *model.FeePreview {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preview == nil {
		return nil
	}
	p := *s.preview
	return &p
}

// Done is closed once the session is settled.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Preview asks the ledger what the ticket owes now and applies the manual
// discount on top. When the ledger is unavailable the preview is computed
// locally from the ticket and flagged Estimated.
//
// A response that arrives after the session closed is discarded and
// ErrSessionAlreadyClosed is returned.
func (s *Session) Preview(ctx context.Context, opts PreviewOptions) (*model.FeePreview, error) {
	s.mu.Lock()
	if s.state == model.StateClosed {
		s.mu.Unlock()
		return nil, ErrSessionAlreadyClosed
	}
	ticket := s.ticket
	s.mu.Unlock()

	programID := ""
	if opts.Program != nil {
		programID = opts.Program.ID
	}

	now := s.mgr.now()
	remote, err := s.mgr.ledger.GetFeePreview(ctx, s.acct, ticket.ID, programID)

	var preview *model.FeePreview
	switch {
	case err == nil:
		preview, err = previewFromLedger(&ticket, remote, opts, now)
		if err != nil {
			return nil, err
		}
		s.mgr.metrics.PreviewServed(metrics.SourceLedger)
	case errors.Is(err, ErrLedgerUnavailable):
		log.Warn().Err(err).Str("ticket_id", ticket.ID).Msg("ledger unavailable, estimating fee locally")
		preview, err = fee.ComputeLivePreview(&ticket, now, opts.Program, opts.ManualDiscount)
		if err != nil {
			return nil, err
		}
		s.mgr.metrics.PreviewServed(metrics.SourceLocal)
	default:
		if errors.Is(err, ErrSessionAlreadyClosed) {
			// Settled on another device.
			s.mu.Lock()
			s.markClosed()
			s.mu.Unlock()
		}
		return nil, fmt.Errorf("fee preview %s: %w", ticket.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == model.StateClosed {
		return nil, ErrSessionAlreadyClosed
	}
	s.state = model.StatePreviewComputed
	s.preview = preview

	out := *preview
	return &out, nil
}

// previewFromLedger turns the ledger's settlement-shaped estimate into a
// preview. Fields the ledger left out are filled from a local computation.
func previewFromLedger(ticket *model.Ticket, remote *model.Settlement, opts PreviewOptions, now time.Time) (*model.FeePreview, error) {
	local, localErr := fee.ComputeLivePreview(ticket, now, opts.Program, decimal.Zero)
	complete := remote.MinutesTotal != nil && remote.GrossAmount != nil &&
		remote.DiscountProgramAmount != nil && remote.NetAmount != nil
	if localErr != nil && !complete {
		return nil, localErr
	}
	if local == nil {
		local = &model.FeePreview{}
	}

	preview := &model.FeePreview{
		TicketID:              ticket.ID,
		Minutes:               local.Minutes,
		RatePerMinute:         ticket.RatePerMinute,
		Subtotal:              local.Subtotal,
		DiscountProgramAmount: local.DiscountProgramAmount,
		ComputedAt:            now,
	}
	if opts.Program != nil {
		preview.DiscountProgramName = opts.Program.Name
	}
	if remote.MinutesTotal != nil {
		preview.Minutes = *remote.MinutesTotal
	}
	if remote.RatePerMinute != nil {
		preview.RatePerMinute = *remote.RatePerMinute
	}
	if remote.GrossAmount != nil {
		preview.Subtotal = *remote.GrossAmount
	}
	if remote.DiscountProgramAmount != nil {
		preview.DiscountProgramAmount = *remote.DiscountProgramAmount
	}
	if remote.DiscountProgramName != nil {
		preview.DiscountProgramName = *remote.DiscountProgramName
	}

	net := preview.Subtotal.Sub(preview.DiscountProgramAmount)
	if remote.NetAmount != nil {
		net = *remote.NetAmount
	}
	manual := opts.ManualDiscount
	if manual.IsNegative() {
		manual = decimal.Zero
	}
	total := fee.Round2(net.Sub(manual))
	if total.IsNegative() {
		total = decimal.Zero
	}
	preview.ManualDiscountAmount = manual
	preview.Total = total
	return preview, nil
}

// Close settles the ticket with the ledger and adopts the ledger's
// settlement as final. Closing a settled session fails with
// ErrSessionAlreadyClosed and leaves the first settlement untouched. A ledger
// failure leaves the session open so the caller can retry explicitly.
func (s *Session) Close(ctx context.Context, opts CloseOptions) (*model.Settlement, error) {
	if opts.PaymentMethod == "" {
		return nil, ErrInvalidRequest
	}

	s.mu.Lock()
	if s.state == model.StateClosed {
		s.mu.Unlock()
		return nil, ErrSessionAlreadyClosed
	}
	if s.closing {
		s.mu.Unlock()
		return nil, ErrCloseInProgress
	}
	s.closing = true
	ticketID := s.ticket.ID
	s.mu.Unlock()

	settlement, err := s.mgr.ledger.CloseSession(ctx, s.acct, ticketID, CloseRequest{
		PaymentMethod:     opts.PaymentMethod,
		DiscountProgramID: opts.DiscountProgramID,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = false

	if err != nil {
		if errors.Is(err, ErrSessionAlreadyClosed) {
			// Settled elsewhere; nothing left to do with this session.
			s.markClosed()
		}
		if IsStateConflict(err) {
			log.Info().Err(err).Str("ticket_id", ticketID).Msg("close rejected by ledger")
		} else {
			log.Warn().Err(err).Str("ticket_id", ticketID).Msg("close session failed")
		}
		return nil, fmt.Errorf("close session %s: %w", ticketID, err)
	}

	s.settlement = settlement.Clone()
	applySettlement(&s.ticket, s.settlement.Clone())
	s.markClosed()

	log.Info().Str("ticket_id", ticketID).Str("payment_method", opts.PaymentMethod).Msg("ticket settled")

	return settlement, nil
}

// markClosed must be called with mu held.
func (s *Session) markClosed() {
	if s.state == model.StateClosed {
		return
	}
	s.state = model.StateClosed
	close(s.closed)
}

// Display merges the settlement, the last preview and the ticket into
// display values.
func (s *Session) Display() (model.DisplayValues, error) {
	s.mu.Lock()
	in := reconcile.Input{
		Ticket:     s.ticket,
		Preview:    s.preview,
		Settlement: s.settlement,
		Now:        s.mgr.now(),
	}
	s.mu.Unlock()
	return reconcile.Reconcile(in)
}

// Refresh recomputes the preview every interval and hands each one to
// onPreview, until ctx is cancelled or the session closes. It returns nil once
// the session is closed and ctx.Err() on cancellation. Transient failures are
// logged and retried on the next tick; ErrInvalidInterval and
// ErrSessionNotFound stop the loop. A non-positive interval is ErrInvalidRequest.
func (s *Session) Refresh(ctx context.Context, interval time.Duration, opts PreviewOptions, onPreview func(*model.FeePreview)) error {
	if interval <= 0 {
		return ErrInvalidRequest
	}
	ticketID := s.Ticket().ID
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		preview, err := s.Preview(ctx, opts)
		switch {
		case err == nil:
			if onPreview != nil {
				onPreview(preview)
			}
		case errors.Is(err, ErrSessionAlreadyClosed):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrInvalidInterval), errors.Is(err, ErrSessionNotFound):
			return err
		default:
			log.Warn().Err(err).Str("ticket_id", ticketID).Msg("preview refresh failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return nil
		case <-ticker.C:
		}
	}
}
