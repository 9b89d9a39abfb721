// Package fee computes what a parking ticket owes: time-based subtotal,
// discount program and manual discount, in that fixed order.
package fee

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/parking-session-engine/internal/model"
)

var (
	// ErrInvalidInterval is returned when the end of an interval is before its start.
	ErrInvalidInterval = errors.New("invalid interval: end before start")

	// ErrInvalidInput is returned for manual discount text that is not a non-negative amount
	// and for rates the ledger cannot store.
	ErrInvalidInput = errors.New("invalid input")
)

// Rates are stored as NUMERIC(10, 4).
const (
	RateScale = 4

	minRateExponent = -64
	maxRateExponent = 6
)

var maxRate = decimal.New(1, 6)

var hundred = decimal.NewFromInt(100)

// Subtotal is the undiscounted fee for an interval.
type Subtotal struct {
	Minutes  int
	Subtotal decimal.Decimal
}

// Discounts is the result of applying a discount program and a manual discount to a subtotal.
type Discounts struct {
	ProgramAmount decimal.Decimal
	ManualAmount  decimal.Decimal
	Total         decimal.Decimal
}

// Round2 rounds to cents, half away from zero (half-up for the non-negative
// amounts handled here).
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Minutes returns the billable minutes between entry and now: partial minutes
// round up and a stay is never shorter than one minute.
func Minutes(entry, now time.Time) (int, error) {
	elapsed := now.Sub(entry)
	if elapsed < 0 {
		return 0, ErrInvalidInterval
	}
	minutes := int((elapsed + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes, nil
}

// ComputeSubtotal prices the interval [entry, now] at ratePerMinute.
func ComputeSubtotal(entry, now time.Time, ratePerMinute decimal.Decimal) (Subtotal, error) {
	minutes, err := Minutes(entry, now)
	if err != nil {
		return Subtotal{}, err
	}
	return Subtotal{
		Minutes:  minutes,
		Subtotal: Round2(decimal.NewFromInt(int64(minutes)).Mul(ratePerMinute)),
	}, nil
}

// ApplyDiscounts applies at most one discount program, then the manual
// discount. A negative manual amount counts as zero and the total is floored
// at zero, so an oversized manual discount is silently absorbed.
func ApplyDiscounts(subtotal decimal.Decimal, program *model.DiscountProgram, manual decimal.Decimal) Discounts {
	percent := decimal.Zero
	if program != nil {
		percent = clampPercent(program.PercentOff)
	}
	if manual.IsNegative() {
		manual = decimal.Zero
	}

	programAmount := Round2(subtotal.Mul(percent).Div(hundred))
	total := Round2(subtotal.Sub(programAmount).Sub(manual))
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Discounts{
		ProgramAmount: programAmount,
		ManualAmount:  manual,
		Total:         total,
	}
}

func clampPercent(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

// ComputeLivePreview builds a locally computed preview for ticket at now.
// It reads the ticket but never modifies it.
func ComputeLivePreview(ticket *model.Ticket, now time.Time, program *model.DiscountProgram, manual decimal.Decimal) (*model.FeePreview, error) {
	sub, err := ComputeSubtotal(ticket.EntryTime, now, ticket.RatePerMinute)
	if err != nil {
		return nil, err
	}
	d := ApplyDiscounts(sub.Subtotal, program, manual)

	preview := &model.FeePreview{
		TicketID:              ticket.ID,
		Minutes:               sub.Minutes,
		RatePerMinute:         ticket.RatePerMinute,
		Subtotal:              sub.Subtotal,
		DiscountProgramAmount: d.ProgramAmount,
		ManualDiscountAmount:  d.ManualAmount,
		Total:                 d.Total,
		ComputedAt:            now,
		Estimated:             true,
	}
	if program != nil {
		preview.DiscountProgramName = program.Name
	}
	return preview, nil
}

// ValidateRate reports whether rate fits the ledger's rate column: non-negative,
// at most RateScale decimal places and below 1,000,000. The exponent is checked
// before any arithmetic so "1e-2000000000" is rejected without expanding it.
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() {
		return ErrInvalidInput
	}
	if exp := rate.Exponent(); exp < minRateExponent || exp > maxRateExponent {
		return ErrInvalidInput
	}
	if !rate.Equal(rate.Round(RateScale)) {
		return ErrInvalidInput
	}
	if rate.GreaterThanOrEqual(maxRate) {
		return ErrInvalidInput
	}
	return nil
}

// ParseManualDiscount turns operator-typed text into a non-negative amount.
// Empty text is zero. Both "0,50" and "0.50" are accepted, as is a leading "R$".
func ParseManualDiscount(text string) (decimal.Decimal, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimSpace(strings.TrimPrefix(s, "R$"))
	if s == "" {
		return decimal.Zero, nil
	}
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, ErrInvalidInput
	}
	if strings.Contains(s, ",") {
		// 1.234,56
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidInput
	}
	if d.IsNegative() {
		return decimal.Zero, ErrInvalidInput
	}
	return Round2(d), nil
}

// FormatBRL renders an amount as "R$ 5.16".
func FormatBRL(d decimal.Decimal) string {
	return "R$ " + d.StringFixed(2)
}

// TariffLabel renders a per-minute rate as "R$ 0.12/min", keeping extra
// precision when the rate has more than two decimals.
func TariffLabel(rate decimal.Decimal) string {
	if rate.Equal(Round2(rate)) {
		return "R$ " + rate.StringFixed(2) + "/min"
	}
	return "R$ " + rate.String() + "/min"
}
