// Package reconcile merges a ledger settlement, the last fee preview and the
// ticket itself into the values shown or printed for a ticket.
//
// Each field is resolved on its own: the settlement wins when it carries the
// field, then the values a closed ticket already stores, then the preview, then
// a live computation from the ticket. A
// settlement that omits a field (for example the discount program name) never
// blanks out what the preview already knew.
package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/parking-session-engine/internal/fee"
	"github.com/fairyhunter13/parking-session-engine/internal/model"
)

// Input is everything known about a ticket at display time. Preview and
// Settlement may be nil.
type Input struct {
	Ticket     model.Ticket
	Preview    *model.FeePreview
	Settlement *model.Settlement
	Now        time.Time
}

// Reconcile resolves every display field independently.
// It only fails when a live computation is needed and the ticket's entry is after Now.
func Reconcile(in Input) (model.DisplayValues, error) {
	live, err := liveValues(in)
	if err != nil {
		return model.DisplayValues{}, err
	}

	exitTime := resolveExitTime(in)
	total, estimated := resolveTotal(in, live)

	return model.DisplayValues{
		Plate:                 in.Ticket.Plate,
		EntryTime:             in.Ticket.EntryTime,
		Minutes:               resolveMinutes(in, live),
		TariffLabel:           fee.TariffLabel(resolveRate(in)),
		Subtotal:              resolveSubtotal(in, live),
		DiscountProgramName:   resolveProgramName(in),
		DiscountProgramAmount: resolveProgramAmount(in),
		ManualDiscountAmount:  resolveManualDiscount(in),
		Total:                 total,
		PaymentMethod:         resolvePaymentMethod(in),
		ExitTime:              exitTime,
		Estimated:             estimated,
	}, nil
}

// liveValues computes minutes and subtotal from the ticket, only when a
// field cannot be resolved from the settlement or the preview.
func liveValues(in Input) (*fee.Subtotal, error) {
	s := in.Settlement
	t := in.Ticket
	p := in.Preview
	needMinutes := (s == nil || s.MinutesTotal == nil) && t.TotalMinutes == nil && p == nil
	needSubtotal := (s == nil || s.GrossAmount == nil) && t.GrossAmount == nil && p == nil
	needTotal := (s == nil || s.NetAmount == nil) && t.FinalAmount == nil && p == nil
	if !needMinutes && !needSubtotal && !needTotal {
		return nil, nil
	}

	end := in.Now
	if exit := resolveExitTime(in); exit != nil {
		end = *exit
	}
	sub, err := fee.ComputeSubtotal(in.Ticket.EntryTime, end, resolveRate(in))
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func resolveMinutes(in Input, live *fee.Subtotal) int {
	if in.Settlement != nil && in.Settlement.MinutesTotal != nil {
		return *in.Settlement.MinutesTotal
	}
	if in.Ticket.TotalMinutes != nil {
		return *in.Ticket.TotalMinutes
	}
	if in.Preview != nil {
		return in.Preview.Minutes
	}
	return live.Minutes
}

func resolveRate(in Input) decimal.Decimal {
	if in.Settlement != nil && in.Settlement.RatePerMinute != nil {
		return *in.Settlement.RatePerMinute
	}
	if in.Preview != nil && !in.Preview.RatePerMinute.IsZero() {
		return in.Preview.RatePerMinute
	}
	return in.Ticket.RatePerMinute
}

func resolveSubtotal(in Input, live *fee.Subtotal) decimal.Decimal {
	if in.Settlement != nil && in.Settlement.GrossAmount != nil {
		return *in.Settlement.GrossAmount
	}
	if in.Ticket.GrossAmount != nil {
		return *in.Ticket.GrossAmount
	}
	if in.Preview != nil {
		return in.Preview.Subtotal
	}
	return live.Subtotal
}

func resolveProgramName(in Input) string {
	if in.Settlement != nil && in.Settlement.DiscountProgramName != nil {
		return *in.Settlement.DiscountProgramName
	}
	if in.Preview != nil {
		return in.Preview.DiscountProgramName
	}
	return ""
}

func resolveProgramAmount(in Input) decimal.Decimal {
	if in.Settlement != nil && in.Settlement.DiscountProgramAmount != nil {
		return *in.Settlement.DiscountProgramAmount
	}
	if in.Ticket.DiscountProgramAmount != nil {
		return *in.Ticket.DiscountProgramAmount
	}
	if in.Preview != nil {
		return in.Preview.DiscountProgramAmount
	}
	return decimal.Zero
}

// Manual discounts never reach the ledger, so the settlement has no say here.
func resolveManualDiscount(in Input) decimal.Decimal {
	if in.Preview != nil {
		return in.Preview.ManualDiscountAmount
	}
	return decimal.Zero
}

func resolveTotal(in Input, live *fee.Subtotal) (decimal.Decimal, bool) {
	if in.Settlement != nil && in.Settlement.NetAmount != nil {
		return *in.Settlement.NetAmount, false
	}
	if in.Ticket.FinalAmount != nil {
		return *in.Ticket.FinalAmount, false
	}
	if in.Preview != nil {
		return in.Preview.Total, in.Preview.Estimated
	}
	return live.Subtotal, true
}

func resolvePaymentMethod(in Input) string {
	if in.Settlement != nil && in.Settlement.PaymentMethod != nil {
		return *in.Settlement.PaymentMethod
	}
	if in.Ticket.PaymentMethod != nil {
		return *in.Ticket.PaymentMethod
	}
	return ""
}

func resolveExitTime(in Input) *time.Time {
	if in.Settlement != nil && in.Settlement.ExitTime != nil {
		t := *in.Settlement.ExitTime
		return &t
	}
	if in.Ticket.ExitTime != nil {
		t := *in.Ticket.ExitTime
		return &t
	}
	return nil
}
