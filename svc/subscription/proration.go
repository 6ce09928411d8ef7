package subscription

import (
	"math"
	"time"
)

// remainingFraction is the unused share of [start, end) at now, clamped to [0, 1].
func remainingFraction(start, end, now time.Time) float64 {
	total := end.Sub(start)
	if total <= 0 {
		return 0
	}
	remaining := end.Sub(now)
	switch {
	case remaining <= 0:
		return 0
	case remaining >= total:
		return 1
	}
	return remaining.Seconds() / total.Seconds()
}

// Prorate credits the unused part of the current amount and charges the
// same share of the new amount. The net is never a negative charge: an
// overpayment becomes a credit note.
func Prorate(sub Subscription, newAmount int64, now time.Time) Proration {
	f := remainingFraction(sub.StartDate, sub.EndDate, now)
	p := Proration{
		UnusedCredit: max(int64(math.Round(float64(sub.Amount)*f)), 0),
		NewCharge:    max(int64(math.Round(float64(newAmount)*f)), 0),
	}
	if net := p.NewCharge - p.UnusedCredit; net >= 0 {
		p.AmountDue = net
	} else {
		p.CreditNote = -net
	}
	return p
}
