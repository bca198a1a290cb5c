/**
 * @description
 * Pure late-payment penalty evaluation. Given a due date, the current time and
 * a policy (grace days, per-day rate, cap) it derives days overdue and the
 * penalty amount. No side effects and no clock reads of its own: callers pass
 * `now` explicitly so every read path can evaluate fresh values and tests can
 * pin time.
 */

package penalty

import (
	"time"

	"github.com/tenantly/billing-service/internal/domain"
)

// Policy holds the late-fee parameters. Amounts are in paise.
type Policy struct {
	GraceDays int
	PerDay    int64
	Cap       int64
}

// Evaluate returns the days overdue (clamped to zero for clock skew or a due
// date still in the future) and the penalty owed under the policy. Days within
// the grace window accrue nothing; past it the fee grows per chargeable day up
// to the cap.
func Evaluate(dueDate, now time.Time, p Policy) (daysOverdue int, amount int64) {
	if !now.After(dueDate) {
		return 0, 0
	}
	daysOverdue = int(now.Sub(dueDate) / (24 * time.Hour))
	if daysOverdue <= p.GraceDays {
		return daysOverdue, 0
	}
	amount = int64(daysOverdue-p.GraceDays) * p.PerDay
	if p.Cap > 0 && amount > p.Cap {
		amount = p.Cap
	}
	return daysOverdue, amount
}

// Status derives the bill status view from payment progress and the due date.
// "overdue" is how an unpaid bill past due presents, not a stored branch.
func Status(dueDate, now time.Time, paidAmount, totalAmount int64) string {
	if totalAmount > 0 && paidAmount >= totalAmount {
		return domain.BillStatusPaid
	}
	if now.After(dueDate) {
		return domain.BillStatusOverdue
	}
	if paidAmount > 0 {
		return domain.BillStatusPartiallyPaid
	}
	return domain.BillStatusPending
}

// Recompute refreshes the derived fields of an unsettled bill in place.
// Settled bills are frozen: their penalty and total never move again.
func Recompute(b *domain.Bill, now time.Time, p Policy) {
	if b.Settled() {
		b.Status = domain.BillStatusPaid
		b.RemainingAmount = 0
		return
	}
	b.DaysOverdue, b.PenaltyAmount = Evaluate(b.DueDate, now, p)
	b.TotalAmount = b.BaseAmount + b.PenaltyAmount
	b.RemainingAmount = b.TotalAmount - b.PaidAmount
	if b.RemainingAmount < 0 {
		b.RemainingAmount = 0
	}
	b.Status = Status(b.DueDate, now, b.PaidAmount, b.TotalAmount)
}
