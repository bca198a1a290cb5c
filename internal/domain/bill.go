/**
 * @description
 * This file defines the core billing domain models for the billing-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and external service
 *   payloads ensures clear separation of concerns and type safety.
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (paise), which avoids floating-point inaccuracies with financial data.
 * - Penalty, total and status columns on a bill are caches: the authoritative
 *   values are recomputed from (dueDate, now, paidAmount) on every read that
 *   feeds a financial decision.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Bill statuses. "overdue" is a view of pending/partially_paid past the due
// date, never a separately persisted branch.
const (
	BillStatusPending       = "pending"
	BillStatusPartiallyPaid = "partially_paid"
	BillStatusPaid          = "paid"
	BillStatusOverdue       = "overdue"
)

// BillingPeriod identifies one tenant billing month.
type BillingPeriod struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// Valid reports whether the period is a real calendar month.
func (p BillingPeriod) Valid() bool {
	return p.Month >= 1 && p.Month <= 12 && p.Year >= 2000 && p.Year <= 2200
}

func (p BillingPeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// AdditionalCharge is an ad-hoc line item attached to a bill (stored as jsonb).
type AdditionalCharge struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"` // in paise
}

// BillLineItems carries the operator-supplied charge inputs for one bill.
type BillLineItems struct {
	Rent                 int64              `json:"rent"`                   // in paise
	ElectricityStartUnit int64              `json:"electricity_start_unit"` // meter reading
	ElectricityEndUnit   int64              `json:"electricity_end_unit"`   // meter reading
	ElectricityRate      int64              `json:"electricity_rate"`       // paise per unit
	Water                int64              `json:"water"`                  // in paise
	CommonArea           int64              `json:"common_area"`            // in paise
	AdditionalCharges    []AdditionalCharge `json:"additional_charges,omitempty"`
}

// ElectricityAmount derives the electricity charge from the meter readings.
func (li BillLineItems) ElectricityAmount() int64 {
	units := li.ElectricityEndUnit - li.ElectricityStartUnit
	if units < 0 {
		units = 0
	}
	return units * li.ElectricityRate
}

// BaseAmount is the sum of all line items before penalty.
func (li BillLineItems) BaseAmount() int64 {
	total := li.Rent + li.ElectricityAmount() + li.Water + li.CommonArea
	for _, c := range li.AdditionalCharges {
		total += c.Amount
	}
	return total
}

// Bill represents one tenant's charges for one billing period.
// This struct maps directly to the `bills` table in the database.
type Bill struct {
	ID          uuid.UUID     `json:"id"`
	TenantID    uuid.UUID     `json:"tenant_id"`
	RoomID      string        `json:"room_id"`
	Period      BillingPeriod `json:"period"`
	BillNumber  string        `json:"bill_number"`
	LineItems   BillLineItems `json:"line_items"`
	BaseAmount  int64         `json:"base_amount"` // in paise
	DueDate     time.Time     `json:"due_date"`

	// Derived penalty/total fields. Cached in the database, refreshed on every
	// read via Recompute; frozen once the bill settles.
	DaysOverdue     int   `json:"days_overdue"`
	PenaltyAmount   int64 `json:"penalty_amount"`   // in paise
	TotalAmount     int64 `json:"total_amount"`     // in paise
	PaidAmount      int64 `json:"paid_amount"`      // in paise
	RemainingAmount int64 `json:"remaining_amount"` // in paise

	Status    string     `json:"status"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
	Payments  []Payment  `json:"payments,omitempty"`
	DeletedAt *time.Time `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Settled reports whether the bill has reached its terminal paid state.
// Settled bills never accrue further penalty.
func (b *Bill) Settled() bool {
	return b.SettledAt != nil || b.Status == BillStatusPaid
}

// BillSummary is the compact projection carried inside domain events so that
// stream consumers can update their caches without a follow-up read.
type BillSummary struct {
	ID              uuid.UUID     `json:"id"`
	TenantID        uuid.UUID     `json:"tenant_id"`
	BillNumber      string        `json:"bill_number"`
	Period          BillingPeriod `json:"period"`
	TotalAmount     int64         `json:"total_amount"`
	PaidAmount      int64         `json:"paid_amount"`
	RemainingAmount int64         `json:"remaining_amount"`
	Status          string        `json:"status"`
	DueDate         time.Time     `json:"due_date"`
}

// Summary builds the event projection for the bill's current state.
func (b *Bill) Summary() BillSummary {
	return BillSummary{
		ID:              b.ID,
		TenantID:        b.TenantID,
		BillNumber:      b.BillNumber,
		Period:          b.Period,
		TotalAmount:     b.TotalAmount,
		PaidAmount:      b.PaidAmount,
		RemainingAmount: b.RemainingAmount,
		Status:          b.Status,
		DueDate:         b.DueDate,
	}
}

// GenerateBillRequest is the DTO for the bill-generation API.
type GenerateBillRequest struct {
	TenantID  uuid.UUID     `json:"tenant_id"`
	RoomID    string        `json:"room_id"`
	Period    BillingPeriod `json:"period"`
	LineItems BillLineItems `json:"line_items"`
}

// PeriodReport is the read-only query contract consumed by the external
// reporting component: all non-deleted bills for a period with their payments.
type PeriodReport struct {
	Period BillingPeriod `json:"period"`
	Bills  []Bill        `json:"bills"`
}
