/**
 * @description
 * Payment domain models for the billing-service: the internal payment ledger
 * record, the gateway order descriptor returned to clients, and the claim DTO
 * that gateway callbacks are translated into before reconciliation.
 *
 * @notes
 * - A (gateway_order_id, gateway_payment_id) pair is applied at most once; the
 *   store enforces this with a unique constraint rather than check-then-insert.
 * - Payments are immutable after reaching the `verified` status.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment statuses.
const (
	PaymentStatusInitiated = "initiated"
	PaymentStatusVerified  = "verified"
	PaymentStatusFailed    = "failed"
)

// Payment represents one payment record against a bill.
// This struct maps directly to the `bill_payments` table in the database.
type Payment struct {
	ID               uuid.UUID  `json:"id"`
	BillID           uuid.UUID  `json:"bill_id"`
	TenantID         uuid.UUID  `json:"tenant_id"`
	Amount           int64      `json:"amount"` // in paise
	Method           string     `json:"method"`
	GatewayOrderID   string     `json:"gateway_order_id"`
	GatewayPaymentID *string    `json:"gateway_payment_id,omitempty"`
	GatewaySignature *string    `json:"-"`
	Status           string     `json:"status"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CreateOrderRequest is the DTO for the payment-order creation API. The
// claimed amount is the total the client last read; order creation fails with
// a stale-amount error when penalty has accrued past it.
type CreateOrderRequest struct {
	Amount int64 `json:"amount"` // in paise
}

// GatewayOrder is the order descriptor handed back to the paying client.
type GatewayOrder struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"` // in paise
	Currency string `json:"currency"`
}

// PaymentClaim is a gateway completion callback translated into internal
// terms: the order/payment id pair plus the signature to verify.
type PaymentClaim struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	GatewaySignature string `json:"gateway_signature"`
	Method           string `json:"method,omitempty"`
}

// VerificationResult is the payment-verification API response.
type VerificationResult struct {
	Success bool        `json:"success"`
	Payment *Payment    `json:"payment,omitempty"`
	Bill    BillSummary `json:"bill"`
}
