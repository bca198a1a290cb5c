/**
 * @description
 * Payment reconciliation: turning a gateway completion callback into a
 * verified payment applied to its bill, or a failed audit record.
 *
 * The flow is fail-closed and idempotent:
 * 1. A replayed (order id, payment id) pair short-circuits to the already
 *    verified payment without touching the bill.
 * 2. The gateway signature is verified before any billing state moves. A
 *    mismatch writes a failed payment record for the audit trail and returns
 *    an error; it never partially applies.
 * 3. Application itself happens inside the store's per-bill critical section,
 *    where the total is snapshotted and the overpayment check runs.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/tenantly/billing-service/internal/domain"
	"github.com/tenantly/billing-service/internal/store"
	"github.com/tenantly/billing-service/pkg/paygate"
)

// ReconcilePayment verifies a gateway completion claim and applies it to the
// bill it pays. Safe to call any number of times for the same claim.
func (s *Service) ReconcilePayment(ctx context.Context, claim domain.PaymentClaim) (*domain.VerificationResult, error) {
	if claim.GatewayOrderID == "" || claim.GatewayPaymentID == "" || claim.GatewaySignature == "" {
		return nil, fmt.Errorf("%w: order id, payment id and signature are required", ErrInvalidRequest)
	}

	// Resolve the claim back to the bill through the initiated payment record.
	initiated, err := s.repo.FindInitiatedPaymentByOrderID(ctx, claim.GatewayOrderID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			// The pair may already be verified from an earlier callback.
			if existing, lookupErr := s.repo.FindPaymentByGatewayIDs(ctx, claim.GatewayOrderID, claim.GatewayPaymentID); lookupErr == nil && existing.Status == domain.PaymentStatusVerified {
				return s.replayResult(ctx, existing)
			}
		}
		return nil, err
	}

	if err := s.consumeRateLimit(ctx, rateLimitScopeVerify, initiated.TenantID, s.verifyLimit); err != nil {
		return nil, err
	}

	if err := s.gateway.VerifySignature(claim.GatewayOrderID, claim.GatewayPaymentID, claim.GatewaySignature); err != nil {
		s.recordFailure(ctx, initiated, claim, "signature mismatch")
		log.Printf("level=warn component=billing op=reconcile order_id=%s msg=\"signature verification failed\"", claim.GatewayOrderID)
		return nil, paygate.ErrSignatureMismatch
	}

	now := s.now().UTC()
	bill, payment, err := s.repo.ApplyVerifiedPayment(ctx, store.ApplyPaymentParams{
		BillID:           initiated.BillID,
		GatewayOrderID:   claim.GatewayOrderID,
		GatewayPaymentID: claim.GatewayPaymentID,
		GatewaySignature: claim.GatewaySignature,
		Amount:           initiated.Amount,
		Method:           paymentMethod(claim),
		Policy:           s.policy,
		Now:              now,
	})
	if err != nil {
		if errors.Is(err, store.ErrOverpayment) {
			s.recordFailure(ctx, initiated, claim, "overpayment")
		}
		return nil, err
	}

	settled := bill.Settled()
	log.Printf("level=info component=billing op=reconcile bill_id=%s payment_id=%s amount=%d paid=%d total=%d settled=%v",
		bill.ID, payment.ID, payment.Amount, bill.PaidAmount, bill.TotalAmount, settled)

	s.publishEvent(domain.EventPaymentApplied, &bill.TenantID, domain.PaymentAppliedPayload{
		Payment: *payment,
		Bill:    bill.Summary(),
	})
	if settled && bill.SettledAt != nil {
		s.publishEvent(domain.EventBillPaid, &bill.TenantID, domain.BillPaidPayload{
			Bill:   bill.Summary(),
			PaidAt: *bill.SettledAt,
		})
	}

	return &domain.VerificationResult{Success: true, Payment: payment, Bill: bill.Summary()}, nil
}

// replayResult rebuilds the verification response for a claim whose payment
// is already verified. No state moves and no events fire.
func (s *Service) replayResult(ctx context.Context, payment *domain.Payment) (*domain.VerificationResult, error) {
	bill, err := s.GetBill(ctx, payment.BillID)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=billing op=reconcile bill_id=%s payment_id=%s msg=\"duplicate callback; returning verified payment\"", payment.BillID, payment.ID)
	return &domain.VerificationResult{Success: true, Payment: payment, Bill: bill.Summary()}, nil
}

// recordFailure appends a failed payment row for the audit trail. Best-effort:
// a write error here must not mask the original failure.
func (s *Service) recordFailure(ctx context.Context, initiated *domain.Payment, claim domain.PaymentClaim, reason string) {
	paymentID := claim.GatewayPaymentID
	signature := claim.GatewaySignature
	failed := &domain.Payment{
		ID:               uuid.New(),
		BillID:           initiated.BillID,
		TenantID:         initiated.TenantID,
		Amount:           initiated.Amount,
		Method:           paymentMethod(claim),
		GatewayOrderID:   claim.GatewayOrderID,
		GatewayPaymentID: &paymentID,
		GatewaySignature: &signature,
		FailureReason:    &reason,
	}
	if err := s.repo.RecordFailedPayment(ctx, failed); err != nil {
		log.Printf("level=warn component=billing op=reconcile order_id=%s msg=\"failed to record audit row\" err=%v", claim.GatewayOrderID, err)
	}
}

func paymentMethod(claim domain.PaymentClaim) string {
	if claim.Method != "" {
		return claim.Method
	}
	return "gateway"
}
