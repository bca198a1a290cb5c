package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tenantly/billing-service/internal/domain"
	"github.com/tenantly/billing-service/internal/store"
	"github.com/tenantly/billing-service/pkg/paygate"
)

// openOrder seeds an initiated payment of the given amount against a bill,
// bypassing the full-total check so partial captures can be exercised.
func openOrder(t *testing.T, repo *memoryRepo, bill *domain.Bill, amount int64) string {
	t.Helper()
	orderID := "order_" + uuid.New().String()[:8]
	payment := &domain.Payment{
		ID:             uuid.New(),
		BillID:         bill.ID,
		TenantID:       bill.TenantID,
		Amount:         amount,
		Method:         "gateway",
		GatewayOrderID: orderID,
	}
	if err := repo.CreateInitiatedPayment(context.Background(), payment); err != nil {
		t.Fatalf("failed to seed initiated payment: %v", err)
	}
	return orderID
}

func TestReconcilePaymentSettlesBill(t *testing.T) {
	svc, _, gateway, publisher := newTestService(testClock)
	tenantID := uuid.New()
	bill, err := svc.GenerateBill(context.Background(), billRequest(tenantID))
	if err != nil {
		t.Fatalf("GenerateBill returned error: %v", err)
	}

	order, err := svc.CreatePaymentOrder(context.Background(), tenantID, bill.ID, bill.TotalAmount)
	if err != nil {
		t.Fatalf("CreatePaymentOrder returned error: %v", err)
	}

	result, err := svc.ReconcilePayment(context.Background(), domain.PaymentClaim{
		GatewayOrderID:   order.OrderID,
		GatewayPaymentID: "pay_settle",
		GatewaySignature: gateway.sign(order.OrderID, "pay_settle"),
	})
	if err != nil {
		t.Fatalf("ReconcilePayment returned error: %v", err)
	}

	if !result.Success {
		t.Error("result.Success = false")
	}
	if result.Bill.Status != domain.BillStatusPaid {
		t.Errorf("bill status = %q, want paid", result.Bill.Status)
	}
	if result.Bill.RemainingAmount != 0 {
		t.Errorf("remaining = %d, want 0", result.Bill.RemainingAmount)
	}
	if result.Payment.Status != domain.PaymentStatusVerified {
		t.Errorf("payment status = %q, want verified", result.Payment.Status)
	}
	if !publisher.waitForKey(domain.EventPaymentApplied, time.Second) {
		t.Error("payment.applied event was not published")
	}
	if !publisher.waitForKey(domain.EventBillPaid, time.Second) {
		t.Error("bill.paid event was not published")
	}
}

func TestReconcilePaymentPartialThenFull(t *testing.T) {
	svc, repo, gateway, _ := newTestService(testClock)
	bill, err := svc.GenerateBill(context.Background(), billRequest(uuid.New()))
	if err != nil {
		t.Fatalf("GenerateBill returned error: %v", err)
	}

	part := bill.TotalAmount / 2
	firstOrder := openOrder(t, repo, bill, part)
	result, err := svc.ReconcilePayment(context.Background(), domain.PaymentClaim{
		GatewayOrderID:   firstOrder,
		GatewayPaymentID: "pay_1",
		GatewaySignature: gateway.sign(firstOrder, "pay_1"),
	})
	if err != nil {
		t.Fatalf("first ReconcilePayment returned error: %v", err)
	}
	if result.Bill.Status != domain.BillStatusPartiallyPaid {
		t.Errorf("status after partial = %q, want partially_paid", result.Bill.Status)
	}
	if result.Bill.PaidAmount != part {
		t.Errorf("paid = %d, want %d", result.Bill.PaidAmount, part)
	}

	secondOrder := openOrder(t, repo, bill, bill.TotalAmount-part)
	result, err = svc.ReconcilePayment(context.Background(), domain.PaymentClaim{
		GatewayOrderID:   secondOrder,
		GatewayPaymentID: "pay_2",
		GatewaySignature: gateway.sign(secondOrder, "pay_2"),
	})
	if err != nil {
		t.Fatalf("second ReconcilePayment returned error: %v", err)
	}
	if result.Bill.Status != domain.BillStatusPaid {
		t.Errorf("status after full = %q, want paid", result.Bill.Status)
	}

	// Any further payment is an overpayment.
	thirdOrder := openOrder(t, repo, bill, 1000)
	_, err = svc.ReconcilePayment(context.Background(), domain.PaymentClaim{
		GatewayOrderID:   thirdOrder,
		GatewayPaymentID: "pay_3",
		GatewaySignature: gateway.sign(thirdOrder, "pay_3"),
	})
	if !errors.Is(err, store.ErrOverpayment) {
		t.Fatalf("expected ErrOverpayment, got %v", err)
	}
}

func TestReconcilePaymentDuplicateCallback(t *testing.T) {
	svc, _, gateway, _ := newTestService(testClock)
	tenantID := uuid.New()
	bill, err := svc.GenerateBill(context.Background(), billRequest(tenantID))
	if err != nil {
		t.Fatalf("GenerateBill returned error: %v", err)
	}

	order, err := svc.CreatePaymentOrder(context.Background(), tenantID, bill.ID, bill.TotalAmount)
	if err != nil {
		t.Fatalf("CreatePaymentOrder returned error: %v", err)
	}
	claim := domain.PaymentClaim{
		GatewayOrderID:   order.OrderID,
		GatewayPaymentID: "pay_dup",
		GatewaySignature: gateway.sign(order.OrderID, "pay_dup"),
	}

	first, err := svc.ReconcilePayment(context.Background(), claim)
	if err != nil {
		t.Fatalf("first ReconcilePayment returned error: %v", err)
	}
	second, err := svc.ReconcilePayment(context.Background(), claim)
	if err != nil {
		t.Fatalf("replayed ReconcilePayment returned error: %v", err)
	}

	if second.Payment.ID != first.Payment.ID {
		t.Errorf("replay produced a different payment: %s vs %s", second.Payment.ID, first.Payment.ID)
	}
	if second.Bill.PaidAmount != first.Bill.PaidAmount {
		t.Errorf("replay moved paid amount: %d vs %d", second.Bill.PaidAmount, first.Bill.PaidAmount)
	}
}

func TestReconcilePaymentSignatureMismatch(t *testing.T) {
	svc, repo, _, _ := newTestService(testClock)
	tenantID := uuid.New()
	bill, err := svc.GenerateBill(context.Background(), billRequest(tenantID))
	if err != nil {
		t.Fatalf("GenerateBill returned error: %v", err)
	}

	order, err := svc.CreatePaymentOrder(context.Background(), tenantID, bill.ID, bill.TotalAmount)
	if err != nil {
		t.Fatalf("CreatePaymentOrder returned error: %v", err)
	}

	_, err = svc.ReconcilePayment(context.Background(), domain.PaymentClaim{
		GatewayOrderID:   order.OrderID,
		GatewayPaymentID: "pay_bad",
		GatewaySignature: "forged",
	})
	if !errors.Is(err, paygate.ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}

	// The bill must be untouched and a failed audit row recorded.
	got, err := svc.GetBill(context.Background(), bill.ID)
	if err != nil {
		t.Fatalf("GetBill returned error: %v", err)
	}
	if got.PaidAmount != 0 {
		t.Errorf("PaidAmount = %d after rejected signature, want 0", got.PaidAmount)
	}

	payments, _ := repo.FindPaymentsByBillID(context.Background(), bill.ID)
	var failed int
	for _, p := range payments {
		if p.Status == domain.PaymentStatusFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed audit rows = %d, want 1", failed)
	}
}

func TestReconcilePaymentUnknownOrder(t *testing.T) {
	svc, _, gateway, _ := newTestService(testClock)

	_, err := svc.ReconcilePayment(context.Background(), domain.PaymentClaim{
		GatewayOrderID:   "order_missing",
		GatewayPaymentID: "pay_x",
		GatewaySignature: gateway.sign("order_missing", "pay_x"),
	})
	if !errors.Is(err, store.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestReconcilePaymentConcurrentDistinctClaims(t *testing.T) {
	svc, repo, gateway, _ := newTestService(testClock)
	bill, err := svc.GenerateBill(context.Background(), billRequest(uuid.New()))
	if err != nil {
		t.Fatalf("GenerateBill returned error: %v", err)
	}
	if bill.TotalAmount%2 != 0 {
		t.Fatalf("total %d is odd, cannot split into equal halves", bill.TotalAmount)
	}

	// Six distinct half-total captures race; only two can fit in the bill.
	half := bill.TotalAmount / 2
	const claims = 6
	orders := make([]string, claims)
	for i := range orders {
		orders[i] = openOrder(t, repo, bill, half)
	}

	var wg sync.WaitGroup
	errs := make([]error, claims)
	for i := 0; i < claims; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paymentID := fmt.Sprintf("pay_distinct_%d", i)
			_, errs[i] = svc.ReconcilePayment(context.Background(), domain.PaymentClaim{
				GatewayOrderID:   orders[i],
				GatewayPaymentID: paymentID,
				GatewaySignature: gateway.sign(orders[i], paymentID),
			})
		}(i)
	}
	wg.Wait()

	var applied, rejected int
	for i, err := range errs {
		switch {
		case err == nil:
			applied++
		case errors.Is(err, store.ErrOverpayment):
			rejected++
		default:
			t.Fatalf("claim %d returned unexpected error: %v", i, err)
		}
	}
	if applied != 2 || rejected != 4 {
		t.Fatalf("applied = %d, rejected = %d, want 2 and 4", applied, rejected)
	}

	got, err := svc.GetBill(context.Background(), bill.ID)
	if err != nil {
		t.Fatalf("GetBill returned error: %v", err)
	}
	if got.PaidAmount != bill.TotalAmount {
		t.Errorf("PaidAmount = %d, want %d", got.PaidAmount, bill.TotalAmount)
	}
	if got.Status != domain.BillStatusPaid {
		t.Errorf("status = %q, want paid", got.Status)
	}
}

func TestReconcilePaymentConcurrentDuplicates(t *testing.T) {
	svc, _, gateway, _ := newTestService(testClock)
	tenantID := uuid.New()
	bill, err := svc.GenerateBill(context.Background(), billRequest(tenantID))
	if err != nil {
		t.Fatalf("GenerateBill returned error: %v", err)
	}

	order, err := svc.CreatePaymentOrder(context.Background(), tenantID, bill.ID, bill.TotalAmount)
	if err != nil {
		t.Fatalf("CreatePaymentOrder returned error: %v", err)
	}
	claim := domain.PaymentClaim{
		GatewayOrderID:   order.OrderID,
		GatewayPaymentID: "pay_race",
		GatewaySignature: gateway.sign(order.OrderID, "pay_race"),
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*domain.VerificationResult, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ReconcilePayment(context.Background(), claim)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d returned error: %v", i, errs[i])
		}
	}

	// Every caller sees the same applied payment, and the bill was paid once.
	got, err := svc.GetBill(context.Background(), bill.ID)
	if err != nil {
		t.Fatalf("GetBill returned error: %v", err)
	}
	if got.PaidAmount != bill.TotalAmount {
		t.Fatalf("PaidAmount = %d, want %d (applied exactly once)", got.PaidAmount, bill.TotalAmount)
	}
	paymentID := results[0].Payment.ID
	for i := 1; i < workers; i++ {
		if results[i].Payment.ID != paymentID {
			t.Fatalf("worker %d saw a different payment id", i)
		}
	}
}
