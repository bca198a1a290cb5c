/**
 * @description
 * This file contains the core business logic for the billing-service. The
 * `Service` struct orchestrates the bill lifecycle, coordinating between the
 * database repository, the payment gateway client and the message broker.
 *
 * Key features:
 * - Idempotent bill generation per (tenant, period).
 * - Recompute-on-read: penalty, total, remaining and status are derived from
 *   (dueDate, now, paidAmount) on every read that feeds a financial decision.
 * - Payment order creation with stale-amount detection and per-tenant rate
 *   limiting.
 * - Publishes domain events to RabbitMQ for the distribution channel.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/penalty, internal/store: Domain models, penalty policy and data access.
 * - pkg/paygate, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tenantly/billing-service/internal/domain"
	"github.com/tenantly/billing-service/internal/penalty"
	"github.com/tenantly/billing-service/internal/store"
	"github.com/tenantly/billing-service/pkg/paygate"
	"github.com/tenantly/billing-service/pkg/rabbitmq"
)

const (
	rateLimitScopeOrder  = "payment_order"
	rateLimitScopeVerify = "payment_verify"
	rateLimitWindow      = time.Minute
)

// Gateway is the slice of the payment gateway client the service depends on.
// *paygate.Client satisfies it; tests substitute a stub.
type Gateway interface {
	CreateOrder(ctx context.Context, receipt string, amount int64) (*paygate.OrderResponse, error)
	VerifySignature(orderID, paymentID, signature string) error
}

// Service provides the core business logic for the billing engine.
type Service struct {
	repo          store.Repository
	gateway       Gateway
	eventProducer rabbitmq.Publisher
	rateLimiter   RateLimiter

	policy        penalty.Policy
	dueOffsetDays int
	orderLimit    int
	verifyLimit   int

	// now is swappable so tests can pin the clock.
	now func() time.Time
}

// NewService creates a new billing service instance.
func NewService(repo store.Repository, gateway Gateway, producer rabbitmq.Publisher, limiter RateLimiter, policy penalty.Policy, dueOffsetDays, orderLimit, verifyLimit int) *Service {
	if dueOffsetDays <= 0 {
		dueOffsetDays = 10
	}
	return &Service{
		repo:          repo,
		gateway:       gateway,
		eventProducer: producer,
		rateLimiter:   limiter,
		policy:        policy,
		dueOffsetDays: dueOffsetDays,
		orderLimit:    orderLimit,
		verifyLimit:   verifyLimit,
		now:           time.Now,
	}
}

// Policy exposes the configured penalty policy for read paths outside the
// service (the scheduler and the websocket sync provider).
func (s *Service) Policy() penalty.Policy {
	return s.policy
}

// GenerateBill creates the bill for one tenant and period. Generation is
// idempotent per (tenant, period): a second attempt surfaces
// store.ErrDuplicateBill instead of creating a sibling.
func (s *Service) GenerateBill(ctx context.Context, req domain.GenerateBillRequest) (*domain.Bill, error) {
	if req.TenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidRequest)
	}
	if !req.Period.Valid() {
		return nil, fmt.Errorf("%w: period %d/%d is not a calendar month", ErrInvalidRequest, req.Period.Month, req.Period.Year)
	}
	if err := validateLineItems(req.LineItems); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	bill := &domain.Bill{
		ID:         uuid.New(),
		TenantID:   req.TenantID,
		RoomID:     strings.TrimSpace(req.RoomID),
		Period:     req.Period,
		LineItems:  req.LineItems,
		BaseAmount: req.LineItems.BaseAmount(),
		DueDate:    now.AddDate(0, 0, s.dueOffsetDays),
		Status:     domain.BillStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	bill.BillNumber = billNumber(bill.Period, bill.ID)
	bill.TotalAmount = bill.BaseAmount
	bill.RemainingAmount = bill.BaseAmount

	if err := s.repo.CreateBill(ctx, bill); err != nil {
		if errors.Is(err, store.ErrDuplicateBill) {
			log.Printf("level=info component=billing op=generate_bill tenant_id=%s period=%s msg=\"bill already exists for period\"", req.TenantID, req.Period)
		}
		return nil, err
	}

	log.Printf("level=info component=billing op=generate_bill bill_id=%s tenant_id=%s period=%s base_amount=%d", bill.ID, bill.TenantID, bill.Period, bill.BaseAmount)
	s.publishEvent(domain.EventBillCreated, &bill.TenantID, bill.Summary())
	return bill, nil
}

// GetBill loads one bill with its payment history, with penalty, total and
// status recomputed against the current clock.
func (s *Service) GetBill(ctx context.Context, billID uuid.UUID) (*domain.Bill, error) {
	bill, err := s.repo.FindBillByID(ctx, billID)
	if err != nil {
		return nil, err
	}
	penalty.Recompute(bill, s.now().UTC(), s.policy)

	payments, err := s.repo.FindPaymentsByBillID(ctx, billID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payments for bill %s: %w", billID, err)
	}
	bill.Payments = payments
	return bill, nil
}

// ListTenantBills returns every non-deleted bill for a tenant, newest period
// first, each recomputed against the current clock.
func (s *Service) ListTenantBills(ctx context.Context, tenantID uuid.UUID) ([]domain.Bill, error) {
	bills, err := s.repo.FindBillsByTenantID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	for i := range bills {
		penalty.Recompute(&bills[i], now, s.policy)
	}
	return bills, nil
}

// CreatePaymentOrder registers a gateway order for the remaining balance of a
// bill. The claimed amount must match the bill's current total; a mismatch
// means the client is holding a stale view (penalty moved underneath it) and
// must re-read before paying.
func (s *Service) CreatePaymentOrder(ctx context.Context, tenantID, billID uuid.UUID, claimedAmount int64) (*domain.GatewayOrder, error) {
	if err := s.consumeRateLimit(ctx, rateLimitScopeOrder, tenantID, s.orderLimit); err != nil {
		return nil, err
	}

	bill, err := s.repo.FindBillByID(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill.TenantID != tenantID {
		return nil, ErrForbidden
	}

	penalty.Recompute(bill, s.now().UTC(), s.policy)
	if bill.Settled() {
		return nil, store.ErrBillAlreadySettled
	}
	if claimedAmount != bill.TotalAmount {
		log.Printf("level=info component=billing op=create_order bill_id=%s claimed=%d current_total=%d msg=\"stale amount rejected\"", billID, claimedAmount, bill.TotalAmount)
		return nil, ErrStaleAmount
	}

	order, err := s.gateway.CreateOrder(ctx, bill.BillNumber, bill.RemainingAmount)
	if err != nil {
		return nil, err
	}

	payment := &domain.Payment{
		ID:             uuid.New(),
		BillID:         bill.ID,
		TenantID:       bill.TenantID,
		Amount:         order.Amount,
		Method:         "gateway",
		GatewayOrderID: order.ID,
	}
	if err := s.repo.CreateInitiatedPayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to record initiated payment: %w", err)
	}

	log.Printf("level=info component=billing op=create_order bill_id=%s order_id=%s amount=%d", bill.ID, order.ID, order.Amount)
	return &domain.GatewayOrder{OrderID: order.ID, Amount: order.Amount, Currency: order.Currency}, nil
}

// DeleteBill soft-deletes a bill. Bills with any verified payment cannot be
// deleted; the store surfaces store.ErrBillHasPayments.
func (s *Service) DeleteBill(ctx context.Context, billID uuid.UUID) error {
	if err := s.repo.SoftDeleteBill(ctx, billID); err != nil {
		return err
	}
	log.Printf("level=info component=billing op=delete_bill bill_id=%s", billID)
	return nil
}

// SweepPenalties refreshes the cached penalty columns of every unsettled bill
// past its due date. The caches exist for reporting queries only; read paths
// never trust them. Returns the number of bills refreshed.
func (s *Service) SweepPenalties(ctx context.Context) (int, error) {
	now := s.now().UTC()
	bills, err := s.repo.ListUnsettledBillsPastDue(ctx, now)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for i := range bills {
		if err := s.repo.RefreshBillPenalty(ctx, bills[i].ID, s.policy, now); err != nil {
			log.Printf("level=warn component=billing op=sweep_penalties bill_id=%s err=%v", bills[i].ID, err)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// BuildPeriodReport assembles the read-only reporting view for one period:
// all non-deleted bills with their payments, recomputed against the clock.
func (s *Service) BuildPeriodReport(ctx context.Context, period domain.BillingPeriod) (*domain.PeriodReport, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("%w: period %d/%d is not a calendar month", ErrInvalidRequest, period.Month, period.Year)
	}
	bills, err := s.repo.ListBillsWithPaymentsByPeriod(ctx, period)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	for i := range bills {
		penalty.Recompute(&bills[i], now, s.policy)
	}
	return &domain.PeriodReport{Period: period, Bills: bills}, nil
}

// EmitProfileUpdated relays a profile change from the internal profile API
// into the event stream so connected clients refresh their views.
func (s *Service) EmitProfileUpdated(ctx context.Context, tenantID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidRequest)
	}
	payload := domain.ProfileUpdatedPayload{TenantID: tenantID, UpdatedAt: s.now().UTC()}
	event, err := domain.NewEvent(domain.EventProfileUpdated, &tenantID, payload)
	if err != nil {
		return err
	}
	return s.eventProducer.Publish(ctx, rabbitmq.BillingEventsExchange, event.Type, event)
}

// InitialSyncSnapshot builds the state snapshot pushed to a stream session on
// connect. State, not event history, is authoritative: a reconnecting client
// catches up from this snapshot alone.
func (s *Service) InitialSyncSnapshot(ctx context.Context, tenantID uuid.UUID, admin bool) (*domain.InitialSyncPayload, error) {
	var (
		notifications []domain.Notification
		err           error
	)
	if admin {
		notifications, err = s.repo.ListAllNotifications(ctx)
	} else {
		notifications, err = s.repo.ListNotificationsForTenant(ctx, tenantID)
	}
	if err != nil {
		return nil, err
	}

	var summaries []domain.BillSummary
	if !admin {
		bills, err := s.ListTenantBills(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		summaries = make([]domain.BillSummary, 0, len(bills))
		for i := range bills {
			summaries = append(summaries, bills[i].Summary())
		}
	}

	return &domain.InitialSyncPayload{
		Notifications: notifications,
		Bills:         summaries,
		SyncedAt:      s.now().UTC(),
	}, nil
}

// consumeRateLimit enforces a per-tenant limit for one scope. Limiter errors
// fail open: a Redis outage must not block payments.
func (s *Service) consumeRateLimit(ctx context.Context, scope string, tenantID uuid.UUID, limit int) error {
	if s.rateLimiter == nil || limit <= 0 {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, tenantID.String(), limit, rateLimitWindow)
	if err != nil {
		log.Printf("level=warn component=billing op=rate_limit scope=%s err=%v msg=\"limiter unavailable; allowing request\"", scope, err)
		return nil
	}
	if count > limit {
		log.Printf("level=info component=billing op=rate_limit scope=%s tenant_id=%s count=%d limit=%d retry_after=%d", scope, tenantID, count, limit, retryAfter)
		return fmt.Errorf("%w: retry after %ds", ErrRateLimited, retryAfter)
	}
	return nil
}

// publishEvent marshals and publishes a domain event in the background.
// Event delivery is best-effort; a broker outage never rolls back a write.
func (s *Service) publishEvent(eventType string, tenantID *uuid.UUID, payload interface{}) {
	event, err := domain.NewEvent(eventType, tenantID, payload)
	if err != nil {
		log.Printf("level=error component=billing op=publish_event type=%s err=%v", eventType, err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.eventProducer.Publish(ctx, rabbitmq.BillingEventsExchange, event.Type, event); err != nil {
			log.Printf("level=warn component=billing op=publish_event type=%s err=%v", eventType, err)
		}
	}()
}

func validateLineItems(li domain.BillLineItems) error {
	if li.Rent < 0 || li.Water < 0 || li.CommonArea < 0 || li.ElectricityRate < 0 {
		return fmt.Errorf("%w: line item amounts must be non-negative", ErrInvalidRequest)
	}
	for _, c := range li.AdditionalCharges {
		if c.Amount < 0 {
			return fmt.Errorf("%w: additional charge %q must be non-negative", ErrInvalidRequest, c.Label)
		}
	}
	return nil
}

func billNumber(period domain.BillingPeriod, id uuid.UUID) string {
	short := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))[:8]
	return fmt.Sprintf("BILL-%04d%02d-%s", period.Year, period.Month, short)
}
