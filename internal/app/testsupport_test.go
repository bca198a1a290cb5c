package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tenantly/billing-service/internal/domain"
	"github.com/tenantly/billing-service/internal/penalty"
	"github.com/tenantly/billing-service/internal/store"
	"github.com/tenantly/billing-service/pkg/paygate"
)

// memoryRepo is an in-memory Repository with the same semantics the Postgres
// implementation enforces: one live bill per (tenant, period), unique
// (order id, payment id) pairs and a per-bill critical section around apply.
type memoryRepo struct {
	mu            sync.Mutex
	bills         map[uuid.UUID]*domain.Bill
	payments      map[uuid.UUID]*domain.Payment
	notifications map[uuid.UUID]*domain.Notification
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		bills:         make(map[uuid.UUID]*domain.Bill),
		payments:      make(map[uuid.UUID]*domain.Payment),
		notifications: make(map[uuid.UUID]*domain.Notification),
	}
}

func (m *memoryRepo) CreateBill(ctx context.Context, bill *domain.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bills {
		if b.DeletedAt == nil && b.TenantID == bill.TenantID && b.Period == bill.Period {
			return store.ErrDuplicateBill
		}
	}
	copied := *bill
	m.bills[bill.ID] = &copied
	return nil
}

func (m *memoryRepo) FindBillByID(ctx context.Context, billID uuid.UUID) (*domain.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[billID]
	if !ok || b.DeletedAt != nil {
		return nil, store.ErrBillNotFound
	}
	copied := *b
	return &copied, nil
}

func (m *memoryRepo) FindBillsByTenantID(ctx context.Context, tenantID uuid.UUID) ([]domain.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Bill
	for _, b := range m.bills {
		if b.DeletedAt == nil && b.TenantID == tenantID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListBillsWithPaymentsByPeriod(ctx context.Context, period domain.BillingPeriod) ([]domain.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Bill
	for _, b := range m.bills {
		if b.DeletedAt != nil || b.Period != period {
			continue
		}
		copied := *b
		for _, p := range m.payments {
			if p.BillID == b.ID {
				copied.Payments = append(copied.Payments, *p)
			}
		}
		out = append(out, copied)
	}
	return out, nil
}

func (m *memoryRepo) ListUnsettledBillsPastDue(ctx context.Context, asOf time.Time) ([]domain.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Bill
	for _, b := range m.bills {
		if b.DeletedAt == nil && b.SettledAt == nil && asOf.After(b.DueDate) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memoryRepo) RefreshBillPenalty(ctx context.Context, billID uuid.UUID, policy penalty.Policy, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[billID]
	if !ok || b.DeletedAt != nil {
		return store.ErrBillNotFound
	}
	penalty.Recompute(b, now, policy)
	return nil
}

func (m *memoryRepo) SoftDeleteBill(ctx context.Context, billID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[billID]
	if !ok || b.DeletedAt != nil {
		return store.ErrBillNotFound
	}
	for _, p := range m.payments {
		if p.BillID == billID && p.Status == domain.PaymentStatusVerified {
			return store.ErrBillHasPayments
		}
	}
	now := time.Now()
	b.DeletedAt = &now
	return nil
}

func (m *memoryRepo) CreateInitiatedPayment(ctx context.Context, payment *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment.Status = domain.PaymentStatusInitiated
	copied := *payment
	m.payments[payment.ID] = &copied
	return nil
}

func (m *memoryRepo) RecordFailedPayment(ctx context.Context, payment *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment.Status = domain.PaymentStatusFailed
	copied := *payment
	m.payments[payment.ID] = &copied
	return nil
}

func (m *memoryRepo) FindPaymentByGatewayIDs(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.GatewayOrderID == gatewayOrderID && p.GatewayPaymentID != nil && *p.GatewayPaymentID == gatewayPaymentID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (m *memoryRepo) FindInitiatedPaymentByOrderID(ctx context.Context, gatewayOrderID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.GatewayOrderID == gatewayOrderID && p.Status == domain.PaymentStatusInitiated {
			copied := *p
			return &copied, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (m *memoryRepo) FindPaymentsByBillID(ctx context.Context, billID uuid.UUID) ([]domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Payment
	for _, p := range m.payments {
		if p.BillID == billID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memoryRepo) ApplyVerifiedPayment(ctx context.Context, params store.ApplyPaymentParams) (*domain.Bill, *domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotency: an existing verified row for the pair wins.
	for _, p := range m.payments {
		if p.GatewayOrderID == params.GatewayOrderID && p.GatewayPaymentID != nil &&
			*p.GatewayPaymentID == params.GatewayPaymentID && p.Status == domain.PaymentStatusVerified {
			bill := m.bills[p.BillID]
			copied := *bill
			penalty.Recompute(&copied, params.Now, params.Policy)
			existing := *p
			return &copied, &existing, nil
		}
	}

	bill, ok := m.bills[params.BillID]
	if !ok || bill.DeletedAt != nil {
		return nil, nil, store.ErrBillNotFound
	}

	penalty.Recompute(bill, params.Now, params.Policy)
	if params.Amount <= 0 || bill.PaidAmount+params.Amount > bill.TotalAmount {
		return nil, nil, store.ErrOverpayment
	}

	paymentID := params.GatewayPaymentID
	signature := params.GatewaySignature
	paidAt := params.Now
	var payment *domain.Payment
	for _, p := range m.payments {
		if p.GatewayOrderID == params.GatewayOrderID && p.Status == domain.PaymentStatusInitiated {
			p.GatewayPaymentID = &paymentID
			p.GatewaySignature = &signature
			p.Status = domain.PaymentStatusVerified
			p.PaidAt = &paidAt
			payment = p
			break
		}
	}
	if payment == nil {
		payment = &domain.Payment{
			ID:               uuid.New(),
			BillID:           bill.ID,
			TenantID:         bill.TenantID,
			Amount:           params.Amount,
			Method:           params.Method,
			GatewayOrderID:   params.GatewayOrderID,
			GatewayPaymentID: &paymentID,
			GatewaySignature: &signature,
			Status:           domain.PaymentStatusVerified,
			PaidAt:           &paidAt,
		}
		m.payments[payment.ID] = payment
	}

	bill.PaidAmount += params.Amount
	bill.RemainingAmount = bill.TotalAmount - bill.PaidAmount
	if bill.PaidAmount >= bill.TotalAmount {
		bill.Status = domain.BillStatusPaid
		settled := params.Now
		bill.SettledAt = &settled
	} else {
		bill.Status = penalty.Status(bill.DueDate, params.Now, bill.PaidAmount, bill.TotalAmount)
	}

	billCopy := *bill
	paymentCopy := *payment
	return &billCopy, &paymentCopy, nil
}

func (m *memoryRepo) CreateNotification(ctx context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *n
	copied.Recipients = append([]domain.NotificationRecipient(nil), n.Recipients...)
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	m.notifications[n.ID] = &copied
	return nil
}

func (m *memoryRepo) FindNotificationByID(ctx context.Context, notificationID uuid.UUID) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[notificationID]
	if !ok {
		return nil, store.ErrNotificationNotFound
	}
	copied := *n
	return &copied, nil
}

func (m *memoryRepo) ListNotificationsForTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for _, n := range m.notifications {
		if n.Type == domain.NotificationTypeCommon {
			out = append(out, *n)
			continue
		}
		for _, r := range n.Recipients {
			if r.TenantID == tenantID {
				copied := *n
				copied.Recipients = []domain.NotificationRecipient{r}
				out = append(out, copied)
				break
			}
		}
	}
	return out, nil
}

func (m *memoryRepo) ListAllNotifications(ctx context.Context) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for _, n := range m.notifications {
		out = append(out, *n)
	}
	return out, nil
}

func (m *memoryRepo) MarkNotificationRead(ctx context.Context, notificationID, tenantID uuid.UUID, readAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[notificationID]
	if !ok {
		return false, store.ErrNotificationNotFound
	}
	for i := range n.Recipients {
		r := &n.Recipients[i]
		if r.TenantID == tenantID && !r.Read {
			r.Read = true
			at := readAt
			r.ReadAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) DeleteNotification(ctx context.Context, notificationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[notificationID]; !ok {
		return store.ErrNotificationNotFound
	}
	delete(m.notifications, notificationID)
	return nil
}

// stubGateway issues deterministic orders and verifies signatures the same
// way the real client does, against a fixed secret.
type stubGateway struct {
	real      *paygate.Client
	orders    int
	createErr error
}

func newStubGateway() *stubGateway {
	return &stubGateway{real: paygate.NewClient("http://gateway.test", "key", "secret", "INR")}
}

func (g *stubGateway) CreateOrder(ctx context.Context, receipt string, amount int64) (*paygate.OrderResponse, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.orders++
	return &paygate.OrderResponse{
		ID:       uuid.New().String(),
		Amount:   amount,
		Currency: "INR",
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (g *stubGateway) VerifySignature(orderID, paymentID, signature string) error {
	return g.real.VerifySignature(orderID, paymentID, signature)
}

// sign produces a valid completion signature for the stub's secret.
func (g *stubGateway) sign(orderID, paymentID string) string {
	return g.real.Signature(orderID, paymentID)
}

// capturingPublisher records published events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *capturingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *capturingPublisher) Close() {}

func (p *capturingPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

func (p *capturingPublisher) eventsFor(key string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, e := range p.events {
		if e.routingKey != key {
			continue
		}
		if event, ok := e.body.(domain.Event); ok {
			out = append(out, event)
		}
	}
	return out
}

func (p *capturingPublisher) waitForKey(key string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, k := range p.routingKeys() {
			if k == key {
				return true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// newTestService wires a service with the in-memory repo, stub gateway and a
// pinned clock.
func newTestService(now time.Time) (*Service, *memoryRepo, *stubGateway, *capturingPublisher) {
	repo := newMemoryRepo()
	gateway := newStubGateway()
	publisher := &capturingPublisher{}
	svc := NewService(repo, gateway, publisher, nil, penalty.Policy{GraceDays: 3, PerDay: 5000, Cap: 50000}, 10, 0, 0)
	svc.now = func() time.Time { return now }
	return svc, repo, gateway, publisher
}
