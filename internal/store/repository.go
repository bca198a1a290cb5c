/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the billing-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/penalty: For the service's domain models and policy types.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tenantly/billing-service/internal/domain"
	"github.com/tenantly/billing-service/internal/penalty"
)

// ApplyPaymentParams carries everything the store needs to verify-and-apply a
// payment in one unit of work. The penalty policy and clock travel with the
// call so the total can be snapshotted inside the per-bill critical section.
type ApplyPaymentParams struct {
	BillID           uuid.UUID
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
	Amount           int64
	Method           string
	Policy           penalty.Policy
	Now              time.Time
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Bill methods
	CreateBill(ctx context.Context, bill *domain.Bill) error
	FindBillByID(ctx context.Context, billID uuid.UUID) (*domain.Bill, error)
	FindBillsByTenantID(ctx context.Context, tenantID uuid.UUID) ([]domain.Bill, error)
	ListBillsWithPaymentsByPeriod(ctx context.Context, period domain.BillingPeriod) ([]domain.Bill, error)
	ListUnsettledBillsPastDue(ctx context.Context, asOf time.Time) ([]domain.Bill, error)
	RefreshBillPenalty(ctx context.Context, billID uuid.UUID, policy penalty.Policy, now time.Time) error
	SoftDeleteBill(ctx context.Context, billID uuid.UUID) error

	// Payment methods
	CreateInitiatedPayment(ctx context.Context, payment *domain.Payment) error
	RecordFailedPayment(ctx context.Context, payment *domain.Payment) error
	FindPaymentByGatewayIDs(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*domain.Payment, error)
	FindInitiatedPaymentByOrderID(ctx context.Context, gatewayOrderID string) (*domain.Payment, error)
	FindPaymentsByBillID(ctx context.Context, billID uuid.UUID) ([]domain.Payment, error)

	// ApplyVerifiedPayment applies a verified payment to its bill atomically:
	// the bill row is locked, the total is snapshotted under the lock, the
	// payment row is upserted on its (order id, payment id) uniqueness and the
	// bill's paid amount and status are updated in the same transaction. A
	// replayed pair returns the existing verified payment with the bill
	// untouched.
	ApplyVerifiedPayment(ctx context.Context, params ApplyPaymentParams) (*domain.Bill, *domain.Payment, error)

	// Notification methods
	CreateNotification(ctx context.Context, n *domain.Notification) error
	FindNotificationByID(ctx context.Context, notificationID uuid.UUID) (*domain.Notification, error)
	ListNotificationsForTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.Notification, error)
	ListAllNotifications(ctx context.Context) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, tenantID uuid.UUID, readAt time.Time) (bool, error)
	DeleteNotification(ctx context.Context, notificationID uuid.UUID) error
}
