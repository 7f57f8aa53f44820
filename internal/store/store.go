// Package store defines the persistence contracts consumed by the
// fulfillment engine. Implementations live in internal/infrastructure
// (PostgreSQL) and internal/store/memory (tests, dev mode).
package store

import (
	"context"
	"time"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/domain/pharmacy"
	"github.com/medrova/go-fulfillment/internal/domain/refill"
)

// OrderStore persists orders and delivery tracking rows.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *order.Order) error
	GetOrder(ctx context.Context, id string) (*order.Order, error)

	// UpdateOrder persists the order guarded on the expected prior status
	// (optimistic concurrency). A lost race returns errs.KindConflict and
	// writes nothing.
	UpdateOrder(ctx context.Context, o *order.Order, expected order.Status) error

	// ListActiveOrders returns all orders in a non-terminal status.
	ListActiveOrders(ctx context.Context) ([]*order.Order, error)

	// ListOrdersByPharmacy returns orders assigned to a pharmacy and
	// created within [from, to).
	ListOrdersByPharmacy(ctx context.Context, pharmacyID string, from, to time.Time) ([]*order.Order, error)

	AddTracking(ctx context.Context, e *order.TrackingEntry) error
	LatestTracking(ctx context.Context, orderID string) (*order.TrackingEntry, error)
	UpdateTracking(ctx context.Context, e *order.TrackingEntry) error
	CountTracking(ctx context.Context, orderID string) (int, error)
}

// PharmacyStore persists pharmacies, staff, and inventory.
type PharmacyStore interface {
	GetPharmacy(ctx context.Context, id string) (*pharmacy.Pharmacy, error)
	ListActivePharmacies(ctx context.Context) ([]*pharmacy.Pharmacy, error)
	UpdatePharmacyStatus(ctx context.Context, id string, status pharmacy.OperationalStatus) error

	// IncrementQueue atomically increments the queue size only while it is
	// strictly below the daily limit. Returns false when the pharmacy is at
	// capacity; concurrent callers can never push it past the limit.
	IncrementQueue(ctx context.Context, id string) (bool, error)

	// DecrementQueue decrements the queue size, flooring at zero.
	DecrementQueue(ctx context.Context, id string) error

	GetStaff(ctx context.Context, staffID string) (*pharmacy.Staff, error)
	ListStaff(ctx context.Context, pharmacyID string) ([]*pharmacy.Staff, error)

	UpsertInventory(ctx context.Context, item *pharmacy.InventoryItem) error
	ListInventory(ctx context.Context, pharmacyID string) ([]*pharmacy.InventoryItem, error)
}

// SubscriptionStore persists refill subscriptions.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, s *refill.Subscription) error
	GetSubscription(ctx context.Context, id string) (*refill.Subscription, error)
	UpdateSubscription(ctx context.Context, s *refill.Subscription) error

	// ListDueSubscriptions returns active subscriptions whose next due date
	// is at or before the cutoff.
	ListDueSubscriptions(ctx context.Context, cutoff time.Time) ([]*refill.Subscription, error)
}

// Prescription is the projection the engine needs from the prescribing
// system; the full record lives outside this service.
type Prescription struct {
	ID             string
	PatientID      string
	PrescriberID   string
	ConsultationID string
	Medications    []order.Medication
	ValidUntil     time.Time
}

// Expired reports whether the prescription is no longer valid.
func (p *Prescription) Expired(now time.Time) bool {
	return !p.ValidUntil.After(now)
}

// PrescriptionLookup resolves prescriptions by ID.
type PrescriptionLookup interface {
	GetPrescription(ctx context.Context, id string) (*Prescription, error)
}
