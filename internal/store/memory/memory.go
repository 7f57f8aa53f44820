// Package memory provides in-memory store implementations. Used by tests
// and the dev mode of the API service; the concurrency guarantees match
// the PostgreSQL implementations (conditional queue increments, guarded
// status updates).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/domain/pharmacy"
	"github.com/medrova/go-fulfillment/internal/domain/refill"
	"github.com/medrova/go-fulfillment/internal/errs"
	"github.com/medrova/go-fulfillment/internal/store"
)

// Store implements every store contract in memory behind one mutex.
type Store struct {
	mu            sync.Mutex
	orders        map[string]*order.Order
	tracking      map[string][]*order.TrackingEntry
	pharmacies    map[string]*pharmacy.Pharmacy
	staff         map[string]*pharmacy.Staff
	inventory     map[string]map[string]*pharmacy.InventoryItem
	subscriptions map[string]*refill.Subscription
	prescriptions map[string]*store.Prescription
}

// New creates an empty store.
func New() *Store {
	return &Store{
		orders:        make(map[string]*order.Order),
		tracking:      make(map[string][]*order.TrackingEntry),
		pharmacies:    make(map[string]*pharmacy.Pharmacy),
		staff:         make(map[string]*pharmacy.Staff),
		inventory:     make(map[string]map[string]*pharmacy.InventoryItem),
		subscriptions: make(map[string]*refill.Subscription),
		prescriptions: make(map[string]*store.Prescription),
	}
}

var (
	_ store.OrderStore         = (*Store)(nil)
	_ store.PharmacyStore      = (*Store)(nil)
	_ store.SubscriptionStore  = (*Store)(nil)
	_ store.PrescriptionLookup = (*Store)(nil)
)

func copyOrder(o *order.Order) *order.Order {
	c := *o
	c.Medications = append([]order.Medication(nil), o.Medications...)
	c.Breaches = append([]order.BreachRecord(nil), o.Breaches...)
	if o.StockIssue != nil {
		si := *o.StockIssue
		si.Items = append([]order.MissingItem(nil), o.StockIssue.Items...)
		c.StockIssue = &si
	}
	if o.Substitution != nil {
		sub := *o.Substitution
		c.Substitution = &sub
	}
	if o.Damage != nil {
		d := *o.Damage
		d.PhotoURLs = append([]string(nil), o.Damage.PhotoURLs...)
		c.Damage = &d
	}
	return &c
}

// CreateOrder stores a new order.
func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return errs.Conflict("order %s already exists", o.ID)
	}
	s.orders[o.ID] = copyOrder(o)
	return nil
}

// GetOrder returns a copy of the order.
func (s *Store) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, errs.NotFound("order %s", id)
	}
	return copyOrder(o), nil
}

// UpdateOrder persists the order iff the stored status equals expected.
func (s *Store) UpdateOrder(ctx context.Context, o *order.Order, expected order.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return errs.NotFound("order %s", o.ID)
	}
	if cur.Status != expected {
		return errs.Conflict("order %s status is %s, expected %s", o.ID, cur.Status, expected)
	}
	s.orders[o.ID] = copyOrder(o)
	return nil
}

// ListActiveOrders returns all non-terminal orders sorted by creation time.
func (s *Store) ListActiveOrders(ctx context.Context) ([]*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*order.Order
	for _, o := range s.orders {
		if !order.IsTerminal(o.Status) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListOrdersByPharmacy returns a pharmacy's orders created in [from, to).
func (s *Store) ListOrdersByPharmacy(ctx context.Context, pharmacyID string, from, to time.Time) ([]*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*order.Order
	for _, o := range s.orders {
		if o.PharmacyID != pharmacyID {
			continue
		}
		if o.CreatedAt.Before(from) || !o.CreatedAt.Before(to) {
			continue
		}
		out = append(out, copyOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AddTracking appends a tracking entry.
func (s *Store) AddTracking(ctx context.Context, e *order.TrackingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *e
	s.tracking[e.OrderID] = append(s.tracking[e.OrderID], &c)
	return nil
}

// LatestTracking returns the most recent tracking entry for an order.
func (s *Store) LatestTracking(ctx context.Context, orderID string) (*order.TrackingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.tracking[orderID]
	if len(entries) == 0 {
		return nil, errs.NotFound("no tracking for order %s", orderID)
	}
	c := *entries[len(entries)-1]
	return &c, nil
}

// UpdateTracking replaces a tracking entry by ID.
func (s *Store) UpdateTracking(ctx context.Context, e *order.TrackingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.tracking[e.OrderID] {
		if cur.ID == e.ID {
			c := *e
			s.tracking[e.OrderID][i] = &c
			return nil
		}
	}
	return errs.NotFound("tracking entry %s", e.ID)
}

// CountTracking returns the number of dispatch attempts recorded.
func (s *Store) CountTracking(ctx context.Context, orderID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracking[orderID]), nil
}

// PutPharmacy inserts or replaces a pharmacy. Seeding helper.
func (s *Store) PutPharmacy(p *pharmacy.Pharmacy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.pharmacies[p.ID] = &c
}

// GetPharmacy returns a copy of the pharmacy.
func (s *Store) GetPharmacy(ctx context.Context, id string) (*pharmacy.Pharmacy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pharmacies[id]
	if !ok {
		return nil, errs.NotFound("pharmacy %s", id)
	}
	c := *p
	return &c, nil
}

// ListActivePharmacies returns pharmacies in ACTIVE status.
func (s *Store) ListActivePharmacies(ctx context.Context) ([]*pharmacy.Pharmacy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*pharmacy.Pharmacy
	for _, p := range s.pharmacies {
		if p.Status == pharmacy.StatusActive {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdatePharmacyStatus sets a pharmacy's operational status.
func (s *Store) UpdatePharmacyStatus(ctx context.Context, id string, status pharmacy.OperationalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pharmacies[id]
	if !ok {
		return errs.NotFound("pharmacy %s", id)
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementQueue bumps the queue while strictly under the daily limit.
func (s *Store) IncrementQueue(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pharmacies[id]
	if !ok {
		return false, errs.NotFound("pharmacy %s", id)
	}
	if p.CurrentQueueSize >= p.DailyOrderLimit {
		return false, nil
	}
	p.CurrentQueueSize++
	return true, nil
}

// DecrementQueue lowers the queue, flooring at zero.
func (s *Store) DecrementQueue(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pharmacies[id]
	if !ok {
		return errs.NotFound("pharmacy %s", id)
	}
	if p.CurrentQueueSize > 0 {
		p.CurrentQueueSize--
	}
	return nil
}

// PutStaff inserts or replaces a staff member. Seeding helper.
func (s *Store) PutStaff(m *pharmacy.Staff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *m
	s.staff[m.ID] = &c
}

// GetStaff returns a staff member by ID.
func (s *Store) GetStaff(ctx context.Context, staffID string) (*pharmacy.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.staff[staffID]
	if !ok {
		return nil, errs.NotFound("staff %s", staffID)
	}
	c := *m
	return &c, nil
}

// ListStaff returns a pharmacy's staff sorted by ID.
func (s *Store) ListStaff(ctx context.Context, pharmacyID string) ([]*pharmacy.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*pharmacy.Staff
	for _, m := range s.staff {
		if m.PharmacyID == pharmacyID {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertInventory inserts or replaces a stock row.
func (s *Store) UpsertInventory(ctx context.Context, item *pharmacy.InventoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byMed, ok := s.inventory[item.PharmacyID]
	if !ok {
		byMed = make(map[string]*pharmacy.InventoryItem)
		s.inventory[item.PharmacyID] = byMed
	}
	c := *item
	byMed[item.MedicationName] = &c
	return nil
}

// ListInventory returns a pharmacy's stock rows sorted by medication.
func (s *Store) ListInventory(ctx context.Context, pharmacyID string) ([]*pharmacy.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*pharmacy.InventoryItem
	for _, item := range s.inventory[pharmacyID] {
		c := *item
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MedicationName < out[j].MedicationName })
	return out, nil
}

// CreateSubscription stores a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *refill.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; ok {
		return errs.Conflict("subscription %s already exists", sub.ID)
	}
	c := *sub
	s.subscriptions[sub.ID] = &c
	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, id string) (*refill.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, errs.NotFound("subscription %s", id)
	}
	c := *sub
	return &c, nil
}

// UpdateSubscription replaces a subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub *refill.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; !ok {
		return errs.NotFound("subscription %s", sub.ID)
	}
	c := *sub
	s.subscriptions[sub.ID] = &c
	return nil
}

// ListDueSubscriptions returns active subscriptions due at or before cutoff.
func (s *Store) ListDueSubscriptions(ctx context.Context, cutoff time.Time) ([]*refill.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*refill.Subscription
	for _, sub := range s.subscriptions {
		if sub.Active && !sub.NextDueDate.After(cutoff) {
			c := *sub
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextDueDate.Before(out[j].NextDueDate) })
	return out, nil
}

// PutPrescription stores a prescription projection. Seeding helper.
func (s *Store) PutPrescription(p *store.Prescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	c.Medications = append([]order.Medication(nil), p.Medications...)
	s.prescriptions[p.ID] = &c
}

// GetPrescription resolves a prescription by ID.
func (s *Store) GetPrescription(ctx context.Context, id string) (*store.Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prescriptions[id]
	if !ok {
		return nil, errs.NotFound("prescription %s", id)
	}
	c := *p
	c.Medications = append([]order.Medication(nil), p.Medications...)
	return &c, nil
}
