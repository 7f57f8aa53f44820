// Package refill implements recurring-order subscriptions.
package refill

import (
	"time"

	"github.com/google/uuid"

	"github.com/medrova/go-fulfillment/internal/domain/order"
)

// Subscription generates recurring orders for a prescription. It is
// deactivated by patient cancellation or expired-prescription detection.
// DeliveryAddress is stamped onto every refill order the subscription
// creates.
type Subscription struct {
	ID              string
	PatientID       string
	PrescriptionID  string
	IntervalDays    int
	NextDueDate     time.Time
	RefillsCreated  int
	Active          bool
	LastOrderID     string
	DeliveryAddress order.Address
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// New creates an active subscription with the first due date.
func New(patientID, prescriptionID string, intervalDays int, addr order.Address, firstDue time.Time, now time.Time) *Subscription {
	return &Subscription{
		ID:              uuid.New().String(),
		PatientID:       patientID,
		PrescriptionID:  prescriptionID,
		IntervalDays:    intervalDays,
		NextDueDate:     firstDue,
		Active:          true,
		DeliveryAddress: addr,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Advance moves the due date forward one interval and counts the refill.
func (s *Subscription) Advance(orderID string, now time.Time) {
	s.NextDueDate = s.NextDueDate.AddDate(0, 0, s.IntervalDays)
	s.RefillsCreated++
	s.LastOrderID = orderID
	s.UpdatedAt = now
}
