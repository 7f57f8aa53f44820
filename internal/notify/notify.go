// Package notify models the outbound notification boundary. The engine
// writes notifications and operator alerts fire-and-forget; delivery
// channels (push, SMS, in-app) live outside this service.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role identifies the recipient's relationship to the order.
type Role string

const (
	RolePatient       Role = "PATIENT"
	RoleDoctor        Role = "DOCTOR"
	RolePharmacyStaff Role = "PHARMACY_STAFF"
	RoleCourier       Role = "COURIER"
	RoleOperator      Role = "OPERATOR"
)

// Channel is a delivery channel hint for the downstream sender.
type Channel string

const (
	ChannelPush  Channel = "PUSH"
	ChannelSMS   Channel = "SMS"
	ChannelInApp Channel = "IN_APP"
)

// Event names a notification trigger.
type Event string

const (
	EventOrderAssigned        Event = "order.assigned"
	EventOrderAccepted        Event = "order.accepted"
	EventOrderReassigning     Event = "order.reassigning"
	EventOrderRejected        Event = "order.rejected"
	EventSubstitutionProposed Event = "substitution.proposed"
	EventOrderOutForDelivery  Event = "order.out_for_delivery"
	EventCourierArrived       Event = "order.courier_arrived"
	EventOrderDelivered       Event = "order.delivered"
	EventRefillSkipped        Event = "refill.prescription_expired"
)

// Notification is one outbound message to a single recipient.
type Notification struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipient_id"`
	Role        Role              `json:"role"`
	Channel     Channel           `json:"channel"`
	Event       Event             `json:"event"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// NewNotification fills in ID and timestamp.
func NewNotification(recipientID string, role Role, channel Channel, event Event, title, body string, data map[string]string) Notification {
	return Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Role:        role,
		Channel:     channel,
		Event:       event,
		Title:       title,
		Body:        body,
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}
}

// AlertCode classifies an operator alert.
type AlertCode string

const (
	AlertNoEligiblePharmacy   AlertCode = "NO_ELIGIBLE_PHARMACY"
	AlertReassignmentFailed   AlertCode = "REASSIGNMENT_FAILED"
	AlertStockIssue           AlertCode = "STOCK_ISSUE"
	AlertSubstitutionRejected AlertCode = "SUBSTITUTION_REJECTED"
	AlertDeliveryFailed       AlertCode = "DELIVERY_FAILED"
	AlertSLABreach            AlertCode = "SLA_BREACH"
	AlertDamageReported       AlertCode = "DAMAGE_REPORTED"
	AlertColdChainBreach      AlertCode = "COLD_CHAIN_BREACH"
	AlertLicenseExpiring      AlertCode = "LICENSE_EXPIRING"
	AlertLicenseExpired       AlertCode = "LICENSE_EXPIRED"
)

// Severity ranks an alert for the operations dashboard.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is an operator-facing incident record.
type Alert struct {
	ID         string            `json:"id"`
	Code       AlertCode         `json:"code"`
	Severity   Severity          `json:"severity"`
	Message    string            `json:"message"`
	OrderID    string            `json:"order_id,omitempty"`
	PharmacyID string            `json:"pharmacy_id,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewAlert fills in ID and timestamp.
func NewAlert(code AlertCode, severity Severity, message, orderID, pharmacyID string) Alert {
	return Alert{
		ID:         uuid.New().String(),
		Code:       code,
		Severity:   severity,
		Message:    message,
		OrderID:    orderID,
		PharmacyID: pharmacyID,
		CreatedAt:  time.Now().UTC(),
	}
}

// Notifier accepts outbound notifications. Implementations must not block
// on downstream delivery; the engine never awaits the send as part of its
// success path, and send failures are logged, not propagated.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// OperatorAlerter accepts operator alerts. Same fire-and-forget contract
// as Notifier.
type OperatorAlerter interface {
	Alert(ctx context.Context, a Alert) error
}
