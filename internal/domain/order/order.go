// Package order implements the pharmacy order aggregate and its state machine.
package order

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the order's position in the fulfillment workflow.
type Status string

const (
	StatusPendingAssignment            Status = "PENDING_ASSIGNMENT"
	StatusAssigned                     Status = "ASSIGNED"
	StatusPharmacyAccepted             Status = "PHARMACY_ACCEPTED"
	StatusPharmacyRejected             Status = "PHARMACY_REJECTED"
	StatusPreparing                    Status = "PREPARING"
	StatusStockIssue                   Status = "STOCK_ISSUE"
	StatusAwaitingSubstitutionApproval Status = "AWAITING_SUBSTITUTION_APPROVAL"
	StatusReadyForPickup               Status = "READY_FOR_PICKUP"
	StatusOutForDelivery               Status = "OUT_FOR_DELIVERY"
	StatusDeliveryAttempted            Status = "DELIVERY_ATTEMPTED"
	StatusDelivered                    Status = "DELIVERED"
	StatusDeliveryFailed               Status = "DELIVERY_FAILED"
	StatusCancelled                    Status = "CANCELLED"
	StatusDamageReported               Status = "DAMAGE_REPORTED"
	StatusDamageApproved               Status = "DAMAGE_APPROVED"
	StatusReturnAccepted               Status = "RETURN_ACCEPTED"
	StatusColdChainBreach              Status = "COLD_CHAIN_BREACH"
)

// BreachType identifies which SLA phase was exceeded.
type BreachType string

const (
	BreachAcceptance        BreachType = "ACCEPTANCE"
	BreachPreparation       BreachType = "PREPARATION"
	BreachDelivery          BreachType = "DELIVERY"
	BreachColdChainDelivery BreachType = "COLD_CHAIN_DELIVERY"
	BreachOverallSoft       BreachType = "OVERALL_SOFT"
	BreachOverallHard       BreachType = "OVERALL_HARD"
)

// BreachRecord is one detected SLA breach. Breaches merge by type per
// order; a type is recorded at most once.
type BreachRecord struct {
	Type       BreachType `json:"type"`
	DetectedAt time.Time  `json:"detected_at"`
	ElapsedHrs float64    `json:"elapsed_hours"`
	LimitHrs   float64    `json:"limit_hours"`
}

// Medication is one prescription line item.
type Medication struct {
	Name        string `json:"name"`
	GenericName string `json:"generic_name,omitempty"`
	Dosage      string `json:"dosage,omitempty"`
	Quantity    int    `json:"quantity"`
}

// MissingItem is a line item the pharmacy could not fill.
type MissingItem struct {
	MedicationName string `json:"medication_name"`
	Requested      int    `json:"requested"`
	Available      int    `json:"available"`
}

// StockIssueDetail records a reported stock shortage.
type StockIssueDetail struct {
	ReportedBy string        `json:"reported_by"`
	Items      []MissingItem `json:"items"`
	Note       string        `json:"note,omitempty"`
	ReportedAt time.Time     `json:"reported_at"`
}

// SubstitutionDecision is the prescriber's verdict on a proposal.
type SubstitutionDecision string

const (
	SubstitutionPending  SubstitutionDecision = "PENDING"
	SubstitutionApproved SubstitutionDecision = "APPROVED"
	SubstitutionRejected SubstitutionDecision = "REJECTED"
)

// SubstitutionProposal records a pharmacist-proposed substitution awaiting
// the prescriber's decision.
type SubstitutionProposal struct {
	ProposedBy           string               `json:"proposed_by"`
	OriginalMedication   string               `json:"original_medication"`
	SubstituteMedication string               `json:"substitute_medication"`
	Reason               string               `json:"reason"`
	ProposedAt           time.Time            `json:"proposed_at"`
	Decision             SubstitutionDecision `json:"decision"`
	DecidedAt            *time.Time           `json:"decided_at,omitempty"`
	DecidedBy            string               `json:"decided_by,omitempty"`
}

// DamageReport records a patient-reported damaged shipment.
type DamageReport struct {
	ReportedBy  string     `json:"reported_by"`
	Description string     `json:"description"`
	PhotoURLs   []string   `json:"photo_urls,omitempty"`
	ReportedAt  time.Time  `json:"reported_at"`
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewNote  string     `json:"review_note,omitempty"`
}

// Address is a delivery destination. Mutable only before dispatch.
type Address struct {
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	Pincode string `json:"pincode"`
}

// Order is the central fulfillment entity. It is never deleted; it moves
// forward through the state machine until a terminal status.
type Order struct {
	ID             string
	PrescriptionID string
	ConsultationID string
	PatientID      string
	PharmacyID     string // empty before assignment
	Status         Status
	ColdChain      bool // fixed at creation, never changes
	Medications    []Medication
	Address        Address

	// Per-phase timestamps, stamped atomically with the transition that
	// reaches the status.
	CreatedAt        time.Time
	AssignedAt       *time.Time
	AcceptedAt       *time.Time
	RejectedAt       *time.Time
	PreparingAt      *time.Time
	StockIssueAt     *time.Time
	SubstitutionAt   *time.Time
	ReadyForPickupAt *time.Time
	DispatchedAt     *time.Time
	DeliveredAt      *time.Time
	CancelledAt      *time.Time

	// DeliveryOTP is set when the order is marked ready and is immutable
	// afterwards. It is the sole proof of physical handoff.
	DeliveryOTP      string
	DeliveryAttempts int
	DiscreetPack     bool // non-revocable once set

	StockIssue   *StockIssueDetail
	Substitution *SubstitutionProposal
	Damage       *DamageReport

	Breaches []BreachRecord

	// ReplacementOf links a free replacement back to the order it replaces.
	ReplacementOf string
}

// New creates an order in PENDING_ASSIGNMENT.
func New(prescriptionID, consultationID, patientID string, meds []Medication, addr Address, coldChain bool, now time.Time) *Order {
	return &Order{
		ID:             uuid.New().String(),
		PrescriptionID: prescriptionID,
		ConsultationID: consultationID,
		PatientID:      patientID,
		Status:         StatusPendingAssignment,
		ColdChain:      coldChain,
		Medications:    meds,
		Address:        addr,
		CreatedAt:      now,
	}
}

// HasBreach reports whether a breach of the given type is already recorded.
func (o *Order) HasBreach(t BreachType) bool {
	for _, b := range o.Breaches {
		if b.Type == t {
			return true
		}
	}
	return false
}

// PreDispatch reports whether the order has not yet left the pharmacy.
// Address changes are only allowed while this holds.
func (o *Order) PreDispatch() bool {
	switch o.Status {
	case StatusPendingAssignment, StatusAssigned, StatusPharmacyAccepted,
		StatusPharmacyRejected, StatusPreparing, StatusStockIssue,
		StatusAwaitingSubstitutionApproval, StatusReadyForPickup:
		return true
	}
	return false
}

// StampStatus records the reached-at timestamp for a status. Called by the
// state machine as part of applying a transition.
func (o *Order) StampStatus(s Status, now time.Time) {
	switch s {
	case StatusAssigned:
		o.AssignedAt = &now
	case StatusPharmacyAccepted:
		o.AcceptedAt = &now
	case StatusPharmacyRejected:
		o.RejectedAt = &now
	case StatusPreparing:
		o.PreparingAt = &now
	case StatusStockIssue:
		o.StockIssueAt = &now
	case StatusAwaitingSubstitutionApproval:
		o.SubstitutionAt = &now
	case StatusReadyForPickup:
		o.ReadyForPickupAt = &now
	case StatusOutForDelivery:
		o.DispatchedAt = &now
	case StatusDelivered:
		o.DeliveredAt = &now
	case StatusCancelled:
		o.CancelledAt = &now
	}
}

// DeliveryStatus is the courier-facing sub-status of a dispatch attempt.
type DeliveryStatus string

const (
	DeliveryPickedUp  DeliveryStatus = "PICKED_UP"
	DeliveryInTransit DeliveryStatus = "IN_TRANSIT"
	DeliveryArrived   DeliveryStatus = "ARRIVED"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// TrackingEntry is one row per dispatch attempt.
type TrackingEntry struct {
	ID            string
	OrderID       string
	Attempt       int
	Status        DeliveryStatus
	ColdChain     bool // copied from the order at dispatch
	FailureReason string
	OTPVerified   bool
	DispatchedAt  time.Time
	DeliveredAt   *time.Time
	UpdatedAt     time.Time
}

// NewTrackingEntry opens a tracking row for a dispatch attempt.
func NewTrackingEntry(o *Order, attempt int, now time.Time) *TrackingEntry {
	return &TrackingEntry{
		ID:           uuid.New().String(),
		OrderID:      o.ID,
		Attempt:      attempt,
		Status:       DeliveryPickedUp,
		ColdChain:    o.ColdChain,
		DispatchedAt: now,
		UpdatedAt:    now,
	}
}
