// Package pharmacy implements the pharmacy aggregate, staff permissions,
// and the assignment eligibility and ranking rules.
package pharmacy

import "time"

// OperationalStatus is the pharmacy's lifecycle state.
type OperationalStatus string

const (
	StatusActive      OperationalStatus = "ACTIVE"
	StatusSuspended   OperationalStatus = "SUSPENDED"
	StatusDeactivated OperationalStatus = "DEACTIVATED"
	StatusPending     OperationalStatus = "PENDING"
)

// StaffRole is a pharmacy staff member's role.
type StaffRole string

const (
	RolePharmacist StaffRole = "PHARMACIST"
	RoleDispenser  StaffRole = "DISPENSER"
	RoleManager    StaffRole = "MANAGER"
)

// Pharmacy is a fulfillment candidate. CurrentQueueSize is mutated only by
// the assignment engine (increment) and delivery/reassignment (decrement),
// through conditional store operations; it never goes negative.
type Pharmacy struct {
	ID      string
	Name    string
	Address string
	City    string
	Pincode string
	Status  OperationalStatus

	DailyOrderLimit  int
	CurrentQueueSize int

	// DrugLicenseExpiry nil means no expiry on record; a past date fails
	// eligibility.
	DrugLicenseExpiry *time.Time

	// ColdChainCapable is self-declared equipment; ColdChainVerified is the
	// admin verification. Eligibility checks the verified flag only.
	ColdChainCapable bool
	ColdChainVerified bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Staff is a pharmacy staff member. The three permission flags are
// independent; CanAcceptOrders is restricted to pharmacists by regulation.
type Staff struct {
	ID         string
	PharmacyID string
	Name       string
	Role       StaffRole
	Active     bool

	CanAcceptOrders    bool
	CanDispense        bool
	CanManageInventory bool
}

// InventoryItem is a per-medication stock row.
type InventoryItem struct {
	PharmacyID     string
	MedicationName string
	InStock        bool
	Quantity       int
	UpdatedBy      string
	UpdatedAt      time.Time
}
