package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medrova/go-fulfillment/internal/domain/pharmacy"
	"github.com/medrova/go-fulfillment/internal/errs"
	"github.com/medrova/go-fulfillment/internal/store"
)

// PharmacyStore implements store.PharmacyStore on PostgreSQL. The queue
// counter is mutated with conditional single-statement updates so
// concurrent assigners cannot push a pharmacy past its daily limit.
type PharmacyStore struct {
	pool *pgxpool.Pool
}

var _ store.PharmacyStore = (*PharmacyStore)(nil)

// NewPharmacyStore creates a pharmacy store over the pool.
func NewPharmacyStore(pool *pgxpool.Pool) *PharmacyStore {
	return &PharmacyStore{pool: pool}
}

const pharmacyColumns = `
	id, name, address, city, pincode, status,
	daily_order_limit, current_queue_size, drug_license_expiry,
	cold_chain_capable, cold_chain_verified, created_at, updated_at`

// GetPharmacy fetches one pharmacy by ID.
func (s *PharmacyStore) GetPharmacy(ctx context.Context, id string) (*pharmacy.Pharmacy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pharmacyColumns+` FROM pharmacies WHERE id = $1`, id)
	p, err := scanPharmacy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("pharmacy %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pharmacy: %w", err)
	}
	return p, nil
}

// ListActivePharmacies returns all pharmacies in ACTIVE status.
func (s *PharmacyStore) ListActivePharmacies(ctx context.Context) ([]*pharmacy.Pharmacy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pharmacyColumns+` FROM pharmacies WHERE status = 'ACTIVE' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active pharmacies: %w", err)
	}
	defer rows.Close()

	var out []*pharmacy.Pharmacy
	for rows.Next() {
		p, err := scanPharmacy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pharmacy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePharmacyStatus sets the operational status.
func (s *PharmacyStore) UpdatePharmacyStatus(ctx context.Context, id string, status pharmacy.OperationalStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pharmacies SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("update pharmacy status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("pharmacy %s", id)
	}
	return nil
}

// IncrementQueue bumps the queue counter only while it is strictly below
// the daily limit. The WHERE clause makes the check-and-increment atomic;
// zero rows affected means the pharmacy is full.
func (s *PharmacyStore) IncrementQueue(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pharmacies
		SET current_queue_size = current_queue_size + 1, updated_at = NOW()
		WHERE id = $1 AND current_queue_size < daily_order_limit
	`, id)
	if err != nil {
		return false, fmt.Errorf("increment queue: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DecrementQueue lowers the queue counter, flooring at zero.
func (s *PharmacyStore) DecrementQueue(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pharmacies
		SET current_queue_size = GREATEST(current_queue_size - 1, 0), updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("decrement queue: %w", err)
	}
	return nil
}

// GetStaff fetches one staff member by ID.
func (s *PharmacyStore) GetStaff(ctx context.Context, staffID string) (*pharmacy.Staff, error) {
	st := &pharmacy.Staff{}
	var role string
	err := s.pool.QueryRow(ctx, `
		SELECT id, pharmacy_id, name, role, active,
		       can_accept_orders, can_dispense, can_manage_inventory
		FROM pharmacy_staff WHERE id = $1
	`, staffID).Scan(
		&st.ID, &st.PharmacyID, &st.Name, &role, &st.Active,
		&st.CanAcceptOrders, &st.CanDispense, &st.CanManageInventory,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("staff %s", staffID)
	}
	if err != nil {
		return nil, fmt.Errorf("get staff: %w", err)
	}
	st.Role = pharmacy.StaffRole(role)
	return st, nil
}

// ListStaff returns all staff of a pharmacy.
func (s *PharmacyStore) ListStaff(ctx context.Context, pharmacyID string) ([]*pharmacy.Staff, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, pharmacy_id, name, role, active,
		       can_accept_orders, can_dispense, can_manage_inventory
		FROM pharmacy_staff WHERE pharmacy_id = $1 ORDER BY id
	`, pharmacyID)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	defer rows.Close()

	var out []*pharmacy.Staff
	for rows.Next() {
		st := &pharmacy.Staff{}
		var role string
		if err := rows.Scan(
			&st.ID, &st.PharmacyID, &st.Name, &role, &st.Active,
			&st.CanAcceptOrders, &st.CanDispense, &st.CanManageInventory,
		); err != nil {
			return nil, fmt.Errorf("scan staff: %w", err)
		}
		st.Role = pharmacy.StaffRole(role)
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpsertInventory inserts or overwrites a per-medication stock row.
func (s *PharmacyStore) UpsertInventory(ctx context.Context, item *pharmacy.InventoryItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pharmacy_inventory
			(pharmacy_id, medication_name, in_stock, quantity, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pharmacy_id, medication_name) DO UPDATE
		SET in_stock = EXCLUDED.in_stock,
		    quantity = EXCLUDED.quantity,
		    updated_by = EXCLUDED.updated_by,
		    updated_at = EXCLUDED.updated_at
	`, item.PharmacyID, item.MedicationName, item.InStock, item.Quantity, item.UpdatedBy, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert inventory: %w", err)
	}
	return nil
}

// ListInventory returns a pharmacy's stock rows.
func (s *PharmacyStore) ListInventory(ctx context.Context, pharmacyID string) ([]*pharmacy.InventoryItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pharmacy_id, medication_name, in_stock, quantity, updated_by, updated_at
		FROM pharmacy_inventory WHERE pharmacy_id = $1 ORDER BY medication_name
	`, pharmacyID)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()

	var out []*pharmacy.InventoryItem
	for rows.Next() {
		item := &pharmacy.InventoryItem{}
		if err := rows.Scan(
			&item.PharmacyID, &item.MedicationName, &item.InStock,
			&item.Quantity, &item.UpdatedBy, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanPharmacy(row pgx.Row) (*pharmacy.Pharmacy, error) {
	p := &pharmacy.Pharmacy{}
	var status string
	err := row.Scan(
		&p.ID, &p.Name, &p.Address, &p.City, &p.Pincode, &status,
		&p.DailyOrderLimit, &p.CurrentQueueSize, &p.DrugLicenseExpiry,
		&p.ColdChainCapable, &p.ColdChainVerified, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = pharmacy.OperationalStatus(status)
	return p, nil
}
