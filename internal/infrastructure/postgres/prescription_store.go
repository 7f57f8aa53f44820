package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medrova/go-fulfillment/internal/errs"
	"github.com/medrova/go-fulfillment/internal/store"
)

// PrescriptionStore reads the locally replicated prescription projection.
// The prescribing system owns the full record; this service only needs
// the fields that drive assignment and refills.
type PrescriptionStore struct {
	pool *pgxpool.Pool
}

var _ store.PrescriptionLookup = (*PrescriptionStore)(nil)

// NewPrescriptionStore creates a prescription lookup over the pool.
func NewPrescriptionStore(pool *pgxpool.Pool) *PrescriptionStore {
	return &PrescriptionStore{pool: pool}
}

// GetPrescription fetches one prescription projection by ID.
func (s *PrescriptionStore) GetPrescription(ctx context.Context, id string) (*store.Prescription, error) {
	p := &store.Prescription{}
	var meds []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, patient_id, prescriber_id, consultation_id, medications, valid_until
		FROM prescriptions WHERE id = $1
	`, id).Scan(&p.ID, &p.PatientID, &p.PrescriberID, &p.ConsultationID, &meds, &p.ValidUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("prescription %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	if err := json.Unmarshal(meds, &p.Medications); err != nil {
		return nil, fmt.Errorf("unmarshal medications: %w", err)
	}
	return p, nil
}
