package engine

import (
	"context"
	"sync"
	"time"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/domain/pharmacy"
	"github.com/medrova/go-fulfillment/internal/notify"
	"github.com/medrova/go-fulfillment/internal/store"
	"github.com/medrova/go-fulfillment/internal/store/memory"
)

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func testAddress() order.Address {
	return order.Address{Line1: "12 Main Rd", City: "Bengaluru", Pincode: "560034"}
}

// recorder captures notifications and alerts for assertions.
type recorder struct {
	mu            sync.Mutex
	notifications []notify.Notification
	alerts        []notify.Alert
}

func (r *recorder) Send(ctx context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *recorder) Alert(ctx context.Context, a notify.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recorder) sent(event notify.Event) []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Notification
	for _, n := range r.notifications {
		if n.Event == event {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) alerted(code notify.AlertCode) []notify.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Alert
	for _, a := range r.alerts {
		if a.Code == code {
			out = append(out, a)
		}
	}
	return out
}

func seedPharmacy(s *memory.Store, id string, queue, limit int) *pharmacy.Pharmacy {
	p := &pharmacy.Pharmacy{
		ID:               id,
		Name:             "Pharmacy " + id,
		Pincode:          "560001",
		Status:           pharmacy.StatusActive,
		DailyOrderLimit:  limit,
		CurrentQueueSize: queue,
		CreatedAt:        testNow,
		UpdatedAt:        testNow,
	}
	s.PutPharmacy(p)
	return p
}

func seedPharmacist(s *memory.Store, id, pharmacyID string) *pharmacy.Staff {
	m := &pharmacy.Staff{
		ID:                 id,
		PharmacyID:         pharmacyID,
		Name:               "Staff " + id,
		Role:               pharmacy.RolePharmacist,
		Active:             true,
		CanAcceptOrders:    true,
		CanDispense:        true,
		CanManageInventory: true,
	}
	s.PutStaff(m)
	return m
}

func seedPrescription(s *memory.Store, id, patientID string, meds []order.Medication) *store.Prescription {
	p := &store.Prescription{
		ID:             id,
		PatientID:      patientID,
		PrescriberID:   "doc-1",
		ConsultationID: "cons-1",
		Medications:    meds,
		ValidUntil:     testNow.Add(90 * 24 * time.Hour),
	}
	s.PutPrescription(p)
	return p
}

func plainMeds() []order.Medication {
	return []order.Medication{{Name: "Atorvastatin 10mg", Quantity: 30}}
}

func coldChainMeds() []order.Medication {
	return []order.Medication{{Name: "Ozempic", GenericName: "semaglutide", Quantity: 4}}
}

// testRig wires a full engine stack over an in-memory store with a fixed
// clock and a fixed OTP.
type testRig struct {
	store    *memory.Store
	rec      *recorder
	assigner *Assignment
	workflow *Workflow
	delivery *Delivery
}

func newTestRig() *testRig {
	s := memory.New()
	rec := &recorder{}

	assigner := NewAssignment(s, s, s, rec, rec, nil, nil)
	assigner.now = fixedNow

	wf := NewWorkflow(s, s, s, assigner, rec, rec, nil)
	wf.now = fixedNow
	wf.otp = func() string { return "4321" }

	del := NewDelivery(s, s, rec, rec, nil, nil)
	del.now = fixedNow

	return &testRig{store: s, rec: rec, assigner: assigner, workflow: wf, delivery: del}
}

// assignOrder seeds a pharmacy, pharmacist, and prescription and runs a
// fresh assignment, failing the test on any error.
func (r *testRig) assignOrder(ctx context.Context, meds []order.Medication) *order.Order {
	seedPharmacy(r.store, "ph-1", 0, 50)
	seedPharmacist(r.store, "staff-1", "ph-1")
	seedPrescription(r.store, "rx-1", "pat-1", meds)

	res, err := r.assigner.Assign(ctx, AssignRequest{PrescriptionID: "rx-1"})
	if err != nil {
		panic(err)
	}
	if !res.Assigned {
		panic("seed assignment was not assigned")
	}
	return res.Order
}

// advanceTo walks the order through the staff workflow up to the given
// status, confirming discreet packaging on the way to READY_FOR_PICKUP.
func (r *testRig) advanceTo(ctx context.Context, orderID string, target order.Status) *order.Order {
	steps := []order.Status{
		order.StatusPharmacyAccepted,
		order.StatusPreparing,
		order.StatusReadyForPickup,
		order.StatusOutForDelivery,
	}
	var o *order.Order
	var err error
	for _, s := range steps {
		switch s {
		case order.StatusPharmacyAccepted:
			o, err = r.workflow.Accept(ctx, orderID, "staff-1")
		case order.StatusPreparing:
			o, err = r.workflow.StartPreparing(ctx, orderID, "staff-1")
		case order.StatusReadyForPickup:
			if _, err = r.workflow.ConfirmDiscreetPackaging(ctx, orderID, "staff-1"); err != nil {
				panic(err)
			}
			o, err = r.workflow.MarkReadyForPickup(ctx, orderID, "staff-1")
		case order.StatusOutForDelivery:
			o, err = r.delivery.Dispatch(ctx, orderID)
		}
		if err != nil {
			panic(err)
		}
		if o.Status == target {
			return o
		}
	}
	panic("target status not reached: " + string(target))
}
