package engine

import (
	"context"
	"testing"
	"time"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/notify"
)

func TestAssignPicksLeastLoadedPharmacy(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()

	seedPharmacy(rig.store, "ph-busy", 20, 50)
	b := seedPharmacy(rig.store, "ph-idle", 3, 50)
	b.Pincode = "560034"
	rig.store.PutPharmacy(b)
	seedPharmacy(rig.store, "ph-mid", 10, 50)
	seedPharmacist(rig.store, "staff-idle", "ph-idle")
	seedPrescription(rig.store, "rx-1", "pat-1", plainMeds())

	res, err := rig.assigner.Assign(ctx, AssignRequest{
		PrescriptionID:  "rx-1",
		AddressOverride: &order.Address{Line1: "12 Main Rd", Pincode: "560034"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Assigned || res.Reason != ReasonAssigned {
		t.Fatalf("result = %+v, want assigned", res)
	}
	if res.PharmacyID != "ph-idle" {
		t.Fatalf("chose %s, want ph-idle", res.PharmacyID)
	}
	if res.Order.Status != order.StatusAssigned {
		t.Fatalf("order status = %s, want ASSIGNED", res.Order.Status)
	}
	if res.Order.AssignedAt == nil {
		t.Fatal("AssignedAt not stamped")
	}

	got, err := rig.store.GetPharmacy(ctx, "ph-idle")
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentQueueSize != 4 {
		t.Fatalf("queue = %d, want 4 after claim", got.CurrentQueueSize)
	}

	// Accepting staff of the chosen pharmacy were notified.
	sent := rig.rec.sent(notify.EventOrderAssigned)
	if len(sent) != 1 || sent[0].RecipientID != "staff-idle" {
		t.Fatalf("assignment notifications = %+v", sent)
	}
}

func TestAssignNoEligiblePharmacyAlertsWithoutCreating(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()

	// Every candidate at capacity.
	seedPharmacy(rig.store, "ph-full", 50, 50)
	seedPrescription(rig.store, "rx-1", "pat-1", plainMeds())

	res, err := rig.assigner.Assign(ctx, AssignRequest{PrescriptionID: "rx-1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Assigned || res.Reason != ReasonNoEligiblePharmacy {
		t.Fatalf("result = %+v, want no_eligible_pharmacy", res)
	}
	if res.Order != nil {
		t.Fatal("no order should be created when nothing is eligible")
	}
	if len(rig.rec.alerted(notify.AlertNoEligiblePharmacy)) != 1 {
		t.Fatal("expected a NO_ELIGIBLE_PHARMACY alert")
	}

	active, err := rig.store.ListActiveOrders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Fatalf("active orders = %d, want 0", len(active))
	}
}

func TestAssignColdChainRequiresVerifiedPharmacy(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()

	capable := seedPharmacy(rig.store, "ph-capable", 0, 50)
	capable.ColdChainCapable = true
	rig.store.PutPharmacy(capable)

	verified := seedPharmacy(rig.store, "ph-verified", 30, 50)
	verified.ColdChainCapable = true
	verified.ColdChainVerified = true
	rig.store.PutPharmacy(verified)

	seedPrescription(rig.store, "rx-cold", "pat-1", coldChainMeds())

	res, err := rig.assigner.Assign(ctx, AssignRequest{PrescriptionID: "rx-cold"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Assigned || res.PharmacyID != "ph-verified" {
		t.Fatalf("result = %+v, want ph-verified despite its longer queue", res)
	}
	if !res.Order.ColdChain {
		t.Fatal("order should carry the cold-chain flag")
	}
}

func TestAssignSkipsPharmacyAtCapacity(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()

	// Shortest queue but full; the next candidate gets the order.
	seedPharmacy(rig.store, "ph-full", 1, 1)
	seedPharmacy(rig.store, "ph-open", 2, 50)
	seedPrescription(rig.store, "rx-1", "pat-1", plainMeds())

	res, err := rig.assigner.Assign(ctx, AssignRequest{PrescriptionID: "rx-1"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Assigned || res.PharmacyID != "ph-open" {
		t.Fatalf("result = %+v, want ph-open", res)
	}
}

func TestReassignExcludesPreviousAndReleasesQueue(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()

	o := rig.assignOrder(ctx, plainMeds()) // lands on ph-1, queue 0 -> 1
	alt := seedPharmacy(rig.store, "ph-2", 5, 50)
	_ = alt

	// Reassignment requires a status with an edge back to ASSIGNED.
	got, err := rig.store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := got.Transition(order.StatusPharmacyRejected, testNow); err != nil {
		t.Fatal(err)
	}
	if err := rig.store.UpdateOrder(ctx, got, order.StatusAssigned); err != nil {
		t.Fatal(err)
	}

	res, err := rig.assigner.Reassign(ctx, o.ID, "pharmacy_rejected")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Assigned || res.Reason != ReasonReassigned {
		t.Fatalf("result = %+v, want reassigned", res)
	}
	if res.PharmacyID != "ph-2" {
		t.Fatalf("reassigned to %s, want ph-2 (previous excluded)", res.PharmacyID)
	}

	prev, err := rig.store.GetPharmacy(ctx, "ph-1")
	if err != nil {
		t.Fatal(err)
	}
	if prev.CurrentQueueSize != 0 {
		t.Fatalf("previous pharmacy queue = %d, want 0 after release", prev.CurrentQueueSize)
	}
	next, err := rig.store.GetPharmacy(ctx, "ph-2")
	if err != nil {
		t.Fatal(err)
	}
	if next.CurrentQueueSize != 6 {
		t.Fatalf("new pharmacy queue = %d, want 6 after claim", next.CurrentQueueSize)
	}
}

func TestReassignNoAlternativeAlerts(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()

	o := rig.assignOrder(ctx, plainMeds())

	got, err := rig.store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := got.Transition(order.StatusPharmacyRejected, testNow); err != nil {
		t.Fatal(err)
	}
	if err := rig.store.UpdateOrder(ctx, got, order.StatusAssigned); err != nil {
		t.Fatal(err)
	}

	// ph-1 is excluded and there is nothing else.
	res, err := rig.assigner.Reassign(ctx, o.ID, "pharmacy_rejected")
	if err != nil {
		t.Fatal(err)
	}
	if res.Assigned {
		t.Fatalf("result = %+v, want unassigned", res)
	}
	if len(rig.rec.alerted(notify.AlertReassignmentFailed)) != 1 {
		t.Fatal("expected a REASSIGNMENT_FAILED alert")
	}
}

func TestReassignRejectsIllegalStatus(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()

	o := rig.assignOrder(ctx, plainMeds())
	rig.advanceTo(ctx, o.ID, order.StatusOutForDelivery)

	if _, err := rig.assigner.Reassign(ctx, o.ID, "whim"); err == nil {
		t.Fatal("expected error reassigning an OUT_FOR_DELIVERY order")
	}
}

func TestAssignExpiredLicenseFiltered(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()

	expired := testNow.Add(-24 * time.Hour)
	p := seedPharmacy(rig.store, "ph-lapsed", 0, 50)
	p.DrugLicenseExpiry = &expired
	rig.store.PutPharmacy(p)
	seedPrescription(rig.store, "rx-1", "pat-1", plainMeds())

	res, err := rig.assigner.Assign(ctx, AssignRequest{PrescriptionID: "rx-1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Assigned {
		t.Fatalf("result = %+v, want no assignment to a lapsed license", res)
	}
}
