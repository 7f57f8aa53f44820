package engine

import (
	"context"
	"testing"
	"time"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/errs"
	"github.com/medrova/go-fulfillment/internal/notify"
	"github.com/medrova/go-fulfillment/pkg/idempotency"
)

// newScheduler builds a refill scheduler over the rig with its own inbox.
func newScheduler(rig *testRig, inbox idempotency.Inbox) *RefillScheduler {
	r := NewRefillScheduler(rig.store, rig.store, rig.assigner, inbox, rig.rec, nil, nil)
	r.now = fixedNow
	return r
}

func TestCreateSubscription(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	sched := newScheduler(rig, idempotency.NewMemoryInbox())
	seedPrescription(rig.store, "rx-1", "pat-1", plainMeds())

	sub, err := sched.CreateSubscription(ctx, "pat-1", "rx-1", 30, testAddress())
	if err != nil {
		t.Fatal(err)
	}
	if !sub.Active {
		t.Fatal("new subscription should be active")
	}
	if want := testNow.AddDate(0, 0, 30); !sub.NextDueDate.Equal(want) {
		t.Fatalf("next due = %v, want %v", sub.NextDueDate, want)
	}

	if _, err := sched.CreateSubscription(ctx, "pat-other", "rx-1", 30, testAddress()); errs.KindOf(err) != errs.KindForbidden {
		t.Fatal("subscription must belong to the prescription's patient")
	}
	if _, err := sched.CreateSubscription(ctx, "pat-1", "rx-1", 0, testAddress()); errs.KindOf(err) != errs.KindInvalidState {
		t.Fatal("non-positive interval must be refused")
	}
	if _, err := sched.CreateSubscription(ctx, "pat-1", "rx-1", 30, order.Address{City: "Bengaluru"}); errs.KindOf(err) != errs.KindInvalidState {
		t.Fatal("incomplete delivery address must be refused")
	}
}

func TestCreateSubscriptionRefusesExpiredPrescription(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	sched := newScheduler(rig, idempotency.NewMemoryInbox())

	rx := seedPrescription(rig.store, "rx-old", "pat-1", plainMeds())
	rx.ValidUntil = testNow.Add(-time.Hour)
	rig.store.PutPrescription(rx)

	if _, err := sched.CreateSubscription(ctx, "pat-1", "rx-old", 30, testAddress()); errs.KindOf(err) != errs.KindInvalidState {
		t.Fatal("expired prescription must not start a subscription")
	}
}

func TestScanCreatesRefillAndAdvances(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	sched := newScheduler(rig, idempotency.NewMemoryInbox())

	seedPharmacy(rig.store, "ph-1", 0, 50)
	seedPharmacist(rig.store, "staff-1", "ph-1")
	seedPrescription(rig.store, "rx-1", "pat-1", plainMeds())

	sub, err := sched.CreateSubscription(ctx, "pat-1", "rx-1", 30, testAddress())
	if err != nil {
		t.Fatal(err)
	}
	// Pull the due date inside the 5-day look-ahead.
	sub.NextDueDate = testNow.Add(48 * time.Hour)
	if err := rig.store.UpdateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	created, err := sched.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	after, err := rig.store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.RefillsCreated != 1 || after.LastOrderID == "" {
		t.Fatalf("subscription = %+v, want one refill recorded", after)
	}
	if want := sub.NextDueDate.AddDate(0, 0, 30); !after.NextDueDate.Equal(want) {
		t.Fatalf("next due = %v, want %v", after.NextDueDate, want)
	}

	got, err := rig.store.GetOrder(ctx, after.LastOrderID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PrescriptionID != "rx-1" || got.PatientID != "pat-1" {
		t.Fatalf("refill order = %+v", got)
	}
	if got.Address.Line1 == "" || got.Address.Pincode == "" {
		t.Fatalf("refill order address = %+v, want the subscription's delivery address", got.Address)
	}
	if got.Address != testAddress() {
		t.Fatalf("refill order address = %+v, want %+v", got.Address, testAddress())
	}
}

func TestScanSkipsNotYetDue(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	sched := newScheduler(rig, idempotency.NewMemoryInbox())

	seedPharmacy(rig.store, "ph-1", 0, 50)
	seedPrescription(rig.store, "rx-1", "pat-1", plainMeds())

	// Due in 30 days: outside the 5-day look-ahead.
	if _, err := sched.CreateSubscription(ctx, "pat-1", "rx-1", 30, testAddress()); err != nil {
		t.Fatal(err)
	}

	created, err := sched.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Fatalf("created = %d, want 0", created)
	}
}

func TestScanDeactivatesExpiredPrescriptionAndNotifiesBothParties(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	sched := newScheduler(rig, idempotency.NewMemoryInbox())

	rx := seedPrescription(rig.store, "rx-1", "pat-1", plainMeds())
	sub, err := sched.CreateSubscription(ctx, "pat-1", "rx-1", 30, testAddress())
	if err != nil {
		t.Fatal(err)
	}
	sub.NextDueDate = testNow.Add(24 * time.Hour)
	if err := rig.store.UpdateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	// The prescription expires after the subscription was created.
	rx.ValidUntil = testNow.Add(-time.Minute)
	rig.store.PutPrescription(rx)

	created, err := sched.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Fatalf("created = %d, want 0", created)
	}

	after, err := rig.store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Active {
		t.Fatal("subscription should be deactivated")
	}

	skipped := rig.rec.sent(notify.EventRefillSkipped)
	if len(skipped) != 2 {
		t.Fatalf("notifications = %d, want patient and prescriber", len(skipped))
	}
	recipients := map[string]bool{}
	for _, n := range skipped {
		recipients[n.RecipientID] = true
	}
	if !recipients["pat-1"] || !recipients["doc-1"] {
		t.Fatalf("recipients = %v", recipients)
	}
}

func TestScanDeduplicatesByDueDate(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	inbox := idempotency.NewMemoryInbox()
	sched := newScheduler(rig, inbox)

	seedPharmacy(rig.store, "ph-1", 0, 50)
	seedPrescription(rig.store, "rx-1", "pat-1", plainMeds())
	sub, err := sched.CreateSubscription(ctx, "pat-1", "rx-1", 30, testAddress())
	if err != nil {
		t.Fatal(err)
	}
	sub.NextDueDate = testNow.Add(24 * time.Hour)
	if err := rig.store.UpdateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	// Simulate an overlapping worker that already claimed this due date.
	key := idempotency.Key("refill", sub.ID, sub.NextDueDate.UTC().Format(time.RFC3339))
	if _, err := inbox.Begin(ctx, key, "refill-scheduler"); err != nil {
		t.Fatal(err)
	}

	created, err := sched.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Fatalf("created = %d, want 0 on duplicate claim", created)
	}
	active, err := rig.store.ListActiveOrders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Fatalf("orders = %d, want 0", len(active))
	}
}

func TestScanUnassignedRefillStaysDue(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	sched := newScheduler(rig, idempotency.NewMemoryInbox())

	// No pharmacies at all: assignment yields no_eligible_pharmacy.
	seedPrescription(rig.store, "rx-1", "pat-1", plainMeds())
	sub, err := sched.CreateSubscription(ctx, "pat-1", "rx-1", 30, testAddress())
	if err != nil {
		t.Fatal(err)
	}
	sub.NextDueDate = testNow.Add(24 * time.Hour)
	if err := rig.store.UpdateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	created, err := sched.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Fatalf("created = %d, want 0", created)
	}

	after, err := rig.store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !after.Active || after.RefillsCreated != 0 {
		t.Fatalf("subscription = %+v, want still active and not advanced", after)
	}
	if !after.NextDueDate.Equal(sub.NextDueDate) {
		t.Fatal("due date must not advance when assignment fails")
	}
}

func TestScanRetriesAfterUnassignedOutcome(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	sched := newScheduler(rig, idempotency.NewMemoryInbox())

	// First scan finds no pharmacies; the due date's claim must not be
	// consumed, or this subscription would be stuck forever.
	seedPrescription(rig.store, "rx-1", "pat-1", plainMeds())
	sub, err := sched.CreateSubscription(ctx, "pat-1", "rx-1", 30, testAddress())
	if err != nil {
		t.Fatal(err)
	}
	sub.NextDueDate = testNow.Add(24 * time.Hour)
	if err := rig.store.UpdateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	created, err := sched.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Fatalf("first scan created = %d, want 0", created)
	}

	// A pharmacy comes online; the next scan must pick the refill up.
	seedPharmacy(rig.store, "ph-1", 0, 50)
	seedPharmacist(rig.store, "staff-1", "ph-1")

	created, err = sched.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if created != 1 {
		t.Fatalf("second scan created = %d, want 1", created)
	}
	after, err := rig.store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.RefillsCreated != 1 || after.LastOrderID == "" {
		t.Fatalf("subscription = %+v, want one refill recorded", after)
	}
}

func TestCancelSubscription(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	sched := newScheduler(rig, idempotency.NewMemoryInbox())
	seedPrescription(rig.store, "rx-1", "pat-1", plainMeds())

	sub, err := sched.CreateSubscription(ctx, "pat-1", "rx-1", 30, testAddress())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := sched.CancelSubscription(ctx, sub.ID, "pat-other"); errs.KindOf(err) != errs.KindForbidden {
		t.Fatal("only the owner may cancel")
	}

	got, err := sched.CancelSubscription(ctx, sub.ID, "pat-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Active {
		t.Fatal("subscription should be inactive")
	}

	// Cancelling again is a no-op.
	again, err := sched.CancelSubscription(ctx, sub.ID, "pat-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Active {
		t.Fatal("repeat cancel should stay inactive")
	}
}
