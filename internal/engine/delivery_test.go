package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/errs"
	"github.com/medrova/go-fulfillment/internal/notify"
)

func TestDispatchOpensTrackingAndSharesOTP(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	o := rig.assignOrder(ctx, plainMeds())
	rig.advanceTo(ctx, o.ID, order.StatusReadyForPickup)

	got, err := rig.delivery.Dispatch(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusOutForDelivery {
		t.Fatalf("status = %s, want OUT_FOR_DELIVERY", got.Status)
	}
	if got.DispatchedAt == nil {
		t.Fatal("DispatchedAt not stamped")
	}

	entry, err := rig.store.LatestTracking(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Attempt != 1 || entry.Status != order.DeliveryPickedUp {
		t.Fatalf("tracking = %+v", entry)
	}

	sent := rig.rec.sent(notify.EventOrderOutForDelivery)
	if len(sent) != 1 || !strings.Contains(sent[0].Body, "4321") {
		t.Fatalf("dispatch notification = %+v, want OTP in body", sent)
	}
}

func TestUpdateStatusArrivalRemindsPatient(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	o := rig.assignOrder(ctx, plainMeds())
	rig.advanceTo(ctx, o.ID, order.StatusOutForDelivery)

	entry, err := rig.delivery.UpdateStatus(ctx, o.ID, order.DeliveryInTransit)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != order.DeliveryInTransit {
		t.Fatalf("tracking status = %s", entry.Status)
	}
	if len(rig.rec.sent(notify.EventCourierArrived)) != 0 {
		t.Fatal("in-transit must not send the arrival reminder")
	}

	if _, err := rig.delivery.UpdateStatus(ctx, o.ID, order.DeliveryArrived); err != nil {
		t.Fatal(err)
	}
	arrived := rig.rec.sent(notify.EventCourierArrived)
	if len(arrived) != 1 || !strings.Contains(arrived[0].Body, "4321") {
		t.Fatalf("arrival notifications = %+v", arrived)
	}
}

func TestConfirmDeliveryValidatesOTP(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	o := rig.assignOrder(ctx, plainMeds())
	rig.advanceTo(ctx, o.ID, order.StatusOutForDelivery)

	// Wrong code mutates nothing.
	_, err := rig.delivery.ConfirmDelivery(ctx, o.ID, "0000")
	if errs.KindOf(err) != errs.KindInvalidState {
		t.Fatalf("err = %v, want invalid state on wrong code", err)
	}
	unchanged, err := rig.store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if unchanged.Status != order.StatusOutForDelivery {
		t.Fatalf("wrong code mutated status to %s", unchanged.Status)
	}

	got, err := rig.delivery.ConfirmDelivery(ctx, o.ID, "4321")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusDelivered {
		t.Fatalf("status = %s, want DELIVERED", got.Status)
	}
	if got.DeliveredAt == nil {
		t.Fatal("DeliveredAt not stamped")
	}

	entry, err := rig.store.LatestTracking(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !entry.OTPVerified || entry.Status != order.DeliveryDelivered || entry.DeliveredAt == nil {
		t.Fatalf("tracking = %+v", entry)
	}

	// Queue slot released on completion.
	p, err := rig.store.GetPharmacy(ctx, "ph-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.CurrentQueueSize != 0 {
		t.Fatalf("queue = %d, want 0 after delivery", p.CurrentQueueSize)
	}
	if len(rig.rec.sent(notify.EventOrderDelivered)) != 1 {
		t.Fatal("expected a delivered notification")
	}
}

func TestConfirmDeliveryRefusesEmptyOTP(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	o := rig.assignOrder(ctx, plainMeds())

	// An order that never went through MarkReadyForPickup has no OTP; an
	// empty submitted code must not match an empty stored one.
	if _, err := rig.delivery.ConfirmDelivery(ctx, o.ID, ""); errs.KindOf(err) != errs.KindInvalidState {
		t.Fatal("empty OTP must never confirm")
	}
}

func TestReportFailureAllowsOneReattempt(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	o := rig.assignOrder(ctx, plainMeds())
	rig.advanceTo(ctx, o.ID, order.StatusOutForDelivery)

	got, err := rig.delivery.ReportFailure(ctx, o.ID, "patient unavailable")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusDeliveryAttempted {
		t.Fatalf("status = %s, want DELIVERY_ATTEMPTED after first failure", got.Status)
	}
	if got.DeliveryAttempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.DeliveryAttempts)
	}
	if len(rig.rec.alerted(notify.AlertDeliveryFailed)) != 0 {
		t.Fatal("non-terminal failure must not alert operations")
	}

	// Redispatch opens attempt 2.
	redispatched, err := rig.delivery.Dispatch(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if redispatched.Status != order.StatusOutForDelivery {
		t.Fatalf("status = %s, want OUT_FOR_DELIVERY", redispatched.Status)
	}
	entry, err := rig.store.LatestTracking(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", entry.Attempt)
	}

	// Second failure is terminal.
	got, err = rig.delivery.ReportFailure(ctx, o.ID, "address unreachable")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusDeliveryFailed {
		t.Fatalf("status = %s, want DELIVERY_FAILED after second failure", got.Status)
	}
	alerts := rig.rec.alerted(notify.AlertDeliveryFailed)
	if len(alerts) != 1 || alerts[0].Severity != notify.SeverityWarning {
		t.Fatalf("alerts = %+v", alerts)
	}
}

func TestReportFailureColdChainNeverReattempts(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()

	seedPharmacy(rig.store, "ph-cold", 0, 50)
	p, err := rig.store.GetPharmacy(ctx, "ph-cold")
	if err != nil {
		t.Fatal(err)
	}
	p.ColdChainVerified = true
	rig.store.PutPharmacy(p)
	seedPharmacist(rig.store, "staff-1", "ph-cold")
	seedPrescription(rig.store, "rx-cold", "pat-1", coldChainMeds())

	res, err := rig.assigner.Assign(ctx, AssignRequest{PrescriptionID: "rx-cold"})
	if err != nil {
		t.Fatal(err)
	}
	rig.advanceTo(ctx, res.Order.ID, order.StatusOutForDelivery)

	got, err := rig.delivery.ReportFailure(ctx, res.Order.ID, "cooler box compromised")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusDeliveryFailed {
		t.Fatalf("status = %s, want DELIVERY_FAILED on the first cold-chain failure", got.Status)
	}
	alerts := rig.rec.alerted(notify.AlertDeliveryFailed)
	if len(alerts) != 1 || alerts[0].Severity != notify.SeverityCritical {
		t.Fatalf("alerts = %+v, want one critical alert", alerts)
	}
}

func TestUpdateAddressOnlyBeforeDispatch(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	o := rig.assignOrder(ctx, plainMeds())

	newAddr := order.Address{Line1: "44 Hill View", City: "Bengaluru", Pincode: "560095"}
	got, err := rig.delivery.UpdateAddress(ctx, o.ID, "pat-1", newAddr)
	if err != nil {
		t.Fatal(err)
	}
	if got.Address != newAddr {
		t.Fatalf("address = %+v, want %+v", got.Address, newAddr)
	}

	if _, err := rig.delivery.UpdateAddress(ctx, o.ID, "pat-other", newAddr); errs.KindOf(err) != errs.KindForbidden {
		t.Fatal("only the owner may change the address")
	}

	rig.advanceTo(ctx, o.ID, order.StatusOutForDelivery)
	if _, err := rig.delivery.UpdateAddress(ctx, o.ID, "pat-1", newAddr); errs.KindOf(err) != errs.KindInvalidState {
		t.Fatal("address must be frozen once dispatched")
	}
}
