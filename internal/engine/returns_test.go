package engine

import (
	"context"
	"testing"
	"time"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/domain/pharmacy"
	"github.com/medrova/go-fulfillment/internal/errs"
	"github.com/medrova/go-fulfillment/internal/notify"
	"github.com/medrova/go-fulfillment/pkg/idempotency"
)

// newReturns builds a Returns engine over the rig with a movable clock.
func newReturns(rig *testRig, at *time.Time) *Returns {
	r := NewReturns(rig.store, rig.assigner, idempotency.NewMemoryInbox(), rig.rec, rig.rec, nil)
	r.now = func() time.Time { return *at }
	return r
}

// deliverOrder walks a fresh order all the way to DELIVERED.
func deliverOrder(ctx context.Context, t *testing.T, rig *testRig) *order.Order {
	t.Helper()
	o := rig.assignOrder(ctx, plainMeds())
	rig.advanceTo(ctx, o.ID, order.StatusOutForDelivery)
	got, err := rig.delivery.ConfirmDelivery(ctx, o.ID, "4321")
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestReportDamageAlertsOperations(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	at := testNow
	ret := newReturns(rig, &at)
	o := deliverOrder(ctx, t, rig)

	got, err := ret.ReportDamage(ctx, o.ID, "pat-1", "blister pack crushed", []string{"https://cdn.example/p1.jpg"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusDamageReported {
		t.Fatalf("status = %s, want DAMAGE_REPORTED", got.Status)
	}
	if got.Damage == nil || got.Damage.ReportedBy != "pat-1" {
		t.Fatalf("damage = %+v", got.Damage)
	}
	if len(rig.rec.alerted(notify.AlertDamageReported)) != 1 {
		t.Fatal("expected a DAMAGE_REPORTED alert")
	}

	// Only the owner may report.
	if _, err := ret.ReportDamage(ctx, o.ID, "pat-other", "x", nil); errs.KindOf(err) != errs.KindForbidden {
		t.Fatal("foreign patient must not report damage")
	}
}

func TestReviewDamageApprovalCreatesReplacement(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	at := testNow
	ret := newReturns(rig, &at)
	o := deliverOrder(ctx, t, rig)
	if _, err := ret.ReportDamage(ctx, o.ID, "pat-1", "leaking vial", nil); err != nil {
		t.Fatal(err)
	}

	got, res, err := ret.ReviewDamage(ctx, o.ID, "ops-1", true, "photos confirm damage")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusDamageApproved {
		t.Fatalf("status = %s, want DAMAGE_APPROVED", got.Status)
	}
	if got.Damage.ReviewedBy != "ops-1" || got.Damage.ReviewedAt == nil {
		t.Fatalf("damage review = %+v", got.Damage)
	}
	if res == nil || !res.Assigned {
		t.Fatalf("replacement result = %+v, want assigned", res)
	}
	if res.Order.ReplacementOf != o.ID {
		t.Fatalf("replacement links to %q, want %q", res.Order.ReplacementOf, o.ID)
	}
	if res.Order.Address != got.Address {
		t.Fatal("replacement must reuse the original delivery address")
	}
}

func TestReviewDamageRejectionRestoresDelivered(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	at := testNow
	ret := newReturns(rig, &at)
	o := deliverOrder(ctx, t, rig)
	if _, err := ret.ReportDamage(ctx, o.ID, "pat-1", "slightly dented box", nil); err != nil {
		t.Fatal(err)
	}

	got, res, err := ret.ReviewDamage(ctx, o.ID, "ops-1", false, "cosmetic only, contents intact")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusDelivered {
		t.Fatalf("status = %s, want DELIVERED restored", got.Status)
	}
	if res != nil {
		t.Fatalf("replacement = %+v, want none on rejection", res)
	}
	if got.Damage.ReviewNote != "cosmetic only, contents intact" {
		t.Fatalf("review note = %q", got.Damage.ReviewNote)
	}
}

func TestReviewDamageRequiresPendingReport(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	at := testNow
	ret := newReturns(rig, &at)
	o := deliverOrder(ctx, t, rig)

	if _, _, err := ret.ReviewDamage(ctx, o.ID, "ops-1", true, ""); errs.KindOf(err) != errs.KindInvalidState {
		t.Fatal("review without a pending report must fail")
	}
}

func TestProcessReturnWithinWindow(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	at := testNow.Add(24 * time.Hour)
	ret := newReturns(rig, &at)
	o := deliverOrder(ctx, t, rig) // delivered at testNow

	got, err := ret.ProcessReturn(ctx, o.ID, "pat-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusReturnAccepted {
		t.Fatalf("status = %s, want RETURN_ACCEPTED", got.Status)
	}
}

func TestProcessReturnWindowExpired(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	at := testNow.Add(72 * time.Hour)
	ret := newReturns(rig, &at)
	o := deliverOrder(ctx, t, rig)

	if _, err := ret.ProcessReturn(ctx, o.ID, "pat-1", true); errs.KindOf(err) != errs.KindInvalidState {
		t.Fatal("return past the 48h window must fail")
	}
}

func TestProcessReturnOpenedPackageRejected(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	at := testNow.Add(time.Hour)
	ret := newReturns(rig, &at)
	o := deliverOrder(ctx, t, rig)

	if _, err := ret.ProcessReturn(ctx, o.ID, "pat-1", false); errs.KindOf(err) != errs.KindInvalidState {
		t.Fatal("opened package must not be returnable")
	}
}

func TestColdChainBreachAutoReplaces(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	at := testNow
	ret := newReturns(rig, &at)

	p := seedPharmacy(rig.store, "ph-1", 0, 50)
	p.ColdChainVerified = true
	rig.store.PutPharmacy(p)
	seedPharmacist(rig.store, "staff-1", "ph-1")
	seedPrescription(rig.store, "rx-cold", "pat-1", coldChainMeds())

	res, err := rig.assigner.Assign(ctx, AssignRequest{PrescriptionID: "rx-cold"})
	if err != nil {
		t.Fatal(err)
	}
	o := rig.advanceTo(ctx, res.Order.ID, order.StatusOutForDelivery)

	got, rep, err := ret.HandleColdChainBreach(ctx, o.ID, "courier-7")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusColdChainBreach {
		t.Fatalf("status = %s, want COLD_CHAIN_BREACH", got.Status)
	}
	if rep == nil || !rep.Assigned || rep.Order.ReplacementOf != o.ID {
		t.Fatalf("replacement = %+v", rep)
	}
	if !rep.Order.ColdChain {
		t.Fatal("replacement of a cold-chain order must be cold-chain")
	}
	alerts := rig.rec.alerted(notify.AlertColdChainBreach)
	if len(alerts) != 1 || alerts[0].Severity != notify.SeverityCritical {
		t.Fatalf("alerts = %+v", alerts)
	}
}

func TestReplacementRetriesAfterUnassignedOutcome(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	at := testNow
	ret := newReturns(rig, &at)
	o := deliverOrder(ctx, t, rig)

	// Suspend the only pharmacy, so the breach finds no replacement home.
	if err := rig.store.UpdatePharmacyStatus(ctx, "ph-1", pharmacy.StatusSuspended); err != nil {
		t.Fatal(err)
	}
	if _, err := ret.ReportDamage(ctx, o.ID, "pat-1", "crushed", nil); err != nil {
		t.Fatal(err)
	}
	got, rep, err := ret.ReviewDamage(ctx, o.ID, "ops-1", true, "approved")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusDamageApproved {
		t.Fatalf("status = %s, want DAMAGE_APPROVED", got.Status)
	}
	if rep == nil || rep.Assigned {
		t.Fatalf("replacement = %+v, want unassigned outcome", rep)
	}

	// The source order is terminal, so a consumed claim would block the
	// replacement forever. Once the pharmacy is back, a retry must win.
	if err := rig.store.UpdatePharmacyStatus(ctx, "ph-1", pharmacy.StatusActive); err != nil {
		t.Fatal(err)
	}
	rep2, err := ret.replace(ctx, got, "damage")
	if err != nil {
		t.Fatal(err)
	}
	if rep2 == nil || !rep2.Assigned || rep2.Order.ReplacementOf != o.ID {
		t.Fatalf("retried replacement = %+v", rep2)
	}

	// The claim now sticks: another trigger is deduplicated.
	rep3, err := ret.replace(ctx, got, "damage")
	if err != nil {
		t.Fatal(err)
	}
	if rep3 != nil {
		t.Fatalf("duplicate replacement = %+v, want nil", rep3)
	}
}

func TestColdChainBreachRefusedOnAmbientOrder(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	at := testNow
	ret := newReturns(rig, &at)
	o := rig.assignOrder(ctx, plainMeds())
	rig.advanceTo(ctx, o.ID, order.StatusOutForDelivery)

	if _, _, err := ret.HandleColdChainBreach(ctx, o.ID, "courier-7"); errs.KindOf(err) != errs.KindInvalidState {
		t.Fatal("ambient order must not take a cold-chain breach")
	}
}

func TestReplacementDeduplicatedByInbox(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	at := testNow
	inbox := idempotency.NewMemoryInbox()
	ret := NewReturns(rig.store, rig.assigner, inbox, rig.rec, rig.rec, nil)
	ret.now = func() time.Time { return at }

	o := deliverOrder(ctx, t, rig)

	// Pre-claim the exact replacement key; the review must then skip the
	// replacement instead of creating a second order.
	key := idempotency.Key("replacement", o.ID, "damage")
	if _, err := inbox.Begin(ctx, key, "returns"); err != nil {
		t.Fatal(err)
	}

	if _, err := ret.ReportDamage(ctx, o.ID, "pat-1", "crushed", nil); err != nil {
		t.Fatal(err)
	}
	got, res, err := ret.ReviewDamage(ctx, o.ID, "ops-1", true, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusDamageApproved {
		t.Fatalf("status = %s", got.Status)
	}
	if res != nil {
		t.Fatalf("replacement = %+v, want skipped on duplicate claim", res)
	}
}
