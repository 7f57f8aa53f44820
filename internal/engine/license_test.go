package engine

import (
	"context"
	"testing"
	"time"

	"github.com/medrova/go-fulfillment/internal/domain/pharmacy"
	"github.com/medrova/go-fulfillment/internal/notify"
)

func newLicenseChecker(rig *testRig) *LicenseChecker {
	c := NewLicenseChecker(rig.store, rig.rec, nil)
	c.now = fixedNow
	return c
}

func TestLicenseScanSuspendsExpired(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	checker := newLicenseChecker(rig)

	expired := testNow.Add(-24 * time.Hour)
	p := seedPharmacy(rig.store, "ph-lapsed", 0, 50)
	p.DrugLicenseExpiry = &expired
	rig.store.PutPharmacy(p)

	suspended, err := checker.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if suspended != 1 {
		t.Fatalf("suspended = %d, want 1", suspended)
	}

	got, err := rig.store.GetPharmacy(ctx, "ph-lapsed")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != pharmacy.StatusSuspended {
		t.Fatalf("status = %s, want SUSPENDED", got.Status)
	}

	alerts := rig.rec.alerted(notify.AlertLicenseExpired)
	if len(alerts) != 1 || alerts[0].Severity != notify.SeverityCritical {
		t.Fatalf("alerts = %+v", alerts)
	}
}

func TestLicenseScanWarnsAboutUpcomingExpiry(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	checker := newLicenseChecker(rig)

	soon := testNow.Add(3 * 24 * time.Hour) // inside the 7-day window
	p := seedPharmacy(rig.store, "ph-soon", 0, 50)
	p.DrugLicenseExpiry = &soon
	rig.store.PutPharmacy(p)

	suspended, err := checker.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if suspended != 0 {
		t.Fatalf("suspended = %d, want 0", suspended)
	}

	got, err := rig.store.GetPharmacy(ctx, "ph-soon")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != pharmacy.StatusActive {
		t.Fatalf("status = %s, want still ACTIVE", got.Status)
	}

	alerts := rig.rec.alerted(notify.AlertLicenseExpiring)
	if len(alerts) != 1 || alerts[0].Severity != notify.SeverityWarning {
		t.Fatalf("alerts = %+v", alerts)
	}
}

func TestLicenseScanIgnoresDistantAndUnrecordedExpiry(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig()
	checker := newLicenseChecker(rig)

	distant := testNow.Add(90 * 24 * time.Hour)
	p := seedPharmacy(rig.store, "ph-fine", 0, 50)
	p.DrugLicenseExpiry = &distant
	rig.store.PutPharmacy(p)

	seedPharmacy(rig.store, "ph-none", 0, 50) // no expiry on record

	suspended, err := checker.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if suspended != 0 {
		t.Fatalf("suspended = %d, want 0", suspended)
	}
	if len(rig.rec.alerts) != 0 {
		t.Fatalf("alerts = %+v, want none", rig.rec.alerts)
	}
}
