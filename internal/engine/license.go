package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/domain/pharmacy"
	"github.com/medrova/go-fulfillment/internal/notify"
	"github.com/medrova/go-fulfillment/internal/store"
)

// licenseWarningWindow is how far ahead an expiring drug license raises a
// warning.
const licenseWarningWindow = 7 * 24 * time.Hour

// LicenseChecker periodically suspends pharmacies whose drug license has
// expired and warns operations about upcoming expiries. A suspended
// pharmacy fails eligibility, so no new orders land there.
type LicenseChecker struct {
	pharmacies store.PharmacyStore
	alerter    notify.OperatorAlerter
	logger     *zap.Logger
	now        func() time.Time
}

// NewLicenseChecker wires the checker.
func NewLicenseChecker(pharmacies store.PharmacyStore, alerter notify.OperatorAlerter, logger *zap.Logger) *LicenseChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LicenseChecker{
		pharmacies: pharmacies,
		alerter:    alerter,
		logger:     logger,
		now:        utcNow,
	}
}

// Scan checks every active pharmacy's license. Per-pharmacy failures are
// isolated.
func (c *LicenseChecker) Scan(ctx context.Context) (suspended int, err error) {
	active, err := c.pharmacies.ListActivePharmacies(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pharmacies: %w", err)
	}

	now := c.now()
	for _, p := range active {
		if p.DrugLicenseExpiry == nil {
			continue
		}
		switch {
		case !p.DrugLicenseExpiry.After(now):
			if err := c.pharmacies.UpdatePharmacyStatus(ctx, p.ID, pharmacy.StatusSuspended); err != nil {
				c.logger.Error("license suspension failed",
					zap.String("pharmacy_id", p.ID), zap.Error(err))
				continue
			}
			suspended++
			alertQuiet(ctx, c.logger, c.alerter, notify.NewAlert(
				notify.AlertLicenseExpired, notify.SeverityCritical,
				fmt.Sprintf("pharmacy %s suspended: drug license expired %s", p.ID, p.DrugLicenseExpiry.Format("2006-01-02")),
				"", p.ID))
		case p.DrugLicenseExpiry.Sub(now) <= licenseWarningWindow:
			alertQuiet(ctx, c.logger, c.alerter, notify.NewAlert(
				notify.AlertLicenseExpiring, notify.SeverityWarning,
				fmt.Sprintf("pharmacy %s drug license expires %s", p.ID, p.DrugLicenseExpiry.Format("2006-01-02")),
				"", p.ID))
		}
	}
	return suspended, nil
}
