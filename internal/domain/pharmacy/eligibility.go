package pharmacy

import (
	"strings"
	"time"

	"github.com/medrova/go-fulfillment/internal/domain/order"
)

// coldChainVocabulary lists medications that require refrigerated handling.
// Matching is a case-insensitive substring check against both the brand and
// generic names; one matching line item makes the whole order cold-chain.
var coldChainVocabulary = []string{
	"semaglutide",
	"liraglutide",
	"dulaglutide",
	"insulin",
	"tirzepatide",
	"exenatide",
	"epoetin",
	"teriparatide",
}

// NeedsColdChain reports whether any medication in the list matches the
// cold-chain vocabulary.
func NeedsColdChain(meds []order.Medication) bool {
	for _, m := range meds {
		name := strings.ToLower(m.Name)
		generic := strings.ToLower(m.GenericName)
		for _, v := range coldChainVocabulary {
			if strings.Contains(name, v) || strings.Contains(generic, v) {
				return true
			}
		}
	}
	return false
}

// IsEligible is the hard constraint filter for assignment. A pharmacy
// qualifies iff it is active, strictly under its daily limit, holds an
// unexpired (or unrecorded) drug license, and, for cold-chain orders, has
// admin-verified cold-chain handling. Capability alone never qualifies.
func IsEligible(p *Pharmacy, needsColdChain bool, now time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	if p.CurrentQueueSize >= p.DailyOrderLimit {
		return false
	}
	if p.DrugLicenseExpiry != nil && !p.DrugLicenseExpiry.After(now) {
		return false
	}
	if needsColdChain && !p.ColdChainVerified {
		return false
	}
	return true
}
