package order

import (
	"sort"
	"strings"
	"time"

	"github.com/medrova/go-fulfillment/internal/errs"
)

// transitions is the authoritative adjacency table. Every status mutation
// must pass through Transition; there are no direct writes. Terminal
// statuses have no entry.
var transitions = map[Status][]Status{
	StatusPendingAssignment: {StatusAssigned, StatusCancelled},
	StatusAssigned:          {StatusPharmacyAccepted, StatusPharmacyRejected, StatusCancelled},
	StatusPharmacyAccepted:  {StatusPreparing, StatusStockIssue, StatusCancelled},
	StatusPharmacyRejected:  {StatusAssigned, StatusCancelled},
	StatusPreparing:         {StatusReadyForPickup, StatusStockIssue, StatusCancelled},
	StatusStockIssue:        {StatusAwaitingSubstitutionApproval, StatusAssigned, StatusCancelled},
	StatusAwaitingSubstitutionApproval: {StatusPreparing, StatusStockIssue, StatusCancelled},
	StatusReadyForPickup:               {StatusOutForDelivery, StatusCancelled},
	StatusOutForDelivery:               {StatusDelivered, StatusDeliveryAttempted, StatusDeliveryFailed, StatusColdChainBreach},
	StatusDeliveryAttempted:            {StatusOutForDelivery, StatusDelivered, StatusDeliveryFailed, StatusColdChainBreach},
	StatusDeliveryFailed:               {StatusAssigned, StatusOutForDelivery, StatusCancelled, StatusColdChainBreach},
	StatusDelivered:                    {StatusDamageReported, StatusReturnAccepted, StatusColdChainBreach},
	StatusDamageReported:               {StatusDamageApproved, StatusDelivered},
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(s Status) bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the legal successors of a status, sorted.
func NextStatuses(s Status) []Status {
	out := make([]Status, len(transitions[s]))
	copy(out, transitions[s])
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Transition applies a status change in memory: it validates the edge
// against the table, sets the new status, and stamps the reached-at
// timestamp. Persistence must still guard on the prior status.
func (o *Order) Transition(to Status, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return errs.InvalidState("illegal transition %s -> %s (legal: %s)",
			o.Status, to, joinStatuses(NextStatuses(o.Status)))
	}
	o.Status = to
	o.StampStatus(to, now)
	return nil
}

func joinStatuses(ss []Status) string {
	if len(ss) == 0 {
		return "none, terminal"
	}
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
