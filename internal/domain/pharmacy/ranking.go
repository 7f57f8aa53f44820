package pharmacy

import "sort"

// Rank orders eligible pharmacies for selection: ascending queue size,
// exact ties broken by preferring a pincode match with the delivery
// address. The sort is stable so equally ranked pharmacies keep their
// input order.
func Rank(candidates []*Pharmacy, deliveryPincode string) []*Pharmacy {
	ranked := make([]*Pharmacy, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].CurrentQueueSize != ranked[j].CurrentQueueSize {
			return ranked[i].CurrentQueueSize < ranked[j].CurrentQueueSize
		}
		iLocal := ranked[i].Pincode == deliveryPincode
		jLocal := ranked[j].Pincode == deliveryPincode
		return iLocal && !jLocal
	})
	return ranked
}
