package opt

import "time"

// ImproveOrder2Opt applies 2-opt to a depot-anchored visiting order. Each
// candidate is re-evaluated over the whole tour, so asymmetric costs are
// handled, and rejected when its distance exceeds maxDistance.
func ImproveOrder2Opt(m *Matrix, visit []int, maxDistance float64, deadline time.Time, now func() time.Time) []int {
	best := append([]int(nil), visit...)
	bestCost := m.TourCost(best)
	n := len(best)
	for {
		improved := false
		for i := 0; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				if now().After(deadline) {
					return best
				}
				cand := twoOptSwap(best, i, k)
				c := m.TourCost(cand)
				if c+1e-3 < bestCost && m.TourDistance(cand) <= maxDistance {
					best, bestCost = cand, c
					improved = true
				}
			}
		}
		if !improved {
			return best
		}
	}
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	// reverse i..k
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}
