package opt

import (
	"fmt"
	"math"
	"time"
)

// Constrained defaults.
const (
	DefaultMaxDistanceMeters = 100000.0
	DefaultTimeBudget        = 2 * time.Second
)

// Constrained builds the tour by repeatedly taking the cheapest admissible
// arc from the end of the path. An arc to j is admissible only when the
// distance travelled so far plus cur->j plus j->depot stays within
// MaxDistanceMeters, so the finished tour always honours the ceiling.
type Constrained struct {
	MaxDistanceMeters float64
	TimeBudget        time.Duration
	LocalSearch       bool

	now func() time.Time
}

func (c Constrained) Solve(m *Matrix) (Tour, error) {
	limit := c.MaxDistanceMeters
	if limit <= 0 {
		limit = DefaultMaxDistanceMeters
	}
	budget := c.TimeBudget
	if budget <= 0 {
		budget = DefaultTimeBudget
	}
	now := c.now
	if now == nil {
		now = time.Now
	}
	deadline := now().Add(budget)

	t := Tour{Strategy: StrategyConstrained}
	n := m.Size()
	if n <= 1 {
		return t, nil
	}
	done := make([]bool, n)
	done[0] = true
	cur, travelled := 0, 0.0
	for len(t.Visit) < n-1 {
		if now().After(deadline) {
			return Tour{}, ErrTimeBudget
		}
		next, best := -1, math.Inf(1)
		for j := 1; j < n; j++ {
			if done[j] {
				continue
			}
			out, back := m.Distance[cur][j], m.Distance[j][0]
			if isInf(out) || isInf(back) || travelled+out+back > limit {
				continue
			}
			if cost := m.Cost(cur, j); cost < best {
				next, best = j, cost
			}
		}
		if next < 0 {
			return Tour{}, fmt.Errorf("%w: %d of %d stops placed within %.0f m", ErrInfeasible, len(t.Visit), n-1, limit)
		}
		travelled += m.Distance[cur][next]
		done[next] = true
		t.Visit = append(t.Visit, next)
		cur = next
	}

	if c.LocalSearch && len(t.Visit) > 2 {
		t.Visit = ImproveOrder2Opt(m, t.Visit, limit, deadline, now)
	}
	t.Cost = m.TourCost(t.Visit)
	return t, nil
}
