package opt

import (
	"math"
	"sort"
)

// Greedy is nearest neighbour from the depot. It never fails: stops it
// cannot place are reported in Tour.Unresolved.
type Greedy struct{}

func (Greedy) Solve(m *Matrix) (Tour, error) {
	t := Tour{Strategy: StrategyGreedy}
	n := m.Size()
	if n <= 1 {
		return t, nil
	}
	done := make([]bool, n)
	done[0] = true
	for j := 1; j < n; j++ {
		if isolated(m, j) {
			done[j] = true
			t.Unresolved = append(t.Unresolved, j)
		}
	}

	cur := 0
	for {
		next, best := -1, math.Inf(1)
		for j := 1; j < n; j++ {
			if done[j] {
				continue
			}
			// strict less keeps the lowest index on ties
			if c := m.Cost(cur, j); c < best {
				next, best = j, c
			}
		}
		if next < 0 {
			break
		}
		done[next] = true
		t.Visit = append(t.Visit, next)
		cur = next
	}
	for j := 1; j < n; j++ {
		if !done[j] {
			t.Unresolved = append(t.Unresolved, j)
		}
	}
	for len(t.Visit) > 0 && isInf(m.Cost(t.Visit[len(t.Visit)-1], 0)) {
		t.Unresolved = append(t.Unresolved, t.Visit[len(t.Visit)-1])
		t.Visit = t.Visit[:len(t.Visit)-1]
	}
	sort.Ints(t.Unresolved)
	t.Cost = m.TourCost(t.Visit)
	return t, nil
}

// isolated reports whether j has no finite arc in or no finite arc out.
func isolated(m *Matrix, j int) bool {
	in, out := false, false
	for i := 0; i < m.Size(); i++ {
		if i == j {
			continue
		}
		if !isInf(m.Cost(i, j)) {
			in = true
		}
		if !isInf(m.Cost(j, i)) {
			out = true
		}
	}
	return !in || !out
}
