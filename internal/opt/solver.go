// Package opt builds cost matrices and orders a merchant's deliveries into
// a single round trip starting and ending at the merchant.
package opt

import (
	"errors"
	"math"
)

// Strategy names.
const (
	StrategyConstrained = "constrained"
	StrategyGreedy      = "greedy"
)

var (
	// ErrInfeasible means no tour visits every stop within the constraints.
	ErrInfeasible = errors.New("no feasible tour")
	// ErrTimeBudget means the solver ran out of time before finishing.
	ErrTimeBudget = errors.New("solver time budget exceeded")
)

// Tour is a solved visiting order. Visit holds matrix indices 1..N; the
// depot (0) is implicit at both ends.
type Tour struct {
	Visit      []int
	Cost       float64
	Unresolved []int
	Strategy   string
	FellBack   bool
	Reason     string
}

// RouteSolver orders the stops of m.
type RouteSolver interface {
	Solve(m *Matrix) (Tour, error)
}

// NewSolver returns the solver for a configured strategy name. The
// constrained strategy always carries a greedy fallback.
func NewSolver(strategy string, c Constrained) RouteSolver {
	if strategy == StrategyGreedy {
		return Greedy{}
	}
	return Chain{Primary: c, Fallback: Greedy{}}
}

// Chain runs Primary and, when it is infeasible or out of time, Fallback.
type Chain struct {
	Primary  RouteSolver
	Fallback RouteSolver
}

func (c Chain) Solve(m *Matrix) (Tour, error) {
	t, err := c.Primary.Solve(m)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrInfeasible) && !errors.Is(err, ErrTimeBudget) {
		return Tour{}, err
	}
	ft, ferr := c.Fallback.Solve(m)
	if ferr != nil {
		return Tour{}, ferr
	}
	ft.FellBack = true
	ft.Reason = err.Error()
	return ft, nil
}

// tourTotal sums table along depot -> visit... -> depot.
func tourTotal(table [][]float64, visit []int) float64 {
	if len(visit) == 0 {
		return 0
	}
	total := table[0][visit[0]]
	for i := 1; i < len(visit); i++ {
		total += table[visit[i-1]][visit[i]]
	}
	return total + table[visit[len(visit)-1]][0]
}

// TourCost is the tour total under the matrix metric.
func (m *Matrix) TourCost(visit []int) float64 {
	if m.Metric == MetricDuration {
		return tourTotal(m.Duration, visit)
	}
	return tourTotal(m.Distance, visit)
}

func (m *Matrix) TourDistance(visit []int) float64 { return tourTotal(m.Distance, visit) }

func (m *Matrix) TourDuration(visit []int) float64 { return tourTotal(m.Duration, visit) }

func isInf(v float64) bool { return math.IsInf(v, 1) }
