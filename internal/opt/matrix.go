package opt

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"hawkroute/internal/geo"
	"hawkroute/internal/model"
)

// Cost metrics.
const (
	MetricDistance = "distance"
	MetricDuration = "duration"
)

// ErrTooManyUnreachable is returned when too many pairs have no route.
var ErrTooManyUnreachable = errors.New("too many unreachable pairs")

// Stop is a point in the matrix. Index 0 is the merchant origin and has no order.
type Stop struct {
	OrderID  string
	Location model.Coordinate
}

// Matrix holds travel costs between every pair of stops.
// Unreachable pairs are +Inf in both tables.
type Matrix struct {
	Stops    []Stop
	Distance [][]float64
	Duration [][]float64
	Metric   string
	Degraded bool
}

// Size is the number of points including the origin.
func (m *Matrix) Size() int { return len(m.Stops) }

// Cost returns the cost of i->j under the selected metric.
func (m *Matrix) Cost(i, j int) float64 {
	if m.Metric == MetricDuration {
		return m.Duration[i][j]
	}
	return m.Distance[i][j]
}

func (m *Matrix) Reachable(i, j int) bool { return !math.IsInf(m.Distance[i][j], 1) }

// BuildOptions tunes BuildMatrix.
type BuildOptions struct {
	Metric                 string
	MaxUnreachableFraction float64
	Concurrency            int
}

func (o BuildOptions) withDefaults() BuildOptions {
	if o.Metric != MetricDuration {
		o.Metric = MetricDistance
	}
	if o.MaxUnreachableFraction <= 0 {
		o.MaxUnreachableFraction = 0.5
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	return o
}

// BuildMatrix computes the full cost matrix for origin followed by stops.
// A MatrixProvider is asked once for all pairs; any other provider is queried
// pairwise with bounded concurrency.
func BuildMatrix(ctx context.Context, p geo.Provider, origin model.Coordinate, stops []Stop, opts BuildOptions) (*Matrix, error) {
	opts = opts.withDefaults()
	points := make([]Stop, 0, len(stops)+1)
	points = append(points, Stop{Location: origin})
	points = append(points, stops...)
	n := len(points)

	legs, err := queryLegs(ctx, p, points, opts.Concurrency)
	if err != nil {
		return nil, err
	}

	_, geometricOnly := p.(*geo.Haversine)
	m := &Matrix{
		Stops:    points,
		Distance: make([][]float64, n),
		Duration: make([][]float64, n),
		Metric:   opts.Metric,
	}
	unreachable := 0
	for i := 0; i < n; i++ {
		m.Distance[i] = make([]float64, n)
		m.Duration[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			leg := legs[i][j]
			if !leg.Reachable() {
				unreachable++
			}
			if leg.Source == geo.SourceGeometric && !geometricOnly {
				m.Degraded = true
			}
			m.Distance[i][j] = leg.Distance()
			m.Duration[i][j] = leg.Duration()
		}
	}
	if pairs := n * (n - 1); pairs > 0 && float64(unreachable)/float64(pairs) > opts.MaxUnreachableFraction {
		return nil, fmt.Errorf("%w: %d of %d", ErrTooManyUnreachable, unreachable, pairs)
	}
	return m, nil
}

func queryLegs(ctx context.Context, p geo.Provider, points []Stop, concurrency int) ([][]geo.Leg, error) {
	n := len(points)
	if n < 2 {
		return [][]geo.Leg{make([]geo.Leg, n)}, nil
	}
	coords := make([]model.Coordinate, n)
	for i, s := range points {
		coords[i] = s.Location
	}
	if mp, ok := p.(geo.MatrixProvider); ok {
		legs, err := mp.Matrix(ctx, coords, coords)
		if err != nil {
			return nil, err
		}
		if len(legs) != n {
			return nil, fmt.Errorf("matrix provider returned %d rows, want %d", len(legs), n)
		}
		return legs, nil
	}

	legs := make([][]geo.Leg, n)
	for i := range legs {
		legs[i] = make([]geo.Leg, n)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			i, j := i, j
			g.Go(func() error {
				leg, err := p.Distance(gctx, coords[i], coords[j])
				if err != nil {
					return fmt.Errorf("distance %d->%d: %w", i, j, err)
				}
				legs[i][j] = leg
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return legs, nil
}
