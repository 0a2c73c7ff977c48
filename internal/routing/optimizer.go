// Package routing turns a merchant's awaiting orders into a persisted
// delivery plan and answers per-order arrival estimates.
package routing

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"hawkroute/internal/geo"
	"hawkroute/internal/metrics"
	"hawkroute/internal/model"
	"hawkroute/internal/opt"
	"hawkroute/internal/store"
)

// Options configures an Optimizer. Zero values fall back to sensible defaults.
type Options struct {
	Solver                 opt.RouteSolver
	Metric                 string
	MaxUnreachableFraction float64
	AwaitingStatuses       []string
	Location               *time.Location
	SpeedMps               float64
}

// Result is the outcome of one optimization.
type Result struct {
	Plan                model.RoutePlan         `json:"plan"`
	Stops               []model.PlannedStop     `json:"stops"`
	Unresolved          []model.UnresolvedOrder `json:"unresolved"`
	Degraded            bool                    `json:"degraded"`
	Strategy            string                  `json:"strategy"`
	FellBack            bool                    `json:"fellBack"`
	FallbackReason      string                  `json:"fallbackReason,omitempty"`
	MerchantLocation    model.Coordinate        `json:"merchantLocation"`
	EstimatedCompletion time.Time               `json:"estimatedCompletion"`
	Persisted           bool                    `json:"persisted"`
}

type Optimizer struct {
	store     store.Store
	provider  geo.Provider
	geometric *geo.Haversine
	solver    opt.RouteSolver
	opts      Options
	now       func() time.Time
}

func NewOptimizer(st store.Store, p geo.Provider, opts Options) *Optimizer {
	if opts.Solver == nil {
		opts.Solver = opt.NewSolver(opt.StrategyConstrained, opt.Constrained{})
	}
	if len(opts.AwaitingStatuses) == 0 {
		opts.AwaitingStatuses = []string{model.OrderPending, model.OrderConfirmed, model.OrderPreparing}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Optimizer{
		store:     st,
		provider:  p,
		geometric: geo.NewHaversine(opts.SpeedMps),
		solver:    opts.Solver,
		opts:      opts,
		now:       time.Now,
	}
}

// Today is the current date in the configured timezone.
func (o *Optimizer) Today() string { return o.now().In(o.opts.Location).Format(model.DateLayout) }

// DayBounds returns [00:00, next 00:00) of date in the configured timezone.
func (o *Optimizer) DayBounds(date string) (from, to time.Time, err error) {
	from, err = time.ParseInLocation(model.DateLayout, date, o.opts.Location)
	if err != nil {
		return time.Time{}, time.Time{}, inputError(CodeInvalidDate, "date must be YYYY-MM-DD", err)
	}
	return from, from.AddDate(0, 0, 1), nil
}

// AwaitingStatuses are the order statuses that make an order plannable.
func (o *Optimizer) AwaitingStatuses() []string { return o.opts.AwaitingStatuses }

// OptimizeForMerchant plans the merchant's awaiting orders for date (empty
// means today). The network phase runs before any transaction is opened.
func (o *Optimizer) OptimizeForMerchant(ctx context.Context, merchantID, date string) (res Result, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			if re, ok := AsError(err); ok {
				outcome = string(re.Kind)
			}
		}
		metrics.Optimizations.WithLabelValues(outcome, res.Strategy).Inc()
		metrics.OptimizationDuration.Observe(time.Since(start).Seconds())
		log.Printf("optimize merchant=%s date=%s outcome=%s strategy=%s stops=%d unresolved=%d degraded=%t dur=%s err=%v",
			merchantID, res.Plan.Date, outcome, res.Strategy, len(res.Stops), len(res.Unresolved), res.Degraded, time.Since(start), err)
	}()

	if date == "" {
		date = o.Today()
	}
	from, to, err := o.DayBounds(date)
	if err != nil {
		return Result{}, err
	}
	res.Plan = model.RoutePlan{MerchantID: merchantID, Date: date, OrderSequence: []string{}, Status: model.PlanPending}

	merchant, err := o.store.GetMerchant(ctx, merchantID)
	if errors.Is(err, store.ErrNotFound) {
		return res, inputError(CodeMerchantNotFound, "merchant "+merchantID+" not found", err)
	}
	if err != nil {
		return res, persistenceError("load merchant", err)
	}
	orders, err := o.store.ListAwaitingOrders(ctx, merchantID, from, to, o.opts.AwaitingStatuses)
	if err != nil {
		return res, persistenceError("load orders", err)
	}
	now := o.now()
	res.Stops = []model.PlannedStop{}
	res.Unresolved = []model.UnresolvedOrder{}
	res.EstimatedCompletion = now
	if len(orders) == 0 {
		return res, nil
	}
	if merchant.Location == nil || !merchant.Location.Valid() {
		return res, inputError(CodeMerchantLocationUnavailable, "merchant has no current location", nil)
	}
	origin := *merchant.Location
	res.MerchantLocation = origin

	stops := make([]opt.Stop, 0, len(orders))
	byID := make(map[string]model.Order, len(orders))
	for _, ord := range orders {
		byID[ord.ID] = ord
		if ord.Delivery == nil || !ord.Delivery.Valid() {
			res.Unresolved = append(res.Unresolved, model.UnresolvedOrder{OrderID: ord.ID, Reason: model.ReasonMissingCoordinates})
			continue
		}
		stops = append(stops, opt.Stop{OrderID: ord.ID, Location: *ord.Delivery})
	}
	if len(stops) == 0 {
		return res, inputError(CodeNoLocatableOrders, "no awaiting order has delivery coordinates", nil)
	}

	m, err := o.buildMatrix(ctx, origin, stops)
	if err != nil {
		return res, err
	}
	res.Degraded = m.Degraded

	tour, err := o.solver.Solve(m)
	if err != nil {
		if errors.Is(err, opt.ErrInfeasible) || errors.Is(err, opt.ErrTimeBudget) {
			return res, infeasibleError("no route satisfies the constraints", err)
		}
		return res, &Error{Kind: KindInfeasible, Code: CodeInfeasible, Message: "solver failed", Err: err}
	}
	res.Strategy, res.FellBack, res.FallbackReason = tour.Strategy, tour.FellBack, tour.Reason
	for _, idx := range tour.Unresolved {
		res.Unresolved = append(res.Unresolved, model.UnresolvedOrder{OrderID: m.Stops[idx].OrderID, Reason: model.ReasonUnreachable})
	}

	sequence := make([]string, len(tour.Visit))
	for i, idx := range tour.Visit {
		sequence[i] = m.Stops[idx].OrderID
	}
	cleared := make([]string, len(res.Unresolved))
	for i, u := range res.Unresolved {
		cleared[i] = u.OrderID
	}
	plan := res.Plan
	plan.OrderSequence = sequence
	plan.TotalDistanceMeters = m.TourDistance(tour.Visit)
	plan.EstimatedDurationSeconds = int(math.Round(m.TourDuration(tour.Visit)))
	plan.Strategy = tour.Strategy
	plan.Degraded = m.Degraded

	saved, err := o.store.SaveRoutePlan(ctx, plan, cleared)
	if err != nil {
		return res, persistenceError("save route plan", err)
	}
	res.Plan = saved
	res.Persisted = true
	res.Stops = plannedStops(m, tour.Visit, byID, now)
	res.EstimatedCompletion = now.Add(time.Duration(plan.EstimatedDurationSeconds) * time.Second)

	opt.RecordMetrics(merchantID, date, opt.SolveMetrics{
		Strategy:   tour.Strategy,
		Stops:      len(tour.Visit),
		Cost:       tour.Cost,
		Elapsed:    time.Since(start),
		FellBack:   tour.FellBack,
		Reason:     tour.Reason,
		RecordedAt: now,
	})
	return res, nil
}

// buildMatrix asks the configured provider and, if that fails for any
// reason other than unroutable input, rebuilds geometrically.
func (o *Optimizer) buildMatrix(ctx context.Context, origin model.Coordinate, stops []opt.Stop) (*opt.Matrix, error) {
	bopts := opt.BuildOptions{Metric: o.opts.Metric, MaxUnreachableFraction: o.opts.MaxUnreachableFraction}
	m, err := opt.BuildMatrix(ctx, o.provider, origin, stops, bopts)
	if err == nil {
		return m, nil
	}
	if errors.Is(err, opt.ErrTooManyUnreachable) {
		return nil, infeasibleError("too many delivery points cannot be reached", err)
	}
	if ctx.Err() != nil {
		return nil, oracleError(CodeOracleFailed, "distance lookup cancelled", ctx.Err())
	}
	log.Printf("optimize matrix degraded to geometric err=%v", err)
	metrics.OracleFallbacks.Inc()
	m, gerr := opt.BuildMatrix(ctx, o.geometric, origin, stops, bopts)
	if gerr != nil {
		return nil, oracleError(CodeOracleFailed, "distance lookup failed", errors.Join(err, gerr))
	}
	m.Degraded = true
	return m, nil
}

func plannedStops(m *opt.Matrix, visit []int, orders map[string]model.Order, now time.Time) []model.PlannedStop {
	out := make([]model.PlannedStop, len(visit))
	prev, elapsed := 0, 0.0
	for i, idx := range visit {
		s := m.Stops[idx]
		dur := m.Duration[prev][idx]
		elapsed += dur
		out[i] = model.PlannedStop{
			OrderID:            s.OrderID,
			Sequence:           i + 1,
			Location:           s.Location,
			Address:            orders[s.OrderID].DeliveryAddress,
			LegDistanceMeters:  m.Distance[prev][idx],
			LegDurationSeconds: int(math.Round(dur)),
			ETA:                now.Add(time.Duration(elapsed * float64(time.Second))),
		}
		prev = idx
	}
	return out
}
