package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"hawkroute/internal/metrics"
	"hawkroute/internal/model"
	"hawkroute/internal/store"
)

// MerchantOptimizer is the part of Optimizer the scheduler drives.
type MerchantOptimizer interface {
	OptimizeForMerchant(ctx context.Context, merchantID, date string) (Result, error)
	DayBounds(date string) (time.Time, time.Time, error)
	AwaitingStatuses() []string
}

// Scheduler fires a daily optimization for every active merchant with
// awaiting orders.
type Scheduler struct {
	Store     store.Store
	Optimizer MerchantOptimizer
	Hour      int
	Minute    int
	Location  *time.Location
	// OnResult, if set, is called after each successful merchant run.
	OnResult func(merchantID string, res Result)

	now func() time.Time
}

// RunReport summarises one pass over the merchants.
type RunReport struct {
	Date      string           `json:"date"`
	Attempted int              `json:"attempted"`
	Succeeded int              `json:"succeeded"`
	Skipped   int              `json:"skipped"`
	Failed    map[string]error `json:"-"`
}

func (r RunReport) MarshalJSON() ([]byte, error) {
	type alias RunReport
	failed := make(map[string]string, len(r.Failed))
	for id, err := range r.Failed {
		failed[id] = err.Error()
	}
	return json.Marshal(struct {
		alias
		Failed map[string]string `json:"failed"`
	}{alias(r), failed})
}

func (s *Scheduler) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s *Scheduler) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// NextRun returns the first hour:minute in loc strictly after now.
func NextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// Run blocks until ctx is done, firing RunOnce at each daily trigger.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := NextRun(s.clock(), s.Hour, s.Minute, s.loc())
		log.Printf("scheduler next_run=%s", next.Format(time.RFC3339))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.RunOnce(ctx, next.In(s.loc()).Format(model.DateLayout))
	}
}

// RunOnce optimizes every active merchant with awaiting orders for date.
// One merchant's failure, panics included, never stops the others.
func (s *Scheduler) RunOnce(ctx context.Context, date string) RunReport {
	metrics.SchedulerRuns.Inc()
	start := time.Now()
	rep := RunReport{Date: date, Failed: map[string]error{}}
	merchants, err := s.Store.ListActiveMerchants(ctx)
	if err != nil {
		log.Printf("scheduler list merchants date=%s err=%v", date, err)
		rep.Failed["*"] = err
		return rep
	}
	from, to, err := s.Optimizer.DayBounds(date)
	if err != nil {
		rep.Failed["*"] = err
		return rep
	}
	for _, mc := range merchants {
		if ctx.Err() != nil {
			break
		}
		n, err := s.Store.CountAwaitingOrders(ctx, mc.ID, from, to, s.Optimizer.AwaitingStatuses())
		if err != nil {
			s.fail(&rep, mc.ID, err)
			continue
		}
		if n == 0 {
			rep.Skipped++
			metrics.SchedulerMerchantRuns.WithLabelValues("skipped").Inc()
			continue
		}
		rep.Attempted++
		res, err := s.runMerchant(ctx, mc.ID, date)
		if err != nil {
			s.fail(&rep, mc.ID, err)
			continue
		}
		rep.Succeeded++
		metrics.SchedulerMerchantRuns.WithLabelValues("succeeded").Inc()
		if s.OnResult != nil {
			s.OnResult(mc.ID, res)
		}
	}
	log.Printf("scheduler run date=%s attempted=%d succeeded=%d skipped=%d failed=%d dur=%s",
		date, rep.Attempted, rep.Succeeded, rep.Skipped, len(rep.Failed), time.Since(start))
	return rep
}

func (s *Scheduler) runMerchant(ctx context.Context, merchantID, date string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Optimizer.OptimizeForMerchant(ctx, merchantID, date)
}

func (s *Scheduler) fail(rep *RunReport, merchantID string, err error) {
	code := "error"
	if re, ok := AsError(err); ok {
		code = re.Code
	}
	log.Printf("scheduler merchant=%s date=%s code=%s err=%v", merchantID, rep.Date, code, err)
	metrics.SchedulerMerchantRuns.WithLabelValues("failed").Inc()
	rep.Failed[merchantID] = err
}
