package routing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"hawkroute/internal/geo"
	"hawkroute/internal/model"
	"hawkroute/internal/store"
)

func TestNextRun(t *testing.T) {
	sgt := time.FixedZone("SGT", 8*3600)
	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{"before cutoff", time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC), time.UTC, time.Date(2026, 5, 6, 14, 0, 0, 0, time.UTC)},
		{"at cutoff", time.Date(2026, 5, 6, 14, 0, 0, 0, time.UTC), time.UTC, time.Date(2026, 5, 7, 14, 0, 0, 0, time.UTC)},
		{"after cutoff", time.Date(2026, 5, 6, 15, 0, 0, 0, time.UTC), time.UTC, time.Date(2026, 5, 7, 14, 0, 0, 0, time.UTC)},
		// 07:00 UTC is 15:00 SGT, already past the local cutoff
		{"timezone", time.Date(2026, 5, 6, 7, 0, 0, 0, time.UTC), sgt, time.Date(2026, 5, 7, 14, 0, 0, 0, sgt)},
		{"month end", time.Date(2026, 5, 31, 20, 0, 0, 0, time.UTC), time.UTC, time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRun(tt.now, 14, 0, tt.loc)
			if !got.Equal(tt.want) {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

// scriptedOptimizer fails or panics for chosen merchants.
type scriptedOptimizer struct {
	*Optimizer
	mu     sync.Mutex
	calls  []string
	fail   map[string]error
	panics map[string]bool
}

func (s *scriptedOptimizer) OptimizeForMerchant(ctx context.Context, merchantID, date string) (Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, merchantID)
	s.mu.Unlock()
	if s.panics[merchantID] {
		panic("solver exploded")
	}
	if err := s.fail[merchantID]; err != nil {
		return Result{}, err
	}
	return s.Optimizer.OptimizeForMerchant(ctx, merchantID, date)
}

func schedulerStore(t *testing.T) *store.Memory {
	t.Helper()
	st := scenarioStore(t)
	for _, id := range []string{"m2", "m3", "m4"} {
		st.UpsertMerchant(model.Merchant{ID: id, Active: true, Location: coord(0, 0)})
		st.UpsertOrder(model.Order{ID: id + "-o", MerchantID: id, Status: model.OrderPending, Delivery: coord(0, 0.01), CreatedAt: testNow})
	}
	st.UpsertMerchant(model.Merchant{ID: "idle", Active: true, Location: coord(0, 0)})
	st.UpsertMerchant(model.Merchant{ID: "closed", Active: false, Location: coord(0, 0)})
	st.UpsertOrder(model.Order{ID: "closed-o", MerchantID: "closed", Status: model.OrderPending, Delivery: coord(0, 0.01), CreatedAt: testNow})
	return st
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	st := schedulerStore(t)
	so := &scriptedOptimizer{
		Optimizer: newTestOptimizer(st, geo.NewHaversine(0), Options{}),
		fail:      map[string]error{"m2": errors.New("boom")},
		panics:    map[string]bool{"m3": true},
	}
	var published []string
	s := &Scheduler{Store: st, Optimizer: so, Hour: 14, OnResult: func(id string, res Result) {
		published = append(published, id+":"+res.Plan.ID)
	}}
	rep := s.RunOnce(context.Background(), testDate)

	if rep.Attempted != 4 || rep.Succeeded != 2 || rep.Skipped != 1 || len(rep.Failed) != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Failed["m2"] == nil || rep.Failed["m3"] == nil {
		t.Fatalf("failures = %v", rep.Failed)
	}
	for _, id := range so.calls {
		if id == "idle" || id == "closed" {
			t.Fatalf("%s must not be optimized", id)
		}
	}
	if len(published) != 2 {
		t.Fatalf("published = %v", published)
	}
	if _, err := st.LatestRoutePlan(context.Background(), "m4", testDate); err != nil {
		t.Fatalf("m4 plan missing after m2/m3 failures: %v", err)
	}

	b, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(b, &decoded)
	if f, ok := decoded["failed"].(map[string]any); !ok || f["m2"] != "boom" {
		t.Fatalf("json = %s", b)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := store.NewMemory()
	s := &Scheduler{Store: st, Optimizer: newTestOptimizer(st, geo.NewHaversine(0), Options{}), Hour: 14}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
