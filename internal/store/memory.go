package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hawkroute/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	merchants map[string]model.Merchant
	orders    map[string]model.Order
	plans     []model.RoutePlan                 // insertion order
	locations map[string][]model.LocationSample // merchant -> samples, oldest first
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		merchants: map[string]model.Merchant{},
		orders:    map[string]model.Order{},
		locations: map[string][]model.LocationSample{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UpsertMerchant seeds or replaces a merchant.
func (m *Memory) UpsertMerchant(mc model.Merchant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merchants[mc.ID] = mc
}

// UpsertOrder seeds or replaces an order.
func (m *Memory) UpsertOrder(o model.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.now()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	m.orders[o.ID] = o
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) GetMerchant(_ context.Context, id string) (model.Merchant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.merchants[id]
	if !ok {
		return model.Merchant{}, ErrNotFound
	}
	return mc, nil
}

func (m *Memory) ListActiveMerchants(context.Context) ([]model.Merchant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Merchant{}
	for _, mc := range m.merchants {
		if mc.Active {
			out = append(out, mc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) RecordLocation(_ context.Context, s model.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.merchants[s.MerchantID]
	if !ok {
		return ErrNotFound
	}
	if s.RecordedAt.IsZero() {
		s.RecordedAt = m.now()
	}
	m.locations[s.MerchantID] = append(m.locations[s.MerchantID], s)
	loc := s.Location
	at := s.RecordedAt
	mc.Location = &loc
	mc.LocationUpdatedAt = &at
	m.merchants[mc.ID] = mc
	return nil
}

// ListLocations returns the newest samples first.
func (m *Memory) ListLocations(_ context.Context, merchantID string, limit int) ([]model.LocationSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.merchants[merchantID]; !ok {
		return nil, ErrNotFound
	}
	all := m.locations[merchantID]
	limit = clampLimit(limit)
	out := make([]model.LocationSample, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return copyOrder(o), nil
}

func (m *Memory) ListAwaitingOrders(_ context.Context, merchantID string, from, to time.Time, statuses []string) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Order{}
	for _, o := range m.orders {
		if o.MerchantID != merchantID || !statusIn(o.Status, statuses) {
			continue
		}
		if o.CreatedAt.Before(from) || !o.CreatedAt.Before(to) {
			continue
		}
		out = append(out, copyOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CountAwaitingOrders(ctx context.Context, merchantID string, from, to time.Time, statuses []string) (int, error) {
	orders, err := m.ListAwaitingOrders(ctx, merchantID, from, to, statuses)
	return len(orders), err
}

// SaveRoutePlan validates every referenced order before writing anything.
func (m *Memory) SaveRoutePlan(_ context.Context, plan model.RoutePlan, cleared []string) (model.RoutePlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range append(append([]string(nil), plan.OrderSequence...), cleared...) {
		o, ok := m.orders[id]
		if !ok || o.MerchantID != plan.MerchantID {
			return model.RoutePlan{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
	}
	now := m.now()
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	if plan.Status == "" {
		plan.Status = model.PlanPending
	}
	plan.OrderSequence = append([]string(nil), plan.OrderSequence...)
	plan.CreatedAt, plan.UpdatedAt = now, now
	m.plans = append(m.plans, plan)
	for i, id := range plan.OrderSequence {
		o := m.orders[id]
		seq := i + 1
		o.DeliverySequence = &seq
		o.UpdatedAt = now
		m.orders[id] = o
	}
	for _, id := range cleared {
		o := m.orders[id]
		o.DeliverySequence = nil
		o.UpdatedAt = now
		m.orders[id] = o
	}
	return plan, nil
}

func (m *Memory) LatestRoutePlan(_ context.Context, merchantID, date string) (model.RoutePlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := -1
	for i, p := range m.plans {
		if p.MerchantID != merchantID || p.Date != date {
			continue
		}
		// later insertion wins a created_at tie
		if found < 0 || !p.CreatedAt.Before(m.plans[found].CreatedAt) {
			found = i
		}
	}
	if found < 0 {
		return model.RoutePlan{}, ErrNotFound
	}
	return m.plans[found], nil
}

func (m *Memory) GetRoutePlan(_ context.Context, id string) (model.RoutePlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.plans {
		if p.ID == id {
			return p, nil
		}
	}
	return model.RoutePlan{}, ErrNotFound
}

// ListRoutePlans returns newest first. An empty date matches every day.
func (m *Memory) ListRoutePlans(_ context.Context, merchantID, date string, limit int) ([]model.RoutePlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []model.RoutePlan{}
	for i := len(m.plans) - 1; i >= 0 && len(out) < limit; i-- {
		p := m.plans[i]
		if p.MerchantID == merchantID && (date == "" || p.Date == date) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) UpdateRoutePlanStatus(_ context.Context, id, status string) (model.RoutePlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.plans {
		if p.ID != id {
			continue
		}
		if p.Status == status {
			return p, nil
		}
		if !validTransition(p.Status, status) {
			return model.RoutePlan{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, status)
		}
		p.Status = status
		p.UpdatedAt = m.now()
		m.plans[i] = p
		return p, nil
	}
	return model.RoutePlan{}, ErrNotFound
}

func copyOrder(o model.Order) model.Order {
	if o.Delivery != nil {
		d := *o.Delivery
		o.Delivery = &d
	}
	if o.DeliverySequence != nil {
		s := *o.DeliverySequence
		o.DeliverySequence = &s
	}
	return o
}
