package store

import (
	"context"
	"errors"
	"time"

	"hawkroute/internal/model"
)

// Store is the persistence interface used by the routing services and the API server.
type Store interface {
	// Merchants
	GetMerchant(ctx context.Context, id string) (model.Merchant, error)
	ListActiveMerchants(ctx context.Context) ([]model.Merchant, error)
	RecordLocation(ctx context.Context, sample model.LocationSample) error
	ListLocations(ctx context.Context, merchantID string, limit int) ([]model.LocationSample, error)

	// Orders
	GetOrder(ctx context.Context, id string) (model.Order, error)
	ListAwaitingOrders(ctx context.Context, merchantID string, from, to time.Time, statuses []string) ([]model.Order, error)
	CountAwaitingOrders(ctx context.Context, merchantID string, from, to time.Time, statuses []string) (int, error)

	// Route plans
	// SaveRoutePlan inserts plan and, in the same transaction, numbers the
	// orders of plan.OrderSequence 1..N and clears the sequence of cleared.
	SaveRoutePlan(ctx context.Context, plan model.RoutePlan, cleared []string) (model.RoutePlan, error)
	LatestRoutePlan(ctx context.Context, merchantID, date string) (model.RoutePlan, error)
	GetRoutePlan(ctx context.Context, id string) (model.RoutePlan, error)
	ListRoutePlans(ctx context.Context, merchantID, date string, limit int) ([]model.RoutePlan, error)
	UpdateRoutePlanStatus(ctx context.Context, id, status string) (model.RoutePlan, error)

	Ping(ctx context.Context) error
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid route status transition")
)

// validTransition allows pending -> in_progress -> completed. Same-status
// updates are accepted as no-ops by callers.
func validTransition(from, to string) bool {
	switch from {
	case model.PlanPending:
		return to == model.PlanInProgress
	case model.PlanInProgress:
		return to == model.PlanCompleted
	}
	return false
}

func statusIn(status string, statuses []string) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
