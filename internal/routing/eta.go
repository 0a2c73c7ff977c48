package routing

import (
	"context"
	"errors"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"hawkroute/internal/geo"
	"hawkroute/internal/metrics"
	"hawkroute/internal/model"
	"hawkroute/internal/store"
)

// EtaService estimates arrival at an order from the merchant's current
// location. It reads only and never touches route plans.
type EtaService struct {
	store    store.Store
	provider geo.Provider
	// RequireTraffic marks geometric answers as degraded.
	RequireTraffic bool
	now            func() time.Time
}

func NewEtaService(st store.Store, p geo.Provider, requireTraffic bool) *EtaService {
	return &EtaService{store: st, provider: p, RequireTraffic: requireTraffic, now: time.Now}
}

func (e *EtaService) EtaForOrder(ctx context.Context, orderID string) (res model.EtaResult, err error) {
	defer func() {
		outcome := "ok"
		if re, ok := AsError(err); ok {
			outcome = re.Code
		} else if err != nil {
			outcome = "error"
		}
		metrics.EtaRequests.WithLabelValues(outcome).Inc()
	}()
	order, err := e.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return model.EtaResult{}, inputError(CodeOrderNotFound, "order "+orderID+" not found", err)
	}
	if err != nil {
		return model.EtaResult{}, persistenceError("load order", err)
	}
	return e.etaFor(ctx, order)
}

func (e *EtaService) etaFor(ctx context.Context, order model.Order) (model.EtaResult, error) {
	if order.Delivery == nil || !order.Delivery.Valid() {
		return model.EtaResult{}, inputError(CodeLocationUnavailable, "order has no delivery coordinates", nil)
	}
	merchant, err := e.store.GetMerchant(ctx, order.MerchantID)
	if errors.Is(err, store.ErrNotFound) {
		return model.EtaResult{}, inputError(CodeMerchantNotFound, "merchant "+order.MerchantID+" not found", err)
	}
	if err != nil {
		return model.EtaResult{}, persistenceError("load merchant", err)
	}
	if merchant.Location == nil || !merchant.Location.Valid() {
		return model.EtaResult{}, inputError(CodeLocationUnavailable, "merchant has no current location", nil)
	}
	leg, err := e.provider.Distance(ctx, *merchant.Location, *order.Delivery)
	if err != nil {
		return model.EtaResult{}, oracleError(CodeOracleFailed, "distance lookup failed", err)
	}
	if !leg.Reachable() {
		return model.EtaResult{}, &Error{Kind: KindOracle, Code: CodeNoRoute, Message: "no route between merchant and order"}
	}
	dur := int(math.Round(leg.DurationSeconds))
	return model.EtaResult{
		OrderID:         order.ID,
		DurationSeconds: dur,
		DistanceMeters:  leg.DistanceMeters,
		ETA:             e.now().Add(time.Duration(dur) * time.Second),
		Source:          leg.Source,
		Degraded:        e.RequireTraffic && leg.Source == geo.SourceGeometric,
	}, nil
}

// EtaItem is one entry of a batch answer. Exactly one of Eta or Code is set.
type EtaItem struct {
	OrderID string           `json:"orderId"`
	Eta     *model.EtaResult `json:"eta,omitempty"`
	Code    string           `json:"code,omitempty"`
	Message string           `json:"message,omitempty"`
}

// EtaForOrders answers several orders of one merchant. Orders that fail, or
// that belong to someone else, are reported per item.
func (e *EtaService) EtaForOrders(ctx context.Context, merchantID string, orderIDs []string) ([]EtaItem, error) {
	if _, err := e.store.GetMerchant(ctx, merchantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, inputError(CodeMerchantNotFound, "merchant "+merchantID+" not found", err)
		}
		return nil, persistenceError("load merchant", err)
	}
	items := make([]EtaItem, len(orderIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(5)
	for i, id := range orderIDs {
		i, id := i, id
		g.Go(func() error {
			items[i] = e.batchItem(gctx, merchantID, id)
			return nil
		})
	}
	_ = g.Wait()
	return items, nil
}

func (e *EtaService) batchItem(ctx context.Context, merchantID, orderID string) EtaItem {
	item := EtaItem{OrderID: orderID}
	order, err := e.store.GetOrder(ctx, orderID)
	if err == nil && order.MerchantID != merchantID {
		err = store.ErrNotFound
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			item.Code, item.Message = CodeOrderNotFound, "order not found"
		} else {
			item.Code, item.Message = CodePersistenceFailed, err.Error()
		}
		return item
	}
	res, err := e.etaFor(ctx, order)
	if err != nil {
		item.Code, item.Message = CodeOracleFailed, err.Error()
		if re, ok := AsError(err); ok {
			item.Code, item.Message = re.Code, re.Message
		}
		return item
	}
	item.Eta = &res
	return item
}
