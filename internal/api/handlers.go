package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hawkroute/internal/model"
	"hawkroute/internal/opt"
	"hawkroute/internal/routing"
	"hawkroute/internal/store"
)

// OptimizeHandler handles POST /v1/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOptimizeRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
		return
	}
	if p := s.getPrincipal(r); !p.CanActFor(req.MerchantID) {
		forbidden(w, r, "merchant or admin required")
		return
	}
	res, err := s.Optimizer.OptimizeForMerchant(r.Context(), req.MerchantID, req.Date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.publishResult(res)
	writeJSON(w, http.StatusOK, res)
}

// CurrentRouteHandler handles GET /v1/routes/current?merchantId=
func (s *Server) CurrentRouteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	merchantID := r.URL.Query().Get("merchantId")
	p := s.getPrincipal(r)
	if merchantID == "" {
		merchantID = p.MerchantID
	}
	if merchantID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing merchantId", "", r.URL.Path)
		return
	}
	if !p.CanActFor(merchantID) {
		forbidden(w, r, "not authorized for merchant routes")
		return
	}
	plan, err := s.Store.LatestRoutePlan(r.Context(), merchantID, s.Optimizer.Today())
	if errors.Is(err, store.ErrNotFound) {
		writeCodedProblem(w, http.StatusNotFound, "Route not found", "route_not_found", "no plan for today", r.URL.Path)
		return
	}
	if err != nil {
		writeCodedProblem(w, http.StatusServiceUnavailable, "Storage unavailable", routing.CodePersistenceFailed, err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// RouteByIDHandler handles GET/PATCH /v1/routes/{id}
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	id := strings.Trim(strings.TrimPrefix(path, "/v1/routes/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	plan, err := s.Store.GetRoutePlan(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeCodedProblem(w, http.StatusNotFound, "Route not found", "route_not_found", id, path)
		return
	}
	if err != nil {
		writeCodedProblem(w, http.StatusServiceUnavailable, "Storage unavailable", routing.CodePersistenceFailed, err.Error(), path)
		return
	}
	if p := s.getPrincipal(r); !p.CanActFor(plan.MerchantID) {
		forbidden(w, r, "not authorized for route")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, plan)
	case http.MethodPatch:
		var req model.RouteStatusPatch
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), path)
			return
		}
		if err := validatePlanStatus(req.Status); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid status", err.Error(), path)
			return
		}
		updated, err := s.Store.UpdateRoutePlanStatus(r.Context(), id, req.Status)
		if errors.Is(err, store.ErrInvalidTransition) {
			writeCodedProblem(w, http.StatusConflict, "Invalid transition", "invalid_transition", fmt.Sprintf("%s -> %s", plan.Status, req.Status), path)
			return
		}
		if err != nil {
			writeCodedProblem(w, http.StatusServiceUnavailable, "Storage unavailable", routing.CodePersistenceFailed, err.Error(), path)
			return
		}
		if updated.Status != plan.Status {
			s.Broker.Publish(MerchantChannel(updated.MerchantID), Event{Type: EventRouteStatus, Data: map[string]any{"planId": updated.ID, "status": updated.Status}})
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// MerchantsHandler handles /v1/merchants/{id}/routes and /v1/merchants/{id}/location
func (s *Server) MerchantsHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/merchants/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	merchantID := parts[0]
	if p := s.getPrincipal(r); !p.CanActFor(merchantID) {
		forbidden(w, r, "not authorized for merchant")
		return
	}
	if _, err := s.Store.GetMerchant(r.Context(), merchantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeCodedProblem(w, http.StatusNotFound, "Merchant not found", routing.CodeMerchantNotFound, merchantID, r.URL.Path)
			return
		}
		writeCodedProblem(w, http.StatusServiceUnavailable, "Storage unavailable", routing.CodePersistenceFailed, err.Error(), r.URL.Path)
		return
	}
	switch parts[1] {
	case "routes":
		s.merchantRoutes(w, r, merchantID)
	case "location":
		s.merchantLocation(w, r, merchantID)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) merchantRoutes(w http.ResponseWriter, r *http.Request, merchantID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	date := r.URL.Query().Get("date")
	if date != "" {
		if _, err := time.Parse(model.DateLayout, date); err != nil {
			writeCodedProblem(w, http.StatusBadRequest, "Invalid date", routing.CodeInvalidDate, date, r.URL.Path)
			return
		}
	}
	items, err := s.Store.ListRoutePlans(r.Context(), merchantID, date, queryLimit(r))
	if err != nil {
		writeCodedProblem(w, http.StatusServiceUnavailable, "Storage unavailable", routing.CodePersistenceFailed, err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) merchantLocation(w http.ResponseWriter, r *http.Request, merchantID string) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.Store.ListLocations(r.Context(), merchantID, queryLimit(r))
		if err != nil {
			writeCodedProblem(w, http.StatusServiceUnavailable, "Storage unavailable", routing.CodePersistenceFailed, err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var in locationUpdate
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateLocationUpdate(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid location", err.Error(), r.URL.Path)
			return
		}
		sample := model.LocationSample{
			MerchantID:     merchantID,
			Location:       model.Coordinate{Lat: *in.Lat, Lng: *in.Lng},
			AccuracyMeters: in.AccuracyMeters,
			SpeedMps:       in.SpeedMps,
			RecordedAt:     time.Now().UTC(),
		}
		if in.RecordedAt != nil {
			sample.RecordedAt = in.RecordedAt.UTC()
		}
		if err := s.Store.RecordLocation(r.Context(), sample); err != nil {
			writeCodedProblem(w, http.StatusServiceUnavailable, "Storage unavailable", routing.CodePersistenceFailed, err.Error(), r.URL.Path)
			return
		}
		refreshed := s.refreshEtas(r.Context(), merchantID)
		writeJSON(w, http.StatusAccepted, map[string]any{"sample": sample, "etasRefreshed": refreshed})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// refreshEtas recomputes arrival estimates for today's planned orders after
// the merchant moved, publishing each answer. It returns how many were sent.
func (s *Server) refreshEtas(ctx context.Context, merchantID string) int {
	plan, err := s.Store.LatestRoutePlan(ctx, merchantID, s.Optimizer.Today())
	if err != nil || len(plan.OrderSequence) == 0 {
		return 0
	}
	items, err := s.Eta.EtaForOrders(ctx, merchantID, plan.OrderSequence)
	if err != nil {
		return 0
	}
	n := 0
	for _, it := range items {
		if it.Eta == nil {
			continue
		}
		s.publishEta(merchantID, *it.Eta)
		n++
	}
	return n
}

func (s *Server) publishEta(merchantID string, res model.EtaResult) {
	evt := Event{Type: EventEtaUpdated, Data: map[string]any{
		"orderId":         res.OrderID,
		"eta":             res.ETA,
		"durationSeconds": res.DurationSeconds,
		"distanceMeters":  res.DistanceMeters,
	}}
	s.Broker.Publish(OrderChannel(res.OrderID), evt)
	if merchantID != "" {
		s.Broker.Publish(MerchantChannel(merchantID), evt)
	}
}

// EtaHandler handles GET /v1/eta/{orderId}
func (s *Server) EtaHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	orderID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/eta/"), "/")
	if orderID == "" || strings.Contains(orderID, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing order id", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	merchantID := ""
	if p.Role == RoleMerchant {
		order, err := s.Store.GetOrder(r.Context(), orderID)
		if err == nil && !p.CanActFor(order.MerchantID) {
			forbidden(w, r, "order belongs to another merchant")
			return
		}
		merchantID = p.MerchantID
	}
	res, err := s.Eta.EtaForOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.publishEta(merchantID, res)
	writeJSON(w, http.StatusOK, res)
}

// EtaBatchHandler handles POST /v1/eta/batch
func (s *Server) EtaBatchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.BatchEtaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateBatchEtaRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid batch request", err.Error(), r.URL.Path)
		return
	}
	if p := s.getPrincipal(r); !p.CanActFor(req.MerchantID) {
		forbidden(w, r, "merchant or admin required")
		return
	}
	items, err := s.Eta.EtaForOrders(r.Context(), req.MerchantID, req.OrderIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// EventsStreamHandler streams one channel as Server-Sent Events:
// GET /v1/events/stream?channel=merchant:{id}
func (s *Server) EventsStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	channel := r.URL.Query().Get("channel")
	if err := s.authorizeChannel(r, channel); err != nil {
		if errors.Is(err, errBadChannel) {
			writeProblem(w, http.StatusBadRequest, "Invalid channel", channel, r.URL.Path)
			return
		}
		forbidden(w, r, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(channel)
	defer s.Broker.Unsubscribe(channel, ch)
	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"channel\":%q,\"ts\":%q}\n\n", channel, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}

var errBadChannel = errors.New("channel must be merchant:<id> or order:<id>")

// authorizeChannel lets admins watch anything, merchants their own channel
// and their orders, and customers a single order channel.
func (s *Server) authorizeChannel(r *http.Request, channel string) error {
	kind, id, ok := parseChannel(channel)
	if !ok {
		return errBadChannel
	}
	p := s.getPrincipal(r)
	switch {
	case p.IsAdmin():
		return nil
	case kind == "merchant":
		if p.CanActFor(id) {
			return nil
		}
	case p.Role == RoleCustomer:
		return nil
	case p.Role == RoleMerchant:
		order, err := s.Store.GetOrder(r.Context(), id)
		if err == nil && p.CanActFor(order.MerchantID) {
			return nil
		}
	}
	return fmt.Errorf("not authorized for channel %s", channel)
}

// ScheduleRunHandler handles POST /v1/admin/schedule/run, firing the daily
// sweep immediately for ?date= (default today).
func (s *Server) ScheduleRunHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if p := s.getPrincipal(r); !p.IsAdmin() {
		forbidden(w, r, "admin required")
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = s.Optimizer.Today()
	}
	if _, _, err := s.Optimizer.DayBounds(date); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Scheduler.RunOnce(r.Context(), date))
}

// SolverMetricsHandler handles GET /v1/admin/solver-metrics?merchantId=&date=
func (s *Server) SolverMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	merchantID := r.URL.Query().Get("merchantId")
	if merchantID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing merchantId", "", r.URL.Path)
		return
	}
	if p := s.getPrincipal(r); !p.CanActFor(merchantID) {
		forbidden(w, r, "not authorized for merchant")
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = s.Optimizer.Today()
	}
	writeJSON(w, http.StatusOK, map[string]any{"merchantId": merchantID, "date": date, "metrics": opt.GetMetrics(merchantID, date)})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}
