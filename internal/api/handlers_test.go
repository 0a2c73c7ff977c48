package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hawkroute/internal/config"
	"hawkroute/internal/model"
	"hawkroute/internal/routing"
	"hawkroute/internal/store"
)

func coord(lat, lng float64) *model.Coordinate { return &model.Coordinate{Lat: lat, Lng: lng} }

// newTestServer seeds merchant m1 at (0,0) with orders a(0,1), b(1,0) and
// c(1,1) created now, plus m2 with no orders.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	mem, ok := s.Store.(*store.Memory)
	if !ok {
		t.Fatalf("store = %T, want *store.Memory", s.Store)
	}
	now := time.Now().UTC()
	mem.UpsertMerchant(model.Merchant{ID: "m1", Name: "Noodle Stall", Active: true, Location: coord(0, 0)})
	mem.UpsertMerchant(model.Merchant{ID: "m2", Active: true, Location: coord(0, 0)})
	for id, c := range map[string]*model.Coordinate{"a": coord(0, 1), "b": coord(1, 0), "c": coord(1, 1)} {
		mem.UpsertOrder(model.Order{ID: id, MerchantID: "m1", Status: model.OrderPending, Delivery: c, CreatedAt: now})
	}
	return s
}

func do(t *testing.T, h http.HandlerFunc, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return v
}

func optimize(t *testing.T, s *Server) routing.Result {
	t.Helper()
	rr := do(t, s.OptimizeHandler, http.MethodPost, "/v1/optimize", map[string]string{"merchantId": "m1"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("optimize: %d %s", rr.Code, rr.Body.String())
	}
	return decode[routing.Result](t, rr)
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestOptimizeAndCurrentRoute(t *testing.T) {
	s := newTestServer(t)
	events := s.Broker.Subscribe(MerchantChannel("m1"))
	seq := s.Broker.Subscribe(OrderChannel("c"))

	res := optimize(t, s)
	if got := strings.Join(res.Plan.OrderSequence, ","); got != "a,c,b" {
		t.Fatalf("sequence = %s", got)
	}
	if !res.Persisted || !res.FellBack || len(res.Stops) != 3 {
		t.Fatalf("result = %+v", res)
	}
	select {
	case evt := <-events:
		if evt.Type != EventRouteOptimized || evt.Data["planId"] != res.Plan.ID {
			t.Fatalf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no route.optimized event")
	}
	select {
	case evt := <-seq:
		if evt.Type != EventSequenceUpdated || evt.Data["sequence"] != 2 {
			t.Fatalf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no sequence.updated event")
	}

	rr := do(t, s.CurrentRouteHandler, http.MethodGet, "/v1/routes/current?merchantId=m1", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("current: %d %s", rr.Code, rr.Body.String())
	}
	first := decode[model.RoutePlan](t, rr)
	if first.ID != res.Plan.ID {
		t.Fatalf("current = %s, want %s", first.ID, res.Plan.ID)
	}
	rr = do(t, s.CurrentRouteHandler, http.MethodGet, "/v1/routes/current?merchantId=m1", nil, nil)
	if again := decode[model.RoutePlan](t, rr); again.ID != first.ID || !again.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("repeated read changed the plan: %+v vs %+v", again, first)
	}
}

func TestCurrentRouteNotFound(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s.CurrentRouteHandler, http.MethodGet, "/v1/routes/current?merchantId=m2", nil, nil)
	if rr.Code != http.StatusNotFound || decode[Problem](t, rr).Code != "route_not_found" {
		t.Fatalf("got %d %s", rr.Code, rr.Body.String())
	}
}

func TestOptimizeErrors(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name   string
		body   any
		hdr    map[string]string
		status int
		code   string
	}{
		{"missing merchant", map[string]string{}, nil, http.StatusBadRequest, ""},
		{"bad date", map[string]string{"merchantId": "m1", "date": "06/05/2026"}, nil, http.StatusBadRequest, ""},
		{"unknown merchant", map[string]string{"merchantId": "ghost"}, nil, http.StatusNotFound, routing.CodeMerchantNotFound},
		{"other merchant", map[string]string{"merchantId": "m1"}, map[string]string{"X-Role": "merchant", "X-Merchant-Id": "m2"}, http.StatusForbidden, "forbidden"},
		{"customer", map[string]string{"merchantId": "m1"}, map[string]string{"X-Role": "customer"}, http.StatusForbidden, "forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s.OptimizeHandler, http.MethodPost, "/v1/optimize", tt.body, tt.hdr)
			if rr.Code != tt.status {
				t.Fatalf("got %d %s", rr.Code, rr.Body.String())
			}
			if tt.code != "" && decode[Problem](t, rr).Code != tt.code {
				t.Fatalf("body = %s, want code %s", rr.Body.String(), tt.code)
			}
		})
	}

	rr := do(t, s.OptimizeHandler, http.MethodPost, "/v1/optimize", map[string]string{"merchantId": "m1"}, map[string]string{"X-Role": "merchant", "X-Merchant-Id": "m1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("own merchant: %d %s", rr.Code, rr.Body.String())
	}
}

func TestRouteStatusTransitions(t *testing.T) {
	s := newTestServer(t)
	res := optimize(t, s)
	path := "/v1/routes/" + res.Plan.ID
	events := s.Broker.Subscribe(MerchantChannel("m1"))

	rr := do(t, s.RouteByIDHandler, http.MethodGet, path, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: %d", rr.Code)
	}
	rr = do(t, s.RouteByIDHandler, http.MethodPatch, path, map[string]string{"status": model.PlanInProgress}, nil)
	if rr.Code != http.StatusOK || decode[model.RoutePlan](t, rr).Status != model.PlanInProgress {
		t.Fatalf("patch: %d %s", rr.Code, rr.Body.String())
	}
	select {
	case evt := <-events:
		if evt.Type != EventRouteStatus || evt.Data["status"] != model.PlanInProgress {
			t.Fatalf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no route.status event")
	}
	rr = do(t, s.RouteByIDHandler, http.MethodPatch, path, map[string]string{"status": model.PlanPending}, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("backwards transition: %d", rr.Code)
	}
	rr = do(t, s.RouteByIDHandler, http.MethodPatch, path, map[string]string{"status": "lost"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: %d", rr.Code)
	}
	rr = do(t, s.RouteByIDHandler, http.MethodGet, path, nil, map[string]string{"X-Role": "merchant", "X-Merchant-Id": "m2"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("foreign merchant read: %d", rr.Code)
	}
	rr = do(t, s.RouteByIDHandler, http.MethodGet, "/v1/routes/nope", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing plan: %d", rr.Code)
	}
}

func TestMerchantRouteHistory(t *testing.T) {
	s := newTestServer(t)
	first := optimize(t, s)
	second := optimize(t, s)
	rr := do(t, s.MerchantsHandler, http.MethodGet, "/v1/merchants/m1/routes?limit=10", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("history: %d", rr.Code)
	}
	body := decode[struct{ Items []model.RoutePlan }](t, rr)
	if len(body.Items) != 2 || body.Items[0].ID != second.Plan.ID || body.Items[1].ID != first.Plan.ID {
		t.Fatalf("items = %+v", body.Items)
	}
	rr = do(t, s.MerchantsHandler, http.MethodGet, "/v1/merchants/ghost/routes", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown merchant: %d", rr.Code)
	}
}

func TestLocationUpdateRefreshesEtas(t *testing.T) {
	s := newTestServer(t)
	optimize(t, s)
	events := s.Broker.Subscribe(OrderChannel("a"))

	rr := do(t, s.MerchantsHandler, http.MethodPost, "/v1/merchants/m1/location", map[string]float64{"lat": 0, "lng": 0.5}, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("location: %d %s", rr.Code, rr.Body.String())
	}
	if n := decode[struct{ EtasRefreshed int }](t, rr).EtasRefreshed; n != 3 {
		t.Fatalf("etasRefreshed = %d", n)
	}
	select {
	case evt := <-events:
		if evt.Type != EventEtaUpdated || evt.Data["orderId"] != "a" {
			t.Fatalf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no eta.updated event")
	}

	rr = do(t, s.MerchantsHandler, http.MethodGet, "/v1/merchants/m1/location", nil, nil)
	items := decode[struct{ Items []model.LocationSample }](t, rr).Items
	if len(items) != 1 || items[0].Location.Lng != 0.5 {
		t.Fatalf("history = %+v", items)
	}
	rr = do(t, s.MerchantsHandler, http.MethodPost, "/v1/merchants/m1/location", map[string]float64{"lat": 91, "lng": 0}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("out of range: %d", rr.Code)
	}
}

func TestEtaEndpoints(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s.EtaHandler, http.MethodGet, "/v1/eta/a", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("eta: %d %s", rr.Code, rr.Body.String())
	}
	if res := decode[model.EtaResult](t, rr); res.DurationSeconds <= 0 || res.Source != "geometric" {
		t.Fatalf("eta = %+v", res)
	}
	rr = do(t, s.EtaHandler, http.MethodGet, "/v1/eta/ghost", nil, nil)
	if rr.Code != http.StatusNotFound || decode[Problem](t, rr).Code != routing.CodeOrderNotFound {
		t.Fatalf("ghost: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, s.EtaHandler, http.MethodGet, "/v1/eta/a", nil, map[string]string{"X-Role": "merchant", "X-Merchant-Id": "m2"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("foreign merchant: %d", rr.Code)
	}

	rr = do(t, s.EtaBatchHandler, http.MethodPost, "/v1/eta/batch", model.BatchEtaRequest{MerchantID: "m1", OrderIDs: []string{"a", "ghost"}}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("batch: %d %s", rr.Code, rr.Body.String())
	}
	items := decode[struct{ Items []routing.EtaItem }](t, rr).Items
	if len(items) != 2 || items[0].Eta == nil || items[1].Code != routing.CodeOrderNotFound {
		t.Fatalf("items = %+v", items)
	}
	rr = do(t, s.EtaBatchHandler, http.MethodPost, "/v1/eta/batch", model.BatchEtaRequest{MerchantID: "m1"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty batch: %d", rr.Code)
	}
}

func TestScheduleRun(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s.ScheduleRunHandler, http.MethodPost, "/v1/admin/schedule/run", nil, map[string]string{"X-Role": "merchant", "X-Merchant-Id": "m1"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("merchant: %d", rr.Code)
	}
	rr = do(t, s.ScheduleRunHandler, http.MethodPost, "/v1/admin/schedule/run", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("run: %d %s", rr.Code, rr.Body.String())
	}
	rep := decode[struct {
		Attempted, Succeeded, Skipped int
		Failed                        map[string]string
	}](t, rr)
	if rep.Attempted != 1 || rep.Succeeded != 1 || rep.Skipped != 1 || len(rep.Failed) != 0 {
		t.Fatalf("report = %+v", rep)
	}
	rr = do(t, s.ScheduleRunHandler, http.MethodPost, "/v1/admin/schedule/run?date=tomorrow", nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad date: %d", rr.Code)
	}
}

func TestSolverMetrics(t *testing.T) {
	s := newTestServer(t)
	optimize(t, s)
	rr := do(t, s.SolverMetricsHandler, http.MethodGet, "/v1/admin/solver-metrics?merchantId=m1", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rr.Code)
	}
	if m := decode[struct{ Metrics map[string]any }](t, rr).Metrics; len(m) == 0 {
		t.Fatalf("no solver metrics recorded")
	}
}

func TestEventsStreamAuthorization(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		channel string
		hdr     map[string]string
		status  int
	}{
		{"route:r1", nil, http.StatusBadRequest},
		{"merchant:m1", map[string]string{"X-Role": "merchant", "X-Merchant-Id": "m2"}, http.StatusForbidden},
		{"order:a", map[string]string{"X-Role": "merchant", "X-Merchant-Id": "m2"}, http.StatusForbidden},
		{"merchant:m1", map[string]string{"X-Role": "customer"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		rr := do(t, s.EventsStreamHandler, http.MethodGet, "/v1/events/stream?channel="+tt.channel, nil, tt.hdr)
		if rr.Code != tt.status {
			t.Fatalf("%s %v: got %d", tt.channel, tt.hdr, rr.Code)
		}
	}
}

func TestEventsStreamDeliversEvents(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(http.HandlerFunc(s.EventsStreamHandler))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "?channel=merchant:m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %s", ct)
	}
	buf := make([]byte, 4096)
	// first read carries the heartbeat, after which the subscription exists
	if _, err := resp.Body.Read(buf); err != nil {
		t.Fatalf("read heartbeat: %v", err)
	}
	s.Broker.Publish(MerchantChannel("m1"), Event{Type: EventRouteStatus, Data: map[string]any{"status": "completed"}})
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got := string(buf[:n]); !strings.Contains(got, "event: route.status") || !strings.Contains(got, `"completed"`) {
		t.Fatalf("stream = %q", got)
	}
}

func TestWebSocketSubscribe(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(http.HandlerFunc(s.WSHandler))
	defer srv.Close()
	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.Close() }()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))

	read := func() wsMessage {
		t.Helper()
		var m wsMessage
		if err := c.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		return m
	}

	_ = c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Channel: "bogus"})
	if m := read(); m.Type != "error" || m.ID != "1" {
		t.Fatalf("bad channel: %+v", m)
	}
	_ = c.WriteJSON(wsMessage{Type: "subscribe", ID: "2", Channel: "merchant:m1"})
	if m := read(); m.Type != "ack" || m.Channel != "merchant:m1" {
		t.Fatalf("subscribe: %+v", m)
	}
	s.Broker.Publish("merchant:m1", Event{Type: EventRouteOptimized, Data: map[string]any{"planId": "p1"}})
	if m := read(); m.Type != "event" || m.Event == nil || m.Event.Data["planId"] != "p1" {
		t.Fatalf("event: %+v", m)
	}
	_ = c.WriteJSON(wsMessage{Type: "ping", ID: "3"})
	if m := read(); m.Type != "pong" || m.ID != "3" {
		t.Fatalf("ping: %+v", m)
	}
	_ = c.WriteJSON(wsMessage{Type: "unsubscribe", ID: "4", Channel: "merchant:m1"})
	if m := read(); m.Type != "ack" || m.ID != "4" {
		t.Fatalf("unsubscribe: %+v", m)
	}
}

func TestOpenAPIJSON(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s.OpenAPIJSONHandler, http.MethodGet, "/openapi.json", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("openapi.json: %d %s", rr.Code, rr.Body.String())
	}
	doc := decode[map[string]any](t, rr)
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v1/optimize"]; !ok {
		t.Fatalf("paths = %v", paths)
	}
}

func TestWriteErrorStatus(t *testing.T) {
	tests := []struct {
		err    *routing.Error
		status int
	}{
		{&routing.Error{Kind: routing.KindInput, Code: routing.CodeInvalidDate}, http.StatusBadRequest},
		{&routing.Error{Kind: routing.KindInput, Code: routing.CodeOrderNotFound}, http.StatusNotFound},
		{&routing.Error{Kind: routing.KindOracle, Code: routing.CodeOracleFailed}, http.StatusBadGateway},
		{&routing.Error{Kind: routing.KindInfeasible, Code: routing.CodeInfeasible}, http.StatusUnprocessableEntity},
		{&routing.Error{Kind: routing.KindPersistence, Code: routing.CodePersistenceFailed, Retryable: true}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		writeError(rr, httptest.NewRequest(http.MethodGet, "/x", nil), tt.err)
		p := decode[Problem](t, rr)
		if rr.Code != tt.status || p.Code != tt.err.Code || p.Retryable != tt.err.Retryable {
			t.Fatalf("%s: got %d %+v", tt.err.Code, rr.Code, p)
		}
	}
}
