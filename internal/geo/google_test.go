package geo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hawkroute/internal/model"
)

type dmElement struct {
	Status   string         `json:"status"`
	Distance map[string]any `json:"distance,omitempty"`
	Duration map[string]any `json:"duration,omitempty"`
}

// matrixServer answers every request with a matrix shaped like the query.
// Element (i,j) has distance 1000*(i+1)+j and duration 60 s unless status overrides it.
func matrixServer(t *testing.T, calls *int32, status func(call int32) string, elStatus string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		if s := status(n); s != "OK" {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": s, "rows": []any{}})
			return
		}
		origins := strings.Split(r.URL.Query().Get("origins"), "|")
		dests := strings.Split(r.URL.Query().Get("destinations"), "|")
		rows := make([]map[string]any, len(origins))
		for i := range origins {
			els := make([]dmElement, len(dests))
			for j := range dests {
				if elStatus != "OK" {
					els[j] = dmElement{Status: elStatus}
					continue
				}
				els[j] = dmElement{
					Status:   "OK",
					Distance: map[string]any{"text": "x", "value": 1000*(i+1) + j},
					Duration: map[string]any{"text": "1 min", "value": 60},
				}
			}
			rows[i] = map[string]any{"elements": els}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":                "OK",
			"origin_addresses":      origins,
			"destination_addresses": dests,
			"rows":                  rows,
		})
	}))
}

func always(s string) func(int32) string { return func(int32) string { return s } }

func newTestGoogle(t *testing.T, url string, retries int) *Google {
	t.Helper()
	g, err := NewGoogle(GoogleOptions{APIKey: "AIzaTEST", BaseURL: url, Timeout: time.Second, MaxRetries: retries, Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("NewGoogle: %v", err)
	}
	return g
}

func TestGoogleDistanceOK(t *testing.T) {
	var calls int32
	srv := matrixServer(t, &calls, always("OK"), "OK")
	defer srv.Close()
	g := newTestGoogle(t, srv.URL, 0)

	leg, err := g.Distance(context.Background(), model.Coordinate{Lat: 1, Lng: 2}, model.Coordinate{Lat: 1.1, Lng: 2.1})
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if leg.DistanceMeters != 1000 || leg.DurationSeconds != 60 || leg.Source != SourceOracle {
		t.Fatalf("unexpected leg: %+v", leg)
	}
}

func TestGoogleRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := matrixServer(t, &calls, func(n int32) string {
		if n < 3 {
			return "UNKNOWN_ERROR"
		}
		return "OK"
	}, "OK")
	defer srv.Close()
	g := newTestGoogle(t, srv.URL, 3)

	if _, err := g.Distance(context.Background(), model.Coordinate{}, model.Coordinate{Lat: 1}); err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestGoogleDoesNotRetryDenied(t *testing.T) {
	var calls int32
	srv := matrixServer(t, &calls, always("REQUEST_DENIED"), "OK")
	defer srv.Close()
	g := newTestGoogle(t, srv.URL, 3)

	_, err := g.Distance(context.Background(), model.Coordinate{}, model.Coordinate{Lat: 1})
	if !errors.Is(err, ErrOracle) {
		t.Fatalf("err = %v, want ErrOracle", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestGoogleGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := matrixServer(t, &calls, always("OVER_QUERY_LIMIT"), "OK")
	defer srv.Close()
	g := newTestGoogle(t, srv.URL, 2)

	if _, err := g.Distance(context.Background(), model.Coordinate{}, model.Coordinate{Lat: 1}); !errors.Is(err, ErrOracle) {
		t.Fatalf("err = %v, want ErrOracle", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestGoogleNoRouteElement(t *testing.T) {
	var calls int32
	srv := matrixServer(t, &calls, always("OK"), "ZERO_RESULTS")
	defer srv.Close()
	g := newTestGoogle(t, srv.URL, 0)

	leg, err := g.Distance(context.Background(), model.Coordinate{}, model.Coordinate{Lat: 1})
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if leg.Reachable() || leg.Status != StatusNoRoute {
		t.Fatalf("want no_route leg, got %+v", leg)
	}
}

func TestGoogleMatrixChunksLargeRequests(t *testing.T) {
	var calls int32
	srv := matrixServer(t, &calls, always("OK"), "OK")
	defer srv.Close()
	g := newTestGoogle(t, srv.URL, 0)

	origins := []model.Coordinate{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.1}}
	dests := make([]model.Coordinate, 30)
	for i := range dests {
		dests[i] = model.Coordinate{Lat: float64(i) / 100, Lng: 1}
	}
	m, err := g.Matrix(context.Background(), origins, dests)
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	// 25 destinations per call, 4 origins per call -> 2 calls
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if len(m) != 2 || len(m[1]) != 30 {
		t.Fatalf("bad shape %dx%d", len(m), len(m[1]))
	}
	// second chunk restarts column numbering at 0: dest 25 is column 0 of chunk 2
	if m[1][25].DistanceMeters != 2000 {
		t.Fatalf("m[1][25] = %f, want 2000", m[1][25].DistanceMeters)
	}
}

// failSecondCall denies the second chunk of a 2x30 request.
func failSecondCall(n int32) string {
	if n == 2 {
		return "REQUEST_DENIED"
	}
	return "OK"
}

func thirtyDestinations() ([]model.Coordinate, []model.Coordinate) {
	origins := []model.Coordinate{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.1}}
	dests := make([]model.Coordinate, 30)
	for i := range dests {
		dests[i] = model.Coordinate{Lat: float64(i) / 100, Lng: 1}
	}
	return origins, dests
}

func TestGoogleMatrixKeepsSuccessfulChunks(t *testing.T) {
	var calls int32
	srv := matrixServer(t, &calls, failSecondCall, "OK")
	defer srv.Close()
	g := newTestGoogle(t, srv.URL, 0)

	origins, dests := thirtyDestinations()
	m, err := g.Matrix(context.Background(), origins, dests)
	var partial *PartialMatrixError
	if !errors.As(err, &partial) {
		t.Fatalf("err = %v, want PartialMatrixError", err)
	}
	if !errors.Is(err, ErrOracle) {
		t.Fatalf("err = %v, want it to wrap ErrOracle", err)
	}
	want := Block{OriginFrom: 0, OriginTo: 2, DestFrom: 25, DestTo: 30}
	if len(partial.Failed) != 1 || partial.Failed[0] != want {
		t.Fatalf("failed = %+v, want [%+v]", partial.Failed, want)
	}
	if m[1][24].DistanceMeters != 2024 || m[1][24].Source != SourceOracle {
		t.Fatalf("m[1][24] = %+v, want oracle leg of 2024 m", m[1][24])
	}
}

func TestGoogleMatrixAllChunksFailed(t *testing.T) {
	var calls int32
	srv := matrixServer(t, &calls, always("REQUEST_DENIED"), "OK")
	defer srv.Close()
	g := newTestGoogle(t, srv.URL, 0)

	origins, dests := thirtyDestinations()
	m, err := g.Matrix(context.Background(), origins, dests)
	var partial *PartialMatrixError
	if errors.As(err, &partial) || !errors.Is(err, ErrOracle) {
		t.Fatalf("err = %v, want plain ErrOracle", err)
	}
	if m != nil {
		t.Fatalf("matrix must be nil when every chunk failed")
	}
}

func TestNewGoogleRequiresKey(t *testing.T) {
	if _, err := NewGoogle(GoogleOptions{}); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("err = %v, want ErrNoAPIKey", err)
	}
}
