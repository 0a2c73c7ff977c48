package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"googlemaps.github.io/maps"

	"hawkroute/internal/metrics"
	"hawkroute/internal/model"
)

// Distance Matrix request limits for one call.
const (
	maxOrigins      = 25
	maxDestinations = 25
	maxElements     = 100
)

// GoogleOptions configures the Google Distance Matrix oracle.
type GoogleOptions struct {
	APIKey       string
	BaseURL      string // override for tests
	Timeout      time.Duration
	MaxRetries   int
	Backoff      time.Duration
	RateRPS      float64
	TrafficAware bool
	HTTPClient   *http.Client
}

// Google is the traffic-aware oracle strategy backed by the Distance Matrix API.
type Google struct {
	client       *maps.Client
	limiter      *rate.Limiter
	timeout      time.Duration
	maxRetries   int
	backoff      time.Duration
	trafficAware bool
}

func NewGoogle(opts GoogleOptions) (*Google, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	copts := []maps.ClientOption{maps.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		copts = append(copts, maps.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		copts = append(copts, maps.WithHTTPClient(opts.HTTPClient))
	}
	client, err := maps.NewClient(copts...)
	if err != nil {
		return nil, fmt.Errorf("distance oracle: create client: %w", err)
	}
	g := &Google{
		client:       client,
		limiter:      rate.NewLimiter(rate.Inf, 1),
		timeout:      opts.Timeout,
		maxRetries:   opts.MaxRetries,
		backoff:      opts.Backoff,
		trafficAware: opts.TrafficAware,
	}
	if opts.RateRPS > 0 {
		burst := int(opts.RateRPS)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RateRPS), burst)
	}
	if g.timeout <= 0 {
		g.timeout = 5 * time.Second
	}
	if g.maxRetries < 0 {
		g.maxRetries = 0
	}
	if g.backoff <= 0 {
		g.backoff = 200 * time.Millisecond
	}
	return g, nil
}

func (g *Google) Distance(ctx context.Context, a, b model.Coordinate) (Leg, error) {
	m, err := g.Matrix(ctx, []model.Coordinate{a}, []model.Coordinate{b})
	if err != nil {
		return Leg{}, err
	}
	return m[0][0], nil
}

// Matrix splits the request into chunks that fit the per-call element limits.
func (g *Google) Matrix(ctx context.Context, origins, destinations []model.Coordinate) ([][]Leg, error) {
	out := make([][]Leg, len(origins))
	for i := range out {
		out[i] = make([]Leg, len(destinations))
	}
	if len(origins) == 0 || len(destinations) == 0 {
		return out, nil
	}
	var (
		failed  []Block
		lastErr error
		chunks  int
	)
	dChunk := min(maxDestinations, len(destinations))
	oChunk := max(1, min(maxOrigins, maxElements/dChunk))
	for oi := 0; oi < len(origins); oi += oChunk {
		oEnd := min(oi+oChunk, len(origins))
		for di := 0; di < len(destinations); di += dChunk {
			dEnd := min(di+dChunk, len(destinations))
			resp, err := g.distanceMatrix(ctx, origins[oi:oEnd], destinations[di:dEnd])
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				failed = append(failed, Block{OriginFrom: oi, OriginTo: oEnd, DestFrom: di, DestTo: dEnd})
				lastErr = err
				chunks++
				continue
			}
			chunks++
			if len(resp.Rows) != oEnd-oi {
				return nil, fmt.Errorf("%w: got %d rows, want %d", ErrOracle, len(resp.Rows), oEnd-oi)
			}
			for r, row := range resp.Rows {
				if len(row.Elements) != dEnd-di {
					return nil, fmt.Errorf("%w: got %d elements, want %d", ErrOracle, len(row.Elements), dEnd-di)
				}
				for c, el := range row.Elements {
					out[oi+r][di+c] = g.legFrom(el)
				}
			}
		}
	}
	if len(failed) == chunks && lastErr != nil {
		return nil, lastErr
	}
	if len(failed) > 0 {
		return out, &PartialMatrixError{Failed: failed, Err: lastErr}
	}
	return out, nil
}

func (g *Google) legFrom(el *maps.DistanceMatrixElement) Leg {
	if el == nil || el.Status != "OK" {
		return noRoute(SourceOracle)
	}
	dur := el.Duration
	if g.trafficAware && el.DurationInTraffic > 0 {
		dur = el.DurationInTraffic
	}
	return Leg{DistanceMeters: float64(el.Distance.Meters), DurationSeconds: dur.Seconds(), Status: StatusOK, Source: SourceOracle}
}

// distanceMatrix performs one Distance Matrix call with rate limiting,
// a per-attempt timeout and bounded exponential backoff on transient failures.
func (g *Google) distanceMatrix(ctx context.Context, origins, destinations []model.Coordinate) (*maps.DistanceMatrixResponse, error) {
	req := &maps.DistanceMatrixRequest{
		Origins:      coordStrings(origins),
		Destinations: coordStrings(destinations),
		Mode:         maps.TravelModeDriving,
	}
	if g.trafficAware {
		req.DepartureTime = "now"
		req.TrafficModel = maps.TrafficModelBestGuess
	}
	backoff := g.backoff
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOracle, err)
		}
		actx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, err := g.client.DistanceMatrix(actx, req)
		cancel()
		if err == nil {
			metrics.OracleRequests.WithLabelValues("ok").Inc()
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || !transient(err) || attempt == g.maxRetries {
			break
		}
		metrics.OracleRequests.WithLabelValues("retry").Inc()
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.OracleRequests.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: %v", ErrOracle, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
	}
	metrics.OracleRequests.WithLabelValues("error").Inc()
	return nil, fmt.Errorf("%w: %v", ErrOracle, lastErr)
}

// transient reports whether a failed call is worth retrying.
// Credential and request-shape errors are permanent; everything else is retried.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"REQUEST_DENIED", "INVALID_REQUEST", "MAX_ELEMENTS_EXCEEDED", "MAX_DIMENSIONS_EXCEEDED"} {
		if strings.Contains(msg, s) {
			return false
		}
	}
	return true
}

func coordStrings(cs []model.Coordinate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.String()
	}
	return out
}
