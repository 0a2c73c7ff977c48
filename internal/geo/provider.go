// Package geo computes travel distance and duration between coordinates,
// either geometrically or through an external mapping oracle.
package geo

import (
	"context"
	"errors"
	"fmt"
	"math"

	"hawkroute/internal/model"
)

// Leg statuses.
const (
	StatusOK      = "ok"
	StatusNoRoute = "no_route"
)

// Leg sources.
const (
	SourceOracle    = "oracle"
	SourceGeometric = "geometric"
)

var (
	// ErrOracle wraps any failure of the external oracle after retries.
	ErrOracle = errors.New("distance oracle unavailable")
	// ErrNoAPIKey is returned when the oracle is constructed without a credential.
	ErrNoAPIKey = errors.New("distance oracle: api key not configured")
)

// Leg is the travel cost between two points.
type Leg struct {
	DistanceMeters  float64 `json:"distanceMeters"`
	DurationSeconds float64 `json:"durationSeconds"`
	Status          string  `json:"status"`
	Source          string  `json:"source"`
}

// Reachable reports whether the leg carries a usable cost.
func (l Leg) Reachable() bool { return l.Status == StatusOK }

// Distance returns the distance or +Inf when unreachable.
func (l Leg) Distance() float64 {
	if !l.Reachable() {
		return math.Inf(1)
	}
	return l.DistanceMeters
}

// Duration returns the duration or +Inf when unreachable.
func (l Leg) Duration() float64 {
	if !l.Reachable() {
		return math.Inf(1)
	}
	return l.DurationSeconds
}

func noRoute(source string) Leg {
	return Leg{Status: StatusNoRoute, Source: source}
}

// Provider answers single-pair distance queries.
type Provider interface {
	Distance(ctx context.Context, a, b model.Coordinate) (Leg, error)
}

// MatrixProvider answers many-to-many queries in as few round trips as it can.
// The result is indexed [origin][destination].
type MatrixProvider interface {
	Provider
	Matrix(ctx context.Context, origins, destinations []model.Coordinate) ([][]Leg, error)
}

// Block is a rectangle of matrix cells: origins [OriginFrom, OriginTo) by
// destinations [DestFrom, DestTo).
type Block struct {
	OriginFrom, OriginTo int
	DestFrom, DestTo     int
}

// PartialMatrixError is returned with a usable matrix when some chunks of a
// matrix request failed. Cells inside Failed are zero Legs.
type PartialMatrixError struct {
	Failed []Block
	Err    error
}

func (e *PartialMatrixError) Error() string {
	return fmt.Sprintf("matrix: %d chunk(s) failed: %v", len(e.Failed), e.Err)
}

func (e *PartialMatrixError) Unwrap() error { return e.Err }
