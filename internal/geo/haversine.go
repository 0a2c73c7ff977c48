package geo

import (
	"context"
	"math"

	"hawkroute/internal/model"
)

// EarthRadiusMeters is the mean earth radius used by the geometric strategy.
const EarthRadiusMeters = 6371000.0

// HaversineMeters returns the great-circle distance between a and b.
func HaversineMeters(a, b model.Coordinate) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Haversine is the always-available geometric strategy.
type Haversine struct {
	SpeedMps float64
}

// DefaultSpeedMps is 30 km/h.
const DefaultSpeedMps = 8.33

func NewHaversine(speedMps float64) *Haversine {
	if speedMps <= 0 {
		speedMps = DefaultSpeedMps
	}
	return &Haversine{SpeedMps: speedMps}
}

func (h *Haversine) Distance(_ context.Context, a, b model.Coordinate) (Leg, error) {
	return h.Leg(a, b), nil
}

// Leg computes the geometric leg without a context.
func (h *Haversine) Leg(a, b model.Coordinate) Leg {
	d := HaversineMeters(a, b)
	speed := h.SpeedMps
	if speed <= 0 {
		speed = DefaultSpeedMps
	}
	return Leg{DistanceMeters: d, DurationSeconds: d / speed, Status: StatusOK, Source: SourceGeometric}
}
