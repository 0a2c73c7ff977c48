package model

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage layout of a delivery date.
const DateLayout = "2006-01-02"

// Order statuses owned by the order lifecycle.
const (
	OrderPending    = "pending"
	OrderConfirmed  = "confirmed"
	OrderPreparing  = "preparing"
	OrderDelivering = "delivering"
	OrderDelivered  = "delivered"
	OrderCancelled  = "cancelled"
)

// Route plan statuses.
const (
	PlanPending    = "pending"
	PlanInProgress = "in_progress"
	PlanCompleted  = "completed"
)

// Coordinate is a WGS84 point in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is inside the lat/lng domain.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

func (c Coordinate) String() string { return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng) }

type Merchant struct {
	ID                string      `json:"id"`
	Name              string      `json:"name,omitempty"`
	Address           string      `json:"address,omitempty"`
	Active            bool        `json:"active"`
	Location          *Coordinate `json:"location,omitempty"`
	LocationUpdatedAt *time.Time  `json:"locationUpdatedAt,omitempty"`
}

type Order struct {
	ID               string      `json:"id"`
	MerchantID       string      `json:"merchantId"`
	Status           string      `json:"status"`
	DeliveryAddress  string      `json:"deliveryAddress,omitempty"`
	Delivery         *Coordinate `json:"delivery,omitempty"`
	DeliverySequence *int        `json:"deliverySequence,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// RoutePlan is the persisted result of one optimization for a merchant and date.
// Plans are append-only; the latest by CreatedAt wins.
type RoutePlan struct {
	ID                       string    `json:"id"`
	MerchantID               string    `json:"merchantId"`
	Date                     string    `json:"date"`
	OrderSequence            []string  `json:"orderSequence"`
	TotalDistanceMeters      float64   `json:"totalDistanceMeters"`
	EstimatedDurationSeconds int       `json:"estimatedDurationSeconds"`
	Status                   string    `json:"status"`
	Strategy                 string    `json:"strategy,omitempty"`
	Degraded                 bool      `json:"degraded"`
	CreatedAt                time.Time `json:"createdAt"`
	UpdatedAt                time.Time `json:"updatedAt"`
}

// PlannedStop is display data for one visited order.
type PlannedStop struct {
	OrderID            string     `json:"orderId"`
	Sequence           int        `json:"sequence"`
	Location           Coordinate `json:"location"`
	Address            string     `json:"address,omitempty"`
	LegDistanceMeters  float64    `json:"legDistanceMeters"`
	LegDurationSeconds int        `json:"legDurationSeconds"`
	ETA                time.Time  `json:"eta"`
}

// UnresolvedOrder is an order left out of a plan, with the reason.
type UnresolvedOrder struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// Unresolved reasons.
const (
	ReasonMissingCoordinates = "missing_coordinates"
	ReasonUnreachable        = "unreachable"
)

type EtaResult struct {
	OrderID         string    `json:"orderId"`
	DurationSeconds int       `json:"durationSeconds"`
	DistanceMeters  float64   `json:"distanceMeters"`
	ETA             time.Time `json:"eta"`
	Source          string    `json:"source"`
	Degraded        bool      `json:"degraded"`
}

// LocationSample is one recorded position of a merchant.
type LocationSample struct {
	MerchantID     string     `json:"merchantId"`
	Location       Coordinate `json:"location"`
	AccuracyMeters *float64   `json:"accuracyMeters,omitempty"`
	SpeedMps       *float64   `json:"speedMps,omitempty"`
	RecordedAt     time.Time  `json:"recordedAt"`
}

type OptimizeRequest struct {
	MerchantID string `json:"merchantId"`
	Date       string `json:"date,omitempty"`
}

type BatchEtaRequest struct {
	MerchantID string   `json:"merchantId"`
	OrderIDs   []string `json:"orderIds"`
}

type RouteStatusPatch struct {
	Status string `json:"status"`
}
