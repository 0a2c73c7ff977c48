package api

import (
	"fmt"
	"strings"
	"time"

	"hawkroute/internal/model"
)

const maxBatchOrders = 100

func validateOptimizeRequest(req *model.OptimizeRequest) error {
	req.MerchantID = strings.TrimSpace(req.MerchantID)
	if req.MerchantID == "" {
		return fmt.Errorf("merchantId is required")
	}
	if req.Date != "" {
		if _, err := time.Parse(model.DateLayout, req.Date); err != nil {
			return fmt.Errorf("date must be YYYY-MM-DD: %s", req.Date)
		}
	}
	return nil
}

func validateBatchEtaRequest(req *model.BatchEtaRequest) error {
	if strings.TrimSpace(req.MerchantID) == "" {
		return fmt.Errorf("merchantId is required")
	}
	if len(req.OrderIDs) == 0 {
		return fmt.Errorf("orderIds must not be empty")
	}
	if len(req.OrderIDs) > maxBatchOrders {
		return fmt.Errorf("at most %d orderIds per request", maxBatchOrders)
	}
	for i, id := range req.OrderIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("orderIds[%d] is empty", i)
		}
	}
	return nil
}

type locationUpdate struct {
	Lat            *float64   `json:"lat"`
	Lng            *float64   `json:"lng"`
	AccuracyMeters *float64   `json:"accuracyMeters,omitempty"`
	SpeedMps       *float64   `json:"speedMps,omitempty"`
	RecordedAt     *time.Time `json:"recordedAt,omitempty"`
}

func validateLocationUpdate(in *locationUpdate) error {
	if in.Lat == nil || in.Lng == nil {
		return fmt.Errorf("lat and lng are required")
	}
	if !(model.Coordinate{Lat: *in.Lat, Lng: *in.Lng}).Valid() {
		return fmt.Errorf("coordinate out of range: %v,%v", *in.Lat, *in.Lng)
	}
	if in.AccuracyMeters != nil && *in.AccuracyMeters < 0 {
		return fmt.Errorf("accuracyMeters must be >= 0")
	}
	if in.SpeedMps != nil && *in.SpeedMps < 0 {
		return fmt.Errorf("speedMps must be >= 0")
	}
	return nil
}

func validatePlanStatus(status string) error {
	switch status {
	case model.PlanPending, model.PlanInProgress, model.PlanCompleted:
		return nil
	}
	return fmt.Errorf("invalid status: %s (allowed: pending,in_progress,completed)", status)
}
