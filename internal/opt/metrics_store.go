package opt

import (
	"sync"
	"time"
)

// SolveMetrics describes one solver run.
type SolveMetrics struct {
	Strategy   string        `json:"strategy"`
	Stops      int           `json:"stops"`
	Cost       float64       `json:"cost"`
	Elapsed    time.Duration `json:"elapsedNs"`
	FellBack   bool          `json:"fellBack"`
	Reason     string        `json:"reason,omitempty"`
	RecordedAt time.Time     `json:"recordedAt"`
}

type key struct {
	Merchant string
	Date     string
	Strategy string
}

var (
	mu    sync.Mutex
	store = map[key]SolveMetrics{}
)

// RecordMetrics keeps the latest run per merchant, date and strategy.
func RecordMetrics(merchant, date string, m SolveMetrics) {
	mu.Lock()
	store[key{Merchant: merchant, Date: date, Strategy: m.Strategy}] = m
	mu.Unlock()
}

func GetMetrics(merchant, date string) map[string]SolveMetrics {
	mu.Lock()
	defer mu.Unlock()
	out := map[string]SolveMetrics{}
	for k, v := range store {
		if k.Merchant == merchant && k.Date == date {
			out[k.Strategy] = v
		}
	}
	return out
}
