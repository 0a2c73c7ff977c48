package api

import (
	"net/http"
	"time"

	"hawkroute/internal/buildinfo"
)

// DebugJSON reports build and non-secret configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":                   cfg.Port,
			"hasDatabaseUrl":         cfg.DatabaseURL != "",
			"hasRedisUrl":            cfg.RedisURL != "",
			"hasOracleKey":           cfg.Oracle.APIKey != "",
			"oracleTrafficAware":     cfg.Oracle.TrafficAware,
			"oracleRateRps":          cfg.Oracle.RateRPS,
			"averageSpeedMps":        cfg.Routing.AverageSpeedMps,
			"maxRouteDistanceMeters": cfg.Routing.MaxRouteDistanceMeters,
			"solverStrategy":         cfg.Routing.SolverStrategy,
			"solverTimeBudget":       cfg.Routing.SolverTimeBudget.String(),
			"costMetric":             cfg.Routing.CostMetric,
			"scheduleEnabled":        cfg.Schedule.Enabled,
			"scheduleTimezone":       cfg.Schedule.Timezone,
			"scheduleHour":           cfg.Schedule.Hour,
			"scheduleMinute":         cfg.Schedule.Minute,
		},
	}
	writeJSON(w, http.StatusOK, info)
}
