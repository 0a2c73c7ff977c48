package api

import (
	"fmt"
	"log"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"hawkroute/internal/config"
	"hawkroute/internal/geo"
	"hawkroute/internal/opt"
	"hawkroute/internal/routing"
	"hawkroute/internal/store"
)

type Server struct {
	Store     store.Store
	Optimizer *routing.Optimizer
	Eta       *routing.EtaService
	Scheduler *routing.Scheduler
	Broker    EventBroker
	Config    config.Config
}

// NewServer wires the service from cfg. If DatabaseURL is empty it uses the
// in-memory store; if RedisURL is set, Redis backs both the distance cache
// and the event broker.
func NewServer(cfg config.Config) (*Server, error) {
	var st store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		st = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		// Run migrations (dev helper)
		if cfg.DBMigrate {
			if err := sp.MigrateDir("db/migrations"); err != nil {
				log.Printf("migrate dir=db/migrations err=%v", err)
			}
		}
		st = sp
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		ropt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		rdb = redis.NewClient(ropt)
	}

	gopts := geo.Options{
		Google: geo.GoogleOptions{
			APIKey:       cfg.Oracle.APIKey,
			Timeout:      cfg.Oracle.Timeout,
			MaxRetries:   cfg.Oracle.MaxRetries,
			RateRPS:      cfg.Oracle.RateRPS,
			TrafficAware: cfg.Oracle.TrafficAware,
		},
		SpeedMps: cfg.Routing.AverageSpeedMps,
		CacheTTL: cfg.Oracle.CacheTTL,
	}
	var broker EventBroker = NewBroker()
	if rdb != nil {
		gopts.Cache = geo.NewRedisCache(rdb)
		broker = NewRedisBroker(rdb)
	}
	provider := geo.NewDefault(gopts)

	solver := opt.NewSolver(cfg.Routing.SolverStrategy, opt.Constrained{
		MaxDistanceMeters: cfg.Routing.MaxRouteDistanceMeters,
		TimeBudget:        cfg.Routing.SolverTimeBudget,
		LocalSearch:       cfg.Routing.SolverLocalSearch,
	})
	optimizer := routing.NewOptimizer(st, provider, routing.Options{
		Solver:                 solver,
		Metric:                 cfg.Routing.CostMetric,
		MaxUnreachableFraction: cfg.Routing.MaxUnreachableFraction,
		AwaitingStatuses:       cfg.Routing.AwaitingStatuses,
		Location:               cfg.Schedule.Location(),
		SpeedMps:               cfg.Routing.AverageSpeedMps,
	})

	s := &Server{
		Store:     st,
		Optimizer: optimizer,
		Eta:       routing.NewEtaService(st, provider, cfg.Oracle.TrafficAware),
		Broker:    broker,
		Config:    cfg,
	}
	s.Scheduler = &routing.Scheduler{
		Store:     st,
		Optimizer: optimizer,
		Hour:      cfg.Schedule.Hour,
		Minute:    cfg.Schedule.Minute,
		Location:  cfg.Schedule.Location(),
		OnResult:  func(_ string, res routing.Result) { s.publishResult(res) },
	}
	return s, nil
}

// publishResult fans a persisted plan out to the merchant channel and to
// every sequenced order.
func (s *Server) publishResult(res routing.Result) {
	if !res.Persisted {
		return
	}
	p := res.Plan
	s.Broker.Publish(MerchantChannel(p.MerchantID), Event{Type: EventRouteOptimized, Data: map[string]any{
		"merchantId":               p.MerchantID,
		"planId":                   p.ID,
		"date":                     p.Date,
		"totalDistanceMeters":      p.TotalDistanceMeters,
		"estimatedDurationSeconds": p.EstimatedDurationSeconds,
		"degraded":                 p.Degraded,
	}})
	for _, st := range res.Stops {
		s.Broker.Publish(OrderChannel(st.OrderID), Event{Type: EventSequenceUpdated, Data: map[string]any{
			"orderId":  st.OrderID,
			"sequence": st.Sequence,
			"eta":      st.ETA,
		}})
	}
}
