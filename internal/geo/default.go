package geo

import (
	"log"
	"strings"
	"time"
)

// Options selects and configures the distance strategy stack.
type Options struct {
	Google   GoogleOptions
	SpeedMps float64
	Cache    Cache // nil means an in-process cache
	CacheTTL time.Duration
}

// NewDefault prefers the oracle when a credential is configured and falls
// back to the geometric strategy otherwise. It never fails for lack of a key.
func NewDefault(opts Options) Provider {
	geometric := NewHaversine(opts.SpeedMps)
	if strings.TrimSpace(opts.Google.APIKey) == "" {
		log.Printf("distance provider=geometric reason=no_api_key")
		return geometric
	}
	g, err := NewGoogle(opts.Google)
	if err != nil {
		log.Printf("distance provider=geometric reason=oracle_init err=%v", err)
		return geometric
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	log.Printf("distance provider=oracle traffic=%t cache_ttl=%s", opts.Google.TrafficAware, ttl)
	return &Cached{Inner: &Fallback{Primary: g, Secondary: geometric}, Cache: cache, TTL: ttl}
}
