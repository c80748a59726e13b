package cmd

import (
	"github.com/Togather-Foundation/eventsite/internal/cache"
	"github.com/Togather-Foundation/eventsite/internal/catalog"
	"github.com/Togather-Foundation/eventsite/internal/config"
	"github.com/Togather-Foundation/eventsite/internal/homepage"
	"github.com/Togather-Foundation/eventsite/internal/upstream"
	"github.com/rs/zerolog"
)

// services are the upstream-facing pieces shared by serve and snapshot.
type services struct {
	api       *upstream.Client
	catalog   *catalog.Client
	snapshots *cache.Store[*homepage.Snapshot]
	homepage  *homepage.Aggregator
}

func newServices(cfg config.Config, logger zerolog.Logger) *services {
	api := upstream.NewClient(cfg.Upstream.BaseURL,
		upstream.WithTimeout(cfg.Upstream.Timeout),
		upstream.WithRateLimit(cfg.Upstream.RateLimit),
		upstream.WithRetries(cfg.Upstream.MaxRetries, cfg.Upstream.RetryBaseDelay),
		upstream.WithUserAgent(cfg.Upstream.UserAgent),
		upstream.WithLogger(logger),
	)
	cat := catalog.NewClient(api)

	// Snapshots outlive neither their session nor the idle TTL.
	store := cache.New[*homepage.Snapshot](cache.WithTTL(cfg.Session.IdleTTL))

	return &services{
		api:       api,
		catalog:   cat,
		snapshots: store,
		homepage:  homepage.New(cat, store, homepage.OptionsFromConfig(cfg.Homepage), logger),
	}
}
