package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/Togather-Foundation/eventsite/internal/api/handlers"
	"github.com/Togather-Foundation/eventsite/internal/api/middleware"
	"github.com/Togather-Foundation/eventsite/internal/auth"
	"github.com/Togather-Foundation/eventsite/internal/config"
	"github.com/Togather-Foundation/eventsite/internal/homepage"
	"github.com/Togather-Foundation/eventsite/internal/metrics"
	"github.com/Togather-Foundation/eventsite/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Dependencies are the services the HTTP layer serves.
type Dependencies struct {
	Config    config.Config
	Logger    zerolog.Logger
	Homepage  *homepage.Aggregator
	Auth      *auth.Service
	Sessions  *session.Manager
	Probe     handlers.UpstreamProbe
	Version   string
	GitCommit string
}

// Router is the assembled HTTP handler plus the background pieces it owns.
type Router struct {
	Handler     http.Handler
	rateLimiter *middleware.RateLimiter
}

// Close stops the router's background work.
func (r *Router) Close() {
	if r.rateLimiter != nil {
		r.rateLimiter.Stop()
	}
}

// otpRoutes send SMS through the upstream and get the strict rate-limit tier.
var otpRoutes = map[string]bool{
	"/api/v1/auth/check-phone": true,
	"/api/v1/auth/otp/request": true,
	"/api/v1/auth/otp/verify":  true,
}

func NewRouter(deps Dependencies) *Router {
	cfg := deps.Config
	logger := deps.Logger

	homepageHandler := handlers.NewHomepageHandler(deps.Homepage)
	authHandler := handlers.NewAuthHandler(deps.Auth, deps.Sessions, deps.Homepage, cfg.Environment)
	health := handlers.NewHealthChecker(deps.Probe, deps.Sessions, deps.Version, deps.GitCommit)

	formBody := middleware.RequestSize(middleware.FormMaxBodySize)
	csrf := func(h http.Handler) http.Handler { return h }
	if cfg.Auth.CSRFKey != "" {
		csrf = middleware.CSRFProtection([]byte(cfg.Auth.CSRFKey), cfg.Environment == "production", cfg.Server.AllowedOrigins)
	} else {
		logger.Warn().Msg("CSRF_KEY not set; auth routes are not CSRF protected")
	}
	form := func(fn http.HandlerFunc) http.Handler {
		return csrf(formBody(fn))
	}

	api := http.NewServeMux()
	api.Handle("/api/v1/homepage", methodMux(map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(homepageHandler.Server),
	}))
	api.Handle("/api/v1/session/homepage", methodMux(map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(homepageHandler.Session),
	}))
	api.Handle("/api/v1/session/homepage/refresh", methodMux(map[string]http.Handler{
		http.MethodPost: http.HandlerFunc(homepageHandler.Refresh),
	}))
	api.Handle("/api/v1/session/homepage/status", methodMux(map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(homepageHandler.Status),
	}))
	api.Handle("/api/v1/auth/csrf", methodMux(map[string]http.Handler{
		http.MethodGet: csrf(http.HandlerFunc(authHandler.CSRF)),
	}))
	api.Handle("/api/v1/auth/check-phone", methodMux(map[string]http.Handler{
		http.MethodPost: form(authHandler.CheckPhone),
	}))
	api.Handle("/api/v1/auth/otp/request", methodMux(map[string]http.Handler{
		http.MethodPost: form(authHandler.RequestOTP),
	}))
	api.Handle("/api/v1/auth/otp/verify", methodMux(map[string]http.Handler{
		http.MethodPost: form(authHandler.Verify),
	}))
	api.Handle("/api/v1/auth/logout", methodMux(map[string]http.Handler{
		http.MethodPost: form(authHandler.Logout),
	}))
	api.Handle("/api/v1/auth/me", methodMux(map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(authHandler.Me),
		http.MethodPut: form(authHandler.UpdateProfile),
	}))

	root := http.NewServeMux()
	root.Handle("/healthz", handlers.Healthz())
	root.Handle("/readyz", handlers.Readyz())
	root.Handle("/health", health.Health())
	root.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	root.Handle("/api/", deps.Sessions.Middleware(api))

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)
	cors := middleware.CORSPolicy{
		AllowAll:       cfg.Environment == "development" && len(cfg.Server.AllowedOrigins) == 0,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}

	var handler http.Handler = root
	handler = rateLimiter.Handler(handler)
	handler = tierByPath(otpRoutes, middleware.TierOTP)(handler)
	handler = middleware.CORS(cors, logger)(handler)
	handler = middleware.SecurityHeaders(cfg.Environment == "production")(handler)
	handler = metrics.HTTPMiddleware(handler)
	handler = middleware.RequestLogging(handler)
	handler = middleware.Tracing(handler)
	handler = middleware.CorrelationID(logger)(handler)

	return &Router{Handler: handler, rateLimiter: rateLimiter}
}

// tierByPath assigns tier to requests for the given paths ahead of the rate
// limiter.
func tierByPath(paths map[string]bool, tier middleware.RateLimitTier) func(http.Handler) http.Handler {
	mark := middleware.WithRateLimitTierHandler(tier)
	return func(next http.Handler) http.Handler {
		marked := mark(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if paths[r.URL.Path] {
				marked.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func methodMux(handlers map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allowedMethods(handlers))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}

func allowedMethods(handlers map[string]http.Handler) string {
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
