package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Upstream    UpstreamConfig  `yaml:"upstream"`
	Homepage    HomepageConfig  `yaml:"homepage"`
	Session     SessionConfig   `yaml:"session"`
	Auth        AuthConfig      `yaml:"auth"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Logging     LoggingConfig   `yaml:"logging"`
	Tracing     TracingConfig   `yaml:"tracing"`
	Environment string          `yaml:"environment" validate:"oneof=development test staging production"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port" validate:"min=1,max=65535"`
	BaseURL        string   `yaml:"base_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// UpstreamConfig describes the remote event-listing JSON API.
type UpstreamConfig struct {
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	Timeout        time.Duration `yaml:"timeout" validate:"min=0"`
	RateLimit      float64       `yaml:"rate_limit" validate:"min=0"`
	MaxRetries     int           `yaml:"max_retries" validate:"min=0,max=5"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	UserAgent      string        `yaml:"user_agent"`
}

// HomepageConfig tunes the homepage aggregation. The top-N values trade request
// volume against section richness.
type HomepageConfig struct {
	LatestEventsLimit   int           `yaml:"latest_events_limit" validate:"min=1,max=50"`
	BlogPostsLimit      int           `yaml:"blog_posts_limit" validate:"min=1,max=50"`
	TopEventTypes       int           `yaml:"top_event_types" validate:"min=0,max=20"`
	TopProvinces        int           `yaml:"top_provinces" validate:"min=0,max=20"`
	EventsPerGroup      int           `yaml:"events_per_group" validate:"min=1,max=20"`
	CalendarYearsBefore int           `yaml:"calendar_years_before" validate:"min=0,max=5"`
	CalendarYearsAfter  int           `yaml:"calendar_years_after" validate:"min=0,max=5"`
	Timeout             time.Duration `yaml:"timeout" validate:"min=0"`
}

type SessionConfig struct {
	CookieName    string        `yaml:"cookie_name" validate:"required"`
	IdleTTL       time.Duration `yaml:"idle_ttl" validate:"min=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"min=0"`
}

type AuthConfig struct {
	CSRFKey     string        `yaml:"csrf_key"`
	OTPCooldown time.Duration `yaml:"otp_cooldown" validate:"min=0"`
	PhonePrefix string        `yaml:"phone_prefix" validate:"required,numeric"`
}

type RateLimitConfig struct {
	PublicPerMinute   int      `yaml:"public_per_minute" validate:"min=0"`
	OTPPerMinute      int      `yaml:"otp_per_minute" validate:"min=0"`
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=stdout otlp none"`
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" validate:"min=0,max=1"`
}

func Load() (Config, error) {
	cfg := fromEnv()
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads the environment like Load and then overlays the YAML file at
// path. Keys absent from the file keep their environment or default value.
func LoadFile(path string) (Config, error) {
	cfg := fromEnv()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg.Upstream.BaseURL = strings.TrimRight(cfg.Upstream.BaseURL, "/")
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromEnv() Config {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	return Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			BaseURL:        getEnv("SERVER_BASE_URL", "http://localhost:8080"),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		},
		Upstream: UpstreamConfig{
			BaseURL:        strings.TrimRight(getEnv("API_BASE_URL", ""), "/"),
			Timeout:        getEnvDuration("API_TIMEOUT", 8*time.Second),
			RateLimit:      getEnvFloat("API_RATE_LIMIT", 50),
			MaxRetries:     getEnvInt("API_MAX_RETRIES", 2),
			RetryBaseDelay: getEnvDuration("API_RETRY_BASE_DELAY", 250*time.Millisecond),
			UserAgent:      getEnv("API_USER_AGENT", "eventsite/1.0"),
		},
		Homepage: HomepageConfig{
			LatestEventsLimit:   getEnvInt("HOMEPAGE_LATEST_EVENTS", 6),
			BlogPostsLimit:      getEnvInt("HOMEPAGE_BLOG_POSTS", 6),
			TopEventTypes:       getEnvInt("HOMEPAGE_TOP_EVENT_TYPES", 6),
			TopProvinces:        getEnvInt("HOMEPAGE_TOP_PROVINCES", 3),
			EventsPerGroup:      getEnvInt("HOMEPAGE_EVENTS_PER_GROUP", 2),
			CalendarYearsBefore: getEnvInt("HOMEPAGE_CALENDAR_YEARS_BEFORE", 0),
			CalendarYearsAfter:  getEnvInt("HOMEPAGE_CALENDAR_YEARS_AFTER", 1),
			Timeout:             getEnvDuration("HOMEPAGE_TIMEOUT", 20*time.Second),
		},
		Session: SessionConfig{
			CookieName:    getEnv("SESSION_COOKIE_NAME", "eventsite_session"),
			IdleTTL:       getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
		},
		Auth: AuthConfig{
			CSRFKey:     getEnv("CSRF_KEY", ""),
			OTPCooldown: getEnvDuration("OTP_RESEND_COOLDOWN", 60*time.Second),
			PhonePrefix: getEnv("PHONE_COUNTRY_PREFIX", "62"),
		},
		RateLimit: RateLimitConfig{
			PublicPerMinute:   getEnvInt("RATE_LIMIT_PUBLIC", 120),
			OTPPerMinute:      getEnvInt("RATE_LIMIT_OTP", 5),
			TrustedProxyCIDRs: getEnvList("TRUSTED_PROXY_CIDRS"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			Exporter:     getEnv("TRACING_EXPORTER", "stdout"),
			ServiceName:  getEnv("TRACING_SERVICE_NAME", "eventsite"),
			OTLPEndpoint: getEnv("OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Environment: getEnv("ENVIRONMENT", "development"),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation by struct path.
func Validate(cfg Config) error {
	if cfg.Upstream.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if cfg.Auth.CSRFKey != "" && len(cfg.Auth.CSRFKey) < 32 {
		return fmt.Errorf("CSRF_KEY must be at least 32 bytes")
	}
	if err := validate.Struct(cfg); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
