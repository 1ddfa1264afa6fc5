package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Juleha gateway and its workers.
type Config struct {
	Port      int
	Routes    RoutesConfig
	Tools     ToolsConfig
	Database  DatabaseConfig
	Policy    PolicyConfig
	Worker    WorkerConfig
	Scheduler SchedulerConfig
	Telemetry TelemetryConfig
}

// RouteConfig is one ordered upstream route.
type RouteConfig struct {
	APIKey string
	Model  string
	Label  string
}

type RoutesConfig struct {
	Primary   RouteConfig
	Secondary RouteConfig
	Tertiary  RouteConfig
	Referer   string
	AppTitle  string
}

type ToolsConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type DatabaseConfig struct {
	URL      string
	InMemory bool
}

type PolicyConfig struct {
	AllowedOrigins    []string
	VerifyLinks       bool
	CaptureCandidates bool
	AuditSalt         string
}

type WorkerConfig struct {
	PollInterval time.Duration // clamped 1..60s
	MaxAttempts  int           // clamped 1..20
	BackoffBase  time.Duration // clamped 10..3600s
}

type SchedulerConfig struct {
	// StaleHours is clamped to 24..72; zero means "pick a random value in
	// 24..72 on each run".
	StaleHours int
	BatchSize  int // clamped 1..5000
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port: envInt("JULEHA_PORT", 8080),
		Routes: RoutesConfig{
			Primary: RouteConfig{
				APIKey: os.Getenv("OPENROUTER_API_KEY_PRIMARY"),
				Model:  envStr("OPENROUTER_MODEL_PRIMARY", "openrouter/auto"),
				Label:  envStr("OPENROUTER_LABEL_PRIMARY", "primary"),
			},
			Secondary: RouteConfig{
				APIKey: os.Getenv("OPENROUTER_API_KEY_SECONDARY"),
				Model:  envStr("OPENROUTER_MODEL_SECONDARY", "openrouter/auto"),
				Label:  envStr("OPENROUTER_LABEL_SECONDARY", "secondary"),
			},
			Tertiary: RouteConfig{
				APIKey: os.Getenv("OPENROUTER_API_KEY_TERTIARY"),
				Model:  envStr("OPENROUTER_MODEL_TERTIARY", "openrouter/auto"),
				Label:  envStr("OPENROUTER_LABEL_TERTIARY", "tertiary"),
			},
			Referer:  os.Getenv("OPENROUTER_HTTP_REFERER"),
			AppTitle: os.Getenv("OPENROUTER_APP_TITLE"),
		},
		Tools: ToolsConfig{
			BaseURL: os.Getenv("TOOLS_BASE_URL"),
			APIKey:  os.Getenv("TOOLS_API_KEY"),
			Timeout: time.Duration(envInt("TOOLS_TIMEOUT_MS", 6000)) * time.Millisecond,
		},
		Database: DatabaseConfig{
			URL:      envStr("NEON_DATABASE_URL", os.Getenv("DATABASE_URL")),
			InMemory: envBool("JULEHA_MEMORY_STORE", false),
		},
		Policy: PolicyConfig{
			AllowedOrigins:    splitCSV(os.Getenv("JULEHA_ALLOWED_ORIGINS")),
			VerifyLinks:       envBool("JULEHA_VERIFY_LINKS", true),
			CaptureCandidates: envBool("JULEHA_CAPTURE_CANDIDATES", true),
			AuditSalt:         os.Getenv("JULEHA_AUDIT_SALT"),
		},
		Worker: WorkerConfig{
			PollInterval: clampDuration(time.Duration(envInt("WORKER_POLL_MS", 5000))*time.Millisecond, time.Second, 60*time.Second),
			MaxAttempts:  clampInt(envInt("WORKER_MAX_ATTEMPTS", 5), 1, 20),
			BackoffBase:  clampDuration(time.Duration(envInt("WORKER_BACKOFF_BASE_SEC", 60))*time.Second, 10*time.Second, 3600*time.Second),
		},
		Scheduler: SchedulerConfig{
			StaleHours: staleHours(),
			BatchSize:  clampInt(envInt("SCHEDULER_BATCH_SIZE", 200), 1, 5000),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "juleha-gateway"),
		},
	}
}

// staleHours returns the clamped STALE_HOURS, or zero when unset so each
// scheduler run picks its own random value in 24..72.
func staleHours() int {
	if os.Getenv("STALE_HOURS") == "" {
		return 0
	}
	return clampInt(envInt("STALE_HOURS", 0), 24, 72)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
