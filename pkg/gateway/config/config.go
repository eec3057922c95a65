package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

// Backend selects which hosted model serves supervisor or guardrail calls.
type Backend string

const (
	BackendResponses Backend = "responses"
	BackendGemini    Backend = "gemini"
)

type EventLogBackend string

const (
	EventLogNone     EventLogBackend = ""
	EventLogSQLite   EventLogBackend = "sqlite"
	EventLogPostgres EventLogBackend = "postgres"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from X-Forwarded-For.
	// Only enable behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Service credential and hosted endpoints.
	OpenAIAPIKey    string
	UpstreamBaseURL string
	RealtimeURL     string
	RealtimeModel   string

	SupervisorBackend       Backend
	SupervisorModel         string
	SupervisorMaxIterations int
	SupervisorTimeout       time.Duration

	GuardrailBackend    Backend
	GuardrailModel      string
	GuardrailFailClosed bool
	GuardrailTimeout    time.Duration

	GeminiAPIKey  string
	GeminiBaseURL string

	CompanyName string
	ToolTimeout time.Duration

	// Scenario overrides; empty => built-ins only.
	ScenarioDir string

	// Durable event log. Dir enables the JSONL hash-chain sink, DSN the SQL sink.
	EventLogDir string
	EventLogDSN string

	// Live WebSocket bridge (/v1/live).
	LiveMaxJSONMessageBytes     int64
	LiveHandshakeTimeout        time.Duration
	LiveWSWriteTimeout          time.Duration
	LiveWSPingInterval          time.Duration
	LiveMaxSessionDuration      time.Duration
	LiveMaxSessionsPerPrincipal int
	LiveGreeting                string
	LiveMaxAudioFPS             int
	LiveMaxAudioBytesPerSecond  int64
	LiveInboundBurstSeconds     int

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("VAI_AGENTS_ADDR", ":8080"),
		AuthMode:                      AuthMode(envOr("VAI_AGENTS_AUTH_MODE", string(AuthModeOptional))),
		APIKeys:                       make(map[string]struct{}),
		TrustProxyHeaders:             envBoolOr("VAI_AGENTS_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:                  envInt64Or("VAI_AGENTS_MAX_BODY_BYTES", 1<<20),
		CORSAllowedOrigins:            make(map[string]struct{}),
		OpenAIAPIKey:                  envOr("OPENAI_API_KEY", ""),
		UpstreamBaseURL:               envOr("VAI_AGENTS_UPSTREAM_BASE_URL", "https://api.openai.com/v1"),
		RealtimeURL:                   envOr("VAI_AGENTS_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:                 envOr("VAI_AGENTS_REALTIME_MODEL", "gpt-4o-realtime-preview-2025-06-03"),
		SupervisorBackend:             Backend(strings.ToLower(envOr("VAI_AGENTS_SUPERVISOR_BACKEND", string(BackendResponses)))),
		SupervisorModel:               envOr("VAI_AGENTS_SUPERVISOR_MODEL", "gpt-4.1"),
		SupervisorMaxIterations:       envIntOr("VAI_AGENTS_SUPERVISOR_MAX_ITERATIONS", 8),
		SupervisorTimeout:             envDurationOr("VAI_AGENTS_SUPERVISOR_TIMEOUT", 45*time.Second),
		GuardrailBackend:              Backend(strings.ToLower(envOr("VAI_AGENTS_GUARDRAIL_BACKEND", string(BackendResponses)))),
		GuardrailModel:                envOr("VAI_AGENTS_GUARDRAIL_MODEL", "gpt-4o-mini"),
		GuardrailFailClosed:           envBoolOr("VAI_AGENTS_GUARDRAIL_FAIL_CLOSED", false),
		GuardrailTimeout:              envDurationOr("VAI_AGENTS_GUARDRAIL_TIMEOUT", 10*time.Second),
		GeminiAPIKey:                  envOr("GEMINI_API_KEY", ""),
		GeminiBaseURL:                 envOr("VAI_AGENTS_GEMINI_BASE_URL", ""),
		CompanyName:                   envOr("VAI_AGENTS_COMPANY_NAME", ""),
		ToolTimeout:                   envDurationOr("VAI_AGENTS_TOOL_TIMEOUT", 60*time.Second),
		ScenarioDir:                   envOr("VAI_AGENTS_SCENARIO_DIR", ""),
		EventLogDir:                   envOr("VAI_AGENTS_EVENTLOG_DIR", ""),
		EventLogDSN:                   envOr("VAI_AGENTS_EVENTLOG_DSN", ""),
		LiveMaxJSONMessageBytes:       envInt64Or("VAI_AGENTS_LIVE_MAX_MESSAGE_BYTES", 256*1024),
		LiveHandshakeTimeout:          envDurationOr("VAI_AGENTS_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		LiveWSWriteTimeout:            envDurationOr("VAI_AGENTS_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSPingInterval:            envDurationOr("VAI_AGENTS_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveMaxSessionDuration:        envDurationOr("VAI_AGENTS_LIVE_MAX_DURATION", time.Hour),
		LiveMaxSessionsPerPrincipal:   envIntOr("VAI_AGENTS_LIVE_MAX_SESSIONS_PER_PRINCIPAL", 2),
		LiveGreeting:                  envOr("VAI_AGENTS_LIVE_GREETING", "hi"),
		LiveMaxAudioFPS:               envIntOr("VAI_AGENTS_LIVE_MAX_AUDIO_FPS", 60),
		LiveMaxAudioBytesPerSecond:    envInt64Or("VAI_AGENTS_LIVE_MAX_AUDIO_BPS", 128*1024),
		LiveInboundBurstSeconds:       envIntOr("VAI_AGENTS_LIVE_INBOUND_BURST_SECONDS", 2),
		LimitRPS:                      envFloat64Or("VAI_AGENTS_RATE_LIMIT_RPS", 5.0),
		LimitBurst:                    envIntOr("VAI_AGENTS_RATE_LIMIT_BURST", 10),
		LimitMaxConcurrentRequests:    envIntOr("VAI_AGENTS_MAX_CONCURRENT_REQUESTS", 20),
		ReadHeaderTimeout:             envDurationOr("VAI_AGENTS_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("VAI_AGENTS_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:                envDurationOr("VAI_AGENTS_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:           envDurationOr("VAI_AGENTS_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		UpstreamConnectTimeout:        envDurationOr("VAI_AGENTS_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("VAI_AGENTS_RESPONSE_HEADER_TIMEOUT", 60*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VAI_AGENTS_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("VAI_AGENTS_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("VAI_AGENTS_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.SupervisorBackend {
	case BackendResponses, BackendGemini:
	default:
		return Config{}, fmt.Errorf("VAI_AGENTS_SUPERVISOR_BACKEND must be one of responses|gemini")
	}
	switch cfg.GuardrailBackend {
	case BackendResponses, BackendGemini:
	default:
		return Config{}, fmt.Errorf("VAI_AGENTS_GUARDRAIL_BACKEND must be one of responses|gemini")
	}
	if (cfg.SupervisorBackend == BackendGemini || cfg.GuardrailBackend == BackendGemini) && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set when a gemini backend is selected")
	}
	if strings.TrimSpace(cfg.SupervisorModel) == "" {
		return Config{}, fmt.Errorf("VAI_AGENTS_SUPERVISOR_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.GuardrailModel) == "" {
		return Config{}, fmt.Errorf("VAI_AGENTS_GUARDRAIL_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.RealtimeModel) == "" {
		return Config{}, fmt.Errorf("VAI_AGENTS_REALTIME_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.UpstreamBaseURL) == "" {
		return Config{}, fmt.Errorf("VAI_AGENTS_UPSTREAM_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.RealtimeURL) == "" {
		return Config{}, fmt.Errorf("VAI_AGENTS_REALTIME_URL must not be empty")
	}
	if _, err := ParseEventLogDSN(cfg.EventLogDSN); err != nil {
		return Config{}, err
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_MAX_BODY_BYTES must be > 0")
	}
	if cfg.SupervisorMaxIterations <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_SUPERVISOR_MAX_ITERATIONS must be > 0")
	}
	if cfg.SupervisorTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_SUPERVISOR_TIMEOUT must be > 0")
	}
	if cfg.GuardrailTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_GUARDRAIL_TIMEOUT must be > 0")
	}
	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_TOOL_TIMEOUT must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_LIVE_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveMaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_LIVE_MAX_DURATION must be > 0")
	}
	if cfg.LiveMaxSessionsPerPrincipal < 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_LIVE_MAX_SESSIONS_PER_PRINCIPAL must be >= 0")
	}
	if cfg.LiveMaxAudioFPS < 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_LIVE_MAX_AUDIO_FPS must be >= 0")
	}
	if cfg.LiveMaxAudioBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_LIVE_MAX_AUDIO_BPS must be >= 0")
	}
	if cfg.LiveInboundBurstSeconds <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_LIVE_INBOUND_BURST_SECONDS must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_RESPONSE_HEADER_TIMEOUT must be > 0")
	}

	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_MAX_CONCURRENT_REQUESTS must be >= 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_API_KEYS must be set when VAI_AGENTS_AUTH_MODE=required")
	}

	return cfg, nil
}

// ParseEventLogDSN classifies the SQL sink target. postgres:// and
// postgresql:// URLs select Postgres; "sqlite:" prefixes and bare paths
// select the embedded driver.
func ParseEventLogDSN(dsn string) (EventLogBackend, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return EventLogNone, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return EventLogPostgres, nil
	case strings.HasPrefix(dsn, "sqlite:"):
		if strings.TrimSpace(strings.TrimPrefix(dsn, "sqlite:")) == "" {
			return EventLogNone, fmt.Errorf("VAI_AGENTS_EVENTLOG_DSN sqlite path must not be empty")
		}
		return EventLogSQLite, nil
	case strings.Contains(dsn, "://"):
		return EventLogNone, fmt.Errorf("VAI_AGENTS_EVENTLOG_DSN scheme must be postgres, postgresql or sqlite")
	default:
		return EventLogSQLite, nil
	}
}

// SQLitePath strips the optional "sqlite:" prefix.
func SQLitePath(dsn string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(dsn), "sqlite:"))
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
