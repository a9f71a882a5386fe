package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures runtime configuration. It is built once in Load and
// explicitly injected into each component; nothing reads the environment
// after startup.
type Config struct {
	Environment  string `yaml:"environment"`
	HTTPPort     string `yaml:"http_port"`
	DatabasePath string `yaml:"database_path"`
	LogDir       string `yaml:"log_dir"`
	Debug        bool   `yaml:"debug"`

	// Admin API auth. Empty JWTSecret disables authentication entirely,
	// which is only acceptable for local development.
	AdminPasswordHash string `yaml:"admin_password_hash"`
	JWTSecret         string `yaml:"jwt_secret"`

	// Alerting. URLs are shoutrrr service URLs.
	AlertURLs        []string `yaml:"alert_urls"`
	AlertMinSeverity string   `yaml:"alert_min_severity"`

	// Geolocation lookup endpoint, e.g. "https://geo.example.com/country/%s".
	// Empty disables geographic filtering regardless of the lists below.
	GeoLookupURL   string   `yaml:"geo_lookup_url"`
	GeoDenyList    []string `yaml:"geo_deny_list"`
	GeoAllowList   []string `yaml:"geo_allow_list"`
	GeoTimeoutSecs int      `yaml:"geo_timeout_seconds"`

	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	DDoS       DDoSConfig       `yaml:"ddos"`
	Abuse      AbuseConfig      `yaml:"abuse"`
	Escalation EscalationConfig `yaml:"escalation"`
	Sweep      SweepConfig      `yaml:"sweep"`
}

// RateLimitConfig controls sliding-window admission.
type RateLimitConfig struct {
	// Backend selects the counting store: "store" (shared, DB-backed) or
	// "memory" (per-process token bucket).
	Backend        string         `yaml:"backend"`
	Limit          int            `yaml:"limit"`
	WindowSeconds  int            `yaml:"window_seconds"`
	Burst          int            `yaml:"burst"`
	APIKeyLimit    int            `yaml:"api_key_limit"`
	EndpointLimits map[string]int `yaml:"endpoint_limits"`
}

// DDoSConfig controls the volumetric detector.
type DDoSConfig struct {
	ThresholdRPS      int64 `yaml:"threshold_rps"`
	WindowSeconds     int64 `yaml:"window_seconds"`
	ConnectionCeiling int64 `yaml:"connection_ceiling"`
}

// AbuseConfig holds the pattern, anomaly and behavioral thresholds. These
// are policy parameters, not constants; defaults match the shipped policy.
type AbuseConfig struct {
	RapidCount         int64   `yaml:"rapid_count"`
	RapidWindowSeconds int64   `yaml:"rapid_window_seconds"`
	ErrorRate          float64 `yaml:"error_rate"`
	ExcessiveCount     int64   `yaml:"excessive_count"`
	AnomalyMultiplier  float64 `yaml:"anomaly_multiplier"`
	BaselineDays       int     `yaml:"baseline_days"`
	EndpointDiversity  int64   `yaml:"endpoint_diversity"`
	UADiversity        int64   `yaml:"ua_diversity"`
}

// EscalationConfig maps a 24h violation count onto block durations.
type EscalationConfig struct {
	FirstBlockMinutes   int `yaml:"first_block_minutes"`
	RepeatBlockMinutes  int `yaml:"repeat_block_minutes"`
	ChronicBlockMinutes int `yaml:"chronic_block_minutes"`
	HistoryHours        int `yaml:"history_hours"`
}

// SweepConfig holds the cron expressions for the periodic jobs.
type SweepConfig struct {
	DDoSSchedule  string `yaml:"ddos_schedule"`
	AbuseSchedule string `yaml:"abuse_schedule"`
	PurgeSchedule string `yaml:"purge_schedule"`
}

// Load reads env vars and falls back to defaults so the engine can boot with
// zero configuration. If VIGIL_CONFIG points at a YAML file it is applied on
// top of the defaults before env overrides.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("VIGIL_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func defaults() Config {
	return Config{
		Environment:      "development",
		HTTPPort:         "8080",
		DatabasePath:     filepath.Join("data", "vigil.db"),
		LogDir:           filepath.Join("data", "logs"),
		AlertMinSeverity: "INFO",
		GeoTimeoutSecs:   2,
		RateLimit: RateLimitConfig{
			Backend:       "store",
			Limit:         60,
			WindowSeconds: 60,
			Burst:         10,
			APIKeyLimit:   600,
		},
		DDoS: DDoSConfig{
			ThresholdRPS:      100,
			WindowSeconds:     60,
			ConnectionCeiling: 1000,
		},
		Abuse: AbuseConfig{
			RapidCount:         10,
			RapidWindowSeconds: 10,
			ErrorRate:          0.5,
			ExcessiveCount:     1000,
			AnomalyMultiplier:  3.0,
			BaselineDays:       7,
			EndpointDiversity:  20,
			UADiversity:        10,
		},
		Escalation: EscalationConfig{
			FirstBlockMinutes:   15,
			RepeatBlockMinutes:  60,
			ChronicBlockMinutes: 1440,
			HistoryHours:        24,
		},
		Sweep: SweepConfig{
			DDoSSchedule:  "@every 1m",
			AbuseSchedule: "@every 5m",
			PurgeSchedule: "@every 10m",
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Environment = getEnv("VIGIL_ENV", cfg.Environment)
	cfg.HTTPPort = getEnv("VIGIL_HTTP_PORT", cfg.HTTPPort)
	cfg.DatabasePath = getEnv("VIGIL_DB_PATH", cfg.DatabasePath)
	cfg.LogDir = getEnv("VIGIL_LOG_DIR", cfg.LogDir)
	cfg.Debug = getEnvBool("VIGIL_DEBUG", cfg.Debug)

	cfg.AdminPasswordHash = getEnv("VIGIL_ADMIN_PASSWORD_HASH", cfg.AdminPasswordHash)
	cfg.JWTSecret = getEnv("VIGIL_JWT_SECRET", cfg.JWTSecret)

	cfg.AlertURLs = getEnvList("VIGIL_ALERT_URLS", cfg.AlertURLs)
	cfg.AlertMinSeverity = getEnv("VIGIL_ALERT_MIN_SEVERITY", cfg.AlertMinSeverity)

	cfg.GeoLookupURL = getEnv("VIGIL_GEO_LOOKUP_URL", cfg.GeoLookupURL)
	cfg.GeoDenyList = getEnvList("VIGIL_GEO_DENY", cfg.GeoDenyList)
	cfg.GeoAllowList = getEnvList("VIGIL_GEO_ALLOW", cfg.GeoAllowList)
	cfg.GeoTimeoutSecs = getEnvInt("VIGIL_GEO_TIMEOUT_SECONDS", cfg.GeoTimeoutSecs)

	cfg.RateLimit.Backend = getEnv("VIGIL_RATELIMIT_BACKEND", cfg.RateLimit.Backend)
	cfg.RateLimit.Limit = getEnvInt("VIGIL_RATELIMIT_LIMIT", cfg.RateLimit.Limit)
	cfg.RateLimit.WindowSeconds = getEnvInt("VIGIL_RATELIMIT_WINDOW_SECONDS", cfg.RateLimit.WindowSeconds)
	cfg.RateLimit.Burst = getEnvInt("VIGIL_RATELIMIT_BURST", cfg.RateLimit.Burst)
	cfg.RateLimit.APIKeyLimit = getEnvInt("VIGIL_RATELIMIT_API_KEY_LIMIT", cfg.RateLimit.APIKeyLimit)

	cfg.DDoS.ThresholdRPS = getEnvInt64("VIGIL_DDOS_THRESHOLD_RPS", cfg.DDoS.ThresholdRPS)
	cfg.DDoS.WindowSeconds = getEnvInt64("VIGIL_DDOS_WINDOW_SECONDS", cfg.DDoS.WindowSeconds)
	cfg.DDoS.ConnectionCeiling = getEnvInt64("VIGIL_DDOS_CONNECTION_CEILING", cfg.DDoS.ConnectionCeiling)

	cfg.Abuse.RapidCount = getEnvInt64("VIGIL_ABUSE_RAPID_COUNT", cfg.Abuse.RapidCount)
	cfg.Abuse.RapidWindowSeconds = getEnvInt64("VIGIL_ABUSE_RAPID_WINDOW_SECONDS", cfg.Abuse.RapidWindowSeconds)
	cfg.Abuse.ErrorRate = getEnvFloat("VIGIL_ABUSE_ERROR_RATE", cfg.Abuse.ErrorRate)
	cfg.Abuse.ExcessiveCount = getEnvInt64("VIGIL_ABUSE_EXCESSIVE_COUNT", cfg.Abuse.ExcessiveCount)
	cfg.Abuse.AnomalyMultiplier = getEnvFloat("VIGIL_ABUSE_ANOMALY_MULTIPLIER", cfg.Abuse.AnomalyMultiplier)
	cfg.Abuse.BaselineDays = getEnvInt("VIGIL_ABUSE_BASELINE_DAYS", cfg.Abuse.BaselineDays)
	cfg.Abuse.EndpointDiversity = getEnvInt64("VIGIL_ABUSE_ENDPOINT_DIVERSITY", cfg.Abuse.EndpointDiversity)
	cfg.Abuse.UADiversity = getEnvInt64("VIGIL_ABUSE_UA_DIVERSITY", cfg.Abuse.UADiversity)

	cfg.Escalation.FirstBlockMinutes = getEnvInt("VIGIL_ESCALATION_FIRST_MINUTES", cfg.Escalation.FirstBlockMinutes)
	cfg.Escalation.RepeatBlockMinutes = getEnvInt("VIGIL_ESCALATION_REPEAT_MINUTES", cfg.Escalation.RepeatBlockMinutes)
	cfg.Escalation.ChronicBlockMinutes = getEnvInt("VIGIL_ESCALATION_CHRONIC_MINUTES", cfg.Escalation.ChronicBlockMinutes)
	cfg.Escalation.HistoryHours = getEnvInt("VIGIL_ESCALATION_HISTORY_HOURS", cfg.Escalation.HistoryHours)

	cfg.Sweep.DDoSSchedule = getEnv("VIGIL_SWEEP_DDOS_SCHEDULE", cfg.Sweep.DDoSSchedule)
	cfg.Sweep.AbuseSchedule = getEnv("VIGIL_SWEEP_ABUSE_SCHEDULE", cfg.Sweep.AbuseSchedule)
	cfg.Sweep.PurgeSchedule = getEnv("VIGIL_SWEEP_PURGE_SCHEDULE", cfg.Sweep.PurgeSchedule)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
