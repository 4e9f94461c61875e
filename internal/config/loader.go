package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "copilot.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("COPILOT_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "COPILOT_PORT")
	setString(&cfg.Server.CORSOrigin, "COPILOT_CORS_ORIGIN")
	setFloat64(&cfg.Server.RateLimitRPS, "COPILOT_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "COPILOT_RATE_LIMIT_BURST")
	setInt(&cfg.Server.MaxMessageLength, "COPILOT_MAX_MESSAGE_LENGTH")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setDuration(&cfg.LiteLLM.Timeout, "COPILOT_LITELLM_TIMEOUT")
	setString(&cfg.Logging.Level, "COPILOT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "COPILOT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "COPILOT_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "COPILOT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "COPILOT_BREAKER_TIMEOUT")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Subject, "COPILOT_NATS_SUBJECT")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "COPILOT_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "COPILOT_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "COPILOT_OTEL_SAMPLE_RATE")

	// MCP
	setBool(&cfg.MCP.Enabled, "COPILOT_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "COPILOT_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "COPILOT_MCP_API_KEY")

	// Orchestrator
	setInt(&cfg.Orchestrator.MaxParallel, "COPILOT_ORCH_MAX_PARALLEL")
	setInt(&cfg.Orchestrator.MaxConcurrentExecutors, "COPILOT_ORCH_MAX_CONCURRENT_EXECUTORS")
	setInt(&cfg.Orchestrator.CollaborativeMaxRounds, "COPILOT_ORCH_COLLABORATIVE_MAX_ROUNDS")
	setInt(&cfg.Orchestrator.HistoryWindow, "COPILOT_ORCH_HISTORY_WINDOW")
	setInt(&cfg.Orchestrator.ResultsWindow, "COPILOT_ORCH_RESULTS_WINDOW")
	setDuration(&cfg.Orchestrator.RequestTimeout, "COPILOT_ORCH_REQUEST_TIMEOUT")
	setString(&cfg.Orchestrator.PlanningModel, "COPILOT_ORCH_PLANNING_MODEL")
	setInt(&cfg.Orchestrator.PlanningMaxTokens, "COPILOT_ORCH_PLANNING_MAX_TOKENS")
	setString(&cfg.Orchestrator.SynthesisModel, "COPILOT_ORCH_SYNTHESIS_MODEL")
	setInt(&cfg.Orchestrator.SynthesisMaxTokens, "COPILOT_ORCH_SYNTHESIS_MAX_TOKENS")

	// Plan cache
	setBool(&cfg.PlanCache.Enabled, "COPILOT_PLAN_CACHE_ENABLED")
	setInt64(&cfg.PlanCache.MaxSizeMB, "COPILOT_PLAN_CACHE_SIZE_MB")
	setDuration(&cfg.PlanCache.TTL, "COPILOT_PLAN_CACHE_TTL")
	setInt64(&cfg.PlanCache.MaxEntries, "COPILOT_PLAN_CACHE_MAX_ENTRIES")
	setBool(&cfg.PlanCache.Shared, "COPILOT_PLAN_CACHE_SHARED")
	setString(&cfg.PlanCache.Bucket, "COPILOT_PLAN_CACHE_BUCKET")

	// Context store
	setInt(&cfg.ContextStore.MaxConversations, "COPILOT_CONTEXT_MAX_CONVERSATIONS")
	setDuration(&cfg.ContextStore.TTL, "COPILOT_CONTEXT_TTL")
	setInt(&cfg.ContextStore.MaxEvents, "COPILOT_CONTEXT_MAX_EVENTS")

	// Executors: COPILOT_EXECUTORS="compliance=http://host:9001/process,cost_management=http://host:9002/process"
	if v := os.Getenv("COPILOT_EXECUTORS"); v != "" {
		cfg.Executors = parseExecutorList(v)
	}
}

// parseExecutorList parses a comma-separated category=url list.
// Malformed pairs are ignored.
func parseExecutorList(s string) []ExecutorEndpoint {
	var out []ExecutorEndpoint
	for _, pair := range strings.Split(s, ",") {
		category, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || category == "" || url == "" {
			continue
		}
		out = append(out, ExecutorEndpoint{Category: strings.TrimSpace(category), URL: strings.TrimSpace(url)})
	}
	return out
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.MaxMessageLength < 1 {
		return errors.New("server.max_message_length must be >= 1")
	}
	if cfg.Server.RateLimitRPS > 0 && cfg.Server.RateLimitBurst < 1 {
		return errors.New("server.rate_limit_burst must be >= 1 when rate limiting is enabled")
	}
	if cfg.LiteLLM.URL == "" {
		return errors.New("litellm.url is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Orchestrator.MaxParallel < 1 {
		return errors.New("orchestrator.max_parallel must be >= 1")
	}
	if cfg.Orchestrator.MaxConcurrentExecutors < 1 {
		return errors.New("orchestrator.max_concurrent_executors must be >= 1")
	}
	if cfg.Orchestrator.CollaborativeMaxRounds < 1 {
		return errors.New("orchestrator.collaborative_max_rounds must be >= 1")
	}
	if cfg.Orchestrator.ResultsWindow < 1 {
		return errors.New("orchestrator.results_window must be >= 1")
	}
	if cfg.ContextStore.MaxConversations < 1 {
		return errors.New("context_store.max_conversations must be >= 1")
	}
	if cfg.PlanCache.Enabled && cfg.PlanCache.MaxSizeMB < 1 {
		return errors.New("plan_cache.max_size_mb must be >= 1 when the cache is enabled")
	}
	if cfg.PlanCache.Shared && cfg.PlanCache.Bucket == "" {
		return errors.New("plan_cache.bucket is required when the cache is shared")
	}
	for i, e := range cfg.Executors {
		if e.Category == "" || e.URL == "" {
			return fmt.Errorf("executors[%d]: category and url are required", i)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
