// Package config provides hierarchical configuration loading for the copilot.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the copilot orchestration service.
type Config struct {
	Server       Server             `yaml:"server"`
	LiteLLM      LiteLLM            `yaml:"litellm"`
	Logging      Logging            `yaml:"logging"`
	Breaker      Breaker            `yaml:"breaker"`
	NATS         NATS               `yaml:"nats"`
	OTEL         OTEL               `yaml:"otel"`
	MCP          MCP                `yaml:"mcp"`
	Orchestrator Orchestrator       `yaml:"orchestrator"`
	PlanCache    PlanCache          `yaml:"plan_cache"`
	ContextStore ContextStore       `yaml:"context_store"`
	Executors    []ExecutorEndpoint `yaml:"executors"`
}

// Orchestrator holds request planning and execution configuration.
type Orchestrator struct {
	MaxParallel            int           `yaml:"max_parallel"`             // Max concurrent tasks within one request (default: 4)
	MaxConcurrentExecutors int           `yaml:"max_concurrent_executors"` // Max concurrent executor calls across all requests (default: 16)
	CollaborativeMaxRounds int           `yaml:"collaborative_max_rounds"` // Upper bound on refinement rounds (default: 3)
	HistoryWindow          int           `yaml:"history_window"`           // Messages included in the planning prompt (default: 10)
	ResultsWindow          int           `yaml:"results_window"`           // Executor results retained per conversation (default: 20)
	RequestTimeout         time.Duration `yaml:"request_timeout"`          // Whole-request deadline (default: 5m)
	PlanningModel          string        `yaml:"planning_model"`           // Model for plan classification
	PlanningMaxTokens      int           `yaml:"planning_max_tokens"`      // Max tokens for the plan response (default: 1024)
	SynthesisModel         string        `yaml:"synthesis_model"`          // Model for merging executor outputs
	SynthesisMaxTokens     int           `yaml:"synthesis_max_tokens"`     // Max tokens for the synthesis response (default: 4096)
}

// PlanCache holds plan cache sizing configuration.
type PlanCache struct {
	Enabled    bool          `yaml:"enabled"`
	MaxSizeMB  int64         `yaml:"max_size_mb"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int64         `yaml:"max_entries"`
	Shared     bool          `yaml:"shared"` // Back the in-process cache with a NATS KV bucket shared by replicas
	Bucket     string        `yaml:"bucket"` // NATS KV bucket name (default: copilot_plans)
}

// ContextStore holds conversation state retention configuration.
type ContextStore struct {
	MaxConversations int           `yaml:"max_conversations"`
	TTL              time.Duration `yaml:"ttl"`
	MaxEvents        int           `yaml:"max_events"`
}

// ExecutorEndpoint binds an executor category to a remote HTTP implementation.
type ExecutorEndpoint struct {
	Category string        `yaml:"category"`
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port             string  `yaml:"port"`
	CORSOrigin       string  `yaml:"cors_origin"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps"`     // Sustained request submissions per client per second
	RateLimitBurst   int     `yaml:"rate_limit_burst"`   // Burst allowance per client
	MaxMessageLength int     `yaml:"max_message_length"` // Longest accepted user message in bytes
}

// NATS holds NATS JetStream configuration. An empty URL disables publishing.
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// LiteLLM holds LiteLLM proxy configuration.
type LiteLLM struct {
	URL       string        `yaml:"url"`
	MasterKey string        `yaml:"master_key"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// OTEL holds OpenTelemetry exporter configuration.
type OTEL struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// MCP holds Model Context Protocol server configuration.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`    // Standalone listener; empty mounts /mcp on the API server only
	APIKey  string `yaml:"api_key"` // Empty disables authentication
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:             "8080",
			CORSOrigin:       "http://localhost:3000",
			RateLimitRPS:     2,
			RateLimitBurst:   10,
			MaxMessageLength: 16000,
		},
		LiteLLM: LiteLLM{
			URL:     "http://localhost:4000",
			Timeout: 60 * time.Second,
		},
		Logging: Logging{
			Level:   "info",
			Service: "copilot-orchestrator",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		NATS: NATS{
			Subject: "copilot.events",
		},
		OTEL: OTEL{
			Endpoint:    "localhost:4317",
			ServiceName: "copilot-orchestrator",
			Insecure:    true,
			SampleRate:  1.0,
		},
		MCP: MCP{
			Enabled: true,
		},
		Orchestrator: Orchestrator{
			MaxParallel:            4,
			MaxConcurrentExecutors: 16,
			CollaborativeMaxRounds: 3,
			HistoryWindow:          10,
			ResultsWindow:          20,
			RequestTimeout:         5 * time.Minute,
			PlanningModel:          "openai/gpt-4o-mini",
			PlanningMaxTokens:      1024,
			SynthesisModel:         "openai/gpt-4o-mini",
			SynthesisMaxTokens:     4096,
		},
		PlanCache: PlanCache{
			Enabled:    true,
			MaxSizeMB:  16,
			TTL:        30 * time.Minute,
			MaxEntries: 1000,
			Bucket:     "copilot_plans",
		},
		ContextStore: ContextStore{
			MaxConversations: 10000,
			TTL:              2 * time.Hour,
			MaxEvents:        1000,
		},
	}
}
