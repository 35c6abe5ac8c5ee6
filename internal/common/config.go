package common

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production" - controls localhost URL validation
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Storage     StorageConfig   `toml:"storage"`
	Workers     WorkersConfig   `toml:"workers"`
	Services    ServicesConfig  `toml:"services"`
	Providers   ProvidersConfig `toml:"providers"`
	Artifacts   ArtifactsConfig `toml:"artifacts"`
	Policy      PolicyConfig    `toml:"policy"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"required,min=1,max=65535"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

// WorkersConfig controls the workflow worker pool and queue bounds
type WorkersConfig struct {
	Count             int               `toml:"count" validate:"min=0"`      // Worker goroutines; 0 = min(4, CPU cores)
	QueueSize         int               `toml:"queue_size" validate:"min=1"` // Bounded submission queue; overflow returns 429
	JobDeadline       string            `toml:"job_deadline"`                // Overall per-job deadline, e.g. "30m"
	HeartbeatInterval string            `toml:"heartbeat_interval"`          // Worker heartbeat stamp interval, e.g. "10s"
	StageDeadlines    map[string]string `toml:"stage_deadlines"`             // Optional per-stage deadline overrides
}

// ServicesConfig holds endpoints for the external model servers and stores
type ServicesConfig struct {
	Logic  EndpointConfig `toml:"logic"`
	Draft  EndpointConfig `toml:"draft"`
	Embed  EndpointConfig `toml:"embed"`
	Graph  GraphConfig    `toml:"graph"`
	Vector VectorConfig   `toml:"vector"`
}

// EndpointConfig is the common shape for an outbound HTTP dependency
type EndpointConfig struct {
	URL       string `toml:"url" validate:"required,url"`
	Timeout   string `toml:"timeout"`    // Per-request timeout, e.g. "60s"
	RateLimit int    `toml:"rate_limit"` // Requests per second; 0 = unlimited
}

type GraphConfig struct {
	URL       string `toml:"url" validate:"required,url"`
	Password  string `toml:"password"` // Registry credential, sent as bearer token
	Timeout   string `toml:"timeout"`
	RateLimit int    `toml:"rate_limit"`
}

type VectorConfig struct {
	URL        string `toml:"url" validate:"required,url"`
	Timeout    string `toml:"timeout"`
	RateLimit  int    `toml:"rate_limit"`
	Collection string `toml:"collection"`                    // Claim embedding collection name
	Dimension  int    `toml:"dimension" validate:"required"` // Embedding width; upserts with other widths are rejected
}

// ProvidersConfig selects the backing implementation for draft and embed calls.
// The default providers speak the plain JSON contract of the draft/embed
// servers; "anthropic" and "google" call the vendor APIs directly.
type ProvidersConfig struct {
	Draft              string `toml:"draft" validate:"oneof=draftserver anthropic"`
	AnthropicAPIKey    string `toml:"anthropic_api_key"`
	AnthropicModel     string `toml:"anthropic_model"`
	AnthropicMaxTokens int    `toml:"anthropic_max_tokens"`
	Embed              string `toml:"embed" validate:"oneof=embedserver google"`
	GoogleAPIKey       string `toml:"google_api_key"`
	GoogleEmbedModel   string `toml:"google_embed_model"`
	EmbedBatchSize     int    `toml:"embed_batch_size" validate:"min=1"` // Target texts per embed request
}

type ArtifactsConfig struct {
	Root string `toml:"root" validate:"required"` // Filesystem root for best-effort manifest copies
}

type PolicyConfig struct {
	Path         string `toml:"path"`                                                     // Tone policy YAML; empty = built-in defaults
	DefaultRigor string `toml:"default_rigor" validate:"oneof=exploratory conservative"` // Rigor for projects that do not set one
}

// SchedulerConfig controls background maintenance
type SchedulerConfig struct {
	Enabled          bool   `toml:"enabled"`
	StaleJobSchedule string `toml:"stale_job_schedule"` // Cron schedule for the stale-job reaper
	StaleJobTimeout  string `toml:"stale_job_timeout"`  // RUNNING without heartbeat beyond this fails the job
	GCSchedule       string `toml:"gc_schedule"`        // Cron schedule for Badger value-log GC
}

// NewDefaultConfig returns configuration defaults suitable for development
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "0.0.0.0",
		},
		Logging: LoggingConfig{
			Level:  "info",                     // Info level for production (debug|info|warn|error)
			Format: "text",                     // Human-readable text format (text|json)
			Output: []string{"stdout", "file"}, // Log to both console and file
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/scribo",
				ResetOnStartup: false,
			},
		},
		Workers: WorkersConfig{
			Count:             defaultWorkerCount(), // min(4, cores)
			QueueSize:         256,                  // Bounded FIFO; overflow returns ServiceBusy
			JobDeadline:       "30m",
			HeartbeatInterval: "10s",
		},
		Services: ServicesConfig{
			Logic:  EndpointConfig{URL: "http://localhost:9001", Timeout: "120s", RateLimit: 4},
			Draft:  EndpointConfig{URL: "http://localhost:9002", Timeout: "120s", RateLimit: 4},
			Embed:  EndpointConfig{URL: "http://localhost:9003", Timeout: "60s", RateLimit: 8},
			Graph:  GraphConfig{URL: "http://localhost:9004", Timeout: "30s", RateLimit: 16},
			Vector: VectorConfig{URL: "http://localhost:9005", Timeout: "30s", RateLimit: 16, Collection: "claim_embeddings", Dimension: 384},
		},
		Providers: ProvidersConfig{
			Draft:              "draftserver",
			AnthropicModel:     "claude-haiku-3-5-20241022",
			AnthropicMaxTokens: 8192,
			Embed:              "embedserver",
			GoogleEmbedModel:   "text-embedding-004",
			EmbedBatchSize:     32,
		},
		Artifacts: ArtifactsConfig{
			Root: "./data/artifacts",
		},
		Policy: PolicyConfig{
			Path:         "",            // Built-in policy unless a file is provided
			DefaultRigor: "exploratory", // Conservative must be opted into per project
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			StaleJobSchedule: "@every 1m",
			StaleJobTimeout:  "5m",
			GCSchedule:       "@every 10m",
		},
	}
}

func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files. Later files override
// earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SCRIBO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("SCRIBO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("SCRIBO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("SCRIBO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("SCRIBO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("SCRIBO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("SCRIBO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Worker configuration
	if count := os.Getenv("SCRIBO_WORKER_COUNT"); count != "" {
		if c, err := strconv.Atoi(count); err == nil {
			config.Workers.Count = c
		}
	}
	if queueSize := os.Getenv("SCRIBO_QUEUE_SIZE"); queueSize != "" {
		if q, err := strconv.Atoi(queueSize); err == nil {
			config.Workers.QueueSize = q
		}
	}
	if deadline := os.Getenv("SCRIBO_JOB_DEADLINE"); deadline != "" {
		config.Workers.JobDeadline = deadline
	}

	// External service endpoints
	if url := os.Getenv("SCRIBO_LOGIC_URL"); url != "" {
		config.Services.Logic.URL = url
	}
	if url := os.Getenv("SCRIBO_DRAFT_URL"); url != "" {
		config.Services.Draft.URL = url
	}
	if url := os.Getenv("SCRIBO_EMBED_URL"); url != "" {
		config.Services.Embed.URL = url
	}
	if url := os.Getenv("SCRIBO_GRAPH_URL"); url != "" {
		config.Services.Graph.URL = url
	}
	if password := os.Getenv("SCRIBO_GRAPH_PASSWORD"); password != "" {
		config.Services.Graph.Password = password
	}
	if url := os.Getenv("SCRIBO_VECTOR_URL"); url != "" {
		config.Services.Vector.URL = url
	}

	// Providers
	if provider := os.Getenv("SCRIBO_DRAFT_PROVIDER"); provider != "" {
		config.Providers.Draft = provider
	}
	if key := os.Getenv("SCRIBO_ANTHROPIC_API_KEY"); key != "" {
		config.Providers.AnthropicAPIKey = key
	} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Providers.AnthropicAPIKey = key
	}
	if provider := os.Getenv("SCRIBO_EMBED_PROVIDER"); provider != "" {
		config.Providers.Embed = provider
	}
	if key := os.Getenv("SCRIBO_GOOGLE_API_KEY"); key != "" {
		config.Providers.GoogleAPIKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Providers.GoogleAPIKey = key
	}

	// Artifacts and policy
	if root := os.Getenv("SCRIBO_ARTIFACT_ROOT"); root != "" {
		config.Artifacts.Root = root
	}
	if path := os.Getenv("SCRIBO_POLICY_PATH"); path != "" {
		config.Policy.Path = path
	}
	if rigor := os.Getenv("SCRIBO_DEFAULT_RIGOR"); rigor != "" {
		config.Policy.DefaultRigor = rigor
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks that the configuration is usable. A non-nil error here
// means the process should exit with the misconfiguration code.
func Validate(config *Config) error {
	v := validator.New()
	if err := v.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for name, raw := range map[string]string{
		"workers.job_deadline":        config.Workers.JobDeadline,
		"workers.heartbeat_interval":  config.Workers.HeartbeatInterval,
		"scheduler.stale_job_timeout": config.Scheduler.StaleJobTimeout,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	for stage, raw := range config.Workers.StageDeadlines {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid stage deadline for %s: %w", stage, err)
		}
	}

	for name, schedule := range map[string]string{
		"scheduler.stale_job_schedule": config.Scheduler.StaleJobSchedule,
		"scheduler.gc_schedule":        config.Scheduler.GCSchedule,
	} {
		if schedule == "" {
			continue
		}
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("invalid cron schedule for %s: %w", name, err)
		}
	}

	if config.Providers.Draft == "anthropic" && config.Providers.AnthropicAPIKey == "" {
		return fmt.Errorf("providers.draft is %q but no anthropic API key is configured", config.Providers.Draft)
	}
	if config.Providers.Embed == "google" && config.Providers.GoogleAPIKey == "" {
		return fmt.Errorf("providers.embed is %q but no google API key is configured", config.Providers.Embed)
	}

	if config.IsProduction() {
		for name, url := range map[string]string{
			"services.logic.url":  config.Services.Logic.URL,
			"services.draft.url":  config.Services.Draft.URL,
			"services.embed.url":  config.Services.Embed.URL,
			"services.graph.url":  config.Services.Graph.URL,
			"services.vector.url": config.Services.Vector.URL,
		} {
			if strings.Contains(url, "localhost") || strings.Contains(url, "127.0.0.1") {
				return fmt.Errorf("%s points at localhost in production", name)
			}
		}
	}

	return nil
}

// WorkerCount resolves the effective worker pool size
func (c *Config) WorkerCount() int {
	if c.Workers.Count > 0 {
		return c.Workers.Count
	}
	return defaultWorkerCount()
}

// JobDeadline resolves the overall per-job deadline
func (c *Config) JobDeadline() time.Duration {
	if d, err := time.ParseDuration(c.Workers.JobDeadline); err == nil && d > 0 {
		return d
	}
	return 30 * time.Minute
}

// HeartbeatInterval resolves the worker heartbeat stamp interval
func (c *Config) HeartbeatInterval() time.Duration {
	if d, err := time.ParseDuration(c.Workers.HeartbeatInterval); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}

// StageDeadline returns the configured deadline override for a stage, if any
func (c *Config) StageDeadline(stage string) (time.Duration, bool) {
	raw, ok := c.Workers.StageDeadlines[stage]
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// StaleJobTimeout resolves the reaper threshold for heartbeat-less RUNNING jobs
func (c *Config) StaleJobTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Scheduler.StaleJobTimeout); err == nil && d > 0 {
		return d
	}
	return 5 * time.Minute
}

// EndpointTimeout parses an endpoint timeout with a fallback
func EndpointTimeout(raw string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}
