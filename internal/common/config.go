package common

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/interfaces"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Uploads     UploadsConfig    `toml:"uploads"`
	Processing  ProcessingConfig `toml:"processing"`
	Scoring     ScoringConfig    `toml:"scoring"`
	Chat        ChatConfig       `toml:"chat"`
	Logging     LoggingConfig    `toml:"logging"`
	WebSocket   WebSocketConfig  `toml:"websocket"`
	Retention   RetentionConfig  `toml:"retention"`
	Gemini      GeminiConfig     `toml:"gemini"`
	Claude      ClaudeConfig     `toml:"claude"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig locates the embedded BadgerDB store
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory
	ResetOnStartup bool   `toml:"reset_on_startup"` // Wipe the directory before opening (clean test runs)
}

type FilesystemConfig struct {
	Uploads string `toml:"uploads"` // Root directory for uploaded documents
	Outputs string `toml:"outputs"` // Root directory for per-session artifacts (chunks, index, analysis)
}

// UploadsConfig bounds what the upload endpoints accept
type UploadsConfig struct {
	MaxFileSize       int64    `toml:"max_file_size"`      // Maximum upload size in bytes
	AllowedExtensions []string `toml:"allowed_extensions"` // Lowercase extensions including the dot
}

// ProcessingConfig contains chunking and embedding pipeline settings
type ProcessingConfig struct {
	MaxChunkSize   int    `toml:"max_chunk_size"`   // Maximum chunk size in characters
	MinChunkSize   int    `toml:"min_chunk_size"`   // Chunks below this are merged forward
	ChunkOverlap   int    `toml:"chunk_overlap"`    // Character overlap between consecutive chunks
	EmbedModel     string `toml:"embed_model"`      // Gemini embedding model name
	EmbedDimension int    `toml:"embed_dimension"`  // Output dimensionality requested from the API
	EmbedBatchSize int    `toml:"embed_batch_size"` // Chunks per embedding request
	EmbedRetries   int    `toml:"embed_retries"`    // Retries per failed embedding batch
}

// ScoringConfig contains compliance evaluation settings
type ScoringConfig struct {
	EvidenceTopK        int     `toml:"evidence_top_k"`       // Vendor chunks retrieved per requirement
	JudgmentRetries     int     `toml:"judgment_retries"`     // Retries per failed judgment call
	MandatoryMultiplier float64 `toml:"mandatory_multiplier"` // Weight multiplier for mandatory requirements
	MinMandatoryScore   float64 `toml:"min_mandatory_score"`  // Mandatory score below this disqualifies the vendor
	StrengthThreshold   float64 `toml:"strength_threshold"`   // Requirement scores at or above this are strengths
	WeaknessThreshold   float64 `toml:"weakness_threshold"`   // Requirement scores below this are weaknesses
	CriteriaFile        string  `toml:"criteria_file"`        // Optional YAML file with categories and weights
}

// ChatConfig contains retrieval-augmented chat settings
type ChatConfig struct {
	TopK        int     `toml:"top_k"`       // Context chunks retrieved per query
	Temperature float32 `toml:"temperature"` // Completion temperature for answers
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in the answer
}

type LoggingConfig struct {
	Level         string   `toml:"level"`           // debug, info, warn, error
	Format        string   `toml:"format"`          // json or text
	Output        []string `toml:"output"`          // any of stdout, file
	ClientDebug   bool     `toml:"client_debug"`    // Emit browser console logging from served pages
	MinEventLevel string   `toml:"min_event_level"` // Lowest level forwarded to the UI event stream
}

// WebSocketConfig filters what the log/event stream pushes to browsers
type WebSocketConfig struct {
	MinLevel        string   `toml:"min_level"`        // Lowest log level broadcast to clients
	ExcludePatterns []string `toml:"exclude_patterns"` // Substrings that suppress a log entry
	// Event types permitted on the socket. Empty means everything.
	AllowedEvents []string `toml:"allowed_events"`
	// Per event type minimum interval between broadcasts, as duration strings.
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

// RetentionConfig controls expiry of idle sessions and their artifacts
type RetentionConfig struct {
	Enabled  bool   `toml:"enabled"`  // Run the cleanup scheduler
	Schedule string `toml:"schedule"` // Cron schedule (5-field)
	MaxAge   string `toml:"max_age"`  // Duration string; sessions idle longer than this are purged
}

// GeminiConfig holds credentials and limits for the embedding provider
type GeminiConfig struct {
	APIKey    string `toml:"api_key"`    // Falls back to GOOGLE_API_KEY
	Timeout   string `toml:"timeout"`    // Per-operation timeout as a duration string
	RateLimit string `toml:"rate_limit"` // Minimum interval between embedding requests
}

// ClaudeConfig holds credentials and limits for the completion provider
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Falls back to ANTHROPIC_API_KEY
	Model       string  `toml:"model"`       // Model for extraction, judgment, and chat
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens per response
	Timeout     string  `toml:"timeout"`     // Per-operation timeout as a duration string
	Temperature float32 `toml:"temperature"` // Completion temperature
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in aestimo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
			Filesystem: FilesystemConfig{
				Uploads: "./data/uploads",
				Outputs: "./data/outputs",
			},
		},
		Uploads: UploadsConfig{
			MaxFileSize:       10 * 1024 * 1024, // 10MB
			AllowedExtensions: []string{".pdf", ".docx", ".txt", ".md", ".html"},
		},
		Processing: ProcessingConfig{
			MaxChunkSize:   4096,
			MinChunkSize:   2048,
			ChunkOverlap:   256,
			EmbedModel:     "gemini-embedding-001",
			EmbedDimension: 768,
			EmbedBatchSize: 100,
			EmbedRetries:   3,
		},
		Scoring: ScoringConfig{
			EvidenceTopK:        5,
			JudgmentRetries:     2,
			MandatoryMultiplier: 1.5,
			MinMandatoryScore:   0.5,
			StrengthThreshold:   0.75,
			WeaknessThreshold:   0.5,
			CriteriaFile:        "", // Built-in categories and weights unless overridden
		},
		Chat: ChatConfig{
			TopK:        5,
			Temperature: 0.1,
			MaxTokens:   1500,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "text",
			Output:        []string{"stdout", "file"},
			MinEventLevel: "info",
		},
		WebSocket: WebSocketConfig{
			MinLevel: "info",
			ExcludePatterns: []string{
				"WebSocket client connected",
				"WebSocket client disconnected",
				"HTTP request",
			},
			AllowedEvents: []string{}, // empty allows all
			// Processing emits progress on every chunk batch; cap the push rate
			ThrottleIntervals: map[string]string{
				"processing_progress": "500ms",
			},
		},
		Retention: RetentionConfig{
			Enabled:  false, // opt-in
			Schedule: "0 */6 * * *",
			MaxAge:   "720h", // 30 days
		},
		Gemini: GeminiConfig{
			APIKey:    "",
			Timeout:   "2m",
			RateLimit: "1s",
		},
		Claude: ClaudeConfig{
			APIKey:      "",
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   4096,
			Timeout:     "5m",
			Temperature: 0, // deterministic extraction and judgments
		},
	}
}

// LoadFromFiles builds the effective configuration. Sources merge in priority
// order: built-in defaults, then each file in the order given, then {key-name}
// expansion from KV storage, then environment variables. Command-line flags
// are applied last by the caller via ApplyFlagOverrides.
// kvStorage may be nil, in which case expansion is skipped.
func LoadFromFiles(kvStorage interfaces.KeyValueStorage, paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := mergeFile(config, path); err != nil {
			return nil, err
		}
	}

	expandKeyReferences(config, kvStorage)
	applyEnvOverrides(config)

	return config, nil
}

func mergeFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// expandKeyReferences substitutes {key-name} placeholders from KV storage.
// Lookup failures leave the placeholders in place rather than failing startup.
func expandKeyReferences(config *Config, kvStorage interfaces.KeyValueStorage) {
	if kvStorage == nil {
		return
	}
	logger := arbor.NewLogger()
	kvMap, err := kvStorage.GetAll(context.Background())
	if err != nil {
		logger.Warn().Err(err).Msg("Key-value map unavailable, config references left unexpanded")
		return
	}
	if err := ReplaceInStruct(config, kvMap, logger); err != nil {
		logger.Warn().Err(err).Msg("Config key reference expansion failed")
	}
}

// envOverride applies set to the first non-empty environment variable in names.
func envOverride(set func(string), names ...string) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			set(v)
			return
		}
	}
}

func setString(dst *string) func(string) {
	return func(v string) { *dst = v }
}

func setInt(dst *int) func(string) {
	return func(v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64) func(string) {
	return func(v string) {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool) func(string) {
	return func(v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration stores the raw string only when it parses as a duration.
func setDuration(dst *string) func(string) {
	return func(v string) {
		if _, err := time.ParseDuration(v); err == nil {
			*dst = v
		}
	}
}

// setStringList splits a comma-separated value, dropping empty entries.
func setStringList(dst *[]string) func(string) {
	return func(v string) {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}

// applyEnvOverrides lets the environment override file values. Unparseable
// numeric or duration values are ignored, keeping whatever the files set.
func applyEnvOverrides(config *Config) {
	envOverride(setString(&config.Environment), "AESTIMO_ENV", "GO_ENV")

	envOverride(setInt(&config.Server.Port), "AESTIMO_SERVER_PORT")
	envOverride(setString(&config.Server.Host), "AESTIMO_SERVER_HOST")

	envOverride(setString(&config.Storage.Badger.Path), "AESTIMO_BADGER_PATH")
	envOverride(setString(&config.Storage.Filesystem.Uploads), "AESTIMO_UPLOADS_DIR")
	envOverride(setString(&config.Storage.Filesystem.Outputs), "AESTIMO_OUTPUTS_DIR")
	envOverride(setInt64(&config.Uploads.MaxFileSize), "AESTIMO_UPLOADS_MAX_FILE_SIZE")

	envOverride(setString(&config.Logging.Level), "AESTIMO_LOG_LEVEL")
	envOverride(setString(&config.Logging.Format), "AESTIMO_LOG_FORMAT")
	envOverride(setStringList(&config.Logging.Output), "AESTIMO_LOG_OUTPUT")
	envOverride(setString(&config.Logging.MinEventLevel), "AESTIMO_LOG_MIN_EVENT_LEVEL")

	envOverride(setInt(&config.Processing.MaxChunkSize), "AESTIMO_PROCESSING_MAX_CHUNK_SIZE")
	envOverride(setString(&config.Processing.EmbedModel), "AESTIMO_PROCESSING_EMBED_MODEL")
	envOverride(setInt(&config.Processing.EmbedDimension), "AESTIMO_PROCESSING_EMBED_DIMENSION")

	envOverride(setBool(&config.Retention.Enabled), "AESTIMO_RETENTION_ENABLED")
	envOverride(setString(&config.Retention.Schedule), "AESTIMO_RETENTION_SCHEDULE")
	envOverride(setDuration(&config.Retention.MaxAge), "AESTIMO_RETENTION_MAX_AGE")

	envOverride(setString(&config.Gemini.APIKey), "AESTIMO_GEMINI_API_KEY", "GOOGLE_API_KEY")
	envOverride(setDuration(&config.Gemini.Timeout), "AESTIMO_GEMINI_TIMEOUT")

	envOverride(setString(&config.Claude.APIKey), "AESTIMO_CLAUDE_API_KEY", "ANTHROPIC_API_KEY")
	envOverride(setString(&config.Claude.Model), "AESTIMO_CLAUDE_MODEL")
	envOverride(setInt(&config.Claude.MaxTokens), "AESTIMO_CLAUDE_MAX_TOKENS")
	envOverride(setDuration(&config.Claude.Timeout), "AESTIMO_CLAUDE_TIMEOUT")
}

// ApplyFlagOverrides applies command-line flag overrides to config.
// Flags beat every other source; zero values mean the flag was not set.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// envVarsForKey maps logical credential names to the environment variables
// that may supply them, in priority order. The application-specific variable
// beats the provider's conventional one.
var envVarsForKey = map[string][]string{
	"gemini_api_key":    {"AESTIMO_GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"google_api_key":    {"AESTIMO_GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"anthropic_api_key": {"AESTIMO_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
	"claude_api_key":    {"AESTIMO_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
}

// ResolveAPIKey looks up a provider credential by logical name. Environment
// variables win over KV storage entries, which win over the config file value.
func ResolveAPIKey(ctx context.Context, kvStorage interfaces.KeyValueStorage, name string, configFallback string) (string, error) {
	for _, envName := range envVarsForKey[name] {
		if v := os.Getenv(envName); v != "" {
			return v, nil
		}
	}

	if kvStorage != nil {
		if v, err := kvStorage.Get(ctx, name); err == nil && v != "" {
			return v, nil
		}
	}

	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("API key %q not set in environment, KV storage, or config", name)
}

// ValidateRetentionSchedule checks that schedule is a standard 5-field cron
// expression firing no more often than every five minutes.
func ValidateRetentionSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	fields := strings.Fields(schedule)
	if len(fields) != 5 {
		return fmt.Errorf("expected 5 cron fields, got %d", len(fields))
	}

	minute := fields[0]
	if minute == "*" {
		return fmt.Errorf("cleanup may run at most every 5 minutes")
	}
	if rest, ok := strings.CutPrefix(minute, "*/"); ok {
		if n, err := strconv.Atoi(rest); err == nil && n < 5 {
			return fmt.Errorf("cleanup interval %d minutes is below the 5 minute floor", n)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
