package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Duration wraps time.Duration so TOML string values like "10s" decode
// via encoding.TextUnmarshaler.
type Duration time.Duration

// UnmarshalText parses a duration string such as "10s" or "2m30s"
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration in time.Duration string form
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	App         AppConfig       `toml:"app"`
	Vision      VisionConfig    `toml:"vision"`
	Resolver    ResolverConfig  `toml:"resolver"`
	Assets      AssetsConfig    `toml:"assets"`
	Cache       CacheConfig     `toml:"cache"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Logging     LoggingConfig   `toml:"logging"`
}

// AppConfig identifies the remote understanding application
type AppConfig struct {
	AppID         string `toml:"app_id" validate:"required"`        // Remote application ID
	Authorization string `toml:"authorization" validate:"required"` // Opaque auth token, sent as a request header
}

// VisionProvider represents the vision-understanding backend type
type VisionProvider string

const (
	// VisionProviderAppBuilder uses the AppBuilder conversation API (default)
	VisionProviderAppBuilder VisionProvider = "appbuilder"
	// VisionProviderGemini uses the Google Gemini API
	VisionProviderGemini VisionProvider = "gemini"
	// VisionProviderClaude uses the Anthropic Claude API
	VisionProviderClaude VisionProvider = "claude"
)

// VisionConfig contains configuration for the vision-understanding service
type VisionConfig struct {
	Provider   VisionProvider `toml:"provider" validate:"oneof=appbuilder gemini claude"`
	BaseURL    string         `toml:"base_url"`                     // Override for tests; empty = production endpoint
	RetryCount int            `toml:"retry_count" validate:"gte=0"` // Retry attempts on transient failures
	RetryDelay Duration       `toml:"retry_delay"`                  // Fixed wait between retries
	Timeout    Duration       `toml:"timeout"`                      // Per-request HTTP timeout
	RateLimit  int            `toml:"rate_limit" validate:"gte=0"`  // Max requests per second (0 = unlimited)
	Gemini     GeminiConfig   `toml:"gemini"`
	Claude     ClaudeConfig   `toml:"claude"`
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey string `toml:"api_key"` // Google Gemini API key
	Model  string `toml:"model"`   // Model for vision operations (default: "gemini-3-flash-preview")
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey    string `toml:"api_key"`    // Anthropic API key
	Model     string `toml:"model"`      // Model for vision operations (default: "claude-haiku-3-5-20241022")
	MaxTokens int    `toml:"max_tokens"` // Maximum tokens in response (default: 2048)
}

// ResolverConfig contains content-resolution behavior configuration
type ResolverConfig struct {
	ImageLinksPath   []string `toml:"image_links_path"`             // Path to the index->URL mapping (default: page_info -> image_links)
	ContentTextPath  []string `toml:"content_text_path"`            // Path to the free-text field holding {{index}} markers
	MinSizeKB        int      `toml:"min_size_kb" validate:"gte=0"` // Assets below this size skip the remote call
	ValidResponseKey string   `toml:"valid_response_key"`           // Key in the fenced JSON block gating substitution ("" = always valid)
	ExcludedKeys     []string `toml:"excluded_keys"`                // Map keys whose subtrees are never traversed
	ReferencePattern string   `toml:"reference_pattern"`            // Regexp classifying image references (strict mode)
	MaxDepth         int      `toml:"max_depth" validate:"gt=0"`    // Maximum traversal depth
	Query            string   `toml:"query"`                        // Instructional prompt sent with each asset
}

// AssetsConfig contains local asset staging configuration
type AssetsConfig struct {
	StagingDir      string   `toml:"staging_dir"`       // Directory for downloaded assets
	MaxDownloadSize int64    `toml:"max_download_size"` // Maximum asset size to download in bytes
	DownloadTimeout Duration `toml:"download_timeout"`  // HTTP timeout per asset download
	UserAgent       string   `toml:"user_agent"`        // User agent for asset downloads
}

// CacheConfig contains description cache configuration
type CacheConfig struct {
	Enabled  bool   `toml:"enabled"`   // Reuse cached descriptions keyed by asset content hash
	Path     string `toml:"path"`      // Badger database directory
	TTLHours int    `toml:"ttl_hours"` // Cached description freshness window
}

// SchedulerConfig contains watch-mode configuration
type SchedulerConfig struct {
	Enabled   bool   `toml:"enabled"`    // Run resolution on a cron schedule over InputDir
	Schedule  string `toml:"schedule"`   // Cron schedule format (with seconds)
	InputDir  string `toml:"input_dir"`  // Directory scanned for input documents
	OutputDir string `toml:"output_dir"` // Directory receiving resolved documents
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// DescribePrefix is prepended to every substituted answer in marker mode.
const DescribePrefix = "这是一张图片，通过markdown格式json语法代码块输出图片内容如下："

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in describo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Vision: VisionConfig{
			Provider:   VisionProviderAppBuilder,
			RetryCount: 3,
			RetryDelay: Duration(10 * time.Second),
			Timeout:    Duration(120 * time.Second),
			RateLimit:  0,
			Gemini: GeminiConfig{
				Model: "gemini-3-flash-preview",
			},
			Claude: ClaudeConfig{
				Model:     "claude-haiku-3-5-20241022",
				MaxTokens: 2048,
			},
		},
		Resolver: ResolverConfig{
			ImageLinksPath:  []string{"page_info", "image_links"},
			ContentTextPath: []string{"page_info", "content_text"},
			MinSizeKB:       30,
			MaxDepth:        5,
			Query:           "按照要求理解图片内容并且进行输出",
		},
		Assets: AssetsConfig{
			StagingDir:      "./images",
			MaxDownloadSize: 10 * 1024 * 1024, // 10MB
			DownloadTimeout: Duration(30 * time.Second),
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Cache: CacheConfig{
			Enabled:  false,
			Path:     "./data/cache",
			TTLHours: 24,
		},
		Scheduler: SchedulerConfig{
			Enabled:   false,
			Schedule:  "0 0 */6 * * *", // Every 6 hours (cron format with seconds)
			InputDir:  "./input",
			OutputDir: "./output",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files.
// Later files override earlier files; environment variables override all files.
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

// Validate checks the configuration against its struct tags plus
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch c.Vision.Provider {
	case VisionProviderGemini:
		if c.Vision.Gemini.APIKey == "" {
			return fmt.Errorf("vision.gemini.api_key is required for the gemini provider (set via DESCRIBO_GEMINI_API_KEY or config)")
		}
	case VisionProviderClaude:
		if c.Vision.Claude.APIKey == "" {
			return fmt.Errorf("vision.claude.api_key is required for the claude provider (set via DESCRIBO_CLAUDE_API_KEY or config)")
		}
	}

	if len(c.Resolver.ImageLinksPath) == 0 {
		return fmt.Errorf("resolver.image_links_path cannot be empty")
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DESCRIBO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// App configuration
	if appID := os.Getenv("DESCRIBO_APP_ID"); appID != "" {
		config.App.AppID = appID
	}
	if auth := os.Getenv("DESCRIBO_AUTHORIZATION"); auth != "" {
		config.App.Authorization = auth
	}

	// Vision configuration
	if provider := os.Getenv("DESCRIBO_VISION_PROVIDER"); provider != "" {
		config.Vision.Provider = VisionProvider(provider)
	}
	if baseURL := os.Getenv("DESCRIBO_VISION_BASE_URL"); baseURL != "" {
		config.Vision.BaseURL = baseURL
	}
	if retryCount := os.Getenv("DESCRIBO_VISION_RETRY_COUNT"); retryCount != "" {
		if rc, err := strconv.Atoi(retryCount); err == nil {
			config.Vision.RetryCount = rc
		}
	}
	if retryDelay := os.Getenv("DESCRIBO_VISION_RETRY_DELAY"); retryDelay != "" {
		if rd, err := time.ParseDuration(retryDelay); err == nil {
			config.Vision.RetryDelay = Duration(rd)
		}
	}
	if timeout := os.Getenv("DESCRIBO_VISION_TIMEOUT"); timeout != "" {
		if t, err := time.ParseDuration(timeout); err == nil {
			config.Vision.Timeout = Duration(t)
		}
	}
	if apiKey := os.Getenv("DESCRIBO_GEMINI_API_KEY"); apiKey != "" {
		config.Vision.Gemini.APIKey = apiKey
	}
	if apiKey := os.Getenv("DESCRIBO_CLAUDE_API_KEY"); apiKey != "" {
		config.Vision.Claude.APIKey = apiKey
	} else if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Vision.Claude.APIKey = apiKey
	}

	// Resolver configuration
	if minSize := os.Getenv("DESCRIBO_RESOLVER_MIN_SIZE_KB"); minSize != "" {
		if ms, err := strconv.Atoi(minSize); err == nil {
			config.Resolver.MinSizeKB = ms
		}
	}
	if validKey := os.Getenv("DESCRIBO_RESOLVER_VALID_RESPONSE_KEY"); validKey != "" {
		config.Resolver.ValidResponseKey = validKey
	}
	if pattern := os.Getenv("DESCRIBO_RESOLVER_REFERENCE_PATTERN"); pattern != "" {
		config.Resolver.ReferencePattern = pattern
	}
	if maxDepth := os.Getenv("DESCRIBO_RESOLVER_MAX_DEPTH"); maxDepth != "" {
		if md, err := strconv.Atoi(maxDepth); err == nil {
			config.Resolver.MaxDepth = md
		}
	}
	if excludedKeys := os.Getenv("DESCRIBO_RESOLVER_EXCLUDED_KEYS"); excludedKeys != "" {
		keys := []string{}
		for _, k := range strings.Split(excludedKeys, ",") {
			if trimmed := strings.TrimSpace(k); trimmed != "" {
				keys = append(keys, trimmed)
			}
		}
		if len(keys) > 0 {
			config.Resolver.ExcludedKeys = keys
		}
	}

	// Assets configuration
	if stagingDir := os.Getenv("DESCRIBO_ASSETS_STAGING_DIR"); stagingDir != "" {
		config.Assets.StagingDir = stagingDir
	}
	if downloadTimeout := os.Getenv("DESCRIBO_ASSETS_DOWNLOAD_TIMEOUT"); downloadTimeout != "" {
		if dt, err := time.ParseDuration(downloadTimeout); err == nil {
			config.Assets.DownloadTimeout = Duration(dt)
		}
	}

	// Cache configuration
	if enabled := os.Getenv("DESCRIBO_CACHE_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Cache.Enabled = e
		}
	}
	if path := os.Getenv("DESCRIBO_CACHE_PATH"); path != "" {
		config.Cache.Path = path
	}

	// Logging configuration
	if level := os.Getenv("DESCRIBO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("DESCRIBO_LOG_OUTPUT"); output != "" {
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
}
