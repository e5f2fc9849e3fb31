// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Components depend on this rather than the concrete struct so tests can hand
// them trimmed-down values.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Extraction() ExtractionConfig
	Submission() SubmissionConfig
	Captcha() CaptchaConfig
	Cache() CacheConfig
	Database() DatabaseConfig

	SetBrowserHeadless(bool)
	SetBrowserRemoteURL(string)
	SetExtractionMapDependencies(bool)
	SetCaptchaAPIKey(string)
}

// Config holds the entire application configuration. The exported fields exist
// so viper can decode into them; callers read through the getters.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	NetworkCfg    NetworkConfig    `mapstructure:"network" yaml:"network"`
	ExtractionCfg ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	SubmissionCfg SubmissionConfig `mapstructure:"submission" yaml:"submission"`
	CaptchaCfg    CaptchaConfig    `mapstructure:"captcha" yaml:"captcha"`
	CacheCfg      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
}

// --- Getters ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig       { return c.NetworkCfg }
func (c *Config) Extraction() ExtractionConfig { return c.ExtractionCfg }
func (c *Config) Submission() SubmissionConfig { return c.SubmissionCfg }
func (c *Config) Captcha() CaptchaConfig       { return c.CaptchaCfg }
func (c *Config) Cache() CacheConfig           { return c.CacheCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }

// --- Setters (CLI flag overrides) ---

func (c *Config) SetBrowserHeadless(b bool)           { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserRemoteURL(u string)        { c.BrowserCfg.RemoteURL = u }
func (c *Config) SetExtractionMapDependencies(b bool) { c.ExtractionCfg.MapDependencies = b }
func (c *Config) SetCaptchaAPIKey(k string)           { c.CaptchaCfg.APIKey = k }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to color names for the console encoder.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the browser sessions.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// RemoteURL points at an already running browser's devtools websocket.
	// When set no local browser process is launched.
	RemoteURL       string         `mapstructure:"remote_url" yaml:"remote_url"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Concurrency     int            `mapstructure:"concurrency" yaml:"concurrency"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	Stealth         bool           `mapstructure:"stealth" yaml:"stealth"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Locale          string         `mapstructure:"locale" yaml:"locale"`
	Timezone        string         `mapstructure:"timezone" yaml:"timezone"`
	Humanoid        HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// HumanoidConfig tunes the typing cadence used when filling text fields.
type HumanoidConfig struct {
	Enabled          bool    `mapstructure:"enabled" yaml:"enabled"`
	KeyHoldMeanMs    float64 `mapstructure:"key_hold_mean_ms" yaml:"key_hold_mean_ms"`
	KeyHoldStdDevMs  float64 `mapstructure:"key_hold_std_dev_ms" yaml:"key_hold_std_dev_ms"`
	BurstMinChars    int     `mapstructure:"burst_min_chars" yaml:"burst_min_chars"`
	BurstMaxChars    int     `mapstructure:"burst_max_chars" yaml:"burst_max_chars"`
	BurstPauseMeanMs float64 `mapstructure:"burst_pause_mean_ms" yaml:"burst_pause_mean_ms"`
	WordPauseMeanMs  float64 `mapstructure:"word_pause_mean_ms" yaml:"word_pause_mean_ms"`
}

// NetworkConfig bounds every navigation and load wait.
type NetworkConfig struct {
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	NetworkIdleTimeout time.Duration `mapstructure:"network_idle_timeout" yaml:"network_idle_timeout"`
	PostLoadWait       time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// ExtractionConfig configures the strategy chain.
type ExtractionConfig struct {
	ProviderDomains     []string      `mapstructure:"provider_domains" yaml:"provider_domains"`
	WizardMaxSteps      int           `mapstructure:"wizard_max_steps" yaml:"wizard_max_steps"`
	SettleWait          time.Duration `mapstructure:"settle_wait" yaml:"settle_wait"`
	MapDependencies     bool          `mapstructure:"map_dependencies" yaml:"map_dependencies"`
	ConditionalTriggers int           `mapstructure:"conditional_triggers" yaml:"conditional_triggers"`
	ConditionalOptions  int           `mapstructure:"conditional_options" yaml:"conditional_options"`
	SpecialFields       bool          `mapstructure:"special_fields" yaml:"special_fields"`
}

// SubmissionConfig configures the fill/verify/submit loop.
type SubmissionConfig struct {
	MaxFieldAttempts  int           `mapstructure:"max_field_attempts" yaml:"max_field_attempts"`
	SettleWait        time.Duration `mapstructure:"settle_wait" yaml:"settle_wait"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	SubmitAttempts    int           `mapstructure:"submit_attempts" yaml:"submit_attempts"`
	SubmitBackoff     time.Duration `mapstructure:"submit_backoff" yaml:"submit_backoff"`
	OutcomeWait       time.Duration `mapstructure:"outcome_wait" yaml:"outcome_wait"`
	HaltOnDynamic     bool          `mapstructure:"halt_on_dynamic" yaml:"halt_on_dynamic"`
	AutoConsent       bool          `mapstructure:"auto_consent" yaml:"auto_consent"`
	ConsentKeywords   []string      `mapstructure:"consent_keywords" yaml:"consent_keywords"`
	MarketingKeywords []string      `mapstructure:"marketing_keywords" yaml:"marketing_keywords"`
}

// CaptchaConfig configures the solve strategy selector.
type CaptchaConfig struct {
	APIKey          string        `mapstructure:"api_key" yaml:"-"`
	APIURL          string        `mapstructure:"api_url" yaml:"api_url"`
	AutoWaitTimeout time.Duration `mapstructure:"auto_wait_timeout" yaml:"auto_wait_timeout"`
	SolveTimeout    time.Duration `mapstructure:"solve_timeout" yaml:"solve_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// ProxyURL routes solve service calls through an HTTP proxy.
	ProxyURL        string        `mapstructure:"proxy_url" yaml:"proxy_url"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// CacheConfig configures the per-URL schema cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// DatabaseConfig points at the optional PostgreSQL history store. An empty
// URL disables it.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url" yaml:"-"`
	MaxConns       int32         `mapstructure:"max_conns" yaml:"max_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// NewDefaultConfig builds a Config from defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scalpel-forms")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.concurrency", 4)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "America/New_York")
	v.SetDefault("browser.viewport", map[string]int{"width": 1366, "height": 900})
	v.SetDefault("browser.humanoid.enabled", true)
	v.SetDefault("browser.humanoid.key_hold_mean_ms", 55.0)
	v.SetDefault("browser.humanoid.key_hold_std_dev_ms", 15.0)
	v.SetDefault("browser.humanoid.burst_min_chars", 3)
	v.SetDefault("browser.humanoid.burst_max_chars", 8)
	v.SetDefault("browser.humanoid.burst_pause_mean_ms", 140.0)
	v.SetDefault("browser.humanoid.word_pause_mean_ms", 220.0)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "60s")
	v.SetDefault("network.network_idle_timeout", "15s")
	v.SetDefault("network.post_load_wait", "2s")

	// -- Extraction --
	v.SetDefault("extraction.provider_domains", []string{"docs.google.com/forms", "forms.gle"})
	v.SetDefault("extraction.wizard_max_steps", 10)
	v.SetDefault("extraction.settle_wait", "500ms")
	v.SetDefault("extraction.map_dependencies", false)
	v.SetDefault("extraction.conditional_triggers", 10)
	v.SetDefault("extraction.conditional_options", 5)
	v.SetDefault("extraction.special_fields", true)

	// -- Submission --
	v.SetDefault("submission.max_field_attempts", 3)
	v.SetDefault("submission.settle_wait", "600ms")
	v.SetDefault("submission.retry_backoff", "300ms")
	v.SetDefault("submission.submit_attempts", 3)
	v.SetDefault("submission.submit_backoff", "500ms")
	v.SetDefault("submission.outcome_wait", "2s")
	v.SetDefault("submission.halt_on_dynamic", true)
	v.SetDefault("submission.auto_consent", true)
	v.SetDefault("submission.consent_keywords", []string{"terms", "privacy", "consent", "agree", "accept", "policy", "conditions", "gdpr"})
	v.SetDefault("submission.marketing_keywords", []string{"marketing", "newsletter", "subscribe", "promotional", "offers", "updates", "partners"})

	// -- Captcha --
	v.SetDefault("captcha.api_url", "https://2captcha.com")
	v.SetDefault("captcha.auto_wait_timeout", "15s")
	v.SetDefault("captcha.solve_timeout", "180s")
	v.SetDefault("captcha.poll_interval", "5s")
	v.SetDefault("captcha.request_timeout", "30s")
	v.SetDefault("captcha.proxy_url", "")
	v.SetDefault("captcha.ignore_tls_errors", false)

	// -- Cache --
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "30m")

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.connect_timeout", "10s")
}

// NewConfigFromViper decodes and validates configuration from a populated viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("captcha.api_key", "SCALPEL_FORMS_CAPTCHA_API_KEY")
	_ = v.BindEnv("database.url", "SCALPEL_FORMS_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.CaptchaCfg.APIKey == "" {
		cfg.CaptchaCfg.APIKey = os.Getenv("SCALPEL_FORMS_CAPTCHA_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.Concurrency <= 0 {
		return fmt.Errorf("browser.concurrency must be a positive integer")
	}
	if c.NetworkCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be positive")
	}
	if c.SubmissionCfg.MaxFieldAttempts < 1 || c.SubmissionCfg.MaxFieldAttempts > 3 {
		return fmt.Errorf("submission.max_field_attempts must be between 1 and 3")
	}
	if c.SubmissionCfg.SubmitAttempts < 1 {
		return fmt.Errorf("submission.submit_attempts must be at least 1")
	}
	if c.ExtractionCfg.WizardMaxSteps < 1 {
		return fmt.Errorf("extraction.wizard_max_steps must be at least 1")
	}
	if c.ExtractionCfg.ConditionalTriggers < 0 {
		return fmt.Errorf("extraction.conditional_triggers cannot be negative")
	}
	if c.CaptchaCfg.APIKey != "" && c.CaptchaCfg.APIURL == "" {
		return fmt.Errorf("captcha.api_url is required when an api key is configured")
	}
	if p := c.CaptchaCfg.ProxyURL; p != "" {
		if u, err := url.Parse(p); err != nil || u.Host == "" {
			return fmt.Errorf("captcha.proxy_url %q is not a valid url", p)
		}
	}
	if c.DatabaseCfg.URL != "" && c.DatabaseCfg.MaxConns < 1 {
		return fmt.Errorf("database.max_conns must be at least 1")
	}
	return nil
}
