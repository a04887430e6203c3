package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"offerworker/pkg/errors"
)

// Scrape configuration types
const (
	TypeProduct       = "product"
	TypeCouponProduct = "coupon+product"
	TypeDeal          = "deal"
)

// ScrapeConfig describes one listing page to crawl. Configs are immutable
// per run and processed in file order.
type ScrapeConfig struct {
	Name      string            `yaml:"name"`
	URL       string            `yaml:"url"`
	Type      string            `yaml:"type"`
	MaxOffers int               `yaml:"max_offers"`
	Enabled   bool              `yaml:"enabled"`
	Category  string            `yaml:"category,omitempty"`
	Selectors map[string]string `yaml:"selectors,omitempty"`
}

// Validate checks one scrape configuration
func (s ScrapeConfig) Validate() error {
	if s.Name == "" {
		return errors.NewConfiguration("scrape config without a name", nil)
	}
	if s.URL == "" {
		return errors.NewConfiguration(fmt.Sprintf("scrape config %q has no url", s.Name), nil)
	}
	switch s.Type {
	case TypeProduct, TypeCouponProduct, TypeDeal:
	default:
		return errors.NewConfiguration(fmt.Sprintf("scrape config %q has unknown type %q", s.Name, s.Type), nil)
	}
	if s.MaxOffers <= 0 {
		return errors.NewConfiguration(fmt.Sprintf("scrape config %q needs max_offers > 0", s.Name), nil)
	}
	return nil
}

// Config represents the application configuration
type Config struct {
	// Identity
	AssociateTag string
	BaseURL      string

	// Storage
	DatabasePath string

	// Session
	SessionDir     string
	SessionAccount string
	SessionMaxAge  time.Duration

	// Scrape configs
	ScrapeConfigPath string

	// Re-offer policy
	ReofferAfter time.Duration

	// Browser and widget tuning
	PageLoadTimeout   time.Duration
	WidgetOpenTimeout time.Duration
	WidgetAttempts    int
	WidgetBackoff     time.Duration
	DetailAttempts    int

	// Pacing between navigations
	RatePerSecond float64
	RateBurst     int
	PacingMin     time.Duration
	PacingMax     time.Duration

	// Optional services
	MemcacheAddr    string
	ConfigCooldown  time.Duration
	RedisAddr       string
	RedisDB         int
	RedisStream     string
	RedisStreamMax  int

	// Run loop; zero means a single run
	RunInterval time.Duration

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	return &Config{
		AssociateTag:      getEnv("ASSOCIATE_TAG", ""),
		BaseURL:           getEnv("STORE_BASE_URL", "https://www.amazon.com.br"),
		DatabasePath:      getEnv("DATABASE_PATH", "offers.db"),
		SessionDir:        getEnv("SESSION_DIR", "./sessions"),
		SessionAccount:    getEnv("SESSION_ACCOUNT", "default"),
		SessionMaxAge:     getEnvDuration("SESSION_MAX_AGE_DAYS", 30*24*time.Hour, 24*time.Hour),
		ScrapeConfigPath:  getEnv("SCRAPE_CONFIG_PATH", "scrape_configs.yml"),
		ReofferAfter:      getEnvDuration("REOFFER_AFTER_DAYS", 5*24*time.Hour, 24*time.Hour),
		PageLoadTimeout:   getEnvDuration("PAGE_LOAD_TIMEOUT_SECONDS", 30*time.Second, time.Second),
		WidgetOpenTimeout: getEnvDuration("WIDGET_TIMEOUT_SECONDS", 8*time.Second, time.Second),
		WidgetAttempts:    getEnvInt("WIDGET_ATTEMPTS", 3),
		WidgetBackoff:     getEnvDuration("WIDGET_BACKOFF_SECONDS", 2*time.Second, time.Second),
		DetailAttempts:    getEnvInt("DETAIL_ATTEMPTS", 2),
		RatePerSecond:     getEnvFloat("RATE_PER_SECOND", 0.5),
		RateBurst:         getEnvInt("RATE_BURST", 1),
		PacingMin:         getEnvDuration("PACING_MIN_MS", 1500*time.Millisecond, time.Millisecond),
		PacingMax:         getEnvDuration("PACING_MAX_MS", 4*time.Second, time.Millisecond),
		MemcacheAddr:      getEnv("MEMCACHE_ADDR", ""),
		ConfigCooldown:    getEnvDuration("CONFIG_COOLDOWN_SECONDS", 0, time.Second),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RedisStream:       getEnv("REDIS_STREAM", "offers"),
		RedisStreamMax:    getEnvInt("REDIS_STREAM_MAXLEN", 500),
		RunInterval:       getEnvDuration("RUN_INTERVAL_MINUTES", 0, time.Minute),
		Environment:       getEnv("OFFERWORKER_ENVIRONMENT", "development"),
	}
}

// Validate checks the configuration for values that would make a run
// impossible. The associate tag is required before any navigation because
// the manual fallback link cannot be built without it.
func (c *Config) Validate() error {
	if c.AssociateTag == "" {
		return errors.NewConfiguration("ASSOCIATE_TAG is empty; the manual fallback link cannot be built without it", nil)
	}
	if c.DatabasePath == "" {
		return errors.NewConfiguration("DATABASE_PATH is empty", nil)
	}
	if c.WidgetAttempts < 1 {
		return errors.NewConfiguration("WIDGET_ATTEMPTS must be at least 1", nil)
	}
	if c.DetailAttempts < 1 {
		return errors.NewConfiguration("DETAIL_ATTEMPTS must be at least 1", nil)
	}
	if c.PacingMax < c.PacingMin {
		return errors.NewConfiguration("PACING_MAX_MS must not be below PACING_MIN_MS", nil)
	}
	return nil
}

// LoadScrapeConfigs reads the ordered list of listing configurations
func LoadScrapeConfigs(path string) ([]ScrapeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfiguration(fmt.Sprintf("cannot read scrape configs %q", path), err)
	}

	var file struct {
		Configs []ScrapeConfig `yaml:"scrape_configs"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.NewConfiguration(fmt.Sprintf("cannot parse scrape configs %q", path), err)
	}

	for _, sc := range file.Configs {
		if err := sc.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Configs, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue, unit time.Duration) time.Duration {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return time.Duration(v) * unit
	}
	return defaultValue
}
