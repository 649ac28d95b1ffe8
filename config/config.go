package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Scheduler SchedulerConfig
	Scanner   ScannerConfig
	Notify    NotifyConfig
	Archive   ArchiveConfig
	DBPath    string
	DBURL     string // Postgres; SQLite is used when empty
	LogLevel  string
	Stores    map[string]*StoreConfig
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ScannerConfig struct {
	DelayMS     int // default per-host politeness when a store sets none
	MaxRetries  int
	Concurrency int
	Timeout     time.Duration
}

type NotifyConfig struct {
	DiscordWebhookURL string
	AMQPURL           string
	AMQPExchange      string
}

type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// StoreStatus drives parser selection for stores we cannot scan yet:
// blocked stores keep their config around but always fail the scan with a
// structural reason instead of silently succeeding with nothing.
type StoreStatus string

const (
	StoreActive         StoreStatus = "active"
	StoreBlocked        StoreStatus = "blocked"
	StoreNotImplemented StoreStatus = "not_implemented"
)

type StoreConfig struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Handler     string            `yaml:"handler"`
	Status      StoreStatus       `yaml:"status"`
	BaseURL     string            `yaml:"base_url"`
	RateLimitMS int               `yaml:"rate_limit_ms"`
	Currency    string            `yaml:"currency"`
	Endpoints   map[string]string `yaml:"endpoints"`

	// ListsAvailableOnly marks stores whose listing pages carry only
	// purchasable items. Products absent from such a page are reported as
	// no-longer-listed, never inferred out-of-stock.
	ListsAvailableOnly bool `yaml:"lists_available_only"`

	Selectors    Selectors    `yaml:"selectors"`
	StockMarkers StockMarkers `yaml:"stock_markers"`
}

// Selectors configure the HTML collection parser.
type Selectors struct {
	Item  string `yaml:"item"`
	Name  string `yaml:"name"`
	Price string `yaml:"price"`
	URL   string `yaml:"url"`
}

// StockMarkers are lowercase substrings matched against an item's text to
// classify availability. No match on either list means unknown.
type StockMarkers struct {
	InStock    []string `yaml:"in_stock"`
	OutOfStock []string `yaml:"out_of_stock"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCAN_CRON"),
		},
		Scanner: ScannerConfig{
			DelayMS:     getEnvInt("SCAN_DELAY_MS", 1000),
			MaxRetries:  getEnvInt("SCAN_MAX_RETRIES", 3),
			Concurrency: getEnvInt("SCAN_CONCURRENCY", 4),
			Timeout:     2 * time.Minute,
		},
		Notify: NotifyConfig{
			DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
			AMQPURL:           os.Getenv("AMQP_URL"),
			AMQPExchange:      getEnv("AMQP_EXCHANGE", "stock.events"),
		},
		Archive: ArchiveConfig{
			Bucket:          os.Getenv("ARCHIVE_S3_BUCKET"),
			Region:          getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("ARCHIVE_S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("ARCHIVE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("ARCHIVE_S3_SECRET_ACCESS_KEY"),
		},
		DBPath:   getEnv("DB_PATH", "stockwatch.db"),
		DBURL:    os.Getenv("DATABASE_URL"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Stores:   make(map[string]*StoreConfig),
	}

	if interval := os.Getenv("SCAN_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}
	if timeout := os.Getenv("SCAN_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err == nil {
			cfg.Scanner.Timeout = d
		}
	}

	if err := cfg.loadStoreConfigs(getEnv("STORE_CONFIG_DIR", "config/stores")); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadStoreConfigs(configDir string) error {
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var store StoreConfig
		if err := yaml.Unmarshal(data, &store); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if store.ID == "" {
			return fmt.Errorf("%s: store config missing id", path)
		}
		if store.Status == "" {
			store.Status = StoreActive
		}

		c.Stores[store.ID] = &store
	}

	return nil
}

// StoreIDs lists every configured store, including blocked ones;
// blocked stores surface as scan failures rather than being skipped.
func (c *Config) StoreIDs() []string {
	ids := make([]string, 0, len(c.Stores))
	for id := range c.Stores {
		ids = append(ids, id)
	}
	return ids
}

// RateLimit returns the per-host politeness interval for a store.
func (s *StoreConfig) RateLimit(fallbackMS int) time.Duration {
	ms := s.RateLimitMS
	if ms <= 0 {
		ms = fallbackMS
	}
	return time.Duration(ms) * time.Millisecond
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
