package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all tunables and secrets, loaded once at startup.
type Config struct {
	// Store
	MongoURI string

	// Upstream endpoints
	TradeFeedBaseURL       string
	MarketServiceBaseURL   string
	TaxonomyServiceBaseURL string
	ChatAPIBaseURL         string
	ChatBotToken           string

	// Orchestrator
	PollInterval         time.Duration
	MaxTradesPerPoll     int
	GlobalMinNotionalUSD float64
	FilterReloadInterval time.Duration

	// TTLs
	SeenHashTTL time.Duration
	MarketTTL   time.Duration
	TaxonomyTTL time.Duration

	// Delivery
	DeliveryQueueCapacity int
	ShutdownGrace         time.Duration

	// Admin / ops
	AdminPort int

	// S3 audit archiver (opt-in: only active when S3Bucket is set)
	S3Bucket             string
	S3Region             string
	S3Prefix             string
	ArchiveIntervalHours int
	ArchiveAfterHours    int
}

// Load reads configuration from the environment (with flag overrides) and
// validates required secrets. Returns an error describing the first missing
// or invalid value; callers should treat this as fatal (ConfigError).
func Load() (*Config, error) {
	c := &Config{}

	flag.StringVar(&c.MongoURI, "mongo-uri", envStr("MONGO_URI", ""), "MongoDB connection URI (required)")

	flag.StringVar(&c.TradeFeedBaseURL, "trade-feed-url", envStr("TRADE_FEED_BASE_URL", "https://data-api.polymarket.com"), "Trade feed base URL")
	flag.StringVar(&c.MarketServiceBaseURL, "market-service-url", envStr("MARKET_SERVICE_BASE_URL", "https://gamma-api.polymarket.com"), "Market metadata service base URL")
	flag.StringVar(&c.TaxonomyServiceBaseURL, "taxonomy-service-url", envStr("TAXONOMY_SERVICE_BASE_URL", "https://gamma-api.polymarket.com"), "Taxonomy service base URL")
	flag.StringVar(&c.ChatAPIBaseURL, "chat-api-url", envStr("CHAT_API_BASE_URL", "https://api.telegram.org"), "Chat platform API base URL")
	flag.StringVar(&c.ChatBotToken, "chat-bot-token", envStr("CHAT_BOT_TOKEN", ""), "Chat platform bot token (required, secret)")

	flag.IntVar(&c.MaxTradesPerPoll, "max-trades-per-poll", envInt("MAX_TRADES_PER_POLL", 2000), "Trades requested from the upstream per poll")
	pollSeconds := flag.Int("poll-interval-seconds", envInt("POLL_INTERVAL_SECONDS", 10), "Orchestrator poll interval in seconds")
	reloadSeconds := flag.Int("filter-reload-interval-seconds", envInt("FILTER_RELOAD_INTERVAL_SECONDS", 60), "Max staleness of the filter snapshot in seconds")
	flag.Float64Var(&c.GlobalMinNotionalUSD, "global-min-notional-usd", envFloat("GLOBAL_MIN_NOTIONAL_USD", 0), "Upstream prefilter: minimum notional USD")

	seenHashMinutes := flag.Int("seen-hash-ttl-minutes", envInt("SEEN_HASH_TTL_MINUTES", 15), "Dedup set TTL in minutes")
	marketHours := flag.Int("market-ttl-hours", envInt("MARKET_TTL_HOURS", 24), "Market metadata cache TTL in hours")
	taxonomyHours := flag.Int("taxonomy-ttl-hours", envInt("TAXONOMY_TTL_HOURS", 24), "Taxonomy cache TTL in hours")

	flag.IntVar(&c.DeliveryQueueCapacity, "delivery-queue-capacity", envInt("DELIVERY_QUEUE_CAPACITY", 8192), "Bounded delivery queue capacity")
	shutdownSeconds := flag.Int("shutdown-grace-seconds", envInt("SHUTDOWN_GRACE_SECONDS", 5), "Delivery drain grace period in seconds on shutdown")

	flag.IntVar(&c.AdminPort, "admin-port", envInt("ADMIN_PORT", 8090), "Ops stream / health server listen port")

	flag.StringVar(&c.S3Bucket, "s3-bucket", envStr("S3_BUCKET", ""), "S3 bucket for alert-log archival (empty = disabled)")
	flag.StringVar(&c.S3Region, "s3-region", envStr("S3_REGION", "us-east-1"), "AWS region for S3")
	flag.StringVar(&c.S3Prefix, "s3-prefix", envStr("S3_PREFIX", "whalewatch"), "S3 key prefix for archived alert-log entries")
	flag.IntVar(&c.ArchiveIntervalHours, "archive-interval-hours", envInt("ARCHIVE_INTERVAL_HOURS", 6), "Hours between archive runs")
	flag.IntVar(&c.ArchiveAfterHours, "archive-after-hours", envInt("ARCHIVE_AFTER_HOURS", 72), "Archive alert-log entries older than this many hours")

	flag.Parse()

	c.PollInterval = time.Duration(*pollSeconds) * time.Second
	c.FilterReloadInterval = time.Duration(*reloadSeconds) * time.Second
	c.SeenHashTTL = time.Duration(*seenHashMinutes) * time.Minute
	c.MarketTTL = time.Duration(*marketHours) * time.Hour
	c.TaxonomyTTL = time.Duration(*taxonomyHours) * time.Hour
	c.ShutdownGrace = time.Duration(*shutdownSeconds) * time.Second

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.MongoURI == "" {
		return fmt.Errorf("config: MONGO_URI is required")
	}
	if c.ChatBotToken == "" {
		return fmt.Errorf("config: CHAT_BOT_TOKEN is required")
	}
	if c.MaxTradesPerPoll <= 0 {
		return fmt.Errorf("config: MAX_TRADES_PER_POLL must be positive, got %d", c.MaxTradesPerPoll)
	}
	if c.DeliveryQueueCapacity <= 0 {
		return fmt.Errorf("config: DELIVERY_QUEUE_CAPACITY must be positive, got %d", c.DeliveryQueueCapacity)
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}
