package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultBulletinURL is the KOERI "recent earthquakes" page.
const DefaultBulletinURL = "http://www.koeri.boun.edu.tr/scripts/lst0.asp"

// Config holds all service settings, populated from environment variables.
// It is built once at startup and never mutated.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Bulletin polling.
	BulletinURL     string
	BulletinTimeout time.Duration
	MinMagnitude    float64
	CheckInterval   time.Duration
	PostDelay       time.Duration
	DedupFailOpen   bool

	// Posted-earthquake store.
	DatabaseURL    string
	StoreCacheSize int

	// Publishing.
	BlueskyHost        string
	BlueskyHandle      string
	BlueskyAppPassword string
	ImageDir           string
	CaptionTemplate    string

	// Optional announcement stream; disabled when no brokers are set.
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	bulletinTimeout, err := parsePositiveDuration("BULLETIN_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}

	postDelay, err := time.ParseDuration(sharedcfg.EnvOrDefault("POST_DELAY", "30s"))
	if err != nil || postDelay < 0 {
		return nil, errors.New("invalid POST_DELAY")
	}

	minMagnitude, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("MIN_MAGNITUDE", "4.0"), 64)
	if err != nil || minMagnitude < 0 || minMagnitude > 10 {
		return nil, errors.New("invalid MIN_MAGNITUDE: must be a number between 0 and 10")
	}

	intervalMinutes, err := strconv.Atoi(sharedcfg.EnvOrDefault("CHECK_INTERVAL_MINUTES", "5"))
	if err != nil || intervalMinutes <= 0 {
		return nil, errors.New("invalid CHECK_INTERVAL_MINUTES: must be a positive integer")
	}
	checkInterval := time.Duration(intervalMinutes) * time.Minute

	dedupFailOpen, err := strconv.ParseBool(sharedcfg.EnvOrDefault("DEDUP_FAIL_OPEN", "false"))
	if err != nil {
		return nil, errors.New("invalid DEDUP_FAIL_OPEN")
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		BulletinURL:     sharedcfg.EnvOrDefault("BULLETIN_URL", DefaultBulletinURL),
		BulletinTimeout: bulletinTimeout,
		MinMagnitude:    minMagnitude,
		CheckInterval:   checkInterval,
		PostDelay:       postDelay,
		DedupFailOpen:   dedupFailOpen,

		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		StoreCacheSize: parseStoreCacheSize(),

		BlueskyHost:        strings.TrimRight(sharedcfg.EnvOrDefault("BLUESKY_HOST", "https://bsky.social"), "/"),
		BlueskyHandle:      strings.TrimSpace(os.Getenv("BLUESKY_HANDLE")),
		BlueskyAppPassword: os.Getenv("BLUESKY_APP_PASSWORD"),
		ImageDir:           sharedcfg.EnvOrDefault("IMAGE_DIR", filepath.Join(os.TempDir(), "quakebot")),
		CaptionTemplate:    os.Getenv("CAPTION_TEMPLATE_PATH"),

		KafkaBrokers: sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "earthquakes-posted"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.BlueskyHandle == "" || cfg.BlueskyAppPassword == "" {
		return nil, errors.New("BLUESKY_HANDLE and BLUESKY_APP_PASSWORD are required")
	}
	if cfg.BulletinURL == "" {
		return nil, errors.New("BULLETIN_URL is required")
	}
	if cfg.CheckInterval <= cfg.BulletinTimeout {
		return nil, errors.New("CHECK_INTERVAL_MINUTES must exceed BULLETIN_TIMEOUT")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// KafkaEnabled reports whether recorded earthquakes are announced on Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return d, nil
}

func parseStoreCacheSize() int {
	if s := os.Getenv("STORE_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
