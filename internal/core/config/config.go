package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool

	// AppOrigin is the origin the travel app shell is served from; requests
	// to any other origin classify as external.
	AppOrigin   string
	UpstreamURL string

	RedisAddr      string
	RedisPoolSize  int
	CacheVersion   string
	CacheOpTimeout time.Duration
	NetworkTimeout time.Duration

	TileURLTemplate string
	PrefetchWorkers int

	NotifyDBPath      string
	NotifyWebhookURL  string
	AlertPollInterval time.Duration
	ExpenseAPIURL     string
	FlightDeparture   time.Time

	Invalidation InvalidationCfg
}

func FromEnv() Config {
	workers := getint("PREFETCH_WORKERS", 10)
	if workers <= 0 {
		workers = 10
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),

		AppOrigin:   getenv("APP_ORIGIN", "https://tripmate.example"),
		UpstreamURL: getenv("UPSTREAM_URL", "http://localhost:8080"),

		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		RedisPoolSize:  getint("REDIS_POOL_SIZE", 32),
		CacheVersion:   getenv("CACHE_VERSION", "v2"),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		NetworkTimeout: getduration("NETWORK_TIMEOUT", 10*time.Second),

		TileURLTemplate: getenv("TILE_URL_TEMPLATE",
			"https://a.basemaps.cartocdn.com/rastertiles/voyager/%d/%d/%d.png"),
		PrefetchWorkers: workers,

		NotifyDBPath:      getenv("NOTIFY_DB_PATH", "./notify.db"),
		NotifyWebhookURL:  getenv("NOTIFY_WEBHOOK_URL", ""),
		AlertPollInterval: getduration("ALERT_POLL_INTERVAL", time.Minute),
		ExpenseAPIURL:     getenv("EXPENSE_API_URL", ""),
		FlightDeparture:   gettime("FLIGHT_DEPARTURE"),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "trip-data-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "offline-engine"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// gettime parses an RFC 3339 timestamp; zero time when unset or invalid.
func gettime(k string) time.Time {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
