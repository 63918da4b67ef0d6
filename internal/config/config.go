package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	GeocoderGoogle = "google"
	GeocoderHere   = "here"

	StoreMemory = "memory"
	StoreMongo  = "mongo"
)

// ProviderCredentials holds the keys of the external providers.
type ProviderCredentials struct {
	GoogleAPIKey string
	HereAPIKey   string
	OpenAIAPIKey string
	NWSUserAgent string
}

type AppConfig struct {
	Port      string
	LogLevel  string
	LogFormat string

	// HTTPTimeout bounds a single provider request.
	HTTPTimeout time.Duration
	// StageTimeout bounds one pipeline stage, retries included.
	StageTimeout time.Duration

	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	GeocoderProvider string
	Credentials      ProviderCredentials
	OpenAIModel      string
	SummaryMaxTokens int

	GeocodeCacheSize int
	GridCacheSize    int

	StoreBackend        string
	AtlasURI            string
	DBName              string
	MongoConnectTimeout time.Duration

	// RefreshInterval controls how often stored events are re-forecast (0 = disabled).
	RefreshInterval time.Duration
	// RefreshConcurrency bounds how many pipeline runs one refresh pass or
	// one subscription request has in flight.
	RefreshConcurrency int

	ShutdownTimeout time.Duration
}

// SummariesEnabled reports whether an OpenAI key is configured.
func (c *AppConfig) SummariesEnabled() bool {
	return c.Credentials.OpenAIAPIKey != ""
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", "error", err)
	}

	cfg := &AppConfig{
		Port:      getenvDefault("PORT", "8080"),
		LogLevel:  getenvDefault("LOG_LEVEL", "info"),
		LogFormat: getenvDefault("LOG_FORMAT", "json"),

		GeocoderProvider: strings.ToLower(getenvDefault("GEOCODER_PROVIDER", GeocoderGoogle)),
		Credentials: ProviderCredentials{
			GoogleAPIKey: os.Getenv("GOOGLE_API_KEY"),
			HereAPIKey:   os.Getenv("HERE_API_KEY"),
			OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
			NWSUserAgent: os.Getenv("NWS_USER_AGENT"),
		},
		OpenAIModel: getenvDefault("OPENAI_MODEL", "gpt-3.5-turbo"),

		StoreBackend: strings.ToLower(getenvDefault("STORE_BACKEND", StoreMemory)),
		AtlasURI:     os.Getenv("ATLAS_URI"),
		DBName:       getenvDefault("DB_NAME", "raincheck"),
	}

	var err error
	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"HTTP_TIMEOUT", "10s", &cfg.HTTPTimeout},
		{"STAGE_TIMEOUT", "20s", &cfg.StageTimeout},
		{"RETRY_INITIAL_INTERVAL", "500ms", &cfg.RetryInitialInterval},
		{"RETRY_MAX_INTERVAL", "5s", &cfg.RetryMaxInterval},
		{"MONGO_CONNECT_TIMEOUT", "10s", &cfg.MongoConnectTimeout},
		{"REFRESH_INTERVAL", "1h", &cfg.RefreshInterval},
		{"SHUTDOWN_TIMEOUT", "10s", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = getenvDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"RETRY_MAX_ATTEMPTS", 3, &cfg.RetryMaxAttempts},
		{"SUMMARY_MAX_TOKENS", 350, &cfg.SummaryMaxTokens},
		{"GEOCODE_CACHE_SIZE", 1024, &cfg.GeocodeCacheSize},
		{"GRID_CACHE_SIZE", 1024, &cfg.GridCacheSize},
		{"REFRESH_CONCURRENCY", 4, &cfg.RefreshConcurrency},
	}
	for _, i := range ints {
		if *i.dst, err = getenvInt(i.key, i.def); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.GeocoderProvider {
	case GeocoderGoogle, GeocoderHere:
	default:
		return fmt.Errorf("invalid GEOCODER_PROVIDER: %q (want google or here)", c.GeocoderProvider)
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StoreMongo:
		if c.AtlasURI == "" {
			return fmt.Errorf("ATLAS_URI is required when STORE_BACKEND is mongo")
		}
	default:
		return fmt.Errorf("invalid STORE_BACKEND: %q (want memory or mongo)", c.StoreBackend)
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("invalid RETRY_MAX_ATTEMPTS: must be at least 1")
	}
	if c.GeocodeCacheSize < 1 || c.GridCacheSize < 1 {
		return fmt.Errorf("invalid cache size: GEOCODE_CACHE_SIZE and GRID_CACHE_SIZE must be positive")
	}
	if c.RefreshConcurrency < 1 {
		return fmt.Errorf("invalid REFRESH_CONCURRENCY: must be at least 1")
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("invalid REFRESH_INTERVAL: must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid SHUTDOWN_TIMEOUT: must be positive")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
