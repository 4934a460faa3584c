package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Secrets live in the platform keychain under this service name.
const keychainService = "vidsum"

type Config struct {
	Server     ServerConfig
	Upstream   UpstreamConfig
	Completion CompletionConfig
	Storage    StorageConfig
	Prefetch   PrefetchConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port      int
	APIToken  string
	RateLimit float64
	RateBurst int
}

// UpstreamConfig points at the summarization service.
type UpstreamConfig struct {
	BaseURL       string
	Timeout       time.Duration
	SummaryLength int
	QuestionCount int
}

type CompletionConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

type StorageConfig struct {
	Backend    string
	DataDir    string
	RedisURL   string
	SummaryCap int
}

type PrefetchConfig struct {
	PollInterval time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:      4100,
			RateLimit: 5,
			RateBurst: 10,
		},
		Upstream: UpstreamConfig{
			BaseURL:       "http://localhost:8000",
			Timeout:       60 * time.Second,
			SummaryLength: 300,
			QuestionCount: 10,
		},
		Completion: CompletionConfig{
			Provider:  "openai",
			Model:     "gpt-3.5-turbo",
			MaxTokens: 150,
			Timeout:   60 * time.Second,
		},
		Storage: StorageConfig{
			Backend:    "sqlite",
			DataDir:    defaultDataDir(),
			SummaryCap: 100,
		},
		Prefetch: PrefetchConfig{
			PollInterval: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret
// store.
//
// On macOS the backend is UserDefaults (domain: com.vidsum.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/vidsum/config.json
// and secrets fall back to $XDG_DATA_HOME/vidsum/secrets.json.
//
// Environment variables (VIDSUM_*) override backend values on all platforms.
// Variables from .env never override the real environment.
func Load() (Config, error) {
	if err := loadDotenv(".env"); err != nil {
		return Config{}, err
	}
	return loadWith(newPlatformBackend(), keychainReader{})
}

func loadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets still empty after env fall back to the keychain.
	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	return cfg, nil
}

// Validate reports configuration that would prevent the server from
// starting.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("upstream.base_url is required"))
	}

	switch c.Completion.Provider {
	case "openai", "openrouter":
		if c.Completion.APIKey == "" {
			errs = append(errs, fmt.Errorf("missing required config: completion API key. "+
				"Set it via environment variable VIDSUM_COMPLETION_API_KEY%s", apiKeyHint()))
		}
	case "compat":
		if c.Completion.BaseURL == "" {
			errs = append(errs, errors.New("completion.base_url is required for the compat provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown completion.provider %q (want openai, openrouter or compat)", c.Completion.Provider))
	}
	if c.Completion.Model == "" {
		errs = append(errs, errors.New("completion.model is required"))
	}

	switch c.Storage.Backend {
	case "sqlite":
	case "redis":
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("storage.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q (want sqlite or redis)", c.Storage.Backend))
	}
	if c.Storage.SummaryCap <= 0 {
		errs = append(errs, errors.New("storage.summary_cap must be positive"))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log.level %q", s)
	}
	return lvl, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
