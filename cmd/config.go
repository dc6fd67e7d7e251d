package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	llmapi "github.com/bnema/bidbot/internal/adapters/llm/openai"
	freelancerapi "github.com/bnema/bidbot/internal/adapters/marketplace/freelancer"
	tomlrepo "github.com/bnema/bidbot/internal/adapters/repo/toml"
	sqlitestore "github.com/bnema/bidbot/internal/adapters/store/sqlite"
	"github.com/bnema/bidbot/internal/application"
)

const (
	dataDirName    = ".bidbot"
	configFileName = "config.toml"

	keyDataDir        = "data_dir"
	keyStorePath      = "store.path"
	keySeenBackend    = "seen.backend"
	keySeenRetention  = "seen.retention"
	keyRedisAddr      = "redis.addr"
	keyRedisPassword  = "redis.password"
	keyRedisDB        = "redis.db"
	keyRedisTTL       = "redis.ttl"
	keyRedisPrefix    = "redis.prefix"
	keyPassDir        = "secrets.pass_dir"
	keyFreelancerURL  = "freelancer.base_url"
	keyLLMBaseURL     = "llm.base_url"
	keyLLMModel       = "llm.model"
	keyLogLevel       = "log.level"
	keyLogFormat      = "log.format"
	keyConcurrency    = "loop.scoring_concurrency"
	keyMaxFailures    = "loop.max_consecutive_failures"
	keyMinBidUSD      = "loop.min_bid_amount_usd"
	keyFallbackAmount = "loop.fallback_amount"
	keySubmitTimeout  = "loop.submit_timeout"
	keyRetryAttempts  = "loop.retry.max_attempts"
	keyRetryBackoff   = "loop.retry.base_backoff"
	keyRetryMaxWait   = "loop.retry.max_backoff"
	keyShutdownWait   = "serve.shutdown_timeout"
)

const (
	seenBackendSQLite = "sqlite"
	seenBackendRedis  = "redis"
	seenBackendNone   = "none"
)

// envOverrides are BIDBOT_* variables. Set values win over config.toml.
type envOverrides struct {
	Home             string `env:"BIDBOT_HOME"`
	FreelancerURL    string `env:"BIDBOT_FREELANCER_URL"`
	LLMBaseURL       string `env:"BIDBOT_LLM_BASE_URL"`
	LLMModel         string `env:"BIDBOT_LLM_MODEL"`
	LogLevel         string `env:"BIDBOT_LOG_LEVEL"`
	LogFormat        string `env:"BIDBOT_LOG_FORMAT"`
	SeenBackend      string `env:"BIDBOT_SEEN_BACKEND"`
	RedisAddr        string `env:"BIDBOT_REDIS_ADDR"`
	RedisPassword    string `env:"BIDBOT_REDIS_PASSWORD"`
	MarketplaceToken string `env:"BIDBOT_MARKETPLACE_TOKEN"`
	LLMAPIKey        string `env:"BIDBOT_LLM_API_KEY"`
}

type settings struct {
	DataDir         string
	SessionsPath    string
	StorePath       string
	SeenBackend     string
	SeenRetention   time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisTTL        time.Duration
	RedisPrefix     string
	PassDir         string
	FreelancerURL   string
	LLMBaseURL      string
	LLMModel        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	Policy          application.LoopPolicy

	// Credential defaults for session create/update, never persisted.
	MarketplaceToken string
	LLMAPIKey        string

	config *viper.Viper
}

// loadSettings merges, lowest first: built-in defaults, ~/.bidbot/config.toml,
// a .env file in the working directory, then the process environment.
func loadSettings() (settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return settings{}, fmt.Errorf("load .env: %w", err)
	}

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return settings{}, fmt.Errorf("parse environment: %w", err)
	}

	dataDir := overrides.Home
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return settings{}, fmt.Errorf("resolve home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, dataDirName)
	}

	config := viper.New()
	setDefaults(config, dataDir)

	config.SetConfigFile(filepath.Join(dataDir, configFileName))
	config.SetConfigType("toml")
	if err := config.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return settings{}, fmt.Errorf("read config file: %w", err)
	}

	applyOverrides(config, overrides)

	out := settings{
		DataDir:         config.GetString(keyDataDir),
		SessionsPath:    config.GetString(tomlrepo.SessionsPathKey),
		StorePath:       config.GetString(keyStorePath),
		SeenBackend:     config.GetString(keySeenBackend),
		SeenRetention:   config.GetDuration(keySeenRetention),
		RedisAddr:       config.GetString(keyRedisAddr),
		RedisPassword:   config.GetString(keyRedisPassword),
		RedisDB:         config.GetInt(keyRedisDB),
		RedisTTL:        config.GetDuration(keyRedisTTL),
		RedisPrefix:     config.GetString(keyRedisPrefix),
		PassDir:         config.GetString(keyPassDir),
		FreelancerURL:   config.GetString(keyFreelancerURL),
		LLMBaseURL:      config.GetString(keyLLMBaseURL),
		LLMModel:        config.GetString(keyLLMModel),
		LogLevel:        config.GetString(keyLogLevel),
		LogFormat:       config.GetString(keyLogFormat),
		ShutdownTimeout: config.GetDuration(keyShutdownWait),
		Policy: application.LoopPolicy{
			Retry: application.RetryPolicy{
				MaxAttempts: config.GetInt(keyRetryAttempts),
				BaseBackoff: config.GetDuration(keyRetryBackoff),
				MaxBackoff:  config.GetDuration(keyRetryMaxWait),
			},
			ScoringConcurrency:     config.GetInt(keyConcurrency),
			MaxConsecutiveFailures: config.GetInt(keyMaxFailures),
			MinBidAmountUSD:        config.GetFloat64(keyMinBidUSD),
			FallbackAmount:         config.GetFloat64(keyFallbackAmount),
			SubmitTimeout:          config.GetDuration(keySubmitTimeout),
		},
		MarketplaceToken: overrides.MarketplaceToken,
		LLMAPIKey:        overrides.LLMAPIKey,
		config:           config,
	}

	switch out.SeenBackend {
	case seenBackendSQLite, seenBackendRedis, seenBackendNone:
	default:
		return settings{}, fmt.Errorf("unsupported seen backend %q (want %s|%s|%s)",
			out.SeenBackend, seenBackendSQLite, seenBackendRedis, seenBackendNone)
	}

	return out, nil
}

func setDefaults(config *viper.Viper, dataDir string) {
	policy := application.DefaultLoopPolicy()

	config.SetDefault(keyDataDir, dataDir)
	config.SetDefault(tomlrepo.SessionsPathKey, filepath.Join(dataDir, "sessions.toml"))
	config.SetDefault(keyStorePath, filepath.Join(dataDir, sqlitestore.DefaultFileName))
	config.SetDefault(keySeenBackend, seenBackendSQLite)
	config.SetDefault(keySeenRetention, 7*24*time.Hour)
	config.SetDefault(keyRedisAddr, "127.0.0.1:6379")
	config.SetDefault(keyRedisDB, 0)
	config.SetDefault(keyRedisTTL, 72*time.Hour)
	config.SetDefault(keyRedisPrefix, "bidbot")
	config.SetDefault(keyFreelancerURL, freelancerapi.DefaultBaseURL)
	config.SetDefault(keyLLMBaseURL, llmapi.DefaultBaseURL)
	config.SetDefault(keyLLMModel, llmapi.DefaultModel)
	config.SetDefault(keyLogLevel, "info")
	config.SetDefault(keyLogFormat, "text")
	config.SetDefault(keyConcurrency, policy.ScoringConcurrency)
	config.SetDefault(keyMaxFailures, policy.MaxConsecutiveFailures)
	config.SetDefault(keyMinBidUSD, policy.MinBidAmountUSD)
	config.SetDefault(keyFallbackAmount, policy.FallbackAmount)
	config.SetDefault(keySubmitTimeout, policy.SubmitTimeout)
	config.SetDefault(keyRetryAttempts, policy.Retry.MaxAttempts)
	config.SetDefault(keyRetryBackoff, policy.Retry.BaseBackoff)
	config.SetDefault(keyRetryMaxWait, policy.Retry.MaxBackoff)
	config.SetDefault(keyShutdownWait, 30*time.Second)
}

func applyOverrides(config *viper.Viper, overrides envOverrides) {
	for key, value := range map[string]string{
		keyFreelancerURL: overrides.FreelancerURL,
		keyLLMBaseURL:    overrides.LLMBaseURL,
		keyLLMModel:      overrides.LLMModel,
		keyLogLevel:      overrides.LogLevel,
		keyLogFormat:     overrides.LogFormat,
		keySeenBackend:   overrides.SeenBackend,
		keyRedisAddr:     overrides.RedisAddr,
		keyRedisPassword: overrides.RedisPassword,
	} {
		if value != "" {
			config.Set(key, value)
		}
	}
}
