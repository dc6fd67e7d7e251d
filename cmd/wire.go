package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	llmapi "github.com/bnema/bidbot/internal/adapters/llm/openai"
	freelancerapi "github.com/bnema/bidbot/internal/adapters/marketplace/freelancer"
	statusadapter "github.com/bnema/bidbot/internal/adapters/render/status"
	tomlrepo "github.com/bnema/bidbot/internal/adapters/repo/toml"
	chainstore "github.com/bnema/bidbot/internal/adapters/secrets/chain"
	passstore "github.com/bnema/bidbot/internal/adapters/secrets/pass"
	redisstore "github.com/bnema/bidbot/internal/adapters/store/redis"
	sqlitestore "github.com/bnema/bidbot/internal/adapters/store/sqlite"
	"github.com/bnema/bidbot/internal/application"
	"github.com/bnema/bidbot/internal/logging"
	"github.com/bnema/bidbot/internal/ports"
)

type app struct {
	registry       *application.Registry
	settings       settings
	logger         *slog.Logger
	statusRenderer func([]application.SessionStatus, statusadapter.RenderOptions) (string, error)
	pruneSeen      func(context.Context) (int64, error)
	closers        []func() error
	now            func() time.Time
}

func wireApp() (*app, error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, err
	}

	logger := logging.Init(os.Stderr, logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	repoConfig := viper.New()
	repoConfig.Set(tomlrepo.SessionsPathKey, cfg.SessionsPath)
	repo, err := tomlrepo.NewRepository(repoConfig)
	if err != nil {
		return nil, fmt.Errorf("wire session repository: %w", err)
	}

	secretStore, err := chainstore.NewPassFirstWithFileFallback(
		filepath.Join(cfg.DataDir, "secrets"),
		passstore.WithStoreDir(cfg.PassDir),
	)
	if err != nil {
		return nil, fmt.Errorf("wire secret store chain: %w", err)
	}

	store, err := sqlitestore.Open(cfg.StorePath, sqlitestore.WithSeenRetention(cfg.SeenRetention))
	if err != nil {
		return nil, fmt.Errorf("wire history store: %w", err)
	}

	a := &app{
		settings:       cfg,
		logger:         logger,
		statusRenderer: statusadapter.Render,
		pruneSeen:      func(context.Context) (int64, error) { return 0, nil },
		closers:        []func() error{store.Close},
		now:            time.Now,
	}

	seen, err := a.wireSeen(store)
	if err != nil {
		_ = a.close()
		return nil, err
	}

	httpClient := &http.Client{}
	a.registry = application.NewRegistry(application.RegistryDeps{
		Sessions:     repo,
		Runs:         store.Runs(),
		Bids:         store.Bids(),
		Activity:     store.Activity(),
		Seen:         seen,
		Secrets:      secretStore,
		Marketplaces: freelancerapi.Factory(cfg.FreelancerURL, httpClient),
		Scorers:      llmapi.Factory(cfg.LLMBaseURL, cfg.LLMModel, httpClient),
		Clock:        ports.SystemClock{},
		Logger:       logger,
		Policy:       cfg.Policy,
	})

	return a, nil
}

func (a *app) wireSeen(store *sqlitestore.Store) (ports.SeenProjects, error) {
	switch a.settings.SeenBackend {
	case seenBackendNone:
		return nil, nil
	case seenBackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		seen, err := redisstore.New(ctx, a.settings.RedisAddr,
			redisstore.WithPassword(a.settings.RedisPassword),
			redisstore.WithDB(a.settings.RedisDB),
			redisstore.WithTTL(a.settings.RedisTTL),
			redisstore.WithPrefix(a.settings.RedisPrefix),
		)
		if err != nil {
			return nil, fmt.Errorf("wire redis seen store: %w", err)
		}
		a.closers = append(a.closers, seen.Close)
		return seen, nil
	default:
		seen := store.Seen()
		a.pruneSeen = seen.Prune
		return seen, nil
	}
}

func (a *app) close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
