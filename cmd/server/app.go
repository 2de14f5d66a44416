package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"semaphore/devicehub/internal/accesskeys"
	"semaphore/devicehub/internal/auth"
	"semaphore/devicehub/internal/config"
	"semaphore/devicehub/internal/crypto"
	"semaphore/devicehub/internal/devices"
	internalhttp "semaphore/devicehub/internal/http"
	"semaphore/devicehub/internal/notifications"
	"semaphore/devicehub/internal/store"
	"semaphore/devicehub/internal/store/memory"
	"semaphore/devicehub/internal/store/postgres"
	"semaphore/devicehub/internal/store/postgres/migrations"
	"semaphore/devicehub/internal/versions"
)

// app holds the wired services of one process.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	store    store.Store
	redis    *redis.Client
	services internalhttp.Services
}

// newApp connects the store and builds every service. The caller must call
// close.
func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, store: st}

	var keys store.AccessKeys = st
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		keys = accesskeys.NewRedisStore(a.redis)
		log.Info().Str("addr", cfg.RedisAddr).Msg("access keys stored in redis")
	}

	source, err := newVersionSource(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	secret := cfg.SessionSecret
	if secret == "" {
		if secret, err = crypto.NewToken(); err != nil {
			a.close()
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		log.Warn().Msg("SESSION_SECRET not set, using a random secret; sessions end on restart")
	}

	registry := devices.NewRegistry(st, nil, log.With().Str("component", "devices").Logger())
	a.services = internalhttp.Services{
		Auth: auth.NewService(st, st, auth.Options{
			Secret: secret,
			Issuer: cfg.SessionIssuer,
			Logger: log.With().Str("component", "auth").Logger(),
		}),
		Devices: registry,
		Notifications: notifications.NewLedger(st, st, registry, notifications.Options{
			Logger: log.With().Str("component", "notifications").Logger(),
			Retention: notifications.Retention{
				ActiveDays:    cfg.StaleActiveDays,
				CompletedDays: cfg.StaleCompletedDays,
				RequestDays:   cfg.StaleRequestDays,
			},
		}),
		AccessKeys: accesskeys.NewIssuer(keys, accesskeys.Options{
			Logger:     log.With().Str("component", "accesskeys").Logger(),
			DefaultTTL: cfg.AccessKeyTTL,
			MaxTTL:     cfg.AccessKeyMaxTTL,
		}),
		Versions: versions.NewEngine(st, source, versions.Options{
			Logger: log.With().Str("component", "versions").Logger(),
		}),
	}
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("redis close error")
		}
	}
	a.store.Close()
}

// openStore selects postgres when DATABASE_URL is set and reachable, and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store; data is lost on restart")
		return memory.New(), nil
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("database unreachable, falling back to in-memory store")
		return memory.New(), nil
	}
	if err := migrations.Up(cfg.DatabaseURL); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Msg("using postgres store")
	return postgres.NewStore(pool), nil
}

// newVersionSource returns nil when VERSION_SOURCE is none.
func newVersionSource(cfg config.Config) (versions.Source, error) {
	client := &http.Client{Timeout: cfg.VersionSourceTimeout}
	switch cfg.VersionSource {
	case "", "none":
		return nil, nil
	case "github":
		return versions.NewGitHubSource(versions.GitHubConfig{
			Repo:       cfg.GitHubRepo,
			Branch:     cfg.GitHubBranch,
			Token:      cfg.GitHubToken,
			HTTPClient: client,
		})
	case "vercel":
		return versions.NewVercelSource(versions.VercelConfig{
			ProjectID:  cfg.VercelProjectID,
			Token:      cfg.VercelToken,
			HTTPClient: client,
		})
	default:
		return nil, fmt.Errorf("unknown VERSION_SOURCE %q", cfg.VersionSource)
	}
}
