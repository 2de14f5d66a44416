// Package jobs runs the periodic background work of the service: version
// sync against the external source and retention of stale records.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"semaphore/devicehub/internal/config"
	"semaphore/devicehub/internal/notifications"
	"semaphore/devicehub/internal/versions"
)

const (
	syncTickTimeout      = time.Minute
	retentionTickTimeout = 30 * time.Second
)

type VersionSyncer interface {
	HasSource() bool
	Sync(ctx context.Context) (versions.SyncResult, error)
}

type Pruner interface {
	PruneStale(ctx context.Context, category notifications.StaleCategory, days int) (int, error)
}

// StartVersionSyncJob syncs once right away and then on every interval tick.
func StartVersionSyncJob(ctx context.Context, cfg config.Config, syncer VersionSyncer, log zerolog.Logger) {
	if cfg.VersionSyncInterval <= 0 {
		log.Info().Msg("version sync job disabled")
		return
	}
	if syncer == nil || !syncer.HasSource() {
		log.Info().Msg("version sync job disabled: no version source configured")
		return
	}

	run := func() {
		tickCtx, cancel := context.WithTimeout(ctx, syncTickTimeout)
		defer cancel()
		result, err := syncer.Sync(tickCtx)
		if err != nil {
			log.Error().Err(err).Msg("version sync job error")
			return
		}
		if result.Added > 0 {
			log.Info().Str("mode", string(result.Mode)).Int("added", result.Added).Msg("version sync job recorded versions")
		}
	}

	ticker := time.NewTicker(cfg.VersionSyncInterval)
	go func() {
		defer ticker.Stop()
		run()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

// StartRetentionJob prunes every stale category with its configured window on
// each interval tick.
func StartRetentionJob(ctx context.Context, cfg config.Config, pruner Pruner, log zerolog.Logger) {
	if cfg.RetentionInterval <= 0 {
		log.Info().Msg("retention job disabled")
		return
	}
	if pruner == nil {
		return
	}

	categories := []notifications.StaleCategory{
		notifications.StaleActive,
		notifications.StaleCompleted,
		notifications.StaleRequests,
	}
	ticker := time.NewTicker(cfg.RetentionInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, retentionTickTimeout)
				for _, category := range categories {
					if _, err := pruner.PruneStale(tickCtx, category, 0); err != nil {
						log.Error().Err(err).Str("category", string(category)).Msg("retention job error")
					}
				}
				cancel()
			}
		}
	}()
}
