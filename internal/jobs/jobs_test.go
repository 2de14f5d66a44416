package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaphore/devicehub/internal/config"
	"semaphore/devicehub/internal/notifications"
	"semaphore/devicehub/internal/versions"
)

type countingSyncer struct {
	source bool
	calls  chan struct{}
}

func (s *countingSyncer) HasSource() bool { return s.source }

func (s *countingSyncer) Sync(context.Context) (versions.SyncResult, error) {
	select {
	case s.calls <- struct{}{}:
	default:
	}
	return versions.SyncResult{Mode: versions.ModeIncremental}, errors.New("ignored")
}

type recordingPruner struct {
	mu    sync.Mutex
	seen  []notifications.StaleCategory
	ticks chan struct{}
}

func (p *recordingPruner) PruneStale(_ context.Context, category notifications.StaleCategory, days int) (int, error) {
	p.mu.Lock()
	p.seen = append(p.seen, category)
	n := len(p.seen)
	p.mu.Unlock()
	if days != 0 {
		return 0, errors.New("expected configured window")
	}
	if n%3 == 0 {
		select {
		case p.ticks <- struct{}{}:
		default:
		}
	}
	return 0, nil
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestVersionSyncJobRunsImmediatelyAndOnTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncer := &countingSyncer{source: true, calls: make(chan struct{}, 1)}
	StartVersionSyncJob(ctx, config.Config{VersionSyncInterval: 20 * time.Millisecond}, syncer, zerolog.Nop())

	waitFor(t, syncer.calls)
	waitFor(t, syncer.calls)
}

func TestVersionSyncJobDisabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	noSource := &countingSyncer{calls: make(chan struct{}, 1)}
	StartVersionSyncJob(ctx, config.Config{VersionSyncInterval: 10 * time.Millisecond}, noSource, zerolog.Nop())
	withoutInterval := &countingSyncer{source: true, calls: make(chan struct{}, 1)}
	StartVersionSyncJob(ctx, config.Config{}, withoutInterval, zerolog.Nop())

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, noSource.calls)
	assert.Empty(t, withoutInterval.calls)
}

func TestRetentionJobPrunesEveryCategory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pruner := &recordingPruner{ticks: make(chan struct{}, 1)}
	StartRetentionJob(ctx, config.Config{RetentionInterval: 10 * time.Millisecond}, pruner, zerolog.Nop())
	waitFor(t, pruner.ticks)

	pruner.mu.Lock()
	defer pruner.mu.Unlock()
	require.GreaterOrEqual(t, len(pruner.seen), 3)
	assert.Equal(t, []notifications.StaleCategory{
		notifications.StaleActive,
		notifications.StaleCompleted,
		notifications.StaleRequests,
	}, pruner.seen[:3])
}
