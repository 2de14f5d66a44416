// Package versions numbers external release history with a deterministic
// semantic version and keeps a single current-version marker.
package versions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/clock"
	"semaphore/devicehub/internal/model"
	"semaphore/devicehub/internal/store"
)

// incrementalWindow is how many of the newest external entries an
// incremental sync inspects.
const incrementalWindow = 5

// Calc maps the 0-based ordinal i to major.minor.patch with ten patches per
// minor and ten minors per major, starting at 1.0.0.
func Calc(i int) string {
	if i < 0 {
		i = 0
	}
	patch := i % 10
	minor := (i / 10) % 10
	major := i/100 + 1
	return fmt.Sprintf("%d.%d.%d", major, minor, patch)
}

type Mode string

const (
	ModeInitial     Mode = "initial"
	ModeIncremental Mode = "incremental"
	ModeSkipped     Mode = "skipped"
)

type SyncResult struct {
	Mode    Mode                 `json:"mode"`
	Added   int                  `json:"added"`
	Current *model.VersionRecord `json:"current,omitempty"`
	Reason  string               `json:"reason,omitempty"`
}

type UpdateCheck struct {
	UpdateAvailable bool                `json:"updateAvailable"`
	Current         model.VersionRecord `json:"current"`
}

type Engine struct {
	versions store.Versions
	source   Source
	clock    clock.Clock
	log      zerolog.Logger
}

type Options struct {
	Clock  clock.Clock
	Logger zerolog.Logger
}

// NewEngine accepts a nil source; syncing is then skipped.
func NewEngine(versions store.Versions, source Source, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Engine{versions: versions, source: source, clock: opts.Clock, log: opts.Logger}
}

// HasSource reports whether an external history source is configured.
func (e *Engine) HasSource() bool { return e.source != nil }

// InitialSync rebuilds the whole history from the source, oldest entry as
// 1.0.0, newest marked current.
func (e *Engine) InitialSync(ctx context.Context) (SyncResult, error) {
	if e.source == nil {
		return skipped("no version source configured"), nil
	}
	entries, err := e.source.Fetch(ctx, 0)
	if err != nil {
		e.log.Error().Err(err).Str("source", e.source.Name()).Msg("version source fetch failed")
		return skipped("version source unavailable"), nil
	}
	if len(entries) == 0 {
		return skipped("version source returned no history"), nil
	}

	// Sources return newest first; reversing keeps same-date entries oldest
	// first through the stable sort.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Date.Before(entries[j].Date) })
	now := e.clock.Now()
	records := make([]model.VersionRecord, 0, len(entries))
	for i, entry := range entries {
		records = append(records, e.record(i+1, entry, now))
	}
	records[len(records)-1].IsCurrent = true

	if err := e.versions.ReplaceVersions(ctx, records); err != nil {
		return SyncResult{}, err
	}
	current := records[len(records)-1]
	e.log.Info().Int("records", len(records)).Str("current", current.Version).Msg("initial version sync complete")
	return SyncResult{Mode: ModeInitial, Added: len(records), Current: &current}, nil
}

// IncrementalSync appends at most one record: the newest external entry, if
// it is newer than the stored newest record and carries different
// provenance. An empty history falls back to InitialSync.
func (e *Engine) IncrementalSync(ctx context.Context) (SyncResult, error) {
	if e.source == nil {
		return skipped("no version source configured"), nil
	}
	latest, err := e.versions.LatestVersion(ctx)
	if errors.Is(err, apperr.ErrNotFound) {
		return e.InitialSync(ctx)
	}
	if err != nil {
		return SyncResult{}, err
	}

	entries, err := e.source.Fetch(ctx, incrementalWindow)
	if err != nil {
		e.log.Error().Err(err).Str("source", e.source.Name()).Msg("version source fetch failed")
		return skipped("version source unavailable"), nil
	}
	if len(entries) == 0 {
		return SyncResult{Mode: ModeIncremental, Current: e.currentOrNil(ctx)}, nil
	}
	newest := entries[0]
	for _, entry := range entries[1:] {
		if entry.Date.After(newest.Date) {
			newest = entry
		}
	}
	if !unseen(newest, latest) {
		return SyncResult{Mode: ModeIncremental, Current: e.currentOrNil(ctx)}, nil
	}

	record := e.record(latest.VersionNumber+1, newest, e.clock.Now())
	if err := e.versions.AppendVersion(ctx, record); err != nil {
		return SyncResult{}, err
	}
	record.IsCurrent = true
	e.log.Info().Int("version_number", record.VersionNumber).Str("version", record.Version).Msg("new version recorded")
	return SyncResult{Mode: ModeIncremental, Added: 1, Current: &record}, nil
}

// Sync runs an initial sync on an empty history and an incremental one
// otherwise.
func (e *Engine) Sync(ctx context.Context) (SyncResult, error) {
	return e.IncrementalSync(ctx)
}

// Current returns the current record. When no record is marked current the
// highest versionNumber is promoted and returned.
func (e *Engine) Current(ctx context.Context) (model.VersionRecord, error) {
	current, err := e.versions.CurrentVersion(ctx)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return model.VersionRecord{}, err
	}

	latest, err := e.versions.LatestVersion(ctx)
	if err != nil {
		return model.VersionRecord{}, err
	}
	if err := e.versions.SetCurrentVersion(ctx, latest.VersionNumber); err != nil {
		return model.VersionRecord{}, err
	}
	e.log.Warn().Int("version_number", latest.VersionNumber).Msg("no current version marked, promoted latest")
	latest.IsCurrent = true
	return latest, nil
}

func (e *Engine) History(ctx context.Context, limit int) ([]model.VersionRecord, error) {
	return e.versions.ListVersions(ctx, limit)
}

func (e *Engine) CheckForUpdates(ctx context.Context, versionNumber int) (UpdateCheck, error) {
	current, err := e.Current(ctx)
	if err != nil {
		return UpdateCheck{}, err
	}
	return UpdateCheck{UpdateAvailable: current.VersionNumber > versionNumber, Current: current}, nil
}

// record numbers entry; versionNumber is 1-based so its version is
// Calc(versionNumber-1).
func (e *Engine) record(versionNumber int, entry Entry, now time.Time) model.VersionRecord {
	return model.VersionRecord{
		VersionNumber: versionNumber,
		Version:       Calc(versionNumber - 1),
		Message:       entry.Message,
		Date:          entry.Date,
		Source:        e.source.Name(),
		CommitSHA:     entry.CommitSHA,
		DeploymentID:  entry.DeploymentID,
		CreatedAt:     now,
	}
}

func (e *Engine) currentOrNil(ctx context.Context) *model.VersionRecord {
	current, err := e.Current(ctx)
	if err != nil {
		return nil
	}
	return &current
}

func unseen(entry Entry, latest model.VersionRecord) bool {
	if !entry.Date.After(latest.Date) {
		return false
	}
	if entry.CommitSHA != "" && entry.CommitSHA == latest.CommitSHA {
		return false
	}
	if entry.DeploymentID != "" && entry.DeploymentID == latest.DeploymentID {
		return false
	}
	return true
}

func skipped(reason string) SyncResult {
	return SyncResult{Mode: ModeSkipped, Reason: reason}
}
