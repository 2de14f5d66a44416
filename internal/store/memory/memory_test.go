package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/model"
)

var baseTime = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func TestConsumeAccessKeyOnlyOnceUnderContention(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateAccessKey(ctx, model.AccessKey{
		ID:        "key-1",
		ClientID:  "alice_a1b2c3_1",
		KeyHash:   "hash",
		Operation: "uninstall",
		CreatedAt: baseTime,
		ExpiresAt: baseTime.Add(5 * time.Minute),
	}))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeAccessKey(ctx, "alice_a1b2c3_1", "hash", "uninstall", baseTime.Add(time.Minute)); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestConsumeAccessKeyRejectsMismatch(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateAccessKey(ctx, model.AccessKey{
		ClientID: "c1", KeyHash: "hash", Operation: "uninstall", ExpiresAt: baseTime.Add(time.Minute),
	}))

	_, err := s.ConsumeAccessKey(ctx, "c2", "hash", "uninstall", baseTime)
	assert.ErrorIs(t, err, apperr.ErrInvalidOrExpiredKey)
	_, err = s.ConsumeAccessKey(ctx, "c1", "hash", "reset", baseTime)
	assert.ErrorIs(t, err, apperr.ErrInvalidOrExpiredKey)
	_, err = s.ConsumeAccessKey(ctx, "c1", "hash", "uninstall", baseTime.Add(time.Minute))
	assert.ErrorIs(t, err, apperr.ErrInvalidOrExpiredKey)
}

func TestCompletedNotificationIsFrozen(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.InsertNotifications(ctx, []model.Notification{{
		ID: "n1", ClientID: "c1", Status: model.NotificationCompleted, CreatedAt: baseTime,
	}})
	require.NoError(t, err)

	err = s.UpdateNotificationStatus(ctx, "n1", model.NotificationActive, nil, baseTime)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	err = s.SetAllowedWebsites(ctx, "n1", []string{"example.com"}, baseTime)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	err = s.UpdateNotificationStatus(ctx, "missing", model.NotificationActive, nil, baseTime)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUserUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, model.User{ID: "u1", Username: "alice", Email: "alice@example.com"}))
	assert.ErrorIs(t, s.CreateUser(ctx, model.User{ID: "u2", Username: "ALICE", Email: "other@example.com"}), apperr.ErrConflict)
	assert.ErrorIs(t, s.CreateUser(ctx, model.User{ID: "u3", Username: "bob", Email: "Alice@Example.com"}), apperr.ErrConflict)

	user, err := s.GetUserByLogin(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
}

func TestDeleteUserCascadesSessions(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, model.User{ID: "u1", Username: "alice"}))
	require.NoError(t, s.CreateSession(ctx, model.Session{ID: "s1", UserID: "u1"}))
	require.NoError(t, s.DeleteUser(ctx, "u1"))

	_, err := s.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestVersionCurrentMarker(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.ReplaceVersions(ctx, []model.VersionRecord{
		{VersionNumber: 1, Version: "1.0.0"},
		{VersionNumber: 2, Version: "1.0.1", IsCurrent: true},
	}))
	require.NoError(t, s.AppendVersion(ctx, model.VersionRecord{VersionNumber: 3, Version: "1.0.2"}))

	current, err := s.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, current.VersionNumber)

	records, err := s.ListVersions(ctx, 0)
	require.NoError(t, err)
	currents := 0
	for _, record := range records {
		if record.IsCurrent {
			currents++
		}
	}
	assert.Equal(t, 1, currents)
	assert.Equal(t, 3, records[0].VersionNumber)

	assert.ErrorIs(t, s.AppendVersion(ctx, model.VersionRecord{VersionNumber: 3}), apperr.ErrConflict)
	assert.ErrorIs(t, s.SetCurrentVersion(ctx, 9), apperr.ErrNotFound)
}

func TestRebindInstallationRejectsStaleCount(t *testing.T) {
	s := New()
	ctx := context.Background()
	mac := "00:11:22:a1:b2:c3"
	first := "alice_a1b2c3_1"

	retired, err := s.RebindInstallation(ctx,
		model.MacClient{MacAddress: mac, Username: "alice", ActiveClientID: &first, InstallationCount: 1, CreatedAt: baseTime, LastCheckin: baseTime},
		model.Installation{ClientID: first, MacAddress: mac, InstallationNumber: 1, IsActive: true, CreatedAt: baseTime},
		0, "replaced")
	require.NoError(t, err)
	assert.Equal(t, 0, retired)

	bob := "bob_a1b2c3_1"
	_, err = s.RebindInstallation(ctx,
		model.MacClient{MacAddress: mac, Username: "bob", ActiveClientID: &bob, InstallationCount: 1, CreatedAt: baseTime, LastCheckin: baseTime},
		model.Installation{ClientID: bob, MacAddress: mac, InstallationNumber: 1, IsActive: true, CreatedAt: baseTime},
		0, "replaced")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	second := "alice_a1b2c3_2"
	retired, err = s.RebindInstallation(ctx,
		model.MacClient{MacAddress: mac, Username: "alice", ActiveClientID: &second, InstallationCount: 2, CreatedAt: baseTime, LastCheckin: baseTime.Add(time.Minute)},
		model.Installation{ClientID: second, MacAddress: mac, InstallationNumber: 2, IsActive: true, CreatedAt: baseTime.Add(time.Minute)},
		1, "replaced")
	require.NoError(t, err)
	assert.Equal(t, 1, retired)

	history, err := s.ListInstallations(ctx, mac)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[0].IsActive)
	assert.Equal(t, "replaced", history[0].DeactivationReason)
	assert.True(t, history[1].IsActive)
}
