package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/model"
	"semaphore/devicehub/internal/store"
)

var testTime = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStore(mock), mock
}

func TestMapErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no rows", err: pgx.ErrNoRows, want: apperr.ErrNotFound},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: apperr.ErrConflict},
		{name: "deadline", err: context.DeadlineExceeded, want: apperr.ErrStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapErr(tt.err, "op"), tt.want)
		})
	}

	assert.NoError(t, mapErr(nil, "op"))
	other := mapErr(errors.New("boom"), "op")
	assert.False(t, apperr.Known(other))
}

func TestConsumeAccessKey(t *testing.T) {
	columns := []string{"id", "client_id", "key_hash", "operation", "created_at", "expires_at", "used", "used_at"}

	tests := []struct {
		name      string
		mockSetup func(pgxmock.PgxPoolIface)
		wantErr   error
	}{
		{
			name: "redeems a live key",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				usedAt := testTime
				mock.ExpectQuery(`UPDATE access_keys`).
					WithArgs("hash", "alice_a1b2c3_1", "uninstall", testTime, testTime).
					WillReturnRows(pgxmock.NewRows(columns).
						AddRow("key-1", "alice_a1b2c3_1", "hash", "uninstall", testTime.Add(-time.Minute), testTime.Add(4*time.Minute), true, &usedAt))
			},
		},
		{
			name: "used or expired key matches nothing",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`UPDATE access_keys`).
					WithArgs("hash", "alice_a1b2c3_1", "uninstall", testTime, testTime).
					WillReturnRows(pgxmock.NewRows(columns))
			},
			wantErr: apperr.ErrInvalidOrExpiredKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.mockSetup(mock)

			key, err := s.ConsumeAccessKey(context.Background(), "alice_a1b2c3_1", "hash", "uninstall", testTime)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.True(t, key.Used)
				assert.Equal(t, "key-1", key.ID)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUpdateNotificationStatus(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(pgxmock.PgxPoolIface)
		wantErr   error
	}{
		{
			name: "open notification is updated",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`UPDATE notifications`).
					WithArgs("n1", "active", pgxmock.AnyArg(), testTime).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
		},
		{
			name: "completed notification is refused",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`UPDATE notifications`).
					WithArgs("n1", "active", pgxmock.AnyArg(), testTime).
					WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				mock.ExpectQuery(`SELECT EXISTS`).
					WithArgs("n1").
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
			},
			wantErr: apperr.ErrInvalidTransition,
		},
		{
			name: "unknown notification",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`UPDATE notifications`).
					WithArgs("n1", "active", pgxmock.AnyArg(), testTime).
					WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				mock.ExpectQuery(`SELECT EXISTS`).
					WithArgs("n1").
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
			},
			wantErr: apperr.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.mockSetup(mock)

			err := s.UpdateNotificationStatus(context.Background(), "n1", model.NotificationActive, nil, testTime)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDeleteNotificationsReportsCount(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM notifications`).
		WithArgs([]string{"completed"}, testTime).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	deleted, err := s.DeleteNotifications(context.Background(), []model.NotificationStatus{model.NotificationCompleted}, testTime)
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListNotificationsPassesFilter(t *testing.T) {
	s, mock := newMockStore(t)
	columns := []string{"id", "client_id", "message", "status", "created_at", "updated_at", "snooze_until", "allow_browser_usage", "allowed_websites", "priority"}
	mock.ExpectQuery(`FROM notifications`).
		WithArgs([]string{"c1", "all"}, []string{"pending"}).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("n1", "c1", "hello", "pending", testTime, testTime, (*time.Time)(nil), true, []string{"example.com"}, 2))

	out, err := s.ListNotifications(context.Background(), store.NotificationFilter{
		ClientIDs: []string{"c1", "all"},
		Statuses:  []model.NotificationStatus{model.NotificationPending},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.NotificationPending, out[0].Status)
	assert.Equal(t, []string{"example.com"}, out[0].AllowedWebsites)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendVersionSwapsCurrentInOneTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE version_records SET is_current = false`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO version_records`).
		WithArgs(3, "1.0.2", "fix", testTime, "github", "abc", "", true, testTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.AppendVersion(context.Background(), model.VersionRecord{
		VersionNumber: 3,
		Version:       "1.0.2",
		Message:       "fix",
		Date:          testTime,
		Source:        "github",
		CommitSHA:     "abc",
		CreatedAt:     testTime,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendVersionRollsBackOnDuplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE version_records SET is_current = false`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO version_records`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := s.AppendVersion(context.Background(), model.VersionRecord{VersionNumber: 3, Version: "1.0.2", Date: testTime, CreatedAt: testTime})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCurrentVersionUnknown(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE version_records SET is_current = false`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE version_records SET is_current = true`).
		WithArgs(9).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, s.SetCurrentVersion(context.Background(), 9), apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateInstallationNotActive(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE installations`).
		WithArgs("alice_a1b2c3_1", testTime, "replaced").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.DeactivateInstallation(context.Background(), "alice_a1b2c3_1", testTime, "replaced")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByLoginNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM users`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetUserByLogin(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUninstallRequestPersistsCompletion(t *testing.T) {
	s, mock := newMockStore(t)
	reviewer := "root"
	completed := testTime.Add(time.Hour)
	mock.ExpectExec(`UPDATE uninstall_requests`).
		WithArgs("req-1", "approved", pgxmock.AnyArg(), pgxmock.AnyArg(), &completed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateUninstallRequest(context.Background(), model.UninstallRequest{
		ID:          "req-1",
		Status:      model.RequestApproved,
		ReviewedBy:  &reviewer,
		CompletedAt: &completed,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebindInstallation(t *testing.T) {
	clientID := "alice_a1b2c3_2"
	client := model.MacClient{MacAddress: "00:11:22:a1:b2:c3", Username: "alice", ActiveClientID: &clientID, InstallationCount: 2, CreatedAt: testTime, LastCheckin: testTime}
	installation := model.Installation{ClientID: clientID, MacAddress: client.MacAddress, InstallationNumber: 2, IsActive: true, CreatedAt: testTime, LastCheckin: testTime}

	t.Run("retires the previous installation", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE mac_clients`).
			WithArgs(client.MacAddress, "alice", "", &clientID, 2, testTime, 1).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`UPDATE installations`).
			WithArgs(client.MacAddress, testTime, "replaced").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`INSERT INTO installations`).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		retired, err := s.RebindInstallation(context.Background(), client, installation, 1, "replaced")
		require.NoError(t, err)
		assert.Equal(t, 1, retired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale count conflicts", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE mac_clients`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		_, err := s.RebindInstallation(context.Background(), client, installation, 1, "replaced")
		assert.ErrorIs(t, err, apperr.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unseen mac taken concurrently", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO mac_clients`).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectRollback()

		_, err := s.RebindInstallation(context.Background(), client, installation, 0, "replaced")
		assert.ErrorIs(t, err, apperr.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
