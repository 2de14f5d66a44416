package devices

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/clock"
	"semaphore/devicehub/internal/store/memory"
)

func newTestRegistry() (*Registry, *memory.Store, *clock.Fake) {
	st := memory.New()
	clk := clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	return NewRegistry(st, clk, zerolog.Nop()), st, clk
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "AA:BB:CC:DD:EE:FF", want: "aa:bb:cc:dd:ee:ff"},
		{input: "aa-bb-cc-dd-ee-ff", want: "aa:bb:cc:dd:ee:ff"},
		{input: "aabb.ccdd.eeff", want: "aa:bb:cc:dd:ee:ff"},
		{input: "AABBCCDDEEFF", want: "aa:bb:cc:dd:ee:ff"},
		{input: " aa:bb:cc:dd:ee:ff ", want: "aa:bb:cc:dd:ee:ff"},
		{input: "aa:bb:cc", wantErr: true},
		{input: "not-a-mac", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeMAC(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientIdentifiers(t *testing.T) {
	assert.Equal(t, "alice_a1b2c3_1", ClientID("alice", "00:11:22:a1:b2:c3", 1))
	assert.Equal(t, "alice2", ClientName("alice", 2))
}

func TestAuthenticateFirstInstallation(t *testing.T) {
	reg, st, _ := newTestRegistry()
	ctx := context.Background()

	res, err := reg.Authenticate(ctx, Registration{MacAddress: "00-11-22-A1-B2-C3", Username: "alice", Hostname: "lab-1", Version: "1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, "alice_a1b2c3_1", res.ClientID)
	assert.Equal(t, "alice1", res.ClientName)
	assert.True(t, res.IsNewInstallation)

	client, err := st.GetMacClient(ctx, "00:11:22:a1:b2:c3")
	require.NoError(t, err)
	require.NotNil(t, client.ActiveClientID)
	assert.Equal(t, res.ClientID, *client.ActiveClientID)
	assert.Equal(t, 1, client.InstallationCount)
}

func TestReinstallKeepsExactlyOneActive(t *testing.T) {
	reg, _, clk := newTestRegistry()
	ctx := context.Background()
	mac := "00:11:22:a1:b2:c3"

	var last AuthResult
	for i := 0; i < 4; i++ {
		res, err := reg.Authenticate(ctx, Registration{MacAddress: mac, Username: "alice"})
		require.NoError(t, err)
		last = res
		clk.Advance(time.Minute)

		history, err := reg.History(ctx, mac)
		require.NoError(t, err)
		require.Len(t, history, i+1)
		active := 0
		for _, installation := range history {
			if installation.IsActive {
				active++
				assert.Equal(t, res.ClientID, installation.ClientID)
			} else {
				assert.Equal(t, ReasonReplaced, installation.DeactivationReason)
				assert.NotNil(t, installation.DeactivatedAt)
			}
		}
		assert.Equal(t, 1, active)
	}

	assert.Equal(t, "alice_a1b2c3_4", last.ClientID)
	assert.Equal(t, "alice4", last.ClientName)
	assert.False(t, last.IsNewInstallation)
	assert.Equal(t, 4, last.InstallationNumber)
}

func TestConcurrentFirstRegistrationsKeepOneActive(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()
	mac := "00:11:22:0d:0e:0f"

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, username := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, username string) {
			defer wg.Done()
			_, errs[i] = reg.Authenticate(ctx, Registration{MacAddress: mac, Username: username})
		}(i, username)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	history, err := reg.History(ctx, mac)
	require.NoError(t, err)
	require.Len(t, history, 2)
	active := 0
	for _, installation := range history {
		if installation.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)

	view, err := reg.GetByMac(ctx, mac)
	require.NoError(t, err)
	assert.Equal(t, 2, view.InstallationCount)
	require.NotNil(t, view.Active)
	require.NotNil(t, view.ActiveClientID)
	assert.Equal(t, view.Active.ClientID, *view.ActiveClientID)
}

func TestAuthenticateValidation(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.Authenticate(ctx, Registration{MacAddress: "bogus", Username: "alice"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = reg.Authenticate(ctx, Registration{MacAddress: "00:11:22:a1:b2:c3", Username: "  "})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCheckinCascadesToMacClient(t *testing.T) {
	reg, st, clk := newTestRegistry()
	ctx := context.Background()

	res, err := reg.Authenticate(ctx, Registration{MacAddress: "00:11:22:a1:b2:c3", Username: "alice", Version: "1.0.0"})
	require.NoError(t, err)
	clk.Advance(time.Hour)

	installation, err := reg.CheckinByMac(ctx, "00:11:22:A1:B2:C3", "1.0.1")
	require.NoError(t, err)
	assert.Equal(t, res.ClientID, installation.ClientID)
	assert.Equal(t, "1.0.1", installation.Version)

	stored, err := st.GetInstallation(ctx, res.ClientID)
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), stored.LastCheckin)
	assert.Equal(t, "1.0.1", stored.Version)

	client, err := st.GetMacClient(ctx, "00:11:22:a1:b2:c3")
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), client.LastCheckin)

	_, err = reg.Checkin(ctx, "unknown_000000_1", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeactivateClearsActiveClient(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	res, err := reg.Authenticate(ctx, Registration{MacAddress: "00:11:22:a1:b2:c3", Username: "alice"})
	require.NoError(t, err)
	require.NoError(t, reg.Deactivate(ctx, res.ClientID, ReasonUninstalled))

	view, err := reg.GetByMac(ctx, "00:11:22:a1:b2:c3")
	require.NoError(t, err)
	assert.Nil(t, view.ActiveClientID)
	assert.Nil(t, view.Active)

	_, err = reg.Checkin(ctx, res.ClientID, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, reg.Deactivate(ctx, res.ClientID, "again"), apperr.ErrNotFound)

	ids, err := reg.ActiveClientIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
