package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/clock"
	"semaphore/devicehub/internal/model"
	"semaphore/devicehub/internal/store"
	"semaphore/devicehub/internal/store/memory"
)

type staticClients []string

func (c staticClients) ActiveClientIDs(context.Context) ([]string, error) {
	return append([]string(nil), c...), nil
}

func newTestLedger(clients ...string) (*Ledger, *memory.Store, *clock.Fake) {
	st := memory.New()
	clk := clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	ledger := NewLedger(st, st, staticClients(clients), Options{Clock: clk, Logger: zerolog.Nop()})
	return ledger, st, clk
}

func TestBroadcastFansOutPerDevice(t *testing.T) {
	ledger, st, _ := newTestLedger("alice_a1b2c3_1", "bob_d4e5f6_1", "carol_0a0b0c_2")
	ctx := context.Background()

	count, err := ledger.Broadcast(ctx, Draft{Message: "Clean your room"})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	all, err := st.ListNotifications(ctx, store.NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	clients := make([]string, 0, 3)
	for _, n := range all {
		assert.Equal(t, model.NotificationPending, n.Status)
		assert.Equal(t, "Clean your room", n.Message)
		clients = append(clients, n.ClientID)
	}
	assert.ElementsMatch(t, []string{"alice_a1b2c3_1", "bob_d4e5f6_1", "carol_0a0b0c_2"}, clients)

	_, err = ledger.Broadcast(ctx, Draft{Message: "   "})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestBroadcastWithoutDevices(t *testing.T) {
	ledger, _, _ := newTestLedger()
	count, err := ledger.Broadcast(context.Background(), Draft{Message: "hello"})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPollOrdersByPriorityThenAge(t *testing.T) {
	ledger, _, clk := newTestLedger()
	ctx := context.Background()

	low, err := ledger.SendToClient(ctx, "c1", Draft{Message: "low", Priority: 1})
	require.NoError(t, err)
	clk.Advance(time.Second)
	urgentOld, err := ledger.SendToClient(ctx, "c1", Draft{Message: "urgent old", Priority: 5})
	require.NoError(t, err)
	clk.Advance(time.Second)
	urgentNew, err := ledger.SendToClient(ctx, model.AllClients, Draft{Message: "urgent new", Priority: 5})
	require.NoError(t, err)
	clk.Advance(time.Second)
	_, err = ledger.SendToClient(ctx, "c2", Draft{Message: "other device", Priority: 9})
	require.NoError(t, err)
	done, err := ledger.SendToClient(ctx, "c1", Draft{Message: "done", Priority: 9})
	require.NoError(t, err)
	_, err = ledger.Acknowledge(ctx, done.ID)
	require.NoError(t, err)

	inbox, err := ledger.Poll(ctx, "c1")
	require.NoError(t, err)
	ids := make([]string, 0, len(inbox))
	for _, n := range inbox {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{urgentOld.ID, urgentNew.ID, low.ID}, ids)
}

func TestSnoozeHidesUntilElapsed(t *testing.T) {
	ledger, _, clk := newTestLedger()
	ctx := context.Background()

	n, err := ledger.SendToClient(ctx, "c1", Draft{Message: "stretch"})
	require.NoError(t, err)
	_, err = ledger.SetStatus(ctx, n.ID, string(model.NotificationActive), 0)
	require.NoError(t, err)

	snoozed, err := ledger.Snooze(ctx, n.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationSnoozed, snoozed.Status)
	require.NotNil(t, snoozed.SnoozeUntil)
	assert.Equal(t, clk.Now().Add(10*time.Minute), *snoozed.SnoozeUntil)

	inbox, err := ledger.Poll(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, inbox)

	clk.Advance(10 * time.Minute)
	inbox, err = ledger.Poll(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, n.ID, inbox[0].ID)
}

func TestSetStatus(t *testing.T) {
	ledger, _, _ := newTestLedger()
	ctx := context.Background()

	n, err := ledger.SendToClient(ctx, "c1", Draft{Message: "task"})
	require.NoError(t, err)

	_, err = ledger.SetStatus(ctx, n.ID, "bogus", 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = ledger.SetStatus(ctx, n.ID, "snoozed", 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = ledger.SetStatus(ctx, n.ID, "active", -1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = ledger.SetStatus(ctx, "missing", "active", 0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = ledger.SetStatus(ctx, n.ID, "system", 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	snoozed, err := ledger.SetStatus(ctx, n.ID, "snoozed", 5)
	require.NoError(t, err)
	active, err := ledger.SetStatus(ctx, snoozed.ID, "Active", 0)
	require.NoError(t, err)
	assert.Nil(t, active.SnoozeUntil)
}

func TestCompletedIsTerminal(t *testing.T) {
	ledger, _, _ := newTestLedger()
	ctx := context.Background()

	n, err := ledger.SendToClient(ctx, "c1", Draft{Message: "task"})
	require.NoError(t, err)
	_, err = ledger.Acknowledge(ctx, n.ID)
	require.NoError(t, err)

	for _, status := range []string{"pending", "active", "completed", "system"} {
		_, err = ledger.SetStatus(ctx, n.ID, status, 0)
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition, status)
	}
	_, err = ledger.Snooze(ctx, n.ID, 5)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"https://www.example.com/": "example.com",
		"HTTP://Example.com":       "example.com",
		"www.example.com//":        "example.com",
		"  example.com/docs/ ":     "example.com/docs",
		"ftp://files.example.com":  "files.example.com",
		"":                         "",
	}
	for input, want := range tests {
		assert.Equal(t, want, NormalizeURL(input), input)
	}
}

func TestApproveWebsiteAppendsOnce(t *testing.T) {
	ledger, st, _ := newTestLedger()
	ctx := context.Background()

	n, err := ledger.SendToClient(ctx, "c1", Draft{Message: "focus", AllowBrowserUsage: true, AllowedWebsites: []string{"docs.go.dev"}})
	require.NoError(t, err)
	_, err = ledger.SetStatus(ctx, n.ID, "active", 0)
	require.NoError(t, err)
	blocked, err := ledger.SendToClient(ctx, "c1", Draft{Message: "no browser"})
	require.NoError(t, err)

	first, err := ledger.RequestWebsiteAccess(ctx, "c1", "https://www.example.com/", "research")
	require.NoError(t, err)
	second, err := ledger.RequestWebsiteAccess(ctx, "c1", "http://EXAMPLE.com", "again")
	require.NoError(t, err)

	review, err := ledger.ReviewWebsiteAccess(ctx, first.ID, true, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, model.RequestApproved, review.Request.Status)
	assert.Equal(t, "example.com", review.Domain)
	assert.Equal(t, 1, review.UpdatedNotifications)

	review, err = ledger.ReviewWebsiteAccess(ctx, second.ID, true, "admin-1")
	require.NoError(t, err)
	assert.Zero(t, review.UpdatedNotifications)

	stored, err := st.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs.go.dev", "example.com"}, stored.AllowedWebsites)

	untouched, err := st.GetNotification(ctx, blocked.ID)
	require.NoError(t, err)
	assert.Empty(t, untouched.AllowedWebsites)
}

func TestApproveWebsiteWithoutEligibleNotification(t *testing.T) {
	ledger, st, _ := newTestLedger()
	ctx := context.Background()

	_, err := ledger.SendToClient(ctx, "c1", Draft{Message: "no browser"})
	require.NoError(t, err)
	req, err := ledger.RequestWebsiteAccess(ctx, "c1", "example.com", "")
	require.NoError(t, err)

	_, err = ledger.ReviewWebsiteAccess(ctx, req.ID, true, "admin-1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	stored, err := st.GetWebsiteRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, stored.Status)

	review, err := ledger.ReviewWebsiteAccess(ctx, req.ID, false, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, model.RequestDenied, review.Request.Status)
	require.NotNil(t, review.Request.ReviewedBy)
	assert.Equal(t, "admin-1", *review.Request.ReviewedBy)
}

func TestUninstallRequestReviewedOnce(t *testing.T) {
	ledger, _, _ := newTestLedger()
	ctx := context.Background()

	_, err := ledger.RequestUninstall(ctx, UninstallDraft{ClientID: "c1"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	req, err := ledger.RequestUninstall(ctx, UninstallDraft{ClientID: "c1", ClientName: "alice1", Reason: "leaving", Explanation: "new laptop"})
	require.NoError(t, err)

	authorized, err := ledger.UninstallAuthorized(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, authorized)

	denied, err := ledger.ReviewUninstall(ctx, req.ID, false, "admin-1", "not yet")
	require.NoError(t, err)
	assert.Equal(t, model.RequestDenied, denied.Status)
	require.NotNil(t, denied.DenialReason)
	assert.Equal(t, "not yet", *denied.DenialReason)

	_, err = ledger.ReviewUninstall(ctx, req.ID, true, "admin-1", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	again, err := ledger.RequestUninstall(ctx, UninstallDraft{ClientID: "c1", Reason: "leaving"})
	require.NoError(t, err)
	_, err = ledger.ReviewUninstall(ctx, again.ID, true, "admin-1", "")
	require.NoError(t, err)

	authorized, err = ledger.UninstallAuthorized(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, authorized)

	pending, err := ledger.ListUninstallRequests(ctx, "c1", "approved")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	_, err = ledger.ListUninstallRequests(ctx, "", "maybe")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestQueueUninstallDirectives(t *testing.T) {
	ledger, _, _ := newTestLedger("c1", "c2")
	ctx := context.Background()

	report, err := ledger.QueueUninstall(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, UninstallReport{Targeted: 2, Queued: 2}, report)

	inbox, err := ledger.Poll(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, model.NotificationSystem, inbox[0].Status)
	assert.Equal(t, model.UninstallDirective, inbox[0].Message)

	authorized, err := ledger.UninstallAuthorized(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, authorized)

	completed, err := ledger.CompleteUninstall(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, UninstallCompletion{Directives: 1}, completed)
	authorized, err = ledger.UninstallAuthorized(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, authorized)

	report, err = ledger.QueueUninstall(ctx, []string{"c2", " "})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Targeted)
	assert.Equal(t, 1, report.Queued)
	assert.Equal(t, 1, report.Failed)
}

func TestSystemDirectivesCannotBeForged(t *testing.T) {
	ledger, _, _ := newTestLedger()
	ctx := context.Background()

	lookalike, err := ledger.SendToClient(ctx, "c1", Draft{Message: model.UninstallDirective})
	require.NoError(t, err)
	_, err = ledger.SetStatus(ctx, lookalike.ID, "system", 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, err = ledger.SetStatus(ctx, lookalike.ID, "System", 5)
	require.NoError(t, err)

	authorized, err := ledger.UninstallAuthorized(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, authorized)

	_, err = ledger.QueueUninstall(ctx, []string{"c1"})
	require.NoError(t, err)
	directives, err := ledger.openDirectives(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, directives, 1)
	directive := directives[0]

	for _, status := range []string{"pending", "active", "completed"} {
		_, err = ledger.SetStatus(ctx, directive.ID, status, 0)
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition, status)
	}
	_, err = ledger.Snooze(ctx, directive.ID, 10)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, err = ledger.Acknowledge(ctx, directive.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	still, err := ledger.Get(ctx, directive.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationSystem, still.Status)
}

func TestCompleteUninstallRetiresApproval(t *testing.T) {
	ledger, _, clk := newTestLedger()
	ctx := context.Background()

	req, err := ledger.RequestUninstall(ctx, UninstallDraft{ClientID: "c1", Reason: "leaving"})
	require.NoError(t, err)
	_, err = ledger.ReviewUninstall(ctx, req.ID, true, "admin-1", "")
	require.NoError(t, err)
	authorized, err := ledger.UninstallAuthorized(ctx, "c1")
	require.NoError(t, err)
	require.True(t, authorized)

	clk.Advance(time.Minute)
	done, err := ledger.CompleteUninstall(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, UninstallCompletion{Requests: 1}, done)

	authorized, err = ledger.UninstallAuthorized(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, authorized)

	used, err := ledger.GetUninstallRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestApproved, used.Status)
	require.NotNil(t, used.CompletedAt)
	assert.True(t, clk.Now().Equal(*used.CompletedAt))

	done, err = ledger.CompleteUninstall(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, UninstallCompletion{}, done)
}

func TestPruneStale(t *testing.T) {
	ledger, st, clk := newTestLedger()
	ctx := context.Background()

	old, err := ledger.SendToClient(ctx, "c1", Draft{Message: "old open"})
	require.NoError(t, err)
	oldDone, err := ledger.SendToClient(ctx, "c1", Draft{Message: "old done"})
	require.NoError(t, err)
	_, err = ledger.Acknowledge(ctx, oldDone.ID)
	require.NoError(t, err)
	req, err := ledger.RequestWebsiteAccess(ctx, "c1", "example.com", "")
	require.NoError(t, err)
	_, err = ledger.ReviewWebsiteAccess(ctx, req.ID, false, "admin-1")
	require.NoError(t, err)
	_, err = ledger.RequestWebsiteAccess(ctx, "c1", "pending.example.com", "")
	require.NoError(t, err)

	clk.Advance(3 * 24 * time.Hour)
	fresh, err := ledger.SendToClient(ctx, "c1", Draft{Message: "fresh"})
	require.NoError(t, err)

	deleted, err := ledger.PruneStale(ctx, StaleActive, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	_, err = st.GetNotification(ctx, old.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = st.GetNotification(ctx, fresh.ID)
	assert.NoError(t, err)

	deleted, err = ledger.PruneStale(ctx, StaleCompleted, 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	deleted, err = ledger.PruneStale(ctx, StaleCompleted, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	deleted, err = ledger.PruneStale(ctx, StaleRequests, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	remaining, err := ledger.ListWebsiteRequests(ctx, "")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, model.RequestPending, remaining[0].Status)

	_, err = ledger.PruneStale(ctx, StaleCategory("everything"), 1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
