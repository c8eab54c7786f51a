package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lookout-server/internal/model"
	"lookout-server/internal/store"
)

type sentMessage struct {
	group  string
	userID string
	data   []byte
}

type fakeGateway struct {
	mu    sync.Mutex
	sent  []sentMessage
	live  []string
	fail  bool
	calls int
}

func (g *fakeGateway) Broadcast(group string, payload []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.fail {
		return errors.New("transport down")
	}
	g.sent = append(g.sent, sentMessage{group: group, data: payload})
	return nil
}

func (g *fakeGateway) SendToUser(userID string, payload []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.fail {
		return errors.New("transport down")
	}
	g.sent = append(g.sent, sentMessage{userID: userID, data: payload})
	return nil
}

func (g *fakeGateway) ListLiveConnections() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return nil, errors.New("transport down")
	}
	return append([]string(nil), g.live...), nil
}

func (g *fakeGateway) sentTo(group string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, m := range g.sent {
		if m.group == group {
			n++
		}
	}
	return n
}

type fixture struct {
	store     *store.Store
	gateway   *fakeGateway
	tracker   *Tracker
	sessions  *Sessions
	lifecycle *Lifecycle
	commands  *Commands
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := zap.NewNop()
	gw := &fakeGateway{}
	tracker := NewTracker(s, gw, nil, nil, logger)
	sessions := NewSessions(s, nil, logger)
	lifecycle := NewLifecycle(tracker, sessions, s, gw, logger, time.Minute, 500*time.Millisecond)
	commands := NewCommands(s, sessions, gw, logger)
	return &fixture{store: s, gateway: gw, tracker: tracker, sessions: sessions, lifecycle: lifecycle, commands: commands}
}

func TestTracker_SetOnlineTwiceKeepsOneOpenEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tracker.SetOnline(ctx, "u1"))
	require.NoError(t, f.tracker.SetOnline(ctx, "u1"))

	entries, err := f.store.ListHistory(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Nil(t, entries[0].EndedAt)
}

func TestTracker_HistoryClosureInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	calls := []func(context.Context, string) error{
		f.tracker.SetOnline, f.tracker.SetOnline, f.tracker.SetOffline,
		f.tracker.SetOffline, f.tracker.SetOnline, f.tracker.SetOffline,
		f.tracker.SetOnline,
	}
	for i, call := range calls {
		require.NoError(t, call(ctx, "u1"), "call %d", i)
		entries, err := f.store.ListHistory(ctx, "u1", 100)
		require.NoError(t, err)
		open := 0
		for _, e := range entries {
			if e.EndedAt == nil {
				open++
			}
		}
		require.LessOrEqual(t, open, 1, "after call %d", i)
	}
}

func TestTracker_OfflineWhenAlreadyOfflineStillBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tracker.SetOffline(ctx, "u1"))
	require.NoError(t, f.tracker.SetOffline(ctx, "u1"))
	require.Equal(t, 2, f.gateway.sentTo(PresenceGroup))
}

func TestTracker_BroadcastFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.gateway.fail = true
	ctx := context.Background()

	require.NoError(t, f.tracker.SetOnline(ctx, "u1"))

	rec, err := f.tracker.StatusOf(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.StatusOnline, rec.Status)
}

func TestTracker_StatusOfUnknownUserDefaultsOffline(t *testing.T) {
	f := newFixture(t)

	rec, err := f.tracker.StatusOf(context.Background(), "never-seen")
	require.NoError(t, err)
	require.Equal(t, model.StatusOffline, rec.Status)
}

func TestSessions_IdempotentStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.sessions.Start(ctx, "u1")
	require.NoError(t, err)
	require.True(t, started)

	started, err = f.sessions.Start(ctx, "u1")
	require.NoError(t, err)
	require.False(t, started)

	rows, err := f.store.ListSessions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Nil(t, rows[0].StoppedAt)
}

func TestSessions_ConcurrentStopOneReasonWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sessions.Start(ctx, "u1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]bool, 2)
	errs := make([]error, 2)
	reasons := []model.StopReason{model.StopReasonCommand, model.StopReasonDisconnect}
	for i, reason := range reasons {
		wg.Add(1)
		go func(i int, reason model.StopReason) {
			defer wg.Done()
			results[i], errs[i] = f.sessions.Stop(ctx, "u1", reason)
		}(i, reason)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	require.NotEqual(t, results[0], results[1], "exactly one stop must win")

	rows, err := f.store.ListSessions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].StoppedAt, "session must end up stopped")
	require.NotNil(t, rows[0].StopReason)
	winner := model.StopReasonDisconnect
	if results[0] {
		winner = model.StopReasonCommand
	}
	require.Equal(t, winner, *rows[0].StopReason)
}

func TestLifecycle_ConnectThenDisconnectScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.lifecycle.HandleEvent(ctx, "u1", "c1", PhaseConnect))
	rec, err := f.tracker.StatusOf(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.StatusOnline, rec.Status)

	started, err := f.sessions.Start(ctx, "u1")
	require.NoError(t, err)
	require.True(t, started)

	require.NoError(t, f.lifecycle.HandleEvent(ctx, "u1", "c1", PhaseDisconnect))
	rec, err = f.tracker.StatusOf(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.StatusOffline, rec.Status)

	active, err := f.sessions.Active(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, active)

	rows, err := f.store.ListSessions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, model.StopReasonDisconnect, *rows[0].StopReason)
}

func TestLifecycle_ConvergenceUnderReordering(t *testing.T) {
	orders := map[string][]string{
		"connect-then-disconnect": {PhaseConnect, PhaseDisconnect},
		"disconnect-then-connect": {PhaseDisconnect, PhaseConnect},
	}
	final := map[string]model.PresenceStatus{
		"connect-then-disconnect": model.StatusOffline,
		"disconnect-then-connect": model.StatusOnline,
	}

	for name, phases := range orders {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			for _, phase := range phases {
				require.NoError(t, f.lifecycle.HandleEvent(ctx, "u1", "c1", phase))
			}
			rec, err := f.tracker.StatusOf(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, final[name], rec.Status, "last event must win")
		})
	}
}

func TestLifecycle_MissingUserIDIsRecoverable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.lifecycle.Connect(ctx, "", "c1"), ErrMissingUserID)
	require.ErrorIs(t, f.lifecycle.Disconnect(ctx, "", "c1"), ErrMissingUserID)
	require.Error(t, f.lifecycle.HandleEvent(ctx, "u1", "c1", "resumed"))
}

func TestLifecycle_ReconcileCorrectsStaleOnline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Three users online in the store; only u2 is live on the transport.
	for _, u := range []string{"u1", "u2", "u3"} {
		require.NoError(t, f.tracker.SetOnline(ctx, u))
	}
	f.gateway.live = []string{"u2"}

	// Push the reconciliation clock past the grace window.
	f.lifecycle.now = func() int64 { return time.Now().UnixMilli() + 2*time.Minute.Milliseconds() }

	report := f.lifecycle.Reconcile(ctx)
	require.Equal(t, 2, report.Corrected)
	require.Empty(t, report.Errors)

	for user, want := range map[string]model.PresenceStatus{
		"u1": model.StatusOffline,
		"u2": model.StatusOnline,
		"u3": model.StatusOffline,
	} {
		rec, err := f.tracker.StatusOf(ctx, user)
		require.NoError(t, err)
		require.Equal(t, want, rec.Status, "user %s", user)
	}
}

func TestLifecycle_ReconcileRespectsGraceWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tracker.SetOnline(ctx, "u1"))
	f.gateway.live = nil

	report := f.lifecycle.Reconcile(ctx)
	require.Zero(t, report.Corrected, "fresh row must survive the grace window")
	require.Len(t, report.Warnings, 1)

	rec, err := f.tracker.StatusOf(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.StatusOnline, rec.Status)
}

func TestLifecycle_ReconcileFailureNeverFailsDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tracker.SetOnline(ctx, "u1"))
	f.gateway.fail = true

	require.NoError(t, f.lifecycle.Disconnect(ctx, "u1", "c1"))

	rec, err := f.tracker.StatusOf(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.StatusOffline, rec.Status, "store mutation must stand")
}

func TestCommands_StopTakesEffectWithoutAck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sessions.Start(ctx, "u1")
	require.NoError(t, err)

	cmd, err := f.commands.Issue(ctx, "u1", model.CommandStop, "policy")
	require.NoError(t, err)
	require.NotEmpty(t, cmd.ID)

	active, err := f.sessions.Active(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, active, "stop applies immediately, ack is UI feedback only")

	rows, err := f.store.ListSessions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Equal(t, model.StopReasonCommand, *rows[0].StopReason)
	require.Equal(t, 1, f.gateway.sentTo(CommandGroup("u1")))
}

func TestCommands_StartCreatesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.commands.Issue(ctx, "u1", model.CommandStart, "")
	require.NoError(t, err)

	active, err := f.sessions.Active(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
}

func TestCommands_IssueSurvivesTransportFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.fail = true
	ctx := context.Background()

	_, err := f.sessions.Start(ctx, "u1")
	require.NoError(t, err)

	cmd, err := f.commands.Issue(ctx, "u1", model.CommandStop, "")
	require.NoError(t, err, "broadcast failure must not fail the issue")

	got, found, err := f.store.GetCommand(ctx, cmd.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Nil(t, got.PublishedAt, "publish time only set on successful broadcast")

	active, err := f.sessions.Active(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestCommands_AcknowledgeTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd, err := f.commands.Issue(ctx, "u1", model.CommandStart, "")
	require.NoError(t, err)

	n, err := f.commands.Acknowledge(ctx, []string{cmd.ID})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = f.commands.Acknowledge(ctx, []string{cmd.ID})
	require.NoError(t, err)
	require.Equal(t, 0, n, "duplicate ack is not an error")
}

func TestCommands_RedeliverPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c1, err := f.commands.Issue(ctx, "u1", model.CommandStart, "")
	require.NoError(t, err)
	c2, err := f.commands.Issue(ctx, "u1", model.CommandStop, "")
	require.NoError(t, err)

	_, err = f.commands.Acknowledge(ctx, []string{c1.ID})
	require.NoError(t, err)

	f.gateway.mu.Lock()
	f.gateway.sent = nil
	f.gateway.mu.Unlock()

	n, err := f.commands.Redeliver(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, n, "only unacknowledged commands redeliver")

	f.gateway.mu.Lock()
	defer f.gateway.mu.Unlock()
	require.Len(t, f.gateway.sent, 1)
	require.Equal(t, "u1", f.gateway.sent[0].userID)
	require.Contains(t, string(f.gateway.sent[0].data), c2.ID)
}

func TestCommands_RejectsUnknownType(t *testing.T) {
	f := newFixture(t)

	_, err := f.commands.Issue(context.Background(), "u1", model.CommandType("RESTART"), "")
	require.Error(t, err)

	_, err = f.commands.Issue(context.Background(), "", model.CommandStop, "")
	require.ErrorIs(t, err, ErrMissingUserID)
}
