package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRegistry(t *testing.T, dice *FixedDice) (*Registry, *memStore, *fakeEmitter) {
	t.Helper()
	e, store := newTestEngine(t, dice)
	r := NewRegistry(e, zaptest.NewLogger(t), RegistryConfig{BotDelay: 5 * time.Millisecond})
	em := &fakeEmitter{}
	r.SetEmitter(em)
	t.Cleanup(r.Close)
	return r, store, em
}

func dispatch(t *testing.T, r *Registry, sessionID string, cmd Command) Result {
	t.Helper()
	cmd.SessionID = sessionID
	res, err := r.Dispatch(context.Background(), cmd)
	require.NoError(t, err, "%s by %s", cmd.Type, cmd.PlayerID)
	return res
}

func TestRegistryCreateAndLookup(t *testing.T) {
	r, store, _ := newTestRegistry(t, NewFixedDice())
	ctx := context.Background()

	m, err := r.Create(ctx, "")
	require.NoError(t, err)
	code := m.Snapshot().RoomCode
	assert.Len(t, code, roomCodeLength)
	assert.NotNil(t, store.stored(m.ID()), "creation is committed")

	byCode, err := r.GetByRoomCode(code)
	require.NoError(t, err)
	assert.Same(t, m, byCode)

	_, err = r.Create(ctx, code)
	assert.ErrorIs(t, err, ErrRoomCodeTaken)

	other, err := r.Create(ctx, "FIXED1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{m.ID(), other.ID()}, r.Sessions())

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = r.GetByRoomCode("NOPE")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistryCreateRollsBackOnCommitFailure(t *testing.T) {
	r, store, _ := newTestRegistry(t, NewFixedDice())
	store.fail(assert.AnError)

	_, err := r.Create(context.Background(), "ROOMXX")
	require.Error(t, err)
	assert.Empty(t, r.Sessions())

	_, err = r.Create(context.Background(), "ROOMXX")
	assert.NoError(t, err, "the room code is released again")
}

func TestRegistryRoutesEvents(t *testing.T) {
	r, _, em := newTestRegistry(t, NewFixedDice(Dice{1, 2}))
	m, err := r.Create(context.Background(), "ROUTES")
	require.NoError(t, err)
	id := m.ID()

	dispatch(t, r, id, command(ActionJoin, "alice"))
	dispatch(t, r, id, command(ActionJoin, "bob"))
	dispatch(t, r, id, command(ActionStart, "alice"))
	dispatch(t, r, id, command(ActionRollDice, "alice"))

	room := em.roomEvents(id)
	assert.Contains(t, room, string(EventGameStarted))
	assert.Contains(t, room, string(EventDiceRolled))
	assert.Contains(t, room, string(EventSessionUpdated))
	assert.NotContains(t, room, string(EventDecision), "decisions are private")

	decisions := em.toPlayer("alice", string(EventDecision))
	require.Len(t, decisions, 1)
	assert.Equal(t, "purchase", decisions[0].Payload["decision"])
	assert.Empty(t, em.toPlayer("bob", string(EventDecision)))
}

func TestRegistryReportsRefusals(t *testing.T) {
	r, _, em := newTestRegistry(t, NewFixedDice())
	m, err := r.Create(context.Background(), "ERRORS")
	require.NoError(t, err)
	id := m.ID()
	dispatch(t, r, id, command(ActionJoin, "alice"))
	dispatch(t, r, id, command(ActionJoin, "bob"))
	dispatch(t, r, id, command(ActionStart, "alice"))

	cmd := command(ActionRollDice, "bob")
	cmd.SessionID = id
	_, err = r.Dispatch(context.Background(), cmd)
	require.ErrorIs(t, err, ErrNotYourTurn)

	errs := em.toPlayer("bob", string(EventError))
	require.Len(t, errs, 1)
	assert.Equal(t, "not_your_turn", errs[0].Payload["code"])
	assert.Equal(t, "validation", errs[0].Payload["kind"])
	assert.Equal(t, cmd.ActionID, errs[0].Payload["action_id"])
	assert.Empty(t, em.toPlayer("alice", string(EventError)))

	missing := command(ActionRollDice, "bob")
	missing.SessionID = "gone"
	_, err = r.Dispatch(context.Background(), missing)
	require.ErrorIs(t, err, ErrSessionNotFound)
	errs = em.toPlayer("bob", string(EventError))
	require.Len(t, errs, 2)
	assert.Equal(t, "session_not_found", errs[1].Payload["code"])
}

func TestRegistryDispatchAssignsActionID(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewFixedDice())
	m, err := r.Create(context.Background(), "ACTION")
	require.NoError(t, err)

	cmd := Command{Type: ActionJoin, SessionID: m.ID(), PlayerID: "alice"}
	_, err = r.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	assert.Len(t, m.Snapshot().AppliedActions, 1)
}

func TestRegistryDestroy(t *testing.T) {
	r, store, _ := newTestRegistry(t, NewFixedDice())
	ctx := context.Background()
	m, err := r.Create(ctx, "DOOMED")
	require.NoError(t, err)
	id := m.ID()
	dispatch(t, r, id, command(ActionJoin, "alice"))
	require.NoError(t, r.Bind("alice", id, "conn-1"))

	require.NoError(t, r.Destroy(ctx, id))
	assert.Nil(t, store.stored(id))
	_, err = r.Get(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = r.GetByRoomCode("DOOMED")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, bound := r.SessionOf("alice")
	assert.False(t, bound)

	// a caller still holding the machine cannot act on it
	_, err = m.Execute(ctx, command(ActionJoin, "bob"))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.ErrorIs(t, r.Destroy(ctx, id), ErrSessionNotFound)
}

func TestRegistryRestore(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewFixedDice())
	ctx := context.Background()
	m, err := r.Create(ctx, "KEEPME")
	require.NoError(t, err)
	id := m.ID()
	dispatch(t, r, id, command(ActionJoin, "alice"))
	dispatch(t, r, id, command(ActionJoin, "bob"))

	restarted := NewRegistry(r.engine, zaptest.NewLogger(t), RegistryConfig{BotDelay: time.Millisecond})
	t.Cleanup(restarted.Close)
	restored, err := restarted.Restore(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, m.Version(), restored.Version())

	byCode, err := restarted.GetByRoomCode("KEEPME")
	require.NoError(t, err)
	assert.Same(t, restored, byCode)

	again, err := restarted.Restore(ctx, id)
	require.NoError(t, err)
	assert.Same(t, restored, again)

	_, err = restarted.Restore(ctx, "unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistryBindings(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewFixedDice())
	m, err := r.Create(context.Background(), "BINDME")
	require.NoError(t, err)

	assert.ErrorIs(t, r.Bind("alice", "missing", "c1"), ErrSessionNotFound)

	require.NoError(t, r.Bind("alice", m.ID(), "c1"))
	require.NoError(t, r.Bind("alice", m.ID(), "c2"))
	r.Unbind("alice", "c1")
	sid, ok := r.SessionOf("alice")
	assert.True(t, ok)
	assert.Equal(t, m.ID(), sid)

	r.Unbind("alice", "c2")
	_, ok = r.SessionOf("alice")
	assert.False(t, ok)
}

func TestRegistryFinish(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewFixedDice())
	m, err := r.Create(context.Background(), "FINISH")
	require.NoError(t, err)
	id := m.ID()
	dispatch(t, r, id, command(ActionJoin, "alice"))
	dispatch(t, r, id, command(ActionJoin, "bob"))
	dispatch(t, r, id, command(ActionStart, "alice"))

	_, err = r.Finish(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, m.Snapshot().Status)
}

func TestGameFinishedEventReleasesBotTimers(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewFixedDice(Dice{1, 3}))
	r.scheduler.delay = time.Hour
	m, err := r.Create(context.Background(), "BOTEND")
	require.NoError(t, err)
	id := m.ID()
	dispatch(t, r, id, command(ActionJoin, "alice"))
	dispatch(t, r, id, command(ActionAddBot, "alice"))
	dispatch(t, r, id, command(ActionStart, "alice"))
	dispatch(t, r, id, command(ActionRollDice, "alice"))
	dispatch(t, r, id, command(ActionEndTurn, "alice"))

	r.scheduler.mu.Lock()
	require.NotEmpty(t, r.scheduler.timers[id], "bot turn is pending")
	r.scheduler.failures[id] = 2
	r.scheduler.mu.Unlock()

	r.engine.bus.Publish(Event{Type: EventGameFinished, SessionID: id})

	r.scheduler.mu.Lock()
	defer r.scheduler.mu.Unlock()
	assert.Empty(t, r.scheduler.timers[id])
	assert.NotContains(t, r.scheduler.failures, id)
}

func TestBotTakesItsTurn(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewFixedDice(Dice{1, 3}))
	m, err := r.Create(context.Background(), "BOTSUP")
	require.NoError(t, err)
	id := m.ID()

	dispatch(t, r, id, command(ActionJoin, "alice"))
	addBot := command(ActionAddBot, "alice")
	addBot.Difficulty = "easy"
	dispatch(t, r, id, addBot)
	dispatch(t, r, id, command(ActionStart, "alice"))

	dispatch(t, r, id, command(ActionRollDice, "alice"))
	dispatch(t, r, id, command(ActionEndTurn, "alice"))

	botID := m.Snapshot().Players[1].ID
	assert.Eventually(t, func() bool {
		s := m.Snapshot()
		return s.CurrentTurn == "alice" && s.Round == 2
	}, 2*time.Second, 5*time.Millisecond)

	s := m.Snapshot()
	assert.Equal(t, 4, s.Player(botID).Position)
	assert.Equal(t, 1300, s.Player(botID).Cash)
}

func TestBotRetriesAfterFailedCommit(t *testing.T) {
	r, st, _ := newTestRegistry(t, NewFixedDice(Dice{1, 3}))
	m, err := r.Create(context.Background(), "BOTRTY")
	require.NoError(t, err)
	id := m.ID()

	dispatch(t, r, id, command(ActionJoin, "alice"))
	dispatch(t, r, id, command(ActionAddBot, "alice"))
	dispatch(t, r, id, command(ActionStart, "alice"))
	dispatch(t, r, id, command(ActionRollDice, "alice"))

	// end_turn commits, then the bot's roll hits the failure
	st.failAfter(1, errors.New("connection reset"))
	dispatch(t, r, id, command(ActionEndTurn, "alice"))

	assert.Eventually(t, func() bool {
		s := m.Snapshot()
		return s.CurrentTurn == "alice" && s.Round == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, st.failures())

	botID := m.Snapshot().Players[1].ID
	assert.Equal(t, 4, m.Snapshot().Player(botID).Position)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 20*time.Millisecond, retryDelay(time.Millisecond, 1))
	assert.Equal(t, 4*time.Second, retryDelay(time.Second, 2))
	assert.Equal(t, maxBotRetryDelay, retryDelay(time.Second, 20))
}

func TestFallbackCommand(t *testing.T) {
	s := &Session{RollAgain: true}
	cases := []struct {
		failed ActionType
		want   ActionType
		ok     bool
	}{
		{ActionPlaceBid, ActionPassAuction, true},
		{ActionPurchase, ActionDecline, true},
		{ActionBuild, ActionRollDice, true},
		{ActionPayJailFine, ActionRollDice, true},
		{ActionAcceptTrade, ActionRejectTrade, true},
		{ActionEndTurn, "", false},
	}
	for _, tc := range cases {
		next, ok := fallbackCommand(s, Command{Type: tc.failed, ActionID: "a1", Amount: 40})
		assert.Equal(t, tc.ok, ok, "%s", tc.failed)
		if !ok {
			continue
		}
		assert.Equal(t, tc.want, next.Type)
		assert.NotEqual(t, "a1", next.ActionID)
		assert.Zero(t, next.Amount)
	}

	s.RollAgain = false
	next, ok := fallbackCommand(s, Command{Type: ActionUnmortgage})
	require.True(t, ok)
	assert.Equal(t, ActionEndTurn, next.Type)
}
