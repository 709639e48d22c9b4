package game

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/estate-game/estate-server/internal/game/board"
)

// memStore keeps committed clones. failNext makes a Commit fail once
// skipNext further commits have succeeded.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	applied  map[string]int64
	commits  int
	failed   int
	failNext error
	skipNext int
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*Session), applied: make(map[string]int64)}
}

func (m *memStore) LoadSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *memStore) Commit(_ context.Context, s *Session, actionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		if m.skipNext == 0 {
			m.failNext = nil
			m.failed++
			return err
		}
		m.skipNext--
	}
	m.sessions[s.ID] = s.Clone()
	if _, ok := m.applied[s.ID+"/"+actionID]; !ok && actionID != "" {
		m.applied[s.ID+"/"+actionID] = s.Version
	}
	m.commits++
	return nil
}

func (m *memStore) AppliedVersion(_ context.Context, sessionID, actionID string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.applied[sessionID+"/"+actionID]
	return v, ok, nil
}

func (m *memStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) fail(err error) {
	m.failAfter(0, err)
}

func (m *memStore) failAfter(commits int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
	m.skipNext = commits
}

func (m *memStore) failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed
}

func (m *memStore) stored(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.Clone()
	}
	return nil
}

type delivery struct {
	target string
	event  string
	ev     Event
}

// fakeEmitter records deliveries; target is a session id for room
// deliveries and a player id otherwise.
type fakeEmitter struct {
	mu     sync.Mutex
	room   []delivery
	player []delivery
}

func (f *fakeEmitter) DeliverToRoom(sessionID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, _ := payload.(Event)
	f.room = append(f.room, delivery{target: sessionID, event: event, ev: ev})
}

func (f *fakeEmitter) DeliverToPlayer(playerID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, _ := payload.(Event)
	f.player = append(f.player, delivery{target: playerID, event: event, ev: ev})
}

func (f *fakeEmitter) toPlayer(playerID, event string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, d := range f.player {
		if d.target == playerID && d.event == event {
			out = append(out, d.ev)
		}
	}
	return out
}

func (f *fakeEmitter) roomEvents(sessionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, d := range f.room {
		if d.target == sessionID {
			out = append(out, d.event)
		}
	}
	return out
}

func newTestEngine(t *testing.T, dice *FixedDice, opts ...EngineOption) (*Engine, *memStore) {
	t.Helper()
	store := newMemStore()
	cfg := DefaultEngineConfig()
	cfg.DiceSeed = 42
	opts = append([]EngineOption{WithDice(func(string) Roller { return dice })}, opts...)
	return NewEngine(store, zaptest.NewLogger(t), cfg, opts...), store
}

// newGame seats the players in order and starts the game with the first.
func newGame(t *testing.T, e *Engine, players ...string) *Machine {
	t.Helper()
	m := e.NewMachine("session-1", "ROOMAB")
	for _, id := range players {
		mustExec(t, m, command(ActionJoin, id))
	}
	mustExec(t, m, command(ActionStart, players[0]))
	return m
}

func command(typ ActionType, playerID string) Command {
	return Command{Type: typ, PlayerID: playerID, ActionID: uuid.NewString()}
}

func squareCommand(typ ActionType, playerID string, square int) Command {
	cmd := command(typ, playerID)
	cmd.Square = square
	return cmd
}

func bidCommand(playerID string, amount int) Command {
	cmd := command(ActionPlaceBid, playerID)
	cmd.Amount = amount
	return cmd
}

func mustExec(t *testing.T, m *Machine, cmd Command) Result {
	t.Helper()
	res, err := m.Execute(context.Background(), cmd)
	require.NoError(t, err, "%s by %s", cmd.Type, cmd.PlayerID)
	return res
}

// give assigns squares to owner directly on the live session.
func give(m *Machine, owner string, positions ...int) {
	for _, pos := range positions {
		m.session.Squares[pos].Owner = owner
	}
}

// errorCode returns the code of an ActionError, failing when err is not one.
func errorCode(t *testing.T, err error) string {
	t.Helper()
	var ae *ActionError
	require.True(t, errors.As(err, &ae), "expected an ActionError, got %v", err)
	return ae.Code
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func findEvent(events []Event, t EventType) (Event, bool) {
	for _, ev := range events {
		if ev.Type == t {
			return ev, true
		}
	}
	return Event{}, false
}

// checkInvariants asserts the properties every committed session keeps.
func checkInvariants(t *testing.T, b *board.Board, s *Session) {
	t.Helper()
	for _, p := range s.Players {
		require.GreaterOrEqual(t, p.Cash, 0, "player %s cash", p.ID)
		if p.Bankrupt {
			require.NotContains(t, s.TurnOrder, p.ID)
		}
	}
	for pos, sq := range s.Squares {
		require.Equal(t, pos, sq.Position)
		if !sq.Owned() {
			require.Zero(t, sq.Level, "unowned square %d has development", pos)
			require.False(t, sq.Mortgaged, "unowned square %d is mortgaged", pos)
			continue
		}
		owner := s.Player(sq.Owner)
		require.NotNil(t, owner, "square %d owned by unknown %s", pos, sq.Owner)
		require.False(t, owner.Bankrupt, "square %d owned by bankrupt %s", pos, sq.Owner)
		if sq.Level > 0 {
			require.False(t, sq.Mortgaged)
			require.Equal(t, board.CategoryProperty, b.MustTemplate(pos).Category)
		}
	}
	if s.Status == StatusInProgress {
		p := s.Player(s.CurrentTurn)
		require.NotNil(t, p)
		require.False(t, p.Bankrupt)
	}
}
