package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Result describes a committed action.
type Result struct {
	Version   int64
	Events    []Event
	Duplicate bool
}

// Machine serialises all actions on one session. Each action works on the
// live session and restores a bookmark taken before it if anything fails.
type Machine struct {
	engine *Engine

	mu      sync.Mutex
	session *Session
	dice    Roller
	closed  bool

	// onCommit runs under the lock after every successful commit.
	onCommit func(*Machine)
}

// ID returns the session id.
func (m *Machine) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ID
}

// Snapshot returns a deep copy of the committed session.
func (m *Machine) Snapshot() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// Version returns the committed version.
func (m *Machine) Version() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Version
}

// Execute applies one command atomically.
func (m *Machine) Execute(ctx context.Context, cmd Command) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executeLocked(ctx, cmd)
}

func (m *Machine) executeLocked(ctx context.Context, cmd Command) (Result, error) {
	e := m.engine
	s := m.session
	if m.closed {
		return Result{}, invalid(ErrSessionNotFound, "session %s was closed", s.ID)
	}
	if cmd.SessionID != "" && cmd.SessionID != s.ID {
		return Result{}, invalid(ErrSessionNotFound, "command addressed to %s", cmd.SessionID)
	}
	if s.hasApplied(cmd.ActionID) {
		return Result{Version: s.Version, Duplicate: true}, nil
	}
	if dup, err := m.appliedBefore(ctx, cmd.ActionID); err != nil {
		return Result{}, err
	} else if dup {
		return Result{Version: s.Version, Duplicate: true}, nil
	}

	bookmark := s.Clone()
	tx := &txn{e: e, s: s, dice: m.dice, cmd: cmd, logger: e.logger}

	if err := e.apply(tx, cmd); err != nil {
		m.session = bookmark
		if e.logger != nil {
			e.logger.Debug("action rejected",
				zap.String("session_id", s.ID),
				zap.String("player_id", cmd.PlayerID),
				zap.String("action", string(cmd.Type)),
				zap.Error(err),
			)
		}
		return Result{}, err
	}

	s.Version++
	s.recordAction(cmd.ActionID)
	s.UpdatedAt = time.Now().UTC()

	if err := e.store.Commit(ctx, s.Clone(), cmd.ActionID); err != nil {
		m.session = bookmark
		if e.logger != nil {
			e.logger.Error("commit failed, session restored",
				zap.String("session_id", s.ID),
				zap.Int64("version", bookmark.Version),
				zap.String("action", string(cmd.Type)),
				zap.Error(err),
			)
		}
		return Result{}, &ActionError{
			Kind:    KindPersistence,
			Code:    codeOf(ErrCommitFailed),
			Message: "state was not changed",
			Err:     fmt.Errorf("%w: %v", ErrCommitFailed, err),
		}
	}

	events := append(tx.events, tx.newEvent(EventSessionUpdated, cmd.PlayerID, map[string]interface{}{
		"session": s.Public(),
	}))
	for i := range events {
		events[i].Version = s.Version
	}
	// recorded before publishing so finish listeners see the whole log
	if e.recorder != nil {
		e.recorder.Record(bookmark, s, cmd, tx.rolls)
	}
	// published under the lock so subscribers see commits in version order
	e.bus.PublishBatch(events)
	if m.onCommit != nil {
		m.onCommit(m)
	}
	return Result{Version: s.Version, Events: events}, nil
}

// appliedBefore asks the store about action ids old enough to have left the
// session's window. While the window is not full it holds every id.
func (m *Machine) appliedBefore(ctx context.Context, actionID string) (bool, error) {
	s := m.session
	log, ok := m.engine.store.(ActionLog)
	if !ok || actionID == "" || len(s.AppliedActions) < appliedActionLimit {
		return false, nil
	}
	_, found, err := log.AppliedVersion(ctx, s.ID, actionID)
	if err != nil {
		return false, &ActionError{
			Kind:    KindPersistence,
			Code:    codeOf(ErrCommitFailed),
			Message: "action history unavailable",
			Err:     fmt.Errorf("%w: %v", ErrCommitFailed, err),
		}
	}
	return found, nil
}

// txn is the working context of one action.
type txn struct {
	e      *Engine
	s      *Session
	dice   Roller
	cmd    Command
	events []Event
	rolls  []Dice
	logger *zap.Logger
}

func (tx *txn) roll() Dice {
	d := tx.dice.Roll()
	tx.rolls = append(tx.rolls, d)
	tx.s.Dice = d
	return d
}

func (tx *txn) newEvent(t EventType, playerID string, payload map[string]interface{}) Event {
	return Event{
		Type:      t,
		SessionID: tx.s.ID,
		PlayerID:  playerID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

func (tx *txn) emit(t EventType, playerID string, payload map[string]interface{}) {
	tx.events = append(tx.events, tx.newEvent(t, playerID, payload))
}

// emitTo queues an event only the target player receives.
func (tx *txn) emitTo(target string, t EventType, payload map[string]interface{}) {
	ev := tx.newEvent(t, target, payload)
	ev.TargetPlayer = target
	tx.events = append(tx.events, ev)
}

func (tx *txn) setPhase(p Phase) {
	s := tx.s
	if s.Phase == p {
		return
	}
	from := s.Phase
	s.Phase = p
	tx.emit(EventPhaseChanged, s.CurrentTurn, map[string]interface{}{
		"from":   from.String(),
		"to":     p.String(),
		"player": s.CurrentTurn,
	})
}
