package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	roomCodeLetters  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	roomCodeLength   = 6
	roomCodeAttempts = 16
)

// RegistryConfig tunes the registry.
type RegistryConfig struct {
	// BotDelay paces bot actions.
	BotDelay time.Duration
}

type binding struct {
	sessionID string
	conns     map[string]bool
}

// Registry maps session ids and room codes to live machines. Its own lock
// never wraps a machine lock.
type Registry struct {
	engine *Engine
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Machine
	rooms    map[string]string
	bindings map[string]*binding

	emitterMu sync.RWMutex
	emitter   Emitter

	rngMu sync.Mutex
	rng   *rand.Rand

	scheduler *botScheduler
	handle    int
	finished  int
}

// NewRegistry creates a registry and subscribes it to the engine's events.
func NewRegistry(engine *Engine, logger *zap.Logger, cfg RegistryConfig) *Registry {
	r := &Registry{
		engine:    engine,
		logger:    logger,
		sessions:  make(map[string]*Machine),
		rooms:     make(map[string]string),
		bindings:  make(map[string]*binding),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		scheduler: newBotScheduler(engine, cfg.BotDelay, logger),
	}
	r.handle = engine.bus.Subscribe(r.forward)
	r.finished = engine.bus.SubscribeTyped(EventGameFinished, r.gameFinished)
	return r
}

// gameFinished drops the session's bot timers; a finished game has no turns
// left to pace.
func (r *Registry) gameFinished(ev Event) {
	r.scheduler.cancel(ev.SessionID)
	if r.logger != nil {
		r.logger.Debug("bot timers released", zap.String("session_id", ev.SessionID))
	}
}

// SetEmitter attaches the delivery collaborator.
func (r *Registry) SetEmitter(e Emitter) {
	r.emitterMu.Lock()
	defer r.emitterMu.Unlock()
	r.emitter = e
}

func (r *Registry) currentEmitter() Emitter {
	r.emitterMu.RLock()
	defer r.emitterMu.RUnlock()
	return r.emitter
}

// forward routes bus events: targeted events to their player, the rest to
// the room.
func (r *Registry) forward(ev Event) {
	em := r.currentEmitter()
	if em == nil {
		return
	}
	if ev.TargetPlayer != "" {
		em.DeliverToPlayer(ev.TargetPlayer, string(ev.Type), ev)
		return
	}
	em.DeliverToRoom(ev.SessionID, string(ev.Type), ev)
}

func (r *Registry) newRoomCode() string {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	b := make([]byte, roomCodeLength)
	for i := range b {
		b[i] = roomCodeLetters[r.rng.Intn(len(roomCodeLetters))]
	}
	return string(b)
}

// Create opens a new waiting session. An empty roomCode is generated.
func (r *Registry) Create(ctx context.Context, roomCode string) (*Machine, error) {
	id := uuid.NewString()

	r.mu.Lock()
	if roomCode == "" {
		for i := 0; i < roomCodeAttempts; i++ {
			candidate := r.newRoomCode()
			if _, taken := r.rooms[candidate]; !taken {
				roomCode = candidate
				break
			}
		}
		if roomCode == "" {
			r.mu.Unlock()
			return nil, fmt.Errorf("no free room code after %d attempts: %w", roomCodeAttempts, ErrRoomCodeTaken)
		}
	} else if _, taken := r.rooms[roomCode]; taken {
		r.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", roomCode, ErrRoomCodeTaken)
	}
	// reserve the code while the first commit runs
	r.rooms[roomCode] = id
	r.mu.Unlock()

	m := r.engine.NewMachine(id, roomCode)
	if err := r.engine.store.Commit(ctx, m.session.Clone(), ""); err != nil {
		r.mu.Lock()
		delete(r.rooms, roomCode)
		r.mu.Unlock()
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.onCommit = r.scheduler.schedule

	r.mu.Lock()
	r.sessions[id] = m
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Info("session created",
			zap.String("session_id", id),
			zap.String("room_code", roomCode),
		)
	}
	return m, nil
}

// Get returns the live machine for a session id.
func (r *Registry) Get(id string) (*Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return m, nil
}

// GetByRoomCode resolves a room code to its machine.
func (r *Registry) GetByRoomCode(code string) (*Machine, error) {
	r.mu.RLock()
	id, ok := r.rooms[code]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("room %s: %w", code, ErrSessionNotFound)
	}
	return r.Get(id)
}

// Sessions lists live session ids in sorted order.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Restore loads a persisted session back into the registry, for example
// after a restart. Pending bot turns are rescheduled.
func (r *Registry) Restore(ctx context.Context, id string) (*Machine, error) {
	if m, err := r.Get(id); err == nil {
		return m, nil
	}
	m, err := r.engine.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}
	m.onCommit = r.scheduler.schedule

	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.sessions[id] = m
	r.rooms[m.session.RoomCode] = id
	r.mu.Unlock()

	m.mu.Lock()
	r.scheduler.schedule(m)
	m.mu.Unlock()

	if r.logger != nil {
		r.logger.Info("session restored",
			zap.String("session_id", id),
			zap.Int64("version", m.Version()),
		)
	}
	return m, nil
}

// Destroy tears a session down and removes it from the store.
func (r *Registry) Destroy(ctx context.Context, id string) error {
	r.mu.Lock()
	m, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	delete(r.sessions, id)
	for code, sid := range r.rooms {
		if sid == id {
			delete(r.rooms, code)
		}
	}
	for playerID, b := range r.bindings {
		if b.sessionID == id {
			delete(r.bindings, playerID)
		}
	}
	r.mu.Unlock()

	r.scheduler.cancel(id)
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	if err := r.engine.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if r.logger != nil {
		r.logger.Info("session destroyed", zap.String("session_id", id))
	}
	return nil
}

// Dispatch executes a command on its session. Refusals are also reported to
// the requesting player through the emitter.
func (r *Registry) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	if cmd.ActionID == "" {
		cmd.ActionID = uuid.NewString()
	}
	m, err := r.Get(cmd.SessionID)
	if err != nil {
		r.reportError(cmd, err)
		return Result{}, err
	}
	res, err := m.Execute(ctx, cmd)
	if err != nil {
		r.reportError(cmd, err)
		return Result{}, err
	}
	return res, nil
}

// Finish ends a running game by net worth.
func (r *Registry) Finish(ctx context.Context, sessionID string) (Result, error) {
	m, err := r.Get(sessionID)
	if err != nil {
		return Result{}, err
	}
	return m.Execute(ctx, Command{
		Type:      ActionFinish,
		SessionID: sessionID,
		ActionID:  uuid.NewString(),
		Admin:     true,
	})
}

func (r *Registry) reportError(cmd Command, err error) {
	if r.logger != nil {
		r.logger.Debug("action refused",
			zap.String("session_id", cmd.SessionID),
			zap.String("player_id", cmd.PlayerID),
			zap.String("action", string(cmd.Type)),
			zap.Error(err),
		)
	}
	em := r.currentEmitter()
	if em == nil || cmd.PlayerID == "" {
		return
	}
	payload := map[string]interface{}{
		"code":      "internal",
		"message":   err.Error(),
		"kind":      KindOf(err).String(),
		"action":    string(cmd.Type),
		"action_id": cmd.ActionID,
	}
	var ae *ActionError
	if errors.As(err, &ae) {
		payload["code"] = ae.Code
	} else if errors.Is(err, ErrSessionNotFound) {
		payload["code"] = codeOf(ErrSessionNotFound)
		payload["kind"] = KindValidation.String()
	}
	em.DeliverToPlayer(cmd.PlayerID, string(EventError), Event{
		Type:      EventError,
		SessionID: cmd.SessionID,
		PlayerID:  cmd.PlayerID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

// Bind records that connection connID of playerID follows sessionID.
func (r *Registry) Bind(playerID, sessionID, connID string) error {
	if _, err := r.Get(sessionID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[playerID]
	if !ok || b.sessionID != sessionID {
		b = &binding{sessionID: sessionID, conns: make(map[string]bool)}
		r.bindings[playerID] = b
	}
	b.conns[connID] = true
	return nil
}

// Unbind drops one connection. The player stays seated in the session.
func (r *Registry) Unbind(playerID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[playerID]
	if !ok {
		return
	}
	delete(b.conns, connID)
	if len(b.conns) == 0 {
		delete(r.bindings, playerID)
	}
}

// SessionOf returns the session a player is bound to.
func (r *Registry) SessionOf(playerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[playerID]
	if !ok {
		return "", false
	}
	return b.sessionID, true
}

// Close stops bot timers and detaches from the event bus.
func (r *Registry) Close() {
	r.scheduler.close()
	r.engine.bus.Unsubscribe(r.handle)
	r.engine.bus.Unsubscribe(r.finished)
}
