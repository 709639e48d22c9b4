package game

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/estate-game/estate-server/internal/game/bot"
)

const (
	botActionTimeout = 10 * time.Second
	minBotRetryDelay = 10 * time.Millisecond
	maxBotRetryDelay = 30 * time.Second
)

// botScheduler paces bot turns. Each committed action reschedules the
// session; a timer that fires against a newer version is dropped. A bot turn
// that does not commit is retried with backoff until one does.
type botScheduler struct {
	engine *Engine
	delay  time.Duration
	logger *zap.Logger

	mu       sync.Mutex
	timers   map[string][]*time.Timer
	failures map[string]int
	closed   bool
}

func newBotScheduler(e *Engine, delay time.Duration, logger *zap.Logger) *botScheduler {
	return &botScheduler{
		engine:   e,
		delay:    delay,
		logger:   logger,
		timers:   make(map[string][]*time.Timer),
		failures: make(map[string]int),
	}
}

// schedule runs with the machine lock held.
func (b *botScheduler) schedule(m *Machine) {
	b.mu.Lock()
	delete(b.failures, m.session.ID)
	b.mu.Unlock()
	b.arm(m, b.delay)
}

// retry re-arms the session after a bot turn failed to commit. Runs with the
// machine lock held.
func (b *botScheduler) retry(m *Machine) {
	b.mu.Lock()
	b.failures[m.session.ID]++
	attempt := b.failures[m.session.ID]
	b.mu.Unlock()

	delay := retryDelay(b.delay, attempt)
	if b.logger != nil {
		b.logger.Info("bot turn will be retried",
			zap.String("session_id", m.session.ID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
	}
	b.arm(m, delay)
}

// retryDelay doubles the pacing delay per failed attempt, within bounds.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base < minBotRetryDelay {
		base = minBotRetryDelay
	}
	d := base
	for i := 0; i < attempt && d < maxBotRetryDelay; i++ {
		d *= 2
	}
	if d > maxBotRetryDelay {
		d = maxBotRetryDelay
	}
	return d
}

func (b *botScheduler) arm(m *Machine, delay time.Duration) {
	s := m.session
	b.stop(s.ID)

	bots := s.expectedBots()
	if len(bots) == 0 {
		return
	}
	version := s.Version

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, id := range bots {
		botID := id
		b.timers[s.ID] = append(b.timers[s.ID], time.AfterFunc(delay, func() {
			b.fire(m, botID, version)
		}))
	}
}

func (b *botScheduler) stop(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.timers[sessionID] {
		t.Stop()
	}
	delete(b.timers, sessionID)
}

// cancel forgets the session entirely.
func (b *botScheduler) cancel(sessionID string) {
	b.stop(sessionID)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, sessionID)
}

func (b *botScheduler) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, timers := range b.timers {
		for _, t := range timers {
			t.Stop()
		}
		delete(b.timers, id)
	}
	b.failures = make(map[string]int)
}

// fire re-validates under the session lock before acting: the session may
// have moved on while the timer waited.
func (b *botScheduler) fire(m *Machine, botID string, version int64) {
	ctx, cancel := context.WithTimeout(context.Background(), botActionTimeout)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session
	if m.closed || s.Version != version || indexOf(s.expectedBots(), botID) < 0 {
		return
	}
	if !b.act(ctx, m, botID) && m.session.Version == version {
		b.retry(m)
	}
}

// act runs the bot's decision, then the fallback if the decision was
// refused. It reports whether either committed.
func (b *botScheduler) act(ctx context.Context, m *Machine, botID string) bool {
	s := m.session
	p := s.Player(botID)
	if p == nil {
		return false
	}
	decision := b.engine.brain(p.Difficulty).Decide(s.botView(b.engine.board, b.engine.constants), botID)
	if decision.Action == bot.ActionNone {
		return false
	}

	cmd := decisionCommand(s.ID, botID, decision)
	_, err := m.executeLocked(ctx, cmd)
	if err == nil {
		return true
	}
	if b.logger != nil {
		b.logger.Warn("bot action rejected",
			zap.String("session_id", s.ID),
			zap.String("player_id", botID),
			zap.String("action", string(cmd.Type)),
			zap.String("reason", decision.Reason),
			zap.Error(err),
		)
	}
	if KindOf(err) == KindPersistence {
		return false
	}

	fb, ok := fallbackCommand(m.session, cmd)
	if !ok {
		return false
	}
	if _, err := m.executeLocked(ctx, fb); err != nil {
		if b.logger != nil {
			b.logger.Warn("bot fallback rejected",
				zap.String("session_id", s.ID),
				zap.String("player_id", botID),
				zap.String("action", string(fb.Type)),
				zap.Error(err),
			)
		}
		return false
	}
	return true
}

func decisionCommand(sessionID, botID string, d bot.Decision) Command {
	return Command{
		Type:      ActionType(d.Action),
		SessionID: sessionID,
		PlayerID:  botID,
		ActionID:  uuid.NewString(),
		Square:    d.Square,
		Amount:    d.Amount,
		TradeID:   d.TradeID,
	}
}

// fallbackCommand picks the always-legal alternative to a refused decision.
func fallbackCommand(s *Session, failed Command) (Command, bool) {
	next := failed
	next.ActionID = uuid.NewString()
	next.Amount = 0
	switch failed.Type {
	case ActionPlaceBid:
		next.Type = ActionPassAuction
	case ActionPurchase:
		next.Type = ActionDecline
	case ActionBuild, ActionUnmortgage:
		if s.RollAgain {
			next.Type = ActionRollDice
		} else {
			next.Type = ActionEndTurn
		}
	case ActionPayJailFine, ActionUseJailCard:
		next.Type = ActionRollDice
	case ActionAcceptTrade:
		next.Type = ActionRejectTrade
	default:
		return Command{}, false
	}
	return next, true
}
