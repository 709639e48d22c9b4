// Package game owns the authoritative session state machine: turn flow, square
// resolution, purchases, auctions, trades, development, jail and bankruptcy.
// Every action runs as one unit of work against a session; state changes are
// committed through a Store before any event is published.
package game

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/estate-game/estate-server/internal/game/board"
	"github.com/estate-game/estate-server/internal/game/bot"
	"github.com/estate-game/estate-server/internal/game/cards"
	"github.com/estate-game/estate-server/internal/game/rules"
)

// Store persists committed sessions. Commit must be atomic: either the whole
// session and the action id are durable, or nothing is.
type Store interface {
	LoadSession(ctx context.Context, id string) (*Session, error)
	Commit(ctx context.Context, s *Session, actionID string) error
	DeleteSession(ctx context.Context, id string) error
}

// ActionLog is implemented by stores that remember applied action ids for
// longer than the session's own window of recent ids.
type ActionLog interface {
	AppliedVersion(ctx context.Context, sessionID, actionID string) (int64, bool, error)
}

// Emitter delivers events to connected clients.
type Emitter interface {
	DeliverToRoom(sessionID, event string, payload interface{})
	DeliverToPlayer(playerID, event string, payload interface{})
}

// EngineConfig carries the tunables the engine reads on every action.
type EngineConfig struct {
	Constants  rules.Constants
	MinPlayers int
	MaxPlayers int
	// DiceSeed seeds new sessions' dice and deck shuffles. Zero uses the clock.
	DiceSeed int64
}

// DefaultEngineConfig returns the standard two to six player setup.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Constants:  rules.DefaultConstants(),
		MinPlayers: 2,
		MaxPlayers: 6,
	}
}

// DiceFactory builds the roller for a new or resumed session.
type DiceFactory func(sessionID string) Roller

// Engine holds what all sessions share: board, catalog, store and event bus.
// Per-session state lives in a Machine.
type Engine struct {
	logger      *zap.Logger
	board       *board.Board
	constants   rules.Constants
	cfg         EngineConfig
	interpreter *cards.Interpreter
	store       Store
	bus         *EventBus
	dice        DiceFactory
	recorder    *ReplayRecorder

	brainsMu sync.Mutex
	brains   map[bot.Difficulty]*bot.Brain

	seedMu sync.Mutex
	seed   int64
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithDice replaces the dice factory, typically with FixedDice in tests.
func WithDice(f DiceFactory) EngineOption {
	return func(e *Engine) { e.dice = f }
}

// WithReplayRecorder records every committed action.
func WithReplayRecorder(r *ReplayRecorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

func WithBoard(b *board.Board) EngineOption {
	return func(e *Engine) { e.board = b }
}

func WithCatalog(c *cards.Catalog) EngineOption {
	return func(e *Engine) { e.interpreter = cards.NewInterpreter(c, e.logger) }
}

// NewEngine builds an engine over store. A nil logger disables logging.
func NewEngine(store Store, logger *zap.Logger, cfg EngineConfig, opts ...EngineOption) *Engine {
	if cfg.MinPlayers <= 0 {
		cfg.MinPlayers = 2
	}
	if cfg.MaxPlayers < cfg.MinPlayers {
		cfg.MaxPlayers = 6
	}
	if cfg.Constants.StartingCash == 0 {
		cfg.Constants = rules.DefaultConstants()
	}
	seed := cfg.DiceSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	e := &Engine{
		logger:    logger,
		board:     board.Default(),
		constants: cfg.Constants,
		cfg:       cfg,
		store:     store,
		bus:       NewEventBus(),
		brains:    make(map[bot.Difficulty]*bot.Brain),
		seed:      seed,
	}
	e.interpreter = cards.NewInterpreter(cards.DefaultCatalog(logger), logger)
	e.dice = func(string) Roller { return NewRandomDice(e.nextSeed()) }
	for _, opt := range opts {
		opt(e)
	}
	if e.recorder != nil {
		e.bus.SubscribeTyped(EventGameFinished, func(ev Event) {
			e.recorder.saveInBackground(ev.SessionID)
		})
	}
	return e
}

func (e *Engine) nextSeed() int64 {
	e.seedMu.Lock()
	defer e.seedMu.Unlock()
	e.seed++
	return e.seed
}

func (e *Engine) Board() *board.Board        { return e.board }
func (e *Engine) Constants() rules.Constants { return e.constants }
func (e *Engine) Bus() *EventBus             { return e.bus }
func (e *Engine) Store() Store               { return e.store }

func (e *Engine) brain(d bot.Difficulty) *bot.Brain {
	e.brainsMu.Lock()
	defer e.brainsMu.Unlock()
	b, ok := e.brains[d]
	if !ok {
		b = bot.New(d)
		e.brains[d] = b
	}
	return b
}

// NewMachine creates a waiting session with fresh squares and shuffled decks.
// The session is not persisted until its first commit.
func (e *Engine) NewMachine(id, roomCode string) *Machine {
	rng := rand.New(rand.NewSource(e.nextSeed()))
	now := time.Now().UTC()
	s := &Session{
		ID:             id,
		RoomCode:       roomCode,
		Status:         StatusWaiting,
		Phase:          PhaseWaiting,
		Squares:        e.board.NewSquares(),
		ModifierSquare: -1,
		FestivalSquare: -1,
		Chance:         e.interpreter.Catalog().NewDeck(cards.CategoryChance, rng),
		Community:      e.interpreter.Catalog().NewDeck(cards.CategoryCommunity, rng),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return &Machine{engine: e, session: s, dice: e.dice(id)}
}

// Resume wraps a stored session in a Machine after checking it against the
// board and catalog this engine runs with.
func (e *Engine) Resume(s *Session) (*Machine, error) {
	if s == nil {
		return nil, ErrSessionNotFound
	}
	if len(s.Squares) != e.board.Size() {
		return nil, fmt.Errorf("session %s has %d squares, board has %d", s.ID, len(s.Squares), e.board.Size())
	}
	for _, deck := range []*cards.Deck{s.Chance, s.Community} {
		if deck == nil {
			return nil, fmt.Errorf("session %s is missing a deck", s.ID)
		}
		if err := deck.Validate(e.interpreter.Catalog()); err != nil {
			return nil, fmt.Errorf("session %s: %w", s.ID, err)
		}
	}
	return &Machine{engine: e, session: s.Clone(), dice: e.dice(s.ID)}, nil
}

// Load reads a session from the store and resumes it.
func (e *Engine) Load(ctx context.Context, id string) (*Machine, error) {
	s, err := e.store.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Resume(s)
}
